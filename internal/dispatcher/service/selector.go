package service

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"

	"courier-dispatch/internal/common/logger"
	"courier-dispatch/internal/dispatcher/repository"
	"courier-dispatch/internal/domain"
)

// Selector picks one runner for an order: availability filter, per-candidate
// conflict filter, then fairness ranking. Greedy and stateless; commitment
// against concurrent selections is AssignTx's job, not the selector's.
type Selector struct {
	store    repository.Store
	conflict *ConflictChecker
	log      *logger.Logger
}

func NewSelector(store repository.Store, conflict *ConflictChecker, log *logger.Logger) *Selector {
	return &Selector{store: store, conflict: conflict, log: log}
}

// Select returns the top-ranked conflict-free active runner for the candidate
// delivery time, or domain.ErrNoRunnerAvailable.
func (s *Selector) Select(ctx context.Context, candidate domain.Clock) (*domain.Runner, error) {
	runners, err := s.store.ActiveRunners(ctx)
	if err != nil {
		return nil, fmt.Errorf("active runners: %w", err)
	}
	if len(runners) == 0 {
		return nil, domain.ErrNoRunnerAvailable
	}

	eligible := s.filterConflicts(ctx, runners, candidate)
	if len(eligible) == 0 {
		return nil, domain.ErrNoRunnerAvailable
	}
	return rank(eligible), nil
}

// SelectAny ranks active runners without conflict filtering. Fallback for
// orders that carry no delivery time, where conflict data does not exist.
func (s *Selector) SelectAny(ctx context.Context) (*domain.Runner, error) {
	runners, err := s.store.ActiveRunners(ctx)
	if err != nil {
		return nil, fmt.Errorf("active runners: %w", err)
	}
	if len(runners) == 0 {
		return nil, domain.ErrNoRunnerAvailable
	}
	return rank(runners), nil
}

// filterConflicts runs the conflict check for every candidate concurrently.
// A failed check excludes that runner only; selection proceeds on the rest.
func (s *Selector) filterConflicts(ctx context.Context, runners []domain.Runner, candidate domain.Clock) []domain.Runner {
	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		eligible []domain.Runner
	)
	for _, r := range runners {
		wg.Add(1)
		go func(r domain.Runner) {
			defer wg.Done()
			conflicted, err := s.conflict.HasConflict(ctx, r.ID, candidate)
			if err != nil {
				s.log.Error("conflict_check_failed", err, map[string]any{"runner_id": r.ID})
				return
			}
			if conflicted {
				return
			}
			mu.Lock()
			eligible = append(eligible, r)
			mu.Unlock()
		}(r)
	}
	wg.Wait()
	return eligible
}

// rank orders by ascending active load, then ascending daily completions,
// with a uniform random tie-break among runners equal on both. Shuffling
// before a stable sort leaves exactly the ties in random order.
func rank(runners []domain.Runner) *domain.Runner {
	rand.Shuffle(len(runners), func(i, j int) {
		runners[i], runners[j] = runners[j], runners[i]
	})
	sort.SliceStable(runners, func(i, j int) bool {
		if runners[i].ActiveOrders != runners[j].ActiveOrders {
			return runners[i].ActiveOrders < runners[j].ActiveOrders
		}
		return runners[i].CompletedOrders < runners[j].CompletedOrders
	})
	top := runners[0]
	return &top
}
