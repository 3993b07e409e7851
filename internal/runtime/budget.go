package runtime

import (
	"sync"
	"time"

	"github.com/aretw0/lattice/pkg/domain"
)

// budgetCounter enforces the run budget with read-check-commit semantics:
// concurrent branches reserve tokens under one mutex so they cannot jointly
// overspend. Zero limits mean unlimited.
type budgetCounter struct {
	mu    sync.Mutex
	limit domain.Budget
	start time.Time

	tokens int64
	steps  int
}

func newBudgetCounter(limit domain.Budget) *budgetCounter {
	return &budgetCounter{limit: limit, start: time.Now()}
}

// reserveTokens atomically checks and commits a token spend.
func (b *budgetCounter) reserveTokens(n int64) error {
	if n <= 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.limit.MaxTokens > 0 && b.tokens+n > b.limit.MaxTokens {
		return &domain.BudgetExhaustedError{Resource: "tokens", Used: b.tokens + n, Limit: b.limit.MaxTokens}
	}
	b.tokens += n
	return nil
}

// beginStep checks the step and wall-time caps before a unit of work starts.
func (b *budgetCounter) beginStep() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.limit.MaxSteps > 0 && b.steps >= b.limit.MaxSteps {
		return &domain.BudgetExhaustedError{Resource: "steps", Used: int64(b.steps), Limit: int64(b.limit.MaxSteps)}
	}
	if b.limit.MaxTime > 0 {
		elapsed := time.Since(b.start)
		if elapsed >= b.limit.MaxTime {
			return &domain.BudgetExhaustedError{
				Resource: "time",
				Used:     int64(elapsed / time.Millisecond),
				Limit:    int64(b.limit.MaxTime / time.Millisecond),
			}
		}
	}
	b.steps++
	return nil
}

// remainingFraction reports how much of the tightest budget is left, as a
// health-component input in [0,1]. Unlimited budgets report 1.
func (b *budgetCounter) remainingFraction() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	frac := 1.0
	if b.limit.MaxTokens > 0 {
		f := 1 - float64(b.tokens)/float64(b.limit.MaxTokens)
		if f < frac {
			frac = f
		}
	}
	if b.limit.MaxSteps > 0 {
		f := 1 - float64(b.steps)/float64(b.limit.MaxSteps)
		if f < frac {
			frac = f
		}
	}
	if b.limit.MaxTime > 0 {
		f := 1 - float64(time.Since(b.start))/float64(b.limit.MaxTime)
		if f < frac {
			frac = f
		}
	}
	if frac < 0 {
		frac = 0
	}
	return frac
}

func (b *budgetCounter) usage() domain.Usage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return domain.Usage{
		Tokens:  b.tokens,
		Elapsed: time.Since(b.start),
		Steps:   b.steps,
	}
}
