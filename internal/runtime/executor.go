// Package runtime contains the Operator Interpreter and the Composition
// Executor: a cooperative, step-wise state machine that advances a
// composition one operator at a time, enforcing contracts, budgets,
// checkpoints and escalation policy between units of work.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/lattice/internal/logging"
	"github.com/aretw0/lattice/pkg/checkpoint"
	"github.com/aretw0/lattice/pkg/contract"
	"github.com/aretw0/lattice/pkg/domain"
	"github.com/aretw0/lattice/pkg/episode"
	"github.com/aretw0/lattice/pkg/escalation"
	"github.com/aretw0/lattice/pkg/health"
	"github.com/aretw0/lattice/pkg/ports"
	"github.com/aretw0/lattice/pkg/registry"
	"github.com/google/uuid"
)

// DefaultRecursionLimit caps nested composition launches.
const DefaultRecursionLimit = 8

// Executor wires the registry, contract validator, episode recorder,
// checkpoint manager and escalation policy into runnable compositions.
// One Executor serves many runs; each run owns its own ExecutionState.
type Executor struct {
	registry    *registry.Registry
	validator   *contract.Validator
	recorder    *episode.Recorder
	checkpoints *checkpoint.Manager

	escalationCfg  escalation.Config
	healthCfg      health.Config
	notifier       ports.Notifier
	hooks          domain.LifecycleHooks
	logger         *slog.Logger
	defaultBudget  domain.Budget
	recursionLimit int

	strategies map[string]Strategy
	predicates map[string]Predicate
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) ExecutorOption {
	return func(e *Executor) {
		e.hooks = hooks
	}
}

// WithEscalationConfig sets the escalation thresholds.
func WithEscalationConfig(cfg escalation.Config) ExecutorOption {
	return func(e *Executor) {
		e.escalationCfg = cfg
	}
}

// WithHealthConfig sets the health weight table and floor penalty.
func WithHealthConfig(cfg health.Config) ExecutorOption {
	return func(e *Executor) {
		e.healthCfg = cfg
	}
}

// WithNotifier sets the escalation notification channel.
func WithNotifier(n ports.Notifier) ExecutorOption {
	return func(e *Executor) {
		e.notifier = n
	}
}

// WithDefaultBudget sets the budget applied to runs that specify none.
func WithDefaultBudget(b domain.Budget) ExecutorOption {
	return func(e *Executor) {
		e.defaultBudget = b
	}
}

// WithRecursionLimit caps nested composition launches.
func WithRecursionLimit(limit int) ExecutorOption {
	return func(e *Executor) {
		if limit > 0 {
			e.recursionLimit = limit
		}
	}
}

// WithStrategy registers an additional aggregate strategy.
func WithStrategy(name string, s Strategy) ExecutorOption {
	return func(e *Executor) {
		e.strategies[name] = s
	}
}

// WithPredicate registers an additional named filter predicate.
func WithPredicate(name string, p Predicate) ExecutorOption {
	return func(e *Executor) {
		e.predicates[name] = p
	}
}

// NewExecutor creates an Executor.
func NewExecutor(reg *registry.Registry, validator *contract.Validator, recorder *episode.Recorder, checkpoints *checkpoint.Manager, opts ...ExecutorOption) *Executor {
	e := &Executor{
		registry:       reg,
		validator:      validator,
		recorder:       recorder,
		checkpoints:    checkpoints,
		escalationCfg:  escalation.DefaultConfig(),
		healthCfg:      health.DefaultConfig(),
		logger:         logging.NewNop(),
		recursionLimit: DefaultRecursionLimit,
		strategies:     builtinStrategies(),
		predicates:     builtinPredicates(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RunOption configures one run.
type RunOption func(*Run)

// WithBudget overrides the executor's default budget for this run.
func WithBudget(b domain.Budget) RunOption {
	return func(r *Run) {
		r.budget = newBudgetCounter(b)
	}
}

// WithDepth seeds the recursion depth for nested composition launches.
func WithDepth(depth int) RunOption {
	return func(r *Run) {
		r.state.Depth = depth
	}
}

// runStats feeds the health component scores.
type runStats struct {
	checksPassed int
	checksFailed int
	stepsOK      int
	stepsFailed  int
	newFailure   bool
}

// Run is one in-flight composition execution. Its ExecutionState is owned
// exclusively by this run. All stepping, checkpointing and resumption go
// through the run mutex, so checkpoints are always consistent snapshots
// taken between steps.
type Run struct {
	exec *Executor
	comp domain.Composition

	mu     sync.Mutex
	state  *domain.ExecutionState
	budget *budgetCounter
	stats  runStats

	lastCheckpointHealth float64
	haveCheckpoint       bool
	stepsSinceCheckpoint int

	approvalTimer *time.Timer

	terminalErr error
}

// NewRun prepares a pending run for a composition.
func (e *Executor) NewRun(comp domain.Composition, inputs map[string]any, opts ...RunOption) (*Run, error) {
	if len(comp.Operators) == 0 {
		return nil, fmt.Errorf("composition %q has no operators", comp.ID)
	}

	r := &Run{
		exec:   e,
		comp:   comp,
		state:  domain.NewExecutionState(uuid.NewString(), comp.ID, inputs),
		budget: newBudgetCounter(e.defaultBudget),
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.state.Depth >= e.recursionLimit {
		return nil, fmt.Errorf("%w: depth %d, limit %d", domain.ErrRecursionLimit, r.state.Depth, e.recursionLimit)
	}
	return r, nil
}

// ID returns the run id.
func (r *Run) ID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.RunID
}

// Status returns the current run status.
func (r *Run) Status() domain.RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Status
}

// State returns a snapshot copy of the execution state. The run keeps
// exclusive ownership of the live state.
func (r *Run) State() domain.ExecutionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Run) snapshotLocked() domain.ExecutionState {
	snap := *r.state
	snap.Completed = append([]string(nil), r.state.Completed...)
	snap.Events = append([]domain.TraceEvent(nil), r.state.Events...)
	snap.Outputs = make(map[string]any, len(r.state.Outputs))
	for k, v := range r.state.Outputs {
		snap.Outputs[k] = v
	}
	return snap
}

// StepReport is the externally observable outcome of one unit of progress.
type StepReport struct {
	OperatorID string
	Kind       domain.OperatorKind
	Results    []domain.StepResult
	Done       bool
	Suspended  bool
	Diagnostic *domain.Diagnostic
}

// Next advances the run by exactly one operator unit and yields control
// back to the caller, so checkpointing, cancellation and budget checks can
// interpose between units.
func (r *Run) Next(ctx context.Context) (*StepReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state.Status {
	case domain.RunPending:
		r.startLocked(ctx)
	case domain.RunRunning:
		// Keep stepping.
	case domain.RunEscalated:
		return &StepReport{Suspended: true, Diagnostic: r.pendingDiagnostic()}, nil
	default:
		return &StepReport{Done: true}, r.terminalErr
	}

	if err := ctx.Err(); err != nil {
		r.finishLocked(ctx, domain.RunAborted, err)
		return &StepReport{Done: true}, r.terminalErr
	}

	if r.state.Cursor >= len(r.comp.Operators) {
		r.finishLocked(ctx, domain.RunCompleted, nil)
		return &StepReport{Done: true}, nil
	}

	if err := r.budget.beginStep(); err != nil {
		r.finishLocked(ctx, domain.RunFailed, err)
		return &StepReport{Done: true}, r.terminalErr
	}

	op := r.comp.Operators[r.state.Cursor]
	started := time.Now()
	report, err := r.evalOperator(ctx, op)
	if report == nil {
		report = &StepReport{OperatorID: op.ID, Kind: op.Kind}
	}

	r.emitStep(ctx, op, report, time.Since(started))

	if err != nil {
		r.handleOperatorFailure(ctx, op, report, err)
		return report, r.terminalErr
	}

	if report.Suspended {
		r.suspendLocked(ctx, op, report)
		return report, nil
	}

	r.state.Cursor++
	r.state.ConsecutiveFailures = 0
	r.state.Usage = r.budget.usage()

	r.afterStepCycle(ctx, op)

	if r.state.Status == domain.RunRunning && r.state.Cursor >= len(r.comp.Operators) {
		r.finishLocked(ctx, domain.RunCompleted, nil)
		report.Done = true
	}
	return report, nil
}

// Run drives Next until the run reaches a terminal or suspended state and
// returns the episode. A suspended run returns with status escalated; the
// caller resumes it via Resume.
func (r *Run) Run(ctx context.Context) (*domain.Episode, error) {
	for {
		report, err := r.Next(ctx)
		if err != nil {
			return r.exec.recorder.Get(r.ID()), err
		}
		if report.Suspended {
			return r.exec.recorder.Get(r.ID()), nil
		}
		if report.Done {
			return r.exec.recorder.Get(r.ID()), nil
		}
	}
}

// Resume injects an external decision into a suspended run and moves it
// back to running. The run resumes at the suspended gate: the decision is
// bound under the gate's operator id as "decision", and an approved
// decision advances past the gate. A rejected decision aborts the run.
func (r *Run) Resume(ctx context.Context, decision map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state.Status != domain.RunEscalated {
		return fmt.Errorf("%w: status %s", domain.ErrRunNotSuspended, r.state.Status)
	}
	r.stopApprovalTimerLocked()

	pending := r.state.PendingGate
	approved, _ := decision["approved"].(bool)

	if pending != nil && pending.OperatorID != "" {
		existing, _ := r.state.Outputs[pending.OperatorID].(map[string]any)
		if existing == nil {
			existing = make(map[string]any)
		}
		existing["decision"] = decision
		existing["approved"] = approved
		r.state.Outputs[pending.OperatorID] = existing
	}

	r.state.AppendEvent("resume", "", map[string]any{"approved": approved})
	r.state.PendingGate = nil

	if !approved {
		r.finishLocked(ctx, domain.RunAborted, &domain.GateAbortError{Diagnostic: &domain.Diagnostic{
			Reason: "external reviewer rejected the run",
		}})
		return nil
	}

	// The suspended operator's condition results stand; the decision alone
	// determines the branch, so the cursor moves past it.
	if pending != nil && pending.OperatorID != "" && r.state.Cursor < len(r.comp.Operators) &&
		r.comp.Operators[r.state.Cursor].ID == pending.OperatorID {
		r.state.Cursor++
	}
	r.state.Status = domain.RunRunning
	r.state.ConsecutiveFailures = 0

	// The approval accepts the current state as the new baseline.
	if _, err := r.checkpointLocked(ctx, "resume_approved"); err != nil {
		r.exec.logger.Warn("resume checkpoint failed", "run_id", r.state.RunID, "error", err)
	}
	return nil
}

// Health returns the current derived health score.
func (r *Run) Health() health.Score {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.healthLocked()
}

// Checkpoint creates a consistent snapshot of the run. It shares the run
// mutex with Next, so it can only happen between steps.
func (r *Run) Checkpoint(ctx context.Context, reason string) (*domain.Checkpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.checkpointLocked(ctx, reason)
}

func (r *Run) checkpointLocked(ctx context.Context, reason string) (*domain.Checkpoint, error) {
	score := r.healthLocked()
	snap := r.snapshotLocked()
	cp, err := r.exec.checkpoints.Create(ctx, &snap, reason, score.Overall)
	if err != nil {
		return nil, err
	}

	// The escalation drop compares like for like: the baseline is the
	// degradation score, matching what afterStepCycle measures against it.
	r.lastCheckpointHealth = r.degradationLocked().Overall
	r.haveCheckpoint = true
	r.stepsSinceCheckpoint = 0
	r.state.AppendEvent("checkpoint_created", "", map[string]any{"checkpoint_id": cp.ID, "reason": reason})

	if r.exec.hooks.OnCheckpoint != nil {
		r.exec.hooks.OnCheckpoint(ctx, &domain.CheckpointEvent{
			RunID: r.state.RunID, CheckpointID: cp.ID, Reason: reason, Health: score.Overall,
		})
	}
	return cp, nil
}

func (r *Run) startLocked(ctx context.Context) {
	r.state.Status = domain.RunRunning
	r.exec.recorder.Begin(ctx, r.state.RunID, r.comp.ID, r.state.Inputs)
	r.state.AppendEvent("run_started", "", nil)

	if r.exec.hooks.OnRunStart != nil {
		r.exec.hooks.OnRunStart(ctx, &domain.RunEvent{
			RunID: r.state.RunID, CompositionID: r.comp.ID,
			Status: domain.RunRunning, Timestamp: time.Now().UTC(),
		})
	}

	// Baseline checkpoint so there is always a verified restore target.
	if _, err := r.checkpointLocked(ctx, "run_start"); err != nil {
		r.exec.logger.Warn("baseline checkpoint failed", "run_id", r.state.RunID, "error", err)
	}
}

func (r *Run) finishLocked(ctx context.Context, status domain.RunStatus, err error) {
	if r.state.Status.Terminal() {
		return
	}
	r.stopApprovalTimerLocked()
	r.state.Status = status
	r.terminalErr = err
	r.state.Usage = r.budget.usage()

	msg := ""
	if err != nil {
		msg = err.Error()
	}
	r.state.AppendEvent("run_finished", "", map[string]any{"status": string(status), "error": msg})
	r.exec.recorder.End(ctx, r.state.RunID, status, msg, r.state.Usage)

	if r.exec.hooks.OnRunEnd != nil {
		r.exec.hooks.OnRunEnd(ctx, &domain.RunEvent{
			RunID: r.state.RunID, CompositionID: r.comp.ID,
			Status: status, Timestamp: time.Now().UTC(),
		})
	}

	r.exec.logger.Info("run finished",
		"run_id", r.state.RunID, "composition", r.comp.ID,
		"status", string(status), "steps", r.state.Usage.Steps, "error", msg)
}

func (r *Run) suspendLocked(ctx context.Context, op domain.Operator, report *StepReport) {
	r.state.Status = domain.RunEscalated
	r.state.PendingGate = &domain.PendingGate{
		OperatorID:  op.ID,
		OnFail:      domain.GateEscalate,
		Diagnostic:  report.Diagnostic,
		SuspendedAt: time.Now().UTC(),
	}
	r.state.AppendEvent("run_suspended", "", map[string]any{"operator_id": op.ID})
	r.armApprovalTimerLocked()
	r.notify(ctx, escalation.Decision{
		Level:   escalation.LevelConfirmation,
		Action:  escalation.ActionPause,
		Reasons: []string{"gate escalated to human review"},
	}, r.healthLocked())
}

// armApprovalTimerLocked bounds how long a suspended run waits for its
// external decision. On expiry the pending approval counts as rejected.
func (r *Run) armApprovalTimerLocked() {
	d := r.exec.escalationCfg.ApprovalTimeout
	if d <= 0 || r.state.PendingGate == nil {
		return
	}
	suspendedAt := r.state.PendingGate.SuspendedAt
	r.approvalTimer = time.AfterFunc(d, func() {
		r.mu.Lock()
		defer r.mu.Unlock()

		pending := r.state.PendingGate
		if r.state.Status != domain.RunEscalated || pending == nil || !pending.SuspendedAt.Equal(suspendedAt) {
			return
		}
		r.state.AppendEvent("approval_timeout", "", map[string]any{"timeout": d.String()})
		r.state.PendingGate = nil
		r.finishLocked(context.Background(), domain.RunAborted,
			fmt.Errorf("%w: no decision within %s", domain.ErrApprovalTimeout, d))
	})
}

func (r *Run) stopApprovalTimerLocked() {
	if r.approvalTimer != nil {
		r.approvalTimer.Stop()
		r.approvalTimer = nil
	}
}

func (r *Run) pendingDiagnostic() *domain.Diagnostic {
	if r.state.PendingGate == nil {
		return nil
	}
	return r.state.PendingGate.Diagnostic
}

// handleOperatorFailure routes a blocking operator error: classify it,
// consider auto-rollback, then terminate with the matching status.
func (r *Run) handleOperatorFailure(ctx context.Context, op domain.Operator, report *StepReport, err error) {
	r.state.ConsecutiveFailures++
	r.stats.newFailure = true

	// Ordinary blocking failures terminate with committed outputs intact;
	// only fatal corruption restores the last verified checkpoint first.
	fatal := errors.Is(err, domain.ErrUnknownOperator) || errors.Is(err, domain.ErrCheckpointIntegrity)
	if r.exec.checkpoints.ShouldRollback(0, 0, fatal) {
		r.rollbackLocked(ctx, fmt.Sprintf("operator %s failed: %v", op.ID, err))
	}

	status := domain.RunFailed
	if errors.Is(err, domain.ErrGateAbort) {
		status = domain.RunAborted
	}
	r.finishLocked(ctx, status, err)
}

// rollbackLocked restores the latest verified checkpoint and records the
// restoration in the episode. Restoration failure escalates to manual.
func (r *Run) rollbackLocked(ctx context.Context, reason string) {
	restored, cp, err := r.exec.checkpoints.RollbackLatest(ctx, r.state.RunID)
	if err != nil {
		r.exec.logger.Error("auto-rollback failed", "run_id", r.state.RunID, "error", err)
		r.notify(ctx, escalation.Decision{
			Level:   escalation.LevelManual,
			Action:  escalation.ActionStop,
			Reasons: []string{"rollback failure"},
		}, r.healthLocked())
		return
	}

	// All-or-nothing: only now does the live state change hands.
	preservedEvents := r.state.Events
	r.state = restored
	r.state.Events = preservedEvents
	r.state.AppendEvent("rollback", "", map[string]any{"checkpoint_id": cp.ID, "reason": reason})
	r.exec.recorder.RecordRollback(ctx, r.state.RunID, cp.ID, reason)

	if r.exec.hooks.OnRollback != nil {
		r.exec.hooks.OnRollback(ctx, &domain.CheckpointEvent{
			RunID: r.state.RunID, CheckpointID: cp.ID, Reason: reason, Health: cp.Meta.Health,
		})
	}
}

// afterStepCycle runs the per-cycle consultations: health, escalation
// policy, checkpoint cadence.
func (r *Run) afterStepCycle(ctx context.Context, op domain.Operator) {
	score := r.healthLocked()
	signal := r.degradationLocked()
	drop := r.dropSinceCheckpoint(signal)

	decision := escalation.Decide(r.exec.escalationCfg, escalation.Signals{
		Health:              signal,
		DropSinceCheckpoint: drop,
		ConsecutiveFailures: r.state.ConsecutiveFailures,
		NewFailureClass:     r.stats.newFailure,
	})
	r.stats.newFailure = false

	if decision.Level > escalation.LevelAutonomous {
		r.state.AppendEvent("escalation", "", map[string]any{
			"level": int(decision.Level), "action": string(decision.Action),
		})
		if r.exec.hooks.OnEscalation != nil {
			r.exec.hooks.OnEscalation(ctx, &domain.EscalationEvent{
				RunID: r.state.RunID, Level: int(decision.Level),
				Action: string(decision.Action), Health: score.Overall,
				Reason: fmt.Sprintf("%v", decision.Reasons),
			})
		}
	}

	switch decision.Level {
	case escalation.LevelManual:
		r.notify(ctx, decision, score)
		r.rollbackLocked(ctx, "manual escalation")
		r.finishLocked(ctx, domain.RunAborted, fmt.Errorf("manual escalation: %v", decision.Reasons))
		return
	case escalation.LevelConfirmation:
		r.notify(ctx, decision, score)
		r.state.Status = domain.RunEscalated
		r.state.PendingGate = &domain.PendingGate{
			OperatorID: "",
			Diagnostic: &domain.Diagnostic{
				OperatorID: op.ID,
				Reason:     fmt.Sprintf("confirmation required: %v", decision.Reasons),
			},
			SuspendedAt: time.Now().UTC(),
		}
		r.armApprovalTimerLocked()
		return
	case escalation.LevelAdvisory:
		r.notify(ctx, decision, score)
	}

	// Checkpoint cadence.
	r.stepsSinceCheckpoint++
	interval := r.exec.checkpoints.Policy().Interval
	if interval > 0 && r.stepsSinceCheckpoint >= interval {
		if _, err := r.checkpointLocked(ctx, "interval"); err != nil {
			r.exec.logger.Warn("interval checkpoint failed", "run_id", r.state.RunID, "error", err)
		}
	}
}

// healthLocked derives the component health inputs from run statistics.
func (r *Run) healthLocked() health.Score {
	components := map[string]float64{
		"contracts": ratio(r.stats.checksPassed, r.stats.checksFailed),
		"execution": ratio(r.stats.stepsOK, r.stats.stepsFailed),
		"budget":    r.budget.remainingFraction(),
	}
	return r.computeHealth(components)
}

// degradationLocked scores only the failure-driven components. Budget
// consumption is planned spend, not degradation: it shows up in the reported
// health but never in the escalation signal. Caps are enforced by the budget
// counter and surface as BudgetExhausted failures.
func (r *Run) degradationLocked() health.Score {
	return r.computeHealth(map[string]float64{
		"contracts": ratio(r.stats.checksPassed, r.stats.checksFailed),
		"execution": ratio(r.stats.stepsOK, r.stats.stepsFailed),
	})
}

func (r *Run) computeHealth(components map[string]float64) health.Score {
	score, err := health.Compute(r.exec.healthCfg, components)
	if err != nil {
		// Component inputs are produced locally in [0,1]; failure here is a bug.
		r.exec.logger.Error("health computation failed", "error", err)
		return health.Score{Overall: 0, Status: health.StatusCritical, Components: components}
	}
	return score
}

func (r *Run) dropSinceCheckpoint(score health.Score) float64 {
	if !r.haveCheckpoint {
		return 0
	}
	drop := r.lastCheckpointHealth - score.Overall
	if drop < 0 {
		return 0
	}
	return drop
}

func (r *Run) notify(ctx context.Context, decision escalation.Decision, score health.Score) {
	if r.exec.notifier == nil {
		return
	}
	err := r.exec.notifier.Notify(ctx, ports.Notification{
		RunID:     r.state.RunID,
		Level:     int(decision.Level),
		Action:    string(decision.Action),
		Message:   fmt.Sprintf("%s: %v", decision.Level, decision.Reasons),
		Health:    score.Overall,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		r.exec.logger.Warn("escalation notification failed", "run_id", r.state.RunID, "error", err)
	}
}

func (r *Run) emitStep(ctx context.Context, op domain.Operator, report *StepReport, took time.Duration) {
	if r.exec.hooks.OnStep == nil {
		return
	}
	status := domain.StepSucceeded
	for _, res := range report.Results {
		if res.Status == domain.StepFailed {
			status = domain.StepFailed
			break
		}
	}
	r.exec.hooks.OnStep(ctx, &domain.StepEvent{
		RunID: r.state.RunID, OperatorID: op.ID, Kind: op.Kind,
		Status: status, Duration: took,
	})
}

// ratio smooths the success rate with one pseudo-success so a lone early
// failure degrades health instead of zeroing the component outright.
func ratio(ok, failed int) float64 {
	return float64(ok+1) / float64(ok+failed+1)
}
