package lattice

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/aretw0/lattice/internal/compiler"
	"github.com/aretw0/lattice/internal/logging"
	"github.com/aretw0/lattice/internal/runtime"
	"github.com/aretw0/lattice/pkg/adapters/memory"
	"github.com/aretw0/lattice/pkg/checkpoint"
	"github.com/aretw0/lattice/pkg/contract"
	"github.com/aretw0/lattice/pkg/domain"
	"github.com/aretw0/lattice/pkg/episode"
	"github.com/aretw0/lattice/pkg/escalation"
	"github.com/aretw0/lattice/pkg/health"
	"github.com/aretw0/lattice/pkg/ports"
	"github.com/aretw0/lattice/pkg/registry"
)

// Version is the library version reported by the CLI and the HTTP API.
const Version = "0.3.0"

// Engine is the high-level entry point for the Lattice library.
// It wires the registry, contract validator, episode recorder, checkpoint
// manager and executor behind one facade, with swappable storage and
// notification adapters.
type Engine struct {
	registry    *registry.Registry
	validator   *contract.Validator
	recorder    *episode.Recorder
	checkpoints *checkpoint.Manager
	executor    *runtime.Executor

	store    ports.CheckpointStore
	ledger   ports.EvidenceLedger
	verifier ports.SemanticVerifier
	notifier ports.Notifier

	hooks         domain.LifecycleHooks
	logger        *slog.Logger
	policy        checkpoint.Policy
	escalationCfg escalation.Config
	healthCfg     health.Config
	budget        domain.Budget
	recursion     int
	threshold     float64
	verifyTimeout time.Duration
	executorOpts  []runtime.ExecutorOption

	mu    sync.RWMutex
	runs  map[string]*Run
	specs map[string]compiler.PrimitiveSpec
}

// Option defines a functional option for configuring the Engine.
type Option func(*Engine)

// WithCheckpointStore injects a checkpoint store, replacing the default
// in-memory one.
func WithCheckpointStore(s ports.CheckpointStore) Option {
	return func(e *Engine) {
		e.store = s
	}
}

// WithEvidenceLedger injects an evidence ledger sink.
func WithEvidenceLedger(l ports.EvidenceLedger) Option {
	return func(e *Engine) {
		e.ledger = l
	}
}

// WithVerifier wires an external semantic verifier for semantic conditions.
func WithVerifier(v ports.SemanticVerifier) Option {
	return func(e *Engine) {
		e.verifier = v
	}
}

// WithNotifier wires an escalation notification channel.
func WithNotifier(n ports.Notifier) Option {
	return func(e *Engine) {
		e.notifier = n
	}
}

// WithLogger sets a custom structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(e *Engine) {
		e.hooks = hooks
	}
}

// WithCheckpointPolicy overrides the checkpoint cadence and retention.
func WithCheckpointPolicy(p checkpoint.Policy) Option {
	return func(e *Engine) {
		e.policy = p
	}
}

// WithEscalationConfig overrides the escalation thresholds.
func WithEscalationConfig(cfg escalation.Config) Option {
	return func(e *Engine) {
		e.escalationCfg = cfg
	}
}

// WithHealthConfig overrides the health weight table.
func WithHealthConfig(cfg health.Config) Option {
	return func(e *Engine) {
		e.healthCfg = cfg
	}
}

// WithDefaultBudget sets the budget applied to runs that do not bring
// their own.
func WithDefaultBudget(b domain.Budget) Option {
	return func(e *Engine) {
		e.budget = b
	}
}

// WithRecursionLimit caps nested composition launches.
func WithRecursionLimit(limit int) Option {
	return func(e *Engine) {
		e.recursion = limit
	}
}

// WithConfidenceThreshold sets the minimum verifier confidence for a
// semantic condition to pass.
func WithConfidenceThreshold(t float64) Option {
	return func(e *Engine) {
		e.threshold = t
	}
}

// WithVerifierTimeout bounds each semantic verifier call.
func WithVerifierTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.verifyTimeout = d
	}
}

// WithStrategy registers a custom aggregate reducer.
func WithStrategy(name string, s runtime.Strategy) Option {
	return func(e *Engine) {
		e.executorOpts = append(e.executorOpts, runtime.WithStrategy(name, s))
	}
}

// WithPredicate registers a custom filter predicate.
func WithPredicate(name string, p runtime.Predicate) Option {
	return func(e *Engine) {
		e.executorOpts = append(e.executorOpts, runtime.WithPredicate(name, p))
	}
}

// New initializes a Lattice Engine. Without options it runs fully in
// memory: in-memory checkpoints, in-memory evidence ledger, no verifier,
// no notifier.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		registry:      registry.New(),
		escalationCfg: escalation.DefaultConfig(),
		healthCfg:     health.DefaultConfig(),
		policy:        checkpoint.DefaultPolicy(),
		recursion:     runtime.DefaultRecursionLimit,
		runs:          make(map[string]*Run),
		specs:         make(map[string]compiler.PrimitiveSpec),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.logger == nil {
		e.logger = logging.NewNop()
	}
	if e.store == nil {
		e.store = memory.NewStore()
	}
	if e.ledger == nil {
		e.ledger = memory.NewLedger()
	}

	validatorOpts := []contract.Option{
		contract.WithLedger(e.ledger),
		contract.WithLogger(e.logger),
	}
	if e.verifier != nil {
		validatorOpts = append(validatorOpts, contract.WithVerifier(e.verifier))
	}
	if e.threshold > 0 {
		validatorOpts = append(validatorOpts, contract.WithConfidenceThreshold(e.threshold))
	}
	if e.verifyTimeout > 0 {
		validatorOpts = append(validatorOpts, contract.WithVerifierTimeout(e.verifyTimeout))
	}
	e.validator = contract.New(validatorOpts...)

	e.recorder = episode.NewRecorder(e.ledger, episode.WithLogger(e.logger))
	e.checkpoints = checkpoint.NewManager(e.store,
		checkpoint.WithPolicy(e.policy),
		checkpoint.WithLogger(e.logger),
	)

	executorOpts := []runtime.ExecutorOption{
		runtime.WithLogger(e.logger),
		runtime.WithLifecycleHooks(e.hooks),
		runtime.WithEscalationConfig(e.escalationCfg),
		runtime.WithHealthConfig(e.healthCfg),
		runtime.WithDefaultBudget(e.budget),
		runtime.WithRecursionLimit(e.recursion),
	}
	if e.notifier != nil {
		executorOpts = append(executorOpts, runtime.WithNotifier(e.notifier))
	}
	executorOpts = append(executorOpts, e.executorOpts...)

	e.executor = runtime.NewExecutor(e.registry, e.validator, e.recorder, e.checkpoints, executorOpts...)
	return e, nil
}

// RegisterPrimitive adds a primitive implementation to the catalog. If a
// contract for its id was declared in a loaded document, the declared
// schemas and conditions are attached first.
func (e *Engine) RegisterPrimitive(p domain.Primitive) error {
	e.mu.RLock()
	spec, ok := e.specs[p.ID]
	e.mu.RUnlock()

	if ok {
		attached, err := spec.Attach(p)
		if err != nil {
			return fmt.Errorf("failed to attach declared contract to %q: %w", p.ID, err)
		}
		p = attached
	}
	return e.registry.Register(p)
}

// RegisterComposition adds a statically validated composition to the catalog.
func (e *Engine) RegisterComposition(c domain.Composition) error {
	if err := compiler.Validate(c, e.knownPrimitives(c)); err != nil {
		return fmt.Errorf("composition %q invalid: %w", c.ID, err)
	}
	return e.registry.RegisterComposition(c)
}

// Load parses a composition document from raw YAML, validates it and
// registers its composition. Declared primitive contracts are kept and
// attached when the matching primitive body is registered, so documents
// must be loaded before their primitives.
func (e *Engine) Load(data []byte) error {
	doc, err := compiler.Parse(data)
	if err != nil {
		return err
	}
	return e.loadDocument(doc)
}

// LoadFile loads one composition document from disk.
func (e *Engine) LoadFile(path string) error {
	doc, err := compiler.ParseFile(path)
	if err != nil {
		return err
	}
	return e.loadDocument(doc)
}

// LoadDir loads every .yaml/.yml document in a directory.
func (e *Engine) LoadDir(dir string) error {
	docs, err := compiler.ParseDir(dir)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		if err := e.loadDocument(doc); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) loadDocument(doc *compiler.Document) error {
	e.mu.Lock()
	for _, spec := range doc.Primitives {
		for _, id := range e.registry.Primitives() {
			if id == spec.ID {
				e.mu.Unlock()
				return fmt.Errorf("primitive %q already registered; load contract documents before registering bodies", spec.ID)
			}
		}
		e.specs[spec.ID] = spec
	}
	e.mu.Unlock()

	if doc.Composition == nil {
		return nil
	}
	return e.RegisterComposition(*doc.Composition)
}

// knownPrimitives merges registered primitives with declared-but-unbound
// contract specs, so documents can be validated in any load order.
func (e *Engine) knownPrimitives(c domain.Composition) map[string]bool {
	known := make(map[string]bool)
	for _, id := range e.registry.Primitives() {
		known[id] = true
	}
	e.mu.RLock()
	for id := range e.specs {
		known[id] = true
	}
	e.mu.RUnlock()
	for _, id := range c.Primitives {
		known[id] = true
	}
	return known
}

// Primitives returns all registered primitive ids, sorted.
func (e *Engine) Primitives() []string {
	return e.registry.Primitives()
}

// Compositions returns all registered composition ids, sorted.
func (e *Engine) Compositions() []string {
	return e.registry.Compositions()
}

// Describe returns a composition definition by id.
func (e *Engine) Describe(id string) (domain.Composition, error) {
	return e.registry.Composition(id)
}

// Primitive returns a registered primitive's contract by id.
func (e *Engine) Primitive(id string) (domain.Primitive, error) {
	return e.registry.Primitive(id)
}

// RunOption configures one run launch.
type RunOption func(*runOptions)

type runOptions struct {
	budget *domain.Budget
}

// WithRunBudget overrides the engine default budget for this run.
func WithRunBudget(b domain.Budget) RunOption {
	return func(o *runOptions) {
		o.budget = &b
	}
}

// Start prepares a run for the named composition and tracks it so it can
// later be found by id for stepping, status or resumption.
func (e *Engine) Start(compositionID string, inputs map[string]any, opts ...RunOption) (*Run, error) {
	comp, err := e.registry.Composition(compositionID)
	if err != nil {
		return nil, err
	}

	var o runOptions
	for _, opt := range opts {
		opt(&o)
	}
	var runtimeOpts []runtime.RunOption
	if o.budget != nil {
		runtimeOpts = append(runtimeOpts, runtime.WithBudget(*o.budget))
	}

	inner, err := e.executor.NewRun(comp, inputs, runtimeOpts...)
	if err != nil {
		return nil, err
	}

	run := &Run{engine: e, inner: inner}
	e.mu.Lock()
	e.runs[inner.ID()] = run
	e.mu.Unlock()
	return run, nil
}

// Execute runs a composition to completion (or suspension) and returns its
// episode. A suspended run stays tracked and can be resumed via Run lookup.
func (e *Engine) Execute(ctx context.Context, compositionID string, inputs map[string]any, opts ...RunOption) (*domain.Episode, error) {
	run, err := e.Start(compositionID, inputs, opts...)
	if err != nil {
		return nil, err
	}
	return run.Wait(ctx)
}

// Run looks up a tracked run by id.
func (e *Engine) Run(id string) (*Run, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	run, ok := e.runs[id]
	return run, ok
}

// Runs returns the ids of all tracked runs, sorted.
func (e *Engine) Runs() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]string, 0, len(e.runs))
	for id := range e.runs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Episode returns the recorded episode for a run, or nil if unknown.
func (e *Engine) Episode(runID string) *domain.Episode {
	return e.recorder.Get(runID)
}

// Episodes returns every recorded episode.
func (e *Engine) Episodes() []*domain.Episode {
	return e.recorder.List()
}

// Checkpoints lists a run's checkpoints in creation order.
func (e *Engine) Checkpoints(ctx context.Context, runID string) ([]*domain.Checkpoint, error) {
	return e.store.List(ctx, runID)
}

// VerifyCheckpoint re-validates a stored checkpoint's integrity.
func (e *Engine) VerifyCheckpoint(ctx context.Context, id string) error {
	return e.checkpoints.Verify(ctx, id)
}

// PruneCheckpoints deletes a run's checkpoints older than maxAge, keeping
// the most recent one. Returns the number deleted.
func (e *Engine) PruneCheckpoints(ctx context.Context, runID string, maxAge time.Duration) (int, error) {
	return e.checkpoints.Prune(ctx, runID, maxAge)
}

// StepReport is the externally observable outcome of one unit of progress.
type StepReport struct {
	OperatorID string              `json:"operator_id,omitempty"`
	Kind       domain.OperatorKind `json:"kind,omitempty"`
	Results    []domain.StepResult `json:"results,omitempty"`
	Done       bool                `json:"done"`
	Suspended  bool                `json:"suspended"`
	Diagnostic *domain.Diagnostic  `json:"diagnostic,omitempty"`
}

// Run is a tracked handle on one composition execution.
type Run struct {
	engine *Engine
	inner  *runtime.Run
}

// ID returns the run id.
func (r *Run) ID() string {
	return r.inner.ID()
}

// Status returns the current run status.
func (r *Run) Status() domain.RunStatus {
	return r.inner.Status()
}

// State returns a snapshot copy of the execution state.
func (r *Run) State() domain.ExecutionState {
	return r.inner.State()
}

// Health returns the run's current derived health score.
func (r *Run) Health() health.Score {
	return r.inner.Health()
}

// Step advances the run by exactly one operator unit.
func (r *Run) Step(ctx context.Context) (*StepReport, error) {
	report, err := r.inner.Next(ctx)
	if report == nil {
		return nil, err
	}
	return &StepReport{
		OperatorID: report.OperatorID,
		Kind:       report.Kind,
		Results:    report.Results,
		Done:       report.Done,
		Suspended:  report.Suspended,
		Diagnostic: report.Diagnostic,
	}, err
}

// Wait drives the run until it reaches a terminal or suspended state and
// returns the episode recorded so far.
func (r *Run) Wait(ctx context.Context) (*domain.Episode, error) {
	return r.inner.Run(ctx)
}

// Resume injects an external decision into a suspended run. The decision
// map should carry "approved" (bool); everything else is bound for the
// composition to read via "$decision".
func (r *Run) Resume(ctx context.Context, decision map[string]any) error {
	return r.inner.Resume(ctx, decision)
}

// Checkpoint creates an on-demand consistent snapshot of the run.
func (r *Run) Checkpoint(ctx context.Context, reason string) (*domain.Checkpoint, error) {
	return r.inner.Checkpoint(ctx, reason)
}

// Episode returns the run's recorded episode so far.
func (r *Run) Episode() *domain.Episode {
	return r.engine.recorder.Get(r.ID())
}
