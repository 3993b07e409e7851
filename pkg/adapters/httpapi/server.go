// Package httpapi exposes the engine control plane over HTTP: submit and
// step runs, inject approval decisions, inspect episodes and checkpoints.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aretw0/lattice"
	"github.com/aretw0/lattice/pkg/domain"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Engine is the facade surface the control plane needs.
type Engine interface {
	Start(compositionID string, inputs map[string]any, opts ...lattice.RunOption) (*lattice.Run, error)
	Run(id string) (*lattice.Run, bool)
	Runs() []string
	Compositions() []string
	Describe(id string) (domain.Composition, error)
	Primitives() []string
	Primitive(id string) (domain.Primitive, error)
	Episode(runID string) *domain.Episode
	Episodes() []*domain.Episode
	Checkpoints(ctx context.Context, runID string) ([]*domain.Checkpoint, error)
	VerifyCheckpoint(ctx context.Context, id string) error
}

// Server handles the control-plane routes.
type Server struct {
	engine  Engine
	logger  *slog.Logger
	metrics http.Handler
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMetricsHandler mounts a handler (typically promhttp) at /metrics.
func WithMetricsHandler(h http.Handler) ServerOption {
	return func(s *Server) {
		s.metrics = h
	}
}

// NewHandler builds the HTTP handler for the engine control plane.
func NewHandler(engine Engine, opts ...ServerOption) http.Handler {
	s := &Server{
		engine: engine,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", s.getHealth)
	r.Get("/info", s.getInfo)

	r.Get("/compositions", s.listCompositions)
	r.Get("/compositions/{id}", s.getComposition)
	r.Get("/primitives", s.listPrimitives)
	r.Get("/primitives/{id}", s.getPrimitive)

	r.Post("/runs", s.createRun)
	r.Get("/runs", s.listRuns)
	r.Get("/runs/{id}", s.getRun)
	r.Post("/runs/{id}/step", s.stepRun)
	r.Post("/runs/{id}/decision", s.postDecision)
	r.Get("/runs/{id}/episode", s.getEpisode)
	r.Get("/runs/{id}/checkpoints", s.listCheckpoints)

	r.Get("/episodes", s.listEpisodes)
	r.Get("/checkpoints/{id}/verify", s.verifyCheckpoint)

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}
	return r
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encode failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) getInfo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"app":     "lattice-http",
		"version": lattice.Version,
	})
}

func (s *Server) listCompositions(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"compositions": s.engine.Compositions()})
}

func (s *Server) getComposition(w http.ResponseWriter, r *http.Request) {
	comp, err := s.engine.Describe(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	s.writeJSON(w, http.StatusOK, comp)
}

func (s *Server) listPrimitives(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"primitives": s.engine.Primitives()})
}

// primitiveView is the wire shape of a primitive contract; the body is not
// serializable and stays out.
type primitiveView struct {
	ID             string             `json:"id"`
	Description    string             `json:"description,omitempty"`
	CostTokens     int64              `json:"cost_tokens,omitempty"`
	Preconditions  []domain.Condition `json:"preconditions,omitempty"`
	Postconditions []domain.Condition `json:"postconditions,omitempty"`
	Invariants     []domain.Condition `json:"invariants,omitempty"`
}

func (s *Server) getPrimitive(w http.ResponseWriter, r *http.Request) {
	p, err := s.engine.Primitive(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	s.writeJSON(w, http.StatusOK, primitiveView{
		ID:             p.ID,
		Description:    p.Description,
		CostTokens:     p.CostTokens,
		Preconditions:  p.Preconditions,
		Postconditions: p.Postconditions,
		Invariants:     p.Invariants,
	})
}

type createRunRequest struct {
	CompositionID string         `json:"composition_id"`
	Inputs        map[string]any `json:"inputs,omitempty"`
	Budget        *domain.Budget `json:"budget,omitempty"`

	// Wait drives the run to completion (or suspension) before responding.
	Wait bool `json:"wait,omitempty"`
}

type runView struct {
	RunID         string              `json:"run_id"`
	CompositionID string              `json:"composition_id"`
	Status        domain.RunStatus    `json:"status"`
	Cursor        int                 `json:"cursor"`
	Completed     []string            `json:"completed,omitempty"`
	Usage         domain.Usage        `json:"usage"`
	Health        float64             `json:"health"`
	HealthStatus  string              `json:"health_status"`
	PendingGate   *domain.PendingGate `json:"pending_gate,omitempty"`
}

func viewOf(run *lattice.Run) runView {
	state := run.State()
	score := run.Health()
	return runView{
		RunID:         state.RunID,
		CompositionID: state.CompositionID,
		Status:        state.Status,
		Cursor:        state.Cursor,
		Completed:     state.Completed,
		Usage:         state.Usage,
		Health:        score.Overall,
		HealthStatus:  string(score.Status),
		PendingGate:   state.PendingGate,
	}
}

func (s *Server) createRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.CompositionID == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("composition_id is required"))
		return
	}

	var opts []lattice.RunOption
	if req.Budget != nil {
		opts = append(opts, lattice.WithRunBudget(*req.Budget))
	}

	run, err := s.engine.Start(req.CompositionID, req.Inputs, opts...)
	if err != nil {
		if errors.Is(err, domain.ErrCompositionNotFound) {
			s.writeError(w, http.StatusNotFound, err)
			return
		}
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	if req.Wait {
		if _, err := run.Wait(r.Context()); err != nil {
			s.logger.Warn("run finished with error", "run_id", run.ID(), "error", err)
		}
		s.writeJSON(w, http.StatusOK, viewOf(run))
		return
	}

	// Detached: the run outlives the request. Failures land in the episode.
	go func() {
		if _, err := run.Wait(context.WithoutCancel(r.Context())); err != nil {
			s.logger.Warn("run finished with error", "run_id", run.ID(), "error", err)
		}
	}()
	s.writeJSON(w, http.StatusAccepted, map[string]string{"run_id": run.ID()})
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	views := make([]runView, 0)
	for _, id := range s.engine.Runs() {
		if run, ok := s.engine.Run(id); ok {
			views = append(views, viewOf(run))
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"runs": views})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.engine.Run(chi.URLParam(r, "id"))
	if !ok {
		s.writeError(w, http.StatusNotFound, errors.New("run not found"))
		return
	}
	s.writeJSON(w, http.StatusOK, viewOf(run))
}

func (s *Server) stepRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.engine.Run(chi.URLParam(r, "id"))
	if !ok {
		s.writeError(w, http.StatusNotFound, errors.New("run not found"))
		return
	}

	report, err := run.Step(r.Context())
	if err != nil {
		s.writeJSON(w, http.StatusOK, map[string]any{
			"report": report, "run": viewOf(run), "error": err.Error(),
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"report": report, "run": viewOf(run)})
}

type decisionRequest struct {
	Approved bool           `json:"approved"`
	Decision map[string]any `json:"decision,omitempty"`
}

func (s *Server) postDecision(w http.ResponseWriter, r *http.Request) {
	run, ok := s.engine.Run(chi.URLParam(r, "id"))
	if !ok {
		s.writeError(w, http.StatusNotFound, errors.New("run not found"))
		return
	}

	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	decision := req.Decision
	if decision == nil {
		decision = make(map[string]any)
	}
	decision["approved"] = req.Approved

	if err := run.Resume(r.Context(), decision); err != nil {
		if errors.Is(err, domain.ErrRunNotSuspended) {
			s.writeError(w, http.StatusConflict, err)
			return
		}
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	// An approved run continues from the gate; drive it onward detached.
	if req.Approved {
		go func() {
			if _, err := run.Wait(context.WithoutCancel(r.Context())); err != nil {
				s.logger.Warn("resumed run finished with error", "run_id", run.ID(), "error", err)
			}
		}()
	}
	s.writeJSON(w, http.StatusOK, viewOf(run))
}

func (s *Server) getEpisode(w http.ResponseWriter, r *http.Request) {
	ep := s.engine.Episode(chi.URLParam(r, "id"))
	if ep == nil {
		s.writeError(w, http.StatusNotFound, errors.New("episode not found"))
		return
	}
	s.writeJSON(w, http.StatusOK, ep)
}

func (s *Server) listEpisodes(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"episodes": s.engine.Episodes()})
}

func (s *Server) listCheckpoints(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	cps, err := s.engine.Checkpoints(ctx, chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"checkpoints": cps})
}

func (s *Server) verifyCheckpoint(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.engine.VerifyCheckpoint(r.Context(), id); err != nil {
		if errors.Is(err, domain.ErrCheckpointNotFound) {
			s.writeError(w, http.StatusNotFound, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"checkpoint_id": id, "valid": false, "error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"checkpoint_id": id, "valid": true})
}
