package workflow

import (
	"context"
	"fmt"
	"sync"

	"github.com/casemesh-ai/casemesh/core"
	"github.com/casemesh-ai/casemesh/logging"
	"github.com/casemesh-ai/casemesh/scheduler"
)

// Options configures a Machine.
type Options struct {
	// Store persists workflow state. Defaults to an in-memory store.
	Store Store

	// Plan routes workflows through the phase graph. Defaults to
	// DefaultPlan().
	Plan *Plan

	// Logger provides structured logging. Defaults to NoOpLogger.
	Logger logging.Logger
}

// Machine drives workflows through the phase graph. All WorkflowState
// mutation happens here, under a per-workflow mutex; tasks return their
// results through the scheduler envelope and never touch state themselves.
type Machine struct {
	store     Store
	plan      *Plan
	scheduler *scheduler.Scheduler
	logger    logging.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewMachine constructs a Machine dispatching through sched.
func NewMachine(sched *scheduler.Scheduler, optFns ...func(o *Options)) *Machine {
	opts := Options{
		Store:  NewInMemoryStore(),
		Plan:   DefaultPlan(),
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Machine{
		store:     opts.Store,
		plan:      opts.Plan,
		scheduler: sched,
		logger:    opts.Logger,
		locks:     make(map[string]*sync.Mutex),
	}
}

// Start creates a workflow for the goal, persists it in Created, and returns
// its id. Advancing is a separate call so callers control pacing.
func (m *Machine) Start(ctx context.Context, goal string) (string, error) {
	state := NewState(goal)
	if err := m.store.Save(ctx, state); err != nil {
		return "", fmt.Errorf("failed to persist new workflow: %w", err)
	}
	m.logger.Info("workflow.start", "workflow_id", state.ID, "goal", goal)
	return state.ID, nil
}

// State loads the current persisted state of a workflow.
func (m *Machine) State(ctx context.Context, workflowID string) (*State, error) {
	return m.store.Load(ctx, workflowID)
}

// Advance executes exactly one phase step: dispatch the current phase's
// tasks, fold their outputs, transition along the plan's edge, and persist
// before returning. It returns the state after the step. Calling Advance on
// a terminal workflow is an error.
func (m *Machine) Advance(ctx context.Context, workflowID string) (*State, error) {
	unlock := m.lock(workflowID)
	defer unlock()

	state, err := m.store.Load(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	return m.step(ctx, state)
}

// Resume drives a workflow from its persisted phase to a stopping point:
// Completed, Failed, Cancelled, a gated phase awaiting operator action, or a
// phase the plan does not route through. Already-folded phases are never
// re-dispatched; resumption picks up exactly where the last persisted
// transition left off.
func (m *Machine) Resume(ctx context.Context, workflowID string) (*State, error) {
	unlock := m.lock(workflowID)
	defer unlock()

	state, err := m.store.Load(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	for {
		if state.Phase.Terminal() || state.Phase == PhaseFailed {
			return state, nil
		}
		spec, ok := m.plan.step(state.Phase)
		if !ok || spec.Gate {
			return state, nil
		}
		if err := ctx.Err(); err != nil {
			return state, err
		}
		state, err = m.step(ctx, state)
		if err != nil {
			return state, err
		}
	}
}

// Cancel moves the workflow to Cancelled by operator action. Succeeded
// phases stay folded; only future dispatch stops.
func (m *Machine) Cancel(ctx context.Context, workflowID, reason string) (*State, error) {
	unlock := m.lock(workflowID)
	defer unlock()

	state, err := m.store.Load(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if err := m.transition(ctx, state, PhaseCancelled, reason); err != nil {
		return nil, err
	}
	return state, nil
}

// Restart takes a Failed workflow back to Created, keeping its context and
// history for audit. The next Resume re-runs the pipeline from intake.
func (m *Machine) Restart(ctx context.Context, workflowID string) (*State, error) {
	unlock := m.lock(workflowID)
	defer unlock()

	state, err := m.store.Load(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if err := m.transition(ctx, state, PhaseCreated, "restart after failure"); err != nil {
		return nil, err
	}
	return state, nil
}

// step runs the plan entry for the current phase. Caller holds the workflow
// lock.
func (m *Machine) step(ctx context.Context, state *State) (*State, error) {
	if state.Phase.Terminal() {
		return nil, fmt.Errorf("workflow %s is terminal in phase %s", state.ID, state.Phase)
	}
	spec, ok := m.plan.step(state.Phase)
	if !ok {
		return nil, fmt.Errorf("plan does not route through phase %s", state.Phase)
	}

	if len(spec.Tasks) > 0 {
		output, failure := m.dispatch(ctx, state, spec)
		if failure != "" {
			state.fold(state.Phase, output)
			if err := m.transition(ctx, state, PhaseFailed, failure); err != nil {
				return nil, err
			}
			return state, nil
		}
		state.fold(state.Phase, output)
	}

	if err := m.transition(ctx, state, spec.Next, ""); err != nil {
		return nil, err
	}
	return state, nil
}

// dispatch runs the phase's tasks through the scheduler and gathers their
// outputs keyed by task type. The returned failure string is empty when the
// phase is acceptable under its partial-completion policy.
func (m *Machine) dispatch(ctx context.Context, state *State, spec *PhaseSpec) (map[string]any, string) {
	tasks := make([]*scheduler.Task, len(spec.Tasks))
	for i, ts := range spec.Tasks {
		params := map[string]any{"workflow_id": state.ID, "goal": state.Goal}
		for k, v := range ts.Parameters {
			params[k] = v
		}
		task := scheduler.NewTask(ts.Type, params)
		task.Timeout = ts.Timeout
		tasks[i] = task
	}

	m.logger.Info("workflow.phase.dispatch",
		"workflow_id", state.ID, "phase", string(state.Phase), "tasks", len(tasks))

	results, err := m.scheduler.Dispatch(ctx, tasks)
	if err != nil {
		return nil, fmt.Sprintf("dispatch interrupted: %v", err)
	}

	output := make(map[string]any)
	var failure string
	succeeded := 0
	for i, r := range results {
		switch r.Status {
		case scheduler.TaskSucceeded:
			succeeded++
			output[tasks[i].Type] = r.Output
		case scheduler.TaskFailed:
			output[tasks[i].Type] = map[string]any{
				"error":    r.Error,
				"attempts": tasks[i].AttemptCount(),
			}
			if failure == "" {
				failure = fmt.Sprintf("task %s (%s): %s", tasks[i].ID, tasks[i].Type, r.Error)
			}
		}
	}

	if failure != "" && spec.AllowPartial && succeeded > 0 {
		m.logger.Warn("workflow.phase.partial",
			"workflow_id", state.ID, "phase", string(state.Phase),
			"succeeded", succeeded, "failed", len(results)-succeeded)
		failure = ""
	}
	return output, failure
}

// transition validates the edge, appends history, and persists the full
// state before returning. Nothing is dispatched for the next phase until the
// write succeeds.
func (m *Machine) transition(ctx context.Context, state *State, to Phase, note string) error {
	if !CanTransition(state.Phase, to) {
		return &core.WorkflowTransitionError{
			WorkflowID: state.ID,
			From:       string(state.Phase),
			To:         string(to),
		}
	}
	from := state.Phase
	state.apply(to, note)
	if err := m.store.Save(ctx, state); err != nil {
		return fmt.Errorf("failed to persist transition %s -> %s: %w", from, to, err)
	}
	m.logger.Info("workflow.transition",
		"workflow_id", state.ID, "from", string(from), "to", string(to), "note", note)
	return nil
}

// lock returns the per-workflow mutex, locked.
func (m *Machine) lock(workflowID string) func() {
	m.mu.Lock()
	l, ok := m.locks[workflowID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[workflowID] = l
	}
	m.mu.Unlock()
	l.Lock()
	return l.Unlock
}
