// Package casemesh provides a high-level façade over the core Engine, the
// task Scheduler and the workflow Machine, enabling rapid construction of
// legal research coordination services. Most applications interact with this
// package by:
//  1. Creating a Casemesh via New() with a model implementation (optionally
//     overriding default in-memory services)
//  2. Registering tool executors and task workers
//  3. Starting interactive runs (StartRun / RunSync) or durable workflows
//     (StartWorkflow / ResumeWorkflow)
//
// The façade delegates run orchestration to engine.Engine and workflow
// progression to workflow.Machine while keeping setup and usage ergonomics
// concise. All defaults are safe for local development and testing;
// production deployments typically supply a SQLite workflow store and a
// structured logger via FromConfig.
package casemesh

import (
	"context"
	"fmt"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/casemesh-ai/casemesh/config"
	"github.com/casemesh-ai/casemesh/core"
	"github.com/casemesh-ai/casemesh/engine"
	"github.com/casemesh-ai/casemesh/event"
	"github.com/casemesh-ai/casemesh/logging"
	"github.com/casemesh-ai/casemesh/model"
	"github.com/casemesh-ai/casemesh/model/anthropic"
	"github.com/casemesh-ai/casemesh/model/openai"
	"github.com/casemesh-ai/casemesh/scheduler"
	"github.com/casemesh-ai/casemesh/session"
	"github.com/casemesh-ai/casemesh/tool"
	"github.com/casemesh-ai/casemesh/workflow"
)

// Options configures the Casemesh instance.
type Options struct {
	// EngineConfig holds run orchestration parameters (concurrency, event
	// buffers, turn bounds, system instructions).
	EngineConfig engine.Config

	// SchedulerOptions holds task dispatch parameters (concurrency bound,
	// timeouts, retry policy).
	SchedulerOptions scheduler.Options

	// Threads manages thread records and append-only message history.
	// Defaults to an in-memory implementation.
	Threads core.ThreadStore

	// WorkflowStore persists workflow state across restarts. Defaults to an
	// in-memory store.
	WorkflowStore workflow.Store

	// Plan routes workflows through the phase graph. Defaults to
	// workflow.DefaultPlan().
	Plan *workflow.Plan

	// Hooks observe run lifecycle transitions (logging, metrics).
	Hooks []engine.Hook

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// Casemesh is the high-level façade aggregating the engine, the scheduler
// and the workflow machine.
type Casemesh struct {
	opts      Options
	engine    *engine.Engine
	scheduler *scheduler.Scheduler
	workflows *workflow.Machine
}

// New creates a new Casemesh instance driven by the given model, with
// optional overrides. Any unset service is initialized with an in-memory
// implementation.
func New(m model.Model, optFns ...func(o *Options)) *Casemesh {
	opts := Options{
		EngineConfig:     engine.DefaultConfig,
		SchedulerOptions: scheduler.Options{},
		Threads:          session.NewInMemoryStore(),
		WorkflowStore:    workflow.NewInMemoryStore(),
		Logger:           logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	e := engine.New(m, func(o *engine.Options) {
		o.Config = opts.EngineConfig
		o.Threads = opts.Threads
		o.Hooks = opts.Hooks
		o.Logger = opts.Logger
	})

	sched := scheduler.New(func(o *scheduler.Options) {
		if opts.SchedulerOptions.MaxConcurrent > 0 {
			o.MaxConcurrent = opts.SchedulerOptions.MaxConcurrent
		}
		if opts.SchedulerOptions.TaskTimeout > 0 {
			o.TaskTimeout = opts.SchedulerOptions.TaskTimeout
		}
		if opts.SchedulerOptions.RetryAttempts > 0 {
			o.RetryAttempts = opts.SchedulerOptions.RetryAttempts
		}
		if opts.SchedulerOptions.RetryBase > 0 {
			o.RetryBase = opts.SchedulerOptions.RetryBase
		}
		if opts.SchedulerOptions.RetryFactor > 0 {
			o.RetryFactor = opts.SchedulerOptions.RetryFactor
		}
		o.Notifier = opts.SchedulerOptions.Notifier
		o.Logger = opts.Logger
	})

	machine := workflow.NewMachine(sched, func(o *workflow.Options) {
		o.Store = opts.WorkflowStore
		if opts.Plan != nil {
			o.Plan = opts.Plan
		}
		o.Logger = opts.Logger
	})

	return &Casemesh{opts: opts, engine: e, scheduler: sched, workflows: machine}
}

// FromConfig creates a Casemesh instance from environment-driven
// configuration: model provider selection, scheduler and engine bounds,
// workflow persistence and structured logging.
func FromConfig(cfg config.Config, optFns ...func(o *Options)) (*Casemesh, error) {
	m, err := newModel(cfg)
	if err != nil {
		return nil, err
	}

	logger := logging.New(&logging.Config{
		Level:  logging.ParseLevel(cfg.LogLevel),
		Format: cfg.LogFormat,
	})

	store := workflow.Store(workflow.NewInMemoryStore())
	if cfg.WorkflowDB != "" {
		s, err := workflow.OpenSQLiteStore(cfg.WorkflowDB)
		if err != nil {
			return nil, fmt.Errorf("open workflow store: %w", err)
		}
		store = s
	}

	base := func(o *Options) {
		o.EngineConfig = engine.Config{
			MaxConcurrentRuns: cfg.MaxConcurrentRuns,
			EventBuffer:       cfg.EventBuffer,
			Instructions:      cfg.Instructions,
			MaxTurns:          cfg.MaxTurns,
		}
		o.SchedulerOptions = scheduler.Options{
			MaxConcurrent: cfg.MaxConcurrentAgents,
			TaskTimeout:   cfg.TaskTimeout,
			RetryAttempts: cfg.RetryAttempts,
			RetryBase:     cfg.RetryBaseDelay,
		}
		o.WorkflowStore = store
		o.Plan = workflow.DefaultPlan(func(p *workflow.PlanOptions) {
			p.Interactive = cfg.InteractiveReview
			p.DeepSearch = cfg.DeepSearch
			p.PostProcess = cfg.PostProcess
		})
		o.Hooks = []engine.Hook{engine.NewLoggingHook(logger)}
		o.Logger = logger
	}
	return New(m, append([]func(o *Options){base}, optFns...)...), nil
}

func newModel(cfg config.Config) (model.Model, error) {
	switch cfg.ModelProvider {
	case "openai":
		return openai.NewModel(func(o *openai.Options) {
			if cfg.ModelName != "" {
				o.Model = cfg.ModelName
			}
		}), nil
	case "anthropic":
		return anthropic.NewModel(func(o *anthropic.Options) {
			if cfg.ModelName != "" {
				o.Model = anthropicsdk.Model(cfg.ModelName)
			}
			o.APIKey = cfg.AnthropicAPIKey
		}), nil
	case "scripted":
		return model.NewScriptedModel("scripted"), nil
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.ModelProvider)
	}
}

// Engine exposes the underlying run engine, e.g. for mounting the websocket
// gateway.
func (c *Casemesh) Engine() *engine.Engine { return c.engine }

// Scheduler exposes the underlying task scheduler.
func (c *Casemesh) Scheduler() *scheduler.Scheduler { return c.scheduler }

// Workflows exposes the underlying workflow machine.
func (c *Casemesh) Workflows() *workflow.Machine { return c.workflows }

// RegisterTool adds a tool executor available to the model during runs.
func (c *Casemesh) RegisterTool(e tool.Executor) { c.engine.Tools().Register(e) }

// RegisterWorker adds a task worker available to workflow phases.
func (c *Casemesh) RegisterWorker(w scheduler.Worker) { c.scheduler.Register(w) }

// StartRun starts an asynchronous run on the given thread, returning the run
// id and its ordered event stream.
func (c *Casemesh) StartRun(ctx context.Context, threadID, userMessage string) (string, <-chan event.Event, error) {
	return c.engine.StartRun(ctx, threadID, userMessage)
}

// CancelRun cancels a live run; its stream terminates with a RunError.
func (c *Casemesh) CancelRun(runID string) error { return c.engine.CancelRun(runID) }

// RunSync is a synchronous helper that drains the event stream, accumulates
// events and returns the run id. The returned error reflects a RunError
// terminal event or context cancellation.
func (c *Casemesh) RunSync(ctx context.Context, threadID, userMessage string) (string, []event.Event, error) {
	runID, events, err := c.engine.StartRun(ctx, threadID, userMessage)
	if err != nil {
		return "", nil, err
	}

	var collected []event.Event
	for {
		select {
		case <-ctx.Done():
			return runID, collected, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return runID, collected, nil
			}
			collected = append(collected, ev)
			if re, isErr := ev.(event.RunError); isErr {
				for range events {
				}
				return runID, collected, fmt.Errorf("run %s errored: %s", runID, re.Message)
			}
		}
	}
}

// StartWorkflow creates a durable workflow for the given research goal and
// drives it until it completes, fails, or pauses for interactive review.
func (c *Casemesh) StartWorkflow(ctx context.Context, goal string) (*workflow.State, error) {
	id, err := c.workflows.Start(ctx, goal)
	if err != nil {
		return nil, err
	}
	return c.workflows.Resume(ctx, id)
}

// ResumeWorkflow continues a persisted workflow from its saved phase.
func (c *Casemesh) ResumeWorkflow(ctx context.Context, workflowID string) (*workflow.State, error) {
	return c.workflows.Resume(ctx, workflowID)
}

// WorkflowState returns the persisted state of a workflow.
func (c *Casemesh) WorkflowState(ctx context.Context, workflowID string) (*workflow.State, error) {
	return c.workflows.State(ctx, workflowID)
}
