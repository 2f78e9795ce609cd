package workflow

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// TaskSpec declares one task dispatched while a phase is active.
type TaskSpec struct {
	Type       string         `yaml:"type"`
	Parameters map[string]any `yaml:"parameters,omitempty"`
	Timeout    time.Duration  `yaml:"timeout,omitempty"`
}

// PhaseSpec binds a phase to its work and its forward edge.
type PhaseSpec struct {
	Phase Phase      `yaml:"phase"`
	Next  Phase      `yaml:"next"`
	Tasks []TaskSpec `yaml:"tasks,omitempty"`

	// AllowPartial accepts the phase when at least one task succeeded;
	// failed siblings are recorded in context but do not fail the workflow.
	AllowPartial bool `yaml:"allow_partial,omitempty"`

	// Gate pauses Resume before this phase executes. A gated phase only
	// runs through an explicit Advance call (operator or chat action).
	Gate bool `yaml:"gate,omitempty"`
}

// Plan is the declarative route of a workflow through the phase graph: an
// ordered chain of phase specs from Created to Completed. Every Next edge
// must exist in the graph; the plan cannot invent transitions.
type Plan struct {
	Phases []PhaseSpec `yaml:"phases"`

	steps map[Phase]*PhaseSpec
}

// ParsePlan decodes a YAML plan document and validates it against the phase
// graph.
func ParsePlan(raw []byte) (*Plan, error) {
	var plan Plan
	if err := yaml.Unmarshal(raw, &plan); err != nil {
		return nil, fmt.Errorf("failed to parse plan: %w", err)
	}
	if err := plan.init(); err != nil {
		return nil, err
	}
	return &plan, nil
}

// init indexes the phase chain and validates every declared edge.
func (p *Plan) init() error {
	if len(p.Phases) == 0 {
		return fmt.Errorf("plan declares no phases")
	}
	p.steps = make(map[Phase]*PhaseSpec, len(p.Phases))
	for i := range p.Phases {
		spec := &p.Phases[i]
		if !spec.Phase.Known() {
			return fmt.Errorf("plan names unknown phase %q", spec.Phase)
		}
		if _, dup := p.steps[spec.Phase]; dup {
			return fmt.Errorf("plan declares phase %s twice", spec.Phase)
		}
		if !CanTransition(spec.Phase, spec.Next) {
			return fmt.Errorf("plan edge %s -> %s not in phase graph", spec.Phase, spec.Next)
		}
		p.steps[spec.Phase] = spec
	}
	if _, ok := p.steps[PhaseCreated]; !ok {
		return fmt.Errorf("plan must start at %s", PhaseCreated)
	}
	return nil
}

// step returns the spec for a phase, if the plan routes through it.
func (p *Plan) step(phase Phase) (*PhaseSpec, bool) {
	spec, ok := p.steps[phase]
	return spec, ok
}

// PlanOptions select the variations of the default research pipeline.
type PlanOptions struct {
	// Interactive routes review through ChatInteractive instead of
	// ManagerReview.
	Interactive bool

	// DeepSearch widens the research phase's search breadth.
	DeepSearch bool

	// PostProcess adds an AI post-processing pass before report rendering.
	PostProcess bool
}

// DefaultPlan builds the built-in research pipeline: intake, review,
// research, analysis, report.
func DefaultPlan(optFns ...func(o *PlanOptions)) *Plan {
	var opts PlanOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	review := PhaseManagerReview
	reviewTasks := []TaskSpec{{Type: "manager_review"}}
	gated := false
	if opts.Interactive {
		// Interactive review is driven by chat runs; Resume pauses at the
		// gate until an operator advances past it.
		review = PhaseChatInteractive
		reviewTasks = nil
		gated = true
	}

	searchParams := map[string]any{"depth": "standard"}
	if opts.DeepSearch {
		searchParams["depth"] = "deep"
	}

	reportTasks := []TaskSpec{{Type: "report_render"}}
	if opts.PostProcess {
		reportTasks = append([]TaskSpec{{Type: "ai_postprocess"}}, reportTasks...)
	}

	plan := &Plan{Phases: []PhaseSpec{
		{Phase: PhaseCreated, Next: PhaseIntakeProcessing},
		{Phase: PhaseIntakeProcessing, Next: PhaseIntakeComplete,
			Tasks: []TaskSpec{{Type: "document_intake"}}},
		{Phase: PhaseIntakeComplete, Next: review},
		{Phase: review, Next: PhaseResearchInitiated, Tasks: reviewTasks, Gate: gated},
		{Phase: PhaseResearchInitiated, Next: PhaseResearchComplete,
			Tasks: []TaskSpec{{Type: "legal_search", Parameters: searchParams}}},
		{Phase: PhaseResearchComplete, Next: PhaseAnalysisComplete,
			Tasks: []TaskSpec{{Type: "result_analysis"}}},
		{Phase: PhaseAnalysisComplete, Next: PhaseReportGeneration},
		{Phase: PhaseReportGeneration, Next: PhaseCompleted, Tasks: reportTasks},
	}}
	if err := plan.init(); err != nil {
		// The built-in plan is validated by tests; init can only fail here
		// if the phase graph itself changed underneath it.
		panic(err)
	}
	return plan
}
