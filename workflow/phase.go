package workflow

// Phase identifies a workflow state.
type Phase string

const (
	// PhaseCreated is the initial state of every workflow.
	PhaseCreated Phase = "created"
	// PhaseIntakeProcessing means intake tasks are running on the case
	// material.
	PhaseIntakeProcessing Phase = "intake_processing"
	// PhaseIntakeComplete marks intake output as folded and durable.
	PhaseIntakeComplete Phase = "intake_complete"
	// PhaseManagerReview is the supervised review branch after intake.
	PhaseManagerReview Phase = "manager_review"
	// PhaseChatInteractive is the interactive review branch after intake.
	PhaseChatInteractive Phase = "chat_interactive"
	// PhaseResearchInitiated means research tasks are dispatched.
	PhaseResearchInitiated Phase = "research_initiated"
	// PhaseResearchComplete marks research output as folded and durable.
	PhaseResearchComplete Phase = "research_complete"
	// PhaseAnalysisComplete marks analysis output as folded and durable.
	PhaseAnalysisComplete Phase = "analysis_complete"
	// PhaseReportGeneration means the report is being rendered.
	PhaseReportGeneration Phase = "report_generation"
	// PhaseCompleted is the successful terminal state.
	PhaseCompleted Phase = "completed"
	// PhaseFailed records a phase failure. Restartable via PhaseCreated.
	PhaseFailed Phase = "failed"
	// PhaseCancelled is the terminal state reached by operator action.
	PhaseCancelled Phase = "cancelled"
)

// forward lists the ordinary forward edges of the phase graph.
var forward = map[Phase][]Phase{
	PhaseCreated:           {PhaseIntakeProcessing},
	PhaseIntakeProcessing:  {PhaseIntakeComplete},
	PhaseIntakeComplete:    {PhaseManagerReview, PhaseChatInteractive},
	PhaseManagerReview:     {PhaseResearchInitiated},
	PhaseChatInteractive:   {PhaseResearchInitiated},
	PhaseResearchInitiated: {PhaseResearchComplete},
	PhaseResearchComplete:  {PhaseAnalysisComplete},
	PhaseAnalysisComplete:  {PhaseReportGeneration},
	PhaseReportGeneration:  {PhaseCompleted},
	PhaseFailed:            {PhaseCreated},
}

// Terminal reports whether no further transitions are possible. Failed is
// not terminal: it keeps the restart edge back to Created.
func (p Phase) Terminal() bool { return p == PhaseCompleted || p == PhaseCancelled }

// Known reports whether p names a phase of the graph.
func (p Phase) Known() bool {
	switch p {
	case PhaseCreated, PhaseIntakeProcessing, PhaseIntakeComplete,
		PhaseManagerReview, PhaseChatInteractive, PhaseResearchInitiated,
		PhaseResearchComplete, PhaseAnalysisComplete, PhaseReportGeneration,
		PhaseCompleted, PhaseFailed, PhaseCancelled:
		return true
	}
	return false
}

// CanTransition reports whether the edge from -> to exists in the phase
// graph. Failed is reachable from any non-terminal state except itself;
// Cancelled from any state that has not completed.
func CanTransition(from, to Phase) bool {
	if !from.Known() || !to.Known() {
		return false
	}
	if to == PhaseFailed {
		return !from.Terminal() && from != PhaseFailed
	}
	if to == PhaseCancelled {
		return from != PhaseCompleted && from != PhaseCancelled
	}
	for _, next := range forward[from] {
		if next == to {
			return true
		}
	}
	return false
}
