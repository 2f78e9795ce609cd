// Package workflow implements the orchestrator: a durable state machine that
// advances a case through ordered phases, dispatching each phase's tasks
// through the scheduler and folding their outputs into the workflow context.
//
// The phase graph is fixed; phase plans (which task types run in which phase,
// their timeouts, and the partial-completion policy) are declared in YAML or
// built from the default research pipeline. State is persisted through an
// abstract Store after every transition and before the next dispatch, so a
// crash between phases resumes at the next phase without re-running work.
package workflow
