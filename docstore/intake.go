package docstore

import (
	"context"
	"fmt"
	"sort"

	"github.com/casemesh-ai/casemesh/scheduler"
)

// IntakeWorker serves document_intake tasks: it inventories the documents
// attached to the matter and reports the ids and byte counts that downstream
// research phases operate on.
type IntakeWorker struct {
	store Store
}

// NewIntakeWorker wraps a document store as an intake worker.
func NewIntakeWorker(store Store) *IntakeWorker {
	return &IntakeWorker{store: store}
}

// Type implements scheduler.Worker.
func (w *IntakeWorker) Type() string { return "document_intake" }

// Do implements scheduler.Worker. The matter is addressed by the dispatching
// workflow's id.
func (w *IntakeWorker) Do(ctx context.Context, task *scheduler.Task) (map[string]any, error) {
	matterID, _ := task.Parameters["workflow_id"].(string)
	if matterID == "" {
		return nil, scheduler.Permanent(fmt.Errorf("document_intake: missing workflow_id parameter"))
	}

	ids, err := w.store.List(matterID)
	if err != nil {
		return nil, fmt.Errorf("list documents for matter %s: %w", matterID, err)
	}
	sort.Strings(ids)

	var totalBytes int
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := w.store.Get(matterID, id)
		if err != nil {
			return nil, fmt.Errorf("read document %s: %w", id, err)
		}
		totalBytes += len(data)
	}

	return map[string]any{
		"documents":    len(ids),
		"document_ids": ids,
		"total_bytes":  totalBytes,
	}, nil
}
