package core

import "time"

// Thread is a durable conversation identity. It groups the Runs of one user
// session and is persisted only as an addressing key plus its accumulated
// message history, never as interpreted content.
type Thread struct {
	ID      string    `json:"id"`
	Created time.Time `json:"created"`
}

// NewThread creates a thread. An empty id is replaced with a generated one.
func NewThread(id string) *Thread {
	if id == "" {
		id = NewID()
	}
	return &Thread{ID: id, Created: time.Now().UTC()}
}

// ThreadStore abstracts persistence of threads and their append-only message
// histories. Implementations must be safe for concurrent use. Get creates
// the thread lazily when it does not exist yet.
type ThreadStore interface {
	Get(threadID string) (*Thread, error)
	AppendMessages(threadID string, msgs ...Message) error
	History(threadID string) ([]Message, error)
}
