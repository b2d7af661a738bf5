package pool

import "context"

// Submitter accepts background jobs. *Pool implements it; callers that only
// queue work depend on this.
type Submitter interface {
	Submit(job Job) error
}

// Inline runs every job synchronously on the caller's goroutine with a
// background context. It is used when no pool is configured.
type Inline struct{}

func (Inline) Submit(job Job) error {
	job(context.Background())
	return nil
}
