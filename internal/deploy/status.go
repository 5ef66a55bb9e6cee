// Package deploy reconciles the deployment status of committed projects by
// polling the hosting backend until a terminal state is observed.
package deploy

import "context"

// Status is a project's deployment state.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Terminal reports whether s ends a poll loop.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailure
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusPending || s.Terminal()
}

// Poller asks the hosting backend for the latest build run of a repository.
// Implementations never fail: a collaborator error is reported as
// StatusFailure for that poll.
type Poller interface {
	PollOnce(ctx context.Context, repoName string) Status
}

// PollerFunc adapts a function to Poller.
type PollerFunc func(ctx context.Context, repoName string) Status

func (f PollerFunc) PollOnce(ctx context.Context, repoName string) Status { return f(ctx, repoName) }
