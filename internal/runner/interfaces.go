package runner

import (
	"context"

	"github.com/samvad-hq/samvad-request-runner/pkg/executor"
	"github.com/samvad-hq/samvad-request-runner/pkg/publishers"
)

// RequestExecutor runs one request to a terminal outcome.
type RequestExecutor interface {
	Execute(ctx context.Context, req executor.Request) (executor.Outcome, error)
}

// EventPublisher publishes job results downstream.
type EventPublisher interface {
	Publish(ctx context.Context, evt publishers.Event) (int, error)
}

// Journal remembers jobs that must not run again after a success.
type Journal interface {
	Completed(key string) (bool, error)
	MarkCompleted(key string) error
}
