package queue

import (
	"context"

	"github.com/husmancristian/TA_CONSOLE/pkg/models"
)

type AckNacker interface {
	Ack() error              // Acknowledge successful processing.
	Nack(requeue bool) error // Reject processing. requeue=true puts back in queue.
}

// Publisher announces run lifecycle events to other systems.
type Publisher interface {
	// PublishRunSettled emits one event when a run reaches a terminal status.
	PublishRunSettled(ctx context.Context, event *models.RunSettledEvent) error
}

// Manager is the console's broker: run events out, queued run requests in.
type Manager interface {
	Publisher

	// EnqueueRunRequest queues execution of a test case and returns the request id.
	EnqueueRunRequest(ctx context.Context, testCaseID string) (string, error)

	// NextRunRequest pulls one queued request. It returns nil, nil, nil when
	// the queue is empty. The caller must Ack or Nack a returned request.
	NextRunRequest(ctx context.Context) (*models.RunRequest, AckNacker, error)

	// QueueSize returns the number of run requests waiting.
	QueueSize(ctx context.Context) (int, error)

	// Close releases any resources held by the queue manager (e.g., connections).
	Close() error
}
