package queue

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/howkawgew/PlasmoSyncBot/pkg/redis"
	"github.com/howkawgew/PlasmoSyncBot/pkg/tracing"
)

// Publisher enqueues reconcile jobs onto the shared job stream. It exists so
// callers outside the queue loop (the API surface, mostly) do not need to
// carry the stream name around.
type Publisher struct {
	streams *redis.Streams
	stream  string
	logger  ectologger.Logger
}

// NewPublisher creates a publisher bound to a job stream
func NewPublisher(streams *redis.Streams, stream string, logger ectologger.Logger) *Publisher {
	if stream == "" {
		stream = DefaultStream
	}
	return &Publisher{
		streams: streams,
		stream:  stream,
		logger:  logger,
	}
}

// Reconcile enqueues a reconcile job and returns the stream message ID
func (p *Publisher) Reconcile(ctx context.Context, job ReconcileJob) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "Publisher.Reconcile")
	defer span.End()

	messageID, err := PublishReconcile(ctx, p.streams, p.stream, job)
	if err != nil {
		p.logger.WithContext(ctx).WithError(err).Error("Failed to enqueue reconcile job")
		return "", err
	}

	p.logger.WithContext(ctx).Debugf("Enqueued reconcile job: identity=%s guild=%s origin=%s", job.Identity, job.GuildID, job.Origin)
	return messageID, nil
}

// Stream returns the job stream name the publisher writes to
func (p *Publisher) Stream() string {
	return p.stream
}
