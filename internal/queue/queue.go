// Package queue provides the durable job queue the async pipeline
// consumes, backed by NATS JetStream with at-least-once delivery.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/inkwellhq/inkwell/internal/domain"
	"github.com/inkwellhq/inkwell/internal/log"
)

const (
	// StreamName holds every processing job message.
	StreamName = "INKWELL_JOBS"

	// SubjectJobs is the subject content jobs are published on.
	SubjectJobs = "inkwell.jobs"

	// durableConsumer names the shared pull consumer; every worker
	// process joins the same one so messages are load-balanced.
	durableConsumer = "inkwell-workers"

	// ackWait bounds how long a dequeued message may stay unacked
	// before JetStream redelivers it to another worker.
	ackWait = 5 * time.Minute
)

// JobMessage is the wire form of one queued processing job. The row in
// processing_jobs stays the source of truth; the message only carries
// identity.
type JobMessage struct {
	JobID      uuid.UUID      `json:"job_id"`
	DocumentID uuid.UUID      `json:"document_id"`
	Kind       domain.JobKind `json:"kind"`
	Attempt    int            `json:"attempt"`
}

// Queue is a durable work queue over JetStream.
//
// Queue is safe for concurrent use by multiple goroutines.
type Queue struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	sub    *nats.Subscription
	logger log.Logger
}

// Connect dials NATS, ensures the job stream exists, and binds the
// durable pull consumer.
func Connect(url string, logger log.Logger) (*Queue, error) {
	if logger == nil {
		logger = log.NewNop()
	}

	opts := []nats.Option{
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: nats connect: %v", domain.ErrBackendUnavailable, err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream context: %w", err)
	}

	if err := ensureStream(js); err != nil {
		nc.Close()
		return nil, err
	}

	sub, err := js.PullSubscribe(SubjectJobs, durableConsumer,
		nats.AckWait(ackWait),
		nats.ManualAck(),
	)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("bind pull consumer: %w", err)
	}

	logger.Info("job queue connected", "stream", StreamName)
	return &Queue{conn: nc, js: js, sub: sub, logger: logger}, nil
}

func ensureStream(js nats.JetStreamContext) error {
	_, err := js.StreamInfo(StreamName)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("stream info: %w", err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{SubjectJobs},
		Retention: nats.WorkQueuePolicy,
		Storage:   nats.FileStorage,
		// Duplicate-window dedupe by message id keeps a crashed sweep
		// from enqueueing the same job attempt twice.
		Duplicates: 2 * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("create stream: %w", err)
	}
	return nil
}

// Publish enqueues a job. The message id is derived from job identity
// and attempt, so re-publishing the same attempt inside the duplicate
// window is a no-op.
func (q *Queue) Publish(ctx context.Context, msg JobMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal job message: %w", err)
	}

	_, err = q.js.Publish(SubjectJobs, payload,
		nats.Context(ctx),
		nats.MsgId(fmt.Sprintf("%s:%d", msg.JobID, msg.Attempt)),
	)
	if err != nil {
		return fmt.Errorf("%w: publish job: %v", domain.ErrBackendUnavailable, err)
	}

	q.logger.Debug("enqueued job",
		"job_id", msg.JobID, "kind", msg.Kind, "attempt", msg.Attempt)
	return nil
}

// Delivery is one dequeued job message awaiting acknowledgement.
type Delivery interface {
	// Job returns the decoded message.
	Job() JobMessage

	// Ack marks the message processed; it will not be redelivered.
	Ack() error

	// Retry schedules redelivery after the given delay.
	Retry(delay time.Duration) error

	// Discard drops the message permanently. Used for poison messages
	// that can never be processed, with the failure already persisted
	// on the job.
	Discard() error
}

type natsDelivery struct {
	job JobMessage
	msg *nats.Msg
}

func (d *natsDelivery) Job() JobMessage                 { return d.job }
func (d *natsDelivery) Ack() error                      { return d.msg.Ack() }
func (d *natsDelivery) Retry(delay time.Duration) error { return d.msg.NakWithDelay(delay) }
func (d *natsDelivery) Discard() error                  { return d.msg.Term() }

// fetchWaitExpired reports whether err is the benign expiry of the
// fetch wait rather than a transport failure.
func fetchWaitExpired(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, nats.ErrTimeout)
}

// Fetch pulls up to max deliveries, waiting until the context expires.
// An empty result is normal when no work is queued.
func (q *Queue) Fetch(ctx context.Context, max int) ([]Delivery, error) {
	msgs, err := q.sub.Fetch(max, nats.Context(ctx))
	if err != nil {
		if fetchWaitExpired(err) {
			return nil, nil
		}
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: fetch jobs: %v", domain.ErrBackendUnavailable, err)
	}

	deliveries := make([]Delivery, 0, len(msgs))
	for _, m := range msgs {
		var job JobMessage
		if err := json.Unmarshal(m.Data, &job); err != nil {
			// A message that cannot decode can never be processed.
			q.logger.Error("discarding undecodable job message", "error", err)
			_ = m.Term()
			continue
		}
		deliveries = append(deliveries, &natsDelivery{job: job, msg: m})
	}
	return deliveries, nil
}

// Close drains the consumer and closes the connection.
func (q *Queue) Close() {
	if q.sub != nil {
		_ = q.sub.Unsubscribe()
	}
	q.conn.Close()
}
