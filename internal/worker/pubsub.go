// Package worker triggers ingest runs from a schedule or a Pub/Sub
// subscription.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"

	"github.com/airwatch/airwatch/internal/ingest"
)

// Job types accepted on the subscription.
const (
	JobIngest      = "ingest"
	JobHealthCheck = "health_check"
)

// ErrUnknownJob is returned by Dispatch for an unrecognized job type.
var ErrUnknownJob = errors.New("unknown job type")

// Runner runs one ingest pass. *ingest.Job implements it.
type Runner interface {
	Run(ctx context.Context) (*ingest.Result, error)
}

// JobMessage is the JSON body of a Pub/Sub job message.
type JobMessage struct {
	JobType string `json:"job_type"`
}

// Dispatcher runs the job named by a message.
type Dispatcher struct {
	runner Runner

	// healthCheck verifies dependencies for health_check jobs. Optional.
	healthCheck func(ctx context.Context) error

	logger zerolog.Logger
}

// NewDispatcher creates a dispatcher. healthCheck may be nil.
func NewDispatcher(runner Runner, healthCheck func(ctx context.Context) error, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{runner: runner, healthCheck: healthCheck, logger: logger}
}

// Dispatch decodes data and runs the job it names.
func (d *Dispatcher) Dispatch(ctx context.Context, data []byte) error {
	var msg JobMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("decode job message: %w", err)
	}

	switch msg.JobType {
	case JobIngest:
		result, err := d.runner.Run(ctx)
		if err != nil {
			return err
		}
		d.logger.Info().
			Int("ingested", result.Ingested).
			Int("skipped", result.Skipped).
			Int("inserted", result.Inserted).
			Msg("ingest job completed")
		return nil
	case JobHealthCheck:
		if d.healthCheck == nil {
			return nil
		}
		if err := d.healthCheck(ctx); err != nil {
			return fmt.Errorf("health check: %w", err)
		}
		d.logger.Debug().Msg("health check passed")
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownJob, msg.JobType)
	}
}

// PubSubHandler receives job messages from a Pub/Sub subscription.
type PubSubHandler struct {
	client           *pubsub.Client
	subscriber       *pubsub.Subscriber
	subscriptionName string
	dispatcher       *Dispatcher
	logger           zerolog.Logger
}

// PubSubConfig holds configuration for the Pub/Sub handler.
type PubSubConfig struct {
	ProjectID        string
	SubscriptionName string
	Dispatcher       *Dispatcher
	Logger           zerolog.Logger
}

// NewPubSubHandler creates a new Pub/Sub handler.
func NewPubSubHandler(ctx context.Context, cfg PubSubConfig) (*PubSubHandler, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	subscriber := client.Subscriber(cfg.SubscriptionName)

	// Runs are serialized by the job, so a single outstanding message suffices.
	subscriber.ReceiveSettings.MaxOutstandingMessages = 1
	subscriber.ReceiveSettings.MaxExtension = 10 * time.Minute

	return &PubSubHandler{
		client:           client,
		subscriber:       subscriber,
		subscriptionName: cfg.SubscriptionName,
		dispatcher:       cfg.Dispatcher,
		logger:           cfg.Logger,
	}, nil
}

// Start processes messages until ctx is cancelled.
func (h *PubSubHandler) Start(ctx context.Context) error {
	h.logger.Info().
		Str("subscription", h.subscriptionName).
		Msg("starting pubsub handler")

	return h.subscriber.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		h.handleMessage(ctx, msg)
	})
}

// Close closes the Pub/Sub client.
func (h *PubSubHandler) Close() error {
	return h.client.Close()
}

func (h *PubSubHandler) handleMessage(ctx context.Context, msg *pubsub.Message) {
	startTime := time.Now()

	logger := h.logger.With().
		Str("message_id", msg.ID).
		Str("publish_time", msg.PublishTime.Format(time.RFC3339)).
		Logger()

	logger.Debug().Msg("received pubsub message")

	err := h.dispatcher.Dispatch(ctx, msg.Data)
	switch {
	case errors.Is(err, ErrUnknownJob):
		// Redelivery would not help.
		logger.Warn().Err(err).Msg("dropping message")
		msg.Ack()
	case err != nil:
		logger.Error().Err(err).Msg("job failed")
		msg.Nack()
	default:
		logger.Info().Dur("duration", time.Since(startTime)).Msg("job completed successfully")
		msg.Ack()
	}
}
