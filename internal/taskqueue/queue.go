// HealthBridge - Oseer Health Data Sync Client
// Copyright 2026 Oseer Algorithmics (oseer-algo)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oseer-algo/oseer-healthbridge-sub001

package taskqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	natsgo "github.com/nats-io/nats.go"

	"github.com/oseer-algo/oseer-healthbridge-sub001/internal/config"
	"github.com/oseer-algo/oseer-healthbridge-sub001/internal/logging"
	"github.com/oseer-algo/oseer-healthbridge-sub001/internal/metrics"
)

// Queue owns the durable task pipeline: an optional embedded JetStream
// server, a publisher for enqueues, and a router consuming chunk tasks.
type Queue struct {
	cfg    config.TaskQueueConfig
	server *EmbeddedServer

	publisher  message.Publisher
	subscriber message.Subscriber
	router     *message.Router
	logger     watermill.LoggerAdapter
}

// New builds the queue and registers the chunk worker. The factory is
// invoked once per delivered task so every execution reconstructs its
// collaborators from durable state.
func New(cfg config.TaskQueueConfig, factory RunnerFactory) (*Queue, error) {
	logger := newWatermillLogger()
	q := &Queue{cfg: cfg, logger: logger}

	url := cfg.URL
	if cfg.EmbeddedServer {
		srv, err := NewEmbeddedServer(cfg.Port, cfg.StoreDir)
		if err != nil {
			return nil, err
		}
		q.server = srv
		url = srv.ClientURL()
		logging.Info().Str("url", url).Msg("embedded task queue server started")
	}

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2 * time.Second),
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         url,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			AutoProvision: true,
			TrackMsgId:    true,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create task publisher: %w", err)
	}
	q.publisher = pub

	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:              url,
		QueueGroupPrefix: "healthbridge-tasks",
		SubscribersCount: 1,
		AckWaitTimeout:   60 * time.Second,
		CloseTimeout:     10 * time.Second,
		NatsOptions:      natsOpts,
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			AutoProvision: true,
			AckAsync:      false,
			DurablePrefix: "healthbridge-tasks",
			SubscribeOptions: []natsgo.SubOpt{
				natsgo.MaxDeliver(5),
				natsgo.AckWait(60 * time.Second),
			},
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create task subscriber: %w", err)
	}
	q.subscriber = sub

	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: 30 * time.Second}, logger)
	if err != nil {
		return nil, fmt.Errorf("create task router: %w", err)
	}

	// Middleware order: recover panics, retry transient handler errors,
	// and finally park anything still failing on the poison topic.
	router.AddMiddleware(middleware.Recoverer)
	retry := middleware.Retry{
		MaxRetries:      3,
		InitialInterval: time.Second,
		MaxInterval:     time.Minute,
		Multiplier:      2.0,
		Logger:          logger,
	}
	router.AddMiddleware(retry.Middleware)
	poison, err := middleware.PoisonQueue(pub, TopicPoison)
	if err != nil {
		return nil, fmt.Errorf("create poison queue middleware: %w", err)
	}
	router.AddMiddleware(poison)

	handler := &ChunkHandler{factory: factory}
	router.AddNoPublisherHandler(
		"historical-chunk-worker",
		TopicHistoricalChunk,
		sub,
		handler.Handle,
	)
	q.router = router
	return q, nil
}

// EnqueueHistoricalSyncChunk publishes a chunk task. The JetStream
// message id is derived from user and chunk so duplicate enqueues for
// the same chunk collapse broker-side.
func (q *Queue) EnqueueHistoricalSyncChunk(userID string, chunkIndex int) error {
	task := HistoricalChunkTask{
		UserID:     userID,
		ChunkIndex: chunkIndex,
		EnqueuedAt: time.Now().UTC(),
	}
	payload, err := task.marshal()
	if err != nil {
		return err
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(natsgo.MsgIdHdr, fmt.Sprintf("chunk-%s-%d", userID, chunkIndex))

	if err := q.publisher.Publish(TopicHistoricalChunk, msg); err != nil {
		return fmt.Errorf("enqueue chunk %d: %w", chunkIndex, err)
	}
	metrics.TasksEnqueued.WithLabelValues("historical_chunk").Inc()
	logging.Debug().Int("chunk", chunkIndex).Msg("historical chunk enqueued")
	return nil
}

// String identifies the service in supervisor logs.
func (q *Queue) String() string { return "task-queue" }

// Serve runs the worker router until ctx is cancelled. Implements
// suture.Service.
func (q *Queue) Serve(ctx context.Context) error {
	return q.router.Run(ctx)
}

// Close tears the pipeline down: router first so handlers stop, then
// transports, then the embedded server.
func (q *Queue) Close(ctx context.Context) error {
	if q.router != nil {
		if err := q.router.Close(); err != nil {
			logging.Warn().Err(err).Msg("close task router")
		}
	}
	if q.subscriber != nil {
		if err := q.subscriber.Close(); err != nil {
			logging.Warn().Err(err).Msg("close task subscriber")
		}
	}
	if q.publisher != nil {
		if err := q.publisher.Close(); err != nil {
			logging.Warn().Err(err).Msg("close task publisher")
		}
	}
	if q.server != nil {
		return q.server.Shutdown(ctx)
	}
	return nil
}
