package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/visaforge/engine/internal/infrastructure/resilience"
)

const workerGroup = "engine-workers"

type analysisJob struct {
	ApplicationID int64 `json:"application_id"`
	SessionID     int64 `json:"session_id"`
}

type generationJob struct {
	ApplicationID int64 `json:"application_id"`
}

type Queue struct {
	conn            *nats.Conn
	analysisSubject string
	generateSubject string
	executor        *resilience.Executor
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
}

func New(url, analysisSubject, generateSubject string) (*Queue, error) {
	return NewWithOptions(url, analysisSubject, generateSubject, Options{})
}

func NewWithOptions(url, analysisSubject, generateSubject string, options Options) (*Queue, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}

	conn, err := nats.Connect(
		url,
		nats.Name("visaforge-engine"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Queue{
		conn:            conn,
		analysisSubject: analysisSubject,
		generateSubject: generateSubject,
		executor:        options.ResilienceExecutor,
	}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

func (q *Queue) PublishAnalysisRequested(ctx context.Context, applicationID, sessionID int64) error {
	return q.publish(ctx, q.analysisSubject, analysisJob{
		ApplicationID: applicationID,
		SessionID:     sessionID,
	})
}

func (q *Queue) PublishGenerationRequested(ctx context.Context, applicationID int64) error {
	return q.publish(ctx, q.generateSubject, generationJob{ApplicationID: applicationID})
}

func (q *Queue) publish(ctx context.Context, subject string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal job payload: %w", err)
	}

	call := func(_ context.Context) error {
		if err := q.conn.Publish(subject, body); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	if q.executor != nil {
		err = q.executor.Execute(ctx, "nats.publish", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	return wrapTemporaryIfNeeded(err)
}

func (q *Queue) SubscribeAnalysisRequested(ctx context.Context, handler func(ctx context.Context, applicationID, sessionID int64) error) error {
	return q.subscribe(ctx, q.analysisSubject, func(handlerCtx context.Context, data []byte) error {
		var job analysisJob
		if err := json.Unmarshal(data, &job); err != nil {
			return fmt.Errorf("decode analysis job: %w", err)
		}
		return handler(handlerCtx, job.ApplicationID, job.SessionID)
	})
}

func (q *Queue) SubscribeGenerationRequested(ctx context.Context, handler func(ctx context.Context, applicationID int64) error) error {
	return q.subscribe(ctx, q.generateSubject, func(handlerCtx context.Context, data []byte) error {
		var job generationJob
		if err := json.Unmarshal(data, &job); err != nil {
			return fmt.Errorf("decode generation job: %w", err)
		}
		return handler(handlerCtx, job.ApplicationID)
	})
}

// subscribe blocks until ctx is done, then drains the subscription.
func (q *Queue) subscribe(ctx context.Context, subject string, handle func(context.Context, []byte) error) error {
	sub, err := q.conn.QueueSubscribe(subject, workerGroup, func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}
		handlerCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		if err := handle(handlerCtx, msg.Data); err != nil {
			slog.Error("worker_handler_error", "subject", subject, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}
