// Package dispatch runs the inbound-call consumer: each message on the
// inbound topic becomes one dispatch against the agent queue.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/agent-dispatch/internal/app"
	"github.com/acme/agent-dispatch/internal/domain"
	"github.com/acme/agent-dispatch/internal/events"
	dispatchsvc "github.com/acme/agent-dispatch/internal/service/dispatch"
)

// Worker consumes inbound-call events and dispatches them to agents.
type Worker struct {
	container *app.Container
}

// New creates a new dispatch worker.
func New(container *app.Container) *Worker {
	return &Worker{container: container}
}

// Run starts the worker loop.
func (w *Worker) Run(ctx context.Context) error {
	cfg := w.container.Config
	reader := w.container.Kafka.NewReader(cfg.Kafka.InboundTopic, cfg.Kafka.ConsumerGroupID)
	defer reader.Close()

	for {
		m, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.container.Logger.Error("dispatch worker: fetch message", zap.Error(err))
			continue
		}

		if err := w.processMessage(ctx, reader, m); err != nil {
			w.container.Logger.Error("dispatch worker: process", zap.Error(err))
		}
	}
}

func (w *Worker) processMessage(ctx context.Context, reader *kafka.Reader, m kafka.Message) error {
	var inbound events.InboundCallMessage
	if err := json.Unmarshal(m.Value, &inbound); err != nil {
		_ = reader.CommitMessages(ctx, m)
		return fmt.Errorf("unmarshal inbound call: %w", err)
	}

	tracer := otel.Tracer("dispatch.worker")
	sctx, span := tracer.Start(ctx, "inbound.dispatch", trace.WithAttributes(
		attribute.String("call.id", inbound.CallID.String()),
		attribute.String("instance.id", inbound.InstanceID.String()),
	))
	defer span.End()

	result, err := w.container.Services().Dispatch.Dispatch(sctx, dispatchsvc.Input{
		InstanceID:     inbound.InstanceID,
		ContactAddress: inbound.ContactAddress,
		IsVideo:        inbound.IsVideo,
		Direction:      domain.DirectionInbound,
	})
	if err != nil {
		span.RecordError(err)
		w.container.Logger.Error("dispatch worker: dispatch", zap.Error(err),
			zap.String("instance_id", inbound.InstanceID.String()))
	} else {
		span.SetAttributes(attribute.String("dispatch.outcome", string(result.Outcome)))
		if result.Outcome == domain.OutcomeNoAgentAvailable {
			// Normal outcome: the host application's fallback routing
			// (voicemail, overflow) takes it from here.
			w.container.Logger.Info("dispatch worker: no agent available",
				zap.String("instance_id", inbound.InstanceID.String()),
				zap.String("call_id", inbound.CallID.String()))
		}
	}

	if err := reader.CommitMessages(sctx, m); err != nil {
		span.RecordError(err)
		return fmt.Errorf("commit message: %w", err)
	}
	return nil
}
