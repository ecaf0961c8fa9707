// Package compactor periodically renumbers queue positions. Requeue-to-back
// grows positions without bound on long-lived queues; compaction rewrites
// them 1..N preserving relative order during low-traffic windows.
package compactor

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/acme/agent-dispatch/internal/config"
	"github.com/acme/agent-dispatch/internal/repository"
	"github.com/acme/agent-dispatch/pkg/logger"
)

// Compactor runs the position-compaction loop.
type Compactor struct {
	store  repository.QueueStore
	logger *logger.Logger
	cfg    config.CompactorConfig
}

// New constructs a compactor.
func New(store repository.QueueStore, lg *logger.Logger, cfg config.CompactorConfig) *Compactor {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Hour
	}
	if cfg.MaxPosition <= 0 {
		cfg.MaxPosition = 1 << 20
	}
	return &Compactor{store: store, logger: lg, cfg: cfg}
}

// Run executes the compaction loop until cancelled.
func (c *Compactor) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()

	for {
		if err := c.tick(ctx); err != nil && ctx.Err() == nil {
			c.logger.Error("compactor tick failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Compactor) tick(ctx context.Context) error {
	tracer := otel.Tracer("dispatch.compactor")
	sctx, span := tracer.Start(ctx, "compactor.tick")
	defer span.End()

	instances, err := c.store.Instances(sctx)
	if err != nil {
		span.RecordError(err)
		return err
	}
	span.SetAttributes(attribute.Int("instance.count", len(instances)))

	for _, instanceID := range instances {
		if err := c.compactInstance(sctx, instanceID); err != nil {
			span.RecordError(err)
			c.logger.Error("compactor: instance failed", zap.Error(err),
				zap.String("instance_id", instanceID.String()))
		}
	}
	return nil
}

func (c *Compactor) compactInstance(ctx context.Context, instanceID uuid.UUID) error {
	max, err := c.store.MaxPosition(ctx, instanceID)
	if err != nil {
		return err
	}
	if max <= c.cfg.MaxPosition {
		return nil
	}

	touched, err := c.store.CompactPositions(ctx, instanceID)
	if err != nil {
		return err
	}
	c.logger.Info("compacted queue positions",
		zap.String("instance_id", instanceID.String()),
		zap.Int64("max_position", max),
		zap.Int("entries_renumbered", touched),
	)
	return nil
}
