package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/acme/agent-dispatch/internal/config"
	"github.com/acme/agent-dispatch/internal/dialplan"
	"github.com/acme/agent-dispatch/internal/events"
	"github.com/acme/agent-dispatch/internal/gateway"
	gatewayHTTP "github.com/acme/agent-dispatch/internal/gateway/httpgw"
	gatewayMock "github.com/acme/agent-dispatch/internal/gateway/mock"
	"github.com/acme/agent-dispatch/internal/infra/db"
	"github.com/acme/agent-dispatch/internal/infra/redis"
	"github.com/acme/agent-dispatch/internal/repository"
	pgrepo "github.com/acme/agent-dispatch/internal/repository/postgres"
	scyllarepo "github.com/acme/agent-dispatch/internal/repository/scylla"
	callsvc "github.com/acme/agent-dispatch/internal/service/call"
	"github.com/acme/agent-dispatch/internal/service/concurrency"
	dispatchsvc "github.com/acme/agent-dispatch/internal/service/dispatch"
	queuesvc "github.com/acme/agent-dispatch/internal/service/queue"
	"github.com/acme/agent-dispatch/pkg/logger"
)

// Container wires together shared infrastructure dependencies.
type Container struct {
	Config *config.Config
	Logger *logger.Logger

	Postgres *db.Postgres
	Scylla   *db.Scylla
	Redis    *redis.Client
	Kafka    *events.Kafka

	// lazily initialised components
	components struct {
		once         sync.Once
		repositories *repositories
		services     *services
		publishers   *publishers
		gateways     *gateways
		limiters     *limiters
	}
}

type repositories struct {
	Queue    repository.QueueStore
	Attempts repository.AttemptStore
}

type services struct {
	Queue    *queuesvc.Service
	Call     *callsvc.Service
	Dispatch *dispatchsvc.Service
}

type publishers struct {
	Outcome *events.OutcomePublisher
}

type gateways struct {
	Telephony gateway.Gateway
}

type limiters struct {
	Concurrency *concurrency.Limiter
}

// Build constructs a container for the given configuration path.
func Build(ctx context.Context, configPath string) (*Container, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	lg, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, err
	}

	pg, err := db.NewPostgres(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("bootstrap postgres: %w", err)
	}

	scylla, err := db.NewScylla(cfg.Scylla)
	if err != nil {
		return nil, fmt.Errorf("bootstrap scylla: %w", err)
	}

	redisClient, err := redis.NewClient(cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("bootstrap redis: %w", err)
	}

	kafka, err := events.NewKafka(cfg.Kafka)
	if err != nil {
		return nil, fmt.Errorf("bootstrap kafka: %w", err)
	}

	container := &Container{
		Config:   cfg,
		Logger:   lg,
		Postgres: pg,
		Scylla:   scylla,
		Redis:    redisClient,
		Kafka:    kafka,
	}

	return container, nil
}

func (c *Container) initComponents() {
	c.components.once.Do(func() {
		repos := &repositories{
			Queue:    pgrepo.NewQueueStore(c.Postgres.DB()),
			Attempts: scyllarepo.NewAttemptStore(c.Scylla.Session()),
		}

		pubs := &publishers{
			Outcome: events.NewOutcomePublisher(c.Kafka, c.Config.Kafka.OutcomeTopic),
		}

		gws := &gateways{}
		if c.Config.Gateway.BaseURL != "" {
			gws.Telephony = gatewayHTTP.NewClient(c.Config.Gateway)
		} else {
			gws.Telephony = gatewayMock.NewGateway()
		}

		lims := &limiters{
			Concurrency: concurrency.NewLimiter(c.Redis.Inner(), c.Config.Dispatch.MaxInFlightPerInstance, c.Config.Dispatch.SlotTTL),
		}

		svcs := &services{
			Queue: queuesvc.NewService(repos.Queue, c.Logger.Named("queue")),
			Call: callsvc.NewService(
				gws.Telephony,
				repos.Attempts,
				dialplan.FromConfig(c.Config.Dialplan),
				c.Logger.Named("call"),
				c.Config.Gateway.RingSeconds,
				c.Config.Gateway.RequestTimeout,
			),
		}
		svcs.Dispatch = dispatchsvc.NewService(
			repos.Queue,
			svcs.Call,
			pubs.Outcome,
			lims.Concurrency,
			c.Logger.Named("dispatch"),
			dispatchsvc.Options{
				ClaimMaxRetries:  c.Config.Dispatch.ClaimMaxRetries,
				RequeueOnFailure: c.Config.Dispatch.RequeueOnFailure,
				MaxInFlight:      c.Config.Dispatch.MaxInFlightPerInstance,
				SlotWait:         c.Config.Dispatch.SlotWait,
			},
		)

		c.components.repositories = repos
		c.components.publishers = pubs
		c.components.gateways = gws
		c.components.limiters = lims
		c.components.services = svcs
	})
}

// Repositories exposes initialized repositories.
func (c *Container) Repositories() *repositories {
	c.initComponents()
	return c.components.repositories
}

// Services exposes initialized services.
func (c *Container) Services() *services {
	c.initComponents()
	return c.components.services
}

// Publishers exposes Kafka publishers.
func (c *Container) Publishers() *publishers {
	c.initComponents()
	return c.components.publishers
}

// Gateways exposes external gateways.
func (c *Container) Gateways() *gateways {
	c.initComponents()
	return c.components.gateways
}

// Limiters exposes limiter utilities.
func (c *Container) Limiters() *limiters {
	c.initComponents()
	return c.components.limiters
}

// Close releases all held resources.
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	if c.components.publishers != nil && c.components.publishers.Outcome != nil {
		if err := c.components.publishers.Outcome.Close(); err != nil {
			errs = append(errs, fmt.Errorf("outcome publisher close: %w", err))
		}
	}
	if c.Kafka != nil {
		if err := c.Kafka.Close(); err != nil {
			errs = append(errs, fmt.Errorf("kafka close: %w", err))
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}
	if c.Scylla != nil {
		if err := c.Scylla.Close(); err != nil {
			errs = append(errs, fmt.Errorf("scylla close: %w", err))
		}
	}
	if c.Postgres != nil {
		if err := c.Postgres.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("postgres close: %w", err))
		}
	}
	if c.Logger != nil {
		c.Logger.Sync()
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

// EnsureTopics ensures required Kafka topics exist.
func (c *Container) EnsureTopics(ctx context.Context) error {
	topics := []string{c.Config.Kafka.InboundTopic, c.Config.Kafka.OutcomeTopic}
	return c.Kafka.EnsureTopics(ctx, topics, 12, 1)
}
