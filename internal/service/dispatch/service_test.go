package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/agent-dispatch/internal/dialplan"
	"github.com/acme/agent-dispatch/internal/domain"
	"github.com/acme/agent-dispatch/internal/gateway"
	"github.com/acme/agent-dispatch/internal/repository"
	"github.com/acme/agent-dispatch/internal/repository/memory"
	callsvc "github.com/acme/agent-dispatch/internal/service/call"
	"github.com/acme/agent-dispatch/pkg/logger"
)

func nopLogger() *logger.Logger {
	return &logger.Logger{Logger: zap.NewNop()}
}

// scriptedGateway replays a fixed sequence of results; once the script is
// exhausted every call succeeds.
type scriptedGateway struct {
	mu      sync.Mutex
	script  []gateway.Result
	calls   int
	entered chan struct{}
	release chan struct{}
}

func (g *scriptedGateway) PlaceCall(ctx context.Context, req gateway.OfferRequest) gateway.Result {
	if g.entered != nil {
		g.entered <- struct{}{}
	}
	if g.release != nil {
		<-g.release
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if len(g.script) == 0 {
		return gateway.Result{Initiated: true}
	}
	result := g.script[0]
	g.script = g.script[1:]
	return result
}

func newCoordinator(t *testing.T, store repository.QueueStore, gw gateway.Gateway, opts Options) *Service {
	t.Helper()
	executor := callsvc.NewService(gw, memory.NewAttemptStore(), dialplan.Digits{}, nopLogger(), 30, time.Second)
	return NewService(store, executor, nil, nil, nopLogger(), opts)
}

func enroll(t *testing.T, store *memory.QueueStore, instanceID uuid.UUID, n int) []uuid.UUID {
	t.Helper()
	agents := make([]uuid.UUID, n)
	for i := range agents {
		agents[i] = uuid.New()
		if _, _, err := store.Insert(context.Background(), instanceID, agents[i]); err != nil {
			t.Fatalf("insert agent %d: %v", i, err)
		}
	}
	return agents
}

func dispatchOnce(t *testing.T, svc *Service, instanceID uuid.UUID) *Result {
	t.Helper()
	result, err := svc.Dispatch(context.Background(), Input{
		InstanceID:     instanceID,
		ContactAddress: "15551234567",
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	return result
}

func TestDispatchRoundRobinOrder(t *testing.T) {
	store := memory.NewQueueStore()
	instanceID := uuid.New()
	agents := enroll(t, store, instanceID, 3)
	svc := newCoordinator(t, store, &scriptedGateway{}, Options{RequeueOnFailure: true})

	want := []uuid.UUID{agents[0], agents[1], agents[2], agents[0]}
	for i, expected := range want {
		result := dispatchOnce(t, svc, instanceID)
		if result.Outcome != domain.OutcomeDispatched {
			t.Fatalf("dispatch %d: outcome = %s, want dispatched", i, result.Outcome)
		}
		if result.AgentID == nil || *result.AgentID != expected {
			t.Fatalf("dispatch %d: got agent %v, want %s", i, result.AgentID, expected)
		}
	}
}

func TestDispatchSkipsUnavailableAgents(t *testing.T) {
	store := memory.NewQueueStore()
	instanceID := uuid.New()
	agents := enroll(t, store, instanceID, 3)
	if _, err := store.UpdateAvailability(context.Background(), instanceID, agents[1], false); err != nil {
		t.Fatalf("set unavailable: %v", err)
	}
	svc := newCoordinator(t, store, &scriptedGateway{}, Options{RequeueOnFailure: true})

	want := []uuid.UUID{agents[0], agents[2], agents[0], agents[2]}
	for i, expected := range want {
		result := dispatchOnce(t, svc, instanceID)
		if result.AgentID == nil || *result.AgentID != expected {
			t.Fatalf("dispatch %d: got agent %v, want %s", i, result.AgentID, expected)
		}
	}
}

func TestDispatchAvailabilityToggleMidSequence(t *testing.T) {
	store := memory.NewQueueStore()
	instanceID := uuid.New()
	agents := enroll(t, store, instanceID, 3)
	svc := newCoordinator(t, store, &scriptedGateway{}, Options{RequeueOnFailure: true})

	first := dispatchOnce(t, svc, instanceID)
	if first.AgentID == nil || *first.AgentID != agents[0] {
		t.Fatalf("first dispatch got agent %v, want %s", first.AgentID, agents[0])
	}

	// The second agent goes offline after the first call is handed out.
	if _, err := store.UpdateAvailability(context.Background(), instanceID, agents[1], false); err != nil {
		t.Fatalf("set unavailable: %v", err)
	}

	want := []uuid.UUID{agents[2], agents[0], agents[2]}
	for i, expected := range want {
		result := dispatchOnce(t, svc, instanceID)
		if result.AgentID == nil || *result.AgentID != expected {
			t.Fatalf("dispatch %d after toggle: got agent %v, want %s", i+2, result.AgentID, expected)
		}
	}
}

func TestDispatchNoAgentAvailable(t *testing.T) {
	store := memory.NewQueueStore()
	instanceID := uuid.New()
	svc := newCoordinator(t, store, &scriptedGateway{}, Options{RequeueOnFailure: true})

	result := dispatchOnce(t, svc, instanceID)
	if result.Outcome != domain.OutcomeNoAgentAvailable {
		t.Fatalf("outcome = %s, want no_agent_available", result.Outcome)
	}
	if result.AgentID != nil {
		t.Fatalf("expected no agent, got %s", result.AgentID)
	}

	// Enrolled but offline agents must not change the answer.
	agentID := uuid.New()
	if _, _, err := store.Insert(context.Background(), instanceID, agentID); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := store.UpdateAvailability(context.Background(), instanceID, agentID, false); err != nil {
		t.Fatalf("set unavailable: %v", err)
	}

	result = dispatchOnce(t, svc, instanceID)
	if result.Outcome != domain.OutcomeNoAgentAvailable {
		t.Fatalf("outcome = %s, want no_agent_available", result.Outcome)
	}
}

func TestDispatchFailedPlacementStillConsumesTurn(t *testing.T) {
	store := memory.NewQueueStore()
	instanceID := uuid.New()
	agents := enroll(t, store, instanceID, 2)

	gw := &scriptedGateway{script: []gateway.Result{
		{Failure: domain.FailureGatewayNotConfigured, Message: "no route for instance"},
	}}
	svc := newCoordinator(t, store, gw, Options{RequeueOnFailure: true})

	first := dispatchOnce(t, svc, instanceID)
	if first.Outcome != domain.OutcomeFailed {
		t.Fatalf("outcome = %s, want failed", first.Outcome)
	}
	if first.Failure != domain.FailureGatewayNotConfigured {
		t.Fatalf("failure = %s, want gateway_not_configured", first.Failure)
	}
	if first.AgentID == nil || *first.AgentID != agents[0] {
		t.Fatalf("got agent %v, want %s", first.AgentID, agents[0])
	}
	if first.Attempt == nil || first.Attempt.Status != domain.AttemptStatusFailed {
		t.Fatalf("expected a failed attempt record, got %+v", first.Attempt)
	}

	// The failed agent had their turn; the next dispatch moves on.
	second := dispatchOnce(t, svc, instanceID)
	if second.AgentID == nil || *second.AgentID != agents[1] {
		t.Fatalf("second dispatch got agent %v, want %s", second.AgentID, agents[1])
	}
}

func TestDispatchFailureRestoresPositionWhenConfigured(t *testing.T) {
	store := memory.NewQueueStore()
	instanceID := uuid.New()
	agents := enroll(t, store, instanceID, 2)

	gw := &scriptedGateway{script: []gateway.Result{
		{Failure: domain.FailureGatewayServer, Message: "upstream 502"},
	}}
	svc := newCoordinator(t, store, gw, Options{RequeueOnFailure: false})

	first := dispatchOnce(t, svc, instanceID)
	if first.Outcome != domain.OutcomeFailed {
		t.Fatalf("outcome = %s, want failed", first.Outcome)
	}
	if first.AgentID == nil || *first.AgentID != agents[0] {
		t.Fatalf("got agent %v, want %s", first.AgentID, agents[0])
	}

	// Position was restored, so the same agent is offered the next call.
	second := dispatchOnce(t, svc, instanceID)
	if second.Outcome != domain.OutcomeDispatched {
		t.Fatalf("second outcome = %s, want dispatched", second.Outcome)
	}
	if second.AgentID == nil || *second.AgentID != agents[0] {
		t.Fatalf("second dispatch got agent %v, want %s", second.AgentID, agents[0])
	}
}

func TestDispatchConcurrentClaimsPickDistinctAgents(t *testing.T) {
	store := memory.NewQueueStore()
	instanceID := uuid.New()
	const workers = 3
	enroll(t, store, instanceID, workers)

	gw := &scriptedGateway{
		entered: make(chan struct{}, workers),
		release: make(chan struct{}),
	}
	svc := newCoordinator(t, store, gw, Options{RequeueOnFailure: true})

	type outcome struct {
		result *Result
		err    error
	}
	results := make(chan outcome, workers)
	for i := 0; i < workers; i++ {
		go func() {
			result, err := svc.Dispatch(context.Background(), Input{
				InstanceID:     instanceID,
				ContactAddress: "15551234567",
			})
			results <- outcome{result: result, err: err}
		}()
	}

	// Hold the gateway until all three dispatches have claimed an agent,
	// so the claims genuinely overlap.
	for i := 0; i < workers; i++ {
		<-gw.entered
	}
	close(gw.release)

	seen := make(map[uuid.UUID]bool)
	for i := 0; i < workers; i++ {
		out := <-results
		if out.err != nil {
			t.Fatalf("dispatch: %v", out.err)
		}
		result := out.result
		if result.Outcome != domain.OutcomeDispatched {
			t.Fatalf("outcome = %s, want dispatched", result.Outcome)
		}
		if result.AgentID == nil {
			t.Fatal("dispatched result missing agent")
		}
		if seen[*result.AgentID] {
			t.Fatalf("agent %s was double-booked", result.AgentID)
		}
		seen[*result.AgentID] = true
	}
}

type conflictStore struct {
	*memory.QueueStore
	claims int32
}

func (s *conflictStore) Claim(ctx context.Context, instanceID uuid.UUID) (*repository.Claim, error) {
	atomic.AddInt32(&s.claims, 1)
	return nil, repository.ErrConflict
}

func TestDispatchClaimConflictExhaustsRetryBudget(t *testing.T) {
	store := &conflictStore{QueueStore: memory.NewQueueStore()}
	instanceID := uuid.New()
	enroll(t, store.QueueStore, instanceID, 1)

	svc := newCoordinator(t, store, &scriptedGateway{}, Options{RequeueOnFailure: true, ClaimMaxRetries: 2})

	result := dispatchOnce(t, svc, instanceID)
	if result.Outcome != domain.OutcomeFailed {
		t.Fatalf("outcome = %s, want failed", result.Outcome)
	}
	if result.Failure != domain.FailureConcurrencyConflict {
		t.Fatalf("failure = %s, want concurrency_conflict", result.Failure)
	}
	if got := atomic.LoadInt32(&store.claims); got != 2 {
		t.Fatalf("claim attempts = %d, want 2", got)
	}
}

func TestDispatchTracksServedAgents(t *testing.T) {
	store := memory.NewQueueStore()
	instanceID := uuid.New()
	agents := enroll(t, store, instanceID, 2)
	svc := newCoordinator(t, store, &scriptedGateway{}, Options{RequeueOnFailure: true})

	dispatchOnce(t, svc, instanceID)

	entries, err := store.List(context.Background(), instanceID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, entry := range entries {
		if entry.AgentID != agents[0] {
			continue
		}
		if entry.CallsReceived != 1 {
			t.Fatalf("calls received = %d, want 1", entry.CallsReceived)
		}
		if entry.LastServedAt == nil {
			t.Fatal("last served timestamp not set")
		}
		return
	}
	t.Fatalf("served agent %s not found in queue", agents[0])
}

func TestDispatchFairnessOverManyCalls(t *testing.T) {
	store := memory.NewQueueStore()
	instanceID := uuid.New()
	const agentCount = 4
	const calls = 26
	enroll(t, store, instanceID, agentCount)
	svc := newCoordinator(t, store, &scriptedGateway{}, Options{RequeueOnFailure: true})

	counts := make(map[uuid.UUID]int)
	for i := 0; i < calls; i++ {
		result := dispatchOnce(t, svc, instanceID)
		counts[*result.AgentID]++
	}

	// 26 calls over 4 agents: everybody gets 6 or 7.
	for agentID, count := range counts {
		if count < calls/agentCount || count > calls/agentCount+1 {
			t.Errorf("agent %s served %d calls, want %d or %d", agentID, count, calls/agentCount, calls/agentCount+1)
		}
	}
}
