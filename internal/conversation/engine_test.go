package conversation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebridge/orchestrator/internal/bus"
	"github.com/carebridge/orchestrator/internal/correlation"
	orcherrors "github.com/carebridge/orchestrator/internal/errors"
	"github.com/carebridge/orchestrator/internal/llm"
	"github.com/carebridge/orchestrator/internal/metrics"
	"github.com/carebridge/orchestrator/internal/prompts"
	"github.com/carebridge/orchestrator/internal/push"
	"github.com/carebridge/orchestrator/internal/router"
	"github.com/carebridge/orchestrator/internal/session"

	orchintent "github.com/carebridge/orchestrator/internal/intent"
)

func newTestEngine(t *testing.T) (*Engine, *bus.MemoryBus, session.Store) {
	t.Helper()

	promptReg := prompts.NewRegistry()
	for _, tmpl := range prompts.Defaults() {
		promptReg.Register(tmpl)
	}

	providers := llm.NewRegistry(nil, llm.RegistryOption{Provider: llm.NewMockProvider("primary", 0)})

	memBus := bus.NewMemoryBus()
	store := session.NewMemoryStore(time.Hour)
	corrReg := correlation.New(nil)
	hub := push.NewHub(nil)

	e := New(Config{
		Sessions:             store,
		Classifier:           orchintent.NewClassifier(orchintent.Config{}),
		Routes:               router.NewDefaultTable(),
		Providers:            providers,
		Prompts:              promptReg,
		Bus:                  memBus,
		Correlation:          corrReg,
		Push:                 hub,
		Metrics:              metrics.New(metrics.DefaultConfig()),
		DispatchFlushTimeout: time.Second,
	})
	return e, memBus, store
}

func TestHandleChat_RejectsOverLongMessage(t *testing.T) {
	e, _, _ := newTestEngine(t)

	over := make([]byte, 2001)
	for i := range over {
		over[i] = 'a'
	}

	_, err := e.HandleChat(context.Background(), ChatRequest{UserID: "u1", Message: string(over)})
	require.Error(t, err)

	var classified *orcherrors.Classified
	require.True(t, orcherrors.As(err, &classified))
	assert.Equal(t, orcherrors.KindValidation, classified.Kind)
}

func TestHandleChat_EmergencyShortCircuits(t *testing.T) {
	e, _, store := newTestEngine(t)

	resp, err := e.HandleChat(context.Background(), ChatRequest{UserID: "u1", Message: "I have severe chest pain, can't breathe"})
	require.NoError(t, err)
	assert.Equal(t, "medical_emergency", resp.Intent)
	assert.True(t, resp.RequiresHumanHandoff)
	assert.Contains(t, resp.SuggestedActions, "call_emergency_services")
	assert.Empty(t, resp.CorrelationID)

	s, ok, err := store.Get(context.Background(), resp.SessionID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, s.History, 2)
	assert.Equal(t, session.StatusCompleted, s.History[1].Metadata.Status)
}

func TestHandleChat_GeneralInfoDispatchesToKnowledgeBase(t *testing.T) {
	e, memBus, store := newTestEngine(t)

	resp, err := e.HandleChat(context.Background(), ChatRequest{UserID: "u1", Message: "what are your visiting hours?"})
	require.NoError(t, err)
	assert.Equal(t, "general_info", resp.Intent)
	assert.NotEmpty(t, resp.CorrelationID)
	assert.Contains(t, resp.SuggestedActions, "wait_for_agent_response")

	s, ok, err := store.Get(context.Background(), resp.SessionID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, s.History, 2)
	assert.Equal(t, session.RoleAssistant, s.History[1].Role)
	assert.Equal(t, session.StatusPending, s.History[1].Metadata.Status)

	select {
	case req := <-memBus.Requests(router.TopicGeneralInfoRequests):
		assert.Equal(t, resp.CorrelationID, req.CorrelationID)
		assert.Equal(t, "knowledge_base.query", req.TaskType)
	case <-time.After(time.Second):
		t.Fatal("expected task request on general-info topic")
	}
}

func TestHandleChat_BookingDispatchesAndReturnsProvisional(t *testing.T) {
	e, memBus, store := newTestEngine(t)

	resp, err := e.HandleChat(context.Background(), ChatRequest{UserID: "u1", Message: "I'd like to book an appointment"})
	require.NoError(t, err)
	assert.Equal(t, "appointment_booking", resp.Intent)
	assert.NotEmpty(t, resp.CorrelationID)
	assert.Contains(t, resp.SuggestedActions, "wait_for_agent_response")

	s, ok, err := store.Get(context.Background(), resp.SessionID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, s.History, 2)
	assert.Equal(t, session.StatusPending, s.History[1].Metadata.Status)
	assert.Equal(t, resp.CorrelationID, s.History[1].Metadata.CorrelationID)

	select {
	case req := <-memBus.Requests(router.TopicAppointmentRequests):
		assert.Equal(t, resp.CorrelationID, req.CorrelationID)
		assert.Equal(t, "appointment.book", req.TaskType)
	case <-time.After(time.Second):
		t.Fatal("expected task request on scheduling topic")
	}
}

func TestHandleChat_DispatchOutcomeAppliedToSession(t *testing.T) {
	e, memBus, store := newTestEngine(t)

	resp, err := e.HandleChat(context.Background(), ChatRequest{UserID: "u1", Message: "reschedule my appointment please"})
	require.NoError(t, err)

	req := <-memBus.Requests(router.TopicAppointmentRequests)

	err = memBus.Publish(context.Background(), router.TopicAppointmentResponses, bus.TaskResponse{
		Type:          bus.MessageTypeTaskResponse,
		CorrelationID: req.CorrelationID,
		SessionID:     resp.SessionID,
		Status:        bus.StatusSuccess,
		Result:        map[string]any{"response": "Your appointment has been moved to Friday at 10am."},
		RespondedAt:   time.Now(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.bus.Subscribe(ctx, router.TopicAppointmentResponses, "orchestrator", "test-instance", e.handleAgentResponse)

	require.Eventually(t, func() bool {
		s, ok, err := store.Get(context.Background(), resp.SessionID)
		if err != nil || !ok {
			return false
		}
		idx := s.FindPendingByCorrelation(req.CorrelationID)
		return idx == -1 && len(s.History) == 2 && s.History[1].Metadata.Status == session.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDedupe_RemovesDuplicatesAndEmpties(t *testing.T) {
	out := dedupe([]string{"a", "b", "a", "", "c", "b"})
	assert.Equal(t, []string{"a", "b", "c"}, out)
}
