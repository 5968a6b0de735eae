package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebridge/orchestrator/internal/bus"
	"github.com/carebridge/orchestrator/internal/conversation"
	"github.com/carebridge/orchestrator/internal/correlation"
	orchintent "github.com/carebridge/orchestrator/internal/intent"
	"github.com/carebridge/orchestrator/internal/llm"
	"github.com/carebridge/orchestrator/internal/metrics"
	"github.com/carebridge/orchestrator/internal/prompts"
	"github.com/carebridge/orchestrator/internal/push"
	"github.com/carebridge/orchestrator/internal/router"
	"github.com/carebridge/orchestrator/internal/session"
)

func newTestServer(t *testing.T) (*Server, session.Store) {
	t.Helper()

	promptReg := prompts.NewRegistry()
	for _, tmpl := range prompts.Defaults() {
		promptReg.Register(tmpl)
	}

	store := session.NewMemoryStore(time.Hour)
	corrReg := correlation.New(nil)
	engine := conversation.New(conversation.Config{
		Sessions:             store,
		Classifier:           orchintent.NewClassifier(orchintent.Config{}),
		Routes:               router.NewDefaultTable(),
		Providers:            llm.NewRegistry(nil, llm.RegistryOption{Provider: llm.NewMockProvider("primary", 0)}),
		Prompts:              promptReg,
		Bus:                  bus.NewMemoryBus(),
		Correlation:          corrReg,
		Push:                 push.NewHub(nil),
		Metrics:              metrics.New(metrics.DefaultConfig()),
		DispatchFlushTimeout: time.Second,
	})

	srv := NewServer(Deps{
		Engine:      engine,
		Store:       store,
		Push:        push.NewHub(nil),
		Metrics:     metrics.New(metrics.DefaultConfig()),
		Correlation: corrReg,
		Mode:        "test",
	})
	return srv, store
}

func doRequest(srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	var r *http.Request
	if body != nil {
		b, _ := json.Marshal(body)
		r = httptest.NewRequest(method, path, bytes.NewReader(b))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, r)
	return rec
}

func TestHandleChat_ReturnsOKForValidRequest(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(srv, http.MethodPost, "/chat", conversation.ChatRequest{
		UserID:  "u1",
		Message: "what are your visiting hours?",
	})

	require.Equal(t, http.StatusOK, rec.Code)

	var resp conversation.ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "general_info", resp.Intent)
	assert.NotEmpty(t, resp.SessionID)
}

func TestHandleChat_RejectsMissingUserID(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(srv, http.MethodPost, "/chat", conversation.ChatRequest{Message: "hello"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body map[string]map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "VALIDATION_ERROR", body["error"]["code"])
}

func TestSessionLifecycle_GetListDelete(t *testing.T) {
	srv, store := newTestServer(t)

	chatRec := doRequest(srv, http.MethodPost, "/chat", conversation.ChatRequest{
		UserID:  "u1",
		Message: "what are your visiting hours?",
	})
	var chatResp conversation.ChatResponse
	require.NoError(t, json.Unmarshal(chatRec.Body.Bytes(), &chatResp))

	getRec := doRequest(srv, http.MethodGet, "/session/"+chatResp.SessionID, nil)
	require.Equal(t, http.StatusOK, getRec.Code)
	var view sessionView
	require.NoError(t, json.Unmarshal(getRec.Body.Bytes(), &view))
	assert.Equal(t, "u1", view.UserID)
	require.Len(t, view.History, 2)

	listRec := doRequest(srv, http.MethodGet, "/sessions?user_id=u1", nil)
	require.Equal(t, http.StatusOK, listRec.Code)
	var listBody map[string][]string
	require.NoError(t, json.Unmarshal(listRec.Body.Bytes(), &listBody))
	assert.Contains(t, listBody["session_ids"], chatResp.SessionID)

	delRec := doRequest(srv, http.MethodDelete, "/session/"+chatResp.SessionID, nil)
	require.Equal(t, http.StatusOK, delRec.Code)
	var delBody map[string]any
	require.NoError(t, json.Unmarshal(delRec.Body.Bytes(), &delBody))
	assert.Equal(t, chatResp.SessionID, delBody["session_id"])
	assert.Equal(t, true, delBody["cleared"])

	_, ok, err := store.Get(context.Background(), chatResp.SessionID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHandleGetSession_MissingReturns404(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(srv, http.MethodGet, "/session/does-not-exist", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleListSessions_RequiresUserID(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(srv, http.MethodGet, "/sessions", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleHealth_ReportsOK(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(srv, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, serviceName, body["service"])
	assert.NotEmpty(t, body["timestamp"])
	assert.Equal(t, "test", body["mode"])
}

func TestMetricsEndpoint_ServesPrometheusExposition(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(srv, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "carebridge_orchestrator_sessions_active")
}
