// Package conversation implements the orchestrator's request-handling core:
// it resolves a session, classifies intent, and either short-circuits on a
// medical emergency or dispatches a worker-agent task, returning a
// provisional acknowledgment while the dispatch resolves asynchronously over
// the message bus and push channel.
package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/carebridge/orchestrator/internal/bus"
	"github.com/carebridge/orchestrator/internal/correlation"
	orcherrors "github.com/carebridge/orchestrator/internal/errors"
	"github.com/carebridge/orchestrator/internal/intent"
	"github.com/carebridge/orchestrator/internal/llm"
	"github.com/carebridge/orchestrator/internal/metrics"
	"github.com/carebridge/orchestrator/internal/prompts"
	"github.com/carebridge/orchestrator/internal/push"
	"github.com/carebridge/orchestrator/internal/router"
	"github.com/carebridge/orchestrator/internal/session"
)

// defaultMaxMessageLength is the hard cap on an incoming chat message used
// when Config.MaxMessageChars is left at zero.
const defaultMaxMessageLength = 2000

// historyTurnsForDispatch is how many trailing user/assistant turns are
// attached to a dispatched task's payload — enough for the agent to have
// context without shipping the whole session history over the bus.
const historyTurnsForDispatch = 3

// Config wires every component the engine orchestrates.
type Config struct {
	Sessions             session.Store
	Classifier           *intent.Classifier
	Routes               *router.Table
	Providers            *llm.Registry
	Prompts              *prompts.Registry
	Bus                  bus.Bus
	Correlation          *correlation.Registry
	Push                 *push.Hub
	Metrics              *metrics.Exporter
	Logger               *slog.Logger
	DispatchFlushTimeout time.Duration // how long Dispatch itself may take before it's treated as ErrDispatchTimeout
	MaxMessageChars      int           // hard cap on an incoming chat message; defaults to defaultMaxMessageLength
	SweepInterval        time.Duration // correlation-registry timeout sweep cadence; correlation.Registry default if zero
}

// Engine is the conversation orchestration core.
type Engine struct {
	sessions      session.Store
	classifier    *intent.Classifier
	routes        *router.Table
	providers     *llm.Registry
	prompts       *prompts.Registry
	bus           bus.Bus
	correlation   *correlation.Registry
	push          *push.Hub
	metrics       *metrics.Exporter
	logger        *slog.Logger
	flushTimeout  time.Duration
	maxMsgChars   int
	sweepInterval time.Duration
}

// New builds an Engine from cfg, defaulting DispatchFlushTimeout to 2s.
func New(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.DispatchFlushTimeout <= 0 {
		cfg.DispatchFlushTimeout = 2 * time.Second
	}
	if cfg.MaxMessageChars <= 0 {
		cfg.MaxMessageChars = defaultMaxMessageLength
	}
	return &Engine{
		sessions:      cfg.Sessions,
		classifier:    cfg.Classifier,
		routes:        cfg.Routes,
		providers:     cfg.Providers,
		prompts:       cfg.Prompts,
		bus:           cfg.Bus,
		correlation:   cfg.Correlation,
		push:          cfg.Push,
		metrics:       cfg.Metrics,
		logger:        cfg.Logger,
		flushTimeout:  cfg.DispatchFlushTimeout,
		maxMsgChars:   cfg.MaxMessageChars,
		sweepInterval: cfg.SweepInterval,
	}
}

// HandleChat runs one full conversation turn: validate, classify, and either
// short-circuit on a medical emergency or dispatch to the routed worker
// agent, returning a provisional acknowledgment.
func (e *Engine) HandleChat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	start := time.Now()

	if err := e.validateChatRequest(req); err != nil {
		return ChatResponse{}, err
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	language := "en"
	if req.Context != nil && req.Context.Language != "" {
		language = req.Context.Language
	}

	if _, ok, err := e.sessions.Get(ctx, sessionID); err == nil && !ok {
		if err := e.sessions.Put(ctx, session.New(sessionID, req.UserID)); err != nil {
			e.logger.Warn("conversation: failed to create session", "session_id", sessionID, "error", err)
		}
	}

	result := e.classifier.Classify(ctx, req.Message, language)
	if e.metrics != nil {
		e.metrics.RecordIntent(string(result.Intent), string(result.Source), time.Since(start))
	}

	userMsg := session.Message{
		Timestamp: time.Now().UTC(),
		Role:      session.RoleUser,
		Content:   req.Message,
		Metadata:  session.Metadata{Intent: string(result.Intent), Confidence: float32(result.Confidence)},
	}

	var (
		resp ChatResponse
		err  error
	)
	switch {
	case result.Intent == intent.MedicalEmergency:
		resp, err = e.handleEmergency(ctx, sessionID, userMsg, result)
	default:
		resp, err = e.handleDispatch(ctx, sessionID, req, userMsg, result, e.routes.Lookup(result.Intent))
	}

	resp.ProcessingTimeMs = time.Since(start).Milliseconds()
	if e.metrics != nil {
		e.metrics.RecordTurn(string(result.Intent), dispatchPath(resp), time.Since(start), err == nil)
	}
	return resp, err
}

func dispatchPath(resp ChatResponse) string {
	if resp.CorrelationID != "" {
		return "agent"
	}
	return "direct"
}

func (e *Engine) validateChatRequest(req ChatRequest) error {
	if len(req.UserID) == 0 || len(req.UserID) > 100 {
		return orcherrors.New(orcherrors.KindValidation, fmt.Errorf("user_id must be 1-100 characters"))
	}
	if len(req.Message) == 0 || len(req.Message) > e.maxMsgChars {
		return orcherrors.New(orcherrors.KindValidation, fmt.Errorf("message must be 1-%d characters", e.maxMsgChars))
	}
	return nil
}

// handleEmergency short-circuits all agent dispatch per the emergency
// override: no LLM call, a fixed safety response, and an immediate
// human-handoff flag.
func (e *Engine) handleEmergency(ctx context.Context, sessionID string, userMsg session.Message, result intent.Result) (ChatResponse, error) {
	const safetyResponse = "This sounds like it may be a medical emergency. Please call your local emergency number " +
		"right away, or go to the nearest emergency room. If you can, stay on the line with emergency services " +
		"until help arrives."

	assistantMsg := session.Message{
		Timestamp: time.Now().UTC(),
		Role:      session.RoleAssistant,
		Content:   safetyResponse,
		Metadata: session.Metadata{
			Intent: string(result.Intent),
			Status: session.StatusCompleted,
		},
	}

	degraded := false
	if err := e.sessions.AppendMessages(ctx, sessionID, userMsg, assistantMsg); err != nil {
		e.logger.Warn("conversation: failed to persist emergency turn", "session_id", sessionID, "error", err)
		degraded = true
	}

	return ChatResponse{
		Response:             safetyResponse,
		SessionID:            sessionID,
		Intent:               string(result.Intent),
		RequiresHumanHandoff: true,
		SuggestedActions:     []string{"call_emergency_services"},
		ConfidenceScore:      float32(result.Confidence),
		Degraded:             degraded,
	}, nil
}

// handleDispatch appends the user turn and a provisional assistant
// placeholder atomically, dispatches the task to the routed agent, and
// returns a provisional acknowledgment. If the dispatch call itself cannot
// be flushed to the bus within flushTimeout, it synthesizes an inline error
// completion instead (the ErrDispatchTimeout fallback).
func (e *Engine) handleDispatch(ctx context.Context, sessionID string, req ChatRequest, userMsg session.Message, result intent.Result, route router.Route) (ChatResponse, error) {
	correlationID := uuid.NewString()
	now := time.Now().UTC()

	placeholderMsg := session.Message{
		Timestamp: now,
		Role:      session.RoleAssistant,
		Content:   route.Placeholder,
		Metadata: session.Metadata{
			Intent:        string(result.Intent),
			Status:        session.StatusPending,
			CorrelationID: correlationID,
		},
	}

	degraded := false
	if err := e.sessions.AppendMessages(ctx, sessionID, userMsg, placeholderMsg); err != nil {
		e.logger.Warn("conversation: failed to persist dispatch turn", "session_id", sessionID, "error", err)
		degraded = true
	}

	payload := map[string]any{
		"message": req.Message,
		"history": historyPayload(e.lastTurns(ctx, sessionID)),
	}
	if req.Context != nil {
		payload["context"] = req.Context
	}

	taskReq := bus.TaskRequest{
		Type:          bus.MessageTypeTaskRequest,
		CorrelationID: correlationID,
		SessionID:     sessionID,
		TaskType:      route.TaskType,
		Payload:       payload,
		DispatchedAt:  now,
		Deadline:      now.Add(route.HardDeadline),
	}

	flushCtx, cancel := context.WithTimeout(ctx, e.flushTimeout)
	dispatchErr := e.bus.Dispatch(flushCtx, route.RequestTopic, taskReq)
	cancel()

	if dispatchErr != nil {
		return e.handleDispatchTimeout(ctx, sessionID, correlationID, result, route, degraded)
	}

	if e.metrics != nil {
		e.metrics.RecordDispatch(string(route.Agent), "dispatched")
	}

	done := e.correlation.Register(correlationID, sessionID, now.Add(route.HardDeadline))
	go e.awaitOutcome(sessionID, correlationID, route, done)

	return ChatResponse{
		Response:             route.Placeholder,
		SessionID:            sessionID,
		Intent:               string(result.Intent),
		CorrelationID:        correlationID,
		RequiresHumanHandoff: false,
		SuggestedActions:     []string{"wait_for_agent_response"},
		ConfidenceScore:      float32(result.Confidence),
		Degraded:             degraded,
	}, nil
}

// handleDispatchTimeout synthesizes an inline error completion when the bus
// itself could not accept the dispatch within the flush deadline. The reply
// is marked degraded only if a session-store write for this turn failed.
func (e *Engine) handleDispatchTimeout(ctx context.Context, sessionID, correlationID string, result intent.Result, route router.Route, degraded bool) (ChatResponse, error) {
	e.logger.Warn("conversation: dispatch flush timed out", "session_id", sessionID, "topic", route.RequestTopic)
	if e.metrics != nil {
		e.metrics.RecordDispatch(string(route.Agent), "error")
	}

	const errResponse = "We're having trouble reaching that service right now. A member of our team has been notified."

	err := e.sessions.ResolvePending(ctx, sessionID, correlationID, func(m *session.Message) {
		m.Content = errResponse
		m.Metadata.Status = session.StatusError
	})
	if err != nil {
		e.logger.Warn("conversation: failed to mark dispatch timeout", "session_id", sessionID, "error", err)
		degraded = true
	}

	return ChatResponse{
		Response:             errResponse,
		SessionID:            sessionID,
		Intent:               string(result.Intent),
		CorrelationID:        correlationID,
		RequiresHumanHandoff: true,
		SuggestedActions:     []string{"contact_support"},
		ConfidenceScore:      float32(result.Confidence),
		Degraded:             degraded,
	}, nil
}

// awaitOutcome blocks on a single dispatch's correlation channel and applies
// the eventual outcome (success, agent-reported error, or sweeper timeout)
// to the session, pushing the result to any live connection.
func (e *Engine) awaitOutcome(sessionID, correlationID string, route router.Route, done <-chan correlation.Outcome) {
	outcome, ok := <-done
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	details := outcomeDetails(outcome)

	err := e.sessions.ResolvePending(ctx, sessionID, correlationID, func(m *session.Message) {
		m.Content = details.Content
		if outcome.Success {
			m.Metadata.Status = session.StatusCompleted
		} else {
			m.Metadata.Status = session.StatusError
		}
	})
	if err != nil {
		e.logger.Warn("conversation: failed to apply dispatch outcome", "session_id", sessionID, "correlation_id", correlationID, "error", err)
	}

	if e.metrics != nil {
		status := "success"
		if !outcome.Success {
			status = "error"
			var classified *orcherrors.Classified
			if orcherrors.As(outcome.Err, &classified) && classified.Kind == orcherrors.KindAgentTimeout {
				status = "timeout"
				e.metrics.RecordDispatchTimeout(string(route.Agent), "hard")
			}
		}
		e.metrics.RecordDispatch(string(route.Agent), status)
	}

	pushErr := e.push.Send(sessionID, push.Event{
		Type: push.EventTypeFinalResponse,
		Data: push.EventData{
			SessionID:            sessionID,
			Response:             details.Content,
			Intent:               string(route.Intent),
			RequiresHumanHandoff: details.RequiresHumanHandoff,
			SuggestedActions:     details.SuggestedActions,
			Sources:              details.Sources,
			CorrelationID:        correlationID,
		},
		Timestamp: time.Now().UTC(),
	})
	if pushErr != nil {
		if e.metrics != nil {
			e.metrics.RecordPushDropped(push.EventTypeFinalResponse)
		}
	} else if e.metrics != nil {
		e.metrics.RecordPushDelivered(push.EventTypeFinalResponse)
	}
}

// dispatchOutcome is the normalized shape of a resolved correlation's result,
// extracted from the agent's task-response result object.
type dispatchOutcome struct {
	Content              string
	RequiresHumanHandoff bool
	SuggestedActions     []string
	Sources              []string
}

func outcomeDetails(outcome correlation.Outcome) dispatchOutcome {
	if !outcome.Success {
		return dispatchOutcome{
			Content:              "We weren't able to complete that request in time. A member of our team has been notified.",
			RequiresHumanHandoff: true,
			SuggestedActions:     []string{"contact_support"},
		}
	}

	content := "Your request has been completed."
	if text, ok := outcome.Result["response"].(string); ok && text != "" {
		content = text
	}

	var requiresHandoff bool
	if v, ok := outcome.Result["requires_human_handoff"].(bool); ok {
		requiresHandoff = v
	}

	return dispatchOutcome{
		Content:              content,
		RequiresHumanHandoff: requiresHandoff,
		SuggestedActions:     stringSlice(outcome.Result["suggested_actions"]),
		Sources:              stringSlice(outcome.Result["sources"]),
	}
}

// stringSlice coerces a decoded JSON value (typically []any of strings) into
// a []string, skipping any non-string elements.
func stringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// lastTurns returns the trailing conversation turns used for a dispatched
// task's payload, trimmed to historyTurnsForDispatch.
func (e *Engine) lastTurns(ctx context.Context, sessionID string) []session.Message {
	s, ok, err := e.sessions.Get(ctx, sessionID)
	if err != nil || !ok {
		return nil
	}
	return s.LastNTurns(historyTurnsForDispatch)
}

func historyPayload(turns []session.Message) []map[string]string {
	out := make([]map[string]string, 0, len(turns))
	for _, t := range turns {
		out = append(out, map[string]string{"role": string(t.Role), "content": t.Content})
	}
	return out
}
