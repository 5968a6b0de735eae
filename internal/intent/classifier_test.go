package intent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebridge/orchestrator/internal/llm"
	"github.com/carebridge/orchestrator/internal/prompts"
)

func TestRuleMatcher_EmergencyBeatsBooking(t *testing.T) {
	m := NewRuleMatcher()
	result, ok := m.Match("I need to book an appointment, I have chest pain")
	require.True(t, ok)
	assert.Equal(t, MedicalEmergency, result.Intent)
}

func TestRuleMatcher_Booking(t *testing.T) {
	m := NewRuleMatcher()
	result, ok := m.Match("I'd like to book an appointment for next week")
	require.True(t, ok)
	assert.Equal(t, AppointmentBooking, result.Intent)
	assert.Equal(t, ConfidencePattern, result.Confidence)
}

func TestRuleMatcher_NoMatch(t *testing.T) {
	m := NewRuleMatcher()
	_, ok := m.Match("what's the weather like today")
	assert.False(t, ok)
}

type stubProvider struct {
	content string
	err     error
}

func (s *stubProvider) Generate(ctx context.Context, messages []llm.Message) (*llm.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &llm.Result{Content: s.content, Provider: "primary"}, nil
}

func newPromptRegistry(t *testing.T) *prompts.Registry {
	t.Helper()
	reg := prompts.NewRegistry()
	loader := prompts.NewLoader("", prompts.Defaults())
	require.NoError(t, loader.Reload(reg))
	return reg
}

func TestClassifier_UsesPatternBeforeLLM(t *testing.T) {
	c := NewClassifier(Config{Provider: &stubProvider{content: "general_info"}, Prompts: newPromptRegistry(t)})
	result := c.Classify(context.Background(), "I want to book an appointment", "en")
	assert.Equal(t, AppointmentBooking, result.Intent)
	assert.Equal(t, SourcePattern, result.Source)
}

func TestClassifier_FallsBackToLLM(t *testing.T) {
	c := NewClassifier(Config{Provider: &stubProvider{content: "pre_admission"}, Prompts: newPromptRegistry(t)})
	result := c.Classify(context.Background(), "what should I bring with me", "en")
	assert.Equal(t, PreAdmission, result.Intent)
	assert.Equal(t, SourceLLMPrimary, result.Source)
}

func TestClassifier_DefaultsWhenLLMFails(t *testing.T) {
	c := NewClassifier(Config{Provider: &stubProvider{err: assertError{}}, Prompts: newPromptRegistry(t)})
	result := c.Classify(context.Background(), "something entirely unrelated", "en")
	assert.Equal(t, GeneralInfo, result.Intent)
	assert.Equal(t, SourceDefault, result.Source)
	assert.Equal(t, ConfidenceDefault, result.Confidence)
}

func TestClassifier_NoProviderDefaultsAfterRules(t *testing.T) {
	c := NewClassifier(Config{})
	result := c.Classify(context.Background(), "something entirely unrelated", "en")
	assert.Equal(t, GeneralInfo, result.Intent)
	assert.Equal(t, SourceDefault, result.Source)
}

func TestClassifier_CachesResult(t *testing.T) {
	provider := &stubProvider{content: "pre_admission"}
	c := NewClassifier(Config{Provider: provider, Prompts: newPromptRegistry(t)})

	first := c.Classify(context.Background(), "what should I bring with me", "en")
	require.Equal(t, SourceLLMPrimary, first.Source)

	second := c.Classify(context.Background(), "what should I bring with me", "en")
	assert.Equal(t, SourceCache, second.Source)
	assert.Equal(t, PreAdmission, second.Intent)
}

type assertError struct{}

func (assertError) Error() string { return "stub provider error" }
