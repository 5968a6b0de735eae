package intent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"time"

	orchcache "github.com/carebridge/orchestrator/internal/cache"
	"github.com/carebridge/orchestrator/internal/llm"
	"github.com/carebridge/orchestrator/internal/prompts"
)

// llmGenerator is the subset of llm.Registry the classifier needs, narrowed
// for testability.
type llmGenerator interface {
	Generate(ctx context.Context, messages []llm.Message) (*llm.Result, error)
}

var validIntents = map[Intent]bool{
	AppointmentBooking: true,
	AppointmentModify:  true,
	MedicalEmergency:   true,
	PostDischarge:      true,
	PreAdmission:       true,
	GeneralInfo:        true,
}

// Classifier runs the full cache -> pattern -> LLM -> default chain.
type Classifier struct {
	rules    *RuleMatcher
	provider llmGenerator
	prompts  *prompts.Registry
	cache    *orchcache.LRUCache[string, Result]
	cacheTTL time.Duration
	logger   *slog.Logger
}

// Config configures a Classifier.
type Config struct {
	Provider  llmGenerator
	Prompts   *prompts.Registry
	RulesFile string // optional YAML keyword overlay, see LoadRuleMatcherFromFile
	CacheSize int
	CacheTTL  time.Duration
	Logger    *slog.Logger
}

// NewClassifier builds a Classifier. Provider and Prompts may be nil, in
// which case classification falls back to pattern matching and the default
// intent only — useful for tests and degraded-mode operation. An unreadable
// RulesFile falls back silently to the compiled-in rule table.
func NewClassifier(cfg Config) *Classifier {
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 500
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	rules, err := LoadRuleMatcherFromFile(cfg.RulesFile)
	if err != nil {
		cfg.Logger.Warn("intent: failed to load rules file, using compiled-in defaults", "error", err)
		rules = NewRuleMatcher()
	}
	return &Classifier{
		rules:    rules,
		provider: cfg.Provider,
		prompts:  cfg.Prompts,
		cache:    orchcache.New[string, Result](cfg.CacheSize, cfg.CacheTTL),
		cacheTTL: cfg.CacheTTL,
		logger:   cfg.Logger,
	}
}

// Classify returns the best-effort intent for message. It never returns an
// error: every stage that can fail degrades to the next, and the chain
// terminates in GeneralInfo at ConfidenceDefault.
func (c *Classifier) Classify(ctx context.Context, message, language string) Result {
	key := cacheKey(message)
	if cached, ok := c.cache.Get(key); ok {
		cached.Source = SourceCache
		return cached
	}

	if result, ok := c.rules.Match(message); ok {
		c.cache.Set(key, result, c.cacheTTL)
		return result
	}

	if c.provider != nil && c.prompts != nil {
		if result, ok := c.classifyWithLLM(ctx, message, language); ok {
			c.cache.Set(key, result, c.cacheTTL)
			return result
		}
	}

	result := Result{Intent: GeneralInfo, Confidence: ConfidenceDefault, Source: SourceDefault}
	c.cache.Set(key, result, c.cacheTTL)
	return result
}

func (c *Classifier) classifyWithLLM(ctx context.Context, message, language string) (Result, bool) {
	prompt, err := c.prompts.Render("intent_recognition", struct {
		Message  string
		Language string
	}{Message: message, Language: language})
	if err != nil {
		c.logger.Warn("intent: failed to render classification prompt", "error", err)
		return Result{}, false
	}

	resp, err := c.provider.Generate(ctx, []llm.Message{
		{Role: "system", Content: "You are an intent classification engine. Reply with a single label."},
		{Role: "user", Content: prompt},
	})
	if err != nil {
		c.logger.Warn("intent: llm classification failed", "error", err)
		return Result{}, false
	}

	label := Intent(strings.Trim(strings.ToLower(strings.TrimSpace(resp.Content)), ".,;:!?\"'`"))
	if !validIntents[label] {
		c.logger.Warn("intent: llm returned unrecognized label", "label", resp.Content)
		return Result{}, false
	}

	source := SourceLLMPrimary
	confidence := ConfidenceLLMPrimary
	if resp.Provider != "" && strings.Contains(strings.ToLower(resp.Provider), "fallback") {
		source = SourceLLMFallback
		confidence = ConfidenceLLMFallback
	}

	return Result{Intent: label, Confidence: confidence, Source: source}, true
}

func cacheKey(message string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(message))))
	return "intent:" + hex.EncodeToString(sum[:8])
}
