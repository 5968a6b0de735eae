package intent

import (
	"regexp"
	"strings"
)

// rule is one entry in the ordered pattern table: if any of its keywords or
// its regex matches the normalized input, Intent is the candidate result.
// Rules are evaluated in table order and the first match wins, so more
// specific/urgent intents (medical_emergency) must be listed ahead of more
// general ones (appointment_booking) that share vocabulary with them.
type rule struct {
	Intent   Intent
	Keywords []string
	Pattern  *regexp.Regexp
}

// RuleMatcher is Layer 1 of the classification chain: zero-latency,
// keyword/regex based, handling the bulk of traffic without ever calling an
// LLM. Domain-agnostic structurally, but the table itself is English
// healthcare-scheduling vocabulary.
type RuleMatcher struct {
	rules []rule
}

// NewRuleMatcher builds the matcher with the compiled-in default rule table.
// Emergency detection is ordered first since its keywords ("chest pain",
// "can't breathe") must never be shadowed by a booking-intent match on a
// shared word like "need".
func NewRuleMatcher() *RuleMatcher {
	return &RuleMatcher{
		rules: []rule{
			{
				Intent: MedicalEmergency,
				Keywords: []string{
					"emergency", "can't breathe", "cannot breathe", "chest pain",
					"severe bleeding", "unconscious", "overdose", "stroke",
					"heart attack", "suicidal", "not breathing",
				},
				Pattern: regexp.MustCompile(`\b(911|999|112)\b`),
			},
			{
				Intent: AppointmentModify,
				Keywords: []string{
					"reschedule", "cancel my appointment", "cancel appointment",
					"change my appointment", "move my appointment", "postpone",
				},
				Pattern: regexp.MustCompile(`(?i)\b(cancel|resched\w*|postpone)\b.*\bappointment\b`),
			},
			{
				Intent: AppointmentBooking,
				Keywords: []string{
					"book an appointment", "schedule an appointment", "make an appointment",
					"see a doctor", "book a visit", "need an appointment", "set up an appointment",
				},
				Pattern: regexp.MustCompile(`(?i)\b(book|schedule|make)\b.*\bappointment\b`),
			},
			{
				Intent: PostDischarge,
				Keywords: []string{
					"discharge", "discharged", "after my surgery", "post-op", "post op",
					"recovery at home", "wound care", "follow-up after discharge",
				},
			},
			{
				Intent: PreAdmission,
				Keywords: []string{
					"before my surgery", "pre-admission", "pre admission", "what to bring",
					"admission instructions", "fasting instructions", "before admission",
				},
			},
		},
	}
}

// Match returns a Result with SourcePattern if any rule fires, or
// (Result{}, false) if nothing matched.
func (m *RuleMatcher) Match(input string) (Result, bool) {
	normalized := strings.ToLower(strings.TrimSpace(input))
	if normalized == "" {
		return Result{}, false
	}

	for _, r := range m.rules {
		if matchesKeyword(normalized, r.Keywords) || (r.Pattern != nil && r.Pattern.MatchString(normalized)) {
			return Result{Intent: r.Intent, Confidence: ConfidencePattern, Source: SourcePattern}, true
		}
	}
	return Result{}, false
}

func matchesKeyword(normalized string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(normalized, kw) {
			return true
		}
	}
	return false
}
