// Package intent classifies an incoming user message into one of a fixed
// set of conversational intents, using an ordered chain of cheap-to-expensive
// strategies: compiled keyword/regex rules, then an LLM pass (primary
// provider, then fallback provider), finally a default when everything else
// is inconclusive.
package intent

// Intent is one of the fixed labels the classifier can assign.
type Intent string

const (
	AppointmentBooking Intent = "appointment_booking"
	AppointmentModify  Intent = "appointment_modify"
	MedicalEmergency   Intent = "medical_emergency"
	PostDischarge      Intent = "post_discharge"
	PreAdmission       Intent = "pre_admission"
	GeneralInfo        Intent = "general_info"
	Unknown            Intent = "unknown"
)

// Source records which stage of the classification chain produced a Result,
// primarily for confidence-scoring and observability.
type Source string

const (
	SourcePattern     Source = "pattern"
	SourceLLMPrimary  Source = "llm_primary"
	SourceLLMFallback Source = "llm_fallback"
	SourceDefault     Source = "default"
	SourceCache       Source = "cache"
)

// Confidence values assigned per source, per the classification design:
// pattern matches are treated as certain, LLM passes degrade with each
// failover step, and the default carries no confidence at all.
const (
	ConfidencePattern     float32 = 1.0
	ConfidenceLLMPrimary  float32 = 0.9
	ConfidenceLLMFallback float32 = 0.7
	ConfidenceDefault     float32 = 0.0
)

// Result is the outcome of classifying one message.
type Result struct {
	Intent     Intent
	Confidence float32
	Source     Source
}
