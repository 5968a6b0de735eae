package prompts

// Defaults returns the built-in prompt set shipped in the binary. A prompts
// directory on disk (see Loader) can override any of these by name without
// needing to supply all of them.
func Defaults() map[string]*Template {
	templates := []*Template{
		{
			Name:    "system_prompt",
			Version: "v1",
			Enabled: true,
			Body: `You are the CareBridge conversational assistant. Respond in {{.Language}} when possible.
Be concise, empathetic, and defer concrete scheduling or medical actions to the
agent workflows available to you; never promise an outcome an agent hasn't confirmed.`,
		},
		{
			Name:    "intent_recognition",
			Version: "v1",
			Enabled: true,
			Body: `Classify the following user message into exactly one of these intents:
appointment_booking, appointment_modify, medical_emergency, post_discharge, pre_admission, general_info.

Respond with only the intent label, nothing else.

Message: {{.Message}}`,
		},
		{
			Name:    "processing_placeholder",
			Version: "v1",
			Enabled: true,
			Body:    `One moment, I'm working on that for you.`,
		},
	}

	out := make(map[string]*Template, len(templates))
	for _, t := range templates {
		out[t.Name] = t
	}
	return out
}
