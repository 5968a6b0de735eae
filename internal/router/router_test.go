package router

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebridge/orchestrator/internal/intent"
)

func TestDefaultTable_EmergencyHasShortestDeadlines(t *testing.T) {
	table := NewDefaultTable()
	emergency := table.Lookup(intent.MedicalEmergency)
	booking := table.Lookup(intent.AppointmentBooking)

	assert.Less(t, emergency.HardDeadline, booking.HardDeadline)
	assert.True(t, emergency.RequiresAgent)
}

func TestDefaultTable_GeneralInfoDispatchesToKnowledgeBase(t *testing.T) {
	table := NewDefaultTable()
	route := table.Lookup(intent.GeneralInfo)
	assert.True(t, route.RequiresAgent)
	assert.Equal(t, TopicGeneralInfoRequests, route.RequestTopic)
	assert.Equal(t, TopicGeneralInfoResponses, route.ResponseTopic)
}

func TestDefaultTable_LookupUnknownFallsBackToGeneral(t *testing.T) {
	table := NewDefaultTable()
	route := table.Lookup(intent.Intent("made_up_intent"))
	assert.Equal(t, intent.GeneralInfo, route.Intent)
}

func TestLoadFromFile_MissingFileUsesDefaults(t *testing.T) {
	table, err := LoadFromFile(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	route := table.Lookup(intent.AppointmentBooking)
	assert.Equal(t, TopicAppointmentRequests, route.RequestTopic)
}

func TestLoadFromFile_OverridesPlaceholder(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent_topics.yaml")
	yaml := `routes:
  - intent: appointment_booking
    placeholder: "Custom placeholder"
    soft_deadline_ms: 1000
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	table, err := LoadFromFile(path)
	require.NoError(t, err)

	route := table.Lookup(intent.AppointmentBooking)
	assert.Equal(t, "Custom placeholder", route.Placeholder)
	assert.Equal(t, TopicAppointmentRequests, route.RequestTopic, "unspecified fields keep their default")
}
