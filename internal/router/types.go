// Package router maps a classified Intent onto the concrete facts the
// message bus needs to dispatch a worker-agent task: which topics to use,
// what task type the agent expects, the deadlines to enforce, and the
// placeholder text shown to the user while the task is in flight. It does
// no I/O itself — the bus and conversation engine packages consume its
// output.
package router

import (
	"time"

	"github.com/carebridge/orchestrator/internal/intent"
)

// AgentType identifies which worker-agent pool handles a task.
type AgentType string

const (
	AgentScheduling AgentType = "scheduling"
	AgentClinical   AgentType = "clinical"
	AgentGeneral    AgentType = "general"
)

// Default message-bus topic names. general-info and appointment-agent are
// the two pairs named explicitly by the topic layout; clinical follows the
// same "<agent>-agent-{requests,responses}" convention.
const (
	TopicGeneralInfoRequests  = "general-info-requests"
	TopicGeneralInfoResponses = "general-info-responses"
	TopicAppointmentRequests  = "appointment-agent-requests"
	TopicAppointmentResponses = "appointment-agent-responses"
	TopicClinicalRequests     = "clinical-agent-requests"
	TopicClinicalResponses    = "clinical-agent-responses"
)

// Route is the dispatch descriptor produced for one classified intent.
type Route struct {
	Intent        intent.Intent
	Agent         AgentType
	TaskType      string
	RequestTopic  string
	ResponseTopic string
	SoftDeadline  time.Duration
	HardDeadline  time.Duration
	Placeholder   string
	RequiresAgent bool // every compiled-in route dispatches to an agent; an overlay could in principle add one that doesn't
}

// Table maps every Intent to its Route. Entries are keyed by intent so
// lookups are O(1); construction order doesn't carry dispatch priority the
// way the rule table's order does.
type Table struct {
	routes map[intent.Intent]Route
}

// NewDefaultTable returns the compiled-in routing table described by the
// orchestrator's agent topology: scheduling-related intents go to the
// scheduling agent pool, clinical ones to the clinical pool, and
// general_info resolves through the knowledge-base worker — every
// recognized intent dispatches over the bus, none is answered in-process.
func NewDefaultTable() *Table {
	t := &Table{routes: make(map[intent.Intent]Route)}

	t.routes[intent.AppointmentBooking] = Route{
		Intent:        intent.AppointmentBooking,
		Agent:         AgentScheduling,
		TaskType:      "appointment.book",
		RequestTopic:  TopicAppointmentRequests,
		ResponseTopic: TopicAppointmentResponses,
		SoftDeadline:  5 * time.Second,
		HardDeadline:  15 * time.Second,
		Placeholder:   "Looking into appointment availability for you.",
		RequiresAgent: true,
	}
	t.routes[intent.AppointmentModify] = Route{
		Intent:        intent.AppointmentModify,
		Agent:         AgentScheduling,
		TaskType:      "appointment.modify",
		RequestTopic:  TopicAppointmentRequests,
		ResponseTopic: TopicAppointmentResponses,
		SoftDeadline:  5 * time.Second,
		HardDeadline:  15 * time.Second,
		Placeholder:   "Updating your appointment now.",
		RequiresAgent: true,
	}
	t.routes[intent.MedicalEmergency] = Route{
		Intent:        intent.MedicalEmergency,
		Agent:         AgentClinical,
		TaskType:      "emergency.escalate",
		RequestTopic:  TopicClinicalRequests,
		ResponseTopic: TopicClinicalResponses,
		SoftDeadline:  2 * time.Second,
		HardDeadline:  5 * time.Second,
		Placeholder:   "This sounds urgent — connecting you to emergency guidance immediately.",
		RequiresAgent: true,
	}
	t.routes[intent.PostDischarge] = Route{
		Intent:        intent.PostDischarge,
		Agent:         AgentClinical,
		TaskType:      "discharge.followup",
		RequestTopic:  TopicClinicalRequests,
		ResponseTopic: TopicClinicalResponses,
		SoftDeadline:  5 * time.Second,
		HardDeadline:  15 * time.Second,
		Placeholder:   "Checking your post-discharge care plan.",
		RequiresAgent: true,
	}
	t.routes[intent.PreAdmission] = Route{
		Intent:        intent.PreAdmission,
		Agent:         AgentClinical,
		TaskType:      "admission.prepare",
		RequestTopic:  TopicClinicalRequests,
		ResponseTopic: TopicClinicalResponses,
		SoftDeadline:  5 * time.Second,
		HardDeadline:  15 * time.Second,
		Placeholder:   "Pulling up your pre-admission instructions.",
		RequiresAgent: true,
	}
	t.routes[intent.GeneralInfo] = Route{
		Intent:        intent.GeneralInfo,
		Agent:         AgentGeneral,
		TaskType:      "knowledge_base.query",
		RequestTopic:  TopicGeneralInfoRequests,
		ResponseTopic: TopicGeneralInfoResponses,
		SoftDeadline:  5 * time.Second,
		HardDeadline:  15 * time.Second,
		Placeholder:   "Looking that up for you.",
		RequiresAgent: true,
	}

	return t
}

// ApplyAgentDeadlines overrides the soft/hard deadline of every route
// except MedicalEmergency with soft and hard (a zero duration leaves that
// deadline untouched). The emergency route's deadlines stay compiled-in
// and deliberately tighter than the operational default, since loosening
// them to match routine-intent traffic would blunt the escalation path a
// medical emergency needs.
func (t *Table) ApplyAgentDeadlines(soft, hard time.Duration) {
	for i, r := range t.routes {
		if i == intent.MedicalEmergency {
			continue
		}
		if soft > 0 {
			r.SoftDeadline = soft
		}
		if hard > 0 {
			r.HardDeadline = hard
		}
		t.routes[i] = r
	}
}

// Lookup returns the Route for i, or the general_info route if i is
// unrecognized (a route table must never leave a classified intent
// undispatchable).
func (t *Table) Lookup(i intent.Intent) Route {
	if r, ok := t.routes[i]; ok {
		return r
	}
	return t.routes[intent.GeneralInfo]
}

// ResponseTopics returns every distinct response topic configured across
// agent-requiring routes, so a caller can subscribe once per topic rather
// than once per intent.
func (t *Table) ResponseTopics() []string {
	seen := make(map[string]struct{}, len(t.routes))
	var topics []string
	for _, r := range t.routes {
		if !r.RequiresAgent || r.ResponseTopic == "" {
			continue
		}
		if _, ok := seen[r.ResponseTopic]; ok {
			continue
		}
		seen[r.ResponseTopic] = struct{}{}
		topics = append(topics, r.ResponseTopic)
	}
	return topics
}
