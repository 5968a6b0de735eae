package router

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/carebridge/orchestrator/internal/intent"
)

// fileRoute is the on-disk override shape for one route entry; any
// zero-value field leaves the compiled-in default for that field untouched.
type fileRoute struct {
	Intent         string `yaml:"intent"`
	Agent          string `yaml:"agent"`
	TaskType       string `yaml:"task_type"`
	RequestTopic   string `yaml:"request_topic"`
	ResponseTopic  string `yaml:"response_topic"`
	SoftDeadlineMS int    `yaml:"soft_deadline_ms"`
	HardDeadlineMS int    `yaml:"hard_deadline_ms"`
	Placeholder    string `yaml:"placeholder"`
}

type fileTable struct {
	Routes []fileRoute `yaml:"routes"`
}

// LoadFromFile builds a Table starting from NewDefaultTable and overlaying
// any entries found in the YAML file at path. A missing file is not an
// error: the compiled-in defaults are used as-is, matching the teacher's
// fallback-friendly config loading style.
func LoadFromFile(path string) (*Table, error) {
	return LoadFromFileInto(NewDefaultTable(), path)
}

// LoadFromFileInto overlays the YAML file at path onto an already-built
// Table (e.g. one with operator-configured default deadlines applied via
// ApplyAgentDeadlines), so the precedence is: compiled-in route shape <
// operational default deadlines < explicit per-route file overrides. A
// missing file is not an error: t is returned as-is.
func LoadFromFileInto(t *Table, path string) (*Table, error) {
	if path == "" {
		return t, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return t, nil
		}
		return nil, err
	}

	var parsed fileTable
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, err
	}

	for _, fr := range parsed.Routes {
		i := intent.Intent(fr.Intent)
		base := t.Lookup(i)
		base.Intent = i
		if fr.Agent != "" {
			base.Agent = AgentType(fr.Agent)
		}
		if fr.TaskType != "" {
			base.TaskType = fr.TaskType
		}
		if fr.RequestTopic != "" {
			base.RequestTopic = fr.RequestTopic
		}
		if fr.ResponseTopic != "" {
			base.ResponseTopic = fr.ResponseTopic
		}
		if fr.SoftDeadlineMS > 0 {
			base.SoftDeadline = time.Duration(fr.SoftDeadlineMS) * time.Millisecond
		}
		if fr.HardDeadlineMS > 0 {
			base.HardDeadline = time.Duration(fr.HardDeadlineMS) * time.Millisecond
		}
		if fr.Placeholder != "" {
			base.Placeholder = fr.Placeholder
		}
		base.RequiresAgent = fr.TaskType != "" || base.RequiresAgent
		t.routes[i] = base
	}

	return t, nil
}
