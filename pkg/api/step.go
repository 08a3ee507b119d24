package api

type (
	// StepKind identifies the behavior of a flow step. The set is closed;
	// the interpreter dispatches over it with an explicit switch
	StepKind string

	// FlowStep is one unit of flow execution: a kind, templated
	// arguments, declared outputs, and an optional list of output keys
	// to persist as secrets
	FlowStep struct {
		ID StepID `json:"id" yaml:"id"`

		// Use selects the step behavior
		Use StepKind `json:"use" yaml:"use"`

		// Args are templated arguments resolved against the execution
		// scopes before the step runs
		Args Args `json:"args,omitempty" yaml:"args,omitempty"`

		// Outputs maps produced output keys to the variable names they
		// are promoted under
		Outputs map[Name]Name `json:"outputs,omitempty" yaml:"outputs,omitempty"`

		// Secrets lists output keys persisted to the secrets store
		// under the source's id
		Secrets []Name `json:"secrets,omitempty" yaml:"secrets,omitempty"`
	}

	// ScheduleConfig describes when a source should be refreshed. It is
	// data-only; the engine never evaluates it
	ScheduleConfig struct {
		Cron            string `json:"cron,omitempty" yaml:"cron,omitempty"`
		IntervalMinutes int    `json:"interval_minutes,omitempty" yaml:"interval_minutes,omitempty"`
	}

	// SourceDefinition describes one configured source: identity, an
	// optional static auth descriptor, an ordered flow, and the initial
	// variable context. Immutable for the duration of one fetch
	SourceDefinition struct {
		ID          SourceID        `json:"id" yaml:"id"`
		Name        string          `json:"name" yaml:"name"`
		Description string          `json:"description,omitempty" yaml:"description,omitempty"`
		Icon        string          `json:"icon,omitempty" yaml:"icon,omitempty"`
		Enabled     *bool           `json:"enabled,omitempty" yaml:"enabled,omitempty"`
		Integration string          `json:"integration,omitempty" yaml:"integration,omitempty"`
		Vars        map[string]any  `json:"vars,omitempty" yaml:"vars,omitempty"`
		Auth        *AuthConfig     `json:"auth,omitempty" yaml:"auth,omitempty"`
		Flow        []FlowStep      `json:"flow,omitempty" yaml:"flow,omitempty"`
		Schedule    *ScheduleConfig `json:"schedule,omitempty" yaml:"schedule,omitempty"`
	}

	// IntegrationDefinition is a reusable source template referenced by
	// SourceDefinition.Integration
	IntegrationDefinition struct {
		ID   string      `json:"id" yaml:"id"`
		Auth *AuthConfig `json:"auth,omitempty" yaml:"auth,omitempty"`
		Flow []FlowStep  `json:"flow,omitempty" yaml:"flow,omitempty"`
	}
)

const (
	StepHTTP    StepKind = "http"
	StepOAuth   StepKind = "oauth"
	StepAPIKey  StepKind = "api_key"
	StepExtract StepKind = "extract"
	StepScript  StepKind = "script"
	StepLog     StepKind = "log"
)

// IsEnabled reports whether the source is enabled. Sources are enabled
// unless explicitly switched off
func (s *SourceDefinition) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// OAuthStep returns the first OAuth step in the flow, or nil
func OAuthStep(flow []FlowStep) *FlowStep {
	for i := range flow {
		if flow[i].Use == StepOAuth {
			return &flow[i]
		}
	}
	return nil
}
