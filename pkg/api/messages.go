package api

import "time"

type (
	// ErrorResponse is the standard error payload returned by the HTTP
	// surface
	ErrorResponse struct {
		Error  string `json:"error"`
		Status int    `json:"status"`
	}

	// SourceSummary is the list representation of a source: definition
	// identity plus the current runtime state
	SourceSummary struct {
		ID          SourceID     `json:"id"`
		Name        string       `json:"name"`
		Description string       `json:"description,omitempty"`
		Icon        string       `json:"icon,omitempty"`
		Enabled     bool         `json:"enabled"`
		Status      SourceStatus `json:"status"`
		Message     string       `json:"message,omitempty"`
	}

	// LatestRecord is a source's persisted data payload and mirrored
	// state, as stored in the persistence sink
	LatestRecord struct {
		SourceID    SourceID            `json:"source_id"`
		Data        map[Name]any        `json:"data,omitempty"`
		Error       string              `json:"error,omitempty"`
		Status      SourceStatus        `json:"status,omitempty"`
		Message     string              `json:"message,omitempty"`
		Interaction *InteractionRequest `json:"interaction,omitempty"`
		UpdatedAt   float64             `json:"updated_at"`
	}

	// AuthStatus reports a source's authentication readiness to the
	// HTTP surface
	AuthStatus struct {
		SourceID          SourceID `json:"source_id"`
		HasOAuth          bool     `json:"has_oauth"`
		HasToken          bool     `json:"has_token"`
		RegistrationError string   `json:"registration_error,omitempty"`
	}

	// StateEvent is pushed over the websocket feed whenever a source
	// state transition is applied
	StateEvent struct {
		Type  string       `json:"type"`
		State *SourceState `json:"state"`
		At    time.Time    `json:"at"`
	}
)

// StateEventType is the Type carried by StateEvent messages
const StateEventType = "source_state"
