package api

import "time"

type (
	// SourceStatus represents the current state of a source
	SourceStatus string

	// InteractionType identifies what kind of human input a suspended
	// source is waiting for
	InteractionType string

	// InteractionField describes one value to collect from the user
	InteractionField struct {
		Key         Name   `json:"key"`
		Label       string `json:"label"`
		Type        string `json:"type,omitempty"`
		Description string `json:"description,omitempty"`
		Required    bool   `json:"required"`
		Default     any    `json:"default,omitempty"`
	}

	// InteractionRequest is the structured description of the human
	// input needed to unblock a suspended source
	InteractionRequest struct {
		Type           InteractionType    `json:"type"`
		StepID         StepID             `json:"step_id,omitempty"`
		SourceID       SourceID           `json:"source_id,omitempty"`
		Title          string             `json:"title"`
		Message        string             `json:"message,omitempty"`
		WarningMessage string             `json:"warning_message,omitempty"`
		Fields         []InteractionField `json:"fields,omitempty"`
		Data           map[string]any     `json:"data,omitempty"`
	}

	// SourceState is the runtime state of one source. Interaction is
	// populated only while the status is suspended
	SourceState struct {
		SourceID    SourceID            `json:"source_id"`
		Status      SourceStatus        `json:"status"`
		Message     string              `json:"message,omitempty"`
		LastUpdated time.Time           `json:"last_updated"`
		Interaction *InteractionRequest `json:"interaction,omitempty"`
	}
)

const (
	StatusActive        SourceStatus = "active"
	StatusError         SourceStatus = "error"
	StatusSuspended     SourceStatus = "suspended"
	StatusDisabled      SourceStatus = "disabled"
	StatusConfigChanged SourceStatus = "config_changed"
	StatusRefreshing    SourceStatus = "refreshing"

	InteractInputText      InteractionType = "input_text"
	InteractOAuthStart     InteractionType = "oauth_start"
	InteractCookiesRefresh InteractionType = "cookies_refresh"
	InteractCaptcha        InteractionType = "captcha"
	InteractConfirm        InteractionType = "confirm"
	InteractRetry          InteractionType = "retry"
	InteractWebviewScrape  InteractionType = "webview_scrape"

	// DefaultInteractionTitle labels interaction requests that do not
	// provide their own
	DefaultInteractionTitle = "Action Required"
)

// NewSourceState creates the lazily-initialized default state
func NewSourceState(id SourceID) *SourceState {
	return &SourceState{
		SourceID: id,
		Status:   StatusActive,
	}
}
