package auth

import "github.com/Evoltonnac/quota-board/pkg/api"

// RequiredSecretError signals that a fetch cannot proceed until the user
// supplies a credential. The engine maps it to a suspended state with a
// fully populated interaction request; every other error becomes a plain
// error state
type RequiredSecretError struct {
	SourceID    api.SourceID
	StepID      api.StepID
	Interaction api.InteractionType
	Fields      []api.InteractionField
	Message     string
	Data        map[string]any
}

func (e *RequiredSecretError) Error() string {
	return e.Message
}

// Request converts the error into the interaction payload surfaced to
// callers while the source is suspended
func (e *RequiredSecretError) Request() *api.InteractionRequest {
	return &api.InteractionRequest{
		Type:     e.Interaction,
		StepID:   e.StepID,
		SourceID: e.SourceID,
		Title:    "Authentication Required",
		Message:  e.Message,
		Fields:   e.Fields,
		Data:     e.Data,
	}
}
