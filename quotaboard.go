// Package quotaboard exposes application identity used by the command
// entry point and structured logging.
package quotaboard

const (
	// Name is the service name reported in logs
	Name = "quota-board"

	// Version is the application version
	Version = "0.3.0"
)
