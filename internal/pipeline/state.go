package pipeline

// State is the controller's outer lifecycle state. Connection trouble
// never changes it: a feed that is reconnecting is still Running.
type State string

const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"

	// StateFailed is reached only from Starting, on an unrecoverable
	// configuration error. It requires an explicit re-Start after the
	// operator fixes the configuration.
	StateFailed State = "failed"
)
