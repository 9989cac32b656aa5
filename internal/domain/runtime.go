package domain

// RuntimeState is the observed container state reported by the
// orchestration tool. It is deliberately a separate vocabulary from the
// administrative Status and the two are never merged into one enum.
type RuntimeState string

const (
	RuntimeRunning     RuntimeState = "running"
	RuntimeStopped     RuntimeState = "stopped"
	RuntimePartial     RuntimeState = "partial"
	RuntimeNotDeployed RuntimeState = "not_deployed"
	RuntimeError       RuntimeState = "error"
)

// RuntimeStatus summarizes the live containers of one project.
type RuntimeStatus struct {
	State   RuntimeState `json:"state"`
	Running int          `json:"running"`
	Total   int          `json:"total"`
	Detail  string       `json:"detail,omitempty"`
}
