package domain

import "time"

// Status is the administrative project state kept in the database. It is
// the desired state set by panel operations, not what the containers are
// doing right now; see RuntimeStatus for the observed side.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusDeploying Status = "deploying"
	StatusRunning   Status = "running"
	StatusStopped   Status = "stopped"
	StatusFailed    Status = "failed"
)

// Project is a provisioned backend-platform instance. Slug is the join key
// between the database record, the on-disk project directory, the compose
// container namespace and the routing config filename; it never changes
// after creation.
type Project struct {
	ID          string
	Slug        string
	Name        string
	Description string

	Status Status

	// Last-operation audit trail, stamped after every orchestration call.
	DeployStatus    string
	LastDeployAt    *time.Time
	LastDeployError string

	Domain               string
	DomainVerified       bool
	StudioDomain         string
	StudioDomainVerified bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// EnvVar is a project-scoped environment variable. The env var set is the
// source of truth for ports, credentials and all container configuration.
type EnvVar struct {
	ProjectID string
	Key       string
	Value     string
	CreatedAt time.Time
}

// Well-known env var keys consumed by the panel itself. Everything else is
// opaque container configuration.
const (
	EnvKeyKongHTTPPort = "KONG_HTTP_PORT"
	EnvKeyStudioPort   = "STUDIO_PORT"

	DefaultKongHTTPPort = 8000
	DefaultStudioPort   = 3000
)

// ServicePorts are the resolved host ports for a project's public services.
type ServicePorts struct {
	APIGateway int
	Studio     int
}

// ResolvePorts reads a project's port bindings from its env vars, falling
// back to the platform defaults for missing or unparseable keys. It does
// not enforce cross-project uniqueness; that is the job of whatever seeds
// the env vars at creation time.
func ResolvePorts(vars []EnvVar) ServicePorts {
	ports := ServicePorts{APIGateway: DefaultKongHTTPPort, Studio: DefaultStudioPort}
	for _, v := range vars {
		switch v.Key {
		case EnvKeyKongHTTPPort:
			if p := parsePort(v.Value); p > 0 {
				ports.APIGateway = p
			}
		case EnvKeyStudioPort:
			if p := parsePort(v.Value); p > 0 {
				ports.Studio = p
			}
		}
	}
	return ports
}

func parsePort(value string) int {
	n := 0
	for _, r := range value {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
		if n > 65535 {
			return 0
		}
	}
	return n
}
