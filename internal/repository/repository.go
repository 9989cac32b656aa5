package repository

import (
	"context"
	"time"

	"github.com/selfbase/panel/internal/domain"
)

// DeployAudit captures the outcome of one orchestration call for the
// project's last-operation audit trail.
type DeployAudit struct {
	ProjectID string
	Status    domain.Status
	Outcome   string
	Error     string
	At        time.Time
}

// DomainBinding carries the full merged domain state persisted in one
// update, so an edit to only one of the two domains never clobbers the
// other's verified flag.
type DomainBinding struct {
	ProjectID            string
	Domain               string
	DomainVerified       bool
	StudioDomain         string
	StudioDomainVerified bool
}

// ProjectRepository persists project records.
type ProjectRepository interface {
	CreateProject(ctx context.Context, project *domain.Project) error
	GetProjectByID(ctx context.Context, id string) (*domain.Project, error)
	GetProjectBySlug(ctx context.Context, slug string) (*domain.Project, error)
	ListProjects(ctx context.Context) ([]domain.Project, error)
	UpdateProjectStatus(ctx context.Context, id string, status domain.Status) error
	UpdateDeployAudit(ctx context.Context, audit DeployAudit) error
	UpdateDomainBinding(ctx context.Context, binding DomainBinding) error
	// FindProjectsByDomain matches either the API or the Studio domain,
	// excluding the given project id when non-empty.
	FindProjectsByDomain(ctx context.Context, name, excludeID string) ([]domain.Project, error)
	// DeleteProject removes the record and cascades its env vars and logs.
	DeleteProject(ctx context.Context, id string) error
}

// EnvVarRepository persists project env vars.
type EnvVarRepository interface {
	UpsertEnvVar(ctx context.Context, envVar *domain.EnvVar) error
	ListEnvVars(ctx context.Context, projectID string) ([]domain.EnvVar, error)
	// ListEnvVarsByKey returns the named env var across all projects,
	// used for port allocation scans.
	ListEnvVarsByKey(ctx context.Context, key string) ([]domain.EnvVar, error)
}

// SettingsRepository persists panel-wide key/value settings.
type SettingsRepository interface {
	GetSetting(ctx context.Context, key string) (*domain.PanelSetting, error)
	UpsertSetting(ctx context.Context, setting *domain.PanelSetting) error
}

// LogRepository handles deployment event persistence and retrieval.
type LogRepository interface {
	AppendLog(ctx context.Context, entry domain.ProjectLog) error
	ListLogsByProject(ctx context.Context, projectID string, limit, offset int) ([]domain.ProjectLog, error)
}
