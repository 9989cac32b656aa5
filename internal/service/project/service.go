package project

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/selfbase/panel/internal/domain"
	"github.com/selfbase/panel/internal/repository"
	"github.com/selfbase/panel/internal/service/compose"
	"github.com/selfbase/panel/internal/service/logs"
	"github.com/selfbase/panel/internal/service/proxy"
	"github.com/selfbase/panel/pkg/config"
)

// Orchestrator drives the project's compose stack. Tool failures come back
// as Result values, not errors; they are displayable outcomes.
type Orchestrator interface {
	Up(ctx context.Context, slug string) compose.Result
	Down(ctx context.Context, slug string, removeVolumes bool) compose.Result
	Status(ctx context.Context, slug string) domain.RuntimeStatus
	Logs(ctx context.Context, slug string, tail int) (string, error)
}

var (
	errNameRequired      = fmt.Errorf("%w: project name required", repository.ErrInvalidArgument)
	errProjectIDRequired = fmt.Errorf("%w: project id required", repository.ErrInvalidArgument)
	errEnvKeyRequired    = fmt.Errorf("%w: env var key required", repository.ErrInvalidArgument)
)

// Service is the project lifecycle coordinator: record CRUD, env
// provisioning, deploys and teardown, plus the desired/observed status
// merge.
type Service struct {
	projects repository.ProjectRepository
	envs     repository.EnvVarRepository
	orch     Orchestrator
	sink     proxy.Sink
	events   logs.Service
	logger   *slog.Logger
	cfg      config.PanelConfig

	now func() time.Time
}

// New constructs a project service.
func New(projects repository.ProjectRepository, envs repository.EnvVarRepository, orch Orchestrator, sink proxy.Sink, events logs.Service, logger *slog.Logger, cfg config.PanelConfig) Service {
	return Service{
		projects: projects,
		envs:     envs,
		orch:     orch,
		sink:     sink,
		events:   events,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
	}
}

// CreateInput holds project creation attributes.
type CreateInput struct {
	Name        string
	Description string
}

// Create registers a project in draft state and seeds its env vars with
// allocated ports and generated credentials. No containers are touched.
func (s Service) Create(ctx context.Context, input CreateInput) (*domain.Project, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, errNameRequired
	}
	slug, err := s.uniqueSlug(ctx, name)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	project := &domain.Project{
		ID:          uuid.NewString(),
		Slug:        slug,
		Name:        name,
		Description: strings.TrimSpace(input.Description),
		Status:      domain.StatusDraft,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.projects.CreateProject(ctx, project); err != nil {
		return nil, err
	}
	if err := s.seedEnvVars(ctx, project); err != nil {
		return nil, fmt.Errorf("seed env vars for %s: %w", slug, err)
	}

	s.logger.Info("project created", "project_id", project.ID, "slug", slug)
	s.recordEvent(ctx, project.ID, "info", fmt.Sprintf("project %s created", slug))
	return project, nil
}

// Get returns a project by identifier.
func (s Service) Get(ctx context.Context, projectID string) (*domain.Project, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, errProjectIDRequired
	}
	return s.projects.GetProjectByID(ctx, projectID)
}

// List returns all projects.
func (s Service) List(ctx context.Context) ([]domain.Project, error) {
	return s.projects.ListProjects(ctx)
}

// DeployResult reports the outcome of a deploy or stop operation.
type DeployResult struct {
	Status domain.Status `json:"status"`
	Error  string        `json:"error,omitempty"`
	Output string        `json:"output,omitempty"`
}

// Deploy transitions the project to deploying, writes its env file and
// brings the stack up. Failures land in the audit fields so the error is
// retrievable after the request completes.
func (s Service) Deploy(ctx context.Context, projectID string) (*DeployResult, error) {
	project, err := s.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if err := s.projects.UpdateProjectStatus(ctx, project.ID, domain.StatusDeploying); err != nil {
		return nil, err
	}

	if err := s.WriteEnvFile(ctx, project); err != nil {
		return s.finishDeploy(ctx, project, compose.Result{OK: false, Output: err.Error()})
	}
	return s.finishDeploy(ctx, project, s.orch.Up(ctx, project.Slug))
}

func (s Service) finishDeploy(ctx context.Context, project *domain.Project, res compose.Result) (*DeployResult, error) {
	now := s.now().UTC()
	audit := repository.DeployAudit{ProjectID: project.ID, At: now}
	result := &DeployResult{Output: res.Output}

	if res.OK {
		audit.Status = domain.StatusRunning
		audit.Outcome = "success"
		result.Status = domain.StatusRunning
		s.recordEvent(ctx, project.ID, "info", fmt.Sprintf("deploy of %s succeeded", project.Slug))
	} else {
		audit.Status = domain.StatusFailed
		audit.Outcome = "failed"
		audit.Error = res.Output
		result.Status = domain.StatusFailed
		result.Error = res.Output
		s.recordEvent(ctx, project.ID, "error", fmt.Sprintf("deploy of %s failed: %s", project.Slug, res.Output))
	}
	if err := s.projects.UpdateDeployAudit(ctx, audit); err != nil {
		return nil, err
	}
	return result, nil
}

// Stop tears the stack down while keeping volumes.
func (s Service) Stop(ctx context.Context, projectID string) (*DeployResult, error) {
	project, err := s.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}

	res := s.orch.Down(ctx, project.Slug, false)
	now := s.now().UTC()
	audit := repository.DeployAudit{ProjectID: project.ID, At: now}
	result := &DeployResult{Output: res.Output}

	if res.OK {
		audit.Status = domain.StatusStopped
		audit.Outcome = "stopped"
		result.Status = domain.StatusStopped
		s.recordEvent(ctx, project.ID, "info", fmt.Sprintf("project %s stopped", project.Slug))
	} else {
		audit.Status = domain.StatusFailed
		audit.Outcome = "failed"
		audit.Error = res.Output
		result.Status = domain.StatusFailed
		result.Error = res.Output
		s.recordEvent(ctx, project.ID, "error", fmt.Sprintf("stop of %s failed: %s", project.Slug, res.Output))
	}
	if err := s.projects.UpdateDeployAudit(ctx, audit); err != nil {
		return nil, err
	}
	return result, nil
}

// StatusView pairs the persisted administrative state with the observed
// container state. Display prefers the live value when the query
// succeeded; the persisted status survives orchestration-tool outages.
type StatusView struct {
	Project domain.Project       `json:"project"`
	Runtime domain.RuntimeStatus `json:"runtime"`
	Display string               `json:"display"`
}

// Status reads the persisted status fields and overlays the live
// orchestrator result.
func (s Service) Status(ctx context.Context, projectID string) (*StatusView, error) {
	project, err := s.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}
	runtime := s.orch.Status(ctx, project.Slug)
	display := string(runtime.State)
	if runtime.State == domain.RuntimeError {
		display = string(project.Status)
	}
	return &StatusView{Project: *project, Runtime: runtime, Display: display}, nil
}

// StudioURL resolves the best reachable address for the project's studio
// UI: a verified custom domain first, the host-port fallback otherwise,
// empty when the stack is not running.
func (s Service) StudioURL(ctx context.Context, projectID string) (string, error) {
	project, err := s.Get(ctx, projectID)
	if err != nil {
		return "", err
	}
	runtime := s.orch.Status(ctx, project.Slug)
	if runtime.State != domain.RuntimeRunning && runtime.State != domain.RuntimePartial {
		return "", nil
	}
	if project.StudioDomain != "" && project.StudioDomainVerified {
		return "https://" + project.StudioDomain, nil
	}
	vars, err := s.envs.ListEnvVars(ctx, project.ID)
	if err != nil {
		return "", err
	}
	ports := domain.ResolvePorts(vars)
	return fmt.Sprintf("http://%s:%d", s.cfg.PanelHost, ports.Studio), nil
}

// Logs returns recent container log output for the project.
func (s Service) Logs(ctx context.Context, projectID string, tail int) (string, error) {
	project, err := s.Get(ctx, projectID)
	if err != nil {
		return "", err
	}
	if tail <= 0 {
		tail = s.cfg.LogTailDefault
	}
	return s.orch.Logs(ctx, project.Slug, tail)
}

// Delete performs full teardown in strict order: containers, then on-disk
// files, then routing config, then the database record. A crash mid-way
// leaves an orphaned-but-harmless directory or record, never a dangling
// container without a record.
func (s Service) Delete(ctx context.Context, projectID string) error {
	project, err := s.Get(ctx, projectID)
	if err != nil {
		return err
	}

	res := s.orch.Down(ctx, project.Slug, true)
	if !res.OK {
		// A stack that was never deployed has nothing to tear down;
		// everything else must come down before files and records go.
		if st := s.orch.Status(ctx, project.Slug); st.State != domain.RuntimeNotDeployed {
			return fmt.Errorf("teardown of %s failed: %s", project.Slug, res.Output)
		}
	}

	dir := filepath.Join(s.cfg.ProjectsDir, project.Slug)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove project dir %s: %w", dir, err)
	}
	if err := s.sink.Clear(project.Slug); err != nil {
		return err
	}
	if err := s.projects.DeleteProject(ctx, project.ID); err != nil {
		return err
	}

	s.logger.Info("project deleted", "project_id", project.ID, "slug", project.Slug)
	return nil
}

// UpsertEnvVar stores a project env var.
func (s Service) UpsertEnvVar(ctx context.Context, projectID, key, value string) error {
	if _, err := s.Get(ctx, projectID); err != nil {
		return err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return errEnvKeyRequired
	}
	return s.envs.UpsertEnvVar(ctx, &domain.EnvVar{
		ProjectID: projectID,
		Key:       key,
		Value:     value,
		CreatedAt: s.now().UTC(),
	})
}

// ListEnvVars returns a project's env vars.
func (s Service) ListEnvVars(ctx context.Context, projectID string) ([]domain.EnvVar, error) {
	if _, err := s.Get(ctx, projectID); err != nil {
		return nil, err
	}
	return s.envs.ListEnvVars(ctx, projectID)
}

func (s Service) recordEvent(ctx context.Context, projectID, level, message string) {
	entry := domain.ProjectLog{
		ProjectID: projectID,
		Source:    "panel",
		Level:     level,
		Message:   message,
		CreatedAt: s.now().UTC(),
	}
	if err := s.events.Append(ctx, entry); err != nil {
		s.logger.Warn("failed to record deployment event", "project_id", projectID, "error", err)
	}
}
