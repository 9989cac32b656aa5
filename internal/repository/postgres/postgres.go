package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/selfbase/panel/internal/domain"
	"github.com/selfbase/panel/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.ProjectRepository  = (*Repository)(nil)
	_ repository.EnvVarRepository   = (*Repository)(nil)
	_ repository.SettingsRepository = (*Repository)(nil)
	_ repository.LogRepository      = (*Repository)(nil)
)

const projectColumns = `id, slug, name, description, status, deploy_status,
	last_deploy_at, last_deploy_error, domain, domain_verified,
	studio_domain, studio_domain_verified, created_at, updated_at`

// CreateProject inserts a project record.
func (r *Repository) CreateProject(ctx context.Context, project *domain.Project) error {
	const query = `INSERT INTO projects (id, slug, name, description, status, deploy_status,
		last_deploy_error, domain, domain_verified, studio_domain, studio_domain_verified,
		created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	_, err := r.pool.Exec(ctx, query,
		project.ID, project.Slug, project.Name, project.Description,
		string(project.Status), project.DeployStatus, project.LastDeployError,
		project.Domain, project.DomainVerified,
		project.StudioDomain, project.StudioDomainVerified,
		project.CreatedAt, project.UpdatedAt)
	return mapError(err)
}

// GetProjectByID fetches a project by identifier.
func (r *Repository) GetProjectByID(ctx context.Context, id string) (*domain.Project, error) {
	const query = `SELECT ` + projectColumns + ` FROM projects WHERE id = $1`
	return r.scanProject(r.pool.QueryRow(ctx, query, id))
}

// GetProjectBySlug fetches a project by slug.
func (r *Repository) GetProjectBySlug(ctx context.Context, slug string) (*domain.Project, error) {
	const query = `SELECT ` + projectColumns + ` FROM projects WHERE slug = $1`
	return r.scanProject(r.pool.QueryRow(ctx, query, slug))
}

// ListProjects returns all projects ordered by creation time.
func (r *Repository) ListProjects(ctx context.Context) ([]domain.Project, error) {
	const query = `SELECT ` + projectColumns + ` FROM projects ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectProjects(rows)
}

// UpdateProjectStatus sets the administrative status.
func (r *Repository) UpdateProjectStatus(ctx context.Context, id string, status domain.Status) error {
	const query = `UPDATE projects SET status = $2, updated_at = now() WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, id, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// UpdateDeployAudit records the outcome of an orchestration call.
func (r *Repository) UpdateDeployAudit(ctx context.Context, audit repository.DeployAudit) error {
	const query = `UPDATE projects
		SET status = $2, deploy_status = $3, last_deploy_error = $4,
			last_deploy_at = $5, updated_at = now()
		WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, audit.ProjectID, string(audit.Status),
		audit.Outcome, audit.Error, audit.At)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// UpdateDomainBinding persists both domain fields and flags in one update.
func (r *Repository) UpdateDomainBinding(ctx context.Context, binding repository.DomainBinding) error {
	const query = `UPDATE projects
		SET domain = $2, domain_verified = $3, studio_domain = $4,
			studio_domain_verified = $5, updated_at = now()
		WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, binding.ProjectID,
		binding.Domain, binding.DomainVerified,
		binding.StudioDomain, binding.StudioDomainVerified)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// FindProjectsByDomain matches either domain attribute, excluding one project.
func (r *Repository) FindProjectsByDomain(ctx context.Context, name, excludeID string) ([]domain.Project, error) {
	const query = `SELECT ` + projectColumns + ` FROM projects
		WHERE (domain = $1 OR studio_domain = $1) AND ($2 = '' OR id <> $2)`
	rows, err := r.pool.Query(ctx, query, name, excludeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectProjects(rows)
}

// DeleteProject removes a project; env vars and logs cascade.
func (r *Repository) DeleteProject(ctx context.Context, id string) error {
	const query = `DELETE FROM projects WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// UpsertEnvVar inserts or replaces a project env var.
func (r *Repository) UpsertEnvVar(ctx context.Context, envVar *domain.EnvVar) error {
	const query = `INSERT INTO project_env_vars (project_id, key, value, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (project_id, key) DO UPDATE SET value = EXCLUDED.value`
	_, err := r.pool.Exec(ctx, query, envVar.ProjectID, envVar.Key, envVar.Value, envVar.CreatedAt)
	return mapError(err)
}

// ListEnvVars returns a project's env vars ordered by key.
func (r *Repository) ListEnvVars(ctx context.Context, projectID string) ([]domain.EnvVar, error) {
	const query = `SELECT project_id, key, value, created_at FROM project_env_vars
		WHERE project_id = $1 ORDER BY key`
	rows, err := r.pool.Query(ctx, query, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEnvVars(rows)
}

// ListEnvVarsByKey returns the named env var across all projects.
func (r *Repository) ListEnvVarsByKey(ctx context.Context, key string) ([]domain.EnvVar, error) {
	const query = `SELECT project_id, key, value, created_at FROM project_env_vars
		WHERE key = $1`
	rows, err := r.pool.Query(ctx, query, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEnvVars(rows)
}

// GetSetting fetches a panel setting by key.
func (r *Repository) GetSetting(ctx context.Context, key string) (*domain.PanelSetting, error) {
	const query = `SELECT key, value, updated_at FROM panel_settings WHERE key = $1`
	row := r.pool.QueryRow(ctx, query, key)
	var s domain.PanelSetting
	if err := row.Scan(&s.Key, &s.Value, &s.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

// UpsertSetting writes a panel setting, single row per key.
func (r *Repository) UpsertSetting(ctx context.Context, setting *domain.PanelSetting) error {
	const query = `INSERT INTO panel_settings (key, value, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`
	_, err := r.pool.Exec(ctx, query, setting.Key, setting.Value, setting.UpdatedAt)
	return err
}

// AppendLog inserts a deployment event entry.
func (r *Repository) AppendLog(ctx context.Context, entry domain.ProjectLog) error {
	const query = `INSERT INTO project_logs (project_id, source, level, message, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	var metadata any
	if len(entry.Metadata) > 0 {
		metadata = entry.Metadata
	}
	_, err := r.pool.Exec(ctx, query, entry.ProjectID, entry.Source, entry.Level,
		entry.Message, metadata, entry.CreatedAt)
	return err
}

// ListLogsByProject returns recent log entries, newest first.
func (r *Repository) ListLogsByProject(ctx context.Context, projectID string, limit, offset int) ([]domain.ProjectLog, error) {
	const query = `SELECT id, project_id, source, level, message, COALESCE(metadata, '{}'), created_at
		FROM project_logs WHERE project_id = $1
		ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`
	rows, err := r.pool.Query(ctx, query, projectID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.ProjectLog, 0)
	for rows.Next() {
		var entry domain.ProjectLog
		if err := rows.Scan(&entry.ID, &entry.ProjectID, &entry.Source, &entry.Level,
			&entry.Message, &entry.Metadata, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (r *Repository) scanProject(row pgx.Row) (*domain.Project, error) {
	var p domain.Project
	var status string
	if err := row.Scan(&p.ID, &p.Slug, &p.Name, &p.Description, &status, &p.DeployStatus,
		&p.LastDeployAt, &p.LastDeployError, &p.Domain, &p.DomainVerified,
		&p.StudioDomain, &p.StudioDomainVerified, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	p.Status = domain.Status(status)
	return &p, nil
}

func collectProjects(rows pgx.Rows) ([]domain.Project, error) {
	projects := make([]domain.Project, 0)
	for rows.Next() {
		var p domain.Project
		var status string
		if err := rows.Scan(&p.ID, &p.Slug, &p.Name, &p.Description, &status, &p.DeployStatus,
			&p.LastDeployAt, &p.LastDeployError, &p.Domain, &p.DomainVerified,
			&p.StudioDomain, &p.StudioDomainVerified, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.Status = domain.Status(status)
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func collectEnvVars(rows pgx.Rows) ([]domain.EnvVar, error) {
	vars := make([]domain.EnvVar, 0)
	for rows.Next() {
		var v domain.EnvVar
		if err := rows.Scan(&v.ProjectID, &v.Key, &v.Value, &v.CreatedAt); err != nil {
			return nil, err
		}
		vars = append(vars, v)
	}
	return vars, rows.Err()
}

// mapError converts unique violations to ErrConflict.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return repository.ErrConflict
	}
	return err
}
