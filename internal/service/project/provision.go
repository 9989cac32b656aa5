package project

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/selfbase/panel/internal/domain"
	"github.com/selfbase/panel/internal/repository"
	"github.com/selfbase/panel/pkg/secrets"
)

var slugExpr = regexp.MustCompile(`[^a-z0-9-]+`)

const (
	slugAttempts = 50

	portStep       = 10
	serviceKeyTTL  = 10 * 365 * 24 * time.Hour
	envFileName    = ".env"
	envFileMode    = 0o600
	projectDirMode = 0o755
)

// slugify derives a URL/DNS/filesystem-safe identifier from a name.
func slugify(name string) string {
	base := strings.ToLower(strings.TrimSpace(name))
	base = strings.ReplaceAll(base, "_", "-")
	base = slugExpr.ReplaceAllString(base, "-")
	for strings.Contains(base, "--") {
		base = strings.ReplaceAll(base, "--", "-")
	}
	return strings.Trim(base, "-")
}

// uniqueSlug derives a slug from the name and suffixes it until no other
// project claims it.
func (s Service) uniqueSlug(ctx context.Context, name string) (string, error) {
	base := slugify(name)
	if base == "" {
		return "", errNameRequired
	}
	candidate := base
	for i := 2; i <= slugAttempts; i++ {
		_, err := s.projects.GetProjectBySlug(ctx, candidate)
		if errors.Is(err, repository.ErrNotFound) {
			return candidate, nil
		}
		if err != nil {
			return "", err
		}
		candidate = fmt.Sprintf("%s-%d", base, i)
	}
	return "", fmt.Errorf("%w: no free slug for %q", repository.ErrConflict, base)
}

// allocatePort scans the given env key across all projects and returns the
// lowest unclaimed port at or above base, stepping to keep per-project
// port blocks apart.
func (s Service) allocatePort(ctx context.Context, key string, base int) (int, error) {
	vars, err := s.envs.ListEnvVarsByKey(ctx, key)
	if err != nil {
		return 0, err
	}
	used := make(map[int]struct{}, len(vars))
	for _, v := range vars {
		if p, err := strconv.Atoi(v.Value); err == nil {
			used[p] = struct{}{}
		}
	}
	for candidate := base; candidate < 65536; candidate += portStep {
		if _, taken := used[candidate]; !taken {
			return candidate, nil
		}
	}
	return 0, fmt.Errorf("no free port at or above %d for %s", base, key)
}

// seedEnvVars provisions the project's initial env var set: collision-free
// host ports and generated credentials, including the signed API keys the
// gateway validates against the project JWT secret.
func (s Service) seedEnvVars(ctx context.Context, project *domain.Project) error {
	kongPort, err := s.allocatePort(ctx, domain.EnvKeyKongHTTPPort, domain.DefaultKongHTTPPort)
	if err != nil {
		return err
	}
	studioPort, err := s.allocatePort(ctx, domain.EnvKeyStudioPort, domain.DefaultStudioPort)
	if err != nil {
		return err
	}

	pgPassword, err := secrets.RandomString(24)
	if err != nil {
		return err
	}
	jwtSecret, err := secrets.RandomString(40)
	if err != nil {
		return err
	}
	dashPassword, err := secrets.RandomString(16)
	if err != nil {
		return err
	}
	dashHash, err := secrets.HashPassword(dashPassword)
	if err != nil {
		return err
	}
	anonKey, err := secrets.MintServiceKey(secrets.RoleAnon, project.Slug, jwtSecret, serviceKeyTTL)
	if err != nil {
		return err
	}
	serviceKey, err := secrets.MintServiceKey(secrets.RoleServiceRole, project.Slug, jwtSecret, serviceKeyTTL)
	if err != nil {
		return err
	}

	seed := map[string]string{
		domain.EnvKeyKongHTTPPort: strconv.Itoa(kongPort),
		domain.EnvKeyStudioPort:   strconv.Itoa(studioPort),
		"POSTGRES_PASSWORD":       pgPassword,
		"JWT_SECRET":              jwtSecret,
		"ANON_KEY":                anonKey,
		"SERVICE_ROLE_KEY":        serviceKey,
		"DASHBOARD_USERNAME":      "admin",
		"DASHBOARD_PASSWORD":      dashPassword,
		"DASHBOARD_PASSWORD_HASH": string(dashHash),
	}
	now := s.now().UTC()
	for key, value := range seed {
		envVar := &domain.EnvVar{ProjectID: project.ID, Key: key, Value: value, CreatedAt: now}
		if err := s.envs.UpsertEnvVar(ctx, envVar); err != nil {
			return err
		}
	}
	return nil
}

// WriteEnvFile renders the project's env var set to the .env file its
// compose definition reads. Regenerated before every deploy so the file
// always reflects the database state.
func (s Service) WriteEnvFile(ctx context.Context, project *domain.Project) error {
	vars, err := s.envs.ListEnvVars(ctx, project.ID)
	if err != nil {
		return err
	}
	sort.Slice(vars, func(i, j int) bool { return vars[i].Key < vars[j].Key })

	var b strings.Builder
	for _, v := range vars {
		fmt.Fprintf(&b, "%s=%s\n", v.Key, v.Value)
	}

	dir := filepath.Join(s.cfg.ProjectsDir, project.Slug)
	if err := os.MkdirAll(dir, projectDirMode); err != nil {
		return fmt.Errorf("create project dir %s: %w", dir, err)
	}
	path := filepath.Join(dir, envFileName)
	if err := os.WriteFile(path, []byte(b.String()), envFileMode); err != nil {
		return fmt.Errorf("write env file %s: %w", path, err)
	}
	return nil
}
