package project

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/selfbase/panel/internal/domain"
	"github.com/selfbase/panel/internal/repository"
	"github.com/selfbase/panel/internal/service/compose"
	"github.com/selfbase/panel/internal/service/logs"
	"github.com/selfbase/panel/internal/service/proxy"
	"github.com/selfbase/panel/pkg/config"
	"github.com/selfbase/panel/pkg/logger"
)

type memProjectRepo struct {
	projects map[string]*domain.Project
	statuses []domain.Status
	audits   []repository.DeployAudit
	ops      *[]string
}

func (r *memProjectRepo) record(op string) {
	if r.ops != nil {
		*r.ops = append(*r.ops, op)
	}
}

func (r *memProjectRepo) CreateProject(ctx context.Context, project *domain.Project) error {
	r.projects[project.ID] = project
	return nil
}

func (r *memProjectRepo) GetProjectByID(ctx context.Context, id string) (*domain.Project, error) {
	project, ok := r.projects[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *project
	return &copied, nil
}

func (r *memProjectRepo) GetProjectBySlug(ctx context.Context, slug string) (*domain.Project, error) {
	for _, project := range r.projects {
		if project.Slug == slug {
			copied := *project
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memProjectRepo) ListProjects(ctx context.Context) ([]domain.Project, error) {
	var out []domain.Project
	for _, project := range r.projects {
		out = append(out, *project)
	}
	return out, nil
}

func (r *memProjectRepo) UpdateProjectStatus(ctx context.Context, id string, status domain.Status) error {
	project, ok := r.projects[id]
	if !ok {
		return repository.ErrNotFound
	}
	project.Status = status
	r.statuses = append(r.statuses, status)
	return nil
}

func (r *memProjectRepo) UpdateDeployAudit(ctx context.Context, audit repository.DeployAudit) error {
	project, ok := r.projects[audit.ProjectID]
	if !ok {
		return repository.ErrNotFound
	}
	project.Status = audit.Status
	project.LastDeployAt = &audit.At
	project.LastDeployError = audit.Error
	r.audits = append(r.audits, audit)
	return nil
}

func (r *memProjectRepo) UpdateDomainBinding(ctx context.Context, binding repository.DomainBinding) error {
	return nil
}

func (r *memProjectRepo) FindProjectsByDomain(ctx context.Context, name, excludeID string) ([]domain.Project, error) {
	return nil, nil
}

func (r *memProjectRepo) DeleteProject(ctx context.Context, id string) error {
	if _, ok := r.projects[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.projects, id)
	r.record("delete-record")
	return nil
}

type memEnvRepo struct {
	vars map[string][]domain.EnvVar
}

func (r *memEnvRepo) UpsertEnvVar(ctx context.Context, envVar *domain.EnvVar) error {
	if r.vars == nil {
		r.vars = make(map[string][]domain.EnvVar)
	}
	existing := r.vars[envVar.ProjectID]
	for i, v := range existing {
		if v.Key == envVar.Key {
			existing[i] = *envVar
			return nil
		}
	}
	r.vars[envVar.ProjectID] = append(existing, *envVar)
	return nil
}

func (r *memEnvRepo) ListEnvVars(ctx context.Context, projectID string) ([]domain.EnvVar, error) {
	return r.vars[projectID], nil
}

func (r *memEnvRepo) ListEnvVarsByKey(ctx context.Context, key string) ([]domain.EnvVar, error) {
	var out []domain.EnvVar
	for _, vars := range r.vars {
		for _, v := range vars {
			if v.Key == key {
				out = append(out, v)
			}
		}
	}
	return out, nil
}

type stubLogRepo struct {
	entries []domain.ProjectLog
}

func (r *stubLogRepo) AppendLog(ctx context.Context, entry domain.ProjectLog) error {
	r.entries = append(r.entries, entry)
	return nil
}

func (r *stubLogRepo) ListLogsByProject(ctx context.Context, projectID string, limit, offset int) ([]domain.ProjectLog, error) {
	return r.entries, nil
}

type fakeOrchestrator struct {
	upResult     compose.Result
	downResult   compose.Result
	statusResult domain.RuntimeStatus
	logOutput    string

	downVolumes []bool
	ops         *[]string
}

func (o *fakeOrchestrator) record(op string) {
	if o.ops != nil {
		*o.ops = append(*o.ops, op)
	}
}

func (o *fakeOrchestrator) Up(ctx context.Context, slug string) compose.Result {
	o.record("up")
	return o.upResult
}

func (o *fakeOrchestrator) Down(ctx context.Context, slug string, removeVolumes bool) compose.Result {
	o.record("down")
	o.downVolumes = append(o.downVolumes, removeVolumes)
	return o.downResult
}

func (o *fakeOrchestrator) Status(ctx context.Context, slug string) domain.RuntimeStatus {
	return o.statusResult
}

func (o *fakeOrchestrator) Logs(ctx context.Context, slug string, tail int) (string, error) {
	return o.logOutput, nil
}

type opSink struct {
	ops     *[]string
	cleared []string
}

func (s *opSink) Render(slug string, spec proxy.RouteSpec) error {
	return nil
}

func (s *opSink) Clear(slug string) error {
	if s.ops != nil {
		*s.ops = append(*s.ops, "clear-routing")
	}
	s.cleared = append(s.cleared, slug)
	return nil
}

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	svc      Service
	projects *memProjectRepo
	envs     *memEnvRepo
	orch     *fakeOrchestrator
	sink     *opSink
	events   *stubLogRepo
	ops      []string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		projects: &memProjectRepo{projects: make(map[string]*domain.Project)},
		envs:     &memEnvRepo{},
		orch:     &fakeOrchestrator{upResult: compose.Result{OK: true}, downResult: compose.Result{OK: true}},
		sink:     &opSink{},
		events:   &stubLogRepo{},
	}
	h.projects.ops = &h.ops
	h.orch.ops = &h.ops
	h.sink.ops = &h.ops

	cfg := config.PanelConfig{ProjectsDir: t.TempDir(), PanelHost: "198.51.100.7", LogTailDefault: 100}
	eventSvc := logs.New(h.events, nil, logger.Discard())
	h.svc = New(h.projects, h.envs, h.orch, h.sink, eventSvc, logger.Discard(), cfg)
	h.svc.now = func() time.Time { return fixedNow }
	return h
}

func (h *harness) seedProject(t *testing.T, slug string, status domain.Status) *domain.Project {
	t.Helper()
	project := &domain.Project{ID: "id-" + slug, Slug: slug, Name: slug, Status: status}
	h.projects.projects[project.ID] = project
	return project
}

func envMap(vars []domain.EnvVar) map[string]string {
	out := make(map[string]string, len(vars))
	for _, v := range vars {
		out[v.Key] = v.Value
	}
	return out
}

func TestCreateSeedsDraftProject(t *testing.T) {
	h := newHarness(t)
	project, err := h.svc.Create(context.Background(), CreateInput{Name: "My Project", Description: " demo stack "})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if project.Slug != "my-project" {
		t.Fatalf("unexpected slug %q", project.Slug)
	}
	if project.Status != domain.StatusDraft {
		t.Fatalf("expected draft status, got %s", project.Status)
	}
	if project.Description != "demo stack" {
		t.Fatalf("description not trimmed: %q", project.Description)
	}

	vars := envMap(h.envs.vars[project.ID])
	for _, key := range []string{
		domain.EnvKeyKongHTTPPort, domain.EnvKeyStudioPort,
		"POSTGRES_PASSWORD", "JWT_SECRET", "ANON_KEY", "SERVICE_ROLE_KEY",
		"DASHBOARD_USERNAME", "DASHBOARD_PASSWORD", "DASHBOARD_PASSWORD_HASH",
	} {
		if vars[key] == "" {
			t.Fatalf("missing seeded env var %s", key)
		}
	}
	if vars[domain.EnvKeyKongHTTPPort] != "8000" || vars[domain.EnvKeyStudioPort] != "3000" {
		t.Fatalf("first project must get the base ports: %v", vars)
	}
}

func TestCreateAllocatesDistinctPorts(t *testing.T) {
	h := newHarness(t)
	first, err := h.svc.Create(context.Background(), CreateInput{Name: "alpha"})
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	second, err := h.svc.Create(context.Background(), CreateInput{Name: "beta"})
	if err != nil {
		t.Fatalf("second create: %v", err)
	}

	firstVars := envMap(h.envs.vars[first.ID])
	secondVars := envMap(h.envs.vars[second.ID])
	if firstVars[domain.EnvKeyKongHTTPPort] == secondVars[domain.EnvKeyKongHTTPPort] {
		t.Fatalf("gateway ports collide: %s", firstVars[domain.EnvKeyKongHTTPPort])
	}
	if secondVars[domain.EnvKeyKongHTTPPort] != "8010" {
		t.Fatalf("expected next port block 8010, got %s", secondVars[domain.EnvKeyKongHTTPPort])
	}
}

func TestCreateSuffixesTakenSlug(t *testing.T) {
	h := newHarness(t)
	h.seedProject(t, "demo", domain.StatusRunning)

	project, err := h.svc.Create(context.Background(), CreateInput{Name: "Demo"})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if project.Slug != "demo-2" {
		t.Fatalf("expected suffixed slug demo-2, got %q", project.Slug)
	}
}

func TestCreateRequiresName(t *testing.T) {
	h := newHarness(t)
	if _, err := h.svc.Create(context.Background(), CreateInput{Name: "   "}); !errors.Is(err, repository.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestDeployWritesEnvFileAndRecordsSuccess(t *testing.T) {
	h := newHarness(t)
	project, err := h.svc.Create(context.Background(), CreateInput{Name: "demo"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	res, err := h.svc.Deploy(context.Background(), project.ID)
	if err != nil {
		t.Fatalf("Deploy returned error: %v", err)
	}
	if res.Status != domain.StatusRunning || res.Error != "" {
		t.Fatalf("unexpected deploy result: %+v", res)
	}
	if len(h.projects.statuses) == 0 || h.projects.statuses[0] != domain.StatusDeploying {
		t.Fatalf("expected deploying transition first, got %v", h.projects.statuses)
	}

	data, err := os.ReadFile(filepath.Join(h.svc.cfg.ProjectsDir, "demo", ".env"))
	if err != nil {
		t.Fatalf("env file not written: %v", err)
	}
	if !strings.Contains(string(data), "POSTGRES_PASSWORD=") {
		t.Fatalf("env file missing seeded vars:\n%s", data)
	}
}

func TestDeployFailureLandsInAudit(t *testing.T) {
	h := newHarness(t)
	project, err := h.svc.Create(context.Background(), CreateInput{Name: "demo"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	h.orch.upResult = compose.Result{OK: false, Output: "network selfbase not found"}

	res, err := h.svc.Deploy(context.Background(), project.ID)
	if err != nil {
		t.Fatalf("tool failure must not be an error: %v", err)
	}
	if res.Status != domain.StatusFailed {
		t.Fatalf("expected failed status, got %s", res.Status)
	}
	if res.Error != "network selfbase not found" {
		t.Fatalf("expected tool output in result error, got %q", res.Error)
	}

	if len(h.projects.audits) != 1 {
		t.Fatalf("expected one audit record, got %d", len(h.projects.audits))
	}
	audit := h.projects.audits[0]
	if audit.Outcome != "failed" || audit.Error == "" {
		t.Fatalf("unexpected audit: %+v", audit)
	}
	if !audit.At.Equal(fixedNow) {
		t.Fatalf("audit timestamp not stamped from clock: %v", audit.At)
	}

	stored, _ := h.projects.GetProjectByID(context.Background(), project.ID)
	if stored.Status != domain.StatusFailed || stored.LastDeployError == "" {
		t.Fatalf("failure not persisted on record: %+v", stored)
	}
}

func TestStopKeepsVolumes(t *testing.T) {
	h := newHarness(t)
	project := h.seedProject(t, "demo", domain.StatusRunning)

	res, err := h.svc.Stop(context.Background(), project.ID)
	if err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if res.Status != domain.StatusStopped {
		t.Fatalf("expected stopped, got %s", res.Status)
	}
	if len(h.orch.downVolumes) != 1 || h.orch.downVolumes[0] {
		t.Fatalf("stop must keep volumes: %v", h.orch.downVolumes)
	}
}

func TestStatusDisplayPrefersObservedState(t *testing.T) {
	h := newHarness(t)
	project := h.seedProject(t, "demo", domain.StatusRunning)
	h.orch.statusResult = domain.RuntimeStatus{State: domain.RuntimeNotDeployed}

	view, err := h.svc.Status(context.Background(), project.ID)
	if err != nil {
		t.Fatalf("Status returned error: %v", err)
	}
	if view.Display != string(domain.RuntimeNotDeployed) {
		t.Fatalf("display must follow the observed state, got %q", view.Display)
	}
	if view.Project.Status != domain.StatusRunning {
		t.Fatalf("persisted status must be reported untouched: %s", view.Project.Status)
	}
}

func TestStatusDisplayFallsBackWhenQueryFails(t *testing.T) {
	h := newHarness(t)
	project := h.seedProject(t, "demo", domain.StatusRunning)
	h.orch.statusResult = domain.RuntimeStatus{State: domain.RuntimeError, Detail: "daemon unreachable"}

	view, err := h.svc.Status(context.Background(), project.ID)
	if err != nil {
		t.Fatalf("Status returned error: %v", err)
	}
	if view.Display != string(domain.StatusRunning) {
		t.Fatalf("display must fall back to persisted status, got %q", view.Display)
	}
}

func TestStudioURL(t *testing.T) {
	h := newHarness(t)
	project := h.seedProject(t, "demo", domain.StatusRunning)
	h.envs.vars = map[string][]domain.EnvVar{
		project.ID: {{Key: domain.EnvKeyStudioPort, Value: "3010"}},
	}

	h.orch.statusResult = domain.RuntimeStatus{State: domain.RuntimeStopped}
	url, err := h.svc.StudioURL(context.Background(), project.ID)
	if err != nil || url != "" {
		t.Fatalf("expected empty URL for stopped stack, got %q %v", url, err)
	}

	h.orch.statusResult = domain.RuntimeStatus{State: domain.RuntimeRunning}
	url, err = h.svc.StudioURL(context.Background(), project.ID)
	if err != nil {
		t.Fatalf("StudioURL: %v", err)
	}
	if url != "http://198.51.100.7:3010" {
		t.Fatalf("expected host-port fallback, got %q", url)
	}

	h.projects.projects[project.ID].StudioDomain = "studio.demo.test"
	h.projects.projects[project.ID].StudioDomainVerified = true
	url, err = h.svc.StudioURL(context.Background(), project.ID)
	if err != nil {
		t.Fatalf("StudioURL: %v", err)
	}
	if url != "https://studio.demo.test" {
		t.Fatalf("verified domain must win, got %q", url)
	}

	h.projects.projects[project.ID].StudioDomainVerified = false
	url, _ = h.svc.StudioURL(context.Background(), project.ID)
	if url != "http://198.51.100.7:3010" {
		t.Fatalf("unverified domain must not be used, got %q", url)
	}
}

func TestDeleteTearsDownInOrder(t *testing.T) {
	h := newHarness(t)
	project := h.seedProject(t, "demo", domain.StatusRunning)

	dir := filepath.Join(h.svc.cfg.ProjectsDir, "demo")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("KEY=value\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	if err := h.svc.Delete(context.Background(), project.ID); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}

	want := []string{"down", "clear-routing", "delete-record"}
	if len(h.ops) != len(want) {
		t.Fatalf("unexpected op sequence: %v", h.ops)
	}
	for i, op := range want {
		if h.ops[i] != op {
			t.Fatalf("teardown out of order at %d: %v", i, h.ops)
		}
	}
	if len(h.orch.downVolumes) != 1 || !h.orch.downVolumes[0] {
		t.Fatalf("delete must remove volumes: %v", h.orch.downVolumes)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("project dir must be removed, stat err=%v", err)
	}
	if _, err := h.projects.GetProjectByID(context.Background(), project.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("record must be gone, got %v", err)
	}
}

func TestDeleteAbortsWhenTeardownFails(t *testing.T) {
	h := newHarness(t)
	project := h.seedProject(t, "demo", domain.StatusRunning)
	h.orch.downResult = compose.Result{OK: false, Output: "cannot stop container"}
	h.orch.statusResult = domain.RuntimeStatus{State: domain.RuntimeRunning}

	err := h.svc.Delete(context.Background(), project.ID)
	if err == nil {
		t.Fatal("expected teardown failure to abort deletion")
	}
	if len(h.sink.cleared) != 0 {
		t.Fatal("routing must not be cleared after failed teardown")
	}
	if _, err := h.projects.GetProjectByID(context.Background(), project.ID); err != nil {
		t.Fatalf("record must survive failed teardown: %v", err)
	}
}

func TestDeleteToleratesNeverDeployedStack(t *testing.T) {
	h := newHarness(t)
	project := h.seedProject(t, "demo", domain.StatusDraft)
	h.orch.downResult = compose.Result{OK: false, Output: "no such project"}
	h.orch.statusResult = domain.RuntimeStatus{State: domain.RuntimeNotDeployed}

	if err := h.svc.Delete(context.Background(), project.ID); err != nil {
		t.Fatalf("draft deletion must succeed: %v", err)
	}
	if _, err := h.projects.GetProjectByID(context.Background(), project.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("record must be deleted, got %v", err)
	}
}

func TestUpsertEnvVarRequiresKey(t *testing.T) {
	h := newHarness(t)
	project := h.seedProject(t, "demo", domain.StatusDraft)

	if err := h.svc.UpsertEnvVar(context.Background(), project.ID, "  ", "x"); !errors.Is(err, repository.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	if err := h.svc.UpsertEnvVar(context.Background(), project.ID, "SMTP_HOST", "mail.internal"); err != nil {
		t.Fatalf("UpsertEnvVar: %v", err)
	}
	vars, err := h.svc.ListEnvVars(context.Background(), project.ID)
	if err != nil || len(vars) != 1 || vars[0].Key != "SMTP_HOST" {
		t.Fatalf("unexpected env vars %v err %v", vars, err)
	}
}

func TestLogsUsesDefaultTail(t *testing.T) {
	h := newHarness(t)
	project := h.seedProject(t, "demo", domain.StatusRunning)
	h.orch.logOutput = "some output"

	out, err := h.svc.Logs(context.Background(), project.ID, 0)
	if err != nil {
		t.Fatalf("Logs returned error: %v", err)
	}
	if out != "some output" {
		t.Fatalf("unexpected log output %q", out)
	}
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"My Project":     "my-project",
		"  spaced  out ": "spaced-out",
		"under_scored":   "under-scored",
		"UPPER!!case":    "upper-case",
		"--edges--":      "edges",
	}
	for input, want := range cases {
		if got := slugify(input); got != want {
			t.Fatalf("slugify(%q) = %q, want %q", input, got, want)
		}
	}
}
