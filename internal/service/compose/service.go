package compose

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/selfbase/panel/internal/domain"
	"github.com/selfbase/panel/pkg/config"
)

// composeProjectLabel is set by the compose CLI on every container it
// creates; it is how project containers are found again.
const composeProjectLabel = "com.docker.compose.project"

// Result is the outcome of a compose invocation. Tool failures are normal
// displayable outcomes, so they surface here instead of as errors.
type Result struct {
	OK     bool   `json:"ok"`
	Output string `json:"output"`
}

// ContainerAPI is the slice of the Docker client used for status and logs.
type ContainerAPI interface {
	ContainerList(ctx context.Context, options container.ListOptions) ([]types.Container, error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
}

// NewDockerClient dials the Docker daemon, honoring the configured host.
func NewDockerClient(host string) (*client.Client, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return cli, nil
}

// Service drives project compose stacks: bring-up, teardown, live status
// and log capture. Each project runs from its own directory under
// projectsDir, keyed by slug.
type Service struct {
	docker      ContainerAPI
	projectsDir string
	composeBin  string
	timeout     time.Duration
	logger      *slog.Logger

	// run executes the compose CLI; replaceable in tests.
	run func(ctx context.Context, dir, name string, args ...string) ([]byte, error)
}

// New constructs a compose service.
func New(docker ContainerAPI, cfg config.PanelConfig, logger *slog.Logger) *Service {
	bin := cfg.ComposeBin
	if bin == "" {
		bin = "docker"
	}
	timeout := cfg.ComposeTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Service{
		docker:      docker,
		projectsDir: cfg.ProjectsDir,
		composeBin:  bin,
		timeout:     timeout,
		logger:      logger,
		run:         runCommand,
	}
}

func runCommand(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	return cmd.CombinedOutput()
}

// Up brings the project's services up in detached mode.
func (s *Service) Up(ctx context.Context, slug string) Result {
	return s.invoke(ctx, slug, "up", "-d", "--remove-orphans")
}

// Down tears the project's services down, optionally removing volumes.
func (s *Service) Down(ctx context.Context, slug string, removeVolumes bool) Result {
	args := []string{"down"}
	if removeVolumes {
		args = append(args, "--volumes")
	}
	return s.invoke(ctx, slug, args...)
}

func (s *Service) invoke(ctx context.Context, slug string, composeArgs ...string) Result {
	dir := filepath.Join(s.projectsDir, slug)
	args := []string{"compose",
		"--project-name", slug,
		"--file", filepath.Join(dir, "docker-compose.yml"),
		"--env-file", filepath.Join(dir, ".env"),
	}
	args = append(args, composeArgs...)

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	output, err := s.run(runCtx, dir, s.composeBin, args...)
	trimmed := strings.TrimSpace(string(output))
	if err != nil {
		s.logger.Warn("compose invocation failed", "slug", slug, "args", composeArgs, "error", err)
		if trimmed == "" {
			trimmed = err.Error()
		} else {
			trimmed = fmt.Sprintf("%s: %s", err, trimmed)
		}
		return Result{OK: false, Output: trimmed}
	}
	return Result{OK: true, Output: trimmed}
}

// Status reports the observed container state for a project by counting
// running containers against the defined set.
func (s *Service) Status(ctx context.Context, slug string) domain.RuntimeStatus {
	args := filters.NewArgs(filters.Arg("label", composeProjectLabel+"="+slug))
	containers, err := s.docker.ContainerList(ctx, container.ListOptions{All: true, Filters: args})
	if err != nil {
		s.logger.Warn("container listing failed", "slug", slug, "error", err)
		return domain.RuntimeStatus{State: domain.RuntimeError, Detail: err.Error()}
	}

	total := len(containers)
	running := 0
	for _, c := range containers {
		if c.State == "running" {
			running++
		}
	}

	status := domain.RuntimeStatus{Running: running, Total: total}
	switch {
	case total == 0:
		status.State = domain.RuntimeNotDeployed
	case running == 0:
		status.State = domain.RuntimeStopped
	case running < total:
		status.State = domain.RuntimePartial
	default:
		status.State = domain.RuntimeRunning
	}
	return status
}

// Logs returns recent log output across the project's containers, bounded
// per container to tail lines. Per-container failures are reported in-band
// because logs are diagnostic and best-effort.
func (s *Service) Logs(ctx context.Context, slug string, tail int) (string, error) {
	if tail <= 0 {
		tail = 100
	}
	args := filters.NewArgs(filters.Arg("label", composeProjectLabel+"="+slug))
	containers, err := s.docker.ContainerList(ctx, container.ListOptions{All: true, Filters: args})
	if err != nil {
		return "", fmt.Errorf("list containers for %q: %w", slug, err)
	}

	var b strings.Builder
	for _, c := range containers {
		name := containerName(c)
		fmt.Fprintf(&b, "==> %s <==\n", name)
		rc, err := s.docker.ContainerLogs(ctx, c.ID, container.LogsOptions{
			ShowStdout: true,
			ShowStderr: true,
			Tail:       strconv.Itoa(tail),
		})
		if err != nil {
			fmt.Fprintf(&b, "(logs unavailable: %v)\n", err)
			continue
		}
		// Docker multiplexes stdout/stderr on one stream.
		if _, err := stdcopy.StdCopy(&b, &b, rc); err != nil {
			fmt.Fprintf(&b, "(log stream truncated: %v)\n", err)
		}
		rc.Close()
		b.WriteString("\n")
	}
	return b.String(), nil
}

func containerName(c types.Container) string {
	if len(c.Names) > 0 {
		return strings.TrimPrefix(c.Names[0], "/")
	}
	if len(c.ID) >= 12 {
		return c.ID[:12]
	}
	return c.ID
}
