package proxy

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// PanelSlug is the reserved slug for the panel's own routing document.
const PanelSlug = "panel"

// RouteSpec is the input to a routing render: the project's domains and the
// resolved host ports of its public services.
type RouteSpec struct {
	APIDomain    string
	StudioDomain string
	APIPort      int
	StudioPort   int
	// HealthPath, when set, adds a path probe to the API service.
	HealthPath string
	// PanelUpstream routes the document to the panel process itself
	// instead of the project's containers. Only set for PanelSlug.
	PanelUpstream string

	// slug is stamped by the sink before upstream derivation.
	slug string
}

// APIUpstream is the fixed internal address of the project's API gateway,
// derived from slug-scoped container names on the shared compose network.
func (s RouteSpec) APIUpstream() string {
	if s.PanelUpstream != "" {
		return s.PanelUpstream
	}
	return fmt.Sprintf("http://%s-kong:%d", s.slug, s.APIPort)
}

// StudioUpstream is the fixed internal address of the project's studio UI.
func (s RouteSpec) StudioUpstream() string {
	return fmt.Sprintf("http://%s-studio:%d", s.slug, s.StudioPort)
}

// Sink persists routing documents for the reverse proxy. Render writes the
// full document for a slug; Clear replaces it with an inert placeholder.
// The file is never deleted so the watching proxy drops routes cleanly
// instead of hitting a missing-file race.
type Sink interface {
	Render(slug string, spec RouteSpec) error
	Clear(slug string) error
}

// FileSink writes Traefik dynamic-config YAML files under a shared
// directory, one file per slug.
type FileSink struct {
	dir    string
	logger *slog.Logger
	now    func() time.Time
}

var _ Sink = (*FileSink)(nil)

// NewFileSink constructs a FileSink rooted at dir.
func NewFileSink(dir string, logger *slog.Logger) *FileSink {
	return &FileSink{dir: dir, logger: logger, now: time.Now}
}

// Render regenerates the slug's routing file from scratch. The output is
// idempotent for identical inputs apart from the timestamp comment.
func (s *FileSink) Render(slug string, spec RouteSpec) error {
	spec.slug = slug
	doc, err := buildDocument(slug, spec)
	if err != nil {
		return err
	}
	body, err := marshalDocument(doc)
	if err != nil {
		return fmt.Errorf("proxy: marshal config for %q: %w", slug, err)
	}
	header := fmt.Sprintf("# Routing for %s. Generated %s.\n# Regenerated on every domain change; do not edit.\n", slug, s.now().UTC().Format(time.RFC3339))
	if err := s.write(slug, append([]byte(header), body...)); err != nil {
		return err
	}
	s.logger.Info("routing config written", "slug", slug, "api_domain", spec.APIDomain, "studio_domain", spec.StudioDomain)
	return nil
}

// Clear overwrites the slug's file with a comment-only placeholder.
func (s *FileSink) Clear(slug string) error {
	placeholder := fmt.Sprintf("# Routing for %s removed %s.\n# Placeholder kept so the file provider drops the routes cleanly.\n", slug, s.now().UTC().Format(time.RFC3339))
	if err := s.write(slug, []byte(placeholder)); err != nil {
		return err
	}
	s.logger.Info("routing config cleared", "slug", slug)
	return nil
}

// Path reports where the slug's routing file lives.
func (s *FileSink) Path(slug string) string {
	return filepath.Join(s.dir, slug+".yml")
}

func (s *FileSink) write(slug string, content []byte) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("proxy: create config dir: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, slug+".*.tmp")
	if err != nil {
		return fmt.Errorf("proxy: create temp config: %w", err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(name)
		return fmt.Errorf("proxy: write config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return fmt.Errorf("proxy: close temp config: %w", err)
	}
	if err := os.Chmod(name, 0o644); err != nil {
		os.Remove(name)
		return fmt.Errorf("proxy: chmod config: %w", err)
	}
	if err := os.Rename(name, s.Path(slug)); err != nil {
		os.Remove(name)
		return fmt.Errorf("proxy: replace config: %w", err)
	}
	return nil
}
