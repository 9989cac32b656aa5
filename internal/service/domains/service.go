package domains

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"log/slog"

	"github.com/selfbase/panel/internal/domain"
	"github.com/selfbase/panel/internal/repository"
	"github.com/selfbase/panel/internal/service/proxy"
	"github.com/selfbase/panel/pkg/config"
)

// Conservative hostname grammar: alphanumeric start, limited interior
// characters, 2+ letter final label.
var domainExpr = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9\-_.]*\.[a-zA-Z]{2,}$`)

var (
	ErrDomainRequired = fmt.Errorf("%w: domain required", repository.ErrInvalidArgument)
	ErrInvalidDomain  = fmt.Errorf("%w: invalid domain format", repository.ErrInvalidArgument)
	ErrDomainTaken    = fmt.Errorf("%w: domain already in use", repository.ErrConflict)
)

// Service validates, verifies and applies domain bindings for projects and
// for the panel itself, keeping the routing documents in lock-step with
// the persisted domain fields.
type Service struct {
	projects repository.ProjectRepository
	envs     repository.EnvVarRepository
	settings repository.SettingsRepository
	verifier Verifier
	sink     proxy.Sink
	logger   *slog.Logger
	cfg      config.PanelConfig
}

// New constructs a domains service.
func New(projects repository.ProjectRepository, envs repository.EnvVarRepository, settings repository.SettingsRepository, verifier Verifier, sink proxy.Sink, logger *slog.Logger, cfg config.PanelConfig) Service {
	return Service{projects: projects, envs: envs, settings: settings, verifier: verifier, sink: sink, logger: logger, cfg: cfg}
}

// SetInput carries the domains to bind. Nil means "leave as is"; an empty
// string is rejected (use Remove to clear).
type SetInput struct {
	APIDomain    *string
	StudioDomain *string
}

// BindingResult reports the merged domain state after a mutation.
type BindingResult struct {
	Domain               string `json:"domain,omitempty"`
	DomainVerified       bool   `json:"domain_verified"`
	StudioDomain         string `json:"studio_domain,omitempty"`
	StudioDomainVerified bool   `json:"studio_domain_verified"`
	Message              string `json:"message"`
}

// Normalize lowercases and trims a candidate domain.
func Normalize(name string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(name)), ".")
}

// ValidateFormat accepts only values matching the hostname grammar.
func ValidateFormat(name string) error {
	if name == "" {
		return ErrDomainRequired
	}
	if !domainExpr.MatchString(name) {
		return ErrInvalidDomain
	}
	return nil
}

// CheckAvailable rejects a domain already attributed to another project or
// to the panel. Advisory read-then-write check; concurrent writers can
// race it (known limitation).
func (s Service) CheckAvailable(ctx context.Context, name, excludeProjectID string) error {
	matches, err := s.projects.FindProjectsByDomain(ctx, name, excludeProjectID)
	if err != nil {
		return err
	}
	if len(matches) > 0 {
		return ErrDomainTaken
	}
	setting, err := s.settings.GetSetting(ctx, domain.SettingPanelDomain)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return err
	}
	if setting.Value != "" && setting.Value == name {
		return ErrDomainTaken
	}
	return nil
}

// SetProjectDomains validates, DNS-verifies and persists the provided
// domains, then re-renders the project's routing document from the merged
// domain set so updating one domain never clobbers the other's routes.
func (s Service) SetProjectDomains(ctx context.Context, projectID string, input SetInput) (*BindingResult, error) {
	project, err := s.projects.GetProjectByID(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if input.APIDomain == nil && input.StudioDomain == nil {
		return nil, ErrDomainRequired
	}

	binding := repository.DomainBinding{
		ProjectID:            project.ID,
		Domain:               project.Domain,
		DomainVerified:       project.DomainVerified,
		StudioDomain:         project.StudioDomain,
		StudioDomainVerified: project.StudioDomainVerified,
	}
	var notes []string

	if input.APIDomain != nil {
		name := Normalize(*input.APIDomain)
		if err := ValidateFormat(name); err != nil {
			return nil, err
		}
		if err := s.CheckAvailable(ctx, name, project.ID); err != nil {
			return nil, err
		}
		verified := s.verifier.Verify(ctx, name)
		binding.Domain = name
		binding.DomainVerified = verified
		notes = append(notes, verificationNote(name, verified))
	}
	if input.StudioDomain != nil {
		name := Normalize(*input.StudioDomain)
		if err := ValidateFormat(name); err != nil {
			return nil, err
		}
		if err := s.CheckAvailable(ctx, name, project.ID); err != nil {
			return nil, err
		}
		verified := s.verifier.Verify(ctx, name)
		binding.StudioDomain = name
		binding.StudioDomainVerified = verified
		notes = append(notes, verificationNote(name, verified))
	}

	if err := s.projects.UpdateDomainBinding(ctx, binding); err != nil {
		return nil, err
	}
	if err := s.renderBinding(ctx, project.Slug, binding); err != nil {
		return nil, err
	}

	s.logger.Info("project domains updated", "project_id", project.ID, "slug", project.Slug,
		"domain", binding.Domain, "studio_domain", binding.StudioDomain)
	return bindingResult(binding, strings.Join(notes, "; ")), nil
}

// RemoveProjectDomains clears the selected domain fields and their flags,
// then re-renders the routing document; with no domain left the document
// becomes the inert placeholder.
func (s Service) RemoveProjectDomains(ctx context.Context, projectID string, removeAPI, removeStudio bool) (*BindingResult, error) {
	project, err := s.projects.GetProjectByID(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if !removeAPI && !removeStudio {
		return nil, ErrDomainRequired
	}

	binding := repository.DomainBinding{
		ProjectID:            project.ID,
		Domain:               project.Domain,
		DomainVerified:       project.DomainVerified,
		StudioDomain:         project.StudioDomain,
		StudioDomainVerified: project.StudioDomainVerified,
	}
	if removeAPI {
		binding.Domain = ""
		binding.DomainVerified = false
	}
	if removeStudio {
		binding.StudioDomain = ""
		binding.StudioDomainVerified = false
	}

	if err := s.projects.UpdateDomainBinding(ctx, binding); err != nil {
		return nil, err
	}
	if err := s.renderBinding(ctx, project.Slug, binding); err != nil {
		return nil, err
	}

	s.logger.Info("project domains removed", "project_id", project.ID, "slug", project.Slug,
		"removed_api", removeAPI, "removed_studio", removeStudio)
	return bindingResult(binding, "domain bindings removed"), nil
}

// VerifyProjectDomains re-runs DNS verification for the stored domains and
// persists the updated flags. Manual re-check for pending domains.
func (s Service) VerifyProjectDomains(ctx context.Context, projectID string) (*BindingResult, error) {
	project, err := s.projects.GetProjectByID(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if project.Domain == "" && project.StudioDomain == "" {
		return nil, ErrDomainRequired
	}

	binding := repository.DomainBinding{
		ProjectID:    project.ID,
		Domain:       project.Domain,
		StudioDomain: project.StudioDomain,
	}
	var notes []string
	if project.Domain != "" {
		binding.DomainVerified = s.verifier.Verify(ctx, project.Domain)
		notes = append(notes, verificationNote(project.Domain, binding.DomainVerified))
	}
	if project.StudioDomain != "" {
		binding.StudioDomainVerified = s.verifier.Verify(ctx, project.StudioDomain)
		notes = append(notes, verificationNote(project.StudioDomain, binding.StudioDomainVerified))
	}

	if err := s.projects.UpdateDomainBinding(ctx, binding); err != nil {
		return nil, err
	}
	return bindingResult(binding, strings.Join(notes, "; ")), nil
}

// SetPanelDomain binds the panel's own domain, with the same validation
// and verification path as project domains.
func (s Service) SetPanelDomain(ctx context.Context, name string) (*BindingResult, error) {
	name = Normalize(name)
	if err := ValidateFormat(name); err != nil {
		return nil, err
	}
	matches, err := s.projects.FindProjectsByDomain(ctx, name, "")
	if err != nil {
		return nil, err
	}
	if len(matches) > 0 {
		return nil, ErrDomainTaken
	}

	verified := s.verifier.Verify(ctx, name)
	now := time.Now().UTC()
	if err := s.settings.UpsertSetting(ctx, &domain.PanelSetting{Key: domain.SettingPanelDomain, Value: name, UpdatedAt: now}); err != nil {
		return nil, err
	}
	if err := s.settings.UpsertSetting(ctx, &domain.PanelSetting{Key: domain.SettingPanelDomainVerified, Value: fmt.Sprintf("%t", verified), UpdatedAt: now}); err != nil {
		return nil, err
	}

	spec := proxy.RouteSpec{
		APIDomain:     name,
		APIPort:       s.cfg.PanelPort,
		PanelUpstream: fmt.Sprintf("http://panel:%d", s.cfg.PanelPort),
	}
	if err := s.sink.Render(proxy.PanelSlug, spec); err != nil {
		return nil, err
	}

	s.logger.Info("panel domain updated", "domain", name, "verified", verified)
	return &BindingResult{Domain: name, DomainVerified: verified, Message: verificationNote(name, verified)}, nil
}

// PanelDomain reports the panel's current domain binding.
func (s Service) PanelDomain(ctx context.Context) (string, bool, error) {
	setting, err := s.settings.GetSetting(ctx, domain.SettingPanelDomain)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	verified := false
	if flag, err := s.settings.GetSetting(ctx, domain.SettingPanelDomainVerified); err == nil {
		verified = flag.Value == "true"
	}
	return setting.Value, verified, nil
}

func (s Service) renderBinding(ctx context.Context, slug string, binding repository.DomainBinding) error {
	if binding.Domain == "" && binding.StudioDomain == "" {
		return s.sink.Clear(slug)
	}
	vars, err := s.envs.ListEnvVars(ctx, binding.ProjectID)
	if err != nil {
		return err
	}
	ports := domain.ResolvePorts(vars)
	return s.sink.Render(slug, proxy.RouteSpec{
		APIDomain:    binding.Domain,
		StudioDomain: binding.StudioDomain,
		APIPort:      ports.APIGateway,
		StudioPort:   ports.Studio,
	})
}

func bindingResult(binding repository.DomainBinding, message string) *BindingResult {
	return &BindingResult{
		Domain:               binding.Domain,
		DomainVerified:       binding.DomainVerified,
		StudioDomain:         binding.StudioDomain,
		StudioDomainVerified: binding.StudioDomainVerified,
		Message:              message,
	}
}

func verificationNote(name string, verified bool) string {
	if verified {
		return name + " verified"
	}
	return name + " saved, DNS verification pending"
}
