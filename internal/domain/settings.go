package domain

import "time"

// Panel-level setting keys. Settings are single-row-per-key with upsert
// semantics.
const (
	SettingPanelDomain         = "panel_domain"
	SettingPanelDomainVerified = "panel_domain_verified"
)

// PanelSetting is a key/value record for panel-wide configuration that is
// not scoped to any project.
type PanelSetting struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}
