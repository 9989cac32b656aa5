package config

import "time"

// PanelConfig holds runtime configuration for the admin panel.
type PanelConfig struct {
	Environment   string
	Addr          string
	DatabaseURL   string
	MigrationsDir string

	// ProjectsDir holds one directory per project slug with its compose
	// definition and env file. ProxyDir is watched by the reverse proxy
	// file provider for dynamic routing documents.
	ProjectsDir string
	ProxyDir    string

	// ComposeBin is the container CLI used for project stacks, invoked
	// as "<bin> compose".
	ComposeBin string
	DockerHost string

	// PanelHost is the address operators reach this panel on; it doubles
	// as the fallback host for project studio URLs.
	PanelHost string
	PanelPort int

	DNSTimeout     time.Duration
	ComposeTimeout time.Duration
	LogTailDefault int

	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int
}

// LoadPanelConfig constructs a PanelConfig from environment variables.
func LoadPanelConfig() PanelConfig {
	return PanelConfig{
		Environment:        GetString("APP_ENV", "development"),
		Addr:               GetString("PANEL_ADDR", ":4000"),
		DatabaseURL:        GetString("DATABASE_URL", "postgres://panel:panel@db:5432/panel?sslmode=disable"),
		MigrationsDir:      GetString("DB_MIGRATIONS_DIR", "./db/migrations"),
		ProjectsDir:        GetString("PROJECTS_DIR", "/var/lib/selfbase/projects"),
		ProxyDir:           GetString("PROXY_DYNAMIC_DIR", "/var/lib/selfbase/traefik"),
		ComposeBin:         GetString("COMPOSE_BIN", "docker"),
		DockerHost:         GetString("DOCKER_HOST", ""),
		PanelHost:          GetString("PANEL_HOST", "localhost"),
		PanelPort:          GetInt("PANEL_PORT", 4000),
		DNSTimeout:         GetDuration("DNS_TIMEOUT_SECONDS", 5),
		ComposeTimeout:     GetDuration("COMPOSE_TIMEOUT_SECONDS", 300),
		LogTailDefault:     GetInt("LOG_TAIL_DEFAULT", 100),
		RateLimitRedisAddr: GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass: GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:   GetInt("RATE_LIMIT_REDIS_DB", 0),
	}
}
