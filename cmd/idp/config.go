package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/goliatone/go-idp"
)

// Config is the env backed configuration of the server binary.
type Config struct {
	SigningKey          string        `env:"IDP_SIGNING_KEY,required,unset" json:"-"`
	Issuer              string        `env:"IDP_ISSUER" envDefault:"http://localhost:8570" json:"issuer"`
	AccessTokenTTL      time.Duration `env:"IDP_ACCESS_TOKEN_TTL" envDefault:"1h" json:"access_token_ttl"`
	IdentityTokenTTL    time.Duration `env:"IDP_IDENTITY_TOKEN_TTL" envDefault:"20m" json:"identity_token_ttl"`
	RefreshTokenTTL     time.Duration `env:"IDP_REFRESH_TOKEN_TTL" envDefault:"336h" json:"refresh_token_ttl"`
	LockoutThreshold    int           `env:"IDP_LOCKOUT_THRESHOLD" envDefault:"5" json:"lockout_threshold"`
	LockoutDuration     time.Duration `env:"IDP_LOCKOUT_DURATION" envDefault:"15m" json:"lockout_duration"`
	TenantHeader        string        `env:"IDP_TENANT_HEADER" envDefault:"X-Organization-Id" json:"tenant_header"`
	OrganizationAdmin   string        `env:"IDP_ORGANIZATION_ADMIN_PREFIX" envDefault:"/api/admin/organizations" json:"organization_admin_prefix"`
	AfterHookPolicyName string        `env:"IDP_AFTER_HOOK_POLICY" envDefault:"log" json:"after_hook_policy"`

	DSN         string `env:"IDP_DSN" envDefault:"file:idp.db?cache=shared" json:"-"`
	ListenAddr  string `env:"IDP_LISTEN_ADDR" envDefault:":8570" json:"listen_addr"`
	MetricsAddr string `env:"IDP_METRICS_ADDR" envDefault:":9570" json:"metrics_addr"`

	ClientsJSON        string  `env:"IDP_CLIENTS" json:"-"`
	ScopeResourcesJSON string  `env:"IDP_SCOPE_RESOURCES" json:"-"`
	SeedFile           string  `env:"IDP_SEED_FILE" json:"seed_file,omitempty"`
	ClientRateLimit    float64 `env:"IDP_CLIENT_RATE_LIMIT" envDefault:"0" json:"client_rate_limit"`
	ClientRateBurst    int     `env:"IDP_CLIENT_RATE_BURST" envDefault:"10" json:"client_rate_burst"`

	afterHookPolicy idp.AfterHookPolicy
	clients         idp.ClientOptions
	scopeResources  idp.ScopeResources
}

var _ idp.Config = (*Config)(nil)

// LoadConfig parses the environment and decodes the JSON payloads.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	policy, err := idp.ParseAfterHookPolicy(cfg.AfterHookPolicyName)
	if err != nil {
		return nil, err
	}
	cfg.afterHookPolicy = policy

	if strings.TrimSpace(cfg.ClientsJSON) != "" {
		if err := json.Unmarshal([]byte(cfg.ClientsJSON), &cfg.clients.Clients); err != nil {
			return nil, fmt.Errorf("parse IDP_CLIENTS: %w", err)
		}
	}

	if strings.TrimSpace(cfg.ScopeResourcesJSON) != "" {
		if err := json.Unmarshal([]byte(cfg.ScopeResourcesJSON), &cfg.scopeResources); err != nil {
			return nil, fmt.Errorf("parse IDP_SCOPE_RESOURCES: %w", err)
		}
	}

	return cfg, cfg.Validate()
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.SigningKey, validation.Required, validation.Length(32, 0)),
		validation.Field(&c.LockoutThreshold, validation.Min(1)),
		validation.Field(&c.ListenAddr, validation.Required),
		validation.Field(&c.clients),
	)
}

// LoadSeed reads the seed document, if one is configured.
func (c *Config) LoadSeed() (*idp.SeedData, error) {
	if c.SeedFile == "" {
		return nil, nil
	}

	raw, err := os.ReadFile(c.SeedFile)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}

	data := &idp.SeedData{}
	if err := json.Unmarshal(raw, data); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	return data, data.Validate()
}

func (c *Config) Clients() idp.ClientOptions              { return c.clients }
func (c *Config) ScopeResources() idp.ScopeResources      { return c.scopeResources }
func (c *Config) GetSigningKey() string                   { return c.SigningKey }
func (c *Config) GetIssuer() string                       { return c.Issuer }
func (c *Config) GetAccessTokenTTL() time.Duration        { return c.AccessTokenTTL }
func (c *Config) GetIdentityTokenTTL() time.Duration      { return c.IdentityTokenTTL }
func (c *Config) GetRefreshTokenTTL() time.Duration       { return c.RefreshTokenTTL }
func (c *Config) GetLockoutThreshold() int                { return c.LockoutThreshold }
func (c *Config) GetLockoutDuration() time.Duration       { return c.LockoutDuration }
func (c *Config) GetTenantHeader() string                 { return c.TenantHeader }
func (c *Config) GetOrganizationAdminPrefix() string      { return c.OrganizationAdmin }
func (c *Config) GetAfterHookPolicy() idp.AfterHookPolicy { return c.afterHookPolicy }
