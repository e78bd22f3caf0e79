// Package settings loads client configuration from the environment and from
// JSON profile files, so deployments configure the client declaratively
// instead of assembling options in code.
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix is prepended to every environment variable name, so BaseURL is
// read from COMPUTOR_BASE_URL.
const EnvPrefix = "COMPUTOR_"

// Auth providers selectable through Settings.AuthProvider.
const (
	ProviderNone   = "none"
	ProviderAPIKey = "apikey"
	ProviderJWT    = "jwt"
)

// Cache eviction policies selectable through Settings.CachePolicy.
const (
	CachePolicyLRU  = "lru"
	CachePolicyFIFO = "fifo"
)

// Duration is a time.Duration that unmarshals from "30s"-style strings in
// both environment variables and JSON. Bare JSON numbers are taken as
// milliseconds.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for env parsing.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// UnmarshalJSON accepts either a duration string or a number of milliseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case string:
		return d.UnmarshalText([]byte(value))
	case float64:
		*d = Duration(time.Duration(value) * time.Millisecond)
		return nil
	default:
		return fmt.Errorf("invalid duration %s", data)
	}
}

// MarshalJSON renders the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Settings describes a client profile. Zero values fall back to the defaults
// in Default; FromEnv and LoadFile overlay onto those defaults, so partial
// configuration is fine.
type Settings struct {
	// BaseURL is the API root endpoint-relative requests resolve against.
	BaseURL string `env:"BASE_URL" json:"baseUrl"`

	// AuthProvider selects the auth strategy: none, apikey or jwt.
	AuthProvider string `env:"AUTH_PROVIDER" json:"authProvider"`

	APIKey       string `env:"API_KEY" json:"apiKey"`
	APIKeyHeader string `env:"API_KEY_HEADER" json:"apiKeyHeader"`
	APIKeyPrefix string `env:"API_KEY_PREFIX" json:"apiKeyPrefix"`

	KeycloakBaseURL      string `env:"KEYCLOAK_BASE_URL" json:"keycloakBaseUrl"`
	KeycloakRealm        string `env:"KEYCLOAK_REALM" json:"keycloakRealm"`
	KeycloakClientID     string `env:"KEYCLOAK_CLIENT_ID" json:"keycloakClientId"`
	KeycloakClientSecret string `env:"KEYCLOAK_CLIENT_SECRET" json:"-"`
	KeycloakRedirectURI  string `env:"KEYCLOAK_REDIRECT_URI" json:"keycloakRedirectUri"`

	// TokenProfile names the credential vault entry tokens persist under.
	TokenProfile string `env:"TOKEN_PROFILE" json:"tokenProfile"`
	// CredentialDriver selects the secret store: memory, file or sqlite.
	CredentialDriver string `env:"CREDENTIAL_DRIVER" json:"credentialDriver"`
	CredentialPath   string `env:"CREDENTIAL_PATH" json:"credentialPath"`

	Timeout        Duration `env:"TIMEOUT" json:"timeout"`
	MaxRetries     int      `env:"MAX_RETRIES" json:"maxRetries"`
	InitialBackoff Duration `env:"INITIAL_BACKOFF" json:"initialBackoff"`
	MaxBackoff     Duration `env:"MAX_BACKOFF" json:"maxBackoff"`

	CacheEnabled bool     `env:"CACHE_ENABLED" json:"cacheEnabled"`
	CacheTTL     Duration `env:"CACHE_TTL" json:"cacheTtl"`
	CacheSize    int      `env:"CACHE_SIZE" json:"cacheSize"`
	CachePolicy  string   `env:"CACHE_POLICY" json:"cachePolicy"`
	// RedisURL switches the response cache to Redis when set.
	RedisURL string `env:"REDIS_URL" json:"redisUrl"`

	Debug bool `env:"DEBUG" json:"debug"`
}

// Default returns the settings a client runs with when nothing is configured.
func Default() *Settings {
	return &Settings{
		AuthProvider:     ProviderNone,
		APIKeyHeader:     "X-API-Key",
		TokenProfile:     "default",
		CredentialDriver: "memory",
		Timeout:          Duration(30 * time.Second),
		MaxRetries:       3,
		InitialBackoff:   Duration(100 * time.Millisecond),
		MaxBackoff:       Duration(10 * time.Second),
		CacheEnabled:     true,
		CacheTTL:         Duration(5 * time.Minute),
		CacheSize:        100,
		CachePolicy:      CachePolicyLRU,
	}
}

// FromEnv overlays COMPUTOR_* environment variables onto the defaults.
func FromEnv() (*Settings, error) {
	s := Default()
	if err := env.ParseWithOptions(s, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("settings: parse environment: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// LoadFile overlays a JSON profile file onto the defaults.
func LoadFile(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("settings: read %s: %w", path, err)
	}
	s := Default()
	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("settings: parse %s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks the settings for internal consistency, aggregating all
// problems into one error.
func (s *Settings) Validate() error {
	var problems []string

	switch s.AuthProvider {
	case ProviderNone, "":
	case ProviderAPIKey:
		if s.APIKey == "" {
			problems = append(problems, "apiKey is required when authProvider is apikey")
		}
	case ProviderJWT:
		if s.KeycloakBaseURL == "" {
			problems = append(problems, "keycloakBaseUrl is required when authProvider is jwt")
		}
		if s.KeycloakRealm == "" {
			problems = append(problems, "keycloakRealm is required when authProvider is jwt")
		}
		if s.KeycloakClientID == "" {
			problems = append(problems, "keycloakClientId is required when authProvider is jwt")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown authProvider %q", s.AuthProvider))
	}

	if s.Timeout <= 0 {
		problems = append(problems, "timeout must be positive")
	}
	if s.MaxRetries < 0 {
		problems = append(problems, "maxRetries must be non-negative")
	}
	if s.InitialBackoff <= 0 {
		problems = append(problems, "initialBackoff must be positive")
	}
	if s.MaxBackoff < s.InitialBackoff {
		problems = append(problems, "maxBackoff must be greater than or equal to initialBackoff")
	}

	if s.CacheEnabled {
		if s.CacheTTL < 0 {
			problems = append(problems, "cacheTtl must be non-negative")
		}
		if s.RedisURL == "" && s.CacheSize <= 0 {
			problems = append(problems, "cacheSize must be positive")
		}
	}
	switch s.CachePolicy {
	case CachePolicyLRU, CachePolicyFIFO, "":
	default:
		problems = append(problems, fmt.Sprintf("unknown cachePolicy %q", s.CachePolicy))
	}

	switch s.CredentialDriver {
	case "", "memory", "file", "sqlite":
	default:
		problems = append(problems, fmt.Sprintf("unknown credentialDriver %q", s.CredentialDriver))
	}
	if (s.CredentialDriver == "file" || s.CredentialDriver == "sqlite") && s.CredentialPath == "" {
		problems = append(problems, "credentialPath is required for file and sqlite credential drivers")
	}

	if len(problems) > 0 {
		return fmt.Errorf("settings: invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
