package computor

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/computor-org/computor-client-go/credentials"
	"github.com/computor-org/computor-client-go/settings"
)

// FromSettings builds a client from declarative settings, wiring the auth
// strategy, credential store and cache they describe. Extra options are
// applied afterwards so callers can override anything derived. Unlike New,
// an invalid configuration is an error here rather than a deferred flag.
func FromSettings(s *settings.Settings, extra ...Option) (*Client, error) {
	if s == nil {
		return nil, newValidationError("settings are required")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}

	opts := []Option{
		WithTimeout(s.Timeout.Std()),
		WithMaxRetries(s.MaxRetries),
		WithInitialBackoff(s.InitialBackoff.Std()),
		WithMaxBackoff(s.MaxBackoff.Std()),
	}
	if s.BaseURL != "" {
		opts = append(opts, WithBaseURL(s.BaseURL))
	}

	if s.CacheEnabled {
		cache, err := cacheFromSettings(s)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithCustomCache(cache, s.CacheTTL.Std()))
	}

	strategy, err := strategyFromSettings(s)
	if err != nil {
		return nil, err
	}
	if strategy != nil {
		opts = append(opts, WithAuth(strategy))
	}

	if s.Debug {
		opts = append(opts, WithStructuredLogger())
	}

	opts = append(opts, extra...)

	client := New(opts...)
	if err := client.ValidationError(); err != nil {
		return nil, err
	}
	return client, nil
}

func cacheFromSettings(s *settings.Settings) (Cache, error) {
	if s.RedisURL != "" {
		redisOpts, err := redis.ParseURL(s.RedisURL)
		if err != nil {
			return nil, newValidationError("invalid redis URL: " + err.Error())
		}
		return NewRedisCache(redis.NewClient(redisOpts)), nil
	}

	policy := EvictLRU
	if s.CachePolicy == settings.CachePolicyFIFO {
		policy = EvictFIFO
	}
	return NewMemoryCache(s.CacheSize, policy), nil
}

func strategyFromSettings(s *settings.Settings) (AuthStrategy, error) {
	switch s.AuthProvider {
	case settings.ProviderNone, "":
		return nil, nil

	case settings.ProviderAPIKey:
		var keyOpts []APIKeyOption
		if s.APIKeyHeader != "" {
			keyOpts = append(keyOpts, WithKeyHeader(s.APIKeyHeader))
		}
		if s.APIKeyPrefix != "" {
			keyOpts = append(keyOpts, WithKeyPrefix(s.APIKeyPrefix))
		}
		return NewAPIKeyAuth(s.APIKey, keyOpts...), nil

	case settings.ProviderJWT:
		provider := KeycloakConfig{
			BaseURL:      s.KeycloakBaseURL,
			Realm:        s.KeycloakRealm,
			ClientID:     s.KeycloakClientID,
			ClientSecret: s.KeycloakClientSecret,
			RedirectURI:  s.KeycloakRedirectURI,
		}
		secrets, err := credentials.OpenSecretStore(credentials.Config{
			Driver: s.CredentialDriver,
			Path:   s.CredentialPath,
		})
		if err != nil {
			return nil, fmt.Errorf("open credential store: %w", err)
		}
		tokens := credentials.NewTokenManager(credentials.NewStore(secrets))
		return NewJWTAuth(provider, WithTokenManager(tokens, s.TokenProfile)), nil

	default:
		return nil, newValidationError(fmt.Sprintf("unknown auth provider %q", s.AuthProvider))
	}
}
