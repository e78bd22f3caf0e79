package computor

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/computor-org/computor-client-go/credentials"
)

const (
	// DefaultTokenExpiryBuffer is subtracted from the recorded expiry when
	// deciding whether a token is still usable, so refresh happens before
	// the server starts rejecting it.
	DefaultTokenExpiryBuffer = 30 * time.Second

	// DefaultTokenProfile names the credential profile used when no token
	// manager profile is configured.
	DefaultTokenProfile = "default"
)

var defaultOIDCScopes = []string{"openid", "profile", "email"}

// KeycloakConfig describes the Keycloak realm acting as the OpenID Connect
// provider. BaseURL is the server root without the realm path.
type KeycloakConfig struct {
	BaseURL      string
	Realm        string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string
}

// AuthEndpoint returns the realm's authorization endpoint.
func (kc KeycloakConfig) AuthEndpoint() string { return kc.realmEndpoint("auth") }

// TokenEndpoint returns the realm's token endpoint.
func (kc KeycloakConfig) TokenEndpoint() string { return kc.realmEndpoint("token") }

func (kc KeycloakConfig) realmEndpoint(name string) string {
	return strings.TrimRight(kc.BaseURL, "/") + "/realms/" + kc.Realm + "/protocol/openid-connect/" + name
}

// OAuthConfig builds the oauth2 configuration for the realm. Scopes default
// to "openid profile email" when unset.
func (kc KeycloakConfig) OAuthConfig() *oauth2.Config {
	scopes := kc.Scopes
	if len(scopes) == 0 {
		scopes = defaultOIDCScopes
	}
	return &oauth2.Config{
		ClientID:     kc.ClientID,
		ClientSecret: kc.ClientSecret,
		RedirectURL:  kc.RedirectURI,
		Scopes:       scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  kc.AuthEndpoint(),
			TokenURL: kc.TokenEndpoint(),
		},
	}
}

// JWTAuth authenticates requests with a bearer token obtained from Keycloak.
// AuthHeaders refreshes the token through the OAuth2 refresh grant when it is
// about to expire; a failed refresh clears all held tokens so the session
// fails closed instead of retrying with dead credentials.
//
// Tokens live in memory. Attach a credentials.TokenManager to persist them
// across restarts; LoadTokens restores a previously saved session.
type JWTAuth struct {
	mu           sync.Mutex
	provider     KeycloakConfig
	accessToken  string
	refreshToken string
	expiresAt    time.Time

	// refreshMu serializes refresh grants so concurrent callers cannot
	// burn the same refresh token twice.
	refreshMu sync.Mutex

	expiryBuffer time.Duration
	httpClient   *http.Client
	tokens       *credentials.TokenManager
	profile      string
	logger       Logger
	metrics      *MetricsCollector
}

// JWTOption configures a JWTAuth.
type JWTOption func(*JWTAuth)

// WithExpiryBuffer sets how long before the recorded expiry a token is
// treated as expired.
func WithExpiryBuffer(d time.Duration) JWTOption {
	return func(j *JWTAuth) {
		if d >= 0 {
			j.expiryBuffer = d
		}
	}
}

// WithTokenManager persists tokens under profile so sessions survive
// restarts.
func WithTokenManager(tm *credentials.TokenManager, profile string) JWTOption {
	return func(j *JWTAuth) {
		j.tokens = tm
		if profile != "" {
			j.profile = profile
		}
	}
}

// WithRefreshHTTPClient sets the HTTP client used for token endpoint calls.
func WithRefreshHTTPClient(hc *http.Client) JWTOption {
	return func(j *JWTAuth) {
		if hc != nil {
			j.httpClient = hc
		}
	}
}

// WithAuthLogger sets the logger for refresh and persistence events.
func WithAuthLogger(l Logger) JWTOption {
	return func(j *JWTAuth) { j.logger = l }
}

// WithAuthMetrics records refresh outcomes on mc.
func WithAuthMetrics(mc *MetricsCollector) JWTOption {
	return func(j *JWTAuth) { j.metrics = mc }
}

// NewJWTAuth returns a JWT strategy for the given provider.
func NewJWTAuth(provider KeycloakConfig, opts ...JWTOption) *JWTAuth {
	j := &JWTAuth{
		provider:     provider,
		expiryBuffer: DefaultTokenExpiryBuffer,
		profile:      DefaultTokenProfile,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// LoadTokens restores a persisted session from the token manager. Nothing
// persisted is not an error; without a token manager it is a no-op.
func (j *JWTAuth) LoadTokens(ctx context.Context) error {
	j.mu.Lock()
	tm, profile := j.tokens, j.profile
	j.mu.Unlock()
	if tm == nil {
		return nil
	}

	creds, err := tm.Credentials(ctx, profile)
	if errors.Is(err, credentials.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	j.mu.Lock()
	j.accessToken = creds.Token
	j.refreshToken = creds.RefreshToken
	j.expiresAt = creds.ExpiresAt
	j.mu.Unlock()
	return nil
}

// SetTokens installs tokens obtained out of band. A zero expiresAt is
// inferred from the access token's exp claim when it parses as a JWT. The
// tokens are persisted when a token manager is attached.
func (j *JWTAuth) SetTokens(ctx context.Context, access, refresh string, expiresAt time.Time) error {
	if expiresAt.IsZero() && access != "" {
		if exp, ok := credentials.ParseJWTExpiration(access); ok {
			expiresAt = exp
		}
	}

	j.mu.Lock()
	j.accessToken = access
	j.refreshToken = refresh
	j.expiresAt = expiresAt
	tm, profile := j.tokens, j.profile
	j.mu.Unlock()

	if tm == nil || access == "" {
		return nil
	}
	return tm.StoreToken(ctx, profile, access,
		credentials.WithType(credentials.TypeJWT),
		credentials.WithRefreshToken(refresh),
		credentials.WithExpiresAt(expiresAt),
	)
}

// SetToken installs a bare access token, inferring its expiry from the exp
// claim.
func (j *JWTAuth) SetToken(ctx context.Context, access string) error {
	return j.SetTokens(ctx, access, "", time.Time{})
}

// TokenExpired reports whether the held token is within the expiry buffer of
// its recorded expiry. Tokens without a recorded expiry never expire locally;
// the server is the authority for those.
func (j *JWTAuth) TokenExpired() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.tokenExpiredLocked(time.Now())
}

func (j *JWTAuth) tokenExpiredLocked(now time.Time) bool {
	if j.expiresAt.IsZero() {
		return false
	}
	return !now.Before(j.expiresAt.Add(-j.expiryBuffer))
}

// IsAuthenticated reports whether a non-expired access token is held.
func (j *JWTAuth) IsAuthenticated() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.accessToken != "" && !j.tokenExpiredLocked(time.Now())
}

// AuthHeaders returns the bearer header for the held token, refreshing it
// first when it is expired and a refresh token is available. Returns an empty
// map when no token is held.
func (j *JWTAuth) AuthHeaders(ctx context.Context) (map[string]string, error) {
	j.mu.Lock()
	needsRefresh := j.accessToken != "" && j.refreshToken != "" && j.tokenExpiredLocked(time.Now())
	j.mu.Unlock()

	if needsRefresh {
		if err := j.RefreshAuth(ctx); err != nil {
			return nil, err
		}
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.accessToken == "" {
		return map[string]string{}, nil
	}
	return map[string]string{"Authorization": "Bearer " + j.accessToken}, nil
}

// RefreshAuth exchanges the refresh token for a new token pair. On failure
// the held tokens are cleared and any persisted ones revoked, so subsequent
// requests go out unauthenticated rather than with known-bad credentials.
// When a concurrent refresh already replaced the token it returns nil without
// another grant.
func (j *JWTAuth) RefreshAuth(ctx context.Context) error {
	j.mu.Lock()
	stale := j.accessToken
	j.mu.Unlock()

	j.refreshMu.Lock()
	defer j.refreshMu.Unlock()

	j.mu.Lock()
	current, rt := j.accessToken, j.refreshToken
	conf := j.provider.OAuthConfig()
	j.mu.Unlock()

	if current != "" && current != stale {
		return nil
	}
	if rt == "" {
		return newAuthError("no refresh token available", nil)
	}

	src := conf.TokenSource(j.oauthContext(ctx), &oauth2.Token{RefreshToken: rt})
	tok, err := src.Token()
	if err != nil {
		j.clearTokens(ctx)
		j.metrics.RecordAuthRefresh("failure")
		if j.logger != nil {
			j.logger.Warn("token refresh failed, clearing session", "profile", j.profile, "error", err)
		}
		return newAuthError("token refresh failed", err)
	}

	j.metrics.RecordAuthRefresh("success")
	return j.installToken(ctx, tok)
}

// ExchangeCode trades an authorization code obtained out of band for a token
// pair and installs it. The code comes from the URL returned by
// AuthorizationURL after the user completes the provider's consent step.
func (j *JWTAuth) ExchangeCode(ctx context.Context, code string) error {
	j.mu.Lock()
	conf := j.provider.OAuthConfig()
	j.mu.Unlock()

	tok, err := conf.Exchange(j.oauthContext(ctx), code)
	if err != nil {
		return newAuthError("authorization code exchange failed", err)
	}
	if j.logger != nil {
		j.logger.Info("authorization code exchanged", "profile", j.profile)
	}
	return j.installToken(ctx, tok)
}

// Authenticate cannot run the interactive authorization code flow itself. It
// fails with an authentication error whose message carries the authorization
// URL to visit; pass the resulting code to ExchangeCode.
func (j *JWTAuth) Authenticate(ctx context.Context) error {
	state, err := credentials.GenerateSecureToken(credentials.DefaultSecureTokenLength)
	if err != nil {
		return newAuthError("failed to generate state parameter", err)
	}
	return newAuthError("interactive sign-in is not supported; authorize at "+j.AuthorizationURL(state)+" and pass the code to ExchangeCode", nil)
}

// AuthorizationURL returns the provider's authorization code URL with the
// given state parameter.
func (j *JWTAuth) AuthorizationURL(state string) string {
	j.mu.Lock()
	conf := j.provider.OAuthConfig()
	j.mu.Unlock()
	return conf.AuthCodeURL(state)
}

// SetProviderConfig replaces the provider and drops the held tokens: a token
// issued by one realm means nothing to another.
func (j *JWTAuth) SetProviderConfig(cfg KeycloakConfig) {
	j.mu.Lock()
	j.provider = cfg
	j.accessToken = ""
	j.refreshToken = ""
	j.expiresAt = time.Time{}
	j.mu.Unlock()
}

// ClearTokens drops the held tokens and revokes any persisted ones.
func (j *JWTAuth) ClearTokens(ctx context.Context) {
	j.clearTokens(ctx)
}

func (j *JWTAuth) clearTokens(ctx context.Context) {
	j.mu.Lock()
	j.accessToken = ""
	j.refreshToken = ""
	j.expiresAt = time.Time{}
	tm, profile := j.tokens, j.profile
	j.mu.Unlock()

	if tm == nil {
		return
	}
	if err := tm.RevokeToken(ctx, profile); err != nil && j.logger != nil {
		j.logger.Warn("failed to revoke persisted tokens", "profile", profile, "error", err)
	}
}

// installToken stores a freshly issued token pair in memory and, when a token
// manager is attached, in the credential store. Keycloak rotates refresh
// tokens, so a new one replaces the old; an empty one keeps the current.
func (j *JWTAuth) installToken(ctx context.Context, tok *oauth2.Token) error {
	expiresAt := tok.Expiry
	if expiresAt.IsZero() {
		if exp, ok := credentials.ParseJWTExpiration(tok.AccessToken); ok {
			expiresAt = exp
		}
	}

	j.mu.Lock()
	j.accessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		j.refreshToken = tok.RefreshToken
	}
	refresh := j.refreshToken
	j.expiresAt = expiresAt
	tm, profile := j.tokens, j.profile
	j.mu.Unlock()

	if j.logger != nil {
		j.logger.Debug("token installed", "profile", profile, "expires_at", expiresAt)
	}
	if tm == nil {
		return nil
	}
	if err := tm.StoreToken(ctx, profile, tok.AccessToken,
		credentials.WithType(credentials.TypeJWT),
		credentials.WithRefreshToken(refresh),
		credentials.WithExpiresAt(expiresAt),
	); err != nil {
		// The in-memory session is live; losing persistence only costs
		// the next restart.
		if j.logger != nil {
			j.logger.Warn("failed to persist tokens", "profile", profile, "error", err)
		}
	}
	return nil
}

func (j *JWTAuth) oauthContext(ctx context.Context) context.Context {
	if j.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, j.httpClient)
}
