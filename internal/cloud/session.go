// Package cloud talks to the NDI cloud REST API. Credentials live in an
// explicit Session read from the environment once; the Client built on it
// implements cloudsync.Remote.
package cloud

import (
	"os"
	"strings"
	"sync"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"

	"github.com/roach88/ndicore/internal/ndierr"
)

// Environment variables read by NewSessionFromEnv.
const (
	EnvToken          = "NDI_CLOUD_TOKEN"
	EnvOrganizationID = "NDI_CLOUD_ORGANIZATION_ID"
	EnvUsername       = "NDI_CLOUD_USERNAME"
	EnvPassword       = "NDI_CLOUD_PASSWORD"
	EnvAPIEnvironment = "CLOUD_API_ENVIRONMENT"
)

// API environments.
const (
	Prod = "prod"
	Dev  = "dev"
)

var baseURLs = map[string]string{
	Prod: "https://api.ndi-cloud.com/v1",
	Dev:  "https://dev-api.ndi-cloud.com/v1",
}

// expirySkew is how early a token counts as expired.
const expirySkew = 30 * time.Second

// Session holds cloud credentials. It is safe for concurrent use; the
// token is replaced on re-authentication.
type Session struct {
	OrganizationID string
	Username       string
	Password       string
	Environment    string
	BaseURL        string

	mu     sync.Mutex
	token  string
	expiry time.Time
}

// NewSessionFromEnv reads the cloud environment variables. Either a token
// or a username and password must be set.
func NewSessionFromEnv() (*Session, error) {
	return newSession(os.LookupEnv)
}

func newSession(lookup func(string) (string, bool)) (*Session, error) {
	const op = "cloud.session_from_env"
	get := func(k string) string {
		v, _ := lookup(k)
		return strings.TrimSpace(v)
	}
	env := strings.ToLower(get(EnvAPIEnvironment))
	if env == "" {
		env = Prod
	}
	base, ok := baseURLs[env]
	if !ok {
		return nil, ndierr.Invalid(op, "%s must be %q or %q, got %q", EnvAPIEnvironment, Prod, Dev, env)
	}
	s := &Session{
		OrganizationID: get(EnvOrganizationID),
		Username:       get(EnvUsername),
		Password:       get(EnvPassword),
		Environment:    env,
		BaseURL:        base,
	}
	if tok := get(EnvToken); tok != "" {
		if err := s.SetToken(tok); err != nil {
			return nil, err
		}
	}
	if s.Token() == "" && !s.CanLogin() {
		return nil, ndierr.New(ndierr.KindAuthFailure, op,
			"set "+EnvToken+" or both "+EnvUsername+" and "+EnvPassword)
	}
	return s, nil
}

// NewSession returns a session for an explicit base URL, for servers
// outside the known environments.
func NewSession(baseURL, organizationID, username, password string) *Session {
	return &Session{
		OrganizationID: organizationID,
		Username:       username,
		Password:       password,
		BaseURL:        strings.TrimRight(baseURL, "/"),
	}
}

// CanLogin reports whether the session can fetch a fresh token.
func (s *Session) CanLogin() bool {
	return s.Username != "" && s.Password != ""
}

// Token returns the current bearer token.
func (s *Session) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// Expiry returns when the current token expires. The zero time means the
// token carries no expiry.
func (s *Session) Expiry() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expiry
}

// SetToken installs a token, reading its expiry from the exp claim.
func (s *Session) SetToken(token string) error {
	exp, err := TokenExpiry(token)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.token, s.expiry = token, exp
	s.mu.Unlock()
	return nil
}

// Expired reports whether the token is missing or about to expire at now.
func (s *Session) Expired(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == "" {
		return true
	}
	return !s.expiry.IsZero() && !now.Add(expirySkew).Before(s.expiry)
}

// TokenExpiry reads the exp claim of a JWT without verifying its
// signature.
func TokenExpiry(token string) (time.Time, error) {
	parser := gojwt.NewParser()
	parsed, _, err := parser.ParseUnverified(token, gojwt.MapClaims{})
	if err != nil {
		return time.Time{}, ndierr.Wrap(ndierr.KindAuthFailure, "cloud.token_expiry", err)
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, ndierr.Wrap(ndierr.KindAuthFailure, "cloud.token_expiry", err)
	}
	if exp == nil {
		return time.Time{}, nil
	}
	return exp.Time, nil
}
