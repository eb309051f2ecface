// Package application contains use-case orchestration services.
package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"github.com/ericfisherdev/tryonkit/internal/domain/model"
	"github.com/ericfisherdev/tryonkit/internal/domain/port/driven"
	"github.com/ericfisherdev/tryonkit/internal/observability"
)

const (
	// CredentialKey is the store key of the canonical credential record.
	CredentialKey = "session.credential"

	credentialVersion = 1
	renewalFlight     = "renew"

	defaultRenewalTimeout = 30 * time.Second
	defaultCheckInterval  = time.Minute
	// defaultTokenLifetime applies when neither the grant nor the access
	// token carries an expiry.
	defaultTokenLifetime = time.Hour
)

// storedCredential is the persisted shape of model.Credential.
type storedCredential struct {
	Version      int    `json:"version"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresAtMs  int64  `json:"expires_at_ms"`
	UserID       string `json:"user_id,omitempty"`
}

func encodeCredential(cred *model.Credential) (string, error) {
	b, err := json.Marshal(storedCredential{
		Version:      credentialVersion,
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		ExpiresAtMs:  cred.ExpiresAt.UnixMilli(),
		UserID:       cred.UserID,
	})
	if err != nil {
		return "", fmt.Errorf("encode credential: %w", err)
	}
	return string(b), nil
}

func decodeCredential(raw string) (*model.Credential, error) {
	var sc storedCredential
	if err := json.Unmarshal([]byte(raw), &sc); err != nil {
		return nil, fmt.Errorf("decode credential: %w", err)
	}
	if sc.Version != credentialVersion {
		return nil, fmt.Errorf("decode credential: unsupported version %d", sc.Version)
	}
	return &model.Credential{
		AccessToken:  sc.AccessToken,
		RefreshToken: sc.RefreshToken,
		ExpiresAt:    time.UnixMilli(sc.ExpiresAtMs).UTC(),
		UserID:       sc.UserID,
	}, nil
}

// SessionOption customizes a SessionManager.
type SessionOption func(*SessionManager)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) SessionOption {
	return func(s *SessionManager) { s.now = now }
}

// WithRenewalTimeout bounds a single renewal round-trip.
func WithRenewalTimeout(d time.Duration) SessionOption {
	return func(s *SessionManager) { s.renewTimeout = d }
}

// WithCheckInterval sets how often Run looks for a credential due for renewal.
func WithCheckInterval(d time.Duration) SessionOption {
	return func(s *SessionManager) { s.checkInterval = d }
}

// SessionManager owns the stored credential and every path that renews it.
//
// At most one renewal is in flight at a time. Callers that need a renewal
// while one is pending join it and observe its outcome instead of issuing a
// second refresh, since the identity provider may rotate the refresh token and
// a concurrent request would present a token that was just invalidated.
type SessionManager struct {
	store  driven.KeyValueStore
	idp    driven.IdentityProvider
	events driven.EventPublisher

	now           func() time.Time
	renewTimeout  time.Duration
	checkInterval time.Duration

	renewals singleflight.Group

	mu     sync.RWMutex
	cred   *model.Credential
	loaded bool

	suspendMu sync.Mutex
	suspended int
}

// NewSessionManager creates a SessionManager. events may be nil.
func NewSessionManager(
	store driven.KeyValueStore,
	idp driven.IdentityProvider,
	events driven.EventPublisher,
	opts ...SessionOption,
) *SessionManager {
	s := &SessionManager{
		store:         store,
		idp:           idp,
		events:        events,
		now:           time.Now,
		renewTimeout:  defaultRenewalTimeout,
		checkInterval: defaultCheckInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Credential returns a copy of the stored credential, or nil when signed out.
func (s *SessionManager) Credential(ctx context.Context) (*model.Credential, error) {
	cred, err := s.load(ctx)
	if err != nil || cred == nil {
		return nil, err
	}
	c := *cred
	return &c, nil
}

// State classifies the stored credential at the current instant.
func (s *SessionManager) State(ctx context.Context) (model.CredentialState, error) {
	cred, err := s.load(ctx)
	if err != nil {
		return model.CredentialNone, err
	}
	return cred.State(s.now()), nil
}

// GetAccessToken returns a usable access token, or "" when none can be
// produced. A near-expiry credential is renewed opportunistically; if that
// renewal fails the still-unexpired token is returned. An expired credential
// must be renewed successfully or "" is returned.
func (s *SessionManager) GetAccessToken(ctx context.Context) (string, error) {
	cred, err := s.load(ctx)
	if err != nil {
		return "", err
	}

	switch cred.State(s.now()) {
	case model.CredentialNone:
		return "", nil
	case model.CredentialValid:
		return cred.AccessToken, nil
	}

	renewed, err := s.renew(ctx)
	if err == nil {
		return renewed.AccessToken, nil
	}
	if cred.TTL(s.now()) > 0 {
		slog.Warn("credential renewal failed, using current token", "error", err, "ttl", cred.TTL(s.now()).Round(time.Second))
		return cred.AccessToken, nil
	}
	slog.Warn("credential renewal failed and token has expired", "error", err)
	return "", nil
}

// ForceRefresh prepares a credential for an expensive operation. Renewal is
// skipped while the remaining lifetime is at least model.ForceRefreshThreshold.
// Otherwise a renewal is attempted. On failure the current token is still
// returned if it has not expired, and model.ErrCredentialExhausted is
// returned when nothing usable is left.
func (s *SessionManager) ForceRefresh(ctx context.Context) (string, error) {
	cred, err := s.load(ctx)
	if err != nil {
		return "", err
	}
	if cred.IsZero() {
		return "", fmt.Errorf("%w: no stored credential", model.ErrCredentialExhausted)
	}
	if cred.TTL(s.now()) >= model.ForceRefreshThreshold {
		return cred.AccessToken, nil
	}

	renewed, err := s.renew(ctx)
	if err == nil {
		return renewed.AccessToken, nil
	}
	if cred.TTL(s.now()) > 0 {
		slog.Warn("pre-flight renewal failed, using current token", "error", err, "ttl", cred.TTL(s.now()).Round(time.Second))
		return cred.AccessToken, nil
	}
	return "", fmt.Errorf("%w: %w", model.ErrCredentialExhausted, err)
}

// Renew unconditionally renews the credential, joining any renewal already
// in flight.
func (s *SessionManager) Renew(ctx context.Context) (string, error) {
	cred, err := s.renew(ctx)
	if err != nil {
		return "", err
	}
	return cred.AccessToken, nil
}

// SignIn stores a credential built from a grant obtained out of band.
func (s *SessionManager) SignIn(ctx context.Context, grant *model.TokenGrant) (*model.Credential, error) {
	if grant == nil || grant.AccessToken == "" {
		return nil, fmt.Errorf("%w: grant has no access token", model.ErrInvalidRequest)
	}
	cred := s.credentialFromGrant(grant, nil)
	if err := s.save(ctx, cred); err != nil {
		return nil, err
	}
	slog.Info("signed in", "user_id", cred.UserID, "expires_at", cred.ExpiresAt)
	c := *cred
	return &c, nil
}

// Exchange trades a one-time login token for a credential and stores it.
func (s *SessionManager) Exchange(ctx context.Context, loginToken string) (*model.Credential, error) {
	if loginToken == "" {
		return nil, fmt.Errorf("%w: empty login token", model.ErrInvalidRequest)
	}
	grant, err := s.idp.Exchange(ctx, loginToken)
	if err != nil {
		return nil, fmt.Errorf("exchange login token: %w", err)
	}
	return s.SignIn(ctx, grant)
}

// Logout deletes the stored credential.
func (s *SessionManager) Logout(ctx context.Context) error {
	if err := s.clear(ctx); err != nil {
		return err
	}
	slog.Info("signed out")
	return nil
}

// Purge deletes the stored credential after the remote rejected it
// irrecoverably.
func (s *SessionManager) Purge(ctx context.Context, reason string) error {
	if err := s.clear(ctx); err != nil {
		return err
	}
	slog.Warn("credential purged", "reason", reason)
	return nil
}

// Suspend pauses proactive renewal by Run. Calls nest and each must be paired
// with Resume. Renewals requested by callers are unaffected.
func (s *SessionManager) Suspend() {
	s.suspendMu.Lock()
	defer s.suspendMu.Unlock()
	s.suspended++
}

// Resume undoes one Suspend.
func (s *SessionManager) Resume() {
	s.suspendMu.Lock()
	defer s.suspendMu.Unlock()
	if s.suspended > 0 {
		s.suspended--
	}
}

// Suspended reports whether proactive renewal is paused.
func (s *SessionManager) Suspended() bool {
	s.suspendMu.Lock()
	defer s.suspendMu.Unlock()
	return s.suspended > 0
}

// Run renews the credential in the background whenever it is near expiry or
// expired. Run blocks until ctx is canceled.
func (s *SessionManager) Run(ctx context.Context) {
	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("session renewal loop stopped")
			return
		case <-ticker.C:
			s.RenewIfDue(ctx)
		}
	}
}

// RenewIfDue performs one proactive renewal check. It reports whether a
// renewal succeeded.
func (s *SessionManager) RenewIfDue(ctx context.Context) bool {
	if s.Suspended() {
		slog.Debug("proactive renewal suspended")
		return false
	}

	cred, err := s.load(ctx)
	if err != nil {
		slog.Error("load credential for renewal check", "error", err)
		return false
	}

	switch cred.State(s.now()) {
	case model.CredentialNearExpiry, model.CredentialExpired:
	default:
		return false
	}

	if !cred.HasRefreshToken() {
		return false
	}
	if _, err := s.renew(ctx); err != nil {
		slog.Warn("proactive renewal failed", "error", err)
		return false
	}
	return true
}

// renew runs at most one refresh round-trip at a time. The round-trip is
// detached from the caller's cancellation so a caller giving up does not
// abandon a rotation the provider has already applied.
func (s *SessionManager) renew(ctx context.Context) (*model.Credential, error) {
	ch := s.renewals.DoChan(renewalFlight, func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.renewTimeout)
		defer cancel()
		return s.doRenew(rctx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		c := *res.Val.(*model.Credential)
		return &c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *SessionManager) doRenew(ctx context.Context) (*model.Credential, error) {
	ctx, span := observability.StartSpan(ctx, "session.renew")
	defer span.End()

	cred, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	if cred.IsZero() {
		return nil, fmt.Errorf("%w: no stored credential", model.ErrCredentialExhausted)
	}
	if !cred.HasRefreshToken() {
		return nil, fmt.Errorf("%w: no refresh token", model.ErrCredentialExhausted)
	}

	start := s.now()
	grant, err := s.idp.Refresh(ctx, cred.RefreshToken)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "refresh failed")
		if errors.Is(err, driven.ErrUnauthorized) {
			return nil, fmt.Errorf("%w: refresh token rejected: %w", model.ErrCredentialExhausted, err)
		}
		return nil, fmt.Errorf("refresh credential: %w", err)
	}
	if grant == nil || grant.AccessToken == "" {
		return nil, fmt.Errorf("refresh credential: %w", errors.New("empty grant"))
	}

	next := s.credentialFromGrant(grant, cred)
	if err := s.save(ctx, next); err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.Int64("session.ttl_seconds", int64(next.TTL(s.now()).Seconds())))
	slog.Info("credential renewed",
		"duration", s.now().Sub(start),
		"expires_at", next.ExpiresAt,
		"rotated", grant.RefreshToken != "" && grant.RefreshToken != cred.RefreshToken,
	)
	return next, nil
}

// credentialFromGrant fills whatever the grant omits from the access token's
// claims and then from the previous credential.
func (s *SessionManager) credentialFromGrant(grant *model.TokenGrant, prev *model.Credential) *model.Credential {
	cred := &model.Credential{
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.RefreshToken,
		UserID:       grant.UserID,
	}

	claims := parseAccessClaims(grant.AccessToken)
	switch {
	case grant.ExpiresIn > 0:
		cred.ExpiresAt = s.now().Add(grant.ExpiresIn)
	case !claims.expiresAt.IsZero():
		cred.ExpiresAt = claims.expiresAt
	default:
		cred.ExpiresAt = s.now().Add(defaultTokenLifetime)
	}
	cred.ExpiresAt = cred.ExpiresAt.UTC()

	if cred.UserID == "" {
		cred.UserID = claims.subject
	}
	if prev != nil {
		if cred.RefreshToken == "" {
			cred.RefreshToken = prev.RefreshToken
		}
		if cred.UserID == "" {
			cred.UserID = prev.UserID
		}
	}
	return cred
}

func (s *SessionManager) load(ctx context.Context) (*model.Credential, error) {
	s.mu.RLock()
	if s.loaded {
		cred := s.cred
		s.mu.RUnlock()
		return cred, nil
	}
	s.mu.RUnlock()

	raw, ok, err := s.store.Get(ctx, CredentialKey)
	if err != nil {
		return nil, fmt.Errorf("load credential: %w", err)
	}

	var cred *model.Credential
	if ok {
		cred, err = decodeCredential(raw)
		if err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		s.cred = cred
		s.loaded = true
	}
	return s.cred, nil
}

// save persists cred and then publishes it to readers. Readers never observe
// a credential that failed to persist.
func (s *SessionManager) save(ctx context.Context, cred *model.Credential) error {
	raw, err := encodeCredential(cred)
	if err != nil {
		return err
	}
	if err := s.store.Set(ctx, CredentialKey, raw); err != nil {
		return fmt.Errorf("save credential: %w", err)
	}

	s.mu.Lock()
	s.cred = cred
	s.loaded = true
	s.mu.Unlock()
	return nil
}

func (s *SessionManager) clear(ctx context.Context) error {
	if err := s.store.Delete(ctx, CredentialKey); err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}

	s.mu.Lock()
	s.cred = nil
	s.loaded = true
	s.mu.Unlock()

	if s.events != nil {
		s.events.Publish(ctx, model.CredentialInvalidated())
	}
	return nil
}
