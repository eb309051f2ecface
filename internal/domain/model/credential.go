package model

import "time"

// Renewal thresholds, measured as time remaining before ExpiresAt.
const (
	// NearExpiryThreshold is the TTL below which a credential is renewed
	// opportunistically on read.
	NearExpiryThreshold = 10 * time.Minute
	// ForceRefreshThreshold is the TTL at or above which a pre-flight renewal
	// before an expensive job is skipped. It covers the multi-minute job plus
	// network variance.
	ForceRefreshThreshold = 15 * time.Minute
)

// CredentialState is the lifecycle state of the stored credential.
type CredentialState string

const (
	CredentialNone       CredentialState = "none"
	CredentialValid      CredentialState = "valid"
	CredentialNearExpiry CredentialState = "near_expiry"
	CredentialExpired    CredentialState = "expired"
)

// Credential is the access/refresh pair issued by the identity provider.
// ExpiresAt is the instant after which the remote services reject AccessToken.
type Credential struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	UserID       string
}

// IsZero reports whether no credential has been stored.
func (c *Credential) IsZero() bool {
	return c == nil || c.AccessToken == ""
}

// TTL returns the time remaining until expiry. It is negative once expired.
func (c *Credential) TTL(now time.Time) time.Duration {
	if c.IsZero() {
		return 0
	}
	return c.ExpiresAt.Sub(now)
}

// State classifies the credential at the given instant.
func (c *Credential) State(now time.Time) CredentialState {
	if c.IsZero() {
		return CredentialNone
	}
	ttl := c.TTL(now)
	switch {
	case ttl >= NearExpiryThreshold:
		return CredentialValid
	case ttl > 0:
		return CredentialNearExpiry
	default:
		return CredentialExpired
	}
}

// HasRefreshToken reports whether the credential can be renewed.
func (c *Credential) HasRefreshToken() bool {
	return c != nil && c.RefreshToken != ""
}

// TokenGrant is the identity provider's response to a token exchange or
// refresh. RefreshToken may be empty when the provider does not rotate it.
// ExpiresIn is zero when the provider omitted it.
type TokenGrant struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
	UserID       string
}
