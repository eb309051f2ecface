package application

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/ericfisherdev/tryonkit/internal/domain/model"
	"github.com/ericfisherdev/tryonkit/internal/domain/port/driven"
)

// Keys written by earlier releases. Older builds stored the credential as
// separate keys; later ones as a single camelCase blob.
const (
	legacyAccessTokenKey  = "access_token"
	legacyRefreshTokenKey = "refresh_token"
	legacyExpiresAtKey    = "expires_at"
	legacyUserIDKey       = "user_id"
	legacySessionKey      = "auth_session"
	legacyBalanceKey      = "gems"
)

// secondsEpochCutoff separates second and millisecond epoch timestamps.
const secondsEpochCutoff = 1_000_000_000_000

type legacySession struct {
	AccessToken  string          `json:"accessToken"`
	RefreshToken string          `json:"refreshToken"`
	ExpiresAt    json.RawMessage `json:"expiresAt"`
	UserID       string          `json:"userId"`
}

// MigrateLegacy rewrites credential and balance records left by earlier
// releases into their current keys, then deletes the old keys. It is
// idempotent. It reports whether anything was migrated.
func MigrateLegacy(ctx context.Context, store driven.KeyValueStore) (bool, error) {
	credMigrated, err := migrateLegacyCredential(ctx, store)
	if err != nil {
		return false, err
	}
	balanceMigrated, err := migrateLegacyBalance(ctx, store)
	if err != nil {
		return false, err
	}
	return credMigrated || balanceMigrated, nil
}

func migrateLegacyCredential(ctx context.Context, store driven.KeyValueStore) (bool, error) {
	legacyKeys := []string{legacySessionKey, legacyAccessTokenKey, legacyRefreshTokenKey, legacyExpiresAtKey, legacyUserIDKey}

	if _, ok, err := store.Get(ctx, CredentialKey); err != nil {
		return false, fmt.Errorf("check credential: %w", err)
	} else if ok {
		// Already current; drop any leftovers from an interrupted migration.
		if err := store.Delete(ctx, legacyKeys...); err != nil {
			return false, fmt.Errorf("delete legacy credential keys: %w", err)
		}
		return false, nil
	}

	cred, err := readLegacyBlob(ctx, store)
	if err != nil {
		return false, err
	}
	if cred == nil {
		cred, err = readLegacyFlatKeys(ctx, store)
		if err != nil {
			return false, err
		}
	}
	if cred == nil {
		return false, nil
	}

	if cred.ExpiresAt.IsZero() {
		if exp := parseAccessClaims(cred.AccessToken).expiresAt; !exp.IsZero() {
			cred.ExpiresAt = exp.UTC()
		}
	}
	if cred.UserID == "" {
		cred.UserID = parseAccessClaims(cred.AccessToken).subject
	}

	raw, err := encodeCredential(cred)
	if err != nil {
		return false, err
	}
	if err := store.Set(ctx, CredentialKey, raw); err != nil {
		return false, fmt.Errorf("write migrated credential: %w", err)
	}
	if err := store.Delete(ctx, legacyKeys...); err != nil {
		return false, fmt.Errorf("delete legacy credential keys: %w", err)
	}

	slog.Info("migrated legacy credential", "user_id", cred.UserID, "expires_at", cred.ExpiresAt)
	return true, nil
}

func readLegacyBlob(ctx context.Context, store driven.KeyValueStore) (*model.Credential, error) {
	raw, ok, err := store.Get(ctx, legacySessionKey)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", legacySessionKey, err)
	}
	if !ok {
		return nil, nil
	}

	var ls legacySession
	if err := json.Unmarshal([]byte(raw), &ls); err != nil {
		slog.Warn("ignoring unreadable legacy session", "error", err)
		return nil, nil
	}
	if ls.AccessToken == "" {
		return nil, nil
	}

	return &model.Credential{
		AccessToken:  ls.AccessToken,
		RefreshToken: ls.RefreshToken,
		ExpiresAt:    parseLegacyExpiry(strings.Trim(string(ls.ExpiresAt), `"`)),
		UserID:       ls.UserID,
	}, nil
}

func readLegacyFlatKeys(ctx context.Context, store driven.KeyValueStore) (*model.Credential, error) {
	values := make(map[string]string, 4)
	for _, key := range []string{legacyAccessTokenKey, legacyRefreshTokenKey, legacyExpiresAtKey, legacyUserIDKey} {
		v, ok, err := store.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", key, err)
		}
		if ok {
			values[key] = v
		}
	}
	if values[legacyAccessTokenKey] == "" {
		return nil, nil
	}

	return &model.Credential{
		AccessToken:  values[legacyAccessTokenKey],
		RefreshToken: values[legacyRefreshTokenKey],
		ExpiresAt:    parseLegacyExpiry(values[legacyExpiresAtKey]),
		UserID:       values[legacyUserIDKey],
	}, nil
}

// parseLegacyExpiry accepts epoch seconds, epoch milliseconds, or RFC 3339.
// Unparseable input yields the zero time.
func parseLegacyExpiry(v string) time.Time {
	v = strings.TrimSpace(v)
	if v == "" || v == "null" {
		return time.Time{}
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		if n < secondsEpochCutoff {
			return time.Unix(n, 0).UTC()
		}
		return time.UnixMilli(n).UTC()
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC()
	}
	return time.Time{}
}

func migrateLegacyBalance(ctx context.Context, store driven.KeyValueStore) (bool, error) {
	legacy, ok, err := store.Get(ctx, legacyBalanceKey)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", legacyBalanceKey, err)
	}
	if !ok {
		return false, nil
	}

	migrated := false
	if _, exists, err := store.Get(ctx, BalanceKey); err != nil {
		return false, fmt.Errorf("check balance: %w", err)
	} else if !exists {
		if n, err := strconv.Atoi(strings.TrimSpace(legacy)); err == nil && n >= 0 {
			if err := store.Set(ctx, BalanceKey, strconv.Itoa(n)); err != nil {
				return false, fmt.Errorf("write migrated balance: %w", err)
			}
			migrated = true
			slog.Info("migrated legacy balance", "balance", n)
		}
	}

	if err := store.Delete(ctx, legacyBalanceKey); err != nil {
		return false, fmt.Errorf("delete %s: %w", legacyBalanceKey, err)
	}
	return migrated, nil
}
