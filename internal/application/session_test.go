package application_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/tryonkit/internal/application"
	"github.com/ericfisherdev/tryonkit/internal/domain/model"
	"github.com/ericfisherdev/tryonkit/internal/domain/port/driven"
)

func seedCredential(t *testing.T, kv *memKV, access, refresh string, expiresAt time.Time) {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"version":       1,
		"access_token":  access,
		"refresh_token": refresh,
		"expires_at_ms": expiresAt.UnixMilli(),
		"user_id":       "user-1",
	})
	require.NoError(t, err)
	require.NoError(t, kv.Set(context.Background(), application.CredentialKey, string(raw)))
}

func storedCredential(t *testing.T, kv *memKV) map[string]any {
	t.Helper()
	raw, ok, err := kv.Get(context.Background(), application.CredentialKey)
	require.NoError(t, err)
	require.True(t, ok, "credential should be stored")
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &out))
	return out
}

func rotatingIdP() *mockIdP {
	idp := &mockIdP{}
	idp.refresh = func(_ context.Context, refreshToken string) (*model.TokenGrant, error) {
		n := idp.refreshCalls.Load()
		return &model.TokenGrant{
			AccessToken:  fmt.Sprintf("access-%d", n),
			RefreshToken: fmt.Sprintf("refresh-%d", n),
			ExpiresIn:    time.Hour,
		}, nil
	}
	return idp
}

func newTestSession(kv *memKV, idp *mockIdP, clock *testClock, opts ...application.SessionOption) *application.SessionManager {
	opts = append([]application.SessionOption{
		application.WithClock(clock.Now),
		application.WithRenewalTimeout(2 * time.Second),
	}, opts...)
	return application.NewSessionManager(kv, idp, nil, opts...)
}

func TestGetAccessToken_ValidCredentialIsNotRenewed(t *testing.T) {
	kv, clock, idp := newMemKV(), newTestClock(), rotatingIdP()
	seedCredential(t, kv, "access-0", "refresh-0", clock.Now().Add(20*time.Minute))
	sm := newTestSession(kv, idp, clock)

	for range 2 {
		token, err := sm.GetAccessToken(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "access-0", token)
	}
	assert.Equal(t, int32(0), idp.refreshCalls.Load())
}

func TestGetAccessToken_NearExpiryRenewsOnce(t *testing.T) {
	kv, clock, idp := newMemKV(), newTestClock(), rotatingIdP()
	seedCredential(t, kv, "access-0", "refresh-0", clock.Now().Add(5*time.Minute))
	sm := newTestSession(kv, idp, clock)

	token, err := sm.GetAccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-1", token)

	token, err = sm.GetAccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-1", token)

	assert.Equal(t, int32(1), idp.refreshCalls.Load())

	stored := storedCredential(t, kv)
	assert.Equal(t, "access-1", stored["access_token"])
	assert.Equal(t, "refresh-1", stored["refresh_token"])
	assert.Equal(t, float64(clock.Now().Add(time.Hour).UnixMilli()), stored["expires_at_ms"])
	assert.Equal(t, "user-1", stored["user_id"], "user id carries over when the grant omits it")
}

func TestGetAccessToken_NearExpiryRenewalFailureFallsBack(t *testing.T) {
	kv, clock := newMemKV(), newTestClock()
	idp := &mockIdP{refresh: func(context.Context, string) (*model.TokenGrant, error) {
		return nil, fmt.Errorf("%w: connection reset", model.ErrNetwork)
	}}
	seedCredential(t, kv, "access-0", "refresh-0", clock.Now().Add(5*time.Minute))
	sm := newTestSession(kv, idp, clock)

	token, err := sm.GetAccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-0", token)
	assert.True(t, kv.has(application.CredentialKey), "failed renewal must not delete the credential")
}

func TestGetAccessToken_ExpiredRenewalFailureReturnsEmpty(t *testing.T) {
	kv, clock := newMemKV(), newTestClock()
	idp := &mockIdP{refresh: func(context.Context, string) (*model.TokenGrant, error) {
		return nil, &model.ServiceError{Status: 500}
	}}
	seedCredential(t, kv, "access-0", "refresh-0", clock.Now().Add(-time.Minute))
	sm := newTestSession(kv, idp, clock)

	token, err := sm.GetAccessToken(context.Background())
	require.NoError(t, err)
	assert.Empty(t, token)
}

func TestGetAccessToken_NoCredential(t *testing.T) {
	idp := rotatingIdP()
	sm := newTestSession(newMemKV(), idp, newTestClock())

	token, err := sm.GetAccessToken(context.Background())
	require.NoError(t, err)
	assert.Empty(t, token)
	assert.Equal(t, int32(0), idp.refreshCalls.Load())
}

func TestRenew_ConcurrentCallersShareOneRoundTrip(t *testing.T) {
	kv, clock := newMemKV(), newTestClock()
	release := make(chan struct{})
	idp := &mockIdP{}
	idp.refresh = func(_ context.Context, refreshToken string) (*model.TokenGrant, error) {
		<-release
		return &model.TokenGrant{AccessToken: "access-1", RefreshToken: "refresh-1", ExpiresIn: time.Hour}, nil
	}
	seedCredential(t, kv, "access-0", "refresh-0", clock.Now().Add(5*time.Minute))
	sm := newTestSession(kv, idp, clock)

	const callers = 10
	var wg sync.WaitGroup
	tokens := make([]string, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, err := sm.Renew(context.Background())
			assert.NoError(t, err)
			tokens[i] = token
		}()
	}

	require.Eventually(t, func() bool { return idp.refreshCalls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), idp.refreshCalls.Load())
	for _, token := range tokens {
		assert.Equal(t, "access-1", token)
	}
}

func TestRenew_PresentsCurrentRefreshToken(t *testing.T) {
	kv, clock := newMemKV(), newTestClock()
	current := "refresh-0"
	idp := &mockIdP{}
	idp.refresh = func(_ context.Context, refreshToken string) (*model.TokenGrant, error) {
		if refreshToken != current {
			return nil, driven.ErrUnauthorized
		}
		n := idp.refreshCalls.Load()
		current = fmt.Sprintf("refresh-%d", n)
		return &model.TokenGrant{AccessToken: fmt.Sprintf("access-%d", n), RefreshToken: current, ExpiresIn: time.Hour}, nil
	}
	seedCredential(t, kv, "access-0", "refresh-0", clock.Now().Add(5*time.Minute))
	sm := newTestSession(kv, idp, clock)

	for i := 1; i <= 3; i++ {
		token, err := sm.Renew(context.Background())
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("access-%d", i), token)
	}
	assert.Equal(t, "refresh-3", storedCredential(t, kv)["refresh_token"])
}

func TestRenew_KeepsRefreshTokenWhenNotRotated(t *testing.T) {
	kv, clock := newMemKV(), newTestClock()
	idp := &mockIdP{refresh: func(context.Context, string) (*model.TokenGrant, error) {
		return &model.TokenGrant{AccessToken: "access-1", ExpiresIn: time.Hour}, nil
	}}
	seedCredential(t, kv, "access-0", "refresh-0", clock.Now().Add(5*time.Minute))
	sm := newTestSession(kv, idp, clock)

	_, err := sm.Renew(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "refresh-0", storedCredential(t, kv)["refresh_token"])
}

func TestRenew_RejectedRefreshTokenIsExhausted(t *testing.T) {
	kv, clock := newMemKV(), newTestClock()
	idp := &mockIdP{refresh: func(context.Context, string) (*model.TokenGrant, error) {
		return nil, driven.ErrUnauthorized
	}}
	seedCredential(t, kv, "access-0", "refresh-0", clock.Now().Add(5*time.Minute))
	sm := newTestSession(kv, idp, clock)

	_, err := sm.Renew(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrCredentialExhausted)
	assert.True(t, kv.has(application.CredentialKey))
}

func TestRenew_WithoutRefreshToken(t *testing.T) {
	kv, clock, idp := newMemKV(), newTestClock(), rotatingIdP()
	seedCredential(t, kv, "access-0", "", clock.Now().Add(5*time.Minute))
	sm := newTestSession(kv, idp, clock)

	_, err := sm.Renew(context.Background())
	assert.ErrorIs(t, err, model.ErrCredentialExhausted)
	assert.Equal(t, int32(0), idp.refreshCalls.Load())
}

func TestRenew_CallerCancellationDoesNotAbandonRotation(t *testing.T) {
	kv, clock := newMemKV(), newTestClock()
	release := make(chan struct{})
	idp := &mockIdP{}
	idp.refresh = func(ctx context.Context, _ string) (*model.TokenGrant, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return &model.TokenGrant{AccessToken: "access-1", RefreshToken: "refresh-1", ExpiresIn: time.Hour}, nil
	}
	seedCredential(t, kv, "access-0", "refresh-0", clock.Now().Add(5*time.Minute))
	sm := newTestSession(kv, idp, clock)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := sm.Renew(ctx)
		errCh <- err
	}()

	require.Eventually(t, func() bool { return idp.refreshCalls.Load() == 1 }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)

	close(release)
	require.Eventually(t, func() bool {
		raw, _, _ := kv.Get(context.Background(), application.CredentialKey)
		return json.Valid([]byte(raw)) && storedCredential(t, kv)["refresh_token"] == "refresh-1"
	}, time.Second, 5*time.Millisecond)
}

func TestForceRefresh(t *testing.T) {
	tests := []struct {
		name        string
		ttl         time.Duration
		seed        bool
		refreshErr  error
		wantToken   string
		wantErr     error
		wantRefresh int32
	}{
		{name: "ample lifetime skips renewal", ttl: 20 * time.Minute, seed: true, wantToken: "access-0"},
		{name: "exactly at threshold skips renewal", ttl: 15 * time.Minute, seed: true, wantToken: "access-0"},
		{name: "short lifetime renews", ttl: 12 * time.Minute, seed: true, wantToken: "access-1", wantRefresh: 1},
		{name: "renewal failure keeps unexpired token", ttl: 12 * time.Minute, seed: true, refreshErr: model.ErrNetwork, wantToken: "access-0", wantRefresh: 1},
		{name: "renewal failure on expired token", ttl: -time.Minute, seed: true, refreshErr: model.ErrNetwork, wantErr: model.ErrCredentialExhausted, wantRefresh: 1},
		{name: "no credential", wantErr: model.ErrCredentialExhausted},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			kv, clock, idp := newMemKV(), newTestClock(), rotatingIdP()
			if tc.refreshErr != nil {
				idp.refresh = func(context.Context, string) (*model.TokenGrant, error) { return nil, tc.refreshErr }
			}
			if tc.seed {
				seedCredential(t, kv, "access-0", "refresh-0", clock.Now().Add(tc.ttl))
			}
			sm := newTestSession(kv, idp, clock)

			token, err := sm.ForceRefresh(context.Background())
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				assert.Empty(t, token)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tc.wantToken, token)
			}
			assert.Equal(t, tc.wantRefresh, idp.refreshCalls.Load())
		})
	}
}

func TestExchange_FillsFromAccessTokenClaims(t *testing.T) {
	kv, clock := newMemKV(), newTestClock()
	exp := clock.Now().Add(30 * time.Minute)
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": jwt.NewNumericDate(exp),
		"sub": "user-7",
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	idp := &mockIdP{exchange: func(_ context.Context, token string) (*model.TokenGrant, error) {
		assert.Equal(t, "login-token", token)
		return &model.TokenGrant{AccessToken: access, RefreshToken: "refresh-0"}, nil
	}}
	sm := newTestSession(kv, idp, clock)

	cred, err := sm.Exchange(context.Background(), "login-token")
	require.NoError(t, err)
	assert.Equal(t, "user-7", cred.UserID)
	assert.True(t, exp.Equal(cred.ExpiresAt))

	state, err := sm.State(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.CredentialValid, state)
}

func TestExchange_OpaqueTokenWithoutExpiryGetsDefaultLifetime(t *testing.T) {
	kv, clock := newMemKV(), newTestClock()
	idp := &mockIdP{exchange: func(context.Context, string) (*model.TokenGrant, error) {
		return &model.TokenGrant{AccessToken: "opaque", RefreshToken: "refresh-0"}, nil
	}}
	sm := newTestSession(kv, idp, clock)

	cred, err := sm.Exchange(context.Background(), "login-token")
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(time.Hour), cred.ExpiresAt)
}

func TestExchange_RejectsEmptyToken(t *testing.T) {
	sm := newTestSession(newMemKV(), rotatingIdP(), newTestClock())
	_, err := sm.Exchange(context.Background(), "")
	assert.ErrorIs(t, err, model.ErrInvalidRequest)
}

func TestSignIn_PersistFailureLeavesNoCredential(t *testing.T) {
	kv, clock := newMemKV(), newTestClock()
	kv.setErr = fmt.Errorf("disk full")
	sm := newTestSession(kv, rotatingIdP(), clock)

	_, err := sm.SignIn(context.Background(), &model.TokenGrant{AccessToken: "a", ExpiresIn: time.Hour})
	require.Error(t, err)

	cred, err := sm.Credential(context.Background())
	require.NoError(t, err)
	assert.Nil(t, cred)
}

func TestLogout_DeletesCredentialAndPublishes(t *testing.T) {
	kv, clock := newMemKV(), newTestClock()
	events := &recordingEvents{}
	seedCredential(t, kv, "access-0", "refresh-0", clock.Now().Add(time.Hour))
	sm := application.NewSessionManager(kv, rotatingIdP(), events, application.WithClock(clock.Now))

	require.NoError(t, sm.Logout(context.Background()))

	assert.False(t, kv.has(application.CredentialKey))
	state, err := sm.State(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.CredentialNone, state)
	assert.Len(t, events.ofType(model.EventCredentialInvalidated), 1)
}

func TestRenewIfDue_RespectsSuspension(t *testing.T) {
	kv, clock, idp := newMemKV(), newTestClock(), rotatingIdP()
	seedCredential(t, kv, "access-0", "refresh-0", clock.Now().Add(5*time.Minute))
	sm := newTestSession(kv, idp, clock)

	sm.Suspend()
	sm.Suspend()
	assert.False(t, sm.RenewIfDue(context.Background()))
	sm.Resume()
	assert.False(t, sm.RenewIfDue(context.Background()), "still suspended by the outer call")
	assert.Equal(t, int32(0), idp.refreshCalls.Load())

	sm.Resume()
	assert.True(t, sm.RenewIfDue(context.Background()))
	assert.Equal(t, int32(1), idp.refreshCalls.Load())

	assert.False(t, sm.RenewIfDue(context.Background()), "renewed credential is no longer due")
}

func TestRenewIfDue_ValidCredential(t *testing.T) {
	kv, clock, idp := newMemKV(), newTestClock(), rotatingIdP()
	seedCredential(t, kv, "access-0", "refresh-0", clock.Now().Add(time.Hour))
	sm := newTestSession(kv, idp, clock)

	assert.False(t, sm.RenewIfDue(context.Background()))
	assert.Equal(t, int32(0), idp.refreshCalls.Load())
}

func TestRun_RenewsInBackground(t *testing.T) {
	kv, clock, idp := newMemKV(), newTestClock(), rotatingIdP()
	seedCredential(t, kv, "access-0", "refresh-0", clock.Now().Add(5*time.Minute))
	sm := newTestSession(kv, idp, clock, application.WithCheckInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sm.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return idp.refreshCalls.Load() >= 1 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	token, err := sm.GetAccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-1", token)
}
