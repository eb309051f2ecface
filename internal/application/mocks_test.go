package application_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ericfisherdev/tryonkit/internal/domain/model"
)

// --- Clock ---

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// --- Key-value store ---

type memKV struct {
	mu     sync.Mutex
	data   map[string]string
	setErr error
}

func newMemKV() *memKV {
	return &memKV{data: map[string]string{}}
}

func (m *memKV) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memKV) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	m.data[key] = value
	return nil
}

func (m *memKV) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *memKV) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[key]
	return ok
}

func (m *memKV) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.data))
	for k := range m.data {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// --- Identity provider ---

type mockIdP struct {
	refreshCalls  atomic.Int32
	exchangeCalls atomic.Int32
	refresh       func(ctx context.Context, refreshToken string) (*model.TokenGrant, error)
	exchange      func(ctx context.Context, token string) (*model.TokenGrant, error)
}

func (m *mockIdP) Refresh(ctx context.Context, refreshToken string) (*model.TokenGrant, error) {
	m.refreshCalls.Add(1)
	if m.refresh == nil {
		return nil, errors.New("refresh not configured")
	}
	return m.refresh(ctx, refreshToken)
}

func (m *mockIdP) Exchange(ctx context.Context, token string) (*model.TokenGrant, error) {
	m.exchangeCalls.Add(1)
	if m.exchange == nil {
		return nil, errors.New("exchange not configured")
	}
	return m.exchange(ctx, token)
}

// --- Events ---

type recordingEvents struct {
	mu     sync.Mutex
	events []model.Event
}

func (r *recordingEvents) Publish(_ context.Context, event model.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingEvents) ofType(t model.EventType) []model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// --- Compute service ---

type computeCall struct {
	token   string
	payload model.Payload
}

type mockCompute struct {
	mu     sync.Mutex
	calls  []computeCall
	submit func(ctx context.Context, call int, token string) (*model.JobResponse, error)
}

func (m *mockCompute) Submit(ctx context.Context, token string, payload model.Payload) (*model.JobResponse, error) {
	m.mu.Lock()
	m.calls = append(m.calls, computeCall{token: token, payload: payload})
	n := len(m.calls)
	m.mu.Unlock()
	return m.submit(ctx, n, token)
}

func (m *mockCompute) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

type countingKeepAlive struct {
	pings atomic.Int32
}

func (c *countingKeepAlive) Ping(_ context.Context) error {
	c.pings.Add(1)
	return nil
}

// --- Credits ---

type mockCredits struct {
	mu            sync.Mutex
	balance       int
	omitBalance   bool
	refunds       []model.RefundRequest
	balanceTokens []string
	err           error
	// onRefund runs before the refund is applied, outside the lock.
	onRefund func()
}

func (m *mockCredits) Balance(_ context.Context, token string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balanceTokens = append(m.balanceTokens, token)
	if m.err != nil {
		return 0, m.err
	}
	return m.balance, nil
}

func (m *mockCredits) Refund(_ context.Context, _ string, req model.RefundRequest) (int, bool, error) {
	if m.onRefund != nil {
		m.onRefund()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, false, m.err
	}
	m.refunds = append(m.refunds, req)
	m.balance += req.Amount
	if m.omitBalance {
		return 0, false, nil
	}
	return m.balance, true, nil
}

func (m *mockCredits) refundCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.refunds)
}

type staticTokens struct {
	token string
	err   error
}

func (s staticTokens) GetAccessToken(_ context.Context) (string, error) {
	return s.token, s.err
}

// --- Jobs ---

type memJobs struct {
	mu   sync.Mutex
	jobs map[string]model.Job
}

func newMemJobs() *memJobs {
	return &memJobs{jobs: map[string]model.Job{}}
}

func (m *memJobs) Upsert(_ context.Context, job model.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = job
	return nil
}

func (m *memJobs) Get(_ context.Context, id string) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, nil
	}
	return &job, nil
}

func (m *memJobs) ListRecent(_ context.Context, limit int) ([]model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].StartedAt.After(out[k].StartedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memJobs) MarkRefunded(_ context.Context, id, reason string, completedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return model.ErrJobNotFound
	}
	job.Status = model.JobStatusFailed
	job.Refunded = true
	job.FailureReason = reason
	if job.CompletedAt == nil {
		job.CompletedAt = &completedAt
	}
	m.jobs[id] = job
	return nil
}

func (m *memJobs) SetDurableRef(_ context.Context, id, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return model.ErrJobNotFound
	}
	job.ResultReference = ref
	job.Durable = true
	m.jobs[id] = job
	return nil
}

func (m *memJobs) only() (model.Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs {
		return j, len(m.jobs) == 1
	}
	return model.Job{}, false
}

// --- Journal ---

type memJournal struct {
	mu      sync.Mutex
	entries []model.LedgerEntry
}

func (m *memJournal) Append(_ context.Context, entry model.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry.ID = int64(len(m.entries) + 1)
	m.entries = append(m.entries, entry)
	return nil
}

func (m *memJournal) ListByJob(_ context.Context, jobID string) ([]model.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.LedgerEntry{}
	for _, e := range m.entries {
		if e.JobID == jobID {
			out = append(out, e)
		}
	}
	return out, nil
}

// --- Assets ---

type storedAsset struct {
	asset model.Asset
	data  []byte
}

type memAssets struct {
	mu     sync.Mutex
	assets []storedAsset
}

func (m *memAssets) Save(_ context.Context, asset model.Asset, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assets = append(m.assets, storedAsset{asset: asset, data: data})
	return nil
}

func (m *memAssets) Get(_ context.Context, id string) (*model.Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.assets {
		if a.asset.ID == id {
			asset := a.asset
			return &asset, nil
		}
	}
	return nil, nil
}

func (m *memAssets) Load(_ context.Context, id string) ([]byte, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.assets {
		if a.asset.ID == id {
			return a.data, a.asset.ContentType, nil
		}
	}
	return nil, "", model.ErrInvalidRequest
}

func (m *memAssets) FindByFingerprint(_ context.Context, fp model.Fingerprint) (*model.Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.assets {
		if a.asset.Fingerprint.Matches(fp) {
			asset := a.asset
			return &asset, nil
		}
	}
	return nil, nil
}

func (m *memAssets) SetRemoteRef(_ context.Context, id, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.assets {
		if m.assets[i].asset.ID == id {
			m.assets[i].asset.RemoteRef = ref
		}
	}
	return nil
}

func (m *memAssets) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.assets)
}

// --- Remote asset index ---

type mockRemoteIndex struct {
	mu        sync.Mutex
	refs      map[string]string
	published int
}

func (m *mockRemoteIndex) Lookup(_ context.Context, fp model.Fingerprint) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range []string{fp.Pixel, fp.Raw} {
		if ref, ok := m.refs[h]; ok && h != "" {
			return ref, true, nil
		}
	}
	return "", false, nil
}

func (m *mockRemoteIndex) Publish(_ context.Context, fp model.Fingerprint, _ []byte, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.refs == nil {
		m.refs = map[string]string{}
	}
	m.published++
	ref := "assets/" + fp.Pixel
	m.refs[fp.Pixel] = ref
	m.refs[fp.Raw] = ref
	return ref, nil
}

// --- Results ---

type mockFetcher struct {
	mu    sync.Mutex
	data  []byte
	ct    string
	err   error
	calls int
}

func (m *mockFetcher) Fetch(_ context.Context, _ string) ([]byte, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.data, m.ct, m.err
}

type mockCompressor struct {
	calls atomic.Int32
	out   []byte
	err   error
}

func (m *mockCompressor) Compress(_ context.Context, _ []byte, _ int) ([]byte, string, error) {
	m.calls.Add(1)
	return m.out, "image/jpeg", m.err
}
