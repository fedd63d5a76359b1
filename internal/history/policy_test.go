package history

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// memStore is an in-memory Store for policy tests, it allows controlling
// record timestamps and injecting failures.
type memStore struct {
	records map[string]*Record
	now     func() time.Time
	saveErr error
	loadErr error
	deleted []string
}

var _ Store = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{
		records: map[string]*Record{},
		now:     time.Now,
	}
}

func (s *memStore) Load(key string) (*Record, error) {
	if s.loadErr != nil {
		return nil, s.loadErr
	}

	record, exist := s.records[key]
	if !exist {
		return nil, nil
	}

	cp := *record
	return &cp, nil
}

func (s *memStore) Save(key string, retryCount int) error {
	if s.saveErr != nil {
		return s.saveErr
	}

	s.records[key] = &Record{RetryCount: retryCount, LastUpdate: s.now()}
	return nil
}

func (s *memStore) Delete(key string) error {
	s.deleted = append(s.deleted, key)
	delete(s.records, key)
	return nil
}

func (s *memStore) Sweep(time.Duration) {}

func newTestPolicy(t *testing.T, store Store, maxRetries int) *Policy {
	t.Helper()
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	return NewPolicy(store, maxRetries)
}

func TestFirstRetryIsImmediateSecondIsDelayed(t *testing.T) {
	store := newMemStore()
	policy := newTestPolicy(t, store, 2)

	assert.True(t, policy.ShouldRetryNow(testKey), "first retry must be granted immediately")
	assert.False(t, policy.ShouldRetryNow(testKey), "second retry must wait for the backoff interval")

	// pretend the backoff interval elapsed since the last decision
	policy.now = func() time.Time { return time.Now().Add(DefBackoffInterval) }
	assert.True(t, policy.ShouldRetryNow(testKey), "retry must be granted after the backoff interval")
}

func TestRetryCountIsMonotonic(t *testing.T) {
	store := newMemStore()
	policy := newTestPolicy(t, store, 2)

	var lastCount int
	for i := 0; i < 10; i++ {
		policy.ShouldRetryNow(testKey)

		record, err := store.Load(testKey)
		require.NoError(t, err)
		require.NotNil(t, record)
		require.GreaterOrEqual(t, record.RetryCount, lastCount)
		lastCount = record.RetryCount

		policy.now = func() time.Time { return time.Now().Add(time.Duration(i+1) * DefBackoffInterval) }
	}
}

func TestRetriesStopAtLimit(t *testing.T) {
	store := newMemStore()
	policy := newTestPolicy(t, store, 1)

	assert.True(t, policy.ShouldRetryNow(testKey))

	// even with the backoff interval elapsed, the limit blocks further
	// retries until the record is deleted
	for i := 1; i < 5; i++ {
		policy.now = func() time.Time { return time.Now().Add(time.Duration(i) * DefBackoffInterval) }
		assert.False(t, policy.ShouldRetryNow(testKey))
	}

	require.NoError(t, store.Delete(testKey))
	assert.True(t, policy.ShouldRetryNow(testKey))
}

func TestZeroLimitForbidsRetriesButRecordsTheCheck(t *testing.T) {
	store := newMemStore()
	policy := newTestPolicy(t, store, 0)

	assert.False(t, policy.ShouldRetryNow(testKey))

	record, err := store.Load(testKey)
	require.NoError(t, err)
	require.NotNil(t, record, "the eligibility check must create a record")
	assert.Equal(t, 0, record.RetryCount)
}

func TestCorruptRecordIsDeletedAndDenied(t *testing.T) {
	store := newMemStore()
	store.records[testKey] = &Record{RetryCount: 1, LastUpdate: time.Now()}
	store.loadErr = ErrCorrupt

	policy := newTestPolicy(t, store, 5)

	assert.False(t, policy.ShouldRetryNow(testKey))
	assert.Contains(t, store.deleted, testKey)
}

func TestSaveFailureDoesNotChangeTheDecision(t *testing.T) {
	store := newMemStore()
	store.saveErr = errors.New("disk full")

	policy := newTestPolicy(t, store, 2)

	assert.True(t, policy.ShouldRetryNow(testKey), "a save failure must not abort the in-flight decision")
}
