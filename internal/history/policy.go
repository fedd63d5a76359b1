package history

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/simplesurance/mergeordinator/internal/logfields"
)

// DefBackoffInterval is the default minimum time between two retries for
// the same commit hash.
const DefBackoffInterval = 5 * time.Minute

// Policy decides if a failed build may be retried now.
//
// The policy is two-tier: the first retry for a commit hash is granted
// immediately, every following retry must wait at least the backoff
// interval since the last decision. Retries stop when the retry count
// reached maxRetries.
//
// All mutations of the store go through the policy, a granted retry is
// persisted before ShouldRetryNow returns.
type Policy struct {
	store      Store
	maxRetries int
	interval   time.Duration
	logger     *zap.Logger
	now        func() time.Time

	// serializes load-check-save sequences, two concurrent checks for
	// the same key must not both observe an eligible record
	mu sync.Mutex
}

type PolicyOpt func(*Policy)

// WithBackoffInterval overrides the minimum time between two retries.
func WithBackoffInterval(interval time.Duration) PolicyOpt {
	return func(p *Policy) {
		p.interval = interval
	}
}

func NewPolicy(store Store, maxRetries int, opts ...PolicyOpt) *Policy {
	p := Policy{
		store:      store,
		maxRetries: maxRetries,
		interval:   DefBackoffInterval,
		logger:     zap.L().Named(loggerName).Named("policy"),
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(&p)
	}

	return &p
}

// backoffDelay returns the minimum record age before retry number n+1 may
// be granted. The first retry is immediate, all others wait the fixed
// interval.
func (p *Policy) backoffDelay(n int) time.Duration {
	if n == 0 {
		return 0
	}

	return p.interval
}

// ShouldRetryNow reports if a retry for key is permitted now and advances
// the persisted retry counter when it is.
// A failure to persist the advanced counter is logged, the decision that
// was already made stands.
func (p *Policy) ShouldRetryNow(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	logger := p.logger.With(logfields.Commit(key))

	record, err := p.store.Load(key)
	if err != nil {
		logger.Warn(
			"deleting unreadable retry record",
			logfields.Event("retry_record_unreadable"),
			zap.Error(err),
		)

		if err := p.store.Delete(key); err != nil {
			logger.Error(
				"deleting retry record failed",
				logfields.Event("retry_record_delete_failed"),
				zap.Error(err),
			)
		}

		return false
	}

	if record == nil {
		if err := p.store.Save(key, 0); err != nil {
			logger.Error(
				"saving retry record failed",
				logfields.Event("retry_record_save_failed"),
				zap.Error(err),
			)
		}

		// the first retry is granted without waiting, backoffDelay(0)
		// is zero
		return p.maxRetries > 0
	}

	if record.RetryCount >= p.maxRetries {
		logger.Debug(
			"retry limit reached",
			logfields.Event("retry_limit_reached"),
			zap.Int("retry_count", record.RetryCount),
			zap.Int("max_retries", p.maxRetries),
		)

		return false
	}

	age := p.now().Sub(record.LastUpdate)
	if age < p.backoffDelay(record.RetryCount+1) {
		logger.Debug(
			"retry delayed, backoff interval has not elapsed",
			logfields.Event("retry_delayed"),
			zap.Duration("age", age),
		)

		return false
	}

	if err := p.store.Save(key, record.RetryCount+1); err != nil {
		logger.Error(
			"saving retry record failed",
			logfields.Event("retry_record_save_failed"),
			zap.Error(err),
		)
	}

	return true
}
