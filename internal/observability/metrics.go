package observability

import (
	"strconv"
	"sync"
	"time"
)

// Metrics provides basic in-memory counters.
type Metrics struct {
	mu                  sync.Mutex
	requestCount        map[string]int64
	errorCount          map[string]int64
	activeSubscriptions int64
	snapshotsDelivered  int64
	subscriptionFailure int64
	publishFailures     int64
	profileFailures     int64
}

// MetricsSnapshot is a copy of the counters for reporting.
type MetricsSnapshot struct {
	Requests             map[string]int64 `json:"requests"`
	Errors               map[string]int64 `json:"errors"`
	ActiveSubscriptions  int64            `json:"active_subscriptions"`
	SnapshotsDelivered   int64            `json:"snapshots_delivered"`
	SubscriptionFailures int64            `json:"subscription_failures"`
	PublishFailures      int64            `json:"publish_failures"`
	ProfileWriteFailures int64            `json:"profile_write_failures"`
}

// NewMetrics initializes metrics storage.
func NewMetrics() *Metrics {
	return &Metrics{
		requestCount: make(map[string]int64),
		errorCount:   make(map[string]int64),
	}
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, _ time.Duration) {
	if m == nil {
		return
	}
	key := pathKey(path, method, status)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount[key]++
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	key := path + "|" + method + "|" + code
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorCount[key]++
}

// SubscriptionOpened tracks a new live query.
func (m *Metrics) SubscriptionOpened() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeSubscriptions++
}

// SubscriptionClosed tracks a finished live query; failed marks a total failure.
func (m *Metrics) SubscriptionClosed(failed bool) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeSubscriptions--
	if failed {
		m.subscriptionFailure++
	}
}

// SnapshotDelivered counts a snapshot handed to a subscriber.
func (m *Metrics) SnapshotDelivered() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshotsDelivered++
}

// PublishFailed counts a change event that could not be fanned out.
func (m *Metrics) PublishFailed() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishFailures++
}

// ProfileWriteFailed counts a registration whose profile record was not stored.
func (m *Metrics) ProfileWriteFailed() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profileFailures++
}

// Snapshot copies the current counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{Requests: map[string]int64{}, Errors: map[string]int64{}}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := MetricsSnapshot{
		Requests:             make(map[string]int64, len(m.requestCount)),
		Errors:               make(map[string]int64, len(m.errorCount)),
		ActiveSubscriptions:  m.activeSubscriptions,
		SnapshotsDelivered:   m.snapshotsDelivered,
		SubscriptionFailures: m.subscriptionFailure,
		PublishFailures:      m.publishFailures,
		ProfileWriteFailures: m.profileFailures,
	}
	for k, v := range m.requestCount {
		out.Requests[k] = v
	}
	for k, v := range m.errorCount {
		out.Errors[k] = v
	}
	return out
}

func pathKey(path, method string, status int) string {
	return path + "|" + method + "|" + strconv.Itoa(status)
}
