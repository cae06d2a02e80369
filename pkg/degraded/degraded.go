// Package degraded implements the degraded-mode manager (§4.6): a
// single, priority-ordered mode composed from storage pressure, queue
// depth, and session state, cached with a short TTL and broadcast to
// subscribers on a fixed poll cadence.
package degraded

import (
	"sync"
	"time"

	"github.com/cuemby/cocoasync/pkg/config"
	"github.com/cuemby/cocoasync/pkg/queue"
	"github.com/cuemby/cocoasync/pkg/quota"
	"github.com/cuemby/cocoasync/pkg/transport"
)

// Mode is the composed, user-visible degraded state (§4.6).
type Mode string

const (
	ModeReadOnlyStorage Mode = "read_only_storage"
	ModeReadOnlyAuth    Mode = "read_only_auth"
	ModeQueuePressure   Mode = "queue_pressure"
	ModeNormal          Mode = "normal"
)

// BlocksCreation reports whether m prevents new local mutations.
func (m Mode) BlocksCreation() bool {
	return m == ModeReadOnlyStorage || m == ModeReadOnlyAuth
}

// pollInterval is the subscription broadcast cadence (§4.6 "3-second
// poll cadence").
const pollInterval = 3 * time.Second

// Subscriber is a channel that receives every mode change.
type Subscriber chan Mode

// Manager composes the current degraded mode from its three inputs
// and caches the result for config.DegradedModeCacheTTL.
type Manager struct {
	quota *quota.Manager
	queue *queue.Manager
	auth  transport.AuthProvider
	cfg   config.Config

	mu       sync.Mutex
	cached   Mode
	cachedAt time.Time

	subMu       sync.RWMutex
	subscribers map[Subscriber]bool
	stopCh      chan struct{}
	stopped     bool
}

// New returns a Manager. Call Start to begin the background poll loop;
// Current works without it, evaluating lazily on each call outside the
// TTL window.
func New(quotaMgr *quota.Manager, queueMgr *queue.Manager, auth transport.AuthProvider, cfg config.Config) *Manager {
	return &Manager{
		quota:       quotaMgr,
		queue:       queueMgr,
		auth:        auth,
		cfg:         cfg,
		subscribers: make(map[Subscriber]bool),
		stopCh:      make(chan struct{}),
	}
}

// Current returns the degraded mode, recomputing only if the cache has
// expired (§4.6 "cached with a 2-second TTL").
func (m *Manager) Current(now time.Time) (Mode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.cachedAt.IsZero() && now.Sub(m.cachedAt) < m.cfg.DegradedModeCacheTTL() {
		return m.cached, nil
	}

	mode, err := m.evaluate(now)
	if err != nil {
		return ModeNormal, err
	}
	m.cached = mode
	m.cachedAt = now
	return mode, nil
}

func (m *Manager) evaluate(now time.Time) (Mode, error) {
	band, err := m.quota.CurrentBand(now)
	if err != nil {
		return "", err
	}
	if band.StoragePercent >= m.cfg.StorageHardPercent {
		return ModeReadOnlyStorage, nil
	}

	depth, err := m.queue.Depth()
	if err != nil {
		return "", err
	}

	sessionExpired := m.auth != nil && m.auth.SessionExpired()
	if sessionExpired && depth > 0 {
		return ModeReadOnlyAuth, nil
	}

	if depth > m.cfg.QueuePressureThreshold {
		return ModeQueuePressure, nil
	}

	return ModeNormal, nil
}

// Start launches the background poll loop, broadcasting a mode to
// every subscriber each time it changes (§4.6's subscription API).
func (m *Manager) Start() {
	go m.run()
}

// Stop halts the poll loop and closes every subscriber channel.
func (m *Manager) Stop() {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	if m.stopped {
		return
	}
	m.stopped = true
	close(m.stopCh)
	for sub := range m.subscribers {
		delete(m.subscribers, sub)
		close(sub)
	}
}

// Subscribe returns a channel that receives every mode change
// broadcast after it subscribes; the current mode is not sent on
// subscription.
func (m *Manager) Subscribe() Subscriber {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	sub := make(Subscriber, 4)
	m.subscribers[sub] = true
	return sub
}

// Unsubscribe stops delivering changes to sub and closes it.
func (m *Manager) Unsubscribe(sub Subscriber) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	if m.subscribers[sub] {
		delete(m.subscribers, sub)
		close(sub)
	}
}

func (m *Manager) run() {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var last Mode
	for {
		select {
		case <-ticker.C:
			mode, err := m.Current(time.Now())
			if err != nil || mode == last {
				continue
			}
			last = mode
			m.broadcast(mode)
		case <-m.stopCh:
			return
		}
	}
}

func (m *Manager) broadcast(mode Mode) {
	m.subMu.RLock()
	defer m.subMu.RUnlock()
	for sub := range m.subscribers {
		select {
		case sub <- mode:
		default:
		}
	}
}
