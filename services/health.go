package services

import (
	"context"
	"sync"
	"time"

	"emergency-knowledge-service/internal/logger"

	"github.com/go-co-op/gocron"
)

// StoreHealthMonitor periodically runs the vector-extension diagnostic
// against the store and caches the latest result for the health endpoint.
// The diagnostic is informational; ingestion and retrieval do not consult
// it.
type StoreHealthMonitor struct {
	store     *VectorStoreClient
	scheduler *gocron.Scheduler
	interval  time.Duration

	mu          sync.RWMutex
	lastEnabled bool
	lastErr     error
	lastChecked time.Time
}

// NewStoreHealthMonitor creates a monitor that checks every interval.
func NewStoreHealthMonitor(store *VectorStoreClient, interval time.Duration) *StoreHealthMonitor {
	return &StoreHealthMonitor{
		store:     store,
		scheduler: gocron.NewScheduler(time.UTC),
		interval:  interval,
	}
}

// Start runs one immediate check and schedules the recurring one.
func (m *StoreHealthMonitor) Start() error {
	m.check()

	if _, err := m.scheduler.Every(m.interval).Tag("store-health").Do(m.check); err != nil {
		return err
	}
	m.scheduler.StartAsync()
	return nil
}

// Stop halts the scheduler.
func (m *StoreHealthMonitor) Stop() {
	m.scheduler.Stop()
}

func (m *StoreHealthMonitor) check() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	enabled, err := m.store.VectorExtensionEnabled(ctx)
	if err != nil {
		logger.Warn("store vector extension check failed", "error", err)
	} else if !enabled {
		logger.Warn("store vector extension is not enabled")
	}

	m.mu.Lock()
	m.lastEnabled = enabled
	m.lastErr = err
	m.lastChecked = time.Now()
	m.mu.Unlock()
}

// Status returns the most recent diagnostic result.
func (m *StoreHealthMonitor) Status() (enabled bool, checked time.Time, err error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastEnabled, m.lastChecked, m.lastErr
}
