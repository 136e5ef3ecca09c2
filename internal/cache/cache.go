package cache

import (
	"log/slog"
	"time"
)

// Cache defines the interface for cache implementations
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, data T)
	Delete(key string)
	Size() int
}

// Cleaner is implemented by caches that can drop expired entries.
type Cleaner interface {
	CleanExpired() int
}

// Manager periodically cleans the caches registered with it.
type Manager struct {
	caches      []Cleaner
	stopCleanup chan struct{}
	cleanupDone chan struct{}
	logger      *slog.Logger
}

func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
		logger:      logger,
	}
}

// Register must be called before StartCleanup.
func (m *Manager) Register(c Cleaner) {
	m.caches = append(m.caches, c)
}

func (m *Manager) StartCleanup(interval time.Duration) {
	go m.cleanup(interval)
}

func (m *Manager) cleanup(interval time.Duration) {
	defer close(m.cleanupDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := m.CleanNow(); n > 0 {
				m.logger.Debug("Cache cleanup removed expired entries", "removed", n)
			}
		case <-m.stopCleanup:
			return
		}
	}
}

// CleanNow runs one cleanup pass over all registered caches.
func (m *Manager) CleanNow() int {
	total := 0
	for _, c := range m.caches {
		total += c.CleanExpired()
	}
	return total
}

// Stop ends the cleanup goroutine started by StartCleanup.
func (m *Manager) Stop() {
	close(m.stopCleanup)
	<-m.cleanupDone
}
