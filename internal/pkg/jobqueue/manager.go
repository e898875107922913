package jobqueue

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

const (
	// DefaultRecoverAfter is how long an operation may stay pending before
	// the recovery sweep resolves it.
	DefaultRecoverAfter    = 30 * time.Minute
	DefaultRecoverInterval = 5 * time.Minute
	DefaultRecoverLimit    = 100
)

// ManagerConfig controls the periodic background tasks.
type ManagerConfig struct {
	RecoverInterval time.Duration
	RecoverAfter    time.Duration
	RecoverLimit    int
}

// Manager manages the job queue and its periodic background tasks
type Manager struct {
	queue         *Queue
	cfg           ManagerConfig
	recoverTicker *time.Ticker
	stopCh        chan struct{}
	wg            sync.WaitGroup
	mu            sync.Mutex
	running       bool
}

// NewManager creates a manager for queue.
func NewManager(queue *Queue, cfg ManagerConfig) *Manager {
	if cfg.RecoverInterval <= 0 {
		cfg.RecoverInterval = DefaultRecoverInterval
	}
	if cfg.RecoverAfter <= 0 {
		cfg.RecoverAfter = DefaultRecoverAfter
	}
	if cfg.RecoverLimit <= 0 {
		cfg.RecoverLimit = DefaultRecoverLimit
	}
	return &Manager{queue: queue, cfg: cfg}
}

// GetQueue returns the managed job queue
func (m *Manager) GetQueue() *Queue {
	return m.queue
}

// Start starts the job queue and background tasks
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so manager can be restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[JobQueue Manager] Starting job queue and background tasks")

	m.queue.Start()

	m.recoverTicker = time.NewTicker(m.cfg.RecoverInterval)
	m.wg.Add(1)
	go m.recoverWorker()

	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops the job queue and background tasks
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping job queue and background tasks...")

	if m.recoverTicker != nil {
		m.recoverTicker.Stop()
	}
	close(m.stopCh)
	m.running = false
	m.wg.Wait()

	m.queue.Stop()

	log.Info("[JobQueue Manager] Stopped successfully")
}

func (m *Manager) recoverWorker() {
	defer m.wg.Done()
	log.Infof("[JobQueue Manager] Started operation recovery worker (interval: %s)", m.cfg.RecoverInterval)

	for {
		select {
		case <-m.stopCh:
			log.Info("[JobQueue Manager] Recovery worker stopping")
			return
		case <-m.recoverTicker.C:
			if err := m.ScheduleRecovery(context.Background()); err != nil {
				log.Errorf("[JobQueue Manager] Error scheduling operation recovery: %v", err)
			}
		}
	}
}

// ScheduleRecovery enqueues a single recovery sweep.
func (m *Manager) ScheduleRecovery(ctx context.Context) error {
	payload := RecoverOperationsJobPayload{
		OlderThanSeconds: int(m.cfg.RecoverAfter / time.Second),
		Limit:            m.cfg.RecoverLimit,
	}
	_, err := m.queue.EnqueueJob(ctx, JobTypeRecoverOperations, payload.ToMap())
	return err
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}
