package workflow

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"veriflow/internal/config"
	"veriflow/internal/escrow"
	"veriflow/internal/lease"
	"veriflow/internal/market"
	"veriflow/internal/notifications"
)

// Manager runs the background loops the market depends on: the lease sweeper
// that reclaims expired claims, and the settlement loop that confirms escrow
// locks, pays pending payouts, and releases escrow for closed lots.
type Manager struct {
	cfg      *config.Config
	store    *market.Store
	leases   *lease.Manager
	settler  *escrow.Settler
	notifier notifications.Service
	logger   *zap.Logger

	sweepInterval  time.Duration
	settleInterval time.Duration
	retryInterval  time.Duration
	batchSize      int

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lastErr error
}

// NewManager constructs a workflow manager.
func NewManager(cfg *config.Config, store *market.Store, leases *lease.Manager, settler *escrow.Settler, notifier notifications.Service, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	sweep := cfg.Workflow.SweepIntervalDuration()
	if sweep <= 0 {
		sweep = time.Minute
	}
	settle := cfg.Workflow.SettleIntervalDuration()
	if settle <= 0 {
		settle = 5 * time.Minute
	}
	retry := cfg.Workflow.ErrorRetryDuration()
	if retry <= 0 {
		retry = 30 * time.Second
	}
	batch := cfg.Workflow.PayoutBatchSize
	if batch <= 0 {
		batch = 25
	}
	return &Manager{
		cfg:            cfg,
		store:          store,
		leases:         leases,
		settler:        settler,
		notifier:       notifier,
		logger:         logger.Named("workflow"),
		sweepInterval:  sweep,
		settleInterval: settle,
		retryInterval:  retry,
		batchSize:      batch,
	}
}

// Start begins background processing.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.New("workflow already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true

	m.wg.Add(2)
	go m.runLoop(runCtx, "sweep", m.sweepInterval, m.sweepOnce)
	go m.runLoop(runCtx, "settle", m.settleInterval, m.settleOnce)
	return nil
}

// Stop terminates background processing and waits for the loops to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

// Running reports whether the background loops are active.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// LastError returns the most recent loop failure, if any.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Manager) runLoop(ctx context.Context, name string, interval time.Duration, step func(context.Context) error) {
	defer m.wg.Done()
	logger := m.logger.Named(name)
	wait := interval
	for {
		if err := step(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			m.setLastError(err)
			logger.Warn("loop iteration failed", zap.Error(err))
			wait = m.retryInterval
		} else {
			wait = interval
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func (m *Manager) sweepOnce(ctx context.Context) error {
	_, err := m.leases.SweepExpired(ctx)
	return err
}

// settleOnce runs one settlement pass: confirm broadcast escrow locks, pay a
// batch of pending payouts, then release escrow for lots that finished.
func (m *Manager) settleOnce(ctx context.Context) error {
	if err := m.confirmEscrows(ctx); err != nil {
		return err
	}

	paid, failed, err := m.settler.ProcessPayoutBatch(ctx, m.batchSize)
	if err != nil {
		return err
	}
	if paid > 0 || failed > 0 {
		m.logger.Info("payout batch settled", zap.Int("paid", paid), zap.Int("failed", failed))
	}

	return m.closeFinishedLots(ctx)
}

func (m *Manager) confirmEscrows(ctx context.Context) error {
	created, err := m.store.EscrowsByStatus(ctx, market.EscrowCreated)
	if err != nil {
		return err
	}
	seen := make(map[int64]struct{}, len(created))
	for _, record := range created {
		if _, ok := seen[record.LotID]; ok {
			continue
		}
		seen[record.LotID] = struct{}{}
		if err := m.settler.ConfirmPending(ctx, record.LotID); err != nil {
			m.logger.Warn("escrow confirmation pass failed", zap.Int64("lot_id", record.LotID), zap.Error(err))
		}
	}
	return nil
}

func (m *Manager) closeFinishedLots(ctx context.Context) error {
	lots, err := m.store.ListLots(ctx, market.LotCompleted)
	if err != nil {
		return err
	}
	for _, lot := range lots {
		locked, err := m.store.LockedEscrowTotal(ctx, lot.ID)
		if err != nil {
			return err
		}
		if locked.IsZero() {
			continue
		}
		if err := m.settler.CloseLot(ctx, lot.ID); err != nil {
			m.logger.Warn("lot close failed", zap.Int64("lot_id", lot.ID), zap.Error(err))
			if m.notifier != nil {
				if notifyErr := m.notifier.NotifyError(ctx, err, "lot close"); notifyErr != nil {
					m.logger.Warn("lot close callback failed", zap.Error(notifyErr))
				}
			}
		}
	}
	return nil
}
