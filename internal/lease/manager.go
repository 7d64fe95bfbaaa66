package lease

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"veriflow/internal/config"
	"veriflow/internal/market"
	"veriflow/internal/services"
)

// Lease describes a successful claim.
type Lease struct {
	ChunkID   int64
	CheckerID int64
	ClaimedAt time.Time
	ExpiresAt time.Time
}

// Manager runs the claim/release/expire protocol over chunks. All state
// transitions go through the store's conditional updates; the manager adds
// policy (active checker, claim cap) and the expiry sweep.
type Manager struct {
	store     *market.Store
	logger    *zap.Logger
	duration  time.Duration
	maxClaims int
}

// NewManager wires a lease manager from configuration.
func NewManager(store *market.Store, cfg *config.Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:     store,
		logger:    logger.Named("lease"),
		duration:  cfg.Market.LeaseDuration(),
		maxClaims: cfg.Market.MaxActiveClaims,
	}
}

// Claim gives the checker exclusive ownership of an open or rejected chunk.
// Expired leases are swept opportunistically first so a chunk abandoned
// moments ago is immediately claimable.
func (m *Manager) Claim(ctx context.Context, chunkID, checkerID int64) (*Lease, error) {
	if _, err := m.SweepExpired(ctx); err != nil {
		m.logger.Warn("opportunistic sweep failed", zap.Error(err))
	}

	checker, err := m.store.GetChecker(ctx, checkerID)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "lease", "claim", "load checker", err)
	}
	if checker == nil {
		return nil, services.Wrap(services.ErrNotFound, "lease", "claim", fmt.Sprintf("checker %d", checkerID), nil)
	}
	if !checker.Active {
		return nil, services.Wrap(services.ErrValidation, "lease", "claim", "checker is not active", nil)
	}

	active, err := m.store.CountActiveClaims(ctx, checkerID)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "lease", "claim", "count active claims", err)
	}
	if active >= m.maxClaims {
		return nil, services.Wrap(services.ErrLimitExceeded, "lease", "claim",
			fmt.Sprintf("checker holds %d of %d allowed claims", active, m.maxClaims), nil)
	}

	chunk, err := m.store.GetChunk(ctx, chunkID)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "lease", "claim", "load chunk", err)
	}
	if chunk == nil {
		return nil, services.Wrap(services.ErrNotFound, "lease", "claim", fmt.Sprintf("chunk %d", chunkID), nil)
	}

	now := time.Now().UTC()
	claimed, err := m.store.ClaimChunk(ctx, chunkID, checkerID, now)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "lease", "claim", "claim chunk", err)
	}
	if !claimed {
		return nil, services.Wrap(services.ErrConflict, "lease", "claim", "chunk no longer available", nil)
	}

	m.logger.Info("chunk claimed",
		zap.Int64("chunk_id", chunkID),
		zap.Int64("checker_id", checkerID),
		zap.Duration("lease", m.duration))
	return &Lease{
		ChunkID:   chunkID,
		CheckerID: checkerID,
		ClaimedAt: now,
		ExpiresAt: now.Add(m.duration),
	}, nil
}

// Release voluntarily returns a claimed chunk to the open pool.
func (m *Manager) Release(ctx context.Context, chunkID, checkerID int64) error {
	released, err := m.store.ReleaseChunk(ctx, chunkID, checkerID)
	if err != nil {
		return services.Wrap(services.ErrTransient, "lease", "release", "release chunk", err)
	}
	if !released {
		return services.Wrap(services.ErrNotOwned, "lease", "release", "lease not held by caller", nil)
	}
	m.logger.Info("chunk released", zap.Int64("chunk_id", chunkID), zap.Int64("checker_id", checkerID))
	return nil
}

// SweepExpired reclaims every chunk whose lease has outlived the configured
// duration. Returns the number of chunks reopened.
func (m *Manager) SweepExpired(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-m.duration)
	swept, err := m.store.SweepExpiredLeases(ctx, cutoff)
	if err != nil {
		return 0, services.Wrap(services.ErrTransient, "lease", "sweep", "sweep expired leases", err)
	}
	if swept > 0 {
		m.logger.Info("expired leases reclaimed", zap.Int64("count", swept))
	}
	return swept, nil
}

// Duration exposes the configured lease length for API responses.
func (m *Manager) Duration() time.Duration {
	return m.duration
}
