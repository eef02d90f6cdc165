package background

import (
	"context"
	"log/slog"
	"time"

	"github.com/harborgrid/sessiond/internal/repositories"
)

// Sweeper periodically reconciles stored state with read-time rules:
// expired sessions are marked inactive, expired trust grants are
// deactivated, and cooled-down device blocks are lifted. Reads never
// depend on the sweep; it only catches stored rows up.
type Sweeper struct {
	sessionRepo *repositories.SessionRepository
	trustRepo   *repositories.TrustRepository
	fpRepo      *repositories.FingerprintRepository
	logger      *slog.Logger
	interval    time.Duration
	cooldown    time.Duration
	stopCh      chan struct{}
}

// NewSweeper creates a new sweeper
func NewSweeper(
	sessionRepo *repositories.SessionRepository,
	trustRepo *repositories.TrustRepository,
	fpRepo *repositories.FingerprintRepository,
	logger *slog.Logger,
	interval time.Duration,
	cooldown time.Duration,
) *Sweeper {
	return &Sweeper{
		sessionRepo: sessionRepo,
		trustRepo:   trustRepo,
		fpRepo:      fpRepo,
		logger:      logger,
		interval:    interval,
		cooldown:    cooldown,
		stopCh:      make(chan struct{}),
	}
}

// Start begins the periodic sweep task
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Run immediately on startup
	s.runSweep(ctx)

	for {
		select {
		case <-ticker.C:
			s.runSweep(ctx)
		case <-s.stopCh:
			s.logger.Info("sweeper stopped")
			return
		case <-ctx.Done():
			s.logger.Info("sweeper context cancelled")
			return
		}
	}
}

// runSweep performs one reconciliation pass. Each step is independent; a
// failure in one does not stop the others.
func (s *Sweeper) runSweep(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	expired, err := s.sessionRepo.SweepExpired(sweepCtx)
	if err != nil {
		s.logger.Error("failed to sweep expired sessions", slog.Any("error", err))
	} else if expired > 0 {
		s.logger.Info("expired sessions swept", slog.Int64("sessions", expired))
	}

	trusts, err := s.trustRepo.DeactivateExpired(sweepCtx)
	if err != nil {
		s.logger.Error("failed to deactivate expired trust grants", slog.Any("error", err))
	} else if trusts > 0 {
		s.logger.Info("expired trust grants deactivated", slog.Int64("trusts", trusts))
	}

	if s.cooldown > 0 {
		unblocked, err := s.fpRepo.ClearCooledBlocks(sweepCtx, s.cooldown)
		if err != nil {
			s.logger.Error("failed to clear cooled device blocks", slog.Any("error", err))
		} else if unblocked > 0 {
			s.logger.Info("cooled device blocks cleared", slog.Int64("devices", unblocked))
		}
	}
}

// Stop signals the sweeper to stop
func (s *Sweeper) Stop() {
	close(s.stopCh)
}
