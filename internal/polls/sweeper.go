package polls

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/chapterhub/internal/content"
	"github.com/MarcoPoloResearchLab/chapterhub/internal/relay"
	"go.uber.org/zap"
)

const defaultSweepInterval = time.Minute

var errMissingService = errors.New("poll service is required")

// Publisher receives change events for polls the sweeper deactivates.
type Publisher interface {
	Publish(event relay.ChangeEvent)
}

// SweeperConfig describes a periodic expiry sweep.
type SweeperConfig struct {
	Service   *Service
	Publisher Publisher
	Interval  time.Duration
	Logger    *zap.Logger
}

// Sweeper deactivates expired polls on a fixed interval.
type Sweeper struct {
	service   *Service
	publisher Publisher
	interval  time.Duration
	logger    *zap.Logger
}

// NewSweeper constructs a Sweeper.
func NewSweeper(cfg SweeperConfig) (*Sweeper, error) {
	if cfg.Service == nil {
		return nil, errMissingService
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		service:   cfg.Service,
		publisher: cfg.Publisher,
		interval:  interval,
		logger:    logger,
	}, nil
}

// Run sweeps once immediately and then on every tick until ctx ends.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// Sweep performs one deactivation pass and publishes the changed polls.
func (s *Sweeper) Sweep(ctx context.Context) ([]string, error) {
	expired, err := s.service.DeactivateExpired(ctx)
	if err != nil || len(expired) == 0 || s.publisher == nil {
		return expired, err
	}
	polls, err := s.service.Find(ctx, expired)
	if err != nil {
		return expired, err
	}
	now := s.service.clock().UTC()
	for index := range polls {
		s.publisher.Publish(relay.ChangeEvent{
			Collection: content.CollectionPolls.String(),
			Action:     relay.ActionUpdate,
			Data:       &polls[index],
			Timestamp:  now,
		})
	}
	return expired, nil
}

func (s *Sweeper) sweep(ctx context.Context) {
	if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
		s.logger.Warn("poll sweep failed", zap.Error(err))
	}
}
