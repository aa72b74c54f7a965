// Package maintenance prunes the request audit log on a schedule.
package maintenance

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"onvifsimple/gover/backend/store"
)

var ErrRetentionDisabled = errors.New("audit retention is disabled")

// CleanupResult describes one pruning run.
type CleanupResult struct {
	Source     string    `json:"source"`
	Cutoff     time.Time `json:"cutoff"`
	Removed    int64     `json:"removed"`
	FinishedAt time.Time `json:"finishedAt"`
}

type Service struct {
	store         *store.Store
	retentionDays int
	interval      time.Duration
	now           func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	last   *CleanupResult
}

func New(storeDB *store.Store, retentionDays int) *Service {
	return &Service{
		store:         storeDB,
		retentionDays: retentionDays,
		interval:      30 * time.Minute,
		now:           time.Now,
	}
}

// Start launches the periodic cleanup loop. It is a no-op when retention is off.
func (s *Service) Start() {
	if s.retentionDays <= 0 {
		return
	}
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	go s.autoLoop(ctx, done)
}

func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

// Cleanup removes rows older than the configured retention.
func (s *Service) Cleanup(ctx context.Context, source string) (*CleanupResult, error) {
	if s.retentionDays <= 0 {
		return nil, ErrRetentionDisabled
	}
	return s.CleanupOlderThan(ctx, source, s.retentionDays)
}

// CleanupOlderThan removes rows older than days, regardless of the configured retention.
func (s *Service) CleanupOlderThan(ctx context.Context, source string, days int) (*CleanupResult, error) {
	if days <= 0 {
		return nil, ErrRetentionDisabled
	}
	cutoff := s.now().Add(-time.Duration(days) * 24 * time.Hour)
	removed, err := s.store.PruneRequestLogs(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	result := &CleanupResult{
		Source:     source,
		Cutoff:     cutoff,
		Removed:    removed,
		FinishedAt: s.now(),
	}
	s.mu.Lock()
	s.last = result
	s.mu.Unlock()
	if removed > 0 {
		log.Printf("[maintenance] %s cleanup removed %d request log rows older than %s", source, removed, cutoff.Format(time.RFC3339))
	}
	return result, nil
}

// Last returns the most recent cleanup result, or nil.
func (s *Service) Last() *CleanupResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return nil
	}
	copied := *s.last
	return &copied
}

func (s *Service) autoLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	s.runAuto(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAuto(ctx)
		}
	}
}

func (s *Service) runAuto(ctx context.Context) {
	if _, err := s.Cleanup(ctx, "auto"); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("[maintenance][warn] auto cleanup failed: %v", err)
	}
}
