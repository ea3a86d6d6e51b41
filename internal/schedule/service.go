// Package schedule runs periodic maintenance: expired session eviction and removal of download
// files left behind by interrupted requests.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/memohai/terarelay/internal/metrics"
)

const (
	DefaultPattern    = "@every 1m"
	DefaultFileMaxAge = time.Hour
)

// Evictor drops expired session entries.
type Evictor interface {
	EvictExpired() int
}

// Cleaner removes stale files from the download directory.
type Cleaner interface {
	RemoveStale(olderThan time.Duration) (int, error)
}

// Config holds the sweep pattern and file age threshold.
type Config struct {
	// Pattern is a cron expression (seconds optional) or a descriptor such as "@every 5m".
	Pattern    string
	FileMaxAge time.Duration
}

type Service struct {
	cron     *cron.Cron
	parser   cron.Parser
	cfg      Config
	sessions Evictor
	files    Cleaner
	metrics  *metrics.Metrics
	logger   *slog.Logger
	mu       sync.Mutex
	entryID  cron.EntryID
	started  bool
}

func NewService(log *slog.Logger, cfg Config, sessions Evictor, files Cleaner, m *metrics.Metrics) (*Service, error) {
	if log == nil {
		log = slog.Default()
	}
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if strings.TrimSpace(cfg.Pattern) == "" {
		cfg.Pattern = DefaultPattern
	}
	if _, err := parser.Parse(cfg.Pattern); err != nil {
		return nil, fmt.Errorf("invalid sweep pattern: %w", err)
	}
	if cfg.FileMaxAge <= 0 {
		cfg.FileMaxAge = DefaultFileMaxAge
	}
	return &Service{
		cron:     cron.New(cron.WithParser(parser)),
		parser:   parser,
		cfg:      cfg,
		sessions: sessions,
		files:    files,
		metrics:  m,
		logger:   log.With(slog.String("service", "schedule")),
	}, nil
}

// Start registers the sweep job and starts the scheduler.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	entryID, err := s.cron.AddFunc(s.cfg.Pattern, func() { s.RunOnce() })
	if err != nil {
		return err
	}
	s.entryID = entryID
	s.started = true
	s.cron.Start()
	s.logger.Info("sweeper started", slog.String("pattern", s.cfg.Pattern), slog.Duration("file_max_age", s.cfg.FileMaxAge))
	return nil
}

// Stop halts the scheduler and waits for a running sweep, or for ctx.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.cron.Remove(s.entryID)
	s.started = false
	s.mu.Unlock()

	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce performs one sweep and returns what it removed.
func (s *Service) RunOnce() (sessions, files int) {
	if s.sessions != nil {
		sessions = s.sessions.EvictExpired()
	}
	if s.files != nil {
		n, err := s.files.RemoveStale(s.cfg.FileMaxAge)
		if err != nil {
			s.logger.Warn("remove stale files failed", slog.Any("error", err))
		}
		files = n
	}
	s.metrics.Swept(sessions, files)
	if sessions > 0 || files > 0 {
		s.logger.Info("sweep", slog.Int("sessions", sessions), slog.Int("files", files))
	}
	return sessions, files
}
