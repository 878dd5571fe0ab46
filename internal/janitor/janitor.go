// Package janitor runs the periodic maintenance jobs: sweeping orphaned
// album buffers (a burst whose trailing parts never arrived keeps its
// buffer armed forever otherwise) and logging the engine gauges.
package janitor

import (
	"sync"

	"github.com/robfig/cron/v3"

	"reposter/internal/engine"
	"reposter/pkg/logx"
)

// Config carries cron specs; an empty spec disables that job.
// Both 5-field specs and descriptors like "@every 5m" are accepted.
type Config struct {
	Sweep string
	Stats string
}

const (
	defaultSweep = "@every 5m"
	defaultStats = "@every 1h"
)

// Engine is the maintenance surface the janitor drives.
type Engine interface {
	SweepAlbums() int
	Snapshot() engine.Gauges
}

type Service struct {
	mu  sync.Mutex
	log logx.Logger
	eng Engine
	cfg Config
	c   *cron.Cron
}

func New(cfg Config, eng Engine, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Sweep == "" {
		cfg.Sweep = defaultSweep
	}
	if cfg.Stats == "" {
		cfg.Stats = defaultStats
	}
	return &Service{log: log, eng: eng, cfg: cfg}
}

// Start registers the jobs and starts the cron loop. Invalid specs are an
// error so a config typo is caught at boot, not silently ignored.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}

	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser))

	if s.cfg.Sweep != "disabled" {
		if _, err := c.AddFunc(s.cfg.Sweep, s.sweep); err != nil {
			return err
		}
	}
	if s.cfg.Stats != "disabled" {
		if _, err := c.AddFunc(s.cfg.Stats, s.stats); err != nil {
			return err
		}
	}

	c.Start()
	s.c = c
	return nil
}

// Stop halts the cron loop and waits for a running job to finish.
func (s *Service) Stop() {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

func (s *Service) sweep() {
	if n := s.eng.SweepAlbums(); n > 0 {
		s.log.Info("orphaned album buffers swept", logx.Int("count", n))
	}
}

func (s *Service) stats() {
	g := s.eng.Snapshot()
	s.log.Info("engine gauges",
		logx.Int("album_groups", g.AlbumGroups),
		logx.Int("armed_queues", g.ArmedQueues),
		logx.Int("queued_bundles", g.QueuedBundles),
		logx.Int("dedup_tables", g.DedupTables),
		logx.Int("walkers", g.Walkers))
}
