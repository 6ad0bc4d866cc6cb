package services

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"nearcast/internal/core/domain"
	"nearcast/internal/core/ports"
)

// TelemetryService derives per-second rates from the media plane counters
// and grades the link. It publishes a snapshot on every tick so UIs and the
// metrics backend see the same numbers.
type TelemetryService struct {
	interval       time.Duration
	probe          ports.MediaProbe
	activeSessions func() int
	events         ports.EventPublisher
	metrics        ports.MetricsCollector
	logger         *zap.SugaredLogger

	mu      sync.RWMutex
	current domain.TelemetrySnapshot
	last    domain.MediaCounters
	lastAt  time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewTelemetryService builds the sampler. activeSessions may be nil on sides
// that do not track sessions.
func NewTelemetryService(
	interval time.Duration,
	probe ports.MediaProbe,
	activeSessions func() int,
	events ports.EventPublisher,
	metrics ports.MetricsCollector,
	logger *zap.SugaredLogger,
) *TelemetryService {
	if interval <= 0 {
		interval = time.Second
	}
	return &TelemetryService{
		interval:       interval,
		probe:          probe,
		activeSessions: activeSessions,
		events:         events,
		metrics:        metrics,
		logger:         logger,
		current:        domain.TelemetrySnapshot{Quality: domain.LinkUnknown},
	}
}

func (s *TelemetryService) Start(ctx context.Context) {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	done := make(chan struct{})
	s.done = done
	s.last = s.probe.Counters()
	s.lastAt = time.Now()
	s.mu.Unlock()

	go s.run(ctx, done)
	s.logger.Infow("telemetry sampling started", "interval", s.interval)
}

func (s *TelemetryService) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *TelemetryService) Snapshot() domain.TelemetrySnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

func (s *TelemetryService) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sample(time.Now())
		}
	}
}

func (s *TelemetryService) sample(now time.Time) {
	counters := s.probe.Counters()
	tracked := s.probe.PeerTracked()

	s.mu.Lock()
	elapsed := now.Sub(s.lastAt).Seconds()
	if elapsed <= 0 {
		elapsed = s.interval.Seconds()
	}
	prev := s.last
	s.last = counters
	s.lastAt = now
	s.mu.Unlock()

	snap := derive(counters, prev, elapsed, tracked, now)
	if s.activeSessions != nil {
		snap.ActiveSessions = s.activeSessions()
	}

	s.mu.Lock()
	s.current = snap
	s.mu.Unlock()

	s.metrics.TelemetrySample(snap)
	s.events.Publish(domain.NewEvent(domain.EventTelemetrySnapshot, snap))
}

// derive turns two successive counter readings into rates. Frame rate covers
// both directions: a broadcaster only relays, a viewer only completes.
func derive(cur, prev domain.MediaCounters, elapsed float64, tracked bool, now time.Time) domain.TelemetrySnapshot {
	frames := float64((cur.FramesCompleted - prev.FramesCompleted) + (cur.FramesRelayed - prev.FramesRelayed))
	dropped := float64(cur.FramesDropped - prev.FramesDropped)
	bytes := float64((cur.BytesIn - prev.BytesIn) + (cur.BytesOut - prev.BytesOut))

	snap := domain.TelemetrySnapshot{
		Timestamp:          now,
		FPS:                frames / elapsed,
		Kbps:               bytes * 8 / 1000 / elapsed,
		FramesCompleted:    cur.FramesCompleted,
		FramesDropped:      cur.FramesDropped,
		DatagramsIn:        cur.DatagramsIn,
		DatagramsOut:       cur.DatagramsOut,
		DatagramsDiscarded: cur.DatagramsDiscarded,
		BytesIn:            cur.BytesIn,
		BytesOut:           cur.BytesOut,
		PeerTracked:        tracked,
	}
	if frames+dropped > 0 {
		snap.DropRatio = dropped / (frames + dropped)
	}
	snap.Quality = grade(snap.FPS, snap.DropRatio, tracked)
	return snap
}

func grade(fps, dropRatio float64, tracked bool) domain.LinkQuality {
	if !tracked || fps == 0 {
		return domain.LinkIdle
	}
	switch {
	case dropRatio < 0.02:
		return domain.LinkGood
	case dropRatio < 0.10:
		return domain.LinkFair
	default:
		return domain.LinkPoor
	}
}
