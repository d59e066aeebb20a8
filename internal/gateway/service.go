package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/gazebridge/gazebridge/internal/buffer"
	"github.com/gazebridge/gazebridge/internal/calibration"
	"github.com/gazebridge/gazebridge/internal/tracker"
	"github.com/gazebridge/gazebridge/pkg/metrics"
)

// Service ties the shared components to the connection hub: it owns the
// upstream gaze subscription, drives the periodic eviction pass, and
// coordinates shutdown.
type Service struct {
	store    *buffer.SampleStore
	registry *calibration.Registry
	manager  *tracker.Manager
	hub      *Hub
	clock    clockwork.Clock

	cleanupInterval time.Duration

	streamMu    sync.Mutex
	streamCount int
}

// NewService wires the shared components together.
func NewService(store *buffer.SampleStore, registry *calibration.Registry, manager *tracker.Manager, hub *Hub, clock clockwork.Clock, cleanupInterval time.Duration) *Service {
	s := &Service{
		store:           store,
		registry:        registry,
		manager:         manager,
		hub:             hub,
		clock:           clock,
		cleanupInterval: cleanupInterval,
	}
	hub.service = s
	return s
}

// Run drives the periodic cleanup pass until the context is cancelled,
// then shuts the connections and the tracker subscription down.
func (s *Service) Run(ctx context.Context) error {
	log.Info().Dur("interval", s.cleanupInterval).Msg("gateway service started")

	ticker := s.clock.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("gateway service shutting down")
			s.shutdown()
			return nil
		case <-ticker.Chan():
			s.store.CleanupOldData()
		}
	}
}

func (s *Service) shutdown() {
	s.streamMu.Lock()
	if s.streamCount > 0 {
		s.manager.StopTracking()
		s.streamCount = 0
	}
	s.streamMu.Unlock()
	s.hub.CloseAll()
}

// onGaze runs on the tracker's producer goroutine for every new sample:
// append to the shared store, then fan out to streaming connections. Never
// blocks.
func (s *Service) onGaze(sample tracker.Sample) {
	stamped := s.store.AddSample(sample)
	metrics.RecordSampleIngested()

	frame, err := json.Marshal(gazeEvent{Type: kindGazeData, Gaze: toWireSample(stamped)})
	if err != nil {
		log.Error().Err(err).Msg("failed to encode gaze frame")
		return
	}
	s.hub.BroadcastGaze(frame)
}

// StartStreaming subscribes a connection to the gaze stream, starting
// tracker production on the first subscriber.
func (s *Service) StartStreaming(c *Conn) bool {
	s.streamMu.Lock()
	defer s.streamMu.Unlock()

	if c.streaming.Load() {
		return true
	}
	if s.streamCount == 0 {
		if !s.manager.StartTracking(s.onGaze) {
			return false
		}
	}
	c.streaming.Store(true)
	s.streamCount++
	metrics.UpdateStreamingClients(s.streamCount)
	log.Info().Str("client_id", c.ID).Int("streaming", s.streamCount).Msg("gaze streaming started")
	return true
}

// StopStreaming unsubscribes a connection; tracker production stops when
// the last subscriber leaves.
func (s *Service) StopStreaming(c *Conn) bool {
	s.streamMu.Lock()
	defer s.streamMu.Unlock()

	if !c.streaming.Load() {
		return false
	}
	c.streaming.Store(false)
	s.streamCount--
	metrics.UpdateStreamingClients(s.streamCount)

	if s.streamCount == 0 {
		s.manager.StopTracking()
	}
	log.Info().Str("client_id", c.ID).Int("streaming", s.streamCount).Msg("gaze streaming stopped")
	return true
}

// onDisconnect releases everything a connection held: its calibration or
// validation session and its stream subscription. Runs for graceful and
// abrupt closes alike.
func (s *Service) onDisconnect(c *Conn) {
	s.StopStreaming(c)
	s.registry.RemoveSession(c.ID)
	metrics.UpdateCalibrationActive(s.registry.ActiveCalibrationClient() != "")
	log.Info().Str("client_id", c.ID).Msg("client session cleaned up")
}

// Store exposes the sample store for the stats endpoints.
func (s *Service) Store() *buffer.SampleStore { return s.store }

// Hub exposes the connection hub for the stats endpoints.
func (s *Service) Hub() *Hub { return s.hub }
