package tracker

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Manager owns the single upstream gaze subscription for one Adapter and
// forwards every sample to the registered callback. Calibration primitives
// pass through so callers only ever touch the Manager.
type Manager struct {
	mu      sync.Mutex
	adapter Adapter
	address string
}

// NewManager wraps an adapter. The address is forwarded to Connect; empty
// means auto-detect.
func NewManager(adapter Adapter, address string) *Manager {
	return &Manager{adapter: adapter, address: address}
}

// Connect establishes the tracker connection.
func (m *Manager) Connect() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.adapter.IsConnected() {
		return true
	}
	if !m.adapter.Connect(m.address) {
		log.Error().Str("adapter", m.adapter.Name()).Msg("tracker connection failed")
		return false
	}
	return true
}

// Disconnect stops tracking if needed and drops the connection.
func (m *Manager) Disconnect() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.adapter.Disconnect()
}

// Info returns tracker details, or nil when disconnected.
func (m *Manager) Info() *Info {
	return m.adapter.Info()
}

// StartTracking subscribes the callback to the gaze stream. The callback
// runs on the adapter's producer goroutine and must not block.
func (m *Manager) StartTracking(cb GazeCallback) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.adapter.IsConnected() {
		log.Error().Msg("cannot start tracking: no tracker connected")
		return false
	}
	if m.adapter.IsTracking() {
		return true
	}
	if !m.adapter.SubscribeGaze(cb) {
		log.Error().Str("adapter", m.adapter.Name()).Msg("gaze subscription failed")
		return false
	}
	log.Info().Str("adapter", m.adapter.Name()).Msg("gaze tracking started")
	return true
}

// StopTracking unsubscribes from the gaze stream.
func (m *Manager) StopTracking() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.adapter.IsTracking() {
		return false
	}
	if !m.adapter.UnsubscribeGaze() {
		return false
	}
	log.Info().Str("adapter", m.adapter.Name()).Msg("gaze tracking stopped")
	return true
}

func (m *Manager) IsConnected() bool { return m.adapter.IsConnected() }
func (m *Manager) IsTracking() bool  { return m.adapter.IsTracking() }

func (m *Manager) EnterCalibration() bool { return m.adapter.EnterCalibration() }

func (m *Manager) CollectCalibration(point CalibrationPoint) bool {
	return m.adapter.CollectCalibration(point)
}

func (m *Manager) ComputeCalibration() CalibrationResult {
	return m.adapter.ComputeCalibration()
}

func (m *Manager) DiscardCalibration() bool { return m.adapter.DiscardCalibration() }
func (m *Manager) LeaveCalibration() bool   { return m.adapter.LeaveCalibration() }

// UserPosition returns the current head position, or nil when unavailable.
func (m *Manager) UserPosition() *UserPosition {
	return m.adapter.UserPosition()
}
