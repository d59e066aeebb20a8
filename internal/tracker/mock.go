package tracker

import (
	"math/rand"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const (
	mockSamplingHz   = 120.0
	mockSaccadeProb  = 0.02
	mockInvalidProb  = 0.02
	mockMinCalPoints = 3
)

// MockAdapter simulates a tracker without hardware. It generates smooth
// drifting gaze with occasional saccades on its own goroutine at ~120 Hz,
// and implements the full calibration-mode state machine.
type MockAdapter struct {
	mu        sync.Mutex
	clock     clockwork.Clock
	rng       *rand.Rand
	connected bool
	tracking  bool
	stopCh    chan struct{}
	done      chan struct{}

	inCalibration bool
	calPoints     []CalibrationPoint
}

// NewMockAdapter returns a mock tracker driven by the given clock. Pass
// clockwork.NewRealClock() outside tests.
func NewMockAdapter(clock clockwork.Clock) *MockAdapter {
	return &MockAdapter{
		clock: clock,
		rng:   rand.New(rand.NewSource(clock.Now().UnixNano())),
	}
}

func (m *MockAdapter) Name() string { return "mock" }

func (m *MockAdapter) Connect(address string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
	log.Info().Str("address", address).Msg("connected to mock tracker")
	return true
}

func (m *MockAdapter) Disconnect() bool {
	if m.IsTracking() {
		m.UnsubscribeGaze()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	log.Info().Msg("disconnected from mock tracker")
	return true
}

func (m *MockAdapter) Info() *Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return nil
	}
	return &Info{
		Model:             "Mock Pro Spectrum",
		SerialNumber:      "MOCK-123456789",
		Address:           "mock://localhost",
		DeviceName:        "Mock Eye Tracker",
		FirmwareVersion:   "1.0.0-mock",
		SamplingFrequency: mockSamplingHz,
	}
}

func (m *MockAdapter) SubscribeGaze(cb GazeCallback) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		log.Error().Msg("mock tracker not connected")
		return false
	}
	if m.tracking {
		return false
	}
	m.tracking = true
	m.stopCh = make(chan struct{})
	m.done = make(chan struct{})
	go m.generate(cb, m.stopCh, m.done)
	log.Info().Msg("mock gaze generation started")
	return true
}

func (m *MockAdapter) UnsubscribeGaze() bool {
	m.mu.Lock()
	if !m.tracking {
		m.mu.Unlock()
		return false
	}
	m.tracking = false
	close(m.stopCh)
	done := m.done
	m.mu.Unlock()

	<-done
	log.Info().Msg("mock gaze generation stopped")
	return true
}

// generate produces gaze samples until stopCh closes. Smooth pursuit with
// damping, 2% saccade probability per sample, gaussian fixation jitter.
func (m *MockAdapter) generate(cb GazeCallback, stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	interval := time.Second / time.Duration(mockSamplingHz)
	ticker := m.clock.NewTicker(interval)
	defer ticker.Stop()

	x, y := 0.5, 0.5
	vx, vy := 0.0, 0.0
	dt := 1.0 / mockSamplingHz

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.Chan():
		}

		m.mu.Lock()
		if m.rng.Float64() < mockSaccadeProb {
			vx = m.rng.Float64()*0.6 - 0.3
			vy = m.rng.Float64()*0.6 - 0.3
		} else {
			vx = (vx + m.rng.NormFloat64()*0.002) * 0.95
			vy = (vy + m.rng.NormFloat64()*0.002) * 0.95
		}
		x += vx * dt
		y += vy * dt

		// Soft bounce off screen edges.
		if x < 0.1 {
			x, vx = 0.1, abs(vx)
		} else if x > 0.9 {
			x, vx = 0.9, -abs(vx)
		}
		if y < 0.1 {
			y, vy = 0.1, abs(vy)
		} else if y > 0.9 {
			y, vy = 0.9, -abs(vy)
		}

		sample := Sample{
			X:                  clamp01(x + m.rng.NormFloat64()*0.002),
			Y:                  clamp01(y + m.rng.NormFloat64()*0.002),
			DeviceTimestamp:    float64(m.clock.Now().UnixNano()) / 1e6,
			LeftValid:          m.rng.Float64() > mockInvalidProb,
			RightValid:         m.rng.Float64() > mockInvalidProb,
			LeftPupilDiameter:  3.5 + m.rng.NormFloat64()*0.3,
			RightPupilDiameter: 3.5 + m.rng.NormFloat64()*0.3,
		}
		m.mu.Unlock()

		cb(sample)
	}
}

func (m *MockAdapter) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockAdapter) IsTracking() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tracking
}

func (m *MockAdapter) EnterCalibration() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return false
	}
	m.inCalibration = true
	m.calPoints = nil
	log.Info().Msg("mock calibration mode entered")
	return true
}

func (m *MockAdapter) CollectCalibration(point CalibrationPoint) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.inCalibration {
		return false
	}
	m.calPoints = append(m.calPoints, point)
	return true
}

func (m *MockAdapter) ComputeCalibration() CalibrationResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.inCalibration || len(m.calPoints) < mockMinCalPoints {
		return CalibrationResult{Success: false}
	}

	// Quality improves with more points, floored at 0.3 degrees.
	avg := 1.5 - 0.1*float64(len(m.calPoints)-5)
	if avg < 0.3 {
		avg = 0.3
	}
	errors := make([]float64, len(m.calPoints))
	for i := range errors {
		errors[i] = avg + m.rng.NormFloat64()*0.2
	}
	return CalibrationResult{Success: true, AverageError: &avg, PointErrors: errors}
}

func (m *MockAdapter) DiscardCalibration() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.inCalibration {
		return false
	}
	m.calPoints = nil
	return true
}

func (m *MockAdapter) LeaveCalibration() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.inCalibration {
		return false
	}
	m.inCalibration = false
	m.calPoints = nil
	log.Info().Msg("mock calibration mode left")
	return true
}

func (m *MockAdapter) UserPosition() *UserPosition {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return nil
	}
	jitter := func(base float64) *float64 {
		v := base + (m.rng.Float64()*0.1 - 0.05)
		return &v
	}
	return &UserPosition{
		LeftX:      jitter(0.5),
		LeftY:      jitter(0.5),
		LeftZ:      jitter(0.5),
		RightX:     jitter(0.5),
		RightY:     jitter(0.5),
		RightZ:     jitter(0.5),
		LeftValid:  true,
		RightValid: true,
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
