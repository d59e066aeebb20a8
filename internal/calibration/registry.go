// Package calibration tracks per-client calibration and validation sessions
// and enforces the single global calibration lock.
package calibration

import (
	"math"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/gazebridge/gazebridge/internal/tracker"
)

// DefaultSaccadeRatio is the fraction of leading samples discarded per
// validation point to exclude the saccade toward the target. It is a fixed
// heuristic; tune per sampling rate via the config.
const DefaultSaccadeRatio = 0.3

// minValidationPoints is the smallest point count validation accepts.
const minValidationPoints = 3

// Device is the slice of the tracker capability the registry needs.
// *tracker.Manager satisfies it.
type Device interface {
	IsConnected() bool
	EnterCalibration() bool
	CollectCalibration(point tracker.CalibrationPoint) bool
	ComputeCalibration() tracker.CalibrationResult
	DiscardCalibration() bool
	LeaveCalibration() bool
}

// Point is a collected calibration target.
type Point struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Timestamp float64 `json:"timestamp"`
}

// ValidationPoint is a validation target plus the gaze samples the client
// streamed while the participant fixated it.
type ValidationPoint struct {
	X         float64
	Y         float64
	Timestamp float64
	Samples   []tracker.Sample
}

// Session is one client's calibration/validation state. Calibration and
// validation activate independently.
type Session struct {
	ClientID          string
	CalibrationActive bool
	ValidationActive  bool
	CalibrationPoints []Point
	ValidationPoints  []ValidationPoint
}

// PointQuality pairs a collected calibration point with its device-reported
// error.
type PointQuality struct {
	Point Point   `json:"point"`
	Error float64 `json:"error"`
}

// CalibrationOutcome is the result of compute-and-apply.
type CalibrationOutcome struct {
	Success      bool
	AverageError *float64
	PointQuality []PointQuality
}

// PointResult carries per-point validation metrics in normalized units.
type PointResult struct {
	Point       Point   `json:"point"`
	Accuracy    float64 `json:"accuracy"`
	Precision   float64 `json:"precision"`
	SampleCount int     `json:"sampleCount"`
}

// ValidationOutcome aggregates validation metrics across points.
type ValidationOutcome struct {
	AverageAccuracy  float64
	AveragePrecision float64
	PointData        []PointResult
}

// Registry owns every client session and the global calibration lock.
// Calibration reconfigures shared hardware state, so at most one client may
// calibrate at a time; validation only reads and is never gated.
type Registry struct {
	mu            sync.Mutex
	device        Device
	sessions      map[string]*Session
	activeClient  string // holder of the calibration lock, empty when free
	saccadeRatio  float64
	minValidation int
}

// NewRegistry creates a registry over the given device. saccadeRatio must
// be in [0, 1); values outside fall back to the default.
func NewRegistry(device Device, saccadeRatio float64) *Registry {
	if saccadeRatio < 0 || saccadeRatio >= 1 {
		saccadeRatio = DefaultSaccadeRatio
	}
	return &Registry{
		device:        device,
		sessions:      make(map[string]*Session),
		saccadeRatio:  saccadeRatio,
		minValidation: minValidationPoints,
	}
}

// session returns the client's session, creating it lazily. Caller holds mu.
func (r *Registry) session(clientID string) *Session {
	s, ok := r.sessions[clientID]
	if !ok {
		s = &Session{ClientID: clientID}
		r.sessions[clientID] = s
	}
	return s
}

// StartCalibration acquires the global lock for the client and puts the
// tracker into calibration mode. The lock check-and-set is atomic.
func (r *Registry) StartCalibration(clientID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.activeClient != "" && r.activeClient != clientID {
		return ErrCalibrationBusy
	}
	if !r.device.EnterCalibration() {
		return ErrDeviceRejected
	}

	s := r.session(clientID)
	s.CalibrationActive = true
	s.CalibrationPoints = nil
	r.activeClient = clientID

	log.Info().Str("client_id", clientID).Msg("calibration started")
	return nil
}

// CollectCalibrationPoint forwards the target to the tracker and records it
// only when the device call succeeds.
func (r *Registry) CollectCalibrationPoint(clientID string, x, y, timestamp float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[clientID]
	if !ok || !s.CalibrationActive || r.activeClient != clientID {
		return ErrCalibrationInactive
	}
	if !r.device.CollectCalibration(tracker.CalibrationPoint{X: x, Y: y}) {
		return ErrDeviceRejected
	}
	s.CalibrationPoints = append(s.CalibrationPoints, Point{X: x, Y: y, Timestamp: timestamp})
	return nil
}

// ComputeCalibration runs the device compute-and-apply step. Whatever the
// outcome, the session returns to idle, the tracker leaves calibration
// mode, and the global lock is released.
func (r *Registry) ComputeCalibration(clientID string) (CalibrationOutcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[clientID]
	if !ok || !s.CalibrationActive || r.activeClient != clientID {
		return CalibrationOutcome{}, ErrCalibrationInactive
	}

	defer func() {
		s.CalibrationActive = false
		r.device.LeaveCalibration()
		r.activeClient = ""
		log.Info().Str("client_id", clientID).Msg("calibration lock released")
	}()

	result := r.device.ComputeCalibration()

	outcome := CalibrationOutcome{
		Success:      result.Success,
		AverageError: result.AverageError,
		PointQuality: []PointQuality{},
	}
	// Per-point errors are positional; a count mismatch yields an empty
	// quality list rather than an error.
	if len(result.PointErrors) == len(s.CalibrationPoints) {
		for i, p := range s.CalibrationPoints {
			outcome.PointQuality = append(outcome.PointQuality, PointQuality{Point: p, Error: result.PointErrors[i]})
		}
	}

	log.Info().
		Str("client_id", clientID).
		Bool("success", result.Success).
		Int("points", len(s.CalibrationPoints)).
		Msg("calibration computed")
	return outcome, nil
}

// DiscardCalibration abandons an active calibration: collected data is
// discarded on the device, the tracker leaves calibration mode, and the
// lock is released.
func (r *Registry) DiscardCalibration(clientID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[clientID]
	if !ok || !s.CalibrationActive || r.activeClient != clientID {
		return ErrCalibrationInactive
	}

	r.device.DiscardCalibration()
	r.device.LeaveCalibration()
	s.CalibrationActive = false
	s.CalibrationPoints = nil
	r.activeClient = ""

	log.Info().Str("client_id", clientID).Msg("calibration discarded")
	return nil
}

// RemoveSession deletes the client's state on disconnect. If the client
// held the calibration lock, the tracker is forced out of calibration mode
// and the lock is released.
func (r *Registry) RemoveSession(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.activeClient == clientID {
		r.device.LeaveCalibration()
		r.activeClient = ""
		log.Warn().Str("client_id", clientID).Msg("calibration lock released on disconnect")
	}
	delete(r.sessions, clientID)
}

// ActiveCalibrationClient returns the current lock holder, empty when free.
func (r *Registry) ActiveCalibrationClient() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeClient
}

// SessionCount returns the number of live sessions.
func (r *Registry) SessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// StartValidation begins a validation session. Validation only analyzes
// already-streamed samples, so no global lock is taken.
func (r *Registry) StartValidation(clientID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.device.IsConnected() {
		return ErrTrackerNotConnected
	}
	s := r.session(clientID)
	s.ValidationActive = true
	s.ValidationPoints = nil

	log.Info().Str("client_id", clientID).Msg("validation started")
	return nil
}

// CollectValidationPoint records a target plus its gaze samples. No device
// call is involved.
func (r *Registry) CollectValidationPoint(clientID string, x, y, timestamp float64, samples []tracker.Sample) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[clientID]
	if !ok || !s.ValidationActive {
		return ErrValidationInactive
	}
	s.ValidationPoints = append(s.ValidationPoints, ValidationPoint{
		X: x, Y: y, Timestamp: timestamp, Samples: samples,
	})
	return nil
}

// ComputeValidation derives accuracy (mean distance to target) and
// precision (RMS dispersion around the gaze centroid) per point, then
// averages across points that yielded data. The session always ends,
// whatever the outcome.
func (r *Registry) ComputeValidation(clientID string) (ValidationOutcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[clientID]
	if !ok || !s.ValidationActive {
		return ValidationOutcome{}, ErrValidationInactive
	}

	defer func() {
		s.ValidationActive = false
		log.Info().Str("client_id", clientID).Msg("validation session ended")
	}()

	if len(s.ValidationPoints) < r.minValidation {
		return ValidationOutcome{}, ErrNeedMorePoints
	}

	outcome := ValidationOutcome{PointData: []PointResult{}}
	var accSum, precSum float64

	for _, vp := range s.ValidationPoints {
		kept := r.usableSamples(vp.Samples)
		if len(kept) == 0 {
			continue
		}

		var distSum, mx, my float64
		for _, g := range kept {
			dx, dy := g.X-vp.X, g.Y-vp.Y
			distSum += math.Hypot(dx, dy)
			mx += g.X
			my += g.Y
		}
		n := float64(len(kept))
		accuracy := distSum / n
		mx /= n
		my /= n

		var devSum float64
		for _, g := range kept {
			dx, dy := g.X-mx, g.Y-my
			devSum += dx*dx + dy*dy
		}
		precision := math.Sqrt(devSum / n)

		accSum += accuracy
		precSum += precision
		outcome.PointData = append(outcome.PointData, PointResult{
			Point:       Point{X: vp.X, Y: vp.Y, Timestamp: vp.Timestamp},
			Accuracy:    accuracy,
			Precision:   precision,
			SampleCount: len(kept),
		})
	}

	if len(outcome.PointData) == 0 {
		return ValidationOutcome{}, ErrNoValidSamples
	}

	outcome.AverageAccuracy = accSum / float64(len(outcome.PointData))
	outcome.AveragePrecision = precSum / float64(len(outcome.PointData))

	log.Info().
		Str("client_id", clientID).
		Float64("accuracy", outcome.AverageAccuracy).
		Float64("precision", outcome.AveragePrecision).
		Int("points", len(outcome.PointData)).
		Msg("validation computed")
	return outcome, nil
}

// usableSamples drops the leading saccade fraction, then keeps samples
// with at least one valid eye.
func (r *Registry) usableSamples(samples []tracker.Sample) []tracker.Sample {
	skip := int(math.Floor(r.saccadeRatio * float64(len(samples))))
	kept := make([]tracker.Sample, 0, len(samples)-skip)
	for _, g := range samples[skip:] {
		if g.Valid() {
			kept = append(kept, g)
		}
	}
	return kept
}
