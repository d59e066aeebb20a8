package tracker

// Sample is a single gaze measurement. Coordinates are normalized screen
// units (0-1); timestamps are milliseconds. DeviceTimestamp comes from the
// tracker's onboard clock, ServerTimestamp is assigned at ingestion.
type Sample struct {
	X                  float64
	Y                  float64
	DeviceTimestamp    float64
	ServerTimestamp    float64
	LeftValid          bool
	RightValid         bool
	LeftPupilDiameter  float64
	RightPupilDiameter float64
}

// Valid reports whether at least one eye produced usable data.
func (s Sample) Valid() bool {
	return s.LeftValid || s.RightValid
}

// Info describes a connected tracker.
type Info struct {
	Model             string  `json:"model"`
	SerialNumber      string  `json:"serial"`
	Address           string  `json:"address"`
	DeviceName        string  `json:"name"`
	FirmwareVersion   string  `json:"firmwareVersion,omitempty"`
	SamplingFrequency float64 `json:"samplingFrequency,omitempty"`
}

// CalibrationPoint is a normalized screen target for calibration.
type CalibrationPoint struct {
	X float64
	Y float64
}

// CalibrationResult is the outcome of the device-side compute-and-apply step.
// AverageError and PointErrors are optional; units are device-defined.
type CalibrationResult struct {
	Success      bool
	AverageError *float64
	PointErrors  []float64
}

// UserPosition is the head position reported by the tracker, in normalized
// track-box coordinates (0.5 is centered on each axis).
type UserPosition struct {
	LeftX      *float64 `json:"leftX"`
	LeftY      *float64 `json:"leftY"`
	LeftZ      *float64 `json:"leftZ"`
	RightX     *float64 `json:"rightX"`
	RightY     *float64 `json:"rightY"`
	RightZ     *float64 `json:"rightZ"`
	LeftValid  bool     `json:"leftValid"`
	RightValid bool     `json:"rightValid"`
}

// GazeCallback receives samples on the adapter's own producer goroutine.
// Implementations must not block.
type GazeCallback func(Sample)

// Adapter is the capability surface of one concrete tracker variant. The
// rest of the system consumes trackers only through this interface; hardware
// SDKs and the synthetic test tracker plug in behind it.
type Adapter interface {
	Connect(address string) bool
	Disconnect() bool
	Info() *Info

	SubscribeGaze(cb GazeCallback) bool
	UnsubscribeGaze() bool

	IsConnected() bool
	IsTracking() bool

	EnterCalibration() bool
	CollectCalibration(point CalibrationPoint) bool
	ComputeCalibration() CalibrationResult
	DiscardCalibration() bool
	LeaveCalibration() bool

	UserPosition() *UserPosition

	Name() string
}
