package gateway

import (
	"encoding/json"
	"math"

	"github.com/gazebridge/gazebridge/internal/calibration"
	"github.com/gazebridge/gazebridge/internal/tracker"
)

// Message kinds accepted from and sent to clients.
const (
	kindStartTracking      = "start_tracking"
	kindStopTracking       = "stop_tracking"
	kindGazeData           = "gaze_data"
	kindMarker             = "marker"
	kindGetCurrentGaze     = "get_current_gaze"
	kindGetData            = "get_data"
	kindCalibrationStart   = "calibration_start"
	kindCalibrationPoint   = "calibration_point"
	kindCalibrationCompute = "calibration_compute"
	kindCalibrationData    = "get_calibration_data"
	kindCalibrationDiscard = "calibration_discard"
	kindValidationStart    = "validation_start"
	kindValidationPoint    = "validation_point"
	kindValidationCompute  = "validation_compute"
	kindTimeSync           = "time_sync"
	kindDeviceClockOffset  = "get_device_clock_offset"
	kindTrackerInfo        = "get_tracker_info"
	kindUserPosition       = "get_user_position"
	kindStatistics         = "get_statistics"
	kindError              = "error"
)

// Float marshals NaN and infinities as JSON null, since the wire format
// cannot represent them.
type Float float64

func (f Float) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return []byte("null"), nil
	}
	return json.Marshal(v)
}

// request is the inbound envelope. RequestID is kept raw so it is echoed
// back unchanged whatever its JSON type.
type request struct {
	Type        string              `json:"type"`
	RequestID   json.RawMessage     `json:"requestId,omitempty"`
	Point       *pointPayload       `json:"point,omitempty"`
	Timestamp   float64             `json:"timestamp,omitempty"`
	StartTime   *float64            `json:"start_time,omitempty"`
	EndTime     *float64            `json:"end_time,omitempty"`
	ClientTime  float64             `json:"clientTime,omitempty"`
	GazeSamples []gazeSamplePayload `json:"gazeSamples,omitempty"`
}

type pointPayload struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// gazeSamplePayload is a client-supplied gaze sample attached to a
// validation point.
type gazeSamplePayload struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Timestamp  float64 `json:"timestamp,omitempty"`
	LeftValid  bool    `json:"leftValid"`
	RightValid bool    `json:"rightValid"`
}

func (p gazeSamplePayload) toSample() tracker.Sample {
	return tracker.Sample{
		X:               p.X,
		Y:               p.Y,
		DeviceTimestamp: p.Timestamp,
		LeftValid:       p.LeftValid,
		RightValid:      p.RightValid,
	}
}

// respBase carries the fields common to every outbound message.
type respBase struct {
	Type      string          `json:"type"`
	RequestID json.RawMessage `json:"requestId,omitempty"`
}

type ackResponse struct {
	respBase
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type errorResponse struct {
	respBase
	Error string `json:"error"`
}

type wireSample struct {
	X                  Float `json:"x"`
	Y                  Float `json:"y"`
	Timestamp          Float `json:"timestamp"`
	ServerTimestamp    Float `json:"serverTimestamp"`
	LeftValid          bool  `json:"leftValid"`
	RightValid         bool  `json:"rightValid"`
	LeftPupilDiameter  Float `json:"leftPupilDiameter"`
	RightPupilDiameter Float `json:"rightPupilDiameter"`
}

func toWireSample(s tracker.Sample) wireSample {
	return wireSample{
		X:                  Float(s.X),
		Y:                  Float(s.Y),
		Timestamp:          Float(s.DeviceTimestamp),
		ServerTimestamp:    Float(s.ServerTimestamp),
		LeftValid:          s.LeftValid,
		RightValid:         s.RightValid,
		LeftPupilDiameter:  Float(s.LeftPupilDiameter),
		RightPupilDiameter: Float(s.RightPupilDiameter),
	}
}

type gazeEvent struct {
	Type string     `json:"type"`
	Gaze wireSample `json:"gaze"`
}

type gazeResponse struct {
	respBase
	Gaze *wireSample `json:"gaze"`
}

type samplesResponse struct {
	respBase
	Samples []wireSample `json:"samples"`
}

type pointResponse struct {
	respBase
	Success bool          `json:"success"`
	Error   string        `json:"error,omitempty"`
	Point   *pointPayload `json:"point,omitempty"`
}

type wirePointQuality struct {
	Point pointPayload `json:"point"`
	Error Float        `json:"error"`
}

type calibrationComputeResponse struct {
	respBase
	Success      bool               `json:"success"`
	Error        string             `json:"error,omitempty"`
	AverageError *Float             `json:"averageError,omitempty"`
	PointQuality []wirePointQuality `json:"pointQuality"`
}

func toWirePointQuality(quality []calibration.PointQuality) []wirePointQuality {
	out := make([]wirePointQuality, 0, len(quality))
	for _, q := range quality {
		out = append(out, wirePointQuality{
			Point: pointPayload{X: q.Point.X, Y: q.Point.Y},
			Error: Float(q.Error),
		})
	}
	return out
}

type wirePointResult struct {
	Point       pointPayload `json:"point"`
	Accuracy    Float        `json:"accuracy"`
	Precision   Float        `json:"precision"`
	SampleCount int          `json:"sampleCount"`
}

type validationComputeResponse struct {
	respBase
	Success              bool              `json:"success"`
	Error                string            `json:"error,omitempty"`
	AverageAccuracyNorm  Float             `json:"averageAccuracyNorm"`
	AveragePrecisionNorm Float             `json:"averagePrecisionNorm"`
	PointData            []wirePointResult `json:"pointData"`
}

func toWirePointData(points []calibration.PointResult) []wirePointResult {
	out := make([]wirePointResult, 0, len(points))
	for _, p := range points {
		out = append(out, wirePointResult{
			Point:       pointPayload{X: p.Point.X, Y: p.Point.Y},
			Accuracy:    Float(p.Accuracy),
			Precision:   Float(p.Precision),
			SampleCount: p.SampleCount,
		})
	}
	return out
}

type timeSyncResponse struct {
	respBase
	ServerTime Float `json:"serverTime"`
	ClientTime Float `json:"clientTime"`
}

// The numeric fields stay present even at zero: an offset or deviation of
// exactly 0 is a legitimate estimate, not an absent one.
type clockOffsetResponse struct {
	respBase
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`
	Offset      Float  `json:"offset"`
	SampleCount int    `json:"sampleCount"`
	StdDev      Float  `json:"stdDev"`
	Min         Float  `json:"min"`
	Max         Float  `json:"max"`
}

type trackerInfoResponse struct {
	respBase
	Success bool          `json:"success"`
	Info    *tracker.Info `json:"info,omitempty"`
}

type wirePosition struct {
	LeftX      *Float `json:"leftX"`
	LeftY      *Float `json:"leftY"`
	LeftZ      *Float `json:"leftZ"`
	RightX     *Float `json:"rightX"`
	RightY     *Float `json:"rightY"`
	RightZ     *Float `json:"rightZ"`
	LeftValid  bool   `json:"leftValid"`
	RightValid bool   `json:"rightValid"`
}

func toWirePosition(p *tracker.UserPosition) *wirePosition {
	if p == nil {
		return nil
	}
	conv := func(v *float64) *Float {
		if v == nil {
			return nil
		}
		f := Float(*v)
		return &f
	}
	return &wirePosition{
		LeftX:      conv(p.LeftX),
		LeftY:      conv(p.LeftY),
		LeftZ:      conv(p.LeftZ),
		RightX:     conv(p.RightX),
		RightY:     conv(p.RightY),
		RightZ:     conv(p.RightZ),
		LeftValid:  p.LeftValid,
		RightValid: p.RightValid,
	}
}

type userPositionResponse struct {
	respBase
	Success  bool          `json:"success"`
	Position *wirePosition `json:"position,omitempty"`
}

type statisticsResponse struct {
	respBase
	Size            int   `json:"size"`
	SamplingRate    Float `json:"samplingRate"`
	DurationMs      Float `json:"durationMs"`
	OldestTimestamp Float `json:"oldestTimestamp"`
	NewestTimestamp Float `json:"newestTimestamp"`
}
