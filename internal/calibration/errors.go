package calibration

import "errors"

// Session-state failures surfaced to clients as success:false responses.
var (
	ErrCalibrationBusy     = errors.New("another client is calibrating")
	ErrCalibrationInactive = errors.New("calibration not active for this client")
	ErrValidationInactive  = errors.New("validation not active for this client")
	ErrNeedMorePoints      = errors.New("validation requires at least 3 points")
	ErrNoValidSamples      = errors.New("no valid gaze samples in any validation point")
	ErrTrackerNotConnected = errors.New("tracker not connected")
	ErrDeviceRejected      = errors.New("tracker rejected the operation")
)
