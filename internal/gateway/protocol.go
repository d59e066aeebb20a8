package gateway

import (
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/gazebridge/gazebridge/internal/calibration"
	"github.com/gazebridge/gazebridge/internal/tracker"
	"github.com/gazebridge/gazebridge/pkg/metrics"
)

// handleMessage decodes one inbound message, routes it, and enqueues the
// reply. Malformed payloads and unknown kinds produce an error response;
// the connection stays open.
func (c *Conn) handleMessage(raw []byte) {
	var req request
	if err := json.Unmarshal(raw, &req); err != nil {
		metrics.RecordProtocolError()
		log.Error().Err(err).Str("client_id", c.ID).Msg("invalid JSON received")
		c.respond(errorResponse{respBase: respBase{Type: kindError}, Error: "invalid JSON"})
		return
	}

	metrics.RecordMessage(req.Type)
	base := respBase{Type: req.Type, RequestID: req.RequestID}
	svc := c.hub.service

	switch req.Type {
	case kindStartTracking:
		c.respond(ackResponse{respBase: base, Success: svc.StartStreaming(c)})

	case kindStopTracking:
		c.respond(ackResponse{respBase: base, Success: svc.StopStreaming(c)})

	case kindMarker:
		var fields map[string]any
		if err := json.Unmarshal(raw, &fields); err != nil {
			c.respond(ackResponse{respBase: base, Success: false, Error: "invalid marker payload"})
			return
		}
		svc.store.AddMarker(fields)
		metrics.RecordMarker()
		c.respond(ackResponse{respBase: base, Success: true})

	case kindGetCurrentGaze:
		resp := gazeResponse{respBase: base}
		if sample, ok := svc.store.GetLatestSample(); ok {
			ws := toWireSample(sample)
			resp.Gaze = &ws
		}
		c.respond(resp)

	case kindGetData:
		samples := svc.store.GetSamples(req.StartTime, req.EndTime)
		out := make([]wireSample, 0, len(samples))
		for _, s := range samples {
			out = append(out, toWireSample(s))
		}
		c.respond(samplesResponse{respBase: base, Samples: out})

	case kindCalibrationStart:
		err := svc.registry.StartCalibration(c.ID)
		metrics.UpdateCalibrationActive(svc.registry.ActiveCalibrationClient() != "")
		c.respond(ackResponse{respBase: base, Success: err == nil, Error: errText(err)})

	case kindCalibrationPoint:
		if req.Point == nil {
			c.respond(pointResponse{respBase: base, Success: false, Error: "point is required"})
			return
		}
		err := svc.registry.CollectCalibrationPoint(c.ID, req.Point.X, req.Point.Y, req.Timestamp)
		resp := pointResponse{respBase: base, Success: err == nil, Error: errText(err)}
		if err == nil {
			resp.Point = req.Point
		}
		c.respond(resp)

	// get_calibration_data is a legacy alias for calibration_compute.
	case kindCalibrationCompute, kindCalibrationData:
		outcome, err := svc.registry.ComputeCalibration(c.ID)
		metrics.UpdateCalibrationActive(svc.registry.ActiveCalibrationClient() != "")
		if err != nil {
			c.respond(calibrationComputeResponse{respBase: base, Error: errText(err), PointQuality: []wirePointQuality{}})
			return
		}
		resp := calibrationComputeResponse{
			respBase:     base,
			Success:      outcome.Success,
			PointQuality: toWirePointQuality(outcome.PointQuality),
		}
		if outcome.AverageError != nil {
			avg := Float(*outcome.AverageError)
			resp.AverageError = &avg
		}
		c.respond(resp)

	case kindCalibrationDiscard:
		err := svc.registry.DiscardCalibration(c.ID)
		metrics.UpdateCalibrationActive(svc.registry.ActiveCalibrationClient() != "")
		c.respond(ackResponse{respBase: base, Success: err == nil, Error: errText(err)})

	case kindValidationStart:
		err := svc.registry.StartValidation(c.ID)
		if err == nil {
			metrics.RecordValidationSession()
		}
		c.respond(ackResponse{respBase: base, Success: err == nil, Error: errText(err)})

	case kindValidationPoint:
		if req.Point == nil {
			c.respond(pointResponse{respBase: base, Success: false, Error: "point is required"})
			return
		}
		samples := make([]tracker.Sample, 0, len(req.GazeSamples))
		for _, g := range req.GazeSamples {
			samples = append(samples, g.toSample())
		}
		err := svc.registry.CollectValidationPoint(c.ID, req.Point.X, req.Point.Y, req.Timestamp, samples)
		resp := pointResponse{respBase: base, Success: err == nil, Error: errText(err)}
		if err == nil {
			resp.Point = req.Point
		}
		c.respond(resp)

	case kindValidationCompute:
		outcome, err := svc.registry.ComputeValidation(c.ID)
		if err != nil {
			c.respond(validationComputeResponse{respBase: base, Error: errText(err), PointData: []wirePointResult{}})
			return
		}
		c.respond(validationComputeResponse{
			respBase:             base,
			Success:              true,
			AverageAccuracyNorm:  Float(outcome.AverageAccuracy),
			AveragePrecisionNorm: Float(outcome.AveragePrecision),
			PointData:            toWirePointData(outcome.PointData),
		})

	case kindTimeSync:
		c.respond(timeSyncResponse{
			respBase:   base,
			ServerTime: Float(c.ts.HandleSyncRequest()),
			ClientTime: Float(req.ClientTime),
		})

	case kindDeviceClockOffset:
		estimate := svc.store.DeviceClockOffset()
		if estimate == nil {
			c.respond(clockOffsetResponse{respBase: base, Error: "no samples yet"})
			return
		}
		c.respond(clockOffsetResponse{
			respBase:    base,
			Success:     true,
			Offset:      Float(estimate.Offset),
			SampleCount: estimate.SampleCount,
			StdDev:      Float(estimate.StdDev),
			Min:         Float(estimate.Min),
			Max:         Float(estimate.Max),
		})

	case kindTrackerInfo:
		info := svc.manager.Info()
		c.respond(trackerInfoResponse{respBase: base, Success: info != nil, Info: info})

	case kindUserPosition:
		pos := svc.manager.UserPosition()
		c.respond(userPositionResponse{respBase: base, Success: pos != nil, Position: toWirePosition(pos)})

	case kindStatistics:
		stats := svc.store.Statistics()
		c.respond(statisticsResponse{
			respBase:        base,
			Size:            stats.Size,
			SamplingRate:    Float(stats.SamplingRate),
			DurationMs:      Float(stats.DurationMs),
			OldestTimestamp: Float(stats.OldestTimestamp),
			NewestTimestamp: Float(stats.NewestTimestamp),
		})

	default:
		metrics.RecordProtocolError()
		log.Warn().Str("client_id", c.ID).Str("kind", req.Type).Msg("unknown message type")
		c.respond(errorResponse{
			respBase: respBase{Type: kindError, RequestID: req.RequestID},
			Error:    "unknown message type: " + req.Type,
		})
	}
}

// respond encodes and enqueues an outbound message.
func (c *Conn) respond(v any) {
	frame, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("client_id", c.ID).Msg("failed to encode response")
		return
	}
	c.enqueue(frame)
}

// errText maps session-state errors to wire error strings; nil maps to "".
func errText(err error) string {
	if err == nil {
		return ""
	}
	// Device failures are logged with detail; the client only needs the
	// category.
	if errors.Is(err, calibration.ErrDeviceRejected) {
		log.Error().Err(err).Msg("tracker call failed")
	}
	return err.Error()
}
