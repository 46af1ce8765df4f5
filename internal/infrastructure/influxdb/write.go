package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementAdmission = "admission"
	MeasurementLogin     = "login"
	MeasurementReview    = "review"
)

// WriteAdmission records the outcome of one admission decision.
func (c *Client) WriteAdmission(accountID, tierName, outcome string, activeDevices, maxDevices int) {
	c.writePoint(admissionPoint(accountID, tierName, outcome, activeDevices, maxDevices, time.Now()))
}

// WriteLogin records a credential check. Outcome is "ok" or the error code
// returned to the client.
func (c *Client) WriteLogin(accountID, outcome string) {
	c.writePoint(loginPoint(accountID, outcome, time.Now()))
}

// WriteReview records an administrator decision on a device request.
func (c *Client) WriteReview(kind, decision, requestID string, freed int, revokedSessions int64) {
	c.writePoint(reviewPoint(kind, decision, requestID, freed, revokedSessions, time.Now()))
}

// WritePoint writes a custom point with the current timestamp.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a custom point at ts.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, ts time.Time) {
	c.writePoint(write.NewPoint(measurement, tags, fields, ts))
}

func (c *Client) writePoint(p *write.Point) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(p)
}

func admissionPoint(accountID, tierName, outcome string, activeDevices, maxDevices int, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementAdmission,
		map[string]string{"tier": tierName, "outcome": outcome},
		map[string]any{
			"account_id":     accountID,
			"active_devices": activeDevices,
			"max_devices":    maxDevices,
		},
		ts,
	)
}

func loginPoint(accountID, outcome string, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementLogin,
		map[string]string{"outcome": outcome},
		map[string]any{"account_id": accountID},
		ts,
	)
}

func reviewPoint(kind, decision, requestID string, freed int, revokedSessions int64, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementReview,
		map[string]string{"kind": kind, "decision": decision},
		map[string]any{
			"request_id":       requestID,
			"freed":            freed,
			"revoked_sessions": revokedSessions,
		},
		ts,
	)
}
