// Package influxdb records Wagerline access metrics to InfluxDB v2.
//
// Three measurements are written:
//
//	admission  tags: tier, outcome          fields: account_id, active_devices, max_devices
//	login      tags: outcome                fields: account_id
//	review     tags: kind, decision         fields: request_id, freed, revoked_sessions
//
// Account IDs are stored as fields, not tags, to keep series cardinality
// bounded by tier and outcome.
//
// The integration is optional. Connect returns ErrDisabled when influxdb is
// not enabled in configuration, and every writer is a no-op on a client that
// is nil or closed.
package influxdb
