package api

import (
	"net/http"
	"runtime"
	"time"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status        string         `json:"status"`
	Timestamp     string         `json:"timestamp"`
	Version       string         `json:"version"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Database      DatabaseHealth `json:"database"`
	MQTT          *MQTTHealth    `json:"mqtt,omitempty"`
	WebSocket     WSMetrics      `json:"websocket"`
	Runtime       RuntimeMetrics `json:"runtime"`
}

// DatabaseHealth reports store reachability and schema state.
type DatabaseHealth struct {
	OK                bool   `json:"ok"`
	Error             string `json:"error,omitempty"`
	AppliedMigrations int    `json:"applied_migrations"`
	PendingMigrations int    `json:"pending_migrations"`
	OpenConnections   int    `json:"open_connections"`
	InUse             int    `json:"in_use"`
	WaitCount         int64  `json:"wait_count"`
}

// MQTTHealth reports broker connectivity.
type MQTTHealth struct {
	Connected bool `json:"connected"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// handleHealth reports service health. It answers 503 when the store is
// unreachable or migrations are pending, since logins would fail closed.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	resp := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   s.version,
		WebSocket: WSMetrics{ConnectedClients: s.hub.ClientCount()},
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
	}
	if !s.startedAt.IsZero() {
		resp.UptimeSeconds = int64(time.Since(s.startedAt).Seconds())
	}

	ctx, cancel := s.storeContext(r.Context())
	defer cancel()

	resp.Database.OK = true
	if err := s.db.HealthCheck(ctx); err != nil {
		resp.Database.OK = false
		resp.Database.Error = err.Error()
	} else if applied, pending, err := s.db.GetMigrationStatus(ctx); err != nil {
		resp.Database.OK = false
		resp.Database.Error = err.Error()
	} else {
		resp.Database.AppliedMigrations = len(applied)
		resp.Database.PendingMigrations = len(pending)
	}

	stats := s.db.Stats()
	resp.Database.OpenConnections = stats.OpenConnections
	resp.Database.InUse = stats.InUse
	resp.Database.WaitCount = stats.WaitCount

	if s.mqtt != nil {
		resp.MQTT = &MQTTHealth{Connected: s.mqtt.IsConnected()}
	}

	status := http.StatusOK
	if !resp.Database.OK || resp.Database.PendingMigrations > 0 {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, resp)
}
