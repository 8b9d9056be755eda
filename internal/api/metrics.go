package api

import (
	"database/sql"
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/tailnet-monitor/internal/tracker"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string          `json:"timestamp"`
	Version       string          `json:"version"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Runtime       RuntimeMetrics  `json:"runtime"`
	WebSocket     WSMetrics       `json:"websocket"`
	MQTT          MQTTMetrics     `json:"mqtt"`
	EventLog      EventLogMetrics `json:"event_log"`
	Pollers       PollerMetrics   `json:"pollers"`
	Database      DatabaseMetrics `json:"database"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
	PendingTickets   int `json:"pending_tickets"`
}

// MQTTMetrics contains MQTT client statistics.
type MQTTMetrics struct {
	Enabled       bool   `json:"enabled"`
	Connected     bool   `json:"connected"`
	Subscriptions int    `json:"subscriptions"`
	Reconnects    uint64 `json:"reconnects"`
}

// EventLogMetrics counts InfluxDB event points.
type EventLogMetrics struct {
	Enabled bool   `json:"enabled"`
	Written uint64 `json:"points_written"`
	Failed  uint64 `json:"batches_failed"`
}

// PollerMetrics aggregates the snapshots of every tracked entity.
type PollerMetrics struct {
	Entities     int            `json:"entities"`
	ByKind       map[string]int `json:"by_kind"`
	ByState      map[string]int `json:"by_state"`
	Unavailable  int            `json:"unavailable"`
	Polls        uint64         `json:"polls"`
	Failures     uint64         `json:"failures"`
	KnownDevices int            `json:"known_devices"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// DBStatter reports connection pool statistics. *sql.DB satisfies it.
type DBStatter interface {
	Stats() sql.DBStats
}

// handleMetrics returns runtime, connection and poller metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			PendingTickets: s.tickets.len(),
		},
		Pollers: s.pollerMetrics(),
	}

	if s.hub != nil {
		metrics.WebSocket.ConnectedClients = s.hub.ClientCount()
	}

	if s.mqtt != nil {
		metrics.MQTT = MQTTMetrics{
			Enabled:       true,
			Connected:     s.mqtt.IsConnected(),
			Subscriptions: s.mqtt.SubscriptionCount(),
			Reconnects:    s.mqtt.Reconnects(),
		}
	}

	if s.eventLog != nil {
		written, failed := s.eventLog.Stats()
		metrics.EventLog = EventLogMetrics{Enabled: true, Written: written, Failed: failed}
	}

	if s.db != nil {
		dbStats := s.db.Stats()
		metrics.Database = DatabaseMetrics{
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
			WaitCount:       dbStats.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}

// pollerMetrics sums snapshot counters across entities. Entities removed
// between listing and snapshotting are skipped.
func (s *Server) pollerMetrics() PollerMetrics {
	m := PollerMetrics{
		ByKind:  make(map[string]int),
		ByState: make(map[string]int),
	}
	for _, e := range s.entities.Entities() {
		snap, err := s.entities.Snapshot(e.ID)
		if err != nil {
			continue
		}
		m.Entities++
		m.ByKind[string(e.Kind)]++
		m.ByState[snap.State.String()]++
		if !snap.Available {
			m.Unavailable++
		}
		m.Polls += snap.Polls
		m.Failures += snap.Failures
		if e.Kind == tracker.KindTailnet {
			m.KnownDevices += len(snap.Devices)
		}
	}
	return m
}
