package worker

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"
)

// DebugHandler 返回 /debug/worker 所需的 handler。
func (d *Dispatcher) DebugHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(d.Snapshot())
	})
}

// Snapshot 描述 worker 的瞬时状态。
type Snapshot struct {
	QueueDepth int       `json:"queueDepth"`
	Running    string    `json:"running,omitempty"`
	Pending    []string  `json:"pending"`
	Processed  uint64    `json:"processed"`
	RateLimit  float64   `json:"rateLimit"`
	Closed     bool      `json:"closed"`
	Timestamp  time.Time `json:"timestamp"`
}

// Snapshot 返回当前状态。
func (d *Dispatcher) Snapshot() Snapshot {
	snap := Snapshot{Timestamp: time.Now(), Processed: d.processed.Load()}
	d.mu.Lock()
	snap.Running = d.running
	snap.Closed = d.closed
	snap.Pending = make([]string, 0, len(d.pending))
	for key := range d.pending {
		snap.Pending = append(snap.Pending, key)
	}
	d.mu.Unlock()
	sort.Strings(snap.Pending)
	snap.QueueDepth = len(d.queue)
	if limiter := d.limiter.Load(); limiter != nil {
		snap.RateLimit = float64(limiter.Limit())
	}
	return snap
}
