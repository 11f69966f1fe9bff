package relay

import (
	"fmt"
	"sync"
	"time"
)

// Class partitions consumers by what they subscribed to.
type Class string

const (
	// ClassViewer consumes live sensor-reading updates (dashboard).
	ClassViewer Class = "viewer"
	// ClassAdmin consumes operational status and can issue commands.
	ClassAdmin Class = "admin"
	// ClassObserver consumes the meta-monitoring event/metrics stream and is
	// excluded from the billable count.
	ClassObserver Class = "internal-observer"
)

// Record tracks one live consumer connection. A record exists in the registry
// iff the underlying transport is believed live.
type Record struct {
	ID          string
	Class       Class
	ConnectedAt time.Time
	Conn        Conn
}

// Registry tracks live consumer connections partitioned by class.
type Registry struct {
	mu      sync.RWMutex
	records map[string]Record
	counts  map[Class]int
}

func NewRegistry() *Registry {
	return &Registry{
		records: make(map[string]Record),
		counts:  make(map[Class]int),
	}
}

// Register stores a new connection record and returns its id. IDs are built
// from class, remote address and creation time in milliseconds; uniqueness is
// diagnostic-grade, not load-bearing.
func (r *Registry) Register(class Class, conn Conn) string {
	now := time.Now()
	id := fmt.Sprintf("%s-%s-%d", class, conn.RemoteAddr(), now.UnixMilli())

	r.mu.Lock()
	r.records[id] = Record{ID: id, Class: class, ConnectedAt: now, Conn: conn}
	r.counts[class]++
	r.mu.Unlock()
	return id
}

// Unregister removes the record if present. Removing an unknown id is a
// no-op: an explicit disconnect may race with eviction-by-send-failure and
// both paths must stay idempotent.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	if rec, ok := r.records[id]; ok {
		delete(r.records, id)
		r.counts[rec.Class]--
	}
	r.mu.Unlock()
}

// BillableCount reports the number of externally-visible consumers: viewers
// and admins only. Internal observers are a meta-monitoring channel and must
// never inflate the active-user figure shown to operators.
func (r *Registry) BillableCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.counts[ClassViewer] + r.counts[ClassAdmin]
}

func (r *Registry) CountByClass(class Class) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.counts[class]
}

// ofClass snapshots the live records of a class so a fanout pass can iterate
// without holding the registry lock.
func (r *Registry) ofClass(class Class) []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.counts[class] == 0 {
		return nil
	}
	out := make([]Record, 0, r.counts[class])
	for _, rec := range r.records {
		if rec.Class == class {
			out = append(out, rec)
		}
	}
	return out
}
