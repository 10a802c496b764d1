package party

import "sync"

// Metrics accumulates the run-level counters spec.md §6 expects reported
// after completion: total messages sent and a breakdown by msg_type. It does
// not hold the beacon invocation count or the multiplication-gate count; the
// caller reads those from beacon.Beacon.Invocations and Service.GateCount.
// Grounded on the teacher's CertificationProtocol
// (services/certification.go): a small mutex-guarded counter struct mutated
// through a single RecordSend method and read back via a defensive-copy
// snapshot, rather than exposing its internals directly.
type Metrics struct {
	mu     sync.Mutex
	total  int
	byType map[string]int
}

// NewMetrics returns an empty counter set.
func NewMetrics() *Metrics {
	return &Metrics{byType: make(map[string]int)}
}

// RecordSend matches transport.Network's OnSend hook signature
// (func(from, to int, typeTag string)): wire it directly via
// network.OnSend(metrics.RecordSend).
func (m *Metrics) RecordSend(_, _ int, typeTag string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total++
	m.byType[typeTag]++
}

// Snapshot returns the total message count and a defensive copy of the
// per-type breakdown collected so far.
func (m *Metrics) Snapshot() (total int, byType map[string]int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make(map[string]int, len(m.byType))
	for k, v := range m.byType {
		cp[k] = v
	}
	return m.total, cp
}
