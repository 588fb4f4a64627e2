package blob

import "sync"

// requestClass is the billing category a request falls into.
type requestClass string

const (
	classGet    requestClass = "GET"
	classPut    requestClass = "PUT"
	classList   requestClass = "LIST"
	classDelete requestClass = "DELETE"
)

// pricePerThousand is a small static USD pricing table approximating
// standard S3 request pricing, used only to project relative cost — not a
// billing source of truth.
var pricePerThousand = map[requestClass]float64{
	classGet:    0.0004,
	classPut:    0.005,
	classList:   0.005,
	classDelete: 0.0,
}

// CostMeter accounts for request volume by class and projects a USD cost
// (spec.md §4.1 "Cost meter").
type CostMeter struct {
	mu      sync.Mutex
	counts  map[requestClass]int64
}

// NewCostMeter creates an empty meter.
func NewCostMeter() *CostMeter {
	return &CostMeter{counts: make(map[requestClass]int64)}
}

func (m *CostMeter) record(class requestClass) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[class]++
}

// Costs summarizes accumulated request counts and projected USD cost.
type Costs struct {
	Requests map[string]int64
	TotalUSD float64
}

// Total returns the current accumulated cost snapshot.
func (m *CostMeter) Total() Costs {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := Costs{Requests: make(map[string]int64, len(m.counts))}
	for class, n := range m.counts {
		c.Requests[string(class)] = n
		c.TotalUSD += float64(n) / 1000 * pricePerThousand[class]
	}
	return c
}
