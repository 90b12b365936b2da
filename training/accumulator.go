package training

import (
	"fmt"
	"strings"
)

// Scalar is a single named metric value
type Scalar struct {
	Name  string
	Value float64
}

// Metrics holds named metric values in the order they were first recorded,
// so log lines and summary rows come out in a stable order.
type Metrics struct {
	names  []string
	values map[string]float64
}

// NewMetrics creates an empty metric set
func NewMetrics() *Metrics {
	return &Metrics{values: make(map[string]float64)}
}

// Get returns the value for name and whether it has been recorded
func (m *Metrics) Get(name string) (float64, bool) {
	v, ok := m.values[name]
	return v, ok
}

// Set records a value, preserving first-insertion order for new names
func (m *Metrics) Set(name string, value float64) {
	if _, ok := m.values[name]; !ok {
		m.names = append(m.names, name)
	}
	m.values[name] = value
}

// Items returns the metrics in recording order
func (m *Metrics) Items() []Scalar {
	items := make([]Scalar, len(m.names))
	for i, name := range m.names {
		items[i] = Scalar{Name: name, Value: m.values[name]}
	}
	return items
}

// String formats the metrics as "name: value" pairs in recording order
func (m *Metrics) String() string {
	parts := make([]string, len(m.names))
	for i, name := range m.names {
		parts[i] = fmt.Sprintf("%s: %.4f", name, m.values[name])
	}
	return strings.Join(parts, ", ")
}

// Accumulator sums weighted per-batch scalars over an epoch. Callers add each
// batch's metrics pre-multiplied by the batch size and average by the total
// sample count at the end, so uneven final batches are weighted correctly.
type Accumulator struct {
	sums *Metrics
}

// NewAccumulator creates an empty accumulator
func NewAccumulator() *Accumulator {
	return &Accumulator{sums: NewMetrics()}
}

// Add accumulates the given scalars into the running sums
func (a *Accumulator) Add(scalars ...Scalar) {
	for _, s := range scalars {
		sum, _ := a.sums.Get(s.Name)
		a.sums.Set(s.Name, sum+s.Value)
	}
}

// Average divides every accumulated sum by count. A zero count means no
// samples were processed and there is nothing meaningful to average.
func (a *Accumulator) Average(count int) (*Metrics, error) {
	if count <= 0 {
		return nil, fmt.Errorf("cannot average metrics over %d samples", count)
	}

	avg := NewMetrics()
	for _, s := range a.sums.Items() {
		avg.Set(s.Name, s.Value/float64(count))
	}
	return avg, nil
}
