// Package metrics records completed benchmark runs and serves the metric
// shapes read by dashboards.
package metrics

import (
	"math/rand/v2"
	"sync"
	"time"

	"tokenvelocity/internal/benchmark"
	"tokenvelocity/internal/logging"
)

// DateLayout is the metricDate format.
const DateLayout = "2006-01-02"

const (
	defaultHistory   = 100
	placeholderLow   = 300
	placeholderHigh  = 500
	DefaultRecentRun = 5
)

// Metric is one provider's velocity in a run.
type Metric struct {
	Provider      string `json:"provider" yaml:"provider"`
	TokenVelocity int    `json:"tokenVelocity" yaml:"token-velocity"`
}

// LatestMetrics is the per-provider velocity of a single run.
type LatestMetrics struct {
	MetricDate string   `json:"metricDate" yaml:"metric-date"`
	Metrics    []Metric `json:"metrics" yaml:"metrics"`
}

// RecentMetrics lists the last runs, oldest first.
type RecentMetrics struct {
	RecentMetrics []LatestMetrics `json:"recentMetrics"`
}

// ProviderMetric is a value and the date it was recorded.
type ProviderMetric struct {
	MetricDate  string `json:"metricDate"`
	MetricValue int    `json:"metricValue"`
}

// ProviderMetrics holds a provider's statistics across recorded runs.
type ProviderMetrics struct {
	AverageTokenVelocity ProviderMetric `json:"averageTokenVelocity"`
	PeakTokenVelocity    ProviderMetric `json:"peakTokenVelocity"`
	LowestTokenVelocity  ProviderMetric `json:"lowestTokenVelocity"`
}

// AllProviderMetrics is keyed by provider display name.
type AllProviderMetrics map[string]ProviderMetrics

// Sink receives every completed run.
type Sink interface {
	Record(run *benchmark.Run) error
}

// Reader serves the recorded metrics.
type Reader interface {
	Latest() LatestMetrics
	Recent(n int) RecentMetrics
	Providers() AllProviderMetrics
}

type providerPoint struct {
	name    string
	average float64
	peak    float64
	lowest  float64
}

type record struct {
	date   string
	points []providerPoint
}

// FromRun converts a run to the LatestMetrics shape. Providers without data
// are left out.
func FromRun(run *benchmark.Run) LatestMetrics {
	out := LatestMetrics{MetricDate: run.CompletedAt.Format(DateLayout), Metrics: []Metric{}}
	for _, res := range run.Ordered() {
		if res.Status != benchmark.StatusOK {
			continue
		}
		out.Metrics = append(out.Metrics, Metric{Provider: res.Name, TokenVelocity: int(res.Average)})
	}
	return out
}

// MemorySink keeps a bounded in-memory history of runs.
type MemorySink struct {
	mu      sync.RWMutex
	records []record
	history int

	// Placeholder, when set, makes an empty sink answer with random values
	// between 300 and 500 for PlaceholderProviders.
	Placeholder          bool
	PlaceholderProviders []string
	Now                  func() time.Time
	Logger               *logging.Logger
}

// NewMemorySink keeps up to history runs; zero or less uses the default.
func NewMemorySink(history int, logger *logging.Logger) *MemorySink {
	if history <= 0 {
		history = defaultHistory
	}
	return &MemorySink{history: history, Logger: logger}
}

// Record stores a run. Runs without any provider data are still recorded so
// the dates line up, but contribute no points.
func (s *MemorySink) Record(run *benchmark.Run) error {
	rec := record{date: run.CompletedAt.Format(DateLayout)}
	for _, res := range run.Ordered() {
		if res.Status != benchmark.StatusOK {
			continue
		}
		rec.points = append(rec.points, providerPoint{
			name:    res.Name,
			average: res.Average,
			peak:    res.Peak,
			lowest:  res.Lowest,
		})
	}

	s.mu.Lock()
	s.records = append(s.records, rec)
	if len(s.records) > s.history {
		s.records = s.records[len(s.records)-s.history:]
	}
	s.mu.Unlock()

	logging.OrDefault(s.Logger).DebugWithContext(&logging.LogContext{RunID: run.ID, Operation: "metrics"},
		"Recorded run with %d provider points", len(rec.points))
	return nil
}

// Len returns the number of recorded runs.
func (s *MemorySink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *MemorySink) today() string {
	if s.Now != nil {
		return s.Now().Format(DateLayout)
	}
	return time.Now().Format(DateLayout)
}

func (s *MemorySink) usePlaceholder() bool {
	return s.Placeholder && len(s.records) == 0
}

func randomVelocity() int {
	return placeholderLow + rand.IntN(placeholderHigh-placeholderLow+1)
}

func (s *MemorySink) placeholderLatest(date string) LatestMetrics {
	out := LatestMetrics{MetricDate: date, Metrics: []Metric{}}
	for _, name := range s.PlaceholderProviders {
		out.Metrics = append(out.Metrics, Metric{Provider: name, TokenVelocity: randomVelocity()})
	}
	return out
}

func toLatest(rec record) LatestMetrics {
	out := LatestMetrics{MetricDate: rec.date, Metrics: []Metric{}}
	for _, p := range rec.points {
		out.Metrics = append(out.Metrics, Metric{Provider: p.name, TokenVelocity: int(p.average)})
	}
	return out
}

// Latest returns each provider's most recent velocity across the history,
// dated with the most recent run. A provider that failed in the last run keeps
// its previous value.
func (s *MemorySink) Latest() LatestMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.usePlaceholder() {
		return s.placeholderLatest(s.today())
	}
	if len(s.records) == 0 {
		return LatestMetrics{Metrics: []Metric{}}
	}

	out := LatestMetrics{MetricDate: s.records[len(s.records)-1].date, Metrics: []Metric{}}
	seen := map[string]bool{}
	for i := len(s.records) - 1; i >= 0; i-- {
		for _, p := range s.records[i].points {
			if seen[p.name] {
				continue
			}
			seen[p.name] = true
			out.Metrics = append(out.Metrics, Metric{Provider: p.name, TokenVelocity: int(p.average)})
		}
	}
	return out
}

// History is the number of runs the sink keeps.
func (s *MemorySink) History() int {
	return s.history
}

// Recent returns up to n most recent runs, oldest first. n is capped at the
// sink's history, placeholder runs included.
func (s *MemorySink) Recent(n int) RecentMetrics {
	if n <= 0 {
		n = DefaultRecentRun
	}
	if n > s.history {
		n = s.history
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := RecentMetrics{RecentMetrics: []LatestMetrics{}}
	if s.usePlaceholder() {
		day := time.Now()
		if s.Now != nil {
			day = s.Now()
		}
		for i := n - 1; i >= 0; i-- {
			out.RecentMetrics = append(out.RecentMetrics, s.placeholderLatest(day.AddDate(0, 0, -i).Format(DateLayout)))
		}
		return out
	}

	start := 0
	if len(s.records) > n {
		start = len(s.records) - n
	}
	for _, rec := range s.records[start:] {
		out.RecentMetrics = append(out.RecentMetrics, toLatest(rec))
	}
	return out
}

// Providers returns each provider's mean of run averages, highest peak and
// lowest low across the recorded history. The average carries the date of the
// provider's latest run; peak and lowest carry the date they were observed.
func (s *MemorySink) Providers() AllProviderMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := AllProviderMetrics{}
	if s.usePlaceholder() {
		date := s.today()
		for _, name := range s.PlaceholderProviders {
			out[name] = ProviderMetrics{
				AverageTokenVelocity: ProviderMetric{MetricDate: date, MetricValue: randomVelocity()},
				PeakTokenVelocity:    ProviderMetric{MetricDate: date, MetricValue: randomVelocity()},
				LowestTokenVelocity:  ProviderMetric{MetricDate: date, MetricValue: randomVelocity()},
			}
		}
		return out
	}

	type acc struct {
		sum        float64
		count      int
		lastDate   string
		peak       float64
		peakDate   string
		lowest     float64
		lowestDate string
	}
	accs := map[string]*acc{}
	for _, rec := range s.records {
		for _, p := range rec.points {
			a, ok := accs[p.name]
			if !ok {
				a = &acc{peak: p.peak, peakDate: rec.date, lowest: p.lowest, lowestDate: rec.date}
				accs[p.name] = a
			}
			a.sum += p.average
			a.count++
			a.lastDate = rec.date
			if p.peak > a.peak {
				a.peak, a.peakDate = p.peak, rec.date
			}
			if p.lowest < a.lowest {
				a.lowest, a.lowestDate = p.lowest, rec.date
			}
		}
	}
	for name, a := range accs {
		out[name] = ProviderMetrics{
			AverageTokenVelocity: ProviderMetric{MetricDate: a.lastDate, MetricValue: int(a.sum / float64(a.count))},
			PeakTokenVelocity:    ProviderMetric{MetricDate: a.peakDate, MetricValue: int(a.peak)},
			LowestTokenVelocity:  ProviderMetric{MetricDate: a.lowestDate, MetricValue: int(a.lowest)},
		}
	}
	return out
}

// MultiSink records to every sink and returns the first error after trying
// them all.
type MultiSink []Sink

func (m MultiSink) Record(run *benchmark.Run) error {
	var first error
	for _, s := range m {
		if err := s.Record(run); err != nil && first == nil {
			first = err
		}
	}
	return first
}
