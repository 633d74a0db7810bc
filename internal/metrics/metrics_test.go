package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokenvelocity/internal/benchmark"
	"tokenvelocity/internal/logging"
)

type point struct {
	key, name      string
	avg, peak, low float64
	noData         bool
}

func makeRun(day time.Time, points ...point) *benchmark.Run {
	run := &benchmark.Run{
		ID:          "run-" + day.Format(DateLayout),
		StartedAt:   day,
		CompletedAt: day,
		Results:     map[string]*benchmark.ProviderResult{},
	}
	for _, p := range points {
		res := &benchmark.ProviderResult{Provider: p.key, Name: p.name, Average: p.avg, Peak: p.peak, Lowest: p.low, Status: benchmark.StatusOK}
		if p.noData {
			res.Status = benchmark.StatusNoData
		}
		run.Results[p.key] = res
		run.Order = append(run.Order, p.key)
	}
	return run
}

var (
	day1 = time.Date(2024, 9, 1, 10, 0, 0, 0, time.UTC)
	day2 = day1.AddDate(0, 0, 1)
	day3 = day1.AddDate(0, 0, 2)
)

func TestEmptySinkReturnsEmptyShapes(t *testing.T) {
	s := NewMemorySink(0, logging.Discard())
	assert.Empty(t, s.Latest().Metrics)
	assert.NotNil(t, s.Latest().Metrics)
	assert.Empty(t, s.Recent(5).RecentMetrics)
	assert.Empty(t, s.Providers())
}

func TestLatestUsesMostRecentRun(t *testing.T) {
	s := NewMemorySink(0, logging.Discard())
	require.NoError(t, s.Record(makeRun(day1, point{key: "GROQ", name: "Groq", avg: 400.9})))
	require.NoError(t, s.Record(makeRun(day2,
		point{key: "GROQ", name: "Groq", avg: 512.7},
		point{key: "SAMBANOVA", name: "SambaNova", noData: true},
	)))

	latest := s.Latest()
	assert.Equal(t, "2024-09-02", latest.MetricDate)
	assert.Equal(t, []Metric{{Provider: "Groq", TokenVelocity: 512}}, latest.Metrics)
}

func TestLatestKeepsProvidersMissingFromLastRun(t *testing.T) {
	s := NewMemorySink(0, logging.Discard())
	require.NoError(t, s.Record(makeRun(day1,
		point{key: "GROQ", name: "Groq", avg: 400},
		point{key: "SAMBANOVA", name: "SambaNova", avg: 350},
	)))
	require.NoError(t, s.Record(makeRun(day2,
		point{key: "GROQ", name: "Groq", avg: 512},
		point{key: "SAMBANOVA", name: "SambaNova", noData: true},
	)))

	latest := s.Latest()
	assert.Equal(t, "2024-09-02", latest.MetricDate)
	assert.Equal(t, []Metric{{Provider: "Groq", TokenVelocity: 512}, {Provider: "SambaNova", TokenVelocity: 350}}, latest.Metrics)

	require.NoError(t, s.Record(makeRun(day3,
		point{key: "GROQ", name: "Groq", noData: true},
		point{key: "SAMBANOVA", name: "SambaNova", noData: true},
	)))
	latest = s.Latest()
	assert.Equal(t, "2024-09-03", latest.MetricDate)
	assert.Len(t, latest.Metrics, 2)
}

func TestRecentIsBoundedAndChronological(t *testing.T) {
	s := NewMemorySink(2, logging.Discard())
	for _, d := range []time.Time{day1, day2, day3} {
		require.NoError(t, s.Record(makeRun(d, point{key: "GROQ", name: "Groq", avg: 100})))
	}
	assert.Equal(t, 2, s.Len())

	recent := s.Recent(5).RecentMetrics
	require.Len(t, recent, 2)
	assert.Equal(t, "2024-09-02", recent[0].MetricDate)
	assert.Equal(t, "2024-09-03", recent[1].MetricDate)

	assert.Len(t, s.Recent(1).RecentMetrics, 1)
}

func TestRecentPlaceholderIsCappedAtHistory(t *testing.T) {
	s := NewMemorySink(10, logging.Discard())
	s.Placeholder = true
	s.PlaceholderProviders = []string{"Groq"}

	assert.Equal(t, 10, s.History())
	assert.Len(t, s.Recent(2_000_000).RecentMetrics, 10)
	assert.Len(t, s.Recent(3).RecentMetrics, 3)
}

func TestProvidersAcrossHistory(t *testing.T) {
	s := NewMemorySink(0, logging.Discard())
	require.NoError(t, s.Record(makeRun(day1, point{key: "GROQ", name: "Groq", avg: 300, peak: 450, low: 120})))
	require.NoError(t, s.Record(makeRun(day2, point{key: "GROQ", name: "Groq", avg: 500, peak: 700, low: 200})))
	require.NoError(t, s.Record(makeRun(day3, point{key: "GROQ", name: "Groq", avg: 400, peak: 600, low: 90})))

	groq, ok := s.Providers()["Groq"]
	require.True(t, ok)
	assert.Equal(t, ProviderMetric{MetricDate: "2024-09-03", MetricValue: 400}, groq.AverageTokenVelocity)
	assert.Equal(t, ProviderMetric{MetricDate: "2024-09-02", MetricValue: 700}, groq.PeakTokenVelocity)
	assert.Equal(t, ProviderMetric{MetricDate: "2024-09-03", MetricValue: 90}, groq.LowestTokenVelocity)
}

func TestPlaceholderOnlyWhenEmpty(t *testing.T) {
	s := NewMemorySink(0, logging.Discard())
	s.Placeholder = true
	s.PlaceholderProviders = []string{"Groq", "SambaNova"}
	s.Now = func() time.Time { return day3 }

	latest := s.Latest()
	assert.Equal(t, "2024-09-03", latest.MetricDate)
	require.Len(t, latest.Metrics, 2)
	for _, m := range latest.Metrics {
		assert.GreaterOrEqual(t, m.TokenVelocity, 300)
		assert.LessOrEqual(t, m.TokenVelocity, 500)
	}

	recent := s.Recent(3).RecentMetrics
	require.Len(t, recent, 3)
	assert.Equal(t, "2024-09-01", recent[0].MetricDate)
	assert.Len(t, s.Providers(), 2)

	require.NoError(t, s.Record(makeRun(day1, point{key: "GROQ", name: "Groq", avg: 42})))
	assert.Equal(t, []Metric{{Provider: "Groq", TokenVelocity: 42}}, s.Latest().Metrics)
}

func TestFileSinkWritesDatedSnapshot(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "metrics")
	f := &FileSink{Dir: dir, Logger: logging.Discard()}

	run := makeRun(day2,
		point{key: "GROQ", name: "Groq", avg: 610.4},
		point{key: "NVIDIA", name: "NVIDIA", noData: true},
	)
	require.NoError(t, f.Record(run))

	path := filepath.Join(dir, "2024-09-02_run.json")
	_, err := os.Stat(path)
	require.NoError(t, err)

	got, err := ReadSnapshot(path)
	require.NoError(t, err)
	assert.Equal(t, FromRun(run), got)
	assert.Equal(t, []Metric{{Provider: "Groq", TokenVelocity: 610}}, got.Metrics)
}

type errSink struct{ err error }

func (e errSink) Record(*benchmark.Run) error { return e.err }

func TestMultiSinkRecordsEverywhere(t *testing.T) {
	mem := NewMemorySink(0, logging.Discard())
	boom := errors.New("disk full")

	err := MultiSink{errSink{boom}, mem}.Record(makeRun(day1, point{key: "GROQ", name: "Groq", avg: 1}))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, mem.Len())
}
