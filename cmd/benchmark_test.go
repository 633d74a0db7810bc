package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.yaml.in/yaml/v4"

	"tokenvelocity/internal/api"
	"tokenvelocity/internal/benchmark"
	"tokenvelocity/internal/logging"
	"tokenvelocity/internal/metrics"
	"tokenvelocity/internal/registry"
	"tokenvelocity/internal/velocity"
)

func init() {
	color.NoColor = true
}

type wordSource struct {
	n   int
	pos int
}

func (s *wordSource) Next() (api.Increment, error) {
	if s.pos >= s.n {
		return api.Increment{}, io.EOF
	}
	time.Sleep(time.Millisecond)
	s.pos++
	return api.Increment{Content: "tok tok "}, nil
}

func (s *wordSource) Close() error { return nil }

type fakeOpener struct {
	failing string
}

func (o fakeOpener) Open(ctx context.Context, cfg registry.ProviderConfig, prompt string) (velocity.Source, error) {
	if cfg.Key == o.failing {
		return nil, &api.TransportError{Provider: cfg.Key, Status: http.StatusUnauthorized}
	}
	return &wordSource{n: 10}, nil
}

func newBench(t *testing.T, failing string) Benchmark {
	t.Helper()
	reg, err := registry.New([]registry.ProviderConfig{
		{Key: "FAST", Name: "Fast Cloud", Endpoint: "http://fast.test/v1/chat/completions", Credential: "k", Model: "small"},
		{Key: "SLOW", Name: "Slow Cloud", Endpoint: "http://slow.test/v1/chat/completions", Credential: "k", Model: "large"},
	}, logging.Discard())
	require.NoError(t, err)
	return Benchmark{
		Registry:    reg,
		Prompt:      defaultPrompt,
		Timeout:     5 * time.Second,
		SkipSamples: benchmark.DefaultSkipSamples,
		Opener:      fakeOpener{failing: failing},
		Logger:      logging.Discard(),
	}
}

func TestParseKeys(t *testing.T) {
	assert.Equal(t, []string{"GROQ", "SAMBA"}, parseKeys(" GROQ, ,SAMBA,"))
	assert.Empty(t, parseKeys(""))
}

func TestLoadRegistry_Defaults(t *testing.T) {
	t.Setenv("PROVIDERS_FILE", "")
	reg, err := loadRegistry("", logging.Discard())
	require.NoError(t, err)
	assert.Equal(t, len(registry.DefaultProviders()), reg.Len())
}

func TestValidate(t *testing.T) {
	bench := newBench(t, "")
	assert.NoError(t, bench.validate())

	bench.SkipSamples = 0
	assert.NoError(t, bench.validate())

	bench.SkipSamples = -1
	assert.Error(t, bench.validate())

	bench = newBench(t, "")
	bench.Timeout = -time.Second
	assert.Error(t, bench.validate())

	bench = newBench(t, "")
	bench.MinInterval = -time.Millisecond
	assert.Error(t, bench.validate())
}

func TestActiveSet_Only(t *testing.T) {
	bench := newBench(t, "")

	bench.Only = []string{"SLOW"}
	active, err := bench.activeSet()
	require.NoError(t, err)
	assert.Equal(t, []string{"SLOW"}, active.Keys())

	bench.Only = []string{"MISSING"}
	_, err = bench.activeSet()
	assert.True(t, errors.Is(err, registry.ErrUnknownProvider))
}

func TestRun_WritesSnapshot(t *testing.T) {
	bench := newBench(t, "SLOW")
	bench.MetricsDir = t.TempDir()

	run, snapshot, err := bench.run(context.Background(), nil)
	require.NoError(t, err)
	require.NotEmpty(t, snapshot)

	fast, ok := run.Result("FAST")
	require.True(t, ok)
	assert.Equal(t, benchmark.StatusOK, fast.Status)
	assert.Len(t, fast.Samples, 6)

	slow, ok := run.Result("SLOW")
	require.True(t, ok)
	assert.Equal(t, benchmark.StatusNoData, slow.Status)
	assert.Equal(t, velocity.FailureTransport, slow.Failure)

	saved, err := metrics.ReadSnapshot(snapshot)
	require.NoError(t, err)
	require.Len(t, saved.Metrics, 1)
	assert.Equal(t, "Fast Cloud", saved.Metrics[0].Provider)
}

func TestRunCli_PrintsSummary(t *testing.T) {
	bench := newBench(t, "SLOW")

	var out bytes.Buffer
	run, err := bench.runCli(context.Background(), &out)
	require.NoError(t, err)
	assert.True(t, run.HasData())

	text := out.String()
	assert.Contains(t, text, "| Fast Cloud ")
	assert.Contains(t, text, "| ok      |")
	assert.Contains(t, text, "| no_data |")
	assert.Contains(t, text, "Slow Cloud: transport failure")
	assert.Contains(t, text, "Completed in")
}

func TestRunCli_EmptyPrompt(t *testing.T) {
	bench := newBench(t, "")
	bench.Prompt = "   "

	_, err := bench.runCli(context.Background(), io.Discard)
	assert.True(t, errors.Is(err, benchmark.ErrEmptyPrompt))
}

func TestBenchmarkResult_Formats(t *testing.T) {
	bench := newBench(t, "")
	run, _, err := bench.run(context.Background(), nil)
	require.NoError(t, err)
	result := newResult(run)

	out, err := result.Json()
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, sonic.UnmarshalString(out, &decoded))
	assert.Equal(t, run.ID, decoded["run_id"])
	assert.Len(t, decoded["providers"], 2)

	out, err = result.Yaml()
	require.NoError(t, err)
	var fromYaml map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &fromYaml))
	assert.Equal(t, defaultPrompt, fromYaml["prompt"])
	assert.True(t, strings.Contains(out, "token-velocity:"))
}

func TestClip(t *testing.T) {
	assert.Equal(t, "short", clip("short", 20))
	assert.Equal(t, "abcdefg...", clip("abcdefghijklmnop", 10))
}
