package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/bytedance/sonic"

	"tokenvelocity/internal/benchmark"
	"tokenvelocity/internal/logging"
)

// FileSink writes each run as <Dir>/<YYYY-MM-DD>_run.json. A later run on the
// same day replaces the file.
type FileSink struct {
	Dir    string
	Logger *logging.Logger
}

// Path returns the snapshot file for a metric date.
func (f *FileSink) Path(date string) string {
	return filepath.Join(f.Dir, date+"_run.json")
}

func (f *FileSink) Record(run *benchmark.Run) error {
	if err := os.MkdirAll(f.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}

	latest := FromRun(run)
	data, err := sonic.ConfigStd.MarshalIndent(latest, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode metrics: %w", err)
	}

	path := f.Path(latest.MetricDate)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write metrics file: %w", err)
	}

	logging.OrDefault(f.Logger).InfoWithContext(&logging.LogContext{RunID: run.ID, Operation: "metrics"},
		"Successfully saved metrics to %s", path)
	return nil
}

// ReadSnapshot loads a snapshot file written by FileSink.
func ReadSnapshot(path string) (LatestMetrics, error) {
	var out LatestMetrics
	data, err := os.ReadFile(path)
	if err != nil {
		return out, err
	}
	if err := sonic.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("invalid metrics file %s: %w", path, err)
	}
	return out, nil
}
