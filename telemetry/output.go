package telemetry

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gocarina/gocsv"

	"github.com/pthm-cable/wayfield/config"
)

// DecisionRecord is one agent decision written to decisions.csv.
type DecisionRecord struct {
	Tick     int32   `csv:"tick"`
	AgentID  uint32  `csv:"agent"`
	ActionX  float64 `csv:"action_x"`
	ActionY  float64 `csv:"action_y"`
	Cost     float64 `csv:"cost"`
	Goal     float64 `csv:"goal"`
	Safety   float64 `csv:"safety"`
	Surprise float64 `csv:"surprise"`
	SelfHaze float64 `csv:"self_haze"`
	Fallback bool    `csv:"fallback"`
}

// LogValue implements slog.LogValuer for structured logging.
func (d DecisionRecord) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("tick", int(d.Tick)),
		slog.Int("agent", int(d.AgentID)),
		slog.Float64("cost", d.Cost),
		slog.Float64("surprise", d.Surprise),
		slog.Bool("fallback", d.Fallback),
	)
}

// OutputManager handles structured experiment output with CSV logging.
type OutputManager struct {
	dir          string
	statsFile    *os.File
	decisionFile *os.File

	statsHeaderWritten    bool
	decisionHeaderWritten bool
}

// NewOutputManager creates an output manager and initializes the output
// directory. Returns nil if dir is empty (output disabled); a nil manager
// is safe to call.
func NewOutputManager(dir string) (*OutputManager, error) {
	if dir == "" {
		return nil, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	om := &OutputManager{dir: dir}

	f, err := os.Create(filepath.Join(dir, "stats.csv"))
	if err != nil {
		return nil, fmt.Errorf("creating stats.csv: %w", err)
	}
	om.statsFile = f

	f, err = os.Create(filepath.Join(dir, "decisions.csv"))
	if err != nil {
		om.statsFile.Close()
		return nil, fmt.Errorf("creating decisions.csv: %w", err)
	}
	om.decisionFile = f

	return om, nil
}

// WriteConfig saves the current configuration as YAML.
func (om *OutputManager) WriteConfig(cfg *config.Config) error {
	if om == nil {
		return nil
	}
	return cfg.WriteYAML(filepath.Join(om.dir, "config.yaml"))
}

// WriteStats writes a window stats record to stats.csv.
func (om *OutputManager) WriteStats(stats WindowStats) error {
	if om == nil {
		return nil
	}

	records := []WindowStats{stats}
	if !om.statsHeaderWritten {
		if err := gocsv.Marshal(records, om.statsFile); err != nil {
			return fmt.Errorf("writing stats: %w", err)
		}
		om.statsHeaderWritten = true
		return nil
	}
	if err := gocsv.MarshalWithoutHeaders(records, om.statsFile); err != nil {
		return fmt.Errorf("writing stats: %w", err)
	}
	return nil
}

// WriteDecisions writes a batch of decision records to decisions.csv.
func (om *OutputManager) WriteDecisions(records []DecisionRecord) error {
	if om == nil || len(records) == 0 {
		return nil
	}

	if !om.decisionHeaderWritten {
		if err := gocsv.Marshal(records, om.decisionFile); err != nil {
			return fmt.Errorf("writing decisions: %w", err)
		}
		om.decisionHeaderWritten = true
		return nil
	}
	if err := gocsv.MarshalWithoutHeaders(records, om.decisionFile); err != nil {
		return fmt.Errorf("writing decisions: %w", err)
	}
	return nil
}

// Close flushes and closes all output files.
func (om *OutputManager) Close() error {
	if om == nil {
		return nil
	}
	var firstErr error
	if err := om.statsFile.Close(); err != nil {
		firstErr = err
	}
	if err := om.decisionFile.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
