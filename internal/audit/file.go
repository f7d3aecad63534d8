package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileSink writes each universe version to <dir>/<strategy>-v<version>.json.
// Executions and leverage events are not written to disk.
type FileSink struct {
	dir string
}

// NewFileSink creates dir if needed.
func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	return &FileSink{dir: dir}, nil
}

// Path returns the file a snapshot is written to.
func (f *FileSink) Path(strategy string, version uint64) string {
	name := strings.NewReplacer("/", "_", string(os.PathSeparator), "_").Replace(strategy)
	return filepath.Join(f.dir, fmt.Sprintf("%s-v%d.json", name, version))
}

// RecordUniverse writes the snapshot through a temp file and rename.
func (f *FileSink) RecordUniverse(_ context.Context, snap UniverseSnapshot) error {
	if snap.Symbols == nil {
		snap.Symbols = []string{}
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	path := f.Path(snap.Strategy, snap.Version)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

func (f *FileSink) RecordExecution(context.Context, ExecutionRecord) error { return nil }
func (f *FileSink) RecordLeverage(context.Context, LeverageEvent) error    { return nil }
func (f *FileSink) Close() error                                           { return nil }
