package logging

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLogDirBudget(t *testing.T) {
	tests := []struct {
		name     string
		files    map[string]int
		max      int64
		removed  int
		survived []string
		gone     []string
	}{
		{
			name:     "oldest rotated file goes first",
			files:    map[string]int{"authflow-1.log": 60, "authflow-2.log": 60, "authflow.log": 60},
			max:      120,
			removed:  1,
			survived: []string{"authflow-2.log", "authflow.log"},
			gone:     []string{"authflow-1.log"},
		},
		{
			name:     "active file kept even when over budget",
			files:    map[string]int{"authflow.log": 200, "authflow-2.log": 50},
			max:      100,
			removed:  1,
			survived: []string{"authflow.log"},
			gone:     []string{"authflow-2.log"},
		},
		{
			name:     "non log files ignored",
			files:    map[string]int{"storage.json": 500, "authflow.log": 10},
			max:      100,
			removed:  0,
			survived: []string{"storage.json", "authflow.log"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			// Modification times follow the order below so "authflow-1" is the oldest.
			order := []string{"storage.json", "authflow-1.log", "authflow-2.log", "authflow.log"}
			for i, name := range order {
				if size, ok := tt.files[name]; ok {
					writeLogFile(t, filepath.Join(dir, name), size, time.Unix(int64(i+1), 0))
				}
			}

			budget := logDirBudget{dir: dir, maxBytes: tt.max, active: filepath.Join(dir, "authflow.log")}
			removed, err := budget.enforce()
			if err != nil {
				t.Fatalf("enforce: %v", err)
			}
			if removed != tt.removed {
				t.Fatalf("removed = %d, want %d", removed, tt.removed)
			}
			for _, name := range tt.survived {
				if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
					t.Errorf("%s should remain: %v", name, err)
				}
			}
			for _, name := range tt.gone {
				if _, err := os.Stat(filepath.Join(dir, name)); !os.IsNotExist(err) {
					t.Errorf("%s should be removed, stat err = %v", name, err)
				}
			}
		})
	}
}

func TestLogDirBudgetMissingDirectory(t *testing.T) {
	budget := logDirBudget{dir: filepath.Join(t.TempDir(), "absent"), maxBytes: 1}
	removed, err := budget.enforce()
	if err != nil || removed != 0 {
		t.Fatalf("enforce() = %d, %v", removed, err)
	}
}

func writeLogFile(t *testing.T, path string, size int, modTime time.Time) {
	t.Helper()

	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if err := os.Chtimes(path, modTime, modTime); err != nil {
		t.Fatalf("set times: %v", err)
	}
}
