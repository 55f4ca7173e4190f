package store

import (
	"context"
	"testing"

	"github.com/sparkq/sparkq/internal/common/config"
)

func TestSeedFromConfig(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	cfg := &config.Config{
		Purge:       config.PurgeConfig{OlderThanDays: 3, IntervalSeconds: 3600},
		QueueRunner: config.QueueRunnerConfig{AutoFailIntervalSeconds: 30},
		TaskClasses: map[string]config.TaskClassSeed{
			"quick": {Timeout: 60},
			"slow":  {Timeout: 600, Description: "long jobs"},
		},
		Tools: map[string]config.ToolSeed{
			"shell": {TaskClass: "quick"},
		},
	}

	if err := st.SeedFromConfig(ctx, cfg); err != nil {
		t.Fatalf("seed: %v", err)
	}

	classes, _ := st.ListTaskClasses(ctx)
	if len(classes) != 2 {
		t.Errorf("classes = %d, want 2", len(classes))
	}
	tool, err := st.GetTool(ctx, "shell")
	if err != nil || tool.TaskClass != "quick" {
		t.Errorf("tool = %+v, %v", tool, err)
	}
	if v := st.IntConfig(ctx, "purge", "older_than_days", 0); v != 3 {
		t.Errorf("seeded purge days = %d", v)
	}

	// The database wins over the file on later runs.
	if _, err := st.UpsertTaskClass(ctx, TaskClass{Name: "quick", DefaultTimeoutSeconds: 120}); err != nil {
		t.Fatalf("override: %v", err)
	}
	if _, err := st.SetConfigEntry(ctx, "purge", "older_than_days", []byte(`9`), "api"); err != nil {
		t.Fatalf("override entry: %v", err)
	}
	if err := st.SeedFromConfig(ctx, cfg); err != nil {
		t.Fatalf("reseed: %v", err)
	}
	class, _ := st.GetTaskClass(ctx, "quick")
	if class.DefaultTimeoutSeconds != 120 {
		t.Errorf("reseed overwrote class: %+v", class)
	}
	if v := st.IntConfig(ctx, "purge", "older_than_days", 0); v != 9 {
		t.Errorf("reseed overwrote entry: %d", v)
	}
}
