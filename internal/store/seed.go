package store

import (
	"context"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/sparkq/sparkq/internal/common/config"
)

// SeedFromConfig inserts the YAML-declared task classes, tools and purge
// settings, skipping anything already present. The database is authoritative:
// existing rows are never overwritten from the file.
func (s *Store) SeedFromConfig(ctx context.Context, cfg *config.Config) error {
	classNames := make([]string, 0, len(cfg.TaskClasses))
	for name := range cfg.TaskClasses {
		classNames = append(classNames, name)
	}
	sort.Strings(classNames)
	for _, name := range classNames {
		seed := cfg.TaskClasses[name]
		existing, err := s.GetTaskClass(ctx, name)
		if err == nil && existing != nil {
			continue
		}
		if _, err := s.UpsertTaskClass(ctx, TaskClass{
			Name:                  name,
			DefaultTimeoutSeconds: seed.Timeout,
			Description:           seed.Description,
		}); err != nil {
			return err
		}
		s.logger.Info("seeded task class",
			zap.String("name", name), zap.Int("timeout_seconds", seed.Timeout))
	}

	toolNames := make([]string, 0, len(cfg.Tools))
	for name := range cfg.Tools {
		toolNames = append(toolNames, name)
	}
	sort.Strings(toolNames)
	for _, name := range toolNames {
		seed := cfg.Tools[name]
		existing, err := s.GetTool(ctx, name)
		if err == nil && existing != nil {
			continue
		}
		if _, err := s.UpsertTool(ctx, Tool{
			Name:        name,
			TaskClass:   seed.TaskClass,
			Description: seed.Description,
		}); err != nil {
			return err
		}
		s.logger.Info("seeded tool",
			zap.String("name", name), zap.String("task_class", seed.TaskClass))
	}

	seedEntries := map[string]map[string]int{
		"purge": {
			"older_than_days":  cfg.Purge.OlderThanDays,
			"interval_seconds": cfg.Purge.IntervalSeconds,
		},
		"queue_runner": {
			"auto_fail_interval_seconds": cfg.QueueRunner.AutoFailIntervalSeconds,
		},
	}
	for ns, keys := range seedEntries {
		keyNames := make([]string, 0, len(keys))
		for k := range keys {
			keyNames = append(keyNames, k)
		}
		sort.Strings(keyNames)
		for _, key := range keyNames {
			if _, err := s.GetConfigEntry(ctx, ns, key); err == nil {
				continue
			}
			if _, err := s.SetConfigEntry(ctx, ns, key, intJSON(keys[key]), "seed"); err != nil {
				return err
			}
		}
	}
	return nil
}

func intJSON(v int) []byte {
	return strconv.AppendInt(nil, int64(v), 10)
}
