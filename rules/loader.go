package rules

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// ruleSpec is the on-disk form of a rule. Actions are kept raw until
// ParseAction validates them.
type ruleSpec struct {
	Name        string           `yaml:"name"`
	Conditions  Condition        `yaml:"conditions"`
	Actions     []map[string]any `yaml:"actions"`
	Enabled     *bool            `yaml:"enabled"`
	Priority    int              `yaml:"priority"`
	StopOnMatch bool             `yaml:"stopOnMatch"`
}

type ruleFile struct {
	Rules []ruleSpec `yaml:"rules"`
}

// LoadFile reads a YAML rule file and returns the decoded rule set.
func LoadFile(path string) ([]Rule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rules: read %s: %w", path, err)
	}
	var file ruleFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("rules: parse %s: %w", path, err)
	}

	out := make([]Rule, 0, len(file.Rules))
	for _, spec := range file.Rules {
		if spec.Name == "" {
			return nil, fmt.Errorf("rules: %s: rule with empty name", path)
		}
		rule := Rule{
			Name:        spec.Name,
			Conditions:  spec.Conditions,
			Enabled:     spec.Enabled,
			Priority:    spec.Priority,
			StopOnMatch: spec.StopOnMatch,
		}
		for _, record := range spec.Actions {
			action, err := ParseAction(record)
			if err != nil {
				return nil, fmt.Errorf("rules: %s: rule %q: %w", path, spec.Name, err)
			}
			rule.Actions = append(rule.Actions, action)
		}
		out = append(out, rule)
	}
	return out, nil
}

// Watch reloads the rule file into the engine whenever it changes on disk. A
// reload that fails to parse keeps the previous rule set. Watch returns once
// the watcher is installed and stops when ctx is cancelled.
func (e *Engine) Watch(ctx context.Context, path string, logger *slog.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("rules: watch: %w", err)
	}
	// Watch the directory so atomic rename-over saves keep working.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("rules: watch %s: %w", path, err)
	}

	target := filepath.Clean(path)
	go func() {
		defer watcher.Close()

		// Editors fire bursts of events per save; coalesce them.
		var pending *time.Timer
		reload := func() {
			rules, err := LoadFile(target)
			if err != nil {
				logger.Warn("rule reload failed, keeping previous rules", "path", target, "error", err)
				return
			}
			e.ReplaceRules(rules)
			logger.Info("rules reloaded", "path", target, "count", len(rules))
		}

		for {
			select {
			case <-ctx.Done():
				if pending != nil {
					pending.Stop()
				}
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				if pending != nil {
					pending.Stop()
				}
				pending = time.AfterFunc(100*time.Millisecond, reload)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("rule watcher error", "path", target, "error", err)
			}
		}
	}()
	return nil
}
