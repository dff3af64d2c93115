package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ahmetk3436/tidewatch/internal/models"
	"github.com/ahmetk3436/tidewatch/pkg/logger"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// ThresholdSource hands out read-only threshold snapshots per parameter.
type ThresholdSource interface {
	Thresholds(p models.Parameter) (models.ThresholdConfig, bool)
}

type StaticThresholds map[models.Parameter]models.ThresholdConfig

func (s StaticThresholds) Thresholds(p models.Parameter) (models.ThresholdConfig, bool) {
	cfg, ok := s[p]
	return cfg, ok
}

// FileThresholds loads a YAML document keyed by parameter name and reloads it
// when the file changes. A file that fails to parse leaves the previous
// snapshot in place.
//
//	ph:
//	  enabled: true
//	  warning_min: 6.5
//	  warning_max: 8.5
//	  critical_min: 6.0
//	  critical_max: 9.0
//	  trend_threshold_pct: 15
//	  trend_window_minutes: 30
type FileThresholds struct {
	path string
	log  logger.Logger

	mu       sync.RWMutex
	snapshot StaticThresholds
}

func NewFileThresholds(path string, log logger.Logger) (*FileThresholds, error) {
	ft := &FileThresholds{path: filepath.Clean(path), log: log, snapshot: StaticThresholds{}}
	if err := ft.Reload(); err != nil {
		return nil, err
	}
	return ft, nil
}

func (ft *FileThresholds) Thresholds(p models.Parameter) (models.ThresholdConfig, bool) {
	ft.mu.RLock()
	defer ft.mu.RUnlock()
	cfg, ok := ft.snapshot[p]
	return cfg, ok
}

func (ft *FileThresholds) Reload() error {
	b, err := os.ReadFile(ft.path)
	if err != nil {
		return fmt.Errorf("read thresholds %s: %w", ft.path, err)
	}

	var raw map[string]models.ThresholdConfig
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("parse thresholds %s: %w", ft.path, err)
	}

	next := StaticThresholds{}
	for name, cfg := range raw {
		p := models.Parameter(name)
		if !p.Valid() {
			ft.log.Warn("Ignoring thresholds for unknown parameter", "parameter", name)
			continue
		}
		if cfg.Enabled && !cfg.ThresholdsValid() {
			ft.log.Warn("Threshold bounds malformed, threshold checks disabled", "parameter", name)
		}
		next[p] = cfg
	}

	ft.mu.Lock()
	ft.snapshot = next
	ft.mu.Unlock()
	ft.log.Info("Thresholds loaded", "path", ft.path, "parameters", len(next))
	return nil
}

// Watch reloads the file on change until ctx is cancelled. The parent
// directory is watched so editors that replace the file are picked up.
func (ft *FileThresholds) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(ft.path)); err != nil {
		w.Close()
		return err
	}

	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != ft.path || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := ft.Reload(); err != nil {
					ft.log.Warn("Threshold reload failed, keeping previous snapshot", "error", err)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				ft.log.Warn("Threshold watcher error", "error", err)
			}
		}
	}()
	return nil
}
