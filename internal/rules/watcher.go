package rules

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/technosupport/visionserve/internal/model"
)

// fileROI/fileRule are the YAML-facing shapes for a subset of model.ROI /
// model.Rule; durations are given as float seconds. The file format has
// no fields for an ROI's weekly window or a rule's class filter or line
// endpoints, so those stay zero-valued after Load.
type fileROI struct {
	ID       string  `yaml:"id"`
	CameraID string  `yaml:"camera_id"`
	Vertices [][2]float64 `yaml:"vertices"`
	Priority int     `yaml:"priority"`
	Enabled  bool    `yaml:"enabled"`
}

type fileRule struct {
	ID               string   `yaml:"id"`
	CameraID         string   `yaml:"camera_id"`
	ROIIDs           []string `yaml:"roi_ids"`
	Predicate        string   `yaml:"predicate"`
	ConfidenceFloor  float64  `yaml:"confidence_floor"`
	DwellSeconds     float64  `yaml:"dwell_seconds"`
	LoiterWindowSecs float64  `yaml:"loiter_window_seconds"`
	LoiterMaxArea    float64  `yaml:"loiter_max_area"`
	DebounceSeconds  float64  `yaml:"debounce_seconds"`
	RequiredPriority int      `yaml:"required_priority"`
}

type fileConfig struct {
	ROIs  []fileROI  `yaml:"rois"`
	Rules []fileRule `yaml:"rules"`
}

func predicateFromString(s string) model.RulePredicate {
	switch s {
	case "dwell":
		return model.PredicateDwell
	case "line_cross":
		return model.PredicateLineCross
	case "loitering":
		return model.PredicateLoitering
	default:
		return model.PredicateIntrusion
	}
}

// Load reads a YAML ROI/rule file from disk.
func Load(path string) ([]model.ROI, []model.Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, nil, err
	}

	rois := make([]model.ROI, 0, len(cfg.ROIs))
	for _, r := range cfg.ROIs {
		verts := make([]model.Point, len(r.Vertices))
		for i, v := range r.Vertices {
			verts[i] = model.Point{X: v[0], Y: v[1]}
		}
		rois = append(rois, model.ROI{
			ID: r.ID, CameraID: r.CameraID, Vertices: verts,
			Priority: r.Priority, Enabled: r.Enabled,
		})
	}

	rules := make([]model.Rule, 0, len(cfg.Rules))
	for _, rr := range cfg.Rules {
		rules = append(rules, model.Rule{
			ID: rr.ID, CameraID: rr.CameraID, ROIIDs: rr.ROIIDs,
			Predicate:        predicateFromString(rr.Predicate),
			ConfidenceFloor:  rr.ConfidenceFloor,
			DwellSeconds:     rr.DwellSeconds,
			LoiterWindow:     time.Duration(rr.LoiterWindowSecs * float64(time.Second)),
			LoiterMaxArea:    rr.LoiterMaxArea,
			DebounceInterval: time.Duration(rr.DebounceSeconds * float64(time.Second)),
			RequiredPriority: rr.RequiredPriority,
		})
	}
	return rois, rules, nil
}

// Watcher hot-reloads an Engine's ROIs/rules from a YAML file, with a
// polling fallback alongside fsnotify in case the filesystem watch
// cannot be established — grounded on internal/license/watcher.go's
// watch-plus-poll redundancy in the teacher repo.
type Watcher struct {
	path   string
	engine *Engine
	logger *log.Logger
}

// NewWatcher builds a Watcher targeting path, reloading into engine.
func NewWatcher(path string, engine *Engine, logger *log.Logger) *Watcher {
	if logger == nil {
		logger = log.Default()
	}
	return &Watcher{path: path, engine: engine, logger: logger}
}

func (w *Watcher) reload() {
	rois, rules, err := Load(w.path)
	if err != nil {
		w.logger.Printf("rules: reload of %s failed: %v", w.path, err)
		return
	}
	w.engine.SetROIs(rois)
	w.engine.SetRules(rules)
	w.logger.Printf("rules: reloaded %d rois, %d rules from %s", len(rois), len(rules), w.path)
}

// Start loads the file once, then watches it for changes until ctx is
// done. Safe to call from a background goroutine.
func (w *Watcher) Start(ctx context.Context) {
	w.reload()

	watcher, err := fsnotify.NewWatcher()
	usePolling := false
	if err != nil {
		w.logger.Printf("rules: fsnotify unavailable (%v), falling back to polling", err)
		usePolling = true
	} else if err := watcher.Add(w.path); err != nil {
		w.logger.Printf("rules: cannot watch %s (%v), falling back to polling", w.path, err)
		usePolling = true
		watcher.Close()
	}

	if !usePolling {
		go func() {
			defer watcher.Close()
			for {
				select {
				case <-ctx.Done():
					return
				case ev, ok := <-watcher.Events:
					if !ok {
						return
					}
					if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
						time.Sleep(100 * time.Millisecond)
						w.reload()
					}
				case err, ok := <-watcher.Errors:
					if !ok {
						return
					}
					w.logger.Printf("rules: watch error: %v", err)
				}
			}
		}()
		return
	}

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.reload()
			}
		}
	}()
}
