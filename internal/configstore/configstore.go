// Package configstore loads VideoSource, ROI and Rule configuration from
// Postgres at startup, grounded on internal/data/health_impl.go's
// database/sql + lib/pq query style in the teacher repo. Unlike that
// package, configstore is read-only: the composition root (cmd/server)
// reads this once during startup and thereafter treats rule/ROI edits as a file-based
// hot-reload concern (internal/rules.Watcher), not a database one.
package configstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/technosupport/visionserve/internal/model"
)

// Store is a thin read-only wrapper over a *sql.DB.
type Store struct {
	db *sql.DB
}

// Open connects to Postgres using the given DSN and verifies
// reachability with a ping, mirroring cmd/migrator/main.go's
// connect-then-ping sequence in the teacher repo.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("configstore: open: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("configstore: ping: %w", err)
	}
	return &Store{db: db}, nil
}

// New wraps an already-open *sql.DB, used by tests to inject a sqlmock.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// LoadVideoSources returns every configured camera, enabled or not —
// the supervisor decides at startup which to actually add.
func (s *Store) LoadVideoSources(ctx context.Context) ([]model.VideoSource, error) {
	query := `
		SELECT id, url, protocol, username, password, socket_timeout_ms,
		       reconnect_base_ms, reconnect_max_ms, width, height, fps, enabled
		FROM video_sources
		ORDER BY id
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("configstore: load video sources: %w", err)
	}
	defer rows.Close()

	var out []model.VideoSource
	for rows.Next() {
		var vs model.VideoSource
		var socketMS, reconnectBaseMS, reconnectMaxMS int64
		if err := rows.Scan(
			&vs.ID, &vs.Transport.URL, &vs.Transport.Protocol, &vs.Transport.Username, &vs.Transport.Password,
			&socketMS, &reconnectBaseMS, &reconnectMaxMS, &vs.Width, &vs.Height, &vs.FPS, &vs.Enabled,
		); err != nil {
			return nil, fmt.Errorf("configstore: scan video source: %w", err)
		}
		vs.Transport.SocketTimeout = time.Duration(socketMS) * time.Millisecond
		vs.Transport.ReconnectBase = time.Duration(reconnectBaseMS) * time.Millisecond
		vs.Transport.ReconnectMax = time.Duration(reconnectMaxMS) * time.Millisecond
		out = append(out, vs)
	}
	return out, rows.Err()
}

// LoadROIs returns every configured region of interest across all cameras.
func (s *Store) LoadROIs(ctx context.Context) ([]model.ROI, error) {
	query := `
		SELECT id, camera_id, vertices_json, priority, window_json, enabled
		FROM rois
		ORDER BY camera_id, priority DESC
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("configstore: load rois: %w", err)
	}
	defer rows.Close()

	var out []model.ROI
	for rows.Next() {
		var roi model.ROI
		var verticesJSON string
		var windowJSON sql.NullString
		if err := rows.Scan(&roi.ID, &roi.CameraID, &verticesJSON, &roi.Priority, &windowJSON, &roi.Enabled); err != nil {
			return nil, fmt.Errorf("configstore: scan roi: %w", err)
		}
		if err := json.Unmarshal([]byte(verticesJSON), &roi.Vertices); err != nil {
			return nil, fmt.Errorf("configstore: roi %s vertices: %w", roi.ID, err)
		}
		if windowJSON.Valid {
			var w model.WeeklyWindow
			if err := json.Unmarshal([]byte(windowJSON.String), &w); err != nil {
				return nil, fmt.Errorf("configstore: roi %s window: %w", roi.ID, err)
			}
			roi.Window = &w
		}
		out = append(out, roi)
	}
	return out, rows.Err()
}

// LoadRules returns every configured rule across all cameras.
func (s *Store) LoadRules(ctx context.Context) ([]model.Rule, error) {
	query := `
		SELECT id, camera_id, roi_ids_json, predicate, class_filter_json, confidence_floor,
		       dwell_seconds, loiter_window_ms, loiter_max_area,
		       line_start_x, line_start_y, line_end_x, line_end_y,
		       debounce_interval_ms, required_priority
		FROM rules
		ORDER BY id
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("configstore: load rules: %w", err)
	}
	defer rows.Close()

	var out []model.Rule
	for rows.Next() {
		var r model.Rule
		var roiIDsJSON string
		var classFilterJSON sql.NullString
		var predicate int
		var loiterWindowMS, debounceMS int64

		if err := rows.Scan(
			&r.ID, &r.CameraID, &roiIDsJSON, &predicate, &classFilterJSON, &r.ConfidenceFloor,
			&r.DwellSeconds, &loiterWindowMS, &r.LoiterMaxArea,
			&r.LineStart.X, &r.LineStart.Y, &r.LineEnd.X, &r.LineEnd.Y,
			&debounceMS, &r.RequiredPriority,
		); err != nil {
			return nil, fmt.Errorf("configstore: scan rule: %w", err)
		}
		r.Predicate = model.RulePredicate(predicate)
		r.LoiterWindow = time.Duration(loiterWindowMS) * time.Millisecond
		r.DebounceInterval = time.Duration(debounceMS) * time.Millisecond
		if err := json.Unmarshal([]byte(roiIDsJSON), &r.ROIIDs); err != nil {
			return nil, fmt.Errorf("configstore: rule %s roi ids: %w", r.ID, err)
		}
		if classFilterJSON.Valid {
			var filter map[int]bool
			if err := json.Unmarshal([]byte(classFilterJSON.String), &filter); err != nil {
				return nil, fmt.Errorf("configstore: rule %s class filter: %w", r.ID, err)
			}
			r.ClassFilter = filter
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Snapshot is everything read at startup in one place.
type Snapshot struct {
	VideoSources []model.VideoSource
	ROIs         []model.ROI
	Rules        []model.Rule
}

// LoadAll reads video sources, ROIs and rules in one call, the shape
// the composition root actually wants at boot.
func (s *Store) LoadAll(ctx context.Context) (Snapshot, error) {
	sources, err := s.LoadVideoSources(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	rois, err := s.LoadROIs(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	rules, err := s.LoadRules(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{VideoSources: sources, ROIs: rois, Rules: rules}, nil
}
