package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"roadwatch/internal/core/domain"
	"roadwatch/pkg/tracing"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// ReportStore keeps every FrameResult and its vehicles in a local sqlite file.
type ReportStore struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

// Open opens path and migrates it to the latest schema.
func Open(path string, logger *zap.SugaredLogger) (*ReportStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &ReportStore{db: db, logger: logger}
	if err := store.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *ReportStore) migrateUp() error {
	source, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = &migrateLogger{logger: s.logger}

	// m is not closed: that would close the shared *sql.DB.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}

	version, _, err := m.Version()
	if err == nil {
		s.logger.Debugw("Report database ready", "schema_version", version)
	}
	return nil
}

// SaveReport inserts one frame and its vehicles atomically. Saving the same
// run frame twice replaces the earlier row.
func (s *ReportStore) SaveReport(ctx context.Context, result domain.FrameResult) error {
	ctx, span := tracing.TraceDatabaseOperation(ctx, "insert", "frame_results")
	defer span.End()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var detectionError sql.NullString
	if result.DetectionError != "" {
		detectionError = sql.NullString{String: result.DetectionError, Valid: true}
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM vehicle_detections WHERE frame_id IN
			(SELECT id FROM frame_results WHERE run_id = ? AND frame_number = ?)`,
		string(result.RunID), int64(result.FrameNumber)); err != nil {
		return fmt.Errorf("failed to clear previous vehicles: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM frame_results WHERE run_id = ? AND frame_number = ?`,
		string(result.RunID), int64(result.FrameNumber)); err != nil {
		return fmt.Errorf("failed to clear previous frame: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO frame_results
			(run_id, frame_number, captured_at, processing_ms, vehicle_count, frame_saved, detection_error)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(result.RunID),
		int64(result.FrameNumber),
		result.Timestamp.UTC().Format(time.RFC3339Nano),
		result.ProcessingMillis(),
		result.VehicleCount,
		result.FrameSaved,
		detectionError,
	)
	if err != nil {
		tracing.RecordError(ctx, err)
		return fmt.Errorf("failed to insert frame result: %w", err)
	}
	frameID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read frame id: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO vehicle_detections
			(frame_id, track_id, class, confidence, box_x, box_y, box_width, box_height,
			 speed_kph, heading, direction, reliability, samples)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare vehicle insert: %w", err)
	}
	defer stmt.Close()

	for _, v := range result.Vehicles {
		_, err := stmt.ExecContext(ctx,
			frameID, int64(v.TrackID), v.Class, v.Confidence,
			v.Box.X, v.Box.Y, v.Box.Width, v.Box.Height,
			nullFloat(v.Kinematics.SpeedKPH), nullFloat(v.Kinematics.Heading),
			string(v.Kinematics.Direction), v.Kinematics.Reliability, v.Kinematics.Samples,
		)
		if err != nil {
			tracing.RecordError(ctx, err)
			return fmt.Errorf("failed to insert vehicle %d: %w", v.TrackID, err)
		}
	}

	return tx.Commit()
}

// Recent returns the newest results of a run, newest first.
func (s *ReportStore) Recent(ctx context.Context, runID domain.RunID, limit int) ([]domain.FrameResult, error) {
	ctx, span := tracing.TraceDatabaseOperation(ctx, "select", "frame_results")
	defer span.End()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, frame_number, captured_at, processing_ms, frame_saved, detection_error
		FROM frame_results
		WHERE run_id = ?
		ORDER BY frame_number DESC
		LIMIT ?`, string(runID), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query frame results: %w", err)
	}

	type frameRow struct {
		id     int64
		result domain.FrameResult
	}
	var frames []frameRow
	for rows.Next() {
		var (
			row            frameRow
			frameNumber    int64
			capturedAt     string
			processingMS   float64
			detectionError sql.NullString
		)
		if err := rows.Scan(&row.id, &frameNumber, &capturedAt, &processingMS, &row.result.FrameSaved, &detectionError); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan frame result: %w", err)
		}
		ts, err := time.Parse(time.RFC3339Nano, capturedAt)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("invalid stored timestamp %q: %w", capturedAt, err)
		}
		row.result.RunID = runID
		row.result.FrameNumber = uint64(frameNumber)
		row.result.Timestamp = ts
		row.result.ProcessingTime = time.Duration(processingMS * float64(time.Millisecond))
		row.result.DetectionError = detectionError.String
		frames = append(frames, row)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	results := make([]domain.FrameResult, 0, len(frames))
	for _, f := range frames {
		vehicles, err := s.vehicles(ctx, f.id)
		if err != nil {
			return nil, err
		}
		r := f.result
		r.Vehicles = vehicles
		r.VehicleCount = len(vehicles)
		results = append(results, r)
	}
	return results, nil
}

func (s *ReportStore) vehicles(ctx context.Context, frameID int64) ([]domain.VehicleDetection, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT track_id, class, confidence, box_x, box_y, box_width, box_height,
		       speed_kph, heading, direction, reliability, samples
		FROM vehicle_detections
		WHERE frame_id = ?
		ORDER BY id`, frameID)
	if err != nil {
		return nil, fmt.Errorf("failed to query vehicles: %w", err)
	}
	defer rows.Close()

	vehicles := []domain.VehicleDetection{}
	for rows.Next() {
		var (
			v         domain.VehicleDetection
			trackID   int64
			speed     sql.NullFloat64
			heading   sql.NullFloat64
			direction string
		)
		err := rows.Scan(&trackID, &v.Class, &v.Confidence,
			&v.Box.X, &v.Box.Y, &v.Box.Width, &v.Box.Height,
			&speed, &heading, &direction, &v.Kinematics.Reliability, &v.Kinematics.Samples)
		if err != nil {
			return nil, fmt.Errorf("failed to scan vehicle: %w", err)
		}
		v.TrackID = domain.TrackID(trackID)
		v.Kinematics.Direction = domain.Direction(direction)
		if speed.Valid {
			v.Kinematics.SpeedKPH = &speed.Float64
		}
		if heading.Valid {
			v.Kinematics.Heading = &heading.Float64
		}
		vehicles = append(vehicles, v)
	}
	return vehicles, rows.Err()
}

func (s *ReportStore) Close() error {
	return s.db.Close()
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

type migrateLogger struct {
	logger *zap.SugaredLogger
}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	l.logger.Debugf("[migrate] "+format, v...)
}

func (l *migrateLogger) Verbose() bool {
	return false
}
