// Package imudb persists recording sessions and their pipeline output to
// SQLite. The schema lives in embedded migrations and is applied on Open, so
// a fresh database file is usable immediately.
package imudb

import (
	"compress/gzip"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"

	"github.com/banshee-data/motion.report/internal/geom"
	"github.com/banshee-data/motion.report/internal/imu"
	"github.com/banshee-data/motion.report/internal/monitoring"
	"github.com/banshee-data/motion.report/internal/security"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Migrations returns the embedded migration set that Open applies. It is
// exposed so the migrate methods can be driven against it directly.
func Migrations() fs.FS {
	sub, err := fs.Sub(embeddedMigrations, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// ErrSessionNotFound is returned when a session id does not exist.
var ErrSessionNotFound = errors.New("imudb: session not found")

type DB struct {
	*sql.DB
	path string
}

// Open opens the database at path, creating the file if needed, and applies
// any pending migrations.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db := &DB{DB: sqlDB, path: path}
	if err := db.MigrateUp(Migrations()); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate %s: %w", path, err)
	}
	return db, nil
}

// Session is one recording session. StoppedAtMS is nil while the session is
// still open.
type Session struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DeviceID    string `json:"device_id"`
	StartedAtMS int64  `json:"started_at_ms"`
	StoppedAtMS *int64 `json:"stopped_at_ms,omitempty"`
	SampleCount int64  `json:"sample_count"`
}

// CreateSession inserts a new open session keyed by a fresh UUID.
func (db *DB) CreateSession(name, deviceID string) (*Session, error) {
	s := &Session{
		ID:          uuid.NewString(),
		Name:        name,
		DeviceID:    deviceID,
		StartedAtMS: time.Now().UnixMilli(),
	}
	_, err := db.Exec(`
		INSERT INTO recording_sessions (id, name, device_id, started_at_ms)
		VALUES (?, ?, ?, ?)
	`, s.ID, s.Name, s.DeviceID, s.StartedAtMS)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return s, nil
}

// EndSession stamps the session's stop time. Ending a session twice keeps
// the first stop time.
func (db *DB) EndSession(id string) error {
	res, err := db.Exec(`
		UPDATE recording_sessions
		SET stopped_at_ms = ?
		WHERE id = ? AND stopped_at_ms IS NULL
	`, time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		// Either unknown or already stopped; only the former is an error.
		if _, err := db.GetSession(id); err != nil {
			return err
		}
	}
	return nil
}

// GetSession returns one session by id.
func (db *DB) GetSession(id string) (*Session, error) {
	var s Session
	err := db.QueryRow(`
		SELECT id, name, device_id, started_at_ms, stopped_at_ms, sample_count
		FROM recording_sessions
		WHERE id = ?
	`, id).Scan(&s.ID, &s.Name, &s.DeviceID, &s.StartedAtMS, &s.StoppedAtMS, &s.SampleCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	return &s, nil
}

// ListSessions returns the most recently started sessions, newest first.
func (db *DB) ListSessions(limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, name, device_id, started_at_ms, stopped_at_ms, sample_count
		FROM recording_sessions
		ORDER BY started_at_ms DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var s Session
		if err := rows.Scan(&s.ID, &s.Name, &s.DeviceID, &s.StartedAtMS, &s.StoppedAtMS, &s.SampleCount); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// InsertSamples writes a batch of pipeline outputs for one session in a
// single transaction and bumps the session's sample count.
func (db *DB) InsertSamples(sessionID string, samples []imu.ResponseData) error {
	if len(samples) == 0 {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin sample batch: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			monitoring.Logf("imudb: failed to rollback sample batch: %v", err)
		}
	}()

	stmt, err := tx.Prepare(`
		INSERT INTO imu_samples (
			session_id, timestamp_ms,
			accel_no_g_x, accel_no_g_y, accel_no_g_z,
			accel_with_g_x, accel_with_g_y, accel_with_g_z,
			gyro_x, gyro_y, gyro_z,
			quat_w, quat_x, quat_y, quat_z,
			angle_x, angle_y, angle_z,
			offset_x, offset_y, offset_z,
			accel_nav_x, accel_nav_y, accel_nav_z,
			calc_attitude_w, calc_attitude_x, calc_attitude_y, calc_attitude_z,
			calc_velocity_x, calc_velocity_y, calc_velocity_z,
			calc_position_x, calc_position_y, calc_position_z,
			calc_timestamp_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare sample insert: %w", err)
	}
	defer stmt.Close()

	for _, s := range samples {
		raw := s.RawData
		calc := s.CalculatedData
		_, err := stmt.Exec(
			sessionID, raw.TimestampMS,
			raw.AccelNoG.X, raw.AccelNoG.Y, raw.AccelNoG.Z,
			raw.AccelWithG.X, raw.AccelWithG.Y, raw.AccelWithG.Z,
			raw.Gyro.X, raw.Gyro.Y, raw.Gyro.Z,
			raw.Quat.W, raw.Quat.X, raw.Quat.Y, raw.Quat.Z,
			raw.Angle.X, raw.Angle.Y, raw.Angle.Z,
			raw.Offset.X, raw.Offset.Y, raw.Offset.Z,
			raw.AccelNav.X, raw.AccelNav.Y, raw.AccelNav.Z,
			calc.Attitude.W, calc.Attitude.X, calc.Attitude.Y, calc.Attitude.Z,
			calc.Velocity.X, calc.Velocity.Y, calc.Velocity.Z,
			calc.Position.X, calc.Position.Y, calc.Position.Z,
			calc.TimestampMS,
		)
		if err != nil {
			return fmt.Errorf("failed to insert sample ts=%d: %w", raw.TimestampMS, err)
		}
	}

	_, err = tx.Exec(`
		UPDATE recording_sessions
		SET sample_count = sample_count + ?
		WHERE id = ?
	`, len(samples), sessionID)
	if err != nil {
		return fmt.Errorf("failed to update sample count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit sample batch: %w", err)
	}
	return nil
}

// ListSamples returns up to limit of the newest samples in a session,
// reversed into time order for the caller.
func (db *DB) ListSamples(sessionID string, limit int) ([]imu.ResponseData, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`
		SELECT
			timestamp_ms,
			accel_no_g_x, accel_no_g_y, accel_no_g_z,
			accel_with_g_x, accel_with_g_y, accel_with_g_z,
			gyro_x, gyro_y, gyro_z,
			quat_w, quat_x, quat_y, quat_z,
			angle_x, angle_y, angle_z,
			offset_x, offset_y, offset_z,
			accel_nav_x, accel_nav_y, accel_nav_z,
			calc_attitude_w, calc_attitude_x, calc_attitude_y, calc_attitude_z,
			calc_velocity_x, calc_velocity_y, calc_velocity_z,
			calc_position_x, calc_position_y, calc_position_z,
			calc_timestamp_ms
		FROM imu_samples
		WHERE session_id = ?
		ORDER BY timestamp_ms DESC
		LIMIT ?
	`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query samples: %w", err)
	}
	defer rows.Close()

	var samples []imu.ResponseData
	for rows.Next() {
		var s imu.ResponseData
		raw := &s.RawData
		calc := &s.CalculatedData
		err := rows.Scan(
			&raw.TimestampMS,
			&raw.AccelNoG.X, &raw.AccelNoG.Y, &raw.AccelNoG.Z,
			&raw.AccelWithG.X, &raw.AccelWithG.Y, &raw.AccelWithG.Z,
			&raw.Gyro.X, &raw.Gyro.Y, &raw.Gyro.Z,
			&raw.Quat.W, &raw.Quat.X, &raw.Quat.Y, &raw.Quat.Z,
			&raw.Angle.X, &raw.Angle.Y, &raw.Angle.Z,
			&raw.Offset.X, &raw.Offset.Y, &raw.Offset.Z,
			&raw.AccelNav.X, &raw.AccelNav.Y, &raw.AccelNav.Z,
			&calc.Attitude.W, &calc.Attitude.X, &calc.Attitude.Y, &calc.Attitude.Z,
			&calc.Velocity.X, &calc.Velocity.Y, &calc.Velocity.Z,
			&calc.Position.X, &calc.Position.Y, &calc.Position.Z,
			&calc.TimestampMS,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sample row: %w", err)
		}
		// Euler is not persisted; it is a pure function of the attitude.
		calc.Euler = imu.Vec3(geom.Euler(calc.Attitude))
		samples = append(samples, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(samples)-1; i < j; i, j = i+1, j-1 {
		samples[i], samples[j] = samples[j], samples[i]
	}
	return samples, nil
}

// AttachAdminRoutes mounts the SQL browser and backup download on the debug
// handler.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		log.Fatalf("failed to create tailsql server: %v", err)
	}
	tsql.SetDB(fmt.Sprintf("sqlite://%s", db.path), db.DB, &tailsql.DBOptions{
		Label: "IMU DB",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(db.handleBackup))
}

func (db *DB) handleBackup(w http.ResponseWriter, r *http.Request) {
	// Backups are written next to the live database, served, then removed.
	dir := filepath.Dir(db.path)
	backupPath := filepath.Join(dir, fmt.Sprintf("imu-backup-%d.db", time.Now().Unix()))
	if err := security.ValidatePathWithinDirectory(backupPath, dir); err != nil {
		http.Error(w, fmt.Sprintf("Invalid backup path: %v", err), http.StatusInternalServerError)
		return
	}
	if _, err := db.Exec("VACUUM INTO ?", backupPath); err != nil {
		http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
		return
	}

	backupFile, err := os.Open(backupPath)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
		return
	}
	defer func() {
		backupFile.Close()
		if err := os.Remove(backupPath); err != nil {
			monitoring.Logf("imudb: failed to remove backup file: %v", err)
		}
	}()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filepath.Base(backupPath)))
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Encoding", "gzip")

	gz := gzip.NewWriter(w)
	defer gz.Close()
	if _, err := io.Copy(gz, backupFile); err != nil {
		// Headers are already out; all we can do is log.
		monitoring.Logf("imudb: backup download aborted: %v", err)
	}
}
