package imudb

import (
	"os"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/motion.report/internal/geom"
	"github.com/banshee-data/motion.report/internal/imu"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	fname := t.Name() + ".db"
	_ = os.Remove(fname)

	db, err := Open(fname)
	if err != nil {
		t.Fatalf("failed to open test DB: %v", err)
	}
	return db
}

func cleanupTestDB(t *testing.T, db *DB) {
	t.Helper()
	fname := t.Name() + ".db"
	db.Close()
	_ = os.Remove(fname)
	_ = os.Remove(fname + "-shm")
	_ = os.Remove(fname + "-wal")
}

// testSample builds a ResponseData with distinctive values in every field.
// Euler is derived from the attitude the same way the pipeline derives it,
// so stored samples round-trip exactly.
func testSample(ts uint64) imu.ResponseData {
	att := geom.FromAxisAngle(r3.Vec{Z: 1}, 0.5)
	return imu.ResponseData{
		RawData: imu.RawSample{
			TimestampMS: ts,
			AccelNoG:    imu.Vec3{X: 0.1, Y: 0.2, Z: 0.3},
			AccelWithG:  imu.Vec3{X: 0.1, Y: 0.2, Z: 9.9},
			Gyro:        imu.Vec3{X: 1.5, Y: -2.5, Z: 3.5},
			Quat:        geom.Quat{W: 1},
			Angle:       imu.Vec3{X: 10, Y: 20, Z: 30},
			Offset:      imu.Vec3{X: 0.01, Y: 0.02, Z: 0.03},
			AccelNav:    imu.Vec3{X: 0.4, Y: 0.5, Z: 0.6},
		},
		CalculatedData: imu.CalculatedData{
			Attitude:    att,
			Euler:       imu.Vec3(geom.Euler(att)),
			Velocity:    imu.Vec3{X: 0.7, Y: 0.8, Z: 0.9},
			Position:    imu.Vec3{X: 1.1, Y: 1.2, Z: 1.3},
			TimestampMS: ts,
		},
	}
}

func TestOpenAppliesMigrations(t *testing.T) {
	db := setupTestDB(t)
	defer cleanupTestDB(t, db)

	version, dirty, err := db.MigrateVersion(Migrations())
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	for _, table := range []string{"recording_sessions", "imu_samples"} {
		var exists bool
		err := db.QueryRow(`
			SELECT COUNT(*) > 0
			FROM sqlite_master
			WHERE type='table' AND name=?
		`, table).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, "table %s should exist after Open", table)
	}
}

func TestCreateAndGetSession(t *testing.T) {
	db := setupTestDB(t)
	defer cleanupTestDB(t, db)

	created, err := db.CreateSession("morning walk", "imu-01")
	require.NoError(t, err)

	_, err = uuid.Parse(created.ID)
	assert.NoError(t, err, "session id should be a UUID")
	assert.Equal(t, "morning walk", created.Name)
	assert.Equal(t, "imu-01", created.DeviceID)
	assert.Greater(t, created.StartedAtMS, int64(0))
	assert.Nil(t, created.StoppedAtMS)
	assert.Equal(t, int64(0), created.SampleCount)

	got, err := db.GetSession(created.ID)
	require.NoError(t, err)
	if diff := cmp.Diff(created, got); diff != "" {
		t.Errorf("GetSession mismatch (-created +got):\n%s", diff)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	db := setupTestDB(t)
	defer cleanupTestDB(t, db)

	_, err := db.GetSession("no-such-session")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestEndSession(t *testing.T) {
	db := setupTestDB(t)
	defer cleanupTestDB(t, db)

	created, err := db.CreateSession("", "")
	require.NoError(t, err)

	require.NoError(t, db.EndSession(created.ID))

	got, err := db.GetSession(created.ID)
	require.NoError(t, err)
	require.NotNil(t, got.StoppedAtMS)
	assert.GreaterOrEqual(t, *got.StoppedAtMS, got.StartedAtMS)

	// Ending again keeps the original stop time.
	firstStop := *got.StoppedAtMS
	require.NoError(t, db.EndSession(created.ID))
	again, err := db.GetSession(created.ID)
	require.NoError(t, err)
	require.NotNil(t, again.StoppedAtMS)
	assert.Equal(t, firstStop, *again.StoppedAtMS)

	assert.ErrorIs(t, db.EndSession("no-such-session"), ErrSessionNotFound)
}

func TestInsertAndListSamples(t *testing.T) {
	db := setupTestDB(t)
	defer cleanupTestDB(t, db)

	sess, err := db.CreateSession("bench", "imu-01")
	require.NoError(t, err)

	want := []imu.ResponseData{testSample(100), testSample(110), testSample(120)}
	require.NoError(t, db.InsertSamples(sess.ID, want))

	got, err := db.ListSamples(sess.ID, 10)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("samples round-trip mismatch (-want +got):\n%s", diff)
	}

	after, err := db.GetSession(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), after.SampleCount)
}

func TestListSamplesLimitKeepsNewest(t *testing.T) {
	db := setupTestDB(t)
	defer cleanupTestDB(t, db)

	sess, err := db.CreateSession("", "")
	require.NoError(t, err)

	var all []imu.ResponseData
	for ts := uint64(100); ts <= 140; ts += 10 {
		all = append(all, testSample(ts))
	}
	require.NoError(t, db.InsertSamples(sess.ID, all))

	got, err := db.ListSamples(sess.ID, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	// Newest two, returned in time order.
	assert.Equal(t, uint64(130), got[0].RawData.TimestampMS)
	assert.Equal(t, uint64(140), got[1].RawData.TimestampMS)
}

func TestListSamplesEmptySession(t *testing.T) {
	db := setupTestDB(t)
	defer cleanupTestDB(t, db)

	sess, err := db.CreateSession("", "")
	require.NoError(t, err)

	got, err := db.ListSamples(sess.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestInsertSamplesEmptyBatch(t *testing.T) {
	db := setupTestDB(t)
	defer cleanupTestDB(t, db)

	sess, err := db.CreateSession("", "")
	require.NoError(t, err)

	require.NoError(t, db.InsertSamples(sess.ID, nil))

	after, err := db.GetSession(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), after.SampleCount)
}

func TestListSessionsNewestFirst(t *testing.T) {
	db := setupTestDB(t)
	defer cleanupTestDB(t, db)

	older, err := db.CreateSession("older", "")
	require.NoError(t, err)
	newer, err := db.CreateSession("newer", "")
	require.NoError(t, err)

	// Sessions created in the same millisecond would tie; pin the ordering.
	_, err = db.Exec(`UPDATE recording_sessions SET started_at_ms = ? WHERE id = ?`, int64(1000), older.ID)
	require.NoError(t, err)
	_, err = db.Exec(`UPDATE recording_sessions SET started_at_ms = ? WHERE id = ?`, int64(2000), newer.ID)
	require.NoError(t, err)

	sessions, err := db.ListSessions(10)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, newer.ID, sessions[0].ID)
	assert.Equal(t, older.ID, sessions[1].ID)

	limited, err := db.ListSessions(1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, newer.ID, limited[0].ID)
}
