package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/browserwing/domguard/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openDB(t *testing.T) *BoltDB {
	t.Helper()
	db, err := NewBoltDB(filepath.Join(t.TempDir(), "nested", "diagnostics.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func diagnostic(t *testing.T, value string) *models.DiagnosticRecord {
	t.Helper()
	id, err := uuid.NewV7()
	require.NoError(t, err)
	return &models.DiagnosticRecord{
		ID:             id.String(),
		SessionID:      "s1",
		Action:         "click",
		Selector:       models.ByID(value),
		Kind:           models.NotFound,
		ScreenshotPath: "logs/20240309140507_" + value + ".png",
		CreatedAt:      time.Now(),
	}
}

func TestDiagnosticsAppendOnly(t *testing.T) {
	db := openDB(t)
	rec := diagnostic(t, "search-box")
	require.NoError(t, db.AppendDiagnostic(rec))

	got, err := db.GetDiagnostic(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Selector, got.Selector)
	assert.Equal(t, models.NotFound, got.Kind)
	assert.Equal(t, rec.ScreenshotPath, got.ScreenshotPath)

	dup := *rec
	dup.Kind = models.DriverFault
	err = db.AppendDiagnostic(&dup)
	assert.True(t, errors.Is(err, ErrExists))

	got, err = db.GetDiagnostic(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.NotFound, got.Kind)

	assert.Error(t, db.AppendDiagnostic(&models.DiagnosticRecord{}))
}

func TestGetDiagnosticMissing(t *testing.T) {
	db := openDB(t)
	_, err := db.GetDiagnostic("nope")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestListDiagnosticsNewestFirst(t *testing.T) {
	db := openDB(t)
	var ids []string
	for i := 0; i < 5; i++ {
		rec := diagnostic(t, fmt.Sprintf("el-%d", i))
		require.NoError(t, db.AppendDiagnostic(rec))
		ids = append(ids, rec.ID)
		time.Sleep(2 * time.Millisecond)
	}

	all, err := db.ListDiagnostics(0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, ids[4], all[0].ID)
	assert.Equal(t, ids[0], all[4].ID)

	latest, err := db.ListDiagnostics(2)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, ids[4], latest[0].ID)
	assert.Equal(t, ids[3], latest[1].ID)
}

func TestScriptExecutions(t *testing.T) {
	db := openDB(t)
	base := time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC)

	for i, name := range []string{"daily", "search", "daily"} {
		require.NoError(t, db.SaveScriptExecution(&models.ScriptExecution{
			ID:         fmt.Sprintf("run-%d", i),
			ScriptName: name,
			StartedAt:  base.Add(time.Duration(i) * time.Minute),
			Succeeded:  i,
		}))
	}

	got, err := db.GetScriptExecution("run-1")
	require.NoError(t, err)
	assert.Equal(t, "search", got.ScriptName)

	_, err = db.GetScriptExecution("run-9")
	assert.True(t, errors.Is(err, ErrNotFound))

	all, err := db.ListScriptExecutions("")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "run-2", all[0].ID)

	daily, err := db.ListScriptExecutions("daily")
	require.NoError(t, err)
	require.Len(t, daily, 2)
	assert.Equal(t, "run-2", daily[0].ID)
	assert.Equal(t, "run-0", daily[1].ID)
}
