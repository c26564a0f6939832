package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/browserwing/domguard/models"
	"github.com/browserwing/domguard/storage"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	db     *storage.BoltDB
	dir    string
	router http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()
	db, err := storage.NewBoltDB(filepath.Join(dir, "diagnostics.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &testServer{
		db:     db,
		dir:    dir,
		router: SetupRouter(NewHandler(db, "test"), dir, false),
	}
}

func (s *testServer) get(t *testing.T, path string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) addDiagnostic(t *testing.T, kind models.FailureKind, session, value string) *models.DiagnosticRecord {
	t.Helper()
	id, err := uuid.NewV7()
	require.NoError(t, err)
	name := "20240309140507_" + value + ".png"
	require.NoError(t, os.WriteFile(filepath.Join(s.dir, name), []byte("png"), 0o644))
	rec := &models.DiagnosticRecord{
		ID:             id.String(),
		SessionID:      session,
		Action:         "click",
		Selector:       models.ByClassName(value),
		Kind:           kind,
		ScreenshotPath: filepath.Join(s.dir, name),
		CreatedAt:      time.Now(),
	}
	require.NoError(t, s.db.AppendDiagnostic(rec))
	time.Sleep(2 * time.Millisecond)
	return rec
}

func TestHealthAndTraceID(t *testing.T) {
	s := newTestServer(t)

	w := s.get(t, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Trace-ID"))
	assert.Contains(t, w.Body.String(), `"status":"ok"`)

	w = s.get(t, "/health", "X-Trace-ID", "trace-123")
	assert.Equal(t, "trace-123", w.Header().Get("X-Trace-ID"))
}

func TestListAndGetDiagnostics(t *testing.T) {
	s := newTestServer(t)
	first := s.addDiagnostic(t, models.NotFound, "s1", "search-box")
	s.addDiagnostic(t, models.NotClickable, "s1", "submit-btn")
	last := s.addDiagnostic(t, models.NotFound, "s2", "id_l")

	w := s.get(t, "/api/v1/diagnostics")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Diagnostics []diagnosticView `json:"diagnostics"`
		Total       int              `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, 3, body.Total)
	assert.Equal(t, last.ID, body.Diagnostics[0].ID)
	assert.Equal(t, "/files/diagnostics/20240309140507_id_l.png", body.Diagnostics[0].ScreenshotURL)

	w = s.get(t, "/api/v1/diagnostics?kind=not_found&session_id=s1")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, 1, body.Total)
	assert.Equal(t, first.ID, body.Diagnostics[0].ID)

	w = s.get(t, "/api/v1/diagnostics?limit=1")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Total)

	w = s.get(t, "/api/v1/diagnostics/"+first.ID)
	require.Equal(t, http.StatusOK, w.Code)
	var one diagnosticView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &one))
	assert.Equal(t, models.ByClassName("search-box"), one.Selector)

	w = s.get(t, "/api/v1/diagnostics/missing")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.get(t, one.ScreenshotURL)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "png", w.Body.String())
}

func TestListAndGetExecutions(t *testing.T) {
	s := newTestServer(t)
	base := time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 25; i++ {
		require.NoError(t, s.db.SaveScriptExecution(&models.ScriptExecution{
			ID:         fmt.Sprintf("run-%02d", i),
			ScriptName: "daily",
			StartedAt:  base.Add(time.Duration(i) * time.Minute),
			Aborted:    i%5 == 0,
		}))
	}

	w := s.get(t, "/api/v1/executions?page=2")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Executions []models.ScriptExecution `json:"executions"`
		Total      int                      `json:"total"`
		Page       int                      `json:"page"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 25, body.Total)
	assert.Equal(t, 2, body.Page)
	require.Len(t, body.Executions, 5)
	assert.Equal(t, "run-04", body.Executions[0].ID)

	w = s.get(t, "/api/v1/executions?aborted=true")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 5, body.Total)

	w = s.get(t, "/api/v1/executions?script=other")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 0, body.Total)
	assert.Empty(t, body.Executions)

	w = s.get(t, "/api/v1/executions/run-07")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"id":"run-07"`)

	assert.Equal(t, http.StatusNotFound, s.get(t, "/api/v1/executions/run-99").Code)
}

func TestNoWriteEndpoints(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/diagnostics/x", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
