package api

import (
	"errors"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/browserwing/domguard/models"
	"github.com/browserwing/domguard/pkg/logger"
	"github.com/browserwing/domguard/storage"
	"github.com/gin-gonic/gin"
)

const (
	filesPrefix         = "/files/diagnostics"
	defaultDiagnostics  = 50
	maxDiagnosticsLimit = 500
)

type Handler struct {
	db        *storage.BoltDB
	version   string
	startTime time.Time
}

func NewHandler(db *storage.BoltDB, version string) *Handler {
	return &Handler{
		db:        db,
		version:   version,
		startTime: time.Now(),
	}
}

// diagnosticView adds download URLs for the artifacts of a record.
type diagnosticView struct {
	*models.DiagnosticRecord
	ScreenshotURL string `json:"screenshot_url,omitempty"`
	SnapshotURL   string `json:"snapshot_url,omitempty"`
}

func newDiagnosticView(rec *models.DiagnosticRecord) diagnosticView {
	v := diagnosticView{DiagnosticRecord: rec}
	if rec.ScreenshotPath != "" {
		v.ScreenshotURL = filesPrefix + "/" + filepath.Base(rec.ScreenshotPath)
	}
	if rec.SnapshotPath != "" {
		v.SnapshotURL = filesPrefix + "/" + filepath.Base(rec.SnapshotPath)
	}
	return v
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": h.version,
		"uptime":  time.Since(h.startTime).Round(time.Second).String(),
	})
}

// ListDiagnostics 列出诊断记录，最新的在前
func (h *Handler) ListDiagnostics(c *gin.Context) {
	limit := defaultDiagnostics
	if limitStr := c.Query("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= maxDiagnosticsLimit {
			limit = l
		}
	}
	kind := c.Query("kind")
	sessionID := c.Query("session_id")

	// filters apply after the limit is read, so read everything when filtering
	readLimit := limit
	if kind != "" || sessionID != "" {
		readLimit = 0
	}
	records, err := h.db.ListDiagnostics(readLimit)
	if err != nil {
		logger.Error(c.Request.Context(), "Failed to list diagnostics: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list diagnostics"})
		return
	}

	views := make([]diagnosticView, 0, len(records))
	for _, rec := range records {
		if kind != "" && string(rec.Kind) != kind {
			continue
		}
		if sessionID != "" && rec.SessionID != sessionID {
			continue
		}
		views = append(views, newDiagnosticView(rec))
		if len(views) >= limit {
			break
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"diagnostics": views,
		"total":       len(views),
		"limit":       limit,
	})
}

func (h *Handler) GetDiagnostic(c *gin.Context) {
	rec, err := h.db.GetDiagnostic(c.Param("id"))
	if err != nil {
		h.notFoundOr500(c, err, "diagnostic")
		return
	}
	c.JSON(http.StatusOK, newDiagnosticView(rec))
}

// ListScriptExecutions 列出执行记录（支持分页和按脚本名过滤）
func (h *Handler) ListScriptExecutions(c *gin.Context) {
	page := 1
	pageSize := 20
	if pageStr := c.Query("page"); pageStr != "" {
		if p, err := strconv.Atoi(pageStr); err == nil && p > 0 {
			page = p
		}
	}
	if pageSizeStr := c.Query("page_size"); pageSizeStr != "" {
		if ps, err := strconv.Atoi(pageSizeStr); err == nil && ps > 0 && ps <= 100 {
			pageSize = ps
		}
	}

	executions, err := h.db.ListScriptExecutions(c.Query("script"))
	if err != nil {
		logger.Error(c.Request.Context(), "Failed to list executions: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list executions"})
		return
	}

	if abortedFilter := c.Query("aborted"); abortedFilter != "" {
		aborted := abortedFilter == "true"
		filtered := make([]*models.ScriptExecution, 0, len(executions))
		for _, exec := range executions {
			if exec.Aborted == aborted {
				filtered = append(filtered, exec)
			}
		}
		executions = filtered
	}

	total := len(executions)
	start := (page - 1) * pageSize
	end := start + pageSize
	if start >= total {
		executions = []*models.ScriptExecution{}
	} else {
		if end > total {
			end = total
		}
		executions = executions[start:end]
	}

	c.JSON(http.StatusOK, gin.H{
		"executions": executions,
		"total":      total,
		"page":       page,
		"page_size":  pageSize,
	})
}

func (h *Handler) GetScriptExecution(c *gin.Context) {
	execution, err := h.db.GetScriptExecution(c.Param("id"))
	if err != nil {
		h.notFoundOr500(c, err, "execution")
		return
	}
	c.JSON(http.StatusOK, execution)
}

func (h *Handler) notFoundOr500(c *gin.Context, err error, what string) {
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": what + " not found"})
		return
	}
	logger.Error(c.Request.Context(), "Failed to read %s: %v", what, err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read " + what})
}
