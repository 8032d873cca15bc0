package handlers

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"intake_flow_go/services"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// IngestRequest is the body of POST /ingest: one forwarded notification
// message plus optional caller overrides.
type IngestRequest struct {
	Subject  string `json:"subject" form:"subject"`
	Body     string `json:"body" form:"body"`
	FormKey  string `json:"form_key" form:"form_key"`
	Referrer string `json:"referrer" form:"referrer"`
}

// MergeRequest is the body of POST /merge: assemble a composite form from its
// parts once all of them are present.
type MergeRequest struct {
	CaseKey string   `json:"case_key" form:"case_key"`
	FormKey string   `json:"form_key" form:"form_key"`
	Parts   []string `json:"parts" form:"parts"`
}

// IngestHandler serves the submission pipeline endpoints.
type IngestHandler struct {
	router   *services.SubmissionRouter
	merger   *services.MultiPartMerger
	notifier *services.Notifier
}

// NewIngestHandler wires the ingest and merge endpoints. notifier may be nil.
func NewIngestHandler(router *services.SubmissionRouter, merger *services.MultiPartMerger, notifier *services.Notifier) *IngestHandler {
	return &IngestHandler{router: router, merger: merger, notifier: notifier}
}

// Ingest processes POST /ingest.
func (h *IngestHandler) Ingest(c echo.Context) error {
	var req IngestRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"ok": false, "error": "malformed request body"})
	}
	if strings.TrimSpace(req.Body) == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"ok": false, "error": "body required"})
	}

	reqID := uuid.NewString()
	res, err := h.router.Ingest(c.Request().Context(), req.Subject, req.Body, services.IngestOptions{
		FormKey:  req.FormKey,
		Referrer: req.Referrer,
	})
	if err != nil {
		return ingestError(c, reqID, err)
	}

	log.Printf("[INFO] ingest %s stored %s for case %s (duplicate=%t)", reqID, res.Name, res.CaseKey, res.Duplicate)
	return c.JSON(http.StatusOK, echo.Map{
		"ok":         true,
		"request_id": reqID,
		"file_id":    res.FileID,
		"name":       res.Name,
		"case_key":   res.CaseKey,
		"form_key":   res.FormKey,
		"duplicate":  res.Duplicate,
	})
}

// Merge processes POST /merge. Incompleteness is a normal answer, not a
// failure: the caller polls again after the next part arrives.
func (h *IngestHandler) Merge(c echo.Context) error {
	var req MergeRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"ok": false, "error": "malformed request body"})
	}
	if req.CaseKey == "" || req.FormKey == "" || len(req.Parts) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"ok": false, "error": "case_key, form_key and parts required"})
	}

	res, err := h.merger.Merge(c.Request().Context(), req.CaseKey, req.FormKey, req.Parts)
	if errors.Is(err, services.ErrIncomplete) {
		return c.JSON(http.StatusOK, echo.Map{"ok": false, "incomplete": true, "error": err.Error()})
	}
	if err != nil {
		log.Printf("[WARNING] merge failed for case %s form %s: %v", req.CaseKey, req.FormKey, err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"ok": false, "error": "internal"})
	}

	if h.notifier != nil {
		h.notifier.MergeCompletedAsync(req.CaseKey, res.FormKey, res.Name)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"ok":        true,
		"file_id":   res.FileID,
		"name":      res.Name,
		"form_key":  res.FormKey,
		"merged_at": res.MergedAt,
		"parts":     res.Parts,
	})
}

// ingestError maps stage-tagged pipeline failures onto HTTP statuses.
func ingestError(c echo.Context, reqID string, err error) error {
	if errors.Is(err, services.ErrLockTimeout) {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"ok": false, "error": "lock_timeout", "request_id": reqID})
	}
	var stageErr *services.StageError
	if errors.As(err, &stageErr) {
		status := http.StatusInternalServerError
		switch stageErr.Stage {
		case "parse":
			status = http.StatusBadRequest
		case "auth":
			status = http.StatusUnauthorized
		case "resolve":
			status = http.StatusNotFound
		}
		log.Printf("[WARNING] ingest %s failed at stage %s: %v", reqID, stageErr.Stage, stageErr.Err)
		return c.JSON(status, echo.Map{
			"ok":         false,
			"error":      stageErr.Err.Error(),
			"stage":      stageErr.Stage,
			"request_id": reqID,
		})
	}
	log.Printf("[WARNING] ingest %s failed: %v", reqID, err)
	return c.JSON(http.StatusInternalServerError, echo.Map{"ok": false, "error": "internal", "request_id": reqID})
}
