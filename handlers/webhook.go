package handlers

import (
	"errors"
	"log"
	"net/http"
	"time"

	"intake_flow_go/config"
	"intake_flow_go/models"
	"intake_flow_go/services"

	"github.com/labstack/echo/v4"
)

// WebhookHandler serves the signed channel webhook. Every request carries
// either the packed auth parameter p or the flat lineId/ts pair, plus sig and
// an action selector.
type WebhookHandler struct {
	gate       *services.AuthGate
	ledger     *services.CaseLedger
	contacts   *services.ContactRegistry
	reconciler *services.StagingReconciler
	cfg        *config.Config
	now        func() time.Time
}

// NewWebhookHandler wires the webhook endpoint.
func NewWebhookHandler(gate *services.AuthGate, ledger *services.CaseLedger, contacts *services.ContactRegistry, reconciler *services.StagingReconciler, cfg *config.Config) *WebhookHandler {
	return &WebhookHandler{
		gate:       gate,
		ledger:     ledger,
		contacts:   contacts,
		reconciler: reconciler,
		cfg:        cfg,
		now:        time.Now,
	}
}

// Handle processes POST /webhook.
func (h *WebhookHandler) Handle(c echo.Context) error {
	identity, err := h.authenticate(c)
	if err != nil {
		return webhookError(c, err)
	}

	action := c.FormValue("action")
	switch action {
	case "status":
		return h.handleStatus(c, identity)
	case "intake_complete":
		return h.handleIntakeComplete(c, identity)
	case "markReopen":
		return h.handleMarkReopen(c, identity)
	default:
		return c.JSON(http.StatusBadRequest, echo.Map{"ok": false, "error": "unknown_action"})
	}
}

// authenticate picks the protocol by parameter shape: p means packed, a bare
// lineId means flat.
func (h *WebhookHandler) authenticate(c echo.Context) (*services.Identity, error) {
	ts := c.FormValue("ts")
	sig := c.FormValue("sig")
	if p := c.FormValue("p"); p != "" {
		return h.gate.VerifyPacked(p, ts, sig, h.now())
	}
	return h.gate.VerifyFlat(c.FormValue("lineId"), ts, sig, h.now())
}

// handleStatus reports the caller's active case and its status.
func (h *WebhookHandler) handleStatus(c echo.Context, id *services.Identity) error {
	contact, err := h.contacts.FindByLineID(id.LineID)
	if err != nil {
		return webhookError(c, err)
	}
	if contact == nil || contact.ActiveCaseID == "" {
		return c.JSON(http.StatusOK, echo.Map{"ok": true, "status": "none"})
	}

	cs, err := h.ledger.FindByID(contact.ActiveCaseID)
	if err != nil {
		return webhookError(c, err)
	}
	if cs == nil {
		return webhookError(c, &services.ResolutionError{Msg: "Unknown case_id " + contact.ActiveCaseID})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"ok":       true,
		"case_id":  cs.CaseID,
		"case_key": cs.CaseKey,
		"status":   cs.Status,
	})
}

// handleIntakeComplete registers the contact, allocates a case if none is
// active, ensures the case container and runs a targeted staging sweep so
// submissions filed before allocation catch up.
func (h *WebhookHandler) handleIntakeComplete(c echo.Context, id *services.Identity) error {
	userKey, err := h.contacts.ResolveUserKey(id.LineID)
	if err != nil {
		return webhookError(c, err)
	}
	if err := h.contacts.UpsertContact(userKey, id.LineID, c.FormValue("displayName"), c.FormValue("email")); err != nil {
		return webhookError(c, err)
	}

	cs, err := h.activeOrNewCase(userKey, id.LineID)
	if err != nil {
		return webhookError(c, err)
	}

	folderID, err := h.ledger.EnsureCaseFolder(c.Request().Context(), cs.UserKey, cs.CaseID)
	if err != nil {
		return webhookError(c, err)
	}
	if err := h.contacts.SetActiveCase(userKey, cs.CaseID); err != nil {
		return webhookError(c, err)
	}
	if err := h.ledger.UpdateStatus(cs.CaseID, models.CaseStatusIntake); err != nil {
		// Re-running intake on an advanced case is fine; keep the status.
		log.Printf("[INFO] intake_complete left case %s status unchanged: %v", cs.CaseID, err)
	}

	adopted := 0
	sweep, err := h.reconciler.Sweep(c.Request().Context(), services.SweepOptions{
		Target:       cs,
		UniqueRescue: h.cfg.UniqueRescue,
	})
	if err != nil {
		log.Printf("[WARNING] targeted staging sweep failed for case %s: %v", cs.CaseID, err)
	} else {
		adopted = sweep.Adopted
	}

	return c.JSON(http.StatusOK, echo.Map{
		"ok":        true,
		"case_id":   cs.CaseID,
		"case_key":  cs.CaseKey,
		"folder_id": folderID,
		"adopted":   adopted,
	})
}

// activeOrNewCase reuses the contact's active case, falling back to a fresh
// allocation under the allocation lock.
func (h *WebhookHandler) activeOrNewCase(userKey, lineID string) (*models.Case, error) {
	contact, err := h.contacts.FindByUserKey(userKey)
	if err != nil {
		return nil, err
	}
	if contact != nil && contact.ActiveCaseID != "" {
		cs, err := h.ledger.FindByID(contact.ActiveCaseID)
		if err != nil {
			return nil, err
		}
		if cs != nil {
			return cs, nil
		}
		log.Printf("[WARNING] contact %s points at missing case %s; allocating a new one", userKey, contact.ActiveCaseID)
	}
	return h.ledger.IssueCaseID(userKey, lineID)
}

// handleMarkReopen flags the case as reopened. Forward-only: the ledger
// rejects transitions that would roll a case back.
func (h *WebhookHandler) handleMarkReopen(c echo.Context, id *services.Identity) error {
	caseID := id.CaseID
	if caseID == "" {
		caseID = c.FormValue("caseId")
	}
	if caseID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"ok": false, "error": "case_id required"})
	}
	if err := h.ledger.UpdateStatus(caseID, models.CaseStatusReopened); err != nil {
		return webhookError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"ok": true, "case_id": caseID, "status": models.CaseStatusReopened})
}

// DebugState serves GET /debug/state: a point-in-time dump of ledger counts.
// Disabled unless DEBUG_ENDPOINTS is set.
func (h *WebhookHandler) DebugState(c echo.Context) error {
	if !h.cfg.DebugEndpoints {
		return c.JSON(http.StatusForbidden, echo.Map{"ok": false, "error": "debug_disabled"})
	}

	cases, err := h.ledger.AllCases()
	if err != nil {
		return webhookError(c, err)
	}
	byStatus := make(map[string]int)
	for _, cs := range cases {
		byStatus[cs.Status]++
	}
	return c.JSON(http.StatusOK, echo.Map{
		"ok":              true,
		"cases":           len(cases),
		"cases_by_status": byStatus,
	})
}

// webhookError maps the service error taxonomy onto the webhook's JSON shape.
func webhookError(c echo.Context, err error) error {
	var authErr *services.AuthError
	if errors.As(err, &authErr) {
		return c.JSON(http.StatusUnauthorized, echo.Map{"ok": false, "error": authErr.Code})
	}
	if errors.Is(err, services.ErrLockTimeout) {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"ok": false, "error": "lock_timeout"})
	}
	var resErr *services.ResolutionError
	if errors.As(err, &resErr) {
		return c.JSON(http.StatusNotFound, echo.Map{"ok": false, "error": resErr.Msg})
	}
	log.Printf("[WARNING] webhook request failed: %v", err)
	return c.JSON(http.StatusInternalServerError, echo.Map{"ok": false, "error": "internal"})
}
