package services

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"intake_flow_go/models"
	"intake_flow_go/tabular"
)

// CaseLedger allocates case identifiers and resolves per-case storage
// containers. Allocation is serialized through a single lock so that case
// ids stay globally unique and strictly increasing; gaps left by failed
// attempts are acceptable and never compacted.
type CaseLedger struct {
	cases   *tabular.Table
	storage StorageProvider
	lock    *NamedLock
	now     func() time.Time
}

// NewCaseLedger creates a ledger over the cases sheet.
func NewCaseLedger(wb *tabular.Workbook, storage StorageProvider) *CaseLedger {
	return &CaseLedger{
		cases:   wb.Table(models.SheetCases),
		storage: storage,
		lock:    NewNamedLock("case-allocation"),
		now:     time.Now,
	}
}

// IssueCaseID allocates the next case id under the allocation lock and
// appends the new case row with status draft. Fails fast with
// ErrLockTimeout when the lock is contended past its timeout.
func (l *CaseLedger) IssueCaseID(userKey, lineID string) (*models.Case, error) {
	if err := l.lock.Acquire(AllocationLockTimeout); err != nil {
		return nil, err
	}
	defer l.lock.Release()

	if err := l.cases.EnsureHeader(models.CaseColumns); err != nil {
		return nil, err
	}

	rows, err := l.cases.AllRows()
	if err != nil {
		return nil, err
	}
	maxID := 0
	for _, row := range rows {
		if n, err := strconv.Atoi(row["caseid"]); err == nil && n > maxID {
			maxID = n
		}
	}

	caseID := fmt.Sprintf("%04d", maxID+1)
	c := &models.Case{
		CaseID:    caseID,
		CaseKey:   models.CaseKeyFor(userKey, caseID),
		UserKey:   userKey,
		LineID:    lineID,
		Status:    models.CaseStatusDraft,
		CreatedAt: l.now().UTC().Format(time.RFC3339),
	}

	if _, err := l.cases.AppendRow(map[string]string{
		"case_id":    c.CaseID,
		"case_key":   c.CaseKey,
		"user_key":   c.UserKey,
		"line_id":    c.LineID,
		"status":     c.Status,
		"created_at": c.CreatedAt,
	}); err != nil {
		return nil, &PersistenceError{Op: "case allocation", Err: err}
	}

	log.Printf("[INFO] issued case %s for user %s", c.CaseID, userKey)
	return c, nil
}

// EnsureCaseFolder idempotently creates the storage container for a case and
// records its folder id on the case row. Safe under repeated calls.
func (l *CaseLedger) EnsureCaseFolder(ctx context.Context, userKey, caseID string) (string, error) {
	caseKey := models.CaseKeyFor(userKey, caseID)
	folderID, err := l.storage.EnsureFolder(ctx, CaseFolderPrefix(caseKey))
	if err != nil {
		return "", &PersistenceError{Op: "folder creation", Err: err}
	}

	row, data, err := l.cases.FindRow("case_id", caseID)
	if err != nil {
		return "", err
	}
	if row != 0 && data["folderid"] != folderID {
		if err := l.cases.UpdateRow(row, map[string]string{"folder_id": folderID}); err != nil {
			return "", err
		}
	}
	return folderID, nil
}

// ResolveCaseFolderID looks up a case container by case id first, then by
// the user key derived from lineID, optionally creating the container when
// missing. Returns "" when unresolvable and creation is not requested.
func (l *CaseLedger) ResolveCaseFolderID(ctx context.Context, lineID, caseID string, createIfMissing bool) (string, error) {
	if caseID != "" {
		row, data, err := l.cases.FindRow("case_id", caseID)
		if err != nil {
			return "", err
		}
		if row != 0 {
			if data["folderid"] != "" {
				return data["folderid"], nil
			}
			if createIfMissing {
				return l.EnsureCaseFolder(ctx, data["userkey"], caseID)
			}
			return "", nil
		}
	}

	if lineID != "" {
		userKey := DeriveUserKey(lineID)
		row, data, err := l.cases.FindRow("user_key", userKey)
		if err != nil {
			return "", err
		}
		if row != 0 {
			if data["folderid"] != "" {
				return data["folderid"], nil
			}
			if createIfMissing {
				return l.EnsureCaseFolder(ctx, userKey, data["caseid"])
			}
		}
	}

	if createIfMissing && caseID != "" && lineID != "" {
		return l.EnsureCaseFolder(ctx, DeriveUserKey(lineID), caseID)
	}
	return "", nil
}

// FindByID returns the case row for an id, or nil when absent.
func (l *CaseLedger) FindByID(caseID string) (*models.Case, error) {
	row, data, err := l.cases.FindRow("case_id", caseID)
	if err != nil || row == 0 {
		return nil, err
	}
	return models.CaseFromRow(data), nil
}

// AllCases returns every case row.
func (l *CaseLedger) AllCases() ([]*models.Case, error) {
	rows, err := l.cases.AllRows()
	if err != nil {
		return nil, err
	}
	out := make([]*models.Case, 0, len(rows))
	for _, row := range rows {
		out = append(out, models.CaseFromRow(row))
	}
	return out, nil
}

// PatchCase overwrites the supplied columns of a case row. Unsynchronized;
// used for best-effort bookkeeping like last_activity.
func (l *CaseLedger) PatchCase(caseID string, fields map[string]string) error {
	row, _, err := l.cases.FindRow("case_id", caseID)
	if err != nil {
		return err
	}
	if row == 0 {
		return &ResolutionError{Msg: fmt.Sprintf("Unknown case_id %s", caseID)}
	}
	return l.cases.UpdateRow(row, fields)
}

// UpdateStatus moves a case to a new status, enforcing the forward-only
// transition rule.
func (l *CaseLedger) UpdateStatus(caseID, status string) error {
	row, data, err := l.cases.FindRow("case_id", caseID)
	if err != nil {
		return err
	}
	if row == 0 {
		return &ResolutionError{Msg: fmt.Sprintf("Unknown case_id %s", caseID)}
	}
	if !models.CanTransitionCaseStatus(data["status"], status) {
		return fmt.Errorf("invalid status transition %s -> %s", data["status"], status)
	}
	return l.cases.UpdateRow(row, map[string]string{
		"status":        status,
		"last_activity": l.now().UTC().Format(time.RFC3339),
	})
}
