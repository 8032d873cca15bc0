package models

import "fmt"

// SheetCases is the logical table holding one row per client matter.
const SheetCases = "cases"

// Case status constants. Transitions are forward-only and event-driven;
// there is no automatic rollback.
const (
	CaseStatusDraft      = "draft"
	CaseStatusIntake     = "intake"
	CaseStatusInProgress = "in_progress"
	CaseStatusClosed     = "closed"
	CaseStatusReopened   = "reopened"
)

// statusRank orders statuses for the forward-only transition check.
var statusRank = map[string]int{
	CaseStatusDraft:      0,
	CaseStatusIntake:     1,
	CaseStatusInProgress: 2,
	CaseStatusClosed:     3,
	CaseStatusReopened:   4,
}

// CaseColumns is the canonical header for the cases sheet.
var CaseColumns = []string{
	"case_id",
	"case_key",
	"user_key",
	"line_id",
	"status",
	"folder_id",
	"created_at",
	"last_activity",
	"last_form_key",
}

// Case represents a client matter. One case groups many form submissions.
type Case struct {
	CaseID       string `json:"case_id"`  // 4-digit zero-padded, unique, monotonic
	CaseKey      string `json:"case_key"` // userKey-caseId
	UserKey      string `json:"user_key"`
	LineID       string `json:"line_id"`
	Status       string `json:"status"`
	FolderID     string `json:"folder_id,omitempty"`
	CreatedAt    string `json:"created_at,omitempty"`
	LastActivity string `json:"last_activity,omitempty"`
	LastFormKey  string `json:"last_form_key,omitempty"`
}

// CaseKeyFor derives the composite human-readable case key.
func CaseKeyFor(userKey, caseID string) string {
	return fmt.Sprintf("%s-%s", userKey, caseID)
}

// IsValidCaseStatus checks if the status is a known value.
func IsValidCaseStatus(status string) bool {
	_, ok := statusRank[status]
	return ok
}

// CanTransitionCaseStatus reports whether moving from one status to another
// respects the forward-only rule. Unknown statuses never transition.
func CanTransitionCaseStatus(from, to string) bool {
	fromRank, ok := statusRank[from]
	if !ok {
		return false
	}
	toRank, ok := statusRank[to]
	if !ok {
		return false
	}
	return toRank >= fromRank
}

// CaseFromRow builds a Case from a canonicalized row map.
func CaseFromRow(row map[string]string) *Case {
	return &Case{
		CaseID:       row["caseid"],
		CaseKey:      row["casekey"],
		UserKey:      row["userkey"],
		LineID:       row["lineid"],
		Status:       row["status"],
		FolderID:     row["folderid"],
		CreatedAt:    row["createdat"],
		LastActivity: row["lastactivity"],
		LastFormKey:  row["lastformkey"],
	}
}
