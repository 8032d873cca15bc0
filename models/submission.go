package models

// SheetSubmissions is the append-only ledger of inbound artifacts.
const SheetSubmissions = "submissions"

// Submission status constants.
const (
	SubmissionStatusReceived = "received"
)

// SubmissionColumns is the canonical header for the submissions sheet.
var SubmissionColumns = []string{
	"submission_id",
	"form_key",
	"case_id",
	"user_key",
	"line_id",
	"submitted_at",
	"referrer",
	"status",
	"file_id",
}

// Submission is one row per uniquely-identified inbound artifact.
// Rows are appended, never overwritten; (case_id, form_key, submission_id)
// is the dedup key.
type Submission struct {
	SubmissionID string `json:"submission_id"`
	FormKey      string `json:"form_key"`
	CaseID       string `json:"case_id"`
	UserKey      string `json:"user_key"`
	LineID       string `json:"line_id"`
	SubmittedAt  string `json:"submitted_at,omitempty"`
	Referrer     string `json:"referrer,omitempty"`
	Status       string `json:"status"`
	FileID       string `json:"file_id,omitempty"`
}

// DedupKey identifies a submission for idempotent ingestion.
func (s *Submission) DedupKey() string {
	return s.CaseID + "|" + s.FormKey + "|" + s.SubmissionID
}

// SubmissionFromRow builds a Submission from a canonicalized row map.
func SubmissionFromRow(row map[string]string) *Submission {
	return &Submission{
		SubmissionID: row["submissionid"],
		FormKey:      row["formkey"],
		CaseID:       row["caseid"],
		UserKey:      row["userkey"],
		LineID:       row["lineid"],
		SubmittedAt:  row["submittedat"],
		Referrer:     row["referrer"],
		Status:       row["status"],
		FileID:       row["fileid"],
	}
}
