package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"intake_flow_go/models"
	"intake_flow_go/tabular"
)

// UnknownFormKey labels submissions whose form could not be identified.
const UnknownFormKey = "unknown_form"

// IngestOptions carries caller-side overrides for one ingestion.
type IngestOptions struct {
	FormKey  string // explicit form key; wins over parsed meta
	Referrer string
}

// IngestResult describes the persisted artifact of one ingestion.
type IngestResult struct {
	FileID    string `json:"file_id"`
	Name      string `json:"name"`
	CaseKey   string `json:"case_key"`
	FormKey   string `json:"form_key"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// SubmissionRouter orchestrates one inbound submission: parse, authenticate
// the shared secret, resolve the case, map the fields, persist the artifact
// and update the ledger, all under a short critical section.
//
// Persistence failures are terminal per attempt with no internal retry; the
// upstream source delivers at least once and the dedup key makes redelivery
// safe.
type SubmissionRouter struct {
	secret   string
	registry *MapperRegistry
	ledger   *CaseLedger
	contacts *ContactRegistry
	subs     *tabular.Table
	storage  StorageProvider
	notifier *Notifier
	lock     *NamedLock
	now      func() time.Time
}

// NewSubmissionRouter wires the router. notifier may be nil.
func NewSubmissionRouter(secret string, registry *MapperRegistry, ledger *CaseLedger, contacts *ContactRegistry, wb *tabular.Workbook, storage StorageProvider, notifier *Notifier) *SubmissionRouter {
	return &SubmissionRouter{
		secret:   secret,
		registry: registry,
		ledger:   ledger,
		contacts: contacts,
		subs:     wb.Table(models.SheetSubmissions),
		storage:  storage,
		notifier: notifier,
		lock:     NewNamedLock("ingest"),
		now:      time.Now,
	}
}

// Ingest processes one notification message body.
func (r *SubmissionRouter) Ingest(ctx context.Context, subject, body string, opts IngestOptions) (*IngestResult, error) {
	if err := r.lock.Acquire(IngestLockTimeout); err != nil {
		return nil, err
	}
	defer r.lock.Release()

	parsed := ParseMailBody(body)
	if len(parsed.Meta) == 0 {
		return nil, &StageError{Stage: "parse", Err: fmt.Errorf("no META block found")}
	}

	if !strings.EqualFold(strings.TrimSpace(parsed.Meta["secret"]), r.secret) || r.secret == "" {
		log.Printf("[WARNING] ingest secret rejected (got=%s)", redact(parsed.Meta["secret"]))
		return nil, &StageError{Stage: "auth", Err: fmt.Errorf("Invalid secret")}
	}

	formKey := r.resolveFormKey(subject, parsed.Meta, opts)
	submissionID := r.normalizeSubmissionID(parsed.Meta["submission_id"], parsed.Meta["submitted_at"])

	caseID := strings.TrimSpace(parsed.Meta["case_id"])
	if caseID == "" {
		return nil, &StageError{Stage: "resolve", Err: fmt.Errorf("case_id missing from META block")}
	}

	mapper := r.registry.Lookup(formKey)
	model := mapper(parsed.Fields, parsed.Meta)

	c, err := r.ledger.FindByID(caseID)
	if err != nil {
		return nil, &StageError{Stage: "resolve", Err: err}
	}
	if c == nil {
		return nil, &StageError{Stage: "resolve", Err: &ResolutionError{Msg: fmt.Sprintf("Unknown case_id %s", caseID)}}
	}
	caseKey := c.CaseKey
	if caseKey == "" {
		caseKey = models.CaseKeyFor(c.UserKey, c.CaseID)
	}

	name := ArtifactName(formKey, submissionID)
	key := CaseFolderPrefix(caseKey) + "/" + name

	// Dedup: an artifact with the same (caseId, formKey, submissionId) has
	// been ingested before; redelivery is answered without new side effects.
	exists, err := r.storage.Exists(ctx, key)
	if err != nil {
		return nil, &StageError{Stage: "persist", Err: &PersistenceError{Op: "dedup check", Err: err}}
	}
	if exists {
		log.Printf("[INFO] duplicate submission %s for case %s ignored", name, caseID)
		return &IngestResult{FileID: key, Name: name, CaseKey: caseKey, FormKey: formKey, Duplicate: true}, nil
	}

	doc := map[string]any{
		"meta":   parsed.Meta,
		"fields": parsed.Fields,
		"model":  model,
	}
	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, &StageError{Stage: "persist", Err: err}
	}
	stored, err := r.storage.UploadReader(ctx, bytes.NewReader(payload), key, "application/json", int64(len(payload)))
	if err != nil {
		return nil, &StageError{Stage: "persist", Err: &PersistenceError{Op: "artifact write", Err: err}}
	}

	sub := &models.Submission{
		SubmissionID: submissionID,
		FormKey:      formKey,
		CaseID:       caseID,
		UserKey:      c.UserKey,
		LineID:       c.LineID,
		SubmittedAt:  parsed.Meta["submitted_at"],
		Referrer:     firstNonEmpty(opts.Referrer, parsed.Meta["referrer"]),
		Status:       models.SubmissionStatusReceived,
		FileID:       stored.Key,
	}
	if err := r.appendSubmission(sub); err != nil {
		return nil, &StageError{Stage: "persist", Err: &PersistenceError{Op: "ledger append", Err: err}}
	}

	// Best-effort bookkeeping; a failure here never fails the submission.
	if err := r.ledger.PatchCase(caseID, map[string]string{
		"last_activity": r.now().UTC().Format(time.RFC3339),
		"last_form_key": formKey,
	}); err != nil {
		log.Printf("[WARNING] failed to patch case %s after ingest: %v", caseID, err)
	}

	if r.notifier != nil {
		r.notifier.SubmissionReceivedAsync(caseKey, formKey, name)
	}

	return &IngestResult{FileID: stored.Key, Name: name, CaseKey: caseKey, FormKey: formKey}, nil
}

// resolveFormKey picks the form key: explicit option, parsed meta, a
// heuristic scan of the subject for a short form-code token matched against
// registered mapper keys, else UnknownFormKey.
func (r *SubmissionRouter) resolveFormKey(subject string, meta map[string]string, opts IngestOptions) string {
	if k := strings.TrimSpace(opts.FormKey); k != "" {
		return strings.ToLower(k)
	}
	if k := strings.TrimSpace(meta["form_key"]); k != "" {
		return strings.ToLower(k)
	}
	if k := matchFormCode(subject, r.registry.Keys()); k != "" {
		return k
	}
	return UnknownFormKey
}

var formCodeRe = regexp.MustCompile(`(?i)\b([a-z]\d{3,4}[a-z0-9_]*)\b`)

// matchFormCode scans free text for a short form-code token and matches it
// against the registered keys, exact first, then as a prefix.
func matchFormCode(text string, keys []string) string {
	for _, m := range formCodeRe.FindAllString(text, -1) {
		tok := strings.ToLower(m)
		for _, k := range keys {
			if k == tok {
				return k
			}
		}
		for _, k := range keys {
			if strings.HasPrefix(k, tok) {
				return k
			}
		}
	}
	return ""
}

var digitsRe = regexp.MustCompile(`\d`)

// normalizeSubmissionID guarantees a non-empty, reasonably unique id even
// when the source omits one: digits of the supplied id (length >= 3), else
// digits of the submission timestamp (length >= 8), else the current time as
// a 14-digit timestamp.
func (r *SubmissionRouter) normalizeSubmissionID(rawID, submittedAt string) string {
	if d := strings.Join(digitsRe.FindAllString(rawID, -1), ""); len(d) >= 3 {
		return d
	}
	if d := strings.Join(digitsRe.FindAllString(submittedAt, -1), ""); len(d) >= 8 {
		return d
	}
	return r.now().Format("20060102150405")
}

// appendSubmission appends the ledger row unless the dedup triple already
// has one. Rows are append-only: never overwritten, only patched later with
// derived fields.
func (r *SubmissionRouter) appendSubmission(sub *models.Submission) error {
	if err := r.subs.EnsureHeader(models.SubmissionColumns); err != nil {
		return err
	}
	rows, err := r.subs.AllRows()
	if err != nil {
		return err
	}
	for _, row := range rows {
		existing := models.SubmissionFromRow(row)
		if existing.DedupKey() == sub.DedupKey() {
			return nil
		}
	}
	_, err = r.subs.AppendRow(map[string]string{
		"submission_id": sub.SubmissionID,
		"form_key":      sub.FormKey,
		"case_id":       sub.CaseID,
		"user_key":      sub.UserKey,
		"line_id":       sub.LineID,
		"submitted_at":  sub.SubmittedAt,
		"referrer":      sub.Referrer,
		"status":        sub.Status,
		"file_id":       sub.FileID,
	})
	return err
}

// Submissions returns every ledger row, newest last.
func (r *SubmissionRouter) Submissions() ([]*models.Submission, error) {
	rows, err := r.subs.AllRows()
	if err != nil {
		return nil, err
	}
	out := make([]*models.Submission, 0, len(rows))
	for _, row := range rows {
		out = append(out, models.SubmissionFromRow(row))
	}
	return out, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
