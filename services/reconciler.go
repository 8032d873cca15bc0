package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"path"
	"strings"
	"time"

	"intake_flow_go/models"
	"intake_flow_go/tabular"
)

const (
	// StagingFilePrefix marks unrouted artifacts in the staging area.
	StagingFilePrefix = "pending__"
	// AdoptionMaxAge bounds how old an artifact without identifying
	// metadata may be and still be adopted into a targeted case.
	AdoptionMaxAge = 15 * time.Minute
	// RescueMaxAge bounds the opt-in unique-rescue fallback.
	RescueMaxAge = 5 * time.Minute
)

// SweepOptions controls one reconciliation sweep.
type SweepOptions struct {
	// Target, when set, is the case the sweep reconciles against. The
	// no-metadata adoption window and the unique-rescue fallback only apply
	// to targeted sweeps; the background sweep adopts on positive key
	// matches alone.
	Target *models.Case
	// UniqueRescue additionally adopts a single unmatched candidate younger
	// than RescueMaxAge when normal matching yields nothing. Requires Target.
	UniqueRescue bool
}

// SweepResult summarizes one sweep.
type SweepResult struct {
	Scanned int      `json:"scanned"`
	Adopted int      `json:"adopted"`
	Skipped int      `json:"skipped"`
	Errors  []string `json:"errors,omitempty"`
}

// StagingReconciler adopts orphaned submissions from the staging area into
// the correct case by best-effort key matching: case_key exact, then
// case_id exact, then line_id exact. First match wins.
type StagingReconciler struct {
	storage StorageProvider
	ledger  *CaseLedger
	subs    *tabular.Table
	prefix  string
	now     func() time.Time
}

// NewStagingReconciler creates a reconciler over the staging prefix.
func NewStagingReconciler(storage StorageProvider, ledger *CaseLedger, wb *tabular.Workbook, stagingPrefix string) *StagingReconciler {
	return &StagingReconciler{
		storage: storage,
		ledger:  ledger,
		subs:    wb.Table(models.SheetSubmissions),
		prefix:  strings.TrimSuffix(stagingPrefix, "/"),
		now:     time.Now,
	}
}

type stagingCandidate struct {
	key     string
	name    string
	modTime time.Time
	doc     *artifactDoc
}

// Sweep scans the staging area once and adopts what it can.
func (r *StagingReconciler) Sweep(ctx context.Context, opts SweepOptions) (*SweepResult, error) {
	objects, err := r.storage.List(ctx, r.prefix+"/")
	if err != nil {
		return nil, &PersistenceError{Op: "staging scan", Err: err}
	}

	cases, err := r.ledger.AllCases()
	if err != nil {
		return nil, err
	}

	result := &SweepResult{}
	var unmatched []*stagingCandidate

	for _, obj := range objects {
		// Tombstones keep their pending__ name; never re-adopt them.
		if strings.HasPrefix(obj.Key, r.prefix+"/removed/") {
			continue
		}
		name := path.Base(obj.Key)
		if !strings.HasPrefix(name, StagingFilePrefix) {
			continue
		}
		result.Scanned++

		doc, err := r.readDoc(ctx, obj.Key)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		cand := &stagingCandidate{key: obj.Key, name: name, modTime: obj.ModTime, doc: doc}

		matched := matchCase(doc.Meta, cases)
		if matched == nil && opts.Target != nil && !hasIdentifyingMeta(doc.Meta) && r.age(obj.ModTime) <= AdoptionMaxAge {
			matched = opts.Target
		}

		if matched == nil {
			unmatched = append(unmatched, cand)
			result.Skipped++
			continue
		}

		if err := r.adopt(ctx, cand, matched); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		result.Adopted++
	}

	// Unique rescue: one unmatched candidate, fresh enough, explicit opt-in.
	if opts.UniqueRescue && opts.Target != nil && result.Adopted == 0 && len(unmatched) == 1 {
		cand := unmatched[0]
		if r.age(cand.modTime) <= RescueMaxAge {
			if err := r.adopt(ctx, cand, opts.Target); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", cand.name, err))
			} else {
				log.Printf("[INFO] unique-rescue adopted %s into case %s", cand.name, opts.Target.CaseID)
				result.Adopted++
				result.Skipped--
			}
		}
	}

	return result, nil
}

// adopt fills in missing case metadata, writes a renamed copy into the case
// container, tombstones the original and records a submission ledger row.
func (r *StagingReconciler) adopt(ctx context.Context, cand *stagingCandidate, c *models.Case) error {
	meta := make(map[string]string, len(cand.doc.Meta)+4)
	for k, v := range cand.doc.Meta {
		meta[k] = v
	}
	if meta["case_id"] == "" {
		meta["case_id"] = c.CaseID
	}
	if meta["case_key"] == "" {
		meta["case_key"] = c.CaseKey
	}
	if meta["user_key"] == "" {
		meta["user_key"] = c.UserKey
	}
	if meta["line_id"] == "" {
		meta["line_id"] = c.LineID
	}

	formKey := strings.ToLower(strings.TrimSpace(meta["form_key"]))
	if formKey == "" {
		formKey = UnknownFormKey
	}
	submissionID := digitsOf(meta["submission_id"])
	if len(submissionID) < 3 {
		submissionID = r.now().Format("20060102150405")
	}

	doc := map[string]any{"meta": meta, "fields": cand.doc.Fields, "model": cand.doc.Model}
	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	name := ArtifactName(formKey, submissionID)
	destKey := CaseFolderPrefix(c.CaseKey) + "/" + name
	if _, err := r.storage.UploadReader(ctx, bytes.NewReader(payload), destKey, "application/json", int64(len(payload))); err != nil {
		return &PersistenceError{Op: "adoption write", Err: err}
	}

	// Tombstone rather than delete, so a bad adoption can be audited.
	removed := r.prefix + "/removed/" + cand.name
	if err := r.storage.Move(ctx, cand.key, removed); err != nil {
		return &PersistenceError{Op: "staging tombstone", Err: err}
	}

	if err := r.subs.EnsureHeader(models.SubmissionColumns); err != nil {
		return err
	}
	if _, err := r.subs.AppendRow(map[string]string{
		"submission_id": submissionID,
		"form_key":      formKey,
		"case_id":       c.CaseID,
		"user_key":      c.UserKey,
		"line_id":       c.LineID,
		"submitted_at":  meta["submitted_at"],
		"referrer":      "staging",
		"status":        models.SubmissionStatusReceived,
		"file_id":       destKey,
	}); err != nil {
		return &PersistenceError{Op: "ledger append", Err: err}
	}

	log.Printf("[INFO] adopted staging artifact %s into case %s as %s", cand.name, c.CaseID, name)
	return nil
}

func (r *StagingReconciler) readDoc(ctx context.Context, key string) (*artifactDoc, error) {
	rc, err := r.storage.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	var doc artifactDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.Meta == nil {
		doc.Meta = map[string]string{}
	}
	return &doc, nil
}

func (r *StagingReconciler) age(modTime time.Time) time.Duration {
	if modTime.IsZero() {
		return AdoptionMaxAge + time.Second
	}
	return r.now().Sub(modTime)
}

// matchCase applies the adoption precedence: case_key exact, case_id exact,
// line_id exact. First match wins.
func matchCase(meta map[string]string, cases []*models.Case) *models.Case {
	if v := strings.TrimSpace(meta["case_key"]); v != "" {
		for _, c := range cases {
			if c.CaseKey == v {
				return c
			}
		}
	}
	if v := strings.TrimSpace(meta["case_id"]); v != "" {
		for _, c := range cases {
			if c.CaseID == v {
				return c
			}
		}
	}
	if v := strings.TrimSpace(meta["line_id"]); v != "" {
		for _, c := range cases {
			if c.LineID == v {
				return c
			}
		}
	}
	return nil
}

func hasIdentifyingMeta(meta map[string]string) bool {
	for _, k := range []string{"case_key", "case_id", "line_id"} {
		if strings.TrimSpace(meta[k]) != "" {
			return true
		}
	}
	return false
}

func digitsOf(s string) string {
	return strings.Join(digitsRe.FindAllString(s, -1), "")
}
