package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"
)

// ErrIncomplete reports that not all required parts of a composite form have
// been submitted yet. Non-fatal: the caller retries on the next poll.
var ErrIncomplete = errors.New("incomplete")

// artifactDoc is the stored shape of one submission artifact.
type artifactDoc struct {
	Meta   map[string]string `json:"meta"`
	Fields []Field           `json:"fields"`
	Model  map[string]any    `json:"model"`
}

// MergeResult describes a persisted composite document.
type MergeResult struct {
	FileID   string   `json:"file_id"`
	Name     string   `json:"name"`
	FormKey  string   `json:"form_key"`
	MergedAt string   `json:"merged_at"`
	Parts    []string `json:"parts"`
}

// MultiPartMerger combines independently-submitted partial forms of one
// composite form type into a single model once all parts are present.
// Parts are merged in submission-time order, so a later part's non-empty
// values overwrite earlier ones field by field; blank values never clobber
// filled ones.
type MultiPartMerger struct {
	storage StorageProvider
	now     func() time.Time
}

// NewMultiPartMerger creates a merger over the artifact store.
func NewMultiPartMerger(storage StorageProvider) *MultiPartMerger {
	return &MultiPartMerger{storage: storage, now: time.Now}
}

type mergePart struct {
	name        string
	submittedAt time.Time
	doc         *artifactDoc
}

// Merge scans the case container for the latest artifact of each required
// part prefix and writes the merged composite document. Returns
// ErrIncomplete when a required part has no artifact yet.
func (m *MultiPartMerger) Merge(ctx context.Context, caseKey, baseFormKey string, requiredParts []string) (*MergeResult, error) {
	prefix := CaseFolderPrefix(caseKey)
	objects, err := m.storage.List(ctx, prefix+"/")
	if err != nil {
		return nil, &PersistenceError{Op: "container scan", Err: err}
	}

	latest := make(map[string]*mergePart)
	for _, obj := range objects {
		base := path.Base(obj.Key)
		if !strings.HasSuffix(base, ".json") || strings.Contains(base, "__merged_") {
			continue
		}
		part := matchPartPrefix(base, requiredParts)
		if part == "" {
			continue
		}
		doc, err := m.readDoc(ctx, obj.Key)
		if err != nil {
			// An unreadable artifact must not block the merge of the rest.
			continue
		}
		ts := submissionTime(doc.Meta["submitted_at"], obj.ModTime)
		if cur, ok := latest[part]; !ok || ts.After(cur.submittedAt) {
			latest[part] = &mergePart{name: base, submittedAt: ts, doc: doc}
		}
	}

	for _, part := range requiredParts {
		if _, ok := latest[part]; !ok {
			return nil, fmt.Errorf("%w: part %s not yet submitted for case %s", ErrIncomplete, part, caseKey)
		}
	}

	// Explicit chronological precedence: sort parts by submission time so the
	// merge result never depends on container scan order.
	parts := make([]*mergePart, 0, len(latest))
	for _, p := range latest {
		parts = append(parts, p)
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].submittedAt.Before(parts[j].submittedAt) })

	var order []string
	merged := make(map[string]Field)
	for _, p := range parts {
		for _, f := range p.doc.Fields {
			if _, seen := merged[f.Label]; !seen {
				order = append(order, f.Label)
				merged[f.Label] = Field{Label: f.Label}
			}
			if f.Provided && f.Value != "" {
				merged[f.Label] = Field{Label: f.Label, Value: f.Value, Provided: true}
			}
		}
	}

	fields := make([]Field, 0, len(order))
	model := make(map[string]any, len(order))
	for _, label := range order {
		f := merged[label]
		fields = append(fields, f)
		if f.Provided {
			model[label] = f.Value
		}
	}

	mergedAt := m.now().Format("20060102150405")
	formKey := baseFormKey + "__merged"
	name := fmt.Sprintf("%s__merged_%s.json", baseFormKey, mergedAt)
	partNames := make([]string, 0, len(parts))
	for _, p := range parts {
		partNames = append(partNames, p.name)
	}

	doc := map[string]any{
		"form_key":  formKey,
		"merged_at": mergedAt,
		"parts":     partNames,
		"fields":    fields,
		"model":     model,
	}
	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	key := prefix + "/" + name
	if _, err := m.storage.UploadReader(ctx, bytes.NewReader(payload), key, "application/json", int64(len(payload))); err != nil {
		return nil, &PersistenceError{Op: "merged artifact write", Err: err}
	}

	return &MergeResult{
		FileID:   key,
		Name:     name,
		FormKey:  formKey,
		MergedAt: mergedAt,
		Parts:    partNames,
	}, nil
}

func (m *MultiPartMerger) readDoc(ctx context.Context, key string) (*artifactDoc, error) {
	rc, err := m.storage.Get(ctx, key)
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
	return &doc, nil
}

func matchPartPrefix(name string, parts []string) string {
	for _, p := range parts {
		if strings.HasPrefix(name, p+"__") {
			return p
		}
	}
	return ""
}

// submissionTime parses the recorded submission timestamp, falling back to
// the artifact's storage modification time.
func submissionTime(submittedAt string, fallback time.Time) time.Time {
	s := strings.TrimSpace(submittedAt)
	layouts := []string{
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006/01/02 15:04:05",
		"20060102150405",
		"2006-01-02",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return fallback
}
