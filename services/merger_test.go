package services

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func putArtifact(t *testing.T, storage StorageProvider, key string, doc artifactDoc) {
	t.Helper()
	payload, err := json.MarshalIndent(doc, "", "  ")
	require.NoError(t, err)
	_, err = storage.UploadReader(context.Background(), bytes.NewReader(payload), key, "application/json", int64(len(payload)))
	require.NoError(t, err)
}

func partDoc(submittedAt string, fields ...Field) artifactDoc {
	return artifactDoc{
		Meta:   map[string]string{"submitted_at": submittedAt},
		Fields: fields,
	}
}

func TestMergeChronologicalPrecedence(t *testing.T) {
	storage := NewLocalStorage(t.TempDir())
	m := NewMultiPartMerger(storage)
	m.now = func() time.Time { return time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC) }

	caseKey := "ab12cd-0001"
	// Part A submitted first, part B later with a blank x and a new y.
	putArtifact(t, storage, "cases/"+caseKey+"/s3001_assets_a__111.json", partDoc("2026-05-01 09:00:00",
		Field{Label: "x", Value: "1", Provided: true},
	))
	putArtifact(t, storage, "cases/"+caseKey+"/s3001_assets_b__222.json", partDoc("2026-05-01 09:30:00",
		Field{Label: "x", Value: "", Provided: true},
		Field{Label: "y", Value: "2", Provided: true},
	))

	res, err := m.Merge(context.Background(), caseKey, "s3001_assets", []string{"s3001_assets_a", "s3001_assets_b"})
	require.NoError(t, err)
	assert.Equal(t, "s3001_assets__merged", res.FormKey)
	assert.Equal(t, "s3001_assets__merged_20260501100000.json", res.Name)
	assert.Equal(t, []string{"s3001_assets_a__111.json", "s3001_assets_b__222.json"}, res.Parts)

	rc, err := storage.Get(context.Background(), res.FileID)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)

	var doc struct {
		Model map[string]any `json:"model"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	// The later blank x must not clobber the earlier value.
	assert.Equal(t, map[string]any{"x": "1", "y": "2"}, doc.Model)
}

func TestMergeLaterValueOverwrites(t *testing.T) {
	storage := NewLocalStorage(t.TempDir())
	m := NewMultiPartMerger(storage)

	caseKey := "ab12cd-0001"
	putArtifact(t, storage, "cases/"+caseKey+"/fa__1.json", partDoc("2026-05-01 09:00:00",
		Field{Label: "x", Value: "old", Provided: true},
	))
	putArtifact(t, storage, "cases/"+caseKey+"/fb__2.json", partDoc("2026-05-01 09:30:00",
		Field{Label: "x", Value: "new", Provided: true},
	))

	res, err := m.Merge(context.Background(), caseKey, "f", []string{"fa", "fb"})
	require.NoError(t, err)

	rc, err := storage.Get(context.Background(), res.FileID)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	var doc struct {
		Model map[string]any `json:"model"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "new", doc.Model["x"])
}

func TestMergePicksLatestResubmission(t *testing.T) {
	storage := NewLocalStorage(t.TempDir())
	m := NewMultiPartMerger(storage)

	caseKey := "ab12cd-0001"
	// Two artifacts of the same part: the resubmission wins.
	putArtifact(t, storage, "cases/"+caseKey+"/fa__1.json", partDoc("2026-05-01 09:00:00",
		Field{Label: "x", Value: "first", Provided: true},
	))
	putArtifact(t, storage, "cases/"+caseKey+"/fa__2.json", partDoc("2026-05-01 11:00:00",
		Field{Label: "x", Value: "resubmitted", Provided: true},
	))
	putArtifact(t, storage, "cases/"+caseKey+"/fb__3.json", partDoc("2026-05-01 10:00:00",
		Field{Label: "y", Value: "b", Provided: true},
	))

	res, err := m.Merge(context.Background(), caseKey, "f", []string{"fa", "fb"})
	require.NoError(t, err)

	rc, err := storage.Get(context.Background(), res.FileID)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	var doc struct {
		Model map[string]any `json:"model"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "resubmitted", doc.Model["x"])
	assert.Equal(t, "b", doc.Model["y"])
}

func TestMergeIncomplete(t *testing.T) {
	storage := NewLocalStorage(t.TempDir())
	m := NewMultiPartMerger(storage)

	caseKey := "ab12cd-0001"
	putArtifact(t, storage, "cases/"+caseKey+"/fa__1.json", partDoc("2026-05-01 09:00:00",
		Field{Label: "x", Value: "1", Provided: true},
	))

	_, err := m.Merge(context.Background(), caseKey, "f", []string{"fa", "fb"})
	require.ErrorIs(t, err, ErrIncomplete)
	assert.Contains(t, err.Error(), "fb")

	// Incompleteness writes nothing.
	objects, err := storage.List(context.Background(), "cases/"+caseKey+"/")
	require.NoError(t, err)
	assert.Len(t, objects, 1)
}

func TestMergeIgnoresPriorMergedArtifacts(t *testing.T) {
	storage := NewLocalStorage(t.TempDir())
	m := NewMultiPartMerger(storage)

	caseKey := "ab12cd-0001"
	putArtifact(t, storage, "cases/"+caseKey+"/fa__1.json", partDoc("2026-05-01 09:00:00",
		Field{Label: "x", Value: "1", Provided: true},
	))
	putArtifact(t, storage, "cases/"+caseKey+"/fb__2.json", partDoc("2026-05-01 09:10:00",
		Field{Label: "y", Value: "2", Provided: true},
	))
	// A previous merge output must never feed back into the next merge.
	putArtifact(t, storage, "cases/"+caseKey+"/f__merged_20260430000000.json", partDoc("2026-04-30 00:00:00",
		Field{Label: "stale", Value: "stale", Provided: true},
	))

	res, err := m.Merge(context.Background(), caseKey, "f", []string{"fa", "fb"})
	require.NoError(t, err)
	assert.Equal(t, []string{"fa__1.json", "fb__2.json"}, res.Parts)
}

func TestSubmissionTimeFallback(t *testing.T) {
	fallback := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, fallback, submissionTime("not a timestamp", fallback))
	assert.Equal(t, fallback, submissionTime("", fallback))

	got := submissionTime("2026-05-01 09:00:00", fallback)
	assert.Equal(t, time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC), got)
}
