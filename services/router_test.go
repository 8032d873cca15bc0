package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"testing"
	"time"

	"intake_flow_go/models"
	"intake_flow_go/tabular"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ingestSecret = "shared-ingest-secret"

type routerRig struct {
	router  *SubmissionRouter
	ledger  *CaseLedger
	wb      *tabular.Workbook
	storage StorageProvider
	theCase *models.Case
}

func newRouterRig(t *testing.T) *routerRig {
	t.Helper()
	wb := tabular.NewWorkbook()
	storage := NewLocalStorage(t.TempDir())
	ledger := NewCaseLedger(wb, storage)
	contacts := NewContactRegistry(wb)

	c, err := ledger.IssueCaseID("ab12cd", "U-1")
	require.NoError(t, err)
	_, err = ledger.EnsureCaseFolder(context.Background(), c.UserKey, c.CaseID)
	require.NoError(t, err)

	router := NewSubmissionRouter(ingestSecret, NewMapperRegistry(), ledger, contacts, wb, storage, nil)
	return &routerRig{router: router, ledger: ledger, wb: wb, storage: storage, theCase: c}
}

func mailBody(secret, formKey, submissionID, caseID string, fields string) string {
	return fmt.Sprintf(`==== META START ====
form_name: Test Form
form_key: %s
secret: %s
submission_id: %s
case_id: %s
submitted_at: 2026-05-01 12:34:56
seq: 1
==== META END ====
==== FIELDS START ====
%s==== FIELDS END ====
`, formKey, secret, submissionID, caseID, fields)
}

func TestIngestHappyPath(t *testing.T) {
	rig := newRouterRig(t)
	body := mailBody(ingestSecret, "s2006_creditors_public", "123456", "0001",
		"【item1:name】\nAcme Finance\n【item1:amount】\n1,234円\n")

	res, err := rig.router.Ingest(context.Background(), "notification s2006", body, IngestOptions{})
	require.NoError(t, err)
	assert.Equal(t, "s2006_creditors_public__123456.json", res.Name)
	assert.Equal(t, "ab12cd-0001", res.CaseKey)
	assert.Equal(t, "s2006_creditors_public", res.FormKey)
	assert.False(t, res.Duplicate)

	// Exactly one artifact under the case container
	rc, err := rig.storage.Get(context.Background(), res.FileID)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)

	var doc artifactDoc
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "0001", doc.Meta["case_id"])
	require.Len(t, doc.Fields, 2)
	creditors := doc.Model["creditors"].([]any)
	assert.Len(t, creditors, 1)

	// Exactly one submissions ledger row with status received
	subs, err := rig.router.Submissions()
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, models.SubmissionStatusReceived, subs[0].Status)
	assert.Equal(t, "123456", subs[0].SubmissionID)
	assert.Equal(t, "ab12cd", subs[0].UserKey)

	// Best-effort case patch happened
	c, err := rig.ledger.FindByID("0001")
	require.NoError(t, err)
	assert.Equal(t, "s2006_creditors_public", c.LastFormKey)
	assert.NotEmpty(t, c.LastActivity)
}

func TestIngestDedup(t *testing.T) {
	rig := newRouterRig(t)
	body := mailBody(ingestSecret, "s2006_creditors_public", "123456", "0001", "【a】\n1\n")

	first, err := rig.router.Ingest(context.Background(), "", body, IngestOptions{})
	require.NoError(t, err)
	require.False(t, first.Duplicate)

	second, err := rig.router.Ingest(context.Background(), "", body, IngestOptions{})
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Name, second.Name)

	subs, err := rig.router.Submissions()
	require.NoError(t, err)
	assert.Len(t, subs, 1, "redelivery must not append a second ledger row")
}

func TestIngestInvalidSecret(t *testing.T) {
	rig := newRouterRig(t)
	body := mailBody("wrong-secret", "f1", "123456", "0001", "")

	_, err := rig.router.Ingest(context.Background(), "", body, IngestOptions{})
	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, "auth", stageErr.Stage)
	assert.Contains(t, err.Error(), "Invalid secret")

	// Terminal: no partial writes
	subs, err := rig.router.Submissions()
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestIngestSecretCaseInsensitive(t *testing.T) {
	rig := newRouterRig(t)
	body := mailBody("SHARED-INGEST-SECRET", "f1", "123456", "0001", "")

	_, err := rig.router.Ingest(context.Background(), "", body, IngestOptions{})
	require.NoError(t, err)
}

func TestIngestMissingCaseID(t *testing.T) {
	rig := newRouterRig(t)
	body := mailBody(ingestSecret, "f1", "123456", "", "")

	_, err := rig.router.Ingest(context.Background(), "", body, IngestOptions{})
	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, "resolve", stageErr.Stage)
}

func TestIngestUnknownCase(t *testing.T) {
	rig := newRouterRig(t)
	body := mailBody(ingestSecret, "f1", "123456", "0042", "")

	_, err := rig.router.Ingest(context.Background(), "", body, IngestOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Unknown case_id")
}

func TestIngestNoMetaBlock(t *testing.T) {
	rig := newRouterRig(t)
	_, err := rig.router.Ingest(context.Background(), "", "plain text", IngestOptions{})
	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, "parse", stageErr.Stage)
}

func TestResolveFormKeyPrecedence(t *testing.T) {
	rig := newRouterRig(t)

	// Explicit option wins over meta
	key := rig.router.resolveFormKey("subject", map[string]string{"form_key": "meta_form"}, IngestOptions{FormKey: "Opt_Form"})
	assert.Equal(t, "opt_form", key)

	// Meta wins over subject heuristic
	key = rig.router.resolveFormKey("about s2006", map[string]string{"form_key": "meta_form"}, IngestOptions{})
	assert.Equal(t, "meta_form", key)

	// Subject token matched against registered keys
	key = rig.router.resolveFormKey("[intake] s2006 creditors", nil, IngestOptions{})
	assert.Equal(t, "s2006_creditors_lender", key)

	// Nothing matches
	key = rig.router.resolveFormKey("hello world", nil, IngestOptions{})
	assert.Equal(t, UnknownFormKey, key)
}

func TestNormalizeSubmissionID(t *testing.T) {
	rig := newRouterRig(t)
	rig.router.now = func() time.Time { return time.Date(2026, 5, 1, 12, 34, 56, 0, time.UTC) }

	// Digits of the supplied id when long enough
	assert.Equal(t, "98765", rig.router.normalizeSubmissionID("id-9-8-7-6-5", ""))
	// Too-short id falls back to the timestamp digits
	assert.Equal(t, "20260501123456", rig.router.normalizeSubmissionID("a1", "2026-05-01 12:34:56"))
	// Nothing usable synthesizes a 14-digit timestamp
	assert.Equal(t, "20260501123456", rig.router.normalizeSubmissionID("", ""))
}

func TestIngestUnregisteredFormUsesGenericMapper(t *testing.T) {
	rig := newRouterRig(t)
	body := mailBody(ingestSecret, "z9999_custom", "123456", "0001", "【field_a】\nvalue-a\n")

	res, err := rig.router.Ingest(context.Background(), "", body, IngestOptions{})
	require.NoError(t, err)
	assert.Equal(t, "z9999_custom", res.FormKey)

	rc, err := rig.storage.Get(context.Background(), res.FileID)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	var doc artifactDoc
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "value-a", doc.Model["field_a"])
}
