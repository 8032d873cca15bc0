package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"intake_flow_go/config"
	"intake_flow_go/services"
	"intake_flow_go/tabular"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
)

const (
	testSigningSecret = "webhook-signing-secret"
	testIngestSecret  = "mail-ingest-secret"
)

// testRig holds a fully wired service graph over an in-memory workbook and a
// temp-dir artifact store.
type testRig struct {
	cfg        *config.Config
	wb         *tabular.Workbook
	storage    services.StorageProvider
	gate       *services.AuthGate
	ledger     *services.CaseLedger
	contacts   *services.ContactRegistry
	router     *services.SubmissionRouter
	merger     *services.MultiPartMerger
	reconciler *services.StagingReconciler
	webhook    *WebhookHandler
	ingest     *IngestHandler
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	cfg := &config.Config{
		SigningSecret: testSigningSecret,
		IngestSecret:  testIngestSecret,
		StagingPrefix: "staging",
		EmailTestMode: true,
	}
	wb := tabular.NewWorkbook()
	storage := services.NewLocalStorage(t.TempDir())

	ledger := services.NewCaseLedger(wb, storage)
	contacts := services.NewContactRegistry(wb)
	router := services.NewSubmissionRouter(cfg.IngestSecret, services.NewMapperRegistry(), ledger, contacts, wb, storage, nil)
	merger := services.NewMultiPartMerger(storage)
	reconciler := services.NewStagingReconciler(storage, ledger, wb, cfg.StagingPrefix)
	gate := services.NewAuthGate(cfg.SigningSecret)

	return &testRig{
		cfg:        cfg,
		wb:         wb,
		storage:    storage,
		gate:       gate,
		ledger:     ledger,
		contacts:   contacts,
		router:     router,
		merger:     merger,
		reconciler: reconciler,
		webhook:    NewWebhookHandler(gate, ledger, contacts, reconciler, cfg),
		ingest:     NewIngestHandler(router, merger, nil),
	}
}

func setupEcho(method, path, contentType string, body io.Reader) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set(echo.HeaderContentType, contentType)
	}
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func postForm(handler echo.HandlerFunc, values url.Values) (*httptest.ResponseRecorder, error) {
	c, rec := setupEcho(http.MethodPost, "/", echo.MIMEApplicationForm, strings.NewReader(values.Encode()))
	return rec, handler(c)
}

func postJSON(handler echo.HandlerFunc, payload any) (*httptest.ResponseRecorder, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	c, rec := setupEcho(http.MethodPost, "/", echo.MIMEApplicationJSON, strings.NewReader(string(data)))
	return rec, handler(c)
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}
