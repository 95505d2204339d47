package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scan-comply/pkg/metrics"
	"scan-comply/pkg/models"
	"scan-comply/pkg/services/compliance"
	"scan-comply/pkg/services/entity"
	"scan-comply/pkg/services/ocr"
	"scan-comply/pkg/services/pipeline"
	"scan-comply/pkg/store"
)

const blockDump = `{"blocks":[
 {"id":"w1","blockType":"WORD","text":"Invoice","confidence":99},
 {"id":"w2","blockType":"WORD","text":"No:","confidence":99},
 {"id":"w3","blockType":"WORD","text":"INV-42","confidence":99},
 {"id":"w4","blockType":"WORD","text":"Total:","confidence":99},
 {"id":"w5","blockType":"WORD","text":"109.00","confidence":99},
 {"id":"k1","blockType":"KEY_VALUE_SET","entityTypes":["KEY"],"relationships":[{"type":"CHILD","ids":["w1","w2"]},{"type":"VALUE","ids":["v1"]}]},
 {"id":"v1","blockType":"KEY_VALUE_SET","entityTypes":["VALUE"],"relationships":[{"type":"CHILD","ids":["w3"]}]},
 {"id":"k2","blockType":"KEY_VALUE_SET","entityTypes":["KEY"],"relationships":[{"type":"CHILD","ids":["w4"]},{"type":"VALUE","ids":["v2"]}]},
 {"id":"v2","blockType":"KEY_VALUE_SET","entityTypes":["VALUE"],"relationships":[{"type":"CHILD","ids":["w5"]}]}
]}`

// memStore is an in-memory record store.
type memStore struct {
	mu   sync.Mutex
	next uint
	rows map[uint]models.Invoice
}

func newMemStore() *memStore {
	return &memStore{rows: map[uint]models.Invoice{}}
}

func (s *memStore) Create(_ context.Context, inv *models.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	inv.ID = s.next
	s.rows[inv.ID] = *inv
	return nil
}

func (s *memStore) Get(_ context.Context, id uint) (*models.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.rows[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", store.ErrNotFound, id)
	}
	return &inv, nil
}

func (s *memStore) List(_ context.Context, opts store.ListOptions) ([]models.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Invoice{}
	for _, inv := range s.rows {
		if opts.Status == "" || inv.Status == opts.Status {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *memStore) UpdateStatus(_ context.Context, id uint, to models.Status, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.rows[id]
	if !ok {
		return store.ErrNotFound
	}
	if err := models.CheckTransition(inv.Status, to); err != nil {
		return err
	}
	inv.Status = to
	inv.LastError = lastError
	s.rows[id] = inv
	return nil
}

func (s *memStore) SaveExtraction(_ context.Context, id uint, ex store.Extraction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv := s.rows[id]
	inv.ApplyExtracted(ex.Invoice)
	inv.Provider = ex.Provider
	inv.Confidence = ex.Confidence
	if ex.Validation != nil {
		inv.ComplianceScore = ex.Validation.Score
		inv.Compliant = ex.Validation.IsValid
	}
	s.rows[id] = inv
	return nil
}

type envelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Error     string          `json:"error"`
	InvoiceID uint            `json:"invoiceId"`
}

type fixture struct {
	router *gin.Engine
	store  *memStore
}

func newFixture(t *testing.T, withStore bool) fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	now := func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) }
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	verifier := entity.NewVerifier(entity.WithClock(now), entity.WithMetrics(m), entity.WithBatching(10, 0))
	validator := compliance.NewValidator(verifier, compliance.WithClock(now), compliance.WithMetrics(m))
	orchestrator := pipeline.NewOrchestrator(ocr.NewRouter(nil), pipeline.WithMetrics(m))

	deps := Deps{
		Processor: orchestrator,
		Verifier:  verifier,
		Validator: validator,
		Defaults:  pipeline.Options{EnableTemplateMatching: true, MinConfidence: 0.6},
		Gatherer:  reg,
	}
	f := fixture{}
	if withStore {
		f.store = newMemStore()
		deps.Invoices = f.store
		deps.Job = pipeline.NewJob(orchestrator, validator, f.store, nil)
	}
	f.router = New(deps).Router()
	return f
}

func (f fixture) do(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w, env
}

func uploadRequest(t *testing.T, path, fileName string, content []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if fileName != "" {
		fw, err := mw.CreateFormFile("file", fileName)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func jsonRequest(t *testing.T, path string, payload any) *http.Request {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t, false)

	w, env := f.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, env.Success)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	f.do(t, jsonRequest(t, "/entities/verify", gin.H{"identifier": "201912345A"}))
	w, _ = f.do(t, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "scan_comply_verification_cache_total")
}

func TestProcessDocument(t *testing.T) {
	f := newFixture(t, false)

	t.Run("block dump", func(t *testing.T) {
		w, env := f.do(t, uploadRequest(t, "/documents/process", "scan.json", []byte(blockDump),
			map[string]string{"minConfidence": "0.1"}))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.True(t, env.Success)

		var res pipeline.Result
		require.NoError(t, json.Unmarshal(env.Data, &res))
		assert.Equal(t, "blocks", res.Provider)
		assert.Equal(t, "INV-42", res.ExtractedInvoice.InvoiceNumber)
		require.NotNil(t, res.ExtractedInvoice.TotalAmount)
		assert.Equal(t, 109.0, *res.ExtractedInvoice.TotalAmount)
		assert.Contains(t, res.Warnings, "could not extract lineItems")
	})

	cases := []struct {
		name   string
		req    func(t *testing.T) *http.Request
		status int
	}{
		{"missing file", func(t *testing.T) *http.Request {
			return uploadRequest(t, "/documents/process", "", nil, nil)
		}, http.StatusBadRequest},
		{"empty file", func(t *testing.T) *http.Request {
			return uploadRequest(t, "/documents/process", "scan.pdf", nil, nil)
		}, http.StatusBadRequest},
		{"no image engine", func(t *testing.T) *http.Request {
			return uploadRequest(t, "/documents/process", "scan.png", []byte{0x89, 'P', 'N', 'G'}, nil)
		}, http.StatusUnsupportedMediaType},
		{"malformed dump", func(t *testing.T) *http.Request {
			return uploadRequest(t, "/documents/process", "scan.json", []byte(`{"blocks":`), nil)
		}, http.StatusUnprocessableEntity},
		{"bad option", func(t *testing.T) *http.Request {
			return uploadRequest(t, "/documents/process", "scan.json", []byte(blockDump), map[string]string{"minConfidence": "high"})
		}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w, env := f.do(t, tc.req(t))
			assert.Equal(t, tc.status, w.Code)
			assert.False(t, env.Success)
			assert.NotEmpty(t, env.Error)
		})
	}
}

func TestVerifyEntities(t *testing.T) {
	f := newFixture(t, false)

	w, env := f.do(t, jsonRequest(t, "/entities/verify", gin.H{"identifier": "2019-12345-a"}))
	require.Equal(t, http.StatusOK, w.Code)
	var r models.EntityVerification
	require.NoError(t, json.Unmarshal(env.Data, &r))
	assert.Equal(t, "ACME SOLUTIONS PTE. LTD.", r.EntityName)

	w, _ = f.do(t, jsonRequest(t, "/entities/verify", gin.H{}))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env = f.do(t, jsonRequest(t, "/entities/verify/batch", gin.H{"identifiers": []string{"201912345A", "bad", "53312345D"}}))
	require.Equal(t, http.StatusOK, w.Code)
	var batch map[string]models.EntityVerification
	require.NoError(t, json.Unmarshal(env.Data, &batch))
	assert.Len(t, batch, 3)
	assert.False(t, batch["bad"].IsValid)
	assert.True(t, batch["53312345D"].Exists)

	w, _ = f.do(t, jsonRequest(t, "/entities/verify/batch", gin.H{"identifiers": []string{}}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestValidateAndAutoFix(t *testing.T) {
	f := newFixture(t, false)
	inv := models.ExtractedInvoice{
		InvoiceNumber:   "INV-2024-001",
		InvoiceDate:     "2024-05-01",
		DueDate:         "2024-05-31",
		Currency:        "SGD",
		CustomerName:    "Singapore Widgets Limited",
		CustomerUEN:     "199801234K",
		VendorName:      "Acme Solutions Pte. Ltd.",
		VendorUEN:       "201912345A",
		VendorGSTNumber: "M90312345A",
		Subtotal:        models.Float(100),
		TaxAmount:       models.Float(9),
		TotalAmount:     models.Float(108),
		LineItems: []models.LineItem{
			{Description: "Widget A", Quantity: 2, UnitPrice: 50, Amount: 100, TaxCategory: "SR"},
		},
	}

	w, env := f.do(t, jsonRequest(t, "/invoices/validate", gin.H{"invoice": inv}))
	require.Equal(t, http.StatusOK, w.Code)
	var res models.ValidationResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.False(t, res.IsValid)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, compliance.CodeTotalMismatch, res.Errors[0].Code)
	assert.Equal(t, "totalAmount", res.Errors[0].Field)

	w, env = f.do(t, jsonRequest(t, "/invoices/autofix", gin.H{"invoice": inv, "validation": res}))
	require.Equal(t, http.StatusOK, w.Code)
	var fixed struct {
		Invoice    models.ExtractedInvoice `json:"invoice"`
		Validation models.ValidationResult `json:"validation"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &fixed))
	require.NotNil(t, fixed.Invoice.TotalAmount)
	assert.Equal(t, 109.0, *fixed.Invoice.TotalAmount)
	assert.True(t, fixed.Validation.IsValid)

	w, _ = f.do(t, jsonRequest(t, "/invoices/validate", gin.H{}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestInvoiceRecords(t *testing.T) {
	f := newFixture(t, true)

	w, env := f.do(t, uploadRequest(t, "/invoices", "scan.json", []byte(blockDump), nil))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created struct {
		Invoice    models.Invoice          `json:"invoice"`
		Validation models.ValidationResult `json:"validation"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.Equal(t, models.StatusSubmitted, created.Invoice.Status)
	assert.Equal(t, "INV-42", created.Invoice.InvoiceNumber)
	assert.False(t, created.Validation.IsValid)

	w, _ = f.do(t, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/invoices/%d", created.Invoice.ID), nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w, env = f.do(t, httptest.NewRequest(http.MethodPost, fmt.Sprintf("/invoices/%d/validate", created.Invoice.ID), nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var again models.ValidationResult
	require.NoError(t, json.Unmarshal(env.Data, &again))
	assert.Equal(t, created.Validation.Score, again.Score)
	assert.Equal(t, codes(created.Validation.Errors), codes(again.Errors))

	w, env = f.do(t, uploadRequest(t, "/invoices", "scan.png", []byte{0x89, 'P', 'N', 'G'}, nil))
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
	require.NotZero(t, env.InvoiceID)
	failed, err := f.store.Get(context.Background(), env.InvoiceID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, failed.Status)

	w, env = f.do(t, httptest.NewRequest(http.MethodGet, "/invoices?status=submitted", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var list []models.Invoice
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Len(t, list, 1)

	w, _ = f.do(t, httptest.NewRequest(http.MethodGet, "/invoices?limit=-1", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = f.do(t, httptest.NewRequest(http.MethodGet, "/invoices/999", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	w, _ = f.do(t, httptest.NewRequest(http.MethodGet, "/invoices/abc", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = f.do(t, httptest.NewRequest(http.MethodPost, "/invoices/999/validate", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func codes(issues []models.ValidationIssue) []string {
	out := make([]string, 0, len(issues))
	for _, i := range issues {
		out = append(out, i.Code)
	}
	return out
}

func TestInvoiceRecords_NoStore(t *testing.T) {
	f := newFixture(t, false)

	w, env := f.do(t, uploadRequest(t, "/invoices", "scan.json", []byte(blockDump), nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.False(t, env.Success)

	w, _ = f.do(t, httptest.NewRequest(http.MethodGet, "/invoices", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
