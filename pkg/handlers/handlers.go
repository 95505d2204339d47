// Package handlers exposes the pipeline over HTTP.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"scan-comply/pkg/models"
	"scan-comply/pkg/services/compliance"
	"scan-comply/pkg/services/ocr"
	"scan-comply/pkg/services/pipeline"
	"scan-comply/pkg/store"
)

const (
	DefaultMaxUploadBytes = 20 << 20
	MaxBatchIdentifiers   = 500
	requestIDHeader       = "X-Request-ID"
)

// Verifier resolves business identifiers.
type Verifier interface {
	Verify(ctx context.Context, identifier string) models.EntityVerification
	VerifyBatch(ctx context.Context, identifiers []string) map[string]models.EntityVerification
}

// InvoiceStore is the read side of the record store plus draft creation.
type InvoiceStore interface {
	Create(ctx context.Context, inv *models.Invoice) error
	Get(ctx context.Context, id uint) (*models.Invoice, error)
	List(ctx context.Context, opts store.ListOptions) ([]models.Invoice, error)
}

// JobRunner processes a document for a stored invoice.
type JobRunner interface {
	Run(ctx context.Context, invoiceID uint, doc []byte, fileName string, opts pipeline.Options) (*pipeline.JobResult, error)
}

// Deps are the collaborators behind the routes. Invoices and Job may be nil
// when no record store is configured; the record routes then answer 503.
type Deps struct {
	Processor pipeline.Processor
	Verifier  Verifier
	Validator pipeline.Validator
	Invoices  InvoiceStore
	Job       JobRunner
	Defaults  pipeline.Options
	Gatherer  prometheus.Gatherer
	Logger    *zap.Logger
	MaxUpload int64
}

type Handler struct {
	Deps
}

func New(d Deps) *Handler {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.MaxUpload <= 0 {
		d.MaxUpload = DefaultMaxUploadBytes
	}
	return &Handler{Deps: d}
}

// Router builds a gin engine with every route registered.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), h.requestLogger())
	h.Register(r)
	return r
}

func (h *Handler) Register(r gin.IRouter) {
	r.GET("/healthz", h.health)
	if h.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.Gatherer, promhttp.HandlerOpts{})))
	}

	r.POST("/documents/process", h.processDocument)

	r.POST("/entities/verify", h.verifyEntity)
	r.POST("/entities/verify/batch", h.verifyBatch)

	r.POST("/invoices", h.createInvoice)
	r.GET("/invoices", h.listInvoices)
	r.GET("/invoices/:id", h.getInvoice)
	r.POST("/invoices/:id/validate", h.revalidateInvoice)
	r.POST("/invoices/validate", h.validateInvoice)
	r.POST("/invoices/autofix", h.autoFixInvoice)
}

func ok(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{"success": true, "data": data})
}

func fail(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"success": false, "error": msg})
}

// statusFor maps pipeline and store errors onto HTTP status codes.
func statusFor(err error) int {
	var re *ocr.RecognitionError
	switch {
	case errors.Is(err, ocr.ErrEmptyDocument):
		return http.StatusBadRequest
	case errors.Is(err, ocr.ErrUnsupportedDocument):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidTransition):
		return http.StatusConflict
	case errors.As(err, &re):
		if re.Category == ocr.ErrorBadInput {
			return http.StatusUnprocessableEntity
		}
		if re.Retryable() {
			return http.StatusServiceUnavailable
		}
	}
	return http.StatusInternalServerError
}

func (h *Handler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(requestIDHeader, id)
		c.Next()
		h.Logger.Info("request",
			zap.String("request_id", id),
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()))
	}
}

func (h *Handler) health(c *gin.Context) {
	ok(c, http.StatusOK, gin.H{"status": "ok", "recordStore": h.Invoices != nil})
}

// upload reads the multipart "file" field.
func (h *Handler) upload(c *gin.Context) ([]byte, string, bool) {
	fh, err := c.FormFile("file")
	if err != nil {
		fail(c, http.StatusBadRequest, "missing multipart field \"file\"")
		return nil, "", false
	}
	if fh.Size > h.MaxUpload {
		fail(c, http.StatusRequestEntityTooLarge, fmt.Sprintf("file exceeds %d bytes", h.MaxUpload))
		return nil, "", false
	}
	f, err := fh.Open()
	if err != nil {
		fail(c, http.StatusBadRequest, "cannot read upload")
		return nil, "", false
	}
	defer f.Close()
	doc, err := io.ReadAll(io.LimitReader(f, h.MaxUpload))
	if err != nil {
		fail(c, http.StatusBadRequest, "cannot read upload")
		return nil, "", false
	}
	return doc, fh.Filename, true
}

// options starts from the configured defaults and applies any form
// overrides.
func (h *Handler) options(c *gin.Context) (pipeline.Options, bool) {
	opts := h.Defaults
	if v, set := c.GetPostForm("enableTemplateMatching"); set {
		b, err := strconv.ParseBool(v)
		if err != nil {
			fail(c, http.StatusBadRequest, "enableTemplateMatching must be a boolean")
			return opts, false
		}
		opts.EnableTemplateMatching = b
	}
	if v, set := c.GetPostForm("minConfidence"); set {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 || f > 1 {
			fail(c, http.StatusBadRequest, "minConfidence must be a number in [0,1]")
			return opts, false
		}
		opts.MinConfidence = f
	}
	return opts, true
}

func (h *Handler) processDocument(c *gin.Context) {
	doc, name, good := h.upload(c)
	if !good {
		return
	}
	opts, good := h.options(c)
	if !good {
		return
	}
	res, err := h.Processor.Process(c.Request.Context(), doc, name, opts)
	if err != nil {
		fail(c, statusFor(err), err.Error())
		return
	}
	ok(c, http.StatusOK, res)
}

type verifyRequest struct {
	Identifier string `json:"identifier" binding:"required"`
}

func (h *Handler) verifyEntity(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	ok(c, http.StatusOK, h.Verifier.Verify(c.Request.Context(), req.Identifier))
}

type verifyBatchRequest struct {
	Identifiers []string `json:"identifiers" binding:"required,min=1"`
}

func (h *Handler) verifyBatch(c *gin.Context) {
	var req verifyBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Identifiers) > MaxBatchIdentifiers {
		fail(c, http.StatusBadRequest, fmt.Sprintf("at most %d identifiers per batch", MaxBatchIdentifiers))
		return
	}
	ok(c, http.StatusOK, h.Verifier.VerifyBatch(c.Request.Context(), req.Identifiers))
}

type validateRequest struct {
	Invoice *models.ExtractedInvoice `json:"invoice" binding:"required"`
}

func (h *Handler) validateInvoice(c *gin.Context) {
	var req validateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	ok(c, http.StatusOK, h.Validator.Validate(c.Request.Context(), *req.Invoice))
}

type autoFixRequest struct {
	Invoice    *models.ExtractedInvoice `json:"invoice" binding:"required"`
	Validation *models.ValidationResult `json:"validation"`
}

// autoFixInvoice applies the fixes in validation, validating first when the
// caller sent none. The revised invoice is validated again for the reply.
func (h *Handler) autoFixInvoice(c *gin.Context) {
	var req autoFixRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	ctx := c.Request.Context()
	if req.Validation == nil {
		v := h.Validator.Validate(ctx, *req.Invoice)
		req.Validation = &v
	}
	fixed := compliance.AutoFix(*req.Invoice, *req.Validation)
	ok(c, http.StatusOK, gin.H{
		"invoice":    fixed,
		"validation": h.Validator.Validate(ctx, fixed),
	})
}

func (h *Handler) requireStore(c *gin.Context) bool {
	if h.Invoices == nil || h.Job == nil {
		fail(c, http.StatusServiceUnavailable, "record store is not configured")
		return false
	}
	return true
}

func (h *Handler) createInvoice(c *gin.Context) {
	if !h.requireStore(c) {
		return
	}
	doc, name, good := h.upload(c)
	if !good {
		return
	}
	opts, good := h.options(c)
	if !good {
		return
	}

	ctx := c.Request.Context()
	inv := &models.Invoice{FileName: name, Status: models.StatusDraft}
	if err := h.Invoices.Create(ctx, inv); err != nil {
		h.Logger.Error("create invoice failed", zap.Error(err))
		fail(c, http.StatusInternalServerError, "could not create invoice record")
		return
	}

	res, err := h.Job.Run(ctx, inv.ID, doc, name, opts)
	if err != nil {
		c.AbortWithStatusJSON(statusFor(err), gin.H{"success": false, "error": err.Error(), "invoiceId": inv.ID})
		return
	}
	record, err := h.Invoices.Get(ctx, inv.ID)
	if err != nil {
		fail(c, statusFor(err), err.Error())
		return
	}
	ok(c, http.StatusCreated, gin.H{
		"invoice":    record,
		"extraction": res.Extraction,
		"validation": res.Validation,
	})
}

func (h *Handler) listInvoices(c *gin.Context) {
	if h.Invoices == nil {
		fail(c, http.StatusServiceUnavailable, "record store is not configured")
		return
	}
	opts := store.ListOptions{Status: models.Status(c.Query("status"))}
	for key, dst := range map[string]*int{"limit": &opts.Limit, "offset": &opts.Offset} {
		if v := c.Query(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				fail(c, http.StatusBadRequest, key+" must be a non-negative integer")
				return
			}
			*dst = n
		}
	}
	invoices, err := h.Invoices.List(c.Request.Context(), opts)
	if err != nil {
		fail(c, statusFor(err), err.Error())
		return
	}
	ok(c, http.StatusOK, invoices)
}

// storedInvoice loads the invoice named by the :id path parameter.
func (h *Handler) storedInvoice(c *gin.Context) (*models.Invoice, bool) {
	if h.Invoices == nil {
		fail(c, http.StatusServiceUnavailable, "record store is not configured")
		return nil, false
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		fail(c, http.StatusBadRequest, "invalid invoice id")
		return nil, false
	}
	inv, err := h.Invoices.Get(c.Request.Context(), uint(id))
	if err != nil {
		fail(c, statusFor(err), err.Error())
		return nil, false
	}
	return inv, true
}

func (h *Handler) getInvoice(c *gin.Context) {
	inv, good := h.storedInvoice(c)
	if !good {
		return
	}
	ok(c, http.StatusOK, inv)
}

// revalidateInvoice checks a stored invoice again, picking up registry
// changes since it was processed. The stored record is not modified.
func (h *Handler) revalidateInvoice(c *gin.Context) {
	inv, good := h.storedInvoice(c)
	if !good {
		return
	}
	ok(c, http.StatusOK, h.Validator.Validate(c.Request.Context(), inv.ToExtracted()))
}
