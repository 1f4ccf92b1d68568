// Package server exposes the custody core over HTTP: record ingestion,
// chain and tamper-log verification, and batch correlation.
package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/evidentia-labs/custodian/internal/correlate"
	"github.com/evidentia-labs/custodian/internal/custody"
	"github.com/evidentia-labs/custodian/internal/ingest"
	"github.com/evidentia-labs/custodian/internal/tamperlog"
	"github.com/evidentia-labs/custodian/pkg/record"
)

// Handler holds the wired custody components behind the HTTP surface.
type Handler struct {
	pipeline *ingest.Pipeline
	ledger   custody.Ledger
	log      *tamperlog.Log
	logger   *zap.Logger
}

// NewHandler creates a Handler.
func NewHandler(pipeline *ingest.Pipeline, ledger custody.Ledger, log *tamperlog.Log, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{pipeline: pipeline, ledger: ledger, log: log, logger: logger}
}

// Register mounts all routes on the given router group.
func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.POST("/records", h.IngestRecord)

	l := rg.Group("/ledger")
	{
		l.GET("", h.LedgerOverview)
		l.GET("/verify", h.LedgerVerify)
		l.GET("/blocks/:idx", h.GetBlock)
	}

	rg.GET("/log/verify", h.LogVerify)
	rg.POST("/correlate", h.Correlate)
}

// IngestRecord handles POST /v1/records — accepts one standardized record,
// runs it through the full custody pipeline, and returns the finalized
// record plus any live events.
func (h *Handler) IngestRecord(c *gin.Context) {
	var rec record.StandardRecord
	if err := c.ShouldBindJSON(&rec); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid record payload"})
		return
	}
	if rec.AgentID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "agent_id is required"})
		return
	}

	final, events, err := h.pipeline.IngestRecord(c.Request.Context(), rec)
	if err != nil {
		h.logger.Error("ingest record", zap.Error(err))
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"record": final,
		"events": events,
	})
}

// LedgerOverview handles GET /v1/ledger — chain length and current root.
func (h *Handler) LedgerOverview(c *gin.Context) {
	ctx := c.Request.Context()

	count, err := h.ledger.Len(ctx)
	if err != nil {
		h.logger.Error("ledger Len", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query ledger"})
		return
	}
	root, err := h.ledger.Root(ctx)
	if err != nil {
		h.logger.Error("ledger Root", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query chain root"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"blocks": count,
		"root":   root,
	})
}

// LedgerVerify handles GET /v1/ledger/verify — walks the full chain. A
// broken chain is reported with 200, not an error status: tampering is an
// expected validation outcome, not a server fault.
func (h *Handler) LedgerVerify(c *gin.Context) {
	valid, err := h.ledger.Verify(c.Request.Context())
	if err != nil {
		h.logger.Error("ledger Verify", zap.Error(err))
		chainVerificationsTotal.WithLabelValues("error").Inc()
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read chain"})
		return
	}
	if valid {
		chainVerificationsTotal.WithLabelValues("valid").Inc()
	} else {
		chainVerificationsTotal.WithLabelValues("invalid").Inc()
		h.logger.Warn("custody chain integrity check failed")
	}
	c.JSON(http.StatusOK, gin.H{"valid": valid})
}

// GetBlock handles GET /v1/ledger/blocks/:idx.
func (h *Handler) GetBlock(c *gin.Context) {
	idx, err := strconv.Atoi(c.Param("idx"))
	if err != nil || idx < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "idx must be a non-negative integer"})
		return
	}

	b, err := h.ledger.Get(c.Request.Context(), idx)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "block not found"})
		return
	}
	c.JSON(http.StatusOK, b)
}

// LogVerify handles GET /v1/log/verify — re-digests every tamper-log entry
// and reports the 1-based failing indices.
func (h *Handler) LogVerify(c *gin.Context) {
	failing := h.log.Verify()
	if failing == nil {
		failing = []int{}
	}
	c.JSON(http.StatusOK, gin.H{
		"entries":         h.log.Len(),
		"failing_indices": failing,
		"intact":          len(failing) == 0,
	})
}

type correlateRequest struct {
	Streams   map[string][]record.StandardRecord `json:"streams"`
	WindowMS  int64                              `json:"window_ms"`
	MaxXYDist float64                            `json:"max_xy_dist"`
}

// Correlate handles POST /v1/correlate — batch windowed join over the
// submitted finalized streams. When streams is omitted, the live session's
// accumulated streams are used at the current cut line.
func (h *Handler) Correlate(c *gin.Context) {
	var req correlateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid correlate request"})
		return
	}
	if req.WindowMS <= 0 {
		req.WindowMS = 50
	}
	if req.MaxXYDist <= 0 {
		req.MaxXYDist = 2.0
	}
	if req.Streams == nil {
		req.Streams = h.pipeline.Streams()
	}

	events, err := correlate.Correlate(req.Streams, req.WindowMS, req.MaxXYDist)
	if err != nil {
		h.logger.Error("correlate", zap.Error(err))
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	if events == nil {
		events = []correlate.Event{}
	}
	c.JSON(http.StatusOK, gin.H{
		"count":  len(events),
		"events": events,
	})
}
