// Package server exposes the audit ledger's append and verify operations
// over HTTP for platform subsystems that do not link the Go package
// directly. All integrity fields remain server-computed; the API accepts
// only the descriptive fields of an entry.
package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/evidentsec/auditledger/pkg/ledger"
)

// Handler serves the ledger HTTP API.
type Handler struct {
	writer *ledger.Writer
	store  ledger.Store
	keys   ledger.KeySource
	logger *zap.Logger
}

// NewHandler creates a Handler over the given writer, store, and key source.
func NewHandler(writer *ledger.Writer, store ledger.Store, keys ledger.KeySource, logger *zap.Logger) *Handler {
	return &Handler{writer: writer, store: store, keys: keys, logger: logger}
}

// Register mounts the ledger routes on the given router group.
func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.POST("/entries", h.AppendEntry)
	rg.GET("/verify", h.Verify)
	rg.GET("/ledger", h.Overview)
}

// appendRequest is the write API payload. Integrity fields (entry_id,
// timestamp, prev_entry_hash, entry_hash, signature, signing_key_id) are
// deliberately absent: they are always computed by the writer.
type appendRequest struct {
	Component           string         `json:"component" binding:"required"`
	ComponentInstanceID string         `json:"component_instance_id" binding:"required"`
	ActionType          string         `json:"action_type" binding:"required"`
	Subject             ledger.Subject `json:"subject"`
	Actor               ledger.Actor   `json:"actor"`
	Payload             map[string]any `json:"payload"`
}

// AppendEntry handles POST /entries — records one action as the next
// chained, signed ledger entry.
func (h *Handler) AppendEntry(c *gin.Context) {
	var req appendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		recordAppendFailure("bad_request")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// When token auth is enabled, a token is only valid for the component
	// it was issued to.
	if authed, ok := c.Get(componentKey); ok && authed.(string) != req.Component {
		recordAppendFailure("component_mismatch")
		c.JSON(http.StatusForbidden, gin.H{"error": "token is not valid for this component"})
		return
	}

	entry, err := h.writer.Append(c.Request.Context(),
		req.Component, req.ComponentInstanceID, req.ActionType,
		req.Subject, req.Actor, req.Payload,
	)
	if err != nil {
		h.logger.Error("append entry", zap.String("component", req.Component), zap.Error(err))
		switch {
		case errors.Is(err, ledger.ErrReadOnly):
			recordAppendFailure("read_only")
			c.JSON(http.StatusForbidden, gin.H{"error": "ledger is read-only"})
		case errors.Is(err, ledger.ErrSigningFailure):
			recordAppendFailure("signing")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to sign entry"})
		default:
			recordAppendFailure("storage")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to append entry"})
		}
		return
	}

	recordAppend()
	c.JSON(http.StatusCreated, entry)
}

// Verify handles GET /verify — replays the full ledger and returns the
// verification report. The HTTP status is 200 for any completed replay;
// the report's passed field carries the verdict.
func (h *Handler) Verify(c *gin.Context) {
	engine := ledger.NewEngine(h.store, h.keys)
	report, err := engine.Verify(c.Request.Context())
	if err != nil {
		h.logger.Error("verify ledger", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "verification could not run"})
		return
	}
	if !report.Passed {
		h.logger.Warn("ledger verification failed",
			zap.Int("total_entries", report.TotalEntries),
			zap.Int("verified_entries", report.VerifiedEntries),
			zap.String("first_failure_entry_id", report.FirstFailureEntryID),
		)
	}
	recordVerifyRun(report.Passed)
	c.JSON(http.StatusOK, report)
}

// Overview handles GET /ledger — returns the entry count and chain tip.
func (h *Handler) Overview(c *gin.Context) {
	it, err := h.store.Entries(c.Request.Context())
	if err != nil {
		h.logger.Error("read ledger", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read ledger"})
		return
	}
	defer it.Close()

	count := 0
	root := ""
	for it.Next() {
		count++
		root = it.Entry().EntryHash
	}
	if err := it.Err(); err != nil {
		h.logger.Error("scan ledger", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to scan ledger"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": count,
		"root":    root,
	})
}
