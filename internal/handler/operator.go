package handler

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/operatorlog/internal/operator"
	"github.com/jmerrifield20/operatorlog/internal/recordstore"
	"github.com/jmerrifield20/operatorlog/internal/service"
	"github.com/jmerrifield20/operatorlog/pkg/hash"
	"github.com/jmerrifield20/operatorlog/pkg/signing"
)

// OperatorService is the subset of *service.OperatorService the handler uses.
type OperatorService interface {
	Append(ctx context.Context, env operator.Envelope) (*service.AppendResult, error)
	Encode(d operator.Draft) (*operator.EncodedRecord, error)
	Decode(b []byte) (operator.Draft, error)
	Snapshot() service.Snapshot
	Permissions() map[signing.KeyID][]operator.Permission
	Record(ctx context.Context, idx int) (*service.RecordView, error)
	Verify(ctx context.Context) (*service.VerifyReport, error)
	LogID() hash.Digest
	SigningPrefix() []byte
}

// LogInfo is the body of GET /operator.
type LogInfo struct {
	LogID         string         `json:"log_id"`
	SigningPrefix string         `json:"signing_prefix"` // base64
	Length        int            `json:"length"`
	HashAlgorithm string         `json:"hash_algorithm,omitempty"`
	Founder       string         `json:"founder,omitempty"`
	Head          *operator.Head `json:"head,omitempty"`
}

// DecodeRequest is the body of POST /operator/decode.
type DecodeRequest struct {
	ContentBytes []byte `json:"content_bytes" binding:"required"`
}

// OperatorHandler exposes the operator log over HTTP.
type OperatorHandler struct {
	svc    OperatorService
	logger *zap.Logger
}

// NewOperatorHandler creates a new OperatorHandler.
func NewOperatorHandler(svc OperatorService, logger *zap.Logger) *OperatorHandler {
	return &OperatorHandler{svc: svc, logger: logger}
}

// Register mounts the operator routes on the given router group.
func (h *OperatorHandler) Register(rg *gin.RouterGroup) {
	o := rg.Group("/operator")
	{
		o.GET("", h.Info)
		o.POST("/records", h.Append)
		o.GET("/records/:idx", h.GetRecord)
		o.GET("/permissions", h.Permissions)
		o.GET("/verify", h.Verify)
		o.POST("/encode", h.Encode)
		o.POST("/decode", h.Decode)
	}
}

// Info handles GET /operator: returns the log id, signing prefix and head.
func (h *OperatorHandler) Info(c *gin.Context) {
	snap := h.svc.Snapshot()
	info := LogInfo{
		LogID:         h.svc.LogID().String(),
		SigningPrefix: base64.StdEncoding.EncodeToString(h.svc.SigningPrefix()),
		Length:        snap.Length,
		HashAlgorithm: snap.HashAlgorithm.String(),
		Founder:       snap.Founder.String(),
		Head:          snap.Head,
	}
	c.JSON(http.StatusOK, info)
}

// Append handles POST /operator/records: validates and appends an envelope.
func (h *OperatorHandler) Append(c *gin.Context) {
	var env operator.Envelope
	if err := c.ShouldBindJSON(&env); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.svc.Append(c.Request.Context(), env)
	code := operator.Code(err)
	RecordAppend(code)
	if err != nil {
		if code == "" {
			h.logger.Error("append operator record", zap.Error(err))
			if errors.Is(err, recordstore.ErrConflict) {
				c.JSON(http.StatusConflict, gin.H{"error": "log head moved, retry"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to persist record"})
			return
		}
		c.JSON(statusFor(code), gin.H{"error": err.Error(), "code": code})
		return
	}

	SetLogLength(res.Index + 1)
	c.JSON(http.StatusCreated, res)
}

// GetRecord handles GET /operator/records/:idx: returns one stored record.
func (h *OperatorHandler) GetRecord(c *gin.Context) {
	idx, err := strconv.Atoi(c.Param("idx"))
	if err != nil || idx < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "idx must be a non-negative integer"})
		return
	}

	view, err := h.svc.Record(c.Request.Context(), idx)
	if errors.Is(err, recordstore.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
		return
	}
	if err != nil {
		h.logger.Error("get operator record", zap.Int("idx", idx), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read record"})
		return
	}
	c.JSON(http.StatusOK, view)
}

// Permissions handles GET /operator/permissions.
func (h *OperatorHandler) Permissions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"permissions": h.svc.Permissions()})
}

// Verify handles GET /operator/verify: replays the stored log and reports integrity.
func (h *OperatorHandler) Verify(c *gin.Context) {
	start := time.Now()
	report, err := h.svc.Verify(c.Request.Context())
	if err != nil {
		h.logger.Warn("operator log integrity check failed", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{
			"valid": false,
			"error": err.Error(),
			"code":  operator.Code(err),
		})
		return
	}
	h.logger.Debug("operator log verified",
		zap.Int("length", report.Length),
		zap.Duration("took", time.Since(start)),
	)
	c.JSON(http.StatusOK, gin.H{"valid": true, "length": report.Length, "head": report.Head})
}

// Encode handles POST /operator/encode: returns canonical bytes and record id.
func (h *OperatorHandler) Encode(c *gin.Context) {
	var d operator.Draft
	if err := c.ShouldBindJSON(&d); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	enc, err := h.svc.Encode(d)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": operator.Code(err)})
		return
	}
	c.JSON(http.StatusOK, enc)
}

// Decode handles POST /operator/decode: returns the draft form of record bytes.
func (h *OperatorHandler) Decode(c *gin.Context) {
	var req DecodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	d, err := h.svc.Decode(req.ContentBytes)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": operator.Code(err)})
		return
	}
	c.JSON(http.StatusOK, d)
}

// statusFor maps an operator error code to an HTTP status.
func statusFor(code string) int {
	switch code {
	case "FailedToDecodeOperatorRecord", "SignatureParseFailure":
		return http.StatusBadRequest
	case "KeyIDNotRecognized", "SignatureInvalid", "UnauthorizedAction":
		return http.StatusForbidden
	case "PreviousHashOnFirstRecord", "NoPreviousHashAfterInit", "RecordHashDoesNotMatch", "TimestampLowerThanPrevious":
		return http.StatusConflict
	default:
		return http.StatusUnprocessableEntity
	}
}
