package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/applabs/tollquery/internal/api/dto"
	"github.com/applabs/tollquery/internal/batch"
)

// normalizePlates trims and uppercases the submitted plates, dropping
// blanks. Submission order is preserved.
func normalizePlates(raw []string) []string {
	plates := make([]string, 0, len(raw))
	for _, plate := range raw {
		plate = strings.ToUpper(strings.TrimSpace(plate))
		if plate != "" {
			plates = append(plates, plate)
		}
	}
	return plates
}

// SubmitBatch handles POST /api/consulta-placa
// Registers an asynchronous batch and returns immediately with its id
func (h *ConsultaHandler) SubmitBatch(c *gin.Context) {
	var req dto.ConsultaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	plates := normalizePlates(req.Placas)

	job, estimate, err := h.scheduler.Submit(plates)
	if err != nil {
		if errors.Is(err, batch.ErrEmptyPlateList) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "placas must contain at least one plate",
			})
			return
		}
		h.logger.Error("Failed to submit batch", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to submit batch",
		})
		return
	}

	h.logger.Info("Batch submitted",
		slog.String("job_id", job.ID),
		slog.Int("total", job.Total),
	)

	c.JSON(http.StatusAccepted, dto.ConsultaSubmitResponse{
		ID:            job.ID,
		Total:         job.Total,
		Status:        job.Status,
		EstimatedTime: estimate.Round(time.Second).String(),
	})
}

// GetStatus handles GET /api/consulta-status/:id
// Returns the current progress snapshot for one batch
func (h *ConsultaHandler) GetStatus(c *gin.Context) {
	id := c.Param("id")

	job, err := h.scheduler.Tracker().Get(id)
	if err != nil {
		if errors.Is(err, batch.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "batch not found or already expired",
			})
			return
		}
		h.logger.Error("Failed to get batch status", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get batch status",
		})
		return
	}

	c.JSON(http.StatusOK, job)
}

// SubmitSync handles POST /api/consulta-placa-sync
// Runs a size-capped batch inline and returns the full result list
func (h *ConsultaHandler) SubmitSync(c *gin.Context) {
	var req dto.ConsultaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	plates := normalizePlates(req.Placas)

	results, err := h.scheduler.RunSync(c.Request.Context(), plates)
	if err != nil {
		switch {
		case errors.Is(err, batch.ErrEmptyPlateList):
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "placas must contain at least one plate",
			})
		case errors.Is(err, batch.ErrSyncBatchTooLarge):
			c.JSON(http.StatusBadRequest, gin.H{
				"error": fmt.Sprintf("synchronous batches accept at most %d plates", h.scheduler.SyncCap()),
			})
		default:
			h.logger.Error("Synchronous batch failed", slog.String("error", err.Error()))
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error": "Failed to run synchronous batch",
			})
		}
		return
	}

	c.JSON(http.StatusOK, dto.ConsultaSyncResponse{
		Total:      len(results),
		Resultados: results,
	})
}

// AccountLookup handles POST /api/consulta
// Resolves Panapass account balances inline, partitioned into resolved
// balances and failures. Never persisted.
func (h *ConsultaHandler) AccountLookup(c *gin.Context) {
	var req dto.AccountConsultaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	accounts := make([]string, 0, len(req.Panapass))
	for _, account := range req.Panapass {
		account = strings.TrimSpace(account)
		if account != "" {
			accounts = append(accounts, account)
		}
	}

	report, err := h.scheduler.RunAccounts(c.Request.Context(), accounts)
	if err != nil {
		switch {
		case errors.Is(err, batch.ErrEmptyAccountList):
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "panapass must contain at least one account number",
			})
		case errors.Is(err, batch.ErrSyncBatchTooLarge):
			c.JSON(http.StatusBadRequest, gin.H{
				"error": fmt.Sprintf("account lookups accept at most %d numbers", h.scheduler.SyncCap()),
			})
		default:
			h.logger.Error("Account lookup failed", slog.String("error", err.Error()))
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error": "Failed to query accounts",
			})
		}
		return
	}

	c.JSON(http.StatusOK, report)
}

// DirectLookup handles POST /api/consulta-directa
// Performs one lookup without persisting anything
func (h *ConsultaHandler) DirectLookup(c *gin.Context) {
	var req dto.DirectConsultaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	plate := strings.ToUpper(strings.TrimSpace(req.Placa))
	if plate == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "placa is required",
		})
		return
	}

	result, err := h.scheduler.LookupOne(c.Request.Context(), plate)
	if err != nil {
		h.logger.Error("Direct lookup failed",
			slog.String("plate", plate),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Failed to query plate",
		})
		return
	}

	c.JSON(http.StatusOK, dto.DirectConsultaResponse{
		Placa:        plate,
		Success:      result.Success,
		ChkDefaulter: result.ChkDefaulter,
		TypeAccount:  result.TypeAccount,
		Saldo:        result.Balance(),
		Adeudado:     result.Owed(),
		Message:      result.Message,
		Persistence:  false,
	})
}
