package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

func limitParam(c *gin.Context, fallback, max int) int {
	raw := c.Query("limit")
	if raw == "" {
		return fallback
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return fallback
	}
	if limit > max {
		return max
	}
	return limit
}

// History handles GET /api/historial/:plate
// Returns the most recent consultas for one plate, newest first
func (h *ReportHandler) History(c *gin.Context) {
	plate := strings.ToUpper(strings.TrimSpace(c.Param("plate")))
	if plate == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "plate is required",
		})
		return
	}

	limit := limitParam(c, 10, 100)

	entries, err := h.store.HistoryByPlate(c.Request.Context(), plate, limit)
	if err != nil {
		h.logger.Error("Failed to list history",
			slog.String("plate", plate),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list history",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"placa":     plate,
		"total":     len(entries),
		"historial": entries,
	})
}

// Stats handles GET /api/estadisticas
// Returns global aggregates over every persisted consulta
func (h *ReportHandler) Stats(c *gin.Context) {
	stats, err := h.store.Stats(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to aggregate stats", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to aggregate stats",
		})
		return
	}

	c.JSON(http.StatusOK, stats)
}

// StatsByBatch handles GET /api/estadisticas-lotes
// Returns per-execution-marker aggregates, newest batch first
func (h *ReportHandler) StatsByBatch(c *gin.Context) {
	limit := limitParam(c, 20, 100)

	stats, err := h.store.StatsByBatch(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to aggregate batch stats", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to aggregate batch stats",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"total": len(stats),
		"lotes": stats,
	})
}

// BatchDetail handles GET /api/lote/:marker
// Returns every consulta persisted under one execution marker. The marker
// is the RFC 3339 timestamp reported by the batch stats endpoint.
func (h *ReportHandler) BatchDetail(c *gin.Context) {
	marker, err := time.Parse(time.RFC3339, c.Param("marker"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "marker must be an RFC 3339 timestamp",
		})
		return
	}

	consultas, err := h.store.ConsultasByBatch(c.Request.Context(), marker.UTC())
	if err != nil {
		h.logger.Error("Failed to list batch consultas", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list batch consultas",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"hora_ejecucion": marker.UTC(),
		"total":          len(consultas),
		"consultas":      consultas,
	})
}
