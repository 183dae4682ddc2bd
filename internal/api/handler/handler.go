package handler

import (
	"log/slog"

	"github.com/applabs/tollquery/internal/batch"
	"github.com/applabs/tollquery/internal/storage"
	"github.com/applabs/tollquery/shared/postgresql"
)

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger       *slog.Logger
	Scheduler    *batch.Scheduler
	Store        *storage.ConsultaStore
	DBClient     *postgresql.Client
	ClientID     string
	ClientSecret string
	ServiceName  string
}

// ConsultaHandler handles lookup submission and polling requests
type ConsultaHandler struct {
	logger    *slog.Logger
	scheduler *batch.Scheduler
}

// NewConsultaHandler creates a new ConsultaHandler instance
func NewConsultaHandler(deps *Dependencies) *ConsultaHandler {
	return &ConsultaHandler{
		logger:    deps.Logger,
		scheduler: deps.Scheduler,
	}
}

// ReportHandler handles the reporting reads over persisted consultas
type ReportHandler struct {
	logger *slog.Logger
	store  *storage.ConsultaStore
}

// NewReportHandler creates a new ReportHandler instance
func NewReportHandler(deps *Dependencies) *ReportHandler {
	return &ReportHandler{
		logger: deps.Logger,
		store:  deps.Store,
	}
}
