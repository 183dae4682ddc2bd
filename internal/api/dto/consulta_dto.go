package dto

import "github.com/applabs/tollquery/internal/batch"

type ConsultaRequest struct {
	Placas []string `json:"placas" binding:"required"`
}

type ConsultaSubmitResponse struct {
	ID            string `json:"id"`
	Total         int    `json:"total"`
	Status        string `json:"status"`
	EstimatedTime string `json:"estimated_time"`
}

type ConsultaSyncResponse struct {
	Total      int                 `json:"total"`
	Resultados []batch.QueryResult `json:"resultados"`
}

type AccountConsultaRequest struct {
	Panapass []string `json:"panapass" binding:"required"`
}

type DirectConsultaRequest struct {
	Placa string `json:"placa" binding:"required"`
}

// DirectConsultaResponse mirrors the portal payload with money converted
// to balboas. Persistence is always false: direct lookups are never
// written to the database.
type DirectConsultaResponse struct {
	Placa        string  `json:"placa"`
	Success      bool    `json:"success"`
	ChkDefaulter string  `json:"chk_defaulter,omitempty"`
	TypeAccount  string  `json:"type_account,omitempty"`
	Saldo        float64 `json:"saldo"`
	Adeudado     float64 `json:"adeudado"`
	Message      string  `json:"message,omitempty"`
	Persistence  bool    `json:"persistence"`
}
