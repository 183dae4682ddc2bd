package storage

import "time"

// Vehicle is a row of the vehiculos registry. Plates are unique; the
// display name is optional.
type Vehicle struct {
	ID         int64     `db:"id" json:"id"`
	AutoNombre *string   `db:"auto_nombre" json:"auto_nombre,omitempty"`
	Plate      string    `db:"plate" json:"plate"`
	CreadoEn   time.Time `db:"creado_en" json:"creado_en"`
}

// Consulta is a persisted lookup outcome. HoraEjecucion groups every row
// written from the same chunk under one execution marker. VehiculoID is
// nil when the plate is not in the registry.
type Consulta struct {
	ID            int64     `db:"id" json:"id"`
	VehiculoID    *int64    `db:"vehiculo_id" json:"vehiculo_id,omitempty"`
	Placa         string    `db:"placa" json:"placa"`
	ChkDefaulter  *string   `db:"chk_defaulter" json:"chk_defaulter,omitempty"`
	TypeAccount   *string   `db:"type_account" json:"type_account,omitempty"`
	Saldo         *float64  `db:"saldo" json:"saldo,omitempty"`
	Adeudado      *float64  `db:"adeudado" json:"adeudado,omitempty"`
	FechaConsulta time.Time `db:"fecha_consulta" json:"fecha_consulta"`
	HoraEjecucion time.Time `db:"hora_ejecucion" json:"hora_ejecucion"`
	Exitosa       bool      `db:"exitosa" json:"exitosa"`
	MensajeError  *string   `db:"mensaje_error" json:"mensaje_error,omitempty"`
	CreadoEn      time.Time `db:"creado_en" json:"creado_en"`
	ActualizadoEn time.Time `db:"actualizado_en" json:"actualizado_en"`
}

// HistoryEntry is one consulta joined with its registry vehicle, as served
// by the per-plate history endpoint.
type HistoryEntry struct {
	ID            int64     `db:"id" json:"id"`
	Placa         string    `db:"placa" json:"placa"`
	AutoNombre    *string   `db:"auto_nombre" json:"auto_nombre,omitempty"`
	ChkDefaulter  *string   `db:"chk_defaulter" json:"chk_defaulter,omitempty"`
	TypeAccount   *string   `db:"type_account" json:"type_account,omitempty"`
	Saldo         *float64  `db:"saldo" json:"saldo,omitempty"`
	Adeudado      *float64  `db:"adeudado" json:"adeudado,omitempty"`
	FechaConsulta time.Time `db:"fecha_consulta" json:"fecha_consulta"`
	HoraEjecucion time.Time `db:"hora_ejecucion" json:"hora_ejecucion"`
	Exitosa       bool      `db:"exitosa" json:"exitosa"`
	MensajeError  *string   `db:"mensaje_error" json:"mensaje_error,omitempty"`
}

// GlobalStats aggregates every persisted consulta.
type GlobalStats struct {
	TotalConsultas   int64    `db:"total_consultas" json:"total_consultas"`
	Exitosas         int64    `db:"exitosas" json:"exitosas"`
	Fallidas         int64    `db:"fallidas" json:"fallidas"`
	PlacasUnicas     int64    `db:"placas_unicas" json:"placas_unicas"`
	SaldoPromedio    *float64 `db:"saldo_promedio" json:"saldo_promedio,omitempty"`
	AdeudadoPromedio *float64 `db:"adeudado_promedio" json:"adeudado_promedio,omitempty"`
}

// BatchStats aggregates the consultas that share one execution marker.
type BatchStats struct {
	HoraEjecucion time.Time `db:"hora_ejecucion" json:"hora_ejecucion"`
	Consultas     int64     `db:"consultas" json:"consultas"`
	Exitosas      int64     `db:"exitosas" json:"exitosas"`
	SaldoPromedio *float64  `db:"saldo_promedio" json:"saldo_promedio,omitempty"`
}
