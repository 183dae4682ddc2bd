package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/applabs/tollquery/internal/browser"
	"github.com/applabs/tollquery/shared/postgresql"
)

// ConsultaStore persists lookup outcomes and serves the reporting reads.
type ConsultaStore struct {
	db *sqlx.DB
}

func NewConsultaStore(pg *postgresql.Client) *ConsultaStore {
	return &ConsultaStore{
		db: pg.GetDB(),
	}
}

// ResolveVehicle looks the plate up in the registry. A plate with no
// registry entry is not an error: it resolves to nil.
func (s *ConsultaStore) ResolveVehicle(ctx context.Context, plate string) (*Vehicle, error) {
	var vehicle Vehicle
	query := `
		SELECT id, auto_nombre, plate, creado_en
		FROM vehiculos
		WHERE plate = $1
	`

	err := s.db.GetContext(ctx, &vehicle, query, plate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve vehicle: %w", err)
	}

	return &vehicle, nil
}

// SaveConsulta writes one lookup outcome, stamped with the chunk's
// execution marker, correlating it with the registry vehicle when the
// plate is known.
func (s *ConsultaStore) SaveConsulta(ctx context.Context, plate string, result *browser.LookupResult, marker time.Time) error {
	vehicle, err := s.ResolveVehicle(ctx, plate)
	if err != nil {
		return err
	}

	var vehicleID *int64
	if vehicle != nil {
		vehicleID = &vehicle.ID
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin consulta transaction: %w", err)
	}
	defer tx.Rollback()

	var message *string
	if result.Message != "" {
		message = &result.Message
	}

	query := `
		INSERT INTO consultas_placas (
			vehiculo_id, placa, chk_defaulter, type_account,
			saldo, adeudado, fecha_consulta, hora_ejecucion,
			exitosa, mensaje_error
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8,
			$9, $10
		)
	`

	_, err = tx.ExecContext(
		ctx,
		query,
		vehicleID,
		plate,
		result.ChkDefaulter,
		result.TypeAccount,
		result.Balance(),
		result.Owed(),
		time.Now().UTC(),
		marker,
		result.Success,
		message,
	)
	if err != nil {
		return fmt.Errorf("failed to save consulta: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit consulta: %w", err)
	}

	return nil
}

// HistoryByPlate returns the most recent consultas for one plate, newest
// first, joined with the registry entry when there is one.
func (s *ConsultaStore) HistoryByPlate(ctx context.Context, plate string, limit int) ([]HistoryEntry, error) {
	query := `
		SELECT
			c.id, c.placa, v.auto_nombre, c.chk_defaulter, c.type_account,
			c.saldo, c.adeudado, c.fecha_consulta, c.hora_ejecucion,
			c.exitosa, c.mensaje_error
		FROM consultas_placas c
		LEFT JOIN vehiculos v ON v.id = c.vehiculo_id
		WHERE c.placa = $1
		ORDER BY c.fecha_consulta DESC, c.id DESC
		LIMIT $2
	`

	entries := []HistoryEntry{}
	err := s.db.SelectContext(ctx, &entries, query, plate, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}

	return entries, nil
}

// Stats aggregates every persisted consulta. Averages cover successful
// rows only and are nil when nothing succeeded yet.
func (s *ConsultaStore) Stats(ctx context.Context) (*GlobalStats, error) {
	var stats GlobalStats
	query := `
		SELECT
			COUNT(*) AS total_consultas,
			COUNT(*) FILTER (WHERE exitosa) AS exitosas,
			COUNT(*) FILTER (WHERE NOT exitosa) AS fallidas,
			COUNT(DISTINCT placa) AS placas_unicas,
			AVG(saldo) FILTER (WHERE exitosa) AS saldo_promedio,
			AVG(adeudado) FILTER (WHERE exitosa) AS adeudado_promedio
		FROM consultas_placas
	`

	if err := s.db.GetContext(ctx, &stats, query); err != nil {
		return nil, fmt.Errorf("failed to aggregate stats: %w", err)
	}

	return &stats, nil
}

// StatsByBatch aggregates consultas per execution marker, newest batch
// first.
func (s *ConsultaStore) StatsByBatch(ctx context.Context, limit int) ([]BatchStats, error) {
	query := `
		SELECT
			hora_ejecucion,
			COUNT(*) AS consultas,
			COUNT(*) FILTER (WHERE exitosa) AS exitosas,
			AVG(saldo) FILTER (WHERE exitosa) AS saldo_promedio
		FROM consultas_placas
		GROUP BY hora_ejecucion
		ORDER BY hora_ejecucion DESC
		LIMIT $1
	`

	stats := []BatchStats{}
	err := s.db.SelectContext(ctx, &stats, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate batch stats: %w", err)
	}

	return stats, nil
}

// ConsultasByBatch returns every row written under one execution marker,
// in write order.
func (s *ConsultaStore) ConsultasByBatch(ctx context.Context, marker time.Time) ([]Consulta, error) {
	query := `
		SELECT
			id, vehiculo_id, placa, chk_defaulter, type_account,
			saldo, adeudado, fecha_consulta, hora_ejecucion,
			exitosa, mensaje_error, creado_en, actualizado_en
		FROM consultas_placas
		WHERE hora_ejecucion = $1
		ORDER BY id ASC
	`

	consultas := []Consulta{}
	err := s.db.SelectContext(ctx, &consultas, query, marker)
	if err != nil {
		return nil, fmt.Errorf("failed to list batch consultas: %w", err)
	}

	return consultas, nil
}
