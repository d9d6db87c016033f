package adapters

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"orchid-tracker/internal/core/logger"
	"orchid-tracker/internal/core/storage"
	"orchid-tracker/internal/features/shipments/domain"
	"orchid-tracker/internal/features/shipments/ports"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

const opTimeout = 5 * time.Second

const uniqueViolationCode = "23505"

// PostgresShipmentRepository implements ports.ShipmentRepository on
// PostgreSQL. Every confirmed write is echoed to the change stream through
// the publisher so all connected clients converge.
type PostgresShipmentRepository struct {
	db        *sql.DB
	publisher ports.ChangePublisher
}

// NewPostgresShipmentRepository creates the repository. The publisher may be
// nil, in which case writes are not broadcast.
func NewPostgresShipmentRepository(store *storage.Store, publisher ports.ChangePublisher) *PostgresShipmentRepository {
	return &PostgresShipmentRepository{db: store.DB(), publisher: publisher}
}

// EnsureSchema creates the shipments table when it does not exist yet.
func (r *PostgresShipmentRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS shipments (
			tracking_number    TEXT PRIMARY KEY,
			current_status     TEXT NOT NULL,
			estimated_delivery TEXT NOT NULL,
			origin             TEXT NOT NULL,
			destination        TEXT NOT NULL,
			weight             TEXT NOT NULL DEFAULT '',
			dimensions         TEXT NOT NULL DEFAULT '',
			piece_count        INTEGER NOT NULL DEFAULT 0,
			shipment_type      TEXT NOT NULL DEFAULT '',
			history            JSONB NOT NULL,
			version            BIGINT NOT NULL DEFAULT 1,
			created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure shipments schema: %w", err)
	}
	return nil
}

const shipmentColumns = `tracking_number, current_status, estimated_delivery, origin, destination,
	weight, dimensions, piece_count, shipment_type, history, version`

// List returns every shipment record.
func (r *PostgresShipmentRepository) List(ctx context.Context) ([]domain.ShipmentRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `SELECT `+shipmentColumns+` FROM shipments ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("select shipments: %w", err)
	}
	defer rows.Close()

	var records []domain.ShipmentRecord
	for rows.Next() {
		record, err := scanShipment(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate shipments: %w", err)
	}

	return records, nil
}

// GetByKey returns the record for a tracking number.
func (r *PostgresShipmentRepository) GetByKey(ctx context.Context, trackingNumber string) (*domain.ShipmentRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	row := r.db.QueryRowContext(ctx, `SELECT `+shipmentColumns+` FROM shipments WHERE tracking_number = $1`, trackingNumber)

	record, err := scanShipment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrShipmentNotFound
		}
		return nil, err
	}
	return record, nil
}

// Insert persists a new record with version 1.
func (r *PostgresShipmentRepository) Insert(ctx context.Context, record *domain.ShipmentRecord) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	history, err := json.Marshal(record.History)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}

	record.Version = 1

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO shipments (
			tracking_number, current_status, estimated_delivery, origin, destination,
			weight, dimensions, piece_count, shipment_type, history, version
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`,
		record.TrackingNumber, record.CurrentStatus, record.EstimatedDelivery,
		record.Origin, record.Destination, record.Weight, record.Dimensions,
		record.PieceCount, record.ShipmentType, history, record.Version,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateTrackingNumber
		}
		return fmt.Errorf("insert shipment: %w", err)
	}

	r.broadcastUpsert(record)
	return nil
}

// UpdateStatus prepends the event and replaces the current status inside a
// transaction, bumping the version.
func (r *PostgresShipmentRepository) UpdateStatus(ctx context.Context, trackingNumber string, event domain.TrackingEvent) (*domain.ShipmentRecord, error) {
	return r.updateRecord(ctx, trackingNumber, func(record domain.ShipmentRecord) (domain.ShipmentRecord, error) {
		return record.ApplyEvent(event), nil
	})
}

// UpdateMetadata replaces descriptive fields only.
func (r *PostgresShipmentRepository) UpdateMetadata(ctx context.Context, trackingNumber string, fields domain.MetadataFields) (*domain.ShipmentRecord, error) {
	return r.updateRecord(ctx, trackingNumber, func(record domain.ShipmentRecord) (domain.ShipmentRecord, error) {
		return record.ApplyMetadata(fields)
	})
}

// updateRecord loads the row FOR UPDATE, applies the mutation and writes the
// result back with an incremented version.
func (r *PostgresShipmentRepository) updateRecord(ctx context.Context, trackingNumber string, mutate func(domain.ShipmentRecord) (domain.ShipmentRecord, error)) (record *domain.ShipmentRecord, err error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	row := tx.QueryRowContext(ctx, `SELECT `+shipmentColumns+` FROM shipments WHERE tracking_number = $1 FOR UPDATE`, trackingNumber)

	current, err := scanShipment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrShipmentNotFound
		}
		return nil, err
	}

	updated, err := mutate(*current)
	if err != nil {
		return nil, err
	}
	updated.Version = current.Version + 1

	history, err := json.Marshal(updated.History)
	if err != nil {
		return nil, fmt.Errorf("marshal history: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE shipments SET
			current_status = $2, estimated_delivery = $3, origin = $4, destination = $5,
			weight = $6, dimensions = $7, piece_count = $8, shipment_type = $9,
			history = $10, version = $11, updated_at = now()
		WHERE tracking_number = $1
	`,
		updated.TrackingNumber, updated.CurrentStatus, updated.EstimatedDelivery,
		updated.Origin, updated.Destination, updated.Weight, updated.Dimensions,
		updated.PieceCount, updated.ShipmentType, history, updated.Version,
	)
	if err != nil {
		return nil, fmt.Errorf("update shipment: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update shipment: %w", err)
	}

	r.broadcastUpsert(&updated)
	return &updated, nil
}

// Delete removes the record for a tracking number.
func (r *PostgresShipmentRepository) Delete(ctx context.Context, trackingNumber string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM shipments WHERE tracking_number = $1`, trackingNumber)
	if err != nil {
		return fmt.Errorf("delete shipment: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete shipment rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrShipmentNotFound
	}

	r.broadcast(ports.ChangeEvent{Kind: ports.ChangeDelete, TrackingNumber: trackingNumber})
	return nil
}

func (r *PostgresShipmentRepository) broadcastUpsert(record *domain.ShipmentRecord) {
	r.broadcast(ports.ChangeEvent{
		Kind:           ports.ChangeUpsert,
		TrackingNumber: record.TrackingNumber,
		Record:         record,
	})
}

// broadcast pushes the event to the change stream. The write already
// committed, so a publish failure is logged rather than returned.
func (r *PostgresShipmentRepository) broadcast(event ports.ChangeEvent) {
	if r.publisher == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if err := r.publisher.Publish(ctx, event); err != nil {
		logger.Get().Warn("Failed to publish change event",
			zap.String("tracking_number", event.TrackingNumber),
			zap.String("kind", string(event.Kind)),
			zap.Error(err),
		)
	}
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanShipment(row rowScanner) (*domain.ShipmentRecord, error) {
	var (
		record  domain.ShipmentRecord
		history []byte
	)

	err := row.Scan(
		&record.TrackingNumber, &record.CurrentStatus, &record.EstimatedDelivery,
		&record.Origin, &record.Destination, &record.Weight, &record.Dimensions,
		&record.PieceCount, &record.ShipmentType, &history, &record.Version,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan shipment: %w", err)
	}

	if err := json.Unmarshal(history, &record.History); err != nil {
		return nil, fmt.Errorf("unmarshal history: %w", err)
	}

	return &record, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}
