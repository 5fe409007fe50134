package postgres

import (
	"context"
	"errors"

	domain "github.com/medimart/api/internal/domain"
	"github.com/medimart/api/internal/platform/database"
	"github.com/medimart/api/internal/repositories"
)

// OrderHistoryRepository appends status change records. Rows are never updated.
type OrderHistoryRepository struct {
	db *database.DB
}

var _ repositories.OrderHistoryRepository = (*OrderHistoryRepository)(nil)

func NewOrderHistoryRepository(db *database.DB) (*OrderHistoryRepository, error) {
	if db == nil {
		return nil, errors.New("order history repository: database is required")
	}
	return &OrderHistoryRepository{db: db}, nil
}

func (r *OrderHistoryRepository) Append(ctx context.Context, entry domain.OrderHistoryEntry) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO order_history (id, order_id, from_status, to_status, actor, note, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.OrderID, string(entry.FromStatus), string(entry.ToStatus), entry.Actor, entry.Note, entry.CreatedAt.UTC(),
	)
	return database.WrapError("order_history.append", err)
}

func (r *OrderHistoryRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.OrderHistoryEntry, error) {
	const op = "order_history.list"
	rows, err := r.db.Query(ctx,
		`SELECT id, order_id, from_status, to_status, actor, note, created_at
		FROM order_history WHERE order_id = ? ORDER BY created_at, id`,
		orderID,
	)
	if err != nil {
		return nil, database.WrapError(op, err)
	}
	defer rows.Close()

	var entries []domain.OrderHistoryEntry
	for rows.Next() {
		var (
			entry    domain.OrderHistoryEntry
			from, to string
		)
		if err := rows.Scan(&entry.ID, &entry.OrderID, &from, &to, &entry.Actor, &entry.Note, &entry.CreatedAt); err != nil {
			return nil, database.WrapError(op, err)
		}
		entry.FromStatus = domain.OrderStatus(from)
		entry.ToStatus = domain.OrderStatus(to)
		entry.CreatedAt = entry.CreatedAt.UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, database.WrapError(op, err)
	}
	return entries, nil
}
