package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	domain "github.com/medimart/api/internal/domain"
	"github.com/medimart/api/internal/platform/database"
	"github.com/medimart/api/internal/platform/pagination"
	"github.com/medimart/api/internal/repositories"
)

const orderColumns = `id, code, customer_id, receiver_name, receiver_phone, receiver_address,
	subtotal, shipping_fee, discount, loyalty_points_used, loyalty_discount, total,
	payment_method, payment_status, status, promotion_id, note, cancel_reason, gateway_txn_id,
	confirmed_by, confirmed_at, prepared_at, shipped_at, completed_at, cancelled_at, paid_at,
	created_at, updated_at`

const orderColumnCount = 28

const orderLineColumns = `id, order_id, product_id, product_name, image_url, unit_price, quantity, line_total`

// OrderRepository stores orders and their line snapshots.
type OrderRepository struct {
	db *database.DB
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs an order repository on db.
func NewOrderRepository(db *database.DB) (*OrderRepository, error) {
	if db == nil {
		return nil, errors.New("order repository: database is required")
	}
	return &OrderRepository{db: db}, nil
}

// Insert stores the order header and lines. The header insert skips on a
// duplicate code so a collision does not abort an enclosing Postgres transaction.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	const op = "orders.insert"
	if strings.TrimSpace(order.ID) == "" || strings.TrimSpace(order.Code) == "" {
		return database.WrapError(op, errors.New("order id and code are required"))
	}

	return r.db.RunInTx(ctx, func(ctx context.Context) error {
		result, err := r.db.Exec(ctx,
			`INSERT INTO orders (`+orderColumns+`) VALUES (`+placeholders(orderColumnCount)+`)
			ON CONFLICT (code) DO NOTHING`,
			orderArgs(order)...,
		)
		if err != nil {
			return database.WrapError(op, err)
		}
		affected, err := rowsAffected(result)
		if err != nil {
			return database.WrapError(op, err)
		}
		if affected == 0 {
			return database.Conflict(op, "order code %s already exists", order.Code)
		}

		for _, line := range order.Lines {
			line.OrderID = order.ID
			if _, err := r.db.Exec(ctx,
				`INSERT INTO order_lines (`+orderLineColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				line.ID, line.OrderID, line.ProductID, line.ProductName, line.ImageURL,
				line.UnitPrice, line.Quantity, line.LineTotal,
			); err != nil {
				return database.WrapError("order_lines.insert", err)
			}
		}
		return nil
	})
}

// FindByID loads an order with its lines.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	return r.findOne(ctx, "orders.find_by_id", `id = ?`, orderID)
}

// FindByCode loads an order by its human readable code.
func (r *OrderRepository) FindByCode(ctx context.Context, code string) (domain.Order, error) {
	return r.findOne(ctx, "orders.find_by_code", `code = ?`, code)
}

func (r *OrderRepository) findOne(ctx context.Context, op, predicate string, arg string) (domain.Order, error) {
	row := r.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE `+predicate, arg)
	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, database.NotFound(op, "order %s not found", arg)
		}
		return domain.Order{}, database.WrapError(op, err)
	}
	lines, err := r.loadLines(ctx, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Lines = lines
	return order, nil
}

func (r *OrderRepository) loadLines(ctx context.Context, orderID string) ([]domain.OrderLine, error) {
	const op = "order_lines.list"
	rows, err := r.db.Query(ctx, `SELECT `+orderLineColumns+` FROM order_lines WHERE order_id = ? ORDER BY id`, orderID)
	if err != nil {
		return nil, database.WrapError(op, err)
	}
	defer rows.Close()

	var lines []domain.OrderLine
	for rows.Next() {
		var line domain.OrderLine
		if err := rows.Scan(
			&line.ID, &line.OrderID, &line.ProductID, &line.ProductName, &line.ImageURL,
			&line.UnitPrice, &line.Quantity, &line.LineTotal,
		); err != nil {
			return nil, database.WrapError(op, err)
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, database.WrapError(op, err)
	}
	return lines, nil
}

// List returns order headers newest first. Lines are not loaded.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	const op = "orders.list"

	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	pageSize := pagination.Normalize(filter.Pagination.PageSize)

	var (
		where []string
		args  []any
	)
	if id := strings.TrimSpace(filter.CustomerID); id != "" {
		where = append(where, "customer_id = ?")
		args = append(args, id)
	}
	if len(filter.Status) > 0 {
		where = append(where, "status IN ("+placeholders(len(filter.Status))+")")
		for _, status := range filter.Status {
			args = append(args, string(status))
		}
	}
	if filter.PaymentStatus != nil {
		where = append(where, "payment_status = ?")
		args = append(args, string(*filter.PaymentStatus))
	}
	if !cursor.IsZero() {
		where = append(where, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, cursor.CreatedAt.UTC(), cursor.CreatedAt.UTC(), cursor.ID)
	}

	query := `SELECT ` + orderColumns + ` FROM orders`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, pageSize+1)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, database.WrapError(op, err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0, pageSize)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, database.WrapError(op, err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return domain.CursorPage[domain.Order]{}, database.WrapError(op, err)
	}

	page := domain.CursorPage[domain.Order]{Items: orders}
	if len(orders) > pageSize {
		page.Items = orders[:pageSize]
		last := page.Items[pageSize-1]
		token, err := pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		page.NextPageToken = token
	}
	return page, nil
}

// UpdateStatus writes lifecycle columns when the stored status and payment status still
// equal the expected pair, so a payment recorded after the read blocks the write.
func (r *OrderRepository) UpdateStatus(ctx context.Context, order domain.Order, expected domain.OrderStatus, expectedPayment domain.PaymentStatus) (bool, error) {
	const op = "orders.update_status"
	result, err := r.db.Exec(ctx,
		`UPDATE orders SET status = ?, payment_status = ?,
			paid_at = COALESCE(paid_at, ?),
			cancel_reason = ?, confirmed_by = ?,
			confirmed_at = ?, prepared_at = ?, shipped_at = ?, completed_at = ?, cancelled_at = ?,
			updated_at = ?
		WHERE id = ? AND status = ? AND payment_status = ?`,
		string(order.Status), string(order.PaymentStatus), nullableTime(order.PaidAt),
		nullableString(order.CancelReason), nullableString(order.ConfirmedBy),
		nullableTime(order.ConfirmedAt), nullableTime(order.PreparedAt), nullableTime(order.ShippedAt),
		nullableTime(order.CompletedAt), nullableTime(order.CancelledAt),
		order.UpdatedAt.UTC(),
		order.ID, string(expected), string(expectedPayment),
	)
	if err != nil {
		return false, database.WrapError(op, err)
	}
	affected, err := rowsAffected(result)
	if err != nil {
		return false, database.WrapError(op, err)
	}
	return affected == 1, nil
}

// MarkPaid flips an unpaid, non-cancelled order to PAID.
func (r *OrderRepository) MarkPaid(ctx context.Context, orderID string, gatewayTxnID string, paidAt time.Time) (bool, error) {
	const op = "orders.mark_paid"
	result, err := r.db.Exec(ctx,
		`UPDATE orders SET payment_status = 'PAID', gateway_txn_id = ?, paid_at = ?, updated_at = ?
		WHERE id = ? AND payment_status = 'UNPAID' AND status <> 'CANCELLED'`,
		gatewayTxnID, paidAt.UTC(), paidAt.UTC(), orderID,
	)
	if err != nil {
		return false, database.WrapError(op, err)
	}
	affected, err := rowsAffected(result)
	if err != nil {
		return false, database.WrapError(op, err)
	}
	return affected == 1, nil
}

// Delete removes a cancelled order that was never paid, together with its lines.
func (r *OrderRepository) Delete(ctx context.Context, orderID string) error {
	const op = "orders.delete"
	return r.db.RunInTx(ctx, func(ctx context.Context) error {
		result, err := r.db.Exec(ctx,
			`DELETE FROM orders WHERE id = ? AND status = 'CANCELLED' AND payment_status = 'UNPAID' AND paid_at IS NULL`,
			orderID,
		)
		if err != nil {
			return database.WrapError(op, err)
		}
		affected, err := rowsAffected(result)
		if err != nil {
			return database.WrapError(op, err)
		}
		if affected == 0 {
			var exists int
			err := r.db.QueryRow(ctx, `SELECT 1 FROM orders WHERE id = ?`, orderID).Scan(&exists)
			if errors.Is(err, sql.ErrNoRows) {
				return database.NotFound(op, "order %s not found", orderID)
			}
			if err != nil {
				return database.WrapError(op, err)
			}
			return database.Conflict(op, "order %s is not a cancelled unpaid order", orderID)
		}
		if _, err := r.db.Exec(ctx, `DELETE FROM order_lines WHERE order_id = ?`, orderID); err != nil {
			return database.WrapError("order_lines.delete", err)
		}
		return nil
	})
}

// ListExpiredUnpaid returns pending unpaid orders created before the cutoff, oldest first.
func (r *OrderRepository) ListExpiredUnpaid(ctx context.Context, query repositories.ExpiredUnpaidQuery) ([]domain.Order, error) {
	const op = "orders.list_expired_unpaid"
	if len(query.Methods) == 0 {
		return nil, nil
	}
	limit := query.Limit
	if limit <= 0 {
		limit = pagination.DefaultMaxPageSize
	}

	args := []any{query.CreatedBefore.UTC()}
	for _, method := range query.Methods {
		args = append(args, string(method))
	}
	args = append(args, limit)

	rows, err := r.db.Query(ctx,
		`SELECT `+orderColumns+` FROM orders
		WHERE status = 'PENDING' AND payment_status = 'UNPAID' AND created_at < ?
			AND payment_method IN (`+placeholders(len(query.Methods))+`)
		ORDER BY created_at, id LIMIT ?`,
		args...,
	)
	if err != nil {
		return nil, database.WrapError(op, err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, database.WrapError(op, err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, database.WrapError(op, err)
	}
	for i := range orders {
		lines, err := r.loadLines(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Lines = lines
	}
	return orders, nil
}

func orderArgs(order domain.Order) []any {
	return []any{
		order.ID, order.Code, order.CustomerID,
		order.Receiver.Name, order.Receiver.Phone, order.Receiver.Address,
		order.Subtotal, order.ShippingFee, order.Discount, order.LoyaltyPointsUsed, order.LoyaltyDiscount, order.Total,
		string(order.PaymentMethod), string(order.PaymentStatus), string(order.Status),
		nullableString(order.PromotionID), order.Note, nullableString(order.CancelReason), nullableString(order.GatewayTxnID),
		nullableString(order.ConfirmedBy), nullableTime(order.ConfirmedAt), nullableTime(order.PreparedAt),
		nullableTime(order.ShippedAt), nullableTime(order.CompletedAt), nullableTime(order.CancelledAt), nullableTime(order.PaidAt),
		order.CreatedAt.UTC(), order.UpdatedAt.UTC(),
	}
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order                                                domain.Order
		paymentMethod, paymentStatus, status                 string
		promotionID, cancelReason, gatewayTxnID, confirmedBy sql.NullString
		confirmedAt, preparedAt, shippedAt                   sql.NullTime
		completedAt, cancelledAt, paidAt                     sql.NullTime
	)
	if err := row.Scan(
		&order.ID, &order.Code, &order.CustomerID,
		&order.Receiver.Name, &order.Receiver.Phone, &order.Receiver.Address,
		&order.Subtotal, &order.ShippingFee, &order.Discount, &order.LoyaltyPointsUsed, &order.LoyaltyDiscount, &order.Total,
		&paymentMethod, &paymentStatus, &status,
		&promotionID, &order.Note, &cancelReason, &gatewayTxnID,
		&confirmedBy, &confirmedAt, &preparedAt, &shippedAt, &completedAt, &cancelledAt, &paidAt,
		&order.CreatedAt, &order.UpdatedAt,
	); err != nil {
		return domain.Order{}, err
	}
	order.PaymentMethod = domain.PaymentMethod(paymentMethod)
	order.PaymentStatus = domain.PaymentStatus(paymentStatus)
	order.Status = domain.OrderStatus(status)
	order.PromotionID = stringPtr(promotionID)
	order.CancelReason = stringPtr(cancelReason)
	order.GatewayTxnID = stringPtr(gatewayTxnID)
	order.ConfirmedBy = stringPtr(confirmedBy)
	order.ConfirmedAt = timePtr(confirmedAt)
	order.PreparedAt = timePtr(preparedAt)
	order.ShippedAt = timePtr(shippedAt)
	order.CompletedAt = timePtr(completedAt)
	order.CancelledAt = timePtr(cancelledAt)
	order.PaidAt = timePtr(paidAt)
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	return order, nil
}
