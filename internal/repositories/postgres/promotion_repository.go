package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/shopspring/decimal"

	domain "github.com/medimart/api/internal/domain"
	"github.com/medimart/api/internal/platform/database"
	"github.com/medimart/api/internal/platform/pagination"
	"github.com/medimart/api/internal/repositories"
)

const promotionColumns = `id, code, discount_type, discount_value, max_discount, min_order_amount, eligible_tier,
	starts_at, ends_at, usage_limit, used_count, usage_per_customer, active`

// PromotionRepository reads promotion definitions and owns the global usage counter.
type PromotionRepository struct {
	db *database.DB
}

var _ repositories.PromotionRepository = (*PromotionRepository)(nil)

func NewPromotionRepository(db *database.DB) (*PromotionRepository, error) {
	if db == nil {
		return nil, errors.New("promotion repository: database is required")
	}
	return &PromotionRepository{db: db}, nil
}

func (r *PromotionRepository) FindByCode(ctx context.Context, code string) (domain.Promotion, error) {
	return r.findOne(ctx, "promotions.find_by_code", `code = ?`, code)
}

func (r *PromotionRepository) FindByID(ctx context.Context, promotionID string) (domain.Promotion, error) {
	return r.findOne(ctx, "promotions.find_by_id", `id = ?`, promotionID)
}

func (r *PromotionRepository) findOne(ctx context.Context, op, predicate, arg string) (domain.Promotion, error) {
	promo, err := scanPromotion(r.db.QueryRow(ctx, `SELECT `+promotionColumns+` FROM promotions WHERE `+predicate, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Promotion{}, database.NotFound(op, "promotion %s not found", arg)
	}
	if err != nil {
		return domain.Promotion{}, database.WrapError(op, err)
	}
	return promo, nil
}

// IncrementUsed bumps used_count unless the promotion is at its usage limit.
func (r *PromotionRepository) IncrementUsed(ctx context.Context, promotionID string) (bool, error) {
	const op = "promotions.increment_used"
	result, err := r.db.Exec(ctx,
		`UPDATE promotions SET used_count = used_count + 1
		WHERE id = ? AND (usage_limit IS NULL OR used_count < usage_limit)`,
		promotionID,
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

// ReleaseUsed undoes one IncrementUsed when a later step of the same redemption fails.
func (r *PromotionRepository) ReleaseUsed(ctx context.Context, promotionID string) error {
	const op = "promotions.release_used"
	result, err := r.db.Exec(ctx,
		`UPDATE promotions SET used_count = used_count - 1 WHERE id = ? AND used_count > 0`,
		promotionID,
	)
	if err != nil {
		return database.WrapError(op, err)
	}
	affected, err := rowsAffected(result)
	if err != nil {
		return database.WrapError(op, err)
	}
	if affected == 0 {
		return database.NotFound(op, "promotion %s has no usage to release", promotionID)
	}
	return nil
}

func scanPromotion(row rowScanner) (domain.Promotion, error) {
	var (
		promo                        domain.Promotion
		discountType                 string
		maxDiscount                  decimal.NullDecimal
		startsAt, endsAt             sql.NullTime
		usageLimit, usagePerCustomer sql.NullInt64
	)
	if err := row.Scan(
		&promo.ID, &promo.Code, &discountType, &promo.DiscountValue, &maxDiscount, &promo.MinOrderAmount, &promo.EligibleTier,
		&startsAt, &endsAt, &usageLimit, &promo.UsedCount, &usagePerCustomer, &promo.Active,
	); err != nil {
		return domain.Promotion{}, err
	}
	promo.DiscountType = domain.DiscountType(discountType)
	promo.MaxDiscount = decimalPtr(maxDiscount)
	promo.StartsAt = timePtr(startsAt)
	promo.EndsAt = timePtr(endsAt)
	promo.UsageLimit = int64Ptr(usageLimit)
	promo.UsagePerCustomer = int64Ptr(usagePerCustomer)
	return promo, nil
}

// PromotionUsageRepository tracks per-customer counters and the redemption log.
type PromotionUsageRepository struct {
	db *database.DB
}

var _ repositories.PromotionUsageRepository = (*PromotionUsageRepository)(nil)

func NewPromotionUsageRepository(db *database.DB) (*PromotionUsageRepository, error) {
	if db == nil {
		return nil, errors.New("promotion usage repository: database is required")
	}
	return &PromotionUsageRepository{db: db}, nil
}

func (r *PromotionUsageRepository) CountByCustomer(ctx context.Context, promotionID, customerID string) (int64, error) {
	const op = "promotion_customer_usage.count"
	var used int64
	err := r.db.QueryRow(ctx,
		`SELECT used FROM promotion_customer_usage WHERE promotion_id = ? AND customer_id = ?`,
		promotionID, customerID,
	).Scan(&used)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, database.WrapError(op, err)
	}
	return used, nil
}

// IncrementCustomer upserts the per-customer counter. With a limit, the update
// only applies while the counter is below it.
func (r *PromotionUsageRepository) IncrementCustomer(ctx context.Context, promotionID, customerID string, limit *int64) (bool, error) {
	const op = "promotion_customer_usage.increment"
	if limit != nil && *limit <= 0 {
		return false, nil
	}

	query := `INSERT INTO promotion_customer_usage (promotion_id, customer_id, used) VALUES (?, ?, 1)
		ON CONFLICT (promotion_id, customer_id) DO UPDATE SET used = promotion_customer_usage.used + 1`
	args := []any{promotionID, customerID}
	if limit != nil {
		query += ` WHERE promotion_customer_usage.used < ?`
		args = append(args, *limit)
	}

	result, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return false, database.WrapError(op, err)
	}
	affected, err := rowsAffected(result)
	if err != nil {
		return false, database.WrapError(op, err)
	}
	return affected >= 1, nil
}

func (r *PromotionUsageRepository) Insert(ctx context.Context, usage domain.PromotionUsage) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO promotion_usages (id, promotion_id, customer_id, order_id, discount, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		usage.ID, usage.PromotionID, usage.CustomerID, usage.OrderID, usage.Discount, usage.CreatedAt.UTC(),
	)
	return database.WrapError("promotion_usages.insert", err)
}

// ListByPromotion pages the redemption log newest first.
func (r *PromotionUsageRepository) ListByPromotion(ctx context.Context, promotionID string, pager domain.Pagination) (domain.CursorPage[domain.PromotionUsage], error) {
	const op = "promotion_usages.list"
	cursor, err := pagination.DecodeToken(pager.PageToken)
	if err != nil {
		return domain.CursorPage[domain.PromotionUsage]{}, err
	}
	pageSize := pagination.Normalize(pager.PageSize)

	query := `SELECT id, promotion_id, customer_id, order_id, discount, created_at FROM promotion_usages WHERE promotion_id = ?`
	args := []any{promotionID}
	if !cursor.IsZero() {
		query += ` AND (created_at < ? OR (created_at = ? AND id < ?))`
		args = append(args, cursor.CreatedAt.UTC(), cursor.CreatedAt.UTC(), cursor.ID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, pageSize+1)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return domain.CursorPage[domain.PromotionUsage]{}, database.WrapError(op, err)
	}
	defer rows.Close()

	usages := make([]domain.PromotionUsage, 0, pageSize)
	for rows.Next() {
		var usage domain.PromotionUsage
		if err := rows.Scan(&usage.ID, &usage.PromotionID, &usage.CustomerID, &usage.OrderID, &usage.Discount, &usage.CreatedAt); err != nil {
			return domain.CursorPage[domain.PromotionUsage]{}, database.WrapError(op, err)
		}
		usage.CreatedAt = usage.CreatedAt.UTC()
		usages = append(usages, usage)
	}
	if err := rows.Err(); err != nil {
		return domain.CursorPage[domain.PromotionUsage]{}, database.WrapError(op, err)
	}

	page := domain.CursorPage[domain.PromotionUsage]{Items: usages}
	if len(usages) > pageSize {
		page.Items = usages[:pageSize]
		last := page.Items[pageSize-1]
		token, err := pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
		if err != nil {
			return domain.CursorPage[domain.PromotionUsage]{}, err
		}
		page.NextPageToken = token
	}
	return page, nil
}
