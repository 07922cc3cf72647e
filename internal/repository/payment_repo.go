package repository

import (
	"context"
	"time"

	"lodge-service/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PaymentUpdate: поля, которые меняются вместе со статусом платежа.
type PaymentUpdate struct {
	TransactionRef *string
	FailureKind    *models.FailureKind
	FailureReason  *string
	ClearFailure   bool
}

type PaymentRepo interface {
	Create(ctx context.Context, p *models.Payment) error
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.Payment, error)
	GetByIDForUpdate(ctx context.Context, tenantID, id uuid.UUID) (*models.Payment, error)
	GetByTransactionRef(ctx context.Context, tenantID uuid.UUID, ref string) (*models.Payment, error)
	ListByReservation(ctx context.Context, tenantID, reservationID uuid.UUID) ([]models.Payment, error)
	// CAS статуса платежа; записи в статусе paid/refunded больше не меняются.
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to models.PaymentStatus, upd PaymentUpdate) (bool, error)
	SumRefunded(ctx context.Context, refundOfID uuid.UUID) (int64, error)
	// Платежи в статусе status, не менявшиеся с before (по updated_at).
	ListStale(ctx context.Context, status models.PaymentStatus, before time.Time, limit int) ([]models.Payment, error)
}

type paymentRepo struct{ db *gorm.DB }

func NewPaymentRepo(db *gorm.DB) PaymentRepo { return &paymentRepo{db: db} }

func (r *paymentRepo) Create(ctx context.Context, p *models.Payment) error {
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *paymentRepo) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.Payment, error) {
	var p models.Payment
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *paymentRepo) GetByIDForUpdate(ctx context.Context, tenantID, id uuid.UUID) (*models.Payment, error) {
	var p models.Payment
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *paymentRepo) GetByTransactionRef(ctx context.Context, tenantID uuid.UUID, ref string) (*models.Payment, error) {
	var p models.Payment
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND transaction_ref = ? AND refund_of_id IS NULL", tenantID, ref).
		First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *paymentRepo) ListByReservation(ctx context.Context, tenantID, reservationID uuid.UUID) ([]models.Payment, error) {
	var list []models.Payment
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND reservation_id = ?", tenantID, reservationID).
		Order("created_at ASC, id ASC").
		Find(&list).Error
	return list, err
}

func (r *paymentRepo) TransitionStatus(ctx context.Context, id uuid.UUID, from, to models.PaymentStatus, upd PaymentUpdate) (bool, error) {
	fields := map[string]any{"status": to, "updated_at": time.Now().UTC()}
	if upd.TransactionRef != nil {
		fields["transaction_ref"] = *upd.TransactionRef
	}
	if upd.FailureKind != nil {
		fields["failure_kind"] = *upd.FailureKind
	}
	if upd.FailureReason != nil {
		fields["failure_reason"] = *upd.FailureReason
	}
	if upd.ClearFailure {
		fields["failure_kind"] = nil
		fields["failure_reason"] = nil
	}
	tx := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ? AND status = ?", id, from).
		Updates(fields)
	return tx.RowsAffected > 0, tx.Error
}

func (r *paymentRepo) SumRefunded(ctx context.Context, refundOfID uuid.UUID) (int64, error) {
	var sum int64
	err := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Select("COALESCE(SUM(amount_cents), 0)").
		Where("refund_of_id = ? AND status = ?", refundOfID, models.PaymentRefunded).
		Scan(&sum).Error
	return sum, err
}

func (r *paymentRepo) ListStale(ctx context.Context, status models.PaymentStatus, before time.Time, limit int) ([]models.Payment, error) {
	var list []models.Payment
	err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", status, before).
		Order("updated_at ASC").
		Limit(limit).
		Find(&list).Error
	return list, err
}
