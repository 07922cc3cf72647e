package migrate

import (
	"context"

	"lodge-service/internal/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type MigrateOptions struct {
	CreateExtensions       bool // pgcrypto
	CreateChecks           bool // CHECK-constraint'ы
	CreateIndexes          bool // индексы и UNIQUE
	CreateFKsViaSQL        bool // FK через Exec после AutoMigrate
	CreateUpdatedAtTrigger bool // триггеры updated_at
}

func DefaultMigrateOptions() MigrateOptions {
	return MigrateOptions{
		CreateExtensions:       true,
		CreateChecks:           true,
		CreateIndexes:          true,
		CreateFKsViaSQL:        true,
		CreateUpdatedAtTrigger: true,
	}
}

type step struct {
	name string
	sql  string
}

func exec(db *gorm.DB, log *zap.Logger, steps []step) error {
	for _, s := range steps {
		if err := db.Exec(s.sql).Error; err != nil {
			log.Error(s.name, zap.Error(err))
			return err
		}
	}
	return nil
}

func MigrateLodgeDB(ctx context.Context, db *gorm.DB, log *zap.Logger, opt MigrateOptions) error {
	db = db.WithContext(ctx)
	log.Info("Начало миграции базы бронирований")

	if opt.CreateExtensions {
		log.Info("Создание расширений PostgreSQL")
		if err := exec(db, log, []step{{"pgcrypto error", `CREATE EXTENSION IF NOT EXISTS pgcrypto`}}); err != nil {
			return err
		}
		log.Info("Расширения созданы")
	}

	log.Info("Создание таблиц: tenants, room_types, rooms, reservations, reservation_rooms, payments, reservation_status_events")
	if err := db.AutoMigrate(
		&models.Tenant{},
		&models.RoomType{},
		&models.Room{},
		&models.Reservation{},
		&models.ReservationRoom{},
		&models.Payment{},
		&models.ReservationStatusEvent{},
	); err != nil {
		log.Error("AutoMigrate error", zap.Error(err))
		return err
	}
	log.Info("Таблицы созданы")

	if opt.CreateUpdatedAtTrigger {
		log.Info("Создание триггеров updated_at")
		if err := exec(db, log, []step{{"triggers error", `
CREATE OR REPLACE FUNCTION set_updated_at() RETURNS trigger AS $$
BEGIN NEW.updated_at = now(); RETURN NEW; END; $$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS trg_room_types_updated ON room_types;
CREATE TRIGGER trg_room_types_updated BEFORE UPDATE ON room_types
FOR EACH ROW EXECUTE FUNCTION set_updated_at();

DROP TRIGGER IF EXISTS trg_rooms_updated ON rooms;
CREATE TRIGGER trg_rooms_updated BEFORE UPDATE ON rooms
FOR EACH ROW EXECUTE FUNCTION set_updated_at();

DROP TRIGGER IF EXISTS trg_reservations_updated ON reservations;
CREATE TRIGGER trg_reservations_updated BEFORE UPDATE ON reservations
FOR EACH ROW EXECUTE FUNCTION set_updated_at();
`}}); err != nil {
			return err
		}
		log.Info("Триггеры созданы")
	}

	if opt.CreateChecks {
		log.Info("Создание CHECK-ограничений")
		if err := exec(db, log, []step{
			{"chk room_types", `
ALTER TABLE room_types
	DROP CONSTRAINT IF EXISTS chk_room_types_non_negative,
	ADD CONSTRAINT chk_room_types_non_negative
	CHECK (max_occupancy >= 1 AND base_price_cents >= 0 AND total_units >= 0);`},
			{"chk rooms.status", `
ALTER TABLE rooms
	DROP CONSTRAINT IF EXISTS chk_rooms_status_allowed,
	ADD CONSTRAINT chk_rooms_status_allowed
	CHECK (status IN ('available','occupied','reserved','dirty','out_of_service'));`},
			{"chk reservations.dates", `
ALTER TABLE reservations
	DROP CONSTRAINT IF EXISTS chk_reservations_dates,
	ADD CONSTRAINT chk_reservations_dates
	CHECK (check_out > check_in);`},
			{"chk reservations.status", `
ALTER TABLE reservations
	DROP CONSTRAINT IF EXISTS chk_reservations_status_allowed,
	ADD CONSTRAINT chk_reservations_status_allowed
	CHECK (status IN ('inquiry','pending','confirmed','checked_in','checked_out','cancelled','no_show'));`},
			{"chk reservations.reference", `
ALTER TABLE reservations
	DROP CONSTRAINT IF EXISTS chk_reservations_reference_format,
	ADD CONSTRAINT chk_reservations_reference_format
	CHECK (booking_reference ~ '^LDG-[A-Z0-9]{6}$');`},
			{"chk reservations.total", `
ALTER TABLE reservations
	DROP CONSTRAINT IF EXISTS chk_reservations_total_non_negative,
	ADD CONSTRAINT chk_reservations_total_non_negative
	CHECK (total_amount_cents >= 0);`},
			{"chk reservation_rooms.price", `
ALTER TABLE reservation_rooms
	DROP CONSTRAINT IF EXISTS chk_reservation_rooms_price,
	ADD CONSTRAINT chk_reservation_rooms_price
	CHECK (price_per_night_cents >= 0);`},
			{"chk payments.amount", `
ALTER TABLE payments
	DROP CONSTRAINT IF EXISTS chk_payments_amount_positive,
	ADD CONSTRAINT chk_payments_amount_positive
	CHECK (amount_cents > 0);`},
			{"chk payments.status", `
ALTER TABLE payments
	DROP CONSTRAINT IF EXISTS chk_payments_status_allowed,
	ADD CONSTRAINT chk_payments_status_allowed
	CHECK (status IN ('initiated','pending','paid','failed','refunded'));`},
			{"chk payments.method", `
ALTER TABLE payments
	DROP CONSTRAINT IF EXISTS chk_payments_method_allowed,
	ADD CONSTRAINT chk_payments_method_allowed
	CHECK (method IN ('cash','card','mobile_money','bank_transfer','online','pay_at_lodge'));`},
		}); err != nil {
			return err
		}
		log.Info("CHECK-и созданы")
	}

	if opt.CreateIndexes {
		log.Info("Создание индексов и уникальностей")
		if err := exec(db, log, []step{
			{"ux room_types tenant_name", `
CREATE UNIQUE INDEX IF NOT EXISTS ux_room_types_tenant_name
ON room_types (tenant_id, lower(name));`},
			{"ux rooms tenant_number", `
CREATE UNIQUE INDEX IF NOT EXISTS ux_rooms_tenant_number
ON rooms (tenant_id, number);`},
			// Номер брони уникален в разрезе арендатора
			{"ux reservations tenant_reference", `
CREATE UNIQUE INDEX IF NOT EXISTS ux_reservations_tenant_reference
ON reservations (tenant_id, booking_reference);`},
			{"ux reservations tenant_idempotency", `
CREATE UNIQUE INDEX IF NOT EXISTS ux_reservations_tenant_idempotency
ON reservations (tenant_id, idempotency_key) WHERE idempotency_key IS NOT NULL;`},
			{"ux payments tenant_tx_ref", `
CREATE UNIQUE INDEX IF NOT EXISTS ux_payments_tenant_tx_ref
ON payments (tenant_id, transaction_ref) WHERE transaction_ref IS NOT NULL AND refund_of_id IS NULL;`},
			{"ix reservations tenant_dates", `
CREATE INDEX IF NOT EXISTS ix_reservations_tenant_status_dates
ON reservations (tenant_id, status, check_in, check_out);`},
			{"ix rooms allocation", `
CREATE INDEX IF NOT EXISTS ix_rooms_tenant_type_status
ON rooms (tenant_id, room_type_id, status);`},
		}); err != nil {
			return err
		}
		log.Info("Индексы созданы")
	}

	if opt.CreateFKsViaSQL {
		log.Info("Создание внешних ключей")
		if err := exec(db, log, []step{
			{"fk room_types.tenant", `
ALTER TABLE room_types DROP CONSTRAINT IF EXISTS fk_room_types_tenant,
	ADD CONSTRAINT fk_room_types_tenant FOREIGN KEY (tenant_id) REFERENCES tenants(id) ON DELETE RESTRICT;`},
			{"fk rooms.tenant", `
ALTER TABLE rooms DROP CONSTRAINT IF EXISTS fk_rooms_tenant,
	ADD CONSTRAINT fk_rooms_tenant FOREIGN KEY (tenant_id) REFERENCES tenants(id) ON DELETE RESTRICT;`},
			{"fk rooms.room_type", `
ALTER TABLE rooms DROP CONSTRAINT IF EXISTS fk_rooms_room_type,
	ADD CONSTRAINT fk_rooms_room_type FOREIGN KEY (room_type_id) REFERENCES room_types(id) ON DELETE RESTRICT;`},
			{"fk reservations.tenant", `
ALTER TABLE reservations DROP CONSTRAINT IF EXISTS fk_reservations_tenant,
	ADD CONSTRAINT fk_reservations_tenant FOREIGN KEY (tenant_id) REFERENCES tenants(id) ON DELETE RESTRICT;`},
			{"fk reservation_rooms.reservation", `
ALTER TABLE reservation_rooms DROP CONSTRAINT IF EXISTS fk_reservation_rooms_reservation,
	ADD CONSTRAINT fk_reservation_rooms_reservation FOREIGN KEY (reservation_id) REFERENCES reservations(id) ON DELETE RESTRICT;`},
			{"fk reservation_rooms.room_type", `
ALTER TABLE reservation_rooms DROP CONSTRAINT IF EXISTS fk_reservation_rooms_room_type,
	ADD CONSTRAINT fk_reservation_rooms_room_type FOREIGN KEY (room_type_id) REFERENCES room_types(id) ON DELETE RESTRICT;`},
			{"fk reservation_rooms.room", `
ALTER TABLE reservation_rooms DROP CONSTRAINT IF EXISTS fk_reservation_rooms_room,
	ADD CONSTRAINT fk_reservation_rooms_room FOREIGN KEY (room_id) REFERENCES rooms(id) ON DELETE RESTRICT;`},
			{"fk payments.reservation", `
ALTER TABLE payments DROP CONSTRAINT IF EXISTS fk_payments_reservation,
	ADD CONSTRAINT fk_payments_reservation FOREIGN KEY (reservation_id) REFERENCES reservations(id) ON DELETE RESTRICT;`},
			{"fk payments.refund_of", `
ALTER TABLE payments DROP CONSTRAINT IF EXISTS fk_payments_refund_of,
	ADD CONSTRAINT fk_payments_refund_of FOREIGN KEY (refund_of_id) REFERENCES payments(id) ON DELETE RESTRICT;`},
			{"fk status_events.reservation", `
ALTER TABLE reservation_status_events DROP CONSTRAINT IF EXISTS fk_status_events_reservation,
	ADD CONSTRAINT fk_status_events_reservation FOREIGN KEY (reservation_id) REFERENCES reservations(id) ON DELETE RESTRICT;`},
		}); err != nil {
			return err
		}
		log.Info("Внешние ключи созданы")
	}

	log.Info("Миграция базы бронирований завершена")
	return nil
}
