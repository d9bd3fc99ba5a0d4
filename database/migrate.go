package database

import (
	"fmt"

	"paylink_backend/internal/models"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Open connects GORM for the configured driver.
func Open(driver, dsn string, cfg *gorm.Config) (*gorm.DB, error) {
	if cfg == nil {
		cfg = &gorm.Config{}
	}
	cfg.TranslateError = true

	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to GORM: %w", err)
	}
	return db, nil
}

// Models lists every table owned by the lifecycle engine.
func Models() []interface{} {
	return []interface{}{
		&models.PaymentLink{},
		&models.Transaction{},
		&models.PaymentInitialization{},
		&models.FiatVerification{},
		&models.Payout{},
		&models.AuditLogEntry{},
	}
}

// Migrate runs AutoMigrate and installs the append-only guard on audit_logs.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	if err := installAuditGuard(db); err != nil {
		return fmt.Errorf("install audit guard: %w", err)
	}
	return nil
}

// installAuditGuard makes UPDATE and DELETE on audit_logs fail inside the
// database itself, so raw SQL cannot bypass the model hooks.
func installAuditGuard(db *gorm.DB) error {
	var statements []string

	switch db.Dialector.Name() {
	case "postgres":
		statements = []string{
			`CREATE OR REPLACE FUNCTION audit_logs_append_only() RETURNS trigger AS $$
BEGIN
	RAISE EXCEPTION 'audit_logs is append-only';
END;
$$ LANGUAGE plpgsql`,
			`DROP TRIGGER IF EXISTS audit_logs_no_mutation ON audit_logs`,
			`CREATE TRIGGER audit_logs_no_mutation BEFORE UPDATE OR DELETE ON audit_logs
FOR EACH ROW EXECUTE FUNCTION audit_logs_append_only()`,
		}
	case "mysql":
		statements = []string{
			`DROP TRIGGER IF EXISTS audit_logs_no_update`,
			`CREATE TRIGGER audit_logs_no_update BEFORE UPDATE ON audit_logs
FOR EACH ROW SIGNAL SQLSTATE '45000' SET MESSAGE_TEXT = 'audit_logs is append-only'`,
			`DROP TRIGGER IF EXISTS audit_logs_no_delete`,
			`CREATE TRIGGER audit_logs_no_delete BEFORE DELETE ON audit_logs
FOR EACH ROW SIGNAL SQLSTATE '45000' SET MESSAGE_TEXT = 'audit_logs is append-only'`,
		}
	case "sqlite":
		statements = []string{
			`CREATE TRIGGER IF NOT EXISTS audit_logs_no_update BEFORE UPDATE ON audit_logs
BEGIN SELECT RAISE(ABORT, 'audit_logs is append-only'); END`,
			`CREATE TRIGGER IF NOT EXISTS audit_logs_no_delete BEFORE DELETE ON audit_logs
BEGIN SELECT RAISE(ABORT, 'audit_logs is append-only'); END`,
		}
	default:
		return fmt.Errorf("no audit guard for dialect %q", db.Dialector.Name())
	}

	for _, stmt := range statements {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}
