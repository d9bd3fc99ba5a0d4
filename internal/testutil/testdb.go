package testutil

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"paylink_backend/database"
	"paylink_backend/internal/models"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// NewDB opens a migrated SQLite database in the test's temp dir. A single
// connection serialises concurrent callers the way row locks would.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", filepath.Join(t.TempDir(), "test.db"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get *sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate test database: %v", err)
	}
	return db
}

// Clock is a settable time source; pass clock.Now where a services.Clock is
// expected.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(now time.Time) *Clock {
	return &Clock{now: now.UTC()}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// CreatePaymentLink stores an active link owned by merchantID.
func CreatePaymentLink(t *testing.T, db *gorm.DB, merchantID, amount, currency string) *models.PaymentLink {
	t.Helper()

	link := &models.PaymentLink{
		MerchantID: merchantID,
		Title:      "Test link",
		Amount:     amount,
		Currency:   currency,
		Active:     true,
	}
	if err := db.Create(link).Error; err != nil {
		t.Fatalf("create payment link: %v", err)
	}
	return link
}

// DeactivateLink flips Active after insert; gorm skips a false bool on
// create and the column default would win.
func DeactivateLink(t *testing.T, db *gorm.DB, link *models.PaymentLink) {
	t.Helper()
	if err := db.Model(link).Update("active", false).Error; err != nil {
		t.Fatalf("deactivate payment link: %v", err)
	}
	link.Active = false
}

// CreateTransaction stores a transaction for link in the given state, created
// at now. mutate may adjust any field before insert.
func CreateTransaction(t *testing.T, db *gorm.DB, link *models.PaymentLink, state models.TransactionState, now time.Time, mutate func(*models.Transaction)) *models.Transaction {
	t.Helper()

	txn := &models.Transaction{
		BaseModel: models.BaseModel{
			CreatedAt: now,
			UpdatedAt: now,
		},
		PaymentLinkID: link.ID,
		Reference:     fmt.Sprintf("TXN-%s-%012d", now.Format("20060102"), nextSeq()),
		State:         state,
		Amount:        link.Amount,
		Currency:      link.Currency,
		ExpiresAt:     now.Add(models.TransactionTTL),
	}
	if state != models.StatePending {
		ext := "ext-" + txn.Reference
		txn.ExternalReference = &ext
	}
	if mutate != nil {
		mutate(txn)
	}
	if err := db.Create(txn).Error; err != nil {
		t.Fatalf("create transaction: %v", err)
	}
	return txn
}

// Reload reads the transaction back from the database.
func Reload(t *testing.T, db *gorm.DB, id string) *models.Transaction {
	t.Helper()
	var txn models.Transaction
	if err := db.First(&txn, "id = ?", id).Error; err != nil {
		t.Fatalf("reload transaction %s: %v", id, err)
	}
	return &txn
}

// AuditEntries returns every entry for the entity, oldest first.
func AuditEntries(t *testing.T, db *gorm.DB, entityType models.EntityType, entityID string) []models.AuditLogEntry {
	t.Helper()
	var entries []models.AuditLogEntry
	err := db.Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Order("timestamp ASC, id ASC").
		Find(&entries).Error
	if err != nil {
		t.Fatalf("load audit entries: %v", err)
	}
	return entries
}

// CountActions counts entries with action among entries.
func CountActions(entries []models.AuditLogEntry, action models.AuditAction) int {
	n := 0
	for _, e := range entries {
		if e.Action == action {
			n++
		}
	}
	return n
}

var (
	seqMu sync.Mutex
	seq   int
)

func nextSeq() int {
	seqMu.Lock()
	defer seqMu.Unlock()
	seq++
	return seq
}
