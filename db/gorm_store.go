package db

import (
	"context"
	"fmt"

	"github.com/KAsare1/trx-gateway/cmd/models"
	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore keeps transactions in a relational table. Statements are
// prepared once per connection when the *gorm.DB was opened with
// PrepareStmt.
type GormStore struct {
	db    *gorm.DB
	table string
}

func NewGormStore(db *gorm.DB, table string) *GormStore {
	if table == "" {
		table = models.Transaction{}.TableName()
	}
	return &GormStore{db: db, table: table}
}

// Migrate creates the table if it is missing.
func (s *GormStore) Migrate() error {
	if err := s.db.Table(s.table).AutoMigrate(&models.Transaction{}); err != nil {
		return fmt.Errorf("error migrating %s table: %w", s.table, err)
	}
	return nil
}

// Insert writes trx, replacing any row that already has the same trx_id.
func (s *GormStore) Insert(ctx context.Context, trx *models.Transaction) error {
	err := s.db.WithContext(ctx).
		Table(s.table).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(trx).Error
	if err != nil {
		return fmt.Errorf("insert transaction %s: %w", trx.TrxID, err)
	}
	return nil
}

func (s *GormStore) List(ctx context.Context, limit int) ([]models.Transaction, error) {
	if limit < 1 {
		return nil, fmt.Errorf("%w: limit must be positive, got %d", ErrInvalidInput, limit)
	}
	var transactions []models.Transaction
	if err := s.db.WithContext(ctx).Table(s.table).Limit(limit).Find(&transactions).Error; err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	if transactions == nil {
		transactions = []models.Transaction{}
	}
	return transactions, nil
}

func (s *GormStore) ListByEmail(ctx context.Context, email string) ([]models.Transaction, error) {
	var transactions []models.Transaction
	if err := s.db.WithContext(ctx).Table(s.table).Where("email = ?", email).Find(&transactions).Error; err != nil {
		return nil, fmt.Errorf("list transactions for %s: %w", email, err)
	}
	if transactions == nil {
		transactions = []models.Transaction{}
	}
	return transactions, nil
}

// Truncate removes every row. sqlite has no TRUNCATE, so it gets an
// unqualified DELETE instead.
func (s *GormStore) Truncate(ctx context.Context) error {
	stmt := "DELETE FROM " + pq.QuoteIdentifier(s.table)
	if s.db.Dialector.Name() == "postgres" {
		stmt = "TRUNCATE TABLE " + pq.QuoteIdentifier(s.table)
	}
	if err := s.db.WithContext(ctx).Exec(stmt).Error; err != nil {
		return fmt.Errorf("truncate %s: %w", s.table, err)
	}
	return nil
}

func (s *GormStore) Count(ctx context.Context) (int64, error) {
	var total int64
	if err := s.db.WithContext(ctx).Table(s.table).Count(&total).Error; err != nil {
		return 0, fmt.Errorf("count transactions: %w", err)
	}
	return total, nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
