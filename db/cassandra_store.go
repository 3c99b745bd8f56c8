package db

import (
	"context"
	"fmt"

	"github.com/KAsare1/trx-gateway/cmd/models"
	"github.com/gocql/gocql"
)

// cqlStatements holds the fully qualified statements for one table.
// gocql prepares every statement that carries bound values and caches the
// plan per host, so each of these is parsed once per connection.
type cqlStatements struct {
	insert   string
	list     string
	byEmail  string
	truncate string
	count    string
}

const trxColumns = "trx_id, firstname, lastname, email, price, prod_desc"

func newCQLStatements(keyspace, table string) cqlStatements {
	qualified := keyspace + "." + table
	return cqlStatements{
		insert:   "INSERT INTO " + qualified + " (" + trxColumns + ") VALUES (?, ?, ?, ?, ?, ?)",
		list:     "SELECT " + trxColumns + " FROM " + qualified + " LIMIT ?",
		byEmail:  "SELECT " + trxColumns + " FROM " + qualified + " WHERE email = ?",
		truncate: "TRUNCATE TABLE " + qualified,
		count:    "SELECT count(*) FROM " + qualified,
	}
}

// CassandraStore keeps transactions in a wide-column table whose trx_id
// column is a timeuuid. The email lookup relies on a secondary index.
type CassandraStore struct {
	session *gocql.Session
	stmts   cqlStatements
}

func NewCassandraStore(session *gocql.Session, keyspace, table string) *CassandraStore {
	return &CassandraStore{session: session, stmts: newCQLStatements(keyspace, table)}
}

func parseTrxID(raw string) (gocql.UUID, error) {
	id, err := gocql.ParseUUID(raw)
	if err != nil {
		return gocql.UUID{}, fmt.Errorf("%w: trx_id %q is not a uuid", ErrInvalidInput, raw)
	}
	return id, nil
}

func (s *CassandraStore) Insert(ctx context.Context, trx *models.Transaction) error {
	id, err := parseTrxID(trx.TrxID)
	if err != nil {
		return err
	}
	err = s.session.Query(s.stmts.insert,
		id, trx.Firstname, trx.Lastname, trx.Email, trx.Price, trx.ProdDesc,
	).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("insert transaction %s: %w", trx.TrxID, err)
	}
	return nil
}

func (s *CassandraStore) List(ctx context.Context, limit int) ([]models.Transaction, error) {
	if limit < 1 {
		return nil, fmt.Errorf("%w: limit must be positive, got %d", ErrInvalidInput, limit)
	}
	transactions, err := s.scan(ctx, s.stmts.list, limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return transactions, nil
}

func (s *CassandraStore) ListByEmail(ctx context.Context, email string) ([]models.Transaction, error) {
	transactions, err := s.scan(ctx, s.stmts.byEmail, email)
	if err != nil {
		return nil, fmt.Errorf("list transactions for %s: %w", email, err)
	}
	return transactions, nil
}

func (s *CassandraStore) scan(ctx context.Context, stmt string, values ...interface{}) ([]models.Transaction, error) {
	scanner := s.session.Query(stmt, values...).WithContext(ctx).Iter().Scanner()

	transactions := []models.Transaction{}
	for scanner.Next() {
		var (
			id  gocql.UUID
			trx models.Transaction
		)
		if err := scanner.Scan(&id, &trx.Firstname, &trx.Lastname, &trx.Email, &trx.Price, &trx.ProdDesc); err != nil {
			return nil, err
		}
		trx.TrxID = id.String()
		transactions = append(transactions, trx)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return transactions, nil
}

func (s *CassandraStore) Truncate(ctx context.Context) error {
	if err := s.session.Query(s.stmts.truncate).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("truncate: %w", err)
	}
	return nil
}

func (s *CassandraStore) Count(ctx context.Context) (int64, error) {
	var total int64
	if err := s.session.Query(s.stmts.count).WithContext(ctx).Scan(&total); err != nil {
		return 0, fmt.Errorf("count transactions: %w", err)
	}
	return total, nil
}

func (s *CassandraStore) Close() error {
	s.session.Close()
	return nil
}
