package migrations

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestLoadOrdersByVersion(t *testing.T) {
	migrations, err := Load()
	require.NoError(t, err)
	require.NotEmpty(t, migrations)
	for i := 1; i < len(migrations); i++ {
		require.Less(t, migrations[i-1].Version, migrations[i].Version)
	}
	require.Equal(t, "0001_stock", migrations[0].Version)
}

func TestSchemaCoversRepositoryTables(t *testing.T) {
	migrations, err := Load()
	require.NoError(t, err)
	var all strings.Builder
	for _, m := range migrations {
		all.WriteString(m.SQL)
	}
	schema := all.String()
	for _, table := range []string{
		"branch_inventory",
		"consignment_inventory",
		"stock_ledger",
		"consignment_deliveries",
		"consignment_delivery_lines",
		"branch_deliveries",
		"documents",
		"idempotency_keys",
		"audit_logs",
	} {
		require.Contains(t, schema, "CREATE TABLE IF NOT EXISTS "+table+" (", table)
	}
	require.Contains(t, schema, "UNIQUE (doc_type, doc_no)")
	require.Contains(t, schema, "CHECK (on_hand >= 0)")
}

// schemaStore stands in for a database shared by several replicas. Writes become
// visible to other transactions only on commit, as with ReadCommitted.
type schemaStore struct {
	mu        sync.Mutex
	committed map[string]bool
	isoLevels []pgx.TxIsoLevel
	firstStmt []string
	scripts   int
}

func (s *schemaStore) BeginTx(_ context.Context, opts pgx.TxOptions) (pgx.Tx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isoLevels = append(s.isoLevels, opts.IsoLevel)
	return &schemaTx{store: s}, nil
}

type schemaTx struct {
	pgx.Tx
	store   *schemaStore
	stmts   []string
	pending []string
}

func (tx *schemaTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	tx.stmts = append(tx.stmts, sql)
	switch {
	case strings.HasPrefix(sql, "INSERT INTO schema_migrations"):
		version := args[0].(string)
		tx.store.mu.Lock()
		defer tx.store.mu.Unlock()
		if tx.store.committed[version] {
			return pgconn.CommandTag{}, &pgconn.PgError{Code: "23505"}
		}
		tx.pending = append(tx.pending, version)
	case strings.HasPrefix(sql, "CREATE TABLE IF NOT EXISTS branch_inventory"),
		strings.HasPrefix(sql, "CREATE TABLE IF NOT EXISTS consignment_deliveries"),
		strings.HasPrefix(sql, "CREATE TABLE IF NOT EXISTS documents"),
		strings.HasPrefix(sql, "CREATE TABLE IF NOT EXISTS idempotency_keys"):
		tx.store.mu.Lock()
		tx.store.scripts++
		tx.store.mu.Unlock()
	}
	return pgconn.NewCommandTag("OK"), nil
}

func (tx *schemaTx) QueryRow(_ context.Context, _ string, args ...any) pgx.Row {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	return existsRow(tx.store.committed[args[0].(string)])
}

func (tx *schemaTx) Commit(context.Context) error {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	if len(tx.stmts) > 0 {
		tx.store.firstStmt = append(tx.store.firstStmt, tx.stmts[0])
	}
	for _, v := range tx.pending {
		tx.store.committed[v] = true
	}
	tx.pending = nil
	return nil
}

func (tx *schemaTx) Rollback(context.Context) error {
	tx.pending = nil
	return nil
}

type existsRow bool

func (r existsRow) Scan(dest ...any) error {
	if len(dest) != 1 {
		return errors.New("unexpected scan arity")
	}
	*dest[0].(*bool) = bool(r)
	return nil
}

func TestApplySkipsVersionsCommittedByAnotherReplica(t *testing.T) {
	store := &schemaStore{committed: map[string]bool{}}
	migrations, err := Load()
	require.NoError(t, err)

	applied, err := Apply(context.Background(), store, nil)
	require.NoError(t, err)
	require.Equal(t, len(migrations), applied)
	scripts := store.scripts

	applied, err = Apply(context.Background(), store, nil)
	require.NoError(t, err)
	require.Zero(t, applied)
	require.Equal(t, scripts, store.scripts, "no script runs twice")

	for _, level := range store.isoLevels {
		require.Equal(t, pgx.ReadCommitted, level)
	}
	for _, stmt := range store.firstStmt {
		require.Contains(t, stmt, "pg_advisory_xact_lock")
	}
}
