package mysql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"sync/atomic"
	"testing"
)

func TestFileJournalRecordAndRestore(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	journal, err := NewFileJournal(dir)
	if err != nil {
		t.Fatalf("failed to create file journal: %v", err)
	}

	ctx := context.Background()
	id := uint64(4)
	for i, op := range []Operation{OpCreateAgreement, OpAcceptProposal, OpMarkCompleted} {
		entry := JournalEntry{Operation: op, Network: "devnet", AgreementID: &id, Account: "0xc1", TxHash: fmt.Sprintf("0x%02d", i), RecordedAt: int64(100 + i)}
		if err := journal.Record(ctx, entry); err != nil {
			t.Fatalf("record %s failed: %v", op, err)
		}
	}

	recent, err := journal.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("recent failed: %v", err)
	}
	if len(recent) != 2 || recent[0].Operation != OpMarkCompleted || recent[0].ID == "" {
		t.Fatalf("unexpected recent entries: %+v", recent)
	}

	reopened, err := NewFileJournal(dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	restored, _ := reopened.Recent(ctx, 0)
	if len(restored) != 3 || restored[2].Operation != OpCreateAgreement {
		t.Fatalf("journal not restored in order: %+v", restored)
	}
	if restored[0].AgreementID == nil || *restored[0].AgreementID != 4 {
		t.Fatalf("agreement id lost: %+v", restored[0])
	}
}

func TestSQLJournalRecord(t *testing.T) {
	t.Parallel()

	db, drv := newMockDB(t, []mockOperation{
		execOp(insertJournalSQL, mockResult{rowsAffected: 1}),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	journal := &SQLJournal{db: db}
	err := journal.Record(context.Background(), JournalEntry{Operation: OpSubmitRating, Network: "devnet", Account: "0xc1", Counterparty: "0xp1", TxHash: "0xab"})
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}
}

func TestSQLJournalRecent(t *testing.T) {
	t.Parallel()

	rows := mockRowsData{
		columns: []string{"id", "operation", "network", "agreement_id", "account", "counterparty", "amount", "state", "tx_hash", "block_number", "recorded_at"},
		values: [][]driver.Value{
			{"b", "submit_rating", "devnet", nil, "0xc1", "0xp1", "", "", "0x02", int64(9), int64(20)},
			{"a", "create_agreement", "devnet", int64(0), "0xc1", "0xp1", "5", "proposed", "0x01", int64(8), int64(10)},
		},
	}
	db, drv := newMockDB(t, []mockOperation{
		queryOp(selectRecentJournalSQL, rows),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	journal := &SQLJournal{db: db}
	entries, err := journal.Recent(context.Background(), 2)
	if err != nil {
		t.Fatalf("recent failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("unexpected entries: %+v", entries)
	}
	if entries[0].AgreementID != nil || entries[0].Operation != OpSubmitRating {
		t.Fatalf("unexpected first entry: %+v", entries[0])
	}
	if entries[1].AgreementID == nil || *entries[1].AgreementID != 0 || entries[1].BlockNumber != 8 {
		t.Fatalf("unexpected second entry: %+v", entries[1])
	}
}

func TestSQLJournalRecordFailure(t *testing.T) {
	t.Parallel()

	op := execOp(insertJournalSQL, mockResult{})
	op.err = fmt.Errorf("deadlock")
	db, drv := newMockDB(t, []mockOperation{op})
	defer drv.assertConsumed(t)
	defer db.Close()

	if err := (&SQLJournal{db: db}).Record(context.Background(), JournalEntry{TxHash: "0x1"}); err == nil {
		t.Fatalf("expected storage failure")
	}
}

func TestRunMigrations(t *testing.T) {
	t.Parallel()

	ops := []mockOperation{
		execOp(createMigrationsTable, mockResult{}),
		queryOp(`SELECT version FROM schema_migrations`, mockRowsData{columns: []string{"version"}}),
		beginOp(),
		execOp(readMigrationStatement(t), mockResult{}),
		execOp(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`, mockResult{rowsAffected: 1}),
		commitOp(),
	}
	db, drv := newMockDB(t, ops)
	defer drv.assertConsumed(t)
	defer db.Close()

	if err := runMigrations(context.Background(), db); err != nil {
		t.Fatalf("run migrations failed: %v", err)
	}
}

func TestRunMigrationsSkipsApplied(t *testing.T) {
	t.Parallel()

	ops := []mockOperation{
		execOp(createMigrationsTable, mockResult{}),
		queryOp(`SELECT version FROM schema_migrations`, mockRowsData{columns: []string{"version"}, values: [][]driver.Value{{"0001"}}}),
	}
	db, drv := newMockDB(t, ops)
	defer drv.assertConsumed(t)
	defer db.Close()

	if err := runMigrations(context.Background(), db); err != nil {
		t.Fatalf("run migrations failed: %v", err)
	}
}

func TestNormalizeDSN(t *testing.T) {
	dsn, err := normalizeDSN("creatord:secret@tcp(127.0.0.1:3306)/creatord")
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if !strings.Contains(dsn, "parseTime=true") {
		t.Fatalf("parseTime not enabled: %s", dsn)
	}
	if _, err := normalizeDSN("not a dsn"); err == nil {
		t.Fatalf("expected invalid dsn error")
	}
}

func readMigrationStatement(t *testing.T) string {
	t.Helper()
	content, err := fs.ReadFile(embeddedMigrations, "0001_create_ledger_journal.sql")
	if err != nil {
		t.Fatalf("failed to read migration: %v", err)
	}
	statements := splitSQLStatements(string(content))
	if len(statements) != 1 {
		t.Fatalf("expected one statement, got %d", len(statements))
	}
	return statements[0]
}

type operationType int

const (
	opExec operationType = iota
	opQuery
	opBegin
	opCommit
	opRollback
)

type mockOperation struct {
	typ    operationType
	query  string
	result mockResult
	rows   mockRowsData
	err    error
}

type mockResult struct {
	lastInsertID int64
	rowsAffected int64
}

func (r mockResult) LastInsertId() (int64, error) { return r.lastInsertID, nil }
func (r mockResult) RowsAffected() (int64, error) { return r.rowsAffected, nil }

type mockRowsData struct {
	columns []string
	values  [][]driver.Value
}

type queueDriver struct {
	ops []mockOperation
	idx int32
}

var driverSeq atomic.Int32

func newMockDB(t *testing.T, ops []mockOperation) (*sql.DB, *queueDriver) {
	t.Helper()

	drv := &queueDriver{ops: ops}
	name := fmt.Sprintf("mock-mysql-%d", driverSeq.Add(1))
	sql.Register(name, drv)

	db, err := sql.Open(name, "")
	if err != nil {
		t.Fatalf("open mock db failed: %v", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, drv
}

func execOp(query string, result mockResult) mockOperation {
	return mockOperation{typ: opExec, query: query, result: result}
}

func queryOp(query string, rows mockRowsData) mockOperation {
	return mockOperation{typ: opQuery, query: query, rows: rows}
}

func beginOp() mockOperation { return mockOperation{typ: opBegin} }

func commitOp() mockOperation { return mockOperation{typ: opCommit} }

func (d *queueDriver) assertConsumed(t *testing.T) {
	t.Helper()

	if int(atomic.LoadInt32(&d.idx)) != len(d.ops) {
		t.Fatalf("not all operations consumed: %d/%d", atomic.LoadInt32(&d.idx), len(d.ops))
	}
}

func (d *queueDriver) Open(string) (driver.Conn, error) {
	return &mockConn{driver: d}, nil
}

type mockConn struct {
	driver *queueDriver
}

func (c *mockConn) Prepare(query string) (driver.Stmt, error) {
	return nil, fmt.Errorf("prepare not supported: %s", query)
}

func (c *mockConn) Close() error { return nil }

func (c *mockConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *mockConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	op, err := c.driver.next(opBegin, "")
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return &mockTx{driver: c.driver}, nil
}

func (c *mockConn) ExecContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Result, error) {
	op, err := c.driver.next(opExec, query)
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return op.result, nil
}

func (c *mockConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	op, err := c.driver.next(opQuery, query)
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return &mockRows{columns: op.rows.columns, values: op.rows.values}, nil
}

func (c *mockConn) Ping(context.Context) error { return nil }

func (d *queueDriver) next(expected operationType, query string) (*mockOperation, error) {
	idx := int(atomic.LoadInt32(&d.idx))
	if idx >= len(d.ops) {
		return nil, fmt.Errorf("unexpected operation: %v", expected)
	}
	op := &d.ops[idx]
	if op.typ != expected {
		return nil, fmt.Errorf("expected operation %v, got %v", expected, op.typ)
	}
	atomic.AddInt32(&d.idx, 1)
	if op.query != "" {
		want := normalizeSQL(op.query)
		got := normalizeSQL(query)
		if want != got {
			return nil, fmt.Errorf("unexpected query. want %q got %q", want, got)
		}
	}
	return op, nil
}

type mockTx struct {
	driver *queueDriver
}

func (t *mockTx) Commit() error {
	op, err := t.driver.next(opCommit, "")
	if err != nil {
		return err
	}
	return op.err
}

func (t *mockTx) Rollback() error {
	op, err := t.driver.next(opRollback, "")
	if err != nil {
		return err
	}
	return op.err
}

type mockRows struct {
	columns []string
	values  [][]driver.Value
	idx     int
}

func (r *mockRows) Columns() []string { return r.columns }
func (r *mockRows) Close() error      { return nil }

func (r *mockRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.values) {
		return io.EOF
	}
	copy(dest, r.values[r.idx])
	r.idx++
	return nil
}

func normalizeSQL(query string) string {
	return strings.Join(strings.Fields(query), " ")
}
