package mysql

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	xerrors "CreatorServices/internal/errors"

	"github.com/google/uuid"
)

// Operation 标识被记录的账本写操作。
type Operation string

const (
	OpCreateAgreement Operation = "create_agreement"
	OpAcceptProposal  Operation = "accept_proposal"
	OpRejectProposal  Operation = "reject_proposal"
	OpMarkCompleted   Operation = "mark_completed"
	OpSubmitRating    Operation = "submit_rating"
)

// JournalEntry 是一次已确认账本写入的记录。
type JournalEntry struct {
	ID           string    `json:"id"`
	Operation    Operation `json:"operation"`
	Network      string    `json:"network"`
	AgreementID  *uint64   `json:"agreement_id,omitempty"`
	Account      string    `json:"account"`
	Counterparty string    `json:"counterparty,omitempty"`
	Amount       string    `json:"amount,omitempty"`
	State        string    `json:"state,omitempty"`
	TxHash       string    `json:"tx_hash"`
	BlockNumber  uint64    `json:"block_number"`
	RecordedAt   int64     `json:"recorded_at"`
}

func (e *JournalEntry) fill() {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.RecordedAt == 0 {
		e.RecordedAt = time.Now().Unix()
	}
}

// Journal 抽象已确认写入的持久化接口。
type Journal interface {
	Record(ctx context.Context, entry JournalEntry) error
	Recent(ctx context.Context, limit int) ([]JournalEntry, error)
	Close() error
}

const fileJournalWindow = 512

// FileJournal 以 JSON Lines 追加写入本地文件，并在内存中保留最近的记录。
type FileJournal struct {
	mu      sync.RWMutex
	path    string
	entries []JournalEntry
}

// NewFileJournal 在 dataDir 下打开 journal.log 并恢复历史记录。
func NewFileJournal(dataDir string) (*FileJournal, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	j := &FileJournal{path: filepath.Join(dataDir, "journal.log")}
	if err := j.loadFromDisk(); err != nil {
		return nil, err
	}
	return j, nil
}

// Record 以追加写的方式记录一次写入。
func (j *FileJournal) Record(_ context.Context, entry JournalEntry) error {
	entry.fill()

	j.mu.Lock()
	defer j.mu.Unlock()

	file, err := os.OpenFile(j.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "打开写入日志失败")
	}
	defer file.Close()

	encoded, err := json.Marshal(entry)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化写入记录失败")
	}
	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入日志失败")
	}

	j.entries = append([]JournalEntry{entry}, j.entries...)
	if len(j.entries) > fileJournalWindow {
		j.entries = j.entries[:fileJournalWindow]
	}
	return nil
}

// Recent 返回最近的记录，按写入时间倒序排列。
func (j *FileJournal) Recent(_ context.Context, limit int) ([]JournalEntry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if limit <= 0 || limit > len(j.entries) {
		limit = len(j.entries)
	}
	out := make([]JournalEntry, limit)
	copy(out, j.entries[:limit])
	return out, nil
}

// Close 实现 Journal。
func (j *FileJournal) Close() error { return nil }

func (j *FileJournal) loadFromDisk() error {
	file, err := os.OpenFile(j.path, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("读取写入日志失败: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	var restored []JournalEntry
	for scanner.Scan() {
		var entry JournalEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		restored = append([]JournalEntry{entry}, restored...)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("解析写入日志失败: %w", err)
	}
	if len(restored) > fileJournalWindow {
		restored = restored[:fileJournalWindow]
	}
	j.entries = restored
	return nil
}

// SQLJournal 将写入记录保存到 MySQL。
type SQLJournal struct {
	db *sql.DB
}

// NewSQLJournal 建立连接池并执行迁移。
func NewSQLJournal(ctx context.Context, cfg Config) (*SQLJournal, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLJournal{db: db}, nil
}

const insertJournalSQL = `INSERT INTO ledger_journal
    (id, operation, network, agreement_id, account, counterparty, amount, state, tx_hash, block_number, recorded_at)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const selectRecentJournalSQL = `SELECT id, operation, network, agreement_id, account, counterparty, amount, state, tx_hash, block_number, recorded_at
    FROM ledger_journal ORDER BY recorded_at DESC, id DESC LIMIT ?`

// Record 将写入记录插入 MySQL。
func (s *SQLJournal) Record(ctx context.Context, entry JournalEntry) error {
	entry.fill()

	var agreementID sql.NullInt64
	if entry.AgreementID != nil {
		agreementID = sql.NullInt64{Int64: int64(*entry.AgreementID), Valid: true}
	}
	if _, err := s.db.ExecContext(ctx, insertJournalSQL,
		entry.ID,
		string(entry.Operation),
		entry.Network,
		agreementID,
		entry.Account,
		entry.Counterparty,
		entry.Amount,
		entry.State,
		entry.TxHash,
		int64(entry.BlockNumber),
		entry.RecordedAt,
	); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入 MySQL 失败")
	}
	return nil
}

// Recent 查询最近的若干条写入记录。
func (s *SQLJournal) Recent(ctx context.Context, limit int) ([]JournalEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, selectRecentJournalSQL, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询写入记录失败")
	}
	defer rows.Close()

	var entries []JournalEntry
	for rows.Next() {
		var (
			entry       JournalEntry
			operation   string
			agreementID sql.NullInt64
			blockNumber int64
		)
		if err := rows.Scan(&entry.ID, &operation, &entry.Network, &agreementID, &entry.Account, &entry.Counterparty,
			&entry.Amount, &entry.State, &entry.TxHash, &blockNumber, &entry.RecordedAt); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析写入记录失败")
		}
		entry.Operation = Operation(operation)
		if agreementID.Valid {
			id := uint64(agreementID.Int64)
			entry.AgreementID = &id
		}
		entry.BlockNumber = uint64(blockNumber)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历写入记录失败")
	}
	return entries, nil
}

// Close 关闭底层数据库连接。
func (s *SQLJournal) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var (
	_ Journal = (*FileJournal)(nil)
	_ Journal = (*SQLJournal)(nil)
)
