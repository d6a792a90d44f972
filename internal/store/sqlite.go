package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"stakedex-indexer-sol/internal/logic/core"
	"stakedex-indexer-sol/internal/types"
)

const (
	busyTimeoutMs = 5000
	queryTimeout  = 10 * time.Second
	defaultLimit  = 100
	maxLimit      = 10000
)

// Store 基于 SQLite（WAL 模式）持久化 Invocation，唯一键为 (sig, ix_idx, inner_idx)
type Store struct {
	db       *sql.DB
	migrator *goose.Provider
}

// Open 打开数据库文件并迁移到最新版本
func Open(ctx context.Context, path string) (*Store, error) {
	s, err := open(path)
	if err != nil {
		return nil, err
	}
	if err := migrateTo(ctx, s.migrator, latestVersion(s.migrator)); err != nil {
		_ = s.db.Close()
		return nil, err
	}
	return s, nil
}

func open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("db path is required")
	}
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)", path, busyTimeoutMs)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s failed: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite %s failed: %w", path, err)
	}
	migrator, err := newMigrator(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, migrator: migrator}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Version 返回当前 schema 版本
func (s *Store) Version(ctx context.Context) (int64, error) {
	return s.migrator.GetDBVersion(ctx)
}

// LatestVersion 返回内置迁移的最高版本
func (s *Store) LatestVersion() int64 {
	return latestVersion(s.migrator)
}

// MigrateTo 迁移到指定版本，可用于回滚
func (s *Store) MigrateTo(ctx context.Context, version int64) error {
	return migrateTo(ctx, s.migrator, version)
}

// JournalMode 返回当前日志模式（正常应为 wal）
func (s *Store) JournalMode(ctx context.Context) (string, error) {
	var mode string
	if err := s.db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode); err != nil {
		return "", err
	}
	return strings.ToLower(mode), nil
}

const upsertSQL = `INSERT INTO invocations
	(sig, ix_idx, inner_idx, signer, ix, unix_timestamp, slot, cpi_prog, amount_in, amount_out, mint_in, mint_out)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(sig, ix_idx, inner_idx) DO UPDATE SET
		signer = excluded.signer,
		ix = excluded.ix,
		unix_timestamp = excluded.unix_timestamp,
		slot = excluded.slot,
		cpi_prog = excluded.cpi_prog,
		amount_in = excluded.amount_in,
		amount_out = excluded.amount_out,
		mint_in = excluded.mint_in,
		mint_out = excluded.mint_out`

func upsertArgs(inv *core.Invocation) []any {
	// 主指令的 cpi_prog 写空字符串，与旧表一致
	cpi := ""
	if inv.IsCpi() {
		cpi = inv.CpiProgram.String()
	}
	return []any{
		inv.Signature.String(),
		inv.IxIndex,
		inv.InnerIndex,
		inv.Signer.String(),
		uint8(inv.Kind),
		inv.BlockTime,
		int64(inv.Slot),
		cpi,
		strconv.FormatUint(inv.AmountIn, 10),
		strconv.FormatUint(inv.AmountOut, 10),
		inv.MintIn.String(),
		inv.MintOut.String(),
	}
}

// Save 按唯一键写入或覆盖一条记录
func (s *Store) Save(ctx context.Context, inv *core.Invocation) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, upsertSQL, upsertArgs(inv)...); err != nil {
		return fmt.Errorf("save invocation %s/%d/%d failed: %w", inv.Signature, inv.IxIndex, inv.InnerIndex, err)
	}
	return nil
}

// SaveAll 在一个事务内写入一批记录
func (s *Store) SaveAll(ctx context.Context, invs []*core.Invocation) error {
	if len(invs) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, upsertSQL)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, inv := range invs {
		if _, err := stmt.ExecContext(ctx, upsertArgs(inv)...); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("save invocation %s/%d/%d failed: %w", inv.Signature, inv.IxIndex, inv.InnerIndex, err)
		}
	}
	return tx.Commit()
}

// EarliestSignature 返回 slot 最小的记录的签名，库为空时 ok=false
func (s *Store) EarliestSignature(ctx context.Context) (types.Signature, bool, error) {
	return s.edgeSignature(ctx, "SELECT sig FROM invocations ORDER BY slot ASC LIMIT 1")
}

// LatestSignature 返回 slot 最大的记录的签名，库为空时 ok=false
func (s *Store) LatestSignature(ctx context.Context) (types.Signature, bool, error) {
	return s.edgeSignature(ctx, "SELECT sig FROM invocations ORDER BY slot DESC LIMIT 1")
}

func (s *Store) edgeSignature(ctx context.Context, query string) (types.Signature, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var raw string
	err := s.db.QueryRowContext(ctx, query).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Signature{}, false, nil
	}
	if err != nil {
		return types.Signature{}, false, err
	}
	sig, err := types.SignatureFromBase58(raw)
	if err != nil {
		return types.Signature{}, false, fmt.Errorf("stored signature is corrupt: %w", err)
	}
	return sig, true, nil
}

// Count 返回记录总数
func (s *Store) Count(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM invocations").Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Filter 查询条件，零值字段表示不过滤
type Filter struct {
	Signature *types.Signature
	Signer    *types.Pubkey
	Kind      *core.InstructionKind
	Mint      *types.Pubkey // 匹配 mint_in 或 mint_out
	FromSlot  uint64
	ToSlot    uint64
	Limit     int
	Newest    bool // 按 slot 倒序
}

func (s *Store) List(ctx context.Context, f Filter) ([]*core.Invocation, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	clauses := make([]string, 0, 6)
	args := make([]any, 0, 8)

	if f.Signature != nil {
		clauses = append(clauses, "sig = ?")
		args = append(args, f.Signature.String())
	}
	if f.Signer != nil {
		clauses = append(clauses, "signer = ?")
		args = append(args, f.Signer.String())
	}
	if f.Kind != nil {
		clauses = append(clauses, "ix = ?")
		args = append(args, uint8(*f.Kind))
	}
	if f.Mint != nil {
		clauses = append(clauses, "(mint_in = ? OR mint_out = ?)")
		args = append(args, f.Mint.String(), f.Mint.String())
	}
	if f.FromSlot > 0 {
		clauses = append(clauses, "slot >= ?")
		args = append(args, int64(f.FromSlot))
	}
	if f.ToSlot > 0 {
		clauses = append(clauses, "slot <= ?")
		args = append(args, int64(f.ToSlot))
	}

	query := `SELECT sig, ix_idx, inner_idx, signer, ix, unix_timestamp, slot, cpi_prog, amount_in, amount_out, mint_in, mint_out FROM invocations`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	if f.Newest {
		query += " ORDER BY slot DESC, sig ASC, ix_idx ASC, inner_idx ASC LIMIT ?"
	} else {
		query += " ORDER BY slot ASC, sig ASC, ix_idx ASC, inner_idx ASC LIMIT ?"
	}

	limit := f.Limit
	if limit <= 0 || limit > maxLimit {
		limit = defaultLimit
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*core.Invocation
	for rows.Next() {
		inv, err := scanInvocation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanInvocation(rows *sql.Rows) (*core.Invocation, error) {
	var (
		sig, signer, amountIn, amountOut, mintIn, mintOut string
		ixIdx, innerIdx                                   uint16
		kind                                              uint8
		blockTime, slot                                   int64
		cpi                                               sql.NullString
	)
	if err := rows.Scan(&sig, &ixIdx, &innerIdx, &signer, &kind, &blockTime, &slot, &cpi, &amountIn, &amountOut, &mintIn, &mintOut); err != nil {
		return nil, err
	}

	inv := &core.Invocation{
		Kind:       core.InstructionKind(kind),
		IxIndex:    ixIdx,
		InnerIndex: innerIdx,
		Slot:       uint64(slot),
		BlockTime:  blockTime,
	}
	var err error
	if inv.Signature, err = types.SignatureFromBase58(sig); err != nil {
		return nil, err
	}
	if inv.Signer, err = types.TryPubkeyFromBase58(signer); err != nil {
		return nil, err
	}
	if cpi.Valid && cpi.String != "" {
		if inv.CpiProgram, err = types.TryPubkeyFromBase58(cpi.String); err != nil {
			return nil, err
		}
	}
	if inv.AmountIn, err = strconv.ParseUint(amountIn, 10, 64); err != nil {
		return nil, fmt.Errorf("invalid amount_in %q: %w", amountIn, err)
	}
	if inv.AmountOut, err = strconv.ParseUint(amountOut, 10, 64); err != nil {
		return nil, fmt.Errorf("invalid amount_out %q: %w", amountOut, err)
	}
	if inv.MintIn, err = types.TryPubkeyFromBase58(mintIn); err != nil {
		return nil, err
	}
	if inv.MintOut, err = types.TryPubkeyFromBase58(mintOut); err != nil {
		return nil, err
	}
	return inv, nil
}
