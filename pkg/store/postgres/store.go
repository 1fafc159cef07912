// Package postgres implements store.Storage on PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"cosmossdk.io/log"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/rollkit/l1-committer/pkg/store"
	"github.com/rollkit/l1-committer/types"
)

// Store is a store.Storage backed by a pgx connection pool. Atomicity comes
// from SQL transactions, exclusivity of fragment links from the primary key
// of l1_transaction_fragment.
type Store struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

var _ store.Storage = &Store{}

// Connect opens a connection pool using cfg.
func Connect(ctx context.Context, cfg Config, logger log.Logger) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("invalid postgres config: %w", err)
	}
	pool, err := pgxpool.ConnectConfig(ctx, poolCfg)
	if err != nil {
		return nil, dbError("failed to connect", err)
	}
	return &Store{pool: pool, logger: logger.With("module", "postgres")}, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Insert appends a block submission.
func (s *Store) Insert(ctx context.Context, submission types.BlockSubmission) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		var exists bool
		err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM l1_fuel_block_submission WHERE fuel_block_hash = $1)`,
			submission.FuelBlockHash.Bytes()).Scan(&exists)
		if err != nil {
			return dbError("failed to check block submission", err)
		}
		if exists {
			return fmt.Errorf("%w: block submission %s: %w", store.ErrDatabase, submission.FuelBlockHash, store.ErrAlreadyExists)
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO l1_fuel_block_submission (fuel_block_hash, fuel_block_height, completed, submittal_height) VALUES ($1, $2, $3, $4)`,
			submission.FuelBlockHash.Bytes(),
			int64(submission.FuelBlockHeight),
			submission.Completed,
			int64(submission.SubmittedAtHeight), //nolint:gosec
		)
		if err != nil {
			return dbError("failed to insert block submission", err)
		}
		return nil
	})
}

// LatestBlockSubmission returns the block submission with the greatest height.
func (s *Store) LatestBlockSubmission(ctx context.Context) (*types.BlockSubmission, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT fuel_block_hash, fuel_block_height, completed, submittal_height FROM l1_fuel_block_submission ORDER BY fuel_block_height DESC LIMIT 1`)
	sub, err := scanBlockSubmission(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// SetSubmissionCompleted marks the block submission as completed.
func (s *Store) SetSubmissionCompleted(ctx context.Context, fuelBlockHash types.Hash) (types.BlockSubmission, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE l1_fuel_block_submission SET completed = true WHERE fuel_block_hash = $1 RETURNING fuel_block_hash, fuel_block_height, completed, submittal_height`,
		fuelBlockHash.Bytes())
	sub, err := scanBlockSubmission(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.BlockSubmission{}, fmt.Errorf("block submission %s: %w", fuelBlockHash, types.ErrNotFound)
	}
	return sub, err
}

// InsertState persists a state submission together with all of its fragments.
func (s *Store) InsertState(ctx context.Context, submission types.StateSubmission, fragments []types.StateFragment) (uint64, error) {
	if err := validateFragmentSet(submission, fragments); err != nil {
		return 0, err
	}

	var id int64
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`INSERT INTO l1_state_submission (fuel_block_hash, fuel_block_height, completed, num_fragments) VALUES ($1, $2, false, $3) RETURNING id`,
			submission.FuelBlockHash.Bytes(),
			int64(submission.FuelBlockHeight),
			int64(submission.NumFragments),
		).Scan(&id)
		if err != nil {
			return dbError("failed to insert state submission", err)
		}

		batch := &pgx.Batch{}
		for _, f := range fragments {
			batch.Queue(
				`INSERT INTO l1_state_fragment (submission_id, fragment_index, raw_data, completed) VALUES ($1, $2, $3, false)`,
				id, int64(f.FragmentIndex), nonNil(f.RawData))
		}
		results := tx.SendBatch(ctx, batch)
		for range fragments {
			if _, err := results.Exec(); err != nil {
				_ = results.Close()
				return dbError("failed to insert state fragment", err)
			}
		}
		if err := results.Close(); err != nil {
			return dbError("failed to insert state fragments", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return toUint64(id, "state submission id")
}

// UnsubmittedFragments returns fragments that still need to be submitted.
func (s *Store) UnsubmittedFragments(ctx context.Context) ([]types.StateFragment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT f.submission_id, f.fragment_index, f.raw_data, f.completed
		FROM l1_state_fragment f
		LEFT JOIN l1_transaction_fragment t
			ON t.submission_id = f.submission_id AND t.fragment_index = f.fragment_index
		WHERE f.completed = false AND t.transaction_hash IS NULL
		ORDER BY f.submission_id, f.fragment_index`)
	if err != nil {
		return nil, dbError("failed to query unsubmitted fragments", err)
	}
	defer rows.Close()

	var fragments []types.StateFragment
	for rows.Next() {
		fragment, err := scanFragment(rows)
		if err != nil {
			return nil, err
		}
		fragments = append(fragments, fragment)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("failed to read unsubmitted fragments", err)
	}
	return fragments, nil
}

// RecordPendingTx links a transaction to the fragments it carries.
func (s *Store) RecordPendingTx(ctx context.Context, txHash types.Hash, fragmentIDs []types.FragmentID) error {
	if len(fragmentIDs) == 0 {
		return fmt.Errorf("%w: pending transaction %s carries no fragments", store.ErrInvalidFragments, txHash)
	}
	seen := make(map[types.FragmentID]struct{}, len(fragmentIDs))
	for _, id := range fragmentIDs {
		if _, ok := seen[id]; ok {
			return fmt.Errorf("%w: fragment %d/%d listed twice", store.ErrFragmentAlreadyPending, id.StateSubmission, id.FragmentIndex)
		}
		seen[id] = struct{}{}
	}

	return s.inTx(ctx, func(tx pgx.Tx) error {
		for _, id := range fragmentIDs {
			var completed, pending bool
			err := tx.QueryRow(ctx, `
				SELECT f.completed, EXISTS (
					SELECT 1 FROM l1_transaction_fragment t
					WHERE t.submission_id = f.submission_id AND t.fragment_index = f.fragment_index)
				FROM l1_state_fragment f
				WHERE f.submission_id = $1 AND f.fragment_index = $2
				FOR UPDATE OF f`,
				int64(id.StateSubmission), int64(id.FragmentIndex), //nolint:gosec
			).Scan(&completed, &pending)
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("state fragment %d/%d: %w", id.StateSubmission, id.FragmentIndex, types.ErrNotFound)
			}
			if err != nil {
				return dbError("failed to check state fragment", err)
			}
			if completed {
				return fmt.Errorf("%w: fragment %d/%d", store.ErrFragmentCompleted, id.StateSubmission, id.FragmentIndex)
			}
			if pending {
				return fmt.Errorf("%w: fragment %d/%d", store.ErrFragmentAlreadyPending, id.StateSubmission, id.FragmentIndex)
			}
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO l1_pending_transaction (hash, created_at) VALUES ($1, $2)`,
			txHash.Bytes(), time.Now().UTC()); err != nil {
			return dbError("failed to insert pending transaction", err)
		}
		for pos, id := range fragmentIDs {
			if _, err := tx.Exec(ctx,
				`INSERT INTO l1_transaction_fragment (transaction_hash, submission_id, fragment_index, position) VALUES ($1, $2, $3, $4)`,
				txHash.Bytes(), int64(id.StateSubmission), int64(id.FragmentIndex), pos); err != nil { //nolint:gosec
				return dbError("failed to link state fragment", err)
			}
		}
		return nil
	})
}

// PendingTxs returns every outstanding pending transaction.
func (s *Store) PendingTxs(ctx context.Context) ([]types.PendingTransaction, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT p.hash, p.created_at, t.submission_id, t.fragment_index
		FROM l1_pending_transaction p
		JOIN l1_transaction_fragment t ON t.transaction_hash = p.hash
		ORDER BY p.created_at, p.hash, t.position`)
	if err != nil {
		return nil, dbError("failed to query pending transactions", err)
	}
	defer rows.Close()

	var txs []types.PendingTransaction
	for rows.Next() {
		var (
			rawHash         []byte
			createdAt       time.Time
			submission, idx int64
		)
		if err := rows.Scan(&rawHash, &createdAt, &submission, &idx); err != nil {
			return nil, dbError("failed to scan pending transaction", err)
		}
		hash, err := types.HashFromBytes(rawHash)
		if err != nil {
			return nil, conversionError("pending transaction hash: %v", err)
		}
		id, err := toFragmentID(submission, idx)
		if err != nil {
			return nil, err
		}
		if n := len(txs); n > 0 && txs[n-1].TxHash == hash {
			txs[n-1].FragmentIDs = append(txs[n-1].FragmentIDs, id)
			continue
		}
		txs = append(txs, types.PendingTransaction{TxHash: hash, CreatedAt: createdAt, FragmentIDs: []types.FragmentID{id}})
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("failed to read pending transactions", err)
	}
	return txs, nil
}

// LatestStateSubmission returns the state submission with the greatest height.
func (s *Store) LatestStateSubmission(ctx context.Context) (*types.StateSubmission, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, fuel_block_hash, fuel_block_height, completed, num_fragments FROM l1_state_submission ORDER BY fuel_block_height DESC, id DESC LIMIT 1`)
	var (
		id, height, numFragments int64
		rawHash                  []byte
		completed                bool
	)
	err := row.Scan(&id, &rawHash, &height, &completed, &numFragments)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, dbError("failed to load latest state submission", err)
	}
	hash, err := types.HashFromBytes(rawHash)
	if err != nil {
		return nil, conversionError("state submission hash: %v", err)
	}
	sub := types.StateSubmission{FuelBlockHash: hash, IsCompleted: completed}
	if sub.ID, err = toUint64(id, "state submission id"); err != nil {
		return nil, err
	}
	if sub.FuelBlockHeight, err = toUint32(height, "state submission height"); err != nil {
		return nil, err
	}
	if sub.NumFragments, err = toUint32(numFragments, "state submission fragment count"); err != nil {
		return nil, err
	}
	return &sub, nil
}

// ConfirmPendingTx completes the fragments carried by a successful transaction.
func (s *Store) ConfirmPendingTx(ctx context.Context, txHash types.Hash) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if err := lockPendingTx(ctx, tx, txHash); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			UPDATE l1_state_fragment f SET completed = true
			FROM l1_transaction_fragment t
			WHERE t.transaction_hash = $1 AND t.submission_id = f.submission_id AND t.fragment_index = f.fragment_index`,
			txHash.Bytes())
		if err != nil {
			return dbError("failed to complete state fragments", err)
		}
		_, err = tx.Exec(ctx, `
			UPDATE l1_state_submission s SET completed = true
			WHERE s.id IN (SELECT DISTINCT submission_id FROM l1_transaction_fragment WHERE transaction_hash = $1)
			AND NOT EXISTS (SELECT 1 FROM l1_state_fragment f WHERE f.submission_id = s.id AND f.completed = false)`,
			txHash.Bytes())
		if err != nil {
			return dbError("failed to complete state submissions", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM l1_pending_transaction WHERE hash = $1`, txHash.Bytes()); err != nil {
			return dbError("failed to delete pending transaction", err)
		}
		return nil
	})
}

// ReleasePendingTx drops a pending transaction and frees its fragments.
func (s *Store) ReleasePendingTx(ctx context.Context, txHash types.Hash) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if err := lockPendingTx(ctx, tx, txHash); err != nil {
			return err
		}
		// fragment links are removed by ON DELETE CASCADE
		if _, err := tx.Exec(ctx, `DELETE FROM l1_pending_transaction WHERE hash = $1`, txHash.Bytes()); err != nil {
			return dbError("failed to delete pending transaction", err)
		}
		return nil
	})
}

func lockPendingTx(ctx context.Context, tx pgx.Tx, txHash types.Hash) error {
	var one int
	err := tx.QueryRow(ctx, `SELECT 1 FROM l1_pending_transaction WHERE hash = $1 FOR UPDATE`, txHash.Bytes()).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("pending transaction %s: %w", txHash, types.ErrNotFound)
	}
	if err != nil {
		return dbError("failed to lock pending transaction", err)
	}
	return nil
}

// inTx runs fn in a transaction, committing on success and rolling back otherwise.
func (s *Store) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return dbError("failed to begin transaction", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Error("failed to roll back transaction", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return dbError("failed to commit transaction", err)
	}
	return nil
}

func scanBlockSubmission(row pgx.Row) (types.BlockSubmission, error) {
	var (
		rawHash           []byte
		height, submittal int64
		completed         bool
	)
	if err := row.Scan(&rawHash, &height, &completed, &submittal); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.BlockSubmission{}, err
		}
		return types.BlockSubmission{}, dbError("failed to scan block submission", err)
	}
	hash, err := types.HashFromBytes(rawHash)
	if err != nil {
		return types.BlockSubmission{}, conversionError("block submission hash: %v", err)
	}
	sub := types.BlockSubmission{FuelBlockHash: hash, Completed: completed}
	if sub.FuelBlockHeight, err = toUint32(height, "block submission height"); err != nil {
		return types.BlockSubmission{}, err
	}
	if sub.SubmittedAtHeight, err = toUint64(submittal, "block submission L1 height"); err != nil {
		return types.BlockSubmission{}, err
	}
	return sub, nil
}

func scanFragment(row pgx.Row) (types.StateFragment, error) {
	var (
		submission, idx int64
		data            []byte
		completed       bool
	)
	if err := row.Scan(&submission, &idx, &data, &completed); err != nil {
		return types.StateFragment{}, dbError("failed to scan state fragment", err)
	}
	id, err := toFragmentID(submission, idx)
	if err != nil {
		return types.StateFragment{}, err
	}
	return types.StateFragment{
		StateSubmission: id.StateSubmission,
		FragmentIndex:   id.FragmentIndex,
		RawData:         data,
		IsCompleted:     completed,
	}, nil
}

func toFragmentID(submission, idx int64) (types.FragmentID, error) {
	sub, err := toUint64(submission, "state fragment submission id")
	if err != nil {
		return types.FragmentID{}, err
	}
	index, err := toUint32(idx, "state fragment index")
	if err != nil {
		return types.FragmentID{}, err
	}
	return types.FragmentID{StateSubmission: sub, FragmentIndex: index}, nil
}

func toUint32(v int64, field string) (uint32, error) {
	if v < 0 || v > math.MaxUint32 {
		return 0, conversionError("%s %d does not fit in uint32", field, v)
	}
	return uint32(v), nil
}

func toUint64(v int64, field string) (uint64, error) {
	if v < 0 {
		return 0, conversionError("%s %d is negative", field, v)
	}
	return uint64(v), nil
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

func validateFragmentSet(submission types.StateSubmission, fragments []types.StateFragment) error {
	if len(fragments) == 0 {
		return fmt.Errorf("%w: state submission has no fragments", store.ErrInvalidFragments)
	}
	if int(submission.NumFragments) != len(fragments) {
		return fmt.Errorf("%w: expected %d fragments, got %d", store.ErrInvalidFragments, submission.NumFragments, len(fragments))
	}
	seen := make([]bool, len(fragments))
	for _, f := range fragments {
		if int(f.FragmentIndex) >= len(fragments) || seen[f.FragmentIndex] {
			return fmt.Errorf("%w: fragment indices must be 0..%d", store.ErrInvalidFragments, len(fragments)-1)
		}
		seen[f.FragmentIndex] = true
	}
	return nil
}

func dbError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", store.ErrDatabase, op, err)
}

func conversionError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", store.ErrConversion, fmt.Sprintf(format, args...))
}
