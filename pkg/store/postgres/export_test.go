package postgres

import "context"

// Truncate empties every table, resetting sequences.
func (s *Store) Truncate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `TRUNCATE l1_transaction_fragment, l1_pending_transaction, l1_state_fragment, l1_state_submission, l1_fuel_block_submission RESTART IDENTITY CASCADE`)
	return err
}
