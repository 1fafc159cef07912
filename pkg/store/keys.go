package store

import (
	"encoding/hex"
	"fmt"

	"github.com/rollkit/l1-committer/types"
)

const (
	blockPrefix          = "b"
	statePrefix          = "s"
	fragmentPrefix       = "f"
	fragmentLockPrefix   = "l"
	pendingTxPrefix      = "p"
	metaPrefix           = "m"
	nextStateIDMetaField = "next_state_id"
	latestBlockMetaField = "latest_block"
	latestStateMetaField = "latest_state"
)

// Numeric key segments are zero padded so lexicographic key order matches
// numeric order.

func formatHeight(height uint32) string {
	return fmt.Sprintf("%010d", height)
}

func formatID(id uint64) string {
	return fmt.Sprintf("%020d", id)
}

func getBlockKey(hash types.Hash) string {
	return GenerateKey([]string{blockPrefix, hex.EncodeToString(hash[:])})
}

func getStateKey(id uint64) string {
	return GenerateKey([]string{statePrefix, formatID(id)})
}

func getFragmentKey(id types.FragmentID) string {
	return GenerateKey([]string{fragmentPrefix, formatID(id.StateSubmission), formatHeight(id.FragmentIndex)})
}

func getSubmissionFragmentsPrefix(submission uint64) string {
	return GenerateKey([]string{fragmentPrefix, formatID(submission)})
}

func getFragmentLockKey(id types.FragmentID) string {
	return GenerateKey([]string{fragmentLockPrefix, formatID(id.StateSubmission), formatHeight(id.FragmentIndex)})
}

func getPendingTxKey(hash types.Hash) string {
	return GenerateKey([]string{pendingTxPrefix, hex.EncodeToString(hash[:])})
}

func getMetaKey(key string) string {
	return GenerateKey([]string{metaPrefix, key})
}
