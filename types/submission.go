package types

import "time"

// BlockSubmission records the commitment of one L2 block to L1.
type BlockSubmission struct {
	FuelBlockHash     Hash
	FuelBlockHeight   uint32
	SubmittedAtHeight L1Height
	Completed         bool
}

// StateSubmission is the header of an L2 state payload split into fragments.
// ID is assigned by storage when the submission is inserted.
type StateSubmission struct {
	ID              uint64
	FuelBlockHash   Hash
	FuelBlockHeight uint32
	IsCompleted     bool
	NumFragments    uint32
}

// FragmentID identifies a fragment by its submission and position.
type FragmentID struct {
	StateSubmission uint64
	FragmentIndex   uint32
}

// Less orders fragment ids by submission, then by index.
func (id FragmentID) Less(other FragmentID) bool {
	if id.StateSubmission != other.StateSubmission {
		return id.StateSubmission < other.StateSubmission
	}
	return id.FragmentIndex < other.FragmentIndex
}

// StateFragment is a contiguous chunk of a state payload sized to fit in one blob.
type StateFragment struct {
	StateSubmission uint64
	FragmentIndex   uint32
	RawData         []byte
	IsCompleted     bool
}

// ID returns the identifier of the fragment.
func (f StateFragment) ID() FragmentID {
	return FragmentID{StateSubmission: f.StateSubmission, FragmentIndex: f.FragmentIndex}
}

// PendingTransaction is an L1 transaction carrying fragments that has not been
// resolved yet.
type PendingTransaction struct {
	TxHash      Hash
	FragmentIDs []FragmentID
	CreatedAt   time.Time
}
