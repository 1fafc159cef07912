package types

// TransactionReceipt is the outcome of a mined L1 transaction.
type TransactionReceipt struct {
	TxHash      Hash
	BlockNumber L1Height
	Success     bool
}

// FuelBlockCommittedOnL1 is emitted by the state contract once a block
// commitment has been accepted on L1.
type FuelBlockCommittedOnL1 struct {
	FuelBlockHash Hash
	CommitHeight  uint64
	L1Height      L1Height
}
