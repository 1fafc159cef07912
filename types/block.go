package types

// Block is a finalized L2 block as seen by the committer. The payload is
// opaque; only its hash and height are interpreted.
type Block struct {
	Hash    Hash
	Height  uint32
	Payload []byte
}

// L1Height is a block number on the settlement chain.
type L1Height = uint64
