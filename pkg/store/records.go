package store

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/rollkit/l1-committer/types"
)

// Rows are persisted with wide integer columns and raw byte hashes. Mapping a
// row back narrows the integers and checks hash widths, failing with
// ErrConversion when a stored value does not fit.

type blockSubmissionRecord struct {
	Hash              []byte
	Height            uint64
	SubmittedAtHeight uint64
	Completed         bool
}

type stateSubmissionRecord struct {
	ID           uint64
	Hash         []byte
	Height       uint64
	Completed    bool
	NumFragments uint64
}

type fragmentRecord struct {
	Submission uint64
	Index      uint64
	Data       []byte
	Completed  bool
}

type fragmentRef struct {
	Submission uint64
	Index      uint64
}

type pendingTxRecord struct {
	Hash      []byte
	Fragments []fragmentRef
	CreatedAt uint64
}

func encodeBlockSubmission(sub types.BlockSubmission) ([]byte, error) {
	return rlp.EncodeToBytes(&blockSubmissionRecord{
		Hash:              sub.FuelBlockHash.Bytes(),
		Height:            uint64(sub.FuelBlockHeight),
		SubmittedAtHeight: sub.SubmittedAtHeight,
		Completed:         sub.Completed,
	})
}

func decodeBlockSubmission(blob []byte) (types.BlockSubmission, error) {
	var rec blockSubmissionRecord
	if err := rlp.DecodeBytes(blob, &rec); err != nil {
		return types.BlockSubmission{}, conversionError("block submission: %v", err)
	}
	hash, err := types.HashFromBytes(rec.Hash)
	if err != nil {
		return types.BlockSubmission{}, conversionError("block submission hash: %v", err)
	}
	height, err := toUint32(rec.Height, "block submission height")
	if err != nil {
		return types.BlockSubmission{}, err
	}
	return types.BlockSubmission{
		FuelBlockHash:     hash,
		FuelBlockHeight:   height,
		SubmittedAtHeight: rec.SubmittedAtHeight,
		Completed:         rec.Completed,
	}, nil
}

func encodeStateSubmission(sub types.StateSubmission) ([]byte, error) {
	return rlp.EncodeToBytes(&stateSubmissionRecord{
		ID:           sub.ID,
		Hash:         sub.FuelBlockHash.Bytes(),
		Height:       uint64(sub.FuelBlockHeight),
		Completed:    sub.IsCompleted,
		NumFragments: uint64(sub.NumFragments),
	})
}

func decodeStateSubmission(blob []byte) (types.StateSubmission, error) {
	var rec stateSubmissionRecord
	if err := rlp.DecodeBytes(blob, &rec); err != nil {
		return types.StateSubmission{}, conversionError("state submission: %v", err)
	}
	hash, err := types.HashFromBytes(rec.Hash)
	if err != nil {
		return types.StateSubmission{}, conversionError("state submission hash: %v", err)
	}
	height, err := toUint32(rec.Height, "state submission height")
	if err != nil {
		return types.StateSubmission{}, err
	}
	numFragments, err := toUint32(rec.NumFragments, "state submission fragment count")
	if err != nil {
		return types.StateSubmission{}, err
	}
	return types.StateSubmission{
		ID:              rec.ID,
		FuelBlockHash:   hash,
		FuelBlockHeight: height,
		IsCompleted:     rec.Completed,
		NumFragments:    numFragments,
	}, nil
}

func encodeFragment(f types.StateFragment) ([]byte, error) {
	return rlp.EncodeToBytes(&fragmentRecord{
		Submission: f.StateSubmission,
		Index:      uint64(f.FragmentIndex),
		Data:       f.RawData,
		Completed:  f.IsCompleted,
	})
}

func decodeFragment(blob []byte) (types.StateFragment, error) {
	var rec fragmentRecord
	if err := rlp.DecodeBytes(blob, &rec); err != nil {
		return types.StateFragment{}, conversionError("state fragment: %v", err)
	}
	index, err := toUint32(rec.Index, "state fragment index")
	if err != nil {
		return types.StateFragment{}, err
	}
	return types.StateFragment{
		StateSubmission: rec.Submission,
		FragmentIndex:   index,
		RawData:         rec.Data,
		IsCompleted:     rec.Completed,
	}, nil
}

func encodePendingTx(tx types.PendingTransaction) ([]byte, error) {
	refs := make([]fragmentRef, len(tx.FragmentIDs))
	for i, id := range tx.FragmentIDs {
		refs[i] = fragmentRef{Submission: id.StateSubmission, Index: uint64(id.FragmentIndex)}
	}
	return rlp.EncodeToBytes(&pendingTxRecord{
		Hash:      tx.TxHash.Bytes(),
		Fragments: refs,
		CreatedAt: uint64(tx.CreatedAt.UnixNano()), //nolint:gosec
	})
}

func decodePendingTx(blob []byte) (types.PendingTransaction, error) {
	var rec pendingTxRecord
	if err := rlp.DecodeBytes(blob, &rec); err != nil {
		return types.PendingTransaction{}, conversionError("pending transaction: %v", err)
	}
	hash, err := types.HashFromBytes(rec.Hash)
	if err != nil {
		return types.PendingTransaction{}, conversionError("pending transaction hash: %v", err)
	}
	if rec.CreatedAt > math.MaxInt64 {
		return types.PendingTransaction{}, conversionError("pending transaction timestamp %d out of range", rec.CreatedAt)
	}
	ids := make([]types.FragmentID, len(rec.Fragments))
	for i, ref := range rec.Fragments {
		index, err := toUint32(ref.Index, "pending transaction fragment index")
		if err != nil {
			return types.PendingTransaction{}, err
		}
		ids[i] = types.FragmentID{StateSubmission: ref.Submission, FragmentIndex: index}
	}
	return types.PendingTransaction{
		TxHash:      hash,
		FragmentIDs: ids,
		CreatedAt:   time.Unix(0, int64(rec.CreatedAt)), //nolint:gosec
	}, nil
}

func toUint32(v uint64, field string) (uint32, error) {
	if v > math.MaxUint32 {
		return 0, conversionError("%s %d does not fit in uint32", field, v)
	}
	return uint32(v), nil
}

func encodeID(id uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, id)
	return b
}

func decodeID(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, conversionError("invalid id length %d", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}
