package eth

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto/kzg4844"
)

const (
	fieldElementsPerBlob = 4096
	bytesPerFieldElement = 32
	// usableBytesPerFieldElement leaves the top byte of every field element zero
	// so the element stays below the BLS modulus.
	usableBytesPerFieldElement = 31
	lengthPrefixSize           = 4

	// MaxBlobDataSize is the largest payload EncodeBlob accepts.
	MaxBlobDataSize = fieldElementsPerBlob*usableBytesPerFieldElement - lengthPrefixSize
)

var errBlobTooLarge = errors.New("data does not fit in a blob")

// EncodeBlob packs data into a blob: a big endian uint32 length followed by
// the data, spread over 31 bytes of each field element.
func EncodeBlob(data []byte) (*kzg4844.Blob, error) {
	if len(data) > MaxBlobDataSize {
		return nil, fmt.Errorf("%w: %d > %d", errBlobTooLarge, len(data), MaxBlobDataSize)
	}
	stream := make([]byte, lengthPrefixSize+len(data))
	binary.BigEndian.PutUint32(stream, uint32(len(data))) //nolint:gosec
	copy(stream[lengthPrefixSize:], data)

	var blob kzg4844.Blob
	for fe := 0; len(stream) > 0; fe++ {
		n := copy(blob[fe*bytesPerFieldElement+1:(fe+1)*bytesPerFieldElement], stream)
		stream = stream[n:]
	}
	return &blob, nil
}

// DecodeBlob reverses EncodeBlob.
func DecodeBlob(blob *kzg4844.Blob) ([]byte, error) {
	stream := make([]byte, 0, fieldElementsPerBlob*usableBytesPerFieldElement)
	for fe := 0; fe < fieldElementsPerBlob; fe++ {
		element := blob[fe*bytesPerFieldElement : (fe+1)*bytesPerFieldElement]
		if element[0] != 0 {
			return nil, fmt.Errorf("field element %d has a non zero top byte", fe)
		}
		stream = append(stream, element[1:]...)
	}
	size := binary.BigEndian.Uint32(stream)
	if size > MaxBlobDataSize {
		return nil, fmt.Errorf("encoded length %d exceeds blob capacity", size)
	}
	return stream[lengthPrefixSize : lengthPrefixSize+int(size)], nil
}

// buildSidecar encodes every fragment into its own blob and computes the
// commitments and proofs.
func buildSidecar(fragments [][]byte) (*types.BlobTxSidecar, error) {
	sidecar := &types.BlobTxSidecar{
		Blobs:       make([]kzg4844.Blob, 0, len(fragments)),
		Commitments: make([]kzg4844.Commitment, 0, len(fragments)),
		Proofs:      make([]kzg4844.Proof, 0, len(fragments)),
	}
	for i, fragment := range fragments {
		blob, err := EncodeBlob(fragment)
		if err != nil {
			return nil, fmt.Errorf("fragment %d: %w", i, err)
		}
		commitment, err := kzg4844.BlobToCommitment(blob)
		if err != nil {
			return nil, fmt.Errorf("failed to compute commitment of fragment %d: %w", i, err)
		}
		proof, err := kzg4844.ComputeBlobProof(blob, commitment)
		if err != nil {
			return nil, fmt.Errorf("failed to compute proof of fragment %d: %w", i, err)
		}
		sidecar.Blobs = append(sidecar.Blobs, *blob)
		sidecar.Commitments = append(sidecar.Commitments, commitment)
		sidecar.Proofs = append(sidecar.Proofs, proof)
	}
	return sidecar, nil
}
