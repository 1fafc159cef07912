package block

import (
	"crypto/sha256"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rollkit/l1-committer/pkg/store"
	"github.com/rollkit/l1-committer/types"
)

const (
	waitFor = 3 * time.Second
	tick    = 10 * time.Millisecond
)

func newTestStore(t *testing.T) *store.DefaultStore {
	t.Helper()
	kv, err := store.NewDefaultInMemoryKVStore()
	require.NoError(t, err)
	s := store.New(kv)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testBlock(height uint32, payload []byte) types.Block {
	var heightBytes [4]byte
	binary.BigEndian.PutUint32(heightBytes[:], height)
	return types.Block{
		Hash:    sha256.Sum256(append([]byte("block:"), heightBytes[:]...)),
		Height:  height,
		Payload: payload,
	}
}

func payloadOf(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}
