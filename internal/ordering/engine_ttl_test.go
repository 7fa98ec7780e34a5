package ordering

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSlidingExpirationResetsIdleKey(t *testing.T) {
	e := New(Config{
		ReorderTimeout:     time.Hour,
		SeqCacheExpiration: 40 * time.Millisecond,
	})

	out, err := e.Process(dataMsg("G1", "E1", 10))
	require.NoError(t, err)
	require.Equal(t, []int{10}, seqsOf(out))

	// Let the sliding-expiration ledger evict the key without any
	// further activity touching (and so refreshing) its TTL.
	time.Sleep(150 * time.Millisecond)

	out, err = e.Process(dataMsg("G1", "E1", 200))
	require.NoError(t, err)
	require.Equal(t, []int{200}, seqsOf(out))
	require.True(t, out[0].IsSeqConsecutive, "idle key should have been reset and accept any seq unconditionally")
}
