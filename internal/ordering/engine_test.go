package ordering

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sparklernet/hostcore/internal/sparkplug"
)

func dataMsg(group, edge string, seq int) sparkplug.Message {
	return sparkplug.Message{
		Type:       sparkplug.NDATA,
		GroupID:    group,
		EdgeNodeID: edge,
		Payload:    sparkplug.Payload{Seq: seq},
	}
}

func newTestEngine(t *testing.T, timeout time.Duration) (*Engine, *[][]sparkplug.Message, *[]string) {
	t.Helper()
	var mu sync.Mutex
	flushes := [][]sparkplug.Message{}
	rebirths := []string{}
	e := New(Config{
		ReorderTimeout:       timeout,
		SendRebirthOnTimeout: true,
		OnPendingFlush: func(msgs []sparkplug.Message) {
			mu.Lock()
			flushes = append(flushes, msgs)
			mu.Unlock()
		},
		OnRebirthRequested: func(groupID, edgeNodeID string) {
			mu.Lock()
			rebirths = append(rebirths, groupID+"/"+edgeNodeID)
			mu.Unlock()
		},
	})
	return e, &flushes, &rebirths
}

func TestScenario_InOrderRun(t *testing.T) {
	e, _, _ := newTestEngine(t, time.Hour)
	var observed []int
	for _, seq := range []int{1, 2, 3} {
		out, err := e.Process(dataMsg("G1", "E1", seq))
		require.NoError(t, err)
		for _, m := range out {
			observed = append(observed, m.Payload.Seq)
			require.True(t, m.IsSeqConsecutive)
			require.False(t, m.IsCached)
		}
	}
	require.Equal(t, []int{1, 2, 3}, observed)
}

func TestScenario_SingleGapFilled(t *testing.T) {
	e, _, _ := newTestEngine(t, time.Hour)

	out, err := e.Process(dataMsg("G1", "E1", 1))
	require.NoError(t, err)
	require.Equal(t, []int{1}, seqsOf(out))

	out, err = e.Process(dataMsg("G1", "E1", 3))
	require.NoError(t, err)
	require.Empty(t, out)

	out, err = e.Process(dataMsg("G1", "E1", 2))
	require.NoError(t, err)
	require.Equal(t, []int{2, 3}, seqsOf(out))
	require.True(t, out[1].IsCached)
}

func TestScenario_MultiGapFill(t *testing.T) {
	e, _, _ := newTestEngine(t, time.Hour)

	var all []int
	push := func(seq int) []sparkplug.Message {
		out, err := e.Process(dataMsg("G1", "E1", seq))
		require.NoError(t, err)
		return out
	}
	all = append(all, seqsOf(push(1))...)
	require.Empty(t, push(4))
	require.Empty(t, push(6))
	require.Empty(t, push(3))
	out := push(2)
	require.Equal(t, []int{2, 3, 4}, seqsOf(out))
	all = append(all, seqsOf(out)...)
	out = push(5)
	require.Equal(t, []int{5, 6}, seqsOf(out))
	all = append(all, seqsOf(out)...)
	require.Equal(t, []int{1, 2, 3, 4, 5, 6}, all)
}

func TestScenario_WrapAround(t *testing.T) {
	e, _, _ := newTestEngine(t, time.Hour)
	var observed []int
	for _, seq := range []int{254, 255, 0, 1} {
		out, err := e.Process(dataMsg("G1", "E1", seq))
		require.NoError(t, err)
		for _, m := range out {
			observed = append(observed, m.Payload.Seq)
			require.True(t, m.IsSeqConsecutive)
		}
	}
	require.Equal(t, []int{254, 255, 0, 1}, observed)
}

func TestScenario_TimeoutFlushAndRebirth(t *testing.T) {
	e, flushes, rebirths := newTestEngine(t, 30*time.Millisecond)

	out, err := e.Process(dataMsg("G1", "E1", 1))
	require.NoError(t, err)
	require.Equal(t, []int{1}, seqsOf(out))

	out, err = e.Process(dataMsg("G1", "E1", 3))
	require.NoError(t, err)
	require.Empty(t, out)

	require.Eventually(t, func() bool {
		return len(*flushes) == 1
	}, time.Second, 5*time.Millisecond)

	flushed := (*flushes)[0]
	require.Equal(t, []int{3}, seqsOf(flushed))
	require.False(t, flushed[0].IsSeqConsecutive)

	require.Eventually(t, func() bool {
		return len(*rebirths) == 1
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, "G1/E1", (*rebirths)[0])
}

func TestScenario_NBIRTHMidStream(t *testing.T) {
	e, _, _ := newTestEngine(t, time.Hour)

	var observed []int
	for _, seq := range []int{1, 2} {
		out, err := e.Process(dataMsg("G1", "E1", seq))
		require.NoError(t, err)
		observed = append(observed, seqsOf(out)...)
	}

	// NBIRTH arrives mid-stream: Coordinator resets then seeds.
	e.Reset("G1", "E1")
	e.Seed("G1", "E1", 50)
	observed = append(observed, 50)

	for _, seq := range []int{51, 52} {
		out, err := e.Process(dataMsg("G1", "E1", seq))
		require.NoError(t, err)
		observed = append(observed, seqsOf(out)...)
	}
	require.Equal(t, []int{1, 2, 50, 51, 52}, observed)
}

func TestProcess_InvalidMessageType(t *testing.T) {
	e, _, _ := newTestEngine(t, time.Hour)
	_, err := e.Process(sparkplug.Message{Type: sparkplug.NBIRTH, GroupID: "G1", EdgeNodeID: "E1"})
	require.Error(t, err)
}

func TestProcess_OutOfRangeSeqPassesThroughUnmodified(t *testing.T) {
	e, _, _ := newTestEngine(t, time.Hour)
	out, err := e.Process(dataMsg("G1", "E1", 999))
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, 999, out[0].Payload.Seq)

	// State must be untouched: a subsequent seq 0 is still treated as the
	// first message for the key.
	out, err = e.Process(dataMsg("G1", "E1", 0))
	require.NoError(t, err)
	require.Equal(t, []int{0}, seqsOf(out))
	require.True(t, out[0].IsSeqConsecutive)
}

func TestReplaceOnDuplicate(t *testing.T) {
	e, _, _ := newTestEngine(t, time.Hour)

	_, err := e.Process(dataMsg("G1", "E1", 1))
	require.NoError(t, err)

	first, err := e.Process(dataMsg("G1", "E1", 5))
	require.NoError(t, err)
	require.Empty(t, first)

	second := dataMsg("G1", "E1", 5)
	second.Payload.Body = []byte("later")
	out, err := e.Process(second)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Nil(t, out[0].Payload.Body, "the earlier message at seq 5 should be returned, not the later one")
}

func TestReset_ClearsBuffer(t *testing.T) {
	e, _, _ := newTestEngine(t, time.Hour)

	_, err := e.Process(dataMsg("G1", "E1", 10))
	require.NoError(t, err)
	_, err = e.Process(dataMsg("G1", "E1", 20))
	require.NoError(t, err)

	e.Reset("G1", "E1")

	out, err := e.Process(dataMsg("G1", "E1", 7))
	require.NoError(t, err)
	require.Equal(t, []int{7}, seqsOf(out))
	require.True(t, out[0].IsSeqConsecutive)
}

func TestClearAll(t *testing.T) {
	e, _, _ := newTestEngine(t, time.Hour)

	_, err := e.Process(dataMsg("G1", "E1", 1))
	require.NoError(t, err)
	_, err = e.Process(dataMsg("G2", "E2", 5))
	require.NoError(t, err)

	e.ClearAll()

	out, err := e.Process(dataMsg("G1", "E1", 9))
	require.NoError(t, err)
	require.Equal(t, []int{9}, seqsOf(out))
}

func TestCircCompare(t *testing.T) {
	require.Equal(t, 1, circCompare(1, 250))
	require.Equal(t, -1, circCompare(250, 1))
	require.Equal(t, -1, circCompare(5, 10))
	require.Equal(t, 1, circCompare(10, 5))
	require.Equal(t, 0, circCompare(10, 10))
}

func TestConcurrentDispatchPreservesPerKeyOrder(t *testing.T) {
	e, _, _ := newTestEngine(t, time.Hour)

	// Establish lastSeq=0 synchronously so the remaining seqs race into a
	// well-defined Gapped/Tracking sequence rather than one of them
	// winning the "first message ever" unconditional-accept branch.
	out, err := e.Process(dataMsg("G1", "E1", 0))
	require.NoError(t, err)
	require.Equal(t, []int{0}, seqsOf(out))

	var mu sync.Mutex
	var observed []int
	var wg sync.WaitGroup
	for _, seq := range []int{1, 2, 3, 4, 5, 6, 7, 8, 9} {
		wg.Add(1)
		go func(seq int) {
			defer wg.Done()
			out, err := e.Process(dataMsg("G1", "E1", seq))
			require.NoError(t, err)
			mu.Lock()
			for _, m := range out {
				observed = append(observed, m.Payload.Seq)
			}
			mu.Unlock()
		}(seq)
	}
	wg.Wait()

	// Per-key critical sections make the flattened delivery order
	// monotone even though callers raced to submit it.
	for i := 1; i < len(observed); i++ {
		require.Equal(t, observed[i-1]+1, observed[i])
	}
	require.Len(t, observed, 9)
}

func seqsOf(msgs []sparkplug.Message) []int {
	out := make([]int, len(msgs))
	for i, m := range msgs {
		out[i] = m.Payload.Seq
	}
	return out
}
