// Package ordering implements the Ordering Engine: per-(groupId,
// edgeNodeId) circular sequence validation, a pending-message buffer
// bounded by a reorder timeout, and the rebirth/flush callbacks the
// Host Coordinator hooks into.
package ordering

import (
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/sparklernet/hostcore/internal/hosterrors"
	"github.com/sparklernet/hostcore/internal/metrics"
	"github.com/sparklernet/hostcore/internal/sparkplug"
)

// Key identifies a single Edge Node's sequence state.
type Key struct {
	GroupID    string
	EdgeNodeID string
}

// edgeState is the per-key mutable record: lastSeq, the pending buffer,
// the current reorder timer (replaced, never Reset) and the epoch
// counter that lets a fired timer detect it has been superseded.
type edgeState struct {
	mu      sync.Mutex
	lastSeq int
	pending map[int]sparkplug.Message
	timer   *time.Timer
	epoch   uint64
}

// Config collects the Engine's construction-time options and
// collaborators.
type Config struct {
	ReorderTimeout       time.Duration
	SeqCacheExpiration   time.Duration // 0 disables the sliding-expiration ledger
	SendRebirthOnTimeout bool
	OnRebirthRequested   func(groupID, edgeNodeID string)
	OnPendingFlush       func(messages []sparkplug.Message)
	Metrics              *metrics.Set
}

// Engine is the per-key ordering and liveness-adjacent sequencing
// state machine.
type Engine struct {
	states               *xsync.MapOf[Key, *edgeState]
	reorderTimeout       time.Duration
	sendRebirthOnTimeout bool
	onRebirthRequested   func(groupID, edgeNodeID string)
	onPendingFlush       func(messages []sparkplug.Message)
	metrics              *metrics.Set
	ledger               *lru.LRU[Key, struct{}]
}

// New constructs an Engine. When cfg.SeqCacheExpiration is positive, an
// idle key's state is dropped once that duration has passed since its
// last Process or Seed call, implementing a sliding-expiration window.
func New(cfg Config) *Engine {
	e := &Engine{
		states:               xsync.NewMapOf[Key, *edgeState](),
		reorderTimeout:       cfg.ReorderTimeout,
		sendRebirthOnTimeout: cfg.SendRebirthOnTimeout,
		onRebirthRequested:   cfg.OnRebirthRequested,
		onPendingFlush:       cfg.OnPendingFlush,
		metrics:              cfg.Metrics,
	}
	if cfg.SeqCacheExpiration > 0 {
		// The eviction callback runs with the ledger's own lock held, so it
		// drops the key's state directly instead of calling Reset (which
		// would re-enter the ledger through Remove).
		e.ledger = lru.NewLRU[Key, struct{}](0, func(key Key, _ struct{}) {
			if st, ok := e.states.Load(key); ok {
				st.mu.Lock()
				if st.timer != nil {
					st.timer.Stop()
					st.timer = nil
				}
				st.epoch++
				st.mu.Unlock()
			}
			e.states.Delete(key)
		}, cfg.SeqCacheExpiration)
	}
	return e
}

func (e *Engine) stateFor(key Key) *edgeState {
	st, _ := e.states.LoadOrCompute(key, func() *edgeState {
		return &edgeState{lastSeq: -1, pending: make(map[int]sparkplug.Message)}
	})
	return st
}

func (e *Engine) touchLedger(key Key) {
	if e.ledger != nil {
		e.ledger.Add(key, struct{}{})
	}
}

// Process validates and, when necessary, buffers msg, returning the
// messages that are now ready for delivery in delivery order. Only
// NDATA, DDATA, DBIRTH and DDEATH are accepted; anything else fails
// with hosterrors.ErrInvalidMessageType.
func (e *Engine) Process(msg sparkplug.Message) ([]sparkplug.Message, error) {
	switch msg.Type {
	case sparkplug.NDATA, sparkplug.DDATA, sparkplug.DBIRTH, sparkplug.DDEATH:
	default:
		return nil, hosterrors.Wrap(hosterrors.ErrInvalidMessageType, string(msg.Type))
	}

	seq := msg.Payload.Seq
	if seq < 0 || seq > 255 {
		return []sparkplug.Message{msg}, nil
	}

	key := Key{GroupID: msg.GroupID, EdgeNodeID: msg.EdgeNodeID}
	st := e.stateFor(key)

	st.mu.Lock()
	expected := -1
	if st.lastSeq >= 0 {
		expected = (st.lastSeq + 1) % 256
	}

	var result []sparkplug.Message
	if st.lastSeq < 0 || seq == expected {
		msg.IsSeqConsecutive = true
		msg.IsCached = false
		st.lastSeq = seq
		result = append(result, msg)

		for {
			next := (st.lastSeq + 1) % 256
			pm, ok := st.pending[next]
			if !ok {
				break
			}
			delete(st.pending, next)
			pm.IsCached = true
			pm.IsSeqConsecutive = true
			st.lastSeq = next
			result = append(result, pm)
		}

		if len(st.pending) == 0 {
			e.cancelTimer(st)
		} else {
			e.armTimer(key, st)
		}
	} else {
		if e.metrics != nil {
			e.metrics.OrderingGapsTotal.Inc()
		}
		msg.IsCached = true
		displaced, existed := st.pending[seq]
		st.pending[seq] = msg
		if existed {
			result = append(result, displaced)
		}
		if e.isLowestPending(st, seq) {
			e.armTimer(key, st)
		} else {
			e.ensureTimer(key, st)
		}
	}
	st.mu.Unlock()

	e.touchLedger(key)
	return result, nil
}

// isLowestPending reports whether seq is the smallest key currently in
// st.pending under circular comparison. Callers hold st.mu.
func (e *Engine) isLowestPending(st *edgeState, seq int) bool {
	lowest, ok := lowestKey(st.pending)
	return ok && lowest == seq
}

func lowestKey(pending map[int]sparkplug.Message) (int, bool) {
	first := true
	var lowest int
	for k := range pending {
		if first || circCompare(k, lowest) < 0 {
			lowest = k
			first = false
		}
	}
	return lowest, !first
}

func sortedPendingKeys(pending map[int]sparkplug.Message) []int {
	keys := make([]int, 0, len(pending))
	for k := range pending {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return circCompare(keys[i], keys[j]) < 0 })
	return keys
}

// circCompare implements circular sequence comparison over an 8-bit
// rolling counter: a seq below 32 is considered greater than one above
// 223 (wrap),
// and vice versa; otherwise natural integer order applies.
func circCompare(x, y int) int {
	switch {
	case x < 32 && y > 223:
		return 1
	case x > 223 && y < 32:
		return -1
	case x < y:
		return -1
	case x > y:
		return 1
	default:
		return 0
	}
}

// armTimer replaces any existing timer for st with a fresh one, bumping
// the epoch so a stale in-flight fire recognises it has been
// superseded. Callers hold st.mu.
func (e *Engine) armTimer(key Key, st *edgeState) {
	if st.timer != nil {
		st.timer.Stop()
	}
	st.epoch++
	armedEpoch := st.epoch
	st.timer = time.AfterFunc(e.reorderTimeout, func() {
		e.fireTimeout(key, armedEpoch)
	})
}

// ensureTimer arms a timer only if none is running; an existing timer's
// deadline is left untouched. Callers hold st.mu.
func (e *Engine) ensureTimer(key Key, st *edgeState) {
	if st.timer == nil {
		e.armTimer(key, st)
	}
}

// cancelTimer stops and clears st's timer and bumps its epoch so any
// fire already past the Stop race aborts cleanly. Callers hold st.mu.
func (e *Engine) cancelTimer(st *edgeState) {
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
	st.epoch++
}

// fireTimeout is the reorder-timer callback. It re-checks the epoch
// under the per-key lock before doing anything, so a timer that lost a
// race against a concurrent drain or reset is a clean no-op.
func (e *Engine) fireTimeout(key Key, armedEpoch uint64) {
	st, ok := e.states.Load(key)
	if !ok {
		return
	}

	st.mu.Lock()
	if st.epoch != armedEpoch || len(st.pending) == 0 {
		st.mu.Unlock()
		return
	}

	keys := sortedPendingKeys(st.pending)
	expected := -1
	if st.lastSeq >= 0 {
		expected = (st.lastSeq + 1) % 256
	}
	consecutive := true
	flushed := make([]sparkplug.Message, 0, len(keys))
	for _, k := range keys {
		m := st.pending[k]
		if consecutive && k == expected {
			m.IsSeqConsecutive = true
			expected = (expected + 1) % 256
		} else {
			consecutive = false
			m.IsSeqConsecutive = false
		}
		flushed = append(flushed, m)
		st.lastSeq = k
	}
	st.pending = make(map[int]sparkplug.Message)
	st.timer = nil
	st.mu.Unlock()

	if e.metrics != nil {
		e.metrics.OrderingTimeoutsTotal.Inc()
	}
	if e.onPendingFlush != nil {
		e.onPendingFlush(flushed)
	}
	if e.sendRebirthOnTimeout && e.onRebirthRequested != nil {
		e.onRebirthRequested(key.GroupID, key.EdgeNodeID)
	}
}

// Reset drops lastSeq, the pending buffer and cancels the reorder timer
// for (groupID, edgeNodeID), and removes the key from the
// sliding-expiration ledger. Invoked by the Coordinator on NBIRTH and
// NDEATH.
func (e *Engine) Reset(groupID, edgeNodeID string) {
	key := Key{GroupID: groupID, EdgeNodeID: edgeNodeID}
	if st, ok := e.states.Load(key); ok {
		st.mu.Lock()
		if st.timer != nil {
			st.timer.Stop()
			st.timer = nil
		}
		st.epoch++
		st.mu.Unlock()
	}
	e.states.Delete(key)
	if e.ledger != nil {
		e.ledger.Remove(key)
	}
}

// Seed sets lastSeq for (groupID, edgeNodeID) directly, used by the
// Coordinator right after Reset on NBIRTH to seed lastSeq := payload.seq
// (the Coordinator's dispatch table).
func (e *Engine) Seed(groupID, edgeNodeID string, seq int) {
	key := Key{GroupID: groupID, EdgeNodeID: edgeNodeID}
	st := e.stateFor(key)
	st.mu.Lock()
	st.lastSeq = seq
	st.mu.Unlock()
	e.touchLedger(key)
}

// ClearAll cancels every timer and drops all state, used at shutdown or
// disconnect.
func (e *Engine) ClearAll() {
	var keys []Key
	e.states.Range(func(key Key, st *edgeState) bool {
		st.mu.Lock()
		if st.timer != nil {
			st.timer.Stop()
			st.timer = nil
		}
		st.epoch++
		st.mu.Unlock()
		keys = append(keys, key)
		return true
	})
	for _, k := range keys {
		e.states.Delete(k)
	}
	if e.ledger != nil {
		e.ledger.Purge()
	}
}
