// Package liveness implements the Liveness Tracker: a monotonic,
// causally-consistent view of which Edge Nodes and Devices are online,
// with bdSeq-based precedence on edge-node death and cascade to
// dependent devices.
package liveness

import (
	"math"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/sparklernet/hostcore/internal/hosterrors"
)

// EdgeKey identifies a single Edge Node's liveness record.
type EdgeKey struct {
	GroupID    string
	EdgeNodeID string
}

// DeviceKey identifies a single Device's liveness record.
type DeviceKey struct {
	GroupID    string
	EdgeNodeID string
	DeviceID   string
}

// absentTimestamp makes a never-seen record lose every
// monotonic comparison, so the first update for a key is always
// accepted.
const absentTimestamp = math.MinInt64

// EndpointStatus is the per-edge or per-device liveness record.
type EndpointStatus struct {
	IsOnline        bool
	BdSeq           int
	TimestampMillis int64
}

type edgeRecord struct {
	mu     sync.Mutex
	status EndpointStatus
}

type deviceRecord struct {
	mu     sync.Mutex
	status EndpointStatus
}

// Tracker is the Liveness Tracker: it holds per-edge-node and
// per-device online/offline state with monotonic update rules.
type Tracker struct {
	edges   *xsync.MapOf[EdgeKey, *edgeRecord]
	devices *xsync.MapOf[DeviceKey, *deviceRecord]
}

// New constructs an empty Tracker.
func New() *Tracker {
	return &Tracker{
		edges:   xsync.NewMapOf[EdgeKey, *edgeRecord](),
		devices: xsync.NewMapOf[DeviceKey, *deviceRecord](),
	}
}

func (t *Tracker) edgeFor(key EdgeKey) *edgeRecord {
	rec, _ := t.edges.LoadOrCompute(key, func() *edgeRecord {
		return &edgeRecord{status: EndpointStatus{TimestampMillis: absentTimestamp}}
	})
	return rec
}

func (t *Tracker) deviceFor(key DeviceKey) *deviceRecord {
	rec, _ := t.devices.LoadOrCompute(key, func() *deviceRecord {
		return &deviceRecord{status: EndpointStatus{TimestampMillis: absentTimestamp}}
	})
	return rec
}

func requireNonEmpty(ids ...string) error {
	for _, id := range ids {
		if id == "" {
			return hosterrors.Wrap(hosterrors.ErrInvalidArgument, "empty identifier")
		}
	}
	return nil
}

// UpdateEdgeNode applies the edge-node update acceptance rules. A
// transition from online to accepted-offline additionally invalidates
// every device record parented to this edge node.
func (t *Tracker) UpdateEdgeNode(groupID, edgeNodeID string, online bool, bdSeq int, timestampMillis int64) error {
	if err := requireNonEmpty(groupID, edgeNodeID); err != nil {
		return err
	}
	key := EdgeKey{GroupID: groupID, EdgeNodeID: edgeNodeID}
	rec := t.edgeFor(key)

	rec.mu.Lock()
	cur := rec.status
	var accept bool
	switch {
	case online:
		accept = timestampMillis > cur.TimestampMillis
	case !cur.IsOnline:
		accept = timestampMillis > cur.TimestampMillis
	default:
		accept = bdSeq == cur.BdSeq || timestampMillis >= cur.TimestampMillis
	}
	cascade := false
	if accept {
		cascade = cur.IsOnline && !online
		rec.status = EndpointStatus{IsOnline: online, BdSeq: bdSeq, TimestampMillis: timestampMillis}
	}
	rec.mu.Unlock()

	if cascade {
		t.invalidateDevices(groupID, edgeNodeID)
	}
	return nil
}

// invalidateDevices marks every device record under (groupID,
// edgeNodeID) offline, implementing the edge-down cascade eagerly
// rather than leaving it purely to the read-time check in
// IsOnline.
func (t *Tracker) invalidateDevices(groupID, edgeNodeID string) {
	t.devices.Range(func(key DeviceKey, rec *deviceRecord) bool {
		if key.GroupID == groupID && key.EdgeNodeID == edgeNodeID {
			rec.mu.Lock()
			rec.status.IsOnline = false
			rec.mu.Unlock()
		}
		return true
	})
}

// UpdateDevice applies the device update acceptance rule: accept
// iff the new timestamp is strictly newer. bdSeq is always stored as 0
// for device records.
func (t *Tracker) UpdateDevice(groupID, edgeNodeID, deviceID string, online bool, timestampMillis int64) error {
	if err := requireNonEmpty(groupID, edgeNodeID, deviceID); err != nil {
		return err
	}
	rec := t.deviceFor(DeviceKey{GroupID: groupID, EdgeNodeID: edgeNodeID, DeviceID: deviceID})
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if timestampMillis > rec.status.TimestampMillis {
		rec.status = EndpointStatus{IsOnline: online, TimestampMillis: timestampMillis}
	}
	return nil
}

// IsOnline reports whether an Edge Node (deviceID == "") or one of its
// Devices is currently online, requiring both the device and its
// parent edge node to agree.
func (t *Tracker) IsOnline(groupID, edgeNodeID, deviceID string) (bool, error) {
	if err := requireNonEmpty(groupID, edgeNodeID); err != nil {
		return false, err
	}
	if deviceID == "" {
		rec, ok := t.edges.Load(EdgeKey{GroupID: groupID, EdgeNodeID: edgeNodeID})
		if !ok {
			return false, nil
		}
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return rec.status.IsOnline, nil
	}

	devRec, ok := t.devices.Load(DeviceKey{GroupID: groupID, EdgeNodeID: edgeNodeID, DeviceID: deviceID})
	if !ok {
		return false, nil
	}
	devRec.mu.Lock()
	devStatus := devRec.status
	devRec.mu.Unlock()
	if !devStatus.IsOnline {
		return false, nil
	}

	edgeRec, ok := t.edges.Load(EdgeKey{GroupID: groupID, EdgeNodeID: edgeNodeID})
	if !ok {
		return false, nil
	}
	edgeRec.mu.Lock()
	edgeStatus := edgeRec.status
	edgeRec.mu.Unlock()

	return edgeStatus.IsOnline && edgeStatus.TimestampMillis <= devStatus.TimestampMillis, nil
}

// ClearAll drops every edge and device record.
func (t *Tracker) ClearAll() {
	var edgeKeys []EdgeKey
	t.edges.Range(func(k EdgeKey, _ *edgeRecord) bool {
		edgeKeys = append(edgeKeys, k)
		return true
	})
	for _, k := range edgeKeys {
		t.edges.Delete(k)
	}

	var deviceKeys []DeviceKey
	t.devices.Range(func(k DeviceKey, _ *deviceRecord) bool {
		deviceKeys = append(deviceKeys, k)
		return true
	})
	for _, k := range deviceKeys {
		t.devices.Delete(k)
	}
}

// Snapshot counts edges and devices currently online (devices filtered
// through the same I4 rule IsOnline uses), for cmd/hostapp's
// periodic gauge refresh.
func (t *Tracker) Snapshot() (edgesOnline, devicesOnline int) {
	t.edges.Range(func(_ EdgeKey, rec *edgeRecord) bool {
		rec.mu.Lock()
		if rec.status.IsOnline {
			edgesOnline++
		}
		rec.mu.Unlock()
		return true
	})
	t.devices.Range(func(k DeviceKey, rec *deviceRecord) bool {
		rec.mu.Lock()
		online := rec.status.IsOnline
		ts := rec.status.TimestampMillis
		rec.mu.Unlock()
		if !online {
			return true
		}
		if edgeRec, ok := t.edges.Load(EdgeKey{GroupID: k.GroupID, EdgeNodeID: k.EdgeNodeID}); ok {
			edgeRec.mu.Lock()
			eOnline := edgeRec.status.IsOnline
			eTs := edgeRec.status.TimestampMillis
			edgeRec.mu.Unlock()
			if eOnline && eTs <= ts {
				devicesOnline++
			}
		}
		return true
	})
	return edgesOnline, devicesOnline
}
