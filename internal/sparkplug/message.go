// Package sparkplug implements the Topic & Payload Adapter: parsing
// inbound MQTT topic strings into a normalized Message, and decoding
// STATE JSON / Sparkplug B protobuf payload bytes.
package sparkplug

// MessageType enumerates the Sparkplug B message kinds the adapter
// recognises, plus the Host's own STATE certificate.
type MessageType string

const (
	NBIRTH MessageType = "NBIRTH"
	NDEATH MessageType = "NDEATH"
	NDATA  MessageType = "NDATA"
	DBIRTH MessageType = "DBIRTH"
	DDEATH MessageType = "DDEATH"
	DDATA  MessageType = "DDATA"
	NCMD   MessageType = "NCMD"
	DCMD   MessageType = "DCMD"
	STATE  MessageType = "STATE"
)

// DataType mirrors the integer/float/bool/string subset of the
// Sparkplug B DataType enum that the host core needs to read bdSeq and
// convey metric values; DataSet/Template/PropertySet/array encodings
// are out of scope.
type DataType uint32

const (
	DataTypeUnknown DataType = 0
	DataTypeInt8    DataType = 1
	DataTypeInt16   DataType = 2
	DataTypeInt32   DataType = 3
	DataTypeInt64   DataType = 4
	DataTypeUInt8   DataType = 5
	DataTypeUInt16  DataType = 6
	DataTypeUInt32  DataType = 7
	DataTypeUInt64  DataType = 8
	DataTypeFloat   DataType = 9
	DataTypeDouble  DataType = 10
	DataTypeBoolean DataType = 11
	DataTypeString  DataType = 12
)

// isUnsignedInt reports whether dt is one of the unsigned integer
// datatypes extractBdSeq is willing to read.
func isUnsignedInt(dt DataType) bool {
	switch dt {
	case DataTypeUInt8, DataTypeUInt16, DataTypeUInt32, DataTypeUInt64:
		return true
	}
	return false
}

// isSignedInt reports whether dt is one of the signed integer
// datatypes extractBdSeq is willing to read. Int8 is deliberately
// excluded: the bdSeq-convertible set is exactly {UInt8, UInt16,
// UInt32, UInt64, Int16, Int32, Int64}.
func isSignedInt(dt DataType) bool {
	switch dt {
	case DataTypeInt16, DataTypeInt32, DataTypeInt64:
		return true
	}
	return false
}

// Metric is one entry of a decoded Payload's metric list. Value holds
// exactly one of uint64, int64, bool, string or float64, matching
// DataType; a metric of an unsupported datatype carries a nil Value.
type Metric struct {
	Name      string
	Timestamp uint64
	DataType  DataType
	Value     any
}

// Payload is the normalised decoded body of a Sparkplug message: either
// the protobuf schema (NBIRTH/NDEATH/NDATA/DBIRTH/DDEATH/DDATA/NCMD/DCMD)
// or the STATE JSON schema reduced to the same shape.
type Payload struct {
	Timestamp int64 // ms since epoch
	Seq       int   // [0,255], -1 if absent/invalid
	Metrics   []Metric
	Body      []byte

	// Online is only meaningful for STATE payloads.
	Online bool
}

// ParsedTopic is the result of parseTopic: a Sparkplug topic broken
// into its namespace/group/type/edge/device components, or a STATE
// topic reduced to its host_id.
type ParsedTopic struct {
	Version    string
	Group      string
	Type       MessageType
	EdgeNodeID string
	DeviceID   string // empty if not a device-scoped message
	HostID     string // only set for STATE topics
}

// IsDeviceScoped reports whether the topic carried a device_id segment.
func (t ParsedTopic) IsDeviceScoped() bool {
	return t.DeviceID != ""
}

// Message is the Adapter's output: a normalized inbound event.
// IsCached/IsSeqConsecutive are populated by the Ordering Engine at
// delivery time for message types it handles; they are zero-valued for
// NBIRTH/NDEATH/STATE/unsupported deliveries and whenever ordering is
// disabled.
type Message struct {
	Version           string
	Type              MessageType
	GroupID           string
	EdgeNodeID        string
	DeviceID          string
	Payload           Payload
	ReceivedAtMillis  int64
	IsSeqConsecutive  bool
	IsCached          bool
}
