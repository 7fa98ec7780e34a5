package sparkplug

import (
	"encoding/json"

	"github.com/sparklernet/hostcore/internal/hosterrors"
)

// statePayloadJSON is the wire shape of a STATE certificate: UTF-8 JSON
// with exactly the online flag and timestamp fields.
type statePayloadJSON struct {
	Online    bool  `json:"online"`
	Timestamp int64 `json:"timestamp"`
}

// DecodePayload decodes payload bytes according to message type: STATE
// decodes as JSON, everything else as the Sparkplug protobuf schema. It
// fails with hosterrors.ErrBadPayload on any decode error.
func DecodePayload(mt MessageType, data []byte) (Payload, error) {
	if mt == STATE {
		var s statePayloadJSON
		if err := json.Unmarshal(data, &s); err != nil {
			return Payload{}, hosterrors.Wrap(hosterrors.ErrBadPayload, "malformed STATE JSON")
		}
		return Payload{Timestamp: s.Timestamp, Seq: -1, Online: s.Online}, nil
	}
	return decodeProtobufPayload(data)
}

// EncodePayload is the encode-side counterpart of DecodePayload, used by
// the Host Coordinator to build outbound STATE and NCMD/DCMD bodies.
func EncodePayload(mt MessageType, p *Payload) []byte {
	if mt == STATE {
		return EncodeStatePayload(p.Online, p.Timestamp)
	}
	return encodeProtobufPayload(p)
}

// EncodeStatePayload builds the retained JSON body for a Host STATE
// birth or death certificate.
func EncodeStatePayload(online bool, timestampMillis int64) []byte {
	b, _ := json.Marshal(statePayloadJSON{Online: online, Timestamp: timestampMillis})
	return b
}

// ExtractBdSeq linearly scans a decoded Payload's metrics for one named
// "bdSeq" with a supported integer datatype and a convertible value,
// returning it, or 0 if absent, unsupported, or the conversion
// overflows (wraparound is not an error).
func ExtractBdSeq(p Payload) int {
	for _, m := range p.Metrics {
		if m.Name != "bdSeq" {
			continue
		}
		if !isUnsignedInt(m.DataType) && !isSignedInt(m.DataType) {
			return 0
		}
		switch v := m.Value.(type) {
		case uint64:
			if v > 0x7fffffff {
				return 0
			}
			return int(v)
		case int64:
			if v < 0 || v > 0x7fffffff {
				return 0
			}
			return int(v)
		default:
			return 0
		}
	}
	return 0
}
