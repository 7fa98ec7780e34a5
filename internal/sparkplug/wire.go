package sparkplug

import (
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/sparklernet/hostcore/internal/hosterrors"
)

// Field numbers for the reduced Sparkplug B schema this host core needs.
// Payload timestamp/metrics/seq and metric name use the published
// sparkplug_b.proto numbers; body and the other metric fields use this
// codec's own numbering and are not wire-compatible with the published
// schema. DataSet/Template/PropertySet/alias are not modeled.
const (
	fieldPayloadTimestamp protowire.Number = 1
	fieldPayloadMetrics   protowire.Number = 2
	fieldPayloadSeq       protowire.Number = 3
	fieldPayloadBody      protowire.Number = 4

	fieldMetricName        protowire.Number = 1
	fieldMetricTimestamp   protowire.Number = 2
	fieldMetricDatatype    protowire.Number = 3
	fieldMetricUintValue   protowire.Number = 4
	fieldMetricIntValue    protowire.Number = 5
	fieldMetricBoolValue   protowire.Number = 6
	fieldMetricStringValue protowire.Number = 7
	fieldMetricDoubleValue protowire.Number = 8
)

// encodeProtobufPayload serializes a Payload using the wire codec
// manual protowire encoding, no
// generated .pb.go.
func encodeProtobufPayload(p *Payload) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldPayloadTimestamp, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(p.Timestamp))
	for _, m := range p.Metrics {
		b = protowire.AppendTag(b, fieldPayloadMetrics, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeMetric(m))
	}
	if p.Seq >= 0 {
		b = protowire.AppendTag(b, fieldPayloadSeq, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(p.Seq))
	}
	if len(p.Body) > 0 {
		b = protowire.AppendTag(b, fieldPayloadBody, protowire.BytesType)
		b = protowire.AppendBytes(b, p.Body)
	}
	return b
}

func encodeMetric(m Metric) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldMetricName, protowire.BytesType)
	b = protowire.AppendString(b, m.Name)
	if m.Timestamp != 0 {
		b = protowire.AppendTag(b, fieldMetricTimestamp, protowire.VarintType)
		b = protowire.AppendVarint(b, m.Timestamp)
	}
	b = protowire.AppendTag(b, fieldMetricDatatype, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.DataType))

	switch v := m.Value.(type) {
	case uint64:
		b = protowire.AppendTag(b, fieldMetricUintValue, protowire.VarintType)
		b = protowire.AppendVarint(b, v)
	case int64:
		b = protowire.AppendTag(b, fieldMetricIntValue, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(v))
	case bool:
		b = protowire.AppendTag(b, fieldMetricBoolValue, protowire.VarintType)
		if v {
			b = protowire.AppendVarint(b, 1)
		} else {
			b = protowire.AppendVarint(b, 0)
		}
	case string:
		b = protowire.AppendTag(b, fieldMetricStringValue, protowire.BytesType)
		b = protowire.AppendString(b, v)
	case float64:
		b = protowire.AppendTag(b, fieldMetricDoubleValue, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(v))
	}
	return b
}

// decodeProtobufPayload deserializes payload bytes produced by
// encodeProtobufPayload (or any conformant encoder writing the same
// field numbering). It fails with hosterrors.ErrBadPayload on malformed
// input.
func decodeProtobufPayload(data []byte) (Payload, error) {
	p := Payload{Seq: -1}
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Payload{}, hosterrors.Wrap(hosterrors.ErrBadPayload, "malformed payload tag")
		}
		b = b[n:]
		switch num {
		case fieldPayloadTimestamp:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Payload{}, hosterrors.Wrap(hosterrors.ErrBadPayload, "malformed payload timestamp")
			}
			p.Timestamp = int64(v)
			b = b[n:]
		case fieldPayloadSeq:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Payload{}, hosterrors.Wrap(hosterrors.ErrBadPayload, "malformed payload seq")
			}
			p.Seq = int(v)
			b = b[n:]
		case fieldPayloadMetrics:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Payload{}, hosterrors.Wrap(hosterrors.ErrBadPayload, "malformed payload metric")
			}
			m, err := decodeMetric(raw)
			if err != nil {
				return Payload{}, err
			}
			p.Metrics = append(p.Metrics, m)
			b = b[n:]
		case fieldPayloadBody:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Payload{}, hosterrors.Wrap(hosterrors.ErrBadPayload, "malformed payload body")
			}
			p.Body = raw
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Payload{}, hosterrors.Wrap(hosterrors.ErrBadPayload, "malformed unknown payload field")
			}
			b = b[n:]
		}
	}
	return p, nil
}

func decodeMetric(data []byte) (Metric, error) {
	var m Metric
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Metric{}, hosterrors.Wrap(hosterrors.ErrBadPayload, "malformed metric tag")
		}
		b = b[n:]
		switch num {
		case fieldMetricName:
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return Metric{}, hosterrors.Wrap(hosterrors.ErrBadPayload, "malformed metric name")
			}
			m.Name = s
			b = b[n:]
		case fieldMetricTimestamp:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Metric{}, hosterrors.Wrap(hosterrors.ErrBadPayload, "malformed metric timestamp")
			}
			m.Timestamp = v
			b = b[n:]
		case fieldMetricDatatype:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Metric{}, hosterrors.Wrap(hosterrors.ErrBadPayload, "malformed metric datatype")
			}
			m.DataType = DataType(v)
			b = b[n:]
		case fieldMetricUintValue:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Metric{}, hosterrors.Wrap(hosterrors.ErrBadPayload, "malformed metric uint value")
			}
			m.Value = v
			b = b[n:]
		case fieldMetricIntValue:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Metric{}, hosterrors.Wrap(hosterrors.ErrBadPayload, "malformed metric int value")
			}
			m.Value = protowire.DecodeZigZag(v)
			b = b[n:]
		case fieldMetricBoolValue:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Metric{}, hosterrors.Wrap(hosterrors.ErrBadPayload, "malformed metric bool value")
			}
			m.Value = v != 0
			b = b[n:]
		case fieldMetricStringValue:
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return Metric{}, hosterrors.Wrap(hosterrors.ErrBadPayload, "malformed metric string value")
			}
			m.Value = s
			b = b[n:]
		case fieldMetricDoubleValue:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return Metric{}, hosterrors.Wrap(hosterrors.ErrBadPayload, "malformed metric double value")
			}
			m.Value = math.Float64frombits(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Metric{}, hosterrors.Wrap(hosterrors.ErrBadPayload, "malformed unknown metric field")
			}
			b = b[n:]
		}
	}
	return m, nil
}
