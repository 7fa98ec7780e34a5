package sparkplug

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodePayload_State(t *testing.T) {
	p, err := DecodePayload(STATE, []byte(`{"online":true,"timestamp":1234}`))
	require.NoError(t, err)
	require.True(t, p.Online)
	require.Equal(t, int64(1234), p.Timestamp)
	require.Equal(t, -1, p.Seq)
}

func TestDecodePayload_StateBad(t *testing.T) {
	_, err := DecodePayload(STATE, []byte(`not json`))
	require.Error(t, err)
}

func TestEncodeDecodePayload_NonState(t *testing.T) {
	p := &Payload{Timestamp: 10, Seq: 3, Metrics: []Metric{{Name: "bdSeq", DataType: DataTypeUInt32, Value: uint64(5)}}}
	data := EncodePayload(NBIRTH, p)
	decoded, err := DecodePayload(NBIRTH, data)
	require.NoError(t, err)
	require.Equal(t, 3, decoded.Seq)
	require.Equal(t, 5, ExtractBdSeq(decoded))
}

func TestExtractBdSeq(t *testing.T) {
	tests := []struct {
		name string
		p    Payload
		want int
	}{
		{"absent", Payload{}, 0},
		{"unsigned", Payload{Metrics: []Metric{{Name: "bdSeq", DataType: DataTypeUInt16, Value: uint64(99)}}}, 99},
		{"signed", Payload{Metrics: []Metric{{Name: "bdSeq", DataType: DataTypeInt32, Value: int64(12)}}}, 12},
		{"negative signed is overflow", Payload{Metrics: []Metric{{Name: "bdSeq", DataType: DataTypeInt32, Value: int64(-1)}}}, 0},
		{"unsupported datatype", Payload{Metrics: []Metric{{Name: "bdSeq", DataType: DataTypeString, Value: "nope"}}}, 0},
		{"overflow unsigned", Payload{Metrics: []Metric{{Name: "bdSeq", DataType: DataTypeUInt64, Value: uint64(1) << 40}}}, 0},
		{"other metric name ignored", Payload{Metrics: []Metric{{Name: "other", DataType: DataTypeUInt8, Value: uint64(5)}}}, 0},
		{"int8 is not a supported bdSeq datatype", Payload{Metrics: []Metric{{Name: "bdSeq", DataType: DataTypeInt8, Value: int64(5)}}}, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, ExtractBdSeq(tc.p))
		})
	}
}
