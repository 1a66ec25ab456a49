package wire

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/penguintechinc/simsubstrate/pkg/moduleid"
)

func TestControlFrameRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	cc, err := NewCodec(client, 0)
	require.NoError(t, err)
	sc, err := NewCodec(server, 0)
	require.NoError(t, err)

	want := ControlFrame{Identity: moduleid.ID("m1"), Verb: VerbQuit}
	go func() {
		_ = cc.WriteControl(want)
	}()

	got, err := sc.ReadControl()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestDataFrameRoundTripWithSentinel(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	cc, err := NewCodec(client, 0)
	require.NoError(t, err)
	sc, err := NewCodec(server, 0)
	require.NoError(t, err)

	want := DataFrame{
		Identity: moduleid.ID("m1"),
		Envelope: DataEnvelope{Peer: moduleid.ID("m2"), Payload: AbsenceSentinel()},
	}
	go func() {
		_ = cc.WriteData(want)
	}()

	got, err := sc.ReadData()
	require.NoError(t, err)
	assert.True(t, got.Envelope.Payload.Sentinel)
	assert.Equal(t, want.Identity, got.Identity)
}

func TestDataFrameCompression(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	cc, err := NewCodec(client, 8)
	require.NoError(t, err)
	sc, err := NewCodec(server, 8)
	require.NoError(t, err)

	vals := make([]float64, 64)
	for i := range vals {
		vals[i] = float64(i)
	}
	want := DataFrame{
		Identity: moduleid.ID("m1"),
		Envelope: DataEnvelope{Peer: moduleid.ID("m2"), Payload: FromFloat64(vals)},
	}

	go func() {
		_ = cc.WriteData(want)
	}()

	got, err := sc.ReadData()
	require.NoError(t, err)
	assert.False(t, got.Envelope.Payload.Compressed, "decode should transparently decompress")

	backVals, err := got.Envelope.Payload.Float64()
	require.NoError(t, err)
	assert.Equal(t, vals, backVals)
}

func TestSampleSentinelDistinctFromEmpty(t *testing.T) {
	empty := FromFloat64(nil)
	sentinel := AbsenceSentinel()

	assert.False(t, empty.Sentinel)
	assert.True(t, sentinel.Sentinel)
	assert.Equal(t, 0, empty.Len())
}
