package frame_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zencelium/zencelium/internal/frame"
	"github.com/zencelium/zencelium/internal/relayerr"
)

func TestDecodeEncodeRoundTrip(t *testing.T) {
	f := frame.Frame{
		Kind: frame.KindEvent,
		Name: "ping",
		UUID: "c4",
		Data: frame.Data{"n": float64(1)},
	}
	raw, err := f.Encode()
	require.NoError(t, err)

	got, err := frame.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, f, got)
}

func TestDecodeRejectsMalformed(t *testing.T) {
	cases := [][]byte{
		[]byte(`not json`),
		[]byte(`{"kind":"command","name":""}`),
		[]byte(`{"kind":"bogus","name":"x"}`),
	}
	for _, raw := range cases {
		_, err := frame.Decode(raw)
		require.ErrorIs(t, err, relayerr.ErrMalformed)
	}
}

func TestReplyPreservesCorrelationUUID(t *testing.T) {
	origin := frame.Frame{Kind: frame.KindCommand, Name: "login", UUID: "c1"}
	reply := origin.Reply("login-ok")
	assert.Equal(t, origin.UUID, reply.UUID)
	assert.Equal(t, frame.KindCommand, reply.Kind)
	assert.Nil(t, reply.Meta)
}

func TestReplyToRequestYieldsResponse(t *testing.T) {
	origin := frame.Frame{Kind: frame.KindRequest, Name: "status", UUID: "c7"}
	reply := origin.Reply("status")
	assert.Equal(t, frame.KindResponse, reply.Kind)
	assert.Equal(t, "c7", reply.UUID)
}

func TestSetMetaAndClear(t *testing.T) {
	var f frame.Frame
	f.SetMeta("source", map[string]string{"name": "alice"})
	require.NotNil(t, f.Meta)
	assert.Equal(t, map[string]string{"name": "alice"}, f.Meta["source"])

	f.UUID = "c1"
	f.ClearCorrelation()
	f.ClearMeta()
	assert.Empty(t, f.UUID)
	assert.Nil(t, f.Meta)
}
