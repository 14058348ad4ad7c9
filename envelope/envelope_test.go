package envelope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/embermesh/emberdht/crypto"
)

func testHeader(dest Destination) Header {
	return Header{
		Version:     ProtocolVersion,
		Destination: dest,
		MessageType: MessageTypeNone,
		Network:     NetworkLocalTest,
	}
}

func TestRoundTripBroadcast(t *testing.T) {
	env := &Envelope{
		Header: testHeader(BroadcastDestination()),
		Body:   []byte("payload"),
	}

	data, err := Marshal(env)
	require.NoError(t, err)

	decoded, err := Unmarshal(data, 0)
	require.NoError(t, err)
	assert.Equal(t, env.Header, decoded.Header)
	assert.Equal(t, env.Body, decoded.Body)
}

func TestRoundTripAllDestinations(t *testing.T) {
	nodeID := []byte{1, 2, 3, 4}
	publicKey := make([]byte, crypto.KeySize)
	publicKey[0] = 0xAA

	tests := []struct {
		name string
		dest Destination
	}{
		{"unknown", BroadcastDestination()},
		{"public_key", PublicKeyDestination(publicKey)},
		{"node_id", NodeIDDestination(nodeID)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := &Envelope{Header: testHeader(tt.dest), Body: []byte("x")}

			data, err := Marshal(env)
			require.NoError(t, err)

			decoded, err := Unmarshal(data, 0)
			require.NoError(t, err)
			assert.Equal(t, tt.dest.Kind(), decoded.Header.Destination.Kind())
			assert.Equal(t, env.Header, decoded.Header)
		})
	}
}

func TestRoundTripWithOrigin(t *testing.T) {
	keys, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	header := testHeader(BroadcastDestination())
	header.MessageType = MessageTypeJoin
	header.Origin = &Origin{
		PublicKey: keys.Public,
		Signature: []byte{9, 9, 9},
	}

	data, err := Marshal(&Envelope{Header: header, Body: []byte("join")})
	require.NoError(t, err)

	decoded, err := Unmarshal(data, 0)
	require.NoError(t, err)
	require.NotNil(t, decoded.Header.Origin)
	assert.Equal(t, keys.Public, decoded.Header.Origin.PublicKey)
	assert.Equal(t, []byte{9, 9, 9}, decoded.Header.Origin.Signature)
}

func TestUnmarshalRejectsMultipleDestinations(t *testing.T) {
	// Hand-build a header with both unknown and node_id variants present.
	var header []byte
	header = protowire.AppendTag(header, fieldHeaderVersion, protowire.VarintType)
	header = protowire.AppendVarint(header, 1)
	header = protowire.AppendTag(header, fieldHeaderDestUnknown, protowire.VarintType)
	header = protowire.AppendVarint(header, 1)
	header = protowire.AppendTag(header, fieldHeaderDestNodeID, protowire.BytesType)
	header = protowire.AppendBytes(header, []byte{1, 2})

	var data []byte
	data = protowire.AppendTag(data, fieldEnvelopeHeader, protowire.BytesType)
	data = protowire.AppendBytes(data, header)

	_, err := Unmarshal(data, 0)
	assert.ErrorIs(t, err, ErrMalformedEnvelope)
}

func TestUnmarshalRejectsMissingDestination(t *testing.T) {
	var header []byte
	header = protowire.AppendTag(header, fieldHeaderVersion, protowire.VarintType)
	header = protowire.AppendVarint(header, 1)

	var data []byte
	data = protowire.AppendTag(data, fieldEnvelopeHeader, protowire.BytesType)
	data = protowire.AppendBytes(data, header)

	_, err := Unmarshal(data, 0)
	assert.ErrorIs(t, err, ErrMalformedEnvelope)
}

func TestUnmarshalRejectsUnknownMessageType(t *testing.T) {
	var header []byte
	header = protowire.AppendTag(header, fieldHeaderDestUnknown, protowire.VarintType)
	header = protowire.AppendVarint(header, 1)
	header = protowire.AppendTag(header, fieldHeaderMessageType, protowire.VarintType)
	header = protowire.AppendVarint(header, 250)

	var data []byte
	data = protowire.AppendTag(data, fieldEnvelopeHeader, protowire.BytesType)
	data = protowire.AppendBytes(data, header)

	_, err := Unmarshal(data, 0)
	assert.ErrorIs(t, err, ErrMalformedEnvelope)
}

func TestUnmarshalRejectsOversizedEnvelope(t *testing.T) {
	env := &Envelope{
		Header: testHeader(BroadcastDestination()),
		Body:   make([]byte, 4096),
	}
	data, err := Marshal(env)
	require.NoError(t, err)

	_, err = Unmarshal(data, 1024)
	assert.ErrorIs(t, err, ErrMalformedEnvelope)
}

func TestUnmarshalRejectsMissingHeader(t *testing.T) {
	var data []byte
	data = protowire.AppendTag(data, fieldEnvelopeBody, protowire.BytesType)
	data = protowire.AppendBytes(data, []byte("body only"))

	_, err := Unmarshal(data, 0)
	assert.ErrorIs(t, err, ErrMalformedEnvelope)
}

func TestUnmarshalRejectsGarbage(t *testing.T) {
	_, err := Unmarshal([]byte{0xFF, 0xFF, 0xFF}, 0)
	assert.ErrorIs(t, err, ErrMalformedEnvelope)
}

func TestUnmarshalSkipsUnknownFields(t *testing.T) {
	env := &Envelope{Header: testHeader(BroadcastDestination()), Body: []byte("b")}
	data, err := Marshal(env)
	require.NoError(t, err)

	// A future protocol revision appends a field this version does not know.
	data = protowire.AppendTag(data, 15, protowire.BytesType)
	data = protowire.AppendBytes(data, []byte("future"))

	decoded, err := Unmarshal(data, 0)
	require.NoError(t, err)
	assert.Equal(t, env.Body, decoded.Body)
}

func TestSignatureChallengeIgnoresSignatureField(t *testing.T) {
	keys, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	header := testHeader(BroadcastDestination())
	header.Origin = &Origin{PublicKey: keys.Public}
	body := []byte("body")

	before, err := SignatureChallenge(header, body)
	require.NoError(t, err)

	header.Origin.Signature = []byte{1, 2, 3}
	after, err := SignatureChallenge(header, body)
	require.NoError(t, err)

	assert.Equal(t, before, after, "attaching a signature must not change the challenge")
}

func TestSignatureChallengeDetectsHeaderTampering(t *testing.T) {
	header := testHeader(BroadcastDestination())
	body := []byte("body")

	before, err := SignatureChallenge(header, body)
	require.NoError(t, err)

	header.Flags |= FlagEncrypted
	after, err := SignatureChallenge(header, body)
	require.NoError(t, err)

	assert.NotEqual(t, before, after, "flipping a header flag must change the challenge")
}

func TestHeaderCloneIsDeep(t *testing.T) {
	keys, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	header := testHeader(NodeIDDestination([]byte{5, 6, 7}))
	header.Origin = &Origin{PublicKey: keys.Public, Signature: []byte{1}}

	clone := header.Clone()
	clone.Origin.Signature[0] = 99

	assert.Equal(t, byte(1), header.Origin.Signature[0])
}
