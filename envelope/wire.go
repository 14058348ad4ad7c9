package envelope

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrMalformedEnvelope is returned when envelope bytes fail structural
// validation: an invalid tag-length-value structure, a destination with zero
// or multiple variants set, an unrecognized message type tag, or declared
// lengths beyond the configured maximum.
var ErrMalformedEnvelope = errors.New("malformed envelope")

// DefaultMaxSize is the default upper bound on a decoded envelope. Envelopes
// larger than this are rejected before any allocation proportional to their
// declared size.
const DefaultMaxSize = 512 * 1024

// Field numbers are part of the wire protocol and must never be renumbered.
const (
	fieldEnvelopeHeader = 1
	fieldEnvelopeBody   = 2

	fieldHeaderVersion       = 1
	fieldHeaderDestUnknown   = 2
	fieldHeaderDestPublicKey = 3
	fieldHeaderDestNodeID    = 4
	fieldHeaderOrigin        = 5
	fieldHeaderMessageType   = 6
	fieldHeaderNetwork       = 7
	fieldHeaderFlags         = 8

	fieldOriginPublicKey = 1
	fieldOriginSignature = 2
)

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrMalformedEnvelope, fmt.Sprintf(format, args...))
}

// Marshal encodes an envelope to its wire form.
func Marshal(env *Envelope) ([]byte, error) {
	header, err := MarshalHeader(env.Header)
	if err != nil {
		return nil, err
	}

	var buf []byte
	buf = protowire.AppendTag(buf, fieldEnvelopeHeader, protowire.BytesType)
	buf = protowire.AppendBytes(buf, header)
	if len(env.Body) > 0 {
		buf = protowire.AppendTag(buf, fieldEnvelopeBody, protowire.BytesType)
		buf = protowire.AppendBytes(buf, env.Body)
	}
	return buf, nil
}

// MarshalHeader encodes a header to its wire form. The same canonical bytes
// are used inside envelopes and as signature input.
func MarshalHeader(h Header) ([]byte, error) {
	if h.MessageType > maxMessageType {
		return nil, malformed("unknown message type tag %d", h.MessageType)
	}

	var buf []byte
	buf = protowire.AppendTag(buf, fieldHeaderVersion, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(h.Version))

	switch h.Destination.Kind() {
	case DestinationUnknown:
		buf = protowire.AppendTag(buf, fieldHeaderDestUnknown, protowire.VarintType)
		buf = protowire.AppendVarint(buf, 1)
	case DestinationPublicKey:
		pk, _ := h.Destination.PublicKey()
		if len(pk) == 0 {
			return nil, malformed("empty destination public key")
		}
		buf = protowire.AppendTag(buf, fieldHeaderDestPublicKey, protowire.BytesType)
		buf = protowire.AppendBytes(buf, pk)
	case DestinationNodeID:
		id, _ := h.Destination.NodeID()
		if len(id) == 0 {
			return nil, malformed("empty destination node id")
		}
		buf = protowire.AppendTag(buf, fieldHeaderDestNodeID, protowire.BytesType)
		buf = protowire.AppendBytes(buf, id)
	default:
		return nil, malformed("invalid destination kind %d", h.Destination.Kind())
	}

	if h.Origin != nil {
		origin := marshalOrigin(h.Origin)
		buf = protowire.AppendTag(buf, fieldHeaderOrigin, protowire.BytesType)
		buf = protowire.AppendBytes(buf, origin)
	}

	buf = protowire.AppendTag(buf, fieldHeaderMessageType, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(h.MessageType))
	buf = protowire.AppendTag(buf, fieldHeaderNetwork, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(h.Network))
	buf = protowire.AppendTag(buf, fieldHeaderFlags, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(h.Flags))

	return buf, nil
}

func marshalOrigin(o *Origin) []byte {
	var buf []byte
	buf = protowire.AppendTag(buf, fieldOriginPublicKey, protowire.BytesType)
	buf = protowire.AppendBytes(buf, o.PublicKey[:])
	if len(o.Signature) > 0 {
		buf = protowire.AppendTag(buf, fieldOriginSignature, protowire.BytesType)
		buf = protowire.AppendBytes(buf, o.Signature)
	}
	return buf
}

// Unmarshal decodes envelope bytes received from an untrusted peer. maxSize
// bounds the accepted input; pass 0 for DefaultMaxSize. Decoding is pure: it
// performs no authentication and has no side effects.
func Unmarshal(data []byte, maxSize int) (*Envelope, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if len(data) > maxSize {
		return nil, malformed("envelope of %d bytes exceeds maximum %d", len(data), maxSize)
	}

	var env Envelope
	sawHeader := false

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, malformed("invalid field tag")
		}
		data = data[n:]

		switch {
		case num == fieldEnvelopeHeader && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, malformed("truncated header field")
			}
			header, err := UnmarshalHeader(v)
			if err != nil {
				return nil, err
			}
			env.Header = header
			sawHeader = true
			data = data[n:]
		case num == fieldEnvelopeBody && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, malformed("truncated body field")
			}
			env.Body = append([]byte(nil), v...)
			data = data[n:]
		default:
			// Unknown fields are skipped for forward compatibility.
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, malformed("invalid field %d", num)
			}
			data = data[n:]
		}
	}

	if !sawHeader {
		return nil, malformed("missing header")
	}
	return &env, nil
}

// UnmarshalHeader decodes a header, enforcing that exactly one destination
// variant is set and the message type tag is recognized.
func UnmarshalHeader(data []byte) (Header, error) {
	var h Header
	destinations := 0

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return Header{}, malformed("invalid header field tag")
		}
		data = data[n:]

		switch {
		case num == fieldHeaderVersion && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return Header{}, malformed("truncated version")
			}
			h.Version = uint32(v)
			data = data[n:]
		case num == fieldHeaderDestUnknown && typ == protowire.VarintType:
			_, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return Header{}, malformed("truncated destination")
			}
			h.Destination = BroadcastDestination()
			destinations++
			data = data[n:]
		case num == fieldHeaderDestPublicKey && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return Header{}, malformed("truncated destination public key")
			}
			h.Destination = PublicKeyDestination(v)
			destinations++
			data = data[n:]
		case num == fieldHeaderDestNodeID && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return Header{}, malformed("truncated destination node id")
			}
			h.Destination = NodeIDDestination(v)
			destinations++
			data = data[n:]
		case num == fieldHeaderOrigin && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return Header{}, malformed("truncated origin")
			}
			origin, err := unmarshalOrigin(v)
			if err != nil {
				return Header{}, err
			}
			h.Origin = origin
			data = data[n:]
		case num == fieldHeaderMessageType && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return Header{}, malformed("truncated message type")
			}
			if v > uint64(maxMessageType) {
				return Header{}, malformed("unknown message type tag %d", v)
			}
			h.MessageType = MessageType(v)
			data = data[n:]
		case num == fieldHeaderNetwork && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return Header{}, malformed("truncated network")
			}
			h.Network = Network(v)
			data = data[n:]
		case num == fieldHeaderFlags && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return Header{}, malformed("truncated flags")
			}
			h.Flags = Flags(v)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return Header{}, malformed("invalid header field %d", num)
			}
			data = data[n:]
		}
	}

	if destinations == 0 {
		return Header{}, malformed("no destination variant set")
	}
	if destinations > 1 {
		return Header{}, malformed("%d destination variants set", destinations)
	}
	return h, nil
}

func unmarshalOrigin(data []byte) (*Origin, error) {
	var o Origin
	sawKey := false

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, malformed("invalid origin field tag")
		}
		data = data[n:]

		switch {
		case num == fieldOriginPublicKey && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, malformed("truncated origin public key")
			}
			if len(v) != len(o.PublicKey) {
				return nil, malformed("origin public key of %d bytes", len(v))
			}
			copy(o.PublicKey[:], v)
			sawKey = true
			data = data[n:]
		case num == fieldOriginSignature && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, malformed("truncated origin signature")
			}
			o.Signature = append([]byte(nil), v...)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, malformed("invalid origin field %d", num)
			}
			data = data[n:]
		}
	}

	if !sawKey {
		return nil, malformed("origin without public key")
	}
	return &o, nil
}
