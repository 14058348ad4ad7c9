// Package storeforward implements the store-and-forward cache: messages this
// node holds on behalf of peers that could not be reached directly, served
// back to neighbors through time-windowed retrieval requests. The cache is
// the only shared mutable state in the message core; everything else is
// per-envelope.
package storeforward

import (
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/embermesh/emberdht/envelope"
)

// StoredMessage is one cached envelope. EncryptedBody always holds the exact
// body bytes seen on arrival, so re-forwarding is a byte-exact replay and
// never a re-encryption.
type StoredMessage struct {
	StoredAt      time.Time
	Version       uint32
	Header        envelope.Header
	EncryptedBody []byte
}

// StoredMessagesRequest asks a neighbor for its cached messages. A nil Since
// means "all applicable".
type StoredMessagesRequest struct {
	Since *time.Time
}

// StoredMessagesResponse carries cached messages in storage order, oldest
// first.
type StoredMessagesResponse struct {
	Messages []StoredMessage
}

var errMalformed = errors.New("malformed store-forward payload")

// Field numbers are part of the wire protocol and must never be renumbered.
const (
	fieldStoredAt   = 1
	fieldVersion    = 2
	fieldHeader     = 3
	fieldBody       = 4

	fieldTimeSeconds = 1
	fieldTimeNanos   = 2

	fieldRequestSince = 1

	fieldResponseMessages = 1
)

func appendTimestamp(buf []byte, t time.Time) []byte {
	var ts []byte
	ts = protowire.AppendTag(ts, fieldTimeSeconds, protowire.VarintType)
	ts = protowire.AppendVarint(ts, uint64(t.Unix()))
	ts = protowire.AppendTag(ts, fieldTimeNanos, protowire.VarintType)
	ts = protowire.AppendVarint(ts, uint64(t.Nanosecond()))
	return protowire.AppendBytes(buf, ts)
}

func consumeTimestamp(data []byte) (time.Time, error) {
	var seconds int64
	var nanos int64

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return time.Time{}, fmt.Errorf("%w: invalid timestamp tag", errMalformed)
		}
		data = data[n:]

		switch {
		case num == fieldTimeSeconds && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return time.Time{}, fmt.Errorf("%w: truncated seconds", errMalformed)
			}
			seconds = int64(v)
			data = data[n:]
		case num == fieldTimeNanos && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return time.Time{}, fmt.Errorf("%w: truncated nanos", errMalformed)
			}
			nanos = int64(v)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return time.Time{}, fmt.Errorf("%w: invalid timestamp field", errMalformed)
			}
			data = data[n:]
		}
	}

	return time.Unix(seconds, nanos).UTC(), nil
}

// MarshalStoredMessage encodes one cached message.
func MarshalStoredMessage(m StoredMessage) ([]byte, error) {
	header, err := envelope.MarshalHeader(m.Header)
	if err != nil {
		return nil, err
	}

	var buf []byte
	buf = protowire.AppendTag(buf, fieldStoredAt, protowire.BytesType)
	buf = appendTimestamp(buf, m.StoredAt)
	buf = protowire.AppendTag(buf, fieldVersion, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(m.Version))
	buf = protowire.AppendTag(buf, fieldHeader, protowire.BytesType)
	buf = protowire.AppendBytes(buf, header)
	if len(m.EncryptedBody) > 0 {
		buf = protowire.AppendTag(buf, fieldBody, protowire.BytesType)
		buf = protowire.AppendBytes(buf, m.EncryptedBody)
	}
	return buf, nil
}

// UnmarshalStoredMessage decodes one cached message.
func UnmarshalStoredMessage(data []byte) (StoredMessage, error) {
	var m StoredMessage
	sawHeader := false

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return StoredMessage{}, fmt.Errorf("%w: invalid field tag", errMalformed)
		}
		data = data[n:]

		switch {
		case num == fieldStoredAt && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return StoredMessage{}, fmt.Errorf("%w: truncated stored_at", errMalformed)
			}
			ts, err := consumeTimestamp(v)
			if err != nil {
				return StoredMessage{}, err
			}
			m.StoredAt = ts
			data = data[n:]
		case num == fieldVersion && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return StoredMessage{}, fmt.Errorf("%w: truncated version", errMalformed)
			}
			m.Version = uint32(v)
			data = data[n:]
		case num == fieldHeader && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return StoredMessage{}, fmt.Errorf("%w: truncated header", errMalformed)
			}
			header, err := envelope.UnmarshalHeader(v)
			if err != nil {
				return StoredMessage{}, err
			}
			m.Header = header
			sawHeader = true
			data = data[n:]
		case num == fieldBody && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return StoredMessage{}, fmt.Errorf("%w: truncated body", errMalformed)
			}
			m.EncryptedBody = append([]byte(nil), v...)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return StoredMessage{}, fmt.Errorf("%w: invalid field %d", errMalformed, num)
			}
			data = data[n:]
		}
	}

	if !sawHeader {
		return StoredMessage{}, fmt.Errorf("%w: missing header", errMalformed)
	}
	return m, nil
}

// MarshalRequest encodes a retrieval request.
func MarshalRequest(r StoredMessagesRequest) []byte {
	var buf []byte
	if r.Since != nil {
		buf = protowire.AppendTag(buf, fieldRequestSince, protowire.BytesType)
		buf = appendTimestamp(buf, *r.Since)
	}
	return buf
}

// UnmarshalRequest decodes a retrieval request.
func UnmarshalRequest(data []byte) (StoredMessagesRequest, error) {
	var r StoredMessagesRequest

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return StoredMessagesRequest{}, fmt.Errorf("%w: invalid field tag", errMalformed)
		}
		data = data[n:]

		switch {
		case num == fieldRequestSince && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return StoredMessagesRequest{}, fmt.Errorf("%w: truncated since", errMalformed)
			}
			ts, err := consumeTimestamp(v)
			if err != nil {
				return StoredMessagesRequest{}, err
			}
			r.Since = &ts
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return StoredMessagesRequest{}, fmt.Errorf("%w: invalid field %d", errMalformed, num)
			}
			data = data[n:]
		}
	}

	return r, nil
}

// MarshalResponse encodes a retrieval response.
func MarshalResponse(r StoredMessagesResponse) ([]byte, error) {
	var buf []byte
	for _, m := range r.Messages {
		encoded, err := MarshalStoredMessage(m)
		if err != nil {
			return nil, err
		}
		buf = protowire.AppendTag(buf, fieldResponseMessages, protowire.BytesType)
		buf = protowire.AppendBytes(buf, encoded)
	}
	return buf, nil
}

// UnmarshalResponse decodes a retrieval response, preserving message order.
func UnmarshalResponse(data []byte) (StoredMessagesResponse, error) {
	var r StoredMessagesResponse

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return StoredMessagesResponse{}, fmt.Errorf("%w: invalid field tag", errMalformed)
		}
		data = data[n:]

		switch {
		case num == fieldResponseMessages && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return StoredMessagesResponse{}, fmt.Errorf("%w: truncated message", errMalformed)
			}
			m, err := UnmarshalStoredMessage(v)
			if err != nil {
				return StoredMessagesResponse{}, err
			}
			r.Messages = append(r.Messages, m)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return StoredMessagesResponse{}, fmt.Errorf("%w: invalid field %d", errMalformed, num)
			}
			data = data[n:]
		}
	}

	return r, nil
}
