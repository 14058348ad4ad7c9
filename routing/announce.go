package routing

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/embermesh/emberdht/crypto"
)

// Announce is the body of join, discovery, and discovery-response messages:
// the peer record of the announcing node.
type Announce struct {
	Peer Peer
}

var errMalformedAnnounce = errors.New("malformed announce")

const (
	fieldAnnounceNodeID    = 1
	fieldAnnouncePublicKey = 2
	fieldAnnounceAddr      = 3
)

// MarshalAnnounce encodes a peer announcement.
func MarshalAnnounce(a Announce) []byte {
	var buf []byte
	buf = protowire.AppendTag(buf, fieldAnnounceNodeID, protowire.BytesType)
	buf = protowire.AppendBytes(buf, a.Peer.NodeID[:])
	buf = protowire.AppendTag(buf, fieldAnnouncePublicKey, protowire.BytesType)
	buf = protowire.AppendBytes(buf, a.Peer.PublicKey[:])
	if a.Peer.Addr != "" {
		buf = protowire.AppendTag(buf, fieldAnnounceAddr, protowire.BytesType)
		buf = protowire.AppendString(buf, a.Peer.Addr)
	}
	return buf
}

// UnmarshalAnnounce decodes a peer announcement.
func UnmarshalAnnounce(data []byte) (Announce, error) {
	var a Announce
	sawID, sawKey := false, false

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return Announce{}, fmt.Errorf("%w: invalid field tag", errMalformedAnnounce)
		}
		data = data[n:]

		switch {
		case num == fieldAnnounceNodeID && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 || len(v) != NodeIDSize {
				return Announce{}, fmt.Errorf("%w: bad node id", errMalformedAnnounce)
			}
			copy(a.Peer.NodeID[:], v)
			sawID = true
			data = data[n:]
		case num == fieldAnnouncePublicKey && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 || len(v) != crypto.KeySize {
				return Announce{}, fmt.Errorf("%w: bad public key", errMalformedAnnounce)
			}
			copy(a.Peer.PublicKey[:], v)
			sawKey = true
			data = data[n:]
		case num == fieldAnnounceAddr && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return Announce{}, fmt.Errorf("%w: bad addr", errMalformedAnnounce)
			}
			a.Peer.Addr = v
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return Announce{}, fmt.Errorf("%w: invalid field %d", errMalformedAnnounce, num)
			}
			data = data[n:]
		}
	}

	if !sawID || !sawKey {
		return Announce{}, fmt.Errorf("%w: missing peer identity", errMalformedAnnounce)
	}
	return a, nil
}
