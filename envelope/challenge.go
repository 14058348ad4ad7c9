package envelope

import (
	"golang.org/x/crypto/blake2b"
)

// SignatureChallenge computes the digest covered by an origin signature: the
// canonical header bytes with the signature field itself zeroed, followed by
// the body, hashed with BLAKE2b-256. Any change to the header or body after
// signing changes the challenge.
func SignatureChallenge(h Header, body []byte) ([32]byte, error) {
	unsigned := h.Clone()
	if unsigned.Origin != nil {
		unsigned.Origin.Signature = nil
	}

	headerBytes, err := MarshalHeader(unsigned)
	if err != nil {
		return [32]byte{}, err
	}

	hash, err := blake2b.New256(nil)
	if err != nil {
		return [32]byte{}, err
	}
	hash.Write(headerBytes)
	hash.Write(body)

	var digest [32]byte
	copy(digest[:], hash.Sum(nil))
	return digest, nil
}
