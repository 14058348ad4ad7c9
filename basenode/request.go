// Package basenode defines the wire shape of the base-node chain-state query
// protocol. This is an application-level protocol that rides on top of the
// DHT message layer as an opaque pass-through payload; the message core
// never interprets it. Only the request envelope and its correlation key are
// specified here; the chain-state dispatcher answering these requests lives
// in the full node.
package basenode

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Request is one of the chain-state queries a wallet or peer can put to a
// base node. Exactly one variant is present per ServiceRequest.
type Request interface {
	isRequest()
}

// GetChainMetadata asks for the node's current chain tip summary.
type GetChainMetadata struct{}

// FetchKernels requests transaction kernels by hash.
type FetchKernels struct{ Hashes [][]byte }

// FetchHeaders requests block headers by height.
type FetchHeaders struct{ Heights []uint64 }

// FetchHeadersWithHashes requests block headers by block hash.
type FetchHeadersWithHashes struct{ Hashes [][]byte }

// FetchUTXOs requests unspent outputs by hash.
type FetchUTXOs struct{ Hashes [][]byte }

// FetchBlocks requests full blocks by height.
type FetchBlocks struct{ Heights []uint64 }

// FetchBlocksWithHashes requests full blocks by block hash.
type FetchBlocksWithHashes struct{ Hashes [][]byte }

// GetNewBlockTemplate asks the node to assemble a mining template.
type GetNewBlockTemplate struct{}

// GetNewBlock asks the node to build a full block from an encoded template.
type GetNewBlock struct{ Template []byte }

// GetTargetDifficulty asks for the current mining target difficulty.
type GetTargetDifficulty struct{}

// FetchHeadersAfter requests the headers following the most recent of the
// given hashes, up to an optional stopping hash.
type FetchHeadersAfter struct {
	Hashes       [][]byte
	StoppingHash []byte
}

func (GetChainMetadata) isRequest()       {}
func (FetchKernels) isRequest()           {}
func (FetchHeaders) isRequest()           {}
func (FetchHeadersWithHashes) isRequest() {}
func (FetchUTXOs) isRequest()             {}
func (FetchBlocks) isRequest()            {}
func (FetchBlocksWithHashes) isRequest()  {}
func (GetNewBlockTemplate) isRequest()    {}
func (GetNewBlock) isRequest()            {}
func (GetTargetDifficulty) isRequest()    {}
func (FetchHeadersAfter) isRequest()      {}

// ServiceRequest pairs a query with the correlation key the responder must
// echo unchanged.
type ServiceRequest struct {
	RequestKey uint64
	Request    Request
}

var errMalformed = errors.New("malformed service request")

// Field numbers are part of the wire protocol and must never be renumbered.
const (
	fieldRequestKey = 1

	fieldGetChainMetadata       = 2
	fieldFetchKernels           = 3
	fieldFetchHeaders           = 4
	fieldFetchHeadersWithHashes = 5
	fieldFetchUTXOs             = 6
	fieldFetchBlocks            = 7
	fieldFetchBlocksWithHashes  = 8
	fieldGetNewBlockTemplate    = 9
	fieldGetNewBlock            = 10
	fieldGetTargetDifficulty    = 11
	fieldFetchHeadersAfter      = 12

	fieldHashes       = 1
	fieldHeights      = 1
	fieldTemplate     = 1
	fieldStoppingHash = 2
)

func appendHashList(buf []byte, hashes [][]byte) []byte {
	for _, h := range hashes {
		buf = protowire.AppendTag(buf, fieldHashes, protowire.BytesType)
		buf = protowire.AppendBytes(buf, h)
	}
	return buf
}

func appendHeightList(buf []byte, heights []uint64) []byte {
	for _, h := range heights {
		buf = protowire.AppendTag(buf, fieldHeights, protowire.VarintType)
		buf = protowire.AppendVarint(buf, h)
	}
	return buf
}

// Marshal encodes a service request. The request variant must be set.
func Marshal(r ServiceRequest) ([]byte, error) {
	if r.Request == nil {
		return nil, fmt.Errorf("%w: no request variant set", errMalformed)
	}

	var buf []byte
	buf = protowire.AppendTag(buf, fieldRequestKey, protowire.VarintType)
	buf = protowire.AppendVarint(buf, r.RequestKey)

	var field protowire.Number
	var payload []byte

	switch req := r.Request.(type) {
	case GetChainMetadata:
		field = fieldGetChainMetadata
	case FetchKernels:
		field, payload = fieldFetchKernels, appendHashList(nil, req.Hashes)
	case FetchHeaders:
		field, payload = fieldFetchHeaders, appendHeightList(nil, req.Heights)
	case FetchHeadersWithHashes:
		field, payload = fieldFetchHeadersWithHashes, appendHashList(nil, req.Hashes)
	case FetchUTXOs:
		field, payload = fieldFetchUTXOs, appendHashList(nil, req.Hashes)
	case FetchBlocks:
		field, payload = fieldFetchBlocks, appendHeightList(nil, req.Heights)
	case FetchBlocksWithHashes:
		field, payload = fieldFetchBlocksWithHashes, appendHashList(nil, req.Hashes)
	case GetNewBlockTemplate:
		field = fieldGetNewBlockTemplate
	case GetNewBlock:
		field = fieldGetNewBlock
		payload = protowire.AppendTag(nil, fieldTemplate, protowire.BytesType)
		payload = protowire.AppendBytes(payload, req.Template)
	case GetTargetDifficulty:
		field = fieldGetTargetDifficulty
	case FetchHeadersAfter:
		field = fieldFetchHeadersAfter
		payload = appendHashList(nil, req.Hashes)
		if len(req.StoppingHash) > 0 {
			payload = protowire.AppendTag(payload, fieldStoppingHash, protowire.BytesType)
			payload = protowire.AppendBytes(payload, req.StoppingHash)
		}
	default:
		return nil, fmt.Errorf("%w: unknown request variant %T", errMalformed, r.Request)
	}

	buf = protowire.AppendTag(buf, field, protowire.BytesType)
	buf = protowire.AppendBytes(buf, payload)
	return buf, nil
}

// Unmarshal decodes a service request, enforcing that exactly one variant is
// present.
func Unmarshal(data []byte) (ServiceRequest, error) {
	var r ServiceRequest
	variants := 0

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return ServiceRequest{}, fmt.Errorf("%w: invalid field tag", errMalformed)
		}
		data = data[n:]

		if num == fieldRequestKey && typ == protowire.VarintType {
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return ServiceRequest{}, fmt.Errorf("%w: truncated request key", errMalformed)
			}
			r.RequestKey = v
			data = data[n:]
			continue
		}

		if typ != protowire.BytesType {
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return ServiceRequest{}, fmt.Errorf("%w: invalid field %d", errMalformed, num)
			}
			data = data[n:]
			continue
		}

		v, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return ServiceRequest{}, fmt.Errorf("%w: truncated field %d", errMalformed, num)
		}
		data = data[n:]

		req, known, err := unmarshalVariant(num, v)
		if err != nil {
			return ServiceRequest{}, err
		}
		if !known {
			continue
		}
		r.Request = req
		variants++
	}

	if variants == 0 {
		return ServiceRequest{}, fmt.Errorf("%w: no request variant set", errMalformed)
	}
	if variants > 1 {
		return ServiceRequest{}, fmt.Errorf("%w: %d request variants set", errMalformed, variants)
	}
	return r, nil
}

func unmarshalVariant(num protowire.Number, data []byte) (Request, bool, error) {
	switch num {
	case fieldGetChainMetadata:
		return GetChainMetadata{}, true, nil
	case fieldFetchKernels:
		hashes, err := consumeHashList(data)
		return FetchKernels{Hashes: hashes}, true, err
	case fieldFetchHeaders:
		heights, err := consumeHeightList(data)
		return FetchHeaders{Heights: heights}, true, err
	case fieldFetchHeadersWithHashes:
		hashes, err := consumeHashList(data)
		return FetchHeadersWithHashes{Hashes: hashes}, true, err
	case fieldFetchUTXOs:
		hashes, err := consumeHashList(data)
		return FetchUTXOs{Hashes: hashes}, true, err
	case fieldFetchBlocks:
		heights, err := consumeHeightList(data)
		return FetchBlocks{Heights: heights}, true, err
	case fieldFetchBlocksWithHashes:
		hashes, err := consumeHashList(data)
		return FetchBlocksWithHashes{Hashes: hashes}, true, err
	case fieldGetNewBlockTemplate:
		return GetNewBlockTemplate{}, true, nil
	case fieldGetNewBlock:
		req := GetNewBlock{}
		err := consumeFields(data, func(num protowire.Number, v []byte) {
			if num == fieldTemplate {
				req.Template = append([]byte(nil), v...)
			}
		})
		return req, true, err
	case fieldGetTargetDifficulty:
		return GetTargetDifficulty{}, true, nil
	case fieldFetchHeadersAfter:
		req := FetchHeadersAfter{}
		err := consumeFields(data, func(num protowire.Number, v []byte) {
			switch num {
			case fieldHashes:
				req.Hashes = append(req.Hashes, append([]byte(nil), v...))
			case fieldStoppingHash:
				req.StoppingHash = append([]byte(nil), v...)
			}
		})
		return req, true, err
	default:
		return nil, false, nil
	}
}

func consumeHashList(data []byte) ([][]byte, error) {
	var hashes [][]byte
	err := consumeFields(data, func(num protowire.Number, v []byte) {
		if num == fieldHashes {
			hashes = append(hashes, append([]byte(nil), v...))
		}
	})
	return hashes, err
}

func consumeHeightList(data []byte) ([]uint64, error) {
	var heights []uint64
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("%w: invalid height list tag", errMalformed)
		}
		data = data[n:]

		if num == fieldHeights && typ == protowire.VarintType {
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("%w: truncated height", errMalformed)
			}
			heights = append(heights, v)
			data = data[n:]
			continue
		}

		n = protowire.ConsumeFieldValue(num, typ, data)
		if n < 0 {
			return nil, fmt.Errorf("%w: invalid height list field", errMalformed)
		}
		data = data[n:]
	}
	return heights, nil
}

// consumeFields walks length-delimited fields, invoking visit for each.
func consumeFields(data []byte, visit func(num protowire.Number, v []byte)) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("%w: invalid field tag", errMalformed)
		}
		data = data[n:]

		if typ == protowire.BytesType {
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return fmt.Errorf("%w: truncated field %d", errMalformed, num)
			}
			visit(num, v)
			data = data[n:]
			continue
		}

		n = protowire.ConsumeFieldValue(num, typ, data)
		if n < 0 {
			return fmt.Errorf("%w: invalid field %d", errMalformed, num)
		}
		data = data[n:]
	}
	return nil
}
