package chunk

import (
	"encoding/binary"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/fxamacker/cbor/v2"

	"github.com/wippyai/offload/errors"
)

// Binary wire frame: a 4-byte big-endian header length, the CBOR-encoded
// header, then the payload bytes. The prefix is emitted and consumed
// symmetrically so frames survive any transport that preserves bytes.

// EncodeBinaryFrame serializes a header and payload into one frame.
func EncodeBinaryFrame(h Header, payload []byte) ([]byte, error) {
	hb, err := cbor.Marshal(h)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseSplit, errors.KindInvalidInput, err, "encode chunk header")
	}
	frame := make([]byte, 4+len(hb)+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(hb)))
	copy(frame[4:], hb)
	copy(frame[4+len(hb):], payload)
	return frame, nil
}

// DecodeBinaryFrame splits a frame back into header and payload.
func DecodeBinaryFrame(frame []byte) (Header, []byte, error) {
	if len(frame) < 4 {
		return Header{}, nil, errors.CorruptFrame(-1, "frame shorter than length prefix", nil)
	}
	hlen := binary.BigEndian.Uint32(frame)
	if uint64(4)+uint64(hlen) > uint64(len(frame)) {
		return Header{}, nil, errors.CorruptFrame(-1, "header length exceeds frame", nil)
	}
	var h Header
	if err := cbor.Unmarshal(frame[4:4+hlen], &h); err != nil {
		return Header{}, nil, errors.CorruptFrame(-1, "undecodable chunk header", err)
	}
	return h, frame[4+hlen:], nil
}

// Text wire frame: "<headerLength>:<headerJSON><payload>".

// EncodeTextFrame serializes a header and text payload into one frame.
func EncodeTextFrame(h Header, payload string) (string, error) {
	hb, err := json.Marshal(h)
	if err != nil {
		return "", errors.Wrap(errors.PhaseSplit, errors.KindInvalidInput, err, "encode chunk header")
	}
	var b strings.Builder
	b.Grow(12 + len(hb) + len(payload))
	b.WriteString(strconv.Itoa(len(hb)))
	b.WriteByte(':')
	b.Write(hb)
	b.WriteString(payload)
	return b.String(), nil
}

// DecodeTextFrame splits a text frame back into header and payload.
func DecodeTextFrame(frame string) (Header, string, error) {
	sep := strings.IndexByte(frame, ':')
	if sep <= 0 {
		return Header{}, "", errors.CorruptFrame(-1, "missing header length prefix", nil)
	}
	hlen, err := strconv.Atoi(frame[:sep])
	if err != nil || hlen < 0 {
		return Header{}, "", errors.CorruptFrame(-1, "bad header length prefix", err)
	}
	rest := frame[sep+1:]
	if hlen > len(rest) {
		return Header{}, "", errors.CorruptFrame(-1, "header length exceeds frame", nil)
	}
	var h Header
	if err := json.Unmarshal([]byte(rest[:hlen]), &h); err != nil {
		return Header{}, "", errors.CorruptFrame(-1, "undecodable chunk header", err)
	}
	return h, rest[hlen:], nil
}

// EncodeFrame serializes any chunk into a binary frame, switching on the
// header's encoding tag. Structured fragments travel as canonical JSON.
func EncodeFrame(c Chunk) ([]byte, error) {
	switch c.Header.Encoding {
	case EncodingUTF8:
		return EncodeBinaryFrame(c.Header, []byte(c.Text))
	case EncodingJSON:
		data, err := marshalCanonical(c.Value)
		if err != nil {
			return nil, err
		}
		return EncodeBinaryFrame(c.Header, data)
	default:
		return EncodeBinaryFrame(c.Header, c.Data)
	}
}

// DecodeFrame reverses EncodeFrame, restoring the payload into the field
// matching the header's encoding tag.
func DecodeFrame(frame []byte) (Chunk, error) {
	h, payload, err := DecodeBinaryFrame(frame)
	if err != nil {
		return Chunk{}, err
	}
	c := Chunk{Header: h}
	switch h.Encoding {
	case EncodingUTF8:
		c.Text = string(payload)
	case EncodingJSON:
		if err := json.Unmarshal(payload, &c.Value); err != nil {
			return Chunk{}, errors.CorruptFrame(h.Index, "undecodable structured payload", err)
		}
	default:
		c.Data = append([]byte(nil), payload...)
	}
	return c, nil
}
