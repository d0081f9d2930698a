package chunk_test

import (
	"bytes"
	"reflect"
	"testing"

	"github.com/wippyai/offload/chunk"
)

func TestBinaryFrameRoundTrip(t *testing.T) {
	h := chunk.Header{
		Index:    2,
		Total:    4,
		Offset:   512,
		Size:     256,
		Hash:     "deadbeef",
		Checksum: "cafe",
		Encoding: chunk.EncodingRaw,
	}
	payload := randomBytes(t, 256)

	frame, err := chunk.EncodeBinaryFrame(h, payload)
	if err != nil {
		t.Fatal(err)
	}

	got, gotPayload, err := chunk.DecodeBinaryFrame(frame)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, h) {
		t.Errorf("header = %+v, want %+v", got, h)
	}
	if !bytes.Equal(gotPayload, payload) {
		t.Error("payload differs after round trip")
	}
}

func TestDecodeBinaryFrameRejectsCorruptInput(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
	}{
		{"too short", []byte{0, 0}},
		{"length exceeds frame", []byte{0xFF, 0xFF, 0xFF, 0xFF, 1, 2}},
		{"garbage header", []byte{0, 0, 0, 3, 0xFF, 0xFE, 0xFD}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := chunk.DecodeBinaryFrame(tt.frame); err == nil {
				t.Error("expected decode error")
			}
		})
	}
}

func TestTextFrameRoundTrip(t *testing.T) {
	h := chunk.Header{
		Index:    0,
		Total:    1,
		Size:     13,
		Checksum: "abc",
		Encoding: chunk.EncodingUTF8,
	}

	frame, err := chunk.EncodeTextFrame(h, "héllo wörld 🙂")
	if err != nil {
		t.Fatal(err)
	}

	got, payload, err := chunk.DecodeTextFrame(frame)
	if err != nil {
		t.Fatal(err)
	}
	if got.Index != h.Index || got.Checksum != h.Checksum {
		t.Errorf("header = %+v, want %+v", got, h)
	}
	if payload != "héllo wörld 🙂" {
		t.Errorf("payload = %q", payload)
	}
}

func TestDecodeTextFrameRejectsCorruptInput(t *testing.T) {
	tests := []struct {
		name  string
		frame string
	}{
		{"no separator", "12{}"},
		{"bad length", "x:{}"},
		{"length exceeds frame", "99:{}"},
		{"garbage header", "3:]]]rest"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := chunk.DecodeTextFrame(tt.frame); err == nil {
				t.Error("expected decode error")
			}
		})
	}
}

// EncodeFrame/DecodeFrame restore the payload into the field matching the
// header's encoding tag.
func TestChunkFrameRoundTrip(t *testing.T) {
	binary := chunk.NewBinary()
	binChunks, err := binary.Split(randomBytes(t, 100), 64)
	if err != nil {
		t.Fatal(err)
	}

	text := chunk.NewText()
	textChunks, err := text.Split("framed text payload", 8)
	if err != nil {
		t.Fatal(err)
	}

	structured := chunk.NewStructured()
	nodeChunks, err := structured.Split(map[string]any{"k": []any{1.0, 2.0}}, 1<<20)
	if err != nil {
		t.Fatal(err)
	}

	for _, c := range append(append(binChunks, textChunks...), nodeChunks...) {
		frame, err := chunk.EncodeFrame(c)
		if err != nil {
			t.Fatal(err)
		}
		got, err := chunk.DecodeFrame(frame)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got.Data, c.Data) {
			t.Errorf("chunk %d data differs", c.Header.Index)
		}
		if got.Text != c.Text {
			t.Errorf("chunk %d text differs", c.Header.Index)
		}
		if c.Value != nil && !reflect.DeepEqual(got.Value, c.Value) {
			t.Errorf("chunk %d value differs: %#v vs %#v", c.Header.Index, got.Value, c.Value)
		}
		if got.Header.Checksum != c.Header.Checksum {
			t.Errorf("chunk %d header mangled", c.Header.Index)
		}
	}
}
