package chunk

import (
	"sync"

	"github.com/klauspost/compress/zstd"
)

// CompressionZstd is the value Header.Compression carries for
// zstd-compressed payloads.
const CompressionZstd = "zstd"

var (
	zstdOnce sync.Once
	zstdEnc  *zstd.Encoder
	zstdDec  *zstd.Decoder
)

func zstdInit() {
	zstdOnce.Do(func() {
		zstdEnc, _ = zstd.NewWriter(nil)
		zstdDec, _ = zstd.NewReader(nil)
	})
}

func compress(b []byte) []byte {
	zstdInit()
	return zstdEnc.EncodeAll(b, make([]byte, 0, len(b)/2))
}

func decompress(b []byte) ([]byte, error) {
	zstdInit()
	return zstdDec.DecodeAll(b, nil)
}
