package artifact

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

const (
	encodingNone = ""
	encodingZstd = "zstd"
)

// zstd.Encoder and zstd.Decoder are safe for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("artifact: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("artifact: zstd decoder initialization failed: " + err.Error())
	}
}

// compressBlob returns the zstd form of data when it is smaller. JPEG and
// Opus uploads usually stay as they are; WAV and PNG often shrink.
func compressBlob(data []byte) ([]byte, string) {
	if len(data) == 0 {
		return data, encodingNone
	}
	c := zstdEncoder.EncodeAll(data, nil)
	if len(c) >= len(data) {
		return data, encodingNone
	}
	return c, encodingZstd
}

func decompressBlob(data []byte, encoding string, size int) ([]byte, error) {
	switch encoding {
	case encodingNone:
		return data, nil
	case encodingZstd:
		out, err := zstdDecoder.DecodeAll(data, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if size > 0 && len(out) != size {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(out), size)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unknown blob encoding %q", encoding)
}
