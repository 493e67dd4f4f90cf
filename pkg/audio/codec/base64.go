package codec

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// base64ChunkSize is the number of raw bytes encoded per step. It is a
// multiple of 3 so that the encoded segments concatenate without padding.
const base64ChunkSize = 32766

// EncodeBase64 returns the standard Base64 encoding of pcm, built in fixed-size
// sub-chunks so large frames never need one oversized intermediate buffer.
func EncodeBase64(pcm []byte) string {
	var sb strings.Builder
	sb.Grow(base64.StdEncoding.EncodedLen(len(pcm)))

	buf := make([]byte, base64.StdEncoding.EncodedLen(min(len(pcm), base64ChunkSize)))
	for off := 0; off < len(pcm); off += base64ChunkSize {
		end := min(off+base64ChunkSize, len(pcm))
		n := base64.StdEncoding.EncodedLen(end - off)
		base64.StdEncoding.Encode(buf[:n], pcm[off:end])
		sb.Write(buf[:n])
	}
	return sb.String()
}

// DecodeBase64 reverses [EncodeBase64].
func DecodeBase64(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("codec: decode base64: %w", err)
	}
	return b, nil
}
