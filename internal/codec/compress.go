package codec

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
)

// compressionThreshold is the minimum body size (spec.md §4.2 step 4) below
// which compression is skipped: small documents rarely shrink enough to be
// worth the CPU, and gzip's own header overhead can make them larger.
const compressionThreshold = 256

// Compress gzips body when it is at least compressionThreshold bytes,
// reporting whether compression was applied so the caller can record that
// fact in object metadata for Decompress to use on read.
//
// compress/gzip is standard library rather than a pack dependency: none of
// the example repos import a third-party compressor, and gzip is what
// spec.md's blob body footprint calls for (widely supported, streaming,
// no format-negotiation concerns against a cold read path).
func Compress(body []byte) (out []byte, compressed bool, err error) {
	if len(body) < compressionThreshold {
		return body, false, nil
	}

	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(body); err != nil {
		return nil, false, fmt.Errorf("gzip write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, false, fmt.Errorf("gzip close: %w", err)
	}

	if buf.Len() >= len(body) {
		return body, false, nil
	}
	return buf.Bytes(), true, nil
}

// Decompress reverses Compress when compressed is true.
func Decompress(body []byte, compressed bool) ([]byte, error) {
	if !compressed {
		return body, nil
	}
	r, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gzip reader: %w", err)
	}
	defer func() { _ = r.Close() }()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("gzip read: %w", err)
	}
	return out, nil
}
