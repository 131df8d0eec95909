package media

import (
	"fmt"
	"io"
)

// DefaultMaxBytes is the per-attachment size ceiling when none is configured.
const DefaultMaxBytes int64 = 20 << 20

// CheckDeclaredSize rejects a declared length above maxBytes. Unknown
// lengths (negative) pass and are enforced while reading.
func CheckDeclaredSize(length, maxBytes int64) error {
	if maxBytes > 0 && length > maxBytes {
		return fmt.Errorf("%w: declared %d bytes, max %d", ErrPayloadTooLarge, length, maxBytes)
	}
	return nil
}

// ReadAllWithLimit reads reader to the end, failing with ErrPayloadTooLarge
// as soon as more than maxBytes arrive.
func ReadAllWithLimit(reader io.Reader, maxBytes int64) ([]byte, error) {
	if reader == nil {
		return nil, fmt.Errorf("reader is required")
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	data, err := io.ReadAll(io.LimitReader(reader, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: max %d bytes", ErrPayloadTooLarge, maxBytes)
	}
	return data, nil
}
