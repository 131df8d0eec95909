package media

import "errors"

var (
	// ErrDownloadFailed indicates a network failure or non-success response.
	ErrDownloadFailed = errors.New("media download failed")
	// ErrPayloadTooLarge indicates the payload exceeds the configured max size.
	ErrPayloadTooLarge = errors.New("media payload too large")
	// ErrPathTraversal indicates a storage key attempted directory traversal.
	ErrPathTraversal = errors.New("path traversal is forbidden")
)
