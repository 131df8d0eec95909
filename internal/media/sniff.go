package media

import (
	"bytes"
	"strings"
)

// Content types recognised by SniffContentType.
const (
	MimeJPEG   = "image/jpeg"
	MimePNG    = "image/png"
	MimeGIF    = "image/gif"
	MimeWebP   = "image/webp"
	MimeMP4    = "video/mp4"
	MimeOGG    = "audio/ogg"
	MimeMP3    = "audio/mpeg"
	MimeBinary = "application/octet-stream"
)

const maxNameRunes = 120

// SniffContentType classifies data by its leading magic bytes.
func SniffContentType(data []byte) string {
	switch {
	case bytes.HasPrefix(data, []byte{0xFF, 0xD8}):
		return MimeJPEG
	case bytes.HasPrefix(data, []byte{0x89, 0x50, 0x4E, 0x47}):
		return MimePNG
	case bytes.HasPrefix(data, []byte("GIF")):
		return MimeGIF
	case len(data) >= 12 && bytes.Equal(data[:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return MimeWebP
	case len(data) >= 8 && bytes.Equal(data[4:8], []byte("ftyp")):
		return MimeMP4
	case bytes.HasPrefix(data, []byte("OggS")):
		return MimeOGG
	case bytes.HasPrefix(data, []byte{0xFF, 0xFB}), bytes.HasPrefix(data, []byte("ID3")):
		return MimeMP3
	default:
		return MimeBinary
	}
}

// ExtensionFor returns the file extension for a sniffed content type.
func ExtensionFor(contentType string) string {
	switch contentType {
	case MimeJPEG:
		return ".jpg"
	case MimePNG:
		return ".png"
	case MimeGIF:
		return ".gif"
	case MimeWebP:
		return ".webp"
	case MimeMP4:
		return ".mp4"
	case MimeOGG:
		return ".ogg"
	case MimeMP3:
		return ".mp3"
	default:
		return ".bin"
	}
}

// SanitizeFileName replaces path separators, reserved characters and
// control characters with underscores and drops leading dots.
func SanitizeFileName(name string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(name) {
		switch {
		case r < 0x20 || r == 0x7f:
			b.WriteRune('_')
		case strings.ContainsRune(`<>:"/\|?*`, r):
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	out := strings.TrimLeft(b.String(), ".")
	if runes := []rune(out); len(runes) > maxNameRunes {
		out = string(runes[:maxNameRunes])
	}
	if out == "" {
		out = "file"
	}
	return out
}
