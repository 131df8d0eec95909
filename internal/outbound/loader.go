package outbound

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/memohai/qqbridge/internal/media"
	"github.com/memohai/qqbridge/internal/onebot"
)

// Media is an outbound attachment loaded into memory.
type Media struct {
	Data        []byte
	Kind        onebot.MediaKind
	ContentType string
	FileName    string
}

// MediaLoader resolves a media reference into bytes.
type MediaLoader interface {
	Load(ctx context.Context, ref string, maxBytes int64) (Media, error)
}

// ErrLocalMediaDenied indicates a local media path outside LocalRoot.
var ErrLocalMediaDenied = errors.New("local media path not allowed")

// Loader loads http(s) URLs, file:// URLs and absolute local paths. Local
// paths must resolve inside LocalRoot; with no LocalRoot they are refused.
type Loader struct {
	Client    *http.Client
	Timeout   time.Duration
	LocalRoot string
}

// NewLoader creates a Loader with the given fetch timeout that reads local
// files only below localRoot.
func NewLoader(timeout time.Duration, localRoot string) *Loader {
	return &Loader{Client: &http.Client{}, Timeout: timeout, LocalRoot: localRoot}
}

// Load reads ref, bounded by maxBytes, and classifies it by content.
func (l *Loader) Load(ctx context.Context, ref string, maxBytes int64) (Media, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return Media{}, fmt.Errorf("media reference is required")
	}
	if maxBytes <= 0 {
		maxBytes = media.DefaultMaxBytes
	}
	var (
		data []byte
		name string
		err  error
	)
	u, parseErr := url.Parse(ref)
	switch {
	case parseErr == nil && (u.Scheme == "http" || u.Scheme == "https"):
		data, err = media.Fetch(ctx, l.Client, ref, maxBytes, l.Timeout)
		name = path.Base(u.Path)
	case parseErr == nil && u.Scheme == "file":
		data, err = l.readLocal(u.Path, maxBytes)
		name = filepath.Base(u.Path)
	case filepath.IsAbs(ref):
		data, err = l.readLocal(ref, maxBytes)
		name = filepath.Base(ref)
	default:
		return Media{}, fmt.Errorf("unsupported media reference %q", ref)
	}
	if err != nil {
		return Media{}, err
	}
	if name == "." || name == "/" {
		name = ""
	}
	mtype := mimetype.Detect(data)
	return Media{
		Data:        data,
		Kind:        kindFor(mtype.String()),
		ContentType: mtype.String(),
		FileName:    name,
	}, nil
}

func (l *Loader) readLocal(p string, maxBytes int64) ([]byte, error) {
	resolved, err := l.resolveLocal(p)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(resolved)
	if err != nil {
		return nil, fmt.Errorf("open media: %w", err)
	}
	defer f.Close()
	if info, err := f.Stat(); err == nil {
		if err := media.CheckDeclaredSize(info.Size(), maxBytes); err != nil {
			return nil, err
		}
	}
	return media.ReadAllWithLimit(f, maxBytes)
}

// resolveLocal follows symlinks so a link inside the root cannot point out
// of it.
func (l *Loader) resolveLocal(p string) (string, error) {
	if strings.TrimSpace(l.LocalRoot) == "" {
		return "", fmt.Errorf("%w: %s", ErrLocalMediaDenied, p)
	}
	root, err := filepath.Abs(l.LocalRoot)
	if err != nil {
		return "", fmt.Errorf("media root: %w", err)
	}
	if real, err := filepath.EvalSymlinks(root); err == nil {
		root = real
	}
	target, err := filepath.EvalSymlinks(filepath.Clean(p))
	if err != nil {
		return "", fmt.Errorf("open media: %w", err)
	}
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrLocalMediaDenied, p)
	}
	return target, nil
}

func kindFor(contentType string) onebot.MediaKind {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return onebot.MediaImage
	case strings.HasPrefix(contentType, "audio/"):
		return onebot.MediaAudio
	case strings.HasPrefix(contentType, "video/"):
		return onebot.MediaVideo
	default:
		return onebot.MediaDocument
	}
}
