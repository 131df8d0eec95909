package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/memohai/qqbridge/internal/onebot"
)

const (
	// DefaultFetchTimeout bounds one attachment download.
	DefaultFetchTimeout = 30 * time.Second

	inboundDir = "inbound"
)

// Ingester downloads remote attachments and persists them locally.
type Ingester struct {
	logger   *slog.Logger
	provider StorageProvider
	client   *http.Client
	timeout  time.Duration
	suffix   func() string
}

// IngesterOption customises an Ingester.
type IngesterOption func(*Ingester)

// WithHTTPClient replaces the download client.
func WithHTTPClient(client *http.Client) IngesterOption {
	return func(i *Ingester) {
		if client != nil {
			i.client = client
		}
	}
}

// WithFetchTimeout replaces the per-download timeout.
func WithFetchTimeout(d time.Duration) IngesterOption {
	return func(i *Ingester) {
		if d > 0 {
			i.timeout = d
		}
	}
}

// NewIngester creates an Ingester writing through provider.
func NewIngester(log *slog.Logger, provider StorageProvider, opts ...IngesterOption) *Ingester {
	if log == nil {
		log = slog.Default()
	}
	i := &Ingester{
		logger:   log.With(slog.String("component", "media")),
		provider: provider,
		client:   &http.Client{},
		timeout:  DefaultFetchTimeout,
		suffix:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Ingest downloads att, sniffs its content type, and stores it as
// inbound/<name>---<suffix><ext>. The returned attachment carries LocalPath
// and ContentType.
func (i *Ingester) Ingest(ctx context.Context, att onebot.MediaAttachment, maxBytes int64) (onebot.MediaAttachment, error) {
	if i.provider == nil {
		return att, fmt.Errorf("media storage is not configured")
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	data, err := Fetch(ctx, i.client, att.RemoteURL, maxBytes, i.timeout)
	if err != nil {
		return att, err
	}

	contentType := SniffContentType(data)
	key := path.Join(inboundDir, SanitizeFileName(baseName(att.RemoteFileName))+"---"+i.suffix()+ExtensionFor(contentType))
	if err := i.provider.Put(ctx, key, bytes.NewReader(data)); err != nil {
		return att, fmt.Errorf("store attachment: %w", err)
	}
	att.LocalPath = i.provider.AccessPath(key)
	att.ContentType = contentType
	return att, nil
}

// IngestAll ingests every attachment and returns only those that
// succeeded. Failures are logged and never abort the batch.
func (i *Ingester) IngestAll(ctx context.Context, accountID string, items []onebot.MediaAttachment, maxBytes int64) []onebot.MediaAttachment {
	if len(items) == 0 {
		return nil
	}
	result := make([]onebot.MediaAttachment, 0, len(items))
	for _, item := range items {
		enriched, err := i.Ingest(ctx, item, maxBytes)
		if err != nil {
			i.logger.Warn(
				"inbound attachment ingest skipped",
				slog.String("account_id", accountID),
				slog.String("attachment_kind", string(item.Kind)),
				slog.String("attachment_url", item.RemoteURL),
				slog.String("reason", failureReason(err)),
				slog.Any("error", err),
			)
			continue
		}
		result = append(result, enriched)
	}
	return result
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrPayloadTooLarge):
		return "payload too large"
	case errors.Is(err, ErrDownloadFailed):
		return "download failed"
	default:
		return "store failed"
	}
}

// baseName strips directories and the original extension; the stored
// extension comes from the sniffed type.
func baseName(name string) string {
	name = strings.ReplaceAll(strings.TrimSpace(name), "\\", "/")
	name = path.Base(name)
	if ext := path.Ext(name); ext != "" && ext != name {
		name = strings.TrimSuffix(name, ext)
	}
	if name == "." || name == "/" {
		return ""
	}
	return name
}

// Fetch downloads rawURL with a bounded timeout and size. Network errors and
// non-2xx responses yield ErrDownloadFailed; oversize bodies yield
// ErrPayloadTooLarge.
func Fetch(ctx context.Context, client *http.Client, rawURL string, maxBytes int64, timeout time.Duration) ([]byte, error) {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrDownloadFailed, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("%w: status %d", ErrDownloadFailed, resp.StatusCode)
	}
	if err := CheckDeclaredSize(resp.ContentLength, maxBytes); err != nil {
		return nil, err
	}
	data, err := ReadAllWithLimit(resp.Body, maxBytes)
	if err != nil {
		if errors.Is(err, ErrPayloadTooLarge) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: read body: %v", ErrDownloadFailed, err)
	}
	return data, nil
}
