package localfs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/memohai/qqbridge/internal/media"
)

func TestProvider_HostPath(t *testing.T) {
	t.Parallel()
	p := &Provider{root: "/srv/media"}

	tests := []struct {
		key     string
		want    string
		wantErr bool
	}{
		{key: "inbound/a---1.jpg", want: "/srv/media/inbound/a---1.jpg"},
		{key: "/absolute/path", wantErr: true},
		{key: "../escape", wantErr: true},
		{key: "inbound/../../escape", wantErr: true},
		{key: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := p.hostPath(tt.key)
		if tt.wantErr {
			if err == nil {
				t.Errorf("hostPath(%q) expected error", tt.key)
			} else if !errors.Is(err, media.ErrPathTraversal) && tt.key != "" {
				t.Errorf("hostPath(%q) error = %v, want ErrPathTraversal", tt.key, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("hostPath(%q) unexpected error: %v", tt.key, err)
			continue
		}
		if got != tt.want {
			t.Errorf("hostPath(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestProvider_PutOpenOwnerOnly(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	p, err := New(root)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := context.Background()
	key := "inbound/photo---x.jpg"
	payload := []byte("image-bytes")
	if err := p.Put(ctx, key, bytes.NewReader(payload)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	info, err := os.Stat(filepath.Join(root, key))
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("file mode = %o, want 600", perm)
	}

	rc, err := p.Open(ctx, key)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	got, _ := io.ReadAll(rc)
	if !bytes.Equal(got, payload) {
		t.Fatalf("content mismatch: %q", got)
	}

	if err := p.Put(ctx, key, bytes.NewReader([]byte("other"))); err == nil {
		t.Fatalf("existing files must not be overwritten")
	}
	if p.AccessPath(key) != filepath.Join(root, key) {
		t.Fatalf("unexpected access path %q", p.AccessPath(key))
	}
}
