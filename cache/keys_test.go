package cache

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func TestURLKey(t *testing.T) {
	key := URLKey("https://example.com/gallery")
	if !strings.HasPrefix(key, "url:") {
		t.Fatalf("URLKey prefix = %q, want url:...", key)
	}

	enc := strings.TrimPrefix(key, "url:")
	decoded, err := base64.RawURLEncoding.DecodeString(enc)
	if err != nil {
		t.Fatalf("key segment is not unpadded base64url: %v", err)
	}
	if string(decoded) != "https://example.com/gallery" {
		t.Errorf("decoded key = %q, want original URL", decoded)
	}
}

func TestURLKeyTruncatesTo100(t *testing.T) {
	long := "https://example.com/" + strings.Repeat("a", 500)
	key := URLKey(long)
	if got := len(strings.TrimPrefix(key, "url:")); got != 100 {
		t.Errorf("encoded segment length = %d, want 100", got)
	}

	// Same prefix must map to the same key, short URLs must not be padded.
	if URLKey(long) != key {
		t.Error("URLKey is not deterministic")
	}
	short := URLKey("https://a.io/x")
	if strings.Contains(short, "=") {
		t.Errorf("URLKey %q must use unpadded encoding", short)
	}
}

func TestMediaListKey(t *testing.T) {
	tests := []struct {
		page, limit int
		mediaType   string
		search      string
		want        string
	}{
		{1, 20, "", "", "media:list:1:20:all:"},
		{2, 50, "image", "", "media:list:2:50:image:"},
		{1, 10, "video", "cat", "media:list:1:10:video:cat"},
	}
	for _, tt := range tests {
		if got := MediaListKey(tt.page, tt.limit, tt.mediaType, tt.search); got != tt.want {
			t.Errorf("MediaListKey(%d,%d,%q,%q) = %q, want %q",
				tt.page, tt.limit, tt.mediaType, tt.search, got, tt.want)
		}
	}
}

func TestDisabledCacheNeverPanics(t *testing.T) {
	c := New(nil)
	ctx := context.Background()

	var out []string
	if c.GetJSON(ctx, "url:abc", &out) {
		t.Error("disabled cache GetJSON returned a hit")
	}
	c.SetJSON(ctx, "url:abc", []string{"x"}, 0)
	c.Delete(ctx, "url:abc")
	c.DeletePattern(ctx, PatternMedia)
}

func TestGetOrSetFallsThroughWhenDisabled(t *testing.T) {
	c := New(nil)
	calls := 0

	got, err := GetOrSet(context.Background(), c, "stats:media", 0, func(context.Context) (int, error) {
		calls++
		return 42, nil
	})
	if err != nil {
		t.Fatalf("GetOrSet unexpected error: %v", err)
	}
	if got != 42 || calls != 1 {
		t.Errorf("GetOrSet = %d (calls %d), want 42 with exactly 1 call", got, calls)
	}

	wantErr := errors.New("backend down")
	_, err = GetOrSet(context.Background(), c, "stats:media", 0, func(context.Context) (int, error) {
		return 0, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("GetOrSet error = %v, want the fn error passed through", err)
	}
}
