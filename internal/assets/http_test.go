package assets

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/static/shader.wgsl", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("@vertex fn main() {}"))
	})
	mux.HandleFunc("/static/binary.bin", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte{0x00, 0xff, 0x80, 0x7f, 0x00})
	})
	mux.HandleFunc("/static/empty.txt", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/static/large.bin", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, 2048))
	})
	mux.HandleFunc("/static/created", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("not 200"))
	})
	mux.HandleFunc("/static/moved", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/static/shader.wgsl", http.StatusFound)
	})
	mux.HandleFunc("/static/auth", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Token") != "secret" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/static/slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPSource_Load(t *testing.T) {
	srv := newTestServer(t)
	src, err := NewHTTPSource(srv.URL+"/static", zaptest.NewLogger(t))
	require.NoError(t, err)

	data, err := src.Load(context.Background(), "shader.wgsl")
	require.NoError(t, err)
	assert.Equal(t, "@vertex fn main() {}", string(data))
}

func TestHTTPSource_BinarySafe(t *testing.T) {
	srv := newTestServer(t)
	src, err := NewHTTPSource(srv.URL+"/static/", zaptest.NewLogger(t))
	require.NoError(t, err)

	data, err := src.Load(context.Background(), "binary.bin")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0xff, 0x80, 0x7f, 0x00}, data)
}

func TestHTTPSource_Empty(t *testing.T) {
	srv := newTestServer(t)
	src, err := NewHTTPSource(srv.URL+"/static/", zaptest.NewLogger(t))
	require.NoError(t, err)

	data, err := src.Load(context.Background(), "empty.txt")
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestHTTPSource_NotFound(t *testing.T) {
	srv := newTestServer(t)
	src, err := NewHTTPSource(srv.URL+"/static/", zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = src.Load(context.Background(), "missing.png")
	require.Error(t, err)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
	assert.True(t, IsNotFound(err))
	assert.True(t, strings.HasPrefix(err.Error(), "HTTP 404 loading "))
}

func TestHTTPSource_OnlyStatusOK(t *testing.T) {
	srv := newTestServer(t)
	src, err := NewHTTPSource(srv.URL+"/static/", zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = src.Load(context.Background(), "created")
	require.Error(t, err)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusCreated, statusErr.StatusCode)
	assert.False(t, IsNotFound(err))
}

func TestHTTPSource_FollowsRedirects(t *testing.T) {
	srv := newTestServer(t)
	src, err := NewHTTPSource(srv.URL+"/static/", zaptest.NewLogger(t))
	require.NoError(t, err)

	data, err := src.Load(context.Background(), "moved")
	require.NoError(t, err)
	assert.Equal(t, "@vertex fn main() {}", string(data))
}

func TestHTTPSource_NoRedirects(t *testing.T) {
	srv := newTestServer(t)
	src, err := NewHTTPSource(srv.URL+"/static/", zaptest.NewLogger(t), WithMaxRedirects(0))
	require.NoError(t, err)

	_, err = src.Load(context.Background(), "moved")
	require.Error(t, err)
}

func TestHTTPSource_Headers(t *testing.T) {
	srv := newTestServer(t)
	src, err := NewHTTPSource(srv.URL+"/static/", zaptest.NewLogger(t),
		WithHeaders(map[string]string{"X-Token": "secret"}),
	)
	require.NoError(t, err)

	data, err := src.Load(context.Background(), "auth")
	require.NoError(t, err)
	assert.Equal(t, "ok", string(data))
}

func TestHTTPSource_MaxSize(t *testing.T) {
	srv := newTestServer(t)
	src, err := NewHTTPSource(srv.URL+"/static/", zaptest.NewLogger(t), WithMaxSize(1024))
	require.NoError(t, err)

	_, err = src.Load(context.Background(), "large.bin")
	require.Error(t, err)

	var tooLarge *TooLargeError
	require.True(t, errors.As(err, &tooLarge))
	assert.Equal(t, int64(1024), tooLarge.Limit)
}

func TestHTTPSource_Timeout(t *testing.T) {
	srv := newTestServer(t)
	src, err := NewHTTPSource(srv.URL+"/static/", zaptest.NewLogger(t), WithTimeout(50*time.Millisecond))
	require.NoError(t, err)

	_, err = src.Load(context.Background(), "slow")
	require.Error(t, err)
}

func TestHTTPSource_Resolve(t *testing.T) {
	src, err := NewHTTPSource("http://example.com/app", zaptest.NewLogger(t))
	require.NoError(t, err)

	tests := []struct {
		path string
		want string
	}{
		{"assets/a.png", "http://example.com/app/assets/a.png"},
		{"/root.txt", "http://example.com/root.txt"},
		{"../up.txt", "http://example.com/up.txt"},
		{"https://cdn.example.com/x.bin", "https://cdn.example.com/x.bin"},
	}

	for _, tt := range tests {
		u, err := src.Resolve(tt.path)
		require.NoError(t, err, tt.path)
		assert.Equal(t, tt.want, u.String())
	}

	_, err = src.Resolve("")
	assert.Error(t, err)

	_, err = src.Resolve("file:///etc/passwd")
	var invalid *InvalidPathError
	assert.True(t, errors.As(err, &invalid))
}

func TestNewHTTPSource_InvalidBase(t *testing.T) {
	_, err := NewHTTPSource("ftp://example.com", zaptest.NewLogger(t))
	assert.Error(t, err)

	_, err = NewHTTPSource("::not a url", zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestHTTPOptions_IgnoresInvalid(t *testing.T) {
	cfg := defaultHTTPConfig()

	WithTimeout(-1)(&cfg)
	WithMaxRedirects(-1)(&cfg)
	WithMaxSize(0)(&cfg)

	assert.Equal(t, 30*time.Second, cfg.timeout)
	assert.Equal(t, 10, cfg.maxRedirects)
	assert.Equal(t, int64(DefaultMaxFileSize), cfg.maxSize)
}
