package downloader

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPayload(n int) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte(i*7 + i>>8)
	}
	return buf
}

// rangeOrigin serves the payload with full range support via ServeContent.
func rangeOrigin(payload []byte) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "app.ipa", time.Unix(0, 0), bytes.NewReader(payload))
	}))
}

func sha(b []byte) [32]byte { return sha256.Sum256(b) }

func assertNoPartFiles(t *testing.T, destPath string) {
	t.Helper()
	entries, err := os.ReadDir(filepath.Dir(destPath))
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), filepath.Base(destPath)+".part"),
			"part file left behind: %s", e.Name())
	}
}

func TestChunkedDownload(t *testing.T) {
	payload := testPayload(1 << 20)
	srv := rangeOrigin(payload)
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "app.ipa")

	var mu sync.Mutex
	var events []Progress
	d := New(srv.URL, dest, Options{
		Threads: 4,
		OnProgress: func(p Progress) {
			mu.Lock()
			events = append(events, p)
			mu.Unlock()
		},
	})

	require.NoError(t, d.Download(context.Background()))

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, len(payload), len(got))
	assert.Equal(t, sha(payload), sha(got))
	assertNoPartFiles(t, dest)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, events, "expected at least the final progress event")
	final := events[len(events)-1]
	assert.Equal(t, int64(len(payload)), final.Downloaded)
	assert.Equal(t, int64(len(payload)), final.Total)
	assert.Equal(t, "0 B/s", final.Speed)
}

func TestSingleStreamFallback(t *testing.T) {
	payload := testPayload(256 << 10)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// No Accept-Ranges: the probe must fall back
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.Header().Set("Content-Length", fmt.Sprint(len(payload)))
		w.Write(payload)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "app.ipa")
	d := New(srv.URL, dest, Options{Threads: 4})
	require.NoError(t, d.Download(context.Background()))

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, sha(payload), sha(got))
}

func TestChunkRetry(t *testing.T) {
	old := chunkRetryDelay
	chunkRetryDelay = 20 * time.Millisecond
	defer func() { chunkRetryDelay = old }()

	payload := testPayload(64 << 10)

	var mu sync.Mutex
	failures := make(map[string]int)
	// The chunk starting at byte 32768 (index 2 of 4) fails twice, then works
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rng := r.Header.Get("Range")
		if r.Method == http.MethodGet && strings.HasPrefix(rng, "bytes=32768-") {
			mu.Lock()
			failures[rng]++
			n := failures[rng]
			mu.Unlock()
			if n <= 2 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
		}
		http.ServeContent(w, r, "app.ipa", time.Unix(0, 0), bytes.NewReader(payload))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "app.ipa")
	d := New(srv.URL, dest, Options{Threads: 4})
	require.NoError(t, d.Download(context.Background()))

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, sha(payload), sha(got))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, failures["bytes=32768-49151"], "expected two failures and one success")
}

func TestChunkRetriesExhausted(t *testing.T) {
	old := chunkRetryDelay
	chunkRetryDelay = 10 * time.Millisecond
	defer func() { chunkRetryDelay = old }()

	payload := testPayload(64 << 10)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && r.Header.Get("Range") != "" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		http.ServeContent(w, r, "app.ipa", time.Unix(0, 0), bytes.NewReader(payload))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "app.ipa")
	d := New(srv.URL, dest, Options{Threads: 2})
	err := d.Download(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
}

func TestSizeGateOnProbe(t *testing.T) {
	payload := testPayload(8 << 10)
	srv := rangeOrigin(payload)
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "app.ipa")
	d := New(srv.URL, dest, Options{Threads: 2, MaxBytes: 1024})
	err := d.Download(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "maximum allowed size")
}

func TestSingleStreamMidStreamCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		// Chunked transfer: no Content-Length to gate on up front
		flusher := w.(http.Flusher)
		chunk := testPayload(16 << 10)
		for i := 0; i < 16; i++ {
			w.Write(chunk)
			flusher.Flush()
		}
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "app.ipa")
	d := New(srv.URL, dest, Options{Threads: 2, MaxBytes: 64 << 10})
	err := d.Download(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "maximum allowed size")
}

func TestAbortRemovesPartFiles(t *testing.T) {
	payload := testPayload(1 << 20)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			http.ServeContent(w, r, "app.ipa", time.Unix(0, 0), bytes.NewReader(payload))
			return
		}
		// Trickle a little data, then stall until the test finishes
		w.WriteHeader(http.StatusPartialContent)
		w.Write(payload[:1024])
		w.(http.Flusher).Flush()
		<-release
	}))
	defer srv.Close()
	defer close(release)

	dest := filepath.Join(t.TempDir(), "app.ipa")
	d := New(srv.URL, dest, Options{Threads: 2})

	errCh := make(chan error, 1)
	go func() { errCh <- d.Download(context.Background()) }()

	// Let the chunks open their part files
	require.Eventually(t, func() bool {
		entries, err := os.ReadDir(filepath.Dir(dest))
		return err == nil && len(entries) > 0
	}, 2*time.Second, 10*time.Millisecond)

	d.Abort()

	select {
	case err := <-errCh:
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("download did not abort")
	}

	d.RemoveParts()
	assertNoPartFiles(t, dest)
	assert.NoFileExists(t, dest)
}

func TestSplitChunks(t *testing.T) {
	d := New("https://example.invalid", "x", Options{Threads: 4})

	chunks := d.splitChunks(10)
	require.Len(t, chunks, 4)
	assert.Equal(t, chunk{index: 0, start: 0, end: 2}, chunks[0])
	assert.Equal(t, chunk{index: 1, start: 3, end: 5}, chunks[1])
	assert.Equal(t, chunk{index: 2, start: 6, end: 8}, chunks[2])
	assert.Equal(t, chunk{index: 3, start: 9, end: 9}, chunks[3])

	// Fewer bytes than threads: trailing chunks are omitted
	d8 := New("https://example.invalid", "x", Options{Threads: 8})
	small := d8.splitChunks(3)
	require.Len(t, small, 3)
	for i, c := range small {
		assert.Equal(t, int64(i), c.start)
		assert.Equal(t, int64(i), c.end)
	}
}

func TestSplitChunksCoverEverything(t *testing.T) {
	for _, total := range []int64{1, 7, 1024, 10 << 20} {
		for _, threads := range []int{1, 3, 8, 32} {
			d := New("https://example.invalid", "x", Options{Threads: threads})
			chunks := d.splitChunks(total)

			var covered int64
			var prevEnd int64 = -1
			for _, c := range chunks {
				assert.Equal(t, prevEnd+1, c.start, "chunks must be contiguous")
				covered += c.end - c.start + 1
				prevEnd = c.end
			}
			assert.Equal(t, total, covered, "total=%d threads=%d", total, threads)
			assert.Equal(t, total-1, prevEnd)
		}
	}
}

func TestFormatSpeed(t *testing.T) {
	tests := []struct {
		bps  float64
		want string
	}{
		{0, "0 B/s"},
		{512, "512 B/s"},
		{1024, "1.0 KB/s"},
		{1536, "1.5 KB/s"},
		{1 << 20, "1.0 MB/s"},
		{2.5 * (1 << 20), "2.5 MB/s"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatSpeed(tt.bps))
	}
}
