package downloader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hexfall/ipavault/internal/domain"
	"github.com/hexfall/ipavault/internal/infra/logger"
)

const (
	maxChunkAttempts = 3
	copyBufferSize   = 32 * 1024
)

// chunkRetryDelay is the fixed wait between chunk attempts. Variable so
// tests don't sit through it at full length.
var chunkRetryDelay = 2 * time.Second

// Progress is one telemetry sample delivered through OnProgress.
type Progress struct {
	Downloaded int64
	Total      int64
	Speed      string
}

type Options struct {
	// Threads is the range-request parallelism. Callers pass the configured
	// value; anything below 1 falls back to 1.
	Threads int

	// MaxBytes caps the artifact size. 0 means no cap.
	MaxBytes int64

	OnProgress func(Progress)

	// Client overrides the HTTP client (tests). Redirects are followed by
	// the default client either way.
	Client *http.Client

	Logger *logger.Logger
}

// Downloader fetches one URL to one destination path. Range-capable origins
// are split into per-thread chunks written to sibling part-files and merged;
// everything else falls back to a single stream. One Downloader serves one
// Download call.
type Downloader struct {
	url      string
	destPath string
	threads  int
	maxBytes int64
	onProg   func(Progress)
	client   *http.Client
	log      *logger.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	aborted atomic.Bool

	counters []*atomic.Int64
}

func New(url, destPath string, opts Options) *Downloader {
	threads := opts.Threads
	if threads < 1 {
		threads = 1
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewWriter(io.Discard, logger.LevelError)
	}
	return &Downloader{
		url:      url,
		destPath: destPath,
		threads:  threads,
		maxBytes: opts.MaxBytes,
		onProg:   opts.OnProgress,
		client:   client,
		log:      log,
	}
}

// Download runs to completion or error under ctx. The same cancellation
// covers the probe, every chunk request, the fallback stream and the
// progress ticker.
func (d *Downloader) Download(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()

	if d.aborted.Load() {
		return domain.ErrAborted
	}

	size, ranged := d.probe(ctx)
	if ranged {
		if d.maxBytes > 0 && size > d.maxBytes {
			return fmt.Errorf("%w: %d bytes", domain.ErrSizeLimit, size)
		}
		return d.downloadChunked(ctx, size)
	}
	return d.downloadSingle(ctx)
}

// Abort tears the download down: flips the abort flag, fires the
// cancellation, then sweeps part-files left by the run it interrupted.
func (d *Downloader) Abort() {
	d.aborted.Store(true)

	d.mu.Lock()
	cancel := d.cancel
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	d.RemoveParts()
}

// RemoveParts deletes every sibling of the destination whose name starts
// with "<basename>.part". Best effort.
func (d *Downloader) RemoveParts() {
	dir := filepath.Dir(d.destPath)
	prefix := filepath.Base(d.destPath) + ".part"

	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), prefix) {
			os.Remove(filepath.Join(dir, e.Name()))
		}
	}
}

// probe issues a HEAD to learn whether the origin supports ranged reads.
// Any failure just means single-stream mode; it is never fatal on its own.
func (d *Downloader) probe(ctx context.Context) (int64, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, d.url, nil)
	if err != nil {
		return 0, false
	}
	resp, err := d.client.Do(req)
	if err != nil {
		d.log.Debug("probe failed, using single stream: %v", err)
		return 0, false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, false
	}
	if !strings.Contains(strings.ToLower(resp.Header.Get("Accept-Ranges")), "bytes") {
		return 0, false
	}
	if resp.ContentLength <= 0 {
		return 0, false
	}
	return resp.ContentLength, true
}

type chunk struct {
	index int
	start int64
	end   int64 // inclusive
}

func (d *Downloader) splitChunks(total int64) []chunk {
	threads := int64(d.threads)
	chunkSize := (total + threads - 1) / threads

	var chunks []chunk
	for i := int64(0); i < threads; i++ {
		start := i * chunkSize
		if start > total-1 {
			break
		}
		end := start + chunkSize - 1
		if end > total-1 {
			end = total - 1
		}
		chunks = append(chunks, chunk{index: int(i), start: start, end: end})
	}
	return chunks
}

func (d *Downloader) downloadChunked(ctx context.Context, total int64) error {
	chunks := d.splitChunks(total)

	d.counters = make([]*atomic.Int64, len(chunks))
	for i := range d.counters {
		d.counters[i] = &atomic.Int64{}
	}

	stopTicker := d.startTicker(ctx, total)

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range chunks {
		g.Go(func() error {
			return d.fetchChunk(gctx, c)
		})
	}
	err := g.Wait()
	stopTicker()
	if err != nil {
		return err
	}

	if err := d.merge(chunks, total); err != nil {
		return fmt.Errorf("merging chunks: %w", err)
	}

	d.emit(Progress{Downloaded: total, Total: total, Speed: "0 B/s"})
	return nil
}

func (d *Downloader) partPath(index int) string {
	return fmt.Sprintf("%s.part%d", d.destPath, index)
}

// fetchChunk drives one chunk through up to maxChunkAttempts attempts with a
// fixed delay between them. An aborted context short-circuits the retry loop.
func (d *Downloader) fetchChunk(ctx context.Context, c chunk) error {
	var lastErr error
	for attempt := 1; attempt <= maxChunkAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = d.fetchChunkOnce(ctx, c)
		if lastErr == nil {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		d.log.Debug("chunk %d attempt %d/%d failed: %v", c.index, attempt, maxChunkAttempts, lastErr)
		if attempt < maxChunkAttempts {
			select {
			case <-time.After(chunkRetryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return fmt.Errorf("chunk %d failed after %d attempts: %w", c.index, maxChunkAttempts, lastErr)
}

func (d *Downloader) fetchChunkOnce(ctx context.Context, c chunk) error {
	counter := d.counters[c.index]
	counter.Store(0)

	part, err := os.OpenFile(d.partPath(c.index), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("creating part file: %w", err)
	}
	defer part.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", c.start, c.end))

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// 206 is the normal case; a 200 means the origin ignored the range and
	// we take the bytes as they come.
	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	expected := c.end - c.start + 1
	limit := 2 * expected

	buf := make([]byte, copyBufferSize)
	var written int64
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := part.Write(buf[:n]); writeErr != nil {
				return writeErr
			}
			written += int64(n)
			counter.Add(int64(n))
			if written > limit {
				return fmt.Errorf("chunk %d exceeded expected size (%d > %d)", c.index, written, limit)
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return nil
			}
			return readErr
		}
	}
}

// merge concatenates part-files in index order into the destination, then
// removes them.
func (d *Downloader) merge(chunks []chunk, total int64) error {
	out, err := os.Create(d.destPath)
	if err != nil {
		return err
	}
	defer out.Close()

	var written int64
	for _, c := range chunks {
		src, err := os.Open(d.partPath(c.index))
		if err != nil {
			return fmt.Errorf("missing part file %d: %w", c.index, err)
		}
		n, err := io.Copy(out, src)
		src.Close()
		if err != nil {
			return err
		}
		written += n
	}
	if written != total {
		return fmt.Errorf("wrote %d bytes, expected %d", written, total)
	}

	for _, c := range chunks {
		os.Remove(d.partPath(c.index))
	}
	return nil
}

// downloadSingle is the fallback for origins without usable range support.
func (d *Downloader) downloadSingle(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.url, nil)
	if err != nil {
		return err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	total := resp.ContentLength
	if total < 0 {
		total = 0
	}
	if d.maxBytes > 0 && total > d.maxBytes {
		return fmt.Errorf("%w: %d bytes", domain.ErrSizeLimit, total)
	}

	d.counters = []*atomic.Int64{{}}
	counter := d.counters[0]

	out, err := os.Create(d.destPath)
	if err != nil {
		return err
	}
	defer out.Close()

	stopTicker := d.startTicker(ctx, total)
	defer stopTicker()

	buf := make([]byte, copyBufferSize)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := out.Write(buf[:n]); writeErr != nil {
				return writeErr
			}
			written += int64(n)
			counter.Add(int64(n))
			if d.maxBytes > 0 && written > d.maxBytes {
				return fmt.Errorf("%w: body exceeded %d bytes", domain.ErrSizeLimit, d.maxBytes)
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				break
			}
			return readErr
		}
	}

	stopTicker()
	if total == 0 {
		total = written
	}
	d.emit(Progress{Downloaded: written, Total: total, Speed: "0 B/s"})
	return nil
}

func (d *Downloader) emit(p Progress) {
	if d.onProg != nil {
		d.onProg(p)
	}
}
