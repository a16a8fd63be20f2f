package downloader

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const tickInterval = 500 * time.Millisecond

// startTicker emits a throttled progress sample every tick until stopped.
// The returned func is idempotent and waits for the ticker goroutine to
// exit, so no sample can land after a status transition.
func (d *Downloader) startTicker(ctx context.Context, total int64) (stop func()) {
	done := make(chan struct{})
	finished := make(chan struct{})

	go func() {
		defer close(finished)
		ticker := time.NewTicker(tickInterval)
		defer ticker.Stop()

		var lastBytes int64
		lastTime := time.Now()

		for {
			select {
			case <-ticker.C:
				now := time.Now()
				current := d.sumCounters()
				elapsed := now.Sub(lastTime).Seconds()
				if elapsed <= 0 {
					continue
				}
				bps := float64(current-lastBytes) / elapsed
				lastBytes = current
				lastTime = now

				d.emit(Progress{
					Downloaded: current,
					Total:      total,
					Speed:      FormatSpeed(bps),
				})
			case <-ctx.Done():
				return
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			<-finished
		})
	}
}

func (d *Downloader) sumCounters() int64 {
	var sum int64
	for _, c := range d.counters {
		sum += c.Load()
	}
	return sum
}

// FormatSpeed renders a transfer rate as B/s, KB/s or MB/s.
func FormatSpeed(bps float64) string {
	if bps < 0 {
		bps = 0
	}
	switch {
	case bps >= 1024*1024:
		return fmt.Sprintf("%.1f MB/s", bps/(1024*1024))
	case bps >= 1024:
		return fmt.Sprintf("%.1f KB/s", bps/1024)
	default:
		return fmt.Sprintf("%d B/s", int64(bps))
	}
}
