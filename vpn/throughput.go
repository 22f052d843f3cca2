package vpn

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/yllada/relayhop/common"
)

const (
	measureChunk     = 64 * 1024
	progressInterval = 500 * time.Millisecond
)

// Meter measures downstream throughput by streaming a fixed remote test
// object. The meter only reports the aggregate rate; the session applies
// the health floor.
type Meter struct {
	// URL is the test object to stream.
	URL string
	// Timeout bounds the whole measurement.
	Timeout time.Duration
	// Client overrides the HTTP client, mainly for tests.
	Client *http.Client
}

// Measure streams the test object in bounded chunks and returns the
// aggregate rate in bytes per second. Interim rates are logged roughly
// every half second for observability. When the timeout elapses mid-stream
// the rate over the bytes received so far is returned.
func (m *Meter) Measure(ctx context.Context) (float64, error) {
	timeout := m.Timeout
	if timeout <= 0 {
		timeout = common.MeasureTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.URL, nil)
	if err != nil {
		return 0, common.WrapError(err, "throughput request failed")
	}

	client := m.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, common.WrapError(err, "throughput request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("throughput test object returned status %d", resp.StatusCode)
	}

	start := time.Now()
	lastReport := start
	var total int64
	buf := make([]byte, measureChunk)

	for {
		n, err := resp.Body.Read(buf)
		total += int64(n)

		if now := time.Now(); now.Sub(lastReport) >= progressInterval {
			common.LogInfo("throughput: %s", FormatRate(Rate(total, now.Sub(start))))
			lastReport = now
		}

		if err == io.EOF {
			break
		}
		if err != nil {
			if ctx.Err() != nil && total > 0 {
				break // timed out mid-stream; report what we saw
			}
			return 0, common.WrapError(err, "throughput stream failed")
		}
	}

	rate := Rate(total, time.Since(start))
	common.LogInfo("throughput: %d bytes in %v, %s", total, time.Since(start).Round(time.Millisecond), FormatRate(rate))
	return rate, nil
}

// Rate returns the aggregate rate in bytes per second.
func Rate(total int64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(total) / elapsed.Seconds()
}

// FormatRate renders a byte rate for logs.
func FormatRate(bps float64) string {
	switch {
	case bps >= 1<<20:
		return fmt.Sprintf("%.2f MiB/s", bps/(1<<20))
	case bps >= 1<<10:
		return fmt.Sprintf("%.1f KiB/s", bps/(1<<10))
	default:
		return fmt.Sprintf("%.0f B/s", bps)
	}
}
