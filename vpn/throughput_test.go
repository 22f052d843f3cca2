package vpn

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRate(t *testing.T) {
	tests := []struct {
		name    string
		total   int64
		elapsed time.Duration
		want    float64
	}{
		// A 10 MiB object completing in exactly 2 seconds is 5 MiB/s.
		{"10MiB in 2s", 10 * 1 << 20, 2 * time.Second, 5 * 1 << 20},
		{"1KiB in 1s", 1024, time.Second, 1024},
		{"zero bytes", 0, time.Second, 0},
		{"zero elapsed", 1024, 0, 0},
		{"negative elapsed", 1024, -time.Second, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Rate(tt.total, tt.elapsed); got != tt.want {
				t.Errorf("Rate(%d, %v) = %v, want %v", tt.total, tt.elapsed, got, tt.want)
			}
		})
	}
}

func TestFormatRate(t *testing.T) {
	tests := []struct {
		bps  float64
		want string
	}{
		{5 * 1 << 20, "5.00 MiB/s"},
		{512 * 1024, "512.0 KiB/s"},
		{100, "100 B/s"},
	}

	for _, tt := range tests {
		if got := FormatRate(tt.bps); got != tt.want {
			t.Errorf("FormatRate(%v) = %q, want %q", tt.bps, got, tt.want)
		}
	}
}

func TestMeter_Measure(t *testing.T) {
	payload := strings.Repeat("x", 256*1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(payload))
	}))
	defer srv.Close()

	m := &Meter{URL: srv.URL, Timeout: 5 * time.Second}
	rate, err := m.Measure(context.Background())
	if err != nil {
		t.Fatalf("Measure() error = %v", err)
	}
	if rate <= 0 {
		t.Errorf("rate = %v, want > 0", rate)
	}
}

func TestMeter_Measure_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	m := &Meter{URL: srv.URL, Timeout: time.Second}
	if _, err := m.Measure(context.Background()); err == nil {
		t.Error("Measure() should fail on a non-200 response")
	}
}

func TestMeter_Measure_TimeoutReportsPartial(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 128*1024))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		time.Sleep(2 * time.Second) // stall well past the meter timeout
	}))
	defer srv.Close()

	m := &Meter{URL: srv.URL, Timeout: 200 * time.Millisecond}
	rate, err := m.Measure(context.Background())
	if err != nil {
		t.Fatalf("Measure() error = %v, want partial-rate success", err)
	}
	if rate <= 0 {
		t.Errorf("rate = %v, want > 0 from the bytes received before the stall", rate)
	}
}

func TestMeter_Measure_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	m := &Meter{URL: url, Timeout: time.Second}
	if _, err := m.Measure(context.Background()); err == nil {
		t.Error("Measure() should fail when the test object is unreachable")
	}
}
