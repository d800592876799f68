package trace

import (
	"math"
	"testing"
	"time"

	"nettally/internal/model"
)

func TestNewConverter_RejectsNonPositiveInterval(t *testing.T) {
	for _, interval := range []time.Duration{0, -time.Second, -5 * time.Minute} {
		if _, err := NewConverter(interval); err == nil {
			t.Errorf("NewConverter(%s): expected configuration error, got nil", interval)
		}
	}
}

func TestConvert_ExactRateToBytes(t *testing.T) {
	rates := []float64{0, 0.1, 1, 1.5, 50, 100, 1024, 99999.99}
	intervals := []int{1, 2, 5, 10, 60}

	for _, secs := range intervals {
		conv, err := NewConverter(time.Duration(secs) * time.Second)
		if err != nil {
			t.Fatalf("NewConverter(%ds) failed: %v", secs, err)
		}
		for _, rate := range rates {
			sample := &model.RateSample{
				App:       "app",
				Endpoints: []model.EndpointRate{{Addrs: []string{"1.1.1.1"}, SentKBps: rate, RecvKBps: rate}},
			}
			incs := conv.Convert(sample)
			if len(incs) != 1 {
				t.Fatalf("Expected 1 increment, got %d", len(incs))
			}
			want := uint64(math.Round(rate * float64(secs) * 1024))
			if incs[0].BytesSent != want {
				t.Errorf("rate=%f interval=%ds: sent=%d, want %d", rate, secs, incs[0].BytesSent, want)
			}
			if incs[0].BytesRecv != want {
				t.Errorf("rate=%f interval=%ds: recv=%d, want %d", rate, secs, incs[0].BytesRecv, want)
			}
		}
	}
}

func TestConvert_EndToEndScenario(t *testing.T) {
	// One line under a 5-second refresh: 100 KB/s sent, 50 KB/s received.
	conv, err := NewConverter(5 * time.Second)
	if err != nil {
		t.Fatalf("NewConverter failed: %v", err)
	}
	sample, err := ParseLine("app=firefox addr=1.2.3.4 sent=100KB/s recv=50KB/s")
	if err != nil {
		t.Fatalf("ParseLine failed: %v", err)
	}

	incs := conv.Convert(sample)
	if len(incs) != 1 {
		t.Fatalf("Expected 1 increment, got %d", len(incs))
	}
	if incs[0].BytesSent != 512000 {
		t.Errorf("Expected 512000 bytes sent, got %d", incs[0].BytesSent)
	}
	if incs[0].BytesRecv != 256000 {
		t.Errorf("Expected 256000 bytes received, got %d", incs[0].BytesRecv)
	}
}

func TestSplitBytes_RemainderToFirstEndpoints(t *testing.T) {
	shares := SplitBytes(10001, 5)
	want := []uint64{2001, 2000, 2000, 2000, 2000}
	if len(shares) != len(want) {
		t.Fatalf("Expected %d shares, got %d", len(want), len(shares))
	}
	for i := range want {
		if shares[i] != want[i] {
			t.Errorf("Share %d: expected %d, got %d", i, want[i], shares[i])
		}
	}
}

func TestSplitBytes_PreservesTotal(t *testing.T) {
	totals := []uint64{0, 1, 7, 1000, 10001, 1<<32 + 3, 999999937}
	counts := []int{1, 2, 3, 5, 7, 64, 1000}

	for _, total := range totals {
		for _, n := range counts {
			shares := SplitBytes(total, n)
			var sum uint64
			floor := total / uint64(n)
			for i, s := range shares {
				sum += s
				if s != floor && s != floor+1 {
					t.Errorf("total=%d n=%d: share %d is %d, expected %d or %d", total, n, i, s, floor, floor+1)
				}
			}
			if sum != total {
				t.Errorf("total=%d n=%d: shares sum to %d", total, n, sum)
			}
		}
	}
}

func TestConvert_SplitsAcrossAddressList(t *testing.T) {
	conv, err := NewConverter(time.Second)
	if err != nil {
		t.Fatalf("NewConverter failed: %v", err)
	}
	// 10001 bytes sent in one second is 10001/1024 KB/s.
	sample := &model.RateSample{
		App: "app",
		Endpoints: []model.EndpointRate{{
			Addrs:    []string{"a", "b", "c", "d", "e"},
			SentKBps: 10001.0 / 1024.0,
		}},
	}
	incs := conv.Convert(sample)
	if len(incs) != 5 {
		t.Fatalf("Expected 5 increments, got %d", len(incs))
	}
	var sum uint64
	for _, inc := range incs {
		sum += inc.BytesSent
	}
	if sum != 10001 {
		t.Errorf("Split lost bytes: sum=%d, want 10001", sum)
	}
	if incs[0].BytesSent != 2001 {
		t.Errorf("First endpoint should carry the remainder: got %d, want 2001", incs[0].BytesSent)
	}
}
