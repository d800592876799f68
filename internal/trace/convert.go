package trace

import (
	"fmt"
	"math"
	"time"

	"nettally/internal/model"
)

// Converter turns rate samples into exact byte increments. The sampling
// interval is fixed at construction and validated there: the accounting tool
// reports only rates, so it is never discoverable from a sample, and a wrong
// interval would scale every byte count in the system by a constant factor.
type Converter struct {
	seconds float64
}

// NewConverter creates a converter for the refresh interval the accounting
// tool was launched with. A non-positive interval is a configuration error.
func NewConverter(refresh time.Duration) (*Converter, error) {
	if refresh <= 0 {
		return nil, fmt.Errorf("refresh interval must be positive, got %s", refresh)
	}
	return &Converter{seconds: refresh.Seconds()}, nil
}

// Convert expands a sample into one increment per remote address.
// Each endpoint field converts as bytes = round(rate_kbps * seconds * 1024),
// independently for the sent and received directions; when a field lists
// several addresses the converted totals are split across them without
// losing a byte.
func (c *Converter) Convert(s *model.RateSample) []model.TrafficIncrement {
	incs := make([]model.TrafficIncrement, 0, len(s.Endpoints))
	for _, ep := range s.Endpoints {
		sentShares := SplitBytes(c.toBytes(ep.SentKBps), len(ep.Addrs))
		recvShares := SplitBytes(c.toBytes(ep.RecvKBps), len(ep.Addrs))
		for i, addr := range ep.Addrs {
			incs = append(incs, model.TrafficIncrement{
				App:        s.App,
				RemoteAddr: addr,
				BytesSent:  sentShares[i],
				BytesRecv:  recvShares[i],
			})
		}
	}
	return incs
}

func (c *Converter) toBytes(kbps float64) uint64 {
	return uint64(math.Round(kbps * c.seconds * 1024))
}

// SplitBytes divides total across n shares so that the shares sum exactly to
// total for any divisor: every share gets the floor, and the remainder is
// handed out one byte at a time to the first shares in order. Plain integer
// division here once cost a slow, cumulative undercount.
func SplitBytes(total uint64, n int) []uint64 {
	shares := make([]uint64, n)
	base := total / uint64(n)
	rem := total % uint64(n)
	for i := range shares {
		shares[i] = base
		if uint64(i) < rem {
			shares[i]++
		}
	}
	return shares
}
