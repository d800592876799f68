package model

import "time"

// RateSample is one parsed observation from the accounting tool's trace
// output: a process and the remote endpoints it was exchanging traffic with.
type RateSample struct {
	App       string
	Endpoints []EndpointRate
}

// EndpointRate carries one send/receive rate pair in KB/s. When the tool
// collapses several remote addresses into a single field, Addrs lists them
// in reported order and the rates cover their combined traffic.
type EndpointRate struct {
	Addrs    []string
	SentKBps float64
	RecvKBps float64
}

// TrafficIncrement is the exact byte delta derived from a RateSample for one
// (process, remote address) pair. Byte counts are integer results of the
// rate-to-bytes conversion; nothing reported by the tool is lost. Increments
// carry no timestamp of their own: persisted rows are stamped with the start
// of the window they accumulated in.
type TrafficIncrement struct {
	App        string
	RemoteAddr string
	BytesSent  uint64
	BytesRecv  uint64
}

// AppReport is one row of an aggregated traffic report, summed over a period.
type AppReport struct {
	Name       string  `json:"name"`
	BytesSent  uint64  `json:"bytes_sent"`
	BytesRecv  uint64  `json:"bytes_recv"`
	BytesTotal uint64  `json:"bytes_total"`
	Percentage float64 `json:"percentage"`
}

// FlushBatch is the exported form of one persisted flush, published to
// external consumers alongside the primary store.
type FlushBatch struct {
	Hostname    string       `json:"hostname"`
	WindowStart time.Time    `json:"window_start"`
	FlushedAt   time.Time    `json:"flushed_at"`
	Rows        []TrafficRow `json:"rows"`
}
