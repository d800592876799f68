package buffer

import (
	"sync"
	"testing"

	"nettally/internal/model"
)

func TestBuffer_MergeAccumulates(t *testing.T) {
	b := New()
	b.Merge(model.TrafficIncrement{App: "firefox", RemoteAddr: "1.2.3.4", BytesSent: 100, BytesRecv: 50})
	b.Merge(model.TrafficIncrement{App: "firefox", RemoteAddr: "1.2.3.4", BytesSent: 11, BytesRecv: 22})
	b.Merge(model.TrafficIncrement{App: "curl", RemoteAddr: "1.2.3.4", BytesSent: 1})

	drained, _ := b.Swap()
	if len(drained) != 2 {
		t.Fatalf("Expected 2 keys, got %d", len(drained))
	}
	got := drained[Key{App: "firefox", Addr: "1.2.3.4"}]
	if got.BytesSent != 111 || got.BytesRecv != 72 {
		t.Errorf("Unexpected firefox counts: %+v", got)
	}
	if b.Len() != 0 {
		t.Errorf("Buffer should be empty after swap, has %d keys", b.Len())
	}
}

func TestBuffer_SwapAdvancesWindow(t *testing.T) {
	b := New()
	_, first := b.Swap()
	_, second := b.Swap()
	if second.Before(first) {
		t.Errorf("Window start went backwards: %s then %s", first, second)
	}
}

// TestBuffer_ConcurrentMergeAndSwap checks the conservation property: with
// merges interleaving arbitrarily with swaps, every merged byte shows up in
// exactly one drained window.
func TestBuffer_ConcurrentMergeAndSwap(t *testing.T) {
	b := New()

	const (
		writers       = 8
		incsPerWriter = 10000
	)

	var wg sync.WaitGroup
	wg.Add(writers)
	for w := 0; w < writers; w++ {
		go func() {
			defer wg.Done()
			for i := 0; i < incsPerWriter; i++ {
				b.Merge(model.TrafficIncrement{App: "app", RemoteAddr: "9.9.9.9", BytesSent: 3, BytesRecv: 1})
			}
		}()
	}

	// Swap concurrently with the writers and accumulate everything drained.
	var drainedSent, drainedRecv uint64
	stop := make(chan struct{})
	var drainWG sync.WaitGroup
	drainWG.Add(1)
	go func() {
		defer drainWG.Done()
		for {
			m, _ := b.Swap()
			for _, c := range m {
				drainedSent += c.BytesSent
				drainedRecv += c.BytesRecv
			}
			select {
			case <-stop:
				return
			default:
			}
		}
	}()

	wg.Wait()
	close(stop)
	drainWG.Wait()

	// Whatever was merged after the drainer's last swap is still buffered.
	final, _ := b.Swap()
	for _, c := range final {
		drainedSent += c.BytesSent
		drainedRecv += c.BytesRecv
	}

	wantSent := uint64(writers * incsPerWriter * 3)
	wantRecv := uint64(writers * incsPerWriter * 1)
	if drainedSent != wantSent {
		t.Errorf("Lost or duplicated sent bytes: drained %d, want %d", drainedSent, wantSent)
	}
	if drainedRecv != wantRecv {
		t.Errorf("Lost or duplicated recv bytes: drained %d, want %d", drainedRecv, wantRecv)
	}
}
