package frame

import (
	"bytes"
	"sync"
	"testing"
	"time"
)

func testFrame(seq uint64, fill byte) *Frame {
	data := bytes.Repeat([]byte{fill}, 64)
	return &Frame{Data: data, Width: 8, Height: 8, Seq: seq, Timestamp: time.Now()}
}

func TestLatestEmpty(t *testing.T) {
	b := NewBuffer()
	if f := b.Latest(); f != nil {
		t.Fatalf("Latest() on empty buffer = %v, want nil", f)
	}
}

func TestLatestWins(t *testing.T) {
	b := NewBuffer()
	b.Publish(testFrame(1, 0x11))
	b.Publish(testFrame(2, 0x22))

	f := b.Latest()
	if f == nil || f.Seq != 2 {
		t.Fatalf("Latest() = %+v, want seq 2", f)
	}
	if b.Drops() != 1 {
		t.Errorf("Drops() = %d, want 1", b.Drops())
	}

	// Reading again is allowed and yields the same frame without a new drop.
	f2 := b.Latest()
	if f2 == nil || f2.Seq != 2 {
		t.Fatalf("second Latest() = %+v, want seq 2", f2)
	}
}

func TestLatestReturnsCopy(t *testing.T) {
	b := NewBuffer()
	b.Publish(testFrame(1, 0x11))

	f := b.Latest()
	f.Data[0] = 0xFF

	g := b.Latest()
	if g.Data[0] != 0x11 {
		t.Errorf("reader mutation leaked into buffer: got %#x", g.Data[0])
	}
}

func TestWaitFirst(t *testing.T) {
	b := NewBuffer()
	if b.WaitFirst(20 * time.Millisecond) {
		t.Fatal("WaitFirst reported a frame on an empty buffer")
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		b.Publish(testFrame(1, 0x11))
	}()
	if !b.WaitFirst(time.Second) {
		t.Fatal("WaitFirst timed out despite a publish")
	}
	// Second wait returns immediately.
	if !b.WaitFirst(0) {
		t.Fatal("WaitFirst after first frame should not block")
	}
}

// Frames are filled with a single byte derived from their sequence number, so
// a reader observing a mixed-content frame proves a torn read.
func TestConcurrentPublishLatest(t *testing.T) {
	b := NewBuffer()
	stop := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for seq := uint64(1); ; seq++ {
			select {
			case <-stop:
				return
			default:
			}
			b.Publish(testFrame(seq, byte(seq)))
		}
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 2000; i++ {
				f := b.Latest()
				if f == nil {
					continue
				}
				want := byte(f.Seq)
				for _, got := range f.Data {
					if got != want {
						t.Errorf("torn frame: seq %d contains byte %#x, want %#x", f.Seq, got, want)
						return
					}
				}
			}
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(stop)
	wg.Wait()
}
