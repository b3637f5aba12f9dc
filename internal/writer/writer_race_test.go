package writer

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

// TestWriter_ConcurrentProducers exercises many goroutines enqueueing to
// distinct files simultaneously. Run with -race to confirm the queue and
// shutdown bookkeeping hold up under concurrent producers, matching the
// scheduler's pattern of one worker goroutine per active transfer.
func TestWriter_ConcurrentProducers(t *testing.T) {
	dir := t.TempDir()
	w := New(8)
	w.Start(context.Background())

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			f, err := os.Create(filepath.Join(dir, "f"+string(rune('a'+i))))
			if err != nil {
				t.Errorf("Create() error = %v", err)
				return
			}
			for c := 0; c < 5; c++ {
				if err := w.Enqueue(f, []byte{byte(c)}, c == 4); err != nil {
					t.Errorf("Enqueue() error = %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	if err := w.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
}
