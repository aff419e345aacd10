package noncedb

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func testLedgers(t *testing.T) map[string]Ledger {
	t.Helper()
	sqlite, err := OpenSQLite(t.TempDir())
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })
	return map[string]Ledger{
		"memory": NewMemory(),
		"sqlite": sqlite,
	}
}

func TestReserveAndReuse(t *testing.T) {
	ctx := context.Background()
	nonce := []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}
	for name, ledger := range testLedgers(t) {
		t.Run(name, func(t *testing.T) {
			rec, err := ledger.Reserve(ctx, "key-a", nonce)
			if err != nil {
				t.Fatalf("first Reserve: %v", err)
			}
			if rec.ID == "" {
				t.Fatal("record without id")
			}
			if _, err := ledger.Reserve(ctx, "key-a", nonce); !errors.Is(err, ErrNonceReuse) {
				t.Fatalf("second Reserve: got %v, want ErrNonceReuse", err)
			}
			// Same nonce under a different key is a different pair.
			if _, err := ledger.Reserve(ctx, "key-b", nonce); err != nil {
				t.Fatalf("Reserve under other key: %v", err)
			}

			seen, err := ledger.Seen(ctx, "key-a", nonce)
			if err != nil || !seen {
				t.Fatalf("Seen(reserved) = %v, %v", seen, err)
			}
			seen, err = ledger.Seen(ctx, "key-c", nonce)
			if err != nil || seen {
				t.Fatalf("Seen(unreserved) = %v, %v", seen, err)
			}
		})
	}
}

func TestConcurrentReservation(t *testing.T) {
	ctx := context.Background()
	nonce := []byte{9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9}
	for name, ledger := range testLedgers(t) {
		t.Run(name, func(t *testing.T) {
			const writers = 16
			var wg sync.WaitGroup
			wins := make(chan struct{}, writers)
			for i := 0; i < writers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if _, err := ledger.Reserve(ctx, "contended", nonce); err == nil {
						wins <- struct{}{}
					}
				}()
			}
			wg.Wait()
			close(wins)
			var won int
			for range wins {
				won++
			}
			if won != 1 {
				t.Fatalf("%d writers reserved the pair, want exactly 1", won)
			}
		})
	}
}

func TestSQLitePersistence(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	nonce := []byte{1, 1, 2, 3, 5, 8, 13, 21, 34, 55, 89, 144}

	first, err := OpenSQLite(dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := first.Reserve(ctx, "key", nonce); err != nil {
		t.Fatal(err)
	}
	if err := first.Close(); err != nil {
		t.Fatal(err)
	}

	second, err := OpenSQLite(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer second.Close()
	if _, err := second.Reserve(ctx, "key", nonce); !errors.Is(err, ErrNonceReuse) {
		t.Fatalf("reopened ledger forgot the pair: %v", err)
	}
}
