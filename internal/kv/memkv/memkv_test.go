package memkv

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/linnemanlabs/warden/internal/kv"
)

func TestStore_InsertAndGet(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	p, err := s.OpenPartition(ctx, "rules")
	if err != nil {
		t.Fatalf("OpenPartition: %v", err)
	}
	if err := p.Insert(ctx, []byte("k1"), []byte("v1")); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, ok, err := p.Get(ctx, []byte("k1"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("expected value to be found")
	}
	if string(got) != "v1" {
		t.Errorf("value = %q, want %q", got, "v1")
	}
}

func TestStore_GetMissing(t *testing.T) {
	t.Parallel()

	s := New()
	p, _ := s.OpenPartition(context.Background(), "rules")
	_, ok, err := p.Get(context.Background(), []byte("nope"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for missing key")
	}
}

func TestStore_PartitionsAreIndependent(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	a, _ := s.OpenPartition(ctx, "a")
	b, _ := s.OpenPartition(ctx, "b")
	_ = a.Insert(ctx, []byte("k"), []byte("from-a"))

	if _, ok, _ := b.Get(ctx, []byte("k")); ok {
		t.Fatal("key inserted in partition a is visible in partition b")
	}

	again, _ := s.OpenPartition(ctx, "a")
	got, ok, _ := again.Get(ctx, []byte("k"))
	if !ok || string(got) != "from-a" {
		t.Errorf("reopened partition lost data: ok=%v value=%q", ok, got)
	}
}

func TestStore_ValueIsCopied(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	p, _ := s.OpenPartition(ctx, "p")
	v := []byte("original")
	_ = p.Insert(ctx, []byte("k"), v)
	v[0] = 'X'

	got, _, _ := p.Get(ctx, []byte("k"))
	if string(got) != "original" {
		t.Errorf("stored value mutated through caller slice: %q", got)
	}
}

func TestStore_ScanOrdered(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	p, _ := s.OpenPartition(ctx, "p")
	for _, k := range []string{"c", "a", "b"} {
		_ = p.Insert(ctx, []byte(k), []byte(k))
	}

	var keys []string
	if err := p.Scan(ctx, func(k, _ []byte) bool {
		keys = append(keys, string(k))
		return true
	}); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if fmt.Sprint(keys) != "[a b c]" {
		t.Errorf("keys = %v, want [a b c]", keys)
	}

	var first []string
	_ = p.Scan(ctx, func(k, _ []byte) bool {
		first = append(first, string(k))
		return false
	})
	if len(first) != 1 {
		t.Errorf("scan did not stop early, visited %d keys", len(first))
	}
}

func TestStore_GenerateIDMonotonic(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	var prev uint64
	for range 10 {
		id, err := s.GenerateID(ctx)
		if err != nil {
			t.Fatalf("GenerateID: %v", err)
		}
		if id <= prev {
			t.Fatalf("id %d not greater than previous %d", id, prev)
		}
		prev = id
	}
}

func TestStore_Faults(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	ctx := context.Background()

	t.Run("open", func(t *testing.T) {
		t.Parallel()
		s := New()
		s.FailOpen(boom)
		_, err := s.OpenPartition(ctx, "p")
		if !errors.Is(err, kv.ErrStoreUnavailable) || !errors.Is(err, boom) {
			t.Fatalf("err = %v, want ErrStoreUnavailable wrapping boom", err)
		}
		s.FailOpen(nil)
		if _, err := s.OpenPartition(ctx, "p"); err != nil {
			t.Fatalf("OpenPartition after clearing fault: %v", err)
		}
	})

	t.Run("insert", func(t *testing.T) {
		t.Parallel()
		s := New()
		p, _ := s.OpenPartition(ctx, "p")
		s.FailInsert(boom)
		if err := p.Insert(ctx, []byte("k"), []byte("v")); !errors.Is(err, kv.ErrWriteFailed) {
			t.Fatalf("err = %v, want ErrWriteFailed", err)
		}
		if s.Len("p") != 0 {
			t.Error("failed insert still stored a value")
		}
	})

	t.Run("flush", func(t *testing.T) {
		t.Parallel()
		s := New()
		p, _ := s.OpenPartition(ctx, "p")
		s.FailFlush(boom)
		if err := p.Flush(ctx); !errors.Is(err, kv.ErrFlushFailed) {
			t.Fatalf("err = %v, want ErrFlushFailed", err)
		}
	})

	t.Run("generate id", func(t *testing.T) {
		t.Parallel()
		s := New()
		s.FailGenerateID(boom)
		if _, err := s.GenerateID(ctx); !errors.Is(err, kv.ErrIDGeneration) {
			t.Fatalf("err = %v, want ErrIDGeneration", err)
		}
	})
}

func TestStore_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	const n = 100

	var wg sync.WaitGroup
	ids := make(chan uint64, n)
	wg.Add(n * 2)

	for i := range n {
		key := fmt.Appendf(nil, "k-%d", i)

		go func() {
			defer wg.Done()
			p, err := s.OpenPartition(ctx, "shared")
			if err != nil {
				t.Errorf("OpenPartition: %v", err)
				return
			}
			_ = p.Insert(ctx, key, key)
			_, _, _ = p.Get(ctx, key)
			_ = p.Flush(ctx)
		}()

		go func() {
			defer wg.Done()
			id, err := s.GenerateID(ctx)
			if err != nil {
				t.Errorf("GenerateID: %v", err)
				return
			}
			ids <- id
		}()
	}

	wg.Wait()
	close(ids)

	seen := make(map[uint64]bool, n)
	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate id %d", id)
		}
		seen[id] = true
	}
	if got := s.Len("shared"); got != n {
		t.Errorf("entries = %d, want %d", got, n)
	}
}
