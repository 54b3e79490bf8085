package bitcask

import (
	"fmt"
	"testing"
)

func setupBenchStore(b *testing.B, opts ...Option) *Store {
	b.Helper()
	dir := b.TempDir()
	full := append([]Option{WithReadWrite()}, opts...)
	s, err := Open(dir, full...)
	if err != nil {
		b.Fatalf("open: %v", err)
	}
	b.Cleanup(func() { _ = s.Close() })
	return s
}

func Benchmark_Get(b *testing.B) {
	s := setupBenchStore(b)

	for i := 0; i < 10000; i++ {
		key := []byte(fmt.Sprintf("k%04d", i))
		if err := s.Put(key, []byte("v")); err != nil {
			b.Fatalf("put: %v", err)
		}
	}

	target := []byte("k0050")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := s.Get(target); err != nil {
			b.Fatalf("get: %v", err)
		}
	}
}

func Benchmark_Put(b *testing.B) {
	s := setupBenchStore(b)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		key := []byte(fmt.Sprintf("k%04d", i%10000))
		if err := s.Put(key, []byte("value")); err != nil {
			b.Fatalf("put: %v", err)
		}
	}
}

func Benchmark_Put_SyncOnPut(b *testing.B) {
	s := setupBenchStore(b, WithSyncOnPut())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		key := []byte(fmt.Sprintf("k%04d", i%10000))
		if err := s.Put(key, []byte("value")); err != nil {
			b.Fatalf("put: %v", err)
		}
	}
}
