package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/pocketdo/pocketdo/internal/task"
)

func openBenchStore(b *testing.B) *Store {
	b.Helper()

	st, err := Open(filepath.Join(b.TempDir(), "bench.db"))
	if err != nil {
		b.Fatalf("Open() failed: %v", err)
	}
	b.Cleanup(func() { _ = st.Close() })
	return st
}

func seedTasks(b *testing.B, st *Store, n int) {
	b.Helper()

	ctx := context.Background()
	for i := 0; i < n; i++ {
		tk := task.New("owner-1", fmt.Sprintf("seed task %d", i))
		if err := st.UpsertLocal(ctx, tk); err != nil {
			b.Fatalf("seed upsert failed: %v", err)
		}
	}
}

func BenchmarkUpsertLocal(b *testing.B) {
	st := openBenchStore(b)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tk := task.New("owner-1", fmt.Sprintf("task %d", i))
		if err := st.UpsertLocal(ctx, tk); err != nil {
			b.Fatalf("UpsertLocal() failed: %v", err)
		}
	}
}

func BenchmarkQueryActive(b *testing.B) {
	st := openBenchStore(b)
	seedTasks(b, st, 1000)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := st.QueryActive(ctx); err != nil {
			b.Fatalf("QueryActive() failed: %v", err)
		}
	}
}

func BenchmarkQueryDirty(b *testing.B) {
	st := openBenchStore(b)
	seedTasks(b, st, 1000)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := st.QueryDirty(ctx); err != nil {
			b.Fatalf("QueryDirty() failed: %v", err)
		}
	}
}

func BenchmarkApplyRemote(b *testing.B) {
	st := openBenchStore(b)
	ctx := context.Background()
	now := time.Now().UTC()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tk := task.New("owner-1", fmt.Sprintf("remote task %d", i))
		if _, err := st.ApplyRemote(ctx, tk, now); err != nil {
			b.Fatalf("ApplyRemote() failed: %v", err)
		}
	}
}
