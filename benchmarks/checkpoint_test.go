package benchmarks

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/carebridge/carebridge/pkg/flow"
	"github.com/carebridge/carebridge/pkg/flow/checkpoint"
)

// BenchmarkMemoryStore_Save measures in-memory checkpoint save.
func BenchmarkMemoryStore_Save(b *testing.B) {
	store := checkpoint.NewMemoryStore()
	defer store.Close()
	data, _ := json.Marshal(benchState())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := store.Save("thread-1", data); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkMemoryStore_Latest measures in-memory checkpoint load.
func BenchmarkMemoryStore_Latest(b *testing.B) {
	store := checkpoint.NewMemoryStore()
	defer store.Close()
	data, _ := json.Marshal(benchState())
	if err := store.Save("thread-1", data); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := store.Latest("thread-1"); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkSQLiteStore_Save measures SQLite checkpoint save.
func BenchmarkSQLiteStore_Save(b *testing.B) {
	store, err := checkpoint.NewSQLiteStore(filepath.Join(b.TempDir(), "bench.db"))
	if err != nil {
		b.Fatal(err)
	}
	defer store.Close()
	data, _ := json.Marshal(benchState())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := store.Save(fmt.Sprintf("thread-%d", i%100), data); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkSQLiteStore_Latest measures SQLite checkpoint load.
func BenchmarkSQLiteStore_Latest(b *testing.B) {
	store, err := checkpoint.NewSQLiteStore(filepath.Join(b.TempDir(), "bench.db"))
	if err != nil {
		b.Fatal(err)
	}
	defer store.Close()
	data, _ := json.Marshal(benchState())
	if err := store.Save("thread-1", data); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := store.Latest("thread-1"); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkRun_WithCheckpointing measures a run with terminal checkpointing.
func BenchmarkRun_WithCheckpointing(b *testing.B) {
	compiled := mustCompile(b, buildLinearGraph(5))
	store := checkpoint.NewMemoryStore()
	defer store.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		threadID := fmt.Sprintf("thread-%d", i%100)
		if _, err := compiled.Run(benchCtx, benchState(),
			flow.WithCheckpointing(store, threadID)); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkSuspendResume measures a full suspend-then-resume round trip.
func BenchmarkSuspendResume(b *testing.B) {
	g := flow.NewGraph[State, Delta](merge)
	g.AddNode("ask", hop)
	g.AddInterrupt("confirm",
		func(ctx flow.Context, s State) any { return s.Hops },
		func(ctx flow.Context, s State, value string) (Delta, error) {
			return Delta{Hops: 1, Message: "resumed: " + value}, nil
		})
	g.AddNode("finish", hop)
	g.AddEdge("ask", "confirm")
	g.AddEdge("confirm", "finish")
	g.AddEdge("finish", flow.END)
	g.SetEntry("ask")

	compiled := mustCompile(b, g)
	store := checkpoint.NewMemoryStore()
	defer store.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		threadID := fmt.Sprintf("thread-%d", i)
		outcome, err := compiled.Run(benchCtx, State{},
			flow.WithCheckpointing(store, threadID))
		if err != nil {
			b.Fatal(err)
		}
		if !outcome.Suspended() {
			b.Fatal("expected suspension")
		}
		if _, err := compiled.Resume(benchCtx, store, threadID,
			outcome.Interrupt.Token, "yes"); err != nil {
			b.Fatal(err)
		}
	}
}
