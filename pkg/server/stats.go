package server

import (
	"runtime"

	"github.com/crystal-mush/mushkeeper/pkg/gamedb"
)

// QueueStats returns command queue depth info.
func (g *Game) QueueStats() map[string]any {
	immediate, waiting, semaphore := g.Queue.Stats()
	return map[string]any{
		"immediate": immediate,
		"waiting":   waiting,
		"semaphore": semaphore,
	}
}

// MemoryStats returns the tracked heap counters and per-tag totals next to
// the Go runtime figures.
func (g *Game) MemoryStats() map[string]any {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return map[string]any{
		"heap":   g.Heap.Stats(),
		"by_tag": g.Heap.ByTag(),
		"runtime": map[string]any{
			"heap_alloc_bytes":  m.HeapAlloc,
			"heap_inuse_bytes":  m.HeapInuse,
			"goroutines":        runtime.NumGoroutine(),
			"gc_cycles":         m.NumGC,
			"gc_pause_total_ns": m.PauseTotalNs,
		},
	}
}

// GameStats returns object counts by type and the freelist length.
func (g *Game) GameStats() map[string]any {
	g.mu.Lock()
	defer g.mu.Unlock()

	typeCounts := map[string]int{}
	going := 0
	for _, obj := range g.DB.Objects {
		if obj == nil {
			continue
		}
		typeCounts[obj.ObjType().String()]++
		if obj.IsGoing() && obj.ObjType() != gamedb.TypeGarbage {
			going++
		}
	}

	free := 0
	seen := make(map[gamedb.DBRef]bool)
	for ref := g.DB.Freelist; g.DB.InRange(ref) && !seen[ref]; ref = g.DB.Objects[ref].Link {
		seen[ref] = true
		free++
	}

	return map[string]any{
		"db_top":      g.DB.Top(),
		"type_counts": typeCounts,
		"going":       going,
		"freelist":    free,
	}
}
