package alloc

import (
	"slices"
	"strings"
)

// Stats is a snapshot of heap counters. Pool buffers are counted only in
// PoolBuffers; PoolStats breaks them down.
type Stats struct {
	Blocks          int    `json:"blocks"`
	Bytes           int    `json:"bytes"`
	UntrackedBlocks int    `json:"untracked_blocks"`
	UntrackedBytes  int    `json:"untracked_bytes"`
	Allocs          uint64 `json:"allocs"`
	Frees           uint64 `json:"frees"`
	Overruns        uint64 `json:"overruns"`
	DoubleFrees     uint64 `json:"double_frees"`
	PoolBuffers     int    `json:"pool_buffers"`
}

// TagStat summarises live tracked blocks sharing a tag.
type TagStat struct {
	Tag    string `json:"tag"`
	Allocs int    `json:"allocs"`
	Bytes  int    `json:"bytes"`
}

// Stats returns the current counters.
func (h *Heap) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := Stats{
		UntrackedBlocks: len(h.raw),
		Allocs:          h.allocs,
		Frees:           h.frees,
		Overruns:        h.overruns,
		DoubleFrees:     h.doubleFrees,
	}
	for _, b := range h.tracked {
		if b.pool != nil {
			s.PoolBuffers++
			continue
		}
		s.Blocks++
		s.Bytes += b.size
	}
	for _, b := range h.raw {
		s.UntrackedBytes += b.size
	}
	return s
}

// Live returns every live tracked block in address order, pool buffers
// excluded.
func (h *Heap) Live() []Block {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Block, 0, len(h.tracked))
	for _, b := range h.tracked {
		if b.pool != nil {
			continue
		}
		out = append(out, b.view())
	}
	return out
}

// ByTag groups live tracked blocks by tag, largest total first.
func (h *Heap) ByTag() []TagStat {
	h.mu.Lock()
	idx := make(map[string]int)
	var out []TagStat
	for _, b := range h.tracked {
		if b.pool != nil {
			continue
		}
		i, ok := idx[b.tag]
		if !ok {
			i = len(out)
			idx[b.tag] = i
			out = append(out, TagStat{Tag: b.tag})
		}
		out[i].Allocs++
		out[i].Bytes += b.size
	}
	h.mu.Unlock()

	slices.SortFunc(out, func(a, b TagStat) int {
		if a.Bytes != b.Bytes {
			return b.Bytes - a.Bytes
		}
		return strings.Compare(a.Tag, b.Tag)
	})
	return out
}
