package alloc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"slices"
)

// PoolID names one of the fixed-size buffer pools.
type PoolID int

const (
	PoolLBuf PoolID = iota
	PoolMBuf
	PoolSBuf
	PoolQEntry
	numPools
)

// PoolMagic brackets every pool buffer, in its header and in its footer.
const PoolMagic uint32 = 0xdeadbeef

// FreeFill is written over a pool buffer's contents when it is released.
const FreeFill byte = 0xa5

// QEntrySize is the buffer size of the queue entry pool.
const QEntrySize = 128

const (
	poolHdrSize = 8 // magic, buffer size
	poolFtrSize = 8 // magic, buffer size
)

var (
	poolNames = [numPools]string{"Lbufs", "Mbufs", "Sbufs", "Qentries"}
	poolSizes = [numPools]int{LBufSize, MBufSize, SBufSize, QEntrySize}
)

var (
	ErrPoolCorrupt = errors.New("alloc: pool buffer header corrupted")
	ErrWrongPool   = errors.New("alloc: buffer freed into a different pool")
)

func (id PoolID) String() string {
	if id < 0 || id >= numPools {
		return fmt.Sprintf("pool(%d)", int(id))
	}
	return poolNames[id]
}

type pool struct {
	id   PoolID
	name string
	size int

	all  []*block // every buffer the pool owns
	free []*block // LIFO

	allocs uint64 // lifetime allocations
	inUse  int
	lost   int
	damage int
}

// PoolStat is one row of the buffer pool report.
type PoolStat struct {
	Name    string `json:"name"`
	Size    int    `json:"size"`
	InUse   int    `json:"in_use"`
	Total   int    `json:"total"`
	Allocs  uint64 `json:"allocs"`
	Lost    int    `json:"lost"`
	Damaged int    `json:"damaged"`
}

// PoolTrace lists the tags of a pool's in-use buffers.
type PoolTrace struct {
	Name string    `json:"name"`
	Tags []TagStat `json:"tags"`
	Free int       `json:"free"`
}

func (b *block) headerOK() bool {
	return binary.LittleEndian.Uint32(b.data[0:]) == PoolMagic
}

func (b *block) headerSize() int {
	return int(binary.LittleEndian.Uint32(b.data[4:]))
}

func (b *block) footer() []byte {
	return b.data[b.hi() : b.hi()+poolFtrSize]
}

func (b *block) footerOK() bool {
	f := b.footer()
	return binary.LittleEndian.Uint32(f) == PoolMagic &&
		int(binary.LittleEndian.Uint32(f[4:])) == b.pool.size
}

func (b *block) stamp(off int) {
	binary.LittleEndian.PutUint32(b.data[off:], PoolMagic)
	binary.LittleEndian.PutUint32(b.data[off+4:], uint32(b.pool.size))
}

func (b *block) user() []byte { return b.data[b.lo():b.hi()] }

func (b *block) fillOK() bool {
	for _, c := range b.user() {
		if c != FreeFill {
			return false
		}
	}
	return true
}

// PoolAlloc hands out a zeroed buffer from pool id, reusing a released one
// when the freelist has any. The returned Ptr is bounded like any tracked
// block; it must go back through PoolFree, not Free.
func (h *Heap) PoolAlloc(id PoolID, tag string) Ptr {
	h.mu.Lock()
	defer h.mu.Unlock()
	pl := h.pools[id]
	site := callerSite(1)
	if h.opts.Paranoid {
		h.poolCheck(tag)
	}

	var b *block
	for len(pl.free) > 0 && b == nil {
		b = pl.free[len(pl.free)-1]
		pl.free = pl.free[:len(pl.free)-1]
		if !b.headerOK() {
			log.Printf("alloc: %s(%d) corrupted buffer header at %s, from %s; freelist discarded",
				pl.name, pl.size, b.base, tag)
			pl.damage++
			h.discardFree(pl, b)
			b = nil
			continue
		}
		if !b.footerOK() {
			log.Printf("alloc: %s(%d) corrupted buffer footer at %s, from %s; repaired",
				pl.name, pl.size, b.base, tag)
			pl.damage++
			b.stamp(b.hi())
		}
		if !b.fillOK() {
			log.Printf("alloc: %s(%d) buffer modified after free at %s, last used by %q, from %s",
				pl.name, pl.size, b.base, b.tag, tag)
			pl.damage++
		}
	}
	if b == nil {
		b = h.newPoolBuffer(pl)
	}

	clear(b.user())
	b.idle = false
	b.tag = tag
	b.site = site
	pl.allocs++
	pl.inUse++
	return b.base.Add(poolHdrSize)
}

func (h *Heap) newPoolBuffer(pl *pool) *block {
	size := poolHdrSize + pl.size + poolFtrSize
	b := &block{base: h.next, size: size, tracked: true, pool: pl}
	b.data = make([]byte, size+CanarySize)
	b.stamp(0)
	b.stamp(b.hi())
	binary.LittleEndian.PutUint64(b.data[size:], Magic)
	h.tracked = append(h.tracked, b)
	h.advance(b)
	pl.all = append(pl.all, b)
	return b
}

// discardFree throws away pl's freelist, and bad if it is not nil, counting
// the buffers as lost. Their storage is released.
func (h *Heap) discardFree(pl *pool, bad *block) {
	drop := slices.Clone(pl.free)
	if bad != nil {
		drop = append(drop, bad)
	}
	pl.lost += len(drop)
	for _, b := range drop {
		h.dropPoolBuffer(pl, b)
	}
	pl.free = nil
}

func (h *Heap) dropPoolBuffer(pl *pool, b *block) {
	if i, ok := index(h.tracked, b.base); ok && h.tracked[i] == b {
		h.tracked = slices.Delete(h.tracked, i, i+1)
	}
	same := func(x *block) bool { return x == b }
	pl.all = slices.DeleteFunc(pl.all, same)
	pl.free = slices.DeleteFunc(pl.free, same)
}

// PoolFree returns p to pool id. A damaged footer is repaired; a damaged
// header loses the buffer.
func (h *Heap) PoolFree(id PoolID, p Ptr) error {
	if p == Nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	pl := h.pools[id]
	if h.opts.Paranoid {
		h.poolCheck("pool_free")
	}

	b := search(h.tracked, p)
	switch {
	case b == nil:
		return fmt.Errorf("%w: %s", ErrUnknownPointer, p)
	case b.pool == nil:
		return fmt.Errorf("%w: %s tag=%q is not a pool buffer", ErrWrongPool, p, b.tag)
	case p != b.base.Add(poolHdrSize):
		return fmt.Errorf("%w: %s is inside %s buffer %s", ErrNotBlockStart, p, b.pool.name, b.base)
	}
	owner := b.pool

	if !b.headerOK() {
		log.Printf("alloc: %s(%d) corrupted buffer header at %s, tag %q; buffer lost",
			owner.name, owner.size, b.base, b.tag)
		owner.damage++
		owner.lost++
		if !b.idle {
			owner.inUse--
		}
		h.dropPoolBuffer(owner, b)
		return fmt.Errorf("%w: %s", ErrPoolCorrupt, p)
	}
	if !b.footerOK() {
		log.Printf("alloc: %s(%d) corrupted buffer footer at %s, tag %q; repaired",
			owner.name, owner.size, b.base, b.tag)
		owner.damage++
		b.stamp(b.hi())
	}
	if b.headerSize() != pl.size {
		log.Printf("alloc: %s(%d) buffer %s tag %q freed into %s(%d)",
			owner.name, b.headerSize(), b.base, b.tag, pl.name, pl.size)
		return fmt.Errorf("%w: %s belongs to %s", ErrWrongPool, p, owner.name)
	}
	if b.idle {
		h.doubleFrees++
		log.Printf("alloc: %s(%d) buffer already freed at %s, last used by %q",
			pl.name, pl.size, b.base, b.tag)
		return fmt.Errorf("%w: %s buffer %s", ErrDoubleFree, pl.name, p)
	}

	for i := range b.user() {
		b.data[b.lo()+i] = FreeFill
	}
	b.idle = true
	pl.free = append(pl.free, b)
	pl.inUse--
	return nil
}

// PoolCheck walks every pool buffer and repairs what it can. where names
// the caller in the log.
func (h *Heap) PoolCheck(where string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.poolCheck(where)
}

func (h *Heap) poolCheck(where string) {
	for _, pl := range h.pools {
		for _, b := range slices.Clone(pl.all) {
			if !slices.Contains(pl.all, b) {
				continue // dropped with a discarded freelist
			}
			if !b.headerOK() {
				log.Printf("alloc: %s(%d) header corrupted at %s, tag %q (%s); freelist cleared",
					pl.name, pl.size, b.base, b.tag, where)
				pl.damage++
				if b.idle {
					h.dropPoolBuffer(pl, b)
					h.discardFree(pl, b)
				} else {
					h.discardFree(pl, nil)
				}
				continue
			}
			if !b.footerOK() {
				log.Printf("alloc: %s(%d) footer corrupted at %s, tag %q (%s); repaired",
					pl.name, pl.size, b.base, b.tag, where)
				pl.damage++
				b.stamp(b.hi())
			}
			if b.headerSize() != pl.size {
				log.Printf("alloc: %s(%d) buffer %s has size %d (%s)",
					pl.name, pl.size, b.base, b.headerSize(), where)
			}
		}
	}
}

// PoolStats reports every pool in pool order.
func (h *Heap) PoolStats() []PoolStat {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]PoolStat, 0, len(h.pools))
	for _, pl := range h.pools {
		out = append(out, PoolStat{
			Name:    pl.name,
			Size:    pl.size,
			InUse:   pl.inUse,
			Total:   len(pl.all),
			Allocs:  pl.allocs,
			Lost:    pl.lost,
			Damaged: pl.damage,
		})
	}
	return out
}

// PoolTrace groups in-use pool buffers by tag.
func (h *Heap) PoolTrace() []PoolTrace {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]PoolTrace, 0, len(h.pools))
	for _, pl := range h.pools {
		tr := PoolTrace{Name: pl.name, Free: len(pl.free)}
		idx := make(map[string]int)
		for _, b := range pl.all {
			if b.idle {
				continue
			}
			i, ok := idx[b.tag]
			if !ok {
				i = len(tr.Tags)
				idx[b.tag] = i
				tr.Tags = append(tr.Tags, TagStat{Tag: b.tag})
			}
			tr.Tags[i].Allocs++
			tr.Tags[i].Bytes += pl.size
		}
		out = append(out, tr)
	}
	return out
}

// PoolReset releases every buffer sitting on a freelist and returns how
// many went.
func (h *Heap) PoolReset() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, pl := range h.pools {
		for _, b := range slices.Clone(pl.free) {
			h.dropPoolBuffer(pl, b)
			n++
		}
	}
	return n
}
