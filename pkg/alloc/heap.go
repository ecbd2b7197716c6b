// Package alloc is the tracked heap used for game buffers.
//
// Every tracked block carries its requested size, a diagnostic tag and the
// call site that allocated it, followed by an 8-byte canary. Addresses are
// opaque Ptr values in a private address space: they increase
// monotonically, are never reused, and never touch a neighbour, so a Ptr
// can be resolved back to the block that contains it.
package alloc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"runtime"
	"slices"
	"sort"
	"sync"
)

// Magic is the canary stored immediately after every tracked block.
const Magic uint64 = 0x00deadbeefbaad00

// CanarySize is the number of bytes the canary occupies.
const CanarySize = 8

// Standard buffer sizes.
const (
	SBufSize = 64
	MBufSize = 400
	GBufSize = 1024
	LBufSize = 8000
)

const (
	baseAddr  Ptr = 0x10000
	alignment     = 16
	guardGap      = 16
)

// Ptr is an address inside a Heap. Nil is never a valid block address.
type Ptr uint64

const Nil Ptr = 0

func (p Ptr) String() string { return fmt.Sprintf("0x%x", uint64(p)) }

// Add returns p advanced by n bytes.
func (p Ptr) Add(n int) Ptr { return Ptr(int64(p) + int64(n)) }

var (
	ErrDoubleFree     = errors.New("alloc: double free")
	ErrUnknownPointer = errors.New("alloc: pointer was never allocated")
	ErrNotBlockStart  = errors.New("alloc: pointer is not the start of a block")
	ErrPoolBuffer     = errors.New("alloc: pointer is a pool buffer")
)

// Site records where an allocation was made.
type Site struct {
	File string
	Line int
	Func string
}

func (s Site) String() string {
	if s.File == "" {
		return "?"
	}
	return fmt.Sprintf("%s:%d %s", s.File, s.Line, s.Func)
}

// Block describes one live tracked allocation.
type Block struct {
	Base Ptr
	Size int
	Tag  string
	Site
}

// Integrity is the result of CheckIntegrity.
type Integrity int

const (
	OK Integrity = iota
	Overrun
	Untracked
)

func (i Integrity) String() string {
	switch i {
	case OK:
		return "OK"
	case Overrun:
		return "OVERRUN"
	default:
		return "UNTRACKED"
	}
}

// Options tunes a Heap.
type Options struct {
	// Tombstones bounds how many freed block addresses are remembered for
	// double-free detection.
	Tombstones int
	// OnOverrun, if set, is called (without the heap lock held) for every
	// canary found damaged at free time.
	OnOverrun func(Block)
	// Paranoid walks every buffer pool before each pool alloc and free.
	Paranoid bool
}

// DefaultOptions returns the options used by New.
func DefaultOptions() Options {
	return Options{Tombstones: 4096}
}

type block struct {
	base    Ptr
	size    int
	data    []byte
	tag     string
	site    Site
	tracked bool

	pool *pool // non-nil for pool buffers
	idle bool  // on its pool's freelist
}

// lo and hi bound the user region within data. A pool buffer's user region
// sits between its header and footer.
func (b *block) lo() int {
	if b.pool != nil {
		return poolHdrSize
	}
	return 0
}

func (b *block) hi() int {
	if b.pool != nil {
		return poolHdrSize + b.pool.size
	}
	return b.size
}

func (b *block) view() Block {
	return Block{Base: b.base.Add(b.lo()), Size: b.hi() - b.lo(), Tag: b.tag, Site: b.site}
}

func (b *block) owns(p Ptr) bool {
	return p >= b.base.Add(b.lo()) && p < b.base.Add(b.hi())
}

// end is one past the last byte of the block's storage, canary included.
func (b *block) end() Ptr { return b.base.Add(len(b.data)) }

func (b *block) canaryOK() bool {
	return binary.LittleEndian.Uint64(b.data[b.size:]) == Magic
}

// Heap is a tracked allocator. It is safe for concurrent use.
type Heap struct {
	mu   sync.Mutex
	opts Options
	next Ptr

	tracked []*block // sorted by base
	raw     []*block // sorted by base

	tombs     map[Ptr]Block
	tombOrder []Ptr

	pools [numPools]*pool

	allocs      uint64
	frees       uint64
	overruns    uint64
	doubleFrees uint64
}

// New returns an empty Heap with default options.
func New() *Heap {
	return NewWithOptions(DefaultOptions())
}

// NewWithOptions returns an empty Heap.
func NewWithOptions(opts Options) *Heap {
	if opts.Tombstones <= 0 {
		opts.Tombstones = DefaultOptions().Tombstones
	}
	h := &Heap{
		opts:  opts,
		next:  baseAddr,
		tombs: make(map[Ptr]Block),
	}
	for id := range h.pools {
		h.pools[id] = &pool{id: PoolID(id), name: poolNames[id], size: poolSizes[id]}
	}
	return h
}

func callerSite(skip int) Site {
	pc, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		return Site{}
	}
	fn := ""
	if f := runtime.FuncForPC(pc); f != nil {
		fn = filepath.Base(f.Name())
	}
	return Site{File: filepath.Base(file), Line: line, Func: fn}
}

// Allocate returns a zeroed block of size bytes tagged with tag, recording
// the caller as its site. A zero size returns Nil. An empty tag makes an
// untracked allocation that Find will not see.
func (h *Heap) Allocate(size int, tag string) Ptr {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.alloc(size, tag, callerSite(1))
}

// AllocateAt is Allocate with an explicit site.
func (h *Heap) AllocateAt(size int, tag string, site Site) Ptr {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.alloc(size, tag, site)
}

// AllocateUntracked returns a zeroed block with no metadata.
func (h *Heap) AllocateUntracked(size int) Ptr {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.alloc(size, "", Site{})
}

func (h *Heap) alloc(size int, tag string, site Site) Ptr {
	if size == 0 {
		return Nil
	}
	if size < 0 {
		panic(fmt.Sprintf("alloc: negative allocation size %d for %q", size, tag))
	}

	b := &block{base: h.next, size: size, tag: tag, site: site, tracked: tag != ""}
	if b.tracked {
		b.data = make([]byte, size+CanarySize)
		binary.LittleEndian.PutUint64(b.data[size:], Magic)
		h.tracked = append(h.tracked, b)
	} else {
		b.data = make([]byte, size)
		h.raw = append(h.raw, b)
	}
	h.allocs++
	h.advance(b)
	return b.base
}

// advance moves the allocation cursor past b and its guard gap.
func (h *Heap) advance(b *block) {
	next := b.end().Add(guardGap)
	h.next = Ptr((uint64(next) + alignment - 1) &^ (alignment - 1))
}

// Resize moves the block at p into a fresh block of newSize bytes, copying
// as much of the old contents as fits, and frees the old block. A newSize
// of zero frees p and returns Nil. Resize never grows a block in place.
func (h *Heap) Resize(p Ptr, newSize int, tag string) Ptr {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.resize(p, newSize, tag, callerSite(1))
}

func (h *Heap) resize(p Ptr, newSize int, tag string, site Site) Ptr {
	if newSize == 0 {
		if _, err := h.free(p); err != nil {
			log.Printf("alloc: resize of %s to 0: %v", p, err)
		}
		return Nil
	}
	np := h.alloc(newSize, tag, site)
	if p == Nil {
		return np
	}
	dst := h.region(np)
	if b := h.lookup(p); b != nil && b.base == p {
		src := b.data
		if b.tracked {
			src = b.data[:b.size]
		}
		copy(dst, src)
	}
	if _, err := h.free(p); err != nil {
		log.Printf("alloc: resize of %s: %v", p, err)
	}
	return np
}

// Find returns the tracked block whose user region contains p. The canary
// bytes after a block do not belong to it.
func (h *Heap) Find(p Ptr) (Block, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	b := search(h.tracked, p)
	if b == nil || b.idle || !b.owns(p) {
		return Block{}, false
	}
	return b.view(), true
}

// CheckIntegrity re-validates the canary of the tracked block containing p
// without freeing it. Like Find, the canary bytes are not part of the block.
func (h *Heap) CheckIntegrity(p Ptr) Integrity {
	h.mu.Lock()
	defer h.mu.Unlock()
	b := search(h.tracked, p)
	if b == nil || !b.owns(p) {
		return Untracked
	}
	if !b.canaryOK() || (b.pool != nil && !b.footerOK()) {
		return Overrun
	}
	return OK
}

// Free releases the block starting at p. For tracked blocks the canary is
// checked first; a damaged canary is logged and reported through overran,
// but the block is freed regardless. Freeing Nil is a no-op.
func (h *Heap) Free(p Ptr) (overran bool, err error) {
	h.mu.Lock()
	var hit *Block
	overran, err = h.freeReport(p, &hit)
	cb := h.opts.OnOverrun
	h.mu.Unlock()
	if hit != nil && cb != nil {
		cb(*hit)
	}
	return overran, err
}

func (h *Heap) free(p Ptr) (bool, error) {
	var hit *Block
	return h.freeReport(p, &hit)
}

func (h *Heap) freeReport(p Ptr, hit **Block) (bool, error) {
	if p == Nil {
		return false, nil
	}

	if i, ok := index(h.tracked, p); ok {
		b := h.tracked[i]
		if b.pool != nil {
			return false, fmt.Errorf("%w: %s belongs to %s", ErrPoolBuffer, p, b.pool.name)
		}
		if b.base != p {
			return false, fmt.Errorf("%w: %s is inside block %s (%q)", ErrNotBlockStart, p, b.base, b.tag)
		}
		overran := !b.canaryOK()
		if overran {
			h.overruns++
			v := b.view()
			*hit = &v
			log.Printf("alloc: MEM/OVRUN block %s tag=%q size=%d from %s: canary damaged", b.base, b.tag, b.size, b.site)
		}
		h.tracked = slices.Delete(h.tracked, i, i+1)
		h.tombstone(b.view())
		h.frees++
		return overran, nil
	}

	if i, ok := index(h.raw, p); ok {
		b := h.raw[i]
		if b.base != p {
			return false, fmt.Errorf("%w: %s is inside an untracked block %s", ErrNotBlockStart, p, b.base)
		}
		h.raw = slices.Delete(h.raw, i, i+1)
		h.frees++
		return false, nil
	}

	if t, ok := h.tombs[p]; ok {
		h.doubleFrees++
		log.Printf("alloc: MEM/DFREE block %s tag=%q from %s freed twice", p, t.Tag, t.Site)
		return false, fmt.Errorf("%w: %s tag=%q", ErrDoubleFree, p, t.Tag)
	}
	return false, fmt.Errorf("%w: %s", ErrUnknownPointer, p)
}

func (h *Heap) tombstone(b Block) {
	if len(h.tombOrder) >= h.opts.Tombstones {
		delete(h.tombs, h.tombOrder[0])
		h.tombOrder = h.tombOrder[1:]
	}
	h.tombs[b.Base] = b
	h.tombOrder = append(h.tombOrder, b.Base)
}

// Unchecked returns the raw storage from p to the true end of its block,
// including the canary of a tracked block. Writes through it bypass every
// bound; this is how overruns happen.
func (h *Heap) Unchecked(p Ptr) []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	b := h.lookup(p)
	if b == nil {
		return nil
	}
	return b.data[p-b.base:]
}

// lookup finds the block, tracked or not, whose storage contains p.
func (h *Heap) lookup(p Ptr) *block {
	if b := search(h.tracked, p); b != nil {
		return b
	}
	return search(h.raw, p)
}

// region returns the writable bytes starting at p. For a tracked block that
// stops before the canary, or before the footer of a pool buffer; an untracked block has no bound other than its
// storage. Nil means p is not inside any block.
func (h *Heap) region(p Ptr) []byte {
	if b := search(h.tracked, p); b != nil {
		if !b.owns(p) {
			return nil
		}
		return b.data[p-b.base : b.hi()]
	}
	if b := search(h.raw, p); b != nil {
		return b.data[p-b.base:]
	}
	return nil
}

func index(list []*block, p Ptr) (int, bool) {
	i := sort.Search(len(list), func(i int) bool { return list[i].base > p }) - 1
	if i < 0 || p >= list[i].end() {
		return -1, false
	}
	return i, true
}

func search(list []*block, p Ptr) *block {
	if i, ok := index(list, p); ok {
		return list[i]
	}
	return nil
}
