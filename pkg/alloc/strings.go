package alloc

import (
	"bytes"
	"fmt"
	"strconv"
)

// Result reports what a bounded write did. Written counts bytes stored,
// not counting the terminating NUL; Truncated counts bytes that did not fit.
type Result struct {
	Written   int
	Truncated int
}

// Lost reports whether anything was dropped.
func (r Result) Lost() bool { return r.Truncated > 0 }

func strlen(b []byte) int {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return i
	}
	return len(b)
}

// putString writes s at off in buf, leaving room for and writing a NUL.
func putString(buf []byte, off int, s string) Result {
	avail := len(buf) - off - 1
	if avail < 0 {
		avail = 0
	}
	n := min(len(s), avail)
	copy(buf[off:], s[:n])
	if off+n < len(buf) {
		buf[off+n] = 0
	}
	return Result{Written: n, Truncated: len(s) - n}
}

// Capacity returns the number of writable bytes from p to the end of its
// block, or 0 if p is not inside a block.
func (h *Heap) Capacity(p Ptr) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.region(p))
}

// GetSize returns the longest string that fits at p, leaving room for the NUL.
func (h *Heap) GetSize(p Ptr) int {
	if c := h.Capacity(p); c > 0 {
		return c - 1
	}
	return 0
}

// String reads the NUL-terminated string at p.
func (h *Heap) String(p Ptr) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	buf := h.region(p)
	return string(buf[:strlen(buf)])
}

// Bytes returns the writable region at p. The slice aliases heap storage.
func (h *Heap) Bytes(p Ptr) []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.region(p)
}

// Sprintf formats into dst, truncating to the space left in its block.
func (h *Heap) Sprintf(dst Ptr, format string, args ...any) Result {
	s := fmt.Sprintf(format, args...)
	h.mu.Lock()
	defer h.mu.Unlock()
	return putString(h.region(dst), 0, s)
}

// Sprintfcat appends formatted text to the string at dst.
func (h *Heap) Sprintfcat(dst Ptr, format string, args ...any) Result {
	s := fmt.Sprintf(format, args...)
	h.mu.Lock()
	defer h.mu.Unlock()
	buf := h.region(dst)
	return putString(buf, strlen(buf), s)
}

// Snprintf formats into dst writing at most n bytes including the NUL.
func (h *Heap) Snprintf(dst Ptr, n int, format string, args ...any) Result {
	s := fmt.Sprintf(format, args...)
	h.mu.Lock()
	defer h.mu.Unlock()
	buf := h.region(dst)
	if n < len(buf) {
		buf = buf[:max(n, 0)]
	}
	return putString(buf, 0, s)
}

// Strcpy copies s into dst.
func (h *Heap) Strcpy(dst Ptr, s string) Result {
	h.mu.Lock()
	defer h.mu.Unlock()
	return putString(h.region(dst), 0, s)
}

// Strncpy copies at most n bytes of s into dst.
func (h *Heap) Strncpy(dst Ptr, s string, n int) Result {
	if n < len(s) {
		s = s[:max(n, 0)]
	}
	return h.Strcpy(dst, s)
}

// Strcat appends s to the string at dst. Truncated is the number of
// characters that could not be appended.
func (h *Heap) Strcat(dst Ptr, s string) Result {
	h.mu.Lock()
	defer h.mu.Unlock()
	buf := h.region(dst)
	return putString(buf, strlen(buf), s)
}

// Strncat appends at most n bytes of s to the string at dst.
func (h *Heap) Strncat(dst Ptr, s string, n int) Result {
	if n < len(s) {
		s = s[:max(n, 0)]
	}
	return h.Strcat(dst, s)
}

// Strccat appends one character to the string at dst.
func (h *Heap) Strccat(dst Ptr, c byte) Result {
	return h.Strcat(dst, string([]byte{c}))
}

// Strdup copies s into a new block sized to fit it.
func (h *Heap) Strdup(s string, tag string) Ptr {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dup(s, tag, callerSite(1))
}

// Strndup copies at most n bytes of s into a new block.
func (h *Heap) Strndup(s string, n int, tag string) Ptr {
	if n < len(s) {
		s = s[:max(n, 0)]
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dup(s, tag, callerSite(1))
}

// Asprintf formats into a new block of exactly the needed size.
func (h *Heap) Asprintf(tag string, format string, args ...any) Ptr {
	s := fmt.Sprintf(format, args...)
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dup(s, tag, callerSite(1))
}

func (h *Heap) dup(s, tag string, site Site) Ptr {
	p := h.alloc(len(s)+1, tag, site)
	putString(h.region(p), 0, s)
	return p
}

// Copy stores b at dst, capped to the space left in the block.
func (h *Heap) Copy(dst Ptr, b []byte) Result {
	h.mu.Lock()
	defer h.mu.Unlock()
	buf := h.region(dst)
	n := copy(buf, b)
	return Result{Written: n, Truncated: len(b) - n}
}

// Memmove copies n bytes from src to dst. Overlapping regions are handled.
// The copy is capped by both the source block and the destination block.
func (h *Heap) Memmove(dst, src Ptr, n int) Result {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.memmove(dst, src, n)
}

func (h *Heap) memmove(dst, src Ptr, n int) Result {
	if n <= 0 {
		return Result{}
	}
	from := h.region(src)
	if len(from) > n {
		from = from[:n]
	}
	w := copy(h.region(dst), from)
	return Result{Written: w, Truncated: n - w}
}

// Mempcpy is Memmove returning the address just past the last byte written.
func (h *Heap) Mempcpy(dst, src Ptr, n int) (Ptr, Result) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r := h.memmove(dst, src, n)
	return dst.Add(r.Written), r
}

// Memccpy copies bytes from src to dst, stopping after the first byte equal
// to c or after n bytes. It returns the address after the copied c in dst,
// or Nil if c was not copied.
func (h *Heap) Memccpy(dst, src Ptr, c byte, n int) (Ptr, Result) {
	h.mu.Lock()
	defer h.mu.Unlock()
	from := h.region(src)
	if len(from) > n {
		from = from[:max(n, 0)]
	}
	want := len(from)
	stop := bytes.IndexByte(from, c)
	if stop >= 0 {
		want = stop + 1
	}
	w := copy(h.region(dst), from[:want])
	r := Result{Written: w, Truncated: want - w}
	if stop >= 0 && w == want {
		return dst.Add(w), r
	}
	return Nil, r
}

// Memset fills n bytes at dst with c.
func (h *Heap) Memset(dst Ptr, c byte, n int) Result {
	h.mu.Lock()
	defer h.mu.Unlock()
	buf := h.region(dst)
	w := min(max(n, 0), len(buf))
	for i := range buf[:w] {
		buf[i] = c
	}
	return Result{Written: w, Truncated: max(n, 0) - w}
}

// SafeStrncat appends at most n bytes of s at the cursor *bufp inside the
// buffer that starts at buf and holds size characters, then advances the
// cursor. The buffer's tracked size bounds the write as well.
func (h *Heap) SafeStrncat(buf Ptr, bufp *Ptr, s string, n, size int) Result {
	if n < len(s) {
		s = s[:max(n, 0)]
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.safeAppend(buf, bufp, s, size)
}

func (h *Heap) safeAppend(buf Ptr, bufp *Ptr, s string, size int) Result {
	if *bufp < buf {
		return Result{Truncated: len(s)}
	}
	region := h.region(*bufp)
	limit := int(int64(buf) + int64(size) - int64(*bufp))
	if limit < 0 {
		limit = 0
	}
	if len(region) == 0 {
		return Result{Truncated: len(s)}
	}
	avail := min(limit, len(region)-1)
	w := min(len(s), avail)
	copy(region, s[:w])
	region[w] = 0
	*bufp = bufp.Add(w)
	return Result{Written: w, Truncated: len(s) - w}
}

// SafeChr appends one character at the cursor.
func (h *Heap) SafeChr(buf Ptr, bufp *Ptr, c byte, size int) Result {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.safeAppend(buf, bufp, string([]byte{c}), size)
}

// SafeStr appends s at the cursor of a large buffer.
func (h *Heap) SafeStr(buf Ptr, bufp *Ptr, s string) Result {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.safeAppend(buf, bufp, s, LBufSize-1)
}

// SafeSprintf appends formatted text at the cursor, bounded by the block.
func (h *Heap) SafeSprintf(buf Ptr, bufp *Ptr, format string, args ...any) Result {
	s := fmt.Sprintf(format, args...)
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.safeAppend(buf, bufp, s, len(h.region(buf))-1)
}

// SafeLtos appends the decimal form of n at the cursor.
func (h *Heap) SafeLtos(buf Ptr, bufp *Ptr, n int64, size int) Result {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.safeAppend(buf, bufp, strconv.FormatInt(n, 10), size)
}
