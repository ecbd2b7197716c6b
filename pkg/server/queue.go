package server

import (
	"log"
	"sync"
	"time"

	"github.com/crystal-mush/mushkeeper/pkg/alloc"
	"github.com/crystal-mush/mushkeeper/pkg/gamedb"
)

// QueueEntry represents a queued command to be executed.
// The command text lives in a tracked heap buffer so queued work shows up
// in @list memory.
type QueueEntry struct {
	Player    gamedb.DBRef // Object executing the command
	Cause     gamedb.DBRef // Enactor who triggered this
	Command   alloc.Ptr    // Command text
	WaitUntil time.Time    // When to execute (zero = immediate)
	SemObj    gamedb.DBRef // Semaphore object (Nothing = none)
}

// CommandQueue manages queued commands for execution.
type CommandQueue struct {
	mu        sync.Mutex
	heap      *alloc.Heap
	immediate []*QueueEntry // Execute ASAP
	waitQueue []*QueueEntry // Delayed execution
	semQueue  []*QueueEntry // Waiting on semaphores
	maxPerObj int           // Max queued commands per object
}

// NewCommandQueue creates a new command queue storing text in heap.
func NewCommandQueue(heap *alloc.Heap) *CommandQueue {
	return &CommandQueue{heap: heap, maxPerObj: 1000}
}

func (q *CommandQueue) entry(player, cause gamedb.DBRef, cmd string) *QueueEntry {
	return &QueueEntry{
		Player:  player,
		Cause:   cause,
		Command: q.heap.Strdup(cmd, "queue"),
		SemObj:  gamedb.Nothing,
	}
}

// Add queues a command for immediate execution.
func (q *CommandQueue) Add(player, cause gamedb.DBRef, cmd string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.maxPerObj > 0 {
		count := 0
		for _, e := range q.immediate {
			if e.Player == player {
				count++
			}
		}
		if count >= q.maxPerObj {
			log.Printf("queue: dropping entry for #%d, per-object limit (%d) reached", player, q.maxPerObj)
			return false
		}
	}
	q.immediate = append(q.immediate, q.entry(player, cause, cmd))
	return true
}

// AddWait queues a command for delayed execution.
func (q *CommandQueue) AddWait(player, cause gamedb.DBRef, cmd string, at time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	entry := q.entry(player, cause, cmd)
	entry.WaitUntil = at
	// Insert sorted by WaitUntil
	for i, e := range q.waitQueue {
		if at.Before(e.WaitUntil) {
			q.waitQueue = append(q.waitQueue[:i+1], q.waitQueue[i:]...)
			q.waitQueue[i] = entry
			return
		}
	}
	q.waitQueue = append(q.waitQueue, entry)
}

// AddSemaphore queues a command waiting on sem.
func (q *CommandQueue) AddSemaphore(player, cause, sem gamedb.DBRef, cmd string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	entry := q.entry(player, cause, cmd)
	entry.SemObj = sem
	q.semQueue = append(q.semQueue, entry)
}

// NotifySemaphore wakes up to count commands waiting on sem.
func (q *CommandQueue) NotifySemaphore(sem gamedb.DBRef, count int) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	woken := 0
	var remaining []*QueueEntry
	for _, e := range q.semQueue {
		if e.SemObj == sem && woken < count {
			q.immediate = append(q.immediate, e)
			woken++
		} else {
			remaining = append(remaining, e)
		}
	}
	q.semQueue = remaining
	return woken
}

// DrainObject discards every semaphore wait on obj and returns how many
// were removed.
func (q *CommandQueue) DrainObject(obj gamedb.DBRef) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	var removed int
	q.semQueue, removed = q.filter(q.semQueue, func(e *QueueEntry) bool { return e.SemObj == obj })
	return removed
}

// HaltPlayer removes all queued commands run by player.
func (q *CommandQueue) HaltPlayer(player gamedb.DBRef) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	match := func(e *QueueEntry) bool { return e.Player == player }
	var a, b, c int
	q.immediate, a = q.filter(q.immediate, match)
	q.waitQueue, b = q.filter(q.waitQueue, match)
	q.semQueue, c = q.filter(q.semQueue, match)
	return a + b + c
}

// filter drops the entries matching drop and frees their text.
func (q *CommandQueue) filter(entries []*QueueEntry, drop func(*QueueEntry) bool) ([]*QueueEntry, int) {
	var kept []*QueueEntry
	removed := 0
	for _, e := range entries {
		if drop(e) {
			q.release(e)
			removed++
		} else {
			kept = append(kept, e)
		}
	}
	return kept, removed
}

func (q *CommandQueue) release(e *QueueEntry) {
	if _, err := q.heap.Free(e.Command); err != nil {
		log.Printf("queue: freeing entry for #%d: %v", e.Player, err)
	}
	e.Command = alloc.Nil
}

// PromoteReady moves entries from the wait queue whose time has come.
func (q *CommandQueue) PromoteReady(now time.Time) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	cutoff := 0
	for i, e := range q.waitQueue {
		if e.WaitUntil.After(now) {
			break
		}
		cutoff = i + 1
	}
	if cutoff > 0 {
		q.immediate = append(q.immediate, q.waitQueue[:cutoff]...)
		q.waitQueue = q.waitQueue[cutoff:]
	}
	return cutoff
}

// Pop removes the next immediate command and returns its executor, cause
// and text. ok is false when nothing is ready.
func (q *CommandQueue) Pop() (player, cause gamedb.DBRef, cmd string, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.immediate) == 0 {
		return gamedb.Nothing, gamedb.Nothing, "", false
	}
	e := q.immediate[0]
	q.immediate = q.immediate[1:]
	cmd = q.heap.String(e.Command)
	q.release(e)
	return e.Player, e.Cause, cmd, true
}

// Stats returns queue size info.
func (q *CommandQueue) Stats() (immediate, waiting, semaphore int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.immediate), len(q.waitQueue), len(q.semQueue)
}
