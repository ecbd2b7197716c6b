package server

import (
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/crystal-mush/mushkeeper/pkg/alloc"
	"github.com/crystal-mush/mushkeeper/pkg/boltstore"
	"github.com/crystal-mush/mushkeeper/pkg/events"
	"github.com/crystal-mush/mushkeeper/pkg/gamedb"
)

func newObj(ref gamedb.DBRef, kind gamedb.ObjectType, name string, owner gamedb.DBRef) *gamedb.Object {
	o := &gamedb.Object{DBRef: ref, Name: name, Owner: owner, Flags: [3]int{int(kind)}}
	o.Location, o.Zone, o.Contents, o.Exits = gamedb.Nothing, gamedb.Nothing, gamedb.Nothing, gamedb.Nothing
	o.Link, o.Next, o.Parent = gamedb.Nothing, gamedb.Nothing, gamedb.Nothing
	return o
}

// newTestGame creates a game holding:
//   - Room #0 (Limbo)
//   - Player #1 (Wizard) in Limbo, wizard flag set
//   - Player #2 (Bob) in Limbo
func newTestGame(t *testing.T) *Game {
	t.Helper()
	db := gamedb.NewDatabase()

	limbo := newObj(0, gamedb.TypeRoom, "Limbo", 1)
	limbo.Contents = 1

	wiz := newObj(1, gamedb.TypePlayer, "Wizard", 1)
	wiz.Flags[0] |= gamedb.FlagWizard
	wiz.Location, wiz.Link, wiz.Next = 0, 0, 2
	wiz.Pennies = 100

	bob := newObj(2, gamedb.TypePlayer, "Bob", 2)
	bob.Location, bob.Link = 0, 0
	bob.Pennies = 50

	for _, o := range []*gamedb.Object{limbo, wiz, bob} {
		db.Put(o)
	}
	g := NewGame(db, nil)
	t.Cleanup(g.Stop)
	return g
}

// addJunk puts a GOING thing owned by the wizard at the head of Limbo.
func addJunk(g *Game, ref gamedb.DBRef) *gamedb.Object {
	o := newObj(ref, gamedb.TypeThing, "Junk", 1)
	o.Flags[0] |= gamedb.FlagGoing
	o.Location, o.Link = 0, 0
	o.Pennies = 10
	g.DB.Put(o)
	g.DB.AddToContents(0, ref)
	return o
}

func watch(g *Game, player gamedb.DBRef) *events.ChanSubscriber {
	sub := events.NewChanSubscriber(64)
	g.EventBus.Subscribe(player, sub)
	return sub
}

// drain returns the texts of pending events of type typ.
func drain(sub *events.ChanSubscriber, typ events.EventType) []string {
	var out []string
	for {
		select {
		case ev := <-sub.C:
			if ev.Type == typ {
				out = append(out, ev.Text)
			}
		default:
			return out
		}
	}
}

func TestExecAdminDispatch(t *testing.T) {
	g := newTestGame(t)
	tests := []struct {
		player gamedb.DBRef
		line   string
		want   string
	}{
		{1, "@bogus", `Huh?  (Type "help" for help.)`},
		{2, "@dbck", "Permission denied."},
		{1, "@dbck/xyz", "Unrecognized switch 'xyz' for command '@dbck'."},
		{1, "@dbck", "Done."},
		{1, "@DBCK/FULL", "Done."},
		{1, "@list", "Unknown option.  Use one of: memory, buffers, buftrace, dbck, queue."},
		{1, "@freelist", "I don't see that here."},
		{1, `@freelist "#1"`, "That object is not clean garbage."},
		{1, "@wait soon x", "Invalid wait time."},
		{1, "@history #1", "SQL audit is not enabled."},
	}
	for _, tt := range tests {
		got := g.ExecAdmin(tt.player, tt.line)
		if got != tt.want {
			t.Errorf("%q by #%d: got %q, want %q", tt.line, tt.player, got, tt.want)
		}
	}
}

func TestDBCKHaltsAndRefunds(t *testing.T) {
	g := newTestGame(t)
	addJunk(g, 3)
	g.Queue.Add(3, 1, "@list queue")
	sub := watch(g, 1)

	r := g.RunDBCK(false)
	if r.Stats.Destroyed != 1 || g.LastReport() != r {
		t.Fatalf("report = %+v", r.Stats)
	}

	notes := drain(sub, events.EvNotify)
	for _, want := range []string{"Halted.", "You get back your 55 penny deposit for Junk(#3)."} {
		if !slices.Contains(notes, want) {
			t.Errorf("missing notification %q in %q", want, notes)
		}
	}
	if p := g.DB.Objects[1].Pennies; p != 155 {
		t.Errorf("wizard pennies = %d, want 155", p)
	}
	if q, _ := g.DB.Objects[1].GetAttr(gamedb.AttrRQuota); q != "1 0 0 0 0" {
		t.Errorf("quota = %q", q)
	}
	if immediate, _, _ := g.Queue.Stats(); immediate != 0 {
		t.Error("queued command survived the destroy")
	}
	if s := g.Heap.Stats(); s.Blocks != 0 {
		t.Errorf("%d heap blocks still live", s.Blocks)
	}
	if !g.DB.IsClean(3) {
		t.Error("junk is not clean garbage")
	}
}

func TestDBCKBroadcastsFindings(t *testing.T) {
	g := newTestGame(t)
	g.DB.Objects[2].Parent = 40
	global := events.NewChanSubscriber(64)
	g.EventBus.SubscribeGlobal(global)

	g.RunDBCK(false)

	findings := drain(global, events.EvFinding)
	if len(findings) != 1 || !strings.Contains(findings[0], "Parent") {
		t.Errorf("findings = %q", findings)
	}
	if g.DB.Objects[2].Parent != gamedb.Nothing {
		t.Error("parent not cleared")
	}
}

func TestForwardListNotify(t *testing.T) {
	g := newTestGame(t)
	g.DB.Objects[1].SetAttr(gamedb.AttrForwardList, "#2 #99")
	bob := watch(g, 2)

	g.Notify(1, "hello")

	if got := drain(bob, events.EvNotify); len(got) != 1 || got[0] != "hello" {
		t.Errorf("forwarded = %q", got)
	}
}

func TestFreelistCommand(t *testing.T) {
	g := newTestGame(t)
	addJunk(g, 3)
	if got := g.ExecAdmin(1, "@dbck"); got != "Done." {
		t.Fatalf("@dbck = %q", got)
	}
	if got := g.ExecAdmin(1, `@freelist "#3"`); got != "Object placed at the head of the freelist." {
		t.Errorf("first splice = %q", got)
	}
	if got := g.ExecAdmin(1, `@freelist "#3"`); got != "That object is already at the head of the freelist." {
		t.Errorf("second splice = %q", got)
	}
	if g.DB.Freelist != 3 {
		t.Errorf("freelist head = %v", g.DB.Freelist)
	}
}

func TestWaitQueueRunsCommands(t *testing.T) {
	g := newTestGame(t)
	sub := watch(g, 1)

	if got := g.ExecAdmin(1, `@wait 0 "@list queue"`); got != "Queued." {
		t.Fatalf("@wait = %q", got)
	}
	if n := g.RunQueue(time.Now()); n != 1 {
		t.Fatalf("ran %d commands", n)
	}
	notes := drain(sub, events.EvNotify)
	if len(notes) != 1 || notes[0] != "Queue: 0 immediate, 0 waiting, 0 on semaphores." {
		t.Errorf("output = %q", notes)
	}

	g.ExecAdmin(1, `@wait 60 "@dbck"`)
	if n := g.RunQueue(time.Now()); n != 0 {
		t.Errorf("delayed command ran early")
	}
	mem := g.ExecAdmin(1, "@list memory")
	for _, want := range []string{"Tag", "queue", "Total"} {
		if !strings.Contains(mem, want) {
			t.Errorf("@list memory missing %q:\n%s", want, mem)
		}
	}
	if got := g.ExecAdmin(1, "@halt"); got != "Halted 1 queue entries." {
		t.Errorf("@halt = %q", got)
	}
	if s := g.Heap.Stats(); s.Blocks != 0 {
		t.Errorf("%d heap blocks still live", s.Blocks)
	}
}

func TestListDBCK(t *testing.T) {
	g := newTestGame(t)
	if got := g.ExecAdmin(1, "@list dbck"); got != "No dbck pass has run yet." {
		t.Errorf("before = %q", got)
	}
	g.DB.Objects[2].Zone = 77
	g.RunDBCK(false)
	got := g.ExecAdmin(1, "@list dbck")
	if !strings.HasPrefix(got, "dbck: 1 findings") || !strings.Contains(got, "dead-refs") {
		t.Errorf("@list dbck =\n%s", got)
	}
}

func TestAuditAndHistory(t *testing.T) {
	g := newTestGame(t)
	a := openTestAudit(t)
	g.Audit = a
	g.DB.Objects[2].Zone = 77

	g.RunDBCK(true)

	runs, err := a.Runs(0)
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if len(runs) != 1 || !runs[0].Full || runs[0].Findings == 0 {
		t.Fatalf("runs = %+v", runs)
	}
	got := g.ExecAdmin(1, `@history "#2"`)
	if !strings.Contains(got, "Zone") || !strings.Contains(got, "dead-refs") {
		t.Errorf("@history =\n%s", got)
	}
	if got := g.ExecAdmin(1, `@history "#0"`); got != "No dbck findings recorded for #0." {
		t.Errorf("@history #0 = %q", got)
	}
}

func TestMetricsAfterDBCK(t *testing.T) {
	g := newTestGame(t)
	g.RunDBCK(false)
	names, err := g.Metrics.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, want := range []string{
		"mushkeeper_dbck_runs_total",
		"mushkeeper_dbck_duration_seconds",
		"mushkeeper_heap_live_blocks",
		"mushkeeper_pool_buffers",
		"mushkeeper_objects_total",
	} {
		if !slices.Contains(names, want) {
			t.Errorf("metric %s not registered", want)
		}
	}
}

func TestListBuffers(t *testing.T) {
	g := newTestGame(t)
	sub := watch(g, 1)
	g.Notify(1, "one")
	g.Notify(1, "two")
	if notes := drain(sub, events.EvNotify); !slices.Equal(notes, []string{"one", "two"}) {
		t.Errorf("notes = %q", notes)
	}

	got := g.ExecAdmin(1, "@list buffers")
	for _, want := range []string{"Buffer Stats", "Lbufs", "Mbufs", "Sbufs", "Qentries", "8000"} {
		if !strings.Contains(got, want) {
			t.Errorf("@list buffers missing %q:\n%s", want, got)
		}
	}
	for _, ps := range g.Heap.PoolStats() {
		if ps.Name == "Lbufs" && (ps.InUse != 0 || ps.Total != 1 || ps.Allocs != 2) {
			t.Errorf("notify did not reuse its lbuf: %+v", ps)
		}
	}

	held := g.Heap.PoolAlloc(alloc.PoolSBuf, "held")
	defer g.Heap.PoolFree(alloc.PoolSBuf, held)
	trace := g.ExecAdmin(1, "@list buftrace")
	for _, want := range []string{"----- Sbufs -----", "held", "1 free"} {
		if !strings.Contains(trace, want) {
			t.Errorf("@list buftrace missing %q:\n%s", want, trace)
		}
	}
}

func TestSaveRacesSetStore(t *testing.T) {
	g := newTestGame(t)
	s, err := boltstore.Open(filepath.Join(t.TempDir(), "game.bolt"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			g.SetStore(s)
			g.SetStore(nil)
		}
		g.SetStore(s)
	}()
	for i := 0; i < 50; i++ {
		if err := g.Save(); err != nil && !strings.Contains(err.Error(), "no database store") {
			t.Fatalf("Save: %v", err)
		}
	}
	<-done
	if err := g.Save(); err != nil {
		t.Fatalf("Save after SetStore: %v", err)
	}
}

func TestSaveCommand(t *testing.T) {
	g := newTestGame(t)
	if got := g.ExecAdmin(1, "@save"); !strings.HasPrefix(got, "Save failed") {
		t.Errorf("@save without store = %q", got)
	}
	s, err := boltstore.Open(filepath.Join(t.TempDir(), "game.bolt"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	g.SetStore(s)
	addJunk(g, 3)
	g.RunDBCK(false)

	if got := g.ExecAdmin(1, "@save"); got != "Database saved." {
		t.Fatalf("@save = %q", got)
	}
	db, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if db.Top() != 4 || db.Objects[1].Name != "Wizard" {
		t.Errorf("loaded top %d", db.Top())
	}
	reports, _ := s.Reports(0)
	if len(reports) != 1 || reports[0].Stats.Destroyed != 1 {
		t.Errorf("bolt report history = %+v", reports)
	}
}

func TestDBCKTimer(t *testing.T) {
	g := newTestGame(t)
	g.StartDBCKTimer(10 * time.Millisecond)
	deadline := time.Now().Add(3 * time.Second)
	for g.LastReport() == nil {
		if time.Now().After(deadline) {
			t.Fatal("timer never ran dbck")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestGameStats(t *testing.T) {
	g := newTestGame(t)
	g.DB.Grow(6)
	addJunk(g, 6)
	g.RunDBCK(false)

	// #3-#5 are relinked onto the freelist; #6 is destroyed after that.
	st := g.GameStats()
	if st["freelist"] != 3 || st["db_top"] != 7 {
		t.Errorf("stats = %v", st)
	}
	counts := st["type_counts"].(map[string]int)
	if counts["PLAYER"] != 2 || counts["GARBAGE"] != 4 {
		t.Errorf("type counts = %v", counts)
	}
	if _, ok := g.MemoryStats()["heap"]; !ok {
		t.Error("no heap stats")
	}
}
