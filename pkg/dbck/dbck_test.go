package dbck

import (
	"errors"
	"fmt"
	"math/rand"
	"slices"
	"testing"

	"github.com/crystal-mush/mushkeeper/pkg/gamedb"
)

const none = gamedb.Nothing

func newObj(ref gamedb.DBRef, kind gamedb.ObjectType, name string, owner gamedb.DBRef) *gamedb.Object {
	return &gamedb.Object{
		DBRef:    ref,
		Name:     name,
		Owner:    owner,
		Location: none,
		Zone:     none,
		Contents: none,
		Exits:    none,
		Link:     none,
		Next:     none,
		Parent:   none,
		Flags:    [3]int{int(kind)},
	}
}

// makeTestDB returns a database holding Limbo(#0) and God(#1), God standing
// in Limbo, plus objs.
func makeTestDB(objs ...*gamedb.Object) *gamedb.Database {
	db := gamedb.NewDatabase()
	limbo := newObj(0, gamedb.TypeRoom, "Limbo", 1)
	god := newObj(1, gamedb.TypePlayer, "God", 1)
	god.Location = 0
	god.Link = 0
	god.Pennies = 100
	limbo.Contents = 1
	db.Put(limbo)
	db.Put(god)
	for _, o := range objs {
		db.Put(o)
	}
	return db
}

// addThing creates a thing homed at loc and links it into loc's contents.
func addThing(db *gamedb.Database, ref gamedb.DBRef, name string, loc gamedb.DBRef) *gamedb.Object {
	o := newObj(ref, gamedb.TypeThing, name, 1)
	o.Link = loc
	o.Pennies = 10
	db.Put(o)
	o.Location = loc
	db.AddToContents(loc, ref)
	return o
}

func addRoom(db *gamedb.Database, ref gamedb.DBRef, name string) *gamedb.Object {
	o := newObj(ref, gamedb.TypeRoom, name, 1)
	db.Put(o)
	return o
}

func addExit(db *gamedb.Database, ref gamedb.DBRef, name string, src, dest gamedb.DBRef) *gamedb.Object {
	o := newObj(ref, gamedb.TypeExit, name, 1)
	o.Location = dest
	db.Put(o)
	db.AddExit(src, ref)
	return o
}

func run(db *gamedb.Database, full bool) *Report {
	return New(db, Options{Full: full, Standalone: true}, nil).Run()
}

func count(refs []gamedb.DBRef, ref gamedb.DBRef) int {
	n := 0
	for _, r := range refs {
		if r == ref {
			n++
		}
	}
	return n
}

func checkFreelistClean(t *testing.T, db *gamedb.Database) {
	t.Helper()
	seen := make(map[gamedb.DBRef]bool)
	for ref := db.Freelist; ref != none; ref = db.Objects[ref].Link {
		if seen[ref] {
			t.Fatalf("freelist cycles at %s", ref)
		}
		seen[ref] = true
		if !db.IsClean(ref) {
			t.Fatalf("freelist member %s is not clean garbage", ref)
		}
	}
}

type recordEnv struct {
	NopEnv
	queued map[gamedb.DBRef]int
	notes  []string
	booted []gamedb.DBRef
	quota  map[gamedb.DBRef]int
}

func (e *recordEnv) Halt(obj gamedb.DBRef) int { return e.queued[obj] }

func (e *recordEnv) Notify(target gamedb.DBRef, msg string) {
	e.notes = append(e.notes, fmt.Sprintf("%s %s", target, msg))
}

func (e *recordEnv) Boot(player gamedb.DBRef, msg string) {
	e.booted = append(e.booted, player)
}

func (e *recordEnv) Quota(owner gamedb.DBRef, delta int, kind gamedb.ObjectType) {
	if e.quota == nil {
		e.quota = make(map[gamedb.DBRef]int)
	}
	e.quota[owner] += delta
}

func TestMakeFreelistTrimsAndLinks(t *testing.T) {
	db := makeTestDB()
	addThing(db, 3, "Widget", 0)
	db.Grow(6)

	r := run(db, false)
	if db.Top() != 4 {
		t.Errorf("db_top = %d, want 4", db.Top())
	}
	if r.Stats.Trimmed != 2 {
		t.Errorf("trimmed = %d, want 2", r.Stats.Trimmed)
	}
	if db.Freelist != 2 || db.Objects[2].Link != none {
		t.Errorf("freelist head %s link %s", db.Freelist, db.Objects[2].Link)
	}
	checkFreelistClean(t, db)
}

func TestSelfLoopIsolated(t *testing.T) {
	db := makeTestDB()
	w := newObj(5, gamedb.TypeThing, "Loop", 1)
	w.Location = 0
	w.Link = 0
	w.Next = 5
	db.Put(w)

	r := run(db, false)
	if w.Next == 5 {
		t.Fatal("self loop survived")
	}
	if !r.Has(5, "Next points to self.") {
		t.Error("self loop not logged")
	}
	if w.Location != 0 || count(db.ChainMembers(db.Objects[0].Contents), 5) != 1 {
		t.Errorf("object not in Limbo exactly once: loc %s", w.Location)
	}
}

func TestSelfLoopInsideChain(t *testing.T) {
	db := makeTestDB()
	a := newObj(5, gamedb.TypeThing, "A", 1)
	b := newObj(6, gamedb.TypeThing, "B", 1)
	for _, o := range []*gamedb.Object{a, b} {
		o.Location = 0
		o.Link = 0
		db.Put(o)
	}
	db.Objects[1].Next = 5
	a.Next = 5

	run(db, false)
	members := db.ChainMembers(db.Objects[0].Contents)
	for _, ref := range []gamedb.DBRef{1, 5, 6} {
		if count(members, ref) != 1 {
			t.Errorf("%s appears %d times in %v", ref, count(members, ref), members)
		}
		if db.Objects[ref].Next == ref {
			t.Errorf("%s still points to itself", ref)
		}
	}
}

func TestCrossLinkedContents(t *testing.T) {
	db := makeTestDB()
	a := addRoom(db, 2, "A")
	b := addRoom(db, 3, "B")
	x := newObj(7, gamedb.TypeThing, "Shared", 1)
	x.Location = 2
	x.Link = 2
	db.Put(x)
	a.Contents = 7
	b.Contents = 7

	r := run(db, false)
	if got := db.ChainMembers(a.Contents); !slices.Equal(got, []gamedb.DBRef{7}) {
		t.Errorf("A contents = %v", got)
	}
	if b.Contents != none {
		t.Errorf("B contents = %s, want NOTHING", b.Contents)
	}
	if !r.Has(3, "is in another contents list.  Cleared.") {
		t.Error("truncation of B not logged")
	}
}

func TestCrossLinkedTails(t *testing.T) {
	db := makeTestDB()
	a := addRoom(db, 2, "A")
	b := addRoom(db, 3, "B")
	t5 := addThing(db, 5, "Five", 2)
	t6 := newObj(6, gamedb.TypeThing, "Six", 1)
	t6.Location = 2
	t6.Link = 2
	db.Put(t6)
	t7 := addThing(db, 7, "Seven", 3)
	t5.Next = 6
	t7.Next = 6

	r := run(db, false)
	if got := db.ChainMembers(a.Contents); !slices.Equal(got, []gamedb.DBRef{5, 6}) {
		t.Errorf("A contents = %v", got)
	}
	if got := db.ChainMembers(b.Contents); !slices.Equal(got, []gamedb.DBRef{7}) {
		t.Errorf("B contents = %v", got)
	}
	if !r.Has(3, "is in another contents list.  Cleared.") {
		t.Error("tail truncation not logged")
	}
}

func TestMutualMisplacementTerminates(t *testing.T) {
	db := makeTestDB()
	a := addRoom(db, 2, "A")
	b := addRoom(db, 3, "B")
	x := newObj(4, gamedb.TypeThing, "X", 1)
	x.Location = 3
	x.Link = 0
	y := newObj(5, gamedb.TypeThing, "Y", 1)
	y.Location = 2
	y.Link = 0
	db.Put(x)
	db.Put(y)
	a.Contents = 4
	b.Contents = 5

	r := run(db, false)
	if x.Location != 2 || y.Location != 3 {
		t.Errorf("locations x=%s y=%s", x.Location, y.Location)
	}
	if a.Contents != 4 || x.Next != none || b.Contents != 5 || y.Next != none {
		t.Error("chains changed unexpectedly")
	}
	if !r.Has(4, "is invalid.  Reset.") || !r.Has(5, "is invalid.  Reset.") {
		t.Error("location resets not logged")
	}
}

func TestContentsCycleCut(t *testing.T) {
	db := makeTestDB()
	a := addRoom(db, 2, "A")
	t6 := addThing(db, 6, "Six", 2)
	t5 := addThing(db, 5, "Five", 2)
	t6.Next = 5

	r := run(db, false)
	if got := db.ChainMembers(a.Contents); !slices.Equal(got, []gamedb.DBRef{5, 6}) {
		t.Errorf("A contents = %v", got)
	}
	if t5.Next != 6 || t6.Next != none {
		t.Errorf("next pointers 5->%s 6->%s", t5.Next, t6.Next)
	}
	if !r.Has(2, "Contents list cycle.  Cleared.") {
		t.Error("cycle not logged")
	}
}

func TestExitCycleCut(t *testing.T) {
	db := makeTestDB()
	e5 := addExit(db, 5, "North", 0, 0)
	e6 := addExit(db, 6, "South", 0, 0)
	e5.Next = 6

	r := run(db, false)
	if got := db.ChainMembers(db.Objects[0].Exits); !slices.Equal(got, []gamedb.DBRef{6, 5}) {
		t.Errorf("Limbo exits = %v", got)
	}
	if e5.Next != none || e6.Next != 5 {
		t.Errorf("next pointers 5->%s 6->%s", e5.Next, e6.Next)
	}
	if !r.Has(0, "is in another exitlist.  Cleared.") {
		t.Error("exit cycle not logged")
	}
}

func TestOrphanMovedHomeNotDestroyed(t *testing.T) {
	db := makeTestDB()
	w := newObj(5, gamedb.TypeThing, "Lost", 1)
	w.Location = 99
	w.Link = 0
	db.Put(w)

	r := run(db, false)
	if w.ObjType() != gamedb.TypeThing {
		t.Fatal("orphan was destroyed")
	}
	if w.Location != 0 || count(db.ChainMembers(db.Objects[0].Contents), 5) != 1 {
		t.Errorf("orphan location %s", w.Location)
	}
	if !r.Has(5, "is invalid.  Moved to home.") {
		t.Error("move home not logged")
	}
}

func TestDanglingReferencesCleared(t *testing.T) {
	db := makeTestDB()
	w := addThing(db, 5, "Widget", 0)
	w.Parent = 99
	w.Zone = 3
	w.Owner = 98

	r := run(db, false)
	if w.Parent != none || w.Zone != none {
		t.Errorf("parent %s zone %s", w.Parent, w.Zone)
	}
	if w.Owner != 1 || !w.HasFlag(gamedb.FlagHalt) {
		t.Errorf("owner %s halted %v", w.Owner, w.HasFlag(gamedb.FlagHalt))
	}
	if !r.Has(5, "is invalid.  Set to GOD.") {
		t.Error("owner reset not logged")
	}
}

func TestRoomDroptoRepairs(t *testing.T) {
	db := makeTestDB()
	lost := addRoom(db, 2, "Lost")
	lost.SetDropto(77)
	homed := addRoom(db, 3, "Homed")
	homed.SetDropto(gamedb.Home)
	doomed := addRoom(db, 4, "Doomed")
	doomed.Flags[0] |= gamedb.FlagGoing
	below := addRoom(db, 5, "Below")
	below.SetDropto(4)
	kept := addRoom(db, 6, "Kept")
	kept.SetDropto(0)

	r := run(db, false)
	if lost.Dropto() != none || !r.Has(2, "is invalid.  Cleared.") {
		t.Errorf("dangling dropto = %s", lost.Dropto())
	}
	if homed.Dropto() != gamedb.Home || r.Has(3, "Dropto") {
		t.Errorf("HOME dropto = %s", homed.Dropto())
	}
	if below.Dropto() != none || !r.Has(5, "is invalid.  Cleared.") {
		t.Errorf("dropto into a going room = %s", below.Dropto())
	}
	if kept.Dropto() != 0 {
		t.Errorf("valid dropto = %s", kept.Dropto())
	}
}

func TestRoomFullModeResetsChainFields(t *testing.T) {
	db := makeTestDB()
	stray := addRoom(db, 2, "Stray")
	stray.Next = 1
	stray.Link = 0
	stray.SetDropto(gamedb.Home)
	plain := addRoom(db, 3, "Plain")
	plain.SetDropto(0)
	plain.Link = 0

	r := run(db, false)
	if stray.Next != 1 || stray.Link != 0 || r.Has(2, "should be NOTHING") {
		t.Fatal("chain fields reset outside full mode")
	}

	r = run(db, true)
	if stray.Next != none || stray.Link != none {
		t.Errorf("next %s link %s", stray.Next, stray.Link)
	}
	if !r.Has(2, "Next pointer") || !r.Has(2, "Link pointer") {
		t.Errorf("resets not logged: %+v", r.Findings)
	}
	if stray.Dropto() != gamedb.Home || plain.Dropto() != 0 {
		t.Errorf("full mode disturbed droptos: %s, %s", stray.Dropto(), plain.Dropto())
	}
	if plain.Link != none {
		t.Error("link on a room with a dropto not reset")
	}
}

func TestDisconnectedExitDestroyed(t *testing.T) {
	db := makeTestDB()
	e := newObj(5, gamedb.TypeExit, "Nowhere", 1)
	e.Exits = 0
	e.Location = 0
	db.Put(e)

	r := run(db, false)
	if e.ObjType() != gamedb.TypeGarbage || !db.IsClean(5) {
		t.Fatal("disconnected exit survived")
	}
	if !r.Has(5, "Disconnected exit.  Destroyed.") {
		t.Error("destruction not logged")
	}
	if db.Objects[1].Pennies != 101 {
		t.Errorf("owner pennies = %d, want refund of opencost", db.Objects[1].Pennies)
	}
}

func TestBadExitDestinations(t *testing.T) {
	db := makeTestDB()
	addExit(db, 5, "Broken", 0, 77)
	addExit(db, 6, "Target", 0, 0)
	addExit(db, 7, "Odd", 0, 6)

	r := run(db, false)
	if !r.Has(5, "is invalid.  Exit destroyed.") {
		t.Error("invalid destination not logged")
	}
	if !r.Has(7, "is not a valid type.  Exit destroyed.") {
		t.Error("exit-to-exit not logged")
	}
	if db.Objects[5].ObjType() != gamedb.TypeGarbage || db.Objects[7].ObjType() != gamedb.TypeGarbage {
		t.Error("bad exits not destroyed")
	}
	if got := db.ChainMembers(db.Objects[0].Exits); !slices.Equal(got, []gamedb.DBRef{6}) {
		t.Errorf("Limbo exits = %v", got)
	}
}

func TestNonExitInExitList(t *testing.T) {
	db := makeTestDB()
	db.Objects[0].Exits = 1

	r := run(db, false)
	if db.Objects[0].Exits != none {
		t.Error("exit list not terminated")
	}
	if !r.Has(0, "is not an exit.  List terminated.") {
		t.Error("not logged")
	}
	if db.Objects[1].ObjType() != gamedb.TypePlayer {
		t.Error("player damaged")
	}
}

func TestExitSourceRepairs(t *testing.T) {
	db := makeTestDB()
	a := addRoom(db, 2, "A")
	b := addRoom(db, 3, "B")
	claimed := newObj(5, gamedb.TypeExit, "Claimed", 1)
	claimed.Location = 0
	claimed.Exits = 3
	db.Put(claimed)
	a.Exits = 5

	shared := newObj(6, gamedb.TypeExit, "Shared", 1)
	shared.Location = 0
	shared.Exits = 0
	db.Put(shared)
	db.Objects[0].Exits = 6
	b.Exits = 6

	r := run(db, false)
	if claimed.Exits != 2 || a.Exits != 5 {
		t.Errorf("claimed exit source %s", claimed.Exits)
	}
	if !r.Has(5, "Not on chain for location") {
		t.Error("source reset not logged")
	}
	if b.Exits != none || db.Objects[0].Exits != 6 {
		t.Errorf("shared exit lists: Limbo %s B %s", db.Objects[0].Exits, b.Exits)
	}
	if !r.Has(3, "is in another exitlist.  Cleared.") {
		t.Error("shared exit not logged")
	}
}

func TestParentGoingNotifiesOwner(t *testing.T) {
	env := &recordEnv{}
	db := makeTestDB()
	w := addThing(db, 2, "Widget", 0)
	junk := addThing(db, 3, "Junk", 0)
	junk.Flags[0] |= gamedb.FlagGoing
	w.Parent = 3

	r := New(db, Options{}, env).Run()
	if w.Parent != none {
		t.Errorf("parent = %s", w.Parent)
	}
	if !slices.Contains(env.notes, "#1 Parent cleared on Widget(#2)") {
		t.Errorf("notes = %q", env.notes)
	}
	if junk.ObjType() != gamedb.TypeGarbage {
		t.Fatal("GOING thing not purged")
	}
	if !slices.Contains(env.notes, "#1 You get back your 55 penny deposit for Junk(#3).") {
		t.Errorf("notes = %q", env.notes)
	}
	if db.Objects[1].Pennies != 155 {
		t.Errorf("God pennies = %d", db.Objects[1].Pennies)
	}
	if env.quota[1] != 1 {
		t.Errorf("quota returned = %d", env.quota[1])
	}
	if count(db.ChainMembers(db.Objects[0].Contents), 3) != 0 {
		t.Error("destroyed thing still in Limbo")
	}
	if r.Stats.Destroyed != 1 {
		t.Errorf("destroyed = %d", r.Stats.Destroyed)
	}
}

func TestHaltedNotice(t *testing.T) {
	env := &recordEnv{queued: map[gamedb.DBRef]int{2: 3}}
	db := makeTestDB()
	junk := addThing(db, 2, "Busy", 0)
	junk.Flags[0] |= gamedb.FlagGoing

	New(db, Options{}, env).Run()
	if !slices.Contains(env.notes, "#1 Halted.") {
		t.Errorf("notes = %q", env.notes)
	}
}

func TestPurgeGoingRoom(t *testing.T) {
	db := makeTestDB()
	room := addRoom(db, 2, "Doomed")
	room.Flags[0] |= gamedb.FlagGoing
	pet := addThing(db, 3, "Pet", 2)
	addExit(db, 4, "Out", 2, 0)

	r := run(db, false)
	if room.ObjType() != gamedb.TypeGarbage || db.Objects[4].ObjType() != gamedb.TypeGarbage {
		t.Fatal("room or its exit survived")
	}
	if pet.ObjType() != gamedb.TypeThing || pet.Location != 0 || pet.Home() != 0 {
		t.Errorf("pet at %s home %s", pet.Location, pet.Home())
	}
	if count(db.ChainMembers(db.Objects[0].Contents), 3) != 1 {
		t.Error("pet not in Limbo")
	}
	if db.Objects[1].Pennies != 111 {
		t.Errorf("God pennies = %d, want digcost and opencost back", db.Objects[1].Pennies)
	}
	if r.Stats.Destroyed != 2 {
		t.Errorf("destroyed = %d", r.Stats.Destroyed)
	}
}

func TestDestroyPlayer(t *testing.T) {
	env := &recordEnv{}
	db := makeTestDB()
	bob := newObj(5, gamedb.TypePlayer, "Bob", 5)
	bob.Link = 0
	bob.Flags[0] |= gamedb.FlagGoing
	bob.SetAttr(gamedb.AttrDestroyer, "6")
	bob.SetAttr(gamedb.AttrAlias, "Bobby;B")
	db.Put(bob)
	bob.Location = 0
	db.AddToContents(0, 5)
	db.AddPlayerName(5, "Bobby")

	heir := newObj(6, gamedb.TypePlayer, "Heir", 6)
	heir.Link = 0
	db.Put(heir)
	heir.Location = 0
	db.AddToContents(0, 6)

	bag := addThing(db, 7, "Bag", 5)
	bag.Link = 0
	bag.Owner = 5

	New(db, Options{}, env).Run()
	if bob.ObjType() != gamedb.TypeGarbage {
		t.Fatal("player not destroyed")
	}
	if bag.Owner != 6 || bag.Location != 0 {
		t.Errorf("bag owner %s location %s", bag.Owner, bag.Location)
	}
	if db.LookupPlayer("bob") != none || db.LookupPlayer("bobby") != none {
		t.Error("player names still registered")
	}
	if db.LookupPlayer("heir") != 6 {
		t.Error("heir name lost")
	}
	if !slices.Equal(env.booted, []gamedb.DBRef{5}) {
		t.Errorf("booted = %v", env.booted)
	}
	if !slices.Contains(env.notes, "#6 (1 objects @chowned to you)") {
		t.Errorf("notes = %q", env.notes)
	}
	if count(db.ChainMembers(db.Objects[0].Contents), 5) != 0 {
		t.Error("destroyed player still in Limbo")
	}
}

func TestFunnyTypeDestroyed(t *testing.T) {
	db := makeTestDB()
	odd := newObj(5, gamedb.ObjectType(6), "Odd", 1)
	db.Put(odd)

	r := run(db, false)
	if odd.ObjType() != gamedb.TypeGarbage {
		t.Fatal("funny object survived")
	}
	if !r.Has(5, "Funny object type.  Destroyed.") {
		t.Error("not logged")
	}
}

func TestZoneLeftAlone(t *testing.T) {
	db := makeTestDB()
	z := newObj(5, gamedb.TypeZone, "Zone", 1)
	db.Put(z)

	r := run(db, false)
	if z.ObjType() != gamedb.TypeZone {
		t.Error("zone object destroyed")
	}
	if len(r.Findings) != 0 {
		t.Errorf("findings on a clean database: %+v", r.Findings)
	}
}

func fullModeDB() *gamedb.Database {
	db := makeTestDB()
	zero := addThing(db, 2, "Zero", 0)
	zero.Pennies = 0
	vault := addRoom(db, 3, "Vault")
	vault.Pennies = 7
	bot := addThing(db, 4, "Bot", 0)
	bot.Flags[0] |= gamedb.FlagWizard
	bot.Flags[1] |= gamedb.Flag2HasCommands

	alt := newObj(5, gamedb.TypePlayer, "Alt", 1)
	alt.Link = 0
	alt.Pennies = 50
	db.Put(alt)
	alt.Location = 0
	db.AddToContents(0, 5)

	ghost := newObj(6, gamedb.TypePlayer, "Ghost", 6)
	ghost.Link = 0
	ghost.Flags[0] |= gamedb.FlagGoing
	db.Put(ghost)
	ghost.Location = 0
	db.AddToContents(0, 6)

	pet := addThing(db, 7, "Pet", 0)
	pet.Owner = 6
	return db
}

func TestFullModeAdvisories(t *testing.T) {
	db := fullModeDB()
	r := run(db, true)

	checks := []struct {
		ref gamedb.DBRef
		msg string
	}{
		{2, "is zero."},
		{3, "is strange.  Reset."},
		{4, "Wizard command handling object inside nonwizard."},
		{4, "of a WIZARD object is not a wizard"},
		{5, "is the owner instead of the player."},
		{7, "is set GOING.  Set to GOD."},
	}
	for _, c := range checks {
		if !r.Has(c.ref, c.msg) {
			t.Errorf("missing %q on %s", c.msg, c.ref)
		}
	}
	if db.Objects[3].Pennies != 0 {
		t.Error("room value not reset")
	}
	pet := db.Objects[7]
	if pet.Owner != 1 || !pet.HasFlag(gamedb.FlagHalt) {
		t.Errorf("pet owner %s", pet.Owner)
	}
	if r.BySeverity()[SevAdvisory] == 0 {
		t.Error("advisories not classified")
	}
}

func TestAdvisoriesNeedFullMode(t *testing.T) {
	db := fullModeDB()
	r := run(db, false)
	for _, f := range r.Findings {
		if f.Severity == SevAdvisory {
			t.Errorf("advisory %q in a normal pass", f.Message)
		}
	}
	if r.Has(3, "is strange.") {
		t.Error("room value checked outside full mode")
	}
	if db.Objects[3].Pennies != 7 {
		t.Error("room value changed outside full mode")
	}
}

func TestPlaceOnFreelist(t *testing.T) {
	db := makeTestDB()
	db.Grow(5)
	addThing(db, 5, "Anchor", 0)
	c := New(db, Options{Standalone: true}, nil)
	c.Run()
	if db.Freelist != 2 {
		t.Fatalf("freelist head = %s", db.Freelist)
	}

	msg, err := c.PlaceOnFreelist("#4")
	if err != nil || msg != "Object placed at the head of the freelist." {
		t.Fatalf("PlaceOnFreelist = %q, %v", msg, err)
	}
	if db.Freelist != 4 || db.Objects[4].Link != 2 || db.Objects[3].Link != none {
		t.Errorf("freelist 4->%s 3->%s", db.Objects[4].Link, db.Objects[3].Link)
	}
	checkFreelistClean(t, db)

	errs := []struct {
		arg  string
		want error
	}{
		{"#4", ErrAlreadyHead},
		{"#5", ErrNotClean},
		{"5", ErrNoMatch},
		{"#", ErrNoMatch},
		{"#99", ErrNoMatch},
		{"#-1", ErrNoMatch},
	}
	for _, tt := range errs {
		if _, err := c.PlaceOnFreelist(tt.arg); !errors.Is(err, tt.want) {
			t.Errorf("PlaceOnFreelist(%q) = %v, want %v", tt.arg, err, tt.want)
		}
	}

	db.Objects[0].Link = 3
	if _, err := c.PlaceOnFreelist("#3"); !errors.Is(err, ErrRelink) {
		t.Errorf("relink through a live object: %v", err)
	}
}

func TestCleanDatabaseHasNoFindings(t *testing.T) {
	db := makeTestDB()
	addRoom(db, 2, "Hall")
	addExit(db, 3, "Hall", 0, 2)
	addExit(db, 4, "Back", 2, 0)
	addThing(db, 5, "Lamp", 2)

	r := run(db, true)
	for _, f := range r.Findings {
		t.Errorf("unexpected finding: %s", f.Message)
	}
	if r.Stats.Destroyed != 0 || db.Top() != 6 {
		t.Errorf("stats %+v top %d", r.Stats, db.Top())
	}
}

// checkInvariants asserts what every pass must leave behind.
func checkInvariants(t *testing.T, seed int64, db *gamedb.Database) {
	t.Helper()
	listed := make(map[gamedb.DBRef]gamedb.DBRef)
	for i, o := range db.Objects {
		ref := gamedb.DBRef(i)
		if o.Next == ref {
			t.Errorf("seed %d: %s points to itself", seed, ref)
		}
		if o.ObjType() == gamedb.TypeGarbage {
			continue
		}
		if o.IsGoing() {
			t.Errorf("seed %d: %s still GOING", seed, ref)
		}
		for _, f := range []gamedb.DBRef{o.Parent, o.Zone} {
			if f != none && !db.Good(f) {
				t.Errorf("seed %d: %s refers to dead %s", seed, ref, f)
			}
		}
		if !db.Good(o.Owner) {
			t.Errorf("seed %d: %s owner %s invalid", seed, ref, o.Owner)
		}
		if o.ObjType() == gamedb.TypeExit {
			continue
		}
		for _, m := range db.ChainMembers(o.Contents) {
			if prev, ok := listed[m]; ok {
				t.Errorf("seed %d: %s listed in %s and %s", seed, m, prev, ref)
			}
			listed[m] = ref
			if db.Objects[m].Location != ref {
				t.Errorf("seed %d: %s in %s claims %s", seed, m, ref, db.Objects[m].Location)
			}
		}
	}
	checkFreelistClean(t, db)
}

func TestRandomDamageTerminates(t *testing.T) {
	const n = 40
	for seed := int64(1); seed <= 30; seed++ {
		rng := rand.New(rand.NewSource(seed))
		ref := func() gamedb.DBRef { return gamedb.DBRef(rng.Intn(n+8) - 4) }

		db := makeTestDB()
		db.Grow(n)
		for i := 2; i < n; i++ {
			o := newObj(gamedb.DBRef(i), gamedb.ObjectType(rng.Intn(8)), fmt.Sprintf("o%d", i), ref())
			if rng.Intn(5) == 0 {
				o.Flags[0] |= gamedb.FlagGoing
			}
			o.Location, o.Contents, o.Exits, o.Next = ref(), ref(), ref(), ref()
			o.Link, o.Parent, o.Zone = ref(), ref(), ref()
			o.Pennies = rng.Intn(20)
			db.Objects[i] = o
		}
		db.Objects[0].Contents = ref()
		db.Objects[0].Exits = ref()

		run(db, seed%2 == 0)
		checkInvariants(t, seed, db)

		// A second pass over a repaired database must find nothing to destroy.
		if r := run(db, false); r.Stats.Destroyed != 0 {
			t.Errorf("seed %d: second pass destroyed %d", seed, r.Stats.Destroyed)
		}
	}
}
