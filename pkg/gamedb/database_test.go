package gamedb

import "testing"

func obj(ref DBRef, kind ObjectType, owner DBRef) *Object {
	o := &Object{DBRef: ref, Name: "Obj", Owner: owner}
	o.clearLinks()
	o.Flags[0] = int(kind)
	return o
}

func makeTestDB(objects ...*Object) *Database {
	db := NewDatabase()
	for _, o := range objects {
		db.Put(o)
	}
	return db
}

func TestRefKind(t *testing.T) {
	tests := []struct {
		ref  DBRef
		want RefKind
	}{
		{0, RefObject},
		{42, RefObject},
		{Nothing, RefNothing},
		{Ambiguous, RefAmbiguous},
		{Home, RefHome},
		{NoPerm, RefNoPerm},
		{-9, RefInvalid},
	}
	for _, tt := range tests {
		if got := tt.ref.Kind(); got != tt.want {
			t.Errorf("DBRef(%d).Kind() = %v, want %v", tt.ref, got, tt.want)
		}
	}
}

func TestCapabilityTable(t *testing.T) {
	if !TypeRoom.HasContents() || TypeRoom.HasLocation() || !TypeRoom.HasDropto() {
		t.Error("room capabilities wrong")
	}
	if !TypeThing.HasLocation() || TypeThing.OwnsOthers() {
		t.Error("thing capabilities wrong")
	}
	if TypeExit.HasContents() || TypeExit.HasLocation() {
		t.Error("exit capabilities wrong")
	}
	if !TypePlayer.OwnsOthers() || !TypePlayer.HasLocation() {
		t.Error("player capabilities wrong")
	}
	if TypeGarbage.Caps() != 0 || TypeZone.Caps() != 0 {
		t.Error("garbage and zone should have no capabilities")
	}
	if ObjectType(7).Caps() != 0 || ObjectType(7).Valid() {
		t.Error("corrupt kind should have no capabilities")
	}
}

func TestGoodAndRange(t *testing.T) {
	db := makeTestDB(obj(0, TypeRoom, 1), obj(1, TypePlayer, 1))
	db.Grow(3)
	if !db.Good(0) || !db.Good(1) {
		t.Fatal("room and player should be good")
	}
	if db.Good(2) {
		t.Error("garbage slot should not be good")
	}
	if !db.InRange(2) || db.InRange(3) || db.InRange(Nothing) {
		t.Error("InRange wrong")
	}
	if !db.IsClean(2) {
		t.Error("grown slot should be clean garbage")
	}
	if !db.GoodOwner(1) || db.GoodOwner(0) {
		t.Error("GoodOwner wrong")
	}
}

func TestCreateObjectPopsFreelist(t *testing.T) {
	db := makeTestDB(obj(0, TypeRoom, 1), obj(1, TypePlayer, 1))
	db.Grow(4)
	db.Objects[2].Link = 3
	db.Freelist = 2

	o, err := db.CreateObject(TypeThing, "widget", 1)
	if err != nil {
		t.Fatalf("CreateObject: %v", err)
	}
	if o.DBRef != 2 {
		t.Fatalf("expected freelist head #2, got #%d", o.DBRef)
	}
	if db.Freelist != 3 {
		t.Errorf("freelist head = #%d, want #3", db.Freelist)
	}
	if o.Location != Nothing || o.Next != Nothing || o.Link != Nothing {
		t.Error("new object should have empty links")
	}
	if db.Top() != 4 {
		t.Errorf("table should not grow, top=%d", db.Top())
	}
}

func TestCreateObjectDamagedFreelist(t *testing.T) {
	db := makeTestDB(obj(0, TypeRoom, 1), obj(1, TypePlayer, 1))
	db.Freelist = 0 // a live room is not clean garbage

	o, err := db.CreateObject(TypeThing, "widget", 1)
	if err != nil {
		t.Fatalf("CreateObject: %v", err)
	}
	if o.DBRef != 2 {
		t.Errorf("expected new slot #2, got #%d", o.DBRef)
	}
	if db.Freelist != Nothing {
		t.Errorf("damaged freelist should be discarded, head=#%d", db.Freelist)
	}
	if db.Objects[0].ObjType() != TypeRoom {
		t.Error("room #0 must not be reused")
	}
}

func TestCreateObjectBuildingLimit(t *testing.T) {
	db := makeTestDB(obj(0, TypeRoom, 1), obj(1, TypePlayer, 1))
	db.BuildingLimit = 3
	if _, err := db.CreateObject(TypeThing, "a", 1); err != ErrBuildingLimit {
		t.Fatalf("expected ErrBuildingLimit, got %v", err)
	}
}

func TestCreatePlayerOwnsSelf(t *testing.T) {
	db := makeTestDB(obj(0, TypeRoom, 1))
	p, err := db.CreateObject(TypePlayer, "Wiz", 0)
	if err != nil {
		t.Fatal(err)
	}
	if p.Owner != p.DBRef {
		t.Errorf("player owner = #%d, want self", p.Owner)
	}
	if db.LookupPlayer("wiz") != p.DBRef {
		t.Error("player name not registered")
	}
}

func TestNewHome(t *testing.T) {
	room := obj(0, TypeRoom, 1)
	player := obj(1, TypePlayer, 1)
	player.SetHome(0)
	other := obj(2, TypeRoom, 5) // not controlled by #1
	thing := obj(3, TypeThing, 1)
	thing.Location = 2
	start := obj(4, TypeRoom, 5)
	db := makeTestDB(room, player, other, thing, start)

	// Location not controlled: falls back to owner's home.
	if got := db.NewHome(3, HomePolicy{}); got != 0 {
		t.Errorf("NewHome = #%d, want #0 (owner's home)", got)
	}

	// Location abode: stays there.
	other.Flags[1] |= Flag2Abode
	if got := db.NewHome(3, HomePolicy{}); got != 2 {
		t.Errorf("NewHome = #%d, want #2 (abode location)", got)
	}

	// Nothing usable: policy chain.
	other.Flags[1] = 0
	player.SetHome(Nothing)
	room.Owner = 5
	if got := db.NewHome(3, HomePolicy{DefaultHome: Nothing, StartHome: 4, StartRoom: 0}); got != 4 {
		t.Errorf("NewHome = #%d, want #4 (start home)", got)
	}
}

func TestChainHelpersSurviveCycles(t *testing.T) {
	room := obj(0, TypeRoom, 1)
	a := obj(1, TypeThing, 1)
	b := obj(2, TypeThing, 1)
	room.Contents = 1
	a.Location, b.Location = 0, 0
	a.Next, b.Next = 2, 1 // cycle
	db := makeTestDB(room, a, b)

	members := db.ChainMembers(room.Contents)
	if len(members) != 2 {
		t.Fatalf("expected 2 members, got %v", members)
	}

	// Removing something not on the chain must terminate.
	room.Contents = db.RemoveFirst(room.Contents, 7)
	if room.Contents != 1 {
		t.Errorf("head changed to #%d", room.Contents)
	}
}

func TestMoveTo(t *testing.T) {
	r1 := obj(0, TypeRoom, 1)
	r2 := obj(1, TypeRoom, 1)
	th := obj(2, TypeThing, 1)
	db := makeTestDB(r1, r2, th)
	db.MoveTo(2, 0)
	if r1.Contents != 2 || th.Location != 0 {
		t.Fatal("thing not placed in room #0")
	}
	db.MoveTo(2, 1)
	if r1.Contents != Nothing {
		t.Error("thing still in room #0")
	}
	if r2.Contents != 2 || th.Location != 1 {
		t.Error("thing not placed in room #1")
	}
}

func TestRefList(t *testing.T) {
	o := obj(0, TypeThing, 1)
	o.SetAttr(AttrForwardList, "#3 #5 bogus #7")
	refs := o.RefList(AttrForwardList)
	want := []DBRef{3, 5, Nothing, 7}
	if len(refs) != len(want) {
		t.Fatalf("got %v, want %v", refs, want)
	}
	for i := range want {
		if refs[i] != want[i] {
			t.Errorf("slot %d = %v, want %v", i, refs[i], want[i])
		}
	}
	refs[1] = Nothing
	o.SetRefList(AttrForwardList, refs)
	if v, _ := o.GetAttr(AttrForwardList); v != "#3 #7" {
		t.Errorf("rewritten list = %q", v)
	}
}

func TestRecycleKeepsPointer(t *testing.T) {
	th := obj(2, TypeThing, 1)
	th.Name = "Widget"
	th.Pennies = 30
	th.SetAttr(AttrAlias, "w")
	th.Flags[1] = Flag2Key
	db := makeTestDB(obj(0, TypeRoom, 1), obj(1, TypePlayer, 1), th)

	db.Recycle(2)
	if db.Objects[2] != th {
		t.Fatal("Recycle replaced the object")
	}
	if !db.IsClean(2) {
		t.Errorf("recycled object not clean: %+v", th)
	}
	if th.Name != "" || th.Pennies != 0 || len(th.Attrs) != 0 || th.Flags[1] != 0 {
		t.Errorf("recycled object kept state: %+v", th)
	}
	if th.DBRef != 2 {
		t.Errorf("DBRef = %d", th.DBRef)
	}
}

func TestChownAll(t *testing.T) {
	victim := obj(2, TypePlayer, 2)
	a := obj(3, TypeThing, 2)
	a.Flags[0] |= FlagWizard
	b := obj(4, TypeRoom, 2)
	other := obj(5, TypeThing, 1)
	db := makeTestDB(obj(0, TypeRoom, 1), obj(1, TypePlayer, 1), victim, a, b, other)
	db.Grow(7)
	db.Objects[6].Owner = 2

	if n := db.ChownAll(2, 1); n != 2 {
		t.Fatalf("ChownAll = %d, want 2", n)
	}
	if a.Owner != 1 || b.Owner != 1 {
		t.Error("objects not transferred")
	}
	if victim.Owner != 2 || other.Owner != 1 {
		t.Error("victim or unrelated object changed")
	}
	if a.IsWizard() || !a.HasFlag(FlagHalt) {
		t.Errorf("flags after chown = %#x", a.Flags[0])
	}
	if db.Objects[6].Owner != 2 {
		t.Error("garbage should not be transferred")
	}
}

func TestAddQuota(t *testing.T) {
	p := obj(1, TypePlayer, 1)
	p.SetAttr(AttrRQuota, "10 2 3 4 1")

	p.AddQuota(TypeRoom, 1, true)
	if got, _ := p.GetAttr(AttrRQuota); got != "11 3 3 4 1" {
		t.Errorf("typed = %q", got)
	}
	p.AddQuota(TypeThing, 2, false)
	if got, _ := p.GetAttr(AttrRQuota); got != "13 3 3 4 1" {
		t.Errorf("untyped = %q", got)
	}

	fresh := obj(2, TypePlayer, 2)
	fresh.AddQuota(TypeExit, 1, true)
	if q := fresh.Quotas(AttrRQuota); q != [5]int{1, 0, 1, 0, 0} {
		t.Errorf("fresh quotas = %v", q)
	}
}
