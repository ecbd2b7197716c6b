package gamedb

import (
	"errors"
	"log"
	"strings"
)

// ErrBuildingLimit is returned by CreateObject when the table may not grow.
var ErrBuildingLimit = errors.New("gamedb: the database building limit has been reached")

// Database holds the object table. Objects is dense: the object with
// reference n lives at Objects[n], and len(Objects) is the table top.
type Database struct {
	Version       int
	Format        int
	Flags         int
	NextAttr      int
	RecordPlayers int

	Objects  []*Object
	Freelist DBRef
	God      DBRef

	// AttrDefs holds user-defined attribute names by number.
	AttrDefs map[int]AttrDef

	// BuildingLimit caps the table size when the freelist is empty. Zero
	// means unlimited.
	BuildingLimit int

	// names maps lowercased player names and aliases to players.
	names map[string]DBRef
}

// NewDatabase creates an empty Database.
func NewDatabase() *Database {
	return &Database{
		Freelist: Nothing,
		God:      1,
		names:    make(map[string]DBRef),
	}
}

// Top returns the number of slots in the table (db_top).
func (db *Database) Top() int { return len(db.Objects) }

// InRange reports whether ref indexes a slot of the table.
func (db *Database) InRange(ref DBRef) bool {
	return ref >= 0 && int(ref) < len(db.Objects) && db.Objects[ref] != nil
}

// Good reports whether ref is in range and holds a live kind (anything
// below Garbage).
func (db *Database) Good(ref DBRef) bool {
	return db.InRange(ref) && db.Objects[ref].ObjType() < TypeGarbage
}

// GoodOwner reports whether ref is good and of a kind that may own others.
func (db *Database) GoodOwner(ref DBRef) bool {
	return db.Good(ref) && db.Objects[ref].ObjType().OwnsOthers()
}

// GoodHome reports whether ref is good and of a kind that may be a home.
func (db *Database) GoodHome(ref DBRef) bool {
	return db.Good(ref) && db.Objects[ref].ObjType().HomeOK()
}

// Get returns the object at ref, or nil when ref is out of range.
func (db *Database) Get(ref DBRef) *Object {
	if !db.InRange(ref) {
		return nil
	}
	return db.Objects[ref]
}

// Put stores obj at obj.DBRef, growing the table when needed, and indexes a
// player's name and aliases. Loaders use it.
func (db *Database) Put(obj *Object) {
	if obj.DBRef < 0 {
		return
	}
	if int(obj.DBRef) >= len(db.Objects) {
		db.Grow(int(obj.DBRef) + 1)
	}
	db.Objects[obj.DBRef] = obj
	if obj.ObjType() == TypePlayer {
		db.AddPlayerName(obj.DBRef, obj.Name)
		if alias, ok := obj.GetAttr(AttrAlias); ok {
			for _, a := range strings.Split(alias, ";") {
				db.AddPlayerName(obj.DBRef, strings.TrimSpace(a))
			}
		}
	}
}

// Grow extends the table to n slots. New slots hold garbage.
func (db *Database) Grow(n int) {
	for i := len(db.Objects); i < n; i++ {
		db.Objects = append(db.Objects, newGarbage(DBRef(i), db.God))
	}
}

// Trim shrinks the table to n slots.
func (db *Database) Trim(n int) {
	if n < 0 || n >= len(db.Objects) {
		return
	}
	for i := n; i < len(db.Objects); i++ {
		db.Objects[i] = nil
	}
	db.Objects = db.Objects[:n]
}

func newGarbage(ref, god DBRef) *Object {
	o := &Object{}
	o.wipe(ref, god)
	return o
}

func (o *Object) wipe(ref, god DBRef) {
	*o = Object{DBRef: ref, Owner: god}
	o.clearLinks()
	o.Flags[0] = int(TypeGarbage) | FlagGoing
}

// Recycle turns ref into clean garbage in place: name, attributes, flags,
// powers and value are dropped, every link is Nothing and God owns it.
// Pointers to the object stay valid.
func (db *Database) Recycle(ref DBRef) {
	if o := db.Get(ref); o != nil {
		o.wipe(ref, db.God)
	}
}

// ChownAll gives every live object owned by from, other than from itself,
// to to. Transferred objects lose WIZARD and INHERIT and are set HALT. It
// returns the number of objects transferred.
func (db *Database) ChownAll(from, to DBRef) int {
	n := 0
	for i, o := range db.Objects {
		if o == nil || DBRef(i) == from || o.Owner != from || o.ObjType() == TypeGarbage {
			continue
		}
		o.Owner = to
		o.Flags[0] &^= FlagWizard | FlagInherit
		o.Flags[0] |= FlagHalt
		n++
	}
	return n
}

// Name returns the display name of ref the way log lines print it.
func (db *Database) Name(ref DBRef) string {
	if !db.InRange(ref) {
		switch ref.Kind() {
		case RefNothing:
			return "*NOTHING*"
		case RefHome:
			return "*HOME*"
		case RefAmbiguous:
			return "*VARIABLE*"
		}
		return "??OUT-OF-RANGE??"
	}
	return db.Objects[ref].Name + "(" + ref.String() + ")"
}

// TypeName returns the kind name of ref for log lines.
func (db *Database) TypeName(ref DBRef) string {
	if !db.InRange(ref) {
		return "??OUT-OF-RANGE??"
	}
	return db.Objects[ref].ObjType().String()
}

// Controls reports whether who may modify what. Wizards control everything,
// otherwise ownership decides.
func (db *Database) Controls(who, what DBRef) bool {
	if !db.Good(who) || !db.Good(what) {
		return false
	}
	w := db.Objects[who]
	if w.IsWizard() || db.Good(w.Owner) && db.Objects[w.Owner].IsWizard() {
		return true
	}
	return w.Owner == db.Objects[what].Owner
}

// AddPlayerName registers name as a lookup key for player.
func (db *Database) AddPlayerName(player DBRef, name string) {
	if name == "" {
		return
	}
	if db.names == nil {
		db.names = make(map[string]DBRef)
	}
	db.names[lower(name)] = player
}

// DeletePlayerName removes name if it currently maps to player.
func (db *Database) DeletePlayerName(player DBRef, name string) {
	key := lower(name)
	if db.names[key] == player {
		delete(db.names, key)
	}
}

// LookupPlayer resolves a player name or alias.
func (db *Database) LookupPlayer(name string) DBRef {
	if ref, ok := db.names[lower(name)]; ok {
		return ref
	}
	return Nothing
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// IsClean reports whether ref is clean garbage: kind Garbage with GOING
// set, owned by God, and detached from every chain.
func (db *Database) IsClean(ref DBRef) bool {
	if !db.InRange(ref) {
		return false
	}
	o := db.Objects[ref]
	return o.ObjType() == TypeGarbage && o.IsGoing() &&
		o.Location == Nothing && o.Contents == Nothing &&
		o.Exits == Nothing && o.Next == Nothing && o.Owner == db.God
}

// CreateObject allocates a slot for a new object, reusing the freelist head
// when it is clean. A damaged freelist is discarded and the table grows
// instead.
func (db *Database) CreateObject(kind ObjectType, name string, owner DBRef) (*Object, error) {
	if db.BuildingLimit > 0 && db.Top()+1 >= db.BuildingLimit && db.Freelist == Nothing {
		return nil, ErrBuildingLimit
	}

	ref := Nothing
	if db.Freelist != Nothing {
		ref = db.Freelist
		if db.IsClean(ref) {
			db.Freelist = db.Objects[ref].Link
		} else {
			log.Printf("gamedb: FRL/DAMAG Freelist damaged, bad object #%d.", int(ref))
			ref = Nothing
			db.Freelist = Nothing
		}
	}
	if ref == Nothing {
		ref = DBRef(db.Top())
		db.Grow(db.Top() + 1)
	}

	obj := &Object{DBRef: ref, Name: name}
	obj.clearLinks()
	obj.Flags[0] = int(kind)
	if kind == TypePlayer {
		obj.Owner = ref
		db.AddPlayerName(ref, name)
	} else {
		obj.Owner = owner
	}
	db.Objects[ref] = obj
	return obj, nil
}
