package gamedb

import "time"

// DBRef is the fundamental object reference type in MUSH.
type DBRef int

const (
	Nothing   DBRef = -1
	Ambiguous DBRef = -2
	Home      DBRef = -3
	NoPerm    DBRef = -4
)

// ObjectType represents the type of a MUSH object.
type ObjectType int

const (
	TypeRoom    ObjectType = 0
	TypeThing   ObjectType = 1
	TypeExit    ObjectType = 2
	TypePlayer  ObjectType = 3
	TypeZone    ObjectType = 4
	TypeGarbage ObjectType = 5
)

func (t ObjectType) String() string {
	switch t {
	case TypeRoom:
		return "ROOM"
	case TypeThing:
		return "THING"
	case TypeExit:
		return "EXIT"
	case TypePlayer:
		return "PLAYER"
	case TypeZone:
		return "ZONE"
	case TypeGarbage:
		return "GARBAGE"
	default:
		return "??ILLEGAL??"
	}
}

const TypeMask = 0x7

// Flag constants - first word
const (
	FlagWizard    = 0x00000010
	FlagDark      = 0x00000040
	FlagQuiet     = 0x00000800
	FlagHalt      = 0x00001000
	FlagGoing     = 0x00004000
	FlagInherit   = 0x02000000
	FlagRobot     = 0x08000000
	FlagImmortal  = 0x00200000
	FlagDestroyOK = 0x00000200
)

// Flag constants - second word
const (
	Flag2Key         = 0x00000001
	Flag2Abode       = 0x00000002
	Flag2HasFwd      = 0x00000080
	Flag2Connected   = 0x00000200
	Flag2HasCommands = 0x00200000
)

// Power constants - second word (Powers[1])
const (
	Pow2LinkHome = 0x00000020
)

// Attribute numbers the object layer itself reads or rewrites.
const (
	AttrAlias       = 58
	AttrForwardList = 95
	AttrDestroyer   = 212
	AttrPropDir     = 231
)

// Attribute represents a single attribute on an object.
type Attribute struct {
	Number int
	Value  string
}

// Object represents a MUSH database object.
//
// Link is overloaded by kind: it is the home of a player or thing, the
// dropto of a room, and the freelist link of garbage. An exit keeps its
// destination in Location and its source room in Exits.
type Object struct {
	DBRef      DBRef
	Name       string
	Location   DBRef
	Zone       DBRef
	Contents   DBRef
	Exits      DBRef
	Link       DBRef
	Next       DBRef
	Owner      DBRef
	Parent     DBRef
	Pennies    int
	Flags      [3]int
	Powers     [2]int
	LastAccess time.Time
	LastMod    time.Time
	Attrs      []Attribute
}

// ObjType returns the object type from the flags.
func (o *Object) ObjType() ObjectType {
	return ObjectType(o.Flags[0] & TypeMask)
}

// HasFlag checks if a flag bit is set in the first flag word.
func (o *Object) HasFlag(flag int) bool {
	return o.Flags[0]&flag != 0
}

// HasFlag2 checks if a flag bit is set in the second flag word.
func (o *Object) HasFlag2(flag int) bool {
	return o.Flags[1]&flag != 0
}

// SetFlag sets or clears a bit in the first flag word.
func (o *Object) SetFlag(flag int, set bool) {
	if set {
		o.Flags[0] |= flag
	} else {
		o.Flags[0] &^= flag
	}
}

// HasPower checks if a power bit is set in the given power word (0 or 1).
func (o *Object) HasPower(word, bit int) bool {
	if word < 0 || word > 1 {
		return false
	}
	return o.Powers[word]&bit != 0
}

// IsGoing returns true if the object is marked for destruction.
func (o *Object) IsGoing() bool {
	return o.HasFlag(FlagGoing)
}

func (o *Object) IsWizard() bool { return o.HasFlag(FlagWizard) }
func (o *Object) IsQuiet() bool  { return o.HasFlag(FlagQuiet) }

// Home returns the home of a player or thing.
func (o *Object) Home() DBRef { return o.Link }

// SetHome sets the home of a player or thing.
func (o *Object) SetHome(ref DBRef) { o.Link = ref }

// Dropto returns the dropto of a room. Rooms have no location, so the
// dropto lives there and Link stays NOTHING.
func (o *Object) Dropto() DBRef { return o.Location }

// SetDropto sets the dropto of a room.
func (o *Object) SetDropto(ref DBRef) { o.Location = ref }

// GetAttr returns the value of attribute num and whether it is set.
func (o *Object) GetAttr(num int) (string, bool) {
	for _, a := range o.Attrs {
		if a.Number == num {
			return a.Value, true
		}
	}
	return "", false
}

// SetAttr sets attribute num, removing it when value is empty.
func (o *Object) SetAttr(num int, value string) {
	for i, a := range o.Attrs {
		if a.Number == num {
			if value == "" {
				o.Attrs = append(o.Attrs[:i], o.Attrs[i+1:]...)
			} else {
				o.Attrs[i].Value = value
			}
			return
		}
	}
	if value != "" {
		o.Attrs = append(o.Attrs, Attribute{Number: num, Value: value})
	}
}

// clearLinks resets every graph field to Nothing.
func (o *Object) clearLinks() {
	o.Location = Nothing
	o.Contents = Nothing
	o.Exits = Nothing
	o.Next = Nothing
	o.Link = Nothing
	o.Parent = Nothing
	o.Zone = Nothing
}
