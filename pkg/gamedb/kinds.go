package gamedb

import "fmt"

// RefKind classifies a DBRef so callers can switch over the sentinel
// values instead of comparing magic integers.
type RefKind int

const (
	RefInvalid RefKind = iota // negative and not a known sentinel
	RefObject
	RefNothing
	RefAmbiguous
	RefHome
	RefNoPerm
)

// Kind reports which variant of reference r is. RefObject says nothing about
// whether the object exists; use Database.Good for that.
func (r DBRef) Kind() RefKind {
	switch {
	case r >= 0:
		return RefObject
	case r == Nothing:
		return RefNothing
	case r == Ambiguous:
		return RefAmbiguous
	case r == Home:
		return RefHome
	case r == NoPerm:
		return RefNoPerm
	}
	return RefInvalid
}

func (r DBRef) String() string {
	return fmt.Sprintf("#%d", int(r))
}

// Capability bits, one per field an object kind is allowed to use.
type Capability int

const (
	CapContents Capability = 1 << iota
	CapLocation
	CapExits
	CapHome
	CapDropto
	CapOwner
	CapSiblings
)

var kindCaps = [TypeMask + 1]Capability{
	TypeRoom:    CapContents | CapExits | CapDropto | CapHome,
	TypeThing:   CapContents | CapLocation | CapExits | CapHome | CapSiblings,
	TypeExit:    CapSiblings,
	TypePlayer:  CapContents | CapLocation | CapExits | CapHome | CapOwner | CapSiblings,
	TypeZone:    0,
	TypeGarbage: 0,
}

// Caps returns the capability set of kind t. Corrupt kinds have none.
func (t ObjectType) Caps() Capability {
	if t < 0 || int(t) >= len(kindCaps) {
		return 0
	}
	return kindCaps[t]
}

// Valid reports whether t is one of the six kinds the database knows.
func (t ObjectType) Valid() bool {
	return t >= TypeRoom && t <= TypeGarbage
}

func (t ObjectType) HasContents() bool { return t.Caps()&CapContents != 0 }
func (t ObjectType) HasLocation() bool { return t.Caps()&CapLocation != 0 }
func (t ObjectType) HasExits() bool    { return t.Caps()&CapExits != 0 }
func (t ObjectType) HomeOK() bool      { return t.Caps()&CapHome != 0 }
func (t ObjectType) HasDropto() bool   { return t.Caps()&CapDropto != 0 }
func (t ObjectType) OwnsOthers() bool  { return t.Caps()&CapOwner != 0 }
