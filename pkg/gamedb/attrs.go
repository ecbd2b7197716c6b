package gamedb

// AttrLock holds an object's default lock. Dumps that predate lock
// attributes carry it in the object header instead.
const AttrLock = 42

// AttrUserStart is the first number handed to user-defined attributes.
const AttrUserStart = 256

// AttrDef is a user-defined attribute name from the +A section of a dump.
type AttrDef struct {
	Name  string
	Flags int
}

// AddAttrDef registers a user-defined attribute and keeps NextAttr past it.
func (db *Database) AddAttrDef(num int, name string, flags int) {
	if db.AttrDefs == nil {
		db.AttrDefs = make(map[int]AttrDef)
	}
	db.AttrDefs[num] = AttrDef{Name: name, Flags: flags}
	if num >= db.NextAttr {
		db.NextAttr = num + 1
	}
}
