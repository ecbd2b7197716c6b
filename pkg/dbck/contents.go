package dbck

import "github.com/crystal-mush/mushkeeper/pkg/gamedb"

// checkContentsChains rethreads every contents list so each player and
// thing sits in exactly the list of the location it names. Anything found
// in no list is sent home.
func (c *Checker) checkContentsChains() {
	c.phase = PhaseContents
	c.clearMarks()
	c.walking = make(map[gamedb.DBRef]bool)
	db := c.db
	for i := gamedb.DBRef(0); int(i) < db.Top(); i++ {
		c.checkLocContents(i)
	}
	for i := gamedb.DBRef(0); int(i) < db.Top(); i++ {
		o := db.Objects[i]
		if o == nil || o.IsGoing() || c.marked(i) || !o.ObjType().HasLocation() {
			continue
		}
		c.simpleErr(SevRepair, i, o.Location, "Orphaned object, moved home.")
		if db.Good(o.Location) {
			// Only an unchecked (GOING) location can still list it.
			db.RemoveFromContents(o.Location, i)
		}
		o.Location = gamedb.Nothing
		o.Next = gamedb.Nothing
		db.MoveHome(i, c.opts.Homes)
		c.reportStats().Orphans++
	}
}

func (c *Checker) cutContents(loc, back gamedb.DBRef) {
	c.spliceContents(loc, back, gamedb.Nothing)
	c.reportStats().Truncations++
}

func (c *Checker) spliceContents(loc, back, next gamedb.DBRef) {
	if back != gamedb.Nothing {
		c.db.Objects[back].Next = next
	} else {
		c.db.Objects[loc].Contents = next
	}
}

// checkLocContents walks the contents of loc. Unlike exit lists, the
// location itself is not marked: a location may be walked again when a
// member elsewhere claims to be inside it.
func (c *Checker) checkLocContents(loc gamedb.DBRef) {
	db := c.db
	if !db.Good(loc) {
		return
	}
	l := db.Objects[loc]
	if l.ObjType() == gamedb.TypeExit || l.IsGoing() {
		return
	}
	if c.walking == nil {
		c.walking = make(map[gamedb.DBRef]bool)
	}
	c.walking[loc] = true
	defer delete(c.walking, loc)

	seen := make(map[gamedb.DBRef]bool)
	back := gamedb.Nothing
	obj := l.Contents
	for obj != gamedb.Nothing {
		if seen[obj] {
			c.pointerErr(SevRepair, back, loc, gamedb.Nothing, obj, "Contents list member", "Contents list cycle.  Cleared.")
			c.cutContents(loc, back)
			break
		}
		seen[obj] = true

		if o := db.Get(obj); o != nil && o.ObjType() == gamedb.TypeGarbage && o.IsGoing() {
			next := o.Next
			c.spliceContents(loc, back, next)
			c.destroyObj(obj)
			obj = next
			continue
		}

		switch {
		case !db.Good(obj):
			c.pointerErr(SevRepair, back, loc, gamedb.Nothing, obj, "Contents list", "is invalid.  Cleared.")
			c.cutContents(loc, back)
			obj = gamedb.Nothing
		case !db.Objects[obj].ObjType().HasLocation():
			c.pointerErr(SevRepair, back, loc, gamedb.Nothing, obj, "Contents list member", "is not a player or thing.  Cleared.")
			c.cutContents(loc, back)
			obj = gamedb.Nothing
		case db.Objects[obj].Location != loc:
			// Marked or not, a member naming another location is either
			// ours or the tail of someone else's list.
			obj = c.checkMisplaced(obj, back, loc)
		}
		if obj == gamedb.Nothing {
			break
		}

		o := db.Objects[obj]
		if c.opts.Full {
			c.checkWizardContainment(obj, o, loc, l)
		}

		c.mark(obj)
		back = obj
		next := o.Next
		if next == obj {
			c.simpleErr(SevRepair, obj, loc, "Next points to self in contents chain. Next cleared.")
			o.Next = gamedb.Nothing
			break
		}
		obj = next
	}
}

// checkMisplaced settles a member of loc's list that names another
// location. The claimed location is walked first; if the member turns up
// there, loc's list is cut before it. Otherwise the member's location is
// reset to loc. A claimed location already being walked further up the
// stack is not walked again: its walk holds the member only if it has
// marked it so far.
func (c *Checker) checkMisplaced(obj, back, loc gamedb.DBRef) gamedb.DBRef {
	db := c.db
	o := db.Objects[obj]
	claimed := o.Location

	if !c.walking[claimed] {
		c.unmark(obj)
		if db.Good(claimed) {
			c.checkLocContents(claimed)
		}
	}

	if c.marked(obj) {
		c.pointerErr(SevRepair, back, loc, gamedb.Nothing, obj, "", "is in another contents list.  Cleared.")
		c.cutContents(loc, back)
		return gamedb.Nothing
	}
	c.headerErr(SevRepair, obj, claimed, claimed, "Location", "is invalid.  Reset.")
	o.Location = loc
	return obj
}

func (c *Checker) checkWizardContainment(obj gamedb.DBRef, o *gamedb.Object, loc gamedb.DBRef, l *gamedb.Object) {
	if o.IsWizard() && !l.IsWizard() && o.HasFlag2(gamedb.Flag2HasCommands) {
		c.simpleErr(SevAdvisory, obj, loc, "Wizard command handling object inside nonwizard.")
	}
	if l.IsWizard() && !o.IsWizard() {
		if ow := c.db.Get(o.Owner); ow == nil || !ow.IsWizard() {
			c.simpleErr(SevAdvisory, obj, loc, "Nonwizard object inside wizard.")
		}
	}
}
