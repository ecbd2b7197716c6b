package dbck

import (
	"fmt"

	"github.com/crystal-mush/mushkeeper/pkg/gamedb"
)

// checkDeadRefs visits every object and repairs references to objects that
// no longer exist or are being destroyed.
func (c *Checker) checkDeadRefs() {
	c.phase = PhaseDeadRefs
	db := c.db
	for i := gamedb.DBRef(0); int(i) < db.Top(); i++ {
		o := db.Objects[i]
		if o == nil {
			continue
		}

		c.deadRef(i, "Parent", o.Parent, func(r gamedb.DBRef) { o.Parent = r }, nothing)
		c.deadRef(i, "Zone", o.Zone, func(r gamedb.DBRef) { o.Zone = r }, nothing)

		switch o.ObjType() {
		case gamedb.TypePlayer, gamedb.TypeThing:
			if !o.IsGoing() {
				c.checkLocated(i, o)
			}
		case gamedb.TypeRoom:
			c.checkRoom(i, o)
		case gamedb.TypeExit:
			c.checkExit(i, o)
		case gamedb.TypeGarbage, gamedb.TypeZone:
		default:
			c.simpleErr(SevDestroy, i, gamedb.Nothing, "Funny object type.  Destroyed.")
			c.destroyObj(i)
		}

		c.selfNext(i, o)
		c.checkRefList(i, o, gamedb.AttrForwardList, "Forwardlist")
		c.checkRefList(i, o, gamedb.AttrPropDir, "Propdir")
		c.checkOwner(i, o)
	}
}

func nothing() gamedb.DBRef { return gamedb.Nothing }

// deadRef clears a reference held in one field of obj. A reference to a
// GOING object is replaced quietly; the owner hears about it in a running
// game. A reference to anything else that is not a live object is logged
// and replaced.
func (c *Checker) deadRef(obj gamedb.DBRef, field string, targ gamedb.DBRef, set func(gamedb.DBRef), reset func() gamedb.DBRef) {
	db := c.db
	o := db.Objects[obj]
	if db.Good(targ) {
		if !db.Objects[targ].IsGoing() {
			return
		}
		set(reset())
		if c.opts.Standalone {
			c.headerErr(SevRepair, obj, o.Location, targ, field, "is invalid.  Cleared.")
		} else {
			c.notifyOwner(obj, fmt.Sprintf("%s cleared on %s(#%d)", field, o.Name, obj))
		}
		return
	}
	if targ != gamedb.Nothing {
		c.headerErr(SevRepair, obj, o.Location, targ, field, "is invalid.  Cleared.")
		set(reset())
	}
}

// checkLocated handles players and things.
func (c *Checker) checkLocated(i gamedb.DBRef, o *gamedb.Object) {
	db := c.db
	c.deadRef(i, "Home", o.Home(), o.SetHome, func() gamedb.DBRef {
		return db.NewHome(i, c.opts.Homes)
	})

	if !db.Good(o.Location) {
		c.pointerErr(SevRepair, gamedb.Nothing, i, gamedb.Nothing, o.Location, "Location", "is invalid.  Moved to home.")
		o.Location = gamedb.Nothing
		o.Next = gamedb.Nothing
		db.MoveHome(i, c.opts.Homes)
	}

	if c.opts.Full {
		limit := c.opts.Costs.Endowment(c.opts.Costs.CreateMax)
		if o.ObjType().OwnsOthers() {
			c.checkPennies(i, o, limit+c.opts.Costs.PayLimit, "Wealth")
		} else {
			c.checkPennies(i, o, limit, "Value")
		}
	}
}

func (c *Checker) checkRoom(i gamedb.DBRef, o *gamedb.Object) {
	if o.Dropto() != gamedb.Home {
		c.deadRef(i, "Dropto", o.Dropto(), o.SetDropto, nothing)
	}
	if !c.opts.Full {
		return
	}
	if o.Next != gamedb.Nothing {
		c.headerErr(SevRepair, i, gamedb.Nothing, o.Next, "Next pointer", "should be NOTHING.  Reset.")
		o.Next = gamedb.Nothing
	}
	if o.Link != gamedb.Nothing {
		c.headerErr(SevRepair, i, gamedb.Nothing, o.Link, "Link pointer", "should be NOTHING.  Reset.")
		o.Link = gamedb.Nothing
	}
	c.checkPennies(i, o, 1, "Value")
}

func (c *Checker) checkExit(i gamedb.DBRef, o *gamedb.Object) {
	db := c.db
	dest := o.Location
	switch {
	case db.Good(dest):
		d := db.Objects[dest]
		if d.IsGoing() {
			o.SetFlag(gamedb.FlagGoing, true)
		} else if !d.ObjType().HasContents() {
			c.headerErr(SevDestroy, i, o.Exits, dest, "Destination", "is not a valid type.  Exit destroyed.")
			o.SetFlag(gamedb.FlagGoing, true)
		}
	case dest == gamedb.Home || dest == gamedb.Ambiguous || dest == gamedb.Nothing:
	default:
		c.headerErr(SevDestroy, i, o.Exits, dest, "Destination", "is invalid.  Exit destroyed.")
		o.SetFlag(gamedb.FlagGoing, true)
	}

	if !c.opts.Full {
		return
	}
	if o.Contents != gamedb.Nothing {
		c.headerErr(SevRepair, i, o.Exits, o.Contents, "Contents", "should be NOTHING.  Reset.")
		o.Contents = gamedb.Nothing
	}
	if o.Link != gamedb.Nothing {
		c.headerErr(SevRepair, i, o.Exits, o.Link, "Link", "should be NOTHING.  Reset.")
		o.Link = gamedb.Nothing
	}
	c.checkPennies(i, o, 1, "Value")
}

func (c *Checker) selfNext(i gamedb.DBRef, o *gamedb.Object) {
	if o.Next == i {
		c.simpleErr(SevRepair, i, gamedb.Nothing, "Next points to self.  Next cleared.")
		o.Next = gamedb.Nothing
	}
}

// checkPennies logs implausible values. Rooms and exits carry no value, so
// anything there is reset.
func (c *Checker) checkPennies(i gamedb.DBRef, o *gamedb.Object, limit int, qual string) {
	if o.IsGoing() {
		return
	}
	j := o.Pennies
	switch kind := o.ObjType(); {
	case kind == gamedb.TypeRoom || kind == gamedb.TypeExit:
		if j != 0 {
			c.valueErr(SevRepair, i, j, qual, "is strange.  Reset.")
			o.Pennies = 0
		}
	case j == 0:
		c.valueErr(SevAdvisory, i, j, qual, "is zero.")
	case j < 0:
		c.valueErr(SevAdvisory, i, j, qual, "is negative.")
	case j > limit:
		c.valueErr(SevAdvisory, i, j, qual, "is excessive.")
	}
}

// checkRefList nulls forward list and property directory slots that name
// dead objects and rewrites the attribute if anything changed.
func (c *Checker) checkRefList(i gamedb.DBRef, o *gamedb.Object, attr int, label string) {
	refs := o.RefList(attr)
	dirty := false
	for j, targ := range refs {
		if c.db.Good(targ) && c.db.Objects[targ].IsGoing() || !c.db.Good(targ) && targ != gamedb.Nothing {
			refs[j] = gamedb.Nothing
			dirty = true
		}
	}
	if dirty {
		o.SetRefList(attr, refs)
		c.simpleErr(SevRepair, i, gamedb.Nothing, label+" entries to dead objects cleared.")
	}
}

func (c *Checker) checkOwner(i gamedb.DBRef, o *gamedb.Object) {
	db := c.db
	owner := o.Owner
	if !db.Good(owner) {
		c.headerErr(SevRepair, i, gamedb.Nothing, owner, "Owner", "is invalid.  Set to GOD.")
		c.reown(i, o)
	} else if c.opts.Full {
		ow := db.Objects[owner]
		switch {
		case ow.IsGoing():
			c.headerErr(SevRepair, i, gamedb.Nothing, owner, "Owner", "is set GOING.  Set to GOD.")
			c.reown(i, o)
		case !ow.ObjType().OwnsOthers():
			c.headerErr(SevAdvisory, i, gamedb.Nothing, owner, "Owner", "is not a valid owner type.")
		case o.ObjType() == gamedb.TypePlayer && owner != i:
			c.headerErr(SevAdvisory, i, gamedb.Nothing, owner, "Player", "is the owner instead of the player.")
		}
	}

	if c.opts.Full && o.IsWizard() {
		if o.ObjType() == gamedb.TypePlayer {
			c.simpleErr(SevAdvisory, i, gamedb.Nothing, "Player is a WIZARD.")
		}
		if ow := db.Get(o.Owner); ow == nil || !ow.IsWizard() {
			c.headerErr(SevAdvisory, i, gamedb.Nothing, o.Owner, "Owner", "of a WIZARD object is not a wizard")
		}
	}
}

// reown hands i to God and stops anything it was running.
func (c *Checker) reown(i gamedb.DBRef, o *gamedb.Object) {
	o.Owner = c.db.God
	if !c.opts.Standalone {
		c.env.Halt(i)
	}
	o.SetFlag(gamedb.FlagHalt, true)
}
