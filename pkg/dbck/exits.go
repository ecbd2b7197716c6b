package dbck

import "github.com/crystal-mush/mushkeeper/pkg/gamedb"

// checkExitChains rethreads every exit list so each exit appears in exactly
// one list, the list of the room it names as its source. Exits left in no
// list are destroyed.
func (c *Checker) checkExitChains() {
	c.phase = PhaseExits
	c.clearMarks()
	db := c.db
	for i := gamedb.DBRef(0); int(i) < db.Top(); i++ {
		c.checkLocExits(i)
	}
	for i := gamedb.DBRef(0); int(i) < db.Top(); i++ {
		o := db.Objects[i]
		if o != nil && o.ObjType() == gamedb.TypeExit && !c.marked(i) {
			c.simpleErr(SevDestroy, i, gamedb.Nothing, "Disconnected exit.  Destroyed.")
			c.destroyObj(i)
		}
	}
}

// cutExits ends the exit list of loc after back, or empties it.
func (c *Checker) cutExits(loc, back gamedb.DBRef) {
	c.spliceExits(loc, back, gamedb.Nothing)
	c.reportStats().Truncations++
}

func (c *Checker) spliceExits(loc, back, next gamedb.DBRef) {
	if back != gamedb.Nothing {
		c.db.Objects[back].Next = next
	} else {
		c.db.Objects[loc].Exits = next
	}
}

func (c *Checker) checkLocExits(loc gamedb.DBRef) {
	db := c.db
	if !db.Good(loc) {
		return
	}
	l := db.Objects[loc]
	if l.ObjType() == gamedb.TypeExit || l.IsGoing() || c.marked(loc) {
		return
	}
	c.mark(loc)

	back := gamedb.Nothing
	exit := l.Exits
	for exit != gamedb.Nothing {
		if !db.Good(exit) {
			c.pointerErr(SevRepair, back, loc, gamedb.Nothing, exit, "Exit list", "is invalid.  List nulled.")
			c.cutExits(loc, back)
			break
		}
		e := db.Objects[exit]
		exitloc, dest := e.Exits, e.Location

		switch {
		case e.ObjType() != gamedb.TypeExit:
			c.pointerErr(SevRepair, back, loc, gamedb.Nothing, exit, "Exitlist member", "is not an exit.  List terminated.")
			c.cutExits(loc, back)
			exit = gamedb.Nothing
		case e.IsGoing():
			next := e.Next
			c.spliceExits(loc, back, next)
			c.destroyObj(exit)
			exit = next
			continue
		case c.marked(exit):
			c.pointerErr(SevRepair, back, loc, gamedb.Nothing, exit, "Exitlist member", "is in another exitlist.  Cleared.")
			c.cutExits(loc, back)
			exit = gamedb.Nothing
		case !db.Good(dest) && dest != gamedb.Home && dest != gamedb.Ambiguous && dest != gamedb.Nothing:
			c.pointerErr(SevRepair, back, loc, gamedb.Nothing, exit, "Destination", "is invalid.  Cleared.")
			e.Location = gamedb.Nothing
		case exitloc != loc:
			// The exit names another source. If that room's list holds it,
			// our list ran into theirs; otherwise the exit is ours.
			c.checkLocExits(exitloc)
			if c.marked(exit) {
				c.pointerErr(SevRepair, back, loc, gamedb.Nothing, exit, "", "is in another exitlist.  List terminated.")
				c.cutExits(loc, back)
				exit = gamedb.Nothing
			} else {
				c.headerErr(SevRepair, exit, loc, exitloc, "Not on chain for location", "Reset.")
				e.Exits = loc
			}
		}
		if exit == gamedb.Nothing {
			break
		}

		if c.opts.Full {
			destOwner := gamedb.Nothing
			if d := db.Get(e.Location); d != nil {
				destOwner = d.Owner
			}
			if e.Owner != l.Owner && e.Owner != destOwner {
				c.headerErr(SevAdvisory, exit, loc, e.Owner, "Owner", "does not own either the source or destination.")
			}
		}

		c.mark(exit)
		back = exit
		next := e.Next
		if next == exit {
			c.simpleErr(SevRepair, exit, loc, "Next points to self in exit chain. Next cleared.")
			e.Next = gamedb.Nothing
			break
		}
		exit = next
	}
}
