package dbck

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/crystal-mush/mushkeeper/pkg/gamedb"
)

// purgeGoing destroys everything still marked GOING.
func (c *Checker) purgeGoing() {
	c.phase = PhasePurge
	db := c.db
	for i := gamedb.DBRef(0); int(i) < db.Top(); i++ {
		o := db.Objects[i]
		if o == nil || !o.IsGoing() {
			continue
		}
		switch o.ObjType() {
		case gamedb.TypePlayer:
			c.destroyPlayer(i)
		case gamedb.TypeRoom:
			c.emptyObj(i)
			c.destroyObj(i)
		case gamedb.TypeThing:
			c.destroyThing(i)
		case gamedb.TypeExit:
			c.destroyExit(i)
		case gamedb.TypeGarbage:
		default:
			c.simpleErr(SevDestroy, i, gamedb.Nothing, "GOING object with unexpected type.  Destroyed.")
			c.destroyObj(i)
		}
	}
	c.sweepDestroyed()
}

// sweepDestroyed clears references to objects destroyed during this pass,
// which the earlier phases saw as live.
func (c *Checker) sweepDestroyed() {
	db := c.db
	for i := gamedb.DBRef(0); int(i) < db.Top(); i++ {
		o := db.Objects[i]
		if o == nil || o.ObjType() == gamedb.TypeGarbage {
			continue
		}
		c.deadRef(i, "Parent", o.Parent, func(r gamedb.DBRef) { o.Parent = r }, nothing)
		c.deadRef(i, "Zone", o.Zone, func(r gamedb.DBRef) { o.Zone = r }, nothing)
		if kind := o.ObjType(); kind == gamedb.TypePlayer || kind == gamedb.TypeThing {
			c.deadRef(i, "Home", o.Home(), o.SetHome, func() gamedb.DBRef {
				return db.NewHome(i, c.opts.Homes)
			})
		}
		if !db.Good(o.Owner) {
			c.headerErr(SevRepair, i, gamedb.Nothing, o.Owner, "Owner", "is invalid.  Set to GOD.")
			c.reown(i, o)
		}
	}
}

func (c *Checker) destroyExit(exit gamedb.DBRef) {
	c.db.RemoveExit(exit)
	c.destroyObj(exit)
}

func (c *Checker) destroyThing(thing gamedb.DBRef) {
	c.db.MoveTo(thing, gamedb.Nothing)
	c.emptyObj(thing)
	c.destroyObj(thing)
}

// destroyPlayer hands the victim's objects to its heir, the player named in
// its DESTROYER attribute or God, then destroys it.
func (c *Checker) destroyPlayer(victim gamedb.DBRef) {
	db := c.db
	v := db.Objects[victim]

	heir := db.God
	if s, ok := v.GetAttr(gamedb.AttrDestroyer); ok {
		if n, err := strconv.Atoi(strings.TrimPrefix(strings.TrimSpace(s), "#")); err == nil {
			if ref := gamedb.DBRef(n); ref != victim && db.GoodOwner(ref) {
				heir = ref
			}
		}
	}

	c.env.Boot(victim, "You have been destroyed!")
	c.env.Halt(victim)
	count := db.ChownAll(victim, heir)

	db.DeletePlayerName(victim, v.Name)
	if aliases, ok := v.GetAttr(gamedb.AttrAlias); ok {
		for _, a := range strings.Split(aliases, ";") {
			if a != "" {
				db.DeletePlayerName(victim, a)
			}
		}
	}

	db.MoveTo(victim, gamedb.Nothing)
	c.emptyObj(victim)
	c.env.DestroyPlayerHooks(heir, victim)
	c.destroyObj(victim)
	c.env.Notify(heir, fmt.Sprintf("(%d objects @chowned to you)", count))
}

// emptyObj sends the contents of a GOING location home and destroys its
// exits. A member that does not belong stops the flush; the chain checks
// have already had their chance to fix it.
func (c *Checker) emptyObj(obj gamedb.DBRef) {
	db := c.db
	o := db.Objects[obj]

	seen := make(map[gamedb.DBRef]bool)
	var next gamedb.DBRef
	for targ := o.Contents; targ != gamedb.Nothing; targ = next {
		t := db.Get(targ)
		if t == nil || seen[targ] {
			break
		}
		seen[targ] = true
		next = t.Next
		if next == targ {
			break
		}
		if !t.ObjType().HasLocation() {
			c.simpleErr(SevRepair, targ, obj, "Funny object type in contents list of GOING location. Flush terminated.")
			break
		}
		if t.Location != obj {
			c.headerErr(SevRepair, targ, obj, t.Location, "Location",
				"indicates object really in another location during cleanup of GOING location.  Flush terminated.")
			break
		}
		t.Location = gamedb.Nothing
		t.Next = gamedb.Nothing
		if t.Home() == obj {
			t.SetHome(db.NewHome(targ, c.opts.Homes))
		}
		db.MoveHome(targ, c.opts.Homes)
		c.divest(targ)
	}
	o.Contents = gamedb.Nothing

	clear(seen)
	for targ := o.Exits; targ != gamedb.Nothing; targ = next {
		t := db.Get(targ)
		if t == nil || t.ObjType() == gamedb.TypeGarbage || seen[targ] {
			break
		}
		seen[targ] = true
		next = t.Next
		if next == targ {
			break
		}
		if t.ObjType() != gamedb.TypeExit {
			c.simpleErr(SevRepair, targ, obj, "Funny object type in exit list of GOING location. Flush terminated.")
			break
		}
		if t.Exits != obj {
			c.headerErr(SevRepair, targ, obj, t.Exits, "Location",
				"indicates exit really in another location during cleanup of GOING location.  Flush terminated.")
			break
		}
		c.destroyObj(targ)
	}
	o.Exits = gamedb.Nothing
}

// divest sends home any KEY objects thing carries but does not control.
func (c *Checker) divest(thing gamedb.DBRef) {
	db := c.db
	for _, curr := range db.ChainMembers(db.Objects[thing].Contents) {
		o := db.Objects[curr]
		if !db.Controls(thing, curr) && o.ObjType().HasLocation() && o.HasFlag2(gamedb.Flag2Key) {
			db.MoveHome(curr, c.opts.Homes)
		}
	}
}

// destroyObj refunds the owner and turns obj into clean garbage. The caller
// has already unlinked obj from any chain.
func (c *Checker) destroyObj(obj gamedb.DBRef) {
	db := c.db
	o := db.Get(obj)
	if o == nil || o.ObjType() == gamedb.TypeGarbage {
		return
	}
	owner := o.Owner
	goodOwner := db.GoodOwner(owner)

	if c.env.Halt(obj) > 0 && goodOwner && !o.IsQuiet() && !db.Objects[owner].IsQuiet() {
		c.env.Notify(owner, "Halted.")
	}
	c.env.Drain(obj)
	c.env.ClearAux(obj)
	c.env.DestroyHooks(gamedb.Nothing, obj)

	if goodOwner && owner != obj {
		costs := c.opts.Costs
		val, quota := 0, 0
		kind := o.ObjType()
		switch kind {
		case gamedb.TypeRoom:
			val, quota = costs.DigCost, costs.RoomQuota
		case gamedb.TypeThing:
			val, quota = costs.Deposit(o.Pennies), costs.ThingQuota
		case gamedb.TypeExit:
			val, quota = costs.OpenCost, costs.ExitQuota
		case gamedb.TypePlayer:
			if o.HasFlag(gamedb.FlagRobot) {
				val = costs.RobotCost
			}
			quota = costs.PlayerQuota
		}
		ow := db.Objects[owner]
		ow.Pennies += val
		c.env.Quota(owner, quota, kind)
		if !ow.IsQuiet() && !o.IsQuiet() {
			c.env.Notify(owner, fmt.Sprintf("You get back your %d %s deposit for %s(#%d).",
				val, costs.OneCoin, o.Name, obj))
		}
	}

	db.Recycle(obj)
	c.reportStats().Destroyed++
}
