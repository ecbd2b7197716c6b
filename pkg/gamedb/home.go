package gamedb

// HomePolicy is the configured fallback chain used when an object needs a
// new home.
type HomePolicy struct {
	DefaultHome DBRef
	StartHome   DBRef
	StartRoom   DBRef
}

// CanSetHome reports whether player may set thing's home to home.
func (db *Database) CanSetHome(player, thing, home DBRef) bool {
	if !db.Good(player) || !db.Good(home) || thing == home {
		return false
	}
	h := db.Objects[home]
	switch h.ObjType() {
	case TypePlayer, TypeRoom, TypeThing:
		if h.IsGoing() {
			return false
		}
		p := db.Objects[player]
		if db.Controls(player, home) || h.HasFlag2(Flag2Abode) || p.HasPower(1, Pow2LinkHome) {
			return true
		}
	}
	return false
}

// NewHome picks a home for thing: its current location if the owner could
// set it there, then the owner's home, then the first good entry of the
// policy chain, and finally room #0.
func (db *Database) NewHome(thing DBRef, policy HomePolicy) DBRef {
	t := db.Get(thing)
	if t == nil {
		return 0
	}
	if db.CanSetHome(t.Owner, thing, t.Location) {
		return t.Location
	}
	if o := db.Get(t.Owner); o != nil {
		if db.CanSetHome(t.Owner, thing, o.Home()) {
			return o.Home()
		}
	}
	for _, ref := range []DBRef{policy.DefaultHome, policy.StartHome, policy.StartRoom} {
		if db.GoodHome(ref) {
			return ref
		}
	}
	return 0
}
