package gamedb

// Contents and exit chains are intrusive singly-linked lists threaded
// through Object.Next. Every walk here keeps a seen set so a damaged chain
// cannot hang the caller; dbck is what repairs the damage.

// RemoveFirst unlinks ref from the chain starting at head and returns the
// new head.
func (db *Database) RemoveFirst(head, ref DBRef) DBRef {
	if head == ref {
		if o := db.Get(ref); o != nil {
			return o.Next
		}
		return Nothing
	}
	seen := make(map[DBRef]bool)
	for prev := head; db.InRange(prev) && !seen[prev]; prev = db.Objects[prev].Next {
		seen[prev] = true
		if db.Objects[prev].Next == ref {
			if o := db.Get(ref); o != nil {
				db.Objects[prev].Next = o.Next
			} else {
				db.Objects[prev].Next = Nothing
			}
			break
		}
	}
	return head
}

// ChainMembers returns the members of the chain starting at head, stopping
// at the first invalid link or repeated member.
func (db *Database) ChainMembers(head DBRef) []DBRef {
	var out []DBRef
	seen := make(map[DBRef]bool)
	for cur := head; db.InRange(cur) && !seen[cur]; cur = db.Objects[cur].Next {
		seen[cur] = true
		out = append(out, cur)
	}
	return out
}

// AddToContents links thing at the head of loc's contents.
func (db *Database) AddToContents(loc, thing DBRef) {
	l, t := db.Get(loc), db.Get(thing)
	if l == nil || t == nil {
		return
	}
	t.Next = l.Contents
	l.Contents = thing
}

// RemoveFromContents unlinks thing from loc's contents.
func (db *Database) RemoveFromContents(loc, thing DBRef) {
	l := db.Get(loc)
	if l == nil {
		return
	}
	l.Contents = db.RemoveFirst(l.Contents, thing)
	if t := db.Get(thing); t != nil {
		t.Next = Nothing
	}
}

// AddExit links exit at the head of loc's exit list and records loc as the
// exit's source.
func (db *Database) AddExit(loc, exit DBRef) {
	l, e := db.Get(loc), db.Get(exit)
	if l == nil || e == nil {
		return
	}
	e.Next = l.Exits
	e.Exits = loc
	l.Exits = exit
}

// RemoveExit unlinks exit from the exit list of its source.
func (db *Database) RemoveExit(exit DBRef) {
	e := db.Get(exit)
	if e == nil {
		return
	}
	if l := db.Get(e.Exits); l != nil {
		l.Exits = db.RemoveFirst(l.Exits, exit)
	}
	e.Next = Nothing
}

// MoveTo takes thing out of its current location's contents and puts it at
// the head of dest's contents. A dest of Nothing just removes it.
func (db *Database) MoveTo(thing, dest DBRef) {
	t := db.Get(thing)
	if t == nil {
		return
	}
	if db.Good(t.Location) {
		db.RemoveFromContents(t.Location, thing)
	}
	t.Location = Nothing
	t.Next = Nothing
	if dest == Nothing || !db.Good(dest) || !db.Objects[dest].ObjType().HasContents() {
		return
	}
	t.Location = dest
	db.AddToContents(dest, thing)
}

// MoveHome sends thing to its home, choosing a new home first if the
// current one cannot hold it.
func (db *Database) MoveHome(thing DBRef, policy HomePolicy) DBRef {
	t := db.Get(thing)
	if t == nil {
		return Nothing
	}
	home := t.Home()
	if !db.GoodHome(home) || home == thing || db.Objects[home].IsGoing() {
		home = db.NewHome(thing, policy)
		t.SetHome(home)
	}
	db.MoveTo(thing, home)
	return home
}
