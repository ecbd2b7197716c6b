package dbck

import (
	"errors"
	"log"
	"strconv"
	"strings"

	"github.com/crystal-mush/mushkeeper/pkg/gamedb"
)

// Errors returned by PlaceOnFreelist. The text is what the player sees.
var (
	ErrNoMatch     = errors.New("I don't see that here.")
	ErrNotClean    = errors.New("That object is not clean garbage.")
	ErrAlreadyHead = errors.New("That object is already at the head of the freelist.")
	ErrRelink      = errors.New("Unable to relink freelist at this time.")
)

// makeFreelist drops clean garbage from the top of the table and threads
// the rest through Link so the lowest free dbref is handed out first.
func (c *Checker) makeFreelist() {
	c.phase = PhaseFreelist
	db := c.db
	db.Freelist = gamedb.Nothing

	top := db.Top()
	for top > 0 && db.IsClean(gamedb.DBRef(top-1)) {
		top--
	}
	if trimmed := db.Top() - top; trimmed > 0 {
		db.Trim(top)
		c.reportStats().Trimmed += trimmed
		log.Printf("dbck: trimmed %d clean objects from the top of the database", trimmed)
	}

	for i := gamedb.DBRef(top - 1); i >= 0; i-- {
		if db.IsClean(i) {
			db.Objects[i].Link = db.Freelist
			db.Freelist = i
			c.reportStats().Freelist++
		}
	}
}

func (c *Checker) reportStats() *Stats {
	if c.report == nil {
		c.report = &Report{}
	}
	return &c.report.Stats
}

// PlaceOnFreelist moves the clean garbage object named by arg ("#n") to the
// head of the freelist, so it is the next dbref handed out. It returns the
// message for the player; on failure the error text is that message.
func (c *Checker) PlaceOnFreelist(arg string) (string, error) {
	db := c.db
	thing, ok := parseRef(arg)
	if !ok || thing < 0 || int(thing) >= db.Top() {
		return "", ErrNoMatch
	}
	if !db.IsClean(thing) {
		return "", ErrNotClean
	}
	if db.Freelist == thing {
		return "", ErrAlreadyHead
	}
	for i := 0; i < db.Top(); i++ {
		o := db.Objects[i]
		if o == nil || o.Link != thing {
			continue
		}
		if !db.IsClean(gamedb.DBRef(i)) {
			return "", ErrRelink
		}
		o.Link = db.Objects[thing].Link
		break
	}
	db.Objects[thing].Link = db.Freelist
	db.Freelist = thing
	return "Object placed at the head of the freelist.", nil
}

// parseRef reads "#n", taking the leading digits after the '#'.
func parseRef(arg string) (gamedb.DBRef, bool) {
	arg = strings.TrimSpace(arg)
	if !strings.HasPrefix(arg, "#") {
		return gamedb.Nothing, false
	}
	arg = arg[1:]
	end := 0
	if end < len(arg) && arg[end] == '-' {
		end++
	}
	for end < len(arg) && arg[end] >= '0' && arg[end] <= '9' {
		end++
	}
	n, err := strconv.Atoi(arg[:end])
	if err != nil {
		return gamedb.Nothing, false
	}
	return gamedb.DBRef(n), true
}
