// Package dbck checks the object graph for damage and repairs it.
//
// A Run rebuilds the freelist, then clears dead references, rethreads the
// exit chains, rethreads the contents chains and finally destroys every
// object left GOING. Each repair is logged under OBJ/DAMAG and collected in
// the returned Report. A Run never fails: whatever the state of the
// database, it leaves every chain acyclic and every live reference valid.
package dbck

import (
	"fmt"
	"log"
	"time"

	"github.com/crystal-mush/mushkeeper/pkg/gamedb"
)

// Costs are the building costs and quotas refunded when dbck destroys an
// object, and the limits used by the full-mode value checks.
type Costs struct {
	DigCost     int
	OpenCost    int
	RobotCost   int
	CreateMax   int
	SacFactor   int
	SacAdjust   int
	PayLimit    int
	RoomQuota   int
	ThingQuota  int
	ExitQuota   int
	PlayerQuota int
	OneCoin     string
}

// DefaultCosts returns the stock TinyMUSH economy.
func DefaultCosts() Costs {
	return Costs{
		DigCost:     10,
		OpenCost:    1,
		RobotCost:   1000,
		CreateMax:   505,
		SacFactor:   5,
		SacAdjust:   -1,
		PayLimit:    10000,
		RoomQuota:   1,
		ThingQuota:  1,
		ExitQuota:   1,
		PlayerQuota: 1,
		OneCoin:     "penny",
	}
}

// Endowment is the value a thing created for cost coins starts with.
func (c Costs) Endowment(cost int) int {
	f := c.SacFactor
	if f == 0 {
		f = 1
	}
	return cost/f + c.SacAdjust
}

// Deposit is the refund owed for a thing worth pennies.
func (c Costs) Deposit(pennies int) int {
	return (pennies - c.SacAdjust) * c.SacFactor
}

// Options control a Run.
type Options struct {
	// Full enables the advisory checks: values, ownership and wizard
	// containment.
	Full bool
	// Standalone means no game is running. Owners are not notified and
	// queues are not halted.
	Standalone bool
	Costs      Costs
	Homes      gamedb.HomePolicy
	// OnFinding, when set, sees every finding as it is recorded.
	OnFinding func(Finding)
}

// Env is what a running game provides to dbck. Every method is called with
// the database already consistent enough to name the objects involved.
type Env interface {
	// Halt removes queued commands run by or on behalf of obj and returns
	// how many were removed.
	Halt(obj gamedb.DBRef) int
	// Drain discards semaphore waits on obj.
	Drain(obj gamedb.DBRef)
	// ClearAux drops per-object runtime state such as forward lists,
	// stacks and cron entries.
	ClearAux(obj gamedb.DBRef)
	DestroyHooks(player, obj gamedb.DBRef)
	DestroyPlayerHooks(heir, victim gamedb.DBRef)
	Notify(target gamedb.DBRef, msg string)
	// Quota returns delta units of quota for kind to owner.
	Quota(owner gamedb.DBRef, delta int, kind gamedb.ObjectType)
	Boot(player gamedb.DBRef, msg string)
}

// NopEnv is the Env of a standalone check.
type NopEnv struct{}

func (NopEnv) Halt(gamedb.DBRef) int                         { return 0 }
func (NopEnv) Drain(gamedb.DBRef)                            {}
func (NopEnv) ClearAux(gamedb.DBRef)                         {}
func (NopEnv) DestroyHooks(gamedb.DBRef, gamedb.DBRef)       {}
func (NopEnv) DestroyPlayerHooks(gamedb.DBRef, gamedb.DBRef) {}
func (NopEnv) Notify(gamedb.DBRef, string)                   {}
func (NopEnv) Quota(gamedb.DBRef, int, gamedb.ObjectType)    {}
func (NopEnv) Boot(gamedb.DBRef, string)                     {}

// Checker holds the state of one consistency pass.
type Checker struct {
	db   *gamedb.Database
	opts Options
	env  Env

	phase   Phase
	marks   []bool
	walking map[gamedb.DBRef]bool
	report  *Report
}

// New creates a Checker for db. A nil env behaves as NopEnv.
func New(db *gamedb.Database, opts Options, env Env) *Checker {
	if env == nil {
		env = NopEnv{}
	}
	if opts.Costs == (Costs{}) {
		opts.Costs = DefaultCosts()
	}
	return &Checker{db: db, opts: opts, env: env}
}

// Run performs the full pass and returns its report.
func (c *Checker) Run() *Report {
	start := time.Now()
	c.report = &Report{Started: start, Full: c.opts.Full}

	c.makeFreelist()
	c.checkDeadRefs()
	c.checkExitChains()
	c.checkContentsChains()
	c.purgeGoing()

	c.marks = nil
	c.walking = nil
	c.report.Top = c.db.Top()
	c.report.Duration = time.Since(start)
	log.Printf("dbck: pass complete: %d findings, %d destroyed, db_top %d",
		len(c.report.Findings), c.report.Stats.Destroyed, c.report.Top)
	return c.report
}

// Marks are a per-phase visited set indexed by dbref.

func (c *Checker) clearMarks() {
	c.marks = make([]bool, c.db.Top())
}

func (c *Checker) marked(ref gamedb.DBRef) bool {
	return ref >= 0 && int(ref) < len(c.marks) && c.marks[ref]
}

func (c *Checker) mark(ref gamedb.DBRef) {
	if ref >= 0 && int(ref) < len(c.marks) {
		c.marks[ref] = true
	}
}

func (c *Checker) unmark(ref gamedb.DBRef) {
	if ref >= 0 && int(ref) < len(c.marks) {
		c.marks[ref] = false
	}
}

func (c *Checker) record(sev Severity, obj, loc gamedb.DBRef, msg string) {
	if c.report == nil {
		c.report = &Report{Started: time.Now(), Full: c.opts.Full}
	}
	f := Finding{
		ID:          fmt.Sprintf("obj%d-%s%d", obj, c.phase, len(c.report.Findings)),
		Phase:       c.phase,
		Category:    "OBJ",
		Subcategory: "DAMAG",
		Severity:    sev,
		ObjectRef:   obj,
		Location:    loc,
		Message:     msg,
	}
	c.report.Findings = append(c.report.Findings, f)
	log.Printf("dbck: %s/%s %s", f.Category, f.Subcategory, msg)
	if c.opts.OnFinding != nil {
		c.opts.OnFinding(f)
	}
}

// where renders "TYPE Name(#n)" or "TYPE Name(#n) in Loc(#m)".
func (c *Checker) where(obj, loc gamedb.DBRef) string {
	s := c.db.TypeName(obj) + " " + c.db.Name(obj)
	if loc != gamedb.Nothing {
		s += " in " + c.db.Name(loc)
	}
	return s
}

// pointerErr logs a bad link found while walking a chain. After the first
// member, the link at fault is the previous member's Next.
func (c *Checker) pointerErr(sev Severity, prior, obj, loc, ref gamedb.DBRef, reftype, errtype string) {
	if prior != gamedb.Nothing {
		reftype = "Next pointer"
	}
	c.record(sev, obj, loc, fmt.Sprintf("%s: %s %s %s %s",
		c.where(obj, loc), reftype, c.db.TypeName(ref), c.db.Name(ref), errtype))
}

// headerErr logs a bad object-valued field.
func (c *Checker) headerErr(sev Severity, obj, loc, val gamedb.DBRef, valtype, errtype string) {
	c.record(sev, obj, loc, fmt.Sprintf("%s: %s %s %s %s",
		c.where(obj, loc), valtype, c.db.TypeName(val), c.db.Name(val), errtype))
}

// valueErr logs a bad numeric field.
func (c *Checker) valueErr(sev Severity, obj gamedb.DBRef, val int, valtype, errtype string) {
	c.record(sev, obj, gamedb.Nothing, fmt.Sprintf("%s: %s %d %s",
		c.where(obj, gamedb.Nothing), valtype, val, errtype))
}

func (c *Checker) simpleErr(sev Severity, obj, loc gamedb.DBRef, errtype string) {
	c.record(sev, obj, loc, c.where(obj, loc)+": "+errtype)
}

// notifyOwner tells the owner of obj about a change unless either is QUIET.
func (c *Checker) notifyOwner(obj gamedb.DBRef, msg string) {
	o := c.db.Get(obj)
	if o == nil || !c.db.GoodOwner(o.Owner) {
		return
	}
	if o.IsQuiet() || c.db.Objects[o.Owner].IsQuiet() {
		return
	}
	c.env.Notify(o.Owner, msg)
}
