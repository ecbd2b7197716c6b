package server

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/crystal-mush/mushkeeper/pkg/alloc"
	"github.com/crystal-mush/mushkeeper/pkg/boltstore"
	"github.com/crystal-mush/mushkeeper/pkg/dbck"
	"github.com/crystal-mush/mushkeeper/pkg/events"
	"github.com/crystal-mush/mushkeeper/pkg/gamedb"
)

// Game owns the object table and everything that reads or repairs it.
// mu serialises database access: a dbck pass holds it for its whole run.
type Game struct {
	mu sync.Mutex

	DB       *gamedb.Database
	Conf     *GameConf
	ConfPath string           // Path to game config file (for WatchConfig)
	Heap     *alloc.Heap      // Tracked allocator for runtime buffers
	Queue    *CommandQueue    // Queued admin commands
	EventBus *events.Bus      // Notifications and dbck results
	Store    *boltstore.Store // nil = no bbolt persistence
	Audit    *AuditDB         // nil = SQL audit disabled
	Metrics  *Metrics

	fwd        map[gamedb.DBRef][]gamedb.DBRef // parsed FORWARDLIST cache
	lastReport *dbck.Report
	started    time.Time

	timerMu   sync.Mutex
	dbckReset chan time.Duration
	stop      chan struct{}
	stopOnce  sync.Once
}

// NewGame creates a game around db. A nil conf uses the defaults.
func NewGame(db *gamedb.Database, conf *GameConf) *Game {
	if conf == nil {
		conf = DefaultGameConf()
	}
	g := &Game{
		DB:       db,
		Conf:     conf,
		EventBus: events.NewBus(),
		fwd:      make(map[gamedb.DBRef][]gamedb.DBRef),
		started:  time.Now(),
		stop:     make(chan struct{}),
	}
	g.Heap = alloc.NewWithOptions(alloc.Options{
		Tombstones: conf.AllocTombstones,
		OnOverrun:  g.heapOverrun,
		Paranoid:   conf.ParanoidAlloc,
	})
	g.Queue = NewCommandQueue(g.Heap)
	g.Metrics = NewMetrics(g, g.started)
	g.applyDBSettings()
	return g
}

func (g *Game) applyDBSettings() {
	g.DB.God = gamedb.DBRef(g.Conf.GodDBRef)
	g.DB.BuildingLimit = g.Conf.BuildingLimit
	if g.Store != nil && g.Conf.ReportKeep > 0 {
		g.Store.ReportKeep = g.Conf.ReportKeep
	}
}

func (g *Game) heapOverrun(b alloc.Block) {
	g.EventBus.Broadcast(events.Event{
		Type: events.EvMemory,
		Text: fmt.Sprintf("MEM/OVRUN %s tag=%q size=%d from %s", b.Base, b.Tag, b.Size, b.Site),
		Data: map[string]any{"tag": b.Tag, "size": b.Size},
	})
}

// SetStore attaches bolt persistence.
func (g *Game) SetStore(s *boltstore.Store) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Store = s
	g.applyDBSettings()
}

// Top returns db_top under the game lock.
func (g *Game) Top() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.DB.Top()
}

// IsWizard reports whether player may run admin commands.
func (g *Game) IsWizard(player gamedb.DBRef) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.isWizardLocked(player)
}

func (g *Game) isWizardLocked(player gamedb.DBRef) bool {
	if player == g.DB.God {
		return true
	}
	obj := g.DB.Get(player)
	return obj != nil && obj.ObjType() == gamedb.TypePlayer && obj.IsWizard() && !obj.IsGoing()
}

// Notify sends msg to target and to everything on its forward list.
func (g *Game) Notify(target gamedb.DBRef, msg string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.notifyLocked(target, msg)
}

func (g *Game) notifyLocked(target gamedb.DBRef, msg string) {
	// Messages pass through an lbuf, as the game's output path does.
	buf := g.Heap.PoolAlloc(alloc.PoolLBuf, "notify")
	if r := g.Heap.Strcpy(buf, msg); r.Lost() {
		log.Printf("server: notify to %s truncated by %d bytes", target, r.Truncated)
	}
	text := g.Heap.String(buf)
	if err := g.Heap.PoolFree(alloc.PoolLBuf, buf); err != nil {
		log.Printf("server: notify buffer: %v", err)
	}

	g.EventBus.EmitToPlayer(target, events.Event{Type: events.EvNotify, Source: target, Text: text})
	for _, to := range g.forwardList(target) {
		if to != target && g.DB.Good(to) {
			g.EventBus.EmitToPlayer(to, events.Event{Type: events.EvNotify, Source: target, Text: text})
		}
	}
}

func (g *Game) forwardList(obj gamedb.DBRef) []gamedb.DBRef {
	if refs, ok := g.fwd[obj]; ok {
		return refs
	}
	o := g.DB.Get(obj)
	if o == nil {
		return nil
	}
	refs := o.RefList(gamedb.AttrForwardList)
	g.fwd[obj] = refs
	return refs
}

// RunDBCK runs a live consistency pass and publishes its report.
func (g *Game) RunDBCK(full bool) *dbck.Report {
	g.mu.Lock()
	r := g.runDBCKLocked(full)
	g.mu.Unlock()
	g.publish(r)
	return r
}

func (g *Game) runDBCKLocked(full bool) *dbck.Report {
	opts := dbck.Options{
		Full:  full,
		Costs: g.Conf.Costs(),
		Homes: g.Conf.Homes(),
		OnFinding: func(f dbck.Finding) {
			g.EventBus.Broadcast(events.Event{
				Type:   events.EvFinding,
				Source: f.ObjectRef,
				Text:   f.Message,
				Data: map[string]any{
					"phase":    f.Phase.String(),
					"severity": f.Severity.String(),
					"location": int(f.Location),
				},
			})
		},
	}
	r := dbck.New(g.DB, opts, gameEnv{g}).Run()
	// Cached forward lists may name objects that are gone now.
	clear(g.fwd)
	g.lastReport = r
	return r
}

// publish records a finished pass in metrics, the audit log and the bolt
// report history, then announces it.
func (g *Game) publish(r *dbck.Report) {
	g.Metrics.ObserveDBCK(r)
	if g.Audit != nil {
		if _, err := g.Audit.Record(r); err != nil {
			log.Printf("server: %v", err)
		}
	}
	g.mu.Lock()
	store := g.Store
	g.mu.Unlock()
	if store != nil {
		if err := store.PutReport(r); err != nil {
			log.Printf("server: %v", err)
		}
	}
	g.EventBus.Broadcast(events.Event{
		Type: events.EvDBCK,
		Text: r.String(),
		Data: map[string]any{"findings": len(r.Findings), "destroyed": r.Stats.Destroyed, "full": r.Full},
	})
}

// Config returns a copy of the running config.
func (g *Game) Config() GameConf {
	g.mu.Lock()
	defer g.mu.Unlock()
	return *g.Conf
}

// Uptime reports how long the game has been up.
func (g *Game) Uptime() time.Duration { return time.Since(g.started) }

// LastReport returns the most recent report, or nil before the first pass.
func (g *Game) LastReport() *dbck.Report {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastReport
}

// PlaceOnFreelist moves a clean garbage object to the freelist head.
func (g *Game) PlaceOnFreelist(arg string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c := dbck.New(g.DB, dbck.Options{Costs: g.Conf.Costs(), Homes: g.Conf.Homes()}, gameEnv{g})
	return c.PlaceOnFreelist(arg)
}

// Save persists the table to the bolt store.
func (g *Game) Save() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Store == nil {
		return fmt.Errorf("server: no database store configured")
	}
	if err := g.Store.Save(g.DB); err != nil {
		return err
	}
	g.EventBus.Broadcast(events.Event{Type: events.EvSave, Text: fmt.Sprintf("Saved %d objects.", g.DB.Top())})
	return nil
}

// StartAutoSave starts a periodic auto-save goroutine.
func (g *Game) StartAutoSave(intervalMinutes int) {
	if intervalMinutes < 1 {
		return
	}
	go func() {
		ticker := time.NewTicker(time.Duration(intervalMinutes) * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-g.stop:
				return
			case <-ticker.C:
				g.mu.Lock()
				store := g.Store
				g.mu.Unlock()
				if store == nil {
					continue
				}
				log.Printf("server: auto-saving database")
				if err := g.Save(); err != nil {
					log.Printf("server: auto-save failed: %v", err)
				}
			}
		}
	}()
}

// StartDBCKTimer runs a pass every interval. A zero interval starts the
// goroutine idle; SetDBCKInterval arms it later.
func (g *Game) StartDBCKTimer(interval time.Duration) {
	g.timerMu.Lock()
	if g.dbckReset != nil {
		g.timerMu.Unlock()
		g.SetDBCKInterval(interval)
		return
	}
	g.dbckReset = make(chan time.Duration, 1)
	g.timerMu.Unlock()

	go func() {
		var ticker *time.Ticker
		var tick <-chan time.Time
		arm := func(d time.Duration) {
			if ticker != nil {
				ticker.Stop()
				ticker, tick = nil, nil
			}
			if d > 0 {
				ticker = time.NewTicker(d)
				tick = ticker.C
			}
		}
		arm(interval)
		defer arm(0)
		for {
			select {
			case <-g.stop:
				return
			case d := <-g.dbckReset:
				arm(d)
			case <-tick:
				g.mu.Lock()
				full := g.Conf.DBCKFullOnTimer
				g.mu.Unlock()
				g.RunDBCK(full)
			}
		}
	}()
}

// SetDBCKInterval changes the timer period; zero disables it.
func (g *Game) SetDBCKInterval(d time.Duration) {
	g.timerMu.Lock()
	ch := g.dbckReset
	g.timerMu.Unlock()
	if ch == nil {
		return
	}
	// Keep only the newest request.
	select {
	case <-ch:
	default:
	}
	ch <- d
}

// StartQueueProcessor runs queued commands as they become ready.
func (g *Game) StartQueueProcessor() {
	go func() {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-g.stop:
				return
			case now := <-ticker.C:
				g.RunQueue(now)
			}
		}
	}()
}

// RunQueue promotes due waits and runs every ready command. It returns how
// many ran.
func (g *Game) RunQueue(now time.Time) int {
	g.Queue.PromoteReady(now)
	n := 0
	for {
		player, _, cmd, ok := g.Queue.Pop()
		if !ok {
			return n
		}
		out := g.ExecAdmin(player, cmd)
		if out != "" {
			g.Notify(player, out)
		}
		n++
	}
}

// ApplyGameConf swaps in a reloaded config.
func (g *Game) ApplyGameConf(gc *GameConf) {
	g.mu.Lock()
	g.Conf = gc
	g.applyDBSettings()
	g.mu.Unlock()

	g.SetDBCKInterval(time.Duration(gc.DBCKInterval) * time.Second)
	log.Printf("server: config applied: mud_name=%q dbck_interval=%ds full=%v",
		gc.MudName, gc.DBCKInterval, gc.DBCKFullOnTimer)
}

// Stop ends the background goroutines.
func (g *Game) Stop() {
	g.stopOnce.Do(func() { close(g.stop) })
}

// gameEnv is the dbck Env of a running game. dbck calls it with g.mu held.
type gameEnv struct{ g *Game }

func (e gameEnv) Halt(obj gamedb.DBRef) int { return e.g.Queue.HaltPlayer(obj) }

func (e gameEnv) Drain(obj gamedb.DBRef) { e.g.Queue.DrainObject(obj) }

func (e gameEnv) ClearAux(obj gamedb.DBRef) { delete(e.g.fwd, obj) }

func (e gameEnv) DestroyHooks(player, obj gamedb.DBRef) {
	e.g.EventBus.Broadcast(events.Event{
		Type:   events.EvDestroy,
		Source: obj,
		Text:   fmt.Sprintf("%s destroyed", obj),
		Data:   map[string]any{"by": int(player)},
	})
}

func (e gameEnv) DestroyPlayerHooks(heir, victim gamedb.DBRef) {
	e.g.EventBus.Broadcast(events.Event{
		Type:   events.EvDestroy,
		Source: victim,
		Text:   fmt.Sprintf("player %s destroyed, possessions to %s", victim, heir),
		Data:   map[string]any{"heir": int(heir)},
	})
}

func (e gameEnv) Notify(target gamedb.DBRef, msg string) { e.g.notifyLocked(target, msg) }

func (e gameEnv) Quota(owner gamedb.DBRef, delta int, kind gamedb.ObjectType) {
	if o := e.g.DB.Get(owner); o != nil {
		o.AddQuota(kind, delta, e.g.Conf.TypedQuotas)
	}
}

func (e gameEnv) Boot(player gamedb.DBRef, msg string) {
	e.g.EventBus.EmitToPlayer(player, events.Event{Type: events.EvBoot, Source: player, Text: msg})
	log.Printf("server: booted %s: %s", player, msg)
}
