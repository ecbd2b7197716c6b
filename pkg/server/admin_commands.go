package server

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/buildkite/shellwords"
	"github.com/crystal-mush/mushkeeper/pkg/dbck"
	"github.com/crystal-mush/mushkeeper/pkg/gamedb"
	"github.com/rodaine/table"
)

// adminCommand handles one wizard command. args excludes the command word.
type adminCommand func(g *Game, player gamedb.DBRef, sw string, args []string) string

var adminCommands = map[string]adminCommand{
	"@dbck":     cmdDBCK,
	"@freelist": cmdFreelist,
	"@list":     cmdList,
	"@wait":     cmdWait,
	"@halt":     cmdHalt,
	"@save":     cmdSave,
	"@history":  cmdHistory,
	"@archive":  cmdArchive,
}

// ExecAdmin runs a wizard command line and returns the text for the player.
func (g *Game) ExecAdmin(player gamedb.DBRef, line string) string {
	parts, err := shellwords.SplitPosix(line)
	if err != nil {
		return fmt.Sprintf("Parse error: %v", err)
	}
	if len(parts) == 0 {
		return ""
	}
	name, sw, _ := strings.Cut(strings.ToLower(parts[0]), "/")
	cmd, ok := adminCommands[name]
	if !ok {
		return `Huh?  (Type "help" for help.)`
	}
	if !g.IsWizard(player) {
		return "Permission denied."
	}
	return cmd(g, player, sw, parts[1:])
}

func cmdDBCK(g *Game, player gamedb.DBRef, sw string, _ []string) string {
	switch sw {
	case "", "full":
	default:
		return fmt.Sprintf("Unrecognized switch '%s' for command '@dbck'.", sw)
	}
	g.RunDBCK(sw == "full")
	g.mu.Lock()
	defer g.mu.Unlock()
	if o := g.DB.Get(player); o != nil && o.IsQuiet() {
		return ""
	}
	return "Done."
}

func cmdFreelist(g *Game, _ gamedb.DBRef, _ string, args []string) string {
	if len(args) == 0 {
		return dbck.ErrNoMatch.Error()
	}
	msg, err := g.PlaceOnFreelist(args[0])
	if err != nil {
		return err.Error()
	}
	return msg
}

func cmdList(g *Game, _ gamedb.DBRef, _ string, args []string) string {
	what := ""
	if len(args) > 0 {
		what = strings.ToLower(args[0])
	}
	switch what {
	case "memory":
		return g.memoryTable()
	case "buffers":
		return g.bufferTable()
	case "buftrace":
		return g.bufferTrace()
	case "dbck":
		return g.dbckTable()
	case "queue":
		immediate, waiting, semaphore := g.Queue.Stats()
		return fmt.Sprintf("Queue: %d immediate, %d waiting, %d on semaphores.", immediate, waiting, semaphore)
	default:
		return "Unknown option.  Use one of: memory, buffers, buftrace, dbck, queue."
	}
}

// memoryTable renders live tracked blocks by tag, largest first.
func (g *Game) memoryTable() string {
	var b strings.Builder
	t := table.New("Tag", "Blocks", "Bytes").WithWriter(&b)
	for _, ts := range g.Heap.ByTag() {
		t.AddRow(ts.Tag, ts.Allocs, ts.Bytes)
	}
	s := g.Heap.Stats()
	t.AddRow("Total", s.Blocks, s.Bytes)
	t.Print()
	fmt.Fprintf(&b, "Untracked: %d blocks, %d bytes.  Overruns: %d.  Double frees: %d.",
		s.UntrackedBlocks, s.UntrackedBytes, s.Overruns, s.DoubleFrees)
	return b.String()
}

// bufferTable reports the buffer pools.
func (g *Game) bufferTable() string {
	var b strings.Builder
	t := table.New("Buffer Stats", "Size", "InUse", "Total", "Allocs", "Lost").WithWriter(&b)
	for _, ps := range g.Heap.PoolStats() {
		t.AddRow(ps.Name, ps.Size, ps.InUse, ps.Total, ps.Allocs, ps.Lost)
	}
	t.Print()
	return strings.TrimRight(b.String(), "\n")
}

// bufferTrace lists in-use pool buffers by tag.
func (g *Game) bufferTrace() string {
	var b strings.Builder
	for _, tr := range g.Heap.PoolTrace() {
		fmt.Fprintf(&b, "----- %s -----\n", tr.Name)
		for _, ts := range tr.Tags {
			fmt.Fprintf(&b, "%-40s %d\n", ts.Tag, ts.Allocs)
		}
		fmt.Fprintf(&b, "%d free\n", tr.Free)
	}
	return strings.TrimRight(b.String(), "\n")
}

// dbckTable summarises the last pass by phase.
func (g *Game) dbckTable() string {
	r := g.LastReport()
	if r == nil {
		return "No dbck pass has run yet."
	}
	var b strings.Builder
	b.WriteString(r.String())
	b.WriteByte('\n')
	t := table.New("Phase", "Findings").WithWriter(&b)
	sum := r.Summary()
	phases := make([]dbck.Phase, 0, len(sum))
	for p := range sum {
		phases = append(phases, p)
	}
	sort.Slice(phases, func(i, j int) bool { return phases[i] < phases[j] })
	for _, p := range phases {
		t.AddRow(p, sum[p])
	}
	t.Print()
	return strings.TrimRight(b.String(), "\n")
}

func cmdWait(g *Game, player gamedb.DBRef, _ string, args []string) string {
	if len(args) < 2 {
		return "Usage: @wait <seconds> <command>"
	}
	secs, err := strconv.Atoi(args[0])
	if err != nil || secs < 0 {
		return "Invalid wait time."
	}
	cmd := strings.Join(args[1:], " ")
	if secs == 0 {
		if !g.Queue.Add(player, player, cmd) {
			return "Queue full."
		}
	} else {
		g.Queue.AddWait(player, player, cmd, time.Now().Add(time.Duration(secs)*time.Second))
	}
	return "Queued."
}

func cmdHalt(g *Game, player gamedb.DBRef, _ string, args []string) string {
	target := player
	if len(args) > 0 {
		ref, err := parseDBRef(args[0])
		if err != nil {
			return "I don't see that here."
		}
		target = ref
	}
	n := g.Queue.HaltPlayer(target)
	return fmt.Sprintf("Halted %d queue entries.", n)
}

func cmdSave(g *Game, _ gamedb.DBRef, _ string, _ []string) string {
	if err := g.Save(); err != nil {
		return fmt.Sprintf("Save failed: %v", err)
	}
	return "Database saved."
}

func cmdHistory(g *Game, _ gamedb.DBRef, _ string, args []string) string {
	if g.Audit == nil {
		return "SQL audit is not enabled."
	}
	if len(args) == 0 {
		return "Usage: @history #<dbref>"
	}
	ref, err := parseDBRef(args[0])
	if err != nil {
		return "I don't see that here."
	}
	rows, err := g.Audit.History(ref)
	if err != nil {
		return fmt.Sprintf("Audit query failed: %v", err)
	}
	if len(rows) == 0 {
		return fmt.Sprintf("No dbck findings recorded for %s.", ref)
	}
	var b strings.Builder
	t := table.New("Run", "Phase", "Severity", "Message").WithWriter(&b)
	for _, r := range rows {
		t.AddRow(r.RunID, r.Phase, r.Severity, r.Message)
	}
	t.Print()
	return strings.TrimRight(b.String(), "\n")
}

func cmdArchive(g *Game, _ gamedb.DBRef, sw string, args []string) string {
	switch sw {
	case "":
		path, err := g.Archive(strings.Join(args, " "))
		if err != nil {
			return fmt.Sprintf("Archive failed: %v", err)
		}
		return fmt.Sprintf("Archived to %s.", filepath.Base(path))
	case "list":
		list, err := g.Archives()
		if err != nil {
			return err.Error()
		}
		if len(list) == 0 {
			return "No archives."
		}
		var b strings.Builder
		t := table.New("Archive", "Objects", "Bytes", "Reason").WithWriter(&b)
		for _, a := range list {
			t.AddRow(a.Filename, a.Objects, a.Size, a.Reason)
		}
		t.Print()
		return strings.TrimRight(b.String(), "\n")
	default:
		return fmt.Sprintf("Unrecognized switch '%s' for command '@archive'.", sw)
	}
}

// parseDBRef parses "#123" or "123".
func parseDBRef(s string) (gamedb.DBRef, error) {
	n, err := strconv.Atoi(strings.TrimPrefix(strings.TrimSpace(s), "#"))
	if err != nil {
		return gamedb.Nothing, err
	}
	return gamedb.DBRef(n), nil
}
