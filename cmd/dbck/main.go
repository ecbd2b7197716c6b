// Command dbck runs the consistency check against a database that is not
// being served: a TinyMUSH flatfile or a mushd bbolt file.
package main

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/crystal-mush/mushkeeper/pkg/archive"
	"github.com/crystal-mush/mushkeeper/pkg/boltstore"
	"github.com/crystal-mush/mushkeeper/pkg/dbck"
	"github.com/crystal-mush/mushkeeper/pkg/flatfile"
	"github.com/crystal-mush/mushkeeper/pkg/gamedb"
	"github.com/crystal-mush/mushkeeper/pkg/server"
	"github.com/rodaine/table"
)

func main() {
	dbPath := flag.String("db", "", "Path to TinyMUSH flatfile")
	boltPath := flag.String("bolt", "", "Path to bbolt database")
	confFile := flag.String("conf", "", "Game config for costs and default homes")
	full := flag.Bool("full", false, "Run the advisory checks too")
	jsonOut := flag.String("json", "", "Write the report as JSON to this file (- for stdout)")
	flatOut := flag.String("o", "", "Write the repaired database as a flatfile")
	writeBack := flag.Bool("write", false, "Save repairs back into the bolt database")
	archiveDir := flag.String("archive", "", "Snapshot the bolt database here before saving")
	showObj := flag.Int("obj", -1, "Show details for a specific object after the check")
	quiet := flag.Bool("q", false, "Only print the summary line")
	flag.Parse()

	if (*dbPath == "") == (*boltPath == "") {
		fmt.Fprintln(os.Stderr, "Usage: dbck (-db <flatfile> | -bolt <boltfile>) [options]")
		fmt.Fprintln(os.Stderr, "  -full         Run the advisory checks too")
		fmt.Fprintln(os.Stderr, "  -conf <file>  Game config for costs and homes")
		fmt.Fprintln(os.Stderr, "  -json <file>  Write the report as JSON")
		fmt.Fprintln(os.Stderr, "  -o <file>     Write the repaired flatfile")
		fmt.Fprintln(os.Stderr, "  -write        Save repairs back into the bolt file")
		fmt.Fprintln(os.Stderr, "  -archive <d>  Snapshot the bolt file into <d> first")
		fmt.Fprintln(os.Stderr, "  -obj <dbref>  Show object details")
		os.Exit(1)
	}

	gc := server.DefaultGameConf()
	if *confFile != "" {
		var err error
		if gc, err = server.LoadGameConf(*confFile); err != nil {
			fatalf("loading config: %v", err)
		}
	}

	start := time.Now()
	var db *gamedb.Database
	var store *boltstore.Store
	var err error
	if *boltPath != "" {
		if store, err = boltstore.Open(*boltPath); err != nil {
			fatalf("%v", err)
		}
		defer store.Close()
		db, err = store.Load()
	} else {
		db, err = flatfile.Load(*dbPath)
	}
	if err != nil {
		fatalf("%v", err)
	}
	db.God = gamedb.DBRef(gc.GodDBRef)
	fmt.Printf("Loaded %d objects in %v\n", db.Top(), time.Since(start).Round(time.Millisecond))

	r := dbck.New(db, dbck.Options{
		Full:       *full,
		Standalone: true,
		Costs:      gc.Costs(),
		Homes:      gc.Homes(),
	}, nil).Run()

	fmt.Println(r)
	if !*quiet {
		printPhases(r)
		printFindings(r)
	}

	if *jsonOut != "" {
		if err := writeReport(*jsonOut, r); err != nil {
			fatalf("writing report: %v", err)
		}
	}
	if *flatOut != "" {
		if err := flatfile.Save(*flatOut, db); err != nil {
			fatalf("writing flatfile: %v", err)
		}
		fmt.Printf("Wrote %s\n", *flatOut)
	}
	if *archiveDir != "" {
		if store == nil {
			fatalf("-archive needs -bolt")
		}
		// The bolt file still holds the unrepaired table here.
		path, err := archive.Create(archive.Params{
			BoltSnapshot: store.Backup,
			ConfPath:     *confFile,
			Included:     gc.Included,
			Report:       r,
			Dir:          *archiveDir,
			MudName:      gc.MudName,
			ObjectCount:  db.Top(),
			Reason:       "dbck " + strings.Join(os.Args[1:], " "),
		})
		if err != nil {
			fatalf("archiving: %v", err)
		}
		fmt.Printf("Archived to %s\n", path)
	}
	if *writeBack {
		if store == nil {
			fatalf("-write needs -bolt")
		}
		if err := store.Save(db); err != nil {
			fatalf("saving: %v", err)
		}
		if err := store.PutReport(r); err != nil {
			fatalf("saving report: %v", err)
		}
		fmt.Printf("Saved repairs to %s\n", *boltPath)
	}
	if *showObj >= 0 {
		fmt.Println()
		printObject(db, gamedb.DBRef(*showObj))
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "ERROR: "+format+"\n", args...)
	os.Exit(1)
}

func writeReport(path string, r *dbck.Report) error {
	if path == "-" {
		return r.WriteJSON(os.Stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := r.WriteJSON(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func printPhases(r *dbck.Report) {
	sum := r.Summary()
	if len(sum) == 0 {
		return
	}
	phases := make([]dbck.Phase, 0, len(sum))
	for p := range sum {
		phases = append(phases, p)
	}
	sort.Slice(phases, func(i, j int) bool { return phases[i] < phases[j] })

	fmt.Println()
	t := table.New("Phase", "Findings")
	for _, p := range phases {
		t.AddRow(p, sum[p])
	}
	t.Print()
}

func printFindings(r *dbck.Report) {
	if len(r.Findings) == 0 {
		return
	}
	fmt.Println()
	t := table.New("Phase", "Severity", "Object", "Message")
	for _, f := range r.Findings {
		t.AddRow(f.Phase, f.Severity, f.ObjectRef, truncate(f.Message, 100))
	}
	t.Print()
}

func printObject(db *gamedb.Database, ref gamedb.DBRef) {
	obj := db.Get(ref)
	if obj == nil {
		fmt.Printf("Object %s not found in database\n", ref)
		return
	}

	fmt.Printf("=== OBJECT %s ===\n", ref)
	fmt.Printf("Name:       %s\n", obj.Name)
	fmt.Printf("Type:       %s\n", obj.ObjType())
	fmt.Printf("Location:   %s\n", obj.Location)
	fmt.Printf("Zone:       %s\n", obj.Zone)
	fmt.Printf("Contents:   %s\n", obj.Contents)
	fmt.Printf("Exits:      %s\n", obj.Exits)
	fmt.Printf("Link/Home:  %s\n", obj.Link)
	fmt.Printf("Next:       %s\n", obj.Next)
	fmt.Printf("Owner:      %s\n", obj.Owner)
	fmt.Printf("Parent:     %s\n", obj.Parent)
	fmt.Printf("Pennies:    %d\n", obj.Pennies)
	fmt.Printf("Flags:      0x%08x 0x%08x 0x%08x (%s)\n", obj.Flags[0], obj.Flags[1], obj.Flags[2], flagNames(obj))
	fmt.Printf("Clean:      %v\n", db.IsClean(ref))
	fmt.Printf("Attributes: %d\n", len(obj.Attrs))
}

func flagNames(obj *gamedb.Object) string {
	flagMap := map[int]string{
		gamedb.FlagWizard:    "WIZARD",
		gamedb.FlagDark:      "DARK",
		gamedb.FlagQuiet:     "QUIET",
		gamedb.FlagHalt:      "HALT",
		gamedb.FlagGoing:     "GOING",
		gamedb.FlagImmortal:  "IMMORTAL",
		gamedb.FlagInherit:   "INHERIT",
		gamedb.FlagRobot:     "ROBOT",
		gamedb.FlagDestroyOK: "DESTROY_OK",
	}
	var names []string
	for flag, name := range flagMap {
		if obj.Flags[0]&flag != 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, " ")
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
