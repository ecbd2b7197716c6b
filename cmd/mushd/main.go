package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/crystal-mush/mushkeeper/pkg/admin"
	"github.com/crystal-mush/mushkeeper/pkg/boltstore"
	"github.com/crystal-mush/mushkeeper/pkg/flatfile"
	"github.com/crystal-mush/mushkeeper/pkg/gamedb"
	"github.com/crystal-mush/mushkeeper/pkg/server"
)

// envDefault returns the environment variable value if set, otherwise the fallback.
func envDefault(envVar, fallback string) string {
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	return fallback
}

func main() {
	confFile := flag.String("conf", envDefault("MUSH_CONF", ""), "Path to game config file (env: MUSH_CONF)")
	dbPath := flag.String("db", envDefault("MUSH_DB", ""), "Path to TinyMUSH flatfile database (env: MUSH_DB)")
	boltPath := flag.String("bolt", envDefault("MUSH_BOLT", ""), "Path to bbolt database, overrides db_path (env: MUSH_BOLT)")
	forceImport := flag.Bool("import", os.Getenv("MUSH_IMPORT") == "true", "Force re-import from flatfile into bbolt (env: MUSH_IMPORT)")
	sqlDBPath := flag.String("sqldb", envDefault("MUSH_SQLDB", ""), "Path to SQLite3 audit database (env: MUSH_SQLDB)")
	webPort := flag.Int("web-port", 0, "Admin HTTP port, overrides config (env: MUSH_WEB_PORT)")
	skipCheck := flag.Bool("skip-startup-check", false, "Do not run dbck before serving")
	flag.Parse()

	log.Printf("Welcome to %s", server.VersionString())

	if *webPort == 0 {
		if v := os.Getenv("MUSH_WEB_PORT"); v != "" {
			if p, err := strconv.Atoi(v); err == nil {
				*webPort = p
			}
		}
	}

	gc := server.DefaultGameConf()
	if *confFile != "" {
		var err error
		gc, err = server.LoadGameConf(*confFile)
		if err != nil {
			log.Fatalf("Error loading game config: %v", err)
		}
		log.Printf("Loaded game config from %s", *confFile)
	}
	if *boltPath != "" {
		gc.DBPath = *boltPath
	}
	if *sqlDBPath != "" {
		gc.SQLDatabase = *sqlDBPath
		gc.SQLEnabled = true
	}
	if os.Getenv("MUSH_SQL") == "true" {
		gc.SQLEnabled = true
	}
	if *webPort != 0 {
		gc.WebPort = *webPort
		gc.WebEnabled = true
	}

	if *dbPath == "" && gc.DBPath == "" {
		fmt.Fprintln(os.Stderr, "Usage: mushd -conf <config> -db <flatfile> [-bolt <boltfile>]")
		fmt.Fprintln(os.Stderr, "       mushd -conf <config> -bolt <boltfile>")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Environment variables (used as defaults when flags are not set):")
		fmt.Fprintln(os.Stderr, "  MUSH_CONF       Path to game config file (.yaml or .conf)")
		fmt.Fprintln(os.Stderr, "  MUSH_DB         Path to TinyMUSH flatfile database")
		fmt.Fprintln(os.Stderr, "  MUSH_BOLT       Path to bbolt persistent database")
		fmt.Fprintln(os.Stderr, "  MUSH_IMPORT     Set to 'true' to force reimport from flatfile")
		fmt.Fprintln(os.Stderr, "  MUSH_SQL        Set to 'true' to enable the SQL dbck audit")
		fmt.Fprintln(os.Stderr, "  MUSH_SQLDB      Path to SQLite3 audit database")
		fmt.Fprintln(os.Stderr, "  MUSH_WEB_PORT   Admin HTTP port (enables the admin API)")
		fmt.Fprintln(os.Stderr, "  MUSH_ADMIN_PASS Admin API password override")
		os.Exit(1)
	}

	db, store := loadDatabase(*dbPath, gc.DBPath, *forceImport)
	if store != nil {
		defer store.Close()
	}

	g := server.NewGame(db, gc)
	g.ConfPath = *confFile
	if store != nil {
		g.SetStore(store)
	}

	if gc.SQLEnabled && gc.SQLDatabase != "" {
		if err := os.MkdirAll(filepath.Dir(gc.SQLDatabase), 0o755); err != nil {
			log.Printf("WARNING: creating %s: %v", filepath.Dir(gc.SQLDatabase), err)
		}
		audit, err := server.OpenAuditDB(gc.SQLDatabase, gc.SQLTimeout)
		if err != nil {
			log.Printf("WARNING: failed to open SQL audit %s: %v", gc.SQLDatabase, err)
		} else {
			g.Audit = audit
			defer audit.Close()
			log.Printf("SQL audit enabled, database: %s", gc.SQLDatabase)
		}
	}

	if !*skipCheck {
		r := g.RunDBCK(false)
		log.Printf("Startup check: %s", r)
	}

	g.StartDBCKTimer(time.Duration(gc.DBCKInterval) * time.Second)
	g.StartAutoSave(gc.AutosaveInterval)
	g.StartQueueProcessor()
	if gc.DBCKInterval > 0 {
		log.Printf("dbck timer: every %ds (full=%v)", gc.DBCKInterval, gc.DBCKFullOnTimer)
	}

	if g.ConfPath != "" {
		stop, err := g.WatchConfig()
		if err != nil {
			log.Printf("WARNING: config watcher: %v", err)
		} else {
			defer stop()
		}
	}

	var adm *admin.Admin
	if gc.WebEnabled {
		dataDir := "."
		if *confFile != "" {
			dataDir = filepath.Dir(*confFile)
		}
		adm = admin.New(g, admin.ConfigFromGame(*gc, dataDir))
		go func() {
			if err := adm.Start(); err != nil {
				log.Fatalf("Admin server error: %v", err)
			}
		}()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	log.Printf("%s is up", gc.MudName)
	<-ctx.Done()
	log.Printf("Shutting down...")

	if adm != nil {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := adm.Stop(sctx); err != nil {
			log.Printf("admin shutdown: %v", err)
		}
		scancel()
	}
	g.Stop()
	if store != nil {
		if err := g.Save(); err != nil {
			log.Printf("Final save failed: %v", err)
		}
	}
}

// loadDatabase opens the bolt store when one is configured, importing
// the flatfile into it when it is empty or an import is forced. Without a
// bolt path the flatfile is loaded into memory only.
func loadDatabase(flatPath, boltPath string, forceImport bool) (*gamedb.Database, *boltstore.Store) {
	if boltPath == "" {
		log.Printf("Loading database from %s...", flatPath)
		db, err := flatfile.Load(flatPath)
		if err != nil {
			log.Fatalf("Error loading database: %v", err)
		}
		log.Printf("Database loaded: %d objects", db.Top())
		return db, nil
	}

	if err := os.MkdirAll(filepath.Dir(boltPath), 0o755); err != nil {
		log.Fatalf("Error creating %s: %v", filepath.Dir(boltPath), err)
	}
	store, err := boltstore.Open(boltPath)
	if err != nil {
		log.Fatalf("Error opening bolt database: %v", err)
	}

	if !forceImport && store.HasData() {
		log.Printf("Loading database from bbolt: %s", boltPath)
		db, err := store.Load()
		if err != nil {
			log.Fatalf("Error loading from bolt: %v", err)
		}
		return db, store
	}

	if flatPath == "" {
		log.Fatalf("Flatfile path (-db or MUSH_DB) required for initial import into bbolt")
	}
	log.Printf("Importing flatfile %s into bbolt %s...", flatPath, boltPath)
	db, err := flatfile.Load(flatPath)
	if err != nil {
		log.Fatalf("Error parsing flatfile: %v", err)
	}
	if err := store.Save(db); err != nil {
		log.Fatalf("Error importing into bolt: %v", err)
	}
	log.Printf("Import complete: %d objects", db.Top())
	return db, store
}
