package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/crystal-mush/mushkeeper/pkg/gamedb"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestLoadGameConfYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "game.yaml")
	writeFile(t, path, `
mud_name: Crystal
dbck_interval: 120
digcost: 25
money_name_singular: shard
money_name_plural: shards
db_path: data/game.bolt
typed_quotas: true
`)

	gc, err := LoadGameConf(path)
	if err != nil {
		t.Fatalf("LoadGameConf: %v", err)
	}
	if gc.MudName != "Crystal" || gc.DBCKInterval != 120 || gc.DigCost != 25 || !gc.TypedQuotas {
		t.Errorf("conf = %+v", gc)
	}
	if gc.OpenCost != 1 || gc.ReportKeep != 50 {
		t.Errorf("defaults lost: opencost %d, report_keep %d", gc.OpenCost, gc.ReportKeep)
	}
	if want := filepath.Join(dir, "data", "game.bolt"); gc.DBPath != want {
		t.Errorf("db_path = %q, want %q", gc.DBPath, want)
	}
	if gc.MoneyName(1) != "shard" || gc.MoneyName(3) != "shards" {
		t.Errorf("money names = %q/%q", gc.MoneyName(1), gc.MoneyName(3))
	}
}

func TestLoadGameConfLegacy(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "costs.conf"), "digcost 30\nsacrifice_factor 4\n")
	path := filepath.Join(dir, "netmush.conf")
	writeFile(t, path, `# netmush.conf
mud_name Crystal MUSH
check_interval 300
include costs.conf
typed_quotas yes
player_starting_room 5
default_home 2
@admin ignored
master_room 2
sql_database /var/lib/audit.sqlite
`)

	gc, err := LoadGameConf(path)
	if err != nil {
		t.Fatalf("LoadGameConf: %v", err)
	}
	if gc.MudName != "Crystal MUSH" || gc.DBCKInterval != 300 || !gc.TypedQuotas {
		t.Errorf("conf = %+v", gc)
	}
	if gc.DigCost != 30 || gc.SacrificeFactor != 4 {
		t.Errorf("include not applied: digcost %d, sacrifice_factor %d", gc.DigCost, gc.SacrificeFactor)
	}
	if len(gc.Included) != 1 || gc.Included[0] != filepath.Join(dir, "costs.conf") {
		t.Errorf("included = %v", gc.Included)
	}
	if gc.SQLDatabase != "/var/lib/audit.sqlite" {
		t.Errorf("absolute sql_database rewritten to %q", gc.SQLDatabase)
	}

	costs := gc.Costs()
	if costs.DigCost != 30 || costs.SacFactor != 4 || costs.OneCoin != "penny" {
		t.Errorf("costs = %+v", costs)
	}
	homes := gc.Homes()
	if homes.StartRoom != 5 || homes.DefaultHome != 2 || homes.StartHome != 0 {
		t.Errorf("homes = %+v", homes)
	}
}

func TestLoadGameConfMissing(t *testing.T) {
	if _, err := LoadGameConf(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestWatchConfigReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "game.yaml")
	writeFile(t, path, "mud_name: Before\n")
	gc, err := LoadGameConf(path)
	if err != nil {
		t.Fatalf("LoadGameConf: %v", err)
	}

	g := NewGame(gamedb.NewDatabase(), gc)
	t.Cleanup(g.Stop)
	g.ConfPath = path
	stop, err := g.WatchConfig()
	if err != nil {
		t.Fatalf("WatchConfig: %v", err)
	}
	defer stop()

	writeFile(t, path, "mud_name: After\ndbck_interval: 60\n")

	deadline := time.Now().Add(5 * time.Second)
	for {
		g.mu.Lock()
		name := g.Conf.MudName
		g.mu.Unlock()
		if name == "After" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("config not reloaded, mud_name still %q", name)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestWatchConfigNeedsPath(t *testing.T) {
	g := NewGame(gamedb.NewDatabase(), nil)
	t.Cleanup(g.Stop)
	if _, err := g.WatchConfig(); err == nil {
		t.Error("expected an error without a config path")
	}
}
