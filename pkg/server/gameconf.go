package server

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/crystal-mush/mushkeeper/pkg/dbck"
	"github.com/crystal-mush/mushkeeper/pkg/gamedb"
	"gopkg.in/yaml.v3"
)

// GameConf holds game-level configuration parameters.
// Supports both YAML (.yaml/.yml) and legacy TinyMUSH text (.conf) formats.
type GameConf struct {
	// --- Identity ---
	MudName string `yaml:"mud_name"`

	// --- Key rooms ---
	GodDBRef           int `yaml:"god_dbref"`
	DefaultHome        int `yaml:"default_home"`
	PlayerStartingRoom int `yaml:"player_starting_room"`
	PlayerStartingHome int `yaml:"player_starting_home"`

	// --- Economy ---
	DigCost           int    `yaml:"digcost"`
	OpenCost          int    `yaml:"opencost"`
	RobotCost         int    `yaml:"robotcost"`
	CreateMin         int    `yaml:"createmin"`
	CreateMax         int    `yaml:"createmax"`
	SacrificeFactor   int    `yaml:"sacrifice_factor"`
	SacrificeAdjust   int    `yaml:"sacrifice_adjust"`
	PayLimit          int    `yaml:"paylimit"`
	MoneyNameSingular string `yaml:"money_name_singular"`
	MoneyNamePlural   string `yaml:"money_name_plural"`

	// --- Quotas ---
	RoomQuota   int  `yaml:"room_quota"`
	ExitQuota   int  `yaml:"exit_quota"`
	ThingQuota  int  `yaml:"thing_quota"`
	PlayerQuota int  `yaml:"player_quota"`
	TypedQuotas bool `yaml:"typed_quotas"`

	// --- Building ---
	BuildingLimit int `yaml:"building_limit"` // 0 = unlimited

	// --- dbck ---
	DBCKInterval    int  `yaml:"dbck_interval"`      // Seconds between passes, 0 = disabled
	DBCKFullOnTimer bool `yaml:"dbck_full_on_timer"` // Timer passes run the full checks

	// --- Persistence ---
	DBPath           string `yaml:"db_path"`           // bbolt file
	AutosaveInterval int    `yaml:"autosave_interval"` // Minutes, 0 = disabled
	ReportKeep       int    `yaml:"report_keep"`       // dbck reports kept in bolt
	ArchiveDir       string `yaml:"archive_dir"`       // Snapshots taken by @archive
	ArchiveKeep      int    `yaml:"archive_keep"`      // 0 = keep every archive

	// --- Allocator ---
	AllocTombstones int  `yaml:"alloc_tombstones"`
	ParanoidAlloc   bool `yaml:"paranoid_alloc"` // Walk buffer pools on every pool alloc and free

	// --- SQL audit ---
	SQLEnabled  bool   `yaml:"sql_enabled"`
	SQLDatabase string `yaml:"sql_database"`
	SQLTimeout  int    `yaml:"sql_timeout"` // Busy timeout in seconds

	// --- Admin web ---
	WebEnabled bool   `yaml:"web_enabled"`
	WebHost    string `yaml:"web_host"`
	WebPort    int    `yaml:"web_port"`
	JWTSecret  string `yaml:"jwt_secret"` // Generated at startup if empty
	JWTExpiry  int    `yaml:"jwt_expiry"` // Seconds

	// --- Internal: files pulled in by legacy "include" lines ---
	Included []string `yaml:"-"`
}

// DefaultGameConf returns a GameConf with TinyMUSH-compatible defaults.
func DefaultGameConf() *GameConf {
	return &GameConf{
		MudName:           "MushKeeper",
		GodDBRef:          1,
		DigCost:           10,
		OpenCost:          1,
		RobotCost:         1000,
		CreateMin:         10,
		CreateMax:         505,
		SacrificeFactor:   5,
		SacrificeAdjust:   -1,
		PayLimit:          10000,
		MoneyNameSingular: "penny",
		MoneyNamePlural:   "pennies",
		RoomQuota:         1,
		ExitQuota:         1,
		ThingQuota:        1,
		PlayerQuota:       1,
		DBCKInterval:      600,
		AutosaveInterval:  30,
		ReportKeep:        50,
		ArchiveDir:        "data/archive",
		ArchiveKeep:       10,
		AllocTombstones:   4096,
		SQLDatabase:       "data/audit.sqlite",
		SQLTimeout:        5,
		WebHost:           "127.0.0.1",
		WebPort:           8480,
		JWTExpiry:         3600,
	}
}

// LoadGameConf loads a game config file. Format is auto-detected by extension:
//   - .yaml / .yml  -> YAML format
//   - .conf / other -> legacy TinyMUSH text format
func LoadGameConf(path string) (*GameConf, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return loadGameConfYAML(path)
	default:
		return loadGameConfLegacy(path)
	}
}

func loadGameConfYAML(path string) (*GameConf, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("gameconf: reading %s: %w", path, err)
	}
	gc := DefaultGameConf()
	if err := yaml.Unmarshal(data, gc); err != nil {
		return nil, fmt.Errorf("gameconf: parsing YAML %s: %w", path, err)
	}
	gc.resolvePaths(filepath.Dir(path))
	return gc, nil
}

func loadGameConfLegacy(path string) (*GameConf, error) {
	gc := DefaultGameConf()
	if err := gc.loadLegacyFile(path, 0); err != nil {
		return nil, err
	}
	gc.resolvePaths(filepath.Dir(path))
	return gc, nil
}

// resolvePaths makes relative data paths relative to the config directory.
func (gc *GameConf) resolvePaths(baseDir string) {
	for _, p := range []*string{&gc.DBPath, &gc.SQLDatabase, &gc.ArchiveDir} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(baseDir, *p)
		}
	}
}

func (gc *GameConf) loadLegacyFile(path string, depth int) error {
	if depth > 10 {
		return fmt.Errorf("gameconf: include depth exceeded (circular include?)")
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("gameconf: %w", err)
	}
	defer f.Close()

	baseDir := filepath.Dir(path)
	ints := gc.intKeys()
	bools := gc.boolKeys()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == '#' || line[0] == '@' {
			continue
		}
		key, val := splitKeyVal(line)
		key = strings.ToLower(key)

		if dst, ok := ints[key]; ok {
			*dst = atoi(val, *dst)
			continue
		}
		if dst, ok := bools[key]; ok {
			*dst = parseBool(val)
			continue
		}

		switch key {
		case "include":
			inc := val
			if !filepath.IsAbs(inc) {
				inc = filepath.Join(baseDir, inc)
			}
			gc.Included = append(gc.Included, inc)
			if err := gc.loadLegacyFile(inc, depth+1); err != nil {
				log.Printf("gameconf: warning: include %s: %v", val, err)
			}
		case "mud_name":
			gc.MudName = val
		case "money_name_singular":
			gc.MoneyNameSingular = val
		case "money_name_plural":
			gc.MoneyNamePlural = val
		case "db_path":
			gc.DBPath = val
		case "sql_database":
			gc.SQLDatabase = val
		case "archive_dir":
			gc.ArchiveDir = val
		case "web_host":
			gc.WebHost = val
		case "jwt_secret":
			gc.JWTSecret = val
		default:
			// Unknown directives silently ignored: a full TinyMUSH conf
			// carries many settings this server does not use.
		}
	}
	return scanner.Err()
}

// intKeys maps legacy conf keys to integer fields. check_interval is the
// TinyMUSH name for the dbck timer.
func (gc *GameConf) intKeys() map[string]*int {
	return map[string]*int{
		"god_dbref":            &gc.GodDBRef,
		"default_home":         &gc.DefaultHome,
		"player_starting_room": &gc.PlayerStartingRoom,
		"player_starting_home": &gc.PlayerStartingHome,
		"digcost":              &gc.DigCost,
		"opencost":             &gc.OpenCost,
		"robotcost":            &gc.RobotCost,
		"createmin":            &gc.CreateMin,
		"createmax":            &gc.CreateMax,
		"sacrifice_factor":     &gc.SacrificeFactor,
		"sacrifice_adjust":     &gc.SacrificeAdjust,
		"paylimit":             &gc.PayLimit,
		"room_quota":           &gc.RoomQuota,
		"exit_quota":           &gc.ExitQuota,
		"thing_quota":          &gc.ThingQuota,
		"player_quota":         &gc.PlayerQuota,
		"building_limit":       &gc.BuildingLimit,
		"dbck_interval":        &gc.DBCKInterval,
		"check_interval":       &gc.DBCKInterval,
		"autosave_interval":    &gc.AutosaveInterval,
		"report_keep":          &gc.ReportKeep,
		"archive_keep":         &gc.ArchiveKeep,
		"alloc_tombstones":     &gc.AllocTombstones,
		"sql_timeout":          &gc.SQLTimeout,
		"web_port":             &gc.WebPort,
		"jwt_expiry":           &gc.JWTExpiry,
	}
}

func (gc *GameConf) boolKeys() map[string]*bool {
	return map[string]*bool{
		"typed_quotas":       &gc.TypedQuotas,
		"dbck_full_on_timer": &gc.DBCKFullOnTimer,
		"sql_enabled":        &gc.SQLEnabled,
		"web_enabled":        &gc.WebEnabled,
		"paranoid_alloc":     &gc.ParanoidAlloc,
	}
}

// splitKeyVal splits a line on the first whitespace (space or tab).
func splitKeyVal(line string) (string, string) {
	for i := 0; i < len(line); i++ {
		if line[i] == ' ' || line[i] == '\t' {
			return line[:i], strings.TrimSpace(line[i+1:])
		}
	}
	return line, ""
}

// Costs returns the economy dbck refunds from.
func (gc *GameConf) Costs() dbck.Costs {
	return dbck.Costs{
		DigCost:     gc.DigCost,
		OpenCost:    gc.OpenCost,
		RobotCost:   gc.RobotCost,
		CreateMax:   gc.CreateMax,
		SacFactor:   gc.SacrificeFactor,
		SacAdjust:   gc.SacrificeAdjust,
		PayLimit:    gc.PayLimit,
		RoomQuota:   gc.RoomQuota,
		ThingQuota:  gc.ThingQuota,
		ExitQuota:   gc.ExitQuota,
		PlayerQuota: gc.PlayerQuota,
		OneCoin:     gc.MoneyNameSingular,
	}
}

// Homes returns the fallback chain used to rehome objects.
func (gc *GameConf) Homes() gamedb.HomePolicy {
	return gamedb.HomePolicy{
		DefaultHome: gamedb.DBRef(gc.DefaultHome),
		StartHome:   gamedb.DBRef(gc.PlayerStartingHome),
		StartRoom:   gamedb.DBRef(gc.PlayerStartingRoom),
	}
}

// MoneyName returns the singular or plural money name.
func (gc *GameConf) MoneyName(amount int) string {
	if amount == 1 {
		return gc.MoneyNameSingular
	}
	return gc.MoneyNamePlural
}

func atoi(s string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return fallback
	}
	return n
}

func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "yes" || s == "true" || s == "1" || s == "on"
}
