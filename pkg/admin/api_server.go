package admin

import (
	"log"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/crystal-mush/mushkeeper/pkg/gamedb"
	"github.com/crystal-mush/mushkeeper/pkg/server"
	"gopkg.in/yaml.v3"
)

func (a *Admin) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"version":        server.Version,
		"uptime_seconds": a.game.Uptime().Seconds(),
	})
}

func (a *Admin) handleStatus(w http.ResponseWriter, r *http.Request) {
	conf := a.game.Config()
	status := map[string]any{
		"mud_name":       conf.MudName,
		"version":        server.Version,
		"uptime_seconds": a.game.Uptime().Seconds(),
		"game":           a.game.GameStats(),
		"queue":          a.game.QueueStats(),
		"sql_audit":      a.game.Audit != nil,
		"store":          a.game.Store != nil,
	}
	if rep := a.game.LastReport(); rep != nil {
		status["last_dbck"] = rep.String()
	}
	writeJSON(w, http.StatusOK, status)
}

func (a *Admin) handleMemory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.game.MemoryStats())
}

// handleGetConfig returns the running config keyed by its YAML names,
// with the JWT secret withheld.
func (a *Admin) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	conf := a.game.Config()
	if conf.JWTSecret != "" {
		conf.JWTSecret = "********"
	}
	data, err := yaml.Marshal(&conf)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to serialize config: "+err.Error())
		return
	}
	var out map[string]any
	if err := yaml.Unmarshal(data, &out); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to parse config: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"path":   a.game.ConfPath,
		"config": out,
	})
}

func (a *Admin) handleSave(w http.ResponseWriter, r *http.Request) {
	if err := a.game.Save(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

// handleArchive handles POST /api/archive {"reason": "..."}. The body is optional.
func (a *Admin) handleArchive(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength != 0 {
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	path, err := a.game.Archive(req.Reason)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "archived", "filename": filepath.Base(path)})
}

func (a *Admin) handleListArchives(w http.ResponseWriter, r *http.Request) {
	list, err := a.game.Archives()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"archives": list})
}

// handleCommand runs a wizard command as God and returns its output.
func (a *Admin) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Command string `json:"command"`
	}
	if err := readJSON(r, &req); err != nil || strings.TrimSpace(req.Command) == "" {
		writeError(w, http.StatusBadRequest, "expected {\"command\": \"...\"}")
		return
	}
	by := actor(r)
	log.Printf("admin: %s ran %q", by, req.Command)
	god := gamedb.DBRef(a.game.Config().GodDBRef)
	writeJSON(w, http.StatusOK, map[string]string{"output": a.game.ExecAdmin(god, req.Command), "by": by})
}
