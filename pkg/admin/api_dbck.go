package admin

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/crystal-mush/mushkeeper/pkg/dbck"
	"github.com/crystal-mush/mushkeeper/pkg/gamedb"
)

// handleDBCK handles POST /api/dbck[?full=1]
func (a *Admin) handleDBCK(w http.ResponseWriter, r *http.Request) {
	full := false
	switch r.URL.Query().Get("full") {
	case "1", "true", "yes":
		full = true
	}
	writeJSON(w, http.StatusOK, a.game.RunDBCK(full))
}

// handleLastReport handles GET /api/dbck/last
func (a *Admin) handleLastReport(w http.ResponseWriter, r *http.Request) {
	rep := a.game.LastReport()
	if rep == nil {
		writeError(w, http.StatusNotFound, "no dbck pass has run yet")
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// handleFreelist handles POST /api/freelist {"ref": N}
func (a *Admin) handleFreelist(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Ref *int `json:"ref"`
	}
	if err := readJSON(r, &req); err != nil || req.Ref == nil {
		writeError(w, http.StatusBadRequest, "expected {\"ref\": <dbref>}")
		return
	}
	msg, err := a.game.PlaceOnFreelist(gamedb.DBRef(*req.Ref).String())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": msg})
	case errors.Is(err, dbck.ErrNoMatch):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusConflict, err.Error())
	}
}

// handleReports handles GET /api/reports[?limit=N]. The SQL audit is
// preferred; without it the bolt report history is served.
func (a *Admin) handleReports(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	switch {
	case a.game.Audit != nil:
		runs, err := a.game.Audit.Runs(limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"source": "sql", "runs": runs})
	case a.game.Store != nil:
		reports, err := a.game.Store.Reports(limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"source": "bolt", "reports": reports})
	default:
		writeError(w, http.StatusNotFound, "no report history configured")
	}
}

// handleFindings handles GET /api/reports/{id}/findings
func (a *Admin) handleFindings(w http.ResponseWriter, r *http.Request) {
	if a.game.Audit == nil {
		writeError(w, http.StatusNotFound, "SQL audit is not enabled")
		return
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}
	rows, err := a.game.Audit.Findings(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run_id": id, "findings": rows})
}

// handleHistory handles GET /api/objects/{dbref}/history
func (a *Admin) handleHistory(w http.ResponseWriter, r *http.Request) {
	if a.game.Audit == nil {
		writeError(w, http.StatusNotFound, "SQL audit is not enabled")
		return
	}
	n, err := strconv.Atoi(r.PathValue("dbref"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid dbref")
		return
	}
	rows, err := a.game.Audit.History(gamedb.DBRef(n))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"object": n, "findings": rows})
}
