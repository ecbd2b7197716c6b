package dbck

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/crystal-mush/mushkeeper/pkg/gamedb"
)

// Phase identifies the pass that produced a finding.
type Phase int

const (
	PhaseFreelist Phase = iota
	PhaseDeadRefs
	PhaseExits
	PhaseContents
	PhasePurge
)

func (p Phase) String() string {
	switch p {
	case PhaseFreelist:
		return "freelist"
	case PhaseDeadRefs:
		return "dead-refs"
	case PhaseExits:
		return "exits"
	case PhaseContents:
		return "contents"
	case PhasePurge:
		return "purge"
	default:
		return "unknown"
	}
}

// MarshalText lets reports carry phase names in JSON.
func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Phase) UnmarshalText(b []byte) error {
	for q := PhaseFreelist; q <= PhasePurge; q++ {
		if q.String() == string(b) {
			*p = q
			return nil
		}
	}
	return fmt.Errorf("dbck: unknown phase %q", b)
}

// Severity says what dbck did about a finding.
type Severity int

const (
	SevAdvisory Severity = iota // logged only
	SevRepair                   // a field was reset or a chain cut
	SevDestroy                  // the object was destroyed or marked GOING
)

func (s Severity) String() string {
	switch s {
	case SevAdvisory:
		return "advisory"
	case SevRepair:
		return "repair"
	case SevDestroy:
		return "destroy"
	default:
		return "unknown"
	}
}

// Finding is one line of the damage log.
type Finding struct {
	ID          string       `json:"id"`
	Phase       Phase        `json:"phase"`
	Category    string       `json:"category"`
	Subcategory string       `json:"subcategory"`
	Severity    Severity     `json:"severity"`
	ObjectRef   gamedb.DBRef `json:"object_ref"`
	Location    gamedb.DBRef `json:"location"`
	Message     string       `json:"message"`
}

func (s Severity) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Severity) UnmarshalText(b []byte) error {
	for q := SevAdvisory; q <= SevDestroy; q++ {
		if q.String() == string(b) {
			*s = q
			return nil
		}
	}
	return fmt.Errorf("dbck: unknown severity %q", b)
}

// Stats counts what a pass changed.
type Stats struct {
	Trimmed     int `json:"trimmed"`
	Freelist    int `json:"freelist"`
	Destroyed   int `json:"destroyed"`
	Orphans     int `json:"orphans"`
	Truncations int `json:"truncations"`
}

// Report is the result of one Run, serialized for the admin API and the
// report store.
type Report struct {
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Full     bool          `json:"full"`
	Top      int           `json:"db_top"`
	Stats    Stats         `json:"stats"`
	Findings []Finding     `json:"findings"`
}

// Summary returns counts of findings per phase.
func (r *Report) Summary() map[Phase]int {
	m := make(map[Phase]int)
	for _, f := range r.Findings {
		m[f.Phase]++
	}
	return m
}

// BySeverity returns counts of findings per severity.
func (r *Report) BySeverity() map[Severity]int {
	m := make(map[Severity]int)
	for _, f := range r.Findings {
		m[f.Severity]++
	}
	return m
}

// Has reports whether any finding on ref contains msg.
func (r *Report) Has(ref gamedb.DBRef, msg string) bool {
	for _, f := range r.Findings {
		if f.ObjectRef == ref && strings.Contains(f.Message, msg) {
			return true
		}
	}
	return false
}

// String renders a one-line summary suitable for a player notification.
func (r *Report) String() string {
	return fmt.Sprintf("dbck: %d findings, %d destroyed, %d orphans, %d truncations, %d on freelist, %d trimmed (%s)",
		len(r.Findings), r.Stats.Destroyed, r.Stats.Orphans, r.Stats.Truncations,
		r.Stats.Freelist, r.Stats.Trimmed, r.Duration.Round(time.Millisecond))
}

// WriteJSON writes the report as JSON to the given writer.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
