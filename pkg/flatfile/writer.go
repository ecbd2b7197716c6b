package flatfile

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/crystal-mush/mushkeeper/pkg/gamedb"
)

// writeVersion is the TinyMUSH 3 layout Write produces: every optional
// header field present, locks kept as attributes.
const writeVersion = 1 | VZone | VLink | VAtrName | VAtrKey | VParent |
	VXFlags | V3Flags | VPowers | VQuoted | VTimestamps

// Write dumps the whole table, garbage included, in TinyMUSH 3 format.
func Write(w io.Writer, db *gamedb.Database) error {
	bw := bufio.NewWriter(w)
	wr := &writer{w: bw}

	wr.printf("+T%d\n", writeVersion)
	wr.printf("+S%d\n", db.Top())
	wr.printf("+N%d\n", db.NextAttr)

	nums := make([]int, 0, len(db.AttrDefs))
	for num := range db.AttrDefs {
		nums = append(nums, num)
	}
	sort.Ints(nums)
	for _, num := range nums {
		def := db.AttrDefs[num]
		wr.printf("+A%d\n%s\n", num, quote(fmt.Sprintf("%d:%s", def.Flags, def.Name)))
	}

	players := 0
	for _, o := range db.Objects {
		if o != nil && o.ObjType() == gamedb.TypePlayer && !o.IsGoing() {
			players++
		}
	}
	wr.printf("-R%d\n", players)

	for _, o := range db.Objects {
		if o != nil {
			wr.object(o)
		}
	}
	wr.printf("%s\n", endMarker)
	if wr.err != nil {
		return fmt.Errorf("flatfile: write: %w", wr.err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flatfile: write: %w", err)
	}
	return nil
}

// Save writes db to path through a temporary file and a rename.
func Save(path string, db *gamedb.Database) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("flatfile: create %s: %w", tmp, err)
	}
	if err := Write(f, db); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("flatfile: close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("flatfile: rename %s: %w", tmp, err)
	}
	return nil
}

type writer struct {
	w   io.Writer
	err error
}

func (wr *writer) printf(format string, args ...any) {
	if wr.err != nil {
		return
	}
	_, wr.err = fmt.Fprintf(wr.w, format, args...)
}

func (wr *writer) object(o *gamedb.Object) {
	wr.printf("!%d\n%s\n", int(o.DBRef), quote(o.Name))
	for _, v := range []gamedb.DBRef{o.Location, o.Zone, o.Contents, o.Exits, o.Link, o.Next, o.Owner, o.Parent} {
		wr.printf("%d\n", int(v))
	}
	wr.printf("%d\n%d\n%d\n%d\n", o.Pennies, o.Flags[0], o.Flags[1], o.Flags[2])
	wr.printf("%d\n%d\n", o.Powers[0], o.Powers[1])
	wr.printf("%d\n%d\n", unix(o.LastAccess.Unix()), unix(o.LastMod.Unix()))
	for _, a := range o.Attrs {
		if a.Number > 0 {
			wr.printf(">%d\n%s\n", a.Number, quote(a.Value))
		}
	}
	wr.printf("<\n")
}

// unix clamps the zero time, which predates the epoch, to 0.
func unix(t int64) int64 {
	if t < 0 {
		return 0
	}
	return t
}

func quote(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '"', '\\':
			b.WriteByte('\\')
			b.WriteByte(c)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte('"')
	return b.String()
}
