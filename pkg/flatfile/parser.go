package flatfile

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/crystal-mush/mushkeeper/pkg/gamedb"
)

// Version flags from db.h
const (
	VMask        = 0x000000ff
	VZone        = 0x00000100
	VLink        = 0x00000200
	VGDBM        = 0x00000400
	VAtrName     = 0x00000800
	VAtrKey      = 0x00001000
	VParent      = 0x00002000
	VAtrMoney    = 0x00008000
	VXFlags      = 0x00010000
	VPowers      = 0x00020000
	V3Flags      = 0x00040000
	VQuoted      = 0x00080000
	VTQuotas     = 0x00100000
	VTimestamps  = 0x00200000
	VVisualAttrs = 0x00400000
)

// Database formats, from the version header letter.
const (
	FUnknown  = 0
	FMush     = 1
	FMux      = 5
	FTinyMUSH = 6
)

const endMarker = "***END OF DUMP***"

// layout says which optional header fields each object record carries.
type layout struct {
	name, zone, link, key, parent, money bool
	flags2, flags3, powers, stamps       bool
}

func defaultLayout() layout {
	return layout{name: true, key: true, money: true}
}

func (l *layout) apply(val int) {
	if val&VGDBM != 0 {
		l.name = val&VAtrName == 0
	}
	l.zone = l.zone || val&VZone != 0
	l.link = l.link || val&VLink != 0
	l.parent = l.parent || val&VParent != 0
	l.flags2 = l.flags2 || val&VXFlags != 0
	l.stamps = l.stamps || val&VTimestamps != 0
	if val&VAtrKey != 0 {
		l.key = false
	}
	if val&VAtrMoney != 0 {
		l.money = false
	}
}

// Parser reads a TinyMUSH flatfile into a dense object table.
type Parser struct {
	r    *bufio.Reader
	db   *gamedb.Database
	line int
	lay  layout
	size int
}

// Load reads a flatfile from disk.
func Load(path string) (*gamedb.Database, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("flatfile: open %s: %w", path, err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads a flatfile. Slots the dump skips, and slots up to the +S size,
// are filled with clean garbage so the table is dense.
func Parse(r io.Reader) (*gamedb.Database, error) {
	p := &Parser{
		r:   bufio.NewReaderSize(r, 256*1024),
		db:  gamedb.NewDatabase(),
		lay: defaultLayout(),
	}
	if err := p.parse(); err != nil {
		return nil, err
	}
	if p.size > p.db.Top() {
		p.db.Grow(p.size)
	}
	return p.db, nil
}

func (p *Parser) parse() error {
	for {
		ch, err := p.peek()
		if err == io.EOF {
			return fmt.Errorf("flatfile: line %d: no end-of-dump marker", p.line)
		}
		if err != nil {
			return fmt.Errorf("flatfile: line %d: %w", p.line, err)
		}
		switch ch {
		case '+':
			err = p.header()
		case '-':
			err = p.misc()
		case '!':
			err = p.object()
		case '*':
			line, _ := p.readLine()
			if strings.TrimSpace(line) != endMarker {
				return fmt.Errorf("flatfile: line %d: bad end marker %q", p.line, line)
			}
			return nil
		case '\n', '\r':
			p.readLine()
		default:
			return fmt.Errorf("flatfile: line %d: unexpected %q", p.line, ch)
		}
		if err != nil {
			return err
		}
	}
}

// header handles +T/+V/+X (version), +S (size), +N (next attr), +A (attr
// definition) and +F (free attr) lines.
func (p *Parser) header() error {
	p.r.ReadByte()
	tag, err := p.r.ReadByte()
	if err != nil {
		return err
	}
	switch tag {
	case 'T', 'X', 'V':
		val, err := p.readInt()
		if err != nil {
			return fmt.Errorf("flatfile: version: %w", err)
		}
		p.db.Format = map[byte]int{'T': FTinyMUSH, 'X': FMux, 'V': FMush}[tag]
		p.db.Version = val & VMask
		p.db.Flags = val &^ VMask
		p.lay.apply(val)
		if tag != 'V' {
			p.lay.flags3 = val&V3Flags != 0
			p.lay.powers = val&VPowers != 0
		}
	case 'S':
		if p.size, err = p.readInt(); err != nil {
			return fmt.Errorf("flatfile: size: %w", err)
		}
	case 'N':
		if p.db.NextAttr, err = p.readInt(); err != nil {
			return fmt.Errorf("flatfile: next attr: %w", err)
		}
	case 'A':
		num, err := p.readInt()
		if err != nil {
			return fmt.Errorf("flatfile: attr def: %w", err)
		}
		def, err := p.readString()
		if err != nil {
			return fmt.Errorf("flatfile: attr def %d: %w", num, err)
		}
		flags, name := 0, def
		if i := strings.IndexByte(def, ':'); i > 0 {
			if n, err := strconv.Atoi(def[:i]); err == nil {
				flags, name = n, def[i+1:]
			}
		}
		p.db.AddAttrDef(num, name, flags)
	default:
		p.readLine()
	}
	return nil
}

func (p *Parser) misc() error {
	p.r.ReadByte()
	tag, err := p.r.ReadByte()
	if err != nil {
		return err
	}
	if tag != 'R' {
		p.readLine()
		return nil
	}
	if p.db.RecordPlayers, err = p.readInt(); err != nil {
		return fmt.Errorf("flatfile: record players: %w", err)
	}
	return nil
}

// object reads one !<dbref> record.
func (p *Parser) object() error {
	p.r.ReadByte()
	n, err := p.readInt()
	if err != nil {
		return fmt.Errorf("flatfile: object dbref: %w", err)
	}
	if n < 0 {
		return fmt.Errorf("flatfile: line %d: negative dbref %d", p.line, n)
	}
	ref := gamedb.DBRef(n)
	obj := &gamedb.Object{DBRef: ref}

	if p.lay.name {
		if obj.Name, err = p.readString(); err != nil {
			return fmt.Errorf("flatfile: #%d name: %w", n, err)
		}
	}

	refs := []struct {
		field string
		on    bool
		dst   *gamedb.DBRef
	}{
		{"location", true, &obj.Location},
		{"zone", p.lay.zone, &obj.Zone},
		{"contents", true, &obj.Contents},
		{"exits", true, &obj.Exits},
		{"link", p.lay.link, &obj.Link},
		{"next", true, &obj.Next},
	}
	for _, f := range refs {
		*f.dst = gamedb.Nothing
		if !f.on {
			continue
		}
		v, err := p.readInt()
		if err != nil {
			return fmt.Errorf("flatfile: #%d %s: %w", n, f.field, err)
		}
		*f.dst = gamedb.DBRef(v)
	}

	var lock string
	if p.lay.key {
		if lock, err = p.readLine(); err != nil {
			return fmt.Errorf("flatfile: #%d lock: %w", n, err)
		}
	}

	ints := []struct {
		field string
		on    bool
		dst   *int
	}{
		{"owner", true, (*int)(&obj.Owner)},
		{"parent", p.lay.parent, (*int)(&obj.Parent)},
		{"pennies", p.lay.money, &obj.Pennies},
		{"flags", true, &obj.Flags[0]},
		{"flags2", p.lay.flags2, &obj.Flags[1]},
		{"flags3", p.lay.flags3, &obj.Flags[2]},
		{"powers", p.lay.powers, &obj.Powers[0]},
		{"powers2", p.lay.powers, &obj.Powers[1]},
	}
	obj.Parent = gamedb.Nothing
	for _, f := range ints {
		if !f.on {
			continue
		}
		if *f.dst, err = p.readInt(); err != nil {
			return fmt.Errorf("flatfile: #%d %s: %w", n, f.field, err)
		}
	}

	if p.lay.stamps {
		acc, err := p.readInt64()
		if err != nil {
			return fmt.Errorf("flatfile: #%d access time: %w", n, err)
		}
		mod, err := p.readInt64()
		if err != nil {
			return fmt.Errorf("flatfile: #%d mod time: %w", n, err)
		}
		obj.LastAccess = time.Unix(acc, 0)
		obj.LastMod = time.Unix(mod, 0)
	}

	if obj.Attrs, err = p.attrs(); err != nil {
		return fmt.Errorf("flatfile: #%d attrs: %w", n, err)
	}
	if lock = strings.TrimSpace(lock); lock != "" {
		if _, ok := obj.GetAttr(gamedb.AttrLock); !ok {
			obj.SetAttr(gamedb.AttrLock, lock)
		}
	}

	p.db.Put(obj)
	return nil
}

// attrs reads the >num/value ... < attribute section.
func (p *Parser) attrs() ([]gamedb.Attribute, error) {
	var out []gamedb.Attribute
	for {
		ch, err := p.peek()
		if err != nil {
			return out, fmt.Errorf("unexpected end of attribute list: %w", err)
		}
		switch ch {
		case '>':
			p.r.ReadByte()
			num, err := p.readInt()
			if err != nil {
				return out, fmt.Errorf("attr number: %w", err)
			}
			val, err := p.readString()
			if err != nil {
				return out, fmt.Errorf("attr %d: %w", num, err)
			}
			if num > 0 {
				out = append(out, gamedb.Attribute{Number: num, Value: val})
			}
		case '<':
			p.readLine()
			return out, nil
		case '\n', '\r':
			p.readLine()
		default:
			return out, fmt.Errorf("line %d: unexpected %q in attribute list", p.line, ch)
		}
	}
}

func (p *Parser) peek() (byte, error) {
	b, err := p.r.Peek(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// readLine returns the rest of the current line without its terminator.
func (p *Parser) readLine() (string, error) {
	line, err := p.r.ReadString('\n')
	p.line++
	if err == io.EOF && line != "" {
		err = nil
	}
	return strings.TrimRight(line, "\r\n"), err
}

func (p *Parser) readInt() (int, error) {
	line, err := p.readLine()
	if err != nil {
		return 0, err
	}
	if line = strings.TrimSpace(line); line == "" {
		return 0, nil
	}
	return strconv.Atoi(line)
}

func (p *Parser) readInt64() (int64, error) {
	line, err := p.readLine()
	if err != nil {
		return 0, err
	}
	if line = strings.TrimSpace(line); line == "" {
		return 0, nil
	}
	return strconv.ParseInt(line, 10, 64)
}

// readString reads a "quoted" string with backslash escapes, or a bare line.
func (p *Parser) readString() (string, error) {
	ch, err := p.peek()
	if err != nil {
		return "", err
	}
	if ch != '"' {
		return p.readLine()
	}
	p.r.ReadByte()
	var buf strings.Builder
	for {
		b, err := p.r.ReadByte()
		if err != nil {
			return buf.String(), err
		}
		switch b {
		case '"':
			if ch, err := p.peek(); err == nil && (ch == '\n' || ch == '\r') {
				p.readLine()
			}
			return buf.String(), nil
		case '\\':
			next, err := p.r.ReadByte()
			if err != nil {
				return buf.String(), err
			}
			switch next {
			case 'n':
				buf.WriteByte('\n')
			case 'r':
				buf.WriteByte('\r')
			case 't':
				buf.WriteByte('\t')
			case '\\', '"':
				buf.WriteByte(next)
			default:
				buf.WriteByte('\\')
				buf.WriteByte(next)
			}
		case '\n':
			p.line++
			buf.WriteByte(b)
		default:
			buf.WriteByte(b)
		}
	}
}
