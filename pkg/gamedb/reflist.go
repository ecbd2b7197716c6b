package gamedb

import (
	"strconv"
	"strings"
)

// RefList parses a space-separated list of #refs stored in attribute num,
// as used by FORWARDLIST and PROPDIR. Unparseable words become Nothing so
// slot positions are preserved.
func (o *Object) RefList(num int) []DBRef {
	val, ok := o.GetAttr(num)
	if !ok {
		return nil
	}
	var refs []DBRef
	for _, word := range strings.Fields(val) {
		word = strings.TrimPrefix(word, "#")
		n, err := strconv.Atoi(word)
		if err != nil {
			refs = append(refs, Nothing)
			continue
		}
		refs = append(refs, DBRef(n))
	}
	return refs
}

// SetRefList rewrites attribute num from refs, skipping Nothing slots.
func (o *Object) SetRefList(num int, refs []DBRef) {
	var parts []string
	for _, r := range refs {
		if r == Nothing {
			continue
		}
		parts = append(parts, r.String())
	}
	o.SetAttr(num, strings.Join(parts, " "))
}
