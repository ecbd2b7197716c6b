package gamedb

import (
	"fmt"
	"strconv"
	"strings"
)

// Quota attributes hold five space-separated counts: the total, then one
// per buildable kind.
const (
	AttrRQuota = 38 // remaining (relative) quota
	AttrQuota  = 49 // absolute quota
)

// Quota slots within a quota attribute.
const (
	QuotaAll = iota
	QuotaRoom
	QuotaExit
	QuotaThing
	QuotaPlayer
)

// QuotaSlot maps an object kind to its typed quota slot, or QuotaAll for
// kinds that carry no quota of their own.
func QuotaSlot(kind ObjectType) int {
	switch kind {
	case TypeRoom:
		return QuotaRoom
	case TypeExit:
		return QuotaExit
	case TypeThing:
		return QuotaThing
	case TypePlayer:
		return QuotaPlayer
	}
	return QuotaAll
}

// Quotas parses a quota attribute. Missing or unparseable slots read as 0.
func (o *Object) Quotas(num int) [5]int {
	var q [5]int
	val, _ := o.GetAttr(num)
	for i, word := range strings.Fields(val) {
		if i >= len(q) {
			break
		}
		q[i], _ = strconv.Atoi(word)
	}
	return q
}

// SetQuotas rewrites a quota attribute.
func (o *Object) SetQuotas(num int, q [5]int) {
	o.SetAttr(num, fmt.Sprintf("%d %d %d %d %d", q[0], q[1], q[2], q[3], q[4]))
}

// AddQuota credits delta to the remaining quota. With typed quotas the
// kind's own slot moves along with the total.
func (o *Object) AddQuota(kind ObjectType, delta int, typed bool) {
	q := o.Quotas(AttrRQuota)
	q[QuotaAll] += delta
	if slot := QuotaSlot(kind); typed && slot != QuotaAll {
		q[slot] += delta
	}
	o.SetQuotas(AttrRQuota, q)
}
