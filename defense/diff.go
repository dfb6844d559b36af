package defense

import "sort"

// Diff synthesises the records a native observer would have produced for
// the change from prev to cur. It is the basis for hosts that can only
// compare snapshots. A missing cur yields no records: observers of a node
// that left the document are not told about it.
func Diff(prev Element, cur Element, curOK bool, rule Rule) []Record {
	if !curOK {
		return nil
	}
	var out []Record

	if rule.ChildList && !equalStrings(prev.Children, cur.Children) {
		added, removed := childDelta(prev.Children, cur.Children)
		out = append(out, Record{
			Type:    ChildList,
			Target:  cur.ID,
			Added:   added,
			Removed: removed,
		})
	}

	if rule.Attributes {
		names := make([]string, 0, len(prev.Attrs)+len(cur.Attrs))
		seen := make(map[string]bool, cap(names))
		for _, m := range []map[string]string{prev.Attrs, cur.Attrs} {
			for n := range m {
				if !seen[n] {
					seen[n] = true
					names = append(names, n)
				}
			}
		}
		sort.Strings(names)

		for _, n := range names {
			if !rule.Watches(n) {
				continue
			}
			old, hadOld := prev.Attrs[n]
			v, has := cur.Attrs[n]
			if hadOld == has && old == v {
				continue
			}
			out = append(out, Record{
				Type:     Attributes,
				Target:   cur.ID,
				Name:     n,
				OldValue: old,
				Value:    v,
				Present:  has,
			})
		}
	}
	return out
}

// childDelta lists ids that disappeared from or appeared in a child list.
// Children without an id cannot be told apart and are reported as "".
func childDelta(prev, cur []string) (added, removed []string) {
	count := make(map[string]int, len(prev))
	for _, id := range prev {
		count[id]++
	}
	for _, id := range cur {
		if count[id] > 0 {
			count[id]--
			continue
		}
		added = append(added, id)
	}
	for _, id := range prev {
		if count[id] > 0 {
			count[id]--
			removed = append(removed, id)
		}
	}
	return added, removed
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
