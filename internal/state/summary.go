package state

// ChangeSummary classifies every property of a reference record against a
// candidate record.
type ChangeSummary struct {
	Add       []string `json:"addProps"`
	Update    []string `json:"updateProps"`
	Remove    []string `json:"removeProps"`
	Unchanged []string `json:"unchangeProps"`
}

func newSummary() ChangeSummary {
	return ChangeSummary{
		Add:       []string{},
		Update:    []string{},
		Remove:    []string{},
		Unchanged: []string{},
	}
}

// IsChanged reports whether anything was added, updated or removed
func (s ChangeSummary) IsChanged() bool {
	return len(s.Add)+len(s.Update)+len(s.Remove) > 0
}

// Has reports whether property was added, updated or removed
func (s ChangeSummary) Has(property string) bool {
	for _, list := range [][]string{s.Add, s.Update, s.Remove} {
		for _, p := range list {
			if p == property {
				return true
			}
		}
	}
	return false
}

func (s ChangeSummary) clone() ChangeSummary {
	return ChangeSummary{
		Add:       append([]string{}, s.Add...),
		Update:    append([]string{}, s.Update...),
		Remove:    append([]string{}, s.Remove...),
		Unchanged: append([]string{}, s.Unchanged...),
	}
}

func (s *ChangeSummary) sort() {
	SortKeys(s.Add)
	SortKeys(s.Update)
	SortKeys(s.Remove)
	SortKeys(s.Unchanged)
}

// Compare classifies the union of properties of current and next:
//   - Add: undefined in current, defined in next
//   - Remove: defined in current, undefined in next
//   - Update: defined in both with different values
//   - Unchanged: defined in both with equal values
//
// A property undefined on both sides does not exist and is not listed.
func Compare(current, next Record) ChangeSummary {
	s := newSummary()
	for _, k := range unionKeys(current, next) {
		cur, inCur := current[k]
		val, inNext := next[k]
		switch {
		case !inCur:
			s.Add = append(s.Add, k)
		case !inNext:
			s.Remove = append(s.Remove, k)
		case Equal(cur, val):
			s.Unchanged = append(s.Unchanged, k)
		default:
			s.Update = append(s.Update, k)
		}
	}
	return s
}
