package korniszon

// The memo maps integer indices to previously pushed objects. Indices are
// assigned sequentially by real picklers, so a growable slice covers the
// common case; anything above memoDense spills to a map so that a hostile
// 4-byte PUT index cannot force a gigantic allocation.
const memoDense = 1 << 16

type memoSlot struct {
	v   any
	set bool
}

type memoTable struct {
	dense  []memoSlot
	sparse map[int]any
	count  int
}

// put stores v at idx, overwriting any previous entry.
func (m *memoTable) put(idx int, v any) {
	if idx < memoDense {
		for len(m.dense) <= idx {
			m.dense = append(m.dense, memoSlot{})
		}
		s := &m.dense[idx]
		if !s.set {
			m.count++
		}
		s.v, s.set = v, true
		return
	}
	if m.sparse == nil {
		m.sparse = make(map[int]any)
	}
	if _, have := m.sparse[idx]; !have {
		m.count++
	}
	m.sparse[idx] = v
}

// get returns the entry at idx with an explicit miss indication.
func (m *memoTable) get(idx int) (any, bool) {
	if idx < memoDense {
		if 0 <= idx && idx < len(m.dense) && m.dense[idx].set {
			return m.dense[idx].v, true
		}
		return nil, false
	}
	v, ok := m.sparse[idx]
	return v, ok
}

// len returns the number of distinct indices set, which is what MEMOIZE
// uses as the next index.
func (m *memoTable) len() int { return m.count }

func (m *memoTable) reset() {
	m.dense = m.dense[:0]
	m.sparse = nil
	m.count = 0
}
