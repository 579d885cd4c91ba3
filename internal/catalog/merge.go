package catalog

import (
	"encoding/json"
	"sort"
	"strconv"
	"sync"

	"xpfinance.app/internal/profile"
)

// Merged is the canonical catalog: one entry per id.
type Merged struct {
	byID   map[string]Item
	ids    []string
	Digest string
}

// Merge overlays remote display fields on the static catalog.
//
// For ids declared statically only name and image are taken from remote;
// source, price and requiredPass stay static. Remote-only items are inserted
// when their unlock rule is coherent and dropped otherwise. Each type with a
// cap keeps its first cap items in natural id order.
func Merge(static *Static, remote []Item, caps map[profile.Slot]int) *Merged {
	m := &Merged{byID: map[string]Item{}}
	if static != nil {
		for _, it := range static.Items {
			m.byID[it.ID] = it
		}
	}
	for _, r := range remote {
		if r.ID == "" {
			continue
		}
		base, declared := staticItem(static, r.ID)
		if !declared {
			if r.Valid() {
				m.byID[r.ID] = r
			}
			continue
		}
		if r.Name != "" {
			base.Name = r.Name
		}
		if r.Image != "" {
			base.Image = r.Image
		}
		m.byID[r.ID] = base
	}

	byType := map[profile.Slot][]string{}
	for id, it := range m.byID {
		byType[it.Type] = append(byType[it.Type], id)
	}
	for slot, ids := range byType {
		sort.Slice(ids, func(i, j int) bool { return naturalLess(ids[i], ids[j]) })
		if n, ok := caps[slot]; ok && len(ids) > n {
			for _, id := range ids[n:] {
				delete(m.byID, id)
			}
		}
	}

	m.ids = make([]string, 0, len(m.byID))
	for id := range m.byID {
		m.ids = append(m.ids, id)
	}
	sort.Slice(m.ids, func(i, j int) bool { return naturalLess(m.ids[i], m.ids[j]) })
	b, _ := json.Marshal(m.Items())
	m.Digest = sha256Hex(b)
	return m
}

func staticItem(s *Static, id string) (Item, bool) {
	if s == nil {
		return Item{}, false
	}
	it, ok := s.ByID[id]
	return it, ok
}

// Get returns the item for id.
func (m *Merged) Get(id string) (Item, bool) {
	if m == nil {
		return Item{}, false
	}
	it, ok := m.byID[id]
	return it, ok
}

// Len is the number of items.
func (m *Merged) Len() int {
	if m == nil {
		return 0
	}
	return len(m.ids)
}

// Items returns every item in natural id order.
func (m *Merged) Items() []Item {
	if m == nil {
		return nil
	}
	out := make([]Item, 0, len(m.ids))
	for _, id := range m.ids {
		out = append(out, m.byID[id])
	}
	return out
}

// OfType returns the items of one type in natural id order.
func (m *Merged) OfType(slot profile.Slot) []Item {
	var out []Item
	for _, it := range m.Items() {
		if it.Type == slot {
			out = append(out, it)
		}
	}
	return out
}

// Cache memoizes Merge for a fixed static catalog, recomputing only when
// the remote item set changes.
type Cache struct {
	static *Static
	caps   map[profile.Slot]int

	mu           sync.Mutex
	remoteDigest string
	merged       *Merged
}

func NewCache(static *Static, caps map[profile.Slot]int) *Cache {
	return &Cache{static: static, caps: caps}
}

// Static returns the static catalog the cache merges over.
func (c *Cache) Static() *Static { return c.static }

// Merge returns the merged catalog for remote. A nil remote means the
// remote catalog is unavailable and the static catalog is used alone.
func (c *Cache) Merge(remote []Item) *Merged {
	b, _ := json.Marshal(remote)
	digest := sha256Hex(b)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.merged != nil && digest == c.remoteDigest {
		return c.merged
	}
	c.merged = Merge(c.static, remote, c.caps)
	c.remoteDigest = digest
	return c.merged
}

// Last returns the most recent merge, or the static-only merge.
func (c *Cache) Last() *Merged {
	c.mu.Lock()
	m := c.merged
	c.mu.Unlock()
	if m != nil {
		return m
	}
	return c.Merge(nil)
}

// naturalLess orders ids so that digit runs compare numerically:
// frame_2 < frame_10.
func naturalLess(a, b string) bool {
	for a != "" && b != "" {
		ca, ra := chunk(a)
		cb, rb := chunk(b)
		if ca != cb {
			na, errA := strconv.ParseUint(ca, 10, 64)
			nb, errB := strconv.ParseUint(cb, 10, 64)
			switch {
			case errA == nil && errB == nil:
				if na != nb {
					return na < nb
				}
				return len(ca) < len(cb)
			case errA == nil:
				return true
			case errB == nil:
				return false
			default:
				return ca < cb
			}
		}
		a, b = ra, rb
	}
	return len(a) < len(b)
}

func chunk(s string) (string, string) {
	digit := s[0] >= '0' && s[0] <= '9'
	i := 1
	for i < len(s) && (s[i] >= '0' && s[i] <= '9') == digit {
		i++
	}
	return s[:i], s[i:]
}
