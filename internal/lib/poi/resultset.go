package poi

import (
	"fmt"
	"strings"
	"sync"
)

// DefaultDisplayLimit caps the textual service list
const DefaultDisplayLimit = 50

// ResultSet holds records keyed by stable id in discovery order. It is safe
// for concurrent use.
type ResultSet struct {
	mu    sync.RWMutex
	order []string
	byID  map[string]Record
}

// NewResultSet creates an empty result set
func NewResultSet() *ResultSet {
	return &ResultSet{byID: make(map[string]Record)}
}

// Add inserts a record unless its id is already present. The first
// occurrence wins; a later duplicate never overwrites name or category.
func (s *ResultSet) Add(r Record) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[r.ID]; exists {
		return false
	}
	s.byID[r.ID] = r
	s.order = append(s.order, r.ID)
	return true
}

// Update replaces the stored copy of an existing record, e.g. to attach
// route proximity. Unknown ids are ignored.
func (s *ResultSet) Update(r Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[r.ID]; exists {
		s.byID[r.ID] = r
	}
}

// Get returns the record with the given id
func (s *ResultSet) Get(id string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.byID[id]
	return r, ok
}

// Len returns the number of distinct records
func (s *ResultSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Records returns a copy of all records in discovery order
func (s *ResultSet) Records() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, len(s.order))
	for i, id := range s.order {
		out[i] = s.byID[id]
	}
	return out
}

// Reset empties the set
func (s *ResultSet) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = nil
	s.byID = make(map[string]Record)
}

// replace swaps the contents for records, deduplicated in order
func (s *ResultSet) replace(records []Record) int {
	order := make([]string, 0, len(records))
	byID := make(map[string]Record, len(records))
	for _, r := range records {
		if _, exists := byID[r.ID]; exists {
			continue
		}
		byID[r.ID] = r
		order = append(order, r.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = order
	s.byID = byID
	return len(order)
}

// CountByCategory tallies records per category
func (s *ResultSet) CountByCategory() map[Category]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[Category]int)
	for _, r := range s.byID {
		counts[r.Category]++
	}
	return counts
}

// Listing is the capped, display-ready view of a result set
type Listing struct {
	Items []Record `json:"items"`
	Total int      `json:"total"`
	More  int      `json:"more"`
}

// Display returns at most limit records in discovery order plus the count of
// records left out. A non-positive limit uses DefaultDisplayLimit.
func (s *ResultSet) Display(limit int) Listing {
	if limit <= 0 {
		limit = DefaultDisplayLimit
	}

	records := s.Records()
	listing := Listing{Total: len(records)}
	if len(records) > limit {
		listing.Items = records[:limit]
		listing.More = len(records) - limit
	} else {
		listing.Items = records
	}
	return listing
}

// String renders the listing as plain text, one service per line
func (l Listing) String() string {
	if l.Total == 0 {
		return "No nearby services found."
	}

	var b strings.Builder
	for _, r := range l.Items {
		fmt.Fprintf(&b, "%s (%s)\n", r.Name, r.Kind)
	}
	if l.More > 0 {
		fmt.Fprintf(&b, "+%d more\n", l.More)
	}
	return b.String()
}
