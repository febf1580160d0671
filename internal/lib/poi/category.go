package poi

// Category is the closed set of service kinds shown to travelers
type Category string

const (
	Fuel       Category = "fuel"
	Hospital   Category = "hospital"
	Pharmacy   Category = "pharmacy"
	Clinic     Category = "clinic"
	Restaurant Category = "restaurant"
	Cafe       Category = "cafe"
	FastFood   Category = "fast_food"
	Hotel      Category = "hotel"
	CarRepair  Category = "car_repair"
	Tyres      Category = "tyres"
	Other      Category = "other"
)

// Selector is one tag key/value pair that identifies a category
type Selector struct {
	Key      string
	Value    string
	Category Category
}

// selectors is in classification priority order
var selectors = []Selector{
	{"amenity", "fuel", Fuel},
	{"amenity", "hospital", Hospital},
	{"amenity", "pharmacy", Pharmacy},
	{"amenity", "clinic", Clinic},
	{"amenity", "restaurant", Restaurant},
	{"amenity", "cafe", Cafe},
	{"amenity", "fast_food", FastFood},
	{"tourism", "hotel", Hotel},
	{"shop", "car_repair", CarRepair},
	{"shop", "tyres", Tyres},
}

// AllCategories lists every searchable category in priority order
func AllCategories() []Category {
	categories := make([]Category, len(selectors))
	for i, s := range selectors {
		categories[i] = s.Category
	}
	return categories
}

// SelectorsFor returns the tag selectors for the given categories, in
// priority order. An empty list selects every category; Other has no selector.
func SelectorsFor(categories []Category) []Selector {
	if len(categories) == 0 {
		return append([]Selector(nil), selectors...)
	}

	wanted := make(map[Category]bool, len(categories))
	for _, c := range categories {
		wanted[c] = true
	}

	var out []Selector
	for _, s := range selectors {
		if wanted[s.Category] {
			out = append(out, s)
		}
	}
	return out
}

// Classify maps a tag set to exactly one category. The first matching
// selector wins; anything unmatched is Other.
func Classify(tags map[string]string) Category {
	for _, s := range selectors {
		if tags[s.Key] == s.Value {
			return s.Category
		}
	}
	return Other
}
