package domain

import (
	"strings"
)

// OtherCategory is the catch-all category every set contains.
const OtherCategory = "Other"

// Category is one entry of the fixed category set.
type Category struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
}

// DefaultCategories returns the built-in category set.
func DefaultCategories() []Category {
	return []Category{
		{Name: "Food", Description: "Restaurants, groceries, food delivery, cafes"},
		{Name: "Transport", Description: "Gas stations, public transit, ride-sharing, parking, airlines"},
		{Name: "Shopping", Description: "Retail stores, online shopping, clothing, electronics"},
		{Name: "Entertainment", Description: "Movies, streaming services, games, concerts, sports"},
		{Name: "Bills", Description: "Utilities, phone, internet, insurance, subscriptions"},
		{Name: "Health", Description: "Pharmacies, doctors, hospitals, gyms, health products"},
		{Name: "Income", Description: "Salary, freelance payments, refunds, interest"},
		{Name: "Transfer", Description: "Bank transfers, payments to individuals"},
		{Name: OtherCategory, Description: "Anything that doesn't fit the above categories"},
	}
}

// CategorySet validates and normalizes category names against a fixed set.
// Lookups are case-insensitive and ignore surrounding whitespace.
type CategorySet struct {
	categories []Category
	index      map[string]string // normalized name -> canonical name
}

// NewCategorySet builds a set from cats. OtherCategory is always added.
func NewCategorySet(cats []Category) CategorySet {
	s := CategorySet{index: make(map[string]string, len(cats)+1)}
	for _, c := range cats {
		key := normalizeCategory(c.Name)
		if key == "" {
			continue
		}
		if _, dup := s.index[key]; dup {
			continue
		}
		s.index[key] = c.Name
		s.categories = append(s.categories, c)
	}
	if _, ok := s.index[normalizeCategory(OtherCategory)]; !ok {
		s.index[normalizeCategory(OtherCategory)] = OtherCategory
		s.categories = append(s.categories, Category{Name: OtherCategory})
	}
	return s
}

// Normalize maps name onto its canonical spelling. Unknown names map to
// OtherCategory and report false.
func (s CategorySet) Normalize(name string) (string, bool) {
	if canonical, ok := s.index[normalizeCategory(name)]; ok {
		return canonical, true
	}
	return OtherCategory, false
}

// Contains reports whether name is exactly one of the canonical names.
func (s CategorySet) Contains(name string) bool {
	canonical, ok := s.index[normalizeCategory(name)]
	return ok && canonical == name
}

// Names returns the canonical names in declaration order.
func (s CategorySet) Names() []string {
	names := make([]string, len(s.categories))
	for i, c := range s.categories {
		names[i] = c.Name
	}
	return names
}

// Categories returns the declared categories in order.
func (s CategorySet) Categories() []Category {
	out := make([]Category, len(s.categories))
	copy(out, s.categories)
	return out
}

// normalizeCategory normalizes a category name for comparison.
// Converts to uppercase and trims whitespace for case-insensitive comparison.
func normalizeCategory(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

// Describe renders the set as a bullet list for model instructions.
func (s CategorySet) Describe() string {
	var b strings.Builder
	for _, c := range s.categories {
		b.WriteString("- " + c.Name)
		if c.Description != "" {
			b.WriteString(": " + c.Description)
		}
		b.WriteString("\n")
	}
	return b.String()
}
