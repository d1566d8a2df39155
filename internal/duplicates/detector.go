// Package duplicates flags existing person records that probably describe
// the same individual as a candidate name and birthdate. Results are advisory
// and never block record creation.
package duplicates

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"

	"civicq/records-service/internal/models"
	"civicq/records-service/internal/store"
	"civicq/records-service/internal/telemetry"
)

type Confidence string

const (
	High   Confidence = "high"
	Medium Confidence = "medium"
	Low    Confidence = "low"
)

func (c Confidence) rank() int {
	switch c {
	case High:
		return 0
	case Medium:
		return 1
	default:
		return 2
	}
}

const (
	DefaultLimit = 10
	// FuzzyThreshold is the largest edit distance, relative to the longer
	// first name, still treated as a likely typo.
	FuzzyThreshold = 0.2
)

type Query struct {
	FirstName string
	LastName  string
	Birthdate models.Date
	ExcludeID string
}

type Match struct {
	Person     models.Person `json:"person"`
	Confidence Confidence    `json:"confidence"`
	Reason     string        `json:"reason"`
	// Distance is the relative first-name edit distance, 0 for identical
	// normalized names.
	Distance float64 `json:"distance"`
}

type Detector struct {
	ledger store.Ledger
	limit  int
}

func New(ledger store.Ledger) *Detector {
	return &Detector{ledger: ledger, limit: DefaultLimit}
}

// Find returns matches most-confident first, capped at the detector limit.
func (d *Detector) Find(ctx context.Context, q Query) ([]Match, error) {
	ctx, span := telemetry.Tracer("duplicates").Start(ctx, "duplicates.Find")
	defer span.End()

	q.FirstName = strings.TrimSpace(q.FirstName)
	q.LastName = strings.TrimSpace(q.LastName)
	if q.FirstName == "" || q.LastName == "" {
		return nil, store.Validationf("first_name and last_name are required")
	}
	if q.Birthdate.IsZero() {
		return nil, store.Validationf("birthdate is required")
	}

	var candidates []models.Person
	err := d.ledger.View(ctx, func(v store.View) error {
		byBirthdate, err := v.ListPersonsByBirthdate(ctx, q.Birthdate)
		if err != nil {
			return err
		}
		byLastName, err := v.ListPersonsByLastNameKey(ctx, models.NormalizeName(q.LastName))
		if err != nil {
			return err
		}
		candidates = mergeCandidates(q.ExcludeID, byBirthdate, byLastName)
		return nil
	})
	if err != nil {
		return nil, err
	}

	matches := make([]Match, 0)
	for _, person := range candidates {
		if m, ok := Score(q, person); ok {
			matches = append(matches, m)
		}
	}
	slices.SortFunc(matches, compareMatches)
	if len(matches) > d.limit {
		matches = matches[:d.limit]
	}
	return matches, nil
}

func mergeCandidates(excludeID string, groups ...[]models.Person) []models.Person {
	seen := map[string]bool{}
	out := make([]models.Person, 0)
	for _, group := range groups {
		for _, p := range group {
			if p.PersonID == excludeID || seen[p.PersonID] {
				continue
			}
			seen[p.PersonID] = true
			out = append(out, p)
		}
	}
	return out
}

// Score classifies a single candidate against the query.
func Score(q Query, p models.Person) (Match, bool) {
	sameBirthdate := p.Birthdate == q.Birthdate
	firstKey, lastKey := models.NormalizeName(q.FirstName), models.NormalizeName(q.LastName)
	otherFirstKey, otherLastKey := models.NormalizeName(p.FirstName), p.LastNameKey()

	if sameBirthdate && strings.TrimSpace(p.FirstName) == strings.TrimSpace(q.FirstName) && strings.TrimSpace(p.LastName) == strings.TrimSpace(q.LastName) {
		return Match{Person: p, Confidence: High, Reason: "same first name, last name and birthdate"}, true
	}
	if lastKey != otherLastKey {
		return Match{}, false
	}
	if sameBirthdate {
		if firstKey == otherFirstKey {
			return Match{Person: p, Confidence: Medium, Reason: "same name and birthdate, differs only in case or formatting"}, true
		}
		if dist := relativeDistance(firstKey, otherFirstKey); dist <= FuzzyThreshold {
			return Match{Person: p, Confidence: Medium, Reason: "same last name and birthdate, similar first name", Distance: dist}, true
		}
	}
	if p.Birthdate.Year == q.Birthdate.Year {
		return Match{Person: p, Confidence: Low, Reason: "same last name and birth year", Distance: relativeDistance(firstKey, otherFirstKey)}, true
	}
	return Match{}, false
}

func relativeDistance(a, b string) float64 {
	longest := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	if longest == 0 {
		return 0
	}
	return float64(levenshtein.ComputeDistance(a, b)) / float64(longest)
}

func compareMatches(a, b Match) int {
	if c := cmp.Compare(a.Confidence.rank(), b.Confidence.rank()); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Distance, b.Distance); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Person.LastName+" "+a.Person.FirstName, b.Person.LastName+" "+b.Person.FirstName); c != 0 {
		return c
	}
	return cmp.Compare(a.Person.PersonID, b.Person.PersonID)
}
