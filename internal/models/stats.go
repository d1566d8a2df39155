package models

import "time"

// DimensionAll is the snapshot key covering every locality.
const DimensionAll = "all"

// Counts is the additive part of a statistics snapshot. Every field is a
// plain counter so deltas can be applied with Add.
type Counts struct {
	Total             int64 `json:"total"`
	Male              int64 `json:"male"`
	Female            int64 `json:"female"`
	Minors            int64 `json:"minors"`
	Adults            int64 `json:"adults"`
	Seniors           int64 `json:"seniors"`
	PWD               int64 `json:"pwd"`
	SoloParents       int64 `json:"solo_parents"`
	Indigenous        int64 `json:"indigenous"`
	Voters            int64 `json:"voters"`
	Pending           int64 `json:"pending"`
	Deceased          int64 `json:"deceased"`
	Moved             int64 `json:"moved"`
	RequestsCompleted int64 `json:"requests_completed"`
	Revenue           int64 `json:"revenue"`
}

func (c Counts) Add(o Counts) Counts {
	return Counts{
		Total:             c.Total + o.Total,
		Male:              c.Male + o.Male,
		Female:            c.Female + o.Female,
		Minors:            c.Minors + o.Minors,
		Adults:            c.Adults + o.Adults,
		Seniors:           c.Seniors + o.Seniors,
		PWD:               c.PWD + o.PWD,
		SoloParents:       c.SoloParents + o.SoloParents,
		Indigenous:        c.Indigenous + o.Indigenous,
		Voters:            c.Voters + o.Voters,
		Pending:           c.Pending + o.Pending,
		Deceased:          c.Deceased + o.Deceased,
		Moved:             c.Moved + o.Moved,
		RequestsCompleted: c.RequestsCompleted + o.RequestsCompleted,
		Revenue:           c.Revenue + o.Revenue,
	}
}

func (c Counts) Negate() Counts {
	return Counts{}.Sub(c)
}

func (c Counts) Sub(o Counts) Counts {
	return c.Add(Counts{
		Total:             -o.Total,
		Male:              -o.Male,
		Female:            -o.Female,
		Minors:            -o.Minors,
		Adults:            -o.Adults,
		Seniors:           -o.Seniors,
		PWD:               -o.PWD,
		SoloParents:       -o.SoloParents,
		Indigenous:        -o.Indigenous,
		Voters:            -o.Voters,
		Pending:           -o.Pending,
		Deceased:          -o.Deceased,
		Moved:             -o.Moved,
		RequestsCompleted: -o.RequestsCompleted,
		Revenue:           -o.Revenue,
	})
}

func (c Counts) IsZero() bool {
	return c == Counts{}
}

type StatisticsSnapshot struct {
	Dimension string `json:"dimension"`
	Counts
	// AgeAsOf is the date the age brackets are evaluated at. Every delta
	// applied to the snapshot uses it, so a person leaves the bracket they
	// were counted in.
	AgeAsOf     Date      `json:"age_as_of"`
	LastUpdated time.Time `json:"last_updated"`
}
