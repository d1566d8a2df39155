// Package stats maintains per-locality population and service rollups.
//
// Two strategies are supported. Incremental applies a signed delta to the
// stored snapshots inside every mutating transaction and relies on periodic
// reconciliation to correct drift. Recompute derives snapshots from the
// ledger on read, optionally through a cache.
package stats

import (
	"context"
	"slices"
	"time"

	"civicq/records-service/internal/logging"
	"civicq/records-service/internal/metrics"
	"civicq/records-service/internal/models"
	"civicq/records-service/internal/store"
	"civicq/records-service/internal/telemetry"
)

type Strategy string

const (
	Incremental Strategy = "incremental"
	Recompute   Strategy = "recompute"
)

const (
	adultAge  = 18
	seniorAge = 60
)

// Cache holds recomputed snapshots between reads.
type Cache interface {
	Get(ctx context.Context, dimension string) (models.StatisticsSnapshot, bool, error)
	Set(ctx context.Context, snapshot models.StatisticsSnapshot) error
	Invalidate(ctx context.Context) error
}

type Options struct {
	Strategy Strategy
	Location *time.Location
	Clock    store.Clock
	Cache    Cache
	Retries  int
}

type Aggregator struct {
	ledger   store.Ledger
	strategy Strategy
	loc      *time.Location
	now      store.Clock
	cache    Cache
	retries  int
}

func New(ledger store.Ledger, opts Options) *Aggregator {
	if opts.Strategy == "" {
		opts.Strategy = Incremental
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Clock == nil {
		opts.Clock = store.SystemClock
	}
	if opts.Retries < 1 {
		opts.Retries = store.DefaultConflictAttempts
	}
	return &Aggregator{
		ledger:   ledger,
		strategy: opts.Strategy,
		loc:      opts.Location,
		now:      opts.Clock,
		cache:    opts.Cache,
		retries:  opts.Retries,
	}
}

func (a *Aggregator) Strategy() Strategy {
	return a.strategy
}

// Contribution is what a single person adds to the snapshots of the
// dimensions they belong to. Demographic counters cover active residents
// only. Pending, deceased and moved persons count toward their status
// counter alone.
func Contribution(p models.Person, at time.Time) models.Counts {
	var c models.Counts
	switch p.Status {
	case models.PersonPending:
		c.Pending = 1
		return c
	case models.PersonDeceased:
		c.Deceased = 1
		return c
	case models.PersonMoved:
		c.Moved = 1
		return c
	}
	c.Total = 1
	switch p.Sex {
	case models.SexMale:
		c.Male = 1
	case models.SexFemale:
		c.Female = 1
	}
	if !p.Birthdate.IsZero() {
		switch age := p.Birthdate.AgeAt(at); {
		case age >= seniorAge:
			c.Seniors = 1
		case age >= adultAge:
			c.Adults = 1
		default:
			c.Minors = 1
		}
	}
	if p.Sectoral.PWD {
		c.PWD = 1
	}
	if p.Sectoral.SoloParent {
		c.SoloParents = 1
	}
	if p.Sectoral.Indigenous {
		c.Indigenous = 1
	}
	if p.Sectoral.Voter {
		c.Voters = 1
	}
	return c
}

// Dimensions lists the snapshot keys a person with this locality rolls up to.
func Dimensions(locality string) []string {
	if locality == "" || locality == models.DimensionAll {
		return []string{models.DimensionAll}
	}
	return []string{models.DimensionAll, locality}
}

type deltas map[string]models.Counts

func (d deltas) add(locality string, c models.Counts) {
	if c.IsZero() {
		return
	}
	for _, dim := range Dimensions(locality) {
		d[dim] = d[dim].Add(c)
	}
}

func inDimension(locality, dim string) bool {
	return slices.Contains(Dimensions(locality), dim)
}

// today is the service-local calendar date of t.
func (a *Aggregator) today(t time.Time) models.Date {
	return models.DateOf(t.In(a.loc))
}

// PersonChanged applies the difference between before and after to the
// stored snapshots. A nil before is a creation and a nil after a deletion.
// Both sides are evaluated at each snapshot's AgeAsOf date.
func (a *Aggregator) PersonChanged(ctx context.Context, tx store.Tx, before, after *models.Person, at time.Time) error {
	if a.strategy != Incremental {
		return nil
	}
	var dims []string
	if before != nil {
		dims = append(dims, Dimensions(before.Locality)...)
	}
	if after != nil {
		dims = append(dims, Dimensions(after.Locality)...)
	}
	return a.apply(ctx, tx, dims, at, func(dim string, asOf models.Date) models.Counts {
		var c models.Counts
		if before != nil && inDimension(before.Locality, dim) {
			c = c.Sub(Contribution(*before, asOf.Time()))
		}
		if after != nil && inDimension(after.Locality, dim) {
			c = c.Add(Contribution(*after, asOf.Time()))
		}
		return c
	})
}

// RequestCompleted counts one completed request and its revenue toward the
// locality recorded on the request.
func (a *Aggregator) RequestCompleted(ctx context.Context, tx store.Tx, request models.Request, at time.Time) error {
	if a.strategy != Incremental {
		return nil
	}
	volume := models.Counts{RequestsCompleted: 1, Revenue: request.TotalPrice}
	return a.apply(ctx, tx, Dimensions(request.Locality), at, func(string, models.Date) models.Counts {
		return volume
	})
}

// apply adds delta(dim, asOf) to each dimension's snapshot. A snapshot seen
// for the first time evaluates ages at the service day of at.
func (a *Aggregator) apply(ctx context.Context, tx store.Tx, dims []string, at time.Time, delta func(dim string, asOf models.Date) models.Counts) error {
	slices.Sort(dims)
	for _, dim := range slices.Compact(dims) {
		snap, found, err := tx.GetSnapshot(ctx, dim)
		if err != nil {
			return err
		}
		if !found {
			snap = models.StatisticsSnapshot{Dimension: dim}
		}
		if snap.AgeAsOf.IsZero() {
			snap.AgeAsOf = a.today(at)
		}
		d := delta(dim, snap.AgeAsOf)
		if d.IsZero() {
			continue
		}
		snap.Counts = snap.Counts.Add(d)
		snap.LastUpdated = at
		if err := tx.PutSnapshot(ctx, snap); err != nil {
			return err
		}
	}
	return nil
}

// Snapshot returns the rollup for a dimension. Unknown dimensions yield an
// all-zero snapshot.
func (a *Aggregator) Snapshot(ctx context.Context, dimension string) (models.StatisticsSnapshot, error) {
	ctx, span := telemetry.Tracer("stats").Start(ctx, "stats.Snapshot")
	defer span.End()
	if dimension == "" {
		return models.StatisticsSnapshot{}, store.Validationf("dimension is required")
	}
	if a.strategy == Recompute {
		return a.recomputed(ctx, dimension)
	}

	snap := models.StatisticsSnapshot{Dimension: dimension}
	err := a.ledger.View(ctx, func(v store.View) error {
		stored, found, err := v.GetSnapshot(ctx, dimension)
		if found {
			snap = stored
		}
		return err
	})
	return snap, err
}

func (a *Aggregator) recomputed(ctx context.Context, dimension string) (models.StatisticsSnapshot, error) {
	if a.cache != nil {
		snap, hit, err := a.cache.Get(ctx, dimension)
		switch {
		case err != nil:
			metrics.StatsCacheLookups.WithLabelValues("error").Inc()
			logging.Ctx(ctx).Warn().Err(err).Str("dimension", dimension).Msg("stats cache read failed")
		case hit:
			metrics.StatsCacheLookups.WithLabelValues("hit").Inc()
			return snap, nil
		default:
			metrics.StatsCacheLookups.WithLabelValues("miss").Inc()
		}
	}

	var all deltas
	now := a.now().UTC()
	asOf := a.today(now)
	err := a.ledger.View(ctx, func(v store.View) error {
		var err error
		all, err = a.compute(ctx, v, asOf)
		return err
	})
	if err != nil {
		return models.StatisticsSnapshot{}, err
	}
	snap := models.StatisticsSnapshot{Dimension: dimension, Counts: all[dimension], AgeAsOf: asOf, LastUpdated: now}
	if a.cache != nil {
		if err := a.cache.Set(ctx, snap); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("dimension", dimension).Msg("stats cache write failed")
		}
	}
	return snap, nil
}

// compute derives every dimension from a full scan of the ledger, with age
// brackets evaluated at asOf.
func (a *Aggregator) compute(ctx context.Context, v store.View, asOf models.Date) (deltas, error) {
	persons, err := v.ListPersons(ctx, store.PersonFilter{})
	if err != nil {
		return nil, err
	}
	out := deltas{models.DimensionAll: {}}
	for _, p := range persons {
		out.add(p.Locality, Contribution(p, asOf.Time()))
	}

	completed, err := v.ListRequests(ctx, store.RequestFilter{Statuses: []string{models.RequestCompleted}})
	if err != nil {
		return nil, err
	}
	for _, r := range completed {
		out.add(r.Locality, models.Counts{RequestsCompleted: 1, Revenue: r.TotalPrice})
	}
	return out, nil
}

// Drift records a stored snapshot that disagreed with recomputation.
type Drift struct {
	Dimension string        `json:"dimension"`
	Stored    models.Counts `json:"stored"`
	Actual    models.Counts `json:"actual"`
}

type Report struct {
	Dimensions int     `json:"dimensions"`
	Corrected  []Drift `json:"corrected"`
	// RolledOver counts snapshots whose age brackets moved to a newer
	// service day without any drift.
	RolledOver int           `json:"rolled_over"`
	Duration   time.Duration `json:"duration"`
}

// Reconcile recomputes every dimension at today's date and overwrites stored
// snapshots that differ. A snapshot only counts as drifted when it disagrees
// with a recomputation at its own AgeAsOf date; otherwise the change is an
// age rollover. Dimensions that no longer have any members are reset to zero.
func (a *Aggregator) Reconcile(ctx context.Context) (Report, error) {
	ctx, span := telemetry.Tracer("stats").Start(ctx, "stats.Reconcile")
	defer span.End()
	start := time.Now()

	var report Report
	err := store.RetryOnConflict(ctx, a.ledger, a.retries, func(int, error) {
		metrics.LedgerConflictRetries.WithLabelValues("reconcile").Inc()
	}, func(tx store.Tx) error {
		report = Report{Corrected: []Drift{}}
		// snapshots first: on postgres this excludes delta writers until
		// commit, so the scan below sees everything they applied
		stored, err := tx.ListSnapshots(ctx)
		if err != nil {
			return err
		}
		now := a.now().UTC()
		today := a.today(now)
		actual, err := a.compute(ctx, tx, today)
		if err != nil {
			return err
		}
		computed := map[models.Date]deltas{today: actual}
		expectedAt := func(asOf models.Date) (deltas, error) {
			if got, ok := computed[asOf]; ok {
				return got, nil
			}
			got, err := a.compute(ctx, tx, asOf)
			if err != nil {
				return nil, err
			}
			computed[asOf] = got
			return got, nil
		}

		existing := make(map[string]models.StatisticsSnapshot, len(stored))
		for _, snap := range stored {
			existing[snap.Dimension] = snap
			if _, ok := actual[snap.Dimension]; !ok {
				actual[snap.Dimension] = models.Counts{}
			}
		}

		report.Dimensions = len(actual)
		for dim, counts := range actual {
			prev, found := existing[dim]
			if found && prev.Counts == counts && prev.AgeAsOf == today {
				continue
			}
			if found {
				asOf := prev.AgeAsOf
				if asOf.IsZero() {
					asOf = today
				}
				expected, err := expectedAt(asOf)
				if err != nil {
					return err
				}
				switch {
				case prev.Counts != expected[dim]:
					report.Corrected = append(report.Corrected, Drift{Dimension: dim, Stored: prev.Counts, Actual: expected[dim]})
				case prev.Counts != counts:
					report.RolledOver++
				}
			}
			snap := models.StatisticsSnapshot{Dimension: dim, Counts: counts, AgeAsOf: today, LastUpdated: now}
			if err := tx.PutSnapshot(ctx, snap); err != nil {
				return err
			}
		}
		return nil
	})
	report.Duration = time.Since(start)
	metrics.StatsReconcileDuration.Observe(report.Duration.Seconds())
	if err != nil {
		return Report{}, err
	}

	for _, drift := range report.Corrected {
		metrics.StatsDriftCorrected.WithLabelValues(drift.Dimension).Inc()
		logging.Ctx(ctx).Warn().Str("dimension", drift.Dimension).
			Int64("stored_total", drift.Stored.Total).Int64("actual_total", drift.Actual.Total).
			Msg("statistics drift corrected")
	}
	if a.cache != nil {
		if err := a.cache.Invalidate(ctx); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Msg("stats cache invalidation failed")
		}
	}
	return report, nil
}
