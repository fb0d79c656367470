package weather

import (
	"fmt"
	"sort"
	"time"
)

// Fusion combines the per-provider SourceRecords of one cycle into a single
// result. Every merge is a pure function of the record set and the priority
// config: no clock, no randomness, no dependence on arrival order. Failed
// records and nil sections are skipped; a value present in any successful
// record survives into the merged output even when every higher-priority
// provider lacks it.

// currentFields drives the per-field merge for current conditions. Getter
// and setter keep the loop free of reflection.
var currentFields = []struct {
	name string
	get  func(*CurrentConditions) *float64
	set  func(*CurrentConditions, float64)
}{
	{"temperature", func(c *CurrentConditions) *float64 { return c.Temperature }, func(c *CurrentConditions, v float64) { c.Temperature = Float64(v) }},
	{"feels_like", func(c *CurrentConditions) *float64 { return c.FeelsLike }, func(c *CurrentConditions, v float64) { c.FeelsLike = Float64(v) }},
	{"dew_point", func(c *CurrentConditions) *float64 { return c.DewPoint }, func(c *CurrentConditions, v float64) { c.DewPoint = Float64(v) }},
	{"humidity", func(c *CurrentConditions) *float64 { return c.Humidity }, func(c *CurrentConditions, v float64) { c.Humidity = Float64(v) }},
	{"wind_speed", func(c *CurrentConditions) *float64 { return c.WindSpeed }, func(c *CurrentConditions, v float64) { c.WindSpeed = Float64(v) }},
	{"wind_gust", func(c *CurrentConditions) *float64 { return c.WindGust }, func(c *CurrentConditions, v float64) { c.WindGust = Float64(v) }},
	{"wind_direction", func(c *CurrentConditions) *float64 { return c.WindDirection }, func(c *CurrentConditions, v float64) { c.WindDirection = Float64(v) }},
	{"pressure", func(c *CurrentConditions) *float64 { return c.Pressure }, func(c *CurrentConditions, v float64) { c.Pressure = Float64(v) }},
	{"visibility", func(c *CurrentConditions) *float64 { return c.Visibility }, func(c *CurrentConditions, v float64) { c.Visibility = Float64(v) }},
	{"uv_index", func(c *CurrentConditions) *float64 { return c.UVIndex }, func(c *CurrentConditions, v float64) { c.UVIndex = Float64(v) }},
}

// forecastContentFields and hourlyContentFields name the numeric fields the
// period merge fills, keyed the same way the JSON output spells them.
var forecastContentFields = []string{
	"temperature", "temperature_min", "precip_probability", "wind_speed", "snowfall", "uv_index",
}

var hourlyContentFields = []string{
	"temperature", "precip_probability", "wind_speed", "humidity", "uv_index",
}

// MergeCurrent fuses current conditions across records. Each field takes
// the first non-nil value along its effective priority order, falling back
// to any remaining provider so values are never lost. Fields with a
// configured threshold record a conflict when candidates spread wider than
// the threshold; the highest-priority value still wins, never an average.
func MergeCurrent(records []SourceRecord, cfg SourcePriorityConfig, domestic bool) (*CurrentConditions, FieldAttribution) {
	attr := NewFieldAttribution()

	type source struct {
		name string
		cur  *CurrentConditions
	}
	var sources []source
	for _, r := range records {
		if !r.Success || r.Current == nil {
			continue
		}
		sources = append(sources, source{r.Provider, r.Current})
	}
	if len(sources) == 0 {
		return nil, attr
	}

	merged := &CurrentConditions{}
	for _, f := range currentFields {
		candidates := make(map[string]float64)
		var seq []string
		for _, s := range sources {
			if v := f.get(s.cur); v != nil {
				candidates[s.name] = *v
				seq = append(seq, s.name)
			}
		}
		winner, val, ok := pickNumeric(candidates, seq, cfg.EffectiveOrder(f.name, domestic))
		if !ok {
			continue
		}
		f.set(merged, val)
		attr.Sources[f.name] = winner
		if c := detectConflict(f.name, f.name, winner, candidates, cfg); c != nil {
			attr.Conflicts = append(attr.Conflicts, *c)
		}
	}

	condCandidates := make(map[string]string)
	var condSeq []string
	for _, s := range sources {
		if s.cur.Condition != nil {
			condCandidates[s.name] = *s.cur.Condition
			condSeq = append(condSeq, s.name)
		}
	}
	if winner, val, ok := pickText(condCandidates, condSeq, cfg.EffectiveOrder("condition", domestic)); ok {
		merged.Condition = String(val)
		attr.Sources["condition"] = winner
	}

	return merged, attr
}

// MergeForecast fuses daily/period forecasts into one timeline.
func MergeForecast(records []SourceRecord, cfg SourcePriorityConfig, domestic bool) ([]ForecastPeriod, FieldAttribution) {
	var sources []providerPeriods
	for _, r := range records {
		if !r.Success || len(r.Forecast) == 0 {
			continue
		}
		views := make([]periodView, 0, len(r.Forecast))
		for _, p := range r.Forecast {
			views = append(views, periodView{
				start: p.Start,
				end:   p.End,
				name:  p.Name,
				nums: map[string]*float64{
					"temperature":        p.Temperature,
					"temperature_min":    p.TemperatureMin,
					"precip_probability": p.PrecipProbability,
					"wind_speed":         p.WindSpeed,
					"snowfall":           p.Snowfall,
					"uv_index":           p.UVIndex,
				},
				condition: p.Condition,
			})
		}
		sources = append(sources, providerPeriods{name: r.Provider, periods: views})
	}

	merged, attr := mergePeriods(sources, cfg, domestic, "forecast", forecastContentFields)
	if len(merged) == 0 {
		return nil, attr
	}
	out := make([]ForecastPeriod, 0, len(merged))
	for _, v := range merged {
		out = append(out, ForecastPeriod{
			Start:             v.start,
			End:               v.end,
			Name:              copyString(v.name),
			Temperature:       copyFloat(v.nums["temperature"]),
			TemperatureMin:    copyFloat(v.nums["temperature_min"]),
			PrecipProbability: copyFloat(v.nums["precip_probability"]),
			WindSpeed:         copyFloat(v.nums["wind_speed"]),
			Snowfall:          copyFloat(v.nums["snowfall"]),
			UVIndex:           copyFloat(v.nums["uv_index"]),
			Condition:         copyString(v.condition),
		})
	}
	return out, attr
}

// MergeHourly fuses hour-by-hour forecasts into one timeline.
func MergeHourly(records []SourceRecord, cfg SourcePriorityConfig, domestic bool) ([]HourlyPeriod, FieldAttribution) {
	var sources []providerPeriods
	for _, r := range records {
		if !r.Success || len(r.Hourly) == 0 {
			continue
		}
		views := make([]periodView, 0, len(r.Hourly))
		for _, p := range r.Hourly {
			views = append(views, periodView{
				start: p.Start,
				end:   p.End,
				nums: map[string]*float64{
					"temperature":        p.Temperature,
					"precip_probability": p.PrecipProbability,
					"wind_speed":         p.WindSpeed,
					"humidity":           p.Humidity,
					"uv_index":           p.UVIndex,
				},
				condition: p.Condition,
			})
		}
		sources = append(sources, providerPeriods{name: r.Provider, periods: views})
	}

	merged, attr := mergePeriods(sources, cfg, domestic, "hourly_forecast", hourlyContentFields)
	if len(merged) == 0 {
		return nil, attr
	}
	out := make([]HourlyPeriod, 0, len(merged))
	for _, v := range merged {
		out = append(out, HourlyPeriod{
			Start:             v.start,
			End:               v.end,
			Temperature:       copyFloat(v.nums["temperature"]),
			PrecipProbability: copyFloat(v.nums["precip_probability"]),
			WindSpeed:         copyFloat(v.nums["wind_speed"]),
			Humidity:          copyFloat(v.nums["humidity"]),
			UVIndex:           copyFloat(v.nums["uv_index"]),
			Condition:         copyString(v.condition),
		})
	}
	return out, attr
}

// periodView is the provider-neutral shape the period merge works on, so
// forecast and hourly share one timeline algorithm.
type periodView struct {
	start, end time.Time
	name       *string
	nums       map[string]*float64
	condition  *string
}

type providerPeriods struct {
	name    string
	periods []periodView
}

// mergePeriods builds the unified timeline. The provider with the finest
// temporal granularity supplies the period boundaries; periods from other
// providers that overlap nothing in that skeleton are appended so coverage
// is the union, not the intersection. Content fields inside each period
// then follow the same per-field priority rule as current conditions,
// drawing from whichever provider period overlaps the slot the most.
func mergePeriods(sources []providerPeriods, cfg SourcePriorityConfig, domestic bool, keyPrefix string, contentFields []string) ([]periodView, FieldAttribution) {
	attr := NewFieldAttribution()
	if len(sources) == 0 {
		return nil, attr
	}

	classOrder := cfg.EffectiveOrder("", domestic)
	ranked := rankSources(sources, classOrder)

	structural := pickStructural(sources, ranked)

	type slot struct {
		start, end time.Time
		name       *string
		origin     string
	}
	var slots []slot
	for _, p := range sources[structural].periods {
		slots = append(slots, slot{start: p.start, end: p.end, name: p.name, origin: sources[structural].name})
	}
	for _, si := range ranked {
		if si == structural {
			continue
		}
		for _, p := range sources[si].periods {
			covered := false
			for _, sl := range slots {
				if overlaps(p.start, p.end, sl.start, sl.end) {
					covered = true
					break
				}
			}
			if !covered {
				slots = append(slots, slot{start: p.start, end: p.end, name: p.name, origin: sources[si].name})
			}
		}
	}
	sort.SliceStable(slots, func(i, j int) bool {
		if !slots[i].start.Equal(slots[j].start) {
			return slots[i].start.Before(slots[j].start)
		}
		return slots[i].end.Before(slots[j].end)
	})

	out := make([]periodView, 0, len(slots))
	for i, sl := range slots {
		mv := periodView{start: sl.start, end: sl.end, nums: make(map[string]*float64)}

		if sl.name != nil {
			mv.name = String(*sl.name)
			attr.Sources[periodKey(keyPrefix, i, "name")] = sl.origin
		} else {
			for _, si := range ranked {
				if p := bestOverlap(sources[si].periods, sl.start, sl.end); p != nil && p.name != nil {
					mv.name = String(*p.name)
					attr.Sources[periodKey(keyPrefix, i, "name")] = sources[si].name
					break
				}
			}
		}

		for _, field := range contentFields {
			candidates := make(map[string]float64)
			var seq []string
			for _, s := range sources {
				p := bestOverlap(s.periods, sl.start, sl.end)
				if p == nil {
					continue
				}
				if v := p.nums[field]; v != nil {
					candidates[s.name] = *v
					seq = append(seq, s.name)
				}
			}
			winner, val, ok := pickNumeric(candidates, seq, cfg.EffectiveOrder(field, domestic))
			if !ok {
				continue
			}
			mv.nums[field] = Float64(val)
			key := periodKey(keyPrefix, i, field)
			attr.Sources[key] = winner
			if c := detectConflict(field, key, winner, candidates, cfg); c != nil {
				attr.Conflicts = append(attr.Conflicts, *c)
			}
		}

		condCandidates := make(map[string]string)
		var condSeq []string
		for _, s := range sources {
			p := bestOverlap(s.periods, sl.start, sl.end)
			if p == nil {
				continue
			}
			if p.condition != nil {
				condCandidates[s.name] = *p.condition
				condSeq = append(condSeq, s.name)
			}
		}
		if winner, val, ok := pickText(condCandidates, condSeq, cfg.EffectiveOrder("condition", domestic)); ok {
			mv.condition = String(val)
			attr.Sources[periodKey(keyPrefix, i, "condition")] = winner
		}

		out = append(out, mv)
	}

	return out, attr
}

// rankSources orders source indices by the class priority list first, then
// record order for providers the list does not mention.
func rankSources(sources []providerPeriods, classOrder []string) []int {
	pos := func(name string) int {
		for i, n := range classOrder {
			if n == name {
				return i
			}
		}
		return len(classOrder)
	}
	ranked := make([]int, len(sources))
	for i := range sources {
		ranked[i] = i
	}
	sort.SliceStable(ranked, func(a, b int) bool {
		return pos(sources[ranked[a]].name) < pos(sources[ranked[b]].name)
	})
	return ranked
}

// pickStructural selects the source whose periods are densest in time.
// Ties go to the higher-ranked provider.
func pickStructural(sources []providerPeriods, ranked []int) int {
	const eps = 1e-9
	best := -1
	bestDensity := 0.0
	for _, si := range ranked {
		periods := sources[si].periods
		if len(periods) == 0 {
			continue
		}
		d := density(periods)
		if best == -1 || d > bestDensity+eps {
			best = si
			bestDensity = d
		}
	}
	return best
}

// density is periods per hour of covered span.
func density(periods []periodView) float64 {
	lo, hi := periods[0].start, periods[0].end
	for _, p := range periods {
		if p.start.Before(lo) {
			lo = p.start
		}
		if p.end.After(hi) {
			hi = p.end
		}
	}
	span := hi.Sub(lo).Hours()
	if span <= 0 {
		span = 1
	}
	return float64(len(periods)) / span
}

func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && aEnd.After(bStart)
}

// bestOverlap returns the period covering the most of [start, end), or nil
// when none overlaps at all. Earlier periods win duration ties.
func bestOverlap(periods []periodView, start, end time.Time) *periodView {
	var best *periodView
	var bestDur time.Duration
	for i := range periods {
		p := &periods[i]
		lo, hi := p.start, p.end
		if start.After(lo) {
			lo = start
		}
		if end.Before(hi) {
			hi = end
		}
		if !hi.After(lo) {
			continue
		}
		if d := hi.Sub(lo); d > bestDur {
			best = p
			bestDur = d
		}
	}
	return best
}

// pickNumeric walks the priority order and takes the first provider with a
// candidate; providers outside the order are consulted afterwards in record
// order so no available value is dropped.
func pickNumeric(candidates map[string]float64, seq []string, order []string) (string, float64, bool) {
	for _, name := range order {
		if v, ok := candidates[name]; ok {
			return name, v, true
		}
	}
	for _, name := range seq {
		if v, ok := candidates[name]; ok {
			return name, v, true
		}
	}
	return "", 0, false
}

func pickText(candidates map[string]string, seq []string, order []string) (string, string, bool) {
	for _, name := range order {
		if v, ok := candidates[name]; ok {
			return name, v, true
		}
	}
	for _, name := range seq {
		if v, ok := candidates[name]; ok {
			return name, v, true
		}
	}
	return "", "", false
}

// detectConflict reports a conflict when the field has a threshold, at
// least two providers supplied values, and the spread exceeds it.
func detectConflict(field, key, chosen string, candidates map[string]float64, cfg SourcePriorityConfig) *FieldConflict {
	threshold, ok := cfg.Threshold(field)
	if !ok || len(candidates) < 2 {
		return nil
	}
	first := true
	var lo, hi float64
	for _, v := range candidates {
		if first {
			lo, hi = v, v
			first = false
			continue
		}
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if hi-lo <= threshold {
		return nil
	}
	all := make(map[string]float64, len(candidates))
	for k, v := range candidates {
		all[k] = v
	}
	return &FieldConflict{Field: key, Candidates: all, Chosen: chosen}
}

func periodKey(prefix string, index int, field string) string {
	return fmt.Sprintf("%s[%d].%s", prefix, index, field)
}

// mergeAttributions folds src into dst. Used by the orchestrator to combine
// the per-section attributions into the single map WeatherData carries.
func mergeAttributions(dst *FieldAttribution, src FieldAttribution) {
	for k, v := range src.Sources {
		dst.Sources[k] = v
	}
	dst.Conflicts = append(dst.Conflicts, src.Conflicts...)
}
