package weather

import (
	"sort"
	"strings"
	"time"

	"github.com/golang/geo/s2"
)

// DefaultDedupWindow is how far apart two onsets may sit while still
// describing the same event.
const DefaultDedupWindow = 60 * time.Minute

// AlertAggregator deduplicates alerts reported by several providers for the
// same underlying event. It never fetches anything itself; only providers
// that actually returned alerts appear in its input.
type AlertAggregator struct {
	window time.Duration
}

// NewAlertAggregator builds an aggregator with the given onset window.
// A non-positive window falls back to DefaultDedupWindow.
func NewAlertAggregator(window time.Duration) *AlertAggregator {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	return &AlertAggregator{window: window}
}

// Aggregate groups alerts that describe the same event and merges each
// group into one Alert. Two alerts match when their event types compare
// equal case-insensitively, their areas overlap, and their onsets fall
// within the window. Providers are walked in sorted-name order so the
// result does not depend on map iteration.
func (g *AlertAggregator) Aggregate(alertsByProvider map[string][]Alert) []Alert {
	providers := make([]string, 0, len(alertsByProvider))
	for name := range alertsByProvider {
		providers = append(providers, name)
	}
	sort.Strings(providers)

	type group struct {
		members      []Alert
		providerSeen map[string]bool
	}
	var groups []*group

	for _, provider := range providers {
		for _, a := range alertsByProvider[provider] {
			tagged := a
			tagged.SourceProviders = append([]string{provider}, a.SourceProviders...)

			var home *group
			for _, grp := range groups {
				for i := range grp.members {
					if g.sameEvent(tagged, grp.members[i]) {
						home = grp
						break
					}
				}
				if home != nil {
					break
				}
			}
			if home == nil {
				home = &group{providerSeen: make(map[string]bool)}
				groups = append(groups, home)
			}
			home.members = append(home.members, tagged)
			for _, p := range tagged.SourceProviders {
				home.providerSeen[p] = true
			}
		}
	}

	merged := make([]Alert, 0, len(groups))
	for _, grp := range groups {
		merged = append(merged, mergeGroup(grp.members, grp.providerSeen))
	}
	sort.SliceStable(merged, func(i, j int) bool {
		if !merged[i].Onset.Equal(merged[j].Onset) {
			return merged[i].Onset.Before(merged[j].Onset)
		}
		if merged[i].Severity.Rank() != merged[j].Severity.Rank() {
			return merged[i].Severity.Rank() > merged[j].Severity.Rank()
		}
		return merged[i].EventType < merged[j].EventType
	})
	return merged
}

func (g *AlertAggregator) sameEvent(a, b Alert) bool {
	if !strings.EqualFold(a.EventType, b.EventType) {
		return false
	}
	gap := a.Onset.Sub(b.Onset)
	if gap < 0 {
		gap = -gap
	}
	if gap > g.window {
		return false
	}
	return areasOverlap(a, b)
}

// areasOverlap prefers geometry when both alerts carry bounds; otherwise it
// falls back to case-folded description equality or containment. All alerts
// reaching one aggregation were fetched for the same location, so an alert
// that omits its area cannot contradict one that names it: missing areas
// count as overlapping.
func areasOverlap(a, b Alert) bool {
	if a.Bounds != nil && b.Bounds != nil {
		return boundsLoop(a.Bounds).Intersects(boundsLoop(b.Bounds))
	}
	da := strings.ToLower(strings.TrimSpace(a.AreaDescription))
	db := strings.ToLower(strings.TrimSpace(b.AreaDescription))
	if da == "" || db == "" {
		return true
	}
	if da == db {
		return true
	}
	return strings.Contains(da, db) || strings.Contains(db, da)
}

// boundsLoop turns a bounding box into an s2 loop. Loops built clockwise
// cover the wrong face of the sphere, which shows up as a huge area; invert
// those.
func boundsLoop(b *AreaBounds) *s2.Loop {
	points := []s2.Point{
		s2.PointFromLatLng(s2.LatLngFromDegrees(b.LatLo, b.LngLo)),
		s2.PointFromLatLng(s2.LatLngFromDegrees(b.LatLo, b.LngHi)),
		s2.PointFromLatLng(s2.LatLngFromDegrees(b.LatHi, b.LngHi)),
		s2.PointFromLatLng(s2.LatLngFromDegrees(b.LatHi, b.LngLo)),
	}
	loop := s2.LoopFromPoints(points)
	if loop.Area() > 0.1 {
		loop.Invert()
	}
	return loop
}

// mergeGroup folds a duplicate set into one alert: longest description,
// best instruction, maximum severity, earliest onset, latest expiry, union
// of bounds and of source providers.
func mergeGroup(members []Alert, providerSeen map[string]bool) Alert {
	out := members[0]
	out.Bounds = cloneBounds(members[0].Bounds)

	for _, m := range members[1:] {
		if len(m.Description) > len(out.Description) {
			out.Description = m.Description
		}
		if betterInstruction(m.Instruction, out.Instruction) {
			out.Instruction = m.Instruction
		}
		out.Severity = MaxSeverity(out.Severity, m.Severity)
		if m.Onset.Before(out.Onset) {
			out.Onset = m.Onset
		}
		if m.Expires.After(out.Expires) {
			out.Expires = m.Expires
		}
		if len(m.AreaDescription) > len(out.AreaDescription) {
			out.AreaDescription = m.AreaDescription
		}
		out.Bounds = unionBounds(out.Bounds, m.Bounds)
	}

	names := make([]string, 0, len(providerSeen))
	for name := range providerSeen {
		names = append(names, name)
	}
	sort.Strings(names)
	out.SourceProviders = names
	return out
}

func betterInstruction(candidate, current string) bool {
	if candidate == "" {
		return false
	}
	if current == "" {
		return true
	}
	return len(candidate) > len(current)
}

func cloneBounds(b *AreaBounds) *AreaBounds {
	if b == nil {
		return nil
	}
	c := *b
	return &c
}

func unionBounds(a, b *AreaBounds) *AreaBounds {
	if a == nil {
		return cloneBounds(b)
	}
	if b == nil {
		return a
	}
	u := *a
	if b.LatLo < u.LatLo {
		u.LatLo = b.LatLo
	}
	if b.LatHi > u.LatHi {
		u.LatHi = b.LatHi
	}
	if b.LngLo < u.LngLo {
		u.LngLo = b.LngLo
	}
	if b.LngHi > u.LngHi {
		u.LngHi = b.LngHi
	}
	return &u
}
