// Package risk provides per-user behavioral baselines
package risk

import (
	"math"
	"time"
)

// BaselineState is the maturity of a user's behavioral baseline
type BaselineState string

const (
	// StateColdStart means fewer than three samples exist; detections are
	// capped at severity low because the baseline cannot be trusted.
	StateColdStart BaselineState = "cold_start"
	// StateBuilding means a baseline exists but confidence is still low
	StateBuilding BaselineState = "building"
	// StateStable means confidence has crossed the stability threshold
	StateStable BaselineState = "stable"
)

const (
	coldStartSamples   = 3
	confidenceSamples  = 20  // samples for full confidence
	stableConfidence   = 0.6 // building -> stable threshold
	maxKnownLocations  = 10
	locationMergeKm    = 50 // samples within this radius update an existing location
)

// FeatureStats holds running mean/variance for one numeric session feature,
// updated incrementally with Welford's algorithm.
type FeatureStats struct {
	Count int     `json:"count"`
	Mean  float64 `json:"mean"`
	M2    float64 `json:"m2"`
}

// Add folds a new observation into the running statistics
func (f *FeatureStats) Add(x float64) {
	f.Count++
	delta := x - f.Mean
	f.Mean += delta / float64(f.Count)
	f.M2 += delta * (x - f.Mean)
}

// StdDev returns the sample standard deviation
func (f *FeatureStats) StdDev() float64 {
	if f.Count < 2 {
		return 0
	}
	return math.Sqrt(f.M2 / float64(f.Count-1))
}

// KnownLocation is a historical login location with recurrence count
type KnownLocation struct {
	GeoPoint
	SeenCount int       `json:"seen_count"`
	LastSeen  time.Time `json:"last_seen"`
}

// BehaviorProfile is the persistent per-user behavioral baseline. It is
// updated incrementally on every assessment and never recomputed from
// scratch; Version supports optimistic concurrency in the repository.
type BehaviorProfile struct {
	UserID      string `json:"user_id"`
	SampleCount int    `json:"sample_count"`

	// Login timing: hour histogram plus an incremental circular mean
	HourHistogram map[int]int          `json:"hour_histogram"`
	DayHistogram  map[time.Weekday]int `json:"day_histogram"`
	HourSinSum    float64              `json:"hour_sin_sum"`
	HourCosSum    float64              `json:"hour_cos_sum"`

	// Location history
	KnownLocations []KnownLocation `json:"known_locations"`
	LastLocation   *GeoPoint       `json:"last_location,omitempty"`
	LastLoginAt    time.Time       `json:"last_login_at"`

	// Device/browser distribution, keyed by fingerprint hash
	Devices map[string]int `json:"devices"`

	// Session feature aggregates
	NavigationVelocity FeatureStats `json:"navigation_velocity"`
	ClickDepth         FeatureStats `json:"click_depth"`
	SessionDuration    FeatureStats `json:"session_duration"`

	UpdatedAt time.Time `json:"updated_at"`
	Version   int64     `json:"version"`
}

// NewBehaviorProfile creates an empty baseline for a user
func NewBehaviorProfile(userID string) *BehaviorProfile {
	return &BehaviorProfile{
		UserID:        userID,
		HourHistogram: make(map[int]int),
		DayHistogram:  make(map[time.Weekday]int),
		Devices:       make(map[string]int),
	}
}

// State returns the baseline maturity
func (p *BehaviorProfile) State() BaselineState {
	if p == nil || p.SampleCount < coldStartSamples {
		return StateColdStart
	}
	if p.Confidence() < stableConfidence {
		return StateBuilding
	}
	return StateStable
}

// Confidence grows with sample count, saturating at 1.0
func (p *BehaviorProfile) Confidence() float64 {
	if p == nil {
		return 0
	}
	return math.Min(1, float64(p.SampleCount)/confidenceSamples)
}

// MeanHour returns the circular mean login hour in [0,24). The circular
// mean avoids the midnight wraparound skewing linear averages.
func (p *BehaviorProfile) MeanHour() (float64, bool) {
	if p.SampleCount == 0 || (p.HourSinSum == 0 && p.HourCosSum == 0) {
		return 0, false
	}
	angle := math.Atan2(p.HourSinSum, p.HourCosSum)
	hour := angle * 24 / (2 * math.Pi)
	if hour < 0 {
		hour += 24
	}
	return hour, true
}

// TypicalHours returns the set of hours observed for the user
func (p *BehaviorProfile) TypicalHours() map[int]bool {
	hours := make(map[int]bool, len(p.HourHistogram))
	for h, n := range p.HourHistogram {
		if n > 0 {
			hours[h] = true
		}
	}
	return hours
}

// TypicalDays returns the set of weekdays observed for the user
func (p *BehaviorProfile) TypicalDays() map[time.Weekday]bool {
	days := make(map[time.Weekday]bool, len(p.DayHistogram))
	for d, n := range p.DayHistogram {
		if n > 0 {
			days[d] = true
		}
	}
	return days
}

// KnowsDevice reports whether the fingerprint has been observed before
func (p *BehaviorProfile) KnowsDevice(fingerprint string) bool {
	return p.Devices[fingerprint] > 0
}

// NearestKnownKm returns the distance to the closest known location
func (p *BehaviorProfile) NearestKnownKm(lat, lng float64) (float64, bool) {
	if len(p.KnownLocations) == 0 {
		return 0, false
	}
	minDist := math.MaxFloat64
	for _, loc := range p.KnownLocations {
		d := haversineKm(loc.Latitude, loc.Longitude, lat, lng)
		if d < minDist {
			minDist = d
		}
	}
	return minDist, true
}

// Observe folds one assessment's signals into the baseline. The update is
// purely additive; concurrency control lives in the repository layer.
func (p *BehaviorProfile) Observe(req *AssessRequest, fingerprint string, at time.Time) {
	p.SampleCount++
	p.UpdatedAt = at

	if req.Temporal != nil && !req.Temporal.Timestamp.IsZero() {
		ts := req.Temporal.Timestamp.UTC()
		hour := ts.Hour()
		p.HourHistogram[hour]++
		p.DayHistogram[ts.Weekday()]++
		angle := 2 * math.Pi * float64(hour) / 24
		p.HourSinSum += math.Sin(angle)
		p.HourCosSum += math.Cos(angle)
	}

	if req.Location != nil && (req.Location.Latitude != 0 || req.Location.Longitude != 0) {
		p.observeLocation(req.Location, at)
	}

	if fingerprint != "" {
		p.Devices[fingerprint]++
	}

	if req.Behavior != nil {
		p.NavigationVelocity.Add(req.Behavior.NavigationVelocity)
		p.ClickDepth.Add(req.Behavior.ClickDepth)
		p.SessionDuration.Add(req.Behavior.SessionDuration)
	}
}

func (p *BehaviorProfile) observeLocation(loc *LocationSignal, at time.Time) {
	point := GeoPoint{
		Latitude:  loc.Latitude,
		Longitude: loc.Longitude,
		Country:   loc.Country,
		City:      loc.City,
	}
	p.LastLocation = &point
	p.LastLoginAt = at

	for i := range p.KnownLocations {
		if haversineKm(p.KnownLocations[i].Latitude, p.KnownLocations[i].Longitude, loc.Latitude, loc.Longitude) <= locationMergeKm {
			p.KnownLocations[i].SeenCount++
			p.KnownLocations[i].LastSeen = at
			return
		}
	}

	p.KnownLocations = append(p.KnownLocations, KnownLocation{
		GeoPoint:  point,
		SeenCount: 1,
		LastSeen:  at,
	})

	// Evict the least-recently-seen location beyond the cap
	if len(p.KnownLocations) > maxKnownLocations {
		oldest := 0
		for i := range p.KnownLocations {
			if p.KnownLocations[i].LastSeen.Before(p.KnownLocations[oldest].LastSeen) {
				oldest = i
			}
		}
		p.KnownLocations = append(p.KnownLocations[:oldest], p.KnownLocations[oldest+1:]...)
	}
}

// haversineKm calculates the great-circle distance between two geo points in km
func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadius = 6371 // km

	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadius * c
}
