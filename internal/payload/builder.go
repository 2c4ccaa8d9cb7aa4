// Package payload assembles the optimizer request from route waypoints, preferences and campaign context.
package payload

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"routeopt/internal/logging"
	"routeopt/internal/metrics"
	"routeopt/internal/model"
	"routeopt/internal/optimizer"
)

const (
	// MinLocations is the fewest valid stops worth optimizing.
	MinLocations = 2
	// largeRouteThreshold and solverTimeLimit bound the solver on big requests.
	largeRouteThreshold = 12
	solverTimeLimit     = 5
)

// Reference point for sandbox locations.
var mockCenter = model.Location{Lat: 52.3676, Lng: 4.9041}

const mockJitterDeg = 0.015

// PenaltySource supplies a server-computed edge penalty matrix.
type PenaltySource interface {
	Penalties(ctx context.Context, locations []model.Location, prefs model.OptimizationPreferences) ([][]float64, error)
}

type Builder struct {
	Penalties PenaltySource
	// Production disables the mock location path regardless of MockData.
	Production bool
	MockData   bool
	Log        *zap.Logger

	mu   sync.Mutex
	rand *rand.Rand
}

type Input struct {
	Waypoints   []model.Waypoint
	StartIndex  int
	Preferences model.OptimizationPreferences
	Context     model.OptimizationContext
}

func NewBuilder(src PenaltySource, production, mockData bool, log *zap.Logger) *Builder {
	seed := uint64(time.Now().UnixNano())
	return &Builder{
		Penalties:  src,
		Production: production,
		MockData:   mockData,
		Log:        logging.OrNop(log),
		rand:       rand.New(rand.NewPCG(seed, seed>>7|1)),
	}
}

// WithRand swaps the random source; tests use it for reproducible matrices.
func (b *Builder) WithRand(r *rand.Rand) *Builder {
	b.mu.Lock()
	b.rand = r
	b.mu.Unlock()
	return b
}

// Build returns the optimizer request, or a precondition_failed error before any network call when
// fewer than two valid locations are available.
func (b *Builder) Build(ctx context.Context, in Input) (model.OptimizeRequest, error) {
	locs := ValidLocations(in.Waypoints)
	if len(in.Waypoints) == 0 && b.mockAllowed() {
		locs = b.mockLocations()
		b.Log.Info("using mock locations", zap.Int("count", len(locs)))
	}
	if len(locs) < MinLocations {
		return model.OptimizeRequest{}, optimizer.Errorf(optimizer.KindPreconditionFailed,
			"at least %d valid waypoints are required, got %d", MinLocations, len(locs))
	}
	if in.StartIndex < 0 || in.StartIndex >= len(locs) {
		return model.OptimizeRequest{}, optimizer.Errorf(optimizer.KindPreconditionFailed,
			"start_index %d out of range for %d locations", in.StartIndex, len(locs))
	}

	prefs := Normalize(in.Preferences)
	prefs.EdgePenalties = b.edgePenalties(ctx, locs, prefs)
	if len(locs) > largeRouteThreshold {
		limit := solverTimeLimit
		prefs.SolverTimeLimitSeconds = &limit
	}

	octx := in.Context
	ensureSlices(&octx)
	octx.Analysis = Analyze(octx, prefs)

	return model.OptimizeRequest{
		StartIndex:  in.StartIndex,
		Locations:   locs,
		Context:     octx,
		Preferences: prefs,
	}, nil
}

func (b *Builder) mockAllowed() bool { return b.MockData && !b.Production }

// edgePenalties prefers the server matrix and falls back to the synthetic one.
func (b *Builder) edgePenalties(ctx context.Context, locs []model.Location, prefs model.OptimizationPreferences) [][]float64 {
	if b.Penalties != nil {
		m, err := b.Penalties.Penalties(ctx, locs, prefs)
		switch {
		case err != nil:
			b.Log.Info("penalty service unavailable, using synthetic matrix", zap.Error(err))
		case !ValidMatrix(m, len(locs)):
			b.Log.Warn("penalty service returned an invalid matrix, using synthetic matrix", zap.Int("locations", len(locs)))
		default:
			metrics.PenaltySource.WithLabelValues("server").Inc()
			return m
		}
	}
	metrics.PenaltySource.WithLabelValues("synthetic").Inc()
	b.mu.Lock()
	defer b.mu.Unlock()
	return SyntheticPenalties(len(locs), prefs, b.rand)
}

func (b *Builder) mockLocations() []model.Location {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 4 + b.rand.IntN(4)
	out := make([]model.Location, n)
	for i := range out {
		out[i] = model.Location{
			ID:  "mock-" + uuid.New().String()[:8],
			Lat: mockCenter.Lat + (b.rand.Float64()*2-1)*mockJitterDeg,
			Lng: mockCenter.Lng + (b.rand.Float64()*2-1)*mockJitterDeg,
		}
	}
	return out
}

// ValidLocations keeps waypoints with both coordinates present, finite and in range, ordered by Order.
func ValidLocations(wps []model.Waypoint) []model.Location {
	sorted := append([]model.Waypoint(nil), wps...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })
	out := make([]model.Location, 0, len(sorted))
	for _, w := range sorted {
		if !ValidWaypoint(w) {
			continue
		}
		id := w.ID
		if id == "" {
			id = fmt.Sprintf("wp-%d", w.Order)
		}
		out = append(out, model.Location{ID: id, Lat: *w.Lat, Lng: *w.Lng})
	}
	return out
}

func ValidWaypoint(w model.Waypoint) bool {
	if w.Lat == nil || w.Lng == nil {
		return false
	}
	lat, lng := *w.Lat, *w.Lng
	if math.IsNaN(lat) || math.IsNaN(lng) || math.IsInf(lat, 0) || math.IsInf(lng, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

// Normalize fills unset enums with defaults and drops fields the builder owns.
func Normalize(p model.OptimizationPreferences) model.OptimizationPreferences {
	d := model.DefaultPreferences()
	if p.TimeOfDay == "" {
		p.TimeOfDay = d.TimeOfDay
	}
	if p.Priority == "" {
		p.Priority = d.Priority
	}
	if p.MaxDurationMinutes <= 0 {
		p.MaxDurationMinutes = d.MaxDurationMinutes
	}
	p.EdgePenalties = nil
	p.SolverTimeLimitSeconds = nil
	return p
}

func ensureSlices(c *model.OptimizationContext) {
	if c.ExistingRoutes == nil {
		c.ExistingRoutes = []model.ExistingRoute{}
	}
	if c.CampaignZones == nil {
		c.CampaignZones = []model.CampaignZone{}
	}
	if c.HotZones == nil {
		c.HotZones = []model.HotZone{}
	}
	if c.StrategicStops == nil {
		c.StrategicStops = []model.StrategicStop{}
	}
}
