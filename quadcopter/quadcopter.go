// quadcopter simulates a velocity-controlled quadcopter in the plane. Actions are
// instantaneous velocity commands integrated with the trapezoid rule; process noise
// is drawn from one of two diagonal Gaussians, chosen by the gating field at the
// current state.
package quadcopter

import (
	"errors"
	"fmt"

	"quadsim/config"
	"quadsim/gating"
	"quadsim/models"

	"go.uber.org/zap"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
)

// StepType tags a TimeStep's position within an episode.
type StepType int

const (
	First StepType = iota
	Mid
	Last
)

// TimeStep is what an RL harness observes after Reset or Step.
type TimeStep struct {
	StepType    StepType
	Observation []float64
	Reward      float64
	Discount    float64
}

// Environment is the surface an external RL harness adapts. Quadcopter implements it.
type Environment interface {
	Reset(state []float64) TimeStep
	Step(action []float64) (TimeStep, error)
	ActionSpec() models.BoundedSpec
	ObservationSpec() models.BoundedSpec
}

var _ Environment = (*Quadcopter)(nil)

// ErrDimensionMismatch is returned when a state or action does not have NumDims components.
var ErrDimensionMismatch = errors.New("dimension mismatch")

// Quadcopter is the transition model. It is not safe for concurrent use; give each
// goroutine its own instance.
type Quadcopter struct {
	sim        config.SimulationConfig
	field      *gating.Field
	obsSpec    models.BoundedSpec
	actionSpec models.BoundedSpec

	state        []float64
	prevAction   []float64
	episodeEnded bool

	src       rand.Source
	noise     [2]*distmv.Normal
	variances [2][]float64
	logger    *zap.Logger
}

// New builds a quadcopter over the passed field; a nil field selects the uniform field
// at the configured bitmap resolution. The noise source is seeded from sim.Seed.
func New(
	sim config.SimulationConfig,
	field *gating.Field,
	logger *zap.Logger,
) (*Quadcopter, error) {
	if err := sim.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	policy, err := gating.ParseBoundsPolicy(sim.BoundsPolicy)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}
	if field == nil {
		field = gating.Uniform(sim.BitmapResolution, policy)
	}

	q := &Quadcopter{
		sim:        sim,
		field:      field,
		obsSpec:    models.NewBoundedSpec("observation", sim.MinObservation, sim.MaxObservation),
		actionSpec: models.NewBoundedSpec("action", sim.MinAction, sim.MaxAction),
		src:        rand.NewSource(sim.Seed),
		logger:     logger,
	}
	q.variances[models.Low] = append([]float64(nil), sim.LowProcessNoiseVar...)
	q.variances[models.High] = append([]float64(nil), sim.HighProcessNoiseVar...)

	for _, regime := range []models.Regime{models.Low, models.High} {
		if q.noise[regime], err = newNoise(q.variances[regime], q.src); err != nil {
			return nil, fmt.Errorf("%s process noise: %w", regime, err)
		}
	}

	q.Reset(nil)
	return q, nil
}

// newNoise returns a zero-mean Gaussian with diagonal covariance diag(variance).
func newNoise(variance []float64, src rand.Source) (*distmv.Normal, error) {
	n := len(variance)
	cov := mat.NewSymDense(n, nil)
	for i, v := range variance {
		cov.SetSym(i, i, v)
	}
	normal, ok := distmv.NewNormal(make([]float64, n), cov, src)
	if !ok {
		return nil, fmt.Errorf("%w: covariance diag(%v) is not positive definite", config.ErrInvalidConfig, variance)
	}
	return normal, nil
}

// Seed reseeds the process noise source shared by both regimes.
func (q *Quadcopter) Seed(seed uint64) {
	q.src.Seed(seed)
}

// Field returns the gating field.
func (q *Quadcopter) Field() *gating.Field {
	return q.field
}

// ActionSpec returns the per-dimension velocity bounds.
func (q *Quadcopter) ActionSpec() models.BoundedSpec {
	return q.actionSpec
}

// ObservationSpec returns the per-dimension position bounds.
func (q *Quadcopter) ObservationSpec() models.BoundedSpec {
	return q.obsSpec
}

// State returns a copy of the current state.
func (q *Quadcopter) State() []float64 {
	return append([]float64(nil), q.state...)
}

// Reset sets the current state, or the zero vector when @state is nil, and restores the
// previous action to the initial velocity so no kinematic history survives a reset.
func (q *Quadcopter) Reset(state []float64) TimeStep {
	if state == nil {
		q.state = make([]float64, q.sim.NumDims)
	} else {
		q.state = append(q.state[:0], state...)
	}
	q.prevAction = append(q.prevAction[:0], q.sim.VelocityInit...)
	q.episodeEnded = false

	return TimeStep{
		StepType:    First,
		Observation: q.State(),
		Discount:    1.0,
	}
}

// Step applies the action to the current state. No termination condition exists,
// so every step is a Mid step with zero reward.
func (q *Quadcopter) Step(action []float64) (TimeStep, error) {
	delta, err := q.TransitionDynamics(q.state, action)
	if err != nil {
		return TimeStep{}, err
	}
	for i := range q.state {
		q.state[i] += delta[i]
	}

	if q.episodeEnded {
		return TimeStep{StepType: Last, Observation: q.State()}, nil
	}
	return TimeStep{
		StepType:    Mid,
		Observation: q.State(),
		Discount:    1.0,
	}, nil
}

// TransitionDynamics returns the state delta for applying @action in @state:
//
//	delta = 0.5*(prevAction + action)*dt + noise,  noise ~ N(0, diag(var(regime(state))))
//
// The previous action becomes @action; the current state is not modified.
func (q *Quadcopter) TransitionDynamics(state, action []float64) ([]float64, error) {
	if len(state) != q.sim.NumDims || len(action) != q.sim.NumDims {
		return nil, fmt.Errorf("%w: state has %d and action %d components, want %d",
			ErrDimensionMismatch, len(state), len(action), q.sim.NumDims)
	}

	regime, err := q.field.RegimeAt(state, q.obsSpec)
	if err != nil {
		return nil, err
	}

	delta := q.noise[regime].Rand(nil)
	for i := range delta {
		delta[i] += 0.5 * (q.prevAction[i] + action[i]) * q.sim.DeltaTime
	}
	copy(q.prevAction, action)

	if ce := q.logger.Check(zap.DebugLevel, "transition"); ce != nil {
		ce.Write(
			zap.Float64s("state", state),
			zap.Float64s("action", action),
			zap.Stringer("regime", regime),
			zap.Float64s("delta", delta))
	}
	return delta, nil
}

// NoiseVariance reports the regime at @state and the variance vector it selects.
func (q *Quadcopter) NoiseVariance(state []float64) ([]float64, models.Regime, error) {
	regime, err := q.field.RegimeAt(state, q.obsSpec)
	if err != nil {
		return nil, regime, err
	}
	return append([]float64(nil), q.variances[regime]...), regime, nil
}
