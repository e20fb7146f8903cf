// config holds the explicit configuration object passed to every constructor in place of
// module-level constants. Vectors are always fully specified per dimension; nothing is broadcast.
package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// OuterConfig is the document envelope: a kind and its definition.
type OuterConfig struct {
	Kind string      `mapstructure:"kind"`
	Def  interface{} `mapstructure:"def"`
}

// Kind is the only envelope kind this package understands.
const Kind = "QuadcopterSimulation"

// Config aggregates the simulation, dataset, and server parameters.
type Config struct {
	// Deadline is an optional duration bounding a run, e.g. "10m".
	Deadline   string           `yaml:"deadline"`
	Simulation SimulationConfig `yaml:"simulation"`
	Dataset    DatasetConfig    `yaml:"dataset"`
	Server     ServerConfig     `yaml:"server"`
}

// SimulationConfig parameterizes the quadcopter and its gating field.
type SimulationConfig struct {
	NumDims             int       `yaml:"num_dims"`
	MinObservation      []float64 `yaml:"min_observation"`
	MaxObservation      []float64 `yaml:"max_observation"`
	MinAction           []float64 `yaml:"min_action"`
	MaxAction           []float64 `yaml:"max_action"`
	LowProcessNoiseVar  []float64 `yaml:"low_process_noise_var"`
	HighProcessNoiseVar []float64 `yaml:"high_process_noise_var"`
	// VelocityInit is the previous action restored on every reset.
	VelocityInit []float64 `yaml:"velocity_init"`
	DeltaTime    float64   `yaml:"delta_time"`
	// BitmapResolution is the side length of the all-ones field used when GatingBitmap is empty.
	BitmapResolution int    `yaml:"bitmap_resolution"`
	GatingBitmap     string `yaml:"gating_bitmap"`
	// BoundsPolicy is "clamp" or "reject".
	BoundsPolicy string `yaml:"bounds_policy"`
	Seed         uint64 `yaml:"seed"`
}

// DatasetConfig parameterizes a generation run.
type DatasetConfig struct {
	NumStatesPerDim  int `yaml:"num_states_per_dim"`
	NumActionsPerDim int `yaml:"num_actions_per_dim"`
	// ConstantAction, when set, replaces the action grid with this single action.
	ConstantAction []float64 `yaml:"constant_action"`
	// Mask is an optional image path; states on mask values below 0.5 are dropped.
	Mask    string `yaml:"mask"`
	Output  string `yaml:"output"`
	Workers int    `yaml:"workers"`
}

// ServerConfig parameterizes the visualization server.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port string `yaml:"port"`
	// Bins is the number of quiver cells per axis.
	Bins int `yaml:"bins"`
}

// Addr returns host:port.
func (cfg ServerConfig) Addr() string {
	return cfg.Host + ":" + cfg.Port
}

// Bounds policies.
const (
	Clamp  = "clamp"
	Reject = "reject"
)

// Default returns the stock 2D quadcopter configuration.
func Default() *Config {
	return &Config{
		Simulation: SimulationConfig{
			NumDims:             2,
			MinObservation:      []float64{-3, -3},
			MaxObservation:      []float64{3, 3},
			MinAction:           []float64{-10, -10},
			MaxAction:           []float64{10, 10},
			LowProcessNoiseVar:  []float64{0.000001, 0.000002},
			HighProcessNoiseVar: []float64{0.0001, 0.00004},
			VelocityInit:        []float64{0, 0},
			DeltaTime:           0.05,
			BitmapResolution:    600,
			BoundsPolicy:        Clamp,
			Seed:                1,
		},
		Dataset: DatasetConfig{
			NumStatesPerDim:  10,
			NumActionsPerDim: 4,
			Output:           "./data/quad_sim_data.npz",
			Workers:          1,
		},
		Server: ServerConfig{
			Port: "8080",
			Bins: 12,
		},
	}
}

// ErrInvalidConfig is returned for any configuration that fails validation.
var ErrInvalidConfig = errors.New("invalid config")

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// Validate checks the configuration before any sampling or simulation work occurs.
func (cfg *Config) Validate() error {
	if err := cfg.Simulation.Validate(); err != nil {
		return err
	}
	if err := cfg.Dataset.Validate(cfg.Simulation.NumDims); err != nil {
		return err
	}
	if cfg.Deadline != "" {
		if _, err := time.ParseDuration(cfg.Deadline); err != nil {
			return invalid("deadline: %v", err)
		}
	}
	return nil
}

// Validate checks that every vector is fully specified and every scalar is in range.
func (sim *SimulationConfig) Validate() error {
	if sim.NumDims < 1 {
		return invalid("num_dims must be positive, got %d", sim.NumDims)
	}

	vectors := []struct {
		name string
		v    []float64
	}{
		{"min_observation", sim.MinObservation},
		{"max_observation", sim.MaxObservation},
		{"min_action", sim.MinAction},
		{"max_action", sim.MaxAction},
		{"low_process_noise_var", sim.LowProcessNoiseVar},
		{"high_process_noise_var", sim.HighProcessNoiseVar},
		{"velocity_init", sim.VelocityInit},
	}
	for _, vec := range vectors {
		if len(vec.v) != sim.NumDims {
			return invalid("%s has %d components, want %d", vec.name, len(vec.v), sim.NumDims)
		}
	}

	for i := 0; i < sim.NumDims; i++ {
		if sim.MinObservation[i] >= sim.MaxObservation[i] {
			return invalid("observation bounds empty in dimension %d", i)
		}
		if sim.MinAction[i] > sim.MaxAction[i] {
			return invalid("action bounds empty in dimension %d", i)
		}
		// The noise distributions need a positive definite covariance.
		if sim.LowProcessNoiseVar[i] <= 0 || sim.HighProcessNoiseVar[i] <= 0 {
			return invalid("process noise variances must be positive in dimension %d", i)
		}
	}

	if sim.DeltaTime <= 0 {
		return invalid("delta_time must be positive, got %v", sim.DeltaTime)
	}
	if sim.GatingBitmap == "" && sim.BitmapResolution < 1 {
		return invalid("bitmap_resolution must be positive without a gating bitmap")
	}
	if sim.BoundsPolicy != Clamp && sim.BoundsPolicy != Reject {
		return invalid("bounds_policy must be %q or %q, got %q", Clamp, Reject, sim.BoundsPolicy)
	}
	return nil
}

// Validate checks the dataset parameters against the simulation dimensionality.
func (ds *DatasetConfig) Validate(numDims int) error {
	if ds.NumStatesPerDim < 1 {
		return invalid("num_states_per_dim must be positive, got %d", ds.NumStatesPerDim)
	}
	if ds.ConstantAction == nil && ds.NumActionsPerDim < 1 {
		return invalid("num_actions_per_dim must be positive, got %d", ds.NumActionsPerDim)
	}
	if ds.ConstantAction != nil && len(ds.ConstantAction) != numDims {
		return invalid("constant_action has %d components, want %d", len(ds.ConstantAction), numDims)
	}
	if ds.Workers < 0 {
		return invalid("workers must not be negative")
	}
	return nil
}

// WithDeadline returns a context extended by the run deadline, if one is specified.
func (cfg *Config) WithDeadline(
	ctx context.Context,
) (context.Context, context.CancelFunc, error) {
	if cfg.Deadline != "" {
		duration, err := time.ParseDuration(cfg.Deadline)
		if err != nil {
			return nil, nil, invalid("deadline: %v", err)
		}
		innerCtx, cancel := context.WithTimeout(ctx, duration)
		return innerCtx, cancel, nil
	}
	defaultCtx, cancel := context.WithCancel(ctx)
	return defaultCtx, cancel, nil
}

// FromYaml reads a {kind, def} document with viper and decodes def over Default().
// Keys are snake_case because viper lower-cases everything it reads.
func FromYaml(path string) (*Config, error) {
	vp := viper.New()
	vp.SetConfigFile(path)
	vp.SetConfigType("yaml")
	vp.AddConfigPath(filepath.Dir(path))
	var err error
	if err = vp.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	outerConfig := &OuterConfig{}
	if err = vp.Unmarshal(outerConfig); err != nil {
		return nil, err
	}
	if outerConfig.Kind != Kind {
		return nil, invalid("unexpected kind %q, want %q", outerConfig.Kind, Kind)
	}

	var spec []byte
	if spec, err = yaml.Marshal(outerConfig.Def); err != nil {
		return nil, err
	}

	cfg := Default()
	if err = yaml.Unmarshal(spec, cfg); err != nil {
		return nil, err
	}

	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
