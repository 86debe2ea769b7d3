// Package nnqs trains a neural-network quantum state towards the ground
// state of a many-electron Hamiltonian by variational Monte Carlo.
//
// References:
//   - Ab initio solution of the many-electron Schroedinger equation with deep neural networks, David Pfau et al.
//   - Solving the quantum many-body problem with artificial neural networks, Giuseppe Carleo, Matthias Troyer
package nnqs

import (
	"fmt"
	"log"
	"math"
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"

	"github.com/fumin/nnqs/netparams"
	"github.com/fumin/nnqs/optimizer"
	"github.com/fumin/nnqs/prng"
)

// WalkerCfg is the flattened particle coordinates of one Monte Carlo walker.
// A configuration is never mutated in place; every sampling step produces a
// new one.
type WalkerCfg []float32

// Sampler advances the Markov chain by one step.
type Sampler interface {
	// NextSample proposes and accepts the next walker configuration.
	// It returns the new configuration, its log amplitude, and the score
	// statistic O whose tree shape matches that of params.
	NextSample(logPsi complex64, params *netparams.Params, cfg WalkerCfg, key prng.Key) (WalkerCfg, complex64, *netparams.Params)
}

// Hamiltonian evaluates the local energy of the wavefunction at a fixed
// configuration.
type Hamiltonian interface {
	LocalEnergy(params *netparams.Params, cfg WalkerCfg) complex64
}

// Ansatz is the wavefunction network.
type Ansatz interface {
	// InitWalkerConfig draws an initial walker configuration.
	InitWalkerConfig(scale float32, key prng.Key) WalkerCfg
	// Apply evaluates the log amplitude at cfg.
	Apply(params *netparams.Params, cfg WalkerCfg) complex64
}

// NNQS is a variational Monte Carlo driver.
type NNQS struct {
	sampler     Sampler
	hamiltonian Hamiltonian
	ansatz      Ansatz
	batchSize   int
}

// New returns a driver estimating gradients from batchSize chain samples.
func New(sampler Sampler, hamiltonian Hamiltonian, ansatz Ansatz, batchSize int) (*NNQS, error) {
	if batchSize <= 0 {
		return nil, errors.Errorf("%d", batchSize)
	}
	n := &NNQS{
		sampler:     sampler,
		hamiltonian: hamiltonian,
		ansatz:      ansatz,
		batchSize:   batchSize,
	}
	return n, nil
}

// BatchSize returns the number of chain samples per gradient estimate.
func (n *NNQS) BatchSize() int {
	return n.batchSize
}

// carry is the state threaded through the sequential scan.
type carry struct {
	logPsi complex64
	params *netparams.Params
	cfg    WalkerCfg
	sumO   *netparams.Params
	sumOE  *netparams.Params
	key    prng.Key
}

// Batch holds the outputs of one batch evaluation.
type Batch struct {
	// LocalEnergies is the ordered local energy trace, one per sample.
	LocalEnergies []complex64
	// E is the batch mean local energy.
	E complex64
	// O is the batch mean score statistic.
	O *netparams.Params
	// OTimesE is the batch mean of the energy weighted score statistic.
	OTimesE *netparams.Params

	// Cfg and LogPsi are the final chain state, for continuing the chain
	// across batches.
	Cfg    WalkerCfg
	LogPsi complex64
}

// localEnergyKernel performs one scan step: it evaluates the local energy at
// the current configuration, advances the chain, and accumulates the score
// statistics. Non-finite energies propagate unmodified; only a statistic
// tree whose shape disagrees with the parameters aborts the batch.
func (n *NNQS) localEnergyKernel(c carry) (carry, complex64, error) {
	sub, next := c.key.Split()

	localEnergy := n.hamiltonian.LocalEnergy(c.params, c.cfg)

	nextCfg, nextLogPsi, nextO := n.sampler.NextSample(c.logPsi, c.params, c.cfg, sub)

	if err := c.sumO.Add(nextO); err != nil {
		return carry{}, 0, errors.Wrap(err, "")
	}
	if err := c.sumOE.AddScaled(localEnergy, nextO); err != nil {
		return carry{}, 0, errors.Wrap(err, "")
	}

	c.logPsi, c.cfg, c.key = nextLogPsi, nextCfg, next
	return c, localEnergy, nil
}

// CalcLocalEnergies runs the kernel for exactly batchSize steps in strict
// sequential order. For a fixed key, parameters and initial configuration,
// the outputs are reproducible bit for bit.
func (n *NNQS) CalcLocalEnergies(initCfg WalkerCfg, initLogPsi complex64, params *netparams.Params, key prng.Key) (Batch, error) {
	c := carry{
		logPsi: initLogPsi,
		params: params,
		cfg:    initCfg,
		sumO:   params.ZerosLike(),
		sumOE:  params.ZerosLike(),
		key:    key,
	}

	batch := Batch{LocalEnergies: make([]complex64, 0, n.batchSize)}
	for i := 0; i < n.batchSize; i++ {
		var localEnergy complex64
		var err error
		c, localEnergy, err = n.localEnergyKernel(c)
		if err != nil {
			return Batch{}, errors.Wrap(err, fmt.Sprintf("%d", i))
		}
		batch.LocalEnergies = append(batch.LocalEnergies, localEnergy)
	}

	var sum complex64
	for _, e := range batch.LocalEnergies {
		sum += e
	}
	b := complex(float32(n.batchSize), 0)
	batch.E = sum / b
	c.sumO.Scale(1 / b)
	c.sumOE.Scale(1 / b)
	batch.O, batch.OTimesE = c.sumO, c.sumOE
	batch.Cfg, batch.LogPsi = c.cfg, c.logPsi
	return batch, nil
}

// GradL returns the score-function gradient estimate
// oTimesE - o*e per tree leaf.
// Elements that evaluate to NaN are replaced by zero, so that a walker
// hitting a singularity of the potential does not stall the optimizer.
func GradL(oTimesE, o *netparams.Params, e complex64) (*netparams.Params, error) {
	grad := oTimesE.Clone()
	if err := grad.AddScaled(-e, o); err != nil {
		return nil, errors.Wrap(err, "")
	}
	grad.ZeroNaNs()
	return grad, nil
}

// TrainOptions are options for Train.
type TrainOptions struct {
	walkerScale    float32
	burnIn         int
	reinitWalkers  bool
	expectedEnergy float64
	window         int
	logInterval    time.Duration
}

// NewTrainOptions returns the default training options.
func NewTrainOptions() TrainOptions {
	opt := TrainOptions{}
	opt.walkerScale = 1
	opt.burnIn = 0
	opt.reinitWalkers = true
	opt.expectedEnergy = math.NaN()
	opt.window = 200
	opt.logInterval = 10 * time.Second
	return opt
}

// WalkerScale sets the spatial scale of freshly drawn walkers.
func (opt TrainOptions) WalkerScale(s float32) TrainOptions {
	opt.walkerScale = s
	return opt
}

// BurnIn sets the number of chain steps discarded before each measured batch.
func (opt TrainOptions) BurnIn(n int) TrainOptions {
	opt.burnIn = n
	return opt
}

// ReinitWalkers sets whether walkers are redrawn at every iteration.
// When false, the chain continues from the previous batch's final
// configuration, which removes the need for long burn-ins.
func (opt TrainOptions) ReinitWalkers(b bool) TrainOptions {
	opt.reinitWalkers = b
	return opt
}

// ExpectedEnergy sets a reference energy for the progress log.
// It does not enter the gradient.
func (opt TrainOptions) ExpectedEnergy(e float64) TrainOptions {
	opt.expectedEnergy = e
	return opt
}

// Window sets the trailing window of the rolling energy statistics.
func (opt TrainOptions) Window(w int) TrainOptions {
	opt.window = w
	return opt
}

// LogInterval sets the minimum duration between progress log lines.
func (opt TrainOptions) LogInterval(d time.Duration) TrainOptions {
	opt.logInterval = d
	return opt
}

// Train runs nIters variational Monte Carlo iterations and returns the final
// parameters together with the per iteration energy history.
// The optimizer state is threaded explicitly; params is not mutated, every
// iteration produces a new parameter tree.
func (n *NNQS) Train(nIters int, params *netparams.Params, opt optimizer.Optimizer, key prng.Key, options ...TrainOptions) (*netparams.Params, []float32, error) {
	o := NewTrainOptions()
	if len(options) > 0 {
		o = options[0]
	}
	if nIters <= 0 {
		return nil, nil, errors.Errorf("%d", nIters)
	}

	st := opt.Init(params)
	es := make([]float32, 0, nIters)
	throttler := newSkipThrottler(o.logInterval)

	var cfg WalkerCfg
	var logPsi complex64
	var sub prng.Key
	for i := range nIters {
		if i == 0 || o.reinitWalkers {
			sub, key = key.Split()
			cfg = n.ansatz.InitWalkerConfig(o.walkerScale, sub)
		}
		logPsi = n.ansatz.Apply(params, cfg)

		for b := 0; b < o.burnIn; b++ {
			sub, key = key.Split()
			cfg, logPsi, _ = n.sampler.NextSample(logPsi, params, cfg, sub)
		}

		sub, key = key.Split()
		batch, err := n.CalcLocalEnergies(cfg, logPsi, params, sub)
		if err != nil {
			return nil, nil, errors.Wrap(err, fmt.Sprintf("%d", i))
		}
		cfg = batch.Cfg

		grad, err := GradL(batch.OTimesE, batch.O, batch.E)
		if err != nil {
			return nil, nil, errors.Wrap(err, fmt.Sprintf("%d", i))
		}

		updates, nextSt, err := opt.Update(grad, st, params)
		if err != nil {
			return nil, nil, errors.Wrap(err, fmt.Sprintf("%d", i))
		}
		st = nextSt
		params, err = optimizer.ApplyUpdates(params, updates)
		if err != nil {
			return nil, nil, errors.Wrap(err, fmt.Sprintf("%d", i))
		}

		es = append(es, real(batch.E))
		if throttler.ok() || i == nIters-1 {
			mean, std := EnergyStats(es, o.window)
			switch {
			case math.IsNaN(o.expectedEnergy):
				log.Printf("%d %.5f %.5f", i, mean, std)
			default:
				log.Printf("%d %.5f %.5f %.5f", i, mean, std, math.Abs(mean-o.expectedEnergy))
			}
		}
	}
	return params, es, nil
}

// EnergyStats returns the mean and standard deviation over the trailing
// window of the energy history.
func EnergyStats(es []float32, window int) (float64, float64) {
	if window <= 0 || window > len(es) {
		window = len(es)
	}
	tail := es[len(es)-window:]
	xs := make([]float64, 0, len(tail))
	for _, e := range tail {
		xs = append(xs, float64(e))
	}
	mean := stat.Mean(xs, nil)
	std := stat.StdDev(xs, nil)
	if math.IsNaN(std) {
		std = 0
	}
	return mean, std
}

// skipThrottler rate-limits progress logging inside the training loop.
type skipThrottler struct {
	d    time.Duration
	last time.Time
}

func newSkipThrottler(d time.Duration) *skipThrottler {
	return &skipThrottler{d: d, last: time.Date(0, 0, 0, 0, 0, 0, 0, time.UTC)}
}

func (tt *skipThrottler) ok() bool {
	now := time.Now()
	if now.Before(tt.last.Add(tt.d)) {
		return false
	}
	tt.last = now
	return true
}
