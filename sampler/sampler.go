// Package sampler implements Metropolis-Hastings sampling of walker
// configurations from the square modulus of the wavefunction.
package sampler

import (
	"math"

	"github.com/pkg/errors"

	"github.com/fumin/nnqs"
	"github.com/fumin/nnqs/netparams"
	"github.com/fumin/nnqs/prng"
)

// WaveFunction evaluates the log amplitude and its parameter gradient.
type WaveFunction interface {
	Apply(params *netparams.Params, cfg nnqs.WalkerCfg) complex64
	GradLogPsi(params *netparams.Params, cfg nnqs.WalkerCfg) *netparams.Params
}

// Metropolis advances walkers with an isotropic Gaussian proposal, accepting
// on the |psi|^2 ratio exp(2 Re dlogpsi).
type Metropolis struct {
	wave     WaveFunction
	stepSize float32
}

// NewMetropolis returns a sampler with the given proposal step size.
func NewMetropolis(wave WaveFunction, stepSize float32) (*Metropolis, error) {
	if stepSize <= 0 {
		return nil, errors.Errorf("%f", stepSize)
	}
	return &Metropolis{wave: wave, stepSize: stepSize}, nil
}

// NextSample proposes one move and returns the resulting configuration, its
// log amplitude, and the score statistic O evaluated at that configuration.
// The carried logPsi is reused so a rejected move costs no extra forward
// pass. All randomness is drawn from key; the method is deterministic for a
// fixed key.
func (s *Metropolis) NextSample(logPsi complex64, params *netparams.Params, cfg nnqs.WalkerCfg, key prng.Key) (nnqs.WalkerCfg, complex64, *netparams.Params) {
	rng := key.RNG()

	proposal := make(nnqs.WalkerCfg, len(cfg))
	for i, x := range cfg {
		proposal[i] = x + s.stepSize*float32(rng.NormFloat64())
	}
	propLogPsi := s.wave.Apply(params, proposal)

	nextCfg, nextLogPsi := cfg, logPsi
	logRatio := 2 * float64(real(propLogPsi)-real(logPsi))
	if logRatio >= 0 || rng.Float64() < math.Exp(logRatio) {
		nextCfg, nextLogPsi = proposal, propLogPsi
	}

	o := s.wave.GradLogPsi(params, nextCfg)
	return nextCfg, nextLogPsi, o
}
