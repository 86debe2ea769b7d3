// Package hamiltonian implements the molecular Coulomb Hamiltonian in the
// Born-Oppenheimer approximation, in Hartree atomic units.
//
// The local energy at a configuration is
//
//	E_loc = -1/2 sum_i (d2 log psi / dx_i2 + (d log psi / dx_i)^2) + V
//
// with the derivatives taken by central finite differences of the
// wavefunction's log amplitude.
package hamiltonian

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"

	"github.com/fumin/nnqs"
	"github.com/fumin/nnqs/netparams"
)

// WaveFunction evaluates the log amplitude at a configuration.
type WaveFunction interface {
	Apply(params *netparams.Params, cfg nnqs.WalkerCfg) complex64
}

// Nucleus is a fixed point charge.
type Nucleus struct {
	Z float32
	R [3]float32
}

// Molecular is the Coulomb Hamiltonian of electrons around fixed nuclei.
type Molecular struct {
	wave   WaveFunction
	nuclei []Nucleus
	// step is the finite difference step of the kinetic term.
	step float32
	// vNN is the constant nucleus-nucleus repulsion.
	vNN float32
}

// NewMolecular returns the Hamiltonian for the given nuclei.
func NewMolecular(wave WaveFunction, nuclei []Nucleus) (*Molecular, error) {
	if len(nuclei) == 0 {
		return nil, errors.Errorf("no nuclei")
	}
	h := &Molecular{wave: wave, nuclei: nuclei, step: 0.02}

	for i, a := range nuclei {
		for _, b := range nuclei[i+1:] {
			h.vNN += a.Z * b.Z / distance(a.R, b.R)
		}
	}
	return h, nil
}

// LocalEnergy evaluates the local energy at cfg.
// Configurations at a Coulomb singularity yield non-finite values, which
// propagate to the caller unmodified.
func (h *Molecular) LocalEnergy(params *netparams.Params, cfg nnqs.WalkerCfg) complex64 {
	f0 := complex128(h.wave.Apply(params, cfg))
	step := float64(h.step)

	// Kinetic energy from the log domain identity
	// psi''/psi = (log psi)'' + ((log psi)')^2.
	var kinetic complex128
	x := make(nnqs.WalkerCfg, len(cfg))
	for i := range cfg {
		copy(x, cfg)
		x[i] = cfg[i] + h.step
		fp := complex128(h.wave.Apply(params, x))
		x[i] = cfg[i] - h.step
		fm := complex128(h.wave.Apply(params, x))

		lap := (fp - 2*f0 + fm) / complex(step*step, 0)
		grad := (fp - fm) / complex(2*step, 0)
		kinetic += lap + grad*grad
	}
	kinetic *= -0.5

	return complex64(kinetic) + complex(h.potential(cfg), 0)
}

func (h *Molecular) potential(cfg nnqs.WalkerCfg) float32 {
	v := h.vNN

	nElectrons := len(cfg) / 3
	for e := 0; e < nElectrons; e++ {
		r := electron(cfg, e)
		for _, nucleus := range h.nuclei {
			v -= nucleus.Z / distance(r, nucleus.R)
		}
		for e2 := e + 1; e2 < nElectrons; e2++ {
			v += 1 / distance(r, electron(cfg, e2))
		}
	}
	return v
}

func electron(cfg nnqs.WalkerCfg, e int) [3]float32 {
	return [3]float32{cfg[3*e], cfg[3*e+1], cfg[3*e+2]}
}

func distance(a, b [3]float32) float32 {
	var d2 float32
	for i := range a {
		d := a[i] - b[i]
		d2 += d * d
	}
	return math32.Sqrt(d2)
}
