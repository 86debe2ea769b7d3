// Package ansatz implements the envelope part of the FermiNet wavefunction
// in closed form, with analytic parameter gradients.
//
// The log amplitude is
//
//	log psi = log sum_k omega_k prod_e phi_ke
//	phi_ke  = sum_a pi_kea * exp(-|Sigma_kea (r_e - R_a)|)
//
// which is the determinant expansion of isotropic-to-anisotropic decay
// envelopes centered on the nuclei. The one and two electron stream leaves
// of the parameter tree are carried but not consumed, so their score
// statistics stay zero.
//
// References:
//   - Ab initio solution of the many-electron Schroedinger equation with deep neural networks, David Pfau et al.
package ansatz

import (
	"fmt"
	"math/cmplx"

	"github.com/pkg/errors"

	"github.com/fumin/nnqs"
	"github.com/fumin/nnqs/netparams"
	"github.com/fumin/nnqs/prng"
)

// Envelope is an envelope wavefunction over a fixed set of nuclei.
type Envelope struct {
	nuclei     [][3]float32
	nElectrons int
}

// NewEnvelope returns an envelope wavefunction for nElectrons electrons
// around the given nuclei.
func NewEnvelope(nuclei [][3]float32, nElectrons int) (*Envelope, error) {
	if len(nuclei) == 0 || nElectrons <= 0 {
		return nil, errors.Errorf("%d %d", len(nuclei), nElectrons)
	}
	return &Envelope{nuclei: nuclei, nElectrons: nElectrons}, nil
}

// InitParams returns randomly initialized parameters whose envelope leaves
// start from the hydrogen-like point pi=1, Sigma=identity, omega=1.
func (a *Envelope) InitParams(nK int, key prng.Key) *netparams.Params {
	up := (a.nElectrons + 1) / 2
	down := a.nElectrons - up
	p := netparams.Init([]int{4}, []int{2}, nK, [2]int{up, down}, len(a.nuclei), key)

	for ijk := range p.PiAlpha.All() {
		p.PiAlpha.SetAt(ijk, 1)
	}
	for ijk := range p.SigmaAlpha.All() {
		switch {
		case ijk[3] == ijk[4]:
			p.SigmaAlpha.SetAt(ijk, 1)
		default:
			p.SigmaAlpha.SetAt(ijk, 0)
		}
	}
	for ijk := range p.Omega.All() {
		p.Omega.SetAt(ijk, 1)
	}
	return p
}

// InitWalkerConfig draws electrons around their assigned nuclei with
// Gaussian spread scale.
func (a *Envelope) InitWalkerConfig(scale float32, key prng.Key) nnqs.WalkerCfg {
	rng := key.RNG()
	cfg := make(nnqs.WalkerCfg, 0, 3*a.nElectrons)
	for e := 0; e < a.nElectrons; e++ {
		nucleus := a.nuclei[e%len(a.nuclei)]
		for d := 0; d < 3; d++ {
			cfg = append(cfg, nucleus[d]+scale*float32(rng.NormFloat64()))
		}
	}
	return cfg
}

// Apply evaluates the log amplitude at cfg.
func (a *Envelope) Apply(params *netparams.Params, cfg nnqs.WalkerCfg) complex64 {
	ev := a.eval(params, cfg)
	return complex64(ev.logPsi)
}

// GradLogPsi returns the gradient of the log amplitude with respect to the
// parameters, as a tree with the same shape as params.
func (a *Envelope) GradLogPsi(params *netparams.Params, cfg nnqs.WalkerCfg) *netparams.Params {
	ev := a.eval(params, cfg)
	grad := params.ZerosLike()

	for k := 0; k < ev.nK; k++ {
		// r = omega_k P_k / psi.
		r := cmplx.Exp(ev.logTerm[k] - ev.logPsi)

		omega := complex128(params.Omega.At(k))
		grad.Omega.SetAt([]int{k}, complex64(r/omega))

		for e := 0; e < a.nElectrons; e++ {
			phi := ev.phi[k][e]
			for ai := range a.nuclei {
				env := ev.env[k][e][ai]
				c := r * env.t / phi

				grad.PiAlpha.SetAt([]int{k, e, ai}, complex64(c))

				pi := complex128(params.PiAlpha.At(k, e, ai))
				// d|u|/dSigma_ij = u_i v_j / |u|.
				for i := 0; i < 3; i++ {
					for j := 0; j < 3; j++ {
						d := -c * pi * env.u[i] * complex(float64(env.v[j]), 0) / env.n
						grad.SigmaAlpha.SetAt([]int{k, e, ai, i, j}, complex64(d))
					}
				}
			}
		}
	}
	return grad
}

// envTerm is one (determinant, electron, nucleus) envelope evaluation.
type envTerm struct {
	// v is the electron-nucleus displacement.
	v [3]float32
	// u = Sigma v.
	u [3]complex128
	// n = sqrt(u.u), the analytic continuation of |Sigma v|.
	n complex128
	// t = exp(-n).
	t complex128
}

type evaluation struct {
	nK      int
	env     [][][]envTerm
	phi     [][]complex128
	logTerm []complex128
	logPsi  complex128
}

func (a *Envelope) eval(params *netparams.Params, cfg nnqs.WalkerCfg) evaluation {
	shape := params.PiAlpha.Shape()
	if len(cfg) != 3*a.nElectrons || shape[1] != a.nElectrons || shape[2] != len(a.nuclei) {
		panic(fmt.Sprintf("%d %d %#v", len(cfg), a.nElectrons, shape))
	}
	nK := shape[0]

	ev := evaluation{nK: nK}
	ev.env = make([][][]envTerm, nK)
	ev.phi = make([][]complex128, nK)
	ev.logTerm = make([]complex128, nK)
	for k := 0; k < nK; k++ {
		ev.env[k] = make([][]envTerm, a.nElectrons)
		ev.phi[k] = make([]complex128, a.nElectrons)

		logProd := cmplx.Log(complex128(params.Omega.At(k)))
		for e := 0; e < a.nElectrons; e++ {
			ev.env[k][e] = make([]envTerm, len(a.nuclei))

			var phi complex128
			for ai, nucleus := range a.nuclei {
				var term envTerm
				for d := 0; d < 3; d++ {
					term.v[d] = cfg[3*e+d] - nucleus[d]
				}
				var uu complex128
				for i := 0; i < 3; i++ {
					var ui complex128
					for j := 0; j < 3; j++ {
						sigma := complex128(params.SigmaAlpha.At(k, e, ai, i, j))
						ui += sigma * complex(float64(term.v[j]), 0)
					}
					term.u[i] = ui
					uu += ui * ui
				}
				term.n = cmplx.Sqrt(uu)
				term.t = cmplx.Exp(-term.n)
				ev.env[k][e][ai] = term

				pi := complex128(params.PiAlpha.At(k, e, ai))
				phi += pi * term.t
			}
			ev.phi[k][e] = phi
			logProd += cmplx.Log(phi)
		}
		ev.logTerm[k] = logProd
	}

	ev.logPsi = logSumExp(ev.logTerm)
	return ev
}

// logSumExp computes log(sum_i exp(x_i)) stabilized by the maximum real part.
func logSumExp(xs []complex128) complex128 {
	m := real(xs[0])
	for _, x := range xs[1:] {
		if real(x) > m {
			m = real(x)
		}
	}
	var sum complex128
	for _, x := range xs {
		sum += cmplx.Exp(x - complex(m, 0))
	}
	return complex(m, 0) + cmplx.Log(sum)
}
