package hamiltonian

import (
	"fmt"
	"math/cmplx"
	"testing"

	"github.com/fumin/nnqs"
	"github.com/fumin/nnqs/ansatz"
	"github.com/fumin/nnqs/netparams"
	"github.com/fumin/nnqs/prng"
)

// flatWave has a constant log amplitude, so its kinetic energy vanishes and
// the local energy equals the Coulomb potential.
type flatWave struct{}

func (flatWave) Apply(params *netparams.Params, cfg nnqs.WalkerCfg) complex64 {
	return 1.5
}

func TestLocalEnergyPotentialOnly(t *testing.T) {
	t.Parallel()
	nuclei := []Nucleus{
		{Z: 1, R: [3]float32{0, 0, 0}},
		{Z: 2, R: [3]float32{2, 0, 0}},
	}
	h, err := NewMolecular(flatWave{}, nuclei)
	if err != nil {
		t.Fatalf("%+v", err)
	}

	// Electrons at (0,1,0) and (2,1,0).
	cfg := nnqs.WalkerCfg{0, 1, 0, 2, 1, 0}
	sqrt5 := float32(2.2360680)
	want := 1*2/float32(2.0) - // nucleus-nucleus
		1/float32(1.0) - 2/sqrt5 - // electron 0
		1/sqrt5 - 2/float32(1.0) + // electron 1
		1/float32(2.0) // electron-electron

	got := h.LocalEnergy(nil, cfg)
	if cmplx.Abs(complex128(got-complex(want, 0))) > 1e-4 {
		t.Fatalf("%v, expected %f", got, want)
	}
}

func TestLocalEnergyHydrogen(t *testing.T) {
	t.Parallel()
	wave, err := ansatz.NewEnvelope([][3]float32{{0, 0, 0}}, 1)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	params := wave.InitParams(1, prng.New(0))
	h, err := NewMolecular(wave, []Nucleus{{Z: 1, R: [3]float32{0, 0, 0}}})
	if err != nil {
		t.Fatalf("%+v", err)
	}

	// psi = exp(-r) is the exact hydrogen ground state, so the local energy
	// is -0.5 hartree at every configuration.
	tests := []nnqs.WalkerCfg{
		{0.5, 0.5, 0.5},
		{1, 0, 0},
		{-0.3, 0.8, -1.2},
		{2, 1, -1},
	}
	for _, cfg := range tests {
		t.Run(fmt.Sprintf("%v", cfg), func(t *testing.T) {
			t.Parallel()
			got := complex128(h.LocalEnergy(params, cfg))
			if cmplx.Abs(got-complex(-0.5, 0)) > 0.02 {
				t.Fatalf("%v, expected -0.5", got)
			}
		})
	}
}

func TestLocalEnergySingularity(t *testing.T) {
	t.Parallel()
	h, err := NewMolecular(flatWave{}, []Nucleus{{Z: 1, R: [3]float32{0, 0, 0}}})
	if err != nil {
		t.Fatalf("%+v", err)
	}
	// A walker exactly on the nucleus produces a non-finite local energy,
	// which must propagate unmodified.
	got := h.LocalEnergy(nil, nnqs.WalkerCfg{0, 0, 0})
	if !cmplx.IsInf(complex128(got)) && !cmplx.IsNaN(complex128(got)) {
		t.Fatalf("%v", got)
	}
}
