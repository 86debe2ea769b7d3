package ansatz

import (
	"fmt"
	"math/cmplx"
	"testing"

	"github.com/fumin/tensor"

	"github.com/fumin/nnqs"
	"github.com/fumin/nnqs/netparams"
	"github.com/fumin/nnqs/prng"
)

func hydrogen(t *testing.T) (*Envelope, *netparams.Params) {
	t.Helper()
	a, err := NewEnvelope([][3]float32{{0, 0, 0}}, 1)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	return a, a.InitParams(1, prng.New(0))
}

func TestApplyHydrogen(t *testing.T) {
	t.Parallel()
	a, params := hydrogen(t)

	// With pi=1, Sigma=identity, omega=1, log psi is -|r|.
	tests := []struct {
		cfg    nnqs.WalkerCfg
		logPsi float64
	}{
		{nnqs.WalkerCfg{0.3, 0.4, 0}, -0.5},
		{nnqs.WalkerCfg{1, 0, 0}, -1},
		{nnqs.WalkerCfg{0, 0, 2}, -2},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("%v", test.cfg), func(t *testing.T) {
			t.Parallel()
			got := complex128(a.Apply(params, test.cfg))
			if cmplx.Abs(got-complex(test.logPsi, 0)) > 1e-5 {
				t.Fatalf("%v, expected %f", got, test.logPsi)
			}
		})
	}
}

func TestGradLogPsiShape(t *testing.T) {
	t.Parallel()
	a, err := NewEnvelope([][3]float32{{0, 0, 0}, {1.4, 0, 0}}, 2)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	params := a.InitParams(2, prng.New(1))
	cfg := a.InitWalkerConfig(1, prng.New(2))

	grad := a.GradLogPsi(params, cfg)
	if err := netparams.Zip(grad, params, func(_ string, x, y *tensor.Dense) {}); err != nil {
		t.Fatalf("%+v", err)
	}
	// The network stream leaves are not consumed by the envelope.
	for _, v := range grad.V[0].All() {
		if v != 0 {
			t.Fatalf("%v", v)
		}
	}
}

func TestGradLogPsiFiniteDifference(t *testing.T) {
	t.Parallel()
	a, err := NewEnvelope([][3]float32{{0, 0, 0}, {1.4, 0, 0}}, 2)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	params := a.InitParams(2, prng.New(4))
	// Move the envelope off the symmetric starting point.
	params.PiAlpha.SetAt([]int{0, 0, 1}, 0.7)
	params.SigmaAlpha.SetAt([]int{1, 1, 0, 0, 1}, 0.3)
	params.Omega.SetAt([]int{1}, 0.5)
	cfg := nnqs.WalkerCfg{0.3, -0.2, 0.5, 1.1, 0.4, -0.3}

	grad := a.GradLogPsi(params, cfg)

	tests := []struct {
		leaf func(p *netparams.Params) *tensor.Dense
		ijk  []int
	}{
		{func(p *netparams.Params) *tensor.Dense { return p.Omega }, []int{0}},
		{func(p *netparams.Params) *tensor.Dense { return p.Omega }, []int{1}},
		{func(p *netparams.Params) *tensor.Dense { return p.PiAlpha }, []int{0, 0, 1}},
		{func(p *netparams.Params) *tensor.Dense { return p.PiAlpha }, []int{1, 1, 0}},
		{func(p *netparams.Params) *tensor.Dense { return p.SigmaAlpha }, []int{0, 0, 0, 0, 0}},
		{func(p *netparams.Params) *tensor.Dense { return p.SigmaAlpha }, []int{1, 1, 0, 2, 1}},
	}
	const h = 1e-3
	for i, test := range tests {
		t.Run(fmt.Sprintf("%d", i), func(t *testing.T) {
			t.Parallel()
			plus := params.Clone()
			leaf := test.leaf(plus)
			leaf.SetAt(test.ijk, leaf.At(test.ijk...)+complex(h, 0))
			minus := params.Clone()
			leaf = test.leaf(minus)
			leaf.SetAt(test.ijk, leaf.At(test.ijk...)-complex(h, 0))

			fd := (complex128(a.Apply(plus, cfg)) - complex128(a.Apply(minus, cfg))) / (2 * h)
			got := complex128(test.leaf(grad).At(test.ijk...))
			if cmplx.Abs(got-fd) > 1e-2*(1+cmplx.Abs(fd)) {
				t.Fatalf("%v, finite difference %v", got, fd)
			}
		})
	}
}

func TestInitWalkerConfig(t *testing.T) {
	t.Parallel()
	a, err := NewEnvelope([][3]float32{{0, 0, 0}, {1.4, 0, 0}}, 3)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	cfg := a.InitWalkerConfig(0.5, prng.New(9))
	if len(cfg) != 9 {
		t.Fatalf("%d", len(cfg))
	}
	cfg2 := a.InitWalkerConfig(0.5, prng.New(9))
	for i := range cfg {
		if cfg[i] != cfg2[i] {
			t.Fatalf("%d %f %f", i, cfg[i], cfg2[i])
		}
	}
}
