// Package netparams implements the FermiNet parameter tree.
//
// References:
//   - Ab initio solution of the many-electron Schroedinger equation with deep neural networks, David Pfau et al.
package netparams

import (
	"fmt"
	"iter"
	"slices"

	"github.com/chewxy/math32"
	"github.com/fumin/tensor"
	"github.com/pkg/errors"

	"github.com/fumin/nnqs/prng"
)

// Params holds the network parameters.
// The schema is fixed: tree operations traverse the fields below in
// declaration order, so two Params with the same layer counts and leaf
// shapes are structurally compatible.
// Params is never mutated by its consumers; operations that change values
// are explicit methods on the receiver.
type Params struct {
	// V and B are the weights and biases of the one-electron stream.
	V []*tensor.Dense
	B []*tensor.Dense
	// W and C are the weights and biases of the two-electron stream.
	W []*tensor.Dense
	C []*tensor.Dense
	// WAlpha and GAlpha are the weights and biases of the final layer.
	WAlpha *tensor.Dense
	GAlpha *tensor.Dense
	// SigmaAlpha and PiAlpha are the envelope decays and weights.
	SigmaAlpha *tensor.Dense
	PiAlpha    *tensor.Dense
	// Omega holds the determinant expansion weights.
	Omega *tensor.Dense
}

// Init returns randomly initialized parameters.
// n1 and n2 are the hidden unit counts of the one and two electron streams,
// nK is the number of determinants, nElectrons the spin-up and spin-down
// electron counts, and nAtoms the number of nuclei.
// Weight matrices are Xavier initialized, all other leaves standard normal.
func Init(n1, n2 []int, nK int, nElectrons [2]int, nAtoms int, key prng.Key) *Params {
	if len(n1) != len(n2) {
		panic(fmt.Sprintf("%d %d", len(n1), len(n2)))
	}
	nTotal := nElectrons[0] + nElectrons[1]

	p := &Params{}
	for i := range n1 {
		var fanIn int
		switch i {
		case 0:
			fanIn = 3*4*nAtoms + 2*4
		default:
			fanIn = 3*n1[i-1] + 2*n2[i-1]
		}
		key = fillXavier(tensorAppend(&p.V, n1[i], fanIn), key)
		key = fillNormal(tensorAppend(&p.B, n1[i]), key)

		switch i {
		case 0:
			fanIn = 4
		default:
			fanIn = n2[i-1]
		}
		key = fillXavier(tensorAppend(&p.W, n2[i], fanIn), key)
		key = fillNormal(tensorAppend(&p.C, n2[i]), key)
	}

	p.WAlpha = tensor.Zeros(nK, nTotal, n1[len(n1)-1])
	key = fillNormal(p.WAlpha, key)
	p.GAlpha = tensor.Zeros(nK, nTotal)
	key = fillNormal(p.GAlpha, key)
	p.SigmaAlpha = tensor.Zeros(nK, nTotal, nAtoms, 3, 3)
	key = fillNormal(p.SigmaAlpha, key)
	p.PiAlpha = tensor.Zeros(nK, nTotal, nAtoms)
	key = fillNormal(p.PiAlpha, key)
	p.Omega = tensor.Zeros(nK)
	fillNormal(p.Omega, key)

	return p
}

// Leaves iterates over the named leaf tensors in schema order.
func (p *Params) Leaves() iter.Seq2[string, *tensor.Dense] {
	return func(yield func(string, *tensor.Dense) bool) {
		for i, t := range p.V {
			if !yield(fmt.Sprintf("V%d", i), t) {
				return
			}
		}
		for i, t := range p.B {
			if !yield(fmt.Sprintf("B%d", i), t) {
				return
			}
		}
		for i, t := range p.W {
			if !yield(fmt.Sprintf("W%d", i), t) {
				return
			}
		}
		for i, t := range p.C {
			if !yield(fmt.Sprintf("C%d", i), t) {
				return
			}
		}
		named := []struct {
			name string
			t    *tensor.Dense
		}{
			{"WAlpha", p.WAlpha},
			{"GAlpha", p.GAlpha},
			{"SigmaAlpha", p.SigmaAlpha},
			{"PiAlpha", p.PiAlpha},
			{"Omega", p.Omega},
		}
		for _, l := range named {
			if !yield(l.name, l.t) {
				return
			}
		}
	}
}

// Zip calls f on every pair of corresponding leaves of a and b.
// Structure or shape disagreements are fatal to the caller's operation.
func Zip(a, b *Params, f func(name string, x, y *tensor.Dense)) error {
	if len(a.V) != len(b.V) || len(a.W) != len(b.W) {
		return errors.Errorf("%d %d %d %d", len(a.V), len(b.V), len(a.W), len(b.W))
	}
	next, stop := iter.Pull2(b.Leaves())
	defer stop()
	for name, x := range a.Leaves() {
		_, y, ok := next()
		if !ok {
			return errors.Errorf("%s", name)
		}
		if !slices.Equal(x.Shape(), y.Shape()) {
			return errors.Errorf("%s %#v %#v", name, x.Shape(), y.Shape())
		}
		f(name, x, y)
	}
	return nil
}

// ZerosLike returns a zero valued tree with the same shape as p.
func (p *Params) ZerosLike() *Params {
	z := &Params{}
	for _, t := range p.V {
		z.V = append(z.V, tensor.Zeros(t.Shape()...))
	}
	for _, t := range p.B {
		z.B = append(z.B, tensor.Zeros(t.Shape()...))
	}
	for _, t := range p.W {
		z.W = append(z.W, tensor.Zeros(t.Shape()...))
	}
	for _, t := range p.C {
		z.C = append(z.C, tensor.Zeros(t.Shape()...))
	}
	z.WAlpha = tensor.Zeros(p.WAlpha.Shape()...)
	z.GAlpha = tensor.Zeros(p.GAlpha.Shape()...)
	z.SigmaAlpha = tensor.Zeros(p.SigmaAlpha.Shape()...)
	z.PiAlpha = tensor.Zeros(p.PiAlpha.Shape()...)
	z.Omega = tensor.Zeros(p.Omega.Shape()...)
	return z
}

// Clone returns a deep copy of p.
func (p *Params) Clone() *Params {
	c := p.ZerosLike()
	if err := Zip(c, p, func(_ string, x, y *tensor.Dense) {
		resetCopy(x, y)
	}); err != nil {
		panic(fmt.Sprintf("%+v", err))
	}
	return c
}

// Add does p += q element-wise.
func (p *Params) Add(q *Params) error {
	return p.AddScaled(1, q)
}

// AddScaled does p += c*q element-wise.
func (p *Params) AddScaled(c complex64, q *Params) error {
	return Zip(p, q, func(_ string, x, y *tensor.Dense) {
		for ijk, v := range y.All() {
			x.SetAt(ijk, x.At(ijk...)+c*v)
		}
	})
}

// Scale does p *= c element-wise.
func (p *Params) Scale(c complex64) {
	for _, t := range p.Leaves() {
		for ijk, v := range t.All() {
			t.SetAt(ijk, c*v)
		}
	}
}

// ZeroNaNs replaces every element with a NaN component by zero.
func (p *Params) ZeroNaNs() {
	for _, t := range p.Leaves() {
		for ijk, v := range t.All() {
			if math32.IsNaN(real(v)) || math32.IsNaN(imag(v)) {
				t.SetAt(ijk, 0)
			}
		}
	}
}

// NumParameters returns the total element count of the tree.
func (p *Params) NumParameters() int {
	n := 0
	for _, t := range p.Leaves() {
		size := 1
		for _, d := range t.Shape() {
			size *= d
		}
		n += size
	}
	return n
}

// AllClose reports whether p and q agree element-wise within tol.
func (p *Params) AllClose(q *Params, tol float32) bool {
	ok := true
	if err := Zip(p, q, func(_ string, x, y *tensor.Dense) {
		for ijk, v := range x.All() {
			d := v - y.At(ijk...)
			if math32.Hypot(real(d), imag(d)) > tol {
				ok = false
			}
		}
	}); err != nil {
		return false
	}
	return ok
}

func tensorAppend(ts *[]*tensor.Dense, shape ...int) *tensor.Dense {
	t := tensor.Zeros(shape...)
	*ts = append(*ts, t)
	return t
}

func fillXavier(t *tensor.Dense, key prng.Key) prng.Key {
	shape := t.Shape()
	std := math32.Sqrt(2 / float32(shape[0]+shape[1]))
	return fill(t, std, key)
}

func fillNormal(t *tensor.Dense, key prng.Key) prng.Key {
	return fill(t, 1, key)
}

func fill(t *tensor.Dense, std float32, key prng.Key) prng.Key {
	sub, next := key.Split()
	rng := sub.RNG()
	for ijk := range t.All() {
		v := std * float32(rng.NormFloat64())
		t.SetAt(ijk, complex(v, 0))
	}
	return next
}

func resetCopy(dst, src *tensor.Dense) *tensor.Dense {
	shape := src.Shape()
	zeroDigit := make([]int, len(shape))
	dst.Reset(shape...).Set(zeroDigit, src)
	return dst
}
