// Package optimizer implements first-order optimizers over the network
// parameter tree. Optimizer state is an explicit value threaded through
// Update, never hidden mutable state.
package optimizer

import (
	"github.com/chewxy/math32"
	"github.com/fumin/tensor"
	"github.com/pkg/errors"

	"github.com/fumin/nnqs/netparams"
)

// State is the optimizer state threaded through Update calls.
// Fields unused by a given optimizer stay nil.
type State struct {
	// Step counts completed updates.
	Step int
	// M is the first moment or velocity tree.
	M *netparams.Params
	// V is the second moment tree. Its elements are real valued.
	V *netparams.Params
}

// Optimizer turns a gradient into parameter updates.
type Optimizer interface {
	Init(params *netparams.Params) State
	// Update returns the additive parameter updates and the new state.
	// Neither grad, st nor params are modified.
	Update(grad *netparams.Params, st State, params *netparams.Params) (*netparams.Params, State, error)
}

// ApplyUpdates returns params + updates as a new tree.
func ApplyUpdates(params, updates *netparams.Params) (*netparams.Params, error) {
	next := params.Clone()
	if err := next.Add(updates); err != nil {
		return nil, errors.Wrap(err, "")
	}
	return next, nil
}

// Schedule maps a zero based step count to a learning rate.
// A nil Schedule means a constant rate.
type Schedule func(step int) float32

// ExpDecay returns a schedule decaying by factor every interval steps.
func ExpDecay(factor float32, interval int) Schedule {
	return func(step int) float32 {
		return math32.Pow(factor, float32(step/interval))
	}
}

// SGD is plain stochastic gradient descent.
type SGD struct {
	LR       float32
	Schedule Schedule
}

func NewSGD(lr float32) SGD {
	return SGD{LR: lr}
}

func (o SGD) Init(params *netparams.Params) State {
	return State{}
}

func (o SGD) Update(grad *netparams.Params, st State, params *netparams.Params) (*netparams.Params, State, error) {
	updates := grad.Clone()
	updates.Scale(complex(-o.rate(st.Step), 0))
	st.Step++
	return updates, st, nil
}

func (o SGD) rate(step int) float32 {
	if o.Schedule == nil {
		return o.LR
	}
	return o.LR * o.Schedule(step)
}

// Momentum is stochastic gradient descent with momentum.
type Momentum struct {
	LR       float32
	Mu       float32
	Schedule Schedule
}

func NewMomentum(lr, mu float32) Momentum {
	return Momentum{LR: lr, Mu: mu}
}

func (o Momentum) Init(params *netparams.Params) State {
	return State{M: params.ZerosLike()}
}

func (o Momentum) Update(grad *netparams.Params, st State, params *netparams.Params) (*netparams.Params, State, error) {
	lr := o.LR
	if o.Schedule != nil {
		lr *= o.Schedule(st.Step)
	}

	// velocity = mu*velocity - lr*grad
	velocity := st.M.Clone()
	velocity.Scale(complex(o.Mu, 0))
	if err := velocity.AddScaled(complex(-lr, 0), grad); err != nil {
		return nil, State{}, errors.Wrap(err, "")
	}

	return velocity.Clone(), State{Step: st.Step + 1, M: velocity}, nil
}

// Adam is the Adam optimizer.
// The second moment accumulates the squared modulus of the complex gradient,
// so parameters with large oscillating phases are damped the same way as
// large real gradients.
type Adam struct {
	LR  float32
	B1  float32
	B2  float32
	Eps float32
}

func NewAdam(lr float32) Adam {
	return Adam{LR: lr, B1: 0.9, B2: 0.999, Eps: 1e-8}
}

func (o Adam) Init(params *netparams.Params) State {
	return State{M: params.ZerosLike(), V: params.ZerosLike()}
}

func (o Adam) Update(grad *netparams.Params, st State, params *netparams.Params) (*netparams.Params, State, error) {
	step := st.Step + 1

	// m = b1*m + (1-b1)*g
	m := st.M.Clone()
	m.Scale(complex(o.B1, 0))
	if err := m.AddScaled(complex(1-o.B1, 0), grad); err != nil {
		return nil, State{}, errors.Wrap(err, "")
	}

	// v = b2*v + (1-b2)*|g|^2
	v := st.V.Clone()
	v.Scale(complex(o.B2, 0))
	if err := netparams.Zip(v, grad, func(_ string, x, y *tensor.Dense) {
		for ijk, g := range y.All() {
			g2 := real(g)*real(g) + imag(g)*imag(g)
			x.SetAt(ijk, x.At(ijk...)+complex((1-o.B2)*g2, 0))
		}
	}); err != nil {
		return nil, State{}, errors.Wrap(err, "")
	}

	c1 := 1 - math32.Pow(o.B1, float32(step))
	c2 := 1 - math32.Pow(o.B2, float32(step))
	updates := m.Clone()
	if err := netparams.Zip(updates, v, func(_ string, x, y *tensor.Dense) {
		for ijk, mi := range x.All() {
			mHat := mi / complex(c1, 0)
			vHat := real(y.At(ijk...)) / c2
			x.SetAt(ijk, -complex(o.LR, 0)*mHat/complex(math32.Sqrt(vHat)+o.Eps, 0))
		}
	}); err != nil {
		return nil, State{}, errors.Wrap(err, "")
	}

	return updates, State{Step: step, M: m, V: v}, nil
}
