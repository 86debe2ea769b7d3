// Command run trains a neural-network quantum state for the hydrogen atom
// and records the energy history in a run directory.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/fumin/nnqs"
	"github.com/fumin/nnqs/ansatz"
	"github.com/fumin/nnqs/hamiltonian"
	"github.com/fumin/nnqs/optimizer"
	"github.com/fumin/nnqs/prng"
	"github.com/fumin/nnqs/runstore"
	"github.com/fumin/nnqs/sampler"
)

var (
	runDir    = flag.String("d", filepath.Join("runs", "hydrogen"), "run directory")
	nIters    = flag.Int("n", 500, "training iterations")
	batchSize = flag.Int("b", 256, "chain samples per gradient estimate")
	lr        = flag.Float64("lr", 0.05, "learning rate")
	stepSize  = flag.Float64("step", 0.5, "Metropolis proposal step size")
	burnIn    = flag.Int("burnin", 50, "chain steps discarded before each batch")
	seed      = flag.Uint64("seed", 0, "random seed")
)

const (
	fnameDB  = "run.db"
	fnameCSV = "energies.csv"

	// expectedE is the exact hydrogen ground state energy in hartree.
	expectedE = -0.5
)

func train(dir string) error {
	wave, err := ansatz.NewEnvelope([][3]float32{{0, 0, 0}}, 1)
	if err != nil {
		return errors.Wrap(err, "")
	}
	params := wave.InitParams(1, prng.New(*seed))
	// Detune the envelope decay so that training has work to do.
	for ijk, v := range params.SigmaAlpha.All() {
		params.SigmaAlpha.SetAt(ijk, 1.5*v)
	}

	smplr, err := sampler.NewMetropolis(wave, float32(*stepSize))
	if err != nil {
		return errors.Wrap(err, "")
	}
	ham, err := hamiltonian.NewMolecular(wave, []hamiltonian.Nucleus{{Z: 1, R: [3]float32{0, 0, 0}}})
	if err != nil {
		return errors.Wrap(err, "")
	}
	n, err := nnqs.New(smplr, ham, wave, *batchSize)
	if err != nil {
		return errors.Wrap(err, "")
	}

	store, err := runstore.Open(filepath.Join(dir, fnameDB))
	if err != nil {
		return errors.Wrap(err, "")
	}
	defer store.Close()
	metas := [][2]string{
		{"system", "hydrogen"},
		{"batchSize", strconv.Itoa(*batchSize)},
		{"nIters", strconv.Itoa(*nIters)},
		{"numParameters", strconv.Itoa(params.NumParameters())},
	}
	for _, kv := range metas {
		if err := store.SetMeta(kv[0], kv[1]); err != nil {
			return errors.Wrap(err, "")
		}
	}

	opt := optimizer.NewMomentum(float32(*lr), 0.9)
	opt.Schedule = optimizer.ExpDecay(0.5, 200)
	opts := nnqs.NewTrainOptions().
		BurnIn(*burnIn).
		ExpectedEnergy(expectedE).
		LogInterval(10 * time.Second)
	params, es, err := n.Train(*nIters, params, opt, prng.New(*seed+1), opts)
	if err != nil {
		return errors.Wrap(err, "")
	}

	const window = 200
	for i := range es {
		_, std := nnqs.EnergyStats(es[:i+1], window)
		e := runstore.Energy{Iteration: i, E: float64(es[i]), Std: std}
		if err := store.AddEnergy(e); err != nil {
			return errors.Wrap(err, fmt.Sprintf("%d", i))
		}
	}
	if err := store.WriteCSV(filepath.Join(dir, fnameCSV)); err != nil {
		return errors.Wrap(err, "")
	}

	mean, std := nnqs.EnergyStats(es, window)
	log.Printf("final %.5f %.5f expected %.5f", mean, std, expectedE)
	return nil
}

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := os.MkdirAll(*runDir, os.ModePerm); err != nil {
		log.Fatalf("%+v", err)
	}
	if err := train(*runDir); err != nil {
		log.Fatalf("%+v", err)
	}
}
