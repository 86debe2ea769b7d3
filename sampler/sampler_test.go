package sampler

import (
	"testing"

	"github.com/chewxy/math32"

	"github.com/fumin/nnqs"
	"github.com/fumin/nnqs/ansatz"
	"github.com/fumin/nnqs/prng"
)

func TestNextSampleDeterminism(t *testing.T) {
	t.Parallel()
	wave, err := ansatz.NewEnvelope([][3]float32{{0, 0, 0}}, 1)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	params := wave.InitParams(1, prng.New(0))
	s, err := NewMetropolis(wave, 0.5)
	if err != nil {
		t.Fatalf("%+v", err)
	}

	cfg := nnqs.WalkerCfg{1, 0, 0}
	logPsi := wave.Apply(params, cfg)
	key := prng.New(11)

	cfgA, logPsiA, oA := s.NextSample(logPsi, params, cfg, key)
	cfgB, logPsiB, oB := s.NextSample(logPsi, params, cfg, key)
	for i := range cfgA {
		if cfgA[i] != cfgB[i] {
			t.Fatalf("%d %f %f", i, cfgA[i], cfgB[i])
		}
	}
	if logPsiA != logPsiB {
		t.Fatalf("%v %v", logPsiA, logPsiB)
	}
	if !oA.AllClose(oB, 0) {
		t.Fatalf("score statistics differ")
	}
}

func TestNextSampleAcceptsUphill(t *testing.T) {
	t.Parallel()
	wave, err := ansatz.NewEnvelope([][3]float32{{0, 0, 0}}, 1)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	params := wave.InitParams(1, prng.New(0))
	s, err := NewMetropolis(wave, 0.3)
	if err != nil {
		t.Fatalf("%+v", err)
	}

	// From far away, essentially every proposal towards the nucleus is
	// uphill in |psi|^2, so the chain must drift inwards.
	cfg := nnqs.WalkerCfg{8, 0, 0}
	logPsi := wave.Apply(params, cfg)
	key := prng.New(3)
	for i := 0; i < 200; i++ {
		var sub prng.Key
		sub, key = key.Split()
		cfg, logPsi, _ = s.NextSample(logPsi, params, cfg, sub)
	}
	if r := radius(cfg); r > 5 {
		t.Fatalf("%f", r)
	}
}

func TestChainSamplesHydrogenDensity(t *testing.T) {
	t.Parallel()
	wave, err := ansatz.NewEnvelope([][3]float32{{0, 0, 0}}, 1)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	params := wave.InitParams(1, prng.New(0))
	s, err := NewMetropolis(wave, 0.5)
	if err != nil {
		t.Fatalf("%+v", err)
	}

	cfg := nnqs.WalkerCfg{1, 0, 0}
	logPsi := wave.Apply(params, cfg)
	key := prng.New(7)

	// Burn in, then measure the mean radius.
	for i := 0; i < 500; i++ {
		var sub prng.Key
		sub, key = key.Split()
		cfg, logPsi, _ = s.NextSample(logPsi, params, cfg, sub)
	}
	var sum float32
	const n = 4000
	for i := 0; i < n; i++ {
		var sub prng.Key
		sub, key = key.Split()
		cfg, logPsi, _ = s.NextSample(logPsi, params, cfg, sub)
		sum += radius(cfg)
	}
	mean := sum / n

	// <r> of the hydrogen 1s state is 1.5 bohr.
	if mean < 1 || mean > 2 {
		t.Fatalf("%f", mean)
	}
}

func radius(cfg nnqs.WalkerCfg) float32 {
	return math32.Sqrt(cfg[0]*cfg[0] + cfg[1]*cfg[1] + cfg[2]*cfg[2])
}
