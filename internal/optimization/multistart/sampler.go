package multistart

import (
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/copyleftdev/multistart/internal/optimization"
)

// Sampler draws candidate points. Implementations fill every coordinate of
// dst with a value in [low, high).
type Sampler interface {
	Sample(dst []float64, low, high float64)
}

// UniformSampler draws each coordinate independently and uniformly.
// It is not safe for concurrent use.
type UniformSampler struct {
	rng *rand.Rand
}

// NewUniformSampler creates a sampler seeded with seed. A zero seed is
// replaced by the current time.
func NewUniformSampler(seed int64) *UniformSampler {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &UniformSampler{rng: rand.New(rand.NewSource(seed))}
}

// Sample implements Sampler.
func (s *UniformSampler) Sample(dst []float64, low, high float64) {
	for i := range dst {
		dst[i] = scale(s.rng.Float64(), low, high)
	}
}

// DefaultLatinBlock is the stratification block used when none is given.
const DefaultLatinBlock = 32

// LatinHypercubeSampler stratifies draws in blocks. Within every block of
// consecutive samples each coordinate falls exactly once into each of the
// block's equal-width bins of [low, high). Marginally every coordinate is
// still uniform. It is not safe for concurrent use.
type LatinHypercubeSampler struct {
	rng   *rand.Rand
	block int

	// strata holds unit-cube points for the current block.
	strata [][]float64
	next   int
}

// NewLatinHypercubeSampler creates a stratified sampler. A zero seed is
// replaced by the current time and a non-positive block by
// DefaultLatinBlock.
func NewLatinHypercubeSampler(seed int64, block int) *LatinHypercubeSampler {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if block <= 0 {
		block = DefaultLatinBlock
	}
	return &LatinHypercubeSampler{
		rng:   rand.New(rand.NewSource(seed)),
		block: block,
	}
}

// Sample implements Sampler.
func (s *LatinHypercubeSampler) Sample(dst []float64, low, high float64) {
	if s.next >= len(s.strata) || len(s.strata[s.next]) != len(dst) {
		s.refill(len(dst))
	}
	u := s.strata[s.next]
	s.next++

	for i := range dst {
		dst[i] = scale(u[i], low, high)
	}
}

// refill draws a new block: one stratified, shuffled column per coordinate.
func (s *LatinHypercubeSampler) refill(dim int) {
	n := s.block
	s.strata = make([][]float64, n)
	for j := range s.strata {
		s.strata[j] = make([]float64, dim)
	}

	column := make([]float64, n)
	for i := 0; i < dim; i++ {
		for j := 0; j < n; j++ {
			column[j] = (float64(j) + s.rng.Float64()) / float64(n)
		}
		s.rng.Shuffle(n, func(a, b int) {
			column[a], column[b] = column[b], column[a]
		})
		for j := 0; j < n; j++ {
			s.strata[j][i] = column[j]
		}
	}
	s.next = 0
}

// SamplerFactory builds the sampler of one run from its seed.
type SamplerFactory func(seed int64) Sampler

// Sampler kinds accepted by NewSamplerFactory.
const (
	SamplerUniform = "uniform"
	SamplerLatin   = "lhs"
)

// SamplerKinds lists the accepted sampler names.
func SamplerKinds() []string {
	return []string{SamplerUniform, SamplerLatin}
}

// NewSamplerFactory returns the factory for the named sampler kind. An
// empty name selects the uniform sampler.
func NewSamplerFactory(kind string) (SamplerFactory, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", SamplerUniform:
		return func(seed int64) Sampler { return NewUniformSampler(seed) }, nil
	case SamplerLatin:
		return func(seed int64) Sampler { return NewLatinHypercubeSampler(seed, DefaultLatinBlock) }, nil
	}
	return nil, optimization.NewConfigurationError("unknown sampler %q", kind).
		WithComponent("multistart")
}

// scale maps u in [0, 1) onto [low, high). The weighted form stays finite
// when high-low overflows.
func scale(u, low, high float64) float64 {
	v := low*(1-u) + high*u
	// Rounding can land on either end for wide intervals.
	if v >= high {
		v = math.Nextafter(high, low)
	}
	if v < low {
		v = low
	}
	return v
}
