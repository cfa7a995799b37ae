// Package objectives is a catalogue of named benchmark functions that
// services and tools can minimize without shipping code.
package objectives

import (
	"math"
	"sort"

	"github.com/copyleftdev/multistart/internal/optimization"
)

// Objective is a named, pure objective function.
type Objective struct {
	Name        string
	Description string
	Func        optimization.ObjectiveFunction
}

var catalogue = map[string]Objective{
	"sphere": {
		Name:        "sphere",
		Description: "sum of squares, minimum 0 at the origin",
		Func:        Sphere,
	},
	"shifted-quadratic": {
		Name:        "shifted-quadratic",
		Description: "(x1-3)^2 + (x2+1)^2 extended to N dimensions, minimum 0 at (3, -1, 3, -1, ...)",
		Func:        ShiftedQuadratic,
	},
	"griewank": {
		Name:        "griewank",
		Description: "Griewank function, many local minima, global minimum 0 at the origin",
		Func:        Griewank,
	},
	"rosenbrock": {
		Name:        "rosenbrock",
		Description: "Rosenbrock valley, minimum 0 at (1, ..., 1)",
		Func:        Rosenbrock,
	},
	"rastrigin": {
		Name:        "rastrigin",
		Description: "Rastrigin function, regular grid of local minima, global minimum 0 at the origin",
		Func:        Rastrigin,
	},
	"two-well": {
		Name:        "two-well",
		Description: "wide shallow well at (-4, ...) and narrow deep well at (4, ...)",
		Func:        TwoWell,
	},
}

// Lookup returns the named objective.
func Lookup(name string) (Objective, error) {
	obj, ok := catalogue[name]
	if !ok {
		return Objective{}, optimization.NewConfigurationError("unknown objective %q", name).
			WithComponent("objectives")
	}
	return obj, nil
}

// Names returns the catalogue names in sorted order.
func Names() []string {
	names := make([]string, 0, len(catalogue))
	for name := range catalogue {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns the catalogue sorted by name.
func All() []Objective {
	names := Names()
	out := make([]Objective, len(names))
	for i, name := range names {
		out[i] = catalogue[name]
	}
	return out
}

// Sphere is sum(x_i^2).
func Sphere(x []float64) (float64, error) {
	sum := 0.0
	for _, v := range x {
		sum += v * v
	}
	return sum, nil
}

// ShiftedQuadraticCenter returns the minimizer of ShiftedQuadratic in dim
// dimensions.
func ShiftedQuadraticCenter(dim int) []float64 {
	c := make([]float64, dim)
	for i := range c {
		if i%2 == 0 {
			c[i] = 3
		} else {
			c[i] = -1
		}
	}
	return c
}

// ShiftedQuadratic is sum((x_i - c_i)^2) with c = (3, -1, 3, -1, ...).
func ShiftedQuadratic(x []float64) (float64, error) {
	sum := 0.0
	for i, v := range x {
		c := 3.0
		if i%2 == 1 {
			c = -1
		}
		d := v - c
		sum += d * d
	}
	return sum, nil
}

// Griewank is 1 + sum(x_i^2)/4000 - prod(cos(x_i / sqrt(i+1))).
func Griewank(x []float64) (float64, error) {
	sum := 0.0
	prod := 1.0
	for i, v := range x {
		sum += v * v / 4000
		prod *= math.Cos(v / math.Sqrt(float64(i+1)))
	}
	return 1 + sum - prod, nil
}

// Rosenbrock is sum(100(x_{i+1} - x_i^2)^2 + (1 - x_i)^2).
func Rosenbrock(x []float64) (float64, error) {
	sum := 0.0
	for i := 0; i+1 < len(x); i++ {
		a := x[i+1] - x[i]*x[i]
		b := 1 - x[i]
		sum += 100*a*a + b*b
	}
	return sum, nil
}

// Rastrigin is 10n + sum(x_i^2 - 10 cos(2 pi x_i)).
func Rastrigin(x []float64) (float64, error) {
	sum := 10 * float64(len(x))
	for _, v := range x {
		sum += v*v - 10*math.Cos(2*math.Pi*v)
	}
	return sum, nil
}

// Well centres and shapes for TwoWell.
const (
	localWellCenter  = -4.0
	localWellDepth   = 1.0
	localWellWidth   = 3.0
	globalWellCenter = 4.0
	globalWellDepth  = 2.0
	globalWellWidth  = 0.5
	bowlCurvature    = 1e-3
)

// TwoWell has a wide shallow Gaussian well centred at (-4, ...) and a
// narrow deep one centred at (4, ...) on a faint quadratic bowl.
func TwoWell(x []float64) (float64, error) {
	var dl, dg, r float64
	for _, v := range x {
		dl += (v - localWellCenter) * (v - localWellCenter)
		dg += (v - globalWellCenter) * (v - globalWellCenter)
		r += v * v
	}
	shallow := localWellDepth * math.Exp(-dl/(2*localWellWidth*localWellWidth))
	deep := globalWellDepth * math.Exp(-dg/(2*globalWellWidth*globalWellWidth))
	return bowlCurvature*r - shallow - deep, nil
}
