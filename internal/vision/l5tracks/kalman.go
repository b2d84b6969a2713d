package l5tracks

import (
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/scenewatch/internal/vision/l4perception"
)

// Constant-velocity model over [cx, cy, w, h, vcx, vcy, vw, vh] observed
// through [cx, cy, w, h]. Noise magnitudes are fixed per tracker.
const (
	stateDim       = 8
	measurementDim = 4

	processNoise      = 0.03
	measurementNoise  = 1.0
	initialCovariance = 10.0
)

// Model matrices are read-only after init and shared by every estimator.
var (
	transition       *mat.Dense // F
	observation      *mat.Dense // H
	processCov       *mat.Dense // Q
	measurementCov   *mat.Dense // R
	identityState    *mat.Dense
	initialStateCovs *mat.Dense // P0
)

func init() {
	transition = scaledIdentity(stateDim, 1)
	for i := 0; i < measurementDim; i++ {
		transition.Set(i, i+measurementDim, 1)
	}
	observation = mat.NewDense(measurementDim, stateDim, nil)
	for i := 0; i < measurementDim; i++ {
		observation.Set(i, i, 1)
	}
	processCov = scaledIdentity(stateDim, processNoise)
	measurementCov = scaledIdentity(measurementDim, measurementNoise)
	identityState = scaledIdentity(stateDim, 1)
	initialStateCovs = scaledIdentity(stateDim, initialCovariance)
}

func scaledIdentity(n int, s float64) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, s)
	}
	return m
}

// MotionEstimator is a linear Kalman filter over box centre and extent.
type MotionEstimator struct {
	x *mat.VecDense // State mean
	p *mat.Dense    // State covariance
}

// NewMotionEstimator seeds the state from box with zero velocity.
func NewMotionEstimator(box l4perception.BBox) *MotionEstimator {
	cf := box.CenterForm()
	x := mat.NewVecDense(stateDim, nil)
	for i := 0; i < measurementDim; i++ {
		x.SetVec(i, cf[i])
	}
	p := mat.NewDense(stateDim, stateDim, nil)
	p.Copy(initialStateCovs)
	return &MotionEstimator{x: x, p: p}
}

// Predict advances one frame: x = F·x, P = F·P·Fᵀ + Q.
func (e *MotionEstimator) Predict() {
	var x mat.VecDense
	x.MulVec(transition, e.x)

	var fp, p mat.Dense
	fp.Mul(transition, e.p)
	p.Mul(&fp, transition.T())
	p.Add(&p, processCov)

	e.x = &x
	e.p = &p
}

// Correct fuses an observed box into the state estimate.
// If the innovation covariance cannot be inverted the position block is
// re-seeded from the observation and the covariance is left unchanged.
func (e *MotionEstimator) Correct(box l4perception.BBox) {
	cf := box.CenterForm()
	z := mat.NewVecDense(measurementDim, cf[:])

	var hx, y mat.VecDense
	hx.MulVec(observation, e.x)
	y.SubVec(z, &hx)

	var pht, s mat.Dense
	pht.Mul(e.p, observation.T())
	s.Mul(observation, &pht)
	s.Add(&s, measurementCov)

	var sInv mat.Dense
	if err := sInv.Inverse(&s); err != nil {
		opsf("innovation covariance not invertible (%v); re-seeding position from %v", err, box)
		for i := 0; i < measurementDim; i++ {
			e.x.SetVec(i, cf[i])
		}
		return
	}

	var k mat.Dense
	k.Mul(&pht, &sInv)

	var dx mat.VecDense
	dx.MulVec(&k, &y)
	e.x.AddVec(e.x, &dx)

	var kh, ikh, p mat.Dense
	kh.Mul(&k, observation)
	ikh.Sub(identityState, &kh)
	p.Mul(&ikh, e.p)
	e.p = &p
}

// BBox returns the current box estimate in corner form.
func (e *MotionEstimator) BBox() l4perception.BBox {
	return l4perception.BBoxFromCenter(e.x.AtVec(0), e.x.AtVec(1), e.x.AtVec(2), e.x.AtVec(3))
}

// State returns a copy of the state vector.
func (e *MotionEstimator) State() [stateDim]float64 {
	var out [stateDim]float64
	for i := range out {
		out[i] = e.x.AtVec(i)
	}
	return out
}

// Variance returns the diagonal of the state covariance.
func (e *MotionEstimator) Variance() [stateDim]float64 {
	var out [stateDim]float64
	for i := range out {
		out[i] = e.p.At(i, i)
	}
	return out
}
