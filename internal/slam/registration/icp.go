package registration

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/lidarmap/internal/slam"
	"github.com/banshee-data/lidarmap/internal/slam/geom"
)

// ICP is point-to-point iterative closest point.
type ICP struct {
	cfg    Config
	target *Target

	// scratch buffers, reused across iterations and calls
	src, dst []geom.Point
	d2, sorted []float64
}

// NewICP returns an ICP registrar.
func NewICP(cfg Config) (*ICP, error) {
	if err := cfg.Validate(MethodICP); err != nil {
		return nil, err
	}
	return &ICP{cfg: cfg}, nil
}

// Method returns MethodICP.
func (r *ICP) Method() Method { return MethodICP }

// SetTarget installs t.
func (r *ICP) SetTarget(t *Target) { r.target = t }

// Align runs ICP from guess. Each iteration pairs every transformed source
// point with its nearest target point, drops pairs beyond the tighter of
// MaxCorrespondenceDistance and OutlierRejectionThreshold, keeps the
// OutlierPercentile closest of the rest, solves the rigid update in closed
// form and composes it onto the running transform. The loop stops once the update is smaller
// than TransformationEpsilon or the pairs' mean squared distance is below
// EuclideanFitnessEpsilon.
func (r *ICP) Align(source geom.PointCloud, guess geom.Transform) Result {
	if r.target.Len() == 0 || len(source) == 0 {
		return failed(guess)
	}
	maxCorr2 := r.cfg.MaxCorrespondenceDistance * r.cfg.MaxCorrespondenceDistance
	if o := r.cfg.OutlierRejectionThreshold; o > 0 && o*o < maxCorr2 {
		maxCorr2 = o * o
	}

	tf := guess
	res := Result{Transform: guess}
	for res.Iterations < r.cfg.MaxIterations {
		res.Iterations++
		mse, n := r.correspond(source, tf, maxCorr2)
		if n >= 3 && r.cfg.OutlierPercentile > 0 && r.cfg.OutlierPercentile < 1 {
			mse, n = r.trim(r.cfg.OutlierPercentile)
		}
		if n < 3 {
			slam.Tracef("icp: iter %d only %d correspondences, stopping", res.Iterations, n)
			break
		}
		delta, ok := rigidFit(r.src, r.dst)
		if !ok {
			break
		}
		tf = delta.Mul(tf)
		dx, dy, dz := delta.Translation()
		step := math.Max(math.Sqrt(dx*dx+dy*dy+dz*dz), delta.RotationAngle())
		if slam.TraceEnabled() {
			slam.Tracef("icp: iter %d pairs=%d mse=%.6f step=%.3g", res.Iterations, n, mse, step)
		}
		if step < r.cfg.TransformationEpsilon || mse < r.cfg.EuclideanFitnessEpsilon {
			res.Converged = true
			break
		}
	}
	res.Transform = tf
	res.Fitness = r.target.Fitness(source, tf, r.cfg.fitnessRange2())
	return res
}

// correspond fills r.src/r.dst with accepted pairs and returns their mean
// squared distance and count.
func (r *ICP) correspond(source geom.PointCloud, tf geom.Transform, maxCorr2 float64) (float64, int) {
	r.src = r.src[:0]
	r.dst = r.dst[:0]
	r.d2 = r.d2[:0]
	var sum float64
	for _, p := range source {
		x, y, z := tf.Apply(p.X, p.Y, p.Z)
		q, d := r.target.nearest(x, y, z)
		if q == nil || d > maxCorr2 {
			continue
		}
		r.src = append(r.src, geom.Point{X: x, Y: y, Z: z})
		r.dst = append(r.dst, geom.Point{X: q[0], Y: q[1], Z: q[2]})
		r.d2 = append(r.d2, d)
		sum += d
	}
	if len(r.src) == 0 {
		return math.Inf(1), 0
	}
	return sum / float64(len(r.src)), len(r.src)
}

// trim keeps the pairs whose squared distance is within the smallest
// ceil(p·n), ties included, and returns the kept pairs' mean squared
// distance and count.
func (r *ICP) trim(p float64) (float64, int) {
	n := len(r.d2)
	keep := int(math.Ceil(float64(n) * p))
	if keep >= n {
		return meanOf(r.d2), n
	}
	if keep < 1 {
		keep = 1
	}
	r.sorted = append(r.sorted[:0], r.d2...)
	sort.Float64s(r.sorted)
	limit := r.sorted[keep-1]

	j := 0
	for i, d := range r.d2 {
		if d > limit {
			continue
		}
		r.src[j], r.dst[j], r.d2[j] = r.src[i], r.dst[i], d
		j++
	}
	r.src, r.dst, r.d2 = r.src[:j], r.dst[:j], r.d2[:j]
	return meanOf(r.d2), j
}

func meanOf(v []float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}

// rigidFit returns the rotation and translation minimising Σ‖R·src+t − dst‖²
// (Kabsch). ok is false when the SVD fails.
func rigidFit(src, dst []geom.Point) (geom.Transform, bool) {
	n := float64(len(src))
	var ps, qs [3]float64
	for i := range src {
		ps[0] += src[i].X
		ps[1] += src[i].Y
		ps[2] += src[i].Z
		qs[0] += dst[i].X
		qs[1] += dst[i].Y
		qs[2] += dst[i].Z
	}
	for k := range ps {
		ps[k] /= n
		qs[k] /= n
	}

	h := mat.NewDense(3, 3, nil)
	for i := range src {
		a := [3]float64{src[i].X - ps[0], src[i].Y - ps[1], src[i].Z - ps[2]}
		b := [3]float64{dst[i].X - qs[0], dst[i].Y - qs[1], dst[i].Z - qs[2]}
		for r := 0; r < 3; r++ {
			for c := 0; c < 3; c++ {
				h.Set(r, c, h.At(r, c)+a[r]*b[c])
			}
		}
	}

	var svd mat.SVD
	if !svd.Factorize(h, mat.SVDFull) {
		return geom.Identity(), false
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	var rot mat.Dense
	rot.Mul(&v, u.T())
	if mat.Det(&rot) < 0 {
		d := mat.NewDiagDense(3, []float64{1, 1, -1})
		var vd mat.Dense
		vd.Mul(&v, d)
		rot.Mul(&vd, u.T())
	}

	var out geom.Transform
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			out[r*4+c] = rot.At(r, c)
		}
		out[r*4+3] = qs[r] - (rot.At(r, 0)*ps[0] + rot.At(r, 1)*ps[1] + rot.At(r, 2)*ps[2])
	}
	out[15] = 1
	return out, true
}
