package registration

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/lidarmap/internal/slam"
	"github.com/banshee-data/lidarmap/internal/slam/geom"
)

const (
	// minPointsPerCell is the occupancy below which a voxel gets no Gaussian.
	minPointsPerCell = 5
	// minEigenRatio clamps small covariance eigenvalues to this fraction of
	// the largest so flat or linear voxels stay invertible.
	minEigenRatio = 0.01
	maxLineSearch = 10
	// hessianFloor bounds the smallest Hessian eigenvalue magnitude used by
	// the Newton step, relative to the largest.
	hessianFloor = 1e-6
)

type cellKey struct {
	x, y, z int
}

type gaussCell struct {
	mean [3]float64
	icov [9]float64 // row-major inverse covariance
}

type ndtGrid struct {
	resolution float64
	cells      map[cellKey]*gaussCell
}

func (g *ndtGrid) key(x, y, z float64) cellKey {
	return cellKey{
		x: int(math.Floor(x / g.resolution)),
		y: int(math.Floor(y / g.resolution)),
		z: int(math.Floor(z / g.resolution)),
	}
}

// neighbourOffsets are the containing voxel and its 26 neighbours. A cell
// contributes to a point's score only when its mean lies within one
// resolution of the point, so the score does not jump when a point crosses
// a voxel face.
var neighbourOffsets = func() []cellKey {
	offs := make([]cellKey, 0, 27)
	for x := -1; x <= 1; x++ {
		for y := -1; y <= 1; y++ {
			for z := -1; z <= 1; z++ {
				offs = append(offs, cellKey{x, y, z})
			}
		}
	}
	return offs
}()

func buildNDTGrid(cloud geom.PointCloud, resolution float64) *ndtGrid {
	g := &ndtGrid{resolution: resolution, cells: make(map[cellKey]*gaussCell)}
	buckets := make(map[cellKey][]geom.Point)
	for _, p := range cloud {
		k := g.key(p.X, p.Y, p.Z)
		buckets[k] = append(buckets[k], p)
	}
	for k, pts := range buckets {
		if len(pts) < minPointsPerCell {
			continue
		}
		if c, ok := fitGaussian(pts); ok {
			g.cells[k] = c
		}
	}
	return g
}

// fitGaussian computes the mean and regularised inverse covariance of pts.
func fitGaussian(pts []geom.Point) (*gaussCell, bool) {
	n := float64(len(pts))
	var c gaussCell
	for _, p := range pts {
		c.mean[0] += p.X
		c.mean[1] += p.Y
		c.mean[2] += p.Z
	}
	for i := range c.mean {
		c.mean[i] /= n
	}
	cov := mat.NewSymDense(3, nil)
	for _, p := range pts {
		d := [3]float64{p.X - c.mean[0], p.Y - c.mean[1], p.Z - c.mean[2]}
		for i := 0; i < 3; i++ {
			for j := i; j < 3; j++ {
				cov.SetSym(i, j, cov.At(i, j)+d[i]*d[j]/(n-1))
			}
		}
	}

	var eig mat.EigenSym
	if !eig.Factorize(cov, true) {
		return nil, false
	}
	vals := eig.Values(nil)
	maxVal := floats.Max(vals)
	if !(maxVal > 0) {
		return nil, false
	}
	for i := range vals {
		if vals[i] < minEigenRatio*maxVal {
			vals[i] = minEigenRatio * maxVal
		}
	}
	var vecs mat.Dense
	eig.VectorsTo(&vecs)
	var scaled, rebuilt mat.Dense
	scaled.Mul(&vecs, mat.NewDiagDense(3, vals))
	rebuilt.Mul(&scaled, vecs.T())
	reg := mat.NewSymDense(3, nil)
	for i := 0; i < 3; i++ {
		for j := i; j < 3; j++ {
			reg.SetSym(i, j, (rebuilt.At(i, j)+rebuilt.At(j, i))/2)
		}
	}

	var chol mat.Cholesky
	if !chol.Factorize(reg) {
		return nil, false
	}
	var inv mat.SymDense
	if err := chol.InverseTo(&inv); err != nil {
		return nil, false
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			c.icov[i*3+j] = inv.At(i, j)
		}
	}
	return &c, true
}

// NDT registers by maximising the likelihood of source points under the
// target's per-voxel Gaussians, using damped Newton steps.
type NDT struct {
	cfg    Config
	target *Target

	d1, d2 float64
}

// NewNDT returns an NDT registrar.
func NewNDT(cfg Config) (*NDT, error) {
	if err := cfg.Validate(MethodNDT); err != nil {
		return nil, err
	}
	return &NDT{cfg: cfg}, nil
}

// Method returns MethodNDT.
func (r *NDT) Method() Method { return MethodNDT }

// SetTarget installs t, building a private NDT grid if t was not prepared
// at this registrar's resolution.
func (r *NDT) SetTarget(t *Target) { r.target = t.withNDT(r.cfg.Resolution) }

// gaussConstants derives the mixture constants of the outlier-robust score
// function (Magnusson 2009, eq. 6.8).
func (r *NDT) gaussConstants() {
	res := r.cfg.Resolution
	c1 := 10 * (1 - r.cfg.OutlierRatio)
	c2 := r.cfg.OutlierRatio / (res * res * res)
	d3 := -math.Log(c2)
	r.d1 = -math.Log(c1+c2) - d3
	r.d2 = -2 * math.Log((-math.Log(c1*math.Exp(-0.5)+c2)-d3)/r.d1)
}

// Align runs NDT from guess.
func (r *NDT) Align(source geom.PointCloud, guess geom.Transform) Result {
	if r.target.Len() == 0 || len(source) == 0 || r.target.Cells() == 0 {
		return failed(guess)
	}
	r.gaussConstants()

	pose := guess.Pose()
	x := poseVec(pose)
	cost, grad, hess := r.evaluate(source, x, true)
	res := Result{Transform: guess}

	for res.Iterations < r.cfg.MaxIterations {
		res.Iterations++
		step, ok := newtonStep(grad, hess)
		if !ok {
			break
		}
		full := floats.Norm(step, 2)
		if full < r.cfg.TransformationEpsilon {
			res.Converged = true
			break
		}
		if full > r.cfg.StepSize {
			floats.Scale(r.cfg.StepSize/full, step)
		}

		alpha := 1.0
		accepted := false
		var next []float64
		var nextCost float64
		for ls := 0; ls < maxLineSearch; ls++ {
			next = make([]float64, 6)
			floats.AddScaledTo(next, x, alpha, step)
			nextCost, _, _ = r.evaluate(source, next, false)
			if nextCost < cost {
				accepted = true
				break
			}
			alpha /= 2
		}
		if !accepted {
			// Stalled with a Newton step still above epsilon: keep the best
			// pose found and report it as not converged.
			slam.Tracef("ndt: line search failed at iter %d, newton step %.3g", res.Iterations, full)
			break
		}
		x = next
		if slam.TraceEnabled() {
			slam.Tracef("ndt: iter %d cost=%.6f step=%.3g alpha=%.3g", res.Iterations, nextCost, alpha*floats.Norm(step, 2), alpha)
		}
		cost, grad, hess = r.evaluate(source, x, true)
	}

	res.Transform = geom.FromPose(vecPose(x))
	res.Fitness = r.target.Fitness(source, res.Transform, r.cfg.fitnessRange2())
	return res
}

// evaluate returns the negative NDT score at x and, when derivs is set, its
// gradient and Gauss-Newton Hessian over (x, y, z, roll, pitch, yaw).
func (r *NDT) evaluate(source geom.PointCloud, x []float64, derivs bool) (float64, []float64, *mat.SymDense) {
	tf := geom.FromPose(vecPose(x))
	var jac [6][3]float64
	if derivs {
		jac[0] = [3]float64{1, 0, 0}
		jac[1] = [3]float64{0, 1, 0}
		jac[2] = [3]float64{0, 0, 1}
	}
	grad := make([]float64, 6)
	hess := mat.NewSymDense(6, nil)
	grid := r.target.ndt
	radius2 := grid.resolution * grid.resolution
	var cost float64

	for _, p := range source {
		tx, ty, tz := tf.Apply(p.X, p.Y, p.Z)
		if derivs {
			angleJacobian(x[3], x[4], x[5], p, &jac)
		}
		base := grid.key(tx, ty, tz)
		for _, off := range neighbourOffsets {
			c := grid.cells[cellKey{base.x + off.x, base.y + off.y, base.z + off.z}]
			if c == nil {
				continue
			}
			q := [3]float64{tx - c.mean[0], ty - c.mean[1], tz - c.mean[2]}
			if q[0]*q[0]+q[1]*q[1]+q[2]*q[2] > radius2 {
				continue
			}
			var sq [3]float64 // Σ⁻¹q
			for i := 0; i < 3; i++ {
				sq[i] = c.icov[i*3]*q[0] + c.icov[i*3+1]*q[1] + c.icov[i*3+2]*q[2]
			}
			m := q[0]*sq[0] + q[1]*sq[1] + q[2]*sq[2]
			e := math.Exp(-r.d2 / 2 * m)
			cost += r.d1 * e
			if !derivs {
				continue
			}
			w := -r.d1 * r.d2 * e
			var g [6]float64 // qᵀΣ⁻¹J_k
			for k := 0; k < 6; k++ {
				g[k] = sq[0]*jac[k][0] + sq[1]*jac[k][1] + sq[2]*jac[k][2]
				grad[k] += w * g[k]
			}
			for k := 0; k < 6; k++ {
				var sj [3]float64 // Σ⁻¹J_k
				for i := 0; i < 3; i++ {
					sj[i] = c.icov[i*3]*jac[k][0] + c.icov[i*3+1]*jac[k][1] + c.icov[i*3+2]*jac[k][2]
				}
				for l := k; l < 6; l++ {
					jj := jac[l][0]*sj[0] + jac[l][1]*sj[1] + jac[l][2]*sj[2]
					hess.SetSym(k, l, hess.At(k, l)+w*(jj-r.d2*g[k]*g[l]))
				}
			}
		}
	}
	return cost, grad, hess
}

// newtonStep solves |H|·Δ = -g, where |H| has the eigenvectors of H and the
// magnitudes of its eigenvalues floored at hessianFloor of the largest.
// Δ is a descent direction even where H is indefinite.
func newtonStep(grad []float64, hess *mat.SymDense) ([]float64, bool) {
	if floats.Norm(grad, 2) == 0 {
		return nil, false
	}
	var eig mat.EigenSym
	if !eig.Factorize(hess, true) {
		return nil, false
	}
	vals := eig.Values(nil)
	var maxAbs float64
	for _, v := range vals {
		maxAbs = math.Max(maxAbs, math.Abs(v))
	}
	if !(maxAbs > 0) || math.IsInf(maxAbs, 0) {
		return nil, false
	}
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	step := make([]float64, 6)
	for k, v := range vals {
		lambda := math.Max(math.Abs(v), hessianFloor*maxAbs)
		col := mat.Col(nil, k, &vecs)
		proj := floats.Dot(col, grad)
		floats.AddScaled(step, -proj/lambda, col)
	}
	return step, true
}

// angleJacobian fills jac[3..5] with ∂(R·p)/∂(roll, pitch, yaw) for
// R = Rz(yaw)·Ry(pitch)·Rx(roll).
func angleJacobian(roll, pitch, yaw float64, p geom.Point, jac *[6][3]float64) {
	sr, cr := math.Sincos(roll)
	sp, cp := math.Sincos(pitch)
	sy, cy := math.Sincos(yaw)
	x, y, z := p.X, p.Y, p.Z

	jac[3] = [3]float64{
		(cy*sp*cr+sy*sr)*y + (-cy*sp*sr+sy*cr)*z,
		(sy*sp*cr-cy*sr)*y + (-sy*sp*sr-cy*cr)*z,
		cp*cr*y - cp*sr*z,
	}
	jac[4] = [3]float64{
		-cy*sp*x + cy*cp*sr*y + cy*cp*cr*z,
		-sy*sp*x + sy*cp*sr*y + sy*cp*cr*z,
		-cp*x - sp*sr*y - sp*cr*z,
	}
	jac[5] = [3]float64{
		-sy*cp*x + (-sy*sp*sr-cy*cr)*y + (-sy*sp*cr+cy*sr)*z,
		cy*cp*x + (cy*sp*sr-sy*cr)*y + (cy*sp*cr+sy*sr)*z,
		0,
	}
}

func poseVec(p geom.Pose6D) []float64 {
	return []float64{p.X, p.Y, p.Z, p.Roll, p.Pitch, p.Yaw}
}

func vecPose(v []float64) geom.Pose6D {
	return geom.Pose6D{X: v[0], Y: v[1], Z: v[2], Roll: v[3], Pitch: v[4], Yaw: v[5]}
}
