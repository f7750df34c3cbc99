package track

// Constant-velocity Kalman filter over the state [x y vx vy] in local
// metres. The covariance is kept as a flattened row-major 4x4; the
// update step exploits the position-only measurement model so no
// general matrix inversion is needed.

const (
	// minDeterminant rejects updates against a singular innovation
	// covariance rather than dividing by ~0.
	minDeterminant = 1e-9

	initialPosVariance = 10.0
	initialVelVariance = 1.0
)

type filterState struct {
	X, Y   float64
	VX, VY float64
	P      [16]float64
}

func newFilterState(x, y float64) filterState {
	return filterState{
		X: x,
		Y: y,
		P: [16]float64{
			initialPosVariance, 0, 0, 0,
			0, initialPosVariance, 0, 0,
			0, 0, initialVelVariance, 0,
			0, 0, 0, initialVelVariance,
		},
	}
}

// predict advances the state by dt seconds under the constant-velocity
// model and inflates the covariance with process noise.
func (s *filterState) predict(dt, qPos, qVel float64) {
	s.X += s.VX * dt
	s.Y += s.VY * dt

	// P' = F P Fᵀ + Q for F = [I  dt·I; 0  I], computed directly.
	P := s.P
	var FP [16]float64
	for j := 0; j < 4; j++ {
		FP[0*4+j] = P[0*4+j] + dt*P[2*4+j]
		FP[1*4+j] = P[1*4+j] + dt*P[3*4+j]
		FP[2*4+j] = P[2*4+j]
		FP[3*4+j] = P[3*4+j]
	}
	for i := 0; i < 4; i++ {
		s.P[i*4+0] = FP[i*4+0] + dt*FP[i*4+2]
		s.P[i*4+1] = FP[i*4+1] + dt*FP[i*4+3]
		s.P[i*4+2] = FP[i*4+2]
		s.P[i*4+3] = FP[i*4+3]
	}

	s.P[0*4+0] += qPos
	s.P[1*4+1] += qPos
	s.P[2*4+2] += qVel
	s.P[3*4+3] += qVel
}

// update folds in a position measurement (zx, zy) with measurement
// noise variance r. Returns false when the innovation covariance is
// singular and the update was skipped.
func (s *filterState) update(zx, zy, r float64) bool {
	yX := zx - s.X
	yY := zy - s.Y

	// S = H P Hᵀ + R with H extracting position only.
	S00 := s.P[0*4+0] + r
	S01 := s.P[0*4+1]
	S10 := s.P[1*4+0]
	S11 := s.P[1*4+1] + r

	det := S00*S11 - S01*S10
	if det < minDeterminant {
		return false
	}

	invS00 := S11 / det
	invS01 := -S01 / det
	invS10 := -S10 / det
	invS11 := S00 / det

	// K = P Hᵀ S⁻¹ (4x2).
	var K [8]float64
	for i := 0; i < 4; i++ {
		K[i*2+0] = s.P[i*4+0]*invS00 + s.P[i*4+1]*invS10
		K[i*2+1] = s.P[i*4+0]*invS01 + s.P[i*4+1]*invS11
	}

	s.X += K[0*2+0]*yX + K[0*2+1]*yY
	s.Y += K[1*2+0]*yX + K[1*2+1]*yY
	s.VX += K[2*2+0]*yX + K[2*2+1]*yY
	s.VY += K[3*2+0]*yX + K[3*2+1]*yY

	// P' = (I − K H) P; K H only touches the first two columns.
	var IKH [16]float64
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			identity := 0.0
			if i == j {
				identity = 1
			}
			var kh float64
			switch j {
			case 0:
				kh = K[i*2+0]
			case 1:
				kh = K[i*2+1]
			}
			IKH[i*4+j] = identity - kh
		}
	}
	var newP [16]float64
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			var sum float64
			for k := 0; k < 4; k++ {
				sum += IKH[i*4+k] * s.P[k*4+j]
			}
			newP[i*4+j] = sum
		}
	}
	s.P = newP
	return true
}
