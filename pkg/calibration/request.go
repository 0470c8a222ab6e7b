package calibration

import "fmt"

// ProjectionSource selects which request field fills the projection matrix.
type ProjectionSource string

const (
	// ProjectionFromR fills P from the 12-value R field. This is the mapping
	// existing clients of the set-calibration call rely on, even though R is
	// named like a rectification matrix.
	ProjectionFromR ProjectionSource = "R"
	// ProjectionFromP fills P from the P field.
	ProjectionFromP ProjectionSource = "P"
)

// Valid reports whether s is a known source.
func (s ProjectionSource) Valid() bool {
	return s == ProjectionFromR || s == ProjectionFromP
}

// SetRequest carries replacement calibration values in row-major order.
type SetRequest struct {
	D []float64 `json:"D"`
	K []float64 `json:"K"`
	R []float64 `json:"R,omitempty"`
	P []float64 `json:"P,omitempty"`
}

// SetResponse reports the outcome of a set-calibration call. Status is 1 on
// success and -1 when the calibration file could not be written.
type SetResponse struct {
	Success bool   `json:"success"`
	Status  int    `json:"status"`
	Message string `json:"message,omitempty"`
}

// Projection returns the 12 values selected by src.
func (r SetRequest) Projection(src ProjectionSource) ([]float64, error) {
	switch src {
	case ProjectionFromR:
		return r.R, nil
	case ProjectionFromP:
		return r.P, nil
	default:
		return nil, fmt.Errorf("unknown projection source %q", src)
	}
}

// Matrices converts the request into Matrices, taking P from src.
func (r SetRequest) Matrices(src ProjectionSource) (Matrices, error) {
	p, err := r.Projection(src)
	if err != nil {
		return Matrices{}, err
	}
	return FromFlat(r.D, r.K, p)
}

// Request flattens m into a request that sets the same values under either
// projection source.
func (m Matrices) Request() SetRequest {
	m = m.Clone()
	r := SetRequest{
		D: make([]float64, DistortionRows*DistortionCols),
		K: make([]float64, IntrinsicRows*IntrinsicCols),
		P: make([]float64, ProjectionRows*ProjectionCols),
	}
	rowMajor(r.D, m.D)
	rowMajor(r.K, m.K)
	rowMajor(r.P, m.P)
	r.R = append([]float64(nil), r.P...)
	return r
}
