package calibration

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Matrix shapes. They never change at runtime.
const (
	DistortionRows = 5
	DistortionCols = 1
	IntrinsicRows  = 3
	IntrinsicCols  = 3
	ProjectionRows = 3
	ProjectionCols = 4
)

// Matrices is the camera optical model: plumb-bob distortion coefficients D,
// intrinsic camera matrix K and projection matrix P.
type Matrices struct {
	D *mat.Dense
	K *mat.Dense
	P *mat.Dense
}

// NewMatrices returns zero-valued matrices of the fixed shapes.
func NewMatrices() Matrices {
	return Matrices{
		D: mat.NewDense(DistortionRows, DistortionCols, nil),
		K: mat.NewDense(IntrinsicRows, IntrinsicCols, nil),
		P: mat.NewDense(ProjectionRows, ProjectionCols, nil),
	}
}

// FromFlat builds Matrices from row-major slices of 5, 9 and 12 values.
// The slices are copied.
func FromFlat(d, k, p []float64) (Matrices, error) {
	dm, err := denseFromFlat("D", DistortionRows, DistortionCols, d)
	if err != nil {
		return Matrices{}, err
	}
	km, err := denseFromFlat("K", IntrinsicRows, IntrinsicCols, k)
	if err != nil {
		return Matrices{}, err
	}
	pm, err := denseFromFlat("P", ProjectionRows, ProjectionCols, p)
	if err != nil {
		return Matrices{}, err
	}
	return Matrices{D: dm, K: km, P: pm}, nil
}

func denseFromFlat(name string, rows, cols int, data []float64) (*mat.Dense, error) {
	if len(data) != rows*cols {
		return nil, fmt.Errorf("%s must have %d values, got %d", name, rows*cols, len(data))
	}
	return mat.NewDense(rows, cols, append([]float64(nil), data...)), nil
}

// Clone returns a deep copy. Nil matrices are replaced by zero matrices so
// the copy always has the fixed shapes.
func (m Matrices) Clone() Matrices {
	out := NewMatrices()
	if m.D != nil {
		out.D.Copy(m.D)
	}
	if m.K != nil {
		out.K.Copy(m.K)
	}
	if m.P != nil {
		out.P.Copy(m.P)
	}
	return out
}

// Validate checks that all three matrices are present and correctly shaped.
func (m Matrices) Validate() error {
	for _, c := range []struct {
		name       string
		d          *mat.Dense
		rows, cols int
	}{
		{"D", m.D, DistortionRows, DistortionCols},
		{"K", m.K, IntrinsicRows, IntrinsicCols},
		{"P", m.P, ProjectionRows, ProjectionCols},
	} {
		if c.d == nil {
			return fmt.Errorf("matrix %s is nil", c.name)
		}
		if r, cl := c.d.Dims(); r != c.rows || cl != c.cols {
			return fmt.Errorf("matrix %s must be %dx%d, got %dx%d", c.name, c.rows, c.cols, r, cl)
		}
	}
	return nil
}

// Equal reports whether both sets of matrices hold identical values.
func (m Matrices) Equal(o Matrices) bool {
	return mat.Equal(m.D, o.D) && mat.Equal(m.K, o.K) && mat.Equal(m.P, o.P)
}

// rowMajor flattens d into dst, which must have room for rows*cols values.
func rowMajor(dst []float64, d mat.Matrix) {
	r, c := d.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			dst[i*c+j] = d.At(i, j)
		}
	}
}
