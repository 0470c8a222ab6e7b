package calibration

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"
)

// Entry names in the calibration file.
const (
	KeyDate       = "date"
	KeyDistortion = "MatrixD"
	KeyIntrinsic  = "MatrixK"
	KeyProjection = "MatrixP"
)

const (
	opencvHeader    = "%YAML:1.0\n---\n"
	opencvMatrixTag = "!!opencv-matrix"
	// DateLayout is the asctime(3) layout used for the date entry.
	DateLayout = "Mon Jan _2 15:04:05 2006"
)

var (
	// ErrNotFound is returned when the calibration file cannot be opened.
	ErrNotFound = errors.New("calibration file not found")
	// ErrFieldNotFound is matched by FieldsNotFoundError.
	ErrFieldNotFound = errors.New("calibration entry not found")
)

// FieldsNotFoundError lists the matrix entries absent from an otherwise valid
// calibration file. The corresponding matrices keep their prior values.
type FieldsNotFoundError struct {
	Path   string
	Fields []string
}

func (e *FieldsNotFoundError) Error() string {
	return fmt.Sprintf("calibration file %s has no %s", e.Path, strings.Join(e.Fields, ", "))
}

// Is makes errors.Is(err, ErrFieldNotFound) hold.
func (e *FieldsNotFoundError) Is(target error) bool {
	return target == ErrFieldNotFound
}

type opencvMatrix struct {
	Rows int       `yaml:"rows"`
	Cols int       `yaml:"cols"`
	Dt   string    `yaml:"dt"`
	Data []float64 `yaml:"data"`
}

type entry struct {
	key        string
	rows, cols int
	// vector entries are also accepted in the transposed orientation, as
	// cv::calibrateCamera writes distortion coefficients as a row.
	vector bool
	get    func(*Matrices) **mat.Dense
}

var entries = []entry{
	{KeyDistortion, DistortionRows, DistortionCols, true, func(m *Matrices) **mat.Dense { return &m.D }},
	{KeyIntrinsic, IntrinsicRows, IntrinsicCols, false, func(m *Matrices) **mat.Dense { return &m.K }},
	{KeyProjection, ProjectionRows, ProjectionCols, false, func(m *Matrices) **mat.Dense { return &m.P }},
}

// ReadFile loads the three matrices from path.
//
// If the file cannot be opened, prior is returned unchanged with an error
// matching ErrNotFound. If the document is malformed or an entry has the wrong
// shape, prior is returned unchanged with a parse error. Entries missing from
// a valid document keep their prior value and are reported through a
// *FieldsNotFoundError returned alongside the updated matrices.
func ReadFile(path string, prior Matrices) (Matrices, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return prior, fmt.Errorf("%w: %s: %w", ErrNotFound, path, err)
	}

	// The OpenCV directive is not valid YAML 1.1/1.2 syntax.
	if bytes.HasPrefix(b, []byte("%YAML")) {
		if i := bytes.IndexByte(b, '\n'); i >= 0 {
			b = b[i+1:]
		} else {
			b = nil
		}
	}

	var doc map[string]yaml.Node
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return prior, pkgerrors.Wrapf(err, "failed to parse calibration file %s", path)
	}

	out := prior.Clone()
	var missing []string
	for _, e := range entries {
		node, ok := doc[e.key]
		if !ok {
			missing = append(missing, e.key)
			continue
		}
		d, err := decodeMatrix(&node, e.rows, e.cols, e.vector)
		if err != nil {
			return prior, pkgerrors.Wrapf(err, "invalid entry %s in calibration file %s", e.key, path)
		}
		*e.get(&out) = d
	}

	if date, ok := doc[KeyDate]; ok {
		logrus.WithFields(logrus.Fields{
			"path": path,
			"date": strings.TrimSpace(date.Value),
		}).Debug("calibration file read")
	}

	if len(missing) > 0 {
		return out, &FieldsNotFoundError{Path: path, Fields: missing}
	}
	return out, nil
}

func decodeMatrix(node *yaml.Node, rows, cols int, vector bool) (*mat.Dense, error) {
	// The opencv-matrix tag has no meaning to the decoder.
	node.Tag = ""

	var om opencvMatrix
	if err := node.Decode(&om); err != nil {
		return nil, err
	}
	switch om.Dt {
	case "", "d", "f":
	default:
		return nil, fmt.Errorf("unsupported element type %q", om.Dt)
	}
	transposed := vector && om.Rows == cols && om.Cols == rows
	if (om.Rows != rows || om.Cols != cols) && !transposed {
		return nil, fmt.Errorf("expected %dx%d matrix, got %dx%d", rows, cols, om.Rows, om.Cols)
	}
	if len(om.Data) != rows*cols {
		return nil, fmt.Errorf("expected %d values, got %d", rows*cols, len(om.Data))
	}
	return mat.NewDense(rows, cols, om.Data), nil
}

// WriteFile truncates or creates path and writes the date entry followed by
// the three matrices, readable again by ReadFile and by OpenCV FileStorage.
func WriteFile(path string, m Matrices, now time.Time) error {
	if err := m.Validate(); err != nil {
		return err
	}

	doc := &yaml.Node{Kind: yaml.MappingNode}
	doc.Content = append(doc.Content,
		strNode(KeyDate),
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Style: yaml.DoubleQuotedStyle, Value: now.Format(DateLayout)},
	)
	for _, e := range entries {
		doc.Content = append(doc.Content, strNode(e.key), matrixNode(*e.get(&m)))
	}

	var buf bytes.Buffer
	buf.WriteString(opencvHeader)
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(3)
	if err := enc.Encode(doc); err != nil {
		return pkgerrors.Wrapf(err, "failed to encode calibration for %s", path)
	}
	if err := enc.Close(); err != nil {
		return pkgerrors.Wrapf(err, "failed to encode calibration for %s", path)
	}

	fp, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to open calibration file %s for writing", path)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", path)
		}
	}(fp)

	if _, err := fp.Write(buf.Bytes()); err != nil {
		return pkgerrors.Wrapf(err, "failed to write calibration file %s", path)
	}
	return nil
}

func matrixNode(d *mat.Dense) *yaml.Node {
	r, c := d.Dims()
	data := &yaml.Node{Kind: yaml.SequenceNode, Style: yaml.FlowStyle}
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			data.Content = append(data.Content, &yaml.Node{
				Kind:  yaml.ScalarNode,
				Tag:   "!!float",
				Value: formatFloat(d.At(i, j)),
			})
		}
	}
	return &yaml.Node{
		Kind: yaml.MappingNode,
		Tag:  opencvMatrixTag,
		Content: []*yaml.Node{
			strNode("rows"), intNode(r),
			strNode("cols"), intNode(c),
			strNode("dt"), strNode("d"),
			strNode("data"), data,
		},
	}
}

// formatFloat returns the shortest representation that parses back to the
// same float64, always in a form YAML resolves as a float.
func formatFloat(v float64) string {
	switch {
	case math.IsInf(v, 1):
		return ".inf"
	case math.IsInf(v, -1):
		return "-.inf"
	case math.IsNaN(v):
		return ".nan"
	}
	s := strconv.FormatFloat(v, 'g', -1, 64)
	if !strings.ContainsAny(s, ".e") {
		s += "."
	}
	return s
}

func strNode(v string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v}
}

func intNode(v int) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.Itoa(v)}
}
