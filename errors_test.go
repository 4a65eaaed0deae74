package gofusion

import (
	"testing"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

func TestCheckDims(t *testing.T) {
	i22 := mat.NewDense(2, 2, []float64{1, 0, 0, 1})
	i33 := mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
	methods := []DimensionAgreement{rows2cols, cols2rows, cols2cols, rows2rows, rowsAndcols}
	for _, meth := range methods {
		if err := checkMatDims(i22, i22, "i22", "i22", meth); err != nil {
			t.Fatalf("method %+v fails: %s", meth, err)
		}
		err := checkMatDims(i22, i33, "i22", "i33", meth)
		if err == nil {
			t.Fatalf("method %+v does not error when using i22 and i33 ", meth)
		}
		if !errors.Is(err, ErrDimensionMismatch) {
			t.Fatalf("method %+v returned %s instead of a dimension mismatch", meth, err)
		}
	}
}

func TestInvalidConfigWraps(t *testing.T) {
	err := invalidConfig("dt=%f", -1.0)
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("%s does not wrap ErrInvalidConfig", err)
	}
	if errors.Cause(err) != ErrInvalidConfig {
		t.Fatal("cause of a config error is not ErrInvalidConfig")
	}
}
