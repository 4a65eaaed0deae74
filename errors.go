package gofusion

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

var (
	// ErrInvalidConfig is returned when a configuration is rejected at construction time.
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrDimensionMismatch is returned when matrix dimensions do not agree.
	ErrDimensionMismatch = errors.New("dimensions must agree")
	// ErrSingularInnovation is returned when H*P*H' + R cannot be factorized.
	ErrSingularInnovation = errors.New("innovation covariance is singular")
	// ErrCovarianceNotPSD is returned when the covariance loses symmetry or positive semi-definiteness.
	ErrCovarianceNotPSD = errors.New("covariance is not symmetric positive semi-definite")
	// ErrUpdateBeforePredict is returned when Update is called without a preceding Predict.
	ErrUpdateBeforePredict = errors.New("update requires a preceding predict")
)

// invalidConfig wraps ErrInvalidConfig with a formatted reason.
func invalidConfig(format string, args ...interface{}) error {
	return errors.Wrapf(ErrInvalidConfig, format, args...)
}

// DimensionAgreement defines how two matrices' dimensions should agree.
type DimensionAgreement uint8

const (
	rows2cols DimensionAgreement = iota + 1
	cols2rows
	cols2cols
	rows2rows
	rowsAndcols
)

// checkMatDims checks the matrix dimensions match provided a DimensionAgreement. Returns an error if not.
func checkMatDims(m1, m2 mat.Matrix, name1, name2 string, method DimensionAgreement) error {
	r1, c1 := m1.Dims()
	r2, c2 := m2.Dims()
	switch method {
	case rows2cols:
		if r1 != c2 {
			return errors.Wrapf(ErrDimensionMismatch, "%s(%dx...) %s(...x%d)", name1, r1, name2, c2)
		}
	case cols2rows:
		if c1 != r2 {
			return errors.Wrapf(ErrDimensionMismatch, "%s(...x%d) %s(%dx...)", name1, c1, name2, r2)
		}
	case cols2cols:
		if c1 != c2 {
			return errors.Wrapf(ErrDimensionMismatch, "%s(...x%d) %s(...x%d)", name1, c1, name2, c2)
		}
	case rows2rows:
		if r1 != r2 {
			return errors.Wrapf(ErrDimensionMismatch, "%s(%dx...) %s(%dx...)", name1, r1, name2, r2)
		}
	case rowsAndcols:
		if c1 != c2 || r1 != r2 {
			return errors.Wrapf(ErrDimensionMismatch, "%s(%dx%d) %s(%dx%d)", name1, r1, c1, name2, r2, c2)
		}
	}
	return nil
}
