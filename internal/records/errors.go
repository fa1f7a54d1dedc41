package records

import (
	"errors"

	dErrors "postage/pkg/domain-errors"
	"postage/pkg/platform/sentinel"
)

// DomainError translates store and codec failures for record what into
// domain errors. Errors that already carry a domain code pass through.
func DomainError(err error, what string) error {
	if err == nil {
		return nil
	}
	var de *dErrors.Error
	switch {
	case errors.As(err, &de):
		return err
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, what+" not found")
	case errors.Is(err, sentinel.ErrAlreadyExists):
		return dErrors.New(dErrors.CodeAlreadyExists, what+" already exists")
	case errors.Is(err, ErrRecordTooLarge), errors.Is(err, ErrInvalidString):
		return dErrors.Wrap(err, dErrors.CodeValidation, what+" is invalid")
	case errors.Is(err, ErrTypeMismatch), errors.Is(err, ErrTruncated):
		return dErrors.Wrap(err, dErrors.CodeInvariantViolation, what+" holds unexpected data")
	case errors.Is(err, ErrBalanceOverflow):
		return dErrors.Wrap(err, dErrors.CodeArithmeticOverflow, what+" balance overflow")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to access "+what)
	}
}
