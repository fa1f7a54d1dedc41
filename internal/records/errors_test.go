package records

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	dErrors "postage/pkg/domain-errors"
	"postage/pkg/platform/sentinel"
)

func TestDomainError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want dErrors.Code
	}{
		{"not found", fmt.Errorf("x: %w", sentinel.ErrNotFound), dErrors.CodeNotFound},
		{"already exists", sentinel.ErrAlreadyExists, dErrors.CodeAlreadyExists},
		{"too large", ErrRecordTooLarge, dErrors.CodeValidation},
		{"tag mismatch", ErrTypeMismatch, dErrors.CodeInvariantViolation},
		{"overflow", ErrBalanceOverflow, dErrors.CodeArithmeticOverflow},
		{"domain passthrough", dErrors.New(dErrors.CodeUnauthorized, "no"), dErrors.CodeUnauthorized},
		{"unknown", errors.New("disk"), dErrors.CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, dErrors.GetCode(DomainError(tt.err, "profile")))
		})
	}
	assert.NoError(t, DomainError(nil, "profile"))
}
