// Package guard holds the single authorization check every mutating operation
// performs: the caller proven for this request must be the key the operation
// acts for.
package guard

import (
	"context"

	"postage/pkg/domain"
	dErrors "postage/pkg/domain-errors"
	"postage/pkg/requestcontext"
)

// RequireCaller fails with CodeUnauthorized unless the authenticated caller in
// ctx equals expected.
func RequireCaller(ctx context.Context, expected domain.PublicKey) error {
	caller, ok := requestcontext.Caller(ctx)
	if !ok {
		return dErrors.New(dErrors.CodeUnauthorized, "request is not signed")
	}
	if caller != expected {
		return dErrors.New(dErrors.CodeUnauthorized, "caller does not control the required key")
	}
	return nil
}
