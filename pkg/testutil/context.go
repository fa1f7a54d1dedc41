package testutil

import (
	"context"
	"net/http"

	"postage/pkg/domain"
	"postage/pkg/requestcontext"
)

// WithCaller marks the request as signed by key, the state the proof
// middleware leaves behind after verifying a request.
func WithCaller(req *http.Request, key domain.PublicKey) *http.Request {
	return req.WithContext(requestcontext.WithCaller(req.Context(), key))
}

// CallerContext returns a background context authenticated as key.
func CallerContext(key domain.PublicKey) context.Context {
	return requestcontext.WithCaller(context.Background(), key)
}
