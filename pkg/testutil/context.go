package testutil

import (
	"context"
	"net/http"

	httptransport "changegate/internal/transport/http"
)

// WithReviewer adds a reviewer identity to the request context, simulating
// what the auth middleware does for an authenticated reviewer.
func WithReviewer(req *http.Request, reviewerID string) *http.Request {
	ctx := context.WithValue(req.Context(), httptransport.ContextKeyReviewerID, reviewerID)
	return req.WithContext(ctx)
}
