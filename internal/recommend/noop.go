package recommend

import (
	"context"
	"fmt"

	"changegate/internal/domain"
)

// Noop is used when no AI collaborator is configured. Every call errors, so
// exceptions carry a nil recommendation.
type Noop struct{}

func (Noop) Recommend(context.Context, domain.ReasonCode, string) (string, error) {
	return "", fmt.Errorf("recommendation collaborator not configured")
}
