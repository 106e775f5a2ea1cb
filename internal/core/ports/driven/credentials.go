package driven

import (
	"context"

	"github.com/loomworks/aide-sync/internal/core/domain"
)

// CredentialProvider hands out valid bearer tokens for provider API calls.
// Token issuance and refresh live in an external service; the engine only
// asks for a currently valid token. Implementations return
// domain.ErrAuthFailure when no usable credential exists, which pauses the
// resource until the account is reconnected.
type CredentialProvider interface {
	AccessToken(ctx context.Context, userID string, family domain.ResourceFamily) (string, error)
}
