package security

import (
	"context"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/pkg/errors"
)

// NewKeySet loads the identity provider's JWKS from url and keeps it refreshed in the
// background until ctx is done. A token with an unknown kid triggers a rate-limited refetch.
func NewKeySet(ctx context.Context, url string) (keyfunc.Keyfunc, error) {
	if url == "" {
		return nil, errors.New("jwks url is empty")
	}
	k, err := keyfunc.NewDefaultCtx(ctx, []string{url})
	if err != nil {
		return nil, errors.Wrap(err, "load jwks")
	}
	return k, nil
}
