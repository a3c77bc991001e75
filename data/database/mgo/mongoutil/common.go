package mongoutil

import (
	"context"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/mongo"
)

const (
	defaultMaxPoolSize = 100
	defaultMaxRetry    = 3
)

// shouldRetry reports whether a connect error is worth another attempt.
// Auth failures (13 unauthorized, 18 authentication failed) are not.
func shouldRetry(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.Code != 13 && cmdErr.Code != 18
	}
	return true
}

// IsDuplicateKey wraps mongo.IsDuplicateKeyError for store packages.
func IsDuplicateKey(err error) bool {
	return mongo.IsDuplicateKeyError(err)
}
