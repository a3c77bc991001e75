package mongoutil

import (
	"testing"

	"MeetChat/tools/errs"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigDefaults(t *testing.T) {
	cfg := &Config{Uri: "mongodb://localhost:27017", Database: "meetchat"}
	require.NoError(t, cfg.validate())
	assert.Equal(t, defaultMaxPoolSize, cfg.MaxPoolSize)
	assert.Equal(t, defaultMaxRetry, cfg.MaxRetry)
	assert.Equal(t, "admin", cfg.AuthSource)

	opts := applyConfigToOptions(cfg)
	require.NotNil(t, opts.MaxPoolSize)
	assert.EqualValues(t, defaultMaxPoolSize, *opts.MaxPoolSize)
}

func TestConfigRequiresTargetAndDatabase(t *testing.T) {
	for name, cfg := range map[string]*Config{
		"no target":   {Database: "meetchat"},
		"no database": {Address: []string{"localhost:27017"}},
	} {
		t.Run(name, func(t *testing.T) {
			assert.True(t, errors.Is(cfg.validate(), errs.ErrValidation))
		})
	}
}
