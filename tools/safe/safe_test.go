package safe

import (
	"sync"
	"testing"

	"MeetChat/tools/errs"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestCallConvertsPanic(t *testing.T) {
	err := Call(func() { panic("boom") })
	assert.True(t, errors.Is(err, errs.ErrInternal))
	assert.NoError(t, Call(func() {}))
}

func TestGoSurvivesPanic(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)
	Go("test", func() {
		defer wg.Done()
		panic("boom")
	})
	wg.Wait()
}

func TestMustNotNil(t *testing.T) {
	var p *int
	assert.Panics(t, func() { MustNotNil(p, "p") })
	assert.Panics(t, func() { MustNotNil(nil, "nil") })
	assert.NotPanics(t, func() { MustNotNil(3, "n") })
}
