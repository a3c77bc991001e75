package safe

import (
	"fmt"
	"reflect"

	"MeetChat/logger"
	"MeetChat/tools/errs"

	"go.uber.org/zap"
)

// MustNotNil panics if a required dependency is nil.
func MustNotNil(v any, name string) {
	if v == nil {
		panic(fmt.Sprintf("%s must not be nil", name))
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		if rv.IsNil() {
			panic(fmt.Sprintf("%s must not be nil", name))
		}
	}
}

// Go runs f in a goroutine that logs and swallows panics.
func Go(name string, f func()) {
	go func() {
		defer recoverGoroutine(name)
		f()
	}()
}

// recoverGoroutine logs a panic with its stack.
func recoverGoroutine(name string) {
	if r := recover(); r != nil {
		logger.Error("panic recovered",
			zap.String("goroutine", name),
			zap.Error(errs.ErrPanic(r)),
			zap.Stack("stack"))
	}
}

// Call runs f and converts a panic into an error.
func Call(f func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errs.ErrPanic(r)
		}
	}()
	f()
	return nil
}
