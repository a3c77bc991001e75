package errs

import (
	"fmt"

	"github.com/pkg/errors"
)

func ErrPanic(r any) error {
	if r == nil {
		return nil
	}
	err := ErrInternal.WithDetail(fmt.Sprint(r))
	err.Msg = "panic error"
	return errors.WithStack(err)
}
