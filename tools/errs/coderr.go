package errs

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

var DefaultCodeRelation = newCodeRelation()

type CodeErrorI interface {
	ECode() int
	EReason() string
	EMsg() string
	DDetail() string
	error
}

// CodeError is a classified failure. Code follows HTTP status semantics, Reason is the
// stable machine string sent to clients.
type CodeError struct {
	Code   int    `json:"code"`
	Reason string `json:"reason"`
	Msg    string `json:"msg"`
	Detail string `json:"detail,omitempty"`
}

func NewCodeError(code int, reason, msg string) *CodeError {
	return &CodeError{
		Code:   code,
		Reason: reason,
		Msg:    msg,
	}
}

func (e *CodeError) ECode() int      { return e.Code }
func (e *CodeError) EReason() string { return e.Reason }
func (e *CodeError) EMsg() string    { return e.Msg }
func (e *CodeError) DDetail() string { return e.Detail }

func (e *CodeError) WithDetail(detail string) *CodeError {
	ret := e.clone()
	if ret.Detail == "" {
		ret.Detail = detail
	} else {
		ret.Detail += ", " + detail
	}
	return ret
}

func (e *CodeError) Wrap() error {
	return errors.WithStack(e.clone())
}

func (e *CodeError) clone() *CodeError {
	return &CodeError{
		Code:   e.Code,
		Reason: e.Reason,
		Msg:    e.Msg,
		Detail: e.Detail,
	}
}

func (e *CodeError) WrapMsg(msg string, kv ...any) error {
	retErr := e.clone()
	if msg != "" || len(kv) > 0 {
		detail := toString(msg, kv)
		if retErr.Detail == "" {
			retErr.Detail = detail
		} else {
			retErr.Detail += ", " + detail
		}
	}
	return errors.WithStack(retErr)
}

// Is matches on Reason, or on a registered parent/child relation between reasons.
func (e *CodeError) Is(target error) bool {
	t, ok := target.(*CodeError)
	if !ok {
		return false
	}
	if e == nil || t == nil {
		return e == t
	}
	return DefaultCodeRelation.Is(t.Reason, e.Reason)
}

func (e *CodeError) Error() string {
	v := make([]string, 0, 3)
	v = append(v, e.Reason, e.Msg)
	if e.Detail != "" {
		v = append(v, e.Detail)
	}
	return strings.Join(v, " ")
}

// AsCode returns the first CodeError in err's chain.
func AsCode(err error) (*CodeError, bool) {
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// ToCode classifies any error; unclassified errors become INTERNAL_ERROR.
func ToCode(err error) *CodeError {
	if ce, ok := AsCode(err); ok {
		return ce
	}
	return ErrInternal
}

func Wrap(err error) error {
	if err == nil {
		return nil
	}
	return errors.WithStack(err)
}

func WrapMsg(err error, msg string, kv ...any) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, toString(msg, kv))
}

func toString(msg string, kv []any) string {
	if len(kv) == 0 {
		return msg
	}
	var sb strings.Builder
	sb.WriteString(msg)
	for i := 0; i < len(kv); i += 2 {
		if sb.Len() > 0 {
			sb.WriteString(", ")
		}
		if i+1 < len(kv) {
			fmt.Fprintf(&sb, "%v=%v", kv[i], kv[i+1])
		} else {
			fmt.Fprintf(&sb, "%v", kv[i])
		}
	}
	return sb.String()
}

type CodeRelation interface {
	Add(reasons ...string) error
	Is(parent, child string) bool
}

func newCodeRelation() CodeRelation {
	return &codeRelation{m: make(map[string]map[string]struct{})}
}

type codeRelation struct {
	m map[string]map[string]struct{}
}

// Add registers each reason as a parent of every reason that follows it.
func (r *codeRelation) Add(reasons ...string) error {
	if len(reasons) < 2 {
		return errors.Errorf("relation needs at least 2 reasons, got %d", len(reasons))
	}
	for i := 1; i < len(reasons); i++ {
		parent := reasons[i-1]
		s, ok := r.m[parent]
		if !ok {
			s = make(map[string]struct{})
			r.m[parent] = s
		}
		for _, reason := range reasons[i:] {
			s[reason] = struct{}{}
		}
	}
	return nil
}

func (r *codeRelation) Is(parent, child string) bool {
	if parent == child {
		return true
	}
	s, ok := r.m[parent]
	if !ok {
		return false
	}
	_, ok = s[child]
	return ok
}
