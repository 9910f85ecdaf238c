package ports

import "github.com/pkg/errors"

// 执行错误分类。交易所协作者必须用这两类包装返回错误，
// 执行引擎据此决定重试（瞬时）还是立即拒绝（永久）。

// TransientError 瞬时错误（超时、限流等），可在退避后重试
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return "transient: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient 包装为瞬时错误
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// PermanentError 永久性错误（余额不足、非法订单等），不重试
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return "permanent: " + e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent 包装为永久性错误
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsTransient 检查是否为瞬时错误
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsPermanent 检查是否为永久性错误
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
