package service

import (
	"errors"
	"fmt"
)

// ErrorKind 是封閉的錯誤分類，呼叫方據此決定回應碼與是否可重試
type ErrorKind string

const (
	KindValidation         ErrorKind = "validation"          // 輸入不合法，立即拒絕，不改變狀態
	KindConflict           ErrorKind = "conflict"            // 位置已被占用、非當前發言方、重複提交等
	KindExternalDependency ErrorKind = "external_dependency" // 存儲或評審函數不可用
	KindTimeout            ErrorKind = "timeout"             // 評審呼叫超過牆鐘上限
)

// Error 是帶分類標籤的領域錯誤
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewValidationError(message string) *Error {
	return &Error{Kind: KindValidation, Message: message}
}

func NewConflictError(message string) *Error {
	return &Error{Kind: KindConflict, Message: message}
}

func NewExternalError(message string, err error) *Error {
	return &Error{Kind: KindExternalDependency, Message: message, Err: err}
}

func NewTimeoutError(message string, err error) *Error {
	return &Error{Kind: KindTimeout, Message: message, Err: err}
}

// KindOf 取出錯誤的分類，非領域錯誤一律視為外部依賴問題
func KindOf(err error) ErrorKind {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Kind
	}
	return KindExternalDependency
}
