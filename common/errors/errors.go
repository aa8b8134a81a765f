package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode 에러 코드 정의
type ErrorCode string

const (
	// Business Errors
	ErrCodeOrderNotFound       ErrorCode = "ORDER_NOT_FOUND"
	ErrCodeInstanceNotFound    ErrorCode = "INSTANCE_NOT_FOUND"
	ErrCodeInvalidState        ErrorCode = "INVALID_STATE"
	ErrCodeInvalidParameter    ErrorCode = "INVALID_PARAMETER"
	ErrCodeDependencyViolation ErrorCode = "DEPENDENCY_VIOLATION"
	ErrCodeAlreadyActivated    ErrorCode = "ALREADY_ACTIVATED"
	ErrCodeAlreadyInactive     ErrorCode = "ALREADY_INACTIVE"
	ErrCodeUnauthorized        ErrorCode = "UNAUTHORIZED"

	// Technical Errors
	ErrCodeInternalConsistency ErrorCode = "INTERNAL_CONSISTENCY"
	ErrCodeDatabaseError       ErrorCode = "DATABASE_ERROR"
	ErrCodeNetworkError        ErrorCode = "NETWORK_ERROR"
	ErrCodeTimeoutError        ErrorCode = "TIMEOUT_ERROR"
	ErrCodeSerializationError  ErrorCode = "SERIALIZATION_ERROR"
	ErrCodeCloudError          ErrorCode = "CLOUD_ERROR"
	ErrCodeUnknownError        ErrorCode = "UNKNOWN_ERROR"
)

// 에러 메시지
const (
	MsgOrderNotFound              = "order %s not found"
	MsgNullOrder                  = "order reference is null"
	MsgAlreadyActivated           = "order %s is already activated"
	MsgUnableToRemoveInactive     = "unable to remove inactive request %s"
	MsgDeleteAlreadyOngoing       = "delete operation already ongoing for order %s"
	MsgDependencyDetected         = "order %s is embedded by %d active order(s)"
	MsgInvalidResource            = "invalid resource %s"
	MsgResourcesFromAnotherUser   = "resources from another user: %s"
	MsgProvidersDontMatch         = "providers don't match: %s"
	MsgCloudNamesDontMatch        = "cloud names don't match: %s"
	MsgEmbeddedNotInstantiated    = "embedded resource not yet instantiated: %s"
	MsgStillBeingDispatched       = "order %s is still being dispatched"
	MsgResourceTypeNotImplemented = "resource type not implemented: %s"
	MsgListNotFound               = "could not find list for state %s"
)

// DomainError 도메인 에러 구조체
type DomainError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Cause
}

// New 새로운 도메인 에러 생성
func New(code ErrorCode, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// Newf 포맷 문자열로 도메인 에러 생성
func Newf(code ErrorCode, format string, args ...interface{}) *DomainError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap 기존 에러를 래핑한 도메인 에러 생성
func Wrap(code ErrorCode, message string, cause error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// CodeOf 에러 체인에서 가장 바깥쪽 도메인 에러 코드 추출
func CodeOf(err error) (ErrorCode, bool) {
	var domainErr *DomainError
	if stderrors.As(err, &domainErr) {
		return domainErr.Code, true
	}
	return "", false
}

// Is 에러 체인에 해당 코드의 도메인 에러가 있는지 확인
func Is(err error, code ErrorCode) bool {
	for err != nil {
		var domainErr *DomainError
		if !stderrors.As(err, &domainErr) {
			return false
		}
		if domainErr.Code == code {
			return true
		}
		err = domainErr.Cause
	}
	return false
}

// IsRetryable 재시도 가능한 에러인지 판단
func IsRetryable(err error) bool {
	code, ok := CodeOf(err)
	if !ok {
		return false
	}
	switch code {
	case ErrCodeDatabaseError, ErrCodeNetworkError, ErrCodeTimeoutError, ErrCodeCloudError:
		return true
	}
	return false
}

// IsBusinessError 비즈니스 에러인지 판단 (재시도 불필요)
func IsBusinessError(err error) bool {
	code, ok := CodeOf(err)
	if !ok {
		return false
	}
	switch code {
	case ErrCodeOrderNotFound, ErrCodeInstanceNotFound, ErrCodeInvalidState, ErrCodeInvalidParameter,
		ErrCodeDependencyViolation, ErrCodeAlreadyActivated, ErrCodeAlreadyInactive, ErrCodeUnauthorized:
		return true
	}
	return false
}
