// Package apperr define a taxonomia de erros que atravessa as camadas de
// serviço e API. Cada erro carrega um Kind (mapeado para um status HTTP),
// uma mensagem pública e, opcionalmente, a causa interna.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifica um erro para fins de resposta HTTP
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuth
	KindPermissionDenied
	KindNotFound
	KindConflict
	KindRateLimited
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuth:
		return "auth"
	case KindPermissionDenied:
		return "permission_denied"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "internal"
	}
}

// Status retorna o código HTTP associado ao Kind
func (k Kind) Status() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindPermissionDenied:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Error é o erro de domínio retornado pelos serviços
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func Validation(message string) *Error       { return New(KindValidation, message) }
func Auth(message string) *Error             { return New(KindAuth, message) }
func PermissionDenied(message string) *Error { return New(KindPermissionDenied, message) }
func NotFound(message string) *Error         { return New(KindNotFound, message) }
func Conflict(message string) *Error         { return New(KindConflict, message) }
func RateLimited(message string) *Error      { return New(KindRateLimited, message) }

// Internal embrulha uma falha de storage ou de invariante. A mensagem
// pública é sempre genérica; a causa fica disponível para log.
func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Message: "Internal server error", Err: err}
}

// KindOf retorna o Kind de err, ou KindInternal se err não for um *Error
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// Is reporta se err é um *Error do Kind informado
func Is(err error, kind Kind) bool {
	var appErr *Error
	return errors.As(err, &appErr) && appErr.Kind == kind
}
