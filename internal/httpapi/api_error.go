package httpapi

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/John-Robertt/subgen-go/internal/catalog"
	"github.com/John-Robertt/subgen-go/internal/compiler"
	"github.com/John-Robertt/subgen-go/internal/fetch"
	"github.com/John-Robertt/subgen-go/internal/log"
	"github.com/John-Robertt/subgen-go/internal/model"
	"github.com/John-Robertt/subgen-go/internal/render"
	"github.com/John-Robertt/subgen-go/internal/store"
	"github.com/John-Robertt/subgen-go/internal/sub/uri"
)

// APIError is used by the HTTP layer for request validation and a few
// HTTP-specific errors.
type APIError struct {
	Status   int
	AppError model.AppError
	Cause    error
}

func (e *APIError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *APIError) Unwrap() error { return e.Cause }

func apiError(status int, app model.AppError, cause error) error {
	return &APIError{Status: status, AppError: app, Cause: cause}
}

func requestError(code, message, hint string) error {
	return apiError(http.StatusBadRequest, model.AppError{
		Code:    code,
		Message: message,
		Stage:   "validate_request",
		Hint:    hint,
	}, nil)
}

func notFound(id string) error {
	return apiError(http.StatusNotFound, model.AppError{
		Code:    "NOT_FOUND",
		Message: "订阅不存在或已过期",
		Stage:   "store",
		Snippet: id,
	}, store.ErrNotFound)
}

// asAppError pulls the wire payload out of any stage error. ok is false for
// errors no stage produced.
func asAppError(err error) (status int, app model.AppError, ok bool) {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.Status, ae.AppError, true
	}

	var fe *fetch.FetchError
	if errors.As(err, &fe) {
		return fe.Status, fe.AppError, true
	}

	// Parse/compile/render errors are user content errors => 422.
	var pe *uri.ParseError
	if errors.As(err, &pe) {
		return http.StatusUnprocessableEntity, pe.AppError, true
	}

	var ce *compiler.CompileError
	if errors.As(err, &ce) {
		return http.StatusUnprocessableEntity, ce.AppError, true
	}

	var re *render.RenderError
	if errors.As(err, &re) {
		return http.StatusUnprocessableEntity, re.AppError, true
	}

	// A broken catalog is an operator problem, not the caller's.
	var le *catalog.LoadError
	if errors.As(err, &le) {
		return http.StatusInternalServerError, le.AppError, true
	}
	return 0, model.AppError{}, false
}

func writeErrorFromErr(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	if status, app, ok := asAppError(err); ok {
		WriteError(w, status, app)
		return
	}
	if errors.Is(err, store.ErrNotFound) {
		WriteError(w, http.StatusNotFound, model.AppError{
			Code:    "NOT_FOUND",
			Message: "订阅不存在或已过期",
			Stage:   "store",
		})
		return
	}

	log.Errorln("[HTTP] unmapped error: %v", err)
	WriteError(w, http.StatusInternalServerError, model.AppError{
		Code:    "INTERNAL_ERROR",
		Message: "服务端内部错误",
		Stage:   "internal",
		Hint:    err.Error(),
	})
}
