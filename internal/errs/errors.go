package errs

import (
	"errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeNotFound        Code = "NOT_FOUND"
	CodeProvider        Code = "PROVIDER"
	CodeStore           Code = "STORE"
	CodeInternal        Code = "INTERNAL"
)

// AppError is the error contract shared by the storage, provider and service layers.
type AppError struct {
	Code    Code
	Op      string // operation name, ex: "OpenAIEmbedder.Embed"
	Message string // safe message
	Err     error  // wrapped error
}

func (e *AppError) Error() string {
	if e == nil {
		return "<nil>"
	}
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Message != "":
		return e.Message
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Err != nil:
		return e.Err.Error()
	default:
		return "error"
	}
}

func (e *AppError) Unwrap() error { return e.Err }

func E(code Code, op, msg string, err error) error {
	return &AppError{Code: code, Op: op, Message: msg, Err: err}
}

// StoreError wraps a persistence failure with a descriptive prefix,
// ex: StoreError("BotStore.GetBot", "Failed to fetch bot", err).
func StoreError(op, msg string, err error) error {
	return E(CodeStore, op, msg, err)
}

// ProviderError reports an embedding or LLM upstream failure.
func ProviderError(op, msg string, err error) error {
	return E(CodeProvider, op, msg, err)
}

func IsCode(err error, code Code) bool {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code == code
	}
	return false
}

func HTTPStatus(err error) int {
	if errors.Is(err, ErrBotNotFound) || errors.Is(err, ErrNotFound) {
		return http.StatusNotFound
	}
	var ae *AppError
	if errors.As(err, &ae) {
		switch ae.Code {
		case CodeInvalidArgument:
			return http.StatusBadRequest
		case CodeNotFound:
			return http.StatusNotFound
		default:
			return http.StatusInternalServerError
		}
	}
	return http.StatusInternalServerError
}

var (
	ErrNotFound    = errors.New("not found")
	ErrBotNotFound = errors.New("Bot not found")
)
