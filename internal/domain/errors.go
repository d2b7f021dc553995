package domain

import (
	"fmt"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeNetwork           = "NETWORK_ERROR"
	TextCodeParse             = "PARSE_ERROR"
	TextCodeDeliveryRejected  = "DELIVERY_REJECTED"
	TextCodeDeliveryRetryable = "DELIVERY_RETRYABLE"
	TextCodeNotFound          = "NOT_FOUND"
	TextCodeValidation        = "VALIDATION_FAILED"
	TextCodeBadInput          = "BAD_INPUT"
	TextCodeFetchDisallowed   = "FETCH_DISALLOWED"
	TextCodeQueueFull         = "QUEUE_FULL"
	TextCodeConflict          = "CONFLICT"
)

func newError(
	source error,
	message string,
	category goerrors.Category,
	code int,
	textCode string,
	metadata map[string]any,
) error {
	var err *goerrors.Error
	if source == nil {
		err = goerrors.New(message, category)
	} else {
		err = goerrors.Wrap(source, category, message)
	}
	err = err.WithCode(code).WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

// NewNetworkError reports a transport failure, timeout or unexpected HTTP status while fetching.
func NewNetworkError(message string, cause error, metadata map[string]any) error {
	return newError(cause, message, goerrors.CategoryExternal, http.StatusBadGateway, TextCodeNetwork, metadata)
}

// NewParseError reports content that could not be parsed into records.
func NewParseError(message string, cause error) error {
	return newError(cause, message, goerrors.CategoryBadInput, http.StatusUnprocessableEntity, TextCodeParse, nil)
}

func NewDeliveryRejected(endpoint string, status int) error {
	return newError(nil,
		fmt.Sprintf("webhook rejected delivery with status %d", status),
		goerrors.CategoryExternal, status, TextCodeDeliveryRejected,
		map[string]any{"endpoint": endpoint, "status": status},
	)
}

func NewDeliveryRetryable(endpoint string, status int, cause error) error {
	category := goerrors.CategoryExternal
	if status == http.StatusTooManyRequests {
		category = goerrors.CategoryRateLimit
	}
	code := status
	if code == 0 {
		code = http.StatusBadGateway
	}
	message := fmt.Sprintf("webhook delivery failed with status %d", status)
	if status == 0 {
		message = "webhook delivery failed"
	}
	return newError(cause, message, category, code, TextCodeDeliveryRetryable,
		map[string]any{"endpoint": endpoint, "status": status},
	)
}

func NewNotFound(entity string, id any) error {
	return newError(nil,
		fmt.Sprintf("%s %v not found", entity, id),
		goerrors.CategoryNotFound, http.StatusNotFound, TextCodeNotFound,
		map[string]any{"entity": entity, "id": id},
	)
}

func NewValidation(message string, metadata map[string]any) error {
	return newError(nil, message, goerrors.CategoryValidation, http.StatusBadRequest, TextCodeValidation, metadata)
}

func NewBadInput(message string, metadata map[string]any) error {
	return newError(nil, message, goerrors.CategoryBadInput, http.StatusBadRequest, TextCodeBadInput, metadata)
}

func NewFetchDisallowed(url string) error {
	return newError(nil, "fetch disallowed by robots policy",
		goerrors.CategoryAuthz, http.StatusForbidden, TextCodeFetchDisallowed,
		map[string]any{"url": url},
	)
}

func NewQueueFull(capacity int) error {
	return newError(nil, "job queue is full",
		goerrors.CategoryRateLimit, http.StatusTooManyRequests, TextCodeQueueFull,
		map[string]any{"capacity": capacity},
	)
}

func NewConflict(message string, metadata map[string]any) error {
	return newError(nil, message, goerrors.CategoryConflict, http.StatusConflict, TextCodeConflict, metadata)
}

// TextCode returns the envelope text code, or "" for plain errors.
func TextCode(err error) string {
	var rich *goerrors.Error
	if err != nil && goerrors.As(err, &rich) {
		return rich.TextCode
	}
	return ""
}

// HTTPStatus returns the envelope code, or 500 for plain errors.
func HTTPStatus(err error) int {
	var rich *goerrors.Error
	if err != nil && goerrors.As(err, &rich) && rich.Code > 0 {
		return rich.Code
	}
	return http.StatusInternalServerError
}

func IsRetryable(err error) bool {
	switch TextCode(err) {
	case TextCodeNetwork, TextCodeDeliveryRetryable:
		return true
	}
	return false
}

func IsNotFound(err error) bool {
	return TextCode(err) == TextCodeNotFound
}

// Message returns the envelope message without category and text code decoration.
func Message(err error) string {
	var rich *goerrors.Error
	if err != nil && goerrors.As(err, &rich) && rich.Message != "" {
		return rich.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
