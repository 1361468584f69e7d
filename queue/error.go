// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package queue

import (
	"errors"
	"log/slog"
	"maps"
	"slices"
	"strings"
)

// Context keys attached to [Error] values.
const (
	AddressKey                = "Address"
	QueueNameKey              = "QueueName"
	RoutingKeyKey             = "RoutingKey"
	ExchangeNameKey           = "ExchangeName"
	QueueContextKey           = "QueueContext"
	ParameterNameKey          = "ParameterName"
	ReplyQueueNameKey         = "ReplyQueueName"
	NotSupportedParametersKey = "NotSupportedParameters"
	ImplementationKey         = "Implementation"

	// AMQP basic.return details
	ReplyToKey   = "ReplyTo"
	ReplyCodeKey = "ReplyCode"
	ReplyTextKey = "ReplyText"
)

var (
	// ErrNoHandler is the cause reported when receiving is started before a
	// handler has been registered.
	ErrNoHandler = errors.New("queue: no handler registered")

	// ErrAlreadySettled is the cause reported when a message is acknowledged
	// or abandoned more than once.
	ErrAlreadySettled = errors.New("queue: message already settled")

	// ErrAlreadyResponded is the cause reported when a request is responded
	// to more than once.
	ErrAlreadyResponded = errors.New("queue: request already responded to")

	// ErrUnknownImplementation is the cause reported when a configuration
	// names an implementation missing from the [Registry].
	ErrUnknownImplementation = errors.New("queue: unknown implementation")

	// ErrRoleMismatch is the cause reported when a configuration names an
	// implementation registered for a different role.
	ErrRoleMismatch = errors.New("queue: implementation registered for a different role")

	// ErrNoResponder is the cause reported when responding to a request
	// which was not delivered by a queue.
	ErrNoResponder = errors.New("queue: request has no responder")

	// ErrClosed is the cause reported when operating on a closed queue.
	ErrClosed = errors.New("queue: closed")
)

// Error is returned by every queue operation. It carries a [Code] from a
// closed set, a message, an optional cause and a diagnostic context which
// never contains secrets.
type Error struct {
	Code    Code
	Message string
	Cause   error
	Context map[string]string
}

// NewError initializes an [Error] with the default message for the code.
func NewError(code Code, cause error, kvs ...string) *Error {
	e := &Error{
		Code:    code,
		Message: code.Message(),
		Cause:   cause,
		Context: make(map[string]string, len(kvs)/2),
	}
	for i := 0; i+1 < len(kvs); i += 2 {
		if kvs[i+1] == "" {
			continue
		}
		e.Context[kvs[i]] = kvs[i+1]
	}
	return e
}

// Error implements the [error] interface.
func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Code.String())
	sb.WriteString(": ")
	sb.WriteString(e.Message)

	keys := slices.Sorted(maps.Keys(e.Context))
	for _, k := range keys {
		sb.WriteString(" ")
		sb.WriteString(k)
		sb.WriteString("=")
		sb.WriteString(e.Context[k])
	}

	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	return sb.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is the same [Code] or an [Error] with the same [Code].
func (e *Error) Is(target error) bool {
	switch t := target.(type) {
	case Code:
		return e.Code == t
	case *Error:
		return t != nil && e.Code == t.Code
	default:
		return false
	}
}

// With sets a context value, skipping empty values, and returns the same [Error].
func (e *Error) With(key, value string) *Error {
	if value == "" {
		return e
	}
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithDefault sets a context value only if the key is not already present.
func (e *Error) WithDefault(key, value string) *Error {
	if _, ok := e.Context[key]; ok {
		return e
	}
	return e.With(key, value)
}

// LogValue implements the [slog.LogValuer] interface.
func (e *Error) LogValue() slog.Value {
	attrs := make([]slog.Attr, 0, len(e.Context)+3)
	attrs = append(attrs,
		slog.String("code", e.Code.String()),
		slog.String("message", e.Message),
	)
	for _, k := range slices.Sorted(maps.Keys(e.Context)) {
		attrs = append(attrs, slog.String(k, e.Context[k]))
	}
	if e.Cause != nil {
		attrs = append(attrs, slog.String("cause", e.Cause.Error()))
	}
	return slog.GroupValue(attrs...)
}

// AsError returns err as an [*Error] if it is one.
func AsError(err error) (*Error, bool) {
	var qe *Error
	if errors.As(err, &qe) {
		return qe, true
	}
	return nil, false
}

// Wrap wraps err with the given code and context. If err already is an
// [*Error], a copy keeping its code is returned instead, with kvs added only
// for keys it does not carry. err itself is never modified.
func Wrap(err error, code Code, kvs ...string) *Error {
	if qe, ok := AsError(err); ok {
		cp := *qe
		cp.Context = maps.Clone(qe.Context)
		for i := 0; i+1 < len(kvs); i += 2 {
			cp.WithDefault(kvs[i], kvs[i+1])
		}
		return &cp
	}
	return NewError(code, err, kvs...)
}

// CodeOf returns the [Code] carried by err or zero if err is not an [*Error].
func CodeOf(err error) Code {
	if qe, ok := AsError(err); ok {
		return qe.Code
	}
	return 0
}
