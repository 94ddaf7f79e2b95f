// Package errors derives low-cardinality class names from errors for metric tags and
// notification payloads.
package errors

import (
	"context"
	goerrors "errors"
	"net"
	"reflect"
	"strings"
	"unicode"

	"github.com/aws/smithy-go"
)

// maxSentinelClassLen caps classes derived from error text so dynamic messages cannot blow
// up tag cardinality.
const maxSentinelClassLen = 40

// Classifier lets an error name its own class.
type Classifier interface {
	ErrorClass() string
}

// Classify returns a class name for err, checked in order: an ErrorClass method anywhere in the
// chain, context cancellation or deadline, an AWS API error code, a network timeout, then the
// innermost error. A plain sentinel (errors.New) becomes its snake_cased text when that is
// short and purely alphabetic; anything else becomes its snake_cased type name.
func Classify(err error) string {
	if err == nil {
		return ""
	}

	var classifier Classifier
	if goerrors.As(err, &classifier) {
		if class := classifier.ErrorClass(); class != "" {
			return class
		}
	}
	switch {
	case goerrors.Is(err, context.Canceled):
		return "canceled"
	case goerrors.Is(err, context.DeadlineExceeded):
		return "timeout"
	}
	var apiErr smithy.APIError
	if goerrors.As(err, &apiErr) && apiErr.ErrorCode() != "" {
		return "aws_" + snake(apiErr.ErrorCode())
	}
	var netErr net.Error
	if goerrors.As(err, &netErr) && netErr.Timeout() {
		return "network_timeout"
	}

	inner := err
	for {
		next := goerrors.Unwrap(inner)
		if next == nil {
			break
		}
		inner = next
	}
	if class, ok := sentinelClass(inner); ok {
		return class
	}
	return typeClass(inner)
}

func sentinelClass(err error) (string, bool) {
	if reflect.TypeOf(err).String() != "*errors.errorString" {
		return "", false
	}
	msg := strings.TrimSpace(err.Error())
	if msg == "" || len(msg) > maxSentinelClassLen {
		return "", false
	}
	for _, r := range msg {
		if !unicode.IsLetter(r) && r != ' ' && r != '_' {
			return "", false
		}
	}
	return snake(msg), true
}

func typeClass(err error) string {
	t := reflect.TypeOf(err)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	name := strings.ReplaceAll(t.String(), ".", "_")
	if name == "" {
		return "unknown"
	}
	return strings.ToLower(name)
}

// snake lowercases s and joins words and CamelCase humps with underscores.
func snake(s string) string {
	var b strings.Builder
	prevLower := false
	for _, r := range strings.TrimSpace(s) {
		switch {
		case r == ' ' || r == '-' || r == '.':
			if b.Len() > 0 && !strings.HasSuffix(b.String(), "_") {
				b.WriteByte('_')
			}
			prevLower = false
		case unicode.IsUpper(r):
			if prevLower {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			prevLower = false
		default:
			b.WriteRune(r)
			prevLower = unicode.IsLower(r) || unicode.IsDigit(r)
		}
	}
	return strings.Trim(b.String(), "_")
}
