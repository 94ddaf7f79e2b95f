package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
)

type classedErr struct{}

func (classedErr) Error() string { return "quota" }
func (classedErr) ErrorClass() string { return "llm_quota" }

type customErr struct{ msg string }

func (e *customErr) Error() string { return e.msg }

func TestClassify(t *testing.T) {
	sentinel := errors.New("invalid job payload")

	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "self classified", err: fmt.Errorf("wrap: %w", classedErr{}), want: "llm_quota"},
		{name: "canceled", err: fmt.Errorf("receive: %w", context.Canceled), want: "canceled"},
		{name: "deadline", err: context.DeadlineExceeded, want: "timeout"},
		{
			name: "aws api error",
			err:  fmt.Errorf("send: %w", &smithy.GenericAPIError{Code: "AWS.SimpleQueueService.NonExistentQueue"}),
			want: "aws_aws_simple_queue_service_non_existent_queue",
		},
		{name: "net timeout", err: &net.DNSError{Err: "i/o timeout", IsTimeout: true}, want: "network_timeout"},
		{name: "wrapped sentinel", err: fmt.Errorf("%w: empty body", sentinel), want: "invalid_job_payload"},
		{name: "dynamic message", err: errors.New("decode entry 42: unexpected EOF"), want: "errors_errorstring"},
		{name: "custom type", err: fmt.Errorf("outer: %w", &customErr{msg: "x"}), want: "errors_customerr"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestSnake(t *testing.T) {
	assert.Equal(t, "throttling_exception", snake("ThrottlingException"))
	assert.Equal(t, "content_blocked_by_safety_filters", snake("content blocked by safety filters"))
	assert.Equal(t, "no_such_key", snake("NoSuchKey"))
}
