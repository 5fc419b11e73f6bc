package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestCodeTable(t *testing.T) {
	want := map[Code]Metadata{
		CodeValidation:    {http.StatusBadRequest, false, "validation failed", true},
		CodeUnauthorized:  {http.StatusUnauthorized, false, "authentication required", false},
		CodeForbidden:     {http.StatusForbidden, false, "access denied", false},
		CodeNotFound:      {http.StatusNotFound, false, "resource not found", false},
		CodeConflict:      {http.StatusConflict, false, "conflict detected", true},
		CodeStateConflict: {http.StatusUnprocessableEntity, false, "state transition disallowed", true},
		CodeInternal:      {http.StatusInternalServerError, true, "internal server error", false},
		CodeDependency:    {http.StatusServiceUnavailable, true, "dependency unavailable", true},
	}
	for code, meta := range want {
		t.Run(string(code), func(t *testing.T) {
			if got := MetadataFor(code); got != meta {
				t.Fatalf("MetadataFor(%s) = %+v, want %+v", code, got, meta)
			}
		})
	}
	if got := MetadataFor("TERMINAL_ON_FIRE"); got != want[CodeInternal] {
		t.Fatalf("unknown code should fall back to internal, got %+v", got)
	}
}

func TestTypedErrorAccessors(t *testing.T) {
	err := Newf(CodeStateConflict, "Charge %s already finished with status %s", "CHG_9", "APPROVED")
	if err.Code() != CodeStateConflict {
		t.Fatalf("unexpected code %s", err.Code())
	}
	if err.Message() != "Charge CHG_9 already finished with status APPROVED" {
		t.Fatalf("unexpected message %q", err.Message())
	}
	if err.Error() != "STATE_CONFLICT: Charge CHG_9 already finished with status APPROVED" {
		t.Fatalf("unexpected Error() %q", err.Error())
	}
	if err.Details() != nil {
		t.Fatalf("details should start empty")
	}
	if err.WithDetails(map[string]string{"charge_id": "CHG_9"}) != err || err.Details() == nil {
		t.Fatalf("WithDetails should set details and return the receiver")
	}

	var nilErr *Error
	if nilErr.Code() != CodeInternal || nilErr.Message() != "" || nilErr.Unwrap() != nil {
		t.Fatalf("nil receiver accessors should be safe")
	}
}

func TestWrapKeepsCauseReachable(t *testing.T) {
	cause := stdErrors.New("read: connection reset by peer")
	wrapped := fmt.Errorf("poll CHG_1: %w", Wrap(CodeDependency, cause, "Error de conexión con servicio de pago"))

	if !stdErrors.Is(wrapped, cause) {
		t.Fatalf("cause must stay reachable through Wrap")
	}
	if got := As(wrapped); got == nil || got.Message() != "Error de conexión con servicio de pago" {
		t.Fatalf("As should find the typed error, got %v", got)
	}
	if As(nil) != nil || As(cause) != nil {
		t.Fatalf("As should return nil for nil and untyped errors")
	}
}

func TestClassificationHelpers(t *testing.T) {
	dependency := fmt.Errorf("create charge: %w", Wrap(CodeDependency, stdErrors.New("dial tcp: timeout"), "gateway unreachable"))
	busy := New(CodeConflict, "Terminal ocupado. Por favor espere")

	cases := []struct {
		name      string
		err       error
		code      Code
		retryable bool
	}{
		{"wrapped dependency", dependency, CodeDependency, true},
		{"conflict", busy, CodeConflict, false},
		{"untyped", stdErrors.New("plain"), CodeInternal, true},
		{"nil", nil, CodeInternal, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CodeOf(tc.err); got != tc.code {
				t.Fatalf("CodeOf = %s, want %s", got, tc.code)
			}
			if got := Retryable(tc.err); got != tc.retryable {
				t.Fatalf("Retryable = %v, want %v", got, tc.retryable)
			}
		})
	}
	if !IsCode(dependency, CodeDependency) || IsCode(busy, CodeDependency) {
		t.Fatalf("IsCode mismatch")
	}
}
