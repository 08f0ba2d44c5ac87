package errors

import (
	"errors"
	"net/http"
	"testing"
)

func TestServiceError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *ServiceError
		want string
	}{
		{
			name: "error without underlying error uses its code",
			err:  New(KindConflict, ErrCodeInstanceDetachOnline, "instance must be offline"),
			want: "[InstanceDetachOnline] instance must be offline",
		},
		{
			name: "error without a stable code falls back to its kind",
			err:  New(KindValidation, ErrCodeNone, "bad input"),
			want: "[Validation] bad input",
		},
		{
			name: "error with underlying error",
			err:  Wrap(KindInternal, ErrCodeNone, "boom", errors.New("underlying")),
			want: "[Internal] boom: underlying",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestServiceError_Unwrap(t *testing.T) {
	underlying := errors.New("underlying error")
	err := Wrap(KindInternal, ErrCodeNone, "test", underlying)

	if got := err.Unwrap(); got != underlying {
		t.Errorf("Unwrap() = %v, want %v", got, underlying)
	}
}

func TestServiceError_WithDetails(t *testing.T) {
	err := Validation("test")
	err.WithDetails("field", "username").WithDetails("reason", "too short")

	if len(err.Details) != 2 {
		t.Errorf("Details length = %d, want 2", len(err.Details))
	}
	if err.Details["field"] != "username" {
		t.Errorf("Details[field] = %v, want username", err.Details["field"])
	}
	if err.Details["reason"] != "too short" {
		t.Errorf("Details[reason] = %v, want too short", err.Details["reason"])
	}
}

func TestInstanceAtConflictingPath(t *testing.T) {
	err := InstanceAtConflictingPath("/srv/a")

	if err.Code != ErrCodeInstanceAtConflictingPath {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeInstanceAtConflictingPath)
	}
	if err.HTTPStatus != http.StatusConflict {
		t.Errorf("HTTPStatus = %d, want %d", err.HTTPStatus, http.StatusConflict)
	}
	if err.Details["path"] != "/srv/a" {
		t.Errorf("Details[path] = %v, want /srv/a", err.Details["path"])
	}
}

func TestInstanceAtExistingPath(t *testing.T) {
	err := InstanceAtExistingPath("/srv/b")

	if err.Code != ErrCodeInstanceAtExistingPath {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeInstanceAtExistingPath)
	}
	if err.HTTPStatus != http.StatusConflict {
		t.Errorf("HTTPStatus = %d, want %d", err.HTTPStatus, http.StatusConflict)
	}
}

func TestInstanceNotAtWhitelistedPath(t *testing.T) {
	err := InstanceNotAtWhitelistedPath("/etc")

	if err.Code != ErrCodeInstanceNotAtWhitelistedPath {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeInstanceNotAtWhitelistedPath)
	}
	if err.HTTPStatus != http.StatusBadRequest {
		t.Errorf("HTTPStatus = %d, want %d", err.HTTPStatus, http.StatusBadRequest)
	}
}

func TestInstanceDetachOnline(t *testing.T) {
	err := InstanceDetachOnline()

	if err.Code != ErrCodeInstanceDetachOnline {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeInstanceDetachOnline)
	}
	if err.HTTPStatus != http.StatusConflict {
		t.Errorf("HTTPStatus = %d, want %d", err.HTTPStatus, http.StatusConflict)
	}
}

func TestInstanceRelocateOnline(t *testing.T) {
	err := InstanceRelocateOnline()

	if err.Code != ErrCodeInstanceRelocateOnline {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeInstanceRelocateOnline)
	}
	if err.HTTPStatus != http.StatusConflict {
		t.Errorf("HTTPStatus = %d, want %d", err.HTTPStatus, http.StatusConflict)
	}
}

func TestDreamDaemonPortInUse(t *testing.T) {
	err := DreamDaemonPortInUse(1337)

	if err.Code != ErrCodeDreamDaemonPortInUse {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeDreamDaemonPortInUse)
	}
	if err.Details["port"] != 1337 {
		t.Errorf("Details[port] = %v, want 1337", err.Details["port"])
	}
}

func TestDreamDaemonDuplicatePorts(t *testing.T) {
	err := DreamDaemonDuplicatePorts()

	if err.Code != ErrCodeDreamDaemonDuplicatePorts {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeDreamDaemonDuplicatePorts)
	}
	if err.HTTPStatus != http.StatusBadRequest {
		t.Errorf("HTTPStatus = %d, want %d", err.HTTPStatus, http.StatusBadRequest)
	}
}

func TestDeploymentPagerRunning(t *testing.T) {
	err := DeploymentPagerRunning()

	if err.Code != ErrCodeDeploymentPagerRunning {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeDeploymentPagerRunning)
	}
	if err.HTTPStatus != http.StatusConflict {
		t.Errorf("HTTPStatus = %d, want %d", err.HTTPStatus, http.StatusConflict)
	}
}

func TestNotFound(t *testing.T) {
	err := NotFound("instance", "123")

	if err.HTTPStatus != http.StatusNotFound {
		t.Errorf("HTTPStatus = %d, want %d", err.HTTPStatus, http.StatusNotFound)
	}
	if err.Details["resource"] != "instance" {
		t.Errorf("Details[resource] = %v, want instance", err.Details["resource"])
	}
	if err.Details["id"] != "123" {
		t.Errorf("Details[id] = %v, want 123", err.Details["id"])
	}
}

func TestGone(t *testing.T) {
	err := Gone("session", "abc")

	if err.Kind != KindGone {
		t.Errorf("Kind = %v, want %v", err.Kind, KindGone)
	}
	if err.HTTPStatus != http.StatusGone {
		t.Errorf("HTTPStatus = %d, want %d", err.HTTPStatus, http.StatusGone)
	}
}

func TestUnauthorized(t *testing.T) {
	err := Unauthorized("missing credentials")

	if err.Kind != KindAuth {
		t.Errorf("Kind = %v, want %v", err.Kind, KindAuth)
	}
	if err.HTTPStatus != http.StatusUnauthorized {
		t.Errorf("HTTPStatus = %d, want %d", err.HTTPStatus, http.StatusUnauthorized)
	}
}

func TestForbidden(t *testing.T) {
	err := Forbidden("insufficient rights")

	if err.Kind != KindForbidden {
		t.Errorf("Kind = %v, want %v", err.Kind, KindForbidden)
	}
	if err.HTTPStatus != http.StatusForbidden {
		t.Errorf("HTTPStatus = %d, want %d", err.HTTPStatus, http.StatusForbidden)
	}
}

func TestNotSupported(t *testing.T) {
	err := NotSupported("dreammaker-windows-only")

	if err.Kind != KindNotSupported {
		t.Errorf("Kind = %v, want %v", err.Kind, KindNotSupported)
	}
	if err.HTTPStatus != http.StatusUnprocessableEntity {
		t.Errorf("HTTPStatus = %d, want %d", err.HTTPStatus, http.StatusUnprocessableEntity)
	}
}

func TestRateLimited(t *testing.T) {
	err := RateLimited(100, "1m")

	if err.HTTPStatus != http.StatusTooManyRequests {
		t.Errorf("HTTPStatus = %d, want %d", err.HTTPStatus, http.StatusTooManyRequests)
	}
	if err.Details["limit"] != 100 {
		t.Errorf("Details[limit] = %v, want 100", err.Details["limit"])
	}
}

func TestRequestTimeout(t *testing.T) {
	err := RequestTimeout("job-start")

	if err.HTTPStatus != http.StatusGatewayTimeout {
		t.Errorf("HTTPStatus = %d, want %d", err.HTTPStatus, http.StatusGatewayTimeout)
	}
}

func TestInternal(t *testing.T) {
	underlying := errors.New("database connection failed")
	err := Internal("internal error", underlying)

	if err.Kind != KindInternal {
		t.Errorf("Kind = %v, want %v", err.Kind, KindInternal)
	}
	if err.HTTPStatus != http.StatusInternalServerError {
		t.Errorf("HTTPStatus = %d, want %d", err.HTTPStatus, http.StatusInternalServerError)
	}
	if err.Err != underlying {
		t.Errorf("Err = %v, want %v", err.Err, underlying)
	}
}

func TestIsServiceError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "service error", err: Internal("test", nil), want: true},
		{name: "standard error", err: errors.New("standard error"), want: false},
		{name: "nil error", err: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsServiceError(tt.err); got != tt.want {
				t.Errorf("IsServiceError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetServiceError(t *testing.T) {
	serviceErr := Internal("test", nil)
	standardErr := errors.New("standard error")

	tests := []struct {
		name string
		err  error
		want *ServiceError
	}{
		{name: "service error", err: serviceErr, want: serviceErr},
		{name: "standard error", err: standardErr, want: nil},
		{name: "nil error", err: nil, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GetServiceError(tt.err)
			if got != tt.want {
				t.Errorf("GetServiceError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "service error", err: Unauthorized("test"), want: http.StatusUnauthorized},
		{name: "standard error", err: errors.New("standard error"), want: http.StatusInternalServerError},
		{name: "nil error", err: nil, want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetHTTPStatus(tt.err); got != tt.want {
				t.Errorf("GetHTTPStatus() = %v, want %v", got, tt.want)
			}
		})
	}
}
