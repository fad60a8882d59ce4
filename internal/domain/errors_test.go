package domain

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"validation", Invalid("missing %s", "lat"), http.StatusBadRequest},
		{"auth", &AuthError{Msg: "no token"}, http.StatusUnauthorized},
		{"permission", &PermissionError{Msg: "nope"}, http.StatusForbidden},
		{"not found", NotFound("vehicle", "v1"), http.StatusNotFound},
		{"conflict", &ConflictError{Msg: "already executed"}, http.StatusConflict},
		{"wrapped not found", fmt.Errorf("poll: %w", NotFound("vehicle", "ABC")), http.StatusNotFound},
		{"store", StoreFailure("insert point", errors.New("conn reset")), http.StatusInternalServerError},
		{"plain", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HTTPStatus(tt.err); got != tt.want {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestStoreFailureKeepsDomainErrors(t *testing.T) {
	nf := NotFound("command", "c1")
	if got := StoreFailure("get command", nf); got != nf {
		t.Fatalf("domain error was rewrapped: %v", got)
	}
	var tse *TransientStoreError
	if !errors.As(StoreFailure("x", errors.New("y")), &tse) {
		t.Fatal("expected TransientStoreError")
	}
}

func TestIdentityCanAccess(t *testing.T) {
	v := &Vehicle{ID: "v1", CompanyID: "c1", UserIDs: []string{"u1"}}
	tests := []struct {
		name string
		id   Identity
		want bool
	}{
		{"super admin", Identity{UserID: "x", Role: RoleSuperAdmin}, true},
		{"company admin same company", Identity{UserID: "x", Role: RoleCompanyAdmin, CompanyID: "c1"}, true},
		{"company admin other company", Identity{UserID: "x", Role: RoleCompanyAdmin, CompanyID: "c2"}, false},
		{"assigned user", Identity{UserID: "u1", Role: RoleUser}, true},
		{"other user", Identity{UserID: "u2", Role: RoleUser, CompanyID: "c1"}, false},
		{"device", Identity{Plate: "ABC"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.id.CanAccess(v); got != tt.want {
				t.Errorf("CanAccess() = %v, want %v", got, tt.want)
			}
		})
	}
}
