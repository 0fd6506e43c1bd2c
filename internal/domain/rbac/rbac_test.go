package rbac

import (
	"reflect"
	"testing"
)

func TestHighestRole(t *testing.T) {
	tests := []struct {
		name  string
		roles []string
		want  string
	}{
		{"пустой набор", nil, ""},
		{"только customer", []string{RoleCustomer}, RoleCustomer},
		{"admin и customer", []string{RoleCustomer, RoleAdmin}, RoleAdmin},
		{"admin первым", []string{RoleAdmin, RoleCustomer}, RoleAdmin},
		{"неизвестная роль пропускается", []string{"guest", RoleCustomer}, RoleCustomer},
		{"только неизвестные", []string{"guest"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HighestRole(tt.roles); got != tt.want {
				t.Errorf("HighestRole(%v) = %q, ожидается %q", tt.roles, got, tt.want)
			}
		})
	}
}

func TestHasRole(t *testing.T) {
	tests := []struct {
		name     string
		roles    []string
		required string
		want     bool
	}{
		{"admin даёт права admin", []string{RoleAdmin}, RoleAdmin, true},
		{"admin включает customer", []string{RoleAdmin}, RoleCustomer, true},
		{"customer не даёт admin", []string{RoleCustomer}, RoleAdmin, false},
		{"пустой набор", nil, RoleCustomer, false},
		{"неизвестная роль в наборе", []string{"guest"}, RoleCustomer, false},
		{"неизвестная требуемая роль", []string{RoleAdmin}, "root", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HasRole(tt.roles, tt.required); got != tt.want {
				t.Errorf("HasRole(%v, %q) = %v, ожидается %v", tt.roles, tt.required, got, tt.want)
			}
		})
	}
}

func TestNormalizeRoles(t *testing.T) {
	got, err := NormalizeRoles(nil)
	if err != nil || !reflect.DeepEqual(got, []string{RoleCustomer}) {
		t.Errorf("NormalizeRoles(nil) = %v, %v; ожидается [customer]", got, err)
	}

	got, err = NormalizeRoles([]string{RoleAdmin, RoleCustomer, RoleAdmin})
	if err != nil {
		t.Fatalf("NormalizeRoles() вернул ошибку: %v", err)
	}
	if !reflect.DeepEqual(got, []string{RoleAdmin, RoleCustomer}) {
		t.Errorf("NormalizeRoles() = %v, ожидается [admin customer]", got)
	}

	if _, err := NormalizeRoles([]string{"readonly"}); err == nil {
		t.Error("NormalizeRoles([readonly]) не вернул ошибку")
	}
}

func TestIsValidRole(t *testing.T) {
	if !IsValidRole(RoleAdmin) || !IsValidRole(RoleCustomer) {
		t.Error("IsValidRole() = false для допустимой роли")
	}
	if IsValidRole("") || IsValidRole("Admin") {
		t.Error("IsValidRole() = true для недопустимой роли")
	}
}
