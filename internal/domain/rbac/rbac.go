// Пакет rbac — роли пользователей каталога.
// Роли упорядочены по привилегиям: admin включает права customer.
package rbac

import (
	"fmt"
	"slices"
	"strings"
)

const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
)

// DefaultRole — роль нового пользователя, если роли не заданы.
const DefaultRole = RoleCustomer

// hierarchy — роли в порядке возрастания привилегий.
var hierarchy = []string{RoleCustomer, RoleAdmin}

// rank — позиция роли в hierarchy; -1 для неизвестной роли.
func rank(role string) int {
	return slices.Index(hierarchy, role)
}

// HighestRole возвращает максимальную известную роль из набора
// или пустую строку, если известных ролей нет.
func HighestRole(roles []string) string {
	best, bestRank := "", -1
	for _, r := range roles {
		if k := rank(r); k > bestRank {
			best, bestRank = r, k
		}
	}
	return best
}

// HasRole проверяет, что набор ролей даёт привилегии не ниже required.
func HasRole(roles []string, required string) bool {
	need := rank(required)
	return need >= 0 && rank(HighestRole(roles)) >= need
}

// IsValidRole проверяет, является ли строка допустимой ролью.
func IsValidRole(role string) bool {
	return rank(role) >= 0
}

// NormalizeRoles проверяет роли и убирает дубликаты с сохранением порядка.
// Пустой набор заменяется ролью по умолчанию.
func NormalizeRoles(roles []string) ([]string, error) {
	if len(roles) == 0 {
		return []string{DefaultRole}, nil
	}
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		if !IsValidRole(r) {
			return nil, fmt.Errorf("некорректная роль %q, допустимые значения: %s",
				r, strings.Join(hierarchy, ", "))
		}
		if !slices.Contains(out, r) {
			out = append(out, r)
		}
	}
	return out, nil
}
