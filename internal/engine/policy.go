package engine

import "strings"

// CanEditField is the read-only lock: once a field holds a value it reopens
// only for an admin who explicitly requested the edit.
func CanEditField(value string, admin, editRequested bool) bool {
	if strings.TrimSpace(value) == "" {
		return true
	}
	return admin && editRequested
}
