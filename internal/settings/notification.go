// Package settings carries the console's runtime settings: the operator
// notification preferences, built once at start-up and injected, and the
// clinic settings read through a cache-then-fetch stream.
package settings

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownPermission = errors.New("unknown notification permission")

// Permission mirrors the browser notification permission states.
type Permission string

const (
	PermissionDefault Permission = "default"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

type Notification struct {
	Enabled    bool       `json:"enabled"`
	Permission Permission `json:"permission"`
	Sound      bool       `json:"sound"`
}

// Allowed is true only when the operator switched notifications on and the
// permission was granted.
func (n Notification) Allowed() bool {
	return n.Enabled && n.Permission == PermissionGranted
}

// ParsePermission treats an empty value as PermissionDefault.
func ParsePermission(raw string) (Permission, error) {
	value := Permission(strings.ToLower(strings.TrimSpace(raw)))
	switch value {
	case "":
		return PermissionDefault, nil
	case PermissionDefault, PermissionGranted, PermissionDenied:
		return value, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPermission, raw)
}
