// SPDX-License-Identifier: MIT

package config

import "errors"

var (
	// ErrRequired marks a missing mandatory setting.
	ErrRequired = errors.New("value is required")
	// ErrInvalidValue marks a setting outside its allowed range or set.
	ErrInvalidValue = errors.New("invalid value")
)
