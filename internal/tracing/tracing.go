// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package tracing generates the per-decision correlation tokens ("ray IDs")
// that tie together events, resolver logs, and block-page URLs.
package tracing

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// RayPrefix is the leading tag of every correlation token.
const RayPrefix = "RAY-"

// NewRayID returns a fresh correlation token of the form RAY-<8 hex>.
func NewRayID() string {
	return RayPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// TimeFormat is the fixed-width ISO-8601 layout stored in every timestamp
// column. Fixed width keeps string comparison consistent with time order.
const TimeFormat = "2006-01-02T15:04:05.000000Z07:00"

// Timestamp returns the current UTC time in the stored layout.
func Timestamp() string {
	return FormatTime(time.Now())
}

// FormatTime renders t in the stored layout, normalized to UTC.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}
