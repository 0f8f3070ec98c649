// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package heap

import "fmt"

// Bytes is a count of bytes.
type Bytes uint64

const (
	KiB Bytes = 1 << 10
	MiB Bytes = 1 << 20
	GiB Bytes = 1 << 30
)

// String formats a in the largest binary unit that divides it
// exactly.
func (a Bytes) String() string {
	switch {
	case a == 0:
		return "0 bytes"
	case a%GiB == 0:
		return fmt.Sprintf("%d GiB", a/GiB)
	case a%MiB == 0:
		return fmt.Sprintf("%d MiB", a/MiB)
	case a%KiB == 0:
		return fmt.Sprintf("%d KiB", a/KiB)
	}
	return fmt.Sprintf("%d bytes", a)
}

// Float returns a in units of unit, for reporting.
func (a Bytes) Float(unit Bytes) float64 {
	return float64(a) / float64(unit)
}
