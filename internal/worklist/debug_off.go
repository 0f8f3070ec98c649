// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !worklistdebug

package worklist

// debugWorklist enables per-operation segment checks. Build with
// -tags worklistdebug to turn them on.
const debugWorklist = false
