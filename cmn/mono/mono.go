//go:build !mono

// Package mono provides low-level monotonic time.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package mono

import "time"

// NanoTime returns a clock reading in nanoseconds. The default build
// returns time.Now().UnixNano(), a wall-clock value that is not
// monotonic; build with -tags mono to link directly against
// runtime.nanotime (see fast_nanotime.go) for a monotonic reading.
func NanoTime() int64 { return time.Now().UnixNano() }
