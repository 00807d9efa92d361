// Package config holds the process-lifetime tunables for channels and
// queues: default UnboundOp, default queue FallbackPolicy, the waiter's
// poll/settle granularity, and initial registry capacity. It follows the
// teacher's read-mostly pattern (cmn/rom.go): a package-level struct
// assigned once near process start and read lock-free everywhere else.
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package config

import (
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/NVIDIA/interpchannels/cmn/cos"
	"github.com/NVIDIA/interpchannels/policy"
)

var js = jsoniter.ConfigFastest

type (
	readMostly struct {
		DefaultUnbound   policy.UnboundOp     `json:"default_unbound"`    // substituted by channel/queue Registry.Create when the caller passes an invalid UnboundOp
		DefaultFallback  policy.FallbackPolicy `json:"default_fallback"`  // substituted by queue.Registry.Create the same way
		SettlePoll       time.Duration         `json:"settle_poll"`        // waiter.Settle()'s fallback poll granularity once its tight spin budget is exhausted
		RegistryInitCap  int                   `json:"registry_init_cap"`  // initial capacity hint for the channel/queue registries' id maps
		QueueGetWaitPoll time.Duration         `json:"queue_get_wait_poll"`// queue.GetWait backoff granularity
	}
)

// Rom ("read-only/mostly") is assigned once via Init/Load and read
// lock-free from every hot path afterwards, exactly as cmn.Rom is.
var Rom readMostly

func init() {
	Rom = readMostly{
		DefaultUnbound:   policy.Replace, // spec.md §3: channel/queue default unbound_op is Replace, not Remove
		DefaultFallback:  policy.FallbackNone,
		SettlePoll:       50 * time.Microsecond,
		RegistryInitCap:  64,
		QueueGetWaitPoll: time.Millisecond,
	}
}

// Load overrides defaults from a JSON config file named by the
// INTERPCHANNELS_CONFIG environment variable, if set. Silent no-op
// otherwise: the zero-config default above is always valid.
func Load() error {
	path := os.Getenv("INTERPCHANNELS_CONFIG")
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cos.NewErrNotFound("config file %q", path)
	}
	return js.Unmarshal(data, &Rom)
}
