// Command xichanbench drives a fleet of goroutine-backed "interpreters"
// against the channel and queue registries to smoke-test concurrent
// channel send/recv and queue put traffic, the way the teacher's fs.WalkBckOpts
// jogger fleet exercises its own concurrency primitives under load
// (fs/walkbck.go's errgroup.WithContext fan-out).
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/NVIDIA/interpchannels/channel"
	"github.com/NVIDIA/interpchannels/cmn/nlog"
	"github.com/NVIDIA/interpchannels/config"
	"github.com/NVIDIA/interpchannels/interp"
	"github.com/NVIDIA/interpchannels/policy"
	"github.com/NVIDIA/interpchannels/queue"
	"github.com/NVIDIA/interpchannels/teardown"
	"github.com/NVIDIA/interpchannels/xid"
)

var (
	numInterp  = flag.Int("interpreters", 8, "number of goroutine-backed interpreters")
	numItems   = flag.Int("items", 2000, "items sent per interpreter")
	numQueues  = flag.Int("queues", 4, "number of shared bounded queues")
	queueDepth = flag.Int("queue-depth", 64, "per-queue maxsize")
)

func main() {
	flag.Parse()
	if err := config.Load(); err != nil {
		nlog.Errorf("config load: %v", err)
		os.Exit(1)
	}

	ireg := interp.NewLocalRegistry()
	xreg := xid.Default
	chReg := channel.NewRegistry(ireg, xreg)
	qReg := queue.NewRegistry(ireg, xreg)
	teardown.Wire(ireg, teardown.Hooks{Channels: chReg, Queues: qReg})

	chID := chReg.Create(policy.Remove)
	ch, err := chReg.Get(chID)
	if err != nil {
		nlog.Errorf("get channel: %v", err)
		os.Exit(1)
	}

	queues := make([]*queue.Queue, *numQueues)
	for i := range queues {
		qid := qReg.Create(*queueDepth, policy.Remove, policy.FallbackNone)
		q, err := qReg.Get(qid)
		if err != nil {
			nlog.Errorf("get queue: %v", err)
			os.Exit(1)
		}
		queues[i] = q
	}

	group, ctx := errgroup.WithContext(context.Background())
	start := time.Now()
	for i := 0; i < *numInterp; i++ {
		i := i
		group.Go(func() error {
			return runInterpreter(ctx, ireg, ch, qReg, queues, i)
		})
	}
	if err := group.Wait(); err != nil {
		nlog.Errorf("bench failed: %v", err)
		os.Exit(1)
	}

	elapsed := time.Since(start)
	total := *numInterp * *numItems
	fmt.Printf("xichanbench: %d interpreters, %d items each (%d total) in %v (%.0f items/sec)\n",
		*numInterp, *numItems, total, elapsed, float64(total)/elapsed.Seconds())
}

func runInterpreter(ctx context.Context, ireg *interp.LocalRegistry, ch *channel.Channel, qReg *queue.Registry, queues []*queue.Queue, idx int) error {
	id := ireg.Spawn()
	defer ireg.Destroy(id)

	rng := rand.New(rand.NewSource(int64(idx) + 1))
	for i := 0; i < *numItems; i++ {
		val := idx*1_000_000 + i
		if err := channel.Send(xid.Default, ireg, ch, id, val, policy.Remove); err != nil {
			return fmt.Errorf("interp %d send %d: %w", id, i, err)
		}
		q := queues[rng.Intn(len(queues))]
		if err := q.Put(id, val, policy.Remove); err != nil {
			// a full bounded queue is an expected backpressure signal
			// under load, not a bench failure.
			continue
		}

		res, err := channel.RecvWait(ctx, ireg, ch, id, 50*time.Millisecond, time.Millisecond)
		if err != nil {
			continue
		}
		_ = res
	}
	return nil
}
