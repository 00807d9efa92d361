// Package teardown implements C9, the interpreter-exit hook: when an
// interpreter is destroyed, every live channel and queue must drop that
// interpreter's unreleased xid records and end associations before the
// interpreter's heap goes away (spec.md §4.8).
//
// Shaped after the teacher's hk package (github.com/NVIDIA/aistore/hk):
// that package lets independent subsystems register named callbacks run
// by a single coordinator at a shared cadence. This module's callbacks
// are event-driven (fired synchronously from interp.Registry.OnExit)
// rather than ticked, since a torn-down interpreter's memory cannot wait
// out a polling interval; Sweeper additionally offers the teacher's
// periodic-tick model as a defensive backstop for an embedder whose
// OnExit wiring might miss an exit under error conditions.
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package teardown

import (
	"time"

	"github.com/NVIDIA/interpchannels/channel"
	"github.com/NVIDIA/interpchannels/cmn/nlog"
	"github.com/NVIDIA/interpchannels/interp"
	"github.com/NVIDIA/interpchannels/queue"
)

// Hooks bundles the two registries C9 must walk. A production embedder
// constructs one Hooks per process and calls Wire once at startup.
type Hooks struct {
	Channels *channel.Registry
	Queues   *queue.Registry
}

// Wire registers h's onExit callback with ireg, so every future
// interpreter destruction drops that interpreter's state from both
// registries. Call once, after both registries and ireg exist.
func Wire(ireg interp.Registry, h Hooks) {
	ireg.OnExit(func(id interp.Id) {
		onExit(id, h)
	})
}

func onExit(id interp.Id, h Hooks) {
	nlog.Infof("teardown: dropping interpreter %d from %d registries", id, 2)
	if h.Channels != nil {
		h.Channels.DropInterpreter(id)
	}
	if h.Queues != nil {
		h.Queues.DropInterpreter(id)
	}
}

// Sweeper periodically re-walks every registered interpreter's liveness
// and re-runs onExit for any that Alive now reports dead but that never
// fired through Wire's hook - a defensive backstop, not the primary
// mechanism. Grounded on the teacher's hk.HK: a single background loop
// ticking named, independently registered work at a shared interval.
type Sweeper struct {
	ireg     interp.Registry
	hooks    Hooks
	interval time.Duration
	watch    func() []interp.Id
	seen     map[interp.Id]bool

	stop chan struct{}
}

// NewSweeper builds a Sweeper. watch must return the current candidate
// set of interpreter ids worth polling for liveness (e.g. everything
// ever seen by the caller's own bookkeeping); Sweeper does not discover
// ids on its own since interp.Registry exposes no enumeration method.
func NewSweeper(ireg interp.Registry, h Hooks, interval time.Duration, watch func() []interp.Id) *Sweeper {
	return &Sweeper{
		ireg:     ireg,
		hooks:    h,
		interval: interval,
		watch:    watch,
		seen:     make(map[interp.Id]bool, 16),
		stop:     make(chan struct{}),
	}
}

// Run ticks until Stop is called. Meant to run in its own goroutine, the
// same way the teacher runs hk.DefaultHK.Run().
func (s *Sweeper) Run() {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			s.tick()
		case <-s.stop:
			return
		}
	}
}

func (s *Sweeper) tick() {
	for _, id := range s.watch() {
		if s.seen[id] {
			continue
		}
		if !s.ireg.Alive(id) {
			s.seen[id] = true
			onExit(id, s.hooks)
		}
	}
}

func (s *Sweeper) Stop() { close(s.stop) }
