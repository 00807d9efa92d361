package queue

import (
	"math"
	"reflect"
	"sort"
	"sync"

	"github.com/NVIDIA/interpchannels/cmn/cos"
	"github.com/NVIDIA/interpchannels/cmn/debug"
	"github.com/NVIDIA/interpchannels/config"
	"github.com/NVIDIA/interpchannels/interp"
	"github.com/NVIDIA/interpchannels/policy"
	"github.com/NVIDIA/interpchannels/xid"
	"github.com/pkg/errors"
)

// Id is a queue identifier. Starts at 1 rather than channel.Id's 0, per
// spec.md §9's resolved id-space choice, so the two id spaces never
// collide if ever logged or reported side by side.
type Id int64

// Registered here rather than in xid, symmetric with channel.Id, so a
// queue id can itself be sent through a channel or queue.
func init() {
	xid.Default.Register(reflect.TypeOf(Id(0)), xid.DeepCopyPacker[Id]())
}

type slot struct {
	q   *Queue
	ref int
}

// Registry is C8's queue half, structurally identical to channel's.
type Registry struct {
	mu     sync.Mutex
	nextID int64
	byID   map[Id]*slot

	ireg interp.Registry
	xreg *xid.Registry
}

func NewRegistry(ireg interp.Registry, xreg *xid.Registry) *Registry {
	return &Registry{
		nextID: 1,
		byID:   make(map[Id]*slot, config.Rom.RegistryInitCap),
		ireg:   ireg,
		xreg:   xreg,
	}
}

func (r *Registry) Create(maxsize int, defaultUnbound policy.UnboundOp, fallback policy.FallbackPolicy) Id {
	if !defaultUnbound.Valid() {
		defaultUnbound = config.Rom.DefaultUnbound
	}
	if !fallback.Valid() {
		fallback = config.Rom.DefaultFallback
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.nextID == math.MaxInt64 {
		cos.ExitLogf("%v", errors.Wrap(cos.ErrNoMoreIds, "queue.Registry.Create"))
	}
	id := Id(r.nextID)
	r.nextID++
	r.byID[id] = &slot{q: newQueue(maxsize, defaultUnbound, fallback, r.ireg, r.xreg), ref: 1}
	return id
}

func (r *Registry) IncRef(id Id) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok {
		return errors.Wrap(cos.NewErrNotFound("queue %d", int64(id)), "queue.Registry.IncRef")
	}
	s.ref++
	return nil
}

func (r *Registry) DecRef(id Id) error {
	r.mu.Lock()
	s, ok := r.byID[id]
	if !ok {
		r.mu.Unlock()
		return errors.Wrap(cos.NewErrNotFound("queue %d", int64(id)), "queue.Registry.DecRef")
	}
	s.ref--
	debug.Assert(s.ref >= 0)
	destroy := s.ref <= 0
	if destroy {
		delete(r.byID, id)
	}
	r.mu.Unlock()

	if destroy {
		_ = s.q.Close(true)
	}
	return nil
}

func (r *Registry) Get(id Id) (*Queue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok {
		return nil, errors.Wrap(cos.NewErrNotFound("queue %d", int64(id)), "queue.Registry.Get")
	}
	return s.q, nil
}

// ListEntry is one queue_list_all() row (spec.md §6): the queue id paired
// with the defaultUnbound/fallback it was created with.
type ListEntry struct {
	Id             Id
	DefaultUnbound policy.UnboundOp
	Fallback       policy.FallbackPolicy
}

func (r *Registry) ListAll() []ListEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ListEntry, 0, len(r.byID))
	for id, s := range r.byID {
		unbound, fallback := s.q.Defaults()
		out = append(out, ListEntry{Id: id, DefaultUnbound: unbound, Fallback: fallback})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Id < out[j].Id })
	return out
}

func (r *Registry) DropInterpreter(id interp.Id) {
	r.mu.Lock()
	queues := make([]*Queue, 0, len(r.byID))
	for _, s := range r.byID {
		queues = append(queues, s.q)
	}
	r.mu.Unlock()

	release := func(rec *xid.Record) {
		if rec != nil {
			_ = rec.Release(r.ireg)
		}
	}
	for _, q := range queues {
		q.drainForInterpreter(id, release)
	}
}
