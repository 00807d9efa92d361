package channel

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

// Id is a channel identifier: a monotonically increasing 63-bit integer
// starting at 0 (spec.md §4.7, §9's resolved id-space choice - the queue
// registry starts at 1 instead, so the two spaces never collide in a
// mixed log or metric even though nothing requires they be disjoint).
type Id int64

// Registered against xid.Default here, not in xid itself, so a channel id
// can be sent through a channel/queue the way the original's _channelid
// conversion functions support, without xid importing channel.
func init() {
	xid.Default.Register(reflect.TypeOf(Id(0)), xid.DeepCopyPacker[Id]())
}

// slot is a registry entry: the channel object plus a reference count.
// The registry mutex guards membership and refcount; the channel's own
// mutex guards its internal state. Lock order is always registry before
// channel (spec.md §5).
type slot struct {
	ch  *Channel
	ref int
}

// Registry is C8's channel half: a process-global, mutex-protected,
// reference-counted map from Id to *Channel, with monotonically
// increasing ids (never reused, even after a channel is destroyed).
type Registry struct {
	mu     sync.Mutex
	nextID int64
	byID   map[Id]*slot

	ireg interp.Registry
	xreg *xid.Registry
}

func NewRegistry(ireg interp.Registry, xreg *xid.Registry) *Registry {
	return &Registry{
		byID: make(map[Id]*slot, config.Rom.RegistryInitCap),
		ireg: ireg,
		xreg: xreg,
	}
}

// Create allocates a new channel and returns its id with a refcount of 1.
// nextID exhausting the 63-bit id space is unreachable in practice (it
// would take hundreds of years of sustained channel_create calls); the
// guard keeps the id from wrapping around. Create returns no error: on
// exhaustion it terminates the process through cos.ExitLogf with a
// message wrapping cos.ErrNoMoreIds, so the caller never sees that error.
func (r *Registry) Create(defaultUnbound policy.UnboundOp) Id {
	if !defaultUnbound.Valid() {
		defaultUnbound = config.Rom.DefaultUnbound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.nextID == math.MaxInt64 {
		cos.ExitLogf("%v", errors.Wrap(cos.ErrNoMoreIds, "channel.Registry.Create"))
	}
	id := Id(r.nextID)
	r.nextID++
	r.byID[id] = &slot{ch: newChannel(defaultUnbound, r.ireg, r.xreg), ref: 1}
	return id
}

// IncRef bumps id's refcount (channel_free_new_ref / CHNL_HOLD semantics).
func (r *Registry) IncRef(id Id) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok {
		return errors.Wrap(cos.NewErrNotFound("channel %d", int64(id)), "channel.Registry.IncRef")
	}
	s.ref++
	return nil
}

// DecRef drops id's refcount; at zero the channel is force-closed and
// removed from the registry (CHNL_RELEASE / channel_destroy semantics).
func (r *Registry) DecRef(id Id) error {
	r.mu.Lock()
	s, ok := r.byID[id]
	if !ok {
		r.mu.Unlock()
		return errors.Wrap(cos.NewErrNotFound("channel %d", int64(id)), "channel.Registry.DecRef")
	}
	s.ref--
	debug.Assert(s.ref >= 0)
	destroy := s.ref <= 0
	if destroy {
		delete(r.byID, id)
	}
	r.mu.Unlock()

	if destroy {
		_ = s.ch.Close(true, true, true)
	}
	return nil
}

func (r *Registry) Get(id Id) (*Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok {
		return nil, errors.Wrap(cos.NewErrNotFound("channel %d", int64(id)), "channel.Registry.Get")
	}
	return s.ch, nil
}

// ListEntry is one channel_list_all() row (spec.md §6): the channel id
// paired with the defaultUnbound it was created with.
type ListEntry struct {
	Id             Id
	DefaultUnbound policy.UnboundOp
}

// ListAll returns every live channel, paired with its default UnboundOp,
// in ascending id order (SUPPLEMENTED FEATURE #1 - the original walks its
// process-global list tail-to-head, which is oldest-first since new
// entries are prepended; the map here is unordered, so sort.Slice on the
// ids gives the same ascending order).
func (r *Registry) ListAll() []ListEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ListEntry, 0, len(r.byID))
	for id, s := range r.byID {
		out = append(out, ListEntry{Id: id, DefaultUnbound: s.ch.DefaultUnbound()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Id < out[j].Id })
	return out
}

// DropInterpreter is invoked by the teardown hook (C9) for every live
// channel, clearing or removing items whose origin is id and closing
// id's ends on every channel.
func (r *Registry) DropInterpreter(id interp.Id) {
	r.mu.Lock()
	chans := make([]*Channel, 0, len(r.byID))
	for _, s := range r.byID {
		chans = append(chans, s.ch)
	}
	r.mu.Unlock()

	release := func(rec *xid.Record) {
		if rec != nil {
			_ = rec.Release(r.ireg)
		}
	}
	for _, ch := range chans {
		ch.drainForInterpreter(id, release)
	}
}
