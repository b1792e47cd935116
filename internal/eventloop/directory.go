// internal/eventloop/directory.go
package eventloop

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/constellation/internal/protocol"
)

// Key identifies a shared event loop: one per registrable domain per tab.
// Separate tabs never share a loop even for the same site.
type Key struct {
	TopLevel protocol.TopLevelBrowsingContextID
	Domain   string
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s", k.TopLevel, k.Domain)
}

// Sink is the execution unit behind an event loop.
type Sink interface {
	// Send enqueues msg without waiting for it to be handled. It reports false
	// when the unit has already stopped and the message was dropped.
	Send(msg protocol.ScriptMsg) bool
	// Close stops the unit and waits for it to exit.
	Close()
}

// Spawner starts the execution unit for a newly created event loop.
type Spawner func(key Key) (Sink, error)

// EventLoop is a shared execution context. Pipelines hold it through Handles;
// it is shut down when the last Handle is released.
type EventLoop struct {
	id   string
	key  Key
	sink Sink
	refs int // guarded by Directory.mu
}

// ID is a unique identifier for this incarnation of the loop.
func (l *EventLoop) ID() string { return l.id }

// Key returns the (tab, domain) key the loop was created for.
func (l *EventLoop) Key() Key { return l.key }

// Directory maps (tab, registrable domain) to the event loop documents of that
// site in that tab share. Lookups and creation for the same key are linearizable.
type Directory struct {
	logger *zap.Logger
	spawn  Spawner

	mu    sync.Mutex
	loops map[Key]*EventLoop
}

// NewDirectory creates an empty directory that starts units with spawn.
func NewDirectory(logger *zap.Logger, spawn Spawner) *Directory {
	return &Directory{
		logger: logger.Named("event_loops"),
		spawn:  spawn,
		loops:  make(map[Key]*EventLoop),
	}
}

// GetOrCreate returns a strong handle to the loop for (tab, domain), creating
// the loop if no live one exists. Concurrent callers with the same key always
// observe the same loop.
func (d *Directory) GetOrCreate(tab protocol.TopLevelBrowsingContextID, domain string) (*Handle, error) {
	key := Key{TopLevel: tab, Domain: domain}

	d.mu.Lock()
	defer d.mu.Unlock()

	if loop, ok := d.loops[key]; ok {
		loop.refs++
		return &Handle{dir: d, loop: loop}, nil
	}

	// Spawning under the lock closes the race where two navigations to the
	// same site in the same tab would each build a loop.
	sink, err := d.spawn(key)
	if err != nil {
		return nil, fmt.Errorf("failed to spawn event loop for %s: %w", key, err)
	}
	loop := &EventLoop{id: uuid.NewString(), key: key, sink: sink, refs: 1}
	d.loops[key] = loop
	d.logger.Debug("Event loop created.", zap.Stringer("key", key), zap.String("loop_id", loop.id))
	return &Handle{dir: d, loop: loop}, nil
}

// Lookup returns the live loop for key without taking a reference.
func (d *Directory) Lookup(tab protocol.TopLevelBrowsingContextID, domain string) (*EventLoop, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	loop, ok := d.loops[Key{TopLevel: tab, Domain: domain}]
	return loop, ok
}

// Len reports how many loops are alive.
func (d *Directory) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.loops)
}

func (d *Directory) release(loop *EventLoop) {
	d.mu.Lock()
	loop.refs--
	last := loop.refs == 0
	if last && d.loops[loop.key] == loop {
		delete(d.loops, loop.key)
	}
	d.mu.Unlock()

	if last {
		d.logger.Debug("Event loop released.", zap.Stringer("key", loop.key), zap.String("loop_id", loop.id))
		loop.sink.Close()
	}
}

// Handle is one strong reference to an EventLoop.
type Handle struct {
	dir      *Directory
	loop     *EventLoop
	released sync.Once
}

// Loop returns the referenced loop.
func (h *Handle) Loop() *EventLoop { return h.loop }

// Send forwards msg to the loop's execution unit.
func (h *Handle) Send(msg protocol.ScriptMsg) bool {
	return h.loop.sink.Send(msg)
}

// Release drops this reference. Releasing twice is a no-op.
func (h *Handle) Release() {
	h.released.Do(func() { h.dir.release(h.loop) })
}
