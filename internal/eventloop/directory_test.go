package eventloop

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/constellation/internal/protocol"
)

// fakeSink records what it was sent and whether it was closed.
type fakeSink struct {
	mu     sync.Mutex
	sent   []protocol.ScriptMsg
	closed bool
}

func (f *fakeSink) Send(msg protocol.ScriptMsg) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	f.sent = append(f.sent, msg)
	return true
}

func (f *fakeSink) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeSink) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type spawnRecorder struct {
	spawned atomic.Int32
	mu      sync.Mutex
	sinks   []*fakeSink
}

func (r *spawnRecorder) spawn(Key) (Sink, error) {
	r.spawned.Add(1)
	s := &fakeSink{}
	r.mu.Lock()
	r.sinks = append(r.sinks, s)
	r.mu.Unlock()
	return s, nil
}

func newTestDirectory(t *testing.T) (*Directory, *spawnRecorder) {
	rec := &spawnRecorder{}
	return NewDirectory(zaptest.NewLogger(t), rec.spawn), rec
}

func TestDirectory_ConcurrentGetOrCreateSharesOneLoop(t *testing.T) {
	dir, rec := newTestDirectory(t)
	tab := protocol.TopLevelBrowsingContextID(1)

	const callers = 64
	handles := make([]*Handle, callers)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			h, err := dir.GetOrCreate(tab, "example.com")
			assert.NoError(t, err)
			handles[i] = h
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), rec.spawned.Load(), "exactly one execution context must be built")
	for _, h := range handles[1:] {
		assert.Same(t, handles[0].Loop(), h.Loop())
	}
	assert.Equal(t, 1, dir.Len())
}

func TestDirectory_SeparateKeys(t *testing.T) {
	dir, rec := newTestDirectory(t)

	a, err := dir.GetOrCreate(1, "example.com")
	require.NoError(t, err)
	b, err := dir.GetOrCreate(1, "other.org")
	require.NoError(t, err)
	c, err := dir.GetOrCreate(2, "example.com")
	require.NoError(t, err)

	assert.NotSame(t, a.Loop(), b.Loop(), "different sites in one tab do not share")
	assert.NotSame(t, a.Loop(), c.Loop(), "same site in different tabs does not share")
	assert.Equal(t, int32(3), rec.spawned.Load())
}

func TestDirectory_ReleaseLastHolderBuildsFreshLoop(t *testing.T) {
	dir, rec := newTestDirectory(t)

	first, err := dir.GetOrCreate(1, "example.com")
	require.NoError(t, err)
	second, err := dir.GetOrCreate(1, "example.com")
	require.NoError(t, err)
	original := first.Loop()

	first.Release()
	_, alive := dir.Lookup(1, "example.com")
	assert.True(t, alive, "one holder remains")
	assert.False(t, rec.sinks[0].isClosed())

	second.Release()
	_, alive = dir.Lookup(1, "example.com")
	assert.False(t, alive)
	assert.True(t, rec.sinks[0].isClosed(), "unit is stopped once nobody holds the loop")

	fresh, err := dir.GetOrCreate(1, "example.com")
	require.NoError(t, err)
	assert.NotSame(t, original, fresh.Loop())
	assert.NotEqual(t, original.ID(), fresh.Loop().ID())
	assert.Equal(t, int32(2), rec.spawned.Load())
}

func TestHandle_DoubleReleaseIsNoop(t *testing.T) {
	dir, _ := newTestDirectory(t)

	a, err := dir.GetOrCreate(1, "example.com")
	require.NoError(t, err)
	b, err := dir.GetOrCreate(1, "example.com")
	require.NoError(t, err)

	a.Release()
	a.Release()
	_, alive := dir.Lookup(1, "example.com")
	assert.True(t, alive, "a double release must not steal b's reference")
	b.Release()
	assert.Equal(t, 0, dir.Len())
}

func TestHandle_SendAfterCloseIsDropped(t *testing.T) {
	dir, rec := newTestDirectory(t)
	h, err := dir.GetOrCreate(1, "example.com")
	require.NoError(t, err)

	assert.True(t, h.Send(protocol.Resize{Pipeline: 1}))
	h.Release()
	assert.False(t, h.Send(protocol.Resize{Pipeline: 1}))
	assert.Len(t, rec.sinks[0].sent, 1)
}

func TestDirectory_SpawnFailure(t *testing.T) {
	boom := errors.New("no threads left")
	dir := NewDirectory(zaptest.NewLogger(t), func(Key) (Sink, error) { return nil, boom })

	_, err := dir.GetOrCreate(1, "example.com")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, dir.Len())
}

func TestRegistrableDomain(t *testing.T) {
	tests := map[string]string{
		"https://www.example.com/page":      "example.com",
		"https://a.b.example.co.uk/":        "example.co.uk",
		"http://EXAMPLE.com./":              "example.com",
		"http://localhost:8000/":            "localhost",
		"http://127.0.0.1:9000/x":           "127.0.0.1",
		"http://[::1]/":                     "::1",
		"about:blank":                       "",
		"data:text/html,<p>hi</p>":          "",
		"https://sub.github.io/repo":        "sub.github.io",
		"https://docs.internal-host/readme": "docs.internal-host",
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, RegistrableDomain(in))
		})
	}
}
