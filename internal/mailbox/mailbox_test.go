// internal/mailbox/mailbox_test.go
package mailbox

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestSendNeverBlocks(t *testing.T) {
	mb := New[int](0)
	for i := range 10_000 {
		require.True(t, mb.Send(i))
	}
	assert.Equal(t, 10_000, mb.Len())
	assert.Equal(t, 10_000, mb.Peak())
}

func TestTakePreservesOrder(t *testing.T) {
	mb := New[string](4)
	mb.Send("a")
	mb.Send("b")
	mb.Send("c")

	assert.Equal(t, []string{"a", "b"}, mb.Take(2))
	assert.Equal(t, []string{"c"}, mb.Take(0))
	assert.Nil(t, mb.Take(0))
}

func TestReadyFiresAgainWhenBatchLeavesMessages(t *testing.T) {
	mb := New[int](0)
	mb.Send(1)
	mb.Send(2)

	<-mb.Ready()
	assert.Equal(t, []int{1}, mb.Take(1))

	select {
	case <-mb.Ready():
	default:
		t.Fatal("remaining message produced no wake-up")
	}
	assert.Equal(t, []int{2}, mb.Take(1))
}

func TestCloseRejectsSends(t *testing.T) {
	mb := New[int](0)
	mb.Send(1)
	mb.Close()

	assert.False(t, mb.Send(2))
	assert.Zero(t, mb.Len())
	assert.Nil(t, mb.Take(0))
}

func TestConcurrentProducersSingleConsumer(t *testing.T) {
	defer goleak.VerifyNone(t)

	const producers, perProducer = 8, 500
	mb := New[int](0)

	var wg sync.WaitGroup
	for p := range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perProducer {
				mb.Send(p*perProducer + i)
			}
		}()
	}

	seen := make(map[int]bool)
	deadline := time.After(5 * time.Second)
	for len(seen) < producers*perProducer {
		select {
		case <-mb.Ready():
			for _, v := range mb.Take(64) {
				assert.False(t, seen[v], "duplicate delivery of %d", v)
				seen[v] = true
			}
		case <-deadline:
			t.Fatalf("received %d of %d messages", len(seen), producers*perProducer)
		}
	}
	wg.Wait()
}
