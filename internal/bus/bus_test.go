package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/horgh/relayd/internal/ident"
	"github.com/horgh/relayd/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func message(text string) PrivateMessage {
	return PrivateMessage{
		Sender: state.RegisteredUser{Nickname: "n", Username: "u"},
		Target: ChannelTarget("#c"),
		Text:   text,
	}
}

func TestPublishWithoutSubscribers(t *testing.T) {
	b := New(0)
	b.Publish(message("nobody"))
	assert.Equal(t, 0, b.Subscribers())
}

func TestFanOut(t *testing.T) {
	b := New(DefaultCapacity)
	r1 := b.Subscribe()
	r2 := b.Subscribe()
	defer r1.Close()
	defer r2.Close()

	b.Publish(message("one"))
	b.Publish(message("two"))

	for _, r := range []*Receiver{r1, r2} {
		select {
		case <-r.Ready():
		default:
			t.Fatalf("receiver not woken")
		}

		e, err := r.TryRecv()
		require.NoError(t, err)
		assert.Equal(t, "one", e.(PrivateMessage).Text)

		e, err = r.TryRecv()
		require.NoError(t, err)
		assert.Equal(t, "two", e.(PrivateMessage).Text)

		_, err = r.TryRecv()
		assert.Equal(t, ErrEmpty, err)
	}
}

func TestLateSubscriberSeesOnlyLaterEvents(t *testing.T) {
	b := New(DefaultCapacity)
	early := b.Subscribe()
	defer early.Close()

	b.Publish(message("before"))

	late := b.Subscribe()
	defer late.Close()

	b.Publish(message("after"))

	e, err := late.TryRecv()
	require.NoError(t, err)
	assert.Equal(t, "after", e.(PrivateMessage).Text)
	_, err = late.TryRecv()
	assert.Equal(t, ErrEmpty, err)

	assert.Equal(t, 2, early.Len())
}

func TestLagDropsOldest(t *testing.T) {
	b := New(4)
	r := b.Subscribe()
	defer r.Close()

	texts := []string{"0", "1", "2", "3", "4", "5"}
	for _, s := range texts {
		b.Publish(message(s))
	}

	_, err := r.TryRecv()
	lagged, ok := err.(*LaggedError)
	require.True(t, ok, "wanted *LaggedError, got %v", err)
	assert.Equal(t, uint64(2), lagged.Missed)

	for _, want := range []string{"2", "3", "4", "5"} {
		e, err := r.TryRecv()
		require.NoError(t, err)
		assert.Equal(t, want, e.(PrivateMessage).Text)
	}

	_, err = r.TryRecv()
	assert.Equal(t, ErrEmpty, err)
}

func TestDeliveryOrderPerSubscriber(t *testing.T) {
	b := New(DefaultCapacity)
	r := b.Subscribe()
	defer r.Close()

	sid, err := ident.ParseServerID("000")
	require.NoError(t, err)

	b.Publish(NetworkJoin{Origin: sid})
	b.Publish(ChannelJoin{Channel: state.Channel{Name: "#a"}})
	b.Publish(message("m"))

	var kinds []string
	for {
		e, err := r.TryRecv()
		if err == ErrEmpty {
			break
		}
		require.NoError(t, err)
		kinds = append(kinds, e.Kind())
	}
	assert.Equal(t, []string{"network_join", "channel_join", "private_message"},
		kinds)
}

func TestRecvWaits(t *testing.T) {
	b := New(DefaultCapacity)
	r := b.Subscribe()
	defer r.Close()

	go func() {
		time.Sleep(10 * time.Millisecond)
		b.Publish(message("later"))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	e, err := r.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, "later", e.(PrivateMessage).Text)
}

func TestRecvContextDone(t *testing.T) {
	b := New(DefaultCapacity)
	r := b.Subscribe()
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Recv(ctx)
	assert.Equal(t, context.Canceled, err)
}

func TestClose(t *testing.T) {
	b := New(DefaultCapacity)
	r := b.Subscribe()
	assert.Equal(t, 1, b.Subscribers())

	b.Publish(message("queued"))
	r.Close()
	r.Close()

	assert.Equal(t, 0, b.Subscribers())
	_, err := r.TryRecv()
	assert.Equal(t, ErrClosed, err)

	b.Publish(message("ignored"))
	_, err = r.Recv(context.Background())
	assert.Equal(t, ErrClosed, err)
}

func TestConcurrentPublish(t *testing.T) {
	b := New(1000)
	r := b.Subscribe()
	defer r.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				b.Publish(message("x"))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 500, r.Len())
}
