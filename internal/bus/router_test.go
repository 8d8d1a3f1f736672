package bus

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/snapcase/pkg/models"
)

func TestSendDeliversToAttachedContext(t *testing.T) {
	r := NewRouter()
	defer r.Close()

	inbox, detach := r.Attach(models.ContextUI, 4)
	defer detach()

	env := models.MustEnvelope(models.MsgPopupOpened, models.ContextUI, models.PopupOpened{})
	n := r.Send(models.ContextUI, env)
	assert.Equal(t, 1, n)

	got := <-inbox
	assert.Equal(t, models.MsgPopupOpened, got.Type)
}

func TestSendToAbsentContextReturnsZero(t *testing.T) {
	r := NewRouter()
	defer r.Close()

	env := models.MustEnvelope(models.MsgPopupOpened, models.ContextUI, models.PopupOpened{})
	assert.Equal(t, 0, r.Send("nobody", env))
}

func TestSendNeverBlocksOnBackloggedTarget(t *testing.T) {
	r := NewRouter()
	defer r.Close()

	_, detach := r.Attach("slow", 1)
	defer detach()

	env := models.MustEnvelope(models.MsgPopupOpened, models.ContextUI, models.PopupOpened{})
	assert.Equal(t, 1, r.Send("slow", env))
	// Buffer full: the message is dropped, not queued.
	assert.Equal(t, 0, r.Send("slow", env))
}

func TestBroadcastSkipsSender(t *testing.T) {
	r := NewRouter()
	defer r.Close()

	coordInbox, detachCoord := r.Attach(models.ContextCoordinator, 4)
	uiInbox, detachUI := r.Attach(models.ContextUI, 4)
	defer detachCoord()
	defer detachUI()

	env := models.MustEnvelope(models.MsgRecordingTick, models.ContextCoordinator, map[string]int{"elapsed": 1})
	n := r.Broadcast(env)
	assert.Equal(t, 1, n)

	got := <-uiInbox
	assert.Equal(t, models.MsgRecordingTick, got.Type)

	select {
	case <-coordInbox:
		t.Fatal("broadcast delivered back to sender")
	default:
	}
}

func TestReattachReplacesRegistration(t *testing.T) {
	r := NewRouter()
	defer r.Close()

	old, _ := r.Attach(models.ContextUI, 4)
	fresh, detach := r.Attach(models.ContextUI, 4)
	defer detach()

	// The replaced channel is closed so its reader unblocks.
	_, ok := <-old
	assert.False(t, ok)

	env := models.MustEnvelope(models.MsgPopupOpened, models.ContextUI, models.PopupOpened{})
	require.Equal(t, 1, r.Send(models.ContextUI, env))
	got := <-fresh
	assert.Equal(t, models.MsgPopupOpened, got.Type)
}

func TestDetachIsIdempotentAndStopsDelivery(t *testing.T) {
	r := NewRouter()
	defer r.Close()

	_, detach := r.Attach(models.ContextUI, 4)
	detach()
	detach()

	env := models.MustEnvelope(models.MsgPopupOpened, models.ContextUI, models.PopupOpened{})
	assert.Equal(t, 0, r.Send(models.ContextUI, env))
}

func TestSendDuringDetachDoesNotPanic(t *testing.T) {
	r := NewRouter()
	defer r.Close()

	env := models.MustEnvelope(models.MsgRecordingTick, models.ContextCoordinator, map[string]int{"elapsed": 1})

	done := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				r.Send(models.ContextUI, env)
				r.Broadcast(env)
			}
		}()
	}

	// Churn the ui registration the way an event-stream reconnect does.
	for i := 0; i < 500; i++ {
		_, detach := r.Attach(models.ContextUI, 1)
		detach()
	}
	close(done)
	wg.Wait()
}

func TestCloseClosesAllInboxes(t *testing.T) {
	r := NewRouter()
	inbox, _ := r.Attach(models.ContextUI, 4)

	require.NoError(t, r.Close())
	_, ok := <-inbox
	assert.False(t, ok)

	require.NoError(t, r.Close())
}
