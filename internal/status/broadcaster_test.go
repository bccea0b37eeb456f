package status

import (
	"testing"
	"time"

	"github.com/BTreeMap/StatusPipe/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcasterFanOut(t *testing.T) {
	b := newBroadcaster()
	a, unsubA := b.Subscribe()
	c, unsubC := b.Subscribe()
	defer unsubA()
	defer unsubC()

	b.publish(models.Ok{})

	assert.Equal(t, models.Ok{}, <-a)
	assert.Equal(t, models.Ok{}, <-c)
}

func TestBroadcasterLatestWins(t *testing.T) {
	b := newBroadcaster()
	ch, unsub := b.Subscribe()
	defer unsub()

	first := models.Exposed{StartDate: time.Date(2020, 4, 1, 6, 0, 0, 0, time.UTC)}
	b.publish(first)
	b.publish(models.Ok{})

	assert.Equal(t, models.Ok{}, <-ch)
	select {
	case got := <-ch:
		t.Fatalf("expected a single pending state, got %#v", got)
	default:
	}
}

func TestBroadcasterUnsubscribe(t *testing.T) {
	b := newBroadcaster()
	ch, unsub := b.Subscribe()
	unsub()
	unsub()

	_, ok := <-ch
	assert.False(t, ok, "channel should be closed")

	b.publish(models.Ok{})
}

func TestBroadcasterClose(t *testing.T) {
	b := newBroadcaster()
	ch, unsub := b.Subscribe()

	b.Close()
	b.Close()
	unsub()

	_, ok := <-ch
	assert.False(t, ok)

	late, _ := b.Subscribe()
	_, ok = <-late
	assert.False(t, ok, "subscribing after close yields a closed channel")

	b.publish(models.Ok{})
}

func TestTransitionsAreFreeOfSideEffectsWhenUnchanged(t *testing.T) {
	now := time.Date(2020, 4, 6, 6, 0, 0, 0, time.UTC)
	out := onTick(models.Ok{}, now)
	require.Empty(t, out.effects)
	assert.Equal(t, models.Ok{}, out.next)

	out = onCheckin(models.PositiveTestResult{StartDate: now}, models.NewSymptoms(models.SymptomTemperature), now)
	require.Empty(t, out.effects)
}
