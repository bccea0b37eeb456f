package mailbox

import (
	"context"
	"sync"
	"testing"

	"github.com/BTreeMap/StatusPipe/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoxOverwriteAndClear(t *testing.T) {
	ctx := context.Background()
	box := New()

	msg, err := box.Receive(ctx)
	require.NoError(t, err)
	assert.Nil(t, msg)

	require.NoError(t, box.Post(ctx, models.MessageUnexposed))
	require.NoError(t, box.Post(ctx, models.NegativeTestResultMessage(models.NewSymptoms(models.SymptomCough))))

	msg, err = box.Receive(ctx)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, models.DrawerNegativeTestResult, msg.Kind)
	assert.Equal(t, models.NewSymptoms(models.SymptomCough), msg.Symptoms)

	msg, err = box.Receive(ctx)
	require.NoError(t, err)
	assert.Nil(t, msg, "receive must clear the slot")
}

func TestBoxConcurrentPost(t *testing.T) {
	ctx := context.Background()
	box := New()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = box.Post(ctx, models.MessageUnclearTestResult)
		}()
	}
	wg.Wait()

	msg, err := box.Receive(ctx)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, models.MessageUnclearTestResult, *msg)
}

type memorySlots struct {
	msg *models.DrawerMessage
}

func (m *memorySlots) PutMailbox(_ context.Context, msg models.DrawerMessage) error {
	m.msg = &msg
	return nil
}

func (m *memorySlots) TakeMailbox(_ context.Context) (*models.DrawerMessage, error) {
	msg := m.msg
	m.msg = nil
	return msg, nil
}

func TestDurableDelegates(t *testing.T) {
	ctx := context.Background()
	slots := &memorySlots{}
	box := NewDurable(slots)

	require.NoError(t, box.Post(ctx, models.MessagePositiveTestResult))
	require.NotNil(t, slots.msg)

	msg, err := box.Receive(ctx)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, models.DrawerPositiveTestResult, msg.Kind)
	assert.Nil(t, slots.msg)
}
