package consumer

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evalgo/billcore/eventlog"
)

type fakePositionStore struct {
	mu       sync.Mutex
	position int64
	saved    []int64
}

func (f *fakePositionStore) LoadPosition(ctx context.Context, consumerName string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.position, nil
}

func (f *fakePositionStore) SavePosition(ctx context.Context, consumerName string, position int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.position = position
	f.saved = append(f.saved, position)
	return nil
}

type deadLetter struct {
	ev       eventlog.Event
	lastErr  error
	attempts int
}

type fakeDeadLetterSink struct {
	mu      sync.Mutex
	letters []deadLetter
}

func (f *fakeDeadLetterSink) DeadLetter(ctx context.Context, consumerName string, ev eventlog.Event, lastErr error, attempts int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.letters = append(f.letters, deadLetter{ev: ev, lastErr: lastErr, attempts: attempts})
	return nil
}

func TestProcessSucceedsWithoutRetry(t *testing.T) {
	positions := &fakePositionStore{}
	deadLetters := &fakeDeadLetterSink{}
	var handled int
	handler := func(ctx context.Context, ev eventlog.Event) error {
		handled++
		return nil
	}

	r := NewRunner("test-consumer", nil, positions, deadLetters, handler, 3, nil)
	r.process(context.Background(), eventlog.Event{EntityID: "b1", Position: 1})

	assert.Equal(t, 1, handled)
	assert.Empty(t, deadLetters.letters)
	assert.Equal(t, []int64{1}, positions.saved)
}

func TestProcessRetriesThenDeadLettersAfterPoisonBudget(t *testing.T) {
	positions := &fakePositionStore{}
	deadLetters := &fakeDeadLetterSink{}
	var attempts int
	wantErr := errors.New("handler exploded")
	handler := func(ctx context.Context, ev eventlog.Event) error {
		attempts++
		return wantErr
	}

	r := NewRunner("test-consumer", nil, positions, deadLetters, handler, 3, nil)
	r.process(context.Background(), eventlog.Event{EntityID: "b1", Position: 5})

	assert.Equal(t, 3, attempts, "must retry exactly up to the poison budget")
	require.Len(t, deadLetters.letters, 1)
	assert.Equal(t, int64(5), deadLetters.letters[0].ev.Position)
	assert.Equal(t, wantErr, deadLetters.letters[0].lastErr)
	assert.Equal(t, 3, deadLetters.letters[0].attempts)
	assert.Equal(t, []int64{5}, positions.saved, "position still advances past a dead-lettered event")
}

func TestProcessRecoversBeforeExhaustingBudget(t *testing.T) {
	positions := &fakePositionStore{}
	deadLetters := &fakeDeadLetterSink{}
	var attempts int
	handler := func(ctx context.Context, ev eventlog.Event) error {
		attempts++
		if attempts < 2 {
			return errors.New("transient")
		}
		return nil
	}

	r := NewRunner("test-consumer", nil, positions, deadLetters, handler, 5, nil)
	r.process(context.Background(), eventlog.Event{Position: 9})

	assert.Equal(t, 2, attempts)
	assert.Empty(t, deadLetters.letters)
	assert.Equal(t, []int64{9}, positions.saved)
}

func TestProcessSkipsSavePositionWhenHandlerOwnsItOnSuccess(t *testing.T) {
	positions := &fakePositionStore{}
	deadLetters := &fakeDeadLetterSink{}
	handler := func(ctx context.Context, ev eventlog.Event) error { return nil }

	r := NewRunner("test-consumer", nil, positions, deadLetters, handler, 3, nil)
	r.SetHandlerOwnsPosition(true)
	r.process(context.Background(), eventlog.Event{EntityID: "b1", Position: 1})

	assert.Empty(t, positions.saved, "handler already advanced the token inside its own transaction")
}

func TestProcessStillSavesPositionOnDeadLetterWhenHandlerOwnsIt(t *testing.T) {
	positions := &fakePositionStore{}
	deadLetters := &fakeDeadLetterSink{}
	wantErr := errors.New("handler exploded")
	handler := func(ctx context.Context, ev eventlog.Event) error { return wantErr }

	r := NewRunner("test-consumer", nil, positions, deadLetters, handler, 3, nil)
	r.SetHandlerOwnsPosition(true)
	r.process(context.Background(), eventlog.Event{EntityID: "b1", Position: 5})

	require.Len(t, deadLetters.letters, 1)
	assert.Equal(t, []int64{5}, positions.saved, "dead-letter path always advances the token, even when the handler owns it on success")
}

func TestNewRunnerDefaultsPoisonBudget(t *testing.T) {
	r := NewRunner("test-consumer", nil, &fakePositionStore{}, &fakeDeadLetterSink{}, func(ctx context.Context, ev eventlog.Event) error { return nil }, 0, nil)
	assert.Equal(t, 5, r.PoisonBudget)
}

func TestReplayFromResetsPosition(t *testing.T) {
	positions := &fakePositionStore{position: 100}
	r := NewRunner("test-consumer", nil, positions, &fakeDeadLetterSink{}, nil, 3, nil)

	require.NoError(t, r.ReplayFrom(context.Background(), 0))
	pos, err := r.Position(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 0, pos)
}
