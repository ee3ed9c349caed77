package xfer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countdownEngine struct {
	polls int
	final Status
}

func (e *countdownEngine) Submit(context.Context, Request) (Handle, error) { return "h", nil }
func (e *countdownEngine) Release(Handle) error                            { return nil }
func (e *countdownEngine) Poll(Handle) (Status, error) {
	e.polls--
	if e.polls > 0 {
		return Status{State: StateInProgress}, nil
	}
	return e.final, nil
}

func TestWaitPollsUntilDone(t *testing.T) {
	e := &countdownEngine{polls: 3, final: Status{State: StateFailed, Code: 9, Reason: "nic down"}}
	st, err := Wait(context.Background(), e, "h", time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, st.State)
	require.ErrorIs(t, st.Err(), ErrTransferFailed)
	assert.Contains(t, st.Err().Error(), "code=9 nic down")
}

func TestWaitStopsOnContext(t *testing.T) {
	e := &countdownEngine{polls: 1 << 30}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := Wait(ctx, e, "h", time.Millisecond)
	require.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestOpAndStateStrings(t *testing.T) {
	assert.Equal(t, "READ", OpRead.String())
	assert.Equal(t, "WRITE", OpWrite.String())
	assert.Equal(t, "success", StateSuccess.String())
	assert.NoError(t, Status{State: StateSuccess}.Err())
}
