package idp_test

import (
	"context"
	"errors"
	"testing"

	idp "github.com/goliatone/go-idp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func lifecycleContext() *idp.LifecycleContext {
	user := &idp.User{ID: uuid.New(), Email: "ada@example.com"}
	return idp.NewLifecycleContext(idp.LifecycleRegistration, user, "admin")
}

func TestLifecycleDispatcher_RunsHooksAroundOperation(t *testing.T) {
	var log []string
	d := idp.NewLifecycleDispatcher([]idp.LifecycleListener{
		&recordingListener{name: "a", log: &log},
		nil,
		&recordingListener{name: "b", log: &log},
	})

	err := d.Dispatch(context.Background(), lifecycleContext(), func(context.Context) error {
		log = append(log, "op")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a:before", "b:before", "op", "a:after", "b:after"}, log)
}

func TestLifecycleDispatcher_VetoSkipsOperation(t *testing.T) {
	var log []string
	d := idp.NewLifecycleDispatcher([]idp.LifecycleListener{
		&recordingListener{name: "a", log: &log, before: func(*idp.LifecycleContext) (idp.HookResult, error) {
			return idp.Fail("domain blocked"), nil
		}},
		&recordingListener{name: "b", log: &log},
	})

	ran := false
	err := d.Dispatch(context.Background(), lifecycleContext(), func(context.Context) error {
		ran = true
		return nil
	})
	require.Error(t, err)
	assert.True(t, idp.IsLifecycleRejection(err))
	assert.False(t, idp.IsLifecycleFault(err))
	assert.Contains(t, err.Error(), "domain blocked")
	assert.False(t, ran)
	assert.Equal(t, []string{"a:before"}, log)
}

func TestLifecycleDispatcher_BeforeFaults(t *testing.T) {
	tests := []struct {
		name   string
		before func(*idp.LifecycleContext) (idp.HookResult, error)
	}{
		{
			name: "error",
			before: func(*idp.LifecycleContext) (idp.HookResult, error) {
				return idp.Continue(), errors.New("directory offline")
			},
		},
		{
			name: "panic",
			before: func(*idp.LifecycleContext) (idp.HookResult, error) {
				panic("boom")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var log []string
			d := idp.NewLifecycleDispatcher([]idp.LifecycleListener{
				&recordingListener{name: "a", log: &log, before: tt.before},
			})

			ran := false
			err := d.Dispatch(context.Background(), lifecycleContext(), func(context.Context) error {
				ran = true
				return nil
			})
			assert.True(t, idp.IsLifecycleFault(err))
			assert.False(t, ran)
		})
	}
}

func TestLifecycleDispatcher_AfterFailurePolicy(t *testing.T) {
	failing := func(*idp.LifecycleContext) error { return errors.New("webhook down") }

	t.Run("log and continue", func(t *testing.T) {
		var log []string
		d := idp.NewLifecycleDispatcher([]idp.LifecycleListener{
			&recordingListener{name: "a", log: &log, after: failing},
			&recordingListener{name: "b", log: &log},
		})

		err := d.Dispatch(context.Background(), lifecycleContext(), func(context.Context) error { return nil })
		require.NoError(t, err)
		assert.Contains(t, log, "b:after")
	})

	t.Run("bubble", func(t *testing.T) {
		var log []string
		d := idp.NewLifecycleDispatcher([]idp.LifecycleListener{
			&recordingListener{name: "a", log: &log, after: failing},
			&recordingListener{name: "b", log: &log},
		}, idp.WithAfterHookPolicy(idp.AfterHookBubble))

		ran := false
		err := d.Dispatch(context.Background(), lifecycleContext(), func(context.Context) error {
			ran = true
			return nil
		})
		assert.True(t, idp.IsLifecycleFault(err))
		assert.True(t, ran, "the operation is not undone")
		assert.NotContains(t, log, "b:after")
	})
}

func TestLifecycleDispatcher_OperationErrorSkipsAfterHooks(t *testing.T) {
	var log []string
	sink := &MockActivitySink{}
	d := idp.NewLifecycleDispatcher([]idp.LifecycleListener{
		&recordingListener{name: "a", log: &log},
	}, idp.WithDispatcherActivitySink(sink))

	opErr := errors.New("unique violation")
	err := d.Dispatch(context.Background(), lifecycleContext(), func(context.Context) error { return opErr })
	assert.ErrorIs(t, err, opErr)
	assert.Equal(t, []string{"a:before"}, log)
	sink.AssertNotCalled(t, "Record", mock.Anything, mock.Anything)
}

func TestLifecycleDispatcher_RecordsActivity(t *testing.T) {
	sink := &MockActivitySink{}
	sink.On("Record", mock.Anything, mock.MatchedBy(func(e idp.ActivityEvent) bool {
		return e.EventType == idp.ActivityEventLifecycle && e.Outcome == string(idp.LifecycleRegistration)
	})).Return(nil).Once()

	d := idp.NewLifecycleDispatcher(nil, idp.WithDispatcherActivitySink(sink))
	require.NoError(t, d.Dispatch(context.Background(), lifecycleContext(), func(context.Context) error { return nil }))
	sink.AssertExpectations(t)
}

func TestLifecycleContext_SharesItemsAndProtectsUser(t *testing.T) {
	var log []string
	lc := lifecycleContext()
	original := lc.User().Email

	d := idp.NewLifecycleDispatcher([]idp.LifecycleListener{
		&recordingListener{name: "a", log: &log, before: func(lc *idp.LifecycleContext) (idp.HookResult, error) {
			lc.User().Email = "mallory@example.com"
			lc.Set("invite", "abc")
			return idp.Continue(), nil
		}},
		&recordingListener{name: "b", log: &log, after: func(lc *idp.LifecycleContext) error {
			v, ok := lc.Get("invite")
			if !ok || v != "abc" {
				return errors.New("missing item")
			}
			return nil
		}},
	}, idp.WithAfterHookPolicy(idp.AfterHookBubble))

	require.NoError(t, d.Dispatch(context.Background(), lc, func(context.Context) error { return nil }))
	assert.Equal(t, original, lc.User().Email)
	assert.NotEmpty(t, lc.CorrelationID())
	assert.Equal(t, "admin", lc.ActorID())
}

func TestLifecycleDispatcher_RequiresOperation(t *testing.T) {
	d := idp.NewLifecycleDispatcher(nil)
	assert.Error(t, d.Dispatch(context.Background(), lifecycleContext(), nil))
	assert.Error(t, d.Dispatch(context.Background(), nil, func(context.Context) error { return nil }))
}

func TestParseAfterHookPolicy(t *testing.T) {
	tests := []struct {
		in   string
		want idp.AfterHookPolicy
		err  bool
	}{
		{in: "", want: idp.AfterHookLogAndContinue},
		{in: "log", want: idp.AfterHookLogAndContinue},
		{in: " Bubble ", want: idp.AfterHookBubble},
		{in: "explode", err: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := idp.ParseAfterHookPolicy(tt.in)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
