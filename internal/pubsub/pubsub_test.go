package pubsub

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/scriptrt/internal/script"
)

func newBridge(t *testing.T) *WatermillBridge {
	t.Helper()
	bridge := NewWatermillBridge()
	t.Cleanup(func() { _ = bridge.Close() })
	return bridge
}

func TestWatermillBridge_PublishSubscribe(t *testing.T) {
	bridge := newBridge(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan Message, 1)
	require.NoError(t, bridge.Subscribe(ctx, "test.topic", func(ctx context.Context, msg Message) error {
		received <- msg
		return nil
	}))

	require.NoError(t, bridge.Publish(ctx, Message{
		Topic:    "test.topic",
		Source:   "tester",
		Payload:  []byte("hello"),
		Metadata: map[string]string{"k": "v"},
	}))

	select {
	case msg := <-received:
		assert.Equal(t, "test.topic", msg.Topic)
		assert.Equal(t, "tester", msg.Source)
		assert.Equal(t, []byte("hello"), msg.Payload)
		assert.Equal(t, "v", msg.Metadata["k"])
		assert.NotContains(t, msg.Metadata, metaKeySource)
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}
}

func TestWatermillBridge_HandlerErrorDoesNotStopSubscription(t *testing.T) {
	bridge := newBridge(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	failures := make(chan HandlerError, 1)
	remove := bridge.OnHandlerError(func(ctx context.Context, failure HandlerError) {
		failures <- failure
	})
	defer remove()

	calls := make(chan string, 2)
	require.NoError(t, bridge.Subscribe(ctx, "test.errors", func(ctx context.Context, msg Message) error {
		calls <- string(msg.Payload)
		if string(msg.Payload) == "first" {
			return errors.New("rejected")
		}
		return nil
	}))

	require.NoError(t, bridge.Publish(ctx, Message{Topic: "test.errors", Payload: []byte("first")}))
	require.NoError(t, bridge.Publish(ctx, Message{Topic: "test.errors", Payload: []byte("second")}))

	// GoChannel does not order deliveries across publishes.
	var got []string
	for i := 0; i < 2; i++ {
		select {
		case payload := <-calls:
			got = append(got, payload)
		case <-time.After(time.Second):
			t.Fatalf("only %d of 2 messages delivered", len(got))
		}
	}
	assert.ElementsMatch(t, []string{"first", "second"}, got)

	select {
	case failure := <-failures:
		assert.Equal(t, "test.errors", failure.Message.Topic)
		assert.Equal(t, []byte("first"), failure.Message.Payload)
		assert.EqualError(t, failure.Err, "rejected")
	case <-time.After(time.Second):
		t.Fatal("handler failure not reported")
	}
	assert.Equal(t, map[string]int{"test.errors": 1}, bridge.Failures())
}

func TestWatermillBridge_RemovedListenerIsNotCalled(t *testing.T) {
	bridge := newBridge(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	called := make(chan struct{}, 1)
	remove := bridge.OnHandlerError(func(ctx context.Context, failure HandlerError) {
		called <- struct{}{}
	})
	remove()

	handled := make(chan struct{}, 1)
	require.NoError(t, bridge.Subscribe(ctx, "test.removed", func(ctx context.Context, msg Message) error {
		defer func() { handled <- struct{}{} }()
		return errors.New("rejected")
	}))
	require.NoError(t, bridge.Publish(ctx, Message{Topic: "test.removed"}))

	select {
	case <-handled:
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}
	assert.Eventually(t, func() bool { return bridge.Failures()["test.removed"] == 1 }, time.Second, 10*time.Millisecond)
	assert.Empty(t, called)
}

func TestTypedEvents(t *testing.T) {
	bridge := newBridge(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan ReloadRequest, 1)
	require.NoError(t, Subscribe(ctx, bridge, ReloadRequested, func(ctx context.Context, req ReloadRequest, msg Message) error {
		assert.Equal(t, "watcher", msg.Source)
		got <- req
		return nil
	}))

	want := ReloadRequest{Ref: "scripts", Reason: "write", Paths: []string{"scripts/a.go"}}
	require.NoError(t, Publish(ctx, bridge, ReloadRequested, "watcher", want))

	select {
	case req := <-got:
		assert.Equal(t, want, req)
	case <-time.After(time.Second):
		t.Fatal("reload request not delivered")
	}
}

func TestTopicsCatalog(t *testing.T) {
	topics := Topics()
	names := make([]string, 0, len(topics))
	for _, info := range topics {
		names = append(names, info.Name)
	}
	assert.Equal(t, []string{"scripts.diagnostics", "scripts.reload.completed", "scripts.reload.requested"}, names)

	assert.Equal(t, "ReloadRequest", topics[2].TypeName)
	assert.Equal(t, []string{"ref", "reason", "paths"}, topics[2].PayloadFields)
	assert.Equal(t, "ReloadReport", topics[1].TypeName)

	assert.Panics(t, func() { NewEvent[ReloadRequest]("scripts.reload.requested", "again") })
}

func TestDiagnosticFrom(t *testing.T) {
	serr := script.NewTypeMismatch("Foo", "add", 0, script.TypeInt, script.TypeString)
	serr.Object = 3
	report := script.NewErrorReporter().ReportError(context.Background(), serr)

	d := DiagnosticFrom(report)
	assert.Equal(t, script.ErrorTypeTypeMismatch, d.Type)
	assert.Equal(t, script.SeverityMedium, d.Severity)
	assert.Equal(t, "Foo", d.Class)
	assert.Equal(t, "add", d.Member)
	assert.Equal(t, script.ObjectID(3), d.Object)
	assert.Equal(t, serr.Error(), d.Message)
	assert.Equal(t, 1, d.Occurrences)
	assert.True(t, d.Recoverable)
}
