package fanout

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/doc-chat-server/internal/domain"
)

type fakeStream struct {
	ch  chan domain.ChangeEvent
	err error
}

func (f *fakeStream) Changes(_ context.Context) (<-chan domain.ChangeEvent, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.ch, nil
}

type published struct {
	channel string
	payload any
}

type fakePub struct {
	mu     sync.Mutex
	msgs   []published
	failOn string // channel name that fails to publish
}

func (f *fakePub) Publish(_ context.Context, channel string, payload any) error {
	if channel == f.failOn {
		return errors.New("publish failed")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, published{channel: channel, payload: payload})
	return nil
}

func change(op domain.ChangeOp, id string, status domain.Status) domain.ChangeEvent {
	return domain.ChangeEvent{
		Op: op,
		Document: domain.Document{
			ID:               id,
			OriginalFileName: "notes.txt",
			FileName:         domain.DataFileName,
			Status:           status,
		},
	}
}

func runPipe(t *testing.T, pub *fakePub, events ...domain.ChangeEvent) {
	t.Helper()
	stream := &fakeStream{ch: make(chan domain.ChangeEvent)}
	p := NewPipe(stream, pub, nil)

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()

	for _, ev := range events {
		stream.ch <- ev
	}
	close(stream.ch)
	require.ErrorIs(t, <-done, ErrStreamClosed)
}

func TestPipeRun_PublishesInsertAndModify(t *testing.T) {
	pub := &fakePub{}
	runPipe(t, pub,
		change(domain.OpInsert, "doc-1", domain.StatusPending),
		change(domain.OpModify, "doc-1", domain.StatusReady),
	)

	require.Len(t, pub.msgs, 2)
	assert.Equal(t, domain.StatusChannel("doc-1"), pub.msgs[0].channel)
	assert.Equal(t, domain.StatusEvent{
		ID:               "doc-1",
		OriginalFileName: "notes.txt",
		Status:           domain.StatusPending,
	}, pub.msgs[0].payload)
	assert.Equal(t, domain.StatusEvent{
		ID:               "doc-1",
		OriginalFileName: "notes.txt",
		Status:           domain.StatusReady,
	}, pub.msgs[1].payload)
}

func TestPipeRun_DropsRemovals(t *testing.T) {
	pub := &fakePub{}
	runPipe(t, pub,
		change(domain.OpRemove, "doc-1", domain.StatusReady),
		change(domain.OpInsert, "doc-2", domain.StatusPending),
	)

	require.Len(t, pub.msgs, 1)
	assert.Equal(t, domain.StatusChannel("doc-2"), pub.msgs[0].channel)
}

func TestPipeRun_PublishFailureDoesNotStallStream(t *testing.T) {
	pub := &fakePub{failOn: domain.StatusChannel("doc-1")}
	runPipe(t, pub,
		change(domain.OpInsert, "doc-1", domain.StatusPending),
		change(domain.OpInsert, "doc-2", domain.StatusPending),
	)

	require.Len(t, pub.msgs, 1)
	assert.Equal(t, domain.StatusChannel("doc-2"), pub.msgs[0].channel)
}

func TestPipeRun_StreamOpenFailure(t *testing.T) {
	stream := &fakeStream{err: errors.New("connect refused")}
	p := NewPipe(stream, &fakePub{}, nil)
	require.Error(t, p.Run(context.Background()))
}
