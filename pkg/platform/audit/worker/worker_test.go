package worker

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	audit "assessgate/pkg/platform/audit"
	"assessgate/pkg/platform/audit/store/memory"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestWorker_PersistsUntilInboxClosed(t *testing.T) {
	store := memory.NewInMemoryStore(10)
	inbox := make(chan audit.Event, 2)
	w := NewWorker(store, inbox, slog.New(slog.NewTextHandler(io.Discard, nil)))

	inbox <- audit.Event{ID: "e1"}
	inbox <- audit.Event{ID: "e2"}
	close(inbox)

	require.NoError(t, w.Run(context.Background()))
	assert.Equal(t, 2, store.Len())
}

func TestWorker_DrainsOnCancel(t *testing.T) {
	store := memory.NewInMemoryStore(10)
	inbox := make(chan audit.Event, 4)
	w := NewWorker(store, inbox, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	inbox <- audit.Event{ID: "e1"}
	require.Eventually(t, func() bool { return store.Len() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
