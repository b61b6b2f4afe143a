package sweeper

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestSweeper_RunsUntilClosed(t *testing.T) {
	var runs atomic.Int32
	s := Start(5*time.Millisecond, time.Now, func(time.Time) { runs.Add(1) })

	require.Eventually(t, func() bool { return runs.Load() >= 2 }, time.Second, time.Millisecond)
	s.Close()
	s.Close()

	after := runs.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, runs.Load())
}

func TestSweeper_DisabledInterval(t *testing.T) {
	s := Start(0, time.Now, func(time.Time) { t.Fatal("must not run") })
	s.Close()
}
