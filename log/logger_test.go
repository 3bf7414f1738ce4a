package log

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestItCachesTaskLoggers(t *testing.T) {
	first := getLogger("task-123")
	second := getLogger("task-123")
	require.Equal(t, first, second)
}

func TestItCreatesDistinctLoggersPerTask(t *testing.T) {
	first := getLogger("task-123")
	other := getLogger("task-456")
	require.NotEqual(t, first, other)
}

func TestAddContextDoesNotPanic(t *testing.T) {
	AddContext("task-789", "source", "source/abc.mp4")
	Log("task-789", "a message", "frames", 10)
	LogNoTaskID("a message with no task")
}
