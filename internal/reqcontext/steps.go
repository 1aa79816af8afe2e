package reqcontext

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// stepTrace is shared by every step entered under the same top-level step.
type stepTrace struct {
	mu      sync.Mutex
	timings []string
}

func (t *stepTrace) record(depth int, step string, elapsed time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timings = append(t.timings, fmt.Sprintf("%s%s %dms", strings.Repeat("  ", depth-1), step, elapsed.Milliseconds()))
}

func (t *stepTrace) summary() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.timings))
	copy(out, t.timings)
	return out
}

type stepState struct {
	depth int
	trace *stepTrace
}

// Depth returns how many steps enclose ctx; zero outside any step.
func Depth(ctx context.Context) int {
	if s, ok := ctx.Value(stepKey).(stepState); ok {
		return s.depth
	}
	return 0
}

// Enter logs ENTER for step and returns a child context one level deeper
// plus a leave func. leave logs LEAVE with the elapsed time and, for the
// outermost step, the timings of every nested step. A correlation id is
// generated when ctx carries none.
func Enter(ctx context.Context, logger *zap.Logger, step string, fields ...zap.Field) (context.Context, func(error)) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if GetCorrelationID(ctx) == "" {
		ctx = WithCorrelationID(ctx, GenerateCorrelationID())
	}

	parent, nested := ctx.Value(stepKey).(stepState)
	state := stepState{depth: 1, trace: &stepTrace{}}
	if nested {
		state = stepState{depth: parent.depth + 1, trace: parent.trace}
	}
	ctx = context.WithValue(ctx, stepKey, state)

	base := append(Fields(ctx), zap.Int("depth", state.depth), zap.String("step", step))
	base = base[:len(base):len(base)]
	logger.Debug("ENTER", append(base, fields...)...)

	start := time.Now()
	var once sync.Once
	leave := func(err error) {
		once.Do(func() {
			elapsed := time.Since(start)
			state.trace.record(state.depth, step, elapsed)

			out := append(base, zap.Int64("duration_ms", elapsed.Milliseconds()))
			if err != nil {
				out = append(out, zap.String("error_kind", fmt.Sprintf("%T", err)), zap.Error(err))
			}
			if state.depth == 1 {
				out = append(out, zap.Strings("timings", state.trace.summary()))
			}
			logger.Debug("LEAVE", out...)
		})
	}
	return ctx, leave
}
