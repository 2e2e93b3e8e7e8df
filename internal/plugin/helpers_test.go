package plugin

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/dshills/modular/internal/extension"
	"github.com/dshills/modular/internal/plugin/lua"
)

var errValue = errors.New("value error")

// trace records calls in order.
type trace struct {
	mu    sync.Mutex
	calls []string
}

func (tr *trace) add(s string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.calls = append(tr.calls, s)
}

func (tr *trace) get() []string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]string(nil), tr.calls...)
}

func (tr *trace) reset() {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.calls = nil
}

// record returns a Func that appends label to the trace.
func (tr *trace) record(label string) extension.Func {
	return func(context.Context, any, ...any) (any, error) {
		tr.add(label)
		return nil, nil
	}
}

// newTestType declares update (broadcast), prompt (override) and react
// (fallback on errValue).
func newTestType(t *testing.T, tr *trace) *extension.Type {
	t.Helper()
	typ, err := extension.NewType("shell",
		extension.Broadcast("update", tr.record("base")),
		extension.Override("prompt", func(context.Context, any, ...any) (any, error) {
			return "> ", nil
		}),
		extension.Fallback("react", func(_ context.Context, _ any, args ...any) (any, error) {
			return fmt.Sprintf("unrecognized %v", args[0]), nil
		}, errValue),
	)
	require.NoError(t, err)
	return typ
}

func newTestManager(t *testing.T, typ *extension.Type, dir string, mutate ...func(*Options)) (*Manager, *logtest.Hook) {
	t.Helper()
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	opts := DefaultOptions()
	opts.PluginDirectory = dir
	opts.Logger = logger
	opts.StateOptions = []lua.StateOption{lua.WithKinds(map[string]error{"ValueError": errValue})}
	for _, fn := range mutate {
		fn(&opts)
	}

	m, err := Setup(typ, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.UnloadAll(context.Background()) })
	return m, hook
}

func writeUnit(t *testing.T, dir, name, code string) string {
	t.Helper()
	path := filepath.Join(dir, name+DefaultExtension)
	require.NoError(t, os.WriteFile(path, []byte(code), 0644))
	return path
}

func invoke(t *testing.T, typ *extension.Type, point string, args ...any) any {
	t.Helper()
	got, err := typ.Invoke(context.Background(), point, nil, args...)
	require.NoError(t, err)
	return got
}

func writeFile(dir, name, content string) error {
	return os.WriteFile(filepath.Join(dir, name), []byte(content), 0644)
}
