package extension

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func constant(v any) Func {
	return func(ctx context.Context, self any, args ...any) (any, error) {
		return v, nil
	}
}

func TestOverrideRunsPrimaryWhenUnset(t *testing.T) {
	p := Override("prompt", constant("> "))

	got, err := p.Invoke(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "> ", got)
	assert.Nil(t, p.Active())
}

func TestOverrideLastWriteWins(t *testing.T) {
	p := Override("prompt", constant("> "))
	require.NoError(t, p.Bind(NewBinding("prompt", "a", constant("a> "))))
	require.NoError(t, p.Bind(NewBinding("prompt", "b", constant("b> "))))

	got, err := p.Invoke(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "b> ", got)
	assert.Len(t, p.Bindings(), 1)
}

func TestOverrideErrorPropagates(t *testing.T) {
	boom := errors.New("boom")
	p := Override("prompt", constant("> "))
	require.NoError(t, p.Bind(NewBinding("prompt", "a", func(ctx context.Context, self any, args ...any) (any, error) {
		return nil, boom
	})))

	_, err := p.Invoke(context.Background(), nil)
	assert.ErrorIs(t, err, boom)
}

func TestOverrideUnbindPolicies(t *testing.T) {
	tests := []struct {
		name string
		// policy under test
		policy OverridePolicy
		// unload order after binding a then b
		unbind []string
		// expected prompt after each unbind
		want []string
	}{
		{
			name:   "owner: unbind newest reverts to primary",
			policy: OverrideResetOwner,
			unbind: []string{"b"},
			want:   []string{"> "},
		},
		{
			name:   "owner: unbind superseded keeps newest",
			policy: OverrideResetOwner,
			unbind: []string{"a", "b"},
			want:   []string{"b> ", "> "},
		},
		{
			name:   "always: unbind superseded clears newest",
			policy: OverrideResetAlways,
			unbind: []string{"a", "b"},
			want:   []string{"> ", "> "},
		},
		{
			name:   "always: unbind newest reverts to primary",
			policy: OverrideResetAlways,
			unbind: []string{"b", "a"},
			want:   []string{"> ", "> "},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Override("prompt", constant("> "))
			typ, err := NewType("shell", p)
			require.NoError(t, err)
			typ.SetOverridePolicy(tt.policy)
			assert.Equal(t, tt.policy, p.Policy())

			bindings := map[string]*Binding{
				"a": NewBinding("prompt", "a", constant("a> ")),
				"b": NewBinding("prompt", "b", constant("b> ")),
			}
			require.NoError(t, p.Bind(bindings["a"]))
			require.NoError(t, p.Bind(bindings["b"]))

			for i, name := range tt.unbind {
				require.NoError(t, p.Unbind(bindings[name]))
				got, err := p.Invoke(context.Background(), nil)
				require.NoError(t, err)
				assert.Equal(t, tt.want[i], got, "after unbinding %s", name)
			}
		})
	}
}

func TestParseOverridePolicy(t *testing.T) {
	p, ok := ParseOverridePolicy("always")
	assert.True(t, ok)
	assert.Equal(t, OverrideResetAlways, p)

	p, ok = ParseOverridePolicy("owner")
	assert.True(t, ok)
	assert.Equal(t, OverrideResetOwner, p)
	assert.Equal(t, "owner", p.String())

	_, ok = ParseOverridePolicy("sometimes")
	assert.False(t, ok)
}
