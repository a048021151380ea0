package plugin

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testPlugin struct {
	name    string
	deps    []string
	optDeps []string
	order   *[]string
	failErr error
}

func (tp *testPlugin) Name() string      { return tp.name }
func (tp *testPlugin) Deps() []string    { return tp.deps }
func (tp *testPlugin) OptDeps() []string { return tp.optDeps }

func (tp *testPlugin) Init(ctx context.Context, r *Registry) error {
	if tp.failErr != nil {
		return tp.failErr
	}
	*tp.order = append(*tp.order, tp.name)
	return nil
}

func (tp *testPlugin) Shutdown(ctx context.Context) error {
	*tp.order = append(*tp.order, "~"+tp.name)
	return nil
}

func TestInitOrder(t *testing.T) {
	var order []string
	r := &Registry{}
	r.Register(&testPlugin{name: "A", deps: []string{"B", "C"}, order: &order})
	r.Register(&testPlugin{name: "B", deps: []string{"C", "D"}, order: &order})
	r.Register(&testPlugin{name: "C", deps: []string{"D"}, order: &order})
	r.Register(&testPlugin{name: "D", order: &order})

	require.NoError(t, r.Init(context.Background()))
	assert.Equal(t, []string{"D", "C", "B", "A"}, order)

	order = nil
	require.NoError(t, r.Shutdown(context.Background()))
	assert.Equal(t, []string{"~A", "~B", "~C", "~D"}, order)
}

func TestOptionalDeps(t *testing.T) {
	var order []string
	r := &Registry{}
	r.Register(&testPlugin{name: "caps", optDeps: []string{"eventbus", "missing"}, order: &order})
	r.Register(&testPlugin{name: "eventbus", order: &order})

	require.NoError(t, r.Init(context.Background()))
	assert.Equal(t, []string{"eventbus", "caps"}, order)
}

func TestCycleDetection(t *testing.T) {
	var order []string
	r := &Registry{}
	r.Register(&testPlugin{name: "A", deps: []string{"B"}, order: &order})
	r.Register(&testPlugin{name: "B", deps: []string{"C"}, order: &order})
	r.Register(&testPlugin{name: "C", deps: []string{"A"}, order: &order})

	err := r.Init(context.Background())
	assert.EqualError(t, err, "plugin: dependency cycle detected involving 'A'")
	assert.Empty(t, order)
}

func TestMissingDependency(t *testing.T) {
	var order []string
	r := &Registry{}
	r.Register(&testPlugin{name: "A", deps: []string{"B"}, order: &order})
	r.Register(&testPlugin{name: "B", deps: []string{"XX"}, order: &order})

	err := r.Init(context.Background())
	assert.EqualError(t, err, "plugin: missing dependency, 'XX' not registered")
}

func TestInitFailure(t *testing.T) {
	var order []string
	r := &Registry{}
	r.Register(&testPlugin{name: "A", order: &order, failErr: errors.New("boom")})

	err := r.Init(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to initialize 'A': boom")
}

func TestLookup(t *testing.T) {
	var order []string
	r := &Registry{}
	r.Register(&testPlugin{name: "A", order: &order})

	p, err := Lookup[*testPlugin](r, "A")
	require.NoError(t, err)
	assert.Equal(t, "A", p.Name())

	_, err = Lookup[*testPlugin](r, "B")
	assert.Error(t, err)
	assert.Nil(t, r.Get("B"))
}
