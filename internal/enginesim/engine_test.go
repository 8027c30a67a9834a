package enginesim

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/scriptrt/internal/config"
	"github.com/nfrund/scriptrt/internal/extension"
	"github.com/nfrund/scriptrt/internal/pubsub"
	"github.com/nfrund/scriptrt/internal/script"
)

func TestEngine_ClassHierarchy(t *testing.T) {
	e := New()

	assert.True(t, e.IsParentClass("Sprite2D", "Node"))
	assert.True(t, e.IsParentClass("Node", "Node"))
	assert.True(t, e.IsParentClass("Node", "Object"))
	assert.False(t, e.IsParentClass("Node", "Node2D"))
	assert.False(t, e.IsParentClass("Missing", "Object"))

	require.NoError(t, e.RegisterClass("Player", "CharacterBody2D"))
	assert.True(t, e.IsParentClass("Player", "Node2D"))
	assert.ErrorIs(t, e.RegisterClass("Ghost", "Missing"), ErrUnknownEngineClass)
}

func TestEngine_Objects(t *testing.T) {
	e := New()

	a, err := e.Spawn("Node")
	require.NoError(t, err)
	b, err := e.Spawn("Node2D")
	require.NoError(t, err)
	assert.Equal(t, script.ObjectID(1), a)
	assert.Equal(t, script.ObjectID(2), b)

	_, err = e.Spawn("Nope")
	assert.ErrorIs(t, err, ErrUnknownEngineClass)

	assert.Equal(t, []Object{{ID: 1, Class: "Node"}, {ID: 2, Class: "Node2D"}}, e.Objects())

	require.NoError(t, e.Free(context.Background(), a))
	_, err = e.Object(a)
	assert.ErrorIs(t, err, ErrUnknownObject)
}

func TestEngine_RequiresLanguage(t *testing.T) {
	e := New()
	id, err := e.Spawn("Node")
	require.NoError(t, err)

	ctx := context.Background()
	assert.ErrorIs(t, e.Attach(ctx, id, "Anything"), ErrNoLanguage)
	assert.ErrorIs(t, e.Tick(ctx, 0.016), ErrNoLanguage)
	_, err = e.Get(ctx, id, "x")
	assert.ErrorIs(t, err, ErrNoLanguage)
	assert.ErrorIs(t, e.UnregisterScriptLanguage(nil), ErrNoLanguage)
	assert.Empty(t, e.Events())
}

func TestEngine_RunsScripts(t *testing.T) {
	counter := script.ModuleFunc{ModuleName: "counter", Fn: func(b *script.ModuleBuilder) {
		c := b.Class("Counter", "Node")
		c.Property("ticks", script.TypeInt, 0)
		c.Property("left", script.TypeBool, false)
		c.OnHook(script.HookProcess, func(call *script.Call) (any, error) {
			return nil, call.Set("ticks", call.GetInt("ticks")+1)
		})
		c.OnHook(script.HookExitTree, func(call *script.Call) (any, error) {
			return nil, call.Emit("left")
		})
		c.Signal("left")
	}}

	e := New()
	bus := pubsub.NewWatermillBridge()
	t.Cleanup(func() { _ = bus.Close() })
	cfg := config.Default()
	cfg.HotReload = false

	controller := extension.NewController(extension.Options{
		Config:     cfg,
		Host:       e,
		Bus:        bus,
		Fs:         afero.NewMemMapFs(),
		Static:     []script.Module{counter},
		ClassDB:    e,
		SignalSink: e,
	})
	ctx := context.Background()
	require.NoError(t, controller.Initialize(ctx, extension.LevelScene))
	defer controller.Deinitialize(ctx, extension.LevelScene)
	assert.ErrorIs(t, e.RegisterScriptLanguage(controller.Language()), ErrLanguageRegistered)

	id, err := e.Spawn("Node2D")
	require.NoError(t, err)
	plain, err := e.Spawn("Node")
	require.NoError(t, err)
	require.NoError(t, e.Attach(ctx, id, "Counter"))

	for i := 0; i < 4; i++ {
		require.NoError(t, e.Tick(ctx, 0.016))
	}
	assert.Equal(t, uint64(4), e.Frames())

	v, err := e.Get(ctx, id, "ticks")
	require.NoError(t, err)
	assert.Equal(t, int64(4), script.ToNative(v, script.TypeInt))

	obj, err := e.Object(id)
	require.NoError(t, err)
	assert.Equal(t, "Counter", obj.Script)

	require.NoError(t, e.Free(ctx, id))
	require.NoError(t, e.Free(ctx, plain))
	signals := e.Signals()
	require.Len(t, signals, 1)
	assert.Equal(t, "left", signals[0].Name)
	assert.Equal(t, id, signals[0].Source)
}
