package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/scriptrt/internal/config"
	"github.com/nfrund/scriptrt/internal/pubsub"
	"github.com/nfrund/scriptrt/internal/script"
)

func TestRegistry_SetGet(t *testing.T) {
	cfg := config.Default()
	r := New(cfg)
	assert.Same(t, cfg, r.Config())

	metadata := script.NewMetadata()
	Set(r, MetadataKey, metadata)

	got, ok := Get(r, MetadataKey)
	require.True(t, ok)
	assert.Same(t, metadata, got)
	assert.Same(t, metadata, MustGet(r, MetadataKey))
}

func TestRegistry_Missing(t *testing.T) {
	r := New(config.Default())

	_, ok := Get(r, DispatcherKey)
	assert.False(t, ok)
	assert.Panics(t, func() { MustGet(r, DispatcherKey) })
}

func TestRegistry_Delete(t *testing.T) {
	r := New(config.Default())
	Set(r, ErrorReporterKey, script.NewErrorReporter())
	Delete(r, ErrorReporterKey)

	_, ok := Get(r, ErrorReporterKey)
	assert.False(t, ok)
}

func TestRegistry_WrongTypeUnderSameName(t *testing.T) {
	r := New(config.Default())
	Set(r, Key[string]("script.metadata"), "not metadata")

	_, ok := Get(r, MetadataKey)
	assert.False(t, ok)
}

func TestRegistry_Require(t *testing.T) {
	r := New(config.Default())

	_, err := Require(r, CoordinatorKey)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Contains(t, err.Error(), "script.coordinator")

	reporter := script.NewErrorReporter()
	Set(r, ErrorReporterKey, reporter)
	got, err := Require(r, ErrorReporterKey)
	require.NoError(t, err)
	assert.Same(t, reporter, got)
}

func TestRegistry_Names(t *testing.T) {
	r := New(config.Default())
	assert.Empty(t, r.Names())

	bus := pubsub.NewWatermillBridge()
	t.Cleanup(func() { _ = bus.Close() })
	Set[pubsub.Publisher](r, PublisherKey, bus)
	Set(r, MetadataKey, script.NewMetadata())
	assert.Equal(t, []string{"pubsub.publisher", "script.metadata"}, r.Names())

	Delete(r, MetadataKey)
	assert.Equal(t, []string{"pubsub.publisher"}, r.Names())
}
