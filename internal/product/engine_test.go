package product

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-ingest/internal/catalog"
	"github.com/JakeFAU/catalog-ingest/internal/storage/memory"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []catalog.Event
}

func (r *recordingPublisher) Publish(_ context.Context, event catalog.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingPublisher) types() []catalog.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]catalog.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type failingStore struct {
	catalog.ProductStore
	err error
}

func (f failingStore) Upsert(context.Context, catalog.ProductWrite) (catalog.Product, bool, error) {
	return catalog.Product{}, false, f.err
}

func TestEngineUpsertPublishesCreatedThenUpdated(t *testing.T) {
	t.Parallel()

	pub := &recordingPublisher{}
	engine := NewEngine(memory.NewProductStore(nil), pub, nil)
	ctx := context.Background()

	p, created, err := engine.Upsert(ctx, UpsertInput{SKU: "SKU-1", Name: " Lamp "}, PublishEvents)
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, "sku-1", p.SKU)
	require.Equal(t, "Lamp", p.Name)

	stock := 4
	p2, created, err := engine.Upsert(ctx, UpsertInput{SKU: "sku-1", Name: "Lamp v2", Stock: &stock}, PublishEvents)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, p.ID, p2.ID)

	require.Equal(t, []catalog.EventType{catalog.EventProductCreated, catalog.EventProductUpdated}, pub.types())
	require.Equal(t, []string{"name", "stock"}, pub.events[1].Data["changed_fields"])
	require.Equal(t, "sku-1", pub.events[1].Data["sku"])
}

func TestEngineSuppressEvents(t *testing.T) {
	t.Parallel()

	pub := &recordingPublisher{}
	engine := NewEngine(memory.NewProductStore(nil), pub, nil)

	_, _, err := engine.Upsert(context.Background(), UpsertInput{SKU: "a", Name: "A"}, SuppressEvents)
	require.NoError(t, err)
	require.Empty(t, pub.types())
}

func TestEngineRejectsInvalidInput(t *testing.T) {
	t.Parallel()

	engine := NewEngine(memory.NewProductStore(nil), nil, nil)
	negative := -1.0
	long := strings.Repeat("d", MaxDescriptionLength+1)

	cases := map[string]UpsertInput{
		"empty sku":      {SKU: "  ", Name: "x"},
		"empty name":     {SKU: "x", Name: ""},
		"long sku":       {SKU: strings.Repeat("s", MaxSKULength+1), Name: "x"},
		"long name":      {SKU: "x", Name: strings.Repeat("n", MaxNameLength+1)},
		"long desc":      {SKU: "x", Name: "x", Description: &long},
		"negative price": {SKU: "x", Name: "x", Price: &negative},
	}
	for name, in := range cases {
		_, _, err := engine.Upsert(context.Background(), in, PublishEvents)
		require.ErrorIs(t, err, catalog.ErrInvalidInput, name)
	}
}

func TestEngineStorageErrorDoesNotPublish(t *testing.T) {
	t.Parallel()

	pub := &recordingPublisher{}
	storeErr := &catalog.StorageError{Op: "upsert", Err: errors.New("down"), Unrecoverable: true}
	engine := NewEngine(failingStore{err: storeErr}, pub, nil)

	_, _, err := engine.Upsert(context.Background(), UpsertInput{SKU: "a", Name: "A"}, PublishEvents)
	require.True(t, catalog.IsUnrecoverable(err))
	require.Empty(t, pub.types())
}

func TestEngineDeletePublishes(t *testing.T) {
	t.Parallel()

	pub := &recordingPublisher{}
	engine := NewEngine(memory.NewProductStore(nil), pub, nil)
	ctx := context.Background()

	created, _, err := engine.Upsert(ctx, UpsertInput{SKU: "gone", Name: "Gone"}, SuppressEvents)
	require.NoError(t, err)

	_, err = engine.Delete(ctx, "GONE")
	require.NoError(t, err)
	require.Equal(t, []catalog.EventType{catalog.EventProductDeleted}, pub.types())
	require.Equal(t, created.ID, pub.events[0].Data["id"])

	_, err = engine.Delete(ctx, "gone")
	require.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestValidationErrorMessage(t *testing.T) {
	t.Parallel()

	err := UpsertInput{SKU: "x"}.Validate()
	require.EqualError(t, err, "name is required")
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	require.Equal(t, "name", ve.Field)
}
