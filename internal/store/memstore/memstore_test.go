package memstore_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/cart-engine/internal/money"
	"github.com/noah-isme/cart-engine/internal/store"
	"github.com/noah-isme/cart-engine/internal/store/memstore"
)

func sampleItems() map[string]store.ItemRecord {
	return map[string]store.ItemRecord{
		"sku-1": {ID: "sku-1", Name: "Sample", Price: money.FromInt(10), Quantity: 2},
	}
}

func TestPutBothRoundTrip(t *testing.T) {
	s := memstore.New(memstore.Config{})
	ctx := context.Background()

	conditions := map[string]store.ConditionRecord{
		"promo": {Name: "promo", Target: "subtotal", Value: "-10"},
	}
	require.NoError(t, s.PutBoth(ctx, "sess-1", "default", sampleItems(), conditions))

	items, err := s.GetItems(ctx, "sess-1", "default")
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, 2, items["sku-1"].Quantity)

	conds, err := s.GetConditions(ctx, "sess-1", "default")
	require.NoError(t, err)
	require.Equal(t, "-10", conds["promo"].Value)
}

func TestMissingRecordIsEmptyNotError(t *testing.T) {
	s := memstore.New(memstore.Config{})
	ctx := context.Background()

	items, err := s.GetItems(ctx, "ghost", "default")
	require.NoError(t, err)
	require.Empty(t, items)

	value, err := s.GetMetadata(ctx, "ghost", "default", "key")
	require.NoError(t, err)
	require.Nil(t, value)
}

func TestReadsDoNotAliasStoredState(t *testing.T) {
	s := memstore.New(memstore.Config{})
	ctx := context.Background()
	require.NoError(t, s.PutItems(ctx, "sess-1", "default", sampleItems()))

	items, err := s.GetItems(ctx, "sess-1", "default")
	require.NoError(t, err)
	rec := items["sku-1"]
	rec.Quantity = 99
	items["sku-1"] = rec

	fresh, err := s.GetItems(ctx, "sess-1", "default")
	require.NoError(t, err)
	require.Equal(t, 2, fresh["sku-1"].Quantity)
}

func TestPayloadCeiling(t *testing.T) {
	s := memstore.New(memstore.Config{MaxPayloadBytes: 32})
	err := s.PutItems(context.Background(), "sess-1", "default", sampleItems())
	require.ErrorIs(t, err, store.ErrPayloadTooLarge)
}

func TestMetadataRoundTrip(t *testing.T) {
	s := memstore.New(memstore.Config{})
	ctx := context.Background()

	require.NoError(t, s.PutMetadata(ctx, "sess-1", "default", "promo_code", json.RawMessage(`"WELCOME"`)))
	value, err := s.GetMetadata(ctx, "sess-1", "default", "promo_code")
	require.NoError(t, err)
	require.JSONEq(t, `"WELCOME"`, string(value))
}

func TestForgetAndInstances(t *testing.T) {
	s := memstore.New(memstore.Config{})
	ctx := context.Background()

	require.NoError(t, s.PutItems(ctx, "sess-1", "default", sampleItems()))
	require.NoError(t, s.PutItems(ctx, "sess-1", "wishlist", sampleItems()))
	require.NoError(t, s.PutItems(ctx, "sess-2", "default", sampleItems()))

	instances, err := s.Instances(ctx, "sess-1")
	require.NoError(t, err)
	require.Equal(t, []string{"default", "wishlist"}, instances)

	require.NoError(t, s.Forget(ctx, "sess-1", "wishlist"))
	instances, err = s.Instances(ctx, "sess-1")
	require.NoError(t, err)
	require.Equal(t, []string{"default"}, instances)
}

func TestSupportsLocking(t *testing.T) {
	require.False(t, memstore.New(memstore.Config{}).SupportsLocking())
}
