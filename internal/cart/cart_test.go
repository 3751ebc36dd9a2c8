package cart_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/cart-engine/internal/cart"
	"github.com/noah-isme/cart-engine/internal/common"
	"github.com/noah-isme/cart-engine/internal/condition"
	"github.com/noah-isme/cart-engine/internal/events"
	"github.com/noah-isme/cart-engine/internal/item"
	"github.com/noah-isme/cart-engine/internal/money"
	"github.com/noah-isme/cart-engine/internal/store/memstore"
)

type recordingNotifier struct {
	topics []string
}

func (r *recordingNotifier) Notify(_ context.Context, event events.Event) error {
	r.topics = append(r.topics, event.Topic)
	return nil
}

func newCart(t *testing.T) (*cart.Cart, *memstore.Store, *recordingNotifier) {
	t.Helper()
	backend := memstore.New(memstore.Config{})
	notifier := &recordingNotifier{}
	c, err := cart.Load(context.Background(), cart.Config{
		Backend: backend,
		Events:  &events.Bus{Notifiers: []events.Notifier{notifier}},
	}, "sess-1", "default")
	require.NoError(t, err)
	return c, backend, notifier
}

func addItem(t *testing.T, c *cart.Cart, id string, price string, qty int) {
	t.Helper()
	_, err := c.AddItem(context.Background(), item.Params{
		ID:       id,
		Name:     "Item " + id,
		Price:    money.MustFromString(price),
		Quantity: qty,
	})
	require.NoError(t, err)
}

func cartCond(t *testing.T, name, value string, target condition.Target) condition.Condition {
	t.Helper()
	c, err := condition.New(condition.Params{Name: name, Target: target, Value: value})
	require.NoError(t, err)
	return c
}

func TestTwoStageRouting(t *testing.T) {
	c, _, _ := newCart(t)
	ctx := context.Background()
	addItem(t, c, "sku-1", "100", 1)

	require.NoError(t, c.AddCondition(ctx, cartCond(t, "promo", "-10", condition.TargetSubtotal)))
	require.NoError(t, c.AddCondition(ctx, cartCond(t, "handling", "+5", condition.TargetTotal)))

	require.Equal(t, "100", c.RawSubtotal().String())
	require.Equal(t, "90", c.Subtotal().String())
	require.Equal(t, "95", c.Total().String())
}

func TestTotalEqualsSubtotalWithoutTotalConditions(t *testing.T) {
	c, _, _ := newCart(t)
	addItem(t, c, "sku-1", "40", 2)
	require.NoError(t, c.AddCondition(context.Background(), cartCond(t, "promo", "-25%", condition.TargetSubtotal)))

	require.Equal(t, "60", c.Subtotal().String())
	require.True(t, c.Total().Equal(c.Subtotal()))
}

func TestSubtotalStagesAreDistinct(t *testing.T) {
	c, _, _ := newCart(t)
	ctx := context.Background()
	addItem(t, c, "sku-1", "100", 1)

	sale := cartCond(t, "sale", "-50%", condition.TargetItem)
	ok, err := c.AddItemCondition(ctx, "sku-1", sale)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, c.AddCondition(ctx, cartCond(t, "promo", "-10", condition.TargetSubtotal)))

	require.Equal(t, "100", c.RawSubtotal().String())
	require.Equal(t, "50", c.SubtotalWithoutConditions().String())
	require.Equal(t, "40", c.Subtotal().String())
}

func TestRawSubtotalPrecision(t *testing.T) {
	c, _, _ := newCart(t)
	addItem(t, c, "sku-1", "0.1", 1)
	addItem(t, c, "sku-2", "0.2", 1)
	require.True(t, c.RawSubtotal().Equal(money.MustFromString("0.3")), "got %s", c.RawSubtotal())
}

func TestSavingsClampedAtZero(t *testing.T) {
	c, _, _ := newCart(t)
	ctx := context.Background()
	addItem(t, c, "sku-1", "100", 1)

	require.NoError(t, c.AddCondition(ctx, cartCond(t, "tax", "+20%", condition.TargetSubtotal)))
	require.True(t, c.Savings().IsZero())

	require.NoError(t, c.AddCondition(ctx, cartCond(t, "promo", "-50", condition.TargetSubtotal)))
	require.Equal(t, "30", c.Savings().String())
}

func TestAddItemSameIDIncrementsQuantity(t *testing.T) {
	c, _, _ := newCart(t)
	addItem(t, c, "sku-1", "10", 2)
	addItem(t, c, "sku-1", "10", 3)

	require.Equal(t, 1, c.Count())
	it, ok := c.Item("sku-1")
	require.True(t, ok)
	require.Equal(t, 5, it.Quantity())
}

func TestUpdateItemAdditiveVsAbsolute(t *testing.T) {
	c, _, _ := newCart(t)
	ctx := context.Background()
	addItem(t, c, "sku-1", "10", 2)

	_, found, err := c.UpdateItem(ctx, "sku-1", cart.ItemChanges{Quantity: 3})
	require.NoError(t, err)
	require.True(t, found)
	it, _ := c.Item("sku-1")
	require.Equal(t, 5, it.Quantity())

	_, found, err = c.UpdateItem(ctx, "sku-1", cart.ItemChanges{Quantity: 3, QuantityAbsolute: true})
	require.NoError(t, err)
	require.True(t, found)
	it, _ = c.Item("sku-1")
	require.Equal(t, 3, it.Quantity())
}

func TestUpdateItemDepletedQuantityRemoves(t *testing.T) {
	c, _, _ := newCart(t)
	ctx := context.Background()
	addItem(t, c, "sku-1", "10", 2)

	_, found, err := c.UpdateItem(ctx, "sku-1", cart.ItemChanges{Quantity: -2})
	require.NoError(t, err)
	require.True(t, found)
	require.False(t, c.Has("sku-1"))
	require.True(t, c.IsEmpty())
}

func TestUpdateMissingItemReportsNotFound(t *testing.T) {
	c, _, _ := newCart(t)
	_, found, err := c.UpdateItem(context.Background(), "ghost", cart.ItemChanges{Quantity: 1})
	require.NoError(t, err)
	require.False(t, found)
}

func TestRemoveMissingItemIsNoOp(t *testing.T) {
	c, _, notifier := newCart(t)
	require.NoError(t, c.RemoveItem(context.Background(), "ghost"))
	require.Empty(t, notifier.topics)
}

func TestRemoveConditionReportsMissing(t *testing.T) {
	c, _, _ := newCart(t)
	ctx := context.Background()
	require.NoError(t, c.AddCondition(ctx, cartCond(t, "promo", "-10", condition.TargetSubtotal)))

	removed, err := c.RemoveCondition(ctx, "promo")
	require.NoError(t, err)
	require.True(t, removed)

	removed, err = c.RemoveCondition(ctx, "promo")
	require.NoError(t, err)
	require.False(t, removed)
}

func TestAddConditionRejectsItemScope(t *testing.T) {
	c, _, _ := newCart(t)
	err := c.AddCondition(context.Background(), cartCond(t, "sale", "-10", condition.TargetItem))
	require.True(t, common.IsValidation(err))
}

func TestItemConditionLifecycle(t *testing.T) {
	c, _, _ := newCart(t)
	ctx := context.Background()
	addItem(t, c, "sku-1", "100", 1)

	ok, err := c.AddItemCondition(ctx, "sku-1", cartCond(t, "sale", "-10%", condition.TargetItem))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "90", c.Subtotal().String())

	ok, err = c.AddItemCondition(ctx, "ghost", cartCond(t, "sale", "-10%", condition.TargetItem))
	require.NoError(t, err)
	require.False(t, ok)

	removed, err := c.RemoveItemCondition(ctx, "sku-1", "sale")
	require.NoError(t, err)
	require.True(t, removed)
	require.Equal(t, "100", c.Subtotal().String())

	removed, err = c.RemoveItemCondition(ctx, "sku-1", "sale")
	require.NoError(t, err)
	require.False(t, removed)
}

func TestClearIsIdempotent(t *testing.T) {
	c, _, _ := newCart(t)
	ctx := context.Background()
	addItem(t, c, "sku-1", "10", 1)
	require.NoError(t, c.AddCondition(ctx, cartCond(t, "promo", "-10", condition.TargetSubtotal)))

	require.NoError(t, c.Clear(ctx))
	require.True(t, c.IsEmpty())
	require.Equal(t, 0, c.Conditions().Len())
	first := c.Content()

	require.NoError(t, c.Clear(ctx))
	require.Equal(t, first, c.Content())
	require.True(t, c.Total().IsZero())
}

func TestStatePersistsAcrossLoads(t *testing.T) {
	c, backend, _ := newCart(t)
	ctx := context.Background()
	addItem(t, c, "sku-1", "25.50", 2)
	require.NoError(t, c.AddCondition(ctx, cartCond(t, "vat", "10%", condition.TargetSubtotal)))

	reloaded, err := cart.Load(ctx, cart.Config{Backend: backend}, "sess-1", "default")
	require.NoError(t, err)
	require.Equal(t, 1, reloaded.Count())
	require.True(t, c.Subtotal().Equal(reloaded.Subtotal()))
	require.True(t, c.Total().Equal(reloaded.Total()))
}

func TestTiedOrderConditionsSurviveReload(t *testing.T) {
	c, backend, _ := newCart(t)
	ctx := context.Background()
	addItem(t, c, "sku-1", "100", 1)

	// Equal order, non-commuting, and the first-added name sorts last:
	// 100 -> 50 -> 40 live, and 40 again after every reload path.
	require.NoError(t, c.AddCondition(ctx, cartCond(t, "b-half", "-50%", condition.TargetSubtotal)))
	require.NoError(t, c.AddCondition(ctx, cartCond(t, "a-ten", "-10", condition.TargetSubtotal)))
	require.Equal(t, "40", c.Total().String())

	reloaded, err := cart.Load(ctx, cart.Config{Backend: backend}, "sess-1", "default")
	require.NoError(t, err)
	require.Equal(t, "40", reloaded.Total().String())

	fresh := memstore.New(memstore.Config{})
	require.NoError(t, cart.Restore(ctx, fresh, "user-9", "default", c.Content()))
	restored, err := cart.Load(ctx, cart.Config{Backend: fresh}, "user-9", "default")
	require.NoError(t, err)
	require.Equal(t, "40", restored.Total().String())
}

func TestContentRoundTrip(t *testing.T) {
	c, _, _ := newCart(t)
	ctx := context.Background()
	addItem(t, c, "sku-1", "100", 2)
	sale := cartCond(t, "sale", "-25%", condition.TargetItem)
	_, err := c.AddItemCondition(ctx, "sku-1", sale)
	require.NoError(t, err)
	require.NoError(t, c.AddCondition(ctx, cartCond(t, "promo", "-10", condition.TargetSubtotal)))
	require.NoError(t, c.AddCondition(ctx, cartCond(t, "fee", "+5", condition.TargetTotal)))

	snapshot := c.Content()
	require.Equal(t, 1, snapshot.Count)
	require.Equal(t, 2, snapshot.Quantity)

	fresh := memstore.New(memstore.Config{})
	require.NoError(t, cart.Restore(ctx, fresh, "user-9", "default", snapshot))
	rebuilt, err := cart.Load(ctx, cart.Config{Backend: fresh}, "user-9", "default")
	require.NoError(t, err)

	require.True(t, snapshot.Subtotal.Equal(rebuilt.Subtotal()), "subtotal %s vs %s", snapshot.Subtotal, rebuilt.Subtotal())
	require.True(t, snapshot.Total.Equal(rebuilt.Total()), "total %s vs %s", snapshot.Total, rebuilt.Total())
}

func TestMutationsEmitEvents(t *testing.T) {
	c, _, notifier := newCart(t)
	ctx := context.Background()
	addItem(t, c, "sku-1", "10", 1)
	require.NoError(t, c.AddCondition(ctx, cartCond(t, "promo", "-10", condition.TargetSubtotal)))
	_, err := c.RemoveCondition(ctx, "promo")
	require.NoError(t, err)
	require.NoError(t, c.RemoveItem(ctx, "sku-1"))
	require.NoError(t, c.Clear(ctx))

	require.Equal(t, []string{
		events.TopicItemAdded,
		events.TopicConditionAdded,
		events.TopicConditionRemoved,
		events.TopicItemRemoved,
		events.TopicCartCleared,
	}, notifier.topics)
}

func TestCartWorksWithoutObserver(t *testing.T) {
	backend := memstore.New(memstore.Config{})
	c, err := cart.Load(context.Background(), cart.Config{Backend: backend}, "sess-1", "default")
	require.NoError(t, err)
	addItem(t, c, "sku-1", "10", 1)
	require.Equal(t, "10", c.Total().String())
}
