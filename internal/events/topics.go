package events

// Topic constants for mutations emitted by the cart engine.
const (
	TopicItemAdded        = "cart.item_added"
	TopicItemUpdated      = "cart.item_updated"
	TopicItemRemoved      = "cart.item_removed"
	TopicConditionAdded   = "cart.condition_added"
	TopicConditionRemoved = "cart.condition_removed"
	TopicCartCleared      = "cart.cleared"
	TopicCartMerged       = "cart.merged"
	TopicCartTakenOver    = "cart.taken_over"
)
