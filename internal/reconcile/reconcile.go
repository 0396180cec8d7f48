// Package reconcile splits an order's items into normal and special groups and
// decides what to do with the order on the platform.
//
// Split and Decide are pure. The caller computes one SplitResult per order and
// derives both the platform action and the notify decision from it, so the two
// can never disagree about which items were special.
package reconcile

import (
	"strings"

	"order-splitter/internal/model"
)

// Matcher reports whether a SKU matches one configured pattern.
type Matcher interface {
	Matches(sku, pattern string) bool
}

// MatcherFunc adapts a plain function to Matcher.
type MatcherFunc func(sku, pattern string) bool

func (f MatcherFunc) Matches(sku, pattern string) bool { return f(sku, pattern) }

// SubstringMatcher is the default rule: case-sensitive substring containment.
// An empty pattern never matches.
var SubstringMatcher Matcher = MatcherFunc(func(sku, pattern string) bool {
	return pattern != "" && strings.Contains(sku, pattern)
})

// SplitResult partitions an order's items. Every input item lands in exactly
// one of the two slices and relative order is preserved within each.
type SplitResult struct {
	RevisedItems []model.OrderItem
	SpecialItems []model.OrderItem
}

// HasSpecial reports whether any item matched a pattern.
func (r SplitResult) HasSpecial() bool {
	return len(r.SpecialItems) > 0
}

// Split partitions items with SubstringMatcher.
func Split(items []model.OrderItem, patterns []string) SplitResult {
	return SplitWith(SubstringMatcher, items, patterns)
}

// SplitWith partitions items using m. An item is special iff its SKU matches at
// least one pattern; checking stops at the first match. With no patterns every
// item is revised.
func SplitWith(m Matcher, items []model.OrderItem, patterns []string) SplitResult {
	result := SplitResult{
		RevisedItems: make([]model.OrderItem, 0, len(items)),
	}

	for _, item := range items {
		if isSpecial(m, item.SKU, patterns) {
			result.SpecialItems = append(result.SpecialItems, item)
		} else {
			result.RevisedItems = append(result.RevisedItems, item)
		}
	}

	return result
}

func isSpecial(m Matcher, sku string, patterns []string) bool {
	for _, p := range patterns {
		if m.Matches(sku, p) {
			return true
		}
	}
	return false
}

// Action is what happens to the order on the platform.
type Action string

const (
	ActionNoOp   Action = "no-op"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Decision is the full reconciliation plan for one order.
type Decision struct {
	Action Action

	// Items is the replacement item list for ActionUpdate, nil otherwise.
	Items []model.OrderItem

	// Notify is set iff the split found special items. It is independent of
	// Action: it can accompany update or delete but never no-op.
	Notify       bool
	SpecialItems []model.OrderItem
}

// Decide maps a split of an order with originalCount items to a Decision:
//
//	revised == originalCount       → no-op
//	no revised items               → delete
//	0 < revised < originalCount    → update with revised items only
//
// The no-op check comes first so an order with no items is left alone.
func Decide(result SplitResult, originalCount int) Decision {
	d := Decision{
		Notify:       result.HasSpecial(),
		SpecialItems: result.SpecialItems,
	}

	switch n := len(result.RevisedItems); {
	case n == originalCount:
		d.Action = ActionNoOp
	case n == 0:
		d.Action = ActionDelete
	default:
		d.Action = ActionUpdate
		d.Items = result.RevisedItems
	}

	return d
}

// Plan splits the order's items and decides in one step.
func Plan(m Matcher, order model.Order, patterns []string) (SplitResult, Decision) {
	result := SplitWith(m, order.Items, patterns)
	return result, Decide(result, len(order.Items))
}
