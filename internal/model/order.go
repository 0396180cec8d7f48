// Package model defines the order, webhook, store and record types shared by
// the ingest pipeline and the ShipStation client.
package model

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
)

// === Webhook ===

// ResourceType is the kind of event a ShipStation webhook reports.
type ResourceType string

// ResourceOrderNotify is the only resource type this service acts on.
// ITEM_ORDER_NOTIFY, SHIP_NOTIFY and ITEM_SHIP_NOTIFY are accepted and ignored.
const ResourceOrderNotify ResourceType = "ORDER_NOTIFY"

// WebhookNotification is the JSON body ShipStation POSTs to the webhook route.
//
//	{"resource_url": "https://ssapi.shipstation.com/orders?storeID=123456&importBatch=1ab23c4d-...",
//	 "resource_type": "ORDER_NOTIFY"}
type WebhookNotification struct {
	ResourceURL  string       `json:"resource_url"`
	ResourceType ResourceType `json:"resource_type"`
}

// BatchReference identifies one import batch for one store.
// BatchID is the idempotency key for batch-level dedup.
type BatchReference struct {
	BatchID     string
	StoreID     string
	ResourceURL string
}

// BatchReference parses importBatch and storeID from the resource URL query.
// Returns a validation error when the URL is missing, unparsable, not absolute,
// or lacks either parameter.
func (n WebhookNotification) BatchReference() (BatchReference, error) {
	if n.ResourceURL == "" {
		return BatchReference{}, NewValidationError("resource_url", "required")
	}

	u, err := url.Parse(n.ResourceURL)
	if err != nil {
		return BatchReference{}, NewValidationError("resource_url", "unparsable URL")
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return BatchReference{}, NewValidationError("resource_url", "must be an absolute http(s) URL")
	}

	q := u.Query()
	ref := BatchReference{
		BatchID:     q.Get("importBatch"),
		StoreID:     q.Get("storeID"),
		ResourceURL: n.ResourceURL,
	}
	if ref.BatchID == "" {
		return BatchReference{}, NewValidationError("resource_url", "missing importBatch")
	}
	if ref.StoreID == "" {
		return BatchReference{}, NewValidationError("resource_url", "missing storeID")
	}
	return ref, nil
}

// === Orders ===

// ExternalID is a ShipStation identifier. The API sends numeric IDs as JSON
// numbers; they are kept as strings here and written back as numbers.
type ExternalID string

func (id *ExternalID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ExternalID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("external id: %w", err)
	}
	*id = ExternalID(n.String())
	return nil
}

func (id ExternalID) MarshalJSON() ([]byte, error) {
	if id == "" {
		return []byte("null"), nil
	}
	// Only canonical integers go out bare; "007" or "+5" would be invalid JSON.
	if n, err := strconv.ParseInt(string(id), 10, 64); err == nil && strconv.FormatInt(n, 10) == string(id) {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

func (id ExternalID) String() string { return string(id) }

// Batch is the body returned by GET {resource_url}.
type Batch struct {
	Orders []Order `json:"orders"`
	Total  int     `json:"total"`
	Page   int     `json:"page"`
	Pages  int     `json:"pages"`
}

// Order is a ShipStation order. Only the fields the pipeline reads are typed;
// every other field is kept in Extra so that an upsert sends the order back
// with nothing but its item list changed.
type Order struct {
	OrderID         ExternalID      `json:"orderId"`
	OrderNumber     string          `json:"orderNumber"`
	ShipTo          Address         `json:"shipTo"`
	Items           []OrderItem     `json:"items"`
	AdvancedOptions AdvancedOptions `json:"advancedOptions"`

	Extra map[string]json.RawMessage `json:"-"`
}

var orderFields = []string{"orderId", "orderNumber", "shipTo", "items", "advancedOptions"}

func (o *Order) UnmarshalJSON(data []byte) error {
	type plain Order
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	extra, err := splitExtra(data, orderFields)
	if err != nil {
		return err
	}
	*o = Order(p)
	o.Extra = extra
	return nil
}

func (o Order) MarshalJSON() ([]byte, error) {
	type plain Order
	typed, err := json.Marshal(plain(o))
	if err != nil {
		return nil, err
	}
	return mergeExtra(typed, o.Extra)
}

// StoreID returns the store the order declares in advancedOptions.
func (o Order) StoreID() string {
	return o.AdvancedOptions.StoreID.String()
}

// WithItems returns a copy of the order whose item list is replaced.
// All other fields, including Extra, are shared with the original.
func (o Order) WithItems(items []OrderItem) Order {
	o.Items = items
	return o
}

// OrderItem is one line of an order.
type OrderItem struct {
	SKU      string       `json:"sku"`
	Name     string       `json:"name"`
	Quantity int          `json:"quantity"`
	Options  []ItemOption `json:"options"`

	Extra map[string]json.RawMessage `json:"-"`
}

var itemFields = []string{"sku", "name", "quantity", "options"}

func (i *OrderItem) UnmarshalJSON(data []byte) error {
	type plain OrderItem
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	extra, err := splitExtra(data, itemFields)
	if err != nil {
		return err
	}
	*i = OrderItem(p)
	i.Extra = extra
	return nil
}

func (i OrderItem) MarshalJSON() ([]byte, error) {
	type plain OrderItem
	typed, err := json.Marshal(plain(i))
	if err != nil {
		return nil, err
	}
	return mergeExtra(typed, i.Extra)
}

// ItemOption is a name/value personalization attached to an item.
type ItemOption struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Address is a ShipStation postal address.
type Address struct {
	Name       string `json:"name"`
	Street1    string `json:"street1"`
	Street2    string `json:"street2"`
	Street3    string `json:"street3"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
	Phone      string `json:"phone"`

	Extra map[string]json.RawMessage `json:"-"`
}

var addressFields = []string{"name", "street1", "street2", "street3", "city", "state", "postalCode", "country", "phone"}

func (a *Address) UnmarshalJSON(data []byte) error {
	type plain Address
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	extra, err := splitExtra(data, addressFields)
	if err != nil {
		return err
	}
	*a = Address(p)
	a.Extra = extra
	return nil
}

func (a Address) MarshalJSON() ([]byte, error) {
	type plain Address
	typed, err := json.Marshal(plain(a))
	if err != nil {
		return nil, err
	}
	return mergeExtra(typed, a.Extra)
}

// AdvancedOptions carries the declaring store ID; warehouse, custom fields and
// the rest ride along in Extra.
type AdvancedOptions struct {
	StoreID ExternalID `json:"storeId"`

	Extra map[string]json.RawMessage `json:"-"`
}

func (a *AdvancedOptions) UnmarshalJSON(data []byte) error {
	type plain AdvancedOptions
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	extra, err := splitExtra(data, []string{"storeId"})
	if err != nil {
		return err
	}
	*a = AdvancedOptions(p)
	a.Extra = extra
	return nil
}

func (a AdvancedOptions) MarshalJSON() ([]byte, error) {
	type plain AdvancedOptions
	typed, err := json.Marshal(plain(a))
	if err != nil {
		return nil, err
	}
	return mergeExtra(typed, a.Extra)
}

// splitExtra returns the members of a JSON object not named in known.
func splitExtra(data []byte, known []string) (map[string]json.RawMessage, error) {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	for _, k := range known {
		delete(all, k)
	}
	if len(all) == 0 {
		return nil, nil
	}
	return all, nil
}

// mergeExtra adds extra members to an encoded JSON object. Typed fields win.
func mergeExtra(typed []byte, extra map[string]json.RawMessage) ([]byte, error) {
	if len(extra) == 0 {
		return typed, nil
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(typed, &all); err != nil {
		return nil, err
	}
	for k, v := range extra {
		if _, ok := all[k]; !ok {
			all[k] = v
		}
	}
	return json.Marshal(all)
}
