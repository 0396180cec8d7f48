package model

import "time"

// StoreConfig holds one store's credentials and split rules.
// SKUPatterns is already split from the pipe-delimited config string.
type StoreConfig struct {
	StoreID           string
	APIKey            string
	APISecret         string
	SKUPatterns       []string
	NotificationEmail string
	StoreName         string

	// APIBaseURL overrides the deployment-wide ShipStation base URL.
	APIBaseURL string
}

// BatchRecord is the ledger entry for one received import batch.
type BatchRecord struct {
	ID               string    `json:"id"`
	BatchID          string    `json:"batch_id"`
	StoreID          string    `json:"store_id"`
	RawNotification  string    `json:"raw_notification"`
	RawBatchResponse string    `json:"raw_batch_response"`
	CreatedAt        time.Time `json:"created_at"`
}

// OrderStatus is the terminal classification written to an order record.
type OrderStatus string

const (
	OrderStatusPending      OrderStatus = "pending"
	OrderStatusNoOp         OrderStatus = "no-op"
	OrderStatusUpdated      OrderStatus = "order updated"
	OrderStatusDeleted      OrderStatus = "order deleted"
	OrderStatusUpdateFailed OrderStatus = "order update failed"
	OrderStatusDeleteFailed OrderStatus = "order delete failed"
)

// emailSentSuffix is appended to a status when the notification was delivered.
const emailSentSuffix = " and email sent"

// WithEmailSent returns the status with the delivered-notification suffix.
func (s OrderStatus) WithEmailSent() OrderStatus {
	return s + emailSentSuffix
}

// OrderRecord is the ledger entry for one order taken from a batch.
type OrderRecord struct {
	ID                   string      `json:"id"`
	OrderID              string      `json:"order_id"`
	BatchRecordID        string      `json:"batch_record_id"`
	StoreID              string      `json:"store_id"`
	RawOrder             string      `json:"raw_order"`
	UpdatedOrderResponse string      `json:"updated_order_response,omitempty"`
	EmailContent         string      `json:"email_content,omitempty"`
	Status               OrderStatus `json:"status"`
	CreatedAt            time.Time   `json:"created_at"`
	UpdatedAt            time.Time   `json:"updated_at"`
}

// OrderResult is what reconciliation writes back onto a claimed order record.
type OrderResult struct {
	UpdatedOrderResponse string
	EmailContent         string
	Status               OrderStatus
}
