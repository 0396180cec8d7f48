// MCP transport handler using the official MCP Go SDK.
// Exposes operator tools: store connection checks, split previews and record
// lookups. None of them changes platform or ledger state.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"order-splitter/internal/model"
	"order-splitter/internal/notify"
	"order-splitter/internal/reconcile"
)

// === MCP Tool Input/Output Types ===

// TestStoreConnectionInput is the input schema for test_store_connection.
type TestStoreConnectionInput struct {
	StoreID string `json:"store_id" jsonschema:"configured ShipStation store ID"`
}

// TestStoreConnectionOutput reports whether the store's credentials work.
type TestStoreConnectionOutput struct {
	StoreID  string `json:"store_id"`
	OK       bool   `json:"ok"`
	Response string `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`
}

// PreviewSplitInput is the input schema for preview_split. Patterns come from
// sku_patterns when given, otherwise from the store. The order comes from
// order_json when given, otherwise from skus.
type PreviewSplitInput struct {
	StoreID     string   `json:"store_id,omitempty" jsonschema:"configured store whose patterns and name to use"`
	SKUPatterns []string `json:"sku_patterns,omitempty" jsonschema:"patterns overriding the store's"`
	SKUs        []string `json:"skus,omitempty" jsonschema:"item SKUs of a synthetic order"`
	OrderJSON   string   `json:"order_json,omitempty" jsonschema:"a ShipStation order document as JSON text"`
}

// PreviewSplitOutput is the split and decision for the previewed order.
type PreviewSplitOutput struct {
	Patterns    []string `json:"patterns,omitempty"`
	Action      string   `json:"action"`
	RevisedSKUs []string `json:"revised_skus,omitempty"`
	SpecialSKUs []string `json:"special_skus,omitempty"`
	Notify      bool     `json:"notify"`
	Recipient   string   `json:"recipient,omitempty"`
	Subject     string   `json:"subject,omitempty"`
	Body        string   `json:"body,omitempty"`
}

// GetBatchRecordInput is the input schema for get_batch_record.
type GetBatchRecordInput struct {
	ID      string `json:"id,omitempty" jsonschema:"batch record ID"`
	BatchID string `json:"batch_id,omitempty" jsonschema:"ShipStation importBatch value"`
}

// GetBatchRecordOutput is a batch record and the orders taken from it.
type GetBatchRecordOutput struct {
	Batch  model.BatchRecord   `json:"batch"`
	Orders []model.OrderRecord `json:"orders,omitempty"`
}

// GetOrderRecordInput is the input schema for get_order_record.
type GetOrderRecordInput struct {
	ID      string `json:"id,omitempty" jsonschema:"order record ID"`
	OrderID string `json:"order_id,omitempty" jsonschema:"ShipStation orderId"`
}

// GetOrderRecordOutput wraps one order record.
type GetOrderRecordOutput struct {
	Order model.OrderRecord `json:"order"`
}

// NewMCPServer creates an MCP server with the operator tools registered.
func (h *Handler) NewMCPServer() *mcp.Server {
	server := mcp.NewServer(
		&mcp.Implementation{
			Name:    "order-splitter",
			Version: "1.0.0",
		},
		&mcp.ServerOptions{
			Instructions: "ShipStation order splitter operator tools. " +
				"Check store credentials, preview how an order would be split, and inspect batch and order records.",
		},
	)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "test_store_connection",
		Description: "Check a configured store's API key and secret against ShipStation.",
	}, h.mcpTestStoreConnection)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "preview_split",
		Description: "Show how an order's items would be split and what would happen to the order. No side effects.",
	}, h.mcpPreviewSplit)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_batch_record",
		Description: "Get a batch record by record ID or importBatch, with its order records.",
	}, h.mcpGetBatchRecord)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_order_record",
		Description: "Get an order record by record ID or ShipStation orderId.",
	}, h.mcpGetOrderRecord)

	return server
}

// NewMCPHandler returns an HTTP handler for the MCP endpoint.
// Mount this at /mcp on your mux.
func (h *Handler) NewMCPHandler() http.Handler {
	server := h.NewMCPServer()
	return mcp.NewStreamableHTTPHandler(
		func(r *http.Request) *mcp.Server { return server },
		nil,
	)
}

// === Tool Handlers ===

func (h *Handler) mcpTestStoreConnection(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input TestStoreConnectionInput,
) (*mcp.CallToolResult, *TestStoreConnectionOutput, error) {
	if input.StoreID == "" {
		return nil, nil, fmt.Errorf("store_id is required")
	}

	storeCfg, err := h.stores.Get(input.StoreID)
	if err != nil {
		return nil, nil, h.mcpError(err)
	}

	out := &TestStoreConnectionOutput{StoreID: input.StoreID}
	body, err := h.client.TestConnection(ctx, storeCfg)
	out.Response = body
	if err != nil {
		out.Error = err.Error()
		return nil, out, nil
	}
	out.OK = true
	return nil, out, nil
}

func (h *Handler) mcpPreviewSplit(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input PreviewSplitInput,
) (*mcp.CallToolResult, *PreviewSplitOutput, error) {
	var storeCfg model.StoreConfig
	if input.StoreID != "" {
		cfg, err := h.stores.Get(input.StoreID)
		if err != nil {
			return nil, nil, h.mcpError(err)
		}
		storeCfg = cfg
	}
	if len(input.SKUPatterns) > 0 {
		storeCfg.SKUPatterns = input.SKUPatterns
	}

	var order model.Order
	switch {
	case input.OrderJSON != "":
		if err := json.Unmarshal([]byte(input.OrderJSON), &order); err != nil {
			return nil, nil, fmt.Errorf("order_json is not a valid order: %v", err)
		}
	case len(input.SKUs) > 0:
		for _, sku := range input.SKUs {
			order.Items = append(order.Items, model.OrderItem{SKU: sku, Quantity: 1})
		}
	default:
		return nil, nil, fmt.Errorf("order_json or skus is required")
	}

	split, decision := reconcile.Plan(reconcile.SubstringMatcher, order, storeCfg.SKUPatterns)

	out := &PreviewSplitOutput{
		Patterns:    storeCfg.SKUPatterns,
		Action:      string(decision.Action),
		RevisedSKUs: skuList(split.RevisedItems),
		SpecialSKUs: skuList(split.SpecialItems),
		Notify:      decision.Notify,
	}
	if decision.Notify {
		msg := notify.Compose(decision.SpecialItems, order, storeCfg)
		out.Recipient = msg.Recipient
		out.Subject = msg.Subject
		out.Body = msg.Body
	}
	return nil, out, nil
}

func (h *Handler) mcpGetBatchRecord(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input GetBatchRecordInput,
) (*mcp.CallToolResult, *GetBatchRecordOutput, error) {
	var (
		rec model.BatchRecord
		err error
	)
	switch {
	case input.ID != "":
		rec, err = h.records.GetBatch(ctx, input.ID)
	case input.BatchID != "":
		rec, err = h.records.FindBatch(ctx, input.BatchID)
	default:
		return nil, nil, fmt.Errorf("id or batch_id is required")
	}
	if err != nil {
		return nil, nil, h.mcpError(err)
	}

	orders, err := h.records.ListOrders(ctx, rec.ID)
	if err != nil {
		return nil, nil, h.mcpError(err)
	}

	return nil, &GetBatchRecordOutput{Batch: rec, Orders: orders}, nil
}

func (h *Handler) mcpGetOrderRecord(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input GetOrderRecordInput,
) (*mcp.CallToolResult, *GetOrderRecordOutput, error) {
	var (
		rec model.OrderRecord
		err error
	)
	switch {
	case input.ID != "":
		rec, err = h.records.GetOrder(ctx, input.ID)
	case input.OrderID != "":
		rec, err = h.records.FindOrder(ctx, input.OrderID)
	default:
		return nil, nil, fmt.Errorf("id or order_id is required")
	}
	if err != nil {
		return nil, nil, h.mcpError(err)
	}

	return nil, &GetOrderRecordOutput{Order: rec}, nil
}

// mcpError turns err into the tool error text. Internal causes are logged,
// not returned.
func (h *Handler) mcpError(err error) error {
	apiErr := model.AsAPIError(err)
	if apiErr.Code == model.CodeInternal {
		h.logger.Error("mcp internal error", slog.String("error", err.Error()))
	}
	return fmt.Errorf("%s: %s", apiErr.Code, apiErr.Message)
}

func skuList(items []model.OrderItem) []string {
	if len(items) == 0 {
		return nil
	}
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.SKU
	}
	return out
}
