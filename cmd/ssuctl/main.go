// ssuctl is a CLI tool for exercising the order splitter by hand.
// Each command performs a single operation, making it composable for scripts.
//
// Commands:
//
//	ssuctl webhook -server URL -store ID -batch ID [-type ORDER_NOTIFY]
//	ssuctl split -patterns "DOD|XYZ" (-sku SKU ... | -order FILE)
//	ssuctl test-connection -stores FILE -store ID
//
// Examples:
//
//	ssuctl webhook -server http://localhost:8080 -store 123 -batch b-1
//	ssuctl split -patterns "DOD|XYZ" -sku DOD-1 -sku PLAIN-2
//	ssuctl test-connection -stores stores.yaml -store 123
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"order-splitter/internal/config"
	"order-splitter/internal/handler"
	"order-splitter/internal/model"
	"order-splitter/internal/notify"
	"order-splitter/internal/reconcile"
	"order-splitter/internal/shipstation"
	"order-splitter/internal/transport"
)

var client = &http.Client{Timeout: 30 * time.Second}

// Global flags (apply to all commands)
var (
	quiet   bool
	noColor bool
	verbose bool
)

// ANSI color codes
var (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
	colorBold   = "\033[1m"
)

func init() {
	if os.Getenv("NO_COLOR") != "" {
		disableColors()
	}
}

func disableColors() {
	colorReset, colorRed, colorGreen, colorYellow = "", "", "", ""
	colorCyan, colorGray, colorBold = "", "", ""
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "webhook":
		runWebhook(args)
	case "split":
		runSplit(args)
	case "test-connection":
		runTestConnection(args)
	case "-h", "-help", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `ssuctl - order splitter tool

Usage:
  ssuctl <command> [options]

Commands:
  webhook          Send an ORDER_NOTIFY webhook to a running server
  split            Show how an order's items would be split, offline
  test-connection  Check a store's ShipStation credentials

Examples:
  # Replay a batch notification
  ssuctl webhook -server http://localhost:8080 -store 123 -batch b-1

  # Preview a split from SKUs
  ssuctl split -patterns "DOD|XYZ" -sku DOD-1 -sku PLAIN-2

  # Preview a split from a saved order document
  ssuctl split -patterns "DOD" -order order.json

  # Check credentials from a stores file
  ssuctl test-connection -stores stores.yaml -store 123

Run 'ssuctl <command> -h' for command-specific options.
`)
}

// stringList collects a repeatable string flag.
type stringList []string

func (l *stringList) String() string { return strings.Join(*l, ",") }

func (l *stringList) Set(v string) error {
	*l = append(*l, v)
	return nil
}

func commonFlags(fs *flag.FlagSet) {
	fs.BoolVar(&quiet, "q", false, "Quiet mode - only output the result")
	fs.BoolVar(&noColor, "no-color", false, "Disable colored output")
	fs.BoolVar(&verbose, "v", false, "Verbose - show full request/response")
}

// =============================================================================
// WEBHOOK
// =============================================================================

func runWebhook(args []string) {
	fs := flag.NewFlagSet("webhook", flag.ExitOnError)
	var serverURL, storeID, batchID, resourceType, apiBase string
	fs.StringVar(&serverURL, "server", "http://localhost:8080", "Order splitter base URL")
	fs.StringVar(&storeID, "store", "", "ShipStation store ID (required)")
	fs.StringVar(&batchID, "batch", "", "Import batch ID (required)")
	fs.StringVar(&resourceType, "type", string(model.ResourceOrderNotify), "Webhook resource_type")
	fs.StringVar(&apiBase, "api", config.DefaultShipStationBaseURL, "ShipStation API base used in resource_url")
	commonFlags(fs)

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: ssuctl webhook -store ID -batch ID [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}
	fs.Parse(args)

	if noColor {
		disableColors()
	}

	if storeID == "" || batchID == "" {
		fs.Usage()
		os.Exit(1)
	}

	q := url.Values{}
	q.Set("storeID", storeID)
	q.Set("importBatch", batchID)
	notification := model.WebhookNotification{
		ResourceURL:  strings.TrimSuffix(apiBase, "/") + "/orders?" + q.Encode(),
		ResourceType: model.ResourceType(resourceType),
	}

	body, err := json.MarshalIndent(notification, "", "  ")
	if err != nil {
		fatal("Failed to encode notification: %v", err)
	}

	req, err := http.NewRequest("POST", strings.TrimSuffix(serverURL, "/")+"/webhooks/shipstation", bytes.NewReader(body))
	if err != nil {
		fatal("Failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if !quiet {
		printRequest("POST", "/webhooks/shipstation", body)
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		fatal("Request failed: %v", err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		fatal("Failed to read response: %v", err)
	}

	if !quiet {
		printResponse(resp.StatusCode, respBody, time.Since(start))
	}

	result, err := handler.ParseIngestResult(resp.Header.Get(handler.IngestResultHeader))
	if err != nil {
		fatal("HTTP %d without a usable %s header: %v", resp.StatusCode, handler.IngestResultHeader, err)
	}

	if quiet {
		fmt.Println(result.Status)
		return
	}
	if resp.StatusCode >= 400 {
		printError("Webhook %s (HTTP %d)", result.Status, resp.StatusCode)
		os.Exit(1)
	}
	printSuccess("Webhook %s", result.Status)
	if result.BatchRecordID != "" {
		fmt.Printf("  Batch record: %s%s%s\n", colorCyan, result.BatchRecordID, colorReset)
	}
}

// =============================================================================
// SPLIT
// =============================================================================

func runSplit(args []string) {
	fs := flag.NewFlagSet("split", flag.ExitOnError)
	var patterns, orderFile, storeName, email string
	var skus stringList
	fs.StringVar(&patterns, "patterns", "", "Pipe-delimited SKU patterns, e.g. \"DOD|XYZ\"")
	fs.Var(&skus, "sku", "Item SKU of a synthetic order (repeatable)")
	fs.StringVar(&orderFile, "order", "", "Path to a ShipStation order JSON document")
	fs.StringVar(&storeName, "store-name", "Store", "Store name used in the notice")
	fs.StringVar(&email, "email", "", "Notification recipient used in the notice")
	commonFlags(fs)

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: ssuctl split -patterns P (-sku SKU ... | -order FILE) [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}
	fs.Parse(args)

	if noColor {
		disableColors()
	}

	var order model.Order
	switch {
	case orderFile != "":
		data, err := os.ReadFile(orderFile)
		if err != nil {
			fatal("Failed to read order: %v", err)
		}
		if err := json.Unmarshal(data, &order); err != nil {
			fatal("Failed to parse order: %v", err)
		}
	case len(skus) > 0:
		order.OrderNumber = "preview"
		for _, sku := range skus {
			order.Items = append(order.Items, model.OrderItem{SKU: sku, Quantity: 1})
		}
	default:
		fs.Usage()
		os.Exit(1)
	}

	storeCfg := model.StoreConfig{
		SKUPatterns:       config.SplitPatterns(patterns),
		StoreName:         storeName,
		NotificationEmail: email,
	}
	split, decision := reconcile.Plan(reconcile.SubstringMatcher, order, storeCfg.SKUPatterns)

	if quiet {
		fmt.Println(decision.Action)
		return
	}

	printInfo("Patterns: %s", strings.Join(storeCfg.SKUPatterns, ", "))
	fmt.Printf("  Action: %s%s%s\n", colorBold, decision.Action, colorReset)
	printItems("Revised", colorGreen, split.RevisedItems)
	printItems("Special", colorYellow, split.SpecialItems)

	if decision.Notify {
		msg := notify.Compose(decision.SpecialItems, order, storeCfg)
		fmt.Printf("\n%s✉ NOTICE%s to %q\n", colorCyan, colorReset, msg.Recipient)
		fmt.Printf("  Subject: %s\n\n", msg.Subject)
		for _, line := range strings.Split(strings.TrimRight(msg.Body, "\n"), "\n") {
			fmt.Printf("  %s\n", line)
		}
	} else {
		printInfo("No notice")
	}
}

func printItems(label, color string, items []model.OrderItem) {
	fmt.Printf("  %s%s (%d):%s\n", color, label, len(items), colorReset)
	for _, it := range items {
		fmt.Printf("    - %s x%d %s%s%s\n", it.SKU, it.Quantity, colorGray, it.Name, colorReset)
	}
}

// =============================================================================
// TEST CONNECTION
// =============================================================================

func runTestConnection(args []string) {
	fs := flag.NewFlagSet("test-connection", flag.ExitOnError)
	var storesFile, storeID, baseURL, transportKind string
	var timeout time.Duration
	fs.StringVar(&storesFile, "stores", os.Getenv("STORES_FILE"), "Stores file (.json, .yaml or .yml)")
	fs.StringVar(&storeID, "store", "", "Store ID to check (required)")
	fs.StringVar(&baseURL, "base-url", config.DefaultShipStationBaseURL, "ShipStation API base URL")
	fs.StringVar(&transportKind, "transport", "default", "Upstream transport (default or chrome)")
	fs.DurationVar(&timeout, "timeout", 30*time.Second, "Request timeout")
	commonFlags(fs)

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: ssuctl test-connection -stores FILE -store ID [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}
	fs.Parse(args)

	if noColor {
		disableColors()
	}

	if storesFile == "" || storeID == "" {
		fs.Usage()
		os.Exit(1)
	}

	data, err := os.ReadFile(storesFile)
	if err != nil {
		fatal("Failed to read stores file: %v", err)
	}
	stores, err := config.ParseStores(data, config.FormatFromPath(storesFile))
	if err != nil {
		fatal("Failed to parse stores file: %v", err)
	}
	registry, err := config.NewRegistry(stores)
	if err != nil {
		fatal("Invalid stores file: %v", err)
	}
	storeCfg, err := registry.Get(storeID)
	if err != nil {
		fatal("%v", err)
	}

	rt, err := transport.New(transport.Kind(transportKind), timeout)
	if err != nil {
		fatal("Failed to create transport: %v", err)
	}
	ss, err := shipstation.New(shipstation.Config{BaseURL: baseURL, Transport: rt, Timeout: timeout})
	if err != nil {
		fatal("Failed to create client: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	start := time.Now()
	body, err := ss.TestConnection(ctx, storeCfg)
	if err != nil {
		if quiet {
			fmt.Println("failed")
		}
		fatal("Connection failed for store %s: %v", storeID, err)
	}

	if quiet {
		fmt.Println("ok")
		return
	}
	printResponse(http.StatusOK, []byte(body), time.Since(start))
	printSuccess("Credentials for store %s are valid", storeID)
}

// =============================================================================
// OUTPUT HELPERS
// =============================================================================

func printRequest(method, path string, body []byte) {
	fmt.Printf("\n%s▶ REQUEST%s %s%s %s%s\n", colorYellow, colorReset, colorBold, method, path, colorReset)
	if body != nil {
		printJSON(body, "  ")
	}
}

func printResponse(status int, body []byte, duration time.Duration) {
	statusColor := colorGreen
	if status >= 400 {
		statusColor = colorRed
	}
	fmt.Printf("\n%s◀ RESPONSE%s %s%d%s (%v)\n", colorCyan, colorReset, statusColor, status, colorReset, duration.Round(time.Millisecond))
	printJSON(body, "  ")
}

func printJSON(data []byte, prefix string) {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, prefix, "  "); err != nil {
		fmt.Printf("%s%s\n", prefix, string(data))
		return
	}

	output := pretty.String()
	if !verbose {
		lines := strings.Split(output, "\n")
		if len(lines) > 30 {
			lines = append(lines[:25], fmt.Sprintf("%s  %s(%d more lines, use -v for full output)%s", prefix, colorGray, len(lines)-25, colorReset))
			output = strings.Join(lines, "\n")
		}
	}
	fmt.Println(output)
}

func printSuccess(format string, args ...any) {
	if !quiet {
		fmt.Printf("%s✓ %s%s\n", colorGreen, fmt.Sprintf(format, args...), colorReset)
	}
}

func printError(format string, args ...any) {
	fmt.Printf("%s✗ %s%s\n", colorRed, fmt.Sprintf(format, args...), colorReset)
}

func printInfo(format string, args ...any) {
	if !quiet {
		fmt.Printf("%s→ %s%s\n", colorGray, fmt.Sprintf(format, args...), colorReset)
	}
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "%s✗ %s%s\n", colorRed, fmt.Sprintf(format, args...), colorReset)
	os.Exit(1)
}
