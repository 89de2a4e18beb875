package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	initialStock  = 20
	totalRequests = 50
)

type productResponse struct {
	ID       int64 `json:"id"`
	Quantity int64 `json:"quantity"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type ledgerReport struct {
	StoredQuantity   int64  `json:"stored_quantity"`
	ReplayedQuantity int64  `json:"replayed_quantity"`
	TransactionCount int    `json:"transaction_count"`
	Consistent       bool   `json:"consistent"`
	Problem          string `json:"problem"`
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "inventory service base URL")
	flag.Parse()

	client := &http.Client{Timeout: 10 * time.Second}

	// Create a product holding the initial stock
	sku := stressSKU()
	var product productResponse
	status, err := postJSON(client, *baseURL+"/api/products", map[string]any{
		"name":     "Stress test item",
		"sku":      sku,
		"price":    "1.00",
		"quantity": initialStock,
	}, &product)
	if err != nil || status != http.StatusCreated {
		log.Fatalf("failed to create product: status=%d err=%v", status, err)
	}

	issueURL := fmt.Sprintf("%s/api/products/%d/stock/out", *baseURL, product.ID)

	// Counters
	var successCount atomic.Int32
	var insufficientCount atomic.Int32
	var errorCount atomic.Int32

	// Spawn concurrent requests
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()

			var body errorResponse
			status, err := postJSON(client, issueURL, map[string]any{
				"quantity": 1,
				"notes":    fmt.Sprintf("stress order %d", n),
			}, &body)
			if err != nil {
				errorCount.Add(1)
				return
			}
			switch classify(status, body) {
			case outcomeSuccess:
				successCount.Add(1)
			case outcomeInsufficient:
				insufficientCount.Add(1)
			default:
				log.Printf("unexpected response: status=%d error=%q", status, body.Error)
				errorCount.Add(1)
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	// Results
	success := successCount.Load()
	insufficient := insufficientCount.Load()

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Product:          %d (%s)\n", product.ID, sku)
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Successful:       %d\n", success)
	fmt.Printf("Insufficient:     %d\n", insufficient)
	fmt.Printf("Errors:           %d\n", errorCount.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	// Assertions
	if success == initialStock && insufficient == totalRequests-initialStock && errorCount.Load() == 0 {
		fmt.Printf("PASS: Exactly %d issues succeeded, %d were rejected\n", initialStock, totalRequests-initialStock)
	} else {
		fmt.Printf("FAIL: Expected %d success/%d rejected, got %d/%d\n",
			initialStock, totalRequests-initialStock, success, insufficient)
	}

	// Verify the ledger replays to the stored quantity
	var report ledgerReport
	status, err = getJSON(client, fmt.Sprintf("%s/api/products/%d/ledger/verify", *baseURL, product.ID), &report)
	if err != nil || status != http.StatusOK {
		log.Fatalf("failed to verify ledger: status=%d err=%v", status, err)
	}
	fmt.Printf("Stored Quantity:  %d\n", report.StoredQuantity)
	fmt.Printf("Replayed:         %d over %d transactions\n", report.ReplayedQuantity, report.TransactionCount)

	if report.Consistent && report.StoredQuantity == 0 {
		fmt.Println("PASS: Stock depleted to 0 and ledger is consistent")
	} else {
		fmt.Printf("FAIL: consistent=%v stored=%d problem=%q\n", report.Consistent, report.StoredQuantity, report.Problem)
	}
}

// stressSKU returns a fresh SKU that satisfies the service's uppercase rule.
func stressSKU() string {
	return "STRESS-" + strings.ToUpper(uuid.NewString()[:8])
}

type outcome int

const (
	outcomeUnexpected outcome = iota
	outcomeSuccess
	outcomeInsufficient
)

// classify only counts a 400 as a rejection when the body says the stock ran
// out; any other 400 is a bug in the request.
func classify(status int, body errorResponse) outcome {
	switch {
	case status == http.StatusOK:
		return outcomeSuccess
	case status == http.StatusBadRequest && body.Error == "Insufficient stock":
		return outcomeInsufficient
	default:
		return outcomeUnexpected
	}
}

func postJSON(client *http.Client, url string, body any, out any) (int, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}
	resp, err := client.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

func getJSON(client *http.Client, url string, out any) (int, error) {
	resp, err := client.Get(url)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	return resp.StatusCode, json.NewDecoder(resp.Body).Decode(out)
}
