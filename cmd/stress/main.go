// cmd/stress/main.go

// Command stress fires concurrent order placements at a running inventoryd
// and checks that stock never oversells. The service must already hold an
// inventory row for the given item; the tool reports how many placements
// won, how many were turned away, and whether the final on-hand quantity
// matches the winners.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "inventoryd base URL")
	itemID := flag.String("item", "", "inventory item id to contend on")
	workers := flag.Int("workers", 100, "concurrent placements")
	quantity := flag.Int("quantity", 1, "units per placement")
	flag.Parse()

	if *itemID == "" {
		flag.Usage()
		os.Exit(2)
	}
	item, err := uuid.Parse(*itemID)
	if err != nil {
		log.Fatalf("invalid item id: %v", err)
	}

	before, err := fetchQuantity(*baseURL, item)
	if err != nil {
		log.Fatalf("read starting quantity: %v", err)
	}
	log.Printf("starting quantity: %d, firing %d x %d", before, *workers, *quantity)

	client := &http.Client{Timeout: 10 * time.Second}
	var wg sync.WaitGroup
	results := make(chan int, *workers)

	start := time.Now()
	for i := 0; i < *workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			status, err := placeOrder(client, *baseURL, item, *quantity)
			if err != nil {
				log.Printf("placement failed: %v", err)
				results <- 0
				return
			}
			results <- status
		}()
	}
	wg.Wait()
	close(results)
	elapsed := time.Since(start)

	counts := make(map[int]int)
	for status := range results {
		counts[status]++
	}

	after, err := fetchQuantity(*baseURL, item)
	if err != nil {
		log.Fatalf("read final quantity: %v", err)
	}

	won := counts[http.StatusCreated]
	log.Printf("done in %s: created=%d conflict=%d unavailable=%d other=%d",
		elapsed, won, counts[http.StatusConflict], counts[http.StatusServiceUnavailable],
		*workers-won-counts[http.StatusConflict]-counts[http.StatusServiceUnavailable])
	log.Printf("quantity: %d -> %d", before, after)

	expected := before - won*(*quantity)
	if after != expected {
		log.Fatalf("LEDGER DRIFT: expected %d on hand, found %d", expected, after)
	}
	if after < 0 {
		log.Fatalf("OVERSOLD: quantity %d is negative", after)
	}
	log.Printf("consistent: %d winners account for every deducted unit", won)
}

func placeOrder(client *http.Client, baseURL string, item uuid.UUID, quantity int) (int, error) {
	body, err := json.Marshal(map[string]interface{}{
		"client_id": uuid.New(),
		"item_id":   item,
		"quantity":  quantity,
	})
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequest(http.MethodPost, baseURL+"/api/v1/orders", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor", "stress")
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

func fetchQuantity(baseURL string, item uuid.UUID) (int, error) {
	resp, err := http.Get(fmt.Sprintf("%s/api/v1/inventory/%s/quantity", baseURL, item))
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var out struct {
		Quantity int `json:"quantity"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, err
	}
	return out.Quantity, nil
}
