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
	"sync/atomic"
	"time"
)

// Config holds the benchmark settings
var (
	targetURL      string
	concurrency    int
	rounds         int
	recipientToken string
	creatorToken   string
	recipientAddr  string
	escrowID       string
)

// Metrics
var (
	totalRequests uint64
	success200    uint64 // Released
	fail409       uint64 // Lost the claim
	failOther     uint64
	escrowsRun    uint64
	doubleRelease uint64 // more than one 200 for one escrow
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Concurrent release attempts per escrow")
	flag.IntVar(&rounds, "rounds", 1, "Escrows to create and race (needs -creator-token and -recipient)")
	flag.StringVar(&recipientToken, "token", os.Getenv("RECIPIENT_TOKEN"), "Bearer token of the recipient")
	flag.StringVar(&creatorToken, "creator-token", os.Getenv("CREATOR_TOKEN"), "Bearer token of the creator")
	flag.StringVar(&recipientAddr, "recipient", "", "Recipient public key for created escrows")
	flag.StringVar(&escrowID, "escrow", "", "Race a single existing escrow instead of creating them")
}

func main() {
	flag.Parse()
	if recipientToken == "" {
		log.Fatal("-token is required")
	}
	client := &http.Client{Timeout: 60 * time.Second}

	ids := []string{escrowID}
	if escrowID == "" {
		if creatorToken == "" || recipientAddr == "" {
			log.Fatal("either -escrow or both -creator-token and -recipient are required")
		}
		ids = ids[:0]
		for i := 0; i < rounds; i++ {
			id, err := createEscrow(client, i)
			if err != nil {
				log.Fatalf("create escrow: %v", err)
			}
			ids = append(ids, id)
		}
	}
	log.Printf("Starting Benchmark: %d escrows | Workers: %d", len(ids), concurrency)

	start := time.Now()
	for _, id := range ids {
		race(client, id)
	}
	printResults(time.Since(start))
}

func createEscrow(client *http.Client, n int) (string, error) {
	payload := map[string]any{
		"recipient_address": recipientAddr,
		"amount":            "1",
		"deadline":          time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
	}
	body, _ := json.Marshal(payload)
	req, _ := http.NewRequest("POST", targetURL+"/api/v1/escrows", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+creatorToken)
	req.Header.Set("Idempotency-Key", fmt.Sprintf("bench-escrow-%d-%d", n, time.Now().UnixNano()))

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// race fires every worker at the release endpoint at once.
func race(client *http.Client, id string) {
	var (
		wg    sync.WaitGroup
		wins  uint64
		ready = make(chan struct{})
	)
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func() {
			defer wg.Done()
			req, _ := http.NewRequest("POST", targetURL+"/api/v1/escrows/"+id+"/release", nil)
			req.Header.Set("Authorization", "Bearer "+recipientToken)
			<-ready

			resp, err := client.Do(req)
			if err != nil {
				atomic.AddUint64(&failOther, 1)
				return
			}
			defer resp.Body.Close()

			atomic.AddUint64(&totalRequests, 1)
			switch resp.StatusCode {
			case 200:
				atomic.AddUint64(&success200, 1)
				atomic.AddUint64(&wins, 1)
			case 409:
				atomic.AddUint64(&fail409, 1)
			default:
				atomic.AddUint64(&failOther, 1)
			}
		}()
	}
	close(ready)
	wg.Wait()

	atomic.AddUint64(&escrowsRun, 1)
	if wins > 1 {
		atomic.AddUint64(&doubleRelease, 1)
		log.Printf("escrow %s released %d times", id, wins)
	}
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	s200 := atomic.LoadUint64(&success200)
	f409 := atomic.LoadUint64(&fail409)
	fErr := atomic.LoadUint64(&failOther)

	results := map[string]any{
		"duration_sec":    d.Seconds(),
		"escrows":         atomic.LoadUint64(&escrowsRun),
		"workers":         concurrency,
		"total_requests":  total,
		"released":        s200,
		"claim_conflicts": f409,
		"errors":          fErr,
		"double_releases": atomic.LoadUint64(&doubleRelease),
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	file, err := os.Create("results_release_race.json")
	if err != nil {
		log.Printf("could not save results: %v", err)
		return
	}
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
