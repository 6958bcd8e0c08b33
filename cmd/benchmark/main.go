package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/autocheckout/internal/api"
	"github.com/punchamoorthee/autocheckout/internal/gateway"
	"github.com/punchamoorthee/autocheckout/internal/models"
)

// Replays the same signed payment notification from many workers at once and
// checks that every charge was credited exactly once.
var (
	targetURL  string
	workers    int
	charges    int
	secret     string
	userID     string
	amountFlag string
)

var (
	totalRequests uint64
	success200    uint64
	fail4xx       uint64
	fail5xx       uint64
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&workers, "workers", 20, "concurrent deliveries per charge")
	flag.IntVar(&charges, "charges", 5, "number of top-up charges to open and replay")
	flag.StringVar(&secret, "secret", os.Getenv("PAYMENT_WEBHOOK_SECRET"), "webhook signing secret")
	flag.StringVar(&userID, "user", fmt.Sprintf("bench-%d", time.Now().Unix()), "user that receives the top-ups")
	flag.StringVar(&amountFlag, "amount", "10.00", "amount of each top-up")
}

func main() {
	flag.Parse()
	amount, err := decimal.NewFromString(amountFlag)
	if err != nil {
		log.Fatalf("invalid -amount: %v", err)
	}
	log.Printf("Starting webhook replay: user=%s charges=%d workers=%d", userID, charges, workers)

	client := &http.Client{Timeout: 10 * time.Second}
	start := time.Now()

	for i := 0; i < charges; i++ {
		charge, err := openTopUp(client, amount)
		if err != nil {
			log.Fatalf("open top-up %d: %v", i, err)
		}
		storm(client, charge)
	}
	elapsed := time.Since(start)

	balance, err := fetchBalance(client)
	if err != nil {
		log.Fatalf("fetch balance: %v", err)
	}
	expected := amount.Mul(decimal.NewFromInt(int64(charges)))
	printResults(elapsed, balance, expected)

	if !balance.Equal(expected) {
		os.Exit(1)
	}
}

func openTopUp(client *http.Client, amount decimal.Decimal) (*models.ChargeView, error) {
	body, _ := json.Marshal(models.TopUpRequest{UserID: userID, Amount: amount.StringFixed(2)})
	resp, err := client.Post(targetURL+"/api/v1/deposits", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, msg)
	}
	var view models.ChargeView
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		return nil, err
	}
	return &view, nil
}

// storm fires the identical notification for charge from every worker.
func storm(client *http.Client, charge *models.ChargeView) {
	payload := models.PaymentWebhook{
		Event: "charge.paid",
		Data: models.PaymentWebhookData{
			ID:            charge.ChargeID,
			TransactionID: charge.TxID,
			Value:         charge.Amount,
		},
	}
	body, _ := json.Marshal(payload)
	signature := gateway.Sign(secret, body)

	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			<-release
			deliver(client, body, signature)
		}()
	}
	close(release)
	wg.Wait()
}

func deliver(client *http.Client, body []byte, signature string) {
	req, _ := http.NewRequest(http.MethodPost, targetURL+"/api/v1/payments/webhook", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(api.SignatureHeader, signature)

	resp, err := client.Do(req)
	if err != nil {
		atomic.AddUint64(&failOther, 1)
		return
	}
	defer resp.Body.Close()

	atomic.AddUint64(&totalRequests, 1)
	switch {
	case resp.StatusCode == http.StatusOK:
		atomic.AddUint64(&success200, 1)
	case resp.StatusCode >= 500:
		atomic.AddUint64(&fail5xx, 1)
	case resp.StatusCode >= 400:
		atomic.AddUint64(&fail4xx, 1)
	default:
		atomic.AddUint64(&failOther, 1)
	}
}

func fetchBalance(client *http.Client) (decimal.Decimal, error) {
	resp, err := client.Get(targetURL + "/api/v1/users/" + userID)
	if err != nil {
		return decimal.Zero, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("status %d", resp.StatusCode)
	}
	var user struct {
		Balance decimal.Decimal `json:"balance"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return decimal.Zero, err
	}
	return user.Balance, nil
}

func printResults(d time.Duration, balance, expected decimal.Decimal) {
	total := atomic.LoadUint64(&totalRequests)

	results := map[string]interface{}{
		"user_id":          userID,
		"charges":          charges,
		"workers":          workers,
		"duration_sec":     d.Seconds(),
		"total_requests":   total,
		"throughput_rps":   float64(total) / d.Seconds(),
		"acknowledged":     atomic.LoadUint64(&success200),
		"rejected_4xx":     atomic.LoadUint64(&fail4xx),
		"errors_5xx":       atomic.LoadUint64(&fail5xx),
		"transport_errors": atomic.LoadUint64(&failOther),
		"balance":          balance.StringFixed(2),
		"expected_balance": expected.StringFixed(2),
		"credited_once":    balance.Equal(expected),
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	file, err := os.Create("results_webhook_replay.json")
	if err != nil {
		return
	}
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
