package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fundops/capcall-api/internal/auth"
)

const (
	serverAddress = "http://localhost:8080"
	numInvestors  = 5
)

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	// Configure pretty logging
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
}

// addDuration records a new duration measurement for the route
func (rs *routeStats) addDuration(d time.Duration) {
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
}

// calculate computes performance statistics from recorded durations
// Returns min, max, mean, median, and 95th percentile durations
func (rs *routeStats) calculate() (min, max, mean, median, p95 time.Duration) {
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0
	}

	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))
	median = rs.durations[len(rs.durations)/2]

	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p95 = rs.durations[p95idx]

	return
}

// simulationClient handles HTTP communication with the capital-call API
type simulationClient struct {
	baseURL   string
	authToken string
	client    *http.Client
	stats     map[string]*routeStats
}

// newSimulationClient creates and initializes a new simulation client
// It authenticates with the API and prepares performance tracking
func newSimulationClient() (*simulationClient, error) {
	client := &http.Client{
		Timeout: 10 * time.Second,
	}

	sc := &simulationClient{
		baseURL: serverAddress,
		client:  client,
		stats: map[string]*routeStats{
			"auth":      {name: "Authentication"},
			"fund":      {name: "Create Fund"},
			"investor":  {name: "Register Investor"},
			"issue":     {name: "Issue Drawdowns"},
			"reconcile": {name: "Reconcile Payments"},
			"allot":     {name: "Generate Allotments"},
		},
	}

	if err := sc.authenticate(); err != nil {
		return nil, err
	}
	return sc, nil
}

func (sc *simulationClient) authenticate() error {
	body, _ := json.Marshal(auth.Credentials{
		APIKey:    auth.TestAPIKey,
		APISecret: auth.TestAPISecret,
	})

	var resp struct {
		Data auth.TokenResponse `json:"data"`
	}
	if err := sc.post("auth", "/api/v1/auth/token", body, &resp); err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}

	sc.authToken = resp.Data.Token
	return nil
}

func (sc *simulationClient) post(route, path string, body []byte, out interface{}) error {
	return sc.do(route, http.MethodPost, path, body, out)
}

func (sc *simulationClient) do(route, method, path string, body []byte, out interface{}) error {
	start := time.Now()
	rs := sc.stats[route]

	req, err := http.NewRequest(method, sc.baseURL+path, bytes.NewReader(body))
	if err != nil {
		rs.failures++
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if sc.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+sc.authToken)
	}

	resp, err := sc.client.Do(req)
	rs.addDuration(time.Since(start))
	if err != nil {
		rs.failures++
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		rs.failures++
		return err
	}

	if resp.StatusCode >= 400 {
		rs.failures++
		return fmt.Errorf("%s %s returned %d: %s", method, path, resp.StatusCode, string(data))
	}

	if out != nil {
		return json.Unmarshal(data, out)
	}
	return nil
}

// runLifecycle drives one full capital-call cycle: fund setup, issuance,
// reconciliation, allotment.
func (sc *simulationClient) runLifecycle() error {
	// Create a fund
	fundBody, _ := json.Marshal(map[string]interface{}{
		"scheme_name":       "Simulation Growth Fund I",
		"nav":               100,
		"bank_name":         "Simulation Bank",
		"bank_account_name": "Simulation Growth Fund I",
		"bank_account_no":   "000111222333",
		"bank_ifsc":         "SIM0000001",
		"bank_contact":      "ops@simulation.example",
	})
	var fundResp struct {
		Data struct {
			FundID string `json:"fund_id"`
		} `json:"data"`
	}
	if err := sc.post("fund", "/api/v1/funds", fundBody, &fundResp); err != nil {
		return err
	}
	fundID := fundResp.Data.FundID
	log.Info().Str("fund_id", fundID).Msg("created fund")

	// Register investors with varied commitments
	commitments := []string{"1000000.00", "2500000.00", "500000.00", "750000.00", "1250000.00"}
	for i := 0; i < numInvestors; i++ {
		name := fmt.Sprintf("Simulation Investor %d", i+1)
		body, _ := json.Marshal(map[string]string{
			"fund_id":           fundID,
			"name":              name,
			"email":             fmt.Sprintf("investor%d@simulation.example", i+1),
			"commitment_amount": commitments[i%len(commitments)],
		})
		if err := sc.post("investor", "/api/v1/investors", body, nil); err != nil {
			return err
		}
	}
	log.Info().Int("investors", numInvestors).Msg("registered investors")

	// Issue drawdowns for the current quarter
	noticeDate := time.Now().Format("2006-01-02")
	dueDate := time.Now().AddDate(0, 0, 14).Format("2006-01-02")
	issueBody, _ := json.Marshal(map[string]string{
		"fund_id":             fundID,
		"percentage":          "10",
		"notice_date":         noticeDate,
		"due_date":            dueDate,
		"forecast_percentage": "15",
	})
	var issueResp struct {
		Data struct {
			Quarter   string `json:"quarter"`
			Investors []struct {
				InvestorName string `json:"investor_name"`
				CallAmount   string `json:"call_amount"`
			} `json:"investors"`
		} `json:"data"`
	}
	if err := sc.post("issue", "/api/v1/drawdowns/issue", issueBody, &issueResp); err != nil {
		return err
	}
	log.Info().
		Str("quarter", issueResp.Data.Quarter).
		Int("drawdowns", len(issueResp.Data.Investors)).
		Msg("issued drawdowns")

	// Reconcile: most investors pay exactly, one short, one over, plus a
	// duplicate line that should be skipped
	paymentDate := time.Now().Format("2006-01-02")
	candidates := make([]map[string]string, 0, len(issueResp.Data.Investors)+1)
	for i, inv := range issueResp.Data.Investors {
		amount := inv.CallAmount
		switch i {
		case 1:
			amount = "100.00" // shortfall
		case 2:
			amount = "9999999.00" // over-payment
		}
		candidates = append(candidates, map[string]string{
			"payer_hint": inv.InvestorName,
			"amount":     amount,
			"date":       paymentDate,
		})
	}
	candidates = append(candidates, candidates[0]) // duplicate

	reconcileBody, _ := json.Marshal(map[string]interface{}{
		"fund_id":    fundID,
		"candidates": candidates,
	})
	var reconcileResp struct {
		Data struct {
			MatchedCount int `json:"matched_count"`
			SkippedCount int `json:"skipped_count"`
		} `json:"data"`
	}
	if err := sc.post("reconcile", "/api/v1/payments/reconcile", reconcileBody, &reconcileResp); err != nil {
		return err
	}
	log.Info().
		Int("matched", reconcileResp.Data.MatchedCount).
		Int("skipped", reconcileResp.Data.SkippedCount).
		Msg("reconciled payments")

	// Generate allotments for the paid obligations
	allotBody, _ := json.Marshal(map[string]interface{}{
		"fund_id": fundID,
	})
	var allotResp struct {
		Data struct {
			AllotmentCount int    `json:"allotment_count"`
			SheetStatus    string `json:"sheet_status"`
			SheetURL       string `json:"sheet_url"`
		} `json:"data"`
	}
	if err := sc.post("allot", "/api/v1/allotments/generate", allotBody, &allotResp); err != nil {
		return err
	}
	log.Info().
		Int("allotments", allotResp.Data.AllotmentCount).
		Str("sheet_status", allotResp.Data.SheetStatus).
		Str("sheet_url", allotResp.Data.SheetURL).
		Msg("generated allotments")

	return nil
}

// printStats outputs performance statistics for all routes
func (sc *simulationClient) printStats() {
	fmt.Println("\nAPI Performance Statistics:")
	fmt.Println("==========================")

	for _, rs := range sc.stats {
		if rs.totalCalls == 0 {
			continue
		}
		min, max, mean, median, p95 := rs.calculate()
		fmt.Printf("\n%s:\n", rs.name)
		fmt.Printf("  Calls:    %d (%d failed)\n", rs.totalCalls, rs.failures)
		fmt.Printf("  Min:      %v\n", min)
		fmt.Printf("  Max:      %v\n", max)
		fmt.Printf("  Mean:     %v\n", mean)
		fmt.Printf("  Median:   %v\n", median)
		fmt.Printf("  P95:      %v\n", p95)
	}
}

func main() {
	log.Info().Msg("starting capital-call lifecycle simulation")

	sc, err := newSimulationClient()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize simulation client")
	}

	if err := sc.runLifecycle(); err != nil {
		log.Fatal().Err(err).Msg("simulation failed")
	}

	sc.printStats()
	log.Info().Msg("simulation complete")
}
