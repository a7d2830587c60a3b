// Benchmark tool for testing Harrier against retail transaction data.
//
// Usage:
//   go run cmd/benchmark/main.go -csv /path/to/transactions.csv -url http://localhost:8080
//
// This tool:
//   1. Reads transaction data (subject_id, type, amount, category, channel, timestamp)
//   2. Ingests each event into Harrier
//   3. Runs a discovery pass over the ingested population
//   4. Assigns every subject and reports the resulting segment landscape
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// TransactionRow represents a row from the input dataset
type TransactionRow struct {
	SubjectID string
	Type      string
	Amount    float64
	Category  string
	Channel   string
	Timestamp string
}

// EventRequest is the Harrier ingest request format
type EventRequest struct {
	Type      string `json:"type"`
	Amount    float64 `json:"amount"`
	Currency  string `json:"currency,omitempty"`
	Category  string `json:"category,omitempty"`
	Channel   string `json:"channel,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// AssignResponse is the Harrier assignment response format
type AssignResponse struct {
	Status  string `json:"status"` // "GRPD" or "UNGR"
	Profile *struct {
		ArchetypeID  string `json:"archetypeId"`
		ArchetypeKey string `json:"archetypeKey"`
	} `json:"profile,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// DiscoveryResponse is the Harrier discovery run response format
type DiscoveryResponse struct {
	ID            string `json:"id"`
	SampleSize    int    `json:"sampleSize"`
	AxesSucceeded []string `json:"axesSucceeded"`
	AxesSkipped   []struct {
		Axis   string `json:"axis"`
		Reason string `json:"reason"`
	} `json:"axesSkipped"`
}

// Metrics tracks benchmark results
type Metrics struct {
	EventsIngested int64
	IngestErrors   int64
	IngestTimeMs   int64

	SubjectsAssigned int64
	Grouped          int64
	Ungrouped        int64
	AssignErrors     int64
	AssignTimeMs     int64

	mu         sync.Mutex
	archetypes map[string]int64
}

func (m *Metrics) countArchetype(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.archetypes == nil {
		m.archetypes = make(map[string]int64)
	}
	m.archetypes[key]++
}

func main() {
	// Parse flags
	csvPath := flag.String("csv", "", "Path to transaction CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Harrier base URL")
	tenantID := flag.String("tenant", "benchmark-test", "Tenant ID for requests")
	limit := flag.Int("limit", 100000, "Maximum events to ingest (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	skipDiscovery := flag.Bool("skip-discovery", false, "Skip the discovery pass (reuse existing models)")
	verbose := flag.Bool("verbose", false, "Print each assignment result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/transactions.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║        HARRIER BENCHMARK - Behavioral Segmentation            ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("Harrier URL: %s\n", *baseURL)
	fmt.Printf("Tenant ID:   %s\n", *tenantID)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Println()

	// Check Harrier is running
	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Harrier not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Harrier is running:")
		fmt.Println("  cd harrier && go run cmd/harrier/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Harrier is healthy")

	// Read transaction data
	fmt.Printf("\nReading transactions from %s...\n", *csvPath)
	rows, err := readTransactionCSV(*csvPath, *limit)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}

	subjects := distinctSubjects(rows)
	fmt.Printf("✓ Loaded %d events across %d subjects\n", len(rows), len(subjects))

	metrics := &Metrics{}
	startTime := time.Now()

	// Phase 1: ingest
	fmt.Printf("\nIngesting events with %d workers...\n", *workers)
	ingestEvents(rows, *baseURL, *tenantID, *workers, metrics)
	fmt.Printf("✓ Ingested %d events (%d errors)\n", metrics.EventsIngested, metrics.IngestErrors)

	// Phase 2: discovery
	if !*skipDiscovery {
		fmt.Println("\nRunning discovery...")
		run, err := runDiscovery(*baseURL, *tenantID)
		if err != nil {
			fmt.Printf("ERROR: Discovery failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("✓ Run %s: sampled %d subjects, fitted %d axes\n",
			run.ID, run.SampleSize, len(run.AxesSucceeded))
		for _, skipped := range run.AxesSkipped {
			fmt.Printf("  ⚠️  axis %s skipped: %s\n", skipped.Axis, skipped.Reason)
		}
	}

	// Phase 3: assign every subject
	fmt.Printf("\nAssigning %d subjects with %d workers...\n", len(subjects), *workers)
	assignSubjects(subjects, *baseURL, *tenantID, *workers, *verbose, metrics)

	duration := time.Since(startTime)
	printResults(metrics, duration)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func readTransactionCSV(path string, limit int) ([]TransactionRow, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)

	// Read header
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	// Map column indices
	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}
	for _, required := range []string{"subject_id", "amount"} {
		if _, ok := colIndex[required]; !ok {
			return nil, fmt.Errorf("missing required column %q", required)
		}
	}

	get := func(record []string, col string) string {
		if idx, ok := colIndex[col]; ok && idx < len(record) {
			return record[idx]
		}
		return ""
	}

	var rows []TransactionRow
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		amount, _ := strconv.ParseFloat(get(record, "amount"), 64)
		if amount < 0 {
			continue // returns/refund rows distort value tiers
		}

		row := TransactionRow{
			SubjectID: get(record, "subject_id"),
			Type:      get(record, "type"),
			Amount:    amount,
			Category:  get(record, "category"),
			Channel:   get(record, "channel"),
			Timestamp: get(record, "timestamp"),
		}
		if row.SubjectID == "" {
			continue
		}
		if row.Type == "" {
			row.Type = "order"
		}

		rows = append(rows, row)

		if limit > 0 && len(rows) >= limit {
			break
		}
	}

	return rows, nil
}

func distinctSubjects(rows []TransactionRow) []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range rows {
		if !seen[r.SubjectID] {
			seen[r.SubjectID] = true
			out = append(out, r.SubjectID)
		}
	}
	return out
}

func ingestEvents(rows []TransactionRow, baseURL, tenantID string, numWorkers int, metrics *Metrics) {
	work := make(chan TransactionRow, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for row := range work {
				start := time.Now()
				err := ingestEvent(client, baseURL, tenantID, row)
				atomic.AddInt64(&metrics.IngestTimeMs, time.Since(start).Milliseconds())

				if err != nil {
					atomic.AddInt64(&metrics.IngestErrors, 1)
					continue
				}
				atomic.AddInt64(&metrics.EventsIngested, 1)
			}
		}()
	}

	for _, row := range rows {
		work <- row
	}
	close(work)
	wg.Wait()
}

func ingestEvent(client *http.Client, baseURL, tenantID string, row TransactionRow) error {
	req := EventRequest{
		Type:      row.Type,
		Amount:    row.Amount,
		Currency:  "USD",
		Category:  row.Category,
		Channel:   row.Channel,
		Timestamp: row.Timestamp,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequest(http.MethodPost,
		baseURL+"/subjects/"+row.SubjectID+"/events", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

func runDiscovery(baseURL, tenantID string) (*DiscoveryResponse, error) {
	client := &http.Client{Timeout: 10 * time.Minute}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/discovery/run", nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var run DiscoveryResponse
	if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
		return nil, err
	}
	return &run, nil
}

func assignSubjects(subjects []string, baseURL, tenantID string, numWorkers int, verbose bool, metrics *Metrics) {
	work := make(chan string, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for subjectID := range work {
				start := time.Now()
				result, err := assignSubject(client, baseURL, tenantID, subjectID)
				atomic.AddInt64(&metrics.AssignTimeMs, time.Since(start).Milliseconds())
				atomic.AddInt64(&metrics.SubjectsAssigned, 1)

				if err != nil {
					atomic.AddInt64(&metrics.AssignErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", subjectID, err)
					}
					continue
				}

				switch result.Status {
				case "GRPD":
					atomic.AddInt64(&metrics.Grouped, 1)
					if result.Profile != nil {
						metrics.countArchetype(result.Profile.ArchetypeKey)
					}
				default:
					atomic.AddInt64(&metrics.Ungrouped, 1)
				}

				if verbose {
					key := "-"
					if result.Profile != nil {
						key = result.Profile.ArchetypeKey
					}
					fmt.Printf("%-16s | %s | %s\n", subjectID, result.Status, key)
				}
			}
		}()
	}

	for _, id := range subjects {
		work <- id
	}
	close(work)
	wg.Wait()
}

func assignSubject(client *http.Client, baseURL, tenantID, subjectID string) (*AssignResponse, error) {
	httpReq, err := http.NewRequest(http.MethodPost,
		baseURL+"/subjects/"+subjectID+"/assign", nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result AssignResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 INGEST\n")
	fmt.Printf("   Events Ingested:  %d\n", m.EventsIngested)
	fmt.Printf("   Errors:           %d\n", m.IngestErrors)
	if m.EventsIngested > 0 {
		fmt.Printf("   Avg Latency:      %.2f ms\n", float64(m.IngestTimeMs)/float64(m.EventsIngested))
	}

	fmt.Printf("\n🎯 ASSIGNMENT\n")
	fmt.Printf("   Subjects:         %d\n", m.SubjectsAssigned)
	fmt.Printf("   Grouped (GRPD):   %d\n", m.Grouped)
	fmt.Printf("   Ungrouped (UNGR): %d\n", m.Ungrouped)
	fmt.Printf("   Errors:           %d\n", m.AssignErrors)
	if m.SubjectsAssigned > 0 {
		fmt.Printf("   Avg Latency:      %.2f ms\n", float64(m.AssignTimeMs)/float64(m.SubjectsAssigned))
		coverage := float64(m.Grouped) / float64(m.SubjectsAssigned) * 100
		fmt.Printf("   Coverage:         %.2f%%\n", coverage)
	}

	// Archetype landscape, largest first
	type archetypeCount struct {
		key   string
		count int64
	}
	m.mu.Lock()
	landscape := make([]archetypeCount, 0, len(m.archetypes))
	for key, count := range m.archetypes {
		landscape = append(landscape, archetypeCount{key, count})
	}
	m.mu.Unlock()
	sort.Slice(landscape, func(i, j int) bool { return landscape[i].count > landscape[j].count })

	fmt.Printf("\n🧬 ARCHETYPE LANDSCAPE (%d observed)\n", len(landscape))
	shown := landscape
	if len(shown) > 10 {
		shown = shown[:10]
	}
	for _, a := range shown {
		pct := float64(a.count) / float64(m.Grouped) * 100
		fmt.Printf("   %6d (%.1f%%)  %s\n", a.count, pct, a.key)
	}
	if len(landscape) > 10 {
		fmt.Printf("   ... and %d more\n", len(landscape)-10)
	}

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	total := m.EventsIngested + m.SubjectsAssigned
	if total > 0 {
		fmt.Printf("   Throughput:       %.2f req/sec\n", float64(total)/duration.Seconds())
	}

	// Interpretation
	fmt.Printf("\n💡 INTERPRETATION\n")
	if m.SubjectsAssigned > 0 {
		coverage := float64(m.Grouped) / float64(m.SubjectsAssigned)
		switch {
		case coverage >= 0.9:
			fmt.Println("   ✅ Excellent coverage - nearly every subject is segmented")
		case coverage >= 0.7:
			fmt.Println("   ⚠️  Good coverage - some subjects have too little history")
		default:
			fmt.Println("   ❌ Low coverage - most subjects lack enough history to group")
		}
	}
	switch {
	case len(landscape) == 0:
		fmt.Println("   ❌ No archetypes observed - run discovery before assigning")
	case len(landscape) < 3:
		fmt.Println("   ⚠️  Few archetypes - population may be too uniform for the configured axes")
	default:
		fmt.Println("   ✅ Healthy archetype spread across the population")
	}

	fmt.Println()
}
