package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/always-cache/apicache"
	gateway "github.com/always-cache/apicache/pkg/api-gateway"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	vegeta "github.com/tsenart/vegeta/v12/lib"
)

var (
	targetFlag   string
	rateFlag     int
	durationFlag time.Duration
	writesFlag   int
)

// hot endpoints polled by every open dashboard
var hotPaths = []string{
	"/stats",
	"/dte/api/tiempo-real",
	"/system-health/api",
	"/clientes/api?ambiente=todos",
	"/alertas/api",
}

func init() {
	flag.StringVar(&targetFlag, "target", "http://localhost:8080", "Gateway URL")
	flag.IntVar(&rateFlag, "rate", 50, "Requests per second")
	flag.DurationVar(&durationFlag, "duration", 30*time.Second, "Duration of the attack")
	flag.IntVar(&writesFlag, "writes", 5, "Percentage of requests that are writes")
}

func main() {
	flag.Parse()
	gofakeit.Seed(time.Now().UnixNano())

	rate := vegeta.Rate{Freq: rateFlag, Per: time.Second}
	attacker := vegeta.NewAttacker()

	var metrics vegeta.Metrics
	for res := range attacker.Attack(createTargeter(), rate, durationFlag, "apicache") {
		metrics.Add(res)
	}
	metrics.Close()

	fmt.Printf("99th percentile: %s\n", metrics.Latencies.P99)
	fmt.Printf("95th percentile: %s\n", metrics.Latencies.P95)
	fmt.Printf("Mean: %s\n", metrics.Latencies.Mean)
	fmt.Printf("Requests per second: %.2f\n", metrics.Rate)
	fmt.Printf("Success ratio: %.2f%%\n", metrics.Success*100)
	fmt.Printf("Status codes: %v\n", metrics.StatusCodes)

	fmt.Println("\n=== Report ===")
	vegeta.NewTextReporter(&metrics).Report(os.Stdout)

	stats, err := fetchStats()
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not fetch cache stats: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("\n=== Cache ===")
	fmt.Printf("Hits: %d, misses: %d, collapsed: %d, bypasses: %d, errors: %d, entries: %d\n",
		stats.Hits, stats.Misses, stats.Collapsed, stats.Bypasses, stats.Errors, stats.Entries)
}

// createTargeter mixes hot reads, reads with random query strings and occasional writes.
func createTargeter() vegeta.Targeter {
	return func(tgt *vegeta.Target) error {
		tgt.Header = http.Header{
			"Content-Type": {"application/json"},
			"X-Request-Id": {uuid.NewString()},
		}

		n := gofakeit.Number(1, 100)
		switch {
		case n <= writesFlag:
			payload, err := json.Marshal(map[string]string{
				"nombre":   gofakeit.Company(),
				"email":    gofakeit.Email(),
				"ambiente": gofakeit.RandomString([]string{"prod", "test"}),
			})
			if err != nil {
				return err
			}
			tgt.Method = http.MethodPost
			tgt.URL = targetFlag + "/clientes"
			tgt.Body = payload
		case n <= 30:
			tgt.Method = http.MethodGet
			tgt.URL = fmt.Sprintf("%s/clientes/%s/api?ambiente=todos", targetFlag, gofakeit.DigitN(4))
		default:
			tgt.Method = http.MethodGet
			tgt.URL = targetFlag + gofakeit.RandomString(hotPaths)
		}
		return nil
	}
}

func fetchStats() (apicache.Stats, error) {
	var stats apicache.Stats
	res, err := http.Get(targetFlag + gateway.AdminPrefix + "/stats")
	if err != nil {
		return stats, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return stats, fmt.Errorf("unexpected status %d", res.StatusCode)
	}
	err = json.NewDecoder(res.Body).Decode(&stats)
	return stats, err
}
