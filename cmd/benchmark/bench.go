package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"time"

	vegeta "github.com/tsenart/vegeta/v12/lib"
)

// Load-tests a running proxy instance. A mock provider is served on
// -mock-port so a shadow model can be pointed at a local upstream with
// deterministic latency, keeping the measurement about proxy overhead.
func main() {
	target := flag.String("target", "http://localhost:8080", "Base URL of the running proxy")
	apiKey := flag.String("key", "", "Platform API key to attack with")
	modelName := flag.String("model", "demo/gpt-4o-mini", "Model display name to request")
	rate := flag.Int("rate", 50, "Requests per second")
	duration := flag.Duration("duration", 10*time.Second, "Duration of the test")
	stream := flag.Bool("stream", false, "Use streaming requests")
	mockPort := flag.Int("mock-port", 9091, "Port for the local mock provider")
	flag.Parse()

	if *apiKey == "" {
		fmt.Println("-key is required (seed the database first)")
		return
	}

	go startMockProvider(*mockPort)
	fmt.Printf("Mock provider listening on :%d (point a model's base URL here)\n", *mockPort)

	body := map[string]any{
		"model":    *modelName,
		"messages": []map[string]string{{"role": "user", "content": "Hello"}},
	}
	if *stream {
		body["stream"] = true
	}
	payload, _ := json.Marshal(body)

	targeter := func(t *vegeta.Target) error {
		t.Method = "POST"
		t.URL = *target + "/v1/chat/completions"
		t.Body = payload
		t.Header = http.Header{
			"Content-Type":  []string{"application/json"},
			"Authorization": []string{"Bearer " + *apiKey},
		}
		return nil
	}

	mode := "unary"
	if *stream {
		mode = "streaming"
	}
	fmt.Printf("Running %s benchmark: %s at %d req/s\n", mode, *duration, *rate)

	attacker := vegeta.NewAttacker(vegeta.KeepAlive(true))
	var metrics vegeta.Metrics
	for res := range attacker.Attack(targeter, vegeta.Rate{Freq: *rate, Per: time.Second}, *duration, "proxy-bench") {
		metrics.Add(res)
	}
	metrics.Close()

	fmt.Println("--------------------------------------------------")
	fmt.Println("99th percentile: ", metrics.Latencies.P99)
	fmt.Println("Mean:            ", metrics.Latencies.Mean)
	fmt.Println("Max:             ", metrics.Latencies.Max)
	fmt.Printf("Success:         %.2f%%\n", metrics.Success*100)
	fmt.Printf("Throughput:      %.2f req/s\n", metrics.Throughput)
	fmt.Println("--------------------------------------------------")

	if len(metrics.Errors) > 0 {
		fmt.Println("Errors (first 5 unique):")
		seen := make(map[string]bool)
		for _, msg := range metrics.Errors {
			if seen[msg] || len(seen) >= 5 {
				continue
			}
			seen[msg] = true
			fmt.Println(" ", msg)
		}
	}
}

func startMockProvider(port int) {
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)

		if val, ok := req["stream"].(bool); ok && val {
			w.Header().Set("Content-Type", "text/event-stream")
			flusher, _ := w.(http.Flusher)

			chunks := []string{
				`data: {"model":"mock","choices":[{"delta":{"content":"Bench"}}]}`,
				`data: {"model":"mock","choices":[{"delta":{"content":"mark"}}],"usage":{"prompt_tokens":9,"completion_tokens":2}}`,
			}
			for _, chunk := range chunks {
				time.Sleep(20 * time.Millisecond)
				fmt.Fprintf(w, "%s\n\n", chunk)
				flusher.Flush()
			}
			fmt.Fprint(w, "data: [DONE]\n\n")
			flusher.Flush()
			return
		}

		time.Sleep(10 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"bench-123","model":"mock","choices":[{"message":{"content":"Hello"}}],"usage":{"prompt_tokens":9,"completion_tokens":1}}`)
	})

	_ = http.ListenAndServe(fmt.Sprintf(":%d", port), mux)
}
