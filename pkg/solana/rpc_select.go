package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

var ErrNoHealthyRPC = errors.New("no healthy solana rpc endpoint")

type rpcRequest struct {
	Jsonrpc string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	Result interface{}      `json:"result"`
	Error  *json.RawMessage `json:"error"`
}

// RPCCheckResult is the outcome of one getHealth check
type RPCCheckResult struct {
	URL     string        `json:"url"`
	OK      bool          `json:"ok"`
	Latency time.Duration `json:"latency"`
	Error   string        `json:"error,omitempty"`
}

func checkRPC(ctx context.Context, client *http.Client, url string) RPCCheckResult {
	start := time.Now()
	fail := func(err error) RPCCheckResult {
		return RPCCheckResult{URL: url, Latency: time.Since(start), Error: err.Error()}
	}

	body, _ := json.Marshal(rpcRequest{Jsonrpc: "2.0", ID: 1, Method: "getHealth", Params: []interface{}{}})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fail(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fail(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fail(fmt.Errorf("status code: %d", resp.StatusCode))
	}

	var result rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fail(err)
	}
	if result.Error != nil {
		return fail(fmt.Errorf("rpc error: %s", string(*result.Error)))
	}
	return RPCCheckResult{URL: url, OK: true, Latency: time.Since(start)}
}

// CheckRPCList checks every endpoint concurrently, each bounded by timeout.
// Results keep the order of urls.
func CheckRPCList(ctx context.Context, urls []string, timeout time.Duration) []RPCCheckResult {
	client := &http.Client{Timeout: timeout}
	results := make([]RPCCheckResult, len(urls))

	var wg sync.WaitGroup
	for i, url := range urls {
		wg.Add(1)
		go func(i int, url string) {
			defer wg.Done()
			results[i] = checkRPC(ctx, client, url)
		}(i, url)
	}
	wg.Wait()
	return results
}

// SelectRPC returns the lowest latency healthy endpoint. A single endpoint is
// returned without probing.
func SelectRPC(ctx context.Context, urls []string, timeout time.Duration) (string, error) {
	if len(urls) == 1 {
		return urls[0], nil
	}

	results := CheckRPCList(ctx, urls, timeout)
	healthy := results[:0:0]
	for _, r := range results {
		if !r.OK {
			log.WithFields(log.Fields{
				"url":   r.URL,
				"error": r.Error,
			}).Warn("Solana RPC endpoint unhealthy")
			continue
		}
		healthy = append(healthy, r)
	}
	if len(healthy) == 0 {
		return "", ErrNoHealthyRPC
	}

	sort.SliceStable(healthy, func(i, j int) bool {
		return healthy[i].Latency < healthy[j].Latency
	})
	log.WithFields(log.Fields{
		"url":     healthy[0].URL,
		"latency": healthy[0].Latency.String(),
		"healthy": len(healthy),
	}).Info("Solana RPC endpoint selected")
	return healthy[0].URL, nil
}
