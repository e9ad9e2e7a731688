// Command coda-cli is a read-only operability tool, separate from the
// core CLI surface: it dials a coda-frontend or coda-backend's debug HTTP mux
// and renders its /status counters as a table. Grounded on cmd/tempo-cli's
// role as a sibling debug binary, with flag.StringVar option parsing in the
// same style and github.com/jedib0t/go-pretty/v6/table in place of
// tempo-cli's tablewriter since coda's go.mod already carries go-pretty for
// other reasons.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
)

var (
	frontendAddrs stringList
	backendAddrs  stringList
	timeout       time.Duration
)

// stringList accumulates repeated -frontend/-backend flags into a slice.
type stringList []string

func (s *stringList) String() string { return fmt.Sprint([]string(*s)) }
func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func init() {
	flag.Var(&frontendAddrs, "frontend", "frontend debug http address (host:port), may be repeated")
	flag.Var(&backendAddrs, "backend", "backend debug http address (host:port), may be repeated")
	flag.DurationVar(&timeout, "timeout", 2*time.Second, "per-request http timeout")
}

func main() {
	flag.Parse()

	if len(frontendAddrs) == 0 && len(backendAddrs) == 0 {
		fmt.Fprintln(os.Stderr, "coda-cli: at least one -frontend or -backend address is required")
		os.Exit(1)
	}

	client := &http.Client{Timeout: timeout}

	if len(frontendAddrs) > 0 {
		printFrontendTable(client, frontendAddrs)
	}
	if len(backendAddrs) > 0 {
		printBackendTable(client, backendAddrs)
	}
}

// frontendStatus mirrors the JSON body written by coda-frontend's /status
// handler.
type frontendStatus struct {
	Monitor  string  `json:"monitor"`
	CDCRatio float64 `json:"cdc_ratio"`
}

// backendStatus mirrors the JSON body written by coda-backend's /status
// handler.
type backendStatus struct {
	CacheHits    int64   `json:"cache_hits"`
	CacheMisses  int64   `json:"cache_misses"`
	CacheHitRate float64 `json:"cache_hit_rate"`
}

func printFrontendTable(client *http.Client, addrs []string) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"frontend", "cdc ratio", "monitor"})
	for _, addr := range addrs {
		st, err := fetchStatus[frontendStatus](client, addr)
		if err != nil {
			t.AppendRow(table.Row{addr, "-", fmt.Sprintf("error: %v", err)})
			continue
		}
		t.AppendRow(table.Row{addr, fmt.Sprintf("%.4f", st.CDCRatio), st.Monitor})
	}
	t.Render()
}

func printBackendTable(client *http.Client, addrs []string) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"backend", "cache hits", "cache misses", "hit rate"})
	for _, addr := range addrs {
		st, err := fetchStatus[backendStatus](client, addr)
		if err != nil {
			t.AppendRow(table.Row{addr, "-", "-", fmt.Sprintf("error: %v", err)})
			continue
		}
		t.AppendRow(table.Row{addr, st.CacheHits, st.CacheMisses, fmt.Sprintf("%.4f", st.CacheHitRate)})
	}
	t.Render()
}

func fetchStatus[T any](client *http.Client, addr string) (T, error) {
	var out T
	resp, err := client.Get(fmt.Sprintf("http://%s/status", addr))
	if err != nil {
		return out, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return out, fmt.Errorf("status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}
