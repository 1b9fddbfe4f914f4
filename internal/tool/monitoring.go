package tool

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/bastionhost/bastion-agent/internal/config"
)

// timeRanges maps the query_metrics tool's time-range shorthand vocabulary
// to seconds, matching the fixed set the original monitoring tool exposed.
var timeRanges = map[string]int64{
	"5m": 300, "15m": 900, "30m": 1800,
	"1h": 3600, "3h": 10800, "6h": 21600, "12h": 43200,
	"24h": 86400, "2d": 172800, "7d": 604800,
}

// QueryMetrics runs a PromQL range query against the first inventory
// server with a metrics_url configured. Deliberately stdlib net/http: the
// spec treats this outbound client as an external collaborator out of
// scope for dependency substitution, distinct from the agent's own
// Prometheus-instrumented /metrics endpoint (internal/metrics).
type QueryMetrics struct {
	Inventory *config.Inventory
	client    *http.Client
}

func NewQueryMetrics(inv *config.Inventory) *QueryMetrics {
	return &QueryMetrics{Inventory: inv, client: &http.Client{Timeout: 10 * time.Second}}
}

func (t *QueryMetrics) Name() string { return "query_metrics" }

func (t *QueryMetrics) Description() string {
	return "Query VictoriaMetrics using PromQL. Returns time series data " +
		"for the specified query and time range. The monitoring server " +
		"must have a metrics_url configured."
}

func (t *QueryMetrics) Schema() Schema {
	return Schema{
		Properties: map[string]any{
			"query":      map[string]any{"type": "string", "description": "PromQL query string (e.g. 'up', 'node_cpu_seconds_total')."},
			"time_range": map[string]any{"type": "string", "description": "Time range for the query (e.g. '1h', '24h', '7d'). Default '1h'.", "default": "1h"},
			"step":       map[string]any{"type": "string", "description": "Query resolution step (e.g. '15s', '1m', '5m'). Default '1m'.", "default": "1m"},
		},
		Required: []string{"query"},
	}
}

type promResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
	Data   struct {
		ResultType string `json:"resultType"`
		Result     []struct {
			Metric map[string]string `json:"metric"`
			Values [][2]any           `json:"values"`
		} `json:"result"`
	} `json:"data"`
}

func (t *QueryMetrics) Execute(ctx context.Context, input map[string]any) Result {
	query, _ := input["query"].(string)
	timeRange, _ := input["time_range"].(string)
	if timeRange == "" {
		timeRange = "1h"
	}
	step, _ := input["step"].(string)
	if step == "" {
		step = "1m"
	}

	server, ok := t.Inventory.FirstServerWithMetrics()
	if !ok {
		return Result{Error: "No server with metrics_url configured in inventory.", ExitCode: 1}
	}

	rangeSeconds, ok := timeRanges[timeRange]
	if !ok {
		keys := make([]string, 0, len(timeRanges))
		for k := range timeRanges {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return Result{Error: fmt.Sprintf("Unknown time range: %q. Use one of: %s", timeRange, strings.Join(keys, ", ")), ExitCode: 1}
	}

	end := time.Now().Unix()
	start := end - rangeSeconds

	metricsURL := strings.TrimRight(server.Definition.MetricsURL, "/")
	queryURL := fmt.Sprintf("%s/api/v1/query_range?%s", metricsURL, url.Values{
		"query": {query},
		"start": {fmt.Sprintf("%d", start)},
		"end":   {fmt.Sprintf("%d", end)},
		"step":  {step},
	}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, queryURL, nil)
	if err != nil {
		return Result{Error: fmt.Sprintf("Metrics query failed: %v", err), ExitCode: 1}
	}
	req.Header.Set("Accept", "application/json")

	if auth := resolveMetricsAuth(server.Definition.MetricsAuth); auth != "" {
		req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(auth)))
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return Result{Error: fmt.Sprintf("Metrics query failed: %v", err), ExitCode: 1}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{Error: fmt.Sprintf("Metrics query failed: %v", err), ExitCode: 1}
	}

	var data promResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return Result{Error: "Invalid JSON response from metrics server", ExitCode: 1}
	}

	if data.Status != "success" {
		errMsg := data.Error
		if errMsg == "" {
			errMsg = "Unknown error"
		}
		return Result{Error: "Metrics query error: " + errMsg, ExitCode: 1}
	}

	return Result{Output: formatMetricsResponse(data), ExitCode: 0}
}

func resolveMetricsAuth(authValue string) string {
	if authValue == "" {
		return ""
	}
	if strings.HasPrefix(authValue, "$") {
		return os.Getenv(authValue[1:])
	}
	return authValue
}

func formatMetricsResponse(data promResponse) string {
	results := data.Data.Result
	if len(results) == 0 {
		return "No data returned for this query."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Result type: %s\nSeries count: %d\n\n", data.Data.ResultType, len(results))

	limit := len(results)
	if limit > 20 {
		limit = 20
	}

	for _, series := range results[:limit] {
		labels := make([]string, 0, len(series.Metric))
		for k, v := range series.Metric {
			labels = append(labels, fmt.Sprintf("%s=%s", k, v))
		}
		sort.Strings(labels)
		metricStr := strings.Join(labels, ", ")
		if metricStr == "" {
			metricStr = "(no labels)"
		}
		fmt.Fprintf(&b, "--- %s ---\n", metricStr)

		values := series.Values
		if len(values) <= 6 {
			for _, v := range values {
				fmt.Fprintf(&b, "  %s: %v\n", tsToStr(v[0]), v[1])
			}
		} else {
			for _, v := range values[:3] {
				fmt.Fprintf(&b, "  %s: %v\n", tsToStr(v[0]), v[1])
			}
			fmt.Fprintf(&b, "  ... (%d more points)\n", len(values)-6)
			for _, v := range values[len(values)-3:] {
				fmt.Fprintf(&b, "  %s: %v\n", tsToStr(v[0]), v[1])
			}
		}
		b.WriteString("\n")
	}

	if len(results) > 20 {
		fmt.Fprintf(&b, "... and %d more series\n", len(results)-20)
	}

	return b.String()
}

func tsToStr(ts any) string {
	f, ok := ts.(float64)
	if !ok {
		return fmt.Sprintf("%v", ts)
	}
	return time.Unix(int64(f), 0).UTC().Format("2006-01-02 15:04:05")
}
