package components

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/Scopeo/draftnrun/internal/governance"
	"github.com/Scopeo/draftnrun/pkg/domain"
	"github.com/Scopeo/draftnrun/pkg/engine"
	"github.com/Scopeo/draftnrun/pkg/engine/expr"
	"github.com/Scopeo/draftnrun/pkg/engine/runtime"
)

// maxResponseBytes caps how much of an upstream response body a call
// will buffer into the graph.
const maxResponseBytes = 8 << 20

// httpCallComponent performs one outbound HTTP request per run. The
// endpoint, method and static headers bind at construction; body and
// query parameters bind per run. Requests go through an OpenTelemetry
// instrumented transport, a circuit breaker keyed to this instance, and
// an optional token-bucket limiter.
//
// A 5xx status is treated as an upstream failure (it fails the node and
// counts against the breaker); 4xx responses pass through as outputs so
// downstream nodes can react to them.
type httpCallComponent struct {
	endpoint *url.URL
	method   string
	headers  http.Header
	client   *http.Client
	breaker  *governance.Breaker
	limiter  *governance.Limiter
	logger   *slog.Logger
}

func httpCallRegistration() engine.Registration {
	definition := domain.ComponentDefinition{
		Type:        TypeHTTPCall,
		Description: "Calls an HTTP endpoint with circuit breaking and rate limiting.",
		Parameters: []domain.ParameterDefinition{
			{Name: "url", Type: domain.ParamString, Phases: []domain.ResolutionPhase{domain.PhaseConstructor}},
			{Name: "method", Type: domain.ParamString, Default: "GET", Phases: []domain.ResolutionPhase{domain.PhaseConstructor}},
			{Name: "headers", Type: domain.ParamJSON, Nullable: true, Phases: []domain.ResolutionPhase{domain.PhaseConstructor}},
			{Name: "timeout_ms", Type: domain.ParamInt, Default: 10000, Phases: []domain.ResolutionPhase{domain.PhaseConstructor}},
			{Name: "max_failures", Type: domain.ParamInt, Default: 5, Phases: []domain.ResolutionPhase{domain.PhaseConstructor}},
			{Name: "rps", Type: domain.ParamInt, Default: 0, Phases: []domain.ResolutionPhase{domain.PhaseConstructor}},
			{Name: "burst", Type: domain.ParamInt, Default: 0, Phases: []domain.ResolutionPhase{domain.PhaseConstructor}},
			{Name: "body", Type: domain.ParamJSON, Nullable: true, Phases: []domain.ResolutionPhase{domain.PhaseRuntime}},
			{Name: "query", Type: domain.ParamJSON, Nullable: true, Phases: []domain.ResolutionPhase{domain.PhaseRuntime}},
		},
		Ports: []domain.PortDefinition{
			{Name: "body", Direction: domain.PortOut, Canonical: true},
			{Name: "status", Direction: domain.PortOut},
			{Name: "headers", Direction: domain.PortOut},
		},
	}

	return engine.Registration{
		Definition: definition,
		Factory:    newHTTPCallComponent,
		Processors: []engine.ParamProcessor{
			engine.ExpandEnvProcessor(),
			engine.DefaultsProcessor(definition),
		},
	}
}

func newHTTPCallComponent(_ context.Context, args map[string]any) (runtime.Component, error) {
	rawURL := stringArg(args, "url", "")
	if rawURL == "" {
		return nil, fmt.Errorf("http_call: url is required")
	}
	endpoint, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("http_call: invalid url: %w", err)
	}
	if endpoint.Scheme != "http" && endpoint.Scheme != "https" {
		return nil, fmt.Errorf("http_call: unsupported scheme %q", endpoint.Scheme)
	}

	method := strings.ToUpper(stringArg(args, "method", http.MethodGet))

	headers := make(http.Header)
	for name, value := range mapArg(args, "headers") {
		switch v := value.(type) {
		case string:
			headers.Set(name, v)
		case []any:
			for _, item := range v {
				headers.Add(name, expr.Stringify(item))
			}
		default:
			headers.Set(name, expr.Stringify(v))
		}
	}

	timeout := time.Duration(intArg(args, "timeout_ms", 10000)) * time.Millisecond

	var limiter *governance.Limiter
	if rps := intArg(args, "rps", 0); rps > 0 {
		limiter = governance.NewLimiter(rps, intArg(args, "burst", 0))
	}

	return &httpCallComponent{
		endpoint: endpoint,
		method:   method,
		headers:  headers,
		client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   timeout,
		},
		breaker: governance.NewBreaker(governance.BreakerConfig{
			MaxFailures: intArg(args, "max_failures", 5),
		}),
		limiter: limiter,
		logger:  slog.Default(),
	}, nil
}

func (c *httpCallComponent) Run(ctx context.Context, inputs map[string]any) (map[string]any, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	var outputs map[string]any
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		result, callErr := c.call(ctx, inputs)
		if callErr != nil {
			return callErr
		}
		outputs = result
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outputs, nil
}

func (c *httpCallComponent) call(ctx context.Context, inputs map[string]any) (map[string]any, error) {
	target := *c.endpoint
	if query := mapArg(inputs, "query"); len(query) > 0 {
		values := target.Query()
		for key, value := range query {
			values.Set(key, expr.Stringify(value))
		}
		target.RawQuery = values.Encode()
	}

	var reader io.Reader
	body, hasBody := inputs["body"]
	if hasBody && body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("http_call: encode body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, c.method, target.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("http_call: build request: %w", err)
	}
	for name, values := range c.headers {
		req.Header[name] = append([]string(nil), values...)
	}
	if reader != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http_call: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("http_call: read response: %w", err)
	}
	if len(data) > maxResponseBytes {
		return nil, fmt.Errorf("http_call: response exceeds %d bytes", maxResponseBytes)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("http_call: upstream status %d", resp.StatusCode)
	}

	headerMap := make(map[string]any, len(resp.Header))
	for name, values := range resp.Header {
		headerMap[name] = strings.Join(values, ", ")
	}

	if info, ok := runtime.InfoFromContext(ctx); ok {
		c.logger.Debug("http call completed",
			"node_id", info.NodeID,
			"run_id", info.RunID,
			"status", resp.StatusCode,
			"url", target.String(),
		)
	}

	return map[string]any{
		"status":  resp.StatusCode,
		"body":    parseResponseBody(resp.Header.Get("Content-Type"), data),
		"headers": headerMap,
	}, nil
}

// parseResponseBody decodes JSON responses into structured values so
// downstream references can address into them; anything else (and
// malformed JSON) stays a string.
func parseResponseBody(contentType string, data []byte) any {
	if len(data) == 0 {
		return ""
	}
	if strings.Contains(contentType, "json") {
		var parsed any
		if err := json.Unmarshal(data, &parsed); err == nil {
			return parsed
		}
	}
	return string(data)
}
