// Package erp is a client for the JSON-RPC endpoints of the institution's ERP portal.
//
// The client holds no session state, every call carries the Session it runs as,
// so a single Client may be shared by concurrent runs for different users.
package erp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
	"vastfeedback/internal/components/assert"
	"vastfeedback/internal/components/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
)

var tracer = otel.Tracer("erp")

const (
	report_client_call         = "client.call"
	report_client_remote_fault = "client.remote-fault"
	report_client_login        = "client.login"
)

// ErrNoSession is returned by Call when the session carries no token.
var ErrNoSession = fmt.Errorf("no session, log in first")

type Options struct {
	BaseUrl string `json:"base_url"`
	// Database is the portal database name sent on login.
	Database string `json:"database"`
	// TimeoutSeconds bounds every remote call, 0 means 60 seconds.
	TimeoutSeconds int `json:"timeout_seconds"`
	// RequestsPerSecond limits outbound requests across all users of the client,
	// 0 disables the limit.
	RequestsPerSecond float64 `json:"requests_per_second"`
	// CloudflareBypass wraps the transport with a browser-like TLS configuration.
	CloudflareBypass bool `json:"cloudflare_bypass"`
}

func DefaultOptions() Options {
	return Options{
		BaseUrl:           "https://erp.vidyaacademy.ac.in",
		Database:          "liveone",
		TimeoutSeconds:    60,
		RequestsPerSecond: 2,
	}
}

type Client struct {
	BaseUrl  *url.URL
	Http     *resty.Client
	database string

	tel telemetry.API
}

func NewClient(opts Options, tel telemetry.API) (*Client, error) {
	assert.NotNil(tel, "telemetry")
	assert.NotEmptyStr(opts.BaseUrl, "erp base url")

	tel = telemetry.NewScopedAPI("erp", tel)

	baseUrl, err := url.Parse(strings.TrimSuffix(opts.BaseUrl, "/"))
	if err != nil {
		return nil, err
	}

	timeout := time.Duration(opts.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = time.Minute
	}

	httpClient := resty.New()
	// the client is shared by every user's run, the session travels only in
	// the per-call sid cookie header
	httpClient.SetCookieJar(nil)
	httpClient.SetBaseURL(baseUrl.String())
	httpClient.SetTimeout(timeout)
	httpClient.SetHeader("content-type", "application/json")
	httpClient.SetHeader("user-agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36")
	httpClient.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(baseUrl.Hostname()))
	if opts.CloudflareBypass {
		httpClient.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(httpClient.GetClient().Transport)
	}

	telemetry.InstrumentResty(httpClient, tel)

	if opts.RequestsPerSecond > 0 {
		// a burst of 1 keeps calls spaced out, the portal is sensitive to bursts of writes
		rateLimiter := rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
		httpClient.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
			return rateLimiter.Wait(req.Context())
		})
	}

	return &Client{
		BaseUrl:  baseUrl,
		Http:     httpClient,
		database: opts.Database,
		tel:      tel,
	}, nil
}

type rpcRequest struct {
	Jsonrpc string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// post sends one envelope to /web<path> and decodes the envelope of the response,
// application-level faults are left in rpcResponse.Error for the caller.
func (c *Client) post(ctx context.Context, path string, params any, sid string) (*resty.Response, rpcResponse, error) {
	req := c.Http.R().
		SetContext(ctx).
		SetBody(rpcRequest{
			Jsonrpc: "2.0",
			Method:  "call",
			Params:  params,
		})
	if sid != "" {
		req.SetHeader("Cookie", fmt.Sprintf("sid=%s", sid))
	}

	res, err := req.Post("/web" + path)
	if err != nil {
		return nil, rpcResponse{}, &TransportFault{Path: path, Err: err}
	}

	var parsed rpcResponse
	err = json.Unmarshal(res.Body(), &parsed)
	if err != nil {
		return res, rpcResponse{}, &TransportFault{
			Path:   path,
			Status: res.StatusCode(),
			Err:    fmt.Errorf("unmarshal response: %s", describeBody(res)),
		}
	}
	if parsed.Error == nil && res.StatusCode() != http.StatusOK {
		return res, rpcResponse{}, &TransportFault{
			Path:   path,
			Status: res.StatusCode(),
			Err:    fmt.Errorf("unexpected status %s", res.Status()),
		}
	}

	return res, parsed, nil
}

// Call performs a single JSON-RPC call against /web<path> as the given session and
// decodes the result into out (which may be nil to discard it).
//
// Calls are never retried, the portal's writes and button actions are not idempotent.
func (c *Client) Call(ctx context.Context, path string, params any, session Session, out any) error {
	ctx, span := tracer.Start(ctx, "erp:Call")
	defer span.End()
	span.SetAttributes(attribute.String("path", path))

	if session.Token == "" {
		span.SetStatus(codes.Error, ErrNoSession.Error())
		return ErrNoSession
	}

	_, res, err := c.post(ctx, path, params, session.Token)
	if err != nil {
		c.tel.ReportBroken(report_client_call, err, path)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to call portal")
		return err
	}

	if res.Error != nil {
		fault := &RemoteFault{
			Code:    res.Error.Code,
			Message: res.Error.Message,
			Data:    res.Error.Data,
		}
		c.tel.ReportBroken(
			report_client_remote_fault,
			path,
			fault.Code,
			fault.Message,
			string(fault.Data),
		)
		span.SetStatus(codes.Error, fault.Message)
		return fault
	}

	if out == nil {
		return nil
	}
	err = json.Unmarshal(res.Result, out)
	if err != nil {
		err = &TransportFault{Path: path, Err: fmt.Errorf("unmarshal result: %w", err)}
		c.tel.ReportBroken(report_client_call, err, path)
		span.SetStatus(codes.Error, "failed to decode result")
		return err
	}
	return nil
}
