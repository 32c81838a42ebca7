package apple_iap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/awa/go-iap/appstore"

	"github.com/fatflowers/entitlement/pkg/metrics"
	"github.com/fatflowers/entitlement/pkg/types"
)

// https://developer.apple.com/documentation/appstorereceipts/status
const (
	StatusOK                   = 0
	StatusSandboxReceiptOnProd = 21007
	StatusProdReceiptOnSandbox = 21008
)

var statusMessages = map[int]string{
	21000: "The request to the App Store was not made using the HTTP POST request method.",
	21001: "This status code is no longer sent by the App Store.",
	21002: "The data in the receipt-data property was malformed or the service experienced a temporary issue.",
	21003: "The receipt could not be authenticated.",
	21004: "The shared secret you provided does not match the shared secret on file for your account.",
	21005: "The receipt server was temporarily unable to provide the receipt.",
	21006: "This receipt is valid but the subscription has expired.",
	21007: "This receipt is from the test environment, but it was sent to the production environment for verification.",
	21008: "This receipt is from the production environment, but it was sent to the test environment for verification.",
	21009: "Internal data access error.",
	21010: "The user account cannot be found or has been deleted.",
}

// StatusMessage returns the human readable text of a verifyReceipt status code.
func StatusMessage(status int) string {
	if msg, ok := statusMessages[status]; ok {
		return msg
	}
	if status >= 21100 && status <= 21199 {
		return "Internal data access error."
	}
	return fmt.Sprintf("Unknown receipt status %d.", status)
}

// StatusError is a non-zero verifyReceipt status.
type StatusError struct {
	Status      int
	Environment types.Environment
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("apple receipt status %d (%s): %s", e.Status, e.Environment, StatusMessage(e.Status))
}

// ErrRequest wraps transport failures talking to the receipt endpoints.
var ErrRequest = errors.New("apple receipt request failed")

// Latest returns the entry with the furthest expiry, preferring latest_receipt_info over receipt.in_app.
func Latest(resp *appstore.IAPResponse) *appstore.InApp {
	items := resp.LatestReceiptInfo
	if len(items) == 0 {
		items = resp.Receipt.InApp
	}
	if len(items) == 0 {
		return nil
	}
	sorted := append([]appstore.InApp(nil), items...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sortKey(&sorted[i]) > sortKey(&sorted[j])
	})
	return &sorted[0]
}

// FindTransaction returns the receipt entry carrying transactionID, if any.
func FindTransaction(resp *appstore.IAPResponse, transactionID string) *appstore.InApp {
	for _, items := range [][]appstore.InApp{resp.LatestReceiptInfo, resp.Receipt.InApp} {
		for i := range items {
			if items[i].TransactionID == transactionID {
				return &items[i]
			}
		}
	}
	return nil
}

// ExpiresAt returns nil for non-expiring purchases.
func ExpiresAt(item *appstore.InApp) *time.Time {
	return msToTime(item.ExpiresDateMS)
}

func PurchasedAt(item *appstore.InApp) *time.Time {
	return msToTime(item.PurchaseDateMS)
}

func sortKey(item *appstore.InApp) int64 {
	if v, err := strconv.ParseInt(item.ExpiresDateMS, 10, 64); err == nil {
		return v
	}
	v, _ := strconv.ParseInt(item.PurchaseDateMS, 10, 64)
	return v
}

func msToTime(ms string) *time.Time {
	if ms == "" {
		return nil
	}
	v, err := strconv.ParseInt(ms, 10, 64)
	if err != nil || v <= 0 {
		return nil
	}
	t := time.UnixMilli(v).UTC()
	return &t
}

type ReceiptClientOptions struct {
	ProductionURL string
	SandboxURL    string
	SharedSecret  string
	HTTPClient    *http.Client
}

// ReceiptClient verifies legacy base64 receipts against the verifyReceipt endpoints.
type ReceiptClient struct {
	iap          *appstore.Client
	sharedSecret string
}

func NewReceiptClient(opts ReceiptClientOptions) *ReceiptClient {
	hc := http.Client{Timeout: 30 * time.Second}
	if opts.HTTPClient != nil {
		hc = *opts.HTTPClient
	}
	iap := appstore.NewWithClient(&hc)
	if opts.ProductionURL != "" {
		iap.ProductionURL = opts.ProductionURL
	}
	if opts.SandboxURL != "" {
		iap.SandboxURL = opts.SandboxURL
	}
	hc.Transport = newMeteredTransport(hc.Transport, iap.SandboxURL)
	return &ReceiptClient{iap: iap, sharedSecret: opts.SharedSecret}
}

type ReceiptResult struct {
	Environment types.Environment
	Response    *appstore.IAPResponse
}

// Verify posts the receipt to production; appstore.Client retries sandbox exactly once on 21007.
func (c *ReceiptClient) Verify(ctx context.Context, receiptData string) (*ReceiptResult, error) {
	trace := &verifyTrace{}
	var resp appstore.IAPResponse
	err := c.iap.Verify(withTrace(ctx, trace), appstore.IAPRequest{
		ReceiptData:            receiptData,
		Password:               c.sharedSecret,
		ExcludeOldTransactions: true,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequest, err)
	}

	env := types.EnvironmentProduction
	if trace.sandbox || resp.Environment == appstore.Sandbox {
		env = types.EnvironmentSandbox
	}
	if resp.Status != StatusOK {
		return nil, &StatusError{Status: resp.Status, Environment: env}
	}
	return &ReceiptResult{Environment: env, Response: &resp}, nil
}

type verifyTrace struct {
	sandbox bool
}

type traceKey struct{}

func withTrace(ctx context.Context, t *verifyTrace) context.Context {
	return context.WithValue(ctx, traceKey{}, t)
}

// meteredTransport records vendor latency and notes which verifyReceipt host answered.
type meteredTransport struct {
	base    http.RoundTripper
	sandbox *url.URL
}

func newMeteredTransport(base http.RoundTripper, sandboxURL string) *meteredTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	sb, _ := url.Parse(sandboxURL)
	return &meteredTransport{base: base, sandbox: sb}
}

func (t *meteredTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	endpoint := "verify_receipt"
	if t.sandbox != nil && req.URL.Host == t.sandbox.Host && req.URL.Path == t.sandbox.Path {
		endpoint = "verify_receipt_sandbox"
		if tr, ok := req.Context().Value(traceKey{}).(*verifyTrace); ok {
			tr.sandbox = true
		}
	}

	start := time.Now()
	resp, err := t.base.RoundTrip(req)
	code := 0
	if resp != nil {
		code = resp.StatusCode
	}
	metrics.ObserveVendorRequest("apple", endpoint, code, start)
	return resp, err
}
