package playstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/jwt"

	"github.com/fatflowers/entitlement/pkg/metrics"
)

// AndroidPublisherScope limits the service-account grant to the publisher API.
const AndroidPublisherScope = "https://www.googleapis.com/auth/androidpublisher"

const defaultAPIBaseURL = "https://androidpublisher.googleapis.com"

var (
	// ErrNotConfigured means no service-account credentials were provided.
	ErrNotConfigured = errors.New("google play credentials are not configured")
	// ErrAuth wraps failures of the OAuth token exchange.
	ErrAuth = errors.New("google play oauth token exchange failed")
	// ErrRequest wraps transport failures of the subscription lookup.
	ErrRequest = errors.New("google play request failed")
)

// APIError is a non-200 answer of the publisher API. Body holds the raw response text.
type APIError struct {
	StatusCode int
	Reason     string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("google play api status %d (%s): %s", e.StatusCode, e.Reason, e.Body)
}

// PermissionDenied reports a 401 whose reason is permissionDenied.
func (e *APIError) PermissionDenied() bool {
	return e.StatusCode == 401 && strings.EqualFold(e.Reason, "permissionDenied")
}

// https://developers.google.com/android-publisher/api-ref/rest/v3/purchases.subscriptions
type SubscriptionPurchase struct {
	Kind                 string `json:"kind"`
	StartTimeMillis      string `json:"startTimeMillis"`
	ExpiryTimeMillis     string `json:"expiryTimeMillis"`
	AutoRenewing         bool   `json:"autoRenewing"`
	OrderID              string `json:"orderId"`
	PurchaseState        *int   `json:"purchaseState,omitempty"`
	PaymentState         *int   `json:"paymentState,omitempty"`
	CancelReason         *int   `json:"cancelReason,omitempty"`
	PurchaseType         *int   `json:"purchaseType,omitempty"`
	LinkedPurchaseToken  string `json:"linkedPurchaseToken,omitempty"`
	AcknowledgementState int    `json:"acknowledgementState"`
}

func (p *SubscriptionPurchase) ExpiresAt() *time.Time {
	return millis(p.ExpiryTimeMillis)
}

func (p *SubscriptionPurchase) StartedAt() *time.Time {
	return millis(p.StartTimeMillis)
}

// OriginalOrderID strips the "..N" renewal suffix so all renewals share one id.
func (p *SubscriptionPurchase) OriginalOrderID() string {
	if i := strings.Index(p.OrderID, ".."); i > 0 {
		return p.OrderID[:i]
	}
	return p.OrderID
}

func millis(s string) *time.Time {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v <= 0 {
		return nil
	}
	t := time.UnixMilli(v).UTC()
	return &t
}

type Options struct {
	PackageName string
	// ServiceAccountJSON is the downloaded key file; it wins over ClientEmail/PrivateKey.
	ServiceAccountJSON string
	ClientEmail        string
	PrivateKey         string
	TokenURL           string
	APIBaseURL         string
	HTTPClient         *resty.Client
}

// Client looks up subscription purchases through the Android Publisher REST API.
type Client struct {
	http        *resty.Client
	baseURL     string
	packageName string
	tokens      oauth2.TokenSource
}

func NewClient(opts Options) (*Client, error) {
	c := &Client{
		http:        opts.HTTPClient,
		baseURL:     strings.TrimRight(opts.APIBaseURL, "/"),
		packageName: opts.PackageName,
	}
	if c.http == nil {
		c.http = resty.New().SetTimeout(30 * time.Second)
	}
	if c.baseURL == "" {
		c.baseURL = defaultAPIBaseURL
	}

	var cfg *jwt.Config
	switch {
	case opts.ServiceAccountJSON != "":
		parsed, err := google.JWTConfigFromJSON([]byte(opts.ServiceAccountJSON), AndroidPublisherScope)
		if err != nil {
			return nil, fmt.Errorf("parse service account json: %w", err)
		}
		cfg = parsed
	case opts.ClientEmail != "" && opts.PrivateKey != "":
		cfg = &jwt.Config{
			Email:      opts.ClientEmail,
			PrivateKey: []byte(strings.ReplaceAll(opts.PrivateKey, `\n`, "\n")),
			Scopes:     []string{AndroidPublisherScope},
			TokenURL:   google.JWTTokenURL,
		}
	default:
		return c, nil
	}
	if opts.TokenURL != "" {
		cfg.TokenURL = opts.TokenURL
	}
	cfg.Expires = time.Hour
	c.tokens = cfg.TokenSource(context.Background())
	return c, nil
}

func (c *Client) Configured() bool {
	return c != nil && c.tokens != nil
}

// GetSubscription fetches one subscription purchase. packageName falls back to the configured one.
func (c *Client) GetSubscription(ctx context.Context, packageName, productID, purchaseToken string) (*SubscriptionPurchase, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	if packageName == "" {
		packageName = c.packageName
	}

	tok, err := c.tokens.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuth, err)
	}

	endpoint := fmt.Sprintf("%s/androidpublisher/v3/applications/%s/purchases/subscriptions/%s/tokens/%s",
		c.baseURL, url.PathEscape(packageName), url.PathEscape(productID), url.PathEscape(purchaseToken))
	start := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(tok.AccessToken).
		Get(endpoint)
	if err != nil {
		metrics.ObserveVendorRequest("google", "subscriptions_get", 0, start)
		return nil, fmt.Errorf("%w: %v", ErrRequest, err)
	}
	metrics.ObserveVendorRequest("google", "subscriptions_get", resp.StatusCode(), start)
	if resp.StatusCode() != 200 {
		return nil, &APIError{StatusCode: resp.StatusCode(), Reason: errorReason(resp.Body()), Body: resp.String()}
	}

	var out SubscriptionPurchase
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrRequest, err)
	}
	return &out, nil
}

type googleError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
		Errors  []struct {
			Reason string `json:"reason"`
		} `json:"errors"`
	} `json:"error"`
}

func errorReason(body []byte) string {
	var ge googleError
	if err := json.Unmarshal(body, &ge); err != nil {
		return ""
	}
	for _, e := range ge.Error.Errors {
		if e.Reason != "" {
			return e.Reason
		}
	}
	return ge.Error.Status
}
