// Package gateway is a payment.Processor talking to a Stripe-style payment
// intents API over HTTP.
package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xenking/storefront/internal/domain/payment"
)

var _ payment.Processor = (*Client)(nil)

// Config configures a Client.
type Config struct {
	BaseURL   string
	SecretKey string
}

// Client is a payment intents API client.
type Client struct {
	base *url.URL
	key  string
	http *http.Client
}

// Option configures a Client.
type Option func(*clientOptions)

type clientOptions struct {
	transport http.RoundTripper
	otel      []otelhttp.Option
}

// WithTransport overrides the base HTTP transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *clientOptions) { o.transport = rt }
}

// WithTracerProvider traces outgoing requests.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *clientOptions) { o.otel = append(o.otel, otelhttp.WithTracerProvider(tp)) }
}

// WithMeterProvider records client request metrics.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *clientOptions) { o.otel = append(o.otel, otelhttp.WithMeterProvider(mp)) }
}

// New creates a Client. Deadlines come from the caller's context; the client
// sets no timeout of its own.
func New(cfg Config, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, errors.Wrap(err, "parse base url")
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, errors.Errorf("invalid payment base url %q", cfg.BaseURL)
	}

	o := clientOptions{transport: http.DefaultTransport}
	for _, opt := range opts {
		opt(&o)
	}
	return &Client{
		base: base,
		key:  cfg.SecretKey,
		http: &http.Client{Transport: otelhttp.NewTransport(o.transport, o.otel...)},
	}, nil
}

// Capture creates and confirms a payment intent.
func (c *Client) Capture(ctx context.Context, req payment.Request) (*payment.Result, error) {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("amount", func(e *jx.Encoder) { e.Int64(req.Amount) })
		e.Field("currency", func(e *jx.Encoder) { e.Str(strings.ToLower(req.Currency)) })
		e.Field("confirm", func(e *jx.Encoder) { e.Bool(true) })
		if req.Description != "" {
			e.Field("description", func(e *jx.Encoder) { e.Str(req.Description) })
		}
		e.Field("metadata", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("order_id", func(e *jx.Encoder) { e.Str(req.OrderID) })
			})
		})
	})

	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("v1", "payment_intents"), bytes.NewReader(e.Bytes()))
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	hreq.Header.Set("Content-Type", "application/json")
	if req.IdempotencyKey != "" {
		hreq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	}
	return c.do(hreq)
}

// Lookup fetches a payment intent by id.
func (c *Client) Lookup(ctx context.Context, ref string) (*payment.Result, error) {
	hreq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("v1", "payment_intents", ref), http.NoBody)
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	return c.do(hreq)
}

func (c *Client) endpoint(parts ...string) string {
	u := *c.base
	u.Path = u.Path + "/" + strings.Join(parts, "/")
	return u.String()
}

// do sends the request and classifies the response. Only answers that prove
// no money moved become declines; everything else that fails is reported as
// payment.ErrOutcomeUnknown.
func (c *Client) do(req *http.Request) (*payment.Result, error) {
	req.Header.Set("Accept", "application/json")
	if c.key != "" {
		req.Header.Set("Authorization", "Bearer "+c.key)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(payment.ErrOutcomeUnknown, err.Error())
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.Wrap(payment.ErrOutcomeUnknown, "read body: "+err.Error())
	}

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		in, err := decodeIntent(jx.DecodeBytes(body))
		if err != nil {
			return nil, errors.Wrap(payment.ErrOutcomeUnknown, "decode intent: "+err.Error())
		}
		return in.result(), nil
	case resp.StatusCode == http.StatusPaymentRequired:
		apiErr, err := decodeError(body)
		if err != nil {
			return nil, errors.Wrap(payment.ErrOutcomeUnknown, "decode decline: "+err.Error())
		}
		res := &payment.Result{Status: payment.StatusFailed, DeclineReason: apiErr.reason()}
		if apiErr.Intent != nil {
			res.Ref = apiErr.Intent.ID
		}
		return res, nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusConflict:
		return nil, errors.Wrapf(payment.ErrOutcomeUnknown, "processor status %d", resp.StatusCode)
	default:
		apiErr, _ := decodeError(body)
		return nil, &APIError{StatusCode: resp.StatusCode, Code: apiErr.Code, Message: apiErr.Message}
	}
}

// APIError is a request the processor rejected outright.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("payment api: status %d: %s: %s", e.StatusCode, e.Code, e.Message)
}

// Unwrap reports every APIError as payment.ErrRejected.
func (e *APIError) Unwrap() error { return payment.ErrRejected }

type intent struct {
	ID          string
	Status      string
	RedirectURL string
	ErrorCode   string
}

func (in intent) result() *payment.Result {
	res := &payment.Result{Ref: in.ID}
	switch in.Status {
	case "succeeded":
		res.Status = payment.StatusSucceeded
	case "requires_action":
		res.Status = payment.StatusRequiresAction
		res.RedirectURL = in.RedirectURL
	case "canceled", "requires_payment_method":
		res.Status = payment.StatusFailed
		res.DeclineReason = in.ErrorCode
		if res.DeclineReason == "" {
			res.DeclineReason = in.Status
		}
	default:
		res.Status = payment.StatusProcessing
	}
	return res
}

func decodeIntent(d *jx.Decoder) (intent, error) {
	var in intent
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "id":
			in.ID, err = d.Str()
		case "status":
			in.Status, err = d.Str()
		case "next_action":
			err = decodeOptionalObj(d, func(d *jx.Decoder, key []byte) error {
				if string(key) != "redirect_to_url" {
					return d.Skip()
				}
				return decodeOptionalObj(d, func(d *jx.Decoder, key []byte) error {
					if string(key) != "url" {
						return d.Skip()
					}
					var err error
					in.RedirectURL, err = d.Str()
					return err
				})
			})
		case "last_payment_error":
			err = decodeOptionalObj(d, func(d *jx.Decoder, key []byte) error {
				if string(key) != "code" {
					return d.Skip()
				}
				var err error
				in.ErrorCode, err = d.Str()
				return err
			})
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return intent{}, err
	}
	if in.ID == "" {
		return intent{}, errors.New("intent without id")
	}
	return in, nil
}

type apiError struct {
	Code        string
	DeclineCode string
	Message     string
	Intent      *intent
}

func (e apiError) reason() string {
	if e.DeclineCode != "" {
		return e.DeclineCode
	}
	if e.Code != "" {
		return e.Code
	}
	return "declined"
}

func decodeError(body []byte) (apiError, error) {
	var out apiError
	err := jx.DecodeBytes(body).ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) != "error" {
			return d.Skip()
		}
		return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
			var err error
			switch string(key) {
			case "code":
				out.Code, err = d.Str()
			case "decline_code":
				out.DeclineCode, err = d.Str()
			case "message":
				out.Message, err = d.Str()
			case "payment_intent":
				var in intent
				if in, err = decodeIntent(d); err == nil {
					out.Intent = &in
				}
			default:
				err = d.Skip()
			}
			return err
		})
	})
	return out, err
}

// decodeOptionalObj decodes an object field that may be null.
func decodeOptionalObj(d *jx.Decoder, f func(d *jx.Decoder, key []byte) error) error {
	if d.Next() == jx.Null {
		return d.Null()
	}
	return d.ObjBytes(f)
}
