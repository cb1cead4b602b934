package fhir

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "FhirChat/internal/fhir"

// PatientQuery holds the optional Patient search parameters.
type PatientQuery struct {
	Family    string
	Given     string
	Email     string
	Birthdate string
	Gender    string
}

// Client issues search requests against a FHIR R4 base URL. It performs
// exactly one GET per call: no retries, no caching, no pagination.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	logger     *slog.Logger
	tracer     trace.Tracer
	meter      metric.Meter

	duration metric.Float64Histogram
	requests metric.Int64Counter
}

type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTimeout sets a per-request timeout on whichever HTTP client is in use.
// Zero means no timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(c *Client) {
		c.tracer = tracer
	}
}

func WithMeter(meter metric.Meter) Option {
	return func(c *Client) {
		c.meter = meter
	}
}

// NewClient creates a client for the FHIR server rooted at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("fhir: base URL must not be empty")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("fhir: invalid base URL: %w", err)
	}

	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	if c.timeout > 0 {
		// copy so the caller's client is left untouched
		hc := *c.httpClient
		hc.Timeout = c.timeout
		c.httpClient = &hc
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer(instrumentationName)
	}
	if c.meter == nil {
		c.meter = otel.Meter(instrumentationName)
	}

	var err error
	c.duration, err = c.meter.Float64Histogram(
		"http.client.request.duration",
		metric.WithDescription("FHIR request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}
	c.requests, err = c.meter.Int64Counter(
		"fhir.requests",
		metric.WithDescription("FHIR requests by resource type and outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request counter: %w", err)
	}

	return c, nil
}

// BaseURL returns the server root every request is issued against.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SearchPatient searches patients by any combination of demographics.
func (c *Client) SearchPatient(ctx context.Context, q PatientQuery) (*Bundle, error) {
	return c.search(ctx, ResourcePatient, "search patient",
		param{"family", q.Family},
		param{"given", q.Given},
		param{"email", q.Email},
		param{"birthdate", q.Birthdate},
		param{"gender", q.Gender},
	)
}

// GetCondition lists conditions recorded for a patient, optionally narrowed by code.
func (c *Client) GetCondition(ctx context.Context, subject, code string) (*Bundle, error) {
	return c.search(ctx, ResourceCondition, "fetch condition",
		param{"subject", subject},
		param{"code", code},
	)
}

// GetProcedure lists procedures for a patient, optionally narrowed by encounter and code.
func (c *Client) GetProcedure(ctx context.Context, subject, encounter, code string) (*Bundle, error) {
	return c.search(ctx, ResourceProcedure, "fetch procedure",
		param{"subject", subject},
		param{"encounter", encounter},
		param{"code", code},
	)
}

// GetEncounter lists encounters for a patient.
func (c *Client) GetEncounter(ctx context.Context, subject string) (*Bundle, error) {
	return c.search(ctx, ResourceEncounter, "fetch encounter",
		param{"subject", subject},
	)
}

// GetObservations lists observations for a patient, optionally narrowed by code and encounter.
func (c *Client) GetObservations(ctx context.Context, subject, code, encounter string) (*Bundle, error) {
	return c.search(ctx, ResourceObservation, "fetch observations",
		param{"subject", subject},
		param{"code", code},
		param{"encounter", encounter},
	)
}

// GetPrescription lists medication requests for a patient, optionally a single one by id.
func (c *Client) GetPrescription(ctx context.Context, subject, prescriptionID string) (*Bundle, error) {
	return c.search(ctx, ResourceMedicationRequest, "fetch prescription",
		param{"subject", subject},
		param{"prescriptionId", prescriptionID},
	)
}

type param struct {
	key   string
	value string
}

func (c *Client) searchURL(resource string, params []param) string {
	values := url.Values{}
	for _, p := range params {
		if p.value != "" {
			values.Add(p.key, p.value)
		}
	}
	u := c.baseURL + "/" + resource
	if len(values) > 0 {
		u += "?" + values.Encode()
	}
	return u
}

func (c *Client) search(ctx context.Context, resource, action string, params ...param) (*Bundle, error) {
	ctx, span := c.tracer.Start(ctx, "fhir."+resource,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("fhir.resource_type", resource)),
	)
	defer span.End()

	start := time.Now()
	bundle, err := c.do(ctx, resource, action, params)

	outcome := "ok"
	if err != nil {
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Error("fhir request failed", "resource", resource, "error", err)
	} else {
		span.SetAttributes(attribute.Int("fhir.total", bundle.Count()))
		c.logger.Debug("fhir request completed", "resource", resource, "total", bundle.Count())
	}

	attrs := metric.WithAttributes(
		attribute.String("fhir.resource_type", resource),
		attribute.String("outcome", outcome),
	)
	c.duration.Record(ctx, float64(time.Since(start).Milliseconds()), attrs)
	c.requests.Add(ctx, 1, attrs)

	return bundle, err
}

func (c *Client) do(ctx context.Context, resource, action string, params []param) (*Bundle, error) {
	target := c.searchURL(resource, params)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/fhir+json, application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{Action: action, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &FetchError{Action: action, StatusCode: resp.StatusCode, Status: statusText(resp)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{Action: action, StatusCode: resp.StatusCode, Err: err}
	}

	var bundle Bundle
	if err := json.Unmarshal(body, &bundle); err != nil {
		return nil, fmt.Errorf("failed to decode %s bundle: %w", resource, err)
	}
	return &bundle, nil
}
