package services

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/mochaeng/payment-router/internal/config"
	"github.com/mochaeng/payment-router/internal/constants"
	"github.com/mochaeng/payment-router/internal/models"
	"github.com/valyala/fasthttp"
)

// Processor is the outbound contract of the two payment backends.
type Processor interface {
	Pay(ctx context.Context, processor constants.Source, payment models.PaymentProcessorRequest) error
	Health(ctx context.Context, processor constants.Source) (models.HealthResponse, error)
}

type ProcessorClient struct {
	httpClient     *fasthttp.Client
	urls           map[constants.Source]*config.ProcessorsConfig
	token          string
	requestTimeout time.Duration
	healthTimeout  time.Duration
}

func NewProcessorClient(cfg *config.Config) *ProcessorClient {
	return &ProcessorClient{
		httpClient: &fasthttp.Client{
			Name:                "payment-router",
			MaxConnsPerHost:     512,
			MaxIdleConnDuration: 30 * time.Second,
			MaxConnWaitTimeout:  time.Second,
			ReadTimeout:         cfg.RequestTimeout,
			WriteTimeout:        cfg.RequestTimeout,
		},
		urls:           cfg.Urls,
		token:          cfg.Token,
		requestTimeout: cfg.RequestTimeout,
		healthTimeout:  cfg.HealthTimeout,
	}
}

func (c *ProcessorClient) Pay(ctx context.Context, processor constants.Source, payment models.PaymentProcessorRequest) error {
	urls, ok := c.urls[processor]
	if !ok {
		return fmt.Errorf("unknown processor %q", processor)
	}

	reqBody, err := json.Marshal(payment)
	if err != nil {
		return fmt.Errorf("failed to marshal payment request: %w", err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(urls.PaymentURL)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	c.setToken(req)
	req.SetBody(reqBody)

	if err := c.do(ctx, req, resp, c.requestTimeout); err != nil {
		return &models.DeliveryError{Err: err}
	}

	if code := resp.StatusCode(); code < 200 || code >= 300 {
		return &models.DeliveryError{StatusCode: code}
	}
	return nil
}

func (c *ProcessorClient) Health(ctx context.Context, processor constants.Source) (models.HealthResponse, error) {
	var health models.HealthResponse

	urls, ok := c.urls[processor]
	if !ok {
		return health, fmt.Errorf("unknown processor %q", processor)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(urls.HealthURL)
	req.Header.SetMethod(fasthttp.MethodGet)
	c.setToken(req)

	if err := c.do(ctx, req, resp, c.healthTimeout); err != nil {
		return health, fmt.Errorf("%w: %w", models.ErrHealthCheck, err)
	}

	if code := resp.StatusCode(); code != fasthttp.StatusOK {
		return health, fmt.Errorf("%w: status %d", models.ErrHealthCheck, code)
	}

	if err := json.Unmarshal(resp.Body(), &health); err != nil {
		return health, fmt.Errorf("%w: %w", models.ErrHealthCheck, err)
	}
	return health, nil
}

func (c *ProcessorClient) setToken(req *fasthttp.Request) {
	if c.token != "" {
		req.Header.Set(constants.TokenHeader, c.token)
	}
}

// do bounds the call by timeout or the context deadline, whichever is first.
func (c *ProcessorClient) do(ctx context.Context, req *fasthttp.Request, resp *fasthttp.Response, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	return c.httpClient.DoDeadline(req, resp, deadline)
}
