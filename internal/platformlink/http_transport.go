package platformlink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/atlas-desktop/executor-core/pkg/types"
)

// HTTPTransport is the production Transport: it reports trades and
// heartbeats to the platform backend over plain HTTP and long-polls for
// inbound commands. Retry and circuit-breaking live one layer up in Link —
// this type makes a single attempt per call and returns whatever error it
// gets, the same division of labor as Link's own Transport.
type HTTPTransport struct {
	log        *zap.Logger
	http       *http.Client
	baseURL    string
	apiKey     string
	executorID string

	pollLimiter *rate.Limiter
	commands    chan types.Command

	cancel context.CancelFunc
}

// HTTPTransportConfig bundles the connection details for HTTPTransport.
type HTTPTransportConfig struct {
	BaseURL        string
	ApiKey         string
	ExecutorID     string
	RequestTimeout time.Duration
	PollInterval   time.Duration
}

// NewHTTPTransport builds an HTTPTransport and starts its command poll loop.
// Call Close to stop polling.
func NewHTTPTransport(log *zap.Logger, cfg HTTPTransportConfig) *HTTPTransport {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &HTTPTransport{
		log:         log.Named("platformlink.http"),
		http:        &http.Client{Timeout: cfg.RequestTimeout},
		baseURL:     cfg.BaseURL,
		apiKey:      cfg.ApiKey,
		executorID:  cfg.ExecutorID,
		pollLimiter: rate.NewLimiter(rate.Every(cfg.PollInterval), 1),
		commands:    make(chan types.Command, 32),
		cancel:      cancel,
	}
	go t.pollLoop(ctx, cfg.PollInterval)
	return t
}

// Close stops the poll loop and closes the Commands channel.
func (t *HTTPTransport) Close() {
	t.cancel()
}

func (t *HTTPTransport) Commands() <-chan types.Command { return t.commands }

func (t *HTTPTransport) pollLoop(ctx context.Context, interval time.Duration) {
	defer close(t.commands)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := t.pollLimiter.Wait(ctx); err != nil {
				return
			}
			cmds, err := t.fetchPendingCommands(ctx)
			if err != nil {
				t.log.Warn("poll for commands failed", zap.Error(err))
				continue
			}
			for _, cmd := range cmds {
				select {
				case t.commands <- cmd:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

func (t *HTTPTransport) fetchPendingCommands(ctx context.Context) ([]types.Command, error) {
	var cmds []types.Command
	url := fmt.Sprintf("%s/executors/%s/commands", t.baseURL, t.executorID)
	err := t.get(ctx, url, &cmds)
	return cmds, err
}

func (t *HTTPTransport) ReportTrade(ctx context.Context, event types.TradeEvent) error {
	url := fmt.Sprintf("%s/executors/%s/trades", t.baseURL, t.executorID)
	return t.post(ctx, url, event, nil)
}

func (t *HTTPTransport) ReportHeartbeat(ctx context.Context, snapshot types.HeartbeatSnapshot) error {
	url := fmt.Sprintf("%s/executors/%s/heartbeat", t.baseURL, t.executorID)
	return t.post(ctx, url, snapshot, nil)
}

func (t *HTTPTransport) FetchStrategy(ctx context.Context, strategyID string) (types.StrategyConfig, error) {
	var cfg types.StrategyConfig
	url := fmt.Sprintf("%s/strategies/%s", t.baseURL, strategyID)
	err := t.get(ctx, url, &cfg)
	return cfg, err
}

func (t *HTTPTransport) AvailableStrategies(ctx context.Context) ([]types.StrategyConfig, error) {
	var configs []types.StrategyConfig
	url := fmt.Sprintf("%s/executors/%s/strategies/available", t.baseURL, t.executorID)
	err := t.get(ctx, url, &configs)
	return configs, err
}

func (t *HTTPTransport) get(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	return t.do(req, out)
}

func (t *HTTPTransport) post(ctx context.Context, url string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return t.do(req, out)
}

func (t *HTTPTransport) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.apiKey)

	resp, err := t.http.Do(req)
	if err != nil {
		return fmt.Errorf("platform request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("platform returned %d: %s", resp.StatusCode, string(body))
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode platform response: %w", err)
	}
	return nil
}
