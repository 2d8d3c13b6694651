// Package indexerclient implements the rate-limited, retrying, paginated
// HTTP reader against the chain indexer (spec.md §4.2, §6). Transport is
// plain net/http + encoding/json, matching the teacher's own idiom for
// external HTTP calls (internal/market/defillama.go's request-building
// style); rate limiting is golang.org/x/time/rate, matching the teacher's
// flow.Client.limiter.
package indexerclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

var log = logrus.WithField("component", "indexerclient")

// Config tunes rate limiting, retries, and pagination.
type Config struct {
	BaseURL        string
	PageSize       int
	RetryAttempts  int
	RetryBaseDelay time.Duration
	RateLimitEvery time.Duration // minimum spacing between requests
	HTTPTimeout    time.Duration
}

func (c Config) withDefaults() Config {
	if c.PageSize <= 0 {
		c.PageSize = 1000
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 5
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = time.Second
	}
	if c.RateLimitEvery <= 0 {
		c.RateLimitEvery = 100 * time.Millisecond
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 30 * time.Second
	}
	return c
}

// Client is the indexer HTTP reader.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
}

func New(cfg Config) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.HTTPTimeout},
		limiter: rate.NewLimiter(rate.Every(cfg.RateLimitEvery), 1),
	}
}

// Transaction is the JSON shape documented in spec.md §6.
type Transaction struct {
	ID        int64  `json:"id"`
	Hash      string `json:"hash"`
	Level     int64  `json:"level"`
	Timestamp string `json:"timestamp"`
	Sender    struct {
		Address string `json:"address"`
	} `json:"sender"`
	Target struct {
		Address string `json:"address"`
	} `json:"target"`
	Amount    int64  `json:"amount"`
	Parameter *struct {
		Entrypoint string          `json:"entrypoint"`
		Value      json.RawMessage `json:"value"`
	} `json:"parameter"`
	Status       string `json:"status"`
	HasInternals bool   `json:"hasInternals"`
}

// TokenTransfer is the JSON shape of a token-transfers list row.
type TokenTransfer struct {
	ID        int64  `json:"id"`
	Level     int64  `json:"level"`
	Timestamp string `json:"timestamp"`
	Token     struct {
		Contract struct {
			Address string `json:"address"`
		} `json:"contract"`
		TokenID  string `json:"tokenId"`
		Standard string `json:"standard"`
	} `json:"token"`
	From *struct {
		Address string `json:"address"`
	} `json:"from"`
	To *struct {
		Address string `json:"address"`
	} `json:"to"`
	Amount        string `json:"amount"`
	TransactionID *int64 `json:"transactionId"`
}

// BalanceSnapshot is the result of the balance-history-at-timestamp lookup.
type BalanceSnapshot struct {
	Balance   int64  `json:"balance"`
	Level     int64  `json:"level"`
	Timestamp string `json:"timestamp"`
}

// TxFilter parameterizes the transactions-list endpoint (spec.md §6).
type TxFilter struct {
	Targets       []string
	Senders       []string
	Entrypoints   []string
	WindowStart   time.Time
	WindowEnd     time.Time
	AmountGT      *int64
	AfterID       int64
}

// IterateTransactions yields successive pages of transactions matching
// filter, sorted ascending by id, starting after filter.AfterID. Each page
// has at most cfg.PageSize rows; pagination stops at the first short page
// (spec.md §4.2).
func (c *Client) IterateTransactions(ctx context.Context, filter TxFilter, yield func([]Transaction) error) error {
	afterID := filter.AfterID
	for {
		q := url.Values{}
		if len(filter.Targets) > 0 {
			q.Set("target.in", joinCSV(filter.Targets))
		}
		if len(filter.Senders) > 0 {
			q.Set("sender.in", joinCSV(filter.Senders))
		}
		if len(filter.Entrypoints) > 0 {
			q.Set("entrypoint.in", joinCSV(filter.Entrypoints))
		}
		if !filter.WindowStart.IsZero() {
			q.Set("timestamp.ge", filter.WindowStart.UTC().Format(time.RFC3339))
		}
		if !filter.WindowEnd.IsZero() {
			q.Set("timestamp.lt", filter.WindowEnd.UTC().Format(time.RFC3339))
		}
		if filter.AmountGT != nil {
			q.Set("amount.gt", strconv.FormatInt(*filter.AmountGT, 10))
		}
		q.Set("status", "applied")
		q.Set("sort.asc", "id")
		q.Set("limit", strconv.Itoa(c.cfg.PageSize))
		if afterID > 0 {
			q.Set("id.gt", strconv.FormatInt(afterID, 10))
		}

		var page []Transaction
		if err := c.getJSON(ctx, "/operations/transactions", q, &page); err != nil {
			return err
		}
		if len(page) == 0 {
			return nil
		}
		if err := yield(page); err != nil {
			return err
		}
		afterID = page[len(page)-1].ID
		if len(page) < c.cfg.PageSize {
			return nil
		}
	}
}

// IterateTokenTransfers yields successive pages of FA2 token transfers in
// [windowStart, windowEnd), ascending by id, resuming after afterID.
func (c *Client) IterateTokenTransfers(ctx context.Context, windowStart, windowEnd time.Time, afterID int64, yield func([]TokenTransfer) error) error {
	for {
		q := url.Values{}
		q.Set("token.standard", "fa2")
		q.Set("timestamp.ge", windowStart.UTC().Format(time.RFC3339))
		q.Set("timestamp.lt", windowEnd.UTC().Format(time.RFC3339))
		q.Set("sort.asc", "id")
		q.Set("limit", strconv.Itoa(c.cfg.PageSize))
		if afterID > 0 {
			q.Set("id.gt", strconv.FormatInt(afterID, 10))
		}

		var page []TokenTransfer
		if err := c.getJSON(ctx, "/tokens/transfers", q, &page); err != nil {
			return err
		}
		if len(page) == 0 {
			return nil
		}
		if err := yield(page); err != nil {
			return err
		}
		afterID = page[len(page)-1].ID
		if len(page) < c.cfg.PageSize {
			return nil
		}
	}
}

// GetBalanceAt fetches the most recent balance snapshot at or before ts for
// a single account (spec.md §4.2 endpoint (f)).
func (c *Client) GetBalanceAt(ctx context.Context, address string, ts time.Time) (BalanceSnapshot, error) {
	q := url.Values{}
	q.Set("timestamp.le", ts.UTC().Format(time.RFC3339))
	q.Set("sort.desc", "level")
	q.Set("limit", "1")

	var page []BalanceSnapshot
	path := fmt.Sprintf("/accounts/%s/balance_history", url.PathEscape(address))
	if err := c.getJSON(ctx, path, q, &page); err != nil {
		return BalanceSnapshot{}, err
	}
	if len(page) == 0 {
		return BalanceSnapshot{}, errNotFound
	}
	return page[0], nil
}

// ContractMetadataResponse is the shape used by the contract classifier.
type ContractMetadataResponse struct {
	Address string   `json:"address"`
	Tags    []string `json:"tags"`
}

// TokenMetadataResponse is the token-id-0 metadata shape the classifier
// probes for decimals/artifact fields/total supply.
type TokenMetadataResponse struct {
	Decimals    *int    `json:"decimals"`
	ArtifactURI string  `json:"artifactUri"`
	DisplayURI  string  `json:"displayUri"`
	ThumbnailURI string `json:"thumbnailUri"`
	TotalSupply string  `json:"totalSupply"`
}

func (c *Client) GetContractMetadata(ctx context.Context, contract string) (ContractMetadataResponse, error) {
	var resp ContractMetadataResponse
	err := c.getJSON(ctx, "/contracts/"+url.PathEscape(contract), nil, &resp)
	return resp, err
}

func (c *Client) GetTokenMetadata(ctx context.Context, contract, tokenID string) (TokenMetadataResponse, error) {
	var resp []TokenMetadataResponse
	q := url.Values{}
	q.Set("contract", contract)
	q.Set("tokenId", tokenID)
	if err := c.getJSON(ctx, "/tokens", q, &resp); err != nil {
		return TokenMetadataResponse{}, err
	}
	if len(resp) == 0 {
		return TokenMetadataResponse{}, errNotFound
	}
	return resp[0], nil
}

var errNotFound = errors.New("indexerclient: not found")

// IsNotFound reports whether err is the client's not-found sentinel.
func IsNotFound(err error) bool { return errors.Is(err, errNotFound) }

func joinCSV(items []string) string {
	out := ""
	for i, it := range items {
		if i > 0 {
			out += ","
		}
		out += it
	}
	return out
}

// getJSON performs one rate-limited, retried GET and decodes the JSON body
// into out. Retry policy: 429/5xx get exponential backoff up to
// cfg.RetryAttempts; any other non-2xx is terminal (spec.md §4.2).
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	fullURL := c.cfg.BaseURL + path
	if query != nil {
		fullURL += "?" + query.Encode()
	}

	backoff := c.cfg.RetryBaseDelay
	var lastErr error
	for attempt := 0; attempt < c.cfg.RetryAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
		if err != nil {
			return errors.Wrap(err, "build request")
		}
		req.Header.Set("User-Agent", "nftscan/1.0")
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			if !sleepBackoff(ctx, &backoff) {
				return lastErr
			}
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("indexer returned status %d", resp.StatusCode)
			log.WithField("status", resp.StatusCode).WithField("attempt", attempt).Warn("retrying indexer request")
			if !sleepBackoff(ctx, &backoff) {
				return lastErr
			}
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			body := resp.StatusCode
			resp.Body.Close()
			return fmt.Errorf("indexer returned terminal status %d for %s", body, path)
		}

		err = json.NewDecoder(resp.Body).Decode(out)
		resp.Body.Close()
		if err != nil {
			return errors.Wrapf(err, "decode response from %s", path)
		}
		return nil
	}
	return errors.Wrapf(lastErr, "max retries reached for %s", path)
}

// sleepBackoff sleeps for *backoff (doubling it for next time) unless ctx is
// done, in which case it returns false immediately.
func sleepBackoff(ctx context.Context, backoff *time.Duration) bool {
	select {
	case <-time.After(*backoff):
		*backoff *= 2
		return true
	case <-ctx.Done():
		return false
	}
}
