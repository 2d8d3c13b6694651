// Package identity adapts the best-effort reverse-record/owned-domains
// lookup described in spec.md §6. It is intentionally failure-tolerant:
// every method swallows transport and decode errors and returns the zero
// value, matching the teacher's treatment of optional enrichment calls in
// internal/market/coingecko.go (log-and-continue, never propagate).
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "identity")

// Config tunes the adapter's transport and call cadence.
type Config struct {
	GraphQLURL string
	CallDelay  time.Duration // min spacing between calls, default 50ms
	Timeout    time.Duration
}

func (c Config) withDefaults() Config {
	if c.CallDelay <= 0 {
		c.CallDelay = 50 * time.Millisecond
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	return c
}

// Adapter resolves addresses to aliases via a GraphQL domain-name service.
type Adapter struct {
	cfg      Config
	http     *http.Client
	lastCall time.Time
}

func New(cfg Config) *Adapter {
	cfg = cfg.withDefaults()
	return &Adapter{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}
}

type gqlRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables"`
}

type gqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// ReverseRecord resolves address to its primary domain name, or "" if none
// is registered or the call fails. Failures are never surfaced — the caller
// proceeds with an empty alias.
func (a *Adapter) ReverseRecord(ctx context.Context, address string) string {
	a.throttle()

	req := gqlRequest{
		Query: `query($address: String!) { reverseRecord(address: $address) { domain { name } } }`,
		Variables: map[string]interface{}{"address": address},
	}
	var out struct {
		ReverseRecord *struct {
			Domain *struct {
				Name string `json:"name"`
			} `json:"domain"`
		} `json:"reverseRecord"`
	}
	if err := a.do(ctx, req, &out); err != nil {
		log.WithField("address", address).WithError(err).Debug("reverse record lookup failed")
		return ""
	}
	if out.ReverseRecord == nil || out.ReverseRecord.Domain == nil {
		return ""
	}
	return out.ReverseRecord.Domain.Name
}

// OwnedDomains returns the domain names owned by address, or nil on any
// failure or empty result.
func (a *Adapter) OwnedDomains(ctx context.Context, address string) []string {
	a.throttle()

	req := gqlRequest{
		Query: `query($owner: String!) { domains(where: { owner: $owner }) { items { name } } }`,
		Variables: map[string]interface{}{"owner": address},
	}
	var out struct {
		Domains *struct {
			Items []struct {
				Name string `json:"name"`
			} `json:"items"`
		} `json:"domains"`
	}
	if err := a.do(ctx, req, &out); err != nil {
		log.WithField("address", address).WithError(err).Debug("owned domains lookup failed")
		return nil
	}
	if out.Domains == nil || len(out.Domains.Items) == 0 {
		return nil
	}
	names := make([]string, 0, len(out.Domains.Items))
	for _, it := range out.Domains.Items {
		names = append(names, it.Name)
	}
	return names
}

func (a *Adapter) throttle() {
	if since := time.Since(a.lastCall); since < a.cfg.CallDelay {
		time.Sleep(a.cfg.CallDelay - since)
	}
	a.lastCall = time.Now()
}

func (a *Adapter) do(ctx context.Context, body gqlRequest, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.GraphQLURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var gqlResp gqlResponse
	if err := json.NewDecoder(resp.Body).Decode(&gqlResp); err != nil {
		return err
	}
	if len(gqlResp.Errors) > 0 {
		return errGraphQL(gqlResp.Errors[0].Message)
	}
	if gqlResp.Data == nil {
		return nil
	}
	return json.Unmarshal(gqlResp.Data, out)
}

type errGraphQL string

func (e errGraphQL) Error() string { return "identity: graphql error: " + string(e) }
