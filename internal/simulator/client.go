package simulator

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/radieske/betting-house/internal/api"
	"github.com/radieske/betting-house/internal/market"
)

// StatusError é devolvido quando a API responde fora de 2xx
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string { return fmt.Sprintf("http %d: %s", e.Code, e.Body) }

// Client fala com a API HTTP do betting-house
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(base string) *Client {
	return &Client{
		BaseURL: base,
		HTTP:    &http.Client{Timeout: 5 * time.Second},
	}
}

func (c *Client) OpenMarket(ctx context.Context, req api.OpenMarketRequest) error {
	return c.do(ctx, http.MethodPost, "/markets", req, nil)
}

func (c *Client) UpdateOdds(ctx context.Context, marketID string, odds market.Odds) error {
	return c.do(ctx, http.MethodPatch, "/markets/"+marketID, api.UpdateMarketRequest{Odds: &odds}, nil)
}

func (c *Client) GetMarket(ctx context.Context, marketID string) (market.CurrentState, error) {
	var out market.CurrentState
	err := c.do(ctx, http.MethodGet, "/markets/"+marketID, nil, &out)
	return out, err
}

func (c *Client) AddFunds(ctx context.Context, walletID string, amount int64) error {
	return c.do(ctx, http.MethodPost, "/wallets/"+walletID+"/add", api.AmountRequest{Amount: amount}, nil)
}

// PlaceBet devolve o id da aposta aceita
func (c *Client) PlaceBet(ctx context.Context, req api.OpenBetRequest) (string, error) {
	var out api.StatusResponse
	if err := c.do(ctx, http.MethodPost, "/bets", req, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
		return &StatusError{Code: res.StatusCode, Body: string(bytes.TrimSpace(b))}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(res.Body).Decode(out)
}
