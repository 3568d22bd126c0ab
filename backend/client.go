// Package backend is the HTTP client for the remote profile/inventory
// service. Every call returns an explicit error; callers decide whether a
// failure degrades to cached state or aborts the operation.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gamegems/client/game/item"
	"github.com/gamegems/client/gerr"
)

// ErrNotFound is returned when the backend has no record for the request.
var ErrNotFound = errors.New("backend: not found")

// Client talks to the remote service.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a Client for the service at baseURL.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// Profile is the remote profile record.
type Profile struct {
	Address   string `json:"address"`
	Nickname  string `json:"nickname"`
	LocalGems int64  `json:"local_gems"`
}

// NFTEntry is one row of the remote NFT table. The service historically
// returned bare token ids as strings; newer records are full objects. Both
// shapes appear in the same response.
type NFTEntry struct {
	Record item.NFTRecord
	// Thin is set when the row carried only a token id.
	Thin bool
}

func (e *NFTEntry) UnmarshalJSON(raw []byte) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		var id uint64
		if _, err := fmt.Sscanf(s, "%d", &id); err != nil {
			return fmt.Errorf("backend: bad token id %q: %w", s, err)
		}
		e.Record = item.NFTRecord{TokenID: id}
		e.Thin = true
		return nil
	}
	e.Thin = false
	return json.Unmarshal(raw, &e.Record)
}

// PricePrediction is the ML service's verdict on a listing price.
type PricePrediction struct {
	RecommendedPrice float64 `json:"recommended_price"`
	PriceStatus      string  `json:"price_status"`
	DeviationPercent float64 `json:"deviation_percent"`
}

// SellPrices maps rarity name to quick-sell gem value. Lookups are
// case-insensitive because the admin table and the item model disagree on
// capitalization.
type SellPrices map[string]int64

// Price returns the quick-sell value for a rarity, or 0 if unknown.
func (p SellPrices) Price(r item.Rarity) int64 {
	for k, v := range p {
		if strings.EqualFold(k, string(r)) {
			return v
		}
	}
	return 0
}

// ---- profile ----

func (c *Client) Profile(ctx context.Context, address string) (*Profile, error) {
	var p Profile
	if err := c.do(ctx, http.MethodGet, "/profile/"+url.PathEscape(address), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateProfile registers a profile. The route keeps its trailing slash; the
// service redirects without it and redirects drop the POST body.
func (c *Client) CreateProfile(ctx context.Context, p *Profile) error {
	return c.do(ctx, http.MethodPost, "/profile/", p, nil)
}

// UpdateLocalGems writes the off-chain gem counter back to the profile.
func (c *Client) UpdateLocalGems(ctx context.Context, address string, gems int64) error {
	body := map[string]any{"local_gems": gems}
	return c.do(ctx, http.MethodPatch, "/profile/"+url.PathEscape(address), body, nil)
}

// ---- inventory ----

func (c *Client) Inventory(ctx context.Context, address string) ([]item.Item, error) {
	var items []item.Item
	if err := c.do(ctx, http.MethodGet, "/inventory/"+url.PathEscape(address), nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (c *Client) AddInventoryItem(ctx context.Context, address string, it item.Item) error {
	return c.do(ctx, http.MethodPost, "/inventory/"+url.PathEscape(address), it, nil)
}

func (c *Client) DeleteInventoryItem(ctx context.Context, address, itemID string) error {
	path := "/inventory/" + url.PathEscape(address) + "/" + url.PathEscape(itemID)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// ---- NFTs ----

// NFTs returns the service's full minted-token index. There is no per-owner
// route; ownership is attributed by the caller's on-chain ownerOf checks.
func (c *Client) NFTs(ctx context.Context) ([]NFTEntry, error) {
	var entries []NFTEntry
	if err := c.do(ctx, http.MethodGet, "/nft", nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// CreateNFTJSON uploads item metadata for minting and returns the token URI.
func (c *Client) CreateNFTJSON(ctx context.Context, account, itemID string, rec item.NFTRecord) (string, error) {
	body := map[string]any{
		"account": account,
		"itemId":  itemID,
		"json": map[string]any{
			"itemType": rec.ItemType,
			"rarity":   rec.Rarity,
			"bonus":    rec.Bonus,
			"image":    rec.Image,
		},
	}
	var resp struct {
		URI string `json:"uri"`
	}
	if err := c.do(ctx, http.MethodPost, "/nft/create-json", body, &resp); err != nil {
		return "", err
	}
	if resp.URI == "" {
		return "", gerr.Malformed("backend.CreateNFTJSON", errors.New("empty uri"))
	}
	return resp.URI, nil
}

// SaveNFT records a freshly minted token against its owner.
func (c *Client) SaveNFT(ctx context.Context, rec item.NFTRecord) error {
	return c.do(ctx, http.MethodPost, "/nft/save", rec, nil)
}

// ---- sell prices ----

func (c *Client) SellPrices(ctx context.Context) (SellPrices, error) {
	var p SellPrices
	if err := c.do(ctx, http.MethodGet, "/sell-prices", nil, &p); err != nil {
		return nil, err
	}
	return p, nil
}

func (c *Client) SetSellPrices(ctx context.Context, p SellPrices) error {
	return c.do(ctx, http.MethodPost, "/sell-prices", p, nil)
}

// ---- metadata proxy / price prediction ----

// Metadata fetches token metadata through the backend proxy. Gateways
// sometimes hand back a double-encoded URL; one extra unescape pass fixes
// those without breaking plain URLs.
func (c *Client) Metadata(ctx context.Context, metaURL string) (map[string]any, error) {
	if decoded, err := url.QueryUnescape(metaURL); err == nil && strings.Contains(decoded, "://") {
		metaURL = decoded
	}
	var meta map[string]any
	if err := c.do(ctx, http.MethodGet, "/metadata-proxy/?url="+url.QueryEscape(metaURL), nil, &meta); err != nil {
		return nil, err
	}
	return meta, nil
}

// PredictPrice asks the ML service whether a listing price is fair.
func (c *Client) PredictPrice(ctx context.Context, rec item.NFTRecord, price int64) (*PricePrediction, error) {
	body := map[string]any{
		"itemType":   rec.ItemType,
		"rarity":     string(item.RarityFromIndex(rec.Rarity)),
		"bonusValue": rec.Bonus.Value,
		"price":      price,
	}
	var pred PricePrediction
	if err := c.do(ctx, http.MethodPost, "/predict-price", body, &pred); err != nil {
		return nil, err
	}
	return &pred, nil
}

// do performs one request. Non-2xx responses map to typed errors; the
// response body, when out is non-nil, must be JSON.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	op := "backend." + method + " " + path

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return gerr.Malformed(op, err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return gerr.Remote(op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return gerr.Remote(op, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode >= 400:
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return gerr.Remote(op, fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(raw)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return gerr.Malformed(op, err)
	}
	return nil
}
