package rest_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gamegems/client/api/rest"
	"github.com/gamegems/client/backend"
	"github.com/gamegems/client/cache"
	"github.com/gamegems/client/chain/chaintest"
	"github.com/gamegems/client/config"
	"github.com/gamegems/client/game/balance"
	"github.com/gamegems/client/game/history"
	"github.com/gamegems/client/game/item"
	"github.com/gamegems/client/game/market"
	"github.com/gamegems/client/game/player"
	"github.com/gamegems/client/game/reconcile"
	"github.com/gamegems/client/game/wrap"
	"github.com/gamegems/client/scheduler"
	"github.com/gamegems/client/testutil"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const adminKey = "sesame"

// fakeBackend stands in for the remote profile/inventory service across
// every service the handlers touch.
type fakeBackend struct {
	mu        sync.Mutex
	profiles  map[string]*backend.Profile
	inventory map[string][]item.Item
	nfts      []backend.NFTEntry
	prices    backend.SellPrices
	saved     []item.NFTRecord
	deleted   []string

	failPrices bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		profiles:  make(map[string]*backend.Profile),
		inventory: make(map[string][]item.Item),
		prices:    backend.SellPrices{"Common": 10, "Rare": 50, "Epic": 200, "Legendary": 1000},
	}
}

func (f *fakeBackend) Profile(_ context.Context, address string) (*backend.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[address]
	if !ok {
		return nil, backend.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeBackend) CreateProfile(_ context.Context, p *backend.Profile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *p
	f.profiles[p.Address] = &cp
	return nil
}

func (f *fakeBackend) UpdateLocalGems(_ context.Context, address string, gems int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.profiles[address]; ok {
		p.LocalGems = gems
	}
	return nil
}

func (f *fakeBackend) Inventory(_ context.Context, address string) ([]item.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inventory[address], nil
}

func (f *fakeBackend) AddInventoryItem(_ context.Context, address string, it item.Item) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inventory[address] = append(f.inventory[address], it)
	return nil
}

func (f *fakeBackend) DeleteInventoryItem(_ context.Context, address, itemID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := f.inventory[address]
	for i, it := range items {
		if it.ID == itemID {
			f.inventory[address] = append(items[:i], items[i+1:]...)
			break
		}
	}
	f.deleted = append(f.deleted, itemID)
	return nil
}

func (f *fakeBackend) NFTs(context.Context) ([]backend.NFTEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nfts, nil
}

func (f *fakeBackend) SellPrices(context.Context) (backend.SellPrices, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPrices {
		return nil, errors.New("backend down")
	}
	return f.prices, nil
}

func (f *fakeBackend) SetSellPrices(_ context.Context, p backend.SellPrices) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPrices {
		return errors.New("backend down")
	}
	f.prices = p
	return nil
}

func (f *fakeBackend) CreateNFTJSON(context.Context, string, string, item.NFTRecord) (string, error) {
	return "ipfs://QmMeta", nil
}

func (f *fakeBackend) SaveNFT(_ context.Context, rec item.NFTRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, rec)
	return nil
}

func (f *fakeBackend) Metadata(context.Context, string) (map[string]any, error) {
	return map[string]any{"name": "Test Item"}, nil
}

func (f *fakeBackend) PredictPrice(_ context.Context, _ item.NFTRecord, price int64) (*backend.PricePrediction, error) {
	return &backend.PricePrediction{RecommendedPrice: float64(price), PriceStatus: "fair"}, nil
}

type fixture struct {
	r        *gin.Engine
	fb       *fakeBackend
	world    *chaintest.World
	cache    cache.Cache
	sessions *player.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.SetupTestDB(t)
	c, ps := testutil.SetupTestCache(t)
	fb := newFakeBackend()
	world := chaintest.NewWorld()
	sessions := player.NewManager()
	gen := item.NewSeededGenerator("https://cdn.test", 1)

	state := reconcile.NewService(db, c, ps, fb, gen, zap.NewNop())
	bal := balance.NewService(db, c, fb, zap.NewNop())
	wrapSvc := wrap.NewService(fb, state, c, zap.NewNop())
	histSvc := history.NewService(zap.NewNop())
	marketSvc := market.NewService(fb, zap.NewNop())
	sched := scheduler.New(zap.NewNop())
	t.Cleanup(sched.Stop)

	sec := config.SecurityConfig{JWTSecret: "test-secret", JWTTTLH: time.Hour}
	hash, err := bcrypt.GenerateFromPassword([]byte(adminKey), bcrypt.MinCost)
	require.NoError(t, err)

	authH := rest.NewAuthHandler(sessions, bal, state, world, c, sec, zap.NewNop())
	gameH := rest.NewGameHandler(state, bal, wrapSvc, histSvc, sessions, fb, c, nil, zap.NewNop())
	marketH := rest.NewMarketHandler(marketSvc, state, sessions, nil, zap.NewNop())
	adminH := rest.NewAdminHandler(db, sessions, fb, sched, zap.NewNop())

	r := gin.New()
	rest.RegisterRoutes(r, sec, string(hash), c, authH, gameH, marketH, adminH)
	return &fixture{r: r, fb: fb, world: world, cache: c, sessions: sessions}
}

func (fx *fixture) do(method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	fx.r.ServeHTTP(w, req)
	return w
}

// login opens a session for address and returns the bearer token.
func (fx *fixture) login(t *testing.T, address string) string {
	t.Helper()
	w := fx.do(http.MethodPost, "/api/auth/login", map[string]string{
		"address":  address,
		"nickname": "miner",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp["token"].(string)
}

func profileWithGems(address string, gems int64) *backend.Profile {
	return &backend.Profile{Address: address, Nickname: "miner", LocalGems: gems}
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}
