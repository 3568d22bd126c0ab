package balance

import (
	"context"
	"errors"
	"testing"

	"github.com/gamegems/client/backend"
	"github.com/gamegems/client/chain"
	"github.com/gamegems/client/chain/chaintest"
	"github.com/gamegems/client/gerr"
	"github.com/gamegems/client/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testAccount = chain.Address("0xplayer")

type fakeBackend struct {
	profiles map[string]*backend.Profile
	fail     bool
	updates  []int64
}

var errDown = errors.New("backend down")

func newFakeBackend() *fakeBackend {
	return &fakeBackend{profiles: make(map[string]*backend.Profile)}
}

func (f *fakeBackend) Profile(_ context.Context, address string) (*backend.Profile, error) {
	if f.fail {
		return nil, errDown
	}
	p, ok := f.profiles[address]
	if !ok {
		return nil, backend.ErrNotFound
	}
	return p, nil
}

func (f *fakeBackend) CreateProfile(_ context.Context, p *backend.Profile) error {
	if f.fail {
		return errDown
	}
	f.profiles[p.Address] = p
	return nil
}

func (f *fakeBackend) UpdateLocalGems(_ context.Context, address string, gems int64) error {
	if f.fail {
		return errDown
	}
	if p, ok := f.profiles[address]; ok {
		p.LocalGems = gems
	}
	f.updates = append(f.updates, gems)
	return nil
}

func newTestService(t *testing.T, fb *fakeBackend) *Service {
	t.Helper()
	db := testutil.SetupTestDB(t)
	c, _ := testutil.SetupTestCache(t)
	return NewService(db, c, fb, zap.NewNop())
}

func TestLoad_CreatesProfileOnFirstLogin(t *testing.T) {
	fb := newFakeBackend()
	svc := newTestService(t, fb)

	gems, err := svc.Load(context.Background(), testAccount, "miner")
	require.NoError(t, err)
	assert.Equal(t, int64(0), gems)
	assert.Contains(t, fb.profiles, "0xplayer")
	assert.Equal(t, "miner", fb.profiles["0xplayer"].Nickname)
}

func TestLoad_BackendWinsOverCache(t *testing.T) {
	fb := newFakeBackend()
	fb.profiles["0xplayer"] = &backend.Profile{Address: "0xplayer", LocalGems: 500}
	svc := newTestService(t, fb)

	// Locally drift the counter, then reload: the backend value wins.
	svc.AddLocal(context.Background(), testAccount, 123)
	gems, err := svc.Load(context.Background(), testAccount, "")
	require.NoError(t, err)
	assert.Equal(t, int64(500), gems)
}

func TestLoad_BackendDownServesCached(t *testing.T) {
	fb := newFakeBackend()
	fb.profiles["0xplayer"] = &backend.Profile{Address: "0xplayer", LocalGems: 500}
	svc := newTestService(t, fb)
	_, err := svc.Load(context.Background(), testAccount, "")
	require.NoError(t, err)

	// Fresh service over the same stores simulates a restart.
	fb.fail = true
	svc2 := NewService(svc.db, svc.cache, fb, zap.NewNop())
	gems, err := svc2.Load(context.Background(), testAccount, "")
	require.NoError(t, err)
	assert.Equal(t, int64(500), gems)
}

func TestAddLocal_NeverNegative(t *testing.T) {
	svc := newTestService(t, newFakeBackend())
	svc.AddLocal(context.Background(), testAccount, 10)
	got := svc.AddLocal(context.Background(), testAccount, -50)
	assert.Equal(t, int64(0), got)
}

func TestDeposit_DebitsAfterMining(t *testing.T) {
	fb := newFakeBackend()
	fb.profiles["0xplayer"] = &backend.Profile{Address: "0xplayer", LocalGems: 100}
	svc := newTestService(t, fb)
	_, err := svc.Load(context.Background(), testAccount, "")
	require.NoError(t, err)

	world := chaintest.NewWorld()
	contracts := world.ContractsFor(testAccount)

	left, err := svc.Deposit(context.Background(), testAccount, contracts, 60)
	require.NoError(t, err)
	assert.Equal(t, int64(40), left)

	onChain, err := svc.OnChain(context.Background(), testAccount, contracts)
	require.NoError(t, err)
	assert.Equal(t, uint64(60), onChain)
	assert.Equal(t, int64(40), fb.profiles["0xplayer"].LocalGems)
}

func TestDeposit_RevertLeavesLedgersUntouched(t *testing.T) {
	fb := newFakeBackend()
	fb.profiles["0xplayer"] = &backend.Profile{Address: "0xplayer", LocalGems: 100}
	svc := newTestService(t, fb)
	_, err := svc.Load(context.Background(), testAccount, "")
	require.NoError(t, err)

	world := chaintest.NewWorld()
	gems := world.GemsFor(testAccount)
	gems.Fail["DepositGems"] = true
	contracts := chain.Contracts{Gems: gems}

	_, err = svc.Deposit(context.Background(), testAccount, contracts, 60)
	assert.True(t, gerr.IsKind(err, gerr.KindContractRevert))
	assert.Equal(t, int64(100), svc.Local(testAccount))
}

func TestDeposit_Validation(t *testing.T) {
	svc := newTestService(t, newFakeBackend())
	world := chaintest.NewWorld()
	contracts := world.ContractsFor(testAccount)

	_, err := svc.Deposit(context.Background(), testAccount, contracts, 0)
	assert.True(t, gerr.IsKind(err, gerr.KindValidation))

	_, err = svc.Deposit(context.Background(), testAccount, contracts, 10)
	assert.True(t, gerr.IsKind(err, gerr.KindValidation), "more than the local balance")
}

func TestBuyGems_ValueIsPriceTimesCount(t *testing.T) {
	svc := newTestService(t, newFakeBackend())
	world := chaintest.NewWorld()
	contracts := world.ContractsFor(testAccount)

	require.NoError(t, svc.BuyGems(context.Background(), testAccount, contracts, 5))
	onChain, err := svc.OnChain(context.Background(), testAccount, contracts)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), onChain)
}

func TestFlushDirty_OnlyDirtyLedgers(t *testing.T) {
	fb := newFakeBackend()
	fb.profiles["0xplayer"] = &backend.Profile{Address: "0xplayer"}
	svc := newTestService(t, fb)

	svc.AddLocal(context.Background(), testAccount, 30)
	svc.FlushDirty(context.Background())
	require.Equal(t, []int64{30}, fb.updates)

	// Nothing changed; a second flush writes nothing.
	svc.FlushDirty(context.Background())
	assert.Equal(t, []int64{30}, fb.updates)
}
