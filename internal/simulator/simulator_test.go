package simulator

import (
	"context"
	"math/rand"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/radieske/betting-house/internal/api"
	"github.com/radieske/betting-house/internal/bet"
	"github.com/radieske/betting-house/internal/entity"
	"github.com/radieske/betting-house/internal/journal"
	"github.com/radieske/betting-house/internal/market"
	"github.com/radieske/betting-house/internal/sharding"
	"github.com/radieske/betting-house/internal/wallet"
)

func newSimulator(t *testing.T) (*Simulator, *sharding.Router) {
	t.Helper()
	log := zaptest.NewLogger(t)
	r := sharding.NewRouter(log, sharding.Hooks{})
	t.Cleanup(r.Stop)

	opts := entity.Options{Journal: journal.NewMemory()}
	require.NoError(t, sharding.Register[wallet.State](r, wallet.Behavior{}, opts, sharding.Settings{}))
	require.NoError(t, sharding.Register[market.State](r, market.Behavior{}, opts, sharding.Settings{}))
	require.NoError(t, sharding.Register[bet.State](r, bet.Behavior{ValidationWindow: 100 * time.Millisecond}, opts, sharding.Settings{}))

	srv := httptest.NewServer(api.NewServer(log, r, nil, nil, api.Timeouts{}).Router())
	t.Cleanup(srv.Close)

	return &Simulator{
		Log:     log,
		Client:  NewClient(srv.URL),
		Catalog: DefaultCatalog[:2],
		Wallets: []string{"W1", "W2"},
		Funds:   1000,
		Rand:    rand.New(rand.NewSource(3)),
	}, r
}

func TestSetupOpensMarketsAndFundsWallets(t *testing.T) {
	sim, r := newSimulator(t)
	ctx := context.Background()

	require.NoError(t, sim.Setup(ctx))
	require.NoError(t, sim.Setup(ctx), "markets already open are tolerated")

	for _, f := range sim.Catalog {
		cs, err := sim.Client.GetMarket(ctx, marketID(f))
		require.NoError(t, err)
		assert.Equal(t, market.PhaseOpen, cs.Phase)
		assert.Equal(t, f, cs.Status.Fixture)
	}
	bal, err := wallet.Client{Router: r}.CheckFunds(ctx, "W2")
	require.NoError(t, err)
	assert.Equal(t, int64(2000), bal)
}

func TestTickMovesOddsAndPlacesBet(t *testing.T) {
	sim, _ := newSimulator(t)
	ctx := context.Background()
	require.NoError(t, sim.Setup(ctx))

	before, err := sim.Client.GetMarket(ctx, marketID(sim.Catalog[0]))
	require.NoError(t, err)

	var ticks, bets int
	var stages []string
	sim.OnTick = func() { ticks++ }
	sim.OnBet = func() { bets++ }
	sim.OnErr = func(stage string) { stages = append(stages, stage) }
	sim.Tick(ctx)

	after, err := sim.Client.GetMarket(ctx, marketID(sim.Catalog[0]))
	require.NoError(t, err)
	assert.NotEqual(t, before.Status.Odds, after.Status.Odds)
	assert.Equal(t, 1, ticks)
	assert.Equal(t, 1, bets)
	assert.Empty(t, stages)
}

func TestClientReportsStatus(t *testing.T) {
	sim, _ := newSimulator(t)
	err := sim.Client.UpdateOdds(context.Background(), "missing", market.Odds{})

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 422, se.Code)
}
