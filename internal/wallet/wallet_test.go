package wallet

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/radieske/betting-house/internal/entity"
	"github.com/radieske/betting-house/internal/entity/entitytest"
	"github.com/radieske/betting-house/internal/journal"
	"github.com/radieske/betting-house/internal/sharding"
)

func TestReserveAndAddFunds(t *testing.T) {
	ctx := entitytest.NewContext(t, "w1")
	b := Behavior{}
	s := State{Balance: 100}

	s, res := entitytest.Run(ctx, b, s, ReserveFunds{Amount: 50})
	assert.Equal(t, entity.Accepted{}, res.Reply)
	assert.Equal(t, []entity.Event{FundsReserved{Amount: 50}}, res.Events)
	assert.Equal(t, int64(50), s.Balance)

	s, res = entitytest.Run(ctx, b, s, ReserveFunds{Amount: 60})
	assert.Equal(t, entity.Rejected{}, res.Reply)
	assert.Equal(t, []entity.Event{FundsReservationDenied{Amount: 60}}, res.Events)
	assert.Equal(t, int64(50), s.Balance)

	s, res = entitytest.Run(ctx, b, s, AddFunds{Amount: 50})
	assert.Equal(t, entity.Accepted{}, res.Reply)
	assert.Equal(t, int64(100), s.Balance)

	_, res = entitytest.Run(ctx, b, s, CheckFunds{})
	assert.Empty(t, res.Events)
	assert.Equal(t, CurrentBalance{Amount: 100}, res.Reply)
}

func TestReserveExactBalance(t *testing.T) {
	s, res := entitytest.Run(entitytest.NewContext(t, "w1"), Behavior{}, State{Balance: 10}, ReserveFunds{Amount: 10})
	assert.Equal(t, entity.Accepted{}, res.Reply)
	assert.Zero(t, s.Balance)
}

func TestUnknownCommandIsUnaccepted(t *testing.T) {
	_, res := entitytest.Run(entitytest.NewContext(t, "w1"), Behavior{}, State{}, "withdraw")
	require.True(t, res.Replied)
	assert.IsType(t, entity.RequestUnaccepted{}, res.Reply)
	assert.Empty(t, res.Events)
}

func TestBalanceNeverNegative(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	ctx := entitytest.NewContext(t, "w1")
	b := Behavior{}
	s := State{}
	var history []entity.Event

	for i := 0; i < 1000; i++ {
		before := s.Balance
		var res entitytest.Result
		if rng.Intn(3) == 0 {
			s, res = entitytest.Run(ctx, b, s, AddFunds{Amount: rng.Int63n(50)})
		} else {
			s, res = entitytest.Run(ctx, b, s, ReserveFunds{Amount: rng.Int63n(80)})
			if res.Reply == (entity.Accepted{}) {
				assert.LessOrEqual(t, s.Balance, before)
			}
		}
		require.GreaterOrEqual(t, s.Balance, int64(0))
		history = append(history, res.Events...)
	}

	assert.Equal(t, s, entitytest.Replay[State](b, "w1", history))
	assert.Equal(t, entitytest.Replay[State](b, "w1", history), entitytest.Replay[State](b, "w1", history))
}

func TestClientThroughRouter(t *testing.T) {
	r := sharding.NewRouter(zaptest.NewLogger(t), sharding.Hooks{})
	t.Cleanup(r.Stop)
	require.NoError(t, sharding.Register[State](r, Behavior{}, entity.Options{Journal: journal.NewMemory()}, sharding.Settings{}))

	c := Client{Router: r}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, c.AddFunds(ctx, "W1", 100))
	ok, err := c.ReserveFunds(ctx, "W1", 50)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = c.ReserveFunds(ctx, "W1", 60)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, c.AddFunds(ctx, "W1", 50))

	bal, err := c.CheckFunds(ctx, "W1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), bal)
}
