package ledger

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeFactories returns the backends exercised by the shared suite. The
// Postgres store is covered by the same suite in environments that provide a
// database; it is intentionally absent here.
func storeFactories(t *testing.T) map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store {
			return NewInMemory(DefaultStartingGold)
		},
		"sqlite": func(t *testing.T) Store {
			store, err := OpenSQLite(filepath.Join(t.TempDir(), "ledger.db"), DefaultStartingGold)
			require.NoError(t, err)
			t.Cleanup(func() { _ = store.Close() })
			return store
		},
	}
}

func TestStoreConformance(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			t.Run("accounts are created lazily with starting gold", func(t *testing.T) {
				store := newStore(t)

				acct, err := store.GetOrCreate(ctx, "alice")
				require.NoError(t, err)
				assert.Equal(t, "alice", acct.ID)
				assert.Equal(t, int64(DefaultStartingGold), acct.Gold)
				assert.Zero(t, acct.Wins)
				assert.Zero(t, acct.Losses)

				// Second reference returns the same account unchanged.
				again, err := store.GetOrCreate(ctx, "alice")
				require.NoError(t, err)
				assert.Equal(t, acct, again)
			})

			t.Run("balance creates lazily too", func(t *testing.T) {
				store := newStore(t)
				balance, err := store.Balance(ctx, "fresh")
				require.NoError(t, err)
				assert.Equal(t, int64(DefaultStartingGold), balance)
			})

			t.Run("credit adds to the balance", func(t *testing.T) {
				store := newStore(t)
				balance, err := store.Credit(ctx, "alice", 250)
				require.NoError(t, err)
				assert.Equal(t, int64(DefaultStartingGold+250), balance)

				_, err = store.Credit(ctx, "alice", -1)
				assert.ErrorIs(t, err, ErrInvalidAmount)
			})

			t.Run("transfer moves gold atomically", func(t *testing.T) {
				store := newStore(t)
				require.NoError(t, store.Transfer(ctx, "alice", "bob", 400))

				aliceBalance, err := store.Balance(ctx, "alice")
				require.NoError(t, err)
				bobBalance, err := store.Balance(ctx, "bob")
				require.NoError(t, err)
				assert.Equal(t, int64(600), aliceBalance)
				assert.Equal(t, int64(1400), bobBalance)
			})

			t.Run("transfer rejects overdraft without mutating", func(t *testing.T) {
				store := newStore(t)
				err := store.Transfer(ctx, "alice", "bob", DefaultStartingGold+1)
				assert.ErrorIs(t, err, ErrInsufficientFunds)

				aliceBalance, err := store.Balance(ctx, "alice")
				require.NoError(t, err)
				bobBalance, err := store.Balance(ctx, "bob")
				require.NoError(t, err)
				assert.Equal(t, int64(DefaultStartingGold), aliceBalance)
				assert.Equal(t, int64(DefaultStartingGold), bobBalance)
			})

			t.Run("transfer rejects non-positive amounts", func(t *testing.T) {
				store := newStore(t)
				assert.ErrorIs(t, store.Transfer(ctx, "alice", "bob", 0), ErrInvalidAmount)
				assert.ErrorIs(t, store.Transfer(ctx, "alice", "bob", -5), ErrInvalidAmount)
			})

			t.Run("escrow then settle conserves gold", func(t *testing.T) {
				store := newStore(t)
				require.NoError(t, store.EscrowWager(ctx, "alice", "bob", 50))

				aliceBalance, err := store.Balance(ctx, "alice")
				require.NoError(t, err)
				bobBalance, err := store.Balance(ctx, "bob")
				require.NoError(t, err)
				assert.Equal(t, int64(950), aliceBalance)
				assert.Equal(t, int64(950), bobBalance)

				require.NoError(t, store.SettleGame(ctx, "bob", "alice", 50))

				winner, err := store.GetOrCreate(ctx, "bob")
				require.NoError(t, err)
				loser, err := store.GetOrCreate(ctx, "alice")
				require.NoError(t, err)
				assert.Equal(t, int64(1050), winner.Gold)
				assert.Equal(t, int64(950), loser.Gold)
				assert.Equal(t, int64(1), winner.Wins)
				assert.Equal(t, int64(1), loser.Losses)
				assert.Equal(t, int64(2000), winner.Gold+loser.Gold)
			})

			t.Run("escrow fails when either side cannot cover", func(t *testing.T) {
				store := newStore(t)
				_, err := store.Credit(ctx, "rich", 10000)
				require.NoError(t, err)

				err = store.EscrowWager(ctx, "rich", "poor", 5000)
				assert.ErrorIs(t, err, ErrInsufficientFunds)

				richBalance, err := store.Balance(ctx, "rich")
				require.NoError(t, err)
				poorBalance, err := store.Balance(ctx, "poor")
				require.NoError(t, err)
				assert.Equal(t, int64(11000), richBalance)
				assert.Equal(t, int64(DefaultStartingGold), poorBalance)
			})

			t.Run("zero wager settles counters only", func(t *testing.T) {
				store := newStore(t)
				require.NoError(t, store.EscrowWager(ctx, "alice", "bob", 0))
				require.NoError(t, store.SettleGame(ctx, "alice", "bob", 0))

				winner, err := store.GetOrCreate(ctx, "alice")
				require.NoError(t, err)
				loser, err := store.GetOrCreate(ctx, "bob")
				require.NoError(t, err)
				assert.Equal(t, int64(DefaultStartingGold), winner.Gold)
				assert.Equal(t, int64(DefaultStartingGold), loser.Gold)
				assert.Equal(t, int64(1), winner.Wins)
				assert.Equal(t, int64(1), loser.Losses)
			})

			t.Run("refund restores escrowed stakes", func(t *testing.T) {
				store := newStore(t)
				require.NoError(t, store.EscrowWager(ctx, "alice", "bob", 75))
				require.NoError(t, store.RefundWager(ctx, "alice", "bob", 75))

				aliceBalance, err := store.Balance(ctx, "alice")
				require.NoError(t, err)
				bobBalance, err := store.Balance(ctx, "bob")
				require.NoError(t, err)
				assert.Equal(t, int64(DefaultStartingGold), aliceBalance)
				assert.Equal(t, int64(DefaultStartingGold), bobBalance)
			})
		})
	}
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")

	store, err := OpenSQLite(path, DefaultStartingGold)
	require.NoError(t, err)
	_, err = store.Credit(ctx, "alice", 500)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := OpenSQLite(path, DefaultStartingGold)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	balance, err := reopened.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(DefaultStartingGold+500), balance)
}

func TestSQLiteRequiresPath(t *testing.T) {
	_, err := OpenSQLite("", DefaultStartingGold)
	require.Error(t, err)
}
