package app

import (
	"context"
	"time"

	"github.com/xbridge-go/xbridged/internal/command"
	"github.com/xbridge-go/xbridged/internal/packet"
	"github.com/xbridge-go/xbridged/internal/protocol"
)

// runTimer implements spec.md §5's timer thread: one ticker at the
// configured sweep interval driving, in order, checkFinishedTransactions /
// eraseExpiredPendingTransactions (hub.Exchange.Sweep), sendListOfWallets,
// and getAddressBook (pollAddressBook). It also prunes the sqlite
// known-message mirror independently of the in-memory LRU's own eviction.
func (a *App) runTimer(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.Timers.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.hub.Sweep()
			a.sendListOfWallets()
			a.pollAddressBook(ctx)
			if n, err := a.store.PruneKnownMessages(time.Now().Add(-24 * time.Hour)); err != nil {
				a.log.Warn("prune known messages failed", "error", err)
			} else if n > 0 {
				a.log.Debug("pruned known messages", "count", n)
			}
		}
	}
}

// sendListOfWallets broadcasts the set of currencies this node currently
// has wallets attached for (original_source's sendListOfWallets, adapted to
// this spec's single-currency-per-member model).
func (a *App) sendListOfWallets() {
	if len(a.wallets) == 0 {
		return
	}
	currencies := make([]string, 0, len(a.wallets))
	for currency := range a.wallets {
		currencies = append(currencies, currency)
	}
	msg := &protocol.ExchangeWalletsMsg{Currencies: currencies}
	if err := a.sender.Broadcast(packet.New(command.ExchangeWallets, msg.Encode())); err != nil {
		a.log.Warn("broadcast xbcExchangeWallets failed", "error", err)
	}
}
