package fetch

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"
)

// LogSubscriber is implemented by websocket ethclient connections.
type LogSubscriber interface {
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- gethtypes.Log) (ethereum.Subscription, error)
}

// ExchangeWatcher reports the accounts that exchanged synths, so their
// balances can be refreshed without waiting for the next poll.
type ExchangeWatcher struct {
	sub       LogSubscriber
	synthetix common.Address
	retry     time.Duration
}

// NewExchangeWatcher creates a watcher for SynthExchange events emitted by synthetix.
func NewExchangeWatcher(sub LogSubscriber, synthetix common.Address) *ExchangeWatcher {
	return &ExchangeWatcher{
		sub:       sub,
		synthetix: synthetix,
		retry:     5 * time.Second,
	}
}

// DialExchangeWatcher connects to a websocket RPC endpoint.
func DialExchangeWatcher(ctx context.Context, wsURL string, synthetix common.Address) (*ExchangeWatcher, error) {
	client, err := ethclient.DialContext(ctx, wsURL)
	if err != nil {
		return nil, fmt.Errorf("error dialing %s: %w", wsURL, err)
	}
	return NewExchangeWatcher(client, synthetix), nil
}

// Watch calls onExchange with the lower-cased account of every SynthExchange
// event until ctx is done. Dropped subscriptions are re-established.
func (w *ExchangeWatcher) Watch(ctx context.Context, onExchange func(account string)) error {
	for {
		err := w.watchOnce(ctx, onExchange)
		if ctx.Err() != nil {
			return nil
		}
		logrus.WithError(err).Warn("Exchange subscription dropped, resubscribing")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(w.retry):
		}
	}
}

func (w *ExchangeWatcher) watchOnce(ctx context.Context, onExchange func(account string)) error {
	logs := make(chan gethtypes.Log, 16)
	q := ethereum.FilterQuery{
		Addresses: []common.Address{w.synthetix},
		Topics:    [][]common.Hash{{SynthExchangeTopic}},
	}

	sub, err := w.sub.SubscribeFilterLogs(ctx, q, logs)
	if err != nil {
		return fmt.Errorf("error subscribing to exchange events: %w", err)
	}
	defer sub.Unsubscribe()
	logrus.WithField("contract", w.synthetix.Hex()).Info("Watching synth exchanges")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			return err
		case l := <-logs:
			if l.Removed || len(l.Topics) < 2 {
				continue
			}
			account := common.BytesToAddress(l.Topics[1].Bytes())
			onExchange(NormalizeAccount(account))
		}
	}
}

// NormalizeAccount renders an address in lower-case hex.
func NormalizeAccount(a common.Address) string {
	return "0x" + common.Bytes2Hex(a.Bytes())
}
