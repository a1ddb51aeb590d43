package fetch

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/DorothyRazo/CoreExchange/internal/model"
	"github.com/DorothyRazo/CoreExchange/internal/synths"
	"github.com/DorothyRazo/CoreExchange/internal/types"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ErrInvalidAddress is returned for malformed hex addresses.
var ErrInvalidAddress = errors.New("invalid address")

// maxParallelCalls bounds concurrent eth_calls per operation.
const maxParallelCalls = 8

// ContractBackend is the subset of ethclient.Client the chain client uses.
type ContractBackend interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	NetworkID(ctx context.Context) (*big.Int, error)
}

// Contracts holds the addresses of the contracts read by ChainClient.
type Contracts struct {
	Synthetix     common.Address
	ExchangeRates common.Address
	FeePool       common.Address
}

// ParseContracts validates hex contract addresses.
func ParseContracts(synthetix, exchangeRates, feePool string) (Contracts, error) {
	var c Contracts
	for _, a := range []struct {
		name string
		hex  string
		dst  *common.Address
	}{
		{"synthetix", synthetix, &c.Synthetix},
		{"exchange rates", exchangeRates, &c.ExchangeRates},
		{"fee pool", feePool, &c.FeePool},
	} {
		if !common.IsHexAddress(a.hex) {
			return Contracts{}, fmt.Errorf("%s contract %q: %w", a.name, a.hex, ErrInvalidAddress)
		}
		*a.dst = common.HexToAddress(a.hex)
	}
	return c, nil
}

// ChainClient reads synth data from the Synthetix contracts.
type ChainClient struct {
	backend   ContractBackend
	contracts Contracts
	catalog   []model.SynthDefinition

	// synth token addresses by currency key
	mu         sync.Mutex
	synthAddrs map[string]common.Address
}

// NewChainClient creates a chain client over an existing backend.
func NewChainClient(backend ContractBackend, contracts Contracts) *ChainClient {
	return &ChainClient{
		backend:    backend,
		contracts:  contracts,
		catalog:    synths.DefaultCatalog(),
		synthAddrs: make(map[string]common.Address),
	}
}

// DialChainClient connects to a JSON-RPC endpoint.
func DialChainClient(ctx context.Context, rpcURL string, contracts Contracts) (*ChainClient, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("error dialing %s: %w", rpcURL, err)
	}
	return NewChainClient(client, contracts), nil
}

// Close releases the RPC connection.
func (c *ChainClient) Close() {
	if closer, ok := c.backend.(interface{ Close() }); ok {
		closer.Close()
	}
}

// Network returns the network the backend is connected to.
func (c *ChainClient) Network(ctx context.Context) (types.Network, error) {
	id, err := c.backend.NetworkID(ctx)
	if err != nil {
		return types.Network{}, fmt.Errorf("error reading network id: %w", err)
	}
	return types.NetworkByID(id.Int64())
}

// Synths lists the currency keys the Synthetix contract offers, described
// from the static catalog.
func (c *ChainClient) Synths(ctx context.Context) ([]model.SynthDefinition, error) {
	out, err := c.call(ctx, synthetixContract, c.contracts.Synthetix, "availableCurrencyKeys")
	if err != nil {
		return nil, err
	}
	keys, ok := out[0].([][32]byte)
	if !ok {
		return nil, fmt.Errorf("availableCurrencyKeys: unexpected result %T", out[0])
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("availableCurrencyKeys: %w", ErrNoData)
	}

	defs := make([]model.SynthDefinition, 0, len(keys))
	for _, k := range keys {
		if sym := fromBytes32(k); sym != "" {
			defs = append(defs, synths.Describe(sym, c.catalog))
		}
	}
	logrus.Debugf("Received %d synths from chain", len(defs))
	return defs, nil
}

// SpotRates returns the sUSD rate of each symbol.
func (c *ChainClient) SpotRates(ctx context.Context, symbols []string) (map[string]float64, error) {
	if len(symbols) == 0 {
		return map[string]float64{}, nil
	}

	keys := make([][32]byte, len(symbols))
	for i, s := range symbols {
		keys[i] = toBytes32(s)
	}

	out, err := c.call(ctx, exchangeRatesContract, c.contracts.ExchangeRates, "ratesForCurrencies", keys)
	if err != nil {
		return nil, err
	}
	values, ok := out[0].([]*big.Int)
	if !ok || len(values) != len(symbols) {
		return nil, fmt.Errorf("ratesForCurrencies: expected %d rates, got %v", len(symbols), out[0])
	}

	result := make(map[string]float64, len(symbols))
	for i, v := range values {
		result[symbols[i]] = weiToFloat(v)
	}
	return result, nil
}

// FrozenSynths returns the inverse synths whose rate is frozen on chain.
// Only inverse synths can freeze, so others are not queried.
func (c *ChainClient) FrozenSynths(ctx context.Context, symbols []string) ([]string, error) {
	inverse := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if strings.HasPrefix(s, "i") {
			inverse = append(inverse, s)
		}
	}

	frozen := make([]bool, len(inverse))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelCalls)
	for i, sym := range inverse {
		i, sym := i, sym
		g.Go(func() error {
			out, err := c.call(gctx, exchangeRatesContract, c.contracts.ExchangeRates, "rateIsFrozen", toBytes32(sym))
			if err != nil {
				return err
			}
			frozen[i], _ = out[0].(bool)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := make([]string, 0)
	for i, f := range frozen {
		if f {
			result = append(result, inverse[i])
		}
	}
	return result, nil
}

// ExchangeFeeRate returns the exchange fee as a percentage.
func (c *ChainClient) ExchangeFeeRate(ctx context.Context) (float64, error) {
	out, err := c.call(ctx, feePoolContract, c.contracts.FeePool, "exchangeFeeRate")
	if err != nil {
		return 0, err
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("exchangeFeeRate: unexpected result %T", out[0])
	}
	return 100 * weiToFloat(v), nil
}

// WalletBalances reads the synth and ETH holdings of address and values them
// in sUSD. Synths with a zero balance are left out.
func (c *ChainClient) WalletBalances(ctx context.Context, address string, symbols []string) (model.WalletBalances, error) {
	if !common.IsHexAddress(address) {
		return model.WalletBalances{}, fmt.Errorf("wallet %q: %w", address, ErrInvalidAddress)
	}
	account := common.HexToAddress(address)

	held := make([]model.SynthBalance, len(symbols))
	var eth model.SynthBalance

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelCalls)
	for i, sym := range symbols {
		i, sym := i, sym
		g.Go(func() error {
			b, err := c.synthBalance(gctx, account, sym)
			if err != nil {
				return fmt.Errorf("%s balance: %w", sym, err)
			}
			held[i] = b
			return nil
		})
	}
	g.Go(func() error {
		wei, err := c.backend.BalanceAt(gctx, account, nil)
		if err != nil {
			return fmt.Errorf("eth balance: %w", err)
		}
		usd, err := c.effectiveValue(gctx, "sETH", wei, model.ReferenceCurrency)
		if err != nil {
			return fmt.Errorf("eth value: %w", err)
		}
		eth = model.SynthBalance{Balance: weiToFloat(wei), USDBalance: weiToFloat(usd)}
		return nil
	})
	if err := g.Wait(); err != nil {
		return model.WalletBalances{}, err
	}

	result := model.WalletBalances{
		Address:   account.Hex(),
		Synths:    make(map[string]model.SynthBalance),
		ETH:       eth,
		FetchedAt: time.Now(),
	}
	for i, b := range held {
		if b.Balance > 0 {
			result.Synths[symbols[i]] = b
			result.USDBalance += b.USDBalance
		}
	}
	return result, nil
}

func (c *ChainClient) synthBalance(ctx context.Context, account common.Address, symbol string) (model.SynthBalance, error) {
	token, err := c.synthAddress(ctx, symbol)
	if err != nil {
		return model.SynthBalance{}, err
	}
	if token == (common.Address{}) {
		return model.SynthBalance{}, nil
	}

	out, err := c.call(ctx, erc20Contract, token, "balanceOf", account)
	if err != nil {
		return model.SynthBalance{}, err
	}
	wei, ok := out[0].(*big.Int)
	if !ok || wei.Sign() == 0 {
		return model.SynthBalance{}, nil
	}

	usd := wei
	if symbol != model.ReferenceCurrency {
		if usd, err = c.effectiveValue(ctx, symbol, wei, model.ReferenceCurrency); err != nil {
			return model.SynthBalance{}, err
		}
	}
	return model.SynthBalance{Balance: weiToFloat(wei), USDBalance: weiToFloat(usd)}, nil
}

func (c *ChainClient) synthAddress(ctx context.Context, symbol string) (common.Address, error) {
	c.mu.Lock()
	addr, ok := c.synthAddrs[symbol]
	c.mu.Unlock()
	if ok {
		return addr, nil
	}

	out, err := c.call(ctx, synthetixContract, c.contracts.Synthetix, "synths", toBytes32(symbol))
	if err != nil {
		return common.Address{}, err
	}
	addr, _ = out[0].(common.Address)

	c.mu.Lock()
	c.synthAddrs[symbol] = addr
	c.mu.Unlock()
	return addr, nil
}

func (c *ChainClient) effectiveValue(ctx context.Context, from string, amount *big.Int, to string) (*big.Int, error) {
	if amount.Sign() == 0 {
		return new(big.Int), nil
	}
	out, err := c.call(ctx, synthetixContract, c.contracts.Synthetix, "effectiveValue", toBytes32(from), amount, toBytes32(to))
	if err != nil {
		return nil, err
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("effectiveValue: unexpected result %T", out[0])
	}
	return v, nil
}

// call packs, executes and unpacks a read-only contract call.
func (c *ChainClient) call(ctx context.Context, contract abi.ABI, to common.Address, method string, args ...any) ([]any, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: error packing call: %w", method, err)
	}

	raw, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}

	out, err := contract.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("%s: error unpacking result: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: %w", method, ErrNoData)
	}
	return out, nil
}

func weiToFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	return fromWei(decimal.NewFromBigInt(v, 0))
}
