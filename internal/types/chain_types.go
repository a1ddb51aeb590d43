// Package types contains shared type definitions used across multiple packages
package types

import "fmt"

// Network is an Ethereum network the synth contracts are deployed on
type Network struct {
	ID   int64  `json:"network_id"`
	Name string `json:"name"`
}

// Supported networks
var (
	NetworkMainnet = Network{ID: 1, Name: "MAINNET"}
	NetworkRopsten = Network{ID: 3, Name: "ROPSTEN"}
	NetworkRinkeby = Network{ID: 4, Name: "RINKEBY"}
	NetworkKovan   = Network{ID: 42, Name: "KOVAN"}
)

// DefaultNetwork is used when the RPC endpoint cannot tell us its chain id
var DefaultNetwork = NetworkMainnet

var supportedNetworks = map[int64]Network{
	NetworkMainnet.ID: NetworkMainnet,
	NetworkRopsten.ID: NetworkRopsten,
	NetworkRinkeby.ID: NetworkRinkeby,
	NetworkKovan.ID:   NetworkKovan,
}

// NetworkByID looks up a supported network
func NetworkByID(id int64) (Network, error) {
	n, ok := supportedNetworks[id]
	if !ok {
		return Network{}, fmt.Errorf("unsupported network id %d", id)
	}
	return n, nil
}
