// Package contracts carries the ABI surface of the two contracts the relayer
// drives: the destination bridge (receiveMessage) and the L1 vault controller
// (updateWithdrawalState), plus the withdrawal message hash they agree on.
package contracts

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const bridgeJSON = `[
	{
		"type": "function",
		"name": "receiveMessage",
		"stateMutability": "nonpayable",
		"inputs": [{"name": "message", "type": "bytes"}],
		"outputs": []
	}
]`

const vaultControllerJSON = `[
	{
		"type": "function",
		"name": "updateWithdrawalState",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "messageHashes", "type": "bytes32[]"},
			{"name": "l1BatchNumber", "type": "uint256"},
			{"name": "totalShares", "type": "uint256"}
		],
		"outputs": []
	}
]`

var (
	// Bridge is the destination bridge ABI, identical on both chains.
	Bridge = mustParse(bridgeJSON)
	// VaultController is the L1 settlement contract ABI.
	VaultController = mustParse(vaultControllerJSON)
)

func mustParse(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("contracts: parse ABI: %v", err))
	}
	return parsed
}

// PackReceiveMessage encodes the bridge call delivering one payload verbatim.
func PackReceiveMessage(payload []byte) ([]byte, error) {
	return Bridge.Pack("receiveMessage", payload)
}

// PackUpdateWithdrawalState encodes the vault controller settlement call.
func PackUpdateWithdrawalState(messageHashes [][32]byte, l1BatchNumber, totalShares *big.Int) ([]byte, error) {
	return VaultController.Pack("updateWithdrawalState", messageHashes, l1BatchNumber, totalShares)
}

// Pack resolves a method name across the known contract surfaces.
func Pack(method string, args ...any) ([]byte, error) {
	for _, contract := range []abi.ABI{Bridge, VaultController} {
		if _, ok := contract.Methods[method]; ok {
			return contract.Pack(method, args...)
		}
	}
	return nil, fmt.Errorf("unknown contract method %q", method)
}

// withdrawalMessageKind is the vault controller's discriminator for
// finalize-withdrawal messages.
const withdrawalMessageKind = uint8(2)

var withdrawalHashArgs = abi.Arguments{
	{Type: mustType("uint256")},
	{Type: mustType("uint8")},
	{Type: mustType("address")},
	{Type: mustType("address")},
	{Type: mustType("uint256")},
}

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(fmt.Sprintf("contracts: abi type %s: %v", t, err))
	}
	return typ
}

// WithdrawalMessageHash computes the hash the vault controller records per
// settled withdrawal:
//
//	keccak256(abi.encode(uint256 vaultNonce, uint8 2, address vault, address receiver, uint256 shares))
func WithdrawalMessageHash(vaultNonce *big.Int, vault, receiver common.Address, shares *big.Int) (common.Hash, error) {
	packed, err := withdrawalHashArgs.Pack(vaultNonce, withdrawalMessageKind, vault, receiver, shares)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack withdrawal message: %w", err)
	}
	return crypto.Keccak256Hash(packed), nil
}
