package validation

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/mr-tron/base58"
	"golang.org/x/crypto/sha3"

	"github.com/congo-pay/congo_custody/internal/apperr"
	"github.com/congo-pay/congo_custody/internal/money"
)

// Network names the chain a crypto withdrawal is sent over.
type Network string

const (
	NetworkBitcoin  Network = "bitcoin"
	NetworkEthereum Network = "ethereum"
	NetworkTron     Network = "tron"
)

var currencyNetworks = map[string][]Network{
	"BTC":  {NetworkBitcoin},
	"ETH":  {NetworkEthereum},
	"USDT": {NetworkEthereum, NetworkTron},
	"USDC": {NetworkEthereum},
}

var hexAddressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// ResolveNetwork returns the requested network, or the currency default when empty.
func ResolveNetwork(currency, network string) (Network, error) {
	code := money.Normalize(currency)
	supported, ok := currencyNetworks[code]
	if !ok {
		return "", apperr.Validation("crypto withdrawals are not supported for %s", code)
	}
	if strings.TrimSpace(network) == "" {
		return supported[0], nil
	}
	want := Network(strings.ToLower(strings.TrimSpace(network)))
	for _, n := range supported {
		if n == want {
			return n, nil
		}
	}
	return "", apperr.Validation("network %s is not supported for %s", want, code)
}

// ValidateCryptoAddress checks address format and checksum for the given network.
func ValidateCryptoAddress(network Network, address string) (string, error) {
	addr := strings.TrimSpace(address)
	switch network {
	case NetworkEthereum:
		if !validHexAddress(addr) {
			return "", apperr.Validation("invalid %s address", network)
		}
	case NetworkBitcoin:
		if strings.HasPrefix(strings.ToLower(addr), "bc1") {
			if !validSegwitAddress(addr) {
				return "", apperr.Validation("invalid %s address", network)
			}
			addr = strings.ToLower(addr)
			break
		}
		if !validBase58Check(addr, 0x00, 0x05) {
			return "", apperr.Validation("invalid %s address", network)
		}
	case NetworkTron:
		if !strings.HasPrefix(addr, "T") || !validBase58Check(addr, 0x41) {
			return "", apperr.Validation("invalid %s address", network)
		}
	default:
		return "", apperr.Validation("unsupported network %q", network)
	}
	return addr, nil
}

func validHexAddress(addr string) bool {
	if !hexAddressPattern.MatchString(addr) {
		return false
	}
	body := addr[2:]
	if body == strings.ToLower(body) || body == strings.ToUpper(body) {
		return true
	}
	// Mixed case carries an EIP-55 checksum.
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(strings.ToLower(body)))
	digest := hex.EncodeToString(h.Sum(nil))
	for i, r := range body {
		if r >= '0' && r <= '9' {
			continue
		}
		upper := digest[i] >= '8'
		if upper != (r >= 'A' && r <= 'F') {
			return false
		}
	}
	return true
}

// validSegwitAddress checks a mainnet bech32 (witness v0) or bech32m (v1+) address.
func validSegwitAddress(addr string) bool {
	hrp, data, encoding, err := bech32.DecodeGeneric(addr)
	if err != nil || hrp != "bc" || len(data) == 0 || data[0] > 16 {
		return false
	}
	program, err := bech32.ConvertBits(data[1:], 5, 8, false)
	if err != nil || len(program) < 2 || len(program) > 40 {
		return false
	}
	if data[0] == 0 {
		return encoding == bech32.Version0 && (len(program) == 20 || len(program) == 32)
	}
	return encoding == bech32.VersionM
}

func validBase58Check(addr string, versions ...byte) bool {
	raw, err := base58.Decode(addr)
	if err != nil || len(raw) != 25 {
		return false
	}
	payload, checksum := raw[:21], raw[21:]
	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	if !bytes.Equal(second[:4], checksum) {
		return false
	}
	for _, v := range versions {
		if payload[0] == v {
			return true
		}
	}
	return false
}
