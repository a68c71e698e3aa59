// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package periphery

import (
	"encoding/binary"
	"fmt"

	"github.com/luxfi/geth/common"
)

// Swap paths are byte sequences laid out as
//
//	token(20) | fee(3) | token(20) | fee(3) | ... | token(20)
//
// Each (token, fee, token) window references exactly one pool. Paths are
// transient, constructed per call, and may be supplied pre-reversed for
// exact-output traversal; direction is the caller's responsibility.
const (
	addrSize = common.AddressLength
	feeSize  = 3
	hopSize  = addrSize + feeSize

	// pathMinLen is one pool: two tokens and one fee tier.
	pathMinLen = hopSize + addrSize
)

// EncodePath packs an ordered hop sequence into path bytes.
func EncodePath(tokens []common.Address, fees []uint24) ([]byte, error) {
	if len(tokens) < 2 {
		return nil, fmt.Errorf("%w: need at least 2 tokens, got %d", ErrMalformedPath, len(tokens))
	}
	if len(fees) != len(tokens)-1 {
		return nil, fmt.Errorf("%w: %d tokens require %d fees, got %d", ErrMalformedPath, len(tokens), len(tokens)-1, len(fees))
	}

	path := make([]byte, 0, len(fees)*hopSize+addrSize)
	for i, fee := range fees {
		path = append(path, tokens[i].Bytes()...)

		var feeBytes [4]byte
		binary.BigEndian.PutUint32(feeBytes[:], uint32(fee))
		path = append(path, feeBytes[1:]...)
	}
	return append(path, tokens[len(tokens)-1].Bytes()...), nil
}

// DecodePath unpacks path bytes into the original hop sequence. It is the
// exact inverse of EncodePath.
func DecodePath(path []byte) ([]common.Address, []uint24, error) {
	if len(path) < pathMinLen || (len(path)-addrSize)%hopSize != 0 {
		return nil, nil, fmt.Errorf("%w: length %d", ErrMalformedPath, len(path))
	}

	n := NumPools(path)
	tokens := make([]common.Address, 0, n+1)
	fees := make([]uint24, 0, n)
	for i := 0; i < n; i++ {
		tokens = append(tokens, common.BytesToAddress(path[i*hopSize:i*hopSize+addrSize]))
		fees = append(fees, decodeFee(path[i*hopSize+addrSize:]))
	}
	return append(tokens, common.BytesToAddress(path[n*hopSize:])), fees, nil
}

// NumPools reports the hop count without decoding.
func NumPools(path []byte) int {
	if len(path) < pathMinLen {
		return 0
	}
	return (len(path) - addrSize) / hopSize
}

// HasMultiplePools reports whether the path routes through more than one
// pool.
func HasMultiplePools(path []byte) bool {
	return len(path) >= pathMinLen+hopSize
}

// DecodeFirstPool extracts the leading pool of the path.
func DecodeFirstPool(path []byte) (tokenA, tokenB common.Address, fee uint24, err error) {
	if len(path) < pathMinLen {
		return common.Address{}, common.Address{}, 0, fmt.Errorf("%w: length %d", ErrMalformedPath, len(path))
	}
	tokenA = common.BytesToAddress(path[:addrSize])
	fee = decodeFee(path[addrSize:])
	tokenB = common.BytesToAddress(path[hopSize : hopSize+addrSize])
	return tokenA, tokenB, fee, nil
}

// SkipToken advances the path past its leading (token, fee) element.
func SkipToken(path []byte) []byte {
	return path[hopSize:]
}

func decodeFee(b []byte) uint24 {
	var feeBytes [4]byte
	copy(feeBytes[1:], b[:feeSize])
	return binary.BigEndian.Uint32(feeBytes[:])
}
