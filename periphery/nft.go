// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package periphery

import (
	"encoding/binary"
	"fmt"

	"github.com/luxfi/crypto"
	"github.com/luxfi/geth/common"
	"github.com/zeebo/blake3"
)

// Ownership-token surface of the position manager: every position is
// represented by one transferable token, with approval-per-token,
// operator-for-all, and an off-chain signed approval (permit).

// OwnerOf returns the owner of a position token.
func (pm *PositionManager) OwnerOf(tokenID uint64) (common.Address, error) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	owner, ok := pm.owners[tokenID]
	if !ok {
		return common.Address{}, fmt.Errorf("%w: %d", ErrInvalidTokenID, tokenID)
	}
	return owner, nil
}

// BalanceOfTokens returns how many position tokens an account holds.
func (pm *PositionManager) BalanceOfTokens(owner common.Address) uint64 {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.tokenCounts[owner]
}

// IsAuthorized reports whether caller may act on tokenID: owner, the
// per-token approved address, or an operator approved for all of the
// owner's tokens.
func (pm *PositionManager) IsAuthorized(caller common.Address, tokenID uint64) bool {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	owner, ok := pm.owners[tokenID]
	if !ok {
		return false
	}
	if caller == owner || pm.approvals[tokenID] == caller {
		return true
	}
	return pm.operatorApprovals[owner][caller]
}

// Approve grants spender control over a single token. Caller must be the
// owner or an approved operator.
func (pm *PositionManager) Approve(caller, spender common.Address, tokenID uint64) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	owner, ok := pm.owners[tokenID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrInvalidTokenID, tokenID)
	}
	if caller != owner && !pm.operatorApprovals[owner][caller] {
		return fmt.Errorf("%w: token %d", ErrNotAuthorized, tokenID)
	}
	pm.approvals[tokenID] = spender
	return nil
}

// GetApproved returns the per-token approved address, if any.
func (pm *PositionManager) GetApproved(tokenID uint64) common.Address {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.approvals[tokenID]
}

// SetApprovalForAll grants or revokes operator control over all of the
// caller's tokens.
func (pm *PositionManager) SetApprovalForAll(caller, operator common.Address, approved bool) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	ops, ok := pm.operatorApprovals[caller]
	if !ok {
		ops = make(map[common.Address]bool)
		pm.operatorApprovals[caller] = ops
	}
	ops[operator] = approved
}

// IsApprovedForAll reports operator-for-all status.
func (pm *PositionManager) IsApprovedForAll(owner, operator common.Address) bool {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.operatorApprovals[owner][operator]
}

// TransferFrom moves a position token. Caller must be authorized for it.
func (pm *PositionManager) TransferFrom(caller, from, to common.Address, tokenID uint64) error {
	if !pm.IsAuthorized(caller, tokenID) {
		return fmt.Errorf("%w: token %d", ErrNotAuthorized, tokenID)
	}
	pm.mu.Lock()
	defer pm.mu.Unlock()
	owner := pm.owners[tokenID]
	if owner != from {
		return fmt.Errorf("%w: token %d not owned by %s", ErrNotAuthorized, tokenID, from.Hex())
	}
	delete(pm.approvals, tokenID)
	pm.owners[tokenID] = to
	pm.tokenCounts[from]--
	pm.tokenCounts[to]++
	return nil
}

// PermitNonce returns the next permit nonce for a token.
func (pm *PositionManager) PermitNonce(tokenID uint64) uint64 {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.nonces[tokenID]
}

// PermitDigest is the message a token owner signs to approve spender
// without a prior on-chain transaction. Binds the contract account, the
// spender, the token, its current nonce, and a deadline.
func (pm *PositionManager) PermitDigest(spender common.Address, tokenID uint64, deadline int64) common.Hash {
	h := blake3.New()
	h.Write([]byte("lux/periphery/permit"))
	h.Write(pm.account.Bytes())
	h.Write(spender.Bytes())

	var buf [24]byte
	binary.BigEndian.PutUint64(buf[0:8], tokenID)
	binary.BigEndian.PutUint64(buf[8:16], pm.PermitNonce(tokenID))
	binary.BigEndian.PutUint64(buf[16:24], uint64(deadline))
	h.Write(buf[:])

	var digest common.Hash
	h.Digest().Read(digest[:])
	return digest
}

// Permit approves spender for tokenID based on the owner's signature over
// PermitDigest. The signature is the 65-byte [R || S || V] form.
func (pm *PositionManager) Permit(spender common.Address, tokenID uint64, deadline int64, sig []byte) error {
	if err := pm.checkDeadline(deadline); err != nil {
		return err
	}
	owner, err := pm.OwnerOf(tokenID)
	if err != nil {
		return err
	}
	if len(sig) != crypto.SignatureLength {
		return fmt.Errorf("%w: length %d", ErrInvalidSignature, len(sig))
	}

	digest := pm.PermitDigest(spender, tokenID, deadline)
	pub, err := crypto.SigToPub(digest[:], sig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if common.BytesToAddress(crypto.PubkeyToAddress(*pub).Bytes()) != owner {
		return fmt.Errorf("%w: token %d", ErrNotAuthorized, tokenID)
	}

	pm.mu.Lock()
	pm.approvals[tokenID] = spender
	pm.nonces[tokenID]++
	pm.mu.Unlock()
	return nil
}

// mintTokenLocked and burnTokenLocked keep the ownership bookkeeping next
// to the ledger. Caller holds pm.mu.
func (pm *PositionManager) mintTokenLocked(to common.Address, tokenID uint64) {
	pm.owners[tokenID] = to
	pm.tokenCounts[to]++
}

func (pm *PositionManager) burnTokenLocked(tokenID uint64) {
	owner := pm.owners[tokenID]
	delete(pm.owners, tokenID)
	delete(pm.approvals, tokenID)
	pm.tokenCounts[owner]--
}
