package action

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
	"strconv"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrInvalidTarget is returned when a target identity cannot be encoded.
var ErrInvalidTarget = errors.New("target identity must be a decimal account id")

// PayloadEncoder builds the request body for an action against target.
type PayloadEncoder interface {
	Encode(target string) ([]byte, error)
}

// FriendRequestPayload encodes the friend request message: field 1 is the
// sender id, field 2 the target account id and field 3 the request kind, all
// varints. When a cipher is configured the message is encrypted with AES-CBC
// and PKCS#7 padding.
type FriendRequestPayload struct {
	senderID uint64
	block    cipher.Block
	iv       []byte
}

// NewFriendRequestPayload creates an encoder. key and iv must either both be
// empty (no encryption) or be a valid AES key and a 16 byte IV.
func NewFriendRequestPayload(senderID uint64, key, iv []byte) (*FriendRequestPayload, error) {
	p := &FriendRequestPayload{senderID: senderID}

	if len(key) == 0 && len(iv) == 0 {
		return p, nil
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("payload cipher: %w", err)
	}
	if len(iv) != block.BlockSize() {
		return nil, fmt.Errorf("payload IV must be %d bytes, got %d", block.BlockSize(), len(iv))
	}

	p.block = block
	p.iv = bytes.Clone(iv)
	return p, nil
}

func (p *FriendRequestPayload) Encode(target string) ([]byte, error) {
	targetID, err := strconv.ParseUint(target, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTarget, target)
	}

	msg := protowire.AppendTag(nil, 1, protowire.VarintType)
	msg = protowire.AppendVarint(msg, p.senderID)
	msg = protowire.AppendTag(msg, 2, protowire.VarintType)
	msg = protowire.AppendVarint(msg, targetID)
	msg = protowire.AppendTag(msg, 3, protowire.VarintType)
	msg = protowire.AppendVarint(msg, 1)

	if p.block == nil {
		return msg, nil
	}

	padded := pad(msg, p.block.BlockSize())
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(p.block, p.iv).CryptBlocks(out, padded)
	return out, nil
}

func pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(bytes.Clone(data), bytes.Repeat([]byte{byte(n)}, n)...)
}
