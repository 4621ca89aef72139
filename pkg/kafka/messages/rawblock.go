// Package messages provides the raw block wire format exchanged between the
// fetcher and the header consumer.
package messages

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/indexforge/header-indexer/pkg/kafka/message"
	"github.com/indexforge/header-indexer/pkg/types"
)

const (
	// TypeRawBlock is the envelope type for raw block payloads.
	TypeRawBlock = "raw_block"
	// RawBlockVersion is the current raw block payload version.
	RawBlockVersion = 1
)

// MarshalRawBlock wraps a raw block into a versioned envelope ready for
// producing. The envelope ID is the block hash when the raw block carries
// one, so DLQ triage can identify payloads without decoding them.
func MarshalRawBlock(raw *types.RawBlock) ([]byte, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("marshal raw block: %w", err)
	}

	var id string
	if raw.Hash != nil {
		id = raw.Hash.Hex()
	}

	env := message.New(
		TypeRawBlock,
		RawBlockVersion,
		id,
		time.Now().UTC().Format(time.RFC3339),
		data,
	)

	payload, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return payload, nil
}

// UnmarshalRawBlock opens the envelope and decodes its raw block payload.
// Messages of an unknown type or version are rejected before the payload is
// touched.
func UnmarshalRawBlock(payload []byte) (*types.RawBlock, error) {
	env, err := message.Open(payload)
	if err != nil {
		return nil, fmt.Errorf("open envelope: %w", err)
	}

	if env.Type != TypeRawBlock {
		return nil, fmt.Errorf("unexpected message type %q", env.Type)
	}
	if env.Version != RawBlockVersion {
		return nil, fmt.Errorf("unsupported raw block version %d", env.Version)
	}

	var raw types.RawBlock
	if err := json.Unmarshal(env.Data, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal raw block: %w", err)
	}
	return &raw, nil
}
