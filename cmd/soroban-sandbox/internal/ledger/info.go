package ledger

import (
	"encoding/hex"

	"github.com/stellar/go-stellar-sdk/network"
)

// Info is the ledger context every validation and execution call reads. It is
// only changed between submissions, through the sandbox's administrative calls.
type Info struct {
	ProtocolVersion       uint32   `json:"protocolVersion"`
	SequenceNumber        uint32   `json:"sequenceNumber"`
	Timestamp             uint64   `json:"timestamp"`
	NetworkID             [32]byte `json:"networkId"`
	BaseReserve           uint32   `json:"baseReserve"`
	MinTemporaryEntryTTL  uint32   `json:"minTemporaryEntryTtl"`
	MinPersistentEntryTTL uint32   `json:"minPersistentEntryTtl"`
	MaxEntryTTL           uint32   `json:"maxEntryTtl"`
}

// NewInfo returns the ledger info for the network identified by passphrase.
func NewInfo(passphrase string, protocolVersion, sequence uint32, timestamp uint64) Info {
	return Info{
		ProtocolVersion:       protocolVersion,
		SequenceNumber:        sequence,
		Timestamp:             timestamp,
		NetworkID:             network.ID(passphrase),
		BaseReserve:           DefaultBaseReserve,
		MinTemporaryEntryTTL:  DefaultMinTemporaryEntryTTL,
		MinPersistentEntryTTL: DefaultMinPersistentEntryTTL,
		MaxEntryTTL:           DefaultMaxEntryTTL,
	}
}

// NetworkIDHex returns the hex encoded network id.
func (i Info) NetworkIDHex() string {
	return hex.EncodeToString(i.NetworkID[:])
}

// MinLiveUntil returns the live-until ledger a freshly written entry of the given
// durability receives.
func (i Info) MinLiveUntil(persistent bool) uint32 {
	ttl := i.MinTemporaryEntryTTL
	if persistent {
		ttl = i.MinPersistentEntryTTL
	}
	if ttl == 0 {
		return i.SequenceNumber
	}
	return i.SequenceNumber + ttl - 1
}

const (
	DefaultProtocolVersion       uint32 = 23
	DefaultBaseReserve           uint32 = 5_000_000
	DefaultMinTemporaryEntryTTL  uint32 = 16
	DefaultMinPersistentEntryTTL uint32 = 4096
	DefaultMaxEntryTTL           uint32 = 6_312_000
)
