// Package partition provides the message key strategies used when case
// change events are produced to Kafka.
//
// The key decides which partition an event lands on:
//
//   - Ordering: events with the same key go to the same partition and
//     therefore arrive in order at the consumer.
//   - Parallelism: events spread across partitions can be consumed in parallel.
//
// # Available Strategies
//
//   - [SysIDPartitioner]: Uses the case sys_id as the key. Every change to
//     the same case stays on one partition.
//
//   - [RoundRobinPartitioner]: Returns a nil key, causing franz-go to spread
//     events across partitions. No per-case ordering.
//
//   - [FieldBasedPartitioner]: Hashes one or more case field values, e.g.
//     "account" to keep all events of one customer account together.
//
// # Usage
//
//	p := partition.New(cfg.Events.KeyStrategy, cfg.Events.KeyFields)
//	key := p.Key(fields) // returns the message key bytes or nil
package partition

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// Strategy names accepted by New.
const (
	StrategySysID      = "sys_id"
	StrategyRoundRobin = "round_robin"
	StrategyFieldBased = "field_based"
)

// Partitioner determines the Kafka message key for a case event from the
// event's flat field map.
type Partitioner interface {
	// Key returns the Kafka message key. Returns nil for round-robin
	// partitioning (no key).
	Key(fields map[string]string) []byte
}

// New creates a Partitioner for the configured strategy. Unknown or empty
// strategies fall back to sys_id keys.
func New(strategy string, keyFields []string) Partitioner {
	switch strategy {
	case StrategyRoundRobin:
		return RoundRobinPartitioner{}
	case StrategyFieldBased:
		return &FieldBasedPartitioner{Fields: keyFields}
	default:
		return SysIDPartitioner{}
	}
}

// ----- sys_id Partitioner -----

// SysIDPartitioner uses the case sys_id as the message key.
type SysIDPartitioner struct{}

// Key returns the sys_id value, or nil when the event carries none.
func (SysIDPartitioner) Key(fields map[string]string) []byte {
	id := fields["sys_id"]
	if id == "" {
		return nil
	}
	return []byte(id)
}

// ----- Round Robin Partitioner -----

// RoundRobinPartitioner returns a nil key, causing the Kafka client to
// distribute messages evenly across all partitions.
type RoundRobinPartitioner struct{}

// Key always returns nil for round-robin distribution.
func (RoundRobinPartitioner) Key(_ map[string]string) []byte {
	return nil
}

// ----- Field-Based Partitioner -----

// FieldBasedPartitioner hashes one or more field values to produce a
// deterministic message key.
//
// # Hash Algorithm
//
// The field values are concatenated in sorted field name order, separated by
// a null byte, and SHA-256 hashed. The hex digest is always 64 characters.
//
// Given fields=["account", "assignment_group"] and an event with:
//
//	account = "ACME Corp"
//	assignment_group = "Tier 1"
//
// The key is SHA-256("ACME Corp\x00Tier 1") → "a1b2c3..."
type FieldBasedPartitioner struct {
	Fields []string
}

// Key returns the hex SHA-256 of the configured field values. Fields are
// sorted so configuration order does not change the key.
func (f *FieldBasedPartitioner) Key(fields map[string]string) []byte {
	if len(f.Fields) == 0 {
		return nil
	}

	sorted := make([]string, len(f.Fields))
	copy(sorted, f.Fields)
	sort.Strings(sorted)

	parts := make([]string, 0, len(sorted))
	for _, field := range sorted {
		parts = append(parts, fields[field])
	}

	composite := strings.Join(parts, "\x00")
	hash := sha256.Sum256([]byte(composite))
	return []byte(hex.EncodeToString(hash[:]))
}
