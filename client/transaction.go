package client

import (
	"fmt"
	"strings"

	"github.com/dan-strohschein/ydbsql-driver/tableclient"
)

// IsolationLevel represents transaction isolation levels.
type IsolationLevel int

const (
	// Serializable is the read-write level; transactions span statements.
	Serializable IsolationLevel = iota
	// OnlineConsistentReadOnly reads the latest consistent data.
	OnlineConsistentReadOnly
	// OnlineInconsistentReadOnly reads the latest data without consistency
	// across shards.
	OnlineInconsistentReadOnly
	// StaleConsistentReadOnly reads consistent data that may lag behind.
	StaleConsistentReadOnly
	// SnapshotReadOnly reads a consistent snapshot.
	SnapshotReadOnly
)

var isolationNames = map[IsolationLevel]string{
	Serializable:               "SERIALIZABLE",
	OnlineConsistentReadOnly:   "ONLINE_CONSISTENT_READ_ONLY",
	OnlineInconsistentReadOnly: "ONLINE_INCONSISTENT_READ_ONLY",
	StaleConsistentReadOnly:    "STALE_CONSISTENT_READ_ONLY",
	SnapshotReadOnly:           "SNAPSHOT_READ_ONLY",
}

// String returns the string representation of the isolation level.
func (l IsolationLevel) String() string {
	if name, ok := isolationNames[l]; ok {
		return name
	}
	return "UNKNOWN"
}

// Valid reports whether l is a known level.
func (l IsolationLevel) Valid() bool {
	_, ok := isolationNames[l]
	return ok
}

// IsReadOnly reports whether transactions at this level cannot write.
// Read-only levels always commit with the query, so they never leave a
// transaction open.
func (l IsolationLevel) IsReadOnly() bool {
	return l != Serializable
}

// TxMode returns the remote begin mode for the level.
func (l IsolationLevel) TxMode() tableclient.TxMode {
	switch l {
	case OnlineConsistentReadOnly:
		return tableclient.OnlineReadOnly
	case OnlineInconsistentReadOnly:
		return tableclient.OnlineReadOnlyInconsistent
	case StaleConsistentReadOnly:
		return tableclient.StaleReadOnly
	case SnapshotReadOnly:
		return tableclient.SnapshotReadOnly
	default:
		return tableclient.SerializableReadWrite
	}
}

// ParseIsolationLevel parses a level name such as "serializable" or
// "ONLINE_CONSISTENT_READ_ONLY".
func ParseIsolationLevel(s string) (IsolationLevel, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	name = strings.ReplaceAll(name, "-", "_")
	for level, n := range isolationNames {
		if n == name {
			return level, nil
		}
	}
	return 0, fmt.Errorf("unknown transaction level %q", s)
}

// FakeTxMode decides how a scan or scheme query behaves when it is issued
// inside an open transaction.
type FakeTxMode int

const (
	// FakeTx runs the query without touching the transaction.
	FakeTx FakeTxMode = iota
	// ShadowCommit commits the open transaction first.
	ShadowCommit
	// FakeTxError refuses the query with a TransactionPolicyError.
	FakeTxError
)

// String returns the string representation of the mode.
func (m FakeTxMode) String() string {
	switch m {
	case FakeTx:
		return "FAKE_TX"
	case ShadowCommit:
		return "SHADOW_COMMIT"
	case FakeTxError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseFakeTxMode parses FAKE_TX, SHADOW_COMMIT or ERROR.
func ParseFakeTxMode(s string) (FakeTxMode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "FAKE_TX":
		return FakeTx, nil
	case "SHADOW_COMMIT":
		return ShadowCommit, nil
	case "ERROR":
		return FakeTxError, nil
	}
	return 0, fmt.Errorf("unknown fake transaction mode %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (l IsolationLevel) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *IsolationLevel) UnmarshalText(text []byte) error {
	parsed, err := ParseIsolationLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (m FakeTxMode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *FakeTxMode) UnmarshalText(text []byte) error {
	parsed, err := ParseFakeTxMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
