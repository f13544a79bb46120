// Package decoder parses the pgoutput logical replication wire protocol into a
// typed Change model and maintains the relation cache row mutations need to
// resolve column names and types.
package decoder

import "fmt"

// LSN is a 64-bit PostgreSQL log sequence number.
type LSN uint64

// String renders an LSN in PostgreSQL's native "<hi-hex>/<lo-hex>" form.
func (lsn LSN) String() string {
	return fmt.Sprintf("%X/%X", uint32(lsn>>32), uint32(lsn))
}

// ColumnDescriptor describes one column of a relation as reported by a RELATION frame.
type ColumnDescriptor struct {
	Name    string
	TypeOID uint32
	Flags   uint8
}

// PartOfReplicaIdentity reports whether the column participates in the table's
// replica identity (bit 0 of Flags).
func (c ColumnDescriptor) PartOfReplicaIdentity() bool {
	return c.Flags&0x1 != 0
}

// ReplicaIdentity mirrors pg_class.relreplident.
type ReplicaIdentity byte

const (
	ReplicaIdentityDefault ReplicaIdentity = 'd'
	ReplicaIdentityNothing ReplicaIdentity = 'n'
	ReplicaIdentityFull    ReplicaIdentity = 'f'
	ReplicaIdentityIndex   ReplicaIdentity = 'i'
)

// RelationInfo is the cached schema for one relation id, populated by RELATION frames.
type RelationInfo struct {
	RelationID      uint32
	Schema          string
	Table           string
	Columns         []ColumnDescriptor
	ReplicaIdentity ReplicaIdentity
}

// TupleKind distinguishes the three alternatives a TupleValue can take.
type TupleKind uint8

const (
	TupleNull TupleKind = iota
	TupleUnchanged
	TupleText
)

// TupleValue is one column's value within a Tuple. Data is only meaningful when
// Kind is TupleText; the decoder never attempts to parse it.
type TupleValue struct {
	Kind TupleKind
	Data []byte
}

func (v TupleValue) IsNull() bool      { return v.Kind == TupleNull }
func (v TupleValue) IsUnchanged() bool { return v.Kind == TupleUnchanged }

// Tuple is one row's worth of column values, position-correlated with the
// referenced RelationInfo's Columns.
type Tuple []TupleValue

// Tag identifies which variant a Change holds.
type Tag string

const (
	TagBegin    Tag = "Begin"
	TagCommit   Tag = "Commit"
	TagRelation Tag = "Relation"
	TagInsert   Tag = "Insert"
	TagUpdate   Tag = "Update"
	TagDelete   Tag = "Delete"
	TagTruncate Tag = "Truncate"
	TagType     Tag = "Type"
)

// Begin marks the start of a replicated transaction.
type Begin struct {
	FinalLSN  LSN
	Timestamp int64 // microseconds since 2000-01-01, as pgoutput sends it
	Xid       uint32
}

// Commit marks the end of a replicated transaction.
type Commit struct {
	Flags     uint8
	CommitLSN LSN
	EndLSN    LSN
	Timestamp int64
}

// Insert is a single-row INSERT.
type Insert struct {
	RelationID uint32
	New        Tuple
}

// Update is a single-row UPDATE. Old is present only under REPLICA IDENTITY
// FULL; Key is present only when the key columns changed under KEY/INDEX identity.
type Update struct {
	RelationID uint32
	Old        *Tuple
	Key        *Tuple
	New        Tuple
}

// Delete is a single-row DELETE. Exactly one of Old or Key is populated,
// mirroring the replica identity in effect.
type Delete struct {
	RelationID uint32
	Old        *Tuple
	Key        *Tuple
}

// Truncate affects one or more relations in a single statement.
type Truncate struct {
	RelationIDs []uint32
	Options     uint8
}

// TypeMessage names a user-defined type referenced by a tuple. It never
// carries row data; the raw and text renderings include it, while the CDC
// and insert-delete renderings and the message-bus sink drop it.
type TypeMessage struct {
	TypeOID uint32
	Schema  string
	Name    string
}

// Change is a tagged union over the decoded logical-decoding messages. Exactly
// one of the pointer fields matching Tag is non-nil.
type Change struct {
	Tag      Tag
	Begin    *Begin
	Commit   *Commit
	Relation *RelationInfo
	Insert   *Insert
	Update   *Update
	Delete   *Delete
	Truncate *Truncate
	Type     *TypeMessage
}
