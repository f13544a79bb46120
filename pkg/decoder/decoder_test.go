package decoder

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buf is a tiny byte-buffer builder for constructing well-formed pgoutput
// frames in tests without hand counting offsets.
type buf struct {
	b []byte
}

func (w *buf) u8(v byte) *buf  { w.b = append(w.b, v); return w }
func (w *buf) u16(v uint16) *buf {
	w.b = binary.BigEndian.AppendUint16(w.b, v)
	return w
}
func (w *buf) u32(v uint32) *buf {
	w.b = binary.BigEndian.AppendUint32(w.b, v)
	return w
}
func (w *buf) i32(v int32) *buf { return w.u32(uint32(v)) }
func (w *buf) u64(v uint64) *buf {
	w.b = binary.BigEndian.AppendUint64(w.b, v)
	return w
}
func (w *buf) i64(v int64) *buf  { return w.u64(uint64(v)) }
func (w *buf) cstr(s string) *buf {
	w.b = append(w.b, []byte(s)...)
	w.b = append(w.b, 0)
	return w
}
func (w *buf) text(s string) *buf {
	w.u32(uint32(len(s)))
	w.b = append(w.b, []byte(s)...)
	return w
}
func (w *buf) bytes() []byte { return w.b }

func relationFrame(id uint32, schema, table string, cols []ColumnDescriptor, replident byte) []byte {
	w := &buf{}
	w.u8('R').u32(id).cstr(schema).cstr(table).u8(replident).u16(uint16(len(cols)))
	for _, c := range cols {
		w.u8(c.Flags).cstr(c.Name).u32(c.TypeOID).i32(0)
	}
	return w.bytes()
}

func primeUsersRelation(t *testing.T, cache *RelationCache) RelationInfo {
	t.Helper()
	frame := relationFrame(1, "public", "users", []ColumnDescriptor{
		{Name: "id", TypeOID: 23, Flags: 1},
		{Name: "name", TypeOID: 1043, Flags: 0},
	}, 'd')
	change, n, err := Decode(frame, cache)
	require.NoError(t, err)
	require.Equal(t, len(frame), n)
	require.Equal(t, TagRelation, change.Tag)
	return *change.Relation
}

func TestDecode_Relation(t *testing.T) {
	cache := NewRelationCache()
	rel := primeUsersRelation(t, cache)

	assert.Equal(t, uint32(1), rel.RelationID)
	assert.Equal(t, "public", rel.Schema)
	assert.Equal(t, "users", rel.Table)
	require.Len(t, rel.Columns, 2)
	assert.Equal(t, "id", rel.Columns[0].Name)
	assert.True(t, rel.Columns[0].PartOfReplicaIdentity())
	assert.False(t, rel.Columns[1].PartOfReplicaIdentity())

	cached, ok := cache.Get(1)
	require.True(t, ok)
	assert.Equal(t, rel, cached)
}

func TestDecode_RelationReplacesPriorEntry(t *testing.T) {
	cache := NewRelationCache()
	primeUsersRelation(t, cache)

	frame := relationFrame(1, "public", "users", []ColumnDescriptor{
		{Name: "id", TypeOID: 23, Flags: 1},
		{Name: "name", TypeOID: 1043, Flags: 0},
		{Name: "email", TypeOID: 1043, Flags: 0},
	}, 'd')
	_, _, err := Decode(frame, cache)
	require.NoError(t, err)

	rel, ok := cache.Get(1)
	require.True(t, ok)
	assert.Len(t, rel.Columns, 3)
}

func TestDecode_Insert(t *testing.T) {
	cache := NewRelationCache()
	primeUsersRelation(t, cache)

	w := &buf{}
	w.u8('I').u32(1).u8('N').u16(2)
	w.u8('t').text("42")
	w.u8('t').text("Alice")

	change, n, err := Decode(w.bytes(), cache)
	require.NoError(t, err)
	assert.Equal(t, len(w.bytes()), n)
	require.Equal(t, TagInsert, change.Tag)
	require.Len(t, change.Insert.New, 2)
	assert.Equal(t, TupleText, change.Insert.New[0].Kind)
	assert.Equal(t, "42", string(change.Insert.New[0].Data))
	assert.Equal(t, "Alice", string(change.Insert.New[1].Data))
}

func TestDecode_InsertUnknownRelation(t *testing.T) {
	cache := NewRelationCache()
	w := &buf{}
	w.u8('I').u32(99).u8('N').u16(0)

	_, _, err := Decode(w.bytes(), cache)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownRelation))
}

func TestDecode_UpdateWithOldFull(t *testing.T) {
	cache := NewRelationCache()
	primeUsersRelation(t, cache)

	w := &buf{}
	w.u8('U').u32(1)
	w.u8('O').u16(2).u8('t').text("42").u8('t').text("Alice")
	w.u8('N').u16(2).u8('t').text("42").u8('t').text("Alicia")

	change, _, err := Decode(w.bytes(), cache)
	require.NoError(t, err)
	require.Equal(t, TagUpdate, change.Tag)
	require.NotNil(t, change.Update.Old)
	assert.Nil(t, change.Update.Key)
	assert.Equal(t, "Alice", string((*change.Update.Old)[1].Data))
	assert.Equal(t, "Alicia", string(change.Update.New[1].Data))
}

func TestDecode_UpdateKeyOnly(t *testing.T) {
	cache := NewRelationCache()
	primeUsersRelation(t, cache)

	w := &buf{}
	w.u8('U').u32(1)
	w.u8('K').u16(2).u8('t').text("42").u8('n')
	w.u8('N').u16(2).u8('t').text("42").u8('t').text("Bob")

	change, _, err := Decode(w.bytes(), cache)
	require.NoError(t, err)
	require.NotNil(t, change.Update.Key)
	assert.Nil(t, change.Update.Old)
}

func TestDecode_UpdateNewOnly(t *testing.T) {
	cache := NewRelationCache()
	primeUsersRelation(t, cache)

	w := &buf{}
	w.u8('U').u32(1)
	w.u8('N').u16(2).u8('t').text("42").u8('u')

	change, _, err := Decode(w.bytes(), cache)
	require.NoError(t, err)
	assert.Nil(t, change.Update.Old)
	assert.Nil(t, change.Update.Key)
	assert.Equal(t, TupleUnchanged, change.Update.New[1].Kind)
}

func TestDecode_DeleteKeyOnly(t *testing.T) {
	cache := NewRelationCache()
	primeUsersRelation(t, cache)

	w := &buf{}
	w.u8('D').u32(1).u8('K').u16(2).u8('t').text("42").u8('n')

	change, _, err := Decode(w.bytes(), cache)
	require.NoError(t, err)
	require.Equal(t, TagDelete, change.Tag)
	require.NotNil(t, change.Delete.Key)
	assert.True(t, (*change.Delete.Key)[1].IsNull())
}

func TestDecode_BeginCommit(t *testing.T) {
	cache := NewRelationCache()

	b := &buf{}
	b.u8('B').u64(100).i64(123456789).u32(7)
	change, _, err := Decode(b.bytes(), cache)
	require.NoError(t, err)
	require.Equal(t, TagBegin, change.Tag)
	assert.Equal(t, uint32(7), change.Begin.Xid)

	c := &buf{}
	c.u8('C').u8(0).u64(100).u64(200).i64(123456789)
	change, _, err = Decode(c.bytes(), cache)
	require.NoError(t, err)
	require.Equal(t, TagCommit, change.Tag)
	assert.Equal(t, LSN(200), change.Commit.EndLSN)
}

func TestDecode_Truncate(t *testing.T) {
	cache := NewRelationCache()
	w := &buf{}
	w.u8('T').u32(2).u8(0).u32(1).u32(2)

	change, _, err := Decode(w.bytes(), cache)
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 2}, change.Truncate.RelationIDs)
}

func TestDecode_Type(t *testing.T) {
	cache := NewRelationCache()
	w := &buf{}
	w.u8('Y').u32(16384).cstr("public").cstr("mood")

	change, _, err := Decode(w.bytes(), cache)
	require.NoError(t, err)
	assert.Equal(t, "mood", change.Type.Name)
}

func TestDecode_UnknownTag(t *testing.T) {
	cache := NewRelationCache()
	_, _, err := Decode([]byte{'Z'}, cache)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownTag))
}

func TestDecode_ShortBuffer(t *testing.T) {
	cache := NewRelationCache()
	_, _, err := Decode([]byte{'B', 0, 0}, cache)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrShortBuffer))
}

func TestDecode_EmptyBuffer(t *testing.T) {
	cache := NewRelationCache()
	_, _, err := Decode(nil, cache)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrShortBuffer))
}

func TestDecode_UnknownValueKind(t *testing.T) {
	cache := NewRelationCache()
	primeUsersRelation(t, cache)

	w := &buf{}
	w.u8('I').u32(1).u8('N').u16(1).u8('x')
	_, _, err := Decode(w.bytes(), cache)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownValueKind))
}

func TestDecode_UnknownTupleKind(t *testing.T) {
	cache := NewRelationCache()
	primeUsersRelation(t, cache)

	w := &buf{}
	w.u8('D').u32(1).u8('X')
	_, _, err := Decode(w.bytes(), cache)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownTupleKind))
}

func TestDecode_BadUTF8InRelationName(t *testing.T) {
	cache := NewRelationCache()
	w := &buf{}
	w.u8('R').u32(1)
	w.b = append(w.b, 0xff, 0xfe, 0)
	w.cstr("users").u8('d').u16(0)

	_, _, err := Decode(w.bytes(), cache)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBadUTF8))
}

func TestLSNString(t *testing.T) {
	assert.Equal(t, "16/B374D848", LSN(0x16B374D848).String())
	assert.Equal(t, "0/0", LSN(0).String())
}

func TestDecodeConsumesEntireBuffer(t *testing.T) {
	cache := NewRelationCache()
	frames := [][]byte{
		relationFrame(5, "s", "t", []ColumnDescriptor{{Name: "a", TypeOID: 23}}, 'f'),
	}
	for _, f := range frames {
		_, n, err := Decode(f, cache)
		require.NoError(t, err)
		assert.Equal(t, len(f), n)
	}
}
