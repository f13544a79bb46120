package convert

import (
	"encoding/json"
	"testing"

	"github.com/edgeflare/pgcdc/pkg/decoder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func usersCache() (*decoder.RelationCache, uint32) {
	cache := decoder.NewRelationCache()
	rel := decoder.RelationInfo{
		RelationID: 1,
		Schema:     "public",
		Table:      "users",
		Columns: []decoder.ColumnDescriptor{
			{Name: "id", TypeOID: 23, Flags: 1},
			{Name: "name", TypeOID: 1043, Flags: 0},
		},
		ReplicaIdentity: decoder.ReplicaIdentityDefault,
	}
	cache.Put(rel)
	return cache, rel.RelationID
}

func text(s string) decoder.TupleValue { return decoder.TupleValue{Kind: decoder.TupleText, Data: []byte(s)} }

var null = decoder.TupleValue{Kind: decoder.TupleNull}
var unchanged = decoder.TupleValue{Kind: decoder.TupleUnchanged}

// Scenario A — INSERT round-trip.
func TestRenderCDC_InsertRoundTrip(t *testing.T) {
	cache, relID := usersCache()
	change := decoder.Change{Tag: decoder.TagInsert, Insert: &decoder.Insert{
		RelationID: relID,
		New:        decoder.Tuple{text("42"), text("Alice")},
	}}

	out := RenderCDC(change, cache, SourceInfo{Version: "pgcdc-1.0", Connector: "postgresql", Name: "pgcdc", DB: "postgres", TsMs: 1000})
	require.NotNil(t, out)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(out, &doc))

	assert.Nil(t, doc["before"])
	after, ok := doc["after"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(42), after["id"])
	assert.Equal(t, "Alice", after["name"])
	assert.Equal(t, "c", doc["op"])
	assert.Equal(t, float64(1000), doc["ts_ms"])
	assert.Nil(t, doc["transaction"])

	source, ok := doc["source"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "public", source["schema"])
	assert.Equal(t, "users", source["table"])
}

// Scenario B — UPDATE decomposition.
func TestRenderInsertDelete_UpdateDecomposition(t *testing.T) {
	cache, relID := usersCache()
	old := decoder.Tuple{text("42"), text("Alice")}
	change := decoder.Change{Tag: decoder.TagUpdate, Update: &decoder.Update{
		RelationID: relID,
		Old:        &old,
		New:        decoder.Tuple{text("42"), text("Alicia")},
	}}

	events := RenderInsertDelete(change, cache)
	require.Len(t, events, 2)

	var del, ins map[string]any
	require.NoError(t, json.Unmarshal(events[0], &del))
	require.NoError(t, json.Unmarshal(events[1], &ins))

	deleteObj := del["delete"].(map[string]any)
	assert.Equal(t, float64(42), deleteObj["id"])
	assert.Equal(t, "Alice", deleteObj["name"])

	insertObj := ins["insert"].(map[string]any)
	assert.Equal(t, "Alicia", insertObj["name"])
}

// Scenario C — DELETE with key-only old tuple.
func TestRenderCDC_DeleteKeyOnly(t *testing.T) {
	cache, relID := usersCache()
	key := decoder.Tuple{text("42"), null}
	change := decoder.Change{Tag: decoder.TagDelete, Delete: &decoder.Delete{
		RelationID: relID,
		Key:        &key,
	}}

	out := RenderCDC(change, cache, SourceInfo{})
	var doc map[string]any
	require.NoError(t, json.Unmarshal(out, &doc))

	before := doc["before"].(map[string]any)
	assert.Equal(t, float64(42), before["id"])
	nameVal, present := before["name"]
	assert.True(t, present)
	assert.Nil(t, nameVal)
	assert.Nil(t, doc["after"])
	assert.Equal(t, "d", doc["op"])
}

// Scenario D — Unchanged TOAST value is omitted, not nulled.
func TestRenderInsertDelete_UnchangedOmitted(t *testing.T) {
	cache, relID := usersCache()
	change := decoder.Change{Tag: decoder.TagUpdate, Update: &decoder.Update{
		RelationID: relID,
		New:        decoder.Tuple{text("42"), unchanged},
	}}

	events := RenderInsertDelete(change, cache)
	require.Len(t, events, 2)

	var ins map[string]any
	require.NoError(t, json.Unmarshal(events[1], &ins))
	insertObj := ins["insert"].(map[string]any)

	_, hasName := insertObj["name"]
	assert.False(t, hasName)
	assert.Equal(t, float64(42), insertObj["id"])
}

// Scenario E — type coercion boundary.
func TestCoerceValue_Boundary(t *testing.T) {
	v, ok := CoerceValue(23, text("not-a-number"))
	require.True(t, ok)
	assert.Equal(t, "not-a-number", v)

	v, ok = CoerceValue(16, text("t"))
	require.True(t, ok)
	assert.Equal(t, true, v)

	v, ok = CoerceValue(16, text("f"))
	require.True(t, ok)
	assert.Equal(t, false, v)

	v, ok = CoerceValue(16, text("maybe"))
	require.True(t, ok)
	assert.Equal(t, "maybe", v)

	v, ok = CoerceValue(700, text("3.14"))
	require.True(t, ok)
	assert.Equal(t, 3.14, v)

	v, ok = CoerceValue(1700, text("99999999999999999999.123"))
	require.True(t, ok)
	assert.Equal(t, "99999999999999999999.123", v)

	v, ok = CoerceValue(23, null)
	require.True(t, ok)
	assert.Nil(t, v)

	_, ok = CoerceValue(23, unchanged)
	assert.False(t, ok)
}

func TestRenderRaw_TopLevelKeyMatchesTag(t *testing.T) {
	cache, relID := usersCache()
	change := decoder.Change{Tag: decoder.TagInsert, Insert: &decoder.Insert{
		RelationID: relID,
		New:        decoder.Tuple{text("42"), text("Alice")},
	}}

	out := RenderRaw(change, cache, false)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(out, &doc))
	_, ok := doc["Insert"]
	assert.True(t, ok)

	// raw keeps values as strings — no coercion.
	body := doc["Insert"].(map[string]any)
	newObj := body["new"].(map[string]any)
	assert.Equal(t, "42", newObj["id"])
}

func TestRenderRaw_NullVsUnchanged(t *testing.T) {
	cache, relID := usersCache()
	change := decoder.Change{Tag: decoder.TagInsert, Insert: &decoder.Insert{
		RelationID: relID,
		New:        decoder.Tuple{text("42"), null},
	}}
	out := RenderRaw(change, cache, false)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(out, &doc))
	body := doc["Insert"].(map[string]any)
	newObj := body["new"].(map[string]any)
	nameVal, present := newObj["name"]
	assert.True(t, present)
	assert.Nil(t, nameVal)

	change.Insert.New = decoder.Tuple{text("42"), unchanged}
	out = RenderRaw(change, cache, false)
	require.NoError(t, json.Unmarshal(out, &doc))
	body = doc["Insert"].(map[string]any)
	newObj = body["new"].(map[string]any)
	_, present = newObj["name"]
	assert.False(t, present)
}

func TestRenderCDC_DropsNonDataEvents(t *testing.T) {
	cache, _ := usersCache()
	assert.Nil(t, RenderCDC(decoder.Change{Tag: decoder.TagBegin, Begin: &decoder.Begin{}}, cache, SourceInfo{}))
	assert.Nil(t, RenderCDC(decoder.Change{Tag: decoder.TagCommit, Commit: &decoder.Commit{}}, cache, SourceInfo{}))
	assert.Nil(t, RenderInsertDelete(decoder.Change{Tag: decoder.TagTruncate, Truncate: &decoder.Truncate{}}, cache))
}

func TestRenderText_Insert(t *testing.T) {
	cache, relID := usersCache()
	change := decoder.Change{Tag: decoder.TagInsert, Insert: &decoder.Insert{
		RelationID: relID,
		New:        decoder.Tuple{text("42"), text("Alice")},
	}}
	out := string(RenderText(change, cache))
	assert.Contains(t, out, "INSERT into public.users (ID: 1)")
	assert.Contains(t, out, "id: 42")
	assert.Contains(t, out, "name: Alice")
}
