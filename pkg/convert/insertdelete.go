package convert

import (
	"encoding/json"

	"github.com/edgeflare/pgcdc/pkg/decoder"
)

// RenderInsertDelete renders a data-event change as the insert-delete
// encoding incremental-view-maintenance sinks expect: an Insert produces one
// {"insert": ...} event, a Delete produces one {"delete": ...} event, and an
// Update produces both in order, {"delete": old}, {"insert": new}, which
// callers MUST deliver together in the same batch or as adjacent lines.
// Begin/Commit/Relation/Truncate/Type return nil.
func RenderInsertDelete(change decoder.Change, cache *decoder.RelationCache) [][]byte {
	switch change.Tag {
	case decoder.TagInsert:
		ins := change.Insert
		cols := resolveColumns(cache, ins.RelationID)
		return [][]byte{marshalEnvelope("insert", coerceTuple(cols, ins.New))}
	case decoder.TagDelete:
		del := change.Delete
		cols := resolveColumns(cache, del.RelationID)
		return [][]byte{marshalEnvelope("delete", coerceTuple(cols, deleteTuple(del)))}
	case decoder.TagUpdate:
		upd := change.Update
		cols := resolveColumns(cache, upd.RelationID)
		oldTuple := updateOldTuple(upd)
		events := [][]byte{marshalEnvelope("delete", coerceTuple(cols, oldTuple))}
		events = append(events, marshalEnvelope("insert", coerceTuple(cols, upd.New)))
		return events
	default:
		return nil
	}
}

func deleteTuple(del *decoder.Delete) decoder.Tuple {
	if del.Old != nil {
		return *del.Old
	}
	if del.Key != nil {
		return *del.Key
	}
	return nil
}

func updateOldTuple(upd *decoder.Update) decoder.Tuple {
	if upd.Old != nil {
		return *upd.Old
	}
	if upd.Key != nil {
		return *upd.Key
	}
	return nil
}

func marshalEnvelope(kind string, obj map[string]any) []byte {
	out, err := json.Marshal(map[string]any{kind: obj})
	if err != nil {
		return nil
	}
	return out
}
