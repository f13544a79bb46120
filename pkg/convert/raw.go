package convert

import (
	"encoding/json"

	"github.com/edgeflare/pgcdc/pkg/decoder"
)

// rawTuple renders a Tuple as a column-name-keyed object of raw string
// values, with no type coercion: Null becomes JSON null, Unchanged columns
// are omitted. Used only by RenderRaw, which preserves on-wire text.
func rawTuple(cols []decoder.ColumnDescriptor, tuple decoder.Tuple) map[string]any {
	obj := make(map[string]any, len(tuple))
	for i, v := range tuple {
		name := columnName(cols, i)
		switch {
		case v.IsUnchanged():
			continue
		case v.IsNull():
			obj[name] = nil
		default:
			obj[name] = string(v.Data)
		}
	}
	return obj
}

func columnName(cols []decoder.ColumnDescriptor, i int) string {
	if i < len(cols) {
		return cols[i].Name
	}
	return "?"
}

func resolveColumns(cache *decoder.RelationCache, relationID uint32) []decoder.ColumnDescriptor {
	if cache == nil {
		return nil
	}
	if rel, ok := cache.Get(relationID); ok {
		return rel.Columns
	}
	return nil
}

// RenderRaw produces one JSON object per change, keyed at the top level by
// the variant tag. It never applies type coercion: tuple values stay the
// textual strings pgoutput sent. The result ends with a line feed.
func RenderRaw(change decoder.Change, cache *decoder.RelationCache, pretty bool) []byte {
	body := rawBody(change, cache)
	doc := map[string]any{string(change.Tag): body}

	var out []byte
	var err error
	if pretty {
		out, err = json.MarshalIndent(doc, "", "  ")
	} else {
		out, err = json.Marshal(doc)
	}
	if err != nil {
		return nil
	}
	return append(out, '\n')
}

func rawBody(change decoder.Change, cache *decoder.RelationCache) any {
	switch change.Tag {
	case decoder.TagBegin:
		b := change.Begin
		return map[string]any{"final_lsn": b.FinalLSN.String(), "timestamp": b.Timestamp, "xid": b.Xid}
	case decoder.TagCommit:
		c := change.Commit
		return map[string]any{
			"flags": c.Flags, "commit_lsn": c.CommitLSN.String(),
			"end_lsn": c.EndLSN.String(), "timestamp": c.Timestamp,
		}
	case decoder.TagRelation:
		rel := change.Relation
		cols := make([]map[string]any, len(rel.Columns))
		for i, c := range rel.Columns {
			cols[i] = map[string]any{"name": c.Name, "type_oid": c.TypeOID, "flags": c.Flags}
		}
		return map[string]any{
			"relation_id": rel.RelationID, "schema": rel.Schema, "table": rel.Table,
			"replica_identity": string(rel.ReplicaIdentity), "columns": cols,
		}
	case decoder.TagInsert:
		ins := change.Insert
		cols := resolveColumns(cache, ins.RelationID)
		return map[string]any{"relation_id": ins.RelationID, "new": rawTuple(cols, ins.New)}
	case decoder.TagUpdate:
		upd := change.Update
		cols := resolveColumns(cache, upd.RelationID)
		body := map[string]any{"relation_id": upd.RelationID, "new": rawTuple(cols, upd.New)}
		if upd.Old != nil {
			body["old"] = rawTuple(cols, *upd.Old)
		} else {
			body["old"] = nil
		}
		if upd.Key != nil {
			body["key"] = rawTuple(cols, *upd.Key)
		} else {
			body["key"] = nil
		}
		return body
	case decoder.TagDelete:
		del := change.Delete
		cols := resolveColumns(cache, del.RelationID)
		body := map[string]any{"relation_id": del.RelationID}
		if del.Old != nil {
			body["old"] = rawTuple(cols, *del.Old)
		} else {
			body["old"] = nil
		}
		if del.Key != nil {
			body["key"] = rawTuple(cols, *del.Key)
		} else {
			body["key"] = nil
		}
		return body
	case decoder.TagTruncate:
		t := change.Truncate
		return map[string]any{"relation_ids": t.RelationIDs, "options": t.Options}
	case decoder.TagType:
		ty := change.Type
		return map[string]any{"type_oid": ty.TypeOID, "schema": ty.Schema, "name": ty.Name}
	default:
		return map[string]any{}
	}
}
