package convert

import (
	"fmt"
	"strings"

	"github.com/edgeflare/pgcdc/pkg/decoder"
)

// RenderText renders a human-oriented, non-round-tripping multiline summary
// of change, resolving column names against cache where one is needed.
func RenderText(change decoder.Change, cache *decoder.RelationCache) []byte {
	var sb strings.Builder

	switch change.Tag {
	case decoder.TagBegin:
		b := change.Begin
		fmt.Fprintf(&sb, "BEGIN [LSN: %s, XID: %d, Time: %d]\n", b.FinalLSN, b.Xid, b.Timestamp)
	case decoder.TagCommit:
		c := change.Commit
		fmt.Fprintf(&sb, "COMMIT [LSN: %s, Time: %d]\n", c.EndLSN, c.Timestamp)
	case decoder.TagRelation:
		rel := change.Relation
		fmt.Fprintf(&sb, "RELATION %s.%s (ID: %d)\n", rel.Schema, rel.Table, rel.RelationID)
		for _, col := range rel.Columns {
			fmt.Fprintf(&sb, "  %s: oid=%d\n", col.Name, col.TypeOID)
		}
	case decoder.TagInsert:
		ins := change.Insert
		cols := resolveColumns(cache, ins.RelationID)
		schema, table := relationName(cache, ins.RelationID)
		fmt.Fprintf(&sb, "INSERT into %s.%s (ID: %d)\n", schema, table, ins.RelationID)
		writeTupleLines(&sb, cols, ins.New, "  ")
	case decoder.TagUpdate:
		upd := change.Update
		cols := resolveColumns(cache, upd.RelationID)
		schema, table := relationName(cache, upd.RelationID)
		fmt.Fprintf(&sb, "UPDATE %s.%s (ID: %d)\n", schema, table, upd.RelationID)
		if upd.Old != nil {
			sb.WriteString("  old:\n")
			writeTupleLines(&sb, cols, *upd.Old, "    ")
		}
		if upd.Key != nil {
			sb.WriteString("  key:\n")
			writeTupleLines(&sb, cols, *upd.Key, "    ")
		}
		sb.WriteString("  new:\n")
		writeTupleLines(&sb, cols, upd.New, "    ")
	case decoder.TagDelete:
		del := change.Delete
		cols := resolveColumns(cache, del.RelationID)
		schema, table := relationName(cache, del.RelationID)
		fmt.Fprintf(&sb, "DELETE from %s.%s (ID: %d)\n", schema, table, del.RelationID)
		if del.Old != nil {
			sb.WriteString("  old:\n")
			writeTupleLines(&sb, cols, *del.Old, "    ")
		}
		if del.Key != nil {
			sb.WriteString("  key:\n")
			writeTupleLines(&sb, cols, *del.Key, "    ")
		}
	case decoder.TagTruncate:
		fmt.Fprintf(&sb, "TRUNCATE (IDs: %v)\n", change.Truncate.RelationIDs)
	case decoder.TagType:
		ty := change.Type
		fmt.Fprintf(&sb, "TYPE %s.%s (OID: %d)\n", ty.Schema, ty.Name, ty.TypeOID)
	}

	return []byte(sb.String())
}

func relationName(cache *decoder.RelationCache, relationID uint32) (schema, table string) {
	if cache == nil {
		return "?", "?"
	}
	if rel, ok := cache.Get(relationID); ok {
		return rel.Schema, rel.Table
	}
	return "?", "?"
}

func writeTupleLines(sb *strings.Builder, cols []decoder.ColumnDescriptor, tuple decoder.Tuple, indent string) {
	for i, v := range tuple {
		name := columnName(cols, i)
		switch {
		case v.IsNull():
			fmt.Fprintf(sb, "%s%s: <null>\n", indent, name)
		case v.IsUnchanged():
			fmt.Fprintf(sb, "%s%s: <unchanged>\n", indent, name)
		default:
			fmt.Fprintf(sb, "%s%s: %s\n", indent, name, v.Data)
		}
	}
}
