package convert

import (
	"encoding/json"

	"github.com/edgeflare/pgcdc/pkg/decoder"
)

// SourceInfo carries the connector identity fields the CDC envelope's source
// block reports, plus the LSN and timestamp of the transaction currently in
// flight. The stdout sink updates LSN/TsMs from each Begin frame and passes
// the same SourceInfo through every data-event change inside that
// transaction, since row-mutation frames do not carry their own LSN.
type SourceInfo struct {
	Version   string
	Connector string
	Name      string
	DB        string
	LSN       decoder.LSN
	TsMs      int64
}

type cdcEnvelope struct {
	Before      any         `json:"before"`
	After       any         `json:"after"`
	Source      cdcSource   `json:"source"`
	Op          string      `json:"op"`
	TsMs        int64       `json:"ts_ms"`
	Transaction interface{} `json:"transaction"`
}

type cdcSource struct {
	Version   string `json:"version"`
	Connector string `json:"connector"`
	Name      string `json:"name"`
	TsMs      int64  `json:"ts_ms"`
	DB        string `json:"db"`
	Schema    string `json:"schema"`
	Table     string `json:"table"`
	LSN       string `json:"lsn"`
}

// RenderCDC produces a Debezium-style CDC envelope for Insert/Update/Delete
// changes. Begin/Commit/Relation/Truncate/Type return nil: the caller drops
// the event entirely rather than writing an empty line.
func RenderCDC(change decoder.Change, cache *decoder.RelationCache, source SourceInfo) []byte {
	var relationID uint32
	var before, after any
	var op string

	switch change.Tag {
	case decoder.TagInsert:
		ins := change.Insert
		relationID = ins.RelationID
		cols := resolveColumns(cache, relationID)
		before = nil
		after = coerceTuple(cols, ins.New)
		op = "c"
	case decoder.TagUpdate:
		upd := change.Update
		relationID = upd.RelationID
		cols := resolveColumns(cache, relationID)
		if upd.Old != nil {
			before = coerceTuple(cols, *upd.Old)
		} else {
			before = nil
		}
		after = coerceTuple(cols, upd.New)
		op = "u"
	case decoder.TagDelete:
		del := change.Delete
		relationID = del.RelationID
		cols := resolveColumns(cache, relationID)
		switch {
		case del.Old != nil:
			before = coerceTuple(cols, *del.Old)
		case del.Key != nil:
			before = coerceTuple(cols, *del.Key)
		}
		after = nil
		op = "d"
	default:
		return nil
	}

	schema, table := relationName(cache, relationID)
	envelope := cdcEnvelope{
		Before: before,
		After:  after,
		Source: cdcSource{
			Version:   source.Version,
			Connector: source.Connector,
			Name:      source.Name,
			TsMs:      source.TsMs,
			DB:        source.DB,
			Schema:    schema,
			Table:     table,
			LSN:       source.LSN.String(),
		},
		Op:          op,
		TsMs:        source.TsMs,
		Transaction: nil,
	}

	out, err := json.Marshal(envelope)
	if err != nil {
		return nil
	}
	return append(out, '\n')
}
