// Package convert renders decoder.Change values into the external wire
// formats this tool's sinks speak: raw JSON, human text, Debezium-style CDC
// envelopes, and insert-delete pairs for incremental view maintenance.
package convert

import (
	"math"
	"strconv"

	"github.com/edgeflare/pgcdc/pkg/decoder"
)

// PostgreSQL type OIDs CoerceValue treats specially. Everything else renders
// as a JSON string.
const (
	oidBool    = 16
	oidInt8    = 20
	oidInt2    = 21
	oidInt4    = 23
	oidFloat4  = 700
	oidFloat8  = 701
	oidNumeric = 1700
)

// CoerceValue re-types a column's raw textual value according to its
// PostgreSQL type OID. ok is false exactly when v is Unchanged, signaling the
// caller to omit the key from its output object rather than emit a value.
func CoerceValue(oid uint32, v decoder.TupleValue) (value any, ok bool) {
	if v.IsUnchanged() {
		return nil, false
	}
	if v.IsNull() {
		return nil, true
	}

	text := string(v.Data)
	switch oid {
	case oidBool:
		switch text {
		case "t":
			return true, true
		case "f":
			return false, true
		}
		return text, true
	case oidInt8, oidInt2, oidInt4:
		if n, err := strconv.ParseInt(text, 10, 64); err == nil {
			return n, true
		}
		return text, true
	case oidFloat4, oidFloat8:
		if f, err := strconv.ParseFloat(text, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			return f, true
		}
		return text, true
	case oidNumeric:
		return text, true
	default:
		return text, true
	}
}

// coerceTuple renders a Tuple as a typed object keyed by column name, using
// the relation's column descriptors to resolve names and type OIDs.
// Unchanged columns are omitted from the result entirely.
func coerceTuple(cols []decoder.ColumnDescriptor, tuple decoder.Tuple) map[string]any {
	obj := make(map[string]any, len(tuple))
	for i, v := range tuple {
		if i >= len(cols) {
			break
		}
		value, ok := CoerceValue(cols[i].TypeOID, v)
		if !ok {
			continue
		}
		obj[cols[i].Name] = value
	}
	return obj
}
