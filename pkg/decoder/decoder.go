package decoder

import "fmt"

// Decode parses exactly one pgoutput protocol message from buf. It returns the
// decoded Change, the number of bytes consumed (always len(buf) for
// well-formed input), and an error for malformed input.
//
// RELATION frames both return a Change and update cache as a side effect, so a
// converter invoked on the very next row-mutation frame can resolve it
// immediately. Row-mutation frames (Insert/Update/Delete) fail with
// ErrUnknownRelation if their relation id has not been seen in a prior
// RELATION frame.
func Decode(buf []byte, cache *RelationCache) (Change, int, error) {
	if len(buf) == 0 {
		return Change{}, 0, fmt.Errorf("%w: empty message", ErrShortBuffer)
	}

	r := &reader{buf: buf}
	tag := r.byte()

	var change Change
	var err error

	switch tag {
	case 'B':
		change, err = decodeBegin(r)
	case 'C':
		change, err = decodeCommit(r)
	case 'R':
		change, err = decodeRelation(r, cache)
	case 'I':
		change, err = decodeInsert(r, cache)
	case 'U':
		change, err = decodeUpdate(r, cache)
	case 'D':
		change, err = decodeDelete(r, cache)
	case 'T':
		change, err = decodeTruncate(r)
	case 'Y':
		change, err = decodeType(r)
	default:
		err = fmt.Errorf("%w: 0x%02x", ErrUnknownTag, tag)
	}
	if err != nil {
		return Change{}, 0, err
	}
	return change, len(buf), nil
}

func decodeBegin(r *reader) (Change, error) {
	lsn := LSN(r.uint64())
	ts := r.int64()
	xid := r.uint32()
	if r.err != nil {
		return Change{}, r.err
	}
	return Change{Tag: TagBegin, Begin: &Begin{FinalLSN: lsn, Timestamp: ts, Xid: xid}}, nil
}

func decodeCommit(r *reader) (Change, error) {
	flags := r.byte()
	commitLSN := LSN(r.uint64())
	endLSN := LSN(r.uint64())
	ts := r.int64()
	if r.err != nil {
		return Change{}, r.err
	}
	return Change{Tag: TagCommit, Commit: &Commit{
		Flags: flags, CommitLSN: commitLSN, EndLSN: endLSN, Timestamp: ts,
	}}, nil
}

func decodeRelation(r *reader, cache *RelationCache) (Change, error) {
	id := r.uint32()
	schema := r.cstring()
	table := r.cstring()
	replident := r.byte()
	colCount := r.uint16()

	cols := make([]ColumnDescriptor, 0, colCount)
	for i := 0; i < int(colCount); i++ {
		flags := r.byte()
		name := r.cstring()
		typeOID := r.uint32()
		_ = r.int32() // type modifier; not meaningful to the rest of the pipeline
		cols = append(cols, ColumnDescriptor{Name: name, TypeOID: typeOID, Flags: flags})
	}
	if r.err != nil {
		return Change{}, r.err
	}

	rel := RelationInfo{
		RelationID:      id,
		Schema:          schema,
		Table:           table,
		Columns:         cols,
		ReplicaIdentity: ReplicaIdentity(replident),
	}
	cache.Put(rel)
	return Change{Tag: TagRelation, Relation: &rel}, nil
}

func decodeInsert(r *reader, cache *RelationCache) (Change, error) {
	relID := r.uint32()
	if r.err != nil {
		return Change{}, r.err
	}
	if _, ok := cache.Get(relID); !ok {
		return Change{}, fmt.Errorf("%w: relation %d", ErrUnknownRelation, relID)
	}

	marker := r.byte()
	if r.err == nil && marker != 'N' {
		r.err = fmt.Errorf("%w: insert expects 'N', got 0x%02x", ErrUnknownTupleKind, marker)
	}
	tuple, err := decodeTuple(r)
	if err != nil {
		return Change{}, err
	}
	return Change{Tag: TagInsert, Insert: &Insert{RelationID: relID, New: tuple}}, nil
}

func decodeUpdate(r *reader, cache *RelationCache) (Change, error) {
	relID := r.uint32()
	if r.err != nil {
		return Change{}, r.err
	}
	if _, ok := cache.Get(relID); !ok {
		return Change{}, fmt.Errorf("%w: relation %d", ErrUnknownRelation, relID)
	}

	var oldTuple, keyTuple *Tuple
	marker := r.byte()
	switch marker {
	case 'K':
		t, err := decodeTuple(r)
		if err != nil {
			return Change{}, err
		}
		keyTuple = &t
		marker = r.byte()
	case 'O':
		t, err := decodeTuple(r)
		if err != nil {
			return Change{}, err
		}
		oldTuple = &t
		marker = r.byte()
	case 'N':
		// no preceding K/O tuple; marker already sits on 'N'
	default:
		if r.err == nil {
			r.err = fmt.Errorf("%w: 0x%02x", ErrUnknownTupleKind, marker)
		}
	}
	if r.err != nil {
		return Change{}, r.err
	}
	if marker != 'N' {
		return Change{}, fmt.Errorf("%w: expected new-tuple marker 'N', got 0x%02x", ErrUnknownTupleKind, marker)
	}

	newTuple, err := decodeTuple(r)
	if err != nil {
		return Change{}, err
	}
	return Change{Tag: TagUpdate, Update: &Update{
		RelationID: relID, Old: oldTuple, Key: keyTuple, New: newTuple,
	}}, nil
}

func decodeDelete(r *reader, cache *RelationCache) (Change, error) {
	relID := r.uint32()
	if r.err != nil {
		return Change{}, r.err
	}
	if _, ok := cache.Get(relID); !ok {
		return Change{}, fmt.Errorf("%w: relation %d", ErrUnknownRelation, relID)
	}

	var oldTuple, keyTuple *Tuple
	marker := r.byte()
	switch marker {
	case 'K':
		t, err := decodeTuple(r)
		if err != nil {
			return Change{}, err
		}
		keyTuple = &t
	case 'O':
		t, err := decodeTuple(r)
		if err != nil {
			return Change{}, err
		}
		oldTuple = &t
	default:
		if r.err == nil {
			r.err = fmt.Errorf("%w: 0x%02x", ErrUnknownTupleKind, marker)
		}
		return Change{}, r.err
	}
	if r.err != nil {
		return Change{}, r.err
	}
	return Change{Tag: TagDelete, Delete: &Delete{RelationID: relID, Old: oldTuple, Key: keyTuple}}, nil
}

func decodeTruncate(r *reader) (Change, error) {
	count := r.uint32()
	options := r.byte()
	ids := make([]uint32, 0, count)
	for i := 0; i < int(count); i++ {
		ids = append(ids, r.uint32())
	}
	if r.err != nil {
		return Change{}, r.err
	}
	return Change{Tag: TagTruncate, Truncate: &Truncate{RelationIDs: ids, Options: options}}, nil
}

func decodeType(r *reader) (Change, error) {
	oid := r.uint32()
	schema := r.cstring()
	name := r.cstring()
	if r.err != nil {
		return Change{}, r.err
	}
	return Change{Tag: TagType, Type: &TypeMessage{TypeOID: oid, Schema: schema, Name: name}}, nil
}

// decodeTuple reads a tuple's column_count followed by that many marker-tagged values.
func decodeTuple(r *reader) (Tuple, error) {
	n := r.uint16()
	if r.err != nil {
		return nil, r.err
	}

	tuple := make(Tuple, 0, n)
	for i := 0; i < int(n); i++ {
		marker := r.byte()
		switch marker {
		case 'n':
			tuple = append(tuple, TupleValue{Kind: TupleNull})
		case 'u':
			tuple = append(tuple, TupleValue{Kind: TupleUnchanged})
		case 't':
			length := r.uint32()
			data := r.bytes(int(length))
			if r.err == nil {
				tuple = append(tuple, TupleValue{Kind: TupleText, Data: data})
			}
		default:
			if r.err == nil {
				r.err = fmt.Errorf("%w: column %d marker 0x%02x", ErrUnknownValueKind, i, marker)
			}
		}
		if r.err != nil {
			return nil, r.err
		}
	}
	return tuple, nil
}
