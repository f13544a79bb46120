package decoder

import "errors"

// Sentinel errors returned by Decode. Wrap with fmt.Errorf("...: %w", ...) for
// context; callers should compare with errors.Is against these values.
var (
	ErrShortBuffer      = errors.New("decoder: short buffer")
	ErrBadUTF8          = errors.New("decoder: invalid utf-8 string")
	ErrUnknownTag       = errors.New("decoder: unknown message tag")
	ErrUnknownTupleKind = errors.New("decoder: unknown tuple kind")
	ErrUnknownValueKind = errors.New("decoder: unknown column value kind")
	ErrUnknownRelation  = errors.New("decoder: unknown relation")
)
