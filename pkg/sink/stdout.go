package sink

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/edgeflare/pgcdc/pkg/convert"
	"github.com/edgeflare/pgcdc/pkg/decoder"
)

// Format selects one of the four convert-layer renderings a StdoutSink (or
// any format-aware sink) may use.
type Format string

const (
	FormatJSON       Format = "json"
	FormatJSONPretty Format = "json-pretty"
	FormatText       Format = "text"
	FormatDebezium   Format = "debezium"
	FormatFeldera    Format = "feldera"
)

// StdoutSink writes every change to an owned writer in one of the four
// formats, flushing after each event boundary.
type StdoutSink struct {
	format Format
	w      *bufio.Writer
	cache  *decoder.RelationCache
	source convert.SourceInfo
}

// NewStdoutSink builds a sink writing format-rendered events to w. cache
// resolves column names; source seeds the static identity fields the
// debezium format's envelope reports (LSN/TsMs are updated from Begin
// frames as the stream runs).
func NewStdoutSink(w io.Writer, format Format, cache *decoder.RelationCache, source convert.SourceInfo) *StdoutSink {
	return &StdoutSink{format: format, w: bufio.NewWriter(w), cache: cache, source: source}
}

func (s *StdoutSink) WriteChange(_ context.Context, change decoder.Change) error {
	if change.Tag == decoder.TagBegin {
		s.source.LSN = change.Begin.FinalLSN
		s.source.TsMs = decoder.TimeFromPgMicros(change.Begin.Timestamp).UnixMilli()
	}

	var lines [][]byte
	switch s.format {
	case FormatJSON:
		lines = [][]byte{convert.RenderRaw(change, s.cache, false)}
	case FormatJSONPretty:
		lines = [][]byte{convert.RenderRaw(change, s.cache, true)}
	case FormatText:
		lines = [][]byte{convert.RenderText(change, s.cache)}
	case FormatDebezium:
		if out := convert.RenderCDC(change, s.cache, s.source); out != nil {
			lines = [][]byte{out}
		}
	case FormatFeldera:
		for _, out := range convert.RenderInsertDelete(change, s.cache) {
			lines = append(lines, append(out, '\n'))
		}
	default:
		return fmt.Errorf("sink: unknown stdout format %q", s.format)
	}

	for _, line := range lines {
		if len(line) == 0 {
			continue
		}
		if _, err := s.w.Write(line); err != nil {
			return fmt.Errorf("sink: stdout write: %w", err)
		}
	}
	return s.w.Flush()
}

func (s *StdoutSink) Close() error { return s.w.Flush() }
