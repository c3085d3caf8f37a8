package relay

import (
	"bytes"
	"encoding/json"
	"strings"

	"quill/internal/models"
)

// LineDecoder turns an NDJSON byte stream into discrete records. Bytes may
// arrive split across arbitrary boundaries, so a partial trailing line is
// buffered across Feed calls and only complete newline-terminated lines are
// interpreted.
type LineDecoder struct {
	buf []byte
}

// Feed appends chunk to the buffer and returns the records decoded from every
// complete line now available, in arrival order.
func (d *LineDecoder) Feed(chunk []byte) []models.StreamRecord {
	d.buf = append(d.buf, chunk...)

	var records []models.StreamRecord
	for {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			break
		}
		line := d.buf[:i]
		d.buf = d.buf[i+1:]

		if rec, ok := decodeLine(line); ok {
			records = append(records, rec)
		}
	}
	return records
}

// Flush decodes whatever is left in the buffer as a final unterminated line.
// Call once at end of stream.
func (d *LineDecoder) Flush() (models.StreamRecord, bool) {
	line := d.buf
	d.buf = nil
	return decodeLine(line)
}

// decodeLine interprets one line. A line that fails to parse as JSON, or
// parses to an object that is neither a delta nor a terminal record, is
// forwarded verbatim as a fragment rather than dropped - losing user-visible
// text is worse than showing a malformed fragment.
func decodeLine(line []byte) (models.StreamRecord, bool) {
	trimmed := strings.TrimSpace(string(line))
	if trimmed == "" {
		return models.StreamRecord{}, false
	}

	var probe struct {
		Delta *string `json:"delta"`
		Done  bool    `json:"done"`
		Text  *string `json:"text"`
	}
	if err := json.Unmarshal([]byte(trimmed), &probe); err != nil {
		return models.DeltaRecord(trimmed), true
	}

	if probe.Done {
		return models.DoneRecord(probe.Text), true
	}
	if probe.Delta != nil {
		return models.DeltaRecord(*probe.Delta), true
	}

	return models.DeltaRecord(trimmed), true
}
