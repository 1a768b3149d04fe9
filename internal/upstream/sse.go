package upstream

import (
	"bufio"
	"io"
	"strings"
)

// frame is one decoded SSE frame: an optional explicit event name (from an
// "event:" line) and the concatenated "data:" line(s) that followed it.
type frame struct {
	event string
	data  string
}

// sseDecoder reads raw Server-Sent Events framing line by line: skip blank
// and ":"-comment lines, strip the "data:" prefix, and recognize an
// optional "event:" line per the canonical `event: <name>\ndata: <json>\n\n`
// framing. Endpoints that omit the event line (OpenAI's /responses embeds
// "type" in the JSON body instead) decode with an empty frame.event, and
// the caller falls back to the JSON "type" field.
type sseDecoder struct {
	reader *bufio.Reader
}

func newSSEDecoder(r io.Reader) *sseDecoder {
	return &sseDecoder{reader: bufio.NewReader(r)}
}

// Next reads lines until a blank line terminates a frame, or returns the
// pending frame at EOF if any data was accumulated. Returns io.EOF once the
// underlying reader is exhausted and no frame remains.
func (d *sseDecoder) Next() (*frame, error) {
	var f frame
	var dataLines []string
	haveAny := false

	for {
		line, err := d.reader.ReadString('\n')
		trimmed := strings.TrimRight(line, "\r\n")

		if trimmed == "" {
			if err != nil {
				if haveAny {
					f.data = strings.Join(dataLines, "\n")
					return &f, nil
				}
				return nil, err
			}
			if haveAny {
				f.data = strings.Join(dataLines, "\n")
				return &f, nil
			}
			continue // blank line with no frame content yet: keep-alive
		}

		if strings.HasPrefix(trimmed, ":") {
			// comment / heartbeat line, ignore
		} else if strings.HasPrefix(trimmed, "event:") {
			f.event = strings.TrimSpace(strings.TrimPrefix(trimmed, "event:"))
			haveAny = true
		} else if strings.HasPrefix(trimmed, "data:") {
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(trimmed, "data:")))
			haveAny = true
		}

		if err != nil {
			if haveAny {
				f.data = strings.Join(dataLines, "\n")
				return &f, nil
			}
			return nil, err
		}
	}
}
