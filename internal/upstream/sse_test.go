package upstream

import (
	"io"
	"strings"
	"testing"
)

func TestSSEDecoder_NamedEvents(t *testing.T) {
	input := "event: response.created\ndata: {\"response\":{\"id\":\"r1\"}}\n\n" +
		"event: response.completed\ndata: {}\n\n"
	d := newSSEDecoder(strings.NewReader(input))

	f, err := d.Next()
	if err != nil {
		t.Fatal(err)
	}
	if f.event != "response.created" || f.data != `{"response":{"id":"r1"}}` {
		t.Fatalf("frame = %+v", f)
	}

	f, err = d.Next()
	if err != nil {
		t.Fatal(err)
	}
	if f.event != "response.completed" {
		t.Fatalf("frame = %+v", f)
	}

	if _, err := d.Next(); err != io.EOF {
		t.Fatalf("err = %v, want io.EOF", err)
	}
}

func TestSSEDecoder_DataOnlyFrames(t *testing.T) {
	// OpenAI's /responses endpoint omits the event line, embedding the
	// type inside the JSON body instead.
	d := newSSEDecoder(strings.NewReader("data: {\"type\":\"response.created\"}\n\n"))
	f, err := d.Next()
	if err != nil {
		t.Fatal(err)
	}
	if f.event != "" || f.data != `{"type":"response.created"}` {
		t.Fatalf("frame = %+v", f)
	}
}

func TestSSEDecoder_IgnoresCommentsAndKeepAlives(t *testing.T) {
	input := ": heartbeat\n\n: another\ndata: {\"a\":1}\n\n"
	d := newSSEDecoder(strings.NewReader(input))
	f, err := d.Next()
	if err != nil {
		t.Fatal(err)
	}
	if f.data != `{"a":1}` {
		t.Fatalf("frame = %+v", f)
	}
}

func TestSSEDecoder_CRLFAndMultiLineData(t *testing.T) {
	input := "data: line1\r\ndata: line2\r\n\r\n"
	d := newSSEDecoder(strings.NewReader(input))
	f, err := d.Next()
	if err != nil {
		t.Fatal(err)
	}
	if f.data != "line1\nline2" {
		t.Fatalf("data = %q", f.data)
	}
}

func TestSSEDecoder_PendingFrameAtEOF(t *testing.T) {
	// No trailing blank line before the connection closes.
	d := newSSEDecoder(strings.NewReader("data: {\"tail\":true}"))
	f, err := d.Next()
	if err != nil {
		t.Fatal(err)
	}
	if f.data != `{"tail":true}` {
		t.Fatalf("frame = %+v", f)
	}
	if _, err := d.Next(); err != io.EOF {
		t.Fatalf("err = %v, want io.EOF", err)
	}
}
