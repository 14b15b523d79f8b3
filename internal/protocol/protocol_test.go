package protocol

import (
	"bytes"
	"fmt"
	"io"
	"testing"

	"github.com/oarkflow/veloxkv/internal/veloxkey"
)

func TestCommandRoundTrip(t *testing.T) {
	key := veloxkey.NewKey([]byte{1, 2, 3})
	value := veloxkey.NewValue([]byte("payload"))
	end := veloxkey.NewKey([]byte{9})

	cases := []Command{
		{Kind: CmdPut, Key: key, Value: value},
		{Kind: CmdGet, Key: key},
		{Kind: CmdDelete, Key: key},
		{Kind: CmdScan, Key: key, End: end},
	}

	for _, want := range cases {
		var buf bytes.Buffer
		wb := NewWriteBuffer(&buf)
		if err := WriteCommand(wb, want); err != nil {
			t.Fatalf("WriteCommand: %v", err)
		}
		if err := wb.Flush(); err != nil {
			t.Fatalf("Flush: %v", err)
		}

		got, err := ReadCommand(NewReadBuffer(&buf))
		if err != nil {
			t.Fatalf("ReadCommand: %v", err)
		}
		if got.Kind != want.Kind || got.Key != want.Key || got.Value != want.Value || got.End != want.End {
			t.Fatalf("round trip = %+v, want %+v", got, want)
		}
	}
}

func TestReplyRoundTrip(t *testing.T) {
	value := veloxkey.NewValue([]byte("v"))
	key := veloxkey.NewKey([]byte{4})

	cases := []Reply{
		{Kind: ReplyOK},
		{Kind: ReplyValue, Value: value},
		{Kind: ReplyNotFound},
		{Kind: ReplyError, Err: "boom"},
		{Kind: ReplyScan, Entries: []ScanEntry{{Key: key, Value: value}}},
		{Kind: ReplyScan, Entries: nil},
	}

	for _, want := range cases {
		var buf bytes.Buffer
		wb := NewWriteBuffer(&buf)
		if err := WriteReply(wb, want); err != nil {
			t.Fatalf("WriteReply: %v", err)
		}
		if err := wb.Flush(); err != nil {
			t.Fatalf("Flush: %v", err)
		}

		got, err := ReadReply(NewReadBuffer(&buf))
		if err != nil {
			t.Fatalf("ReadReply: %v", err)
		}
		if got.Kind != want.Kind || got.Value != want.Value || got.Err != want.Err || len(got.Entries) != len(want.Entries) {
			t.Fatalf("round trip = %+v, want %+v", got, want)
		}
		for i := range want.Entries {
			if got.Entries[i] != want.Entries[i] {
				t.Fatalf("entry %d = %+v, want %+v", i, got.Entries[i], want.Entries[i])
			}
		}
	}
}

func TestWriteReplyWireFormat(t *testing.T) {
	value := veloxkey.NewValue([]byte("v"))
	key := veloxkey.NewKey([]byte{4})

	cases := []struct {
		reply Reply
		want  string
	}{
		{Reply{Kind: ReplyOK}, "+OK\r\n"},
		{Reply{Kind: ReplyNotFound}, "-KeyNotFound\r\n"},
		{Reply{Kind: ReplyError, Err: "boom"}, "-boom\r\n"},
		{Reply{Kind: ReplyValue, Value: value}, "$" + itoa(veloxkey.ValueSize) + "\r\n" + string(value.Bytes()) + "\r\n"},
		{Reply{Kind: ReplyScan, Entries: []ScanEntry{{Key: key, Value: value}}},
			"*2\r\n$" + itoa(veloxkey.KeySize) + "\r\n" + string(key.Bytes()) + "\r\n" +
				"$" + itoa(veloxkey.ValueSize) + "\r\n" + string(value.Bytes()) + "\r\n"},
	}

	for _, c := range cases {
		var buf bytes.Buffer
		wb := NewWriteBuffer(&buf)
		if err := WriteReply(wb, c.reply); err != nil {
			t.Fatalf("WriteReply: %v", err)
		}
		if err := wb.Flush(); err != nil {
			t.Fatalf("Flush: %v", err)
		}
		if buf.String() != c.want {
			t.Fatalf("wire = %q, want %q", buf.String(), c.want)
		}
	}
}

func itoa(n int) string {
	return fmt.Sprintf("%d", n)
}

func TestReadCommandGrammarError(t *testing.T) {
	buf := bytes.NewBufferString("not a frame\r\n")
	_, err := ReadCommand(NewReadBuffer(buf))
	if _, ok := err.(*GrammarError); !ok {
		t.Fatalf("err = %v (%T), want *GrammarError", err, err)
	}
}

func TestReadCommandUnsupported(t *testing.T) {
	var buf bytes.Buffer
	wb := NewWriteBuffer(&buf)
	writeFrame(wb, "NOPE", []byte("x"))
	wb.Flush()

	_, err := ReadCommand(NewReadBuffer(&buf))
	if _, ok := err.(*UnsupportedCommandError); !ok {
		t.Fatalf("err = %v (%T), want *UnsupportedCommandError", err, err)
	}
}

func TestReadBufferAcrossMultipleFills(t *testing.T) {
	// Force many small underlying reads to exercise fillBuf repeatedly.
	data := bytes.Repeat([]byte("ab"), BufSize) // much larger than one buffer
	data = append(data, "\r\n"...)
	r := NewReadBuffer(&chunkedReader{data: data, chunk: 3})

	line, err := r.ReadLine()
	if err != nil {
		t.Fatalf("ReadLine: %v", err)
	}
	if len(line) != len(data)-2 {
		t.Fatalf("ReadLine length = %d, want %d", len(line), len(data)-2)
	}
}

func TestReadLineSplitCRLFAcrossFills(t *testing.T) {
	// The "\r" lands in one underlying read and the "\n" in the next, per
	// spec §4.10's cross-chunk CRLF requirement.
	data := []byte("OK\r\n")
	r := NewReadBuffer(&chunkedReader{data: data, chunk: 3})

	line, err := r.ReadLine()
	if err != nil {
		t.Fatalf("ReadLine: %v", err)
	}
	if string(line) != "OK" {
		t.Fatalf("line = %q, want %q", line, "OK")
	}
}

func TestReadLineOnClosedConnectionReportsConnectionClosed(t *testing.T) {
	r := NewReadBuffer(bytes.NewReader(nil))
	_, err := r.ReadLine()
	if _, ok := err.(*ConnectionClosedError); !ok {
		t.Fatalf("err = %v (%T), want *ConnectionClosedError", err, err)
	}
}

type chunkedReader struct {
	data  []byte
	chunk int
}

func (c *chunkedReader) Read(p []byte) (int, error) {
	if len(c.data) == 0 {
		return 0, io.EOF
	}
	n := c.chunk
	if n > len(p) {
		n = len(p)
	}
	if n > len(c.data) {
		n = len(c.data)
	}
	copy(p, c.data[:n])
	c.data = c.data[n:]
	return n, nil
}
