package protocol

import (
	"fmt"
	"strconv"

	"github.com/oarkflow/veloxkv/internal/veloxkey"
)

// ReplyKind identifies the shape of a server reply (spec §4.9, §6).
type ReplyKind int

const (
	ReplyOK ReplyKind = iota
	ReplyValue
	ReplyNotFound
	ReplyError
	ReplyScan
)

// ScanEntry is one key/value pair within a ReplyScan.
type ScanEntry struct {
	Key   veloxkey.Key
	Value veloxkey.Value
}

// Reply is one frame sent back to a client.
type Reply struct {
	Kind    ReplyKind
	Value   veloxkey.Value // ReplyValue only
	Err     string         // ReplyError only
	Entries []ScanEntry    // ReplyScan only
}

// WriteReply encodes reply onto w using the literal RESP-style prefixes
// spec §4.9/§6 specify: "+OK\r\n", "-<msg>\r\n", "$<len>\r\n<payload>\r\n",
// and for SCAN a "*<2k>\r\n" array header directly followed by k
// key/value bulk-string pairs with no sentinel framing.
func WriteReply(w *WriteBuffer, reply Reply) error {
	switch reply.Kind {
	case ReplyOK:
		return w.Write([]byte("+OK\r\n"))
	case ReplyNotFound:
		return w.Write([]byte("-KeyNotFound\r\n"))
	case ReplyError:
		return w.Write([]byte("-" + reply.Err + "\r\n"))
	case ReplyValue:
		return writePart(w, reply.Value.Bytes())
	case ReplyScan:
		return writeScan(w, reply.Entries)
	default:
		return fmt.Errorf("protocol: unknown reply kind %d", reply.Kind)
	}
}

func writeScan(w *WriteBuffer, entries []ScanEntry) error {
	if err := w.Write([]byte(fmt.Sprintf("*%d\r\n", len(entries)*2))); err != nil {
		return err
	}
	for _, e := range entries {
		if err := writePart(w, e.Key.Bytes()); err != nil {
			return err
		}
		if err := writePart(w, e.Value.Bytes()); err != nil {
			return err
		}
	}
	return nil
}

// ReadReply decodes one reply frame from r.
func ReadReply(r *ReadBuffer) (Reply, error) {
	line, err := r.ReadLine()
	if err != nil {
		return Reply{}, err
	}
	line = stripLeadingNUL(line)
	if len(line) == 0 {
		return Reply{}, &GrammarError{Detail: "empty reply head"}
	}

	switch line[0] {
	case '+':
		return Reply{Kind: ReplyOK}, nil
	case '-':
		msg := string(line[1:])
		if msg == "KeyNotFound" {
			return Reply{Kind: ReplyNotFound}, nil
		}
		return Reply{Kind: ReplyError, Err: msg}, nil
	case '$':
		n, err := strconv.Atoi(string(line[1:]))
		if err != nil || n != veloxkey.ValueSize {
			return Reply{}, &GrammarError{Detail: fmt.Sprintf("bad value length %q", line)}
		}
		data, err := r.ReadExact(n)
		if err != nil {
			return Reply{}, err
		}
		if _, err := r.ReadExact(2); err != nil {
			return Reply{}, err
		}
		return Reply{Kind: ReplyValue, Value: veloxkey.NewValue(data)}, nil
	case '*':
		count, err := strconv.Atoi(string(line[1:]))
		if err != nil || count < 0 || count%2 != 0 {
			return Reply{}, &GrammarError{Detail: fmt.Sprintf("bad scan count %q", line)}
		}
		entries := make([]ScanEntry, 0, count/2)
		for i := 0; i < count; i += 2 {
			keyBytes, err := readPart(r)
			if err != nil {
				return Reply{}, err
			}
			if len(keyBytes) != veloxkey.KeySize {
				return Reply{}, &GrammarError{Detail: "scan key wants fixed width"}
			}
			valBytes, err := readPart(r)
			if err != nil {
				return Reply{}, err
			}
			if len(valBytes) != veloxkey.ValueSize {
				return Reply{}, &GrammarError{Detail: "scan value wants fixed width"}
			}
			entries = append(entries, ScanEntry{Key: veloxkey.NewKey(keyBytes), Value: veloxkey.NewValue(valBytes)})
		}
		return Reply{Kind: ReplyScan, Entries: entries}, nil
	default:
		return Reply{}, &GrammarError{Detail: fmt.Sprintf("unknown reply prefix %q", line)}
	}
}
