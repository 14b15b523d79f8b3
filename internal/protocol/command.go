package protocol

import (
	"fmt"
	"strings"

	"github.com/oarkflow/veloxkv/internal/veloxkey"
)

// CommandKind identifies which of the four supported commands a Command
// carries (spec §4.9, §6).
type CommandKind int

const (
	CmdPut CommandKind = iota
	CmdGet
	CmdDelete
	CmdScan
)

// Command is one decoded client request.
type Command struct {
	Kind  CommandKind
	Key   veloxkey.Key
	Value veloxkey.Value // PUT only
	End   veloxkey.Key   // SCAN only, exclusive upper bound
}

// ReadCommand decodes one command frame from r.
func ReadCommand(r *ReadBuffer) (Command, error) {
	parts, err := readFrame(r)
	if err != nil {
		return Command{}, err
	}

	switch strings.ToUpper(string(parts[0])) {
	case "PUT":
		if len(parts) != 3 || len(parts[1]) != veloxkey.KeySize || len(parts[2]) != veloxkey.ValueSize {
			return Command{}, &GrammarError{Detail: "PUT wants a key and a value of fixed width"}
		}
		return Command{Kind: CmdPut, Key: veloxkey.NewKey(parts[1]), Value: veloxkey.NewValue(parts[2])}, nil
	case "GET":
		if len(parts) != 2 || len(parts[1]) != veloxkey.KeySize {
			return Command{}, &GrammarError{Detail: "GET wants a single fixed-width key"}
		}
		return Command{Kind: CmdGet, Key: veloxkey.NewKey(parts[1])}, nil
	case "DELETE":
		if len(parts) != 2 || len(parts[1]) != veloxkey.KeySize {
			return Command{}, &GrammarError{Detail: "DELETE wants a single fixed-width key"}
		}
		return Command{Kind: CmdDelete, Key: veloxkey.NewKey(parts[1])}, nil
	case "SCAN":
		if len(parts) != 3 || len(parts[1]) != veloxkey.KeySize || len(parts[2]) != veloxkey.KeySize {
			return Command{}, &GrammarError{Detail: "SCAN wants a start and end key"}
		}
		return Command{Kind: CmdScan, Key: veloxkey.NewKey(parts[1]), End: veloxkey.NewKey(parts[2])}, nil
	default:
		return Command{}, &UnsupportedCommandError{Name: string(parts[0])}
	}
}

// WriteCommand encodes cmd onto w.
func WriteCommand(w *WriteBuffer, cmd Command) error {
	switch cmd.Kind {
	case CmdPut:
		return writeFrame(w, "PUT", cmd.Key.Bytes(), cmd.Value.Bytes())
	case CmdGet:
		return writeFrame(w, "GET", cmd.Key.Bytes())
	case CmdDelete:
		return writeFrame(w, "DELETE", cmd.Key.Bytes())
	case CmdScan:
		return writeFrame(w, "SCAN", cmd.Key.Bytes(), cmd.End.Bytes())
	default:
		return fmt.Errorf("protocol: unknown command kind %d", cmd.Kind)
	}
}
