package uci

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// StartFEN is the standard initial position. Only an exact match is sent to the
// engine as "position startpos".
const StartFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

const (
	startposToken = "startpos"
	readyToken    = "readyok"
)

type CommandKind int

const (
	CmdUCI CommandKind = iota
	CmdIsReady
	CmdSetOption
	CmdPosition
	CmdBoardDump
	CmdGo
	CmdStop
)

// Command is a pre-validated protocol command. Build it with the constructors
// below; Encode is the only place that knows the wire text.
type Command struct {
	Kind CommandKind

	Name  string
	Value string

	FEN      string
	Startpos bool

	Depth       int
	MateHorizon int
	Ponder      bool
}

func UCI() Command { return Command{Kind: CmdUCI} }
func IsReady() Command { return Command{Kind: CmdIsReady} }
func BoardDump() Command { return Command{Kind: CmdBoardDump} }
func StopSearch() Command { return Command{Kind: CmdStop} }

func SetOption(name, value string) Command {
	return Command{Kind: CmdSetOption, Name: name, Value: value}
}

// Position picks the startpos form for the canonical initial position (or the
// literal "startpos" token) and the explicit fen form for everything else.
func Position(descriptor string) Command {
	if descriptor == StartFEN || descriptor == startposToken {
		return Command{Kind: CmdPosition, Startpos: true}
	}
	return Command{Kind: CmdPosition, FEN: descriptor}
}

func Go(depth, mateHorizon int, ponder bool) Command {
	return Command{Kind: CmdGo, Depth: depth, MateHorizon: mateHorizon, Ponder: ponder}
}

// Encode renders c as one protocol line without the terminator.
func Encode(c Command) string {
	switch c.Kind {
	case CmdUCI:
		return "uci"
	case CmdIsReady:
		return "isready"
	case CmdSetOption:
		return "setoption name " + c.Name + " value " + c.Value
	case CmdPosition:
		if c.Startpos {
			return "position startpos"
		}
		return "position fen " + c.FEN
	case CmdBoardDump:
		return "d"
	case CmdGo:
		var sb strings.Builder
		sb.WriteString("go depth ")
		sb.WriteString(strconv.Itoa(c.Depth))
		sb.WriteString(" mate ")
		sb.WriteString(strconv.Itoa(c.MateHorizon))
		if c.Ponder {
			sb.WriteString(" ponder")
		}
		return sb.String()
	case CmdStop:
		return "stop"
	default:
		return ""
	}
}

// EngineMessage is one decoded output line. Nil fields were not present in the
// line; they are never zero-filled.
type EngineMessage struct {
	SessionID  string    `json:"session_id,omitempty"`
	ReceivedAt time.Time `json:"received_at,omitzero"`
	// Position is the FEN from the engine's most recent board dump when the
	// line was read, i.e. the position the line refers to.
	Position string `json:"position,omitempty"`

	UCIMessage         string  `json:"uci_message"`
	BestMove           *string `json:"best_move,omitempty"`
	Ponder             *string `json:"ponder,omitempty"`
	PositionEvaluation *string `json:"position_evaluation,omitempty"`
	PossibleMate       *string `json:"possible_mate,omitempty"`
	PV                 *string `json:"pv,omitempty"`
	Depth              *uint64 `json:"depth,omitempty"`
	IsReady            *string `json:"is_ready,omitempty"`
}

// BoardFEN extracts the FEN from the "Fen: ..." line of a board dump.
func BoardFEN(line string) (string, bool) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(line), "Fen:")
	if !ok {
		return "", false
	}
	fen := strings.TrimSpace(rest)
	return fen, fen != ""
}

// PVMoves splits the principal variation into move tokens.
func (m EngineMessage) PVMoves() []string {
	if m.PV == nil {
		return nil
	}
	return strings.Fields(*m.PV)
}

var (
	bestMoveRe = regexp.MustCompile(`bestmove\s+(\S+)`)
	ponderRe   = regexp.MustCompile(`ponder\s+(\S+)`)
	cpRe       = regexp.MustCompile(`cp\s+(-?\d+)`)
	mateRe     = regexp.MustCompile(`mate\s+(-?\d+)`)
	pvRe       = regexp.MustCompile(`\spv\s+(.*)`)
	depthRe    = regexp.MustCompile(`\sdepth\s+(\d+)`)
)

// Decode never fails. A line matching no marker comes back with only
// UCIMessage set. Depth digits that do not fit a uint64 decode to 0.
func Decode(line string) EngineMessage {
	msg := EngineMessage{UCIMessage: line}
	if line == readyToken {
		ready := readyToken
		msg.IsReady = &ready
		return msg
	}

	msg.BestMove = capture(bestMoveRe, line)
	msg.Ponder = capture(ponderRe, line)
	msg.PositionEvaluation = capture(cpRe, line)
	msg.PossibleMate = capture(mateRe, line)
	msg.PV = capture(pvRe, line)
	if raw := capture(depthRe, line); raw != nil {
		depth, err := strconv.ParseUint(*raw, 10, 64)
		if err != nil {
			depth = 0
		}
		msg.Depth = &depth
	}
	return msg
}

func capture(re *regexp.Regexp, line string) *string {
	m := re.FindStringSubmatch(line)
	if len(m) < 2 {
		return nil
	}
	v := m[1]
	return &v
}
