// Package annotate enriches engine messages for display. Engine scores are
// relative to the side to move; the annotation restates them from white's
// point of view and renders the principal variation in SAN.
package annotate

import (
	"strconv"
	"strings"

	chesslib "github.com/corentings/chess/v2"
	"github.com/park285/cheese-analysis/internal/chess/uci"
)

type Annotation struct {
	Turn        string   `json:"turn,omitempty"`
	WhiteCP     *int     `json:"white_cp,omitempty"`
	WhiteMate   *int     `json:"white_mate,omitempty"`
	BestMoveSAN string   `json:"best_move_san,omitempty"`
	PVSAN       []string `json:"pv_san,omitempty"`
}

func (a Annotation) IsZero() bool {
	return a.Turn == "" && a.WhiteCP == nil && a.WhiteMate == nil && a.BestMoveSAN == "" && len(a.PVSAN) == 0
}

// Annotate interprets msg against the position it was searched from. An
// unparsable position yields an empty annotation; an illegal move leaves the
// corresponding SAN field empty.
func Annotate(position string, msg uci.EngineMessage) Annotation {
	game, ok := gameFromPosition(position)
	if !ok {
		return Annotation{}
	}
	pos := game.Position()

	sign := 1
	out := Annotation{Turn: "white"}
	if pos.Turn() == chesslib.Black {
		sign = -1
		out.Turn = "black"
	}

	if v, ok := atoi(msg.PositionEvaluation); ok {
		v *= sign
		out.WhiteCP = &v
	}
	if v, ok := atoi(msg.PossibleMate); ok {
		v *= sign
		out.WhiteMate = &v
	}
	if msg.BestMove != nil {
		if san, ok := toSAN(position, []string{*msg.BestMove}); ok {
			out.BestMoveSAN = san[0]
		}
	}
	if moves := msg.PVMoves(); len(moves) > 0 {
		if san, ok := toSAN(position, moves); ok {
			out.PVSAN = san
		}
	}
	return out
}

func gameFromPosition(position string) (*chesslib.Game, bool) {
	position = strings.TrimSpace(position)
	if position == "" {
		return nil, false
	}
	if position == "startpos" || position == uci.StartFEN {
		return chesslib.NewGame(), true
	}
	option, err := chesslib.FEN(position)
	if err != nil {
		return nil, false
	}
	return chesslib.NewGame(option), true
}

func toSAN(position string, moves []string) ([]string, bool) {
	game, ok := gameFromPosition(position)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(moves))
	for _, raw := range moves {
		pos := game.Position()
		mv, err := chesslib.UCINotation{}.Decode(pos, strings.ToLower(raw))
		if err != nil {
			return nil, false
		}
		// Decode only checks square syntax; Move rejects illegal moves.
		if err := game.Move(mv, nil); err != nil {
			return nil, false
		}
		out = append(out, chesslib.AlgebraicNotation{}.Encode(pos, mv))
	}
	return out, true
}

func atoi(s *string) (int, bool) {
	if s == nil {
		return 0, false
	}
	v, err := strconv.Atoi(*s)
	if err != nil {
		return 0, false
	}
	return v, true
}
