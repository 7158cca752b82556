package datatools

import (
	"fmt"
	"math/bits"
	"strings"

	"github.com/dylhunn/dragontoothmg"
	"github.com/notnil/chess"

	"github.com/freeeve/board768/internal/record"
)

// ParsePosition builds a record position from a FEN string. The score is
// left unset and the outcome is a draw; callers fill in the labels.
//
// notnil/chess validates the FEN and supplies castling rights and the en
// passant square; dragontoothmg supplies the bitboards and move counters.
func ParsePosition(fen string) (record.Position, error) {
	fen = strings.TrimSpace(fen)
	opt, err := chess.FEN(fen)
	if err != nil {
		return record.Position{}, fmt.Errorf("%w: %v", record.ErrInvalidPosition, err)
	}
	cpos := chess.NewGame(opt).Position()

	b, err := parseBoard(fen)
	if err != nil {
		return record.Position{}, err
	}

	var p record.Position
	for _, side := range []struct {
		color record.Color
		bb    *dragontoothmg.Bitboards
	}{
		{record.White, &b.White},
		{record.Black, &b.Black},
	} {
		putAll(&p, side.color, record.Pawn, side.bb.Pawns)
		putAll(&p, side.color, record.Knight, side.bb.Knights)
		putAll(&p, side.color, record.Bishop, side.bb.Bishops)
		putAll(&p, side.color, record.Rook, side.bb.Rooks)
		putAll(&p, side.color, record.Queen, side.bb.Queens)
		putAll(&p, side.color, record.King, side.bb.Kings)
	}
	if !b.Wtomove {
		p.SideToMove = record.Black
	}
	p.Halfmove = b.Halfmoveclock
	p.Fullmove = b.Fullmoveno
	if p.Fullmove == 0 {
		p.Fullmove = 1
	}

	rights := cpos.CastleRights()
	markRook(&p, rights.CanCastle(chess.White, chess.KingSide), record.White, 7)
	markRook(&p, rights.CanCastle(chess.White, chess.QueenSide), record.White, 0)
	markRook(&p, rights.CanCastle(chess.Black, chess.KingSide), record.Black, 63)
	markRook(&p, rights.CanCastle(chess.Black, chess.QueenSide), record.Black, 56)

	if sq := cpos.EnPassantSquare(); sq != chess.NoSquare {
		p.EnPassant = uint8(sq)
	}
	p.Score = record.NoScore
	p.Outcome = record.Draw

	if err := p.Validate(); err != nil {
		return record.Position{}, fmt.Errorf("%w: %v", record.ErrInvalidPosition, err)
	}
	return p, nil
}

// parseBoard wraps dragontoothmg.ParseFen, which panics on malformed input.
func parseBoard(fen string) (b dragontoothmg.Board, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", record.ErrInvalidPosition, r)
		}
	}()
	return dragontoothmg.ParseFen(fen), nil
}

func putAll(p *record.Position, c record.Color, pc record.Piece, bb uint64) {
	for ; bb != 0; bb &= bb - 1 {
		p.Put(bits.TrailingZeros64(bb), c, pc)
	}
}

// markRook flags the rook on sq as castling-capable when the right is held
// and the rook is actually there.
func markRook(p *record.Position, allowed bool, c record.Color, sq int) {
	if !allowed {
		return
	}
	if pc, piece, ok := p.PieceAt(sq); ok && pc == c && piece == record.Rook {
		p.CastlingRooks |= 1 << uint(sq)
	}
}
