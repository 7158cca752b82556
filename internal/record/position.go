package record

import (
	"fmt"
	"math"
	"math/bits"
)

// Color is a side. White is 0 so it doubles as the stored side-to-move byte.
type Color uint8

const (
	White Color = 0
	Black Color = 1
)

// Other returns the opposing color.
func (c Color) Other() Color { return c ^ 1 }

func (c Color) String() string {
	switch c {
	case White:
		return "white"
	case Black:
		return "black"
	default:
		return fmt.Sprintf("color(%d)", uint8(c))
	}
}

// Piece is a piece type, pawn through king.
type Piece uint8

const (
	Pawn Piece = iota
	Knight
	Bishop
	Rook
	Queen
	King
)

// PieceCount is the number of piece types.
const PieceCount = 6

var pieceLetters = [PieceCount]byte{'p', 'n', 'b', 'r', 'q', 'k'}

func (p Piece) String() string {
	switch p {
	case Pawn:
		return "pawn"
	case Knight:
		return "knight"
	case Bishop:
		return "bishop"
	case Rook:
		return "rook"
	case Queen:
		return "queen"
	case King:
		return "king"
	default:
		return fmt.Sprintf("piece(%d)", uint8(p))
	}
}

// Outcome is the game result relative to the side to move.
type Outcome uint8

const (
	Loss Outcome = 0
	Draw Outcome = 1
	Win  Outcome = 2
)

func (o Outcome) String() string {
	switch o {
	case Loss:
		return "loss"
	case Draw:
		return "draw"
	case Win:
		return "win"
	default:
		return fmt.Sprintf("outcome(%d)", uint8(o))
	}
}

// Flip returns the same result seen from the other side.
func (o Outcome) Flip() Outcome {
	if o > Win {
		return o
	}
	return Win - o
}

// NoScore marks a position that carries only a game result.
const NoScore int16 = math.MinInt16

// MaxPieces is the most pieces a packed record can hold.
const MaxPieces = 32

// Position is one labeled training position.
//
// Squares are numbered a1=0, b1=1, ..., h8=63. Colors and Pieces are
// bitboards; a square is occupied iff it is set in exactly one color and
// exactly one piece board.
type Position struct {
	Colors [2]uint64
	Pieces [PieceCount]uint64

	// CastlingRooks marks rooks that still carry castling rights. Only
	// back-rank rooks of the owning color may be marked.
	CastlingRooks uint64

	// EnPassant is the en passant target square, 0 when there is none.
	EnPassant uint8

	SideToMove Color
	Score      int16 // centipawns from the side to move, NoScore if unknown
	Outcome    Outcome
	Fullmove   uint16
	Halfmove   uint8
}

// Occupied returns the bitboard of all pieces.
func (p *Position) Occupied() uint64 {
	return p.Colors[White] | p.Colors[Black]
}

// PieceCount returns the number of pieces on the board.
func (p *Position) PieceCount() int {
	return bits.OnesCount64(p.Occupied())
}

// Put places a piece on an empty square.
func (p *Position) Put(sq int, c Color, pc Piece) {
	bit := uint64(1) << uint(sq)
	p.Colors[c] |= bit
	p.Pieces[pc] |= bit
}

// Clear empties a square.
func (p *Position) Clear(sq int) {
	mask := ^(uint64(1) << uint(sq))
	p.Colors[White] &= mask
	p.Colors[Black] &= mask
	for i := range p.Pieces {
		p.Pieces[i] &= mask
	}
	p.CastlingRooks &= mask
}

// PieceAt returns the piece on sq, if any.
func (p *Position) PieceAt(sq int) (Color, Piece, bool) {
	bit := uint64(1) << uint(sq)
	var c Color
	switch {
	case p.Colors[White]&bit != 0:
		c = White
	case p.Colors[Black]&bit != 0:
		c = Black
	default:
		return 0, 0, false
	}
	for i, bb := range p.Pieces {
		if bb&bit != 0 {
			return c, Piece(i), true
		}
	}
	return 0, 0, false
}

// HasScore reports whether the position carries an engine score.
func (p *Position) HasScore() bool {
	return p.Score != NoScore
}

// Ply returns the half-move count since the start of the game.
func (p *Position) Ply() int {
	full := int(p.Fullmove)
	if full < 1 {
		full = 1
	}
	return 2*(full-1) + int(p.SideToMove)
}

// Validate checks the board invariants: no square is claimed twice, every
// occupied square has exactly one piece, and the enumerated fields are in
// range.
func (p *Position) Validate() error {
	if p.Colors[White]&p.Colors[Black] != 0 {
		return fmt.Errorf("squares %#x claimed by both colors", p.Colors[White]&p.Colors[Black])
	}
	var union uint64
	for i, bb := range p.Pieces {
		if union&bb != 0 {
			return fmt.Errorf("%v overlaps another piece type on %#x", Piece(i), union&bb)
		}
		union |= bb
	}
	if union != p.Occupied() {
		return fmt.Errorf("piece boards %#x disagree with color boards %#x", union, p.Occupied())
	}
	if n := p.PieceCount(); n > MaxPieces {
		return fmt.Errorf("%d pieces on board, at most %d allowed", n, MaxPieces)
	}
	if p.SideToMove > Black {
		return fmt.Errorf("invalid side to move %d", p.SideToMove)
	}
	if p.Outcome > Win {
		return fmt.Errorf("invalid outcome %d", p.Outcome)
	}
	if p.CastlingRooks&^p.Pieces[Rook] != 0 {
		return fmt.Errorf("castling marker on non-rook square %#x", p.CastlingRooks&^p.Pieces[Rook])
	}
	white := p.CastlingRooks & p.Colors[White]
	black := p.CastlingRooks & p.Colors[Black]
	if white&^rank1 != 0 || black&^rank8 != 0 {
		return fmt.Errorf("castling rook off its back rank")
	}
	if !validEnPassant(p.EnPassant) {
		return fmt.Errorf("invalid en passant square %d", p.EnPassant)
	}
	return nil
}

const (
	rank1 uint64 = 0xFF
	rank8 uint64 = 0xFF << 56
)

func validEnPassant(sq uint8) bool {
	return sq == 0 || (sq >= 16 && sq <= 23) || (sq >= 40 && sq <= 47)
}

var backRank = [8]Piece{Rook, Knight, Bishop, Queen, King, Bishop, Knight, Rook}

// StartPosition returns the standard initial position with full castling
// rights, no score and a draw label.
func StartPosition() Position {
	var p Position
	for file := 0; file < 8; file++ {
		p.Put(file, White, backRank[file])
		p.Put(8+file, White, Pawn)
		p.Put(48+file, Black, Pawn)
		p.Put(56+file, Black, backRank[file])
	}
	p.CastlingRooks = 1<<0 | 1<<7 | 1<<56 | 1<<63
	p.Score = NoScore
	p.Outcome = Draw
	p.Fullmove = 1
	return p
}
