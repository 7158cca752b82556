package record

import (
	"math/bits"
	"strconv"
	"strings"
)

// SquareName returns the algebraic name of sq, e.g. "e4".
func SquareName(sq int) string {
	return string([]byte{byte('a' + sq%8), byte('1' + sq/8)})
}

// FEN renders the position in Forsyth-Edwards notation. Castling rights
// are derived from the castling rook markers relative to each king.
func (p *Position) FEN() string {
	var sb strings.Builder
	for rank := 7; rank >= 0; rank-- {
		empty := 0
		for file := 0; file < 8; file++ {
			c, pc, ok := p.PieceAt(rank*8 + file)
			if !ok {
				empty++
				continue
			}
			if empty > 0 {
				sb.WriteByte(byte('0' + empty))
				empty = 0
			}
			letter := pieceLetters[pc]
			if c == White {
				letter -= 'a' - 'A'
			}
			sb.WriteByte(letter)
		}
		if empty > 0 {
			sb.WriteByte(byte('0' + empty))
		}
		if rank > 0 {
			sb.WriteByte('/')
		}
	}

	if p.SideToMove == White {
		sb.WriteString(" w ")
	} else {
		sb.WriteString(" b ")
	}
	sb.WriteString(p.castlingString())
	sb.WriteByte(' ')
	if p.EnPassant == 0 {
		sb.WriteByte('-')
	} else {
		sb.WriteString(SquareName(int(p.EnPassant)))
	}
	sb.WriteByte(' ')
	sb.WriteString(strconv.Itoa(int(p.Halfmove)))
	sb.WriteByte(' ')
	full := p.Fullmove
	if full == 0 {
		full = 1
	}
	sb.WriteString(strconv.Itoa(int(full)))
	return sb.String()
}

func (p *Position) castlingString() string {
	var out []byte
	for _, c := range [2]Color{White, Black} {
		rooks := p.CastlingRooks & p.Colors[c]
		if rooks == 0 {
			continue
		}
		kings := p.Pieces[King] & p.Colors[c]
		kingFile := 4
		if kings != 0 {
			kingFile = bits.TrailingZeros64(kings) % 8
		}
		short, long := byte('K'), byte('Q')
		if c == Black {
			short, long = 'k', 'q'
		}
		var hasShort, hasLong bool
		for bb := rooks; bb != 0; bb &= bb - 1 {
			if bits.TrailingZeros64(bb)%8 > kingFile {
				hasShort = true
			} else {
				hasLong = true
			}
		}
		if hasShort {
			out = append(out, short)
		}
		if hasLong {
			out = append(out, long)
		}
	}
	if len(out) == 0 {
		return "-"
	}
	return string(out)
}
