package record

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"
)

// Size is the encoded size of one record in bytes.
const Size = 32

// Record layout offsets
const (
	offOccupancy = 0
	offPieces    = 8
	offScore     = 24
	offFullmove  = 26
	offHalfmove  = 28
	offEnPassant = 29
	offSide      = 30
	offOutcome   = 31

	pieceBytes = offScore - offPieces
)

// Piece nibble encoding: bit 3 set for white, low three bits are the type
// code (1..6 for pawn..king, 7 for a rook that still carries castling rights).
const (
	nibbleWhite        = 0x8
	nibbleCastlingRook = 7
)

// ErrCorruptRecord is returned when an encoded record violates the layout.
var ErrCorruptRecord = errors.New("corrupt record")

// ErrInvalidPosition is returned when a position cannot be encoded.
var ErrInvalidPosition = errors.New("invalid position")

func corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorruptRecord, fmt.Sprintf(format, args...))
}

// Encode packs p into a new Size-byte buffer.
func Encode(p *Position) ([]byte, error) {
	buf := make([]byte, Size)
	if err := EncodeTo(buf, p); err != nil {
		return nil, err
	}
	return buf, nil
}

// EncodeTo packs p into buf, which must be at least Size bytes.
func EncodeTo(buf []byte, p *Position) error {
	if len(buf) < Size {
		return fmt.Errorf("record buffer too small: %d < %d", len(buf), Size)
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPosition, err)
	}

	occ := p.Occupied()
	binary.LittleEndian.PutUint64(buf[offOccupancy:], occ)

	clear(buf[offPieces:offScore])
	n := 0
	for bb := occ; bb != 0; bb &= bb - 1 {
		sq := bits.TrailingZeros64(bb)
		c, pc, _ := p.PieceAt(sq)
		nib := byte(pc) + 1
		if pc == Rook && p.CastlingRooks&(uint64(1)<<uint(sq)) != 0 {
			nib = nibbleCastlingRook
		}
		if c == White {
			nib |= nibbleWhite
		}
		if n&1 == 0 {
			buf[offPieces+n/2] = nib
		} else {
			buf[offPieces+n/2] |= nib << 4
		}
		n++
	}

	binary.LittleEndian.PutUint16(buf[offScore:], uint16(p.Score))
	binary.LittleEndian.PutUint16(buf[offFullmove:], p.Fullmove)
	buf[offHalfmove] = p.Halfmove
	buf[offEnPassant] = p.EnPassant
	buf[offSide] = byte(p.SideToMove)
	buf[offOutcome] = byte(p.Outcome)
	return nil
}

// Decode unpacks a Size-byte record.
func Decode(data []byte) (Position, error) {
	var p Position
	err := DecodeInto(data, &p)
	return p, err
}

// DecodeInto unpacks a Size-byte record into p, overwriting it.
// On error p is left in an unspecified state.
func DecodeInto(data []byte, p *Position) error {
	if len(data) != Size {
		return corrupt("record is %d bytes, want %d", len(data), Size)
	}
	*p = Position{}

	occ := binary.LittleEndian.Uint64(data[offOccupancy:])
	count := bits.OnesCount64(occ)
	if count > MaxPieces {
		return corrupt("%d occupied squares", count)
	}

	n := 0
	for bb := occ; bb != 0; bb &= bb - 1 {
		sq := bits.TrailingZeros64(bb)
		nib := data[offPieces+n/2]
		if n&1 == 1 {
			nib >>= 4
		}
		nib &= 0xF
		code := nib &^ nibbleWhite
		if code == 0 {
			return corrupt("empty piece code on occupied square %d", sq)
		}
		c := Black
		if nib&nibbleWhite != 0 {
			c = White
		}
		bit := uint64(1) << uint(sq)
		if code == nibbleCastlingRook {
			if (c == White && bit&rank1 == 0) || (c == Black && bit&rank8 == 0) {
				return corrupt("castling rook on square %d", sq)
			}
			p.CastlingRooks |= bit
			p.Put(sq, c, Rook)
		} else {
			p.Put(sq, c, Piece(code-1))
		}
		n++
	}
	for ; n < 2*pieceBytes; n++ {
		nib := data[offPieces+n/2]
		if n&1 == 1 {
			nib >>= 4
		}
		if nib&0xF != 0 {
			return corrupt("trailing piece nibble %d is set", n)
		}
	}

	p.Score = int16(binary.LittleEndian.Uint16(data[offScore:]))
	p.Fullmove = binary.LittleEndian.Uint16(data[offFullmove:])
	p.Halfmove = data[offHalfmove]
	p.EnPassant = data[offEnPassant]
	if !validEnPassant(p.EnPassant) {
		return corrupt("en passant square %d", p.EnPassant)
	}
	if s := data[offSide]; s > byte(Black) {
		return corrupt("side to move %d", s)
	}
	p.SideToMove = Color(data[offSide])
	if o := data[offOutcome]; o > byte(Win) {
		return corrupt("outcome %d", o)
	}
	p.Outcome = Outcome(data[offOutcome])
	return nil
}
