package record_test

import (
	"bytes"
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/freeeve/board768/internal/record"
)

const startFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

// testPositions returns a spread of valid positions covering every field.
func testPositions() []record.Position {
	start := record.StartPosition()

	afterE4 := record.StartPosition()
	afterE4.Clear(12)
	afterE4.Put(28, record.White, record.Pawn)
	afterE4.SideToMove = record.Black
	afterE4.EnPassant = 20
	afterE4.Score = -35
	afterE4.Outcome = record.Win

	var endgame record.Position
	endgame.Put(6, record.White, record.King)
	endgame.Put(62, record.Black, record.King)
	endgame.Put(52, record.White, record.Queen)
	endgame.Score = 1200
	endgame.Outcome = record.Win
	endgame.Fullmove = 87
	endgame.Halfmove = 41

	var rooks record.Position
	rooks.Put(4, record.White, record.King)
	rooks.Put(0, record.White, record.Rook)
	rooks.Put(60, record.Black, record.King)
	rooks.Put(63, record.Black, record.Rook)
	rooks.CastlingRooks = 1<<0 | 1<<63
	rooks.SideToMove = record.Black
	rooks.Score = 0
	rooks.Outcome = record.Loss
	rooks.Fullmove = 30

	return []record.Position{start, afterE4, endgame, rooks}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	for i, p := range testPositions() {
		buf, err := record.Encode(&p)
		if err != nil {
			t.Fatalf("position %d: Encode: %v", i, err)
		}
		if len(buf) != record.Size {
			t.Fatalf("position %d: encoded %d bytes, want %d", i, len(buf), record.Size)
		}
		got, err := record.Decode(buf)
		if err != nil {
			t.Fatalf("position %d: Decode: %v", i, err)
		}
		if got != p {
			t.Errorf("position %d: round trip mismatch\n got %+v\nwant %+v", i, got, p)
		}
	}
}

// randomPosition builds an arbitrary position that satisfies Validate. It
// is not necessarily reachable in a game.
func randomPosition(r *rand.Rand) record.Position {
	var p record.Position
	n := r.IntN(record.MaxPieces + 1)
	for _, sq := range r.Perm(64)[:n] {
		c := record.Color(r.IntN(2))
		pc := record.Piece(r.IntN(record.PieceCount))
		p.Put(sq, c, pc)
		backRank := (c == record.White && sq < 8) || (c == record.Black && sq >= 56)
		if pc == record.Rook && backRank && r.IntN(2) == 0 {
			p.CastlingRooks |= 1 << uint(sq)
		}
	}
	if r.IntN(3) == 0 {
		ep := []uint8{16, 40}[r.IntN(2)]
		p.EnPassant = ep + uint8(r.IntN(8))
	}
	p.SideToMove = record.Color(r.IntN(2))
	p.Score = int16(r.IntN(1 << 16))
	p.Outcome = record.Outcome(r.IntN(3))
	p.Fullmove = uint16(r.IntN(1 << 16))
	p.Halfmove = uint8(r.IntN(1 << 8))
	return p
}

func TestEncodeDecodeRandomPositions(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	buf := make([]byte, record.Size)
	var got record.Position
	for i := 0; i < 50000; i++ {
		p := randomPosition(r)
		if err := record.EncodeTo(buf, &p); err != nil {
			t.Fatalf("position %d: EncodeTo: %v\n%+v", i, err, p)
		}
		if err := record.DecodeInto(buf, &got); err != nil {
			t.Fatalf("position %d: DecodeInto: %v", i, err)
		}
		if got != p {
			t.Fatalf("position %d: round trip mismatch\n got %+v\nwant %+v", i, got, p)
		}
	}
}

// FuzzDecode checks that every record Decode accepts encodes back to the
// same bytes, and that Decode never panics.
func FuzzDecode(f *testing.F) {
	for _, p := range testPositions() {
		buf, err := record.Encode(&p)
		if err != nil {
			f.Fatal(err)
		}
		f.Add(buf)
	}
	r := rand.New(rand.NewPCG(3, 4))
	for i := 0; i < 16; i++ {
		p := randomPosition(r)
		buf, err := record.Encode(&p)
		if err != nil {
			f.Fatal(err)
		}
		f.Add(buf)
	}
	f.Fuzz(func(t *testing.T, data []byte) {
		p, err := record.Decode(data)
		if err != nil {
			if !errors.Is(err, record.ErrCorruptRecord) {
				t.Fatalf("Decode error %v is not ErrCorruptRecord", err)
			}
			return
		}
		buf, err := record.Encode(&p)
		if err != nil {
			t.Fatalf("Encode of decoded record: %v", err)
		}
		if !bytes.Equal(buf, data) {
			t.Fatalf("re-encoded record differs\n got % x\nwant % x", buf, data)
		}
	})
}

func TestEncodeLayout(t *testing.T) {
	var p record.Position
	p.Put(0, record.White, record.Rook)
	p.Put(4, record.White, record.King)
	p.Put(60, record.Black, record.King)
	p.CastlingRooks = 1 << 0
	p.Score = -2
	p.Fullmove = 0x0102
	p.Halfmove = 7
	p.SideToMove = record.Black
	p.Outcome = record.Win

	buf, err := record.Encode(&p)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := []byte{
		0x11, 0, 0, 0, 0, 0, 0, 0x10, // a1, e1, e8
		0xEF, 0x06, 0, 0, 0, 0, 0, 0, // white castling rook, white king, black king
		0, 0, 0, 0, 0, 0, 0, 0,
		0xFE, 0xFF, // score -2
		0x02, 0x01, // fullmove 258
		7, 0, 1, 2,
	}
	if !bytes.Equal(buf, want) {
		t.Errorf("layout mismatch\n got % x\nwant % x", buf, want)
	}
}

func TestDecodeCorrupt(t *testing.T) {
	start := record.StartPosition()
	valid, err := record.Encode(&start)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	tests := []struct {
		name   string
		mutate func([]byte) []byte
	}{
		{"short buffer", func(b []byte) []byte { return b[:record.Size-1] }},
		{"long buffer", func(b []byte) []byte { return append(b, 0) }},
		{"too many squares", func(b []byte) []byte {
			b[3] = 0xFF // 40 occupied squares
			return b
		}},
		{"empty piece code", func(b []byte) []byte {
			b[8] &^= 0x07
			return b
		}},
		{"trailing nibble", func(b []byte) []byte {
			// three pieces only, then garbage after them
			for i := 0; i < 8; i++ {
				b[i] = 0
			}
			b[0] = 0x07
			for i := 8; i < 24; i++ {
				b[i] = 0
			}
			b[8], b[9] = 0x9E, 0x1E
			return b
		}},
		{"side to move", func(b []byte) []byte {
			b[30] = 2
			return b
		}},
		{"outcome", func(b []byte) []byte {
			b[31] = 3
			return b
		}},
		{"en passant", func(b []byte) []byte {
			b[29] = 30
			return b
		}},
		{"castling rook off back rank", func(b []byte) []byte {
			// a2 pawn becomes a castling rook
			b[12] = b[12]&0xF0 | 0x0F
			return b
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := tt.mutate(bytes.Clone(valid))
			_, err := record.Decode(buf)
			if !errors.Is(err, record.ErrCorruptRecord) {
				t.Errorf("Decode error = %v, want ErrCorruptRecord", err)
			}
		})
	}
}

func TestEncodeRejectsInvalidPosition(t *testing.T) {
	overlap := record.StartPosition()
	overlap.Put(0, record.Black, record.Rook)

	badSide := record.StartPosition()
	badSide.SideToMove = 2

	twoPieces := record.StartPosition()
	twoPieces.Pieces[record.Queen] |= 1 << 0

	for name, p := range map[string]record.Position{
		"color overlap": overlap,
		"side to move":  badSide,
		"piece overlap": twoPieces,
	} {
		if _, err := record.Encode(&p); !errors.Is(err, record.ErrInvalidPosition) {
			t.Errorf("%s: Encode error = %v, want ErrInvalidPosition", name, err)
		}
	}
}

func TestFEN(t *testing.T) {
	start := record.StartPosition()
	if got := start.FEN(); got != startFEN {
		t.Errorf("FEN() = %q, want %q", got, startFEN)
	}

	positions := testPositions()
	want := "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq e3 0 1"
	if got := positions[1].FEN(); got != want {
		t.Errorf("FEN() = %q, want %q", got, want)
	}
	want = "r3k2r/8/8/8/8/8/8/R3K3 b Qk - 0 30"
	rooks := positions[3]
	rooks.Put(56, record.Black, record.Rook)
	if got := rooks.FEN(); got != want {
		t.Errorf("FEN() = %q, want %q", got, want)
	}
}

func TestPly(t *testing.T) {
	tests := []struct {
		fullmove uint16
		side     record.Color
		want     int
	}{
		{1, record.White, 0},
		{1, record.Black, 1},
		{10, record.White, 18},
		{10, record.Black, 19},
		{0, record.White, 0},
	}
	for _, tt := range tests {
		p := record.Position{Fullmove: tt.fullmove, SideToMove: tt.side}
		if got := p.Ply(); got != tt.want {
			t.Errorf("Ply(fullmove=%d, side=%v) = %d, want %d", tt.fullmove, tt.side, got, tt.want)
		}
	}
}

func TestOutcomeFlip(t *testing.T) {
	if record.Win.Flip() != record.Loss || record.Loss.Flip() != record.Win || record.Draw.Flip() != record.Draw {
		t.Errorf("Flip is not a mirror of win and loss")
	}
}
