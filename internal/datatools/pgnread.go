package datatools

import (
	"bufio"
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// pgnGame is one game of a PGN file: its tag pairs and the main line with
// the comments that follow each move. Variations are dropped.
type pgnGame struct {
	path  string
	line  int // line of the first tag
	tags  map[string]string
	moves []pgnMove
}

type pgnMove struct {
	san      string
	comments []string
}

var (
	tagRegex        = regexp.MustCompile(`^\[\s*(\w+)\s+(".*")\s*\]$`)
	moveNumberRegex = regexp.MustCompile(`^\d+\.+`)
)

// readPGN streams the games of a PGN file in chunks.
func readPGN(ctx context.Context, path string, chunk int, emit func([]*pgnGame) error) error {
	r, err := openInput(path)
	if err != nil {
		return err
	}
	defer r.Close()

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	batch := make([]*pgnGame, 0, chunk)
	var (
		game     *pgnGame
		movetext strings.Builder
		inText   bool
	)
	flush := func() error {
		if game == nil {
			return nil
		}
		game.moves = parseMovetext(movetext.String())
		batch = append(batch, game)
		game, inText = nil, false
		movetext.Reset()
		if len(batch) < chunk {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		err := emit(batch)
		batch = make([]*pgnGame, 0, chunk)
		return err
	}

	num := 0
	for sc.Scan() {
		num++
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "" || strings.HasPrefix(line, "%"):
			continue
		case strings.HasPrefix(line, "["):
			if inText {
				if err := flush(); err != nil {
					return err
				}
			}
			if game == nil {
				game = &pgnGame{path: path, line: num, tags: make(map[string]string)}
			}
			parseTag(game.tags, line)
		default:
			if game == nil {
				game = &pgnGame{path: path, line: num, tags: make(map[string]string)}
			}
			inText = true
			movetext.WriteString(line)
			movetext.WriteByte('\n')
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if err := flush(); err != nil {
		return err
	}
	if len(batch) > 0 {
		return emit(batch)
	}
	return nil
}

func parseTag(tags map[string]string, line string) {
	m := tagRegex.FindStringSubmatch(line)
	if m == nil {
		return
	}
	value, err := strconv.Unquote(m[2])
	if err != nil {
		value = strings.Trim(m[2], `"`)
	}
	tags[m[1]] = value
}

// parseMovetext splits movetext into main line moves. Move numbers, NAGs,
// annotation glyphs and the result token are dropped; brace and rest of
// line comments attach to the move before them.
func parseMovetext(text string) []pgnMove {
	var moves []pgnMove
	depth := 0
	for i := 0; i < len(text); {
		c := text[i]
		switch {
		case c == '{':
			end := strings.IndexByte(text[i+1:], '}')
			if end < 0 {
				end = len(text) - i - 1
			}
			if depth == 0 && len(moves) > 0 {
				last := &moves[len(moves)-1]
				last.comments = append(last.comments, strings.TrimSpace(text[i+1:i+1+end]))
			}
			i += end + 2
		case c == ';':
			end := strings.IndexByte(text[i:], '\n')
			if end < 0 {
				end = len(text) - i
			}
			if depth == 0 && len(moves) > 0 {
				last := &moves[len(moves)-1]
				last.comments = append(last.comments, strings.TrimSpace(text[i+1:i+end]))
			}
			i += end
		case c == '(':
			depth++
			i++
		case c == ')':
			if depth > 0 {
				depth--
			}
			i++
		case c == '}':
			i++
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		default:
			end := i
			for end < len(text) && !strings.ContainsRune(" \t\r\n{}();", rune(text[end])) {
				end++
			}
			tok := text[i:end]
			i = end
			if depth > 0 {
				continue
			}
			if san := cleanSAN(tok); san != "" {
				moves = append(moves, pgnMove{san: san})
			}
		}
	}
	return moves
}

// cleanSAN strips a move number prefix and annotation suffixes from tok.
// It returns "" for tokens that are not moves.
func cleanSAN(tok string) string {
	tok = moveNumberRegex.ReplaceAllString(tok, "")
	switch tok {
	case "", "1-0", "0-1", "1/2-1/2", "*":
		return ""
	}
	if tok[0] == '$' {
		return ""
	}
	return strings.TrimRight(tok, "+#!?")
}
