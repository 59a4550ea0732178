package blerps

import (
	"bufio"
	"fmt"
	"io"
	"sync"

	"github.com/blerps/blerps/internal/commit"
)

// LineInput reads one choice per line. A valid line is the press of the
// commit button for the next round.
type LineInput struct {
	mu      sync.Mutex
	pending []commit.Choice
}

// NewLineInput starts reading r in the background. Unparsable lines are
// reported on w.
func NewLineInput(r io.Reader, w io.Writer) *LineInput {
	in := new(LineInput)
	go in.read(r, w)
	return in
}

func (in *LineInput) read(r io.Reader, w io.Writer) {
	fmt.Fprintln(w, "type rock, paper or scissors (r, p, s) then enter to commit")
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if sc.Text() == "" {
			continue
		}
		c, err := commit.ParseChoice(sc.Text())
		if err != nil {
			fmt.Fprintf(w, "%v, try again\n", err)
			continue
		}
		in.mu.Lock()
		in.pending = append(in.pending, c)
		in.mu.Unlock()
	}
}

// CommitPressed implements game.Input.
func (in *LineInput) CommitPressed() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.pending) > 0
}

// CurrentChoice implements game.Input and consumes the oldest pending line.
func (in *LineInput) CurrentChoice() commit.Choice {
	in.mu.Lock()
	defer in.mu.Unlock()
	if len(in.pending) == 0 {
		return ""
	}
	c := in.pending[0]
	in.pending = in.pending[1:]
	return c
}
