package blerps

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/blerps/blerps/common/log"
	"github.com/blerps/blerps/internal/fs"
	"github.com/blerps/blerps/internal/store/boltdb"
)

var errNoJournal = errors.New("no results journal in this folder")

func historyCmd(c *cli.Context, l log.Logger) error {
	ctx := c.Context
	conf, err := contextToConfig(c, l)
	if err != nil {
		return err
	}
	if conf.DBFolder() == "" {
		return fmt.Errorf("%s: %w", conf.DBFolder(), errNoJournal)
	}
	ok, err := fs.Exists(conf.DBFolder())
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: %w", conf.DBFolder(), errNoJournal)
	}
	store, err := boltdb.NewBoltStore(ctx, l, conf.DBFolder(), nil)
	if err != nil {
		return err
	}
	defer store.Close(ctx)

	id := c.String(sessionFlag.Name)
	if id == "" {
		sessions, err := store.Sessions(ctx)
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Fprintln(c.App.Writer, "no game recorded yet")
			return nil
		}
		for _, s := range sessions {
			printSession(c.App.Writer, s)
		}
		return nil
	}

	var s *boltdb.Session
	if id == "last" {
		s, err = store.Last(ctx)
	} else {
		s, err = store.Session(ctx, id)
	}
	if err != nil {
		return err
	}
	printSession(c.App.Writer, s)
	records, err := store.Rounds(ctx, s.ID)
	if err != nil {
		return err
	}
	totals := make(map[string]int)
	for _, r := range records {
		fmt.Fprintf(c.App.Writer, "round %d\n", r.Round)
		for _, e := range r.Entries {
			totals[e.Address] += e.Delta
			who := e.Address
			if e.Name != "" {
				who = fmt.Sprintf("%s (%s)", e.Name, e.Address)
			}
			choice := e.Choice
			if !e.Valid {
				choice = "invalid: " + e.Reason
			}
			fmt.Fprintf(c.App.Writer, "  %-32s %-24s %+d\n", who, choice, e.Delta)
		}
	}
	fmt.Fprintln(c.App.Writer, "totals")
	for _, addr := range s.Players {
		fmt.Fprintf(c.App.Writer, "  %s %d\n", addr, totals[addr])
	}
	return nil
}

func printSession(w io.Writer, s *boltdb.Session) {
	fmt.Fprintf(w, "%s  %s  game %s  %d rounds  players %s\n",
		s.ID, time.Unix(s.Started, 0).UTC().Format(time.RFC3339), s.GameID, s.Rounds, strings.Join(s.Players, ","))
}
