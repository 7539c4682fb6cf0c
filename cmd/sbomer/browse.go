package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"sbomer/internal/filters"
	"sbomer/internal/query"
	"sbomer/pkg/client"
	"sbomer/pkg/models"
)

type action int

const (
	actionNext action = iota
	actionPrev
	actionPage
	actionSize
	actionQuery
	actionClear
	actionRetry
	actionHelp
	actionQuit
)

type command struct {
	action    action
	n         int
	queryType models.QueryType
	value     string
}

const reconnectDelay = time.Second

var errUsage = errors.New("unknown command, type help")

func parseCommand(line string) (command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return command{}, errUsage
	}

	switch strings.ToLower(fields[0]) {
	case "n", "next":
		return command{action: actionNext}, nil
	case "p", "prev":
		return command{action: actionPrev}, nil
	case "r", "retry":
		return command{action: actionRetry}, nil
	case "clear":
		return command{action: actionClear}, nil
	case "h", "help", "?":
		return command{action: actionHelp}, nil
	case "q", "quit", "exit":
		return command{action: actionQuit}, nil
	case "g", "page", "size":
		if len(fields) != 2 {
			return command{}, fmt.Errorf("usage: %s N", fields[0])
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil || n < 1 {
			return command{}, fmt.Errorf("%s: %q is not a positive number", fields[0], fields[1])
		}
		if strings.EqualFold(fields[0], "size") {
			return command{action: actionSize, n: n}, nil
		}
		return command{action: actionPage, n: n}, nil
	case "query", "filter":
		if len(fields) < 3 {
			return command{}, errors.New("usage: query ID|NAME|PURL VALUE")
		}
		qt, err := models.ParseQueryType(fields[1])
		if err != nil {
			return command{}, err
		}
		if qt == models.QueryTypeNoFilter {
			return command{action: actionClear}, nil
		}
		return command{action: actionQuery, queryType: qt, value: strings.Join(fields[2:], " ")}, nil
	}
	return command{}, errUsage
}

// apply reports whether the browser should stop.
func apply(store *filters.Store, q *query.Query, c command) bool {
	switch c.action {
	case actionNext:
		store.NextPage()
	case actionPrev:
		store.PrevPage()
	case actionPage:
		store.SetPage(c.n)
	case actionSize:
		store.SetPageSize(c.n)
	case actionQuery:
		store.SetQuery(c.queryType, c.value)
	case actionClear:
		store.SetQuery(models.QueryTypeNoFilter, "")
	case actionRetry:
		q.Retry()
	case actionQuit:
		return true
	}
	return false
}

func runBrowse(cmd *cobra.Command, _ []string) error {
	e, err := newEnv()
	if err != nil {
		return err
	}
	p, err := paramsFromFlags(cmd, e.cfg.Client.PageSize)
	if err != nil {
		return err
	}
	follow, _ := cmd.Flags().GetBool("follow")

	return browse(cmd.Context(), e.client, p, follow, cmd.InOrStdin(), cmd.OutOrStdout(), query.WithLogger(e.log))
}

// browser is the client surface browse needs.
type browser interface {
	query.Fetcher
	Events(ctx context.Context, fn func(models.ManifestEvent)) error
}

var _ browser = (*client.Client)(nil)

// browse runs the pager until in is exhausted, the user quits or ctx ends.
// All output is written from this goroutine.
func browse(ctx context.Context, c browser, p filters.Params, follow bool, in io.Reader, out io.Writer, opts ...query.Option) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	store := filters.NewStore(p)
	q := query.New(c, store, opts...)
	defer q.Close()

	// updates holds only the newest settled state
	updates := make(chan query.State, 1)
	offer := func(st query.State) {
		select {
		case <-updates:
		default:
		}
		select {
		case updates <- st:
		default:
		}
	}
	q.Subscribe(func(st query.State) {
		if !st.Loading {
			offer(st)
		}
	})
	// the first fetch may have settled before Subscribe
	if st := q.State(); !st.Loading {
		offer(st)
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	feedErr := make(chan error, 1)
	if follow {
		go func() {
			for {
				err := c.Events(ctx, func(models.ManifestEvent) {
					q.Retry()
				})
				if ctx.Err() != nil {
					return
				}
				select {
				case feedErr <- err:
				default:
				}
				select {
				case <-ctx.Done():
					return
				case <-time.After(reconnectDelay):
				}
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-feedErr:
			if err == nil {
				err = errors.New("server closed the connection")
			}
			fmt.Fprintf(out, "event feed closed: %v, reconnecting\n", err)
		case st := <-updates:
			renderState(out, st, store.Params())
			fmt.Fprint(out, "> ")
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			c, err := parseCommand(line)
			if err != nil {
				fmt.Fprintln(out, err)
				continue
			}
			if c.action == actionHelp {
				fmt.Fprint(out, browseHelp)
				continue
			}
			if apply(store, q, c) {
				return nil
			}
		}
	}
}

const browseHelp = `n next, p prev, g N page, size N, query TYPE VALUE, clear, r retry, q quit
`
