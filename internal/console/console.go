// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package console is the interactive front-end of a voting node. Prompts and
// results go to the output writer; logs never do.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/ManuGH/distvote/internal/peer"
	"github.com/ManuGH/distvote/internal/session"
	"github.com/gookit/color"
)

// ErrInputClosed is returned when standard input ends mid-dialogue.
var ErrInputClosed = errors.New("input stream closed")

// Voter is the node as seen by the console.
type Voter interface {
	Start(ctx context.Context) error
	Close() error
	StartSession(ctx context.Context, options []string) (session.ID, error)
	Join(ctx context.Context, id session.ID) error
	OpenVoting(ctx context.Context) error
	EndVoting(ctx context.Context) ([]peer.Result, error)
	CastVote(ctx context.Context, vote string) error
	Events() <-chan peer.Event
	IsLeader() bool
	Options() []string
	Tally() map[string]int
}

// Sessions is the registry as seen by the console.
type Sessions interface {
	ListSessions(ctx context.Context) ([]session.Session, error)
	GetSession(ctx context.Context, id session.ID) (session.Session, error)
}

// NodeFactory builds a node listening on port.
type NodeFactory func(port int) (Voter, error)

// Options presets answers that would otherwise be prompted for.
type Options struct {
	Port        int
	VoteOptions []string
	NoColor     bool
	// Verbose shows heartbeat notices.
	Verbose bool
}

// Console runs one interactive dialogue.
type Console struct {
	out      io.Writer
	lines    <-chan string
	sessions Sessions
	newNode  NodeFactory
	opts     Options
}

// New reads answers from in and writes prompts to out.
func New(in io.Reader, out io.Writer, sessions Sessions, newNode NodeFactory, opts Options) *Console {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()
	return &Console{out: out, lines: lines, sessions: sessions, newNode: newNode, opts: opts}
}

func (c *Console) paint(col color.Color, s string) string {
	if c.opts.NoColor {
		return s
	}
	return col.Sprint(s)
}

// cli prints a purple prompt line.
func (c *Console) cli(format string, args ...any) {
	fmt.Fprintln(c.out, c.paint(color.Magenta, fmt.Sprintf(format, args...)))
}

// prompt prints a purple prompt without a newline.
func (c *Console) prompt(text string) {
	fmt.Fprint(c.out, c.paint(color.Magenta, text))
}

func (c *Console) plain(format string, args ...any) {
	fmt.Fprintf(c.out, format+"\n", args...)
}

var categoryColors = map[peer.Category]color.Color{
	peer.CategoryHeartbeat:    color.Red,
	peer.CategoryRegistration: color.Green,
	peer.CategoryAck:          color.Yellow,
	peer.CategoryElection:     color.Cyan,
}

func (c *Console) showNotice(ev peer.Event) {
	if ev.Category == peer.CategoryHeartbeat && !c.opts.Verbose {
		return
	}
	if col, ok := categoryColors[ev.Category]; ok {
		fmt.Fprintln(c.out, c.paint(col, ev.Text))
		return
	}
	fmt.Fprintln(c.out, ev.Text)
}

// readLine waits for the next input line. Events that arrive meanwhile are
// passed to onEvent; a non-nil return from onEvent aborts the read.
func (c *Console) readLine(ctx context.Context, events <-chan peer.Event, onEvent func(peer.Event) error) (string, error) {
	for {
		select {
		case line, ok := <-c.lines:
			if !ok {
				return "", ErrInputClosed
			}
			return strings.TrimSpace(line), nil
		case ev := <-events:
			if err := onEvent(ev); err != nil {
				return "", err
			}
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// Run shows the main menu and dispatches the choice.
func (c *Console) Run(ctx context.Context) error {
	c.cli("1. Start a new election\n2. Join an existing election\n3. View available sessions")
	for {
		c.prompt("Enter choice: ")
		line, err := c.readLine(ctx, nil, nil)
		if err != nil {
			return err
		}
		switch line {
		case "1":
			return c.StartElection(ctx)
		case "2":
			return c.JoinElection(ctx, "")
		case "3":
			return c.ShowSessions(ctx)
		default:
			c.cli("Invalid choice. Please enter 1, 2, or 3.")
		}
	}
}

// ShowSessions lists the sessions known to the registry.
func (c *Console) ShowSessions(ctx context.Context) error {
	all, err := c.sessions.ListSessions(ctx)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	if len(all) == 0 {
		c.cli("No available sessions found.")
		return nil
	}
	c.cli("Available sessions:")
	for _, s := range all {
		c.plain("Code: %s | Details: %s", s.ID, Details(s))
	}
	return nil
}

// Details formats a session as host:port,options,status.
func Details(s session.Session) string {
	status := string(s.Status)
	if status == "" {
		status = "open"
	}
	return s.Addr() + "," + strings.Join(s.Options, ",") + "," + status
}

func (c *Console) askPort(ctx context.Context) (int, error) {
	if c.opts.Port > 0 {
		return c.opts.Port, nil
	}
	for {
		c.prompt("Enter your node's port number: ")
		line, err := c.readLine(ctx, nil, nil)
		if err != nil {
			return 0, err
		}
		port, err := strconv.Atoi(line)
		if err == nil && port > 0 && port <= 65535 {
			return port, nil
		}
		c.cli("Invalid port. Enter a number between 1 and 65535.")
	}
}

func (c *Console) startNode(ctx context.Context) (Voter, error) {
	port, err := c.askPort(ctx)
	if err != nil {
		return nil, err
	}
	node, err := c.newNode(port)
	if err != nil {
		return nil, err
	}
	if err := node.Start(ctx); err != nil {
		return nil, fmt.Errorf("start node on port %d: %w", port, err)
	}
	return node, nil
}

// StartElection creates a session with this node as leader and runs it.
func (c *Console) StartElection(ctx context.Context) error {
	c.cli("\nStarting a new election!")
	node, err := c.startNode(ctx)
	if err != nil {
		return err
	}
	defer node.Close()

	options := session.NormalizeOptions(c.opts.VoteOptions)
	for len(options) == 0 {
		c.prompt("Enter comma-separated voting options: ")
		line, err := c.readLine(ctx, node.Events(), c.background)
		if err != nil {
			return err
		}
		if options = session.ParseOptions(line); len(options) == 0 {
			c.cli("Please enter at least one option.")
		}
	}

	id, err := node.StartSession(ctx, options)
	if err != nil {
		return err
	}
	c.plain("\nSession created! Share this code: %s", id)
	c.plain("Voting options: %s", strings.Join(options, ", "))

	return c.lead(ctx, node, false, false)
}

// JoinElection registers with the leader of code, asking for the code when
// it is empty.
func (c *Console) JoinElection(ctx context.Context, code string) error {
	c.plain("\nJoining an existing election!")
	if code == "" {
		c.prompt("Enter session code: ")
		line, err := c.readLine(ctx, nil, nil)
		if err != nil {
			return err
		}
		code = line
	}

	id, err := session.ParseID(strings.ToUpper(strings.TrimSpace(code)))
	if err == nil {
		_, err = c.sessions.GetSession(ctx, id)
	}
	if err != nil {
		if errors.Is(err, session.ErrNotFound) || errors.Is(err, session.ErrInvalidID) {
			c.cli("Invalid session code!")
			return nil
		}
		return err
	}

	node, err := c.startNode(ctx)
	if err != nil {
		return err
	}
	defer node.Close()

	if err := node.Join(ctx, id); err != nil {
		if errors.Is(err, peer.ErrSessionEnded) {
			c.cli("This session has already ended.")
			return nil
		}
		return err
	}
	c.plain("Waiting for leader to start voting...")
	return c.follow(ctx, node, false)
}

// background handles events that need no answer from the user.
func (c *Console) background(ev peer.Event) error {
	switch ev.Kind {
	case peer.EventNotice, peer.EventLeaderChanged:
		c.showNotice(ev)
	case peer.EventSessionMoved:
		c.plain("%s", ev.Text)
	case peer.EventVoteResult:
		c.reportVote(ev.Text, ev.Err)
	}
	return nil
}

// errLeadership aborts a follower prompt when this node becomes leader.
type errLeadership struct{ ev peer.Event }

func (errLeadership) Error() string { return "became leader" }

// errEnded aborts a prompt when the leader closes the vote.
type errEnded struct{ ev peer.Event }

func (errEnded) Error() string { return "voting ended" }

func (c *Console) followerEvent(ev peer.Event) error {
	switch ev.Kind {
	case peer.EventBecameLeader:
		return errLeadership{ev}
	case peer.EventVotingEnded:
		return errEnded{ev}
	}
	return c.background(ev)
}

// follow waits for the leader to open the vote, collects this node's ballot
// and then waits for the results. If this node becomes leader it takes
// over the leader's prompts.
func (c *Console) follow(ctx context.Context, node Voter, voted bool) error {
	for {
		var ev peer.Event
		select {
		case ev = <-node.Events():
		case <-ctx.Done():
			return ctx.Err()
		}

		switch ev.Kind {
		case peer.EventVotingStarted:
			if voted {
				continue
			}
			err := c.vote(ctx, node, ev.Options, c.followerEvent)
			var lead errLeadership
			var end errEnded
			switch {
			case errors.As(err, &lead):
				c.showNotice(peer.Event{Category: peer.CategoryElection, Text: lead.ev.Text})
				return c.lead(ctx, node, true, false)
			case errors.As(err, &end):
				c.showResults(end.ev)
				return nil
			case err != nil:
				return err
			}
			voted = true
			if node.IsLeader() {
				return c.lead(ctx, node, true, true)
			}
			c.plain("We will let you know when voting ends.")
		case peer.EventVotingEnded:
			c.showResults(ev)
			return nil
		case peer.EventBecameLeader:
			c.showNotice(peer.Event{Category: peer.CategoryElection, Text: ev.Text})
			if ev.VotingEnded {
				c.plain("Thanks for voting! Voting results: %s", peer.FormatTally(node.Options(), node.Tally()))
				return nil
			}
			return c.lead(ctx, node, ev.VotingStarted, voted)
		default:
			_ = c.background(ev)
		}
	}
}

func (c *Console) showResults(ev peer.Event) {
	c.plain("")
	if ev.Text != "" {
		c.plain("%s", ev.Text)
		return
	}
	c.plain("Thanks for voting! Voting results: %s", peer.FormatTally(nil, ev.Tally))
}

// lead runs the leader prompts: start, own ballot, end.
func (c *Console) lead(ctx context.Context, node Voter, started, voted bool) error {
	onEvent := c.leaderEvent(node)
	if !started {
		if err := c.expect(ctx, node, "start", "Enter 'start' to begin voting: ", "Invalid input. Type 'start' to begin.", onEvent); err != nil {
			return c.stepDown(ctx, node, err, false)
		}
		if err := node.OpenVoting(ctx); err != nil {
			return c.stepDown(ctx, node, err, false)
		}
	}
	if !voted {
		if err := c.vote(ctx, node, node.Options(), c.background); err != nil {
			return err
		}
	}
	if err := c.expect(ctx, node, "end", "Enter 'end' to stop voting: ", "Invalid input. Type 'end' to end voting.", onEvent); err != nil {
		return c.stepDown(ctx, node, err, true)
	}
	if _, err := node.EndVoting(ctx); err != nil {
		return c.stepDown(ctx, node, err, true)
	}
	c.cli("Thanks for voting! Voting results: %s", peer.FormatTally(node.Options(), node.Tally()))
	return nil
}

// errDeposed aborts a leader prompt when another node took over.
type errDeposed struct{ ev peer.Event }

func (errDeposed) Error() string { return "leadership lost" }

func (c *Console) leaderEvent(node Voter) func(peer.Event) error {
	return func(ev peer.Event) error {
		if ev.Kind == peer.EventLeaderChanged && !node.IsLeader() {
			return errDeposed{ev}
		}
		return c.background(ev)
	}
}

// stepDown continues as a follower when err reports that this node is no
// longer the leader. Other errors are returned unchanged.
func (c *Console) stepDown(ctx context.Context, node Voter, err error, voted bool) error {
	var deposed errDeposed
	switch {
	case errors.As(err, &deposed):
		c.showNotice(deposed.ev)
	case errors.Is(err, peer.ErrNotLeader):
	default:
		return err
	}
	if voted {
		c.plain("We will let you know when voting ends.")
	} else {
		c.plain("Waiting for leader to start voting...")
	}
	return c.follow(ctx, node, voted)
}

// expect re-prompts until the user types word.
func (c *Console) expect(ctx context.Context, node Voter, word, prompt, invalid string, onEvent func(peer.Event) error) error {
	for {
		c.prompt(prompt)
		line, err := c.readLine(ctx, node.Events(), onEvent)
		if err != nil {
			return err
		}
		if strings.EqualFold(line, word) {
			return nil
		}
		c.cli("%s", invalid)
	}
}

// vote prompts for a ballot until one is accepted, found to be a duplicate
// or buffered for the next leader.
func (c *Console) vote(ctx context.Context, node Voter, options []string, onEvent func(peer.Event) error) error {
	c.cli("\nVoting started!")
	c.cli("Voting options: [%s]", strings.Join(options, ", "))
	for {
		c.cli("Enter your vote: ")
		line, err := c.readLine(ctx, node.Events(), onEvent)
		if err != nil {
			return err
		}
		err = node.CastVote(ctx, line)
		if errors.Is(err, peer.ErrVoteRejected) {
			c.cli("%v", err)
			continue
		}
		c.reportVote(line, err)
		if err != nil && !errors.Is(err, peer.ErrDuplicateVote) && !peer.IsBuffered(err) {
			return err
		}
		return nil
	}
}

func (c *Console) reportVote(vote string, err error) {
	switch {
	case err == nil:
		c.cli("Vote submitted: %s", vote)
	case errors.Is(err, peer.ErrDuplicateVote):
		c.cli("A duplicate vote was detected with your UUID. The most recent vote was not submitted.")
	case peer.IsBuffered(err):
		c.cli("The leader is unreachable. Your vote will be sent to the next leader.")
	default:
		c.cli("Your vote could not be submitted: %v", err)
	}
}
