package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/mossy-p/dcom/config"
	"github.com/mossy-p/dcom/internal/models"
	"github.com/mossy-p/dcom/internal/peerlink"
	"github.com/mossy-p/dcom/internal/selector"
	"github.com/mossy-p/dcom/internal/session"
	"github.com/mossy-p/dcom/internal/signaling"
)

const quitCommand = "/quit"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "chat: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath string
		server     string
		name       string
		mode       string
		room       string
		iceServers []string
	)

	flagSet := pflag.NewFlagSet("chat", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to a YAML client configuration file")
	flagSet.StringVar(&server, "server", "", "signaling/relay server base URL")
	flagSet.StringVarP(&name, "name", "n", "", "identity to chat as")
	flagSet.StringVarP(&mode, "mode", "m", "", "connection mode: direct or relay")
	flagSet.StringVarP(&room, "room", "r", "", "room id or code (direct mode)")
	flagSet.StringSliceVar(&iceServers, "ice-server", nil, "STUN/TURN server URL (repeatable)")
	grace := flagSet.Duration("grace", 0, "how long to wait for an incoming offer before initiating")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.LoadClient(configPath)
	if err != nil {
		return err
	}
	// Flags win over file and environment.
	if server != "" {
		cfg.Server = server
	}
	if name != "" {
		cfg.Identity = name
	}
	if mode != "" {
		cfg.Mode = mode
	}
	if room != "" {
		cfg.Room = room
	}
	if len(iceServers) > 0 {
		cfg.ICEServers = iceServers
	}
	if *grace > 0 {
		cfg.GraceWindow = *grace
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: config.ParseLevel(cfg.LogLevel)}))

	chatMode, err := models.ParseMode(cfg.Mode)
	if err != nil {
		return err
	}
	sel, err := selector.New(cfg.Server)
	if err != nil {
		return err
	}

	lines := readLines(os.Stdin)
	identity, ok := promptIdentity(os.Stdout, cfg.Identity, lines)
	if !ok {
		return nil
	}
	cfg.Identity = identity

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out := newPrinter(os.Stdout, cfg.Identity)
	controller := session.New(
		sel,
		&signaling.Dialer{Logger: logger},
		peerlink.NewPionFactory(cfg.ICEServers),
		out,
		session.Config{GraceWindow: cfg.GraceWindow, OpenTimeout: session.DefaultConfig().OpenTimeout},
		logger,
	)
	defer controller.Close()

	if err := controller.Join(cfg.Identity, chatMode, cfg.Room); err != nil {
		return err
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		for {
			select {
			case <-groupCtx.Done():
				return nil
			case <-out.ended:
				return nil
			case line, ok := <-lines:
				if !ok || strings.TrimSpace(line) == quitCommand {
					return controller.Leave()
				}
				if err := controller.Send(line); err != nil {
					logger.Debug("send rejected", "error", err)
				}
			}
		}
	})
	return group.Wait()
}

// promptIdentity returns the trimmed configured identity, asking on lines
// when it is blank. It reports false if input ends first.
func promptIdentity(w io.Writer, configured string, lines <-chan string) (string, bool) {
	if identity := strings.TrimSpace(configured); identity != "" {
		return identity, true
	}
	fmt.Fprint(w, "Enter your username: ")
	line, ok := <-lines
	if !ok {
		return "", false
	}
	return strings.TrimSpace(line), true
}

// readLines feeds stdin lines into a channel that is closed at EOF. The
// reader goroutine is left blocked on exit.
func readLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}

// printer renders controller events on the terminal.
type printer struct {
	w        io.Writer
	identity string

	mu        sync.Mutex
	ended     chan struct{}
	endedOnce sync.Once
}

func newPrinter(w io.Writer, identity string) *printer {
	return &printer{w: w, identity: identity, ended: make(chan struct{})}
}

func (p *printer) MessageAppended(msg models.ChatMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case msg.IsSystem():
		fmt.Fprintf(p.w, "[%s]\n", msg.Text)
	case msg.Sender == p.identity:
		fmt.Fprintf(p.w, "you: %s\n", msg.Text)
	default:
		fmt.Fprintf(p.w, "%s: %s\n", msg.Sender, msg.Text)
	}
}

func (p *printer) StatusChanged(status models.Status) {
	if status.Terminal() {
		p.endedOnce.Do(func() { close(p.ended) })
	}
}

func (p *printer) Error(kind models.ErrorKind, detail string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "[error: %s: %s]\n", kind, detail)
}
