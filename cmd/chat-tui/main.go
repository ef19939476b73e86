// ABOUTME: Terminal client for a live support conversation using the session core.
// ABOUTME: Reads stdin lines as messages; slash commands cover reset, upload and feedback.

package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"

	"github.com/ternlabs/chatsession/internal/cache"
	"github.com/ternlabs/chatsession/internal/chat"
	"github.com/ternlabs/chatsession/internal/config"
	"github.com/ternlabs/chatsession/internal/session"
	"github.com/ternlabs/chatsession/internal/transport"
)

var (
	agentColor    = color.New(color.FgCyan)
	customerColor = color.New(color.FgGreen)
	specialColor  = color.New(color.FgYellow)
	errColor      = color.New(color.FgRed)
	dimColor      = color.New(color.Faint)
)

func main() {
	configPath := flag.String("config", defaultConfigPath(), "Path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		errColor.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	kv, err := cache.Open(cache.Options{
		Backend:       cfg.Cache.Backend,
		Path:          cfg.Cache.Path,
		RedisAddr:     cfg.Cache.RedisAddr,
		RedisPassword: cfg.Cache.RedisPassword,
		RedisDB:       cfg.Cache.RedisDB,
		RedisPrefix:   cfg.Cache.RedisPrefix,
	}, logger)
	if err != nil {
		errColor.Fprintf(os.Stderr, "cache: %v\n", err)
		os.Exit(1)
	}
	defer kv.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Batches arrive on transport goroutines while the prompt loop runs;
	// the renderer serializes both.
	rend := &renderer{}
	callbacks := session.Callbacks{
		OnMessagesChanged: rend.apply,
		OnError: func(err error) {
			errColor.Printf("error: %v\n", err)
		},
		OnTakeover: func() {
			specialColor.Println("-- a human operator has joined --")
		},
		OnFinalize: func() {
			specialColor.Println("-- conversation closed --")
		},
		OnConnectionState: func(st transport.State) {
			dimColor.Printf("[%s]\n", st)
		},
		OnTyping: func(v bool) {
			if v {
				dimColor.Println("agent is typing...")
			}
		},
	}

	ctl := session.New(kv, callbacks, logger)
	defer ctl.Close()

	ctl.Initialize(ctx, session.Config{
		Endpoint:           cfg.Endpoint,
		Credential:         cfg.Credential,
		Tenant:             cfg.Tenant,
		Locale:             cfg.Locale,
		PushEnabled:        cfg.PushEnabled,
		PollEnabled:        cfg.PollEnabled,
		Metadata:           cfg.Metadata,
		UnavailableMessage: cfg.Unavailable.Message,
		ContactURL:         cfg.Unavailable.ContactURL,
		ContactLabel:       cfg.Unavailable.ContactLabel,
	})

	if ctl.ConversationID() == "" {
		if _, err := ctl.StartConversation(ctx, ""); err != nil {
			errColor.Fprintf(os.Stderr, "could not start conversation: %v\n", err)
			os.Exit(1)
		}
	} else {
		dimColor.Printf("resumed conversation %s\n", ctl.ConversationID())
		rend.apply(ctl.Messages())
	}

	fmt.Println("type a message, or /reset, /upload <path>, /feedback <id> good|bad, /quit")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		select {
		case <-ctx.Done():
			return
		default:
		}

		if strings.HasPrefix(line, "/") {
			if quit := handleCommand(ctx, ctl, line, rend); quit {
				return
			}
			continue
		}

		if err := ctl.SendMessage(ctx, line, nil, nil, ""); err != nil {
			errColor.Printf("send failed: %v\n", err)
		}
	}
}

// handleCommand dispatches a slash command. Returns true to exit.
func handleCommand(ctx context.Context, ctl *session.Controller, line string, rend *renderer) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true

	case "/reset":
		rend.reset()
		if _, err := ctl.ResetConversation(ctx, ""); err != nil {
			errColor.Printf("reset failed: %v\n", err)
		}

	case "/upload":
		if len(fields) < 2 {
			errColor.Println("usage: /upload <path>")
			return false
		}
		path := fields[1]
		f, err := os.Open(path)
		if err != nil {
			errColor.Printf("open failed: %v\n", err)
			return false
		}
		defer f.Close()
		info, err := f.Stat()
		if err != nil {
			errColor.Printf("stat failed: %v\n", err)
			return false
		}
		att := ctl.UploadFile(ctx, filepath.Base(path), "application/octet-stream", info.Size(), f)
		if att != nil {
			dimColor.Printf("uploaded %s (%d bytes) -> %s\n", att.Name, att.Size, att.URL)
		}

	case "/feedback":
		if len(fields) < 3 {
			errColor.Println("usage: /feedback <message-id> good|bad [comment]")
			return false
		}
		comment := strings.Join(fields[3:], " ")
		ctl.AddFeedback(ctx, fields[1], fields[2], comment)

	default:
		errColor.Printf("unknown command %s\n", fields[0])
	}
	return false
}

// renderer paints the tail of the transcript. Snapshots come from transport
// goroutines and from the prompt loop, so the position is mutex-guarded.
type renderer struct {
	mu    sync.Mutex
	shown int
}

func (r *renderer) apply(msgs []chat.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.shown > len(msgs) {
		r.shown = len(msgs) // transcript was reset
	}
	for ; r.shown < len(msgs); r.shown++ {
		printMessage(msgs[r.shown])
	}
}

func (r *renderer) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shown = 0
}

func printMessage(m chat.Message) {
	switch m.Speaker {
	case chat.SpeakerCustomer:
		customerColor.Printf("you: %s\n", m.Text)
	case chat.SpeakerSpecial:
		specialColor.Printf("** %s", m.Text)
		if m.LinkURL != "" {
			label := m.LinkLabel
			if label == "" {
				label = m.LinkURL
			}
			specialColor.Printf(" (%s: %s)", label, m.LinkURL)
		}
		specialColor.Println()
	default:
		agentColor.Printf("agent: %s\n", m.Text)
	}
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func defaultConfigPath() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "chatsession.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "chatsession", "config.yaml")
}
