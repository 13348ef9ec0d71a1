package main

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/eldtechnologies/liveagent/clients/go/liveagent"
	"github.com/eldtechnologies/liveagent/internal/api"
	"github.com/eldtechnologies/liveagent/internal/config"
)

const chatHelp = `Commands:
  /start        start a new chat (or reconnect)
  /cancel       withdraw a chat request no agent has accepted yet
  /end          end the current chat
  /file <path>  send a file to the agent
  /online       check whether an agent is available
  /status       show the session state
  /quit         leave; the chat can be resumed later
Anything else is sent to the agent.`

func newChatCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start or resume a chat (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), version)
		},
	}
}

// runChat starts the interactive chat mode.
func runChat(ctx context.Context, version string) error {
	cfg, err := initConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sessions, err := openSessionStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeQuietly(sessions.Backend())

	tr := newTranscript(os.Stdout)
	ctrl := liveagent.NewController(newClient(cfg, logger), sessions, tr, liveagent.Config{
		Greeting:        cfg.Greeting,
		PollInterval:    cfg.PollInterval,
		MaxPollFailures: cfg.MaxPollFailures,
		Logger:          logger.With().Str("component", "controller").Logger(),
	})
	defer ctrl.Stop()

	tr.onAgentMessage = func() {
		go func() {
			readCtx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
			defer cancel()
			if err := ctrl.MarkRead(readCtx); err != nil {
				logger.Debug().Err(err).Msg("mark read failed")
			}
		}()
	}

	if cfg.StatusAddr != "" {
		shutdown := serveStatus(cfg, logger, ctrl, sessions.Backend(), version)
		defer shutdown()
	}

	s := &chatSession{ctrl: ctrl, tr: tr, timeout: cfg.RequestTimeout}
	s.checkAvailability(ctx)
	if err := ctrl.Start(ctx); err != nil {
		tr.notice("Could not start a chat. Type /start to retry.")
	}

	lines := readLines(os.Stdin)
	for {
		select {
		case <-ctx.Done():
			tr.notice("Leaving; run liveagent again to resume this chat.")
			return nil
		case line, ok := <-lines:
			if !ok || s.handle(ctx, line) {
				tr.notice("Leaving; run liveagent again to resume this chat.")
				return nil
			}
		}
	}
}

// chatSession dispatches input lines to the controller.
type chatSession struct {
	ctrl    *liveagent.Controller
	tr      *transcript
	timeout time.Duration
}

// handle processes one input line and reports whether to quit.
func (s *chatSession) handle(ctx context.Context, line string) bool {
	name, arg := parseCommand(line)
	switch name {
	case "":
		if strings.TrimSpace(line) == "" {
			return false
		}
		s.send(ctx, line)
	case "quit", "exit":
		return true
	case "help":
		s.tr.printf("%s", chatHelp)
	case "start":
		if err := s.ctrl.Start(ctx); err != nil {
			s.tr.notice("Could not start a chat: %s", describe(err))
		}
	case "cancel":
		if err := s.ctrl.Cancel(ctx); errors.Is(err, liveagent.ErrNotPending) {
			s.tr.notice("There is no pending chat request to cancel.")
		}
	case "end":
		if err := s.ctrl.End(ctx); errors.Is(err, liveagent.ErrInactiveSession) {
			if s.ctrl.State() == liveagent.StatePending {
				s.tr.notice("No agent has joined yet; use /cancel to withdraw the request.")
			} else {
				s.tr.notice("There is no active chat to end.")
			}
		}
	case "file":
		s.sendFile(ctx, arg)
	case "online":
		s.checkAvailability(ctx)
	case "status":
		snap := s.ctrl.Snapshot()
		s.tr.notice("state=%s session=%s last_message=%d polling=%t", snap.State, snap.SessionID, snap.LastMessageID, snap.Polling)
	default:
		s.tr.notice("Unknown command /%s. Type /help for a list.", name)
	}
	return false
}

func (s *chatSession) send(ctx context.Context, text string) {
	_, err := s.ctrl.Send(ctx, text)
	if errors.Is(err, liveagent.ErrInactiveSession) {
		switch s.ctrl.State() {
		case liveagent.StatePending:
			s.tr.notice("Please wait for an agent to join before sending messages.")
		default:
			s.tr.notice("There is no active chat. Type /start to begin one.")
		}
	}
}

func (s *chatSession) sendFile(ctx context.Context, path string) {
	if path == "" {
		s.tr.notice("Usage: /file <path>")
		return
	}
	f, err := os.Open(path)
	if err != nil {
		s.tr.notice("Cannot open %s: %v", path, err)
		return
	}
	defer f.Close()

	if _, err := s.ctrl.SendFile(ctx, filepath.Base(path), f); errors.Is(err, liveagent.ErrInactiveSession) {
		s.tr.notice("Files can only be sent during an active chat.")
	}
}

func (s *chatSession) checkAvailability(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	online, err := s.ctrl.AgentOnline(ctx)
	switch {
	case err != nil:
		s.tr.notice("Could not check agent availability: %s", describe(err))
	case !online:
		s.tr.notice("No agent is online right now; your request will wait in the queue.")
	}
}

// parseCommand splits "/name arg" input. name is empty for plain messages.
func parseCommand(line string) (name, arg string) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") || len(line) == 1 {
		return "", ""
	}
	name, arg, _ = strings.Cut(line[1:], " ")
	return strings.ToLower(name), strings.TrimSpace(arg)
}

// readLines streams stdin lines until EOF.
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

// serveStatus starts the local status server and returns its shutdown func.
func serveStatus(cfg *config.Config, logger zerolog.Logger, ctrl *liveagent.Controller, backend liveagent.Backend, version string) func() {
	router := api.NewRouter(logger.With().Str("component", "status").Logger(), ctrl, backend, api.Options{
		Version:     version,
		CORSOrigins: cfg.CORSOrigins,
	})

	srv := &http.Server{
		Addr:         cfg.StatusAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.StatusAddr).Msg("starting status server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("status server failed")
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("status server forced to shutdown")
		}
	}
}
