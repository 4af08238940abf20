package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/nugget/frontdesk/internal/config"
	"github.com/nugget/frontdesk/internal/pipeline"
	"github.com/nugget/frontdesk/internal/session"
	"github.com/nugget/frontdesk/internal/transport"
	"github.com/nugget/frontdesk/internal/voice"
)

// runChat runs one conversation on the terminal. Typed lines stand in
// for transcriptions; end of input hangs up. Logs go to stderr so they
// do not interleave with the dialogue.
func runChat(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, configPath string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger, _ := config.NewLogger(stderr, cfg.LogLevel)

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if a.usage != nil {
		go a.usage.Run(ctx, a.bus)
	}
	return console(ctx, a.pipeline, stdin, stdout)
}

// console drives one conversation from line-oriented input. A line of
// "/hangup" ends the call the way a dropped phone line would.
func console(ctx context.Context, s transport.Starter, in io.Reader, out io.Writer) error {
	sink := pipeline.SinkFunc(func(_ context.Context, d voice.Directive) error {
		switch d.Kind {
		case voice.DirectiveSpeak:
			_, err := fmt.Fprintf(out, "concierge> %s\n", d.Text)
			return err
		case voice.DirectiveEnd:
			_, err := fmt.Fprintln(out, "[call ended]")
			return err
		}
		return nil
	})

	conv, err := s.Start(ctx, sink)
	if err != nil {
		return err
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-conv.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-conv.Done():
			return nil
		case line, ok := <-lines:
			ev := voice.Transcription(strings.TrimSpace(line))
			if !ok || ev.Text == "/hangup" {
				ev = voice.ControlSignal(voice.ControlHangup)
			} else if ev.Text == "" {
				continue
			}
			if err := conv.Submit(ev); err != nil && !errors.Is(err, session.ErrEnded) {
				conv.Stop()
				return err
			}
			if !ok {
				<-conv.Done()
				return nil
			}
		}
	}
}
