package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"spendbot/pkg/api"
	"spendbot/pkg/channels"
	_ "spendbot/pkg/channels/autoload"
	"spendbot/pkg/config"
	"spendbot/pkg/gateway"
	"spendbot/pkg/handler"
	"spendbot/pkg/monitor"
	"spendbot/pkg/tools"
	"spendbot/pkg/voice"
)

// errSuspended is returned by ask when the turn needs a transport feature
// the command line does not have.
var errSuspended = errors.New("turn is waiting for a user response that cannot arrive from the command line")

func runServe(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	monitor.PrintBanner(os.Stdout)

	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	go config.WatchInstructions(ctx, a.cfg, a.engine.SetInstructions)

	voiceSvc := voice.NewService(a.cfg.Voice.Hosts, a.cfg.Voice.TieBreak, a.cfg.Voice.FFmpegPath, a.cfg.Voice.WorkDir, millis(a.sys.DownloadTimeoutMs))
	if !voiceSvc.Enabled() {
		slog.Info("Voice input disabled, no recognizer hosts configured")
	}

	chans := channels.LoadFromConfig(a.cfg.Channels, a.sys, channels.Deps{
		Engine:         a.engine,
		Metrics:        a.metrics.Handler(),
		IdentityHeader: a.cfg.Tools.IdentityHeader,
		NameHeader:     a.cfg.Tools.NameHeader,
		VoiceDir:       a.cfg.Voice.WorkDir,
	})
	if len(chans) == 0 {
		return fmt.Errorf("no channels could be started, check the 'channels' section of %s", configPath)
	}

	h := handler.NewMessageHandler(a.engine, a.hub, voiceSvc, handler.Options{})
	builder := gateway.NewGatewayBuilder().
		WithChannel(chans...).
		WithHandler(h)
	if a.sys.ShowMonitor {
		builder.WithMonitor(monitor.NewCLIMonitor(os.Stdout))
	}

	gw, err := builder.Build()
	if err != nil {
		return fmt.Errorf("failed to build gateway: %w", err)
	}

	<-ctx.Done()
	slog.Info("Received shutdown signal, stopping services")

	gw.StopAll()
	waitTurns(h, 10*time.Second)
	slog.Info("Bye!")
	return nil
}

// waitTurns lets running turns finish their replies for at most d.
func waitTurns(h *handler.ChatHandler, d time.Duration) {
	done := make(chan struct{})
	go func() {
		h.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		slog.Warn("Shutdown with turns still running")
	}
}

func runTools(ctx context.Context, out io.Writer) error {
	a, err := connect(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	hidden := make(map[string]bool, len(a.cfg.Tools.Hidden))
	for _, name := range a.cfg.Tools.Hidden {
		hidden[name] = true
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSOURCE\tSTRICT\tVISIBLE\tDESCRIPTION")
	for _, d := range a.registry.All() {
		fmt.Fprintf(w, "%s\t%s\t%t\t%t\t%s\n", d.Name, d.Provenance, d.Strict, !hidden[d.Name], firstLine(d.Description))
	}
	return w.Flush()
}

func runAsk(ctx context.Context, out io.Writer, userID, name, query string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	sess := tools.Session{SessionContext: api.SessionContext{
		ChannelID: "cli",
		UserID:    userID,
		ChatID:    userID,
		Username:  name,
	}}
	reply, err := a.engine.HandleQuery(ctx, sess, query)
	if err != nil {
		return err
	}
	if reply.Pending() {
		fmt.Fprintln(out, "The assistant needs a response through a chat client; run this query from Telegram.")
		return errSuspended
	}
	_, err = fmt.Fprintln(out, reply.Text)
	return err
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
