package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"goa.design/clue/log"

	historymongo "goa.design/inlet/features/history/mongo"
	"goa.design/inlet/features/history/mongo/clients/mongo/inmem"
	pulsefeature "goa.design/inlet/features/stream/pulse"
	clientspulse "goa.design/inlet/features/stream/pulse/clients/pulse"
	transportsse "goa.design/inlet/features/transport/sse"
	"goa.design/inlet/runtime/chat/interrupt"
	"goa.design/inlet/runtime/chat/session"
	"goa.design/inlet/runtime/chat/stream"
	"goa.design/inlet/runtime/chat/telemetry"
)

func main() {
	var (
		urlF     = flag.String("url", "http://localhost:8080/chat/stream", "Agent stream endpoint")
		threadF  = flag.String("thread", "demo-thread", "Conversation thread ID")
		messageF = flag.String("message", "Hello, what can you do?", "User message to send")
		redisF   = flag.String("redis", "", "Redis address for event fan-out (empty disables)")
		dbgF     = flag.Bool("debug", false, "Enable debug logs")
	)
	flag.Parse()

	// Setup logger. Replace logger with your own log package of choice.
	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}

	opener, err := transportsse.New(transportsse.Options{
		URL:     *urlF,
		Logger:  telemetry.NewClueLogger(),
		Metrics: telemetry.NewClueMetrics(),
	})
	if err != nil {
		log.Fatal(ctx, err)
	}

	store, err := historymongo.NewStore(inmem.New())
	if err != nil {
		log.Fatal(ctx, err)
	}

	var sink stream.Sink
	if *redisF != "" {
		pulseClient, err := clientspulse.New(clientspulse.Options{
			Redis:            redis.NewClient(&redis.Options{Addr: *redisF}),
			OperationTimeout: 5 * time.Second,
		})
		if err != nil {
			log.Fatal(ctx, err)
		}
		psink, err := pulsefeature.NewSink(pulsefeature.Options{Client: pulseClient})
		if err != nil {
			log.Fatal(ctx, err)
		}
		sink = psink
		log.Print(ctx, log.KV{K: "fan-out", V: *redisF})
	}

	ctrl, err := session.New(session.Options{
		Opener:  opener,
		Store:   store,
		Sink:    sink,
		Logger:  telemetry.NewClueLogger(),
		Metrics: telemetry.NewClueMetrics(),
		Tracer:  telemetry.NewClueTracer(),
	})
	if err != nil {
		log.Fatal(ctx, err)
	}

	// Setup interrupt handler so Ctrl-C stops the stream gracefully: the
	// partial reply is flushed, marked cancelled and persisted.
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		<-c
		log.Print(ctx, log.KV{K: "msg", V: "cancelling stream"})
		if err := ctrl.Cancel(); err != nil {
			log.Errorf(ctx, err, "cancel")
		}
	}()

	// Paint loop: render each conflated snapshot as it arrives.
	go func() {
		var lastContent string
		var lastProgress string
		for snap := range ctrl.Updates() {
			if progress := renderProgress(snap); progress != "" && progress != lastProgress {
				fmt.Fprintln(os.Stderr, progress)
				lastProgress = progress
			}
			if snap.Interrupt != nil {
				fmt.Fprintln(os.Stderr, renderInterrupt(snap.Interrupt))
			}
			if snap.Content != lastContent {
				fmt.Print(strings.TrimPrefix(snap.Content, lastContent))
				lastContent = snap.Content
			}
		}
	}()

	log.Print(ctx, log.KV{K: "thread", V: *threadF}, log.KV{K: "url", V: *urlF})
	run, err := ctrl.Start(ctx, session.Request{
		ThreadID: *threadF,
		Content:  *messageF,
	})
	if err != nil {
		log.Fatal(ctx, err)
	}

	<-run.Done()
	fmt.Println()
	if err := run.Err(); err != nil {
		log.Errorf(ctx, err, "stream failed")
	}
	result := run.Result()
	log.Print(ctx,
		log.KV{K: "run", V: run.ID},
		log.KV{K: "persisted", V: result.Persisted},
		log.KV{K: "cancelled", V: result.Cancelled},
	)

	msgs, err := store.ListMessages(ctx, *threadF, 0)
	if errors.Is(err, session.ErrThreadNotFound) {
		log.Print(ctx, log.KV{K: "msg", V: "nothing persisted"})
		return
	}
	if err != nil {
		log.Fatal(ctx, err)
	}
	for _, msg := range msgs {
		log.Print(ctx,
			log.KV{K: "message", V: msg.ID},
			log.KV{K: "role", V: msg.Role},
			log.KV{K: "events", V: len(msg.Events)},
			log.KV{K: "sources", V: len(msg.Sources)},
		)
	}
}

// renderProgress renders the visible stage groups as a single status line.
func renderProgress(snap session.Snapshot) string {
	if len(snap.Groups) == 0 {
		return ""
	}
	parts := make([]string, 0, len(snap.Groups))
	for _, g := range snap.Groups {
		part := g.Name
		if g.Status == stream.StatusRunning {
			part += "…"
		}
		for _, tally := range g.Tallies() {
			part += fmt.Sprintf(" %s(%d/%d)", tally.Tool, tally.Completed, tally.Total)
		}
		parts = append(parts, part)
	}
	return "[" + strings.Join(parts, " > ") + "]"
}

// renderInterrupt renders the active prompt with its countdown.
func renderInterrupt(p *interrupt.Prompt) string {
	var b strings.Builder
	fmt.Fprintf(&b, "?? %s", p.Message)
	for _, opt := range p.Options {
		fmt.Fprintf(&b, " [%s]", opt.Label)
	}
	if !p.Deadline.IsZero() {
		fmt.Fprintf(&b, " (%s)", interrupt.FormatRemaining(time.Until(p.Deadline)))
	}
	return b.String()
}
