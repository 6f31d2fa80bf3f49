package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"

	"github.com/parley-ai/parley/internal/approval"
	"github.com/parley-ai/parley/internal/client"
	"github.com/parley-ai/parley/internal/config"
	"github.com/parley-ai/parley/internal/event"
	"github.com/parley-ai/parley/internal/inspect"
	"github.com/parley-ai/parley/internal/logging"
	"github.com/parley-ai/parley/internal/store"
	"github.com/parley-ai/parley/internal/stream"
	"github.com/parley-ai/parley/internal/title"
	"github.com/parley-ai/parley/internal/transcript"
	"github.com/parley-ai/parley/pkg/types"
)

var (
	chatSession string
	chatServer  string
	chatDir     string
	chatInspect bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat session",
	Long: `Start an interactive chat session against the configured backend.

Type a message and press enter to send it. While a response streams:
  /stop             cancel the current turn
  /approve [note]   approve the pending tool request
  /deny [note]      deny the pending tool request
  /allow            approve and pre-approve the tool for this session
  /quit             exit`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatSession, "session", "s", "", "Session ID to continue")
	chatCmd.Flags().StringVar(&chatServer, "server", "", "Backend URL (overrides config)")
	chatCmd.Flags().StringVar(&chatDir, "directory", "", "Working directory")
	chatCmd.Flags().BoolVar(&chatInspect, "inspect", false, "Serve the state inspector")
}

func runChat(cmd *cobra.Command, args []string) error {
	workDir := chatDir
	if workDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return err
		}
		workDir = wd
	}

	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return err
	}

	cfg, err := config.Load(workDir)
	if err != nil {
		return err
	}
	if chatServer != "" {
		cfg.ServerURL = chatServer
	}

	if err := setupLogging(cfg); err != nil {
		return err
	}
	defer logging.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	bus := event.NewBus()
	defer bus.Close()

	transcriptDir := cfg.TranscriptDir
	if transcriptDir == "" {
		transcriptDir = paths.TranscriptPath()
	}
	archive, err := transcript.NewArchive(transcriptDir)
	if err != nil {
		return err
	}

	opts := []store.Option{store.WithArchiver(archive)}
	if cfg.Debug {
		retention := cfg.DebugRetention
		if retention <= 0 {
			retention = store.DefaultDebugRetention
		}
		opts = append(opts, store.WithDebug(retention))
	}
	st := store.New(bus, opts...)
	if err := archive.RestoreAll(st); err != nil {
		logging.Warn().Err(err).Msg("transcript restore failed")
	}

	api := client.New(cfg.ServerURL, client.WithAPIKey(cfg.APIKey))
	controller := stream.NewController(st, api)

	gate := approval.NewGate(st, api, time.Duration(cfg.ApprovalTimeoutSecs)*time.Second)
	gate.Start(bus)
	defer gate.Stop()

	titles := title.NewBootstrapper(st, api)
	titles.Start(bus)
	defer titles.Stop()

	// Keep stored transcripts titled the way the live session is.
	unsubTitle := bus.Subscribe(event.TitleChanged, func(ev event.Event) {
		if data, ok := ev.Data.(event.TitleChangedData); ok {
			if err := archive.SetTitle(ev.SessionID, data.Title); err != nil {
				logging.Warn().Err(err).Str("sessionID", ev.SessionID).Msg("transcript title update failed")
			}
		}
	})
	defer unsubTitle()

	prober := client.NewProber(api, bus, func(reason string) {
		controller.FailAll(reason)
	})
	go prober.Run(ctx)

	if chatInspect {
		inspector := inspect.New(&inspect.Config{
			Addr:       cfg.InspectAddr,
			EnableCORS: true,
		}, st, bus)
		go func() {
			if err := inspector.Start(); err != nil {
				logging.Error().Err(err).Msg("inspector stopped")
			}
		}()
		defer inspector.Shutdown(context.Background())
		fmt.Printf("inspector listening on http://%s\n", cfg.InspectAddr)
	}

	watcher, err := config.NewWatcher(workDir, func(updated *config.Config) {
		logging.SetLevel(logging.ParseLevel(updated.LogLevel))
	})
	if err != nil {
		logging.Warn().Err(err).Msg("config watcher unavailable")
	} else if watcher != nil {
		watcher.Start()
		defer watcher.Stop()
	}

	sessionID := chatSession
	if sessionID == "" {
		sessionID = ulid.Make().String()
	}
	fmt.Printf("session %s connected to %s\n", sessionID, cfg.ServerURL)

	render := newRenderer(os.Stdout)
	unsub := st.Subscribe(sessionID, render.observe)
	defer unsub()

	return repl(ctx, sessionID, st, controller, gate)
}

// repl reads user input until EOF or /quit. Plain text starts a turn;
// slash commands act on the running one.
func repl(ctx context.Context, sessionID string, st *store.Store, controller *stream.Controller, gate *approval.Gate) error {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			fmt.Print("> ")
			continue
		}

		if strings.HasPrefix(line, "/") {
			if quit := command(ctx, line, sessionID, st, gate, controller); quit {
				return nil
			}
			fmt.Print("> ")
			continue
		}

		if err := controller.Start(ctx, sessionID, line); err != nil {
			if errors.Is(err, stream.ErrAlreadyStreaming) {
				fmt.Println("a response is already streaming; /stop to cancel it")
			} else {
				fmt.Printf("send failed: %v\n", err)
			}
		}
		fmt.Print("> ")
	}

	return scanner.Err()
}

// command handles one slash command. Returns true when the REPL should exit.
func command(ctx context.Context, line, sessionID string, st *store.Store, gate *approval.Gate, controller *stream.Controller) bool {
	fields := strings.Fields(line)
	name := fields[0]
	rest := strings.TrimSpace(strings.TrimPrefix(line, name))

	switch name {
	case "/quit", "/exit":
		controller.Cancel(sessionID)
		controller.Wait(sessionID)
		return true

	case "/stop":
		if !controller.IsStreaming(sessionID) {
			fmt.Println("nothing is streaming")
			return false
		}
		controller.Cancel(sessionID)

	case "/approve", "/deny", "/allow":
		snap := st.Snapshot(sessionID)
		if snap.Approval == nil {
			fmt.Println("no approval pending")
			return false
		}
		gate.Resolve(ctx, snap.Approval.RequestID, types.ApprovalDecision{
			RequestID:       snap.Approval.RequestID,
			Approved:        name != "/deny",
			Feedback:        rest,
			AllowForSession: name == "/allow",
		})

	case "/tools":
		for _, tool := range st.AllowedTools(sessionID) {
			fmt.Println(tool)
		}

	default:
		fmt.Printf("unknown command %s\n", name)
	}

	return false
}
