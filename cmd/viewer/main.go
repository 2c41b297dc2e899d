package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/MayoPickle/tofu-chillsync/internal/config"
	"github.com/MayoPickle/tofu-chillsync/internal/domain"
	"github.com/MayoPickle/tofu-chillsync/internal/player"
	"github.com/MayoPickle/tofu-chillsync/internal/reconcile"
	"github.com/MayoPickle/tofu-chillsync/internal/wsclient"
	pkglog "github.com/MayoPickle/tofu-chillsync/pkg/log"
)

var rootCmd = &cobra.Command{
	Use:   "viewer",
	Short: "Headless chillsync viewer",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		pkglog.Init(pkglog.Config{Level: flagLogLevel, Pretty: flagPretty, ServiceName: "chillsync-viewer"})
	},
}

var joinCmd = &cobra.Command{
	Use:   "join",
	Short: "Join a room and follow its playback with a simulated player",
	RunE:  runJoin,
}

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "List rooms on a server",
	RunE:  runRooms,
}

var (
	flagLogLevel  string
	flagPretty    bool
	flagServerURL string
	flagAPIURL    string
	flagRoom      string
	flagName      string
	flagVisitor   string
	flagTolerance float64
	flagGrace     time.Duration
	flagDuration  float64
	flagLoadDelay time.Duration
	flagTick      time.Duration
)

func init() {
	pflags := rootCmd.PersistentFlags()
	pflags.StringVar(&flagLogLevel, "log-level", "info", "log level")
	pflags.BoolVar(&flagPretty, "pretty", true, "human readable logs")

	flags := joinCmd.Flags()
	flags.StringVar(&flagServerURL, "server", "ws://localhost:3001/ws", "WebSocket endpoint")
	flags.StringVar(&flagRoom, "room", "", "room id to join")
	flags.StringVar(&flagName, "name", domain.DefaultHostName, "display name")
	flags.StringVar(&flagVisitor, "visitor", "", "stable visitor id (random when empty)")
	flags.Float64Var(&flagTolerance, "tolerance", reconcile.DefaultTolerance, "drift in seconds ignored before seeking")
	flags.DurationVar(&flagGrace, "grace", reconcile.DefaultAdmissionGrace, "pause given to new viewers while hosting")
	flags.Float64Var(&flagDuration, "duration", 0, "simulated media length in seconds (0 for unbounded)")
	flags.DurationVar(&flagLoadDelay, "load-delay", 500*time.Millisecond, "time before the simulated media becomes ready")
	flags.DurationVar(&flagTick, "tick", 250*time.Millisecond, "timeupdate interval")
	joinCmd.MarkFlagRequired("room")

	roomsCmd.Flags().StringVar(&flagAPIURL, "api", "http://localhost:3001", "HTTP base URL")

	rootCmd.AddCommand(joinCmd, roomsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runJoin(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := pkglog.L()
	visitor := flagVisitor
	if visitor == "" {
		visitor = uuid.NewString()
	}

	client, err := wsclient.Dial(ctx, flagServerURL, nil, config.WebSocketConfig{})
	if err != nil {
		return err
	}
	defer client.Close()

	sim := player.NewSim(nil, flagDuration)
	engine := reconcile.NewEngine(reconcile.Config{
		RoomID:         flagRoom,
		DisplayName:    flagName,
		VisitorID:      visitor,
		Tolerance:      flagTolerance,
		AdmissionGrace: flagGrace,
		OnStateChange: func(from, to reconcile.State) {
			logger.Info().Str("from", from.String()).Str("to", to.String()).Msg("Sync state")
		},
		OnWaiting: func(name string) {
			if name == "" {
				logger.Info().Msg("Room resumed")
				return
			}
			logger.Info().Str(pkglog.FieldViewerName, name).Msg("Waiting for viewer")
		},
		OnVideo: func(info domain.VideoInfo) {
			sim.Unload()
			time.AfterFunc(flagLoadDelay, sim.Load)
		},
	}, sim, client)
	sim.SetListener(engine)

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		defer engine.Disconnected()
		return client.Run(gctx, engine)
	})
	g.Go(func() error {
		sim.Run(gctx, flagTick)
		return nil
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-time.After(flagLoadDelay):
			sim.Load()
		}
		return nil
	})

	engine.Connected()
	logger.Info().Str(pkglog.FieldRoomID, flagRoom).Str(pkglog.FieldVisitorID, visitor).Msg("Joining room")

	select {
	case <-ctx.Done():
		engine.Leave()
	case <-gctx.Done():
	}
	cancel()
	return g.Wait()
}

func runRooms(cmd *cobra.Command, args []string) error {
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, flagAPIURL+"/api/rooms", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("list rooms: %w", err)
	}
	defer resp.Body.Close()

	var env struct {
		Success bool                     `json:"success"`
		Data    domain.ListRoomsResponse `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode rooms: %w", err)
	}
	if !env.Success {
		return fmt.Errorf("list rooms: %s", resp.Status)
	}

	out := cmd.OutOrStdout()
	for _, r := range env.Data.Rooms {
		fmt.Fprintf(out, "%s\t%-24s\t%-10s\t%d viewers\tvideo=%t\n", r.ID, r.Name, r.Theme, r.ViewerCount, r.HasVideo)
	}
	return nil
}
