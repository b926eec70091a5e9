package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dkeye/videocall/internal/adapters/rtc"
	"github.com/dkeye/videocall/internal/adapters/store/remote"
	"github.com/dkeye/videocall/internal/app/orch"
	"github.com/dkeye/videocall/internal/app/session"
	"github.com/dkeye/videocall/internal/config"
	"github.com/dkeye/videocall/internal/domain"
)

var (
	flagConfig  string
	flagServer  string
	flagICE     []string
	flagCreator string
	flagDebug   bool
)

const statsPeriod = 5 * time.Second

var rootCmd = &cobra.Command{
	Use:   "caller",
	Short: "Two-party video calls through a rendezvous server",
	Long: `caller places and answers one-to-one WebRTC calls. The two sides meet on a
room kept by the rendezvous server: one side creates the room and shares its id,
the other joins it.`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "config file (default config/config.$CONFIG_ENV.yaml)")
	rootCmd.PersistentFlags().StringVarP(&flagServer, "server", "s", "", "rendezvous server url")
	rootCmd.PersistentFlags().StringSliceVar(&flagICE, "ice", nil, "STUN/TURN server urls, replaces the configured list")
	rootCmd.PersistentFlags().StringVar(&flagCreator, "name", "", "creator name recorded on rooms")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "debug logging")

	rootCmd.AddCommand(createCmd, joinCmd, roomsCmd)
}

// Execute runs the root command. Called once from main.
func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("caller")
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if flagConfig != "" {
		cfg, err = config.LoadFile(flagConfig)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if flagServer != "" {
		cfg.ServerURL = flagServer
	}
	if len(flagICE) > 0 {
		cfg.ICEServers = []config.ICEServer{{URLs: flagICE}}
	}

	level := zerolog.InfoLevel
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		level = lvl
	}
	if flagDebug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	return cfg, nil
}

// newCoordinator wires a coordinator against the configured rendezvous server.
func newCoordinator(cfg *config.Config, peers *rtc.Factory, obs orch.Observer) (*orch.Coordinator, error) {
	store, err := remote.New(cfg.ServerURL, cfg.Store.Timeout)
	if err != nil {
		return nil, err
	}
	return orch.NewCoordinator(
		store,
		rtc.NewCapture(cfg.Media),
		peers,
		obs,
		session.Options{
			Creator:         flagCreator,
			CleanupAttempts: cfg.Cleanup.Attempts,
			CleanupInterval: cfg.Cleanup.Interval,
			CleanupTimeout:  cfg.Cleanup.Timeout,
		},
	), nil
}

// logObserver prints call progress and reports when the call is over.
type logObserver struct {
	ended chan domain.State
}

func newLogObserver() *logObserver {
	return &logObserver{ended: make(chan domain.State, 1)}
}

func (o *logObserver) RoomAssigned(id domain.RoomID) {
	log.Info().Str("room", string(id)).Msg("room assigned")
}

func (o *logObserver) StateChanged(s domain.State) {
	log.Info().Str("state", s.String()).Msg("call state")
	if s.Terminal() {
		select {
		case o.ended <- s:
		default:
		}
	}
}

func (o *logObserver) Error(err error) {
	log.Error().Err(err).Msg("call error")
}

// runCall opens media, starts the call with start and holds it until the
// call ends or the process is interrupted.
func runCall(start func(ctx context.Context, c *orch.Coordinator) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	obs := newLogObserver()
	peers := rtc.NewFactory(rtc.Configuration(cfg.ICEServers))
	coord, err := newCoordinator(cfg, peers, obs)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Cleanup.Timeout+time.Second)
		defer cancel()
		coord.Close(closeCtx)
	}()

	if err := coord.OpenMedia(ctx); err != nil {
		return err
	}
	if err := start(ctx, coord); err != nil {
		return err
	}

	ticker := time.NewTicker(statsPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("interrupted, hanging up")
			return nil
		case s := <-obs.ended:
			if s == domain.StateFailed {
				return fmt.Errorf("call failed")
			}
			return nil
		case <-ticker.C:
			for id, st := range peers.Stats() {
				log.Info().Str("track_id", id).Uint64("packets", st.Packets).Uint64("bytes", st.Bytes).Msg("receiving")
			}
		}
	}
}
