package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/mutker/airnode/internal/alert"
	"codeberg.org/mutker/airnode/internal/checkpoint"
	"codeberg.org/mutker/airnode/internal/config"
	"codeberg.org/mutker/airnode/internal/connectivity"
	"codeberg.org/mutker/airnode/internal/discovery"
	"codeberg.org/mutker/airnode/internal/errors"
	"codeberg.org/mutker/airnode/internal/hal"
	"codeberg.org/mutker/airnode/internal/logger"
	"codeberg.org/mutker/airnode/internal/node"
	"codeberg.org/mutker/airnode/internal/pid"
	"codeberg.org/mutker/airnode/internal/publisher"
	"codeberg.org/mutker/airnode/internal/sensor"
	"codeberg.org/mutker/airnode/internal/transport"
)

const shutdownTimeout = 3 * time.Second

type app struct {
	node       *node.Node
	supervisor *connectivity.Supervisor
	transport  *transport.MQTT
	board      hal.Board
	store      checkpoint.Store
}

var cfg *config.Config

func init() {
	var err error
	cfg, err = config.Load(os.Args[1:])
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	level, err := logger.ParseLevel(cfg.LogLevel.String())
	if err != nil {
		fmt.Printf("failed to parse log level: %v\n", err)
		os.Exit(1)
	}

	logger.Init(level, logger.IsService())
	logger.Debug().Msg("Config loaded")
}

func main() {
	if err := pid.Write(cfg.PIDFile); err != nil {
		logger.Fatal().Err(err).Msg("failed to write PID file")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	a, err := setup()
	if err != nil {
		logger.Error().Err(err).Msg("failed to initialize")
		removePID()
		os.Exit(1)
	}

	if err := a.node.Run(ctx); err != nil {
		logger.ErrorWithCode(errors.New().Wrap(errors.ErrMainLoop, err)).Msg("error in main loop")
	}
	cleanup(a)
}

func setup() (*app, error) {
	errFactory := errors.New()
	log := logger.Default()

	// Log output owns stdout; simulated display frames go to stderr.
	board, err := hal.Open(cfg.Hardware, os.Stderr, log)
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrInitApp, err)
	}

	a := &app{board: board}
	if err := a.build(log); err != nil {
		board.Close()
		return nil, errFactory.Wrap(errors.ErrInitApp, err)
	}

	logger.Info().
		Str("driver", cfg.Hardware.Driver).
		Str("broker", cfg.Broker.Address).
		Bool("discover", cfg.Broker.Discover).
		Dur("interval", cfg.Sampling.Interval).
		Msg("Air quality node starting")

	return a, nil
}

func (a *app) build(log logger.Logger) error {
	sampler, err := sensor.NewSampler(a.board, cfg.Sampling.RawMax)
	if err != nil {
		return err
	}

	filter, err := sensor.NewFilter(cfg.Sampling.Window)
	if err != nil {
		return err
	}

	ctrl, err := alert.NewController(cfg.Alert, a.board, log)
	if err != nil {
		return err
	}

	var opts []transport.Option
	if cfg.Broker.Address == "" && cfg.Broker.Discover {
		opts = append(opts, transport.WithResolver(discovery.NewMDNS(cfg.Broker.DiscoverTimeout, log)))
	}

	a.transport, err = transport.NewMQTT(transport.Config{
		Address:        cfg.Broker.Address,
		Username:       cfg.Broker.Username,
		Password:       cfg.Broker.Password,
		KeepAlive:      cfg.Broker.KeepAlive,
		PublishTimeout: cfg.Broker.PublishTimeout,
		QoS:            byte(cfg.Broker.QoS),
		Will: &transport.Will{
			Topic:   cfg.Topics.Status,
			Payload: []byte(connectivity.DefaultOfflinePayload),
			Retain:  true,
		},
	}, log, opts...)
	if err != nil {
		return err
	}

	a.supervisor, err = connectivity.NewSupervisor(cfg.ConnectivityConfig(), a.transport, a.board, log)
	if err != nil {
		return err
	}

	pub, err := publisher.New(cfg.PublisherTopics(), a.transport, log)
	if err != nil {
		return err
	}

	a.store, err = checkpoint.New(cfg.Checkpoint, log)
	if err != nil {
		return err
	}

	a.node, err = node.New(cfg.NodeConfig(), node.Components{
		Sampler:    sampler,
		Filter:     filter,
		Thresholds: cfg.Thresholds,
		Alert:      ctrl,
		Supervisor: a.supervisor,
		Publisher:  pub,
		Checkpoint: a.store,
	}, log)

	return err
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}

func cleanup(a *app) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	a.node.Shutdown(ctx)
	a.supervisor.Shutdown(ctx)

	published, failed := a.transport.Stats()
	logger.Info().
		Uint64("published", published).
		Uint64("failed", failed).
		Msg("Publish totals")

	if err := a.transport.Disconnect(); err != nil {
		logger.Error().Err(err).Msg("failed to disconnect from broker")
	}
	if err := a.store.Close(); err != nil {
		logger.Error().Err(err).Msg("failed to close checkpoint")
	}
	if err := a.board.Close(); err != nil {
		logger.Error().Err(err).Msg("failed to close board")
	}
	removePID()
	logger.Info().Msg("Exiting...")
}

func removePID() {
	if err := pid.Remove(cfg.PIDFile); err != nil {
		logger.Error().Err(err).Msg("failed to remove PID file")
	}
}
