// Package main provides the overlay client entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/livechat-overlay/internal/app/bindings"
	"github.com/osa030/livechat-overlay/internal/app/loop"
	"github.com/osa030/livechat-overlay/internal/app/notification"
	"github.com/osa030/livechat-overlay/internal/app/overlay"
	"github.com/osa030/livechat-overlay/internal/domain/media"
		"github.com/osa030/livechat-overlay/internal/infra/config"
	"github.com/osa030/livechat-overlay/internal/infra/logger"
	"github.com/osa030/livechat-overlay/internal/infra/pairing"
	"github.com/osa030/livechat-overlay/internal/infra/socket"
)

var (
	app        = kingpin.New("livechat-overlay", "Livechat overlay client")
	configPath = app.Flag("config", "Path to config file (default: user config directory)").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()

	startCmd = app.Command("start", "Run the overlay client (default)").Default()
	noStdin  = startCmd.Flag("no-stdin", "Do not read shortcut commands from stdin").Bool()

	pairCmd    = app.Command("pair", "Pair this client with a server using a pairing code")
	pairServer = pairCmd.Arg("server", "Server URL").Required().String()
	pairCode   = pairCmd.Arg("code", "Pairing code").Required().String()

	unpairCmd  = app.Command("unpair", "Forget the stored pairing")
	enableCmd  = app.Command("enable", "Enable the overlay")
	disableCmd = app.Command("disable", "Disable the overlay")

	bindCmd         = app.Command("bind", "Bind a shortcut to a meme board item")
	bindAccelerator = bindCmd.Arg("accelerator", "Shortcut, e.g. Ctrl+Shift+1").Required().String()
	bindItem        = bindCmd.Arg("item", "Meme board item id").Required().String()

	unbindCmd         = app.Command("unbind", "Remove a shortcut binding")
	unbindAccelerator = unbindCmd.Arg("accelerator", "Shortcut").Required().String()

	bindingsCmd = app.Command("bindings", "List shortcut bindings")

	volumeCmd   = app.Command("volume", "Set the overlay volume")
	volumeLevel = volumeCmd.Arg("level", "Volume between 0 and 1").Required().Float64()
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	path := *configPath
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		path = p
	}

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger; command-line flags override the config
	loggerConfig := logger.Config{
		Output: cfg.Log.Output,
		Level:  cfg.Log.Level,
		File:   cfg.Log.File,
	}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = "file"
		loggerConfig.File = *logfile
	}
	closer, err := logger.Init(loggerConfig)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer closer.Close()

	store := config.NewStore(path, cfg)

	switch command {
	case startCmd.FullCommand():
		err = run(store)
	case pairCmd.FullCommand():
		err = pair(store, *pairServer, *pairCode)
	case unpairCmd.FullCommand():
		err = store.Update(func(c *config.Config) { c.ClearPairing() })
		printDone(err, "Pairing removed")
	case enableCmd.FullCommand():
		err = store.Update(func(c *config.Config) { c.SetEnabled(true) })
		printDone(err, "Overlay enabled")
	case disableCmd.FullCommand():
		err = store.Update(func(c *config.Config) { c.SetEnabled(false) })
		printDone(err, "Overlay disabled")
	case bindCmd.FullCommand():
		err = bind(store, *bindAccelerator, *bindItem)
	case unbindCmd.FullCommand():
		err = unbind(store, *unbindAccelerator)
	case bindingsCmd.FullCommand():
		err = listBindings(store)
	case volumeCmd.FullCommand():
		err = setVolume(store, *volumeLevel)
	}

	if err != nil {
		zlog.Error().Msgf("%s failed: %v", command, err)
		closer.Close()
		os.Exit(1)
	}
}

// run starts the overlay runtime and blocks until a shutdown signal.
func run(store *config.Store) error {
	cfg := store.Snapshot()

	registry := bindings.NewRegistry()
	if err := registry.Set(cfg.Bindings); err != nil {
		zlog.Warn().Msgf("Ignoring invalid bindings: %v", err)
	}

	lp := loop.New(nil, 256)
	persister := loop.New(lp.Clock(), 64)
	notifier := notification.NewManager()
	renderer := newConsoleRenderer(os.Stdout)

	rt := overlay.New(lp, lp.Clock(), renderer, overlay.Options{
		Config: overlay.Config{
			TickInterval:      cfg.Playback.TickInterval(),
			ReportInterval:    cfg.Playback.ReportInterval(),
			AutoClearGrace:    cfg.Playback.AutoClearGrace(),
			HeartbeatInterval: cfg.Transport.HeartbeatInterval(),
			ReasonMaxLength:   cfg.Status.ReasonMaxLength,
		},
		Credentials: socket.Credentials{
			ServerURL: cfg.Server.URL,
			Token:     cfg.Client.Token,
			GuildID:   cfg.Client.GuildID,
			ClientID:  cfg.Client.ClientID,
		},
		Enabled:  cfg.Enabled(),
		Settings: cfg.Settings(),
		Bindings: registry,
		Notifier: notifier,
		Store:    store,
		Persist:  persister,
	})

	client := socket.NewClient(socket.Config{
		Path:              cfg.Transport.Path,
		ReconnectDelay:    cfg.Transport.ReconnectDelay(),
		ReconnectDelayMax: cfg.Transport.ReconnectDelayMax(),
		PingInterval:      cfg.Transport.PingInterval(),
		WriteTimeout:      cfg.Transport.WriteTimeout(),
	}, lp.Clock(), rt)
	rt.SetTransport(client)

	subID := notifier.Subscribe(newStatusPrinter(os.Stdout))
	defer notifier.Unsubscribe(subID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		_ = lp.Run(ctx)
	}()

	persistCtx, stopPersist := context.WithCancel(context.Background())
	defer stopPersist()
	go func() { _ = persister.Run(persistCtx) }()

	zlog.Info().Msgf("Starting overlay: config=%s", store.Path())
	rt.Start(ctx)

	if !*noStdin {
		console := &commandConsole{
			rt:   rt,
			pair: pairing.New().Consume,
			out:  os.Stdout,
		}
		go console.Run(ctx, os.Stdin)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	zlog.Info().Msg("Received shutdown signal...")

	rt.Shutdown()
	lp.Call(func() {})
	cancel()
	<-loopDone
	persister.Call(func() {})
	stopPersist()

	waitDone := make(chan struct{})
	go func() {
		client.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-time.After(5 * time.Second):
		zlog.Warn().Msg("Timed out waiting for socket shutdown")
	}
	notifier.Close()

	zlog.Info().Msg("Overlay stopped")
	return nil
}

// pair consumes a pairing code and stores the issued credentials.
func pair(store *config.Store, server, code string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	result, err := pairing.New().Consume(ctx, server, code)
	if err != nil {
		return err
	}
	err = store.Update(func(c *config.Config) {
		c.SetPairing(result.ServerURL, result.ClientToken, result.GuildID, result.ClientID)
	})
	printDone(err, fmt.Sprintf("Paired: guild=%s client=%s", result.GuildID, result.ClientID))
	return err
}

func bind(store *config.Store, accelerator, item string) error {
	registry := bindings.NewRegistry()
	_ = registry.Set(store.Snapshot().Bindings)

	norm, err := registry.Bind(accelerator, item)
	if err != nil {
		return err
	}
	err = store.Update(func(c *config.Config) { c.Bindings = registry.Map() })
	printDone(err, fmt.Sprintf("Bound %s -> %s", norm, item))
	return err
}

func unbind(store *config.Store, accelerator string) error {
	registry := bindings.NewRegistry()
	_ = registry.Set(store.Snapshot().Bindings)

	if err := registry.Unbind(accelerator); err != nil {
		return err
	}
	err := store.Update(func(c *config.Config) { c.Bindings = registry.Map() })
	printDone(err, "Binding removed")
	return err
}

func listBindings(store *config.Store) error {
	registry := bindings.NewRegistry()
	if err := registry.Set(store.Snapshot().Bindings); err != nil {
		zlog.Warn().Msgf("Ignoring invalid bindings: %v", err)
	}
	if registry.Count() == 0 {
		fmt.Println("No bindings")
		return nil
	}
	for _, b := range registry.All() {
		fmt.Printf("  %-24s %s\n", b.Accelerator, b.ItemID)
	}
	return nil
}

func setVolume(store *config.Store, level float64) error {
	if level < 0 || level > 1 {
		return fmt.Errorf("volume must be between 0 and 1: %v", level)
	}
	err := store.Update(func(c *config.Config) {
		s := c.Settings()
		s.Volume = level
		c.SetSettings(s)
	})
	printDone(err, fmt.Sprintf("Volume set to %.2f (gain %.3f)", level, media.Settings{Volume: level}.PerceptualGain()))
	return err
}

func printDone(err error, msg string) {
	if err == nil {
		fmt.Println(msg)
	}
}
