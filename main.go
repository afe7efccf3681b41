package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
)

// -------------------- Logger --------------------

// logger is the package-wide structured logger. Safe to use before initLogger
// is called; defaults to slog.Default().
var logger = slog.Default()

// initLogger configures the shared slog logger and calls slog.SetDefault so
// the stdlib log package also routes through the same handler.
func initLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level:     level,
		AddSource: debug, // include file:line in debug mode
	})
	logger = slog.New(h)
	slog.SetDefault(logger)
}

// -------------------- Sources --------------------

// source bundles the hardware side picked by the config.
type source struct {
	reader PortReader
	leds   LEDDriver
	close  func()
}

func openSource(cfg *Config) (*source, error) {
	switch cfg.Source {
	case SourceSerial:
		board, err := OpenBoard(cfg.Serial.Device, cfg.Serial.Baud, len(cfg.Ports))
		if err != nil {
			return nil, err
		}
		return &source{reader: board, leds: board, close: func() { _ = board.Close() }}, nil

	case SourceGPIO:
		bank, err := OpenGPIOBank(cfg.GPIO.Pins)
		if err != nil {
			return nil, err
		}
		src := &source{reader: bank, close: func() {}}
		if len(cfg.GPIO.LEDs) > 0 {
			leds, err := OpenGPIOLEDs(cfg.GPIO.LEDs)
			if err != nil {
				return nil, err
			}
			src.leds = leds
		}
		return src, nil

	case SourceMCP:
		bank, err := OpenMCPBank(cfg.MCP.Bus, cfg.MCP.Address, len(cfg.Ports))
		if err != nil {
			return nil, err
		}
		return &source{reader: bank, close: func() { _ = bank.Close() }}, nil
	}
	return nil, fmt.Errorf("%w: unknown source %q", ErrInvalidConfig, cfg.Source)
}

// -------------------- Main --------------------

func main() {
	configPath := flag.String("config", "", "JSON config file (defaults apply when empty)")
	debug := flag.Bool("debug", false, "enable debug logging (adds source location)")
	src := flag.String("source", "", "input source: serial, gpio or mcp23017")
	serialDev := flag.String("serial", "", "serial port device")
	baud := flag.Int("baud", 0, "serial baud rate")
	channel := flag.Int("channel", -1, "MIDI channel 0-15")
	flag.Parse()

	initLogger(*debug)

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		logger.Error("config load failed", "err", err)
		os.Exit(1)
	}
	if *src != "" {
		cfg.Source = *src
	}
	if *serialDev != "" {
		cfg.Serial.Device = *serialDev
	}
	if *baud > 0 {
		cfg.Serial.Baud = *baud
	}
	if err := applyChannelFlag(cfg, *channel); err != nil {
		logger.Error("config invalid", "err", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("config invalid", "err", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		logger.Error("pincc stopped", "err", err)
		os.Exit(1)
	}
}

// applyChannelFlag overrides the configured channel. -1 means the flag was
// not given.
func applyChannelFlag(cfg *Config, channel int) error {
	if channel == -1 {
		return nil
	}
	if channel < 0 || channel > 15 {
		return fmt.Errorf("%w: channel %d out of range 0-15", ErrInvalidConfig, channel)
	}
	cfg.Channel = byte(channel)
	return nil
}

func run(cfg *Config) error {
	logger.Info("pincc starting",
		"source", cfg.Source,
		"ports", len(cfg.Ports),
		"channel", cfg.Channel,
		"cc_base", cfg.CCBase,
		"debounce_ms", cfg.DebounceMS,
		"settle_ms", cfg.SettleMS,
	)

	hw, err := openSource(cfg)
	if err != nil {
		return err
	}
	defer hw.close()

	indicator := NewIndicator(hw.leds)
	indicator.Status(LinkNotReady)

	drv, err := rtmididrv.New()
	if err != nil {
		return fmt.Errorf("rtmididrv: %w", err)
	}
	link := NewMIDILink(drv, cfg.MIDI, indicator.Status, indicator.Note)
	defer link.Close()

	mapper := NewMapper(cfg, hw.reader, link)
	if err := mapper.InitializeBaseline(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			link.Tick()
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	logger.Info("running, waiting for MIDI output")
	if err := mapper.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("pincc shutting down")
	return nil
}
