package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Send()
	}
}

func run() error {
	var args cliArgs
	cliCtx := kong.Parse(
		&args,
		kong.Name("imgtransform"),
		kong.Description("Convert images to grayscale and preview rotation, scaling and translation."),
		kong.UsageOnError(),
	)
	if err := cliCtx.Run(); err != nil {
		return err
	}

	return nil
}

func setupLogging(verbose bool) {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	log.Logger = log.Output(zerolog.NewConsoleWriter()).Level(level)
	zerolog.DefaultContextLogger = &log.Logger
}

type serveCmd struct {
	Addr         string        `help:"Address to listen on, port 0 picks a free one" default:"localhost:0"`
	Open         bool          `help:"Open the browser automatically when the server starts" default:"true" negatable:""`
	MaxUploadMB  int64         `name:"max-upload-mb" help:"Largest accepted upload in MiB" default:"32"`
	SessionTTL   time.Duration `name:"session-ttl" help:"Drop sessions idle for longer than this, 0 keeps them forever" default:"30m"`
	MaxSessions  int           `name:"max-sessions" help:"Sessions kept in memory at once, 0 for no limit" default:"256"`
	PreviewWidth int           `help:"Width panels are downsized to for display, 0 sends full size" default:"450"`
	Verbose      bool          `help:"Enable verbose logging" default:"false"`
}

func (cmd *serveCmd) Run() error {
	setupLogging(cmd.Verbose)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	ctx = log.Logger.WithContext(ctx)

	sessions := NewSessionStore(
		NewImagingLoader(),
		PanelEncoder{PreviewWidth: cmd.PreviewWidth},
		cmd.SessionTTL,
		cmd.MaxSessions,
	)

	app := NewWebApp(Config{
		Addr:           cmd.Addr,
		MaxUploadBytes: cmd.MaxUploadMB << 20,
		Sessions:       sessions,
		OnBeforeShutdown: func() {
			log.Ctx(ctx).Info().Msg("Shutting down web application...")
		},
		OnReady: func(addr string) {
			log.Ctx(ctx).Info().Msgf("Server started at %s", addr)
			if cmd.Open {
				if err := openBrowser(addr); err != nil {
					log.Error().Err(err).Msg("Failed to open browser")
				}
			}
		},
	})

	if err := app.Run(ctx); err != nil {
		return err
	}

	return nil
}

type applyCmd struct {
	RootDir string `arg:"" help:"Directory containing the images to transform" type:"existingdir"`
	Ops     string `help:"JSONL file with one operation per line; without it the flags below apply to every image" type:"existingfile"`

	Op    string  `help:"Transformation to apply" enum:"rotation,scaling,translation" default:"rotation"`
	Angle float64 `help:"Rotation angle in degrees" default:"0"`
	SX    float64 `name:"sx" help:"Horizontal scale factor" default:"1"`
	SY    float64 `name:"sy" help:"Vertical scale factor" default:"1"`
	TX    int     `name:"tx" help:"Horizontal shift in pixels" default:"0"`
	TY    int     `name:"ty" help:"Vertical shift in pixels" default:"0"`

	Output  string `help:"Output directory, defaults to <root-dir>/output"`
	JSON    bool   `help:"Output operations in JSON format without executing"`
	Verbose bool   `help:"Enable verbose logging" default:"false"`
}

func (cmd *applyCmd) Run() error {
	setupLogging(cmd.Verbose)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	ctx = log.Logger.WithContext(ctx)

	outputDir := cmd.Output
	if outputDir == "" {
		outputDir = filepath.Join(cmd.RootDir, "output")
	}

	var ops Operations
	if cmd.Ops != "" {
		f, err := os.Open(cmd.Ops)
		if err != nil {
			return fmt.Errorf("failed to open operations file: %w", err)
		}
		defer f.Close()
		if ops, err = readOperations(f); err != nil {
			return err
		}
	} else {
		dir, err := walkImages(ctx, cmd.RootDir, outputDir)
		if err != nil {
			return fmt.Errorf("failed to walk dir: %w", err)
		}
		if ops, err = cmd.operationsFor(dir); err != nil {
			return err
		}
	}

	if cmd.JSON {
		printJSONL(ops)
		return nil
	}

	executor := &OperationExecutor{
		BaseDir:   cmd.RootDir,
		OutputDir: outputDir,
		Loader:    NewImagingLoader(),
	}
	return executor.Exec(ctx, ops)
}

// operationsFor builds one operation per listed file from the command flags.
func (cmd *applyCmd) operationsFor(dir Directory) (Operations, error) {
	kind, err := ParseKind(cmd.Op)
	if err != nil {
		return nil, err
	}

	ops := make(Operations, 0, len(dir.Files))
	for _, f := range dir.Files {
		var op Operation
		switch kind {
		case KindRotation:
			op.Rotation = &RotationOperation{Filename: f.Name, Angle: cmd.Angle}
		case KindScaling:
			op.Scaling = &ScalingOperation{Filename: f.Name, X: cmd.SX, Y: cmd.SY}
		case KindTranslation:
			op.Translation = &TranslationOperation{Filename: f.Name, X: cmd.TX, Y: cmd.TY}
		}
		ops = append(ops, op)
	}
	return ops, nil
}

type cliArgs struct {
	Serve serveCmd `cmd:"" default:"1" help:"Serve the interactive viewer"`
	Apply applyCmd `cmd:"" help:"Convert images on disk to grayscale and transform them"`
}

// readOperations decodes a stream of JSON operations, one after another.
func readOperations(r io.Reader) (Operations, error) {
	var ops Operations
	dec := json.NewDecoder(r)
	for {
		var op Operation
		if err := dec.Decode(&op); err != nil {
			if errors.Is(err, io.EOF) {
				return ops, nil
			}
			return nil, fmt.Errorf("failed to read operation %d: %w", len(ops)+1, err)
		}
		ops = append(ops, op)
	}
}

func printJSONL[T any](data []T) {
	enc := json.NewEncoder(os.Stdout)
	for _, item := range data {
		if err := enc.Encode(item); err != nil {
			log.Error().Err(err).Msg("Failed to encode item to JSON")
			continue
		}
	}
}
