package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/shadescope/internal/camera"
	"github.com/andresmejia3/shadescope/internal/config"
	"github.com/andresmejia3/shadescope/internal/overlay"
	"github.com/andresmejia3/shadescope/internal/pipeline"
	"github.com/andresmejia3/shadescope/internal/shade"
	"github.com/andresmejia3/shadescope/internal/utils"
	"github.com/andresmejia3/shadescope/internal/worker"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	// Cfg is the merged configuration shared by subcommands
	Cfg *config.Config
	// Logger is the internal diagnostics logger (stderr)
	Logger *slog.Logger

	configPath string
	verbose    bool
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "shadescope",
	Short:   "Tooth shade estimation & whitening preview engine",
	Version: Version, // This enables the --version flag
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

		if configPath == "" {
			configPath = os.Getenv("SHADESCOPE_CONFIG")
		}
		var err error
		Cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		return nil
	},
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if !reported(err) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initEnv)
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML tuning file (default: $SHADESCOPE_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

func initEnv() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}

// cameraFlags are the input overrides shared by scan and preview.
type cameraFlags struct {
	Input  string
	Format string
}

func (f *cameraFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.Input, "input", "i", "", "Camera device, video file, or '-' for MJPEG on stdin (default from config)")
	cmd.Flags().StringVar(&f.Format, "format", "", "FFmpeg input format for capture devices (v4l2, avfoundation, dshow)")
}

// apply overrides the configured camera. An explicit input without an
// explicit format is treated as a file.
func (f *cameraFlags) apply(cmd *cobra.Command) {
	if cmd.Flags().Changed("input") {
		Cfg.Camera.Input = f.Input
		Cfg.Camera.Format = ""
	}
	if cmd.Flags().Changed("format") {
		Cfg.Camera.Format = f.Format
	}
}

// loadTable returns the configured shade table.
func loadTable() (*shade.Table, error) {
	if Cfg.ShadeTable == "" {
		return shade.Default(), nil
	}
	return shade.LoadFile(Cfg.ShadeTable)
}

func newRenderer() *overlay.Renderer {
	return overlay.New(overlay.Options{
		Shrink:     Cfg.Overlay.Shrink,
		Brightness: Cfg.Overlay.Brightness,
		Saturation: Cfg.Overlay.Saturation,
	})
}

// flowResources remembers the processes a flow started so a failure can be
// reported with their logs.
type flowResources struct {
	src    camera.Source
	engine *worker.LandmarkWorker
}

func (r *flowResources) deps() pipeline.Deps {
	return pipeline.Deps{
		OpenCamera: func(ctx context.Context) (camera.Source, error) {
			src, err := camera.Open(ctx, camera.Options{
				Input:    Cfg.Camera.Input,
				Format:   Cfg.Camera.Format,
				Width:    Cfg.Camera.Width,
				Height:   Cfg.Camera.Height,
				FPS:      Cfg.Camera.FPS,
				Realtime: Cfg.Camera.Realtime,
			})
			if err != nil {
				return nil, err
			}
			r.src = src
			return src, nil
		},
		OpenDetector: func(ctx context.Context, width, height int) (pipeline.LandmarkProvider, error) {
			w, err := worker.NewLandmarkWorker(ctx, 0, worker.Config{
				Command:     Cfg.DetectorArgs(),
				Width:       width,
				Height:      height,
				ReadTimeout: Cfg.Detector.Timeout,
			})
			if err != nil {
				return nil, err
			}
			r.engine = w
			return w, nil
		},
		Logger: Logger,
	}
}

// reportedError marks an error whose box was already printed.
type reportedError struct{ error }

func (e reportedError) Unwrap() error { return e.error }

// fail prints the unified error box and returns err marked so Execute does not
// print it again.
func fail(context string, err error, proc *utils.SafeCommand) error {
	utils.ShowError(context, err, proc)
	return reportedError{err}
}

func reported(err error) bool {
	var r reportedError
	return errors.As(err, &r)
}

// report prints the unified error box, attaching the logs of the process
// that failed.
func (r *flowResources) report(context string, err error) error {
	var proc *utils.SafeCommand
	switch {
	case errors.Is(err, pipeline.ErrDetectorLost) || errors.Is(err, pipeline.ErrDetectorInit):
		if r.engine != nil {
			proc = r.engine.Cmd
		}
	case errors.Is(err, pipeline.ErrCameraUnavailable):
		if raw, ok := r.src.(*camera.RawSource); ok {
			proc = raw.Process()
		}
	}
	return fail(context, err, proc)
}
