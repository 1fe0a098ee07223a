package cmd

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/andresmejia3/shadescope/internal/camera"
	"github.com/andresmejia3/shadescope/internal/pipeline"
	"github.com/andresmejia3/shadescope/internal/shade"
	"github.com/andresmejia3/shadescope/internal/utils"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

type previewOptions struct {
	Camera    cameraFlags
	Output    string
	Shade     string
	Compare   bool
	MaxFrames int
	Commands  bool
}

var previewOpts previewOptions

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Render a whitening preview video for a target shade",
	Long: `Overlays the simulated whitening result for --shade on every frame and
encodes the result to --output. While running, commands read from stdin change
the preview live:

  shade <name>               switch the target shade (e.g. "shade B1")
  compare [on|off|toggle]    show the unmodified frames for comparison`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runPreview(cmd, previewOpts)
	},
}

func init() {
	previewOpts.Camera.register(previewCmd)
	previewCmd.Flags().StringVarP(&previewOpts.Output, "output", "o", "preview.mp4", "Path to output video")
	previewCmd.Flags().StringVarP(&previewOpts.Shade, "shade", "s", pipeline.DefaultPreviewShade, "Target shade")
	previewCmd.Flags().BoolVar(&previewOpts.Compare, "compare", false, "Start in comparison mode (no overlay)")
	previewCmd.Flags().IntVarP(&previewOpts.MaxFrames, "frames", "n", 0, "Stop after N frames (0 = until the input ends or Ctrl+C)")
	previewCmd.Flags().BoolVar(&previewOpts.Commands, "commands", true, "Read live commands from stdin (ignored when the input is stdin)")

	rootCmd.AddCommand(previewCmd)
}

func runPreview(cmd *cobra.Command, opts previewOptions) error {
	opts.Camera.apply(cmd)
	if err := Cfg.Validate(); err != nil {
		return fail("Invalid configuration", err, nil)
	}
	if opts.MaxFrames < 0 {
		return fmt.Errorf("--frames must be >= 0, got %d", opts.MaxFrames)
	}

	// Safety Check: Prevent overwriting input file which causes corruption
	if samePath(Cfg.Camera.Input, opts.Output) {
		return fmt.Errorf("input and output paths must be different to prevent file corruption")
	}

	table, err := loadTable()
	if err != nil {
		return fail("Failed to load shade table", err, nil)
	}
	target, ok := table.Lookup(opts.Shade)
	if !ok {
		return fmt.Errorf("unknown shade %q (see 'shadescope shades')", opts.Shade)
	}

	return renderPreview(cmd.Context(), previewRequest{
		Table:     table,
		Shade:     target,
		Output:    opts.Output,
		Compare:   opts.Compare,
		MaxFrames: opts.MaxFrames,
		Commands:  opts.Commands,
	})
}

// previewRequest is a validated preview run, shared by preview and scan --preview.
type previewRequest struct {
	Table     *shade.Table
	Shade     shade.Entry
	Output    string
	Compare   bool
	MaxFrames int
	Commands  bool
}

// renderPreview encodes the overlay for req.Shade to req.Output.
func renderPreview(ctx context.Context, req previewRequest) error {
	fps, total := float64(Cfg.Camera.FPS), -1
	if isVideoFile(Cfg.Camera.Input, Cfg.Camera.Format) {
		if probed, err := utils.GetVideoFPS(ctx, Cfg.Camera.Input); err == nil {
			fps = probed
		} else {
			Logger.Warn("could not probe frame rate, using configured fps", "err", err, "fps", Cfg.Camera.FPS)
		}
		if n := utils.GetTotalFrames(ctx, Cfg.Camera.Input); n > 0 {
			total = n
		}
	}
	if req.MaxFrames > 0 && (total < 0 || req.MaxFrames < total) {
		total = req.MaxFrames
	}

	// The encoder outlives Ctrl+C so the file can be finalized.
	encCtx := context.WithoutCancel(ctx)
	enc := utils.NewFFmpegEncoder(encCtx, req.Output, fps, Cfg.Camera.Width, Cfg.Camera.Height)
	encProc := &utils.SafeCommand{Cmd: enc, Stderr: &bytes.Buffer{}}
	enc.Stderr = encProc.Stderr
	encoderIn, err := enc.StdinPipe()
	if err != nil {
		return fail("Failed to create encoder pipe", err, nil)
	}
	if err := enc.Start(); err != nil {
		return fail("Failed to start encoder", err, nil)
	}

	var commands <-chan pipeline.Command
	if req.Commands && Cfg.Camera.Input != camera.StdinInput {
		commands = readCommands(ctx, os.Stdin)
	}

	bar := progressbar.NewOptions64(int64(total),
		progressbar.OptionSetDescription(fmt.Sprintf("✨ Previewing %s", req.Shade.Name)),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)

	fmt.Fprintf(os.Stderr, "📷 Camera: %s (%dx%d @ %.2f fps)\n", Cfg.Camera.Input, Cfg.Camera.Width, Cfg.Camera.Height, fps)
	fmt.Fprintln(os.Stderr, "🚀 Warming up landmark engine...")

	res := &flowResources{}
	previewer := pipeline.NewPreviewer(res.deps(), pipeline.PreviewOptions{
		Table:     req.Table,
		Renderer:  newRenderer(),
		Shade:     req.Shade,
		Comparing: req.Compare,
		MaxFrames: req.MaxFrames,
	})

	stats, runErr := previewer.Run(ctx, func(frame *image.RGBA) error {
		if _, err := encoderIn.Write(frame.Pix); err != nil {
			return err
		}
		bar.Add(1)
		return nil
	}, commands)

	encoderIn.Close()
	encErr := enc.Wait()

	switch {
	case errors.Is(runErr, context.Canceled):
		fmt.Fprintln(os.Stderr, "\n🛑 Preview stopped")
	case runErr != nil:
		return res.report("Preview failed", runErr)
	}
	if encErr != nil {
		return fail("Encoder process failed", encErr, encProc)
	}

	bar.Finish()
	fmt.Fprintf(os.Stderr, "\n🏁 Preview complete. %d frames (%d detections), final shade %s → %s\n",
		stats.Frames, stats.Detections, stats.Shade, req.Output)
	return nil
}

// readCommands parses control lines from r until it ends or ctx is done.
// Bad lines are reported and skipped.
func readCommands(ctx context.Context, r io.Reader) <-chan pipeline.Command {
	out := make(chan pipeline.Command)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			c, err := pipeline.ParseCommand(line)
			if err != nil {
				fmt.Fprintf(os.Stderr, "\n⚠️  %v\n", err)
				continue
			}
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// isVideoFile reports whether input names a regular file rather than a
// capture device or stream.
func isVideoFile(input, format string) bool {
	if format != "" || input == camera.StdinInput {
		return false
	}
	info, err := os.Stat(input)
	return err == nil && info.Mode().IsRegular()
}

func samePath(a, b string) bool {
	if a == camera.StdinInput {
		return false
	}
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	return errA == nil && errB == nil && absA == absB
}
