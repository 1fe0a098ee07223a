package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/andresmejia3/shadescope/internal/camera"
	"github.com/andresmejia3/shadescope/internal/pipeline"
	"github.com/andresmejia3/shadescope/internal/scan"
	"github.com/andresmejia3/shadescope/internal/shade"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

type scanOptions struct {
	Camera       cameraFlags
	Manual       bool
	Duration     time.Duration
	StartTimeout time.Duration
	Threshold    float64
	Fallback     string
	JSON         bool
	// Preview, when set, renders the scanned shade to this video afterwards.
	Preview       string
	PreviewFrames int
}

var scanOpts scanOptions

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Estimate the tooth shade from the camera",
	Long: `Waits for an open mouth (or a manual/timeout start), samples the visible
teeth for the scan duration and prints the most frequent shade.

With --preview, the scanned shade is then rendered as a whitening preview to
the given video, exactly as 'shadescope preview --shade <result>' would.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runScan(cmd, scanOpts)
	},
}

func init() {
	scanOpts.Camera.register(scanCmd)
	scanCmd.Flags().BoolVarP(&scanOpts.Manual, "manual", "m", false, "Start sampling immediately instead of waiting for an open mouth")
	scanCmd.Flags().DurationVarP(&scanOpts.Duration, "duration", "d", scan.DefaultDuration, "Length of the sampling window")
	scanCmd.Flags().DurationVar(&scanOpts.StartTimeout, "start-timeout", 0, "Start without an open mouth after this long (0 waits forever, default from config)")
	scanCmd.Flags().Float64VarP(&scanOpts.Threshold, "threshold", "t", 0.02, "Lip gap (normalized) that counts as an open mouth")
	scanCmd.Flags().StringVar(&scanOpts.Fallback, "fallback", "", "Shade reported when nothing was sampled (default from config)")
	scanCmd.Flags().BoolVar(&scanOpts.JSON, "json", false, "Print the result as JSON on stdout")
	scanCmd.Flags().StringVar(&scanOpts.Preview, "preview", "", "Render a preview of the scanned shade to this video")
	scanCmd.Flags().IntVar(&scanOpts.PreviewFrames, "preview-frames", 0, "Stop the preview after N frames (0 = until the input ends or Ctrl+C)")

	rootCmd.AddCommand(scanCmd)
}

// runScan orchestrates one scan: config merge, camera + engine startup, progress and the result report.
func runScan(cmd *cobra.Command, opts scanOptions) error {
	opts.Camera.apply(cmd)
	if cmd.Flags().Changed("duration") {
		Cfg.Scan.Duration = opts.Duration
	}
	if cmd.Flags().Changed("start-timeout") {
		Cfg.Scan.StartTimeout = opts.StartTimeout
	}
	if cmd.Flags().Changed("threshold") {
		Cfg.Scan.MouthOpenThreshold = opts.Threshold
	}
	if cmd.Flags().Changed("fallback") {
		Cfg.Scan.Fallback = opts.Fallback
	}
	if err := Cfg.Validate(); err != nil {
		return fail("Invalid configuration", err, nil)
	}
	if opts.Preview != "" {
		if err := checkScanPreview(Cfg.Camera.Input, opts.Preview, opts.PreviewFrames); err != nil {
			return err
		}
	}

	table, err := loadTable()
	if err != nil {
		return fail("Failed to load shade table", err, nil)
	}
	fallback, ok := table.Lookup(Cfg.Scan.Fallback)
	if !ok {
		err := fmt.Errorf("fallback shade %q is not in the shade table", Cfg.Scan.Fallback)
		return fail("Invalid configuration", err, nil)
	}

	fmt.Fprintf(os.Stderr, "📷 Camera: %s (%dx%d)\n", Cfg.Camera.Input, Cfg.Camera.Width, Cfg.Camera.Height)
	fmt.Fprintln(os.Stderr, "🚀 Warming up landmark engine...")
	if !opts.Manual {
		fmt.Fprintln(os.Stderr, "😁 Look at the camera and show your teeth to start the scan")
	}

	bar := progressbar.NewOptions(100,
		progressbar.OptionSetDescription("🦷 Analyzing shade"),
		progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionClearOnFinish(),
	)

	res := &flowResources{}
	scanner := pipeline.NewScanner(res.deps(), pipeline.ScanOptions{
		Table:              table,
		Duration:           Cfg.Scan.Duration,
		Fallback:           fallback,
		MouthOpenThreshold: Cfg.Scan.MouthOpenThreshold,
		StartTimeout:       Cfg.Scan.StartTimeout,
		Manual:             opts.Manual,
		OnStart: func(reason pipeline.StartReason) {
			fmt.Fprintf(os.Stderr, "🔍 Scan started (%s)\n", reason)
		},
		OnProgress: func(p int) { bar.Set(p) },
	})

	final, err := scanner.Run(cmd.Context())
	if err != nil {
		return res.report("Scan failed", err)
	}
	bar.Finish()

	report := newScanReport(table, final)
	if opts.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		printResult(report, table)
	}

	if opts.Preview == "" {
		return nil
	}
	target, ok := pipeline.PreviewShade(table, final)
	if !ok {
		return fmt.Errorf("no preview shade for scan result %q", final.Name)
	}
	fmt.Fprintf(os.Stderr, "\n🎨 Previewing scanned shade %s\n", target.Name)
	return renderPreview(cmd.Context(), previewRequest{
		Table:     table,
		Shade:     target,
		Output:    opts.Preview,
		MaxFrames: opts.PreviewFrames,
		Commands:  true,
	})
}

// checkScanPreview rejects --preview settings that cannot work once the scan
// has consumed the camera.
func checkScanPreview(input, output string, frames int) error {
	if frames < 0 {
		return fmt.Errorf("--preview-frames must be >= 0, got %d", frames)
	}
	if input == camera.StdinInput {
		return fmt.Errorf("--preview needs a camera or file input; a stdin stream cannot be read twice")
	}
	if samePath(input, output) {
		return fmt.Errorf("input and output paths must be different to prevent file corruption")
	}
	return nil
}

// scanReport is the scan result together with its place in the shade guide.
type scanReport struct {
	scan.Finalized
	GuidePosition int `json:"guide_position"`
	GuideSize     int `json:"guide_size"`
}

func newScanReport(table *shade.Table, f scan.Finalized) scanReport {
	return scanReport{
		Finalized:     f,
		GuidePosition: guidePosition(table, f.Name),
		GuideSize:     table.Len(),
	}
}

// guidePosition is the 1-based index of name in the display order, or 0.
func guidePosition(table *shade.Table, name string) int {
	for i, n := range table.Names() {
		if n == name {
			return i + 1
		}
	}
	return 0
}

// formatGuide lists the display order with name bracketed.
func formatGuide(table *shade.Table, name string) string {
	names := table.Names()
	for i, n := range names {
		if n == name {
			names[i] = "[" + n + "]"
		}
	}
	return strings.Join(names, " ")
}

func printResult(r scanReport, table *shade.Table) {
	f := r.Finalized
	fmt.Fprintf(os.Stderr, "\n---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "🦷 SHADE RESULT\n")
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
	if f.Fallback {
		fmt.Fprintf(os.Stderr, "⚠️  No teeth could be sampled, reporting the default shade.\n")
	}
	fmt.Printf("%s %s %s\n", f.Name, f.Color, f.Color.Hex())
	fmt.Fprintf(os.Stderr, "   Samples: %d (%d frames skipped)\n", f.Samples, f.Skipped)
	if len(f.Votes) > 0 {
		fmt.Fprintf(os.Stderr, "   Votes:   %s\n", formatVotes(f.Votes))
	}
	if r.GuidePosition > 0 {
		fmt.Fprintf(os.Stderr, "   Guide:   %d of %d, lightest first\n", r.GuidePosition, r.GuideSize)
		fmt.Fprintf(os.Stderr, "            %s\n", formatGuide(table, f.Name))
	}
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
}

// formatVotes lists vote counts, most frequent first.
func formatVotes(votes map[string]int) string {
	names := make([]string, 0, len(votes))
	for name := range votes {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if votes[names[i]] != votes[names[j]] {
			return votes[names[i]] > votes[names[j]]
		}
		return names[i] < names[j]
	})

	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s=%d", name, votes[name])
	}
	return strings.Join(parts, " ")
}
