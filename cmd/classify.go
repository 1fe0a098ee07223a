package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"strconv"

	_ "image/jpeg"

	"github.com/andresmejia3/shadescope/internal/region"
	"github.com/andresmejia3/shadescope/internal/shade"
	"github.com/andresmejia3/shadescope/internal/types"
	"github.com/spf13/cobra"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
)

type classifyOptions struct {
	Image     string
	Landmarks string
	Preview   string
	Shade     string
	JSON      bool
}

var classifyOpts classifyOptions

var classifyCmd = &cobra.Command{
	Use:   "classify [R G B]",
	Short: "Classify one color or one still image",
	Long: `Finds the nearest reference shade for an RGB sample, or samples the mouth
region of a still image (PNG, JPEG, BMP) using a landmark file: a JSON array of
{"x": .., "y": ..} points normalized to the image size.`,
	Args: func(cmd *cobra.Command, args []string) error {
		if classifyOpts.Image != "" {
			return cobra.NoArgs(cmd, args)
		}
		return cobra.ExactArgs(3)(cmd, args)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runClassify(args, classifyOpts)
	},
}

func init() {
	classifyCmd.Flags().StringVar(&classifyOpts.Image, "image", "", "Still image to sample")
	classifyCmd.Flags().StringVar(&classifyOpts.Landmarks, "landmarks", "", "Landmark JSON for --image")
	classifyCmd.Flags().StringVar(&classifyOpts.Preview, "preview", "", "Write the whitening preview of --image to this PNG")
	classifyCmd.Flags().StringVarP(&classifyOpts.Shade, "shade", "s", "A1", "Target shade for --preview")
	classifyCmd.Flags().BoolVar(&classifyOpts.JSON, "json", false, "Print the result as JSON on stdout")

	rootCmd.AddCommand(classifyCmd)
}

// classifyResult is the JSON shape of a one-shot classification.
type classifyResult struct {
	shade.Result
	Sample types.RGB `json:"sample"`
}

func runClassify(args []string, opts classifyOptions) error {
	table, err := loadTable()
	if err != nil {
		return fail("Failed to load shade table", err, nil)
	}

	var sample types.RGB
	if opts.Image == "" {
		if sample, err = parseRGB(args); err != nil {
			return err
		}
	} else {
		if sample, err = sampleImage(table, opts); err != nil {
			return fail("Image classification failed", err, nil)
		}
	}

	res := classifyResult{Result: table.Classify(sample), Sample: sample}
	if opts.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	fmt.Printf("%s %s %s (sample %s, distance %.2f)\n", res.Name, res.Color, res.Color.Hex(), sample, res.Distance)
	return nil
}

// parseRGB reads three channel values in 0..255.
func parseRGB(args []string) (types.RGB, error) {
	var c types.RGB
	if len(args) != 3 {
		return c, fmt.Errorf("expected 3 channel values, got %d", len(args))
	}
	for i, a := range args {
		v, err := strconv.Atoi(a)
		if err != nil || v < 0 || v > 255 {
			return c, fmt.Errorf("invalid channel value %q (want 0-255)", a)
		}
		c[i] = uint8(v)
	}
	return c, nil
}

func sampleImage(table *shade.Table, opts classifyOptions) (types.RGB, error) {
	if opts.Landmarks == "" {
		return types.RGB{}, errors.New("--landmarks is required with --image")
	}
	frame, err := decodeRGBA(opts.Image)
	if err != nil {
		return types.RGB{}, err
	}
	lm, err := readLandmarks(opts.Landmarks)
	if err != nil {
		return types.RGB{}, err
	}
	boundary, ok := region.Boundary(lm)
	if !ok {
		return types.RGB{}, fmt.Errorf("landmark file has %d points, too few for the mouth contour", len(lm))
	}
	if gap, ok := region.MouthOpening(lm); ok {
		Logger.Debug("mouth opening", "gap", gap)
	}
	sample, ok := region.ExtractColor(frame, boundary)
	if !ok {
		return types.RGB{}, errors.New("mouth region is empty or outside the image")
	}

	if opts.Preview != "" {
		target, ok := table.Lookup(opts.Shade)
		if !ok {
			return types.RGB{}, fmt.Errorf("unknown shade %q", opts.Shade)
		}
		out := newRenderer().Render(frame, boundary, target, false)
		if err := writePNG(opts.Preview, out); err != nil {
			return types.RGB{}, err
		}
		fmt.Fprintf(os.Stderr, "🖼️  Preview (%s) written to %s\n", target.Name, opts.Preview)
	}
	return sample, nil
}

func decodeRGBA(path string) (*image.RGBA, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return rgba, nil
}

func readLandmarks(path string) (types.FaceLandmarks, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var lm types.FaceLandmarks
	if err := json.Unmarshal(data, &lm); err != nil {
		return nil, fmt.Errorf("parse landmarks %s: %w", path, err)
	}
	return lm, nil
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
