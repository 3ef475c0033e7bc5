package main

import (
	"context"
	"errors"
	"fmt"
	"image/png"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kikiluvv/videomatte/internal/composite"
	"github.com/kikiluvv/videomatte/internal/config"
	"github.com/kikiluvv/videomatte/internal/ffmpeg"
	"github.com/kikiluvv/videomatte/internal/gui"
	"github.com/kikiluvv/videomatte/internal/logging"
	"github.com/kikiluvv/videomatte/internal/matting"
	"github.com/kikiluvv/videomatte/internal/pipeline"
	"github.com/kikiluvv/videomatte/internal/video"
	"github.com/kikiluvv/videomatte/pkg/util"
)

var (
	cfgFile   string
	verbose   bool
	processBg string
	previewBg string
)

// progressSteps is the resolution of the terminal progress bar.
const progressSteps = 1000

func main() {
	ctx := context.Background()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "videomatte",
	Short: "videomatte - video background removal",
	Long:  "Removes the background from 720p, 1080p and 4K videos, keeping timing and audio.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logging.Init(verbose)

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		cmd.SetContext(config.WithConfig(cmd.Context(), cfg))
		return nil
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	processCmd.Flags().StringVarP(&processBg, "background", "b", "green",
		"none, a preset (green, blue, black, white, red), #RRGGBB[AA] or r,g,b[,a]")
	previewCmd.Flags().StringVarP(&previewBg, "background", "b", "transparent",
		"transparent, none, a preset, #RRGGBB[AA] or r,g,b[,a]")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSaveCmd)

	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(previewCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(guiCmd)
	rootCmd.AddCommand(configCmd)
}

// newCoordinator builds the pipeline from configuration.
func newCoordinator(cfg *config.Config) (*pipeline.Coordinator, error) {
	exec, err := ffmpeg.New(log.Logger, cfg.FFmpeg.Threads)
	if err != nil {
		return nil, err
	}

	opener := video.NewOpener(exec, video.OutputOptions{
		Codec:   cfg.Output.Codec,
		Quality: cfg.Output.Quality,
		TempDir: cfg.TempDir,
	}, log.Logger)

	loader := matting.NewLoader(matting.Options{
		Kind:         cfg.Matting.Engine,
		ModelPath:    cfg.Matting.ModelPath,
		LibraryPath:  cfg.Matting.LibraryPath,
		InputWidth:   cfg.Matting.InputWidth,
		InputHeight:  cfg.Matting.InputHeight,
		InputName:    cfg.Matting.InputName,
		OutputName:   cfg.Matting.OutputName,
		Mean:         cfg.Matting.Mean,
		Std:          cfg.Matting.Std,
		KeyColor:     cfg.Matting.KeyColor,
		KeyTolerance: cfg.Matting.KeyTolerance,
		KeySoftness:  cfg.Matting.KeySoftness,
	}, log.Logger)

	return pipeline.NewCoordinator(pipeline.NewMedia(opener), loader, pipeline.Options{
		Workers: cfg.Pipeline.Workers,
		Window:  cfg.Pipeline.Window,
	}, log.Logger), nil
}

var processCmd = &cobra.Command{
	Use:   "process [input video] [output video]",
	Short: "Remove the background from a video",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())

		bg, err := composite.ParseBackground(processBg)
		if err != nil {
			return err
		}
		coord, err := newCoordinator(cfg)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		bar := newProgressBar()
		job, err := coord.ProcessVideo(ctx, pipeline.Request{
			Source:      args[0],
			Destination: args[1],
			Background:  bg,
		}, pipeline.Callbacks{
			OnAdvisory: func(msg string) {
				fmt.Fprintln(os.Stderr, "note:", msg)
			},
			OnProgress: func(p pipeline.ProgressState) {
				bar.Describe(progressLabel(p))
				bar.Set(int(p.Fraction * progressSteps))
			},
		})
		if err != nil {
			return err
		}

		<-job.Done()
		bar.Finish()
		fmt.Fprintln(os.Stderr)

		res, _ := job.Result()
		switch res.State {
		case pipeline.StateCompleted:
			logger := logging.WithComponent("cli")
			logger.Info().
				Str("output", res.Output).
				Int("frames", res.FramesWritten).
				Msg("background removed")
			return nil
		case pipeline.StateCancelled:
			return errors.New(res.Message)
		default:
			logger := logging.WithComponent("cli")
			logger.Error().Err(res.Err).Msg(res.Message)
			return res.Err
		}
	},
}

func newProgressBar() *progressbar.ProgressBar {
	return progressbar.NewOptions(progressSteps,
		progressbar.OptionSetDescription("Processing"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "▐",
			BarEnd:        "▌",
		}),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetWidth(50),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func progressLabel(p pipeline.ProgressState) string {
	label := p.Percent()
	if eta := p.ETAString(); eta != "" {
		label += " " + eta
	}
	return label
}

var previewCmd = &cobra.Command{
	Use:   "preview [input video] [output png]",
	Short: "Write the first frame with its background replaced",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())

		bg, err := composite.ParseBackground(previewBg)
		if err != nil {
			return err
		}
		coord, err := newCoordinator(cfg)
		if err != nil {
			return err
		}

		img, err := coord.Preview(cmd.Context(), args[0], bg)
		if err != nil {
			return errors.New(pipeline.Describe(err))
		}

		f, err := os.Create(args[1])
		if err != nil {
			return err
		}
		if err := png.Encode(f, img); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}

		logger := logging.WithComponent("cli")
		logger.Info().Str("output", args[1]).Stringer("background", bg).Msg("preview written")
		return nil
	},
}

var probeCmd = &cobra.Command{
	Use:   "probe [input video]",
	Short: "Show video metadata and whether it can be processed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())

		coord, err := newCoordinator(cfg)
		if err != nil {
			return err
		}

		asset, advisories, err := coord.Inspect(cmd.Context(), args[0])
		if asset.Path != "" {
			fmt.Printf("File:       %s\n", asset.Path)
			fmt.Printf("Resolution: %s\n", asset.Resolution())
			fmt.Printf("Duration:   %s\n", util.FormatDuration(asset.Duration))
			fmt.Printf("Frame rate: %.3f fps (~%d frames)\n", asset.FPS, asset.EstimatedFrames())
			fmt.Printf("Codec:      %s\n", asset.VideoCodec)
			fmt.Printf("Audio:      %t\n", asset.HasAudio)
		}
		if err != nil {
			fmt.Println("Supported:  no")
			return errors.New(pipeline.Describe(err))
		}

		fmt.Printf("Supported:  yes, output %s\n", video.OutputResolution(asset.Resolution()))
		for _, a := range advisories {
			fmt.Println("Note:      ", a)
		}
		return nil
	},
}

var guiCmd = &cobra.Command{
	Use:   "gui",
	Short: "Open the editor window",
	RunE: func(cmd *cobra.Command, args []string) error {
		coord, err := newCoordinator(config.FromContext(cmd.Context()))
		if err != nil {
			return err
		}
		gui.Run(coord, log.Logger)
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Config management commands",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := yaml.Marshal(config.FromContext(cmd.Context()))
		if err != nil {
			return err
		}
		fmt.Print(string(out))
		return nil
	},
}

var configSaveCmd = &cobra.Command{
	Use:   "save [path]",
	Short: "Write the effective configuration to a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.FromContext(cmd.Context()).Save(args[0]); err != nil {
			return err
		}
		logger := logging.WithComponent("cli")
		logger.Info().Str("path", args[0]).Msg("config saved")
		return nil
	},
}
