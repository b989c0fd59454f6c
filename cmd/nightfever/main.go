package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/alecthomas/kong"
	tea "github.com/charmbracelet/bubbletea"
	ffmpeg "github.com/csnewman/ffmpeg-go"
	"golang.org/x/sync/errgroup"

	"github.com/linuxmatters/nightfever/internal/cli"
	"github.com/linuxmatters/nightfever/internal/config"
	"github.com/linuxmatters/nightfever/internal/logging"
	"github.com/linuxmatters/nightfever/internal/processor"
	"github.com/linuxmatters/nightfever/internal/ui"
)

var (
	version = "0.0.1"
)

// CLI defines the command-line interface. Pointer fields distinguish "not
// given" from an explicit zero, so flags can override the config file
// without clobbering it with defaults.
type CLI struct {
	Version bool   `short:"v" help:"Show version information"`
	Config  string `short:"c" type:"path" help:"Path to YAML config file (optional)"`
	Logs    bool   `help:"Save a processing report alongside each output"`

	Output           string   `short:"o" type:"path" help:"Output file (single input only; default processes in place)"`
	AllowOverwrite   bool     `help:"Permit the output to replace the input file"`
	LufsTarget       *float64 `help:"Integrated loudness target in LUFS" placeholder:"-14"`
	SilenceThreshold *float64 `help:"Silence threshold in dBFS" placeholder:"-16"`
	Chunk            *string  `help:"Silence scan chunk: milliseconds or fraction of duration" placeholder:"1"`
	SilencePadding   *int     `help:"Silence to add at each end, in milliseconds" placeholder:"0"`
	MatchBitrate     *bool    `help:"Match the output bitrate to the source's peak bitrate"`
	Jobs             int      `short:"j" default:"1" help:"Number of files to process concurrently"`

	Files []string `arg:"" name:"files" help:"Audio files to process" type:"existingfile" optional:""`
}

func main() {
	// Suppress FFmpeg info/verbose logging to keep console clean
	ffmpeg.AVLogSetLevel(ffmpeg.AVLogError)

	cliArgs := &CLI{}
	ctx := kong.Parse(cliArgs,
		kong.Name("nightfever"),
		kong.Description("Audio standardiser: trim, pad, compress, normalise"),
		kong.UsageOnError(),
		kong.Vars{
			"version": version,
		},
		kong.Help(cli.StyledHelpPrinter(kong.HelpOptions{Compact: true})),
	)

	// Handle version flag
	if cliArgs.Version {
		cli.PrintVersion(version)
		os.Exit(0)
	}

	// Validate input
	if len(cliArgs.Files) == 0 {
		cli.PrintError("No input files specified")
		ctx.PrintUsage(false)
		os.Exit(1)
	}
	if cliArgs.Output != "" && len(cliArgs.Files) > 1 {
		cli.PrintError("--output requires a single input file")
		os.Exit(1)
	}

	cfg, jobs, err := buildConfig(cliArgs)
	if err != nil {
		cli.PrintError(err.Error())
		os.Exit(1)
	}

	// Create the Bubbletea UI model
	model := ui.NewModel(cliArgs.Files)

	// Start the TUI
	p := tea.NewProgram(model, tea.WithAltScreen())

	// Start processing in background, up to jobs files at a time
	go func() {
		pipeline := processor.New()

		g, gctx := errgroup.WithContext(context.Background())
		g.SetLimit(jobs)

		for i, inputPath := range cliArgs.Files {
			i, inputPath := i, inputPath
			g.Go(func() error {
				fileStartTime := time.Now()
				p.Send(ui.FileStartMsg{
					FileIndex: i,
					FileName:  inputPath,
				})

				progress := func(stage processor.Stage) {
					p.Send(ui.StageMsg{FileIndex: i, Stage: stage})
				}

				result, err := pipeline.Process(gctx, processor.PathSource{Path: inputPath}, cliArgs.Output, cfg, progress)
				if err != nil {
					p.Send(ui.FileCompleteMsg{
						FileIndex: i,
						Error:     err,
					})
					// Carry on with the remaining files
					return nil
				}

				if cliArgs.Logs {
					reportData := logging.ReportData{
						InputPath:  inputPath,
						StartTime:  fileStartTime,
						EndTime:    time.Now(),
						Result:     result,
						LUFSTarget: cfg.LUFSTarget,
					}
					// A failed report never fails the file
					_ = logging.GenerateReport(reportData)
				}

				p.Send(ui.FileCompleteMsg{
					FileIndex: i,
					Result:    result,
				})
				return nil
			})
		}

		g.Wait()
		p.Send(ui.AllCompleteMsg{})
	}()

	// Run the program
	finalModel, err := p.Run()
	if err != nil {
		cli.PrintError(fmt.Sprintf("UI error: %v", err))
		os.Exit(1)
	}

	// A non-zero exit for scripting when anything failed
	if m, ok := finalModel.(ui.Model); ok && m.FailedFiles > 0 {
		os.Exit(1)
	}
}

// buildConfig merges the config file and command-line flags onto the
// defaults. Flags win over the file; the file wins over the defaults.
func buildConfig(cliArgs *CLI) (processor.Config, int, error) {
	cfg := processor.DefaultConfig()
	jobs := cliArgs.Jobs

	if cliArgs.Config != "" {
		file, err := config.Load(cliArgs.Config)
		if err != nil {
			return cfg, 0, err
		}
		if err := file.Apply(&cfg); err != nil {
			return cfg, 0, err
		}
		if file.Jobs != nil && jobs == 1 {
			jobs = *file.Jobs
		}
	}

	if cliArgs.LufsTarget != nil {
		cfg.LUFSTarget = *cliArgs.LufsTarget
	}
	if cliArgs.SilenceThreshold != nil {
		cfg.SilenceThresholdDBFS = *cliArgs.SilenceThreshold
	}
	if cliArgs.Chunk != nil {
		spec, err := processor.ParseChunkSpec(*cliArgs.Chunk)
		if err != nil {
			return cfg, 0, err
		}
		cfg.Chunk = spec
	}
	if cliArgs.SilencePadding != nil {
		cfg.SilencePaddingMS = *cliArgs.SilencePadding
	}
	if cliArgs.MatchBitrate != nil {
		cfg.MatchBitrate = *cliArgs.MatchBitrate
	}
	if cliArgs.AllowOverwrite {
		cfg.AllowOverwrite = true
	}

	if jobs < 1 {
		jobs = 1
	}
	return cfg, jobs, nil
}
