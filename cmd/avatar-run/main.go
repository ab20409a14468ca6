// Command avatar-run generates one talking-avatar video synchronously.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/book-expert/avatar-service/internal/app"
	"github.com/book-expert/avatar-service/internal/config"
	"github.com/book-expert/avatar-service/internal/core"
	"github.com/book-expert/avatar-service/internal/fileutil"
	"github.com/book-expert/avatar-service/internal/jobstore"
	"github.com/book-expert/avatar-service/internal/media/opencv"
	"github.com/book-expert/avatar-service/internal/pipeline"
	"github.com/book-expert/logger"
	"github.com/joho/godotenv"
)

// Flag names.
const (
	flagText   = "text"
	flagGender = "gender"
	flagImage  = "image"
	flagOutput = "output"
	flagKeep   = "keep"
)

// Flag descriptions.
const (
	flagTextDesc   = "Script the avatar speaks"
	flagGenderDesc = "Voice selector (male or female)"
	flagImageDesc  = "Portrait image of the speaker"
	flagOutputDesc = "Output video path (.mp4)"
	flagKeepDesc   = "Keep intermediate frames and the raw generator video"
)

// Messages.
const (
	errTextRequired     = "--text must not be empty"
	errImageRequired    = "--image must be provided"
	logGenerated        = "Generated: %s\n"
	logRunningJob       = "Running job %s for %s"
	defaultOutputFile   = "avatar.mp4"
	logFileName         = "avatar-run.log"
	localUserID         = "local"
	errFailedToGenerate = "Generation failed: %s\n"
)

var (
	errTextMissing  = errors.New(errTextRequired)
	errImageMissing = errors.New(errImageRequired)
)

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	text   string
	gender string
	image  string
	output string
	keep   bool
}

func main() {
	err := run(os.Args[1:], os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	flags, err := parseFlags(args)
	if err != nil {
		return err
	}

	err = godotenv.Load()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to read .env file: %w", err)
	}

	bootstrapLog, err := logger.New(os.TempDir(), logFileName)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer bootstrapLog.Close()

	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Paths.BaseLogsDir, logFileName)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Close()

	if flags.keep {
		cfg.Pipeline.KeepIntermediates = true
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	video, err := generate(ctx, cfg, flags, log)
	if err != nil {
		fmt.Fprintf(stdout, errFailedToGenerate, core.UserMessage(err))

		return err
	}

	fmt.Fprintf(stdout, logGenerated, video)

	return nil
}

// parseFlags parses and validates args.
func parseFlags(args []string) (appFlags, error) {
	var flags appFlags

	fs := flag.NewFlagSet("avatar-run", flag.ContinueOnError)
	fs.StringVar(&flags.text, flagText, "", flagTextDesc)
	fs.StringVar(&flags.gender, flagGender, core.GenderMale, flagGenderDesc)
	fs.StringVar(&flags.image, flagImage, "", flagImageDesc)
	fs.StringVar(&flags.output, flagOutput, defaultOutputFile, flagOutputDesc)
	fs.BoolVar(&flags.keep, flagKeep, false, flagKeepDesc)

	err := fs.Parse(args)
	if err != nil {
		return appFlags{}, err
	}

	if flags.text == "" {
		return appFlags{}, errTextMissing
	}

	if flags.image == "" {
		return appFlags{}, errImageMissing
	}

	return flags, nil
}

// generate runs every stage in-process against an in-memory job store and copies
// the final video to the requested output.
func generate(ctx context.Context, cfg *config.Config, flags appFlags, log *logger.Logger) (string, error) {
	portrait, err := os.ReadFile(flags.image)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", flags.image, err)
	}

	store := jobstore.NewMemory()

	coordinator, err := app.NewCoordinator(ctx, cfg, store, log)
	if err != nil {
		return "", err
	}

	job := pipeline.NewJob(localUserID, flags.text, flags.gender, app.Layout(cfg))

	err = opencv.NewPortraitWriter().WritePortrait(portrait, job.ImageFile)
	if err != nil {
		return "", err
	}

	err = store.Insert(ctx, job)
	if err != nil {
		return "", err
	}

	log.Info(logRunningJob, job.ID, flags.image)

	video, err := coordinator.Run(ctx, job)
	if err != nil {
		return "", err
	}

	err = fileutil.CopyFile(video, flags.output)
	if err != nil {
		return "", err
	}

	return flags.output, nil
}
