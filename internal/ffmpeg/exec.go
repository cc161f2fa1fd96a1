package ffmpeg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"

	"github.com/cebimar/cifonauta/pkg/logger"
	"github.com/floostack/transcoder"
	"github.com/floostack/transcoder/ffmpeg"
)

var (
	ErrEmptyOutput = errors.New("ffmpeg produced no output")
	ErrExitStatus  = errors.New("ffmpeg exited unsuccessfully")

	messageMatcher = regexp.MustCompile(`(?s)message: ({.*})`)
)

type Config struct {
	FfmpegBinPath  string `yaml:"ffmpeg_binary" env:"FFMPEG_BINARY" env-default:"ffmpeg"`
	FfprobeBinPath string `yaml:"ffprobe_binary" env:"FFPROBE_BINARY" env-default:"ffprobe"`
}

// Runner executes ffmpeg and ffprobe on the host machine.
type Runner struct {
	config Config
	log    logger.Logger
}

func NewRunner(config Config, log logger.Logger) *Runner {
	return &Runner{config: config, log: log}
}

// Run executes a single ffmpeg invocation reading input and writing
// output, blocking until it exits. Any existing output file is removed
// first. A non-zero exit, or a run which leaves no (or an empty) output
// file, is a failure and any partial output is removed.
func (runner *Runner) Run(ctx context.Context, input string, output string, opts transcoder.Options) error {
	if err := os.MkdirAll(filepath.Dir(output), os.ModePerm); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.Remove(output); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove stale output %s: %w", output, err)
	}

	t := ffmpeg.
		New(&ffmpeg.Config{
			ProgressEnabled: true,
			FfmpegBinPath:   runner.config.FfmpegBinPath,
			FfprobeBinPath:  runner.config.FfprobeBinPath,
		}).
		Input(input).
		Output(output).
		WithContext(&ctx)

	runner.log.Emit(logger.DEBUG, "ffmpeg %v\n", opts.GetStrArguments())
	progressChannel, err := t.Start(opts)
	if err != nil {
		return parseFfmpegError(err)
	}

	cmd := t.GetRunningCmdInstance()
	for prog := range progressChannel {
		runner.log.Emit(logger.VERBOSE, "%s: %.1f%% (speed %s)\n", filepath.Base(output), prog.GetProgress(), prog.GetSpeed())
	}

	// The progress channel closes once the command has been waited on
	if err := checkExit(ctx, cmd); err != nil {
		os.Remove(output)
		return fmt.Errorf("failed to produce %s: %w", output, err)
	}

	return verifyOutput(output)
}

func checkExit(ctx context.Context, cmd *exec.Cmd) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if cmd == nil || cmd.ProcessState == nil {
		return fmt.Errorf("%w: exit status unknown", ErrExitStatus)
	}
	if !cmd.ProcessState.Success() {
		return fmt.Errorf("%w: %s", ErrExitStatus, cmd.ProcessState)
	}

	return nil
}

func verifyOutput(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrEmptyOutput, path)
	}
	if info.Size() == 0 {
		return fmt.Errorf("%w: %s is empty", ErrEmptyOutput, path)
	}

	return nil
}

func parseFfmpegError(err error) error {
	// The error carries the full ffmpeg log, including build details. We
	// only want the JSON encoded 'message' inside of it.
	groups := messageMatcher.FindStringSubmatch(err.Error())
	if len(groups) < 2 {
		return err
	}

	var out map[string]interface{}
	if jsonErr := json.Unmarshal([]byte(groups[1]), &out); jsonErr != nil {
		return errors.New(groups[1])
	}

	if exception, ok := out["error"].(map[string]interface{}); ok {
		if msg, ok := exception["string"].(string); ok {
			return errors.New(msg)
		}
	}

	return errors.New(groups[1])
}
