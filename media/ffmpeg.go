package media

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/kballard/go-shellquote"
	"go.uber.org/zap"

	"github.com/teranos/scribe/am"
	"github.com/teranos/scribe/errors"
	"github.com/teranos/scribe/logger"
)

// FFmpeg implements Toolkit with the ffmpeg and ffprobe binaries.
type FFmpeg struct {
	ffmpegPath  string
	ffprobePath string
	sampleRate  int
	extraArgs   []string
	runner      Runner
	logger      *zap.SugaredLogger
}

// NewFFmpeg creates the toolkit from configuration. extra_args are split with
// POSIX shell quoting rules.
func NewFFmpeg(cfg am.MediaConfig, runner Runner, log *zap.SugaredLogger) (*FFmpeg, error) {
	extra, err := shellquote.Split(cfg.ExtraArgs)
	if err != nil {
		return nil, errors.NewInvalidRequestError("media.extra_args: %v", err)
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	sampleRate := cfg.SampleRate
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	return &FFmpeg{
		ffmpegPath:  cfg.FFmpegPath,
		ffprobePath: cfg.FFprobePath,
		sampleRate:  sampleRate,
		extraArgs:   extra,
		runner:      runner,
		logger:      logger.OrNop(log).Named("media"),
	}, nil
}

// Probe returns the media duration in seconds.
func (f *FFmpeg) Probe(ctx context.Context, path string) (float64, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	}
	var out string
	if _, err := f.run(ctx, f.ffprobePath, args, func(line string) {
		if out == "" {
			out = strings.TrimSpace(line)
		}
	}, nil); err != nil {
		return 0, err
	}
	d, err := strconv.ParseFloat(out, 64)
	if err != nil {
		return 0, errors.Mark(errors.Newf("ffprobe reported no duration for %s (%q)", path, out), errors.ErrInput)
	}
	return d, nil
}

// DetectSilence runs the silencedetect filter over path.
func (f *FFmpeg) DetectSilence(ctx context.Context, path string, thresholdDB, minDuration float64, progress ProgressFunc) (SilenceReport, error) {
	if _, err := os.Stat(path); err != nil {
		return SilenceReport{}, errors.Mark(errors.Wrapf(err, "cannot access %s", path), errors.ErrInput)
	}

	duration, err := f.Probe(ctx, path)
	if err != nil {
		if ctx.Err() != nil {
			return SilenceReport{}, ctx.Err()
		}
		// Silence detection still works without a duration; only progress and
		// the silence ratio need it.
		f.logger.Debugw("Probe failed, continuing without duration", logger.FieldFile, path, logger.FieldError, err)
		duration = 0
	}

	args := []string{
		"-hide_banner", "-nostdin", "-nostats",
		"-i", path,
		"-af", fmt.Sprintf("silencedetect=noise=%gdB:d=%g", thresholdDB, minDuration),
		"-f", "null",
		"-progress", "pipe:1",
		"-",
	}

	parser := &silenceParser{}
	tracker := progressTracker{duration: duration, progress: progress}
	if _, err := f.run(ctx, f.ffmpegPath, args, tracker.line, parser.line); err != nil {
		return SilenceReport{}, err
	}

	report(progress, 100)
	return SilenceReport{Duration: duration, Silences: parser.finish(duration)}, nil
}

// ExtractAudio converts in to a mono PCM WAV at out.
func (f *FFmpeg) ExtractAudio(ctx context.Context, in, out string, progress ProgressFunc) error {
	duration, err := f.Probe(ctx, in)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		duration = 0
	}

	args := []string{
		"-hide_banner", "-nostdin", "-nostats", "-y",
		"-i", in,
		"-vn",
		"-ac", "1",
		"-ar", strconv.Itoa(f.sampleRate),
		"-c:a", "pcm_s16le",
		"-progress", "pipe:1",
	}
	args = append(args, f.extraArgs...)
	args = append(args, out)

	tracker := progressTracker{duration: duration, progress: progress}
	if _, err := f.run(ctx, f.ffmpegPath, args, tracker.line, nil); err != nil {
		return err
	}

	info, err := os.Stat(out)
	if err != nil || info.Size() == 0 {
		return errors.Mark(errors.Newf("ffmpeg produced no audio for %s", in), errors.ErrInput)
	}
	report(progress, 100)
	return nil
}

func (f *FFmpeg) run(ctx context.Context, name string, args []string, onStdout, onStderr func(string)) (CommandResult, error) {
	f.logger.Debugw("Running media command", "command", name, "args", args)

	res, err := f.runner.Run(ctx, name, args, onStdout, onStderr)
	if err == nil {
		return res, nil
	}
	if ctx.Err() != nil {
		return res, ctx.Err()
	}
	if errors.Is(err, exec.ErrNotFound) {
		return res, errors.Mark(errors.WithHintf(errors.Wrapf(err, "%s not found", name),
			"install ffmpeg or set media.%s_path", strings.TrimSuffix(strings.ToLower(baseName(name)), ".exe")), errors.ErrInput)
	}
	err = errors.Wrapf(err, "%s exited with code %d", baseName(name), res.ExitCode)
	if res.StderrTail != "" {
		err = errors.WithDetail(err, res.StderrTail)
	}
	return res, errors.Mark(err, errors.ErrInput)
}

func baseName(path string) string {
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		return path[i+1:]
	}
	return path
}
