package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mattn/go-colorable"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/timerzz/hlsdl/dl"
	"github.com/timerzz/hlsdl/pkg/discover"
	"github.com/timerzz/hlsdl/pkg/journal"
	"github.com/timerzz/hlsdl/pkg/progressbar"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:141.0) Gecko/20100101 Firefox/141.0"

type options struct {
	manifestURL    string
	manifestPath   string
	outputName     string
	pageURL        string
	logFile        string
	browserCookies bool
	verbose        bool
}

func main() {
	// .env is optional; flags and real environment variables win over it.
	_ = godotenv.Load()

	logrus.SetOutput(colorable.NewColorableStdout())
	logrus.SetFormatter(&logrus.TextFormatter{ForceColors: true, FullTimestamp: true, TimestampFormat: "15:04:05"})

	var (
		c = dl.Config{
			Concurrency: dl.DefaultConcurrency,
			Timeout:     dl.DefaultTimeout,
			RetryCount:  dl.DefaultRetryCount,
			Resolution:  dl.DefaultResolution,
			Container:   dl.DefaultContainer,
			Muxer:       dl.DefaultMuxer,
			UserAgent:   defaultUserAgent,
		}
		o options
	)
	c.WorkDir, _ = os.Getwd()

	app := &cli.App{
		Name:  "hlsdl",
		Usage: "download an HLS stream at a chosen resolution and merge it into one file",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "m3u8",
				Aliases:     []string{"u"},
				Usage:       "playlist URL, master or media",
				Destination: &o.manifestURL,
			},
			&cli.StringFlag{
				Name:        "file",
				Aliases:     []string{"p"},
				Usage:       "read the playlist from a local file",
				Destination: &o.manifestPath,
			},
			&cli.StringFlag{
				Name:        "base",
				Aliases:     []string{"b"},
				Usage:       "base URL for relative segment URIs, defaults to the playlist's directory",
				EnvVars:     []string{"HLSDL_BASE_URL"},
				Destination: &c.BaseURL,
			},
			&cli.StringFlag{
				Name:        "output-name",
				Aliases:     []string{"o"},
				Usage:       "output name, defaults to the playlist's directory name",
				Destination: &o.outputName,
			},
			&cli.StringFlag{
				Name:        "resolution",
				Aliases:     []string{"r"},
				Value:       dl.DefaultResolution,
				Usage:       "target resolution, e.g. 360p or 720p",
				EnvVars:     []string{"HLSDL_RESOLUTION"},
				Destination: &c.Resolution,
			},
			&cli.StringFlag{
				Name:        "all",
				Aliases:     []string{"a"},
				Usage:       "download every playlist linked from this page",
				Destination: &o.pageURL,
			},
			&cli.IntFlag{
				Name:        "thread",
				Value:       dl.DefaultConcurrency,
				Usage:       "segments downloaded in parallel",
				EnvVars:     []string{"HLSDL_THREAD"},
				Destination: &c.Concurrency,
			},
			&cli.IntFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Value:   int(dl.DefaultTimeout / time.Second),
				Usage:   "per request timeout in seconds",
				EnvVars: []string{"HLSDL_TIMEOUT"},
				Action: func(_ *cli.Context, i int) error {
					c.Timeout = time.Second * time.Duration(i)
					return nil
				},
			},
			&cli.IntFlag{
				Name:        "retry",
				Value:       dl.DefaultRetryCount,
				Usage:       "extra attempts per playlist or segment",
				EnvVars:     []string{"HLSDL_RETRY"},
				Destination: &c.RetryCount,
			},
			&cli.StringFlag{
				Name:        "proxy",
				Usage:       "proxy URL, e.g. http://localhost:3000",
				EnvVars:     []string{"HLSDL_PROXY"},
				Destination: &c.Proxy,
			},
			&cli.StringFlag{
				Name:        "dir",
				Aliases:     []string{"d"},
				Usage:       "directory for segment folders and output files",
				EnvVars:     []string{"HLSDL_DIR"},
				Destination: &c.WorkDir,
			},
			&cli.StringFlag{
				Name:        "ffmpeg",
				Value:       dl.DefaultMuxer,
				Usage:       "ffmpeg binary name or path",
				EnvVars:     []string{"HLSDL_FFMPEG"},
				Destination: &c.Muxer,
			},
			&cli.StringFlag{
				Name:        "container",
				Value:       dl.DefaultContainer,
				Usage:       "output file extension",
				Destination: &c.Container,
			},
			&cli.StringFlag{
				Name:        "log-file",
				Value:       "download.log",
				Usage:       "append-only operations log, empty to disable",
				EnvVars:     []string{"HLSDL_LOG_FILE"},
				Destination: &o.logFile,
			},
			&cli.StringFlag{
				Name:        "user-agent",
				Value:       defaultUserAgent,
				Usage:       "User-Agent header",
				EnvVars:     []string{"HLSDL_USER_AGENT"},
				Destination: &c.UserAgent,
			},
			&cli.BoolFlag{
				Name:        "browser-cookies",
				Usage:       "send local browser cookies when scanning the --all page",
				Destination: &o.browserCookies,
			},
			&cli.Int64Flag{
				Name:        "rate-limit",
				Usage:       "download bandwidth cap in bytes per second, 0 for none",
				EnvVars:     []string{"HLSDL_RATE_LIMIT"},
				Destination: &c.RateLimit,
			},
			&cli.BoolFlag{
				Name:        "slug",
				Usage:       "turn output names into lowercase ASCII slugs",
				Destination: &c.Slugify,
			},
			&cli.BoolFlag{
				Name:        "clean",
				Usage:       "remove the segment folder after a successful merge",
				Destination: &c.Cleanup,
			},
			&cli.BoolFlag{
				Name:        "verbose",
				Aliases:     []string{"v"},
				Usage:       "debug logging",
				Destination: &o.verbose,
			},
		},
		Action: func(cCtx *cli.Context) error {
			if o.manifestURL == "" && o.manifestPath == "" && o.pageURL == "" {
				return cli.ShowAppHelp(cCtx)
			}
			if o.verbose {
				logrus.SetLevel(logrus.DebugLevel)
			}
			logrus.SetFormatter(&consoleFormatter{
				Formatter: logrus.StandardLogger().Formatter,
				verbose:   o.verbose,
			})
			if o.logFile != "" {
				hook, err := journal.Open(o.logFile, logrus.GetLevel())
				if err != nil {
					return err
				}
				defer hook.Close()
				logrus.AddHook(hook)
			}

			ctx, stop := signal.NotifyContext(cCtx.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			runner := newRunner(c)
			switch {
			case o.manifestURL != "":
				_, err := runner.Run(ctx, o.manifestURL, o.outputName)
				return err
			case o.manifestPath != "":
				_, err := runner.RunFile(ctx, o.manifestPath, o.outputName)
				return err
			}
			return runBatch(ctx, runner, c, o)
		},
	}
	if err := app.Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}

// consoleFormatter keeps per-segment chatter out of the terminal, where the
// progress bar reports it. Segment failures still show. The journal hook has
// its own formatter and records everything.
type consoleFormatter struct {
	logrus.Formatter
	verbose bool
}

func (f *consoleFormatter) Format(e *logrus.Entry) ([]byte, error) {
	if _, ok := e.Data["segment"]; ok && !f.verbose && e.Level > logrus.ErrorLevel {
		return nil, nil
	}
	return f.Formatter.Format(e)
}

// newRunner wires a progress bar that lives for the fetch of each job.
func newRunner(c dl.Config) *dl.Runner {
	var (
		runner *dl.Runner
		bar    *progressbar.Bar
	)
	c.BeforeJob = func(name string) {
		title := name
		if title == "" {
			title = "segments"
		}
		bar = progressbar.New(
			progressbar.WithInterval(time.Second),
			progressbar.WithTitle(title),
			progressbar.WithStepHook(func(b *progressbar.Bar) {
				cur, total := runner.Progress()
				b.SetSize(runner.DownloadSize())
				b.SetCur(cur)
				b.SetTotal(total)
			}),
			progressbar.WithFinishHook(func() {
				fmt.Println()
			}),
		)
		go bar.Run()
	}
	c.AfterJob = func(string, error) {
		if bar != nil {
			bar.Finish()
			bar = nil
		}
	}
	runner = dl.NewRunner(c)
	return runner
}

func runBatch(ctx context.Context, runner *dl.Runner, c dl.Config, o options) error {
	opts := []discover.Option{discover.WithUserAgent(c.UserAgent), discover.WithTimeout(c.Timeout)}
	if o.browserCookies {
		cookies, err := discover.BrowserCookies(o.pageURL)
		if err != nil {
			logrus.Warnf("continuing without browser cookies: %v", err)
		}
		opts = append(opts, discover.WithCookies(cookies))
	}
	found, err := discover.New(opts...).Discover(ctx, o.pageURL)
	if err != nil {
		return err
	}
	entries := make([]dl.Entry, 0, len(found))
	for _, e := range found {
		entries = append(entries, dl.Entry{Title: e.Title, ManifestURL: e.ManifestURL})
	}
	return runner.RunBatch(ctx, entries)
}
