package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"framewatch/config"
	"framewatch/pipeline"
	"framewatch/report"
	"framewatch/serve"
	"framewatch/util"
	"framewatch/video/process"
	"framewatch/video/sink"
	"framewatch/video/source"
)

type flags struct {
	configPath  string
	videoPath   string
	modelPath   string
	device      string
	conf        float32
	interval    int
	annotateDir string
	noAnnotate  bool
	listen      string
	logLevel    string
}

func newCommand(f *flags) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "framewatch",
		Short:         "Sample frames from a video and run object detection on them",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := util.InitLogging(f.logLevel); err != nil {
				return err
			}
			cfg, err := resolveConfig(cmd, f)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.configPath, "config", "", "Optional JSON file overriding pipeline defaults.")
	fl.StringVar(&f.videoPath, "video-path", "", "The path to the input video file.")
	fl.StringVar(&f.modelPath, "model-path", "", "The path to the model file.")
	fl.StringVar(&f.device, "device", "cpu", "The device to use for inference ("+strings.Join(process.Devices, ", ")+").")
	fl.Float32Var(&f.conf, "conf", 0, "Confidence threshold; overrides the config when set.")
	fl.IntVar(&f.interval, "interval", 0, "Process every Nth frame; 0 derives it from the frame rate.")
	fl.StringVar(&f.annotateDir, "annotate-dir", "", "Root directory for annotated frames; overrides the config when set.")
	fl.BoolVar(&f.noAnnotate, "no-annotate", false, "Do not write annotated frames.")
	fl.StringVar(&f.listen, "listen", "", "Address for the metrics/status HTTP server, e.g. :8080.")
	fl.StringVar(&f.logLevel, "log-level", "", "Log level; defaults to $"+util.LevelEnv+" or info.")
	cmd.MarkFlagRequired("video-path")
	cmd.MarkFlagRequired("model-path")
	return cmd
}

// resolveConfig layers flags over the config file over the defaults.
func resolveConfig(cmd *cobra.Command, f *flags) (*config.PipelineConfig, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}
	cfg.VideoPath = f.videoPath
	cfg.ModelPath = f.modelPath
	fl := cmd.Flags()
	if fl.Changed("device") || cfg.Device == "" {
		cfg.Device = f.device
	}
	if fl.Changed("conf") {
		cfg.ConfThreshold = f.conf
	}
	if fl.Changed("interval") {
		cfg.SampleInterval = f.interval
	}
	if fl.Changed("annotate-dir") {
		cfg.AnnotateDir = f.annotateDir
	}
	if f.noAnnotate {
		cfg.AnnotateDir = ""
	}
	if fl.Changed("listen") {
		cfg.ListenAddr = f.listen
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	config.Dump(cfg)
	return cfg, nil
}

func run(ctx context.Context, cfg *config.PipelineConfig) error {
	runID := uuid.NewString()
	rlog := log.WithField("run", runID)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := pipeline.NewMetrics(reg)

	var hub *serve.Hub
	var publisher report.Publisher
	var mjpeg *sink.MJPEGServer
	if cfg.ListenAddr != "" {
		hub = serve.NewHub()
		defer hub.Close()
		publisher = hub
		mjpeg = sink.NewMJPEGServer()
	}

	var annotator pipeline.Annotator
	if cfg.AnnotateDir != "" {
		a := process.NewAnnotator(cfg.AnnotateDir, cfg.Name(), cfg.AnnotateThickness)
		if mjpeg != nil {
			stream, err := mjpeg.NewStream("annotated")
			if err != nil {
				return err
			}
			defer stream.Close()
			a.Preview = stream
		}
		annotator = a
		rlog.Infof("Writing annotated frames to %v", a.Dir)
	}

	ctl, err := pipeline.New(cfg, pipeline.Options{
		Open: func(path string) (pipeline.FrameSource, error) {
			return source.Open(path)
		},
		NewDetector: func(cfg *config.PipelineConfig) (pipeline.Detector, error) {
			return process.NewRFDETR(cfg)
		},
		Reporter:  report.New(runID, log.StandardLogger(), publisher),
		Annotator: annotator,
		Metrics:   metrics,
		Logger:    rlog,
	})
	if err != nil {
		return err
	}

	if cfg.ListenAddr != "" {
		opts := serve.Options{
			Gatherer: reg,
			Status:   &serve.StatusServer{RunID: runID, VideoPath: cfg.VideoPath, Stats: ctl.Stats},
			Hub:      hub,
			MJPEG:    mjpeg,
		}
		srv, err := serve.Listen(cfg.ListenAddr, serve.NewHandler(opts))
		if err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(sctx)
		}()
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return ctl.Run(ctx)
}

// execute runs the command with args and returns the process exit code.
func execute(ctx context.Context, args []string) int {
	cmd := newCommand(&flags{})
	cmd.SetArgs(args)
	if err := cmd.ExecuteContext(ctx); err != nil {
		log.WithError(err).Error("Run failed")
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(context.Background(), os.Args[1:]))
}
