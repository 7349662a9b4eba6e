package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	openai "github.com/openai/openai-go/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/voxgate/voxgate/internal/audit"
	"github.com/voxgate/voxgate/internal/config"
	"github.com/voxgate/voxgate/internal/confirm"
	"github.com/voxgate/voxgate/internal/dispatch"
	"github.com/voxgate/voxgate/internal/entity"
	"github.com/voxgate/voxgate/internal/intent"
	"github.com/voxgate/voxgate/internal/ipc"
	"github.com/voxgate/voxgate/internal/model"
	"github.com/voxgate/voxgate/internal/pipeline"
	"github.com/voxgate/voxgate/internal/speech"
	"github.com/voxgate/voxgate/internal/systemd"
)

var daemonDebug bool

func init() {
	rootCmd.AddCommand(daemonCmd)
	daemonCmd.Flags().BoolVar(&daemonDebug, "debug", false, "Verbose development logging")
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the voice-command pipeline and IPC broker",
	Long: "Starts the command pipeline, opens the audit log, binds the user-scoped\n" +
		"IPC socket (mode 0600, fatal if that cannot be established), and\n" +
		"hot-reloads the config file while running.",
	RunE: runDaemon,
}

func runDaemon(cmd *cobra.Command, args []string) error {
	log, err := newLogger(daemonDebug)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer log.Sync()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if warn := systemd.CheckUnitFileIntegrity(); warn != "" {
		log.Warn("unit file integrity", zap.String("detail", warn))
	}

	auditLog, err := audit.Open(cfg.AuditLogPath)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer auditLog.Close()

	registry := intent.NewRegistry(intent.Builtin())
	registry.SetHighRisk(cfg.HighRiskCommands)

	resolver := intent.NewResolver(registry, intent.ResolverConfig{
		PhoneticFloor: cfg.PhoneticFloor,
		SemanticFloor: cfg.SemanticFloor,
	}, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.EmbedModel != "" {
		if os.Getenv("OPENAI_API_KEY") == "" {
			log.Warn("embed_model set but OPENAI_API_KEY is empty, semantic matching disabled")
		} else {
			emb := intent.NewOpenAIEmbedder(openai.NewClient(), cfg.EmbedModel)
			if err := resolver.EnableSemantic(ctx, emb); err != nil {
				log.Warn("semantic matching disabled", zap.Error(err))
			}
		}
	}

	library := demoLibrary()
	coordinator := confirm.New(confirm.Config{
		ConfirmTimeout:   cfg.ConfirmTimeout.Std(),
		SelectionTimeout: cfg.SelectionTimeout.Std(),
		ParseNumber:      intent.ParseSpokenNumber,
	}, log)

	dispatcher := dispatch.New(4, log)
	registerHandlers(dispatcher, registry, log)

	transcriber := speech.NewChanTranscriber(32)
	defer transcriber.Close()

	p := pipeline.New(pipeline.Deps{
		Config:      cfg,
		Registry:    registry,
		Resolver:    resolver,
		Validator:   entity.New(library, log),
		Library:     library,
		Coordinator: coordinator,
		Dispatcher:  dispatcher,
		Audit:       auditLog,
		Transcriber: transcriber,
		Speaker:     &logSpeaker{log: log},
		Log:         log,
	})

	broker := ipc.NewServer(ipc.Config{
		SocketPath:   cfg.SocketPath,
		ReplayWindow: cfg.ReplayWindow.Std(),
		RateMax:      cfg.IPCRateLimit.MaxMessages,
		RateWindow:   cfg.IPCRateLimit.Window.Std(),
	}, p, log)
	if err := broker.Listen(); err != nil {
		// Restricted socket permissions are a hard startup requirement.
		return err
	}
	p.SetBroker(broker)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.Run(ctx) })
	g.Go(func() error { return broker.Serve(ctx) })

	if watcher, err := config.NewWatcher(configPath, p.Reload, log); err == nil {
		g.Go(func() error { return watcher.Run(ctx) })
	} else {
		log.Info("config hot-reload disabled", zap.Error(err))
	}

	log.Info("voxgate daemon started",
		zap.String("socket", cfg.SocketPath),
		zap.String("audit_log", cfg.AuditLogPath))

	err = g.Wait()
	broker.Close()
	return err
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// logSpeaker is the default speech-output collaborator: feedback lines
// go to the log until a synthesis engine is attached over IPC.
type logSpeaker struct {
	log *zap.Logger
}

func (s *logSpeaker) Say(_ context.Context, text string) error {
	s.log.Info("speak", zap.String("text", text))
	return nil
}

// registerHandlers binds a logging handler per known command. Real
// action handlers (media players, game bridges) replace these at the
// collaborator boundary.
func registerHandlers(d *dispatch.Dispatcher, registry *intent.Registry, log *zap.Logger) {
	for _, cmd := range registry.Commands() {
		name := cmd.Name
		d.RegisterFunc(name, func(_ context.Context, in *model.Intent) error {
			log.Info("action executed",
				zap.String("intent", name),
				zap.Any("parameters", in.Parameters))
			return nil
		})
	}
}

// demoLibrary is the built-in entity library used until a media-player
// collaborator is connected.
func demoLibrary() *entity.StaticLibrary {
	return &entity.StaticLibrary{Entries: map[string][]string{
		"artist":   {"Beethoven", "Miles Davis", "The Beatles"},
		"album":    {"Kind of Blue", "Abbey Road"},
		"playlist": {"Focus", "Morning"},
		"player":   {"mpd"},
	}}
}
