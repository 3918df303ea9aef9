package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/songbot-dev/songbot/internal/config"
	"github.com/songbot-dev/songbot/internal/delayed"
	"github.com/songbot-dev/songbot/internal/engine"
	"github.com/songbot-dev/songbot/internal/httpapi"
	"github.com/songbot-dev/songbot/internal/lyrics"
	"github.com/songbot-dev/songbot/internal/messenger"
	"github.com/songbot-dev/songbot/internal/observability"
	"github.com/songbot-dev/songbot/internal/provider"
	"github.com/songbot-dev/songbot/internal/session"
	"github.com/songbot-dev/songbot/internal/task"
)

// Version is set via ldflags.
var Version = "dev"

func main() {
	root := &cobra.Command{
		Use:           "songbot",
		Short:         "Webhook-driven song generation bot",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var configFile string

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configFile)
		},
	}
	serve.Flags().StringVar(&configFile, "config", os.Getenv("CONFIG_FILE"), "YAML config file")

	version := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(Version)
		},
	}

	root.AddCommand(serve, version)

	if err := root.Execute(); err != nil {
		log.Fatalf("songbot: %v", err)
	}
}

func runServe(configFile string) error {
	log.Printf("starting songbot v%s", Version)

	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	observability.InitMetrics()
	if err := observability.InitTracingFromEnv(); err != nil {
		log.Printf("tracing init failed: %v", err)
	}

	store, err := buildStore(cfg)
	if err != nil {
		return err
	}

	sessions := session.NewManager()
	tasks := task.NewRegistry()
	providers := buildProviders(cfg)

	bothelp := messenger.NewBotHelp(messenger.BotHelpConfig{
		APIURL:       cfg.BotHelp.APIBase,
		OAuthURL:     cfg.BotHelp.OAuthURL,
		ClientID:     cfg.BotHelp.ClientID,
		ClientSecret: cfg.BotHelp.ClientSecret,
	})

	var eng *engine.Engine
	sched := delayed.NewScheduler(store, func(ctx context.Context, taskID string, e delayed.Entry) {
		eng.DeliverEntry(ctx, taskID, e)
	})

	eng = engine.New(engine.Config{
		Sessions:        sessions,
		Tasks:           tasks,
		Providers:       providers,
		Messenger:       bothelp,
		Store:           store,
		Scheduler:       sched,
		LyricsFor:       lyricsChain(cfg),
		DefaultProvider: defaultProvider(cfg),
		ShowTechPrompt:  cfg.ShowTechPrompt,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bothelp.Prefetch(ctx)
	sched.Recover(ctx)
	stopSweep := sched.StartSweep(ctx)
	defer stopSweep()

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: httpapi.NewServer(cfg, eng, sessions, tasks, store).Handler(),
	}

	errChan := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		log.Printf("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown: %v", err)
	}
	if err := observability.ShutdownTracing(shutdownCtx); err != nil {
		log.Printf("tracing shutdown: %v", err)
	}
	log.Printf("songbot stopped")
	return nil
}

func buildStore(cfg *config.Config) (delayed.Store, error) {
	switch cfg.Delayed.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.Delayed.RedisAddr})
		log.Printf("delayed store: redis at %s", cfg.Delayed.RedisAddr)
		return delayed.NewRedisStore(client, cfg.Delayed.RedisPrefix), nil
	default:
		log.Printf("delayed store: file at %s", cfg.Delayed.FilePath)
		return delayed.NewFileStore(cfg.Delayed.FilePath)
	}
}

func buildProviders(cfg *config.Config) *provider.Registry {
	reg := provider.NewRegistry()
	if cfg.CometUsable() {
		reg.Register(provider.NewCometMusic(cfg.Comet.APIKey, cfg.Comet.BaseURL, cfg.Comet.ModelVersion))
	}
	if cfg.FoxAI.APIKey != "" {
		reg.Register(provider.NewFoxAIMusic(cfg.FoxAI.APIKey, cfg.FoxAI.BaseURL))
	}
	log.Printf("music providers: %v", reg.List())
	return reg
}

func defaultProvider(cfg *config.Config) string {
	if cfg.Comet.UseComet && cfg.CometUsable() {
		return "comet"
	}
	return "foxai"
}

// lyricsChain builds the per-session LLM fallback chain: Comet first when
// the tier asks for it, then the OpenAI primary and fallback models.
func lyricsChain(cfg *config.Config) func(s session.Session) *lyrics.Generator {
	return func(s session.Session) *lyrics.Generator {
		var chain []provider.LLMProvider
		if s.UseCometLLM && cfg.CometUsable() {
			model := s.LLMModel
			if model == "" {
				model = cfg.Comet.LLMModelPremium
			}
			chain = append(chain, provider.NewCometLLM(cfg.Comet.APIKey, cfg.Comet.BaseURL, model))
		}
		if cfg.OpenAI.APIKey != "" {
			chain = append(chain,
				provider.NewOpenAILLM(cfg.OpenAI.APIKey, cfg.OpenAI.PrimaryModel),
				provider.NewOpenAILLM(cfg.OpenAI.APIKey, cfg.OpenAI.FallbackModel),
			)
		}
		return lyrics.NewGenerator(chain...)
	}
}
