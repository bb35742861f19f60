// Command voiceprobe places adversarial test calls against a voice agent
// and turns the recorded transcripts into a bug report.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Karthik016996148/PrettyGoodAI--EngineeringChallenge/internal/bridge"
	"github.com/Karthik016996148/PrettyGoodAI--EngineeringChallenge/internal/config"
	"github.com/Karthik016996148/PrettyGoodAI--EngineeringChallenge/internal/dialer"
	"github.com/Karthik016996148/PrettyGoodAI--EngineeringChallenge/internal/dialogue"
	"github.com/Karthik016996148/PrettyGoodAI--EngineeringChallenge/internal/httpserver"
	"github.com/Karthik016996148/PrettyGoodAI--EngineeringChallenge/internal/llm"
	"github.com/Karthik016996148/PrettyGoodAI--EngineeringChallenge/internal/report"
	"github.com/Karthik016996148/PrettyGoodAI--EngineeringChallenge/internal/runner"
	"github.com/Karthik016996148/PrettyGoodAI--EngineeringChallenge/internal/scenario"
	"github.com/Karthik016996148/PrettyGoodAI--EngineeringChallenge/internal/storage"
	"github.com/Karthik016996148/PrettyGoodAI--EngineeringChallenge/internal/stt"
	"github.com/Karthik016996148/PrettyGoodAI--EngineeringChallenge/internal/transcript"
	"github.com/Karthik016996148/PrettyGoodAI--EngineeringChallenge/internal/tts"
)

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	root := &cobra.Command{
		Use:   "voiceprobe",
		Short: "Adversarial tester for a voice AI receptionist",
	}
	root.AddCommand(runCmd(), listCmd(), analyzeCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadScenarios resolves the scenario set: all builtins plus any YAML
// extras, or a single named one.
func loadScenarios(cfg config.Config, only string) ([]scenario.Scenario, error) {
	all := scenario.All()
	if cfg.ScenarioFile != "" {
		extra, err := scenario.LoadFile(cfg.ScenarioFile)
		if err != nil {
			return nil, err
		}
		all = append(all, extra...)
	}
	if only == "" {
		return all, nil
	}
	for _, sc := range all {
		if sc.Name == only {
			return []scenario.Scenario{sc}, nil
		}
	}
	return nil, fmt.Errorf("unknown scenario: %s", only)
}

func runCmd() *cobra.Command {
	var scenarioName string
	var concurrency int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Place test calls for every scenario (or one with --scenario)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if missing := cfg.Validate(); len(missing) > 0 {
				return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
			}
			if concurrency > 0 {
				cfg.Concurrency = concurrency
			}

			scenarios, err := loadScenarios(cfg, scenarioName)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			dial := dialer.New(dialer.Config{
				AccountSID:   cfg.TwilioAccountSID,
				AuthToken:    cfg.TwilioAuthToken,
				From:         cfg.TwilioPhoneFrom,
				Target:       cfg.TargetPhone,
				PublicDomain: cfg.PublicDomain,
			})
			registry := runner.NewRegistry()
			chat := llm.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIModel)
			synth := tts.NewElevenLabsClient(cfg.ElevenLabsAPIKey, cfg.ElevenLabsVoiceID)

			byName := make(map[string]scenario.Scenario)
			for _, sc := range scenario.All() {
				byName[sc.Name] = sc
			}
			for _, sc := range scenarios {
				byName[sc.Name] = sc
			}

			newSession := func(conn *websocket.Conn) httpserver.SessionRunner {
				deps := bridge.Deps{
					Recognizer: stt.NewSession(cfg.DeepgramAPIKey, stt.Config{
						MaxRetries: cfg.STTMaxRetries,
					}),
					Synthesizer: synth,
					NewDriver: func(name string) (bridge.Driver, error) {
						sc, ok := byName[name]
						if !ok {
							return nil, fmt.Errorf("unknown scenario: %s", name)
						}
						return dialogue.NewEngine(chat, sc, cfg.MaxTurns, cfg.GenerationTimeout), nil
					},
					HangUp: dial.HangUp,
					OnDone: func(callSid string, rec *transcript.Recorder) {
						registry.Done(callSid, rec)
					},
				}
				return bridge.NewSession(conn, deps, bridge.Config{
					SilenceThreshold: cfg.SilenceThreshold,
					TranscriptsDir:   cfg.TranscriptsDir,
				})
			}

			e := httpserver.New(httpserver.Deps{
				TwiML:      dial,
				Registry:   registry,
				NewSession: newSession,
				AuthToken:  cfg.TwilioAuthToken,
			})
			addr := fmt.Sprintf("%s:%d", cfg.ServerHost, cfg.ServerPort)
			serverErrors := make(chan error, 1)
			go func() {
				log.Infof("server listening on %s (public: %s)", addr, cfg.PublicDomain)
				serverErrors <- e.Start(addr)
			}()

			run := runner.New(dial, registry, runner.Config{
				CallTimeout:    cfg.CallTimeout,
				InterCallDelay: cfg.InterCallDelay,
				Concurrency:    cfg.Concurrency,
			})

			done := make(chan []runner.Result, 1)
			go func() { done <- run.RunAll(ctx, scenarios) }()

			var results []runner.Result
			select {
			case results = <-done:
			case err := <-serverErrors:
				if err != nil && err != http.ErrServerClosed {
					return fmt.Errorf("server error: %w", err)
				}
				results = <-done
			}

			for _, res := range results {
				switch {
				case res.Err != nil:
					log.Errorf("result: %-22s FAILED: %v", res.Scenario, res.Err)
				case res.TimedOut:
					log.Warnf("result: %-22s TIMED OUT (sid=%s)", res.Scenario, res.CallSID)
				default:
					log.Infof("result: %-22s ok (sid=%s)", res.Scenario, res.CallSID)
				}
			}

			uploadTranscripts(cfg)

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := e.Shutdown(shutdownCtx); err != nil {
				log.Warnf("graceful shutdown failed: %v", err)
				e.Close()
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&scenarioName, "scenario", "", "run a single scenario by name")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "number of calls to run at once")
	return cmd
}

// uploadTranscripts pushes saved transcript files to Supabase when
// configured. Best effort.
func uploadTranscripts(cfg config.Config) {
	sc := storage.Config{URL: cfg.SupabaseURL, ServiceRoleKey: cfg.SupabaseKey, Bucket: cfg.SupabaseBucket}
	if !sc.Enabled() {
		return
	}
	store, err := storage.New(sc)
	if err != nil {
		log.Warnf("supabase upload disabled: %v", err)
		return
	}
	files, err := filepath.Glob(filepath.Join(cfg.TranscriptsDir, "*.json"))
	if err != nil {
		return
	}
	for _, f := range files {
		if err := store.UploadTranscriptFile(f); err != nil {
			log.Warnf("upload %s: %v", f, err)
		}
	}
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available scenarios",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			scenarios, err := loadScenarios(cfg, "")
			if err != nil {
				return err
			}
			for _, sc := range scenarios {
				fmt.Printf("%-22s %s\n", sc.Name, sc.Description)
			}
			return nil
		},
	}
}

func analyzeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze",
		Short: "Generate a bug report from saved transcripts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if cfg.OpenAIAPIKey == "" {
				return fmt.Errorf("missing required configuration: OPENAI_API_KEY")
			}
			chat := llm.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIModel)
			analyzer := report.NewAnalyzer(chat, cfg.TranscriptsDir, cfg.ReportsDir)
			path, err := analyzer.Run(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("bug report written to %s\n", path)
			return nil
		},
	}
}
