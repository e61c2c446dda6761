package main

import (
	"context"
	"expvar"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/voxtide/voxtide/internal/tokensrv"
	"github.com/voxtide/voxtide/pkg/device/fake"
	"github.com/voxtide/voxtide/pkg/engine"
	"github.com/voxtide/voxtide/pkg/eou"
	"github.com/voxtide/voxtide/pkg/media"
	"github.com/voxtide/voxtide/pkg/version"
)

var rootCmd = &cobra.Command{
	Use:          "voxtide",
	Short:        "Voxtide - realtime duplex voice-conversation engine",
	Long:         `voxtide drives a duplex voice conversation against a realtime speech-to-speech service: turn taking, barge-in, jitter-buffered playback and bounded reconnects.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.GetVersionInfo())
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a demo conversation with simulated devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		tokenURL, _ := cmd.Flags().GetString("token-url")
		appToken, _ := cmd.Flags().GetString("app-token")
		channelURL, _ := cmd.Flags().GetString("channel-url")
		model, _ := cmd.Flags().GetString("model")
		voice, _ := cmd.Flags().GetString("voice")
		debugAddr, _ := cmd.Flags().GetString("debug-addr")
		eouModel, _ := cmd.Flags().GetString("eou-model")
		record, _ := cmd.Flags().GetString("record")

		logger := setupLogger()
		logger.Info("starting voxtide",
			slog.String("version", version.Version),
			slog.String("commit", version.GitCommit),
			slog.String("channel_url", channelURL))

		if tokenURL == "" {
			return fmt.Errorf("--token-url is required")
		}
		if channelURL == "" {
			return fmt.Errorf("--channel-url is required")
		}

		if debugAddr != "" {
			go func() {
				logger.Info("serving debug vars", slog.String("addr", debugAddr))
				mux := http.NewServeMux()
				mux.Handle("/debug/vars", expvar.Handler())
				if err := http.ListenAndServe(debugAddr, mux); err != nil {
					logger.Error("debug server failed", slog.String("error", err.Error()))
				}
			}()
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		return runDemo(ctx, tokenURL, appToken, channelURL, model, voice, eouModel, record, logger)
	},
}

var tokenServerCmd = &cobra.Command{
	Use:   "token-server",
	Short: "Host the credential endpoint that mints short-lived session secrets",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		upstreamURL, _ := cmd.Flags().GetString("upstream-url")
		apiKey, _ := cmd.Flags().GetString("api-key")
		appToken, _ := cmd.Flags().GetString("app-token")
		instructions, _ := cmd.Flags().GetString("instructions")

		if apiKey == "" {
			apiKey = os.Getenv("VOXTIDE_API_KEY")
		}

		logger := setupLogger()
		if upstreamURL == "" {
			return fmt.Errorf("--upstream-url is required")
		}
		if apiKey == "" {
			return fmt.Errorf("--api-key or VOXTIDE_API_KEY is required")
		}

		srv := tokensrv.New(tokensrv.Config{
			UpstreamURL:  upstreamURL,
			APIKey:       apiKey,
			AppToken:     appToken,
			Instructions: instructions,
		}, logger)

		logger.Info("credential server listening", slog.String("addr", addr))
		return http.ListenAndServe(addr, srv)
	},
}

// runDemo drives the engine with simulated devices: the fake microphone
// speaks in one-second tone bursts separated by silence, which exercises
// the full turn-taking path against a real channel.
func runDemo(ctx context.Context, tokenURL, appToken, channelURL, model, voice, eouModel, record string, logger *slog.Logger) error {
	connector := engine.NewConnector(engine.ConnectorConfig{
		TokenURL:   tokenURL,
		AppToken:   appToken,
		ChannelURL: channelURL,
		Model:      model,
		Voice:      voice,
	}, logger)

	mic := &fake.Microphone{}
	route := &fake.Route{}
	player := &fake.Player{AutoComplete: true}

	e := engine.New(engine.Config{RecordPath: record}, connector, mic, route, player, logger)
	defer e.Stop()

	var detector eou.Detector = &eou.Heuristic{}
	if eouModel != "" {
		onnx, err := eou.NewONNXDetector(eouModel)
		if err != nil {
			logger.Warn("falling back to heuristic end-of-utterance detection",
				slog.String("error", err.Error()))
		} else {
			detector = onnx
		}
	}
	e.SetDetector(detector)

	if err := e.Start(ctx); err != nil {
		return fmt.Errorf("failed to start conversation: %w", err)
	}

	format := media.DefaultFormat
	frameSamples := format.SampleRate / 20 // 50ms frames
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	elapsed := 0
	for {
		select {
		case <-ctx.Done():
			logger.Info("conversation ended",
				slog.String("state", e.State().String()),
				slog.String("transcript", e.Transcript()))
			return nil
		case <-ticker.C:
			// One second of tone, two seconds of silence, repeat.
			phase := elapsed % 60
			if phase < 20 {
				mic.EmitTone(format, frameSamples, 220, 0.4)
			} else {
				mic.EmitTone(format, frameSamples, 220, 0)
			}
			elapsed++
			if e.State() == engine.StateError {
				return fmt.Errorf("conversation failed: %s", e.LastError())
			}
		}
	}
}

func setupLogger() *slog.Logger {
	logFormat := os.Getenv("VOXTIDE_LOG_FORMAT")
	logLevel := os.Getenv("VOXTIDE_LOG_LEVEL")

	opts := &slog.HandlerOptions{}
	switch logLevel {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	var handler slog.Handler
	if logFormat == "console" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func init() {
	runCmd.Flags().String("token-url", "", "Credential endpoint URL")
	runCmd.Flags().String("app-token", "", "Bearer token for the credential endpoint")
	runCmd.Flags().String("channel-url", "", "Realtime channel websocket URL")
	runCmd.Flags().String("model", "gpt-realtime", "Remote conversation model")
	runCmd.Flags().String("voice", "sol", "Assistant voice")
	runCmd.Flags().String("debug-addr", "", "Serve expvar metrics on this address (e.g. :8080)")
	runCmd.Flags().String("eou-model", "", "Path to end-of-utterance model directory (requires -tags=eou build)")
	runCmd.Flags().String("record", "", "Save captured microphone audio to this WAV file")

	tokenServerCmd.Flags().String("addr", ":8090", "Listen address")
	tokenServerCmd.Flags().String("upstream-url", "", "Upstream session-mint endpoint")
	tokenServerCmd.Flags().String("api-key", "", "Upstream provider API key (or VOXTIDE_API_KEY)")
	tokenServerCmd.Flags().String("app-token", "", "Bearer token required from clients")
	tokenServerCmd.Flags().String("instructions", "", "Pin assistant instructions, overriding the upstream value")

	rootCmd.AddCommand(versionCmd, runCmd, tokenServerCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
