// orderline is a real-time voice ordering agent for restaurants. It
// answers phone calls over a media-stream WebSocket, carries the order
// dialog, and persists confirmed orders.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/orderline-ai/orderline/pkg/dialog"
	"github.com/orderline-ai/orderline/pkg/order"
	"github.com/orderline-ai/orderline/pkg/server"
	"github.com/orderline-ai/orderline/pkg/session"
	"github.com/orderline-ai/orderline/pkg/store"
	"github.com/orderline-ai/orderline/pkg/stt"
	"github.com/orderline-ai/orderline/pkg/trace"
	"github.com/orderline-ai/orderline/pkg/tts"
	"github.com/orderline-ai/orderline/pkg/vad"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "orderline",
	Short: "Real-time voice phone ordering agent for restaurants",
	Long: `orderline answers restaurant phone lines over Twilio Media Streams,
holds the ordering conversation with the caller, and persists confirmed
pickup orders.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.orderline.yaml)")

	rootCmd.Flags().String("addr", ":8080", "Listen address")
	rootCmd.Flags().String("stream-url", "ws://localhost:8080/media", "Public media stream URL used in TwiML")
	rootCmd.Flags().String("redis-addr", "localhost:6379", "Redis address for call state")
	rootCmd.Flags().String("database-url", "postgres://localhost:5432/orderline", "Postgres connection string")
	rootCmd.Flags().String("dialog-model", "", "Chat model for turn extraction")
	rootCmd.Flags().String("voice-id", "", "Voice for synthesized replies")
	rootCmd.Flags().String("language", "en", "Caller language")
	rootCmd.Flags().Int("max-turns", order.DefaultMaxTurns, "Turn budget per call")
	rootCmd.Flags().Float64("vad-threshold", 0, "RMS energy above which a frame counts as speech (0 = default)")
	rootCmd.Flags().String("trace-exporter", "none", "Trace exporter: stdout or none")

	viper.BindPFlags(rootCmd.Flags())
}

func initConfig() {
	// .env carries the API keys in development; missing is fine.
	godotenv.Load()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".orderline")
	}

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	traceCfg := trace.DefaultConfig()
	traceCfg.ExporterType = viper.GetString("trace-exporter")
	if err := trace.Initialize(ctx, traceCfg); err != nil {
		return fmt.Errorf("initialize tracing: %w", err)
	}
	defer trace.Shutdown(context.Background())

	pool, err := store.Connect(ctx, viper.GetString("database-url"))
	if err != nil {
		return err
	}
	defer pool.Close()

	repo := store.NewRepository(pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		return err
	}

	rdb := redis.NewClient(&redis.Options{Addr: viper.GetString("redis-addr")})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	defer rdb.Close()
	states := store.NewCallStateStore(rdb, 0)

	engine := dialog.NewEngine(dialog.EngineConfig{
		APIKey:   os.Getenv("OPENAI_API_KEY"),
		Model:    viper.GetString("dialog-model"),
		Language: viper.GetString("language"),
	})
	if !engine.Enabled() {
		log.Printf("[Main] OPENAI_API_KEY not set, dialog runs in fallback mode")
	}

	gateway := stt.NewGateway(stt.Config{
		APIKey:   os.Getenv("OPENAI_API_KEY"),
		Language: viper.GetString("language"),
	})

	var synth tts.Synthesizer = tts.Noop{}
	if key := os.Getenv("ELEVENLABS_API_KEY"); key != "" {
		synth, err = tts.NewElevenLabsProvider(tts.ElevenLabsConfig{
			APIKey:  key,
			VoiceID: viper.GetString("voice-id"),
		})
		if err != nil {
			return fmt.Errorf("configure speech synthesis: %w", err)
		}
	} else {
		log.Printf("[Main] ELEVENLABS_API_KEY not set, replies will be silent")
	}

	machine := order.NewMachine(
		order.MachineConfig{MaxTurns: viper.GetInt("max-turns")},
		engine, states, repo, uuid.NewString,
	)

	srv := server.New(server.Config{
		Address:   viper.GetString("addr"),
		StreamURL: viper.GetString("stream-url"),
	}, session.Deps{
		Turns:       machine,
		STT:         gateway,
		TTS:         synth,
		States:      states,
		Restaurants: repo,
		VAD:         vad.Config{VoiceThreshold: viper.GetFloat64("vad-threshold")},
		VoiceID:     viper.GetString("voice-id"),
	})

	if err := srv.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	log.Printf("[Main] Shutdown signal received")
	return srv.Stop()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
