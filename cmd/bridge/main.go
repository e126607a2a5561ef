// Command bridge is the thin process entrypoint: it loads configuration,
// opens an AWS Bedrock client, starts the telephony WebSocket listener, and
// wires each accepted call into a session.Coordinator. Following the
// teacher's Bedrock.Cfg/GetClient split (integration-api/internal/callers/
// bedrock/bedrock.go), AWS credential resolution is kept in one small
// function here rather than threaded through every caller.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/gorilla/websocket"
	"github.com/spf13/viper"

	"github.com/rapidaai/voicebridge/internal/config"
	"github.com/rapidaai/voicebridge/internal/logging"
	"github.com/rapidaai/voicebridge/internal/modelstream"
	"github.com/rapidaai/voicebridge/internal/session"
	"github.com/rapidaai/voicebridge/internal/telephony"
)

func main() {
	configPath := flag.String("config", "", "optional path to a YAML/JSON config file")
	listenAddr := flag.String("listen", ":8080", "telephony WebSocket listen address")
	logFile := flag.String("log-file", "", "optional log file path (rotated via lumberjack)")
	flag.Parse()

	logger, err := logging.NewLogger(logging.Options{Level: "info", FilePath: *logFile})
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	v := viper.New()
	if *configPath != "" {
		v.SetConfigFile(*configPath)
		if err := v.ReadInConfig(); err != nil {
			logger.Errorw("failed to read config file, continuing with defaults", "error", err.Error())
		}
	}
	cfg, err := config.LoadDefaults(v)
	if err != nil {
		logger.Errorf("failed to load configuration: %v", err)
		os.Exit(1)
	}
	if !cfg.Model.Valid() {
		logger.Warnw("model.model_id is empty; sessions will fail to open a model stream until configured")
	}

	awsCfg, err := loadAWSConfig(context.Background(), cfg.Model.Region)
	if err != nil {
		logger.Errorf("failed to resolve AWS config: %v", err)
		os.Exit(1)
	}
	bedrockClient := bedrockruntime.NewFromConfig(awsCfg)

	registry := session.NewRegistry()
	directory := newStaticDirectory()
	retriever := newUnavailableRetriever()

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Infow("shutdown signal received")
		registry.ShutdownAll("process shutdown")
		cancel()
	}()

	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/telephony/stream", func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warnw("websocket upgrade failed", "error", err.Error())
			return
		}
		conn := telephony.NewConn(ws)

		// §3: a session exists only once the peer completes the "start"
		// handshake with a valid call identifier (§8 scenario 4). Nothing
		// is opened or registered until that handshake is read and
		// validated.
		startMsg, err := readStartHandshake(conn)
		if err != nil {
			logger.Warnw("start handshake rejected", "error", err.Error())
			return
		}
		callID := startMsg.Start.CallSid
		conn.SetStreamSid(startMsg.StreamSid)
		if rate := startMsg.Start.SampleRateHz; rate != 0 && rate != 8000 {
			logger.Warnw("start advertised a sample rate other than 8000 Hz; transcoding assumes 8 kHz mu-law", "call_id", callID, "sample_rate_hz", rate)
		}

		stream, err := modelstream.NewBedrockStream(ctx, bedrockClient, cfg.Model.ModelID)
		if err != nil {
			logger.Errorw("failed to open model stream", "call_id", callID, "error", err.Error())
			_ = conn.CloseWithCode(telephony.CloseInternal, "model stream unavailable")
			return
		}

		coord := session.New(callID, conn, stream, directory, retriever, cfg, registry, logger)
		if err := registry.Register(callID, coord); err != nil {
			logger.Errorw("duplicate call id rejected", "call_id", callID, "error", err.Error())
			_ = conn.CloseWithCode(telephony.ClosePolicyViolation, "duplicate call id")
			return
		}

		go func() {
			if err := coord.Run(ctx, startMsg); err != nil {
				logger.Warnw("session ended", "call_id", callID, "error", err.Error())
			}
		}()
	})

	srv := &http.Server{Addr: *listenAddr, Handler: mux}
	logger.Infow("bridge listening", "addr", *listenAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Errorf("server exited: %v", err)
	}
}

// readStartHandshake blocks until the peer completes the §3/§6 "start"
// handshake with a non-empty streamSid and start.callSid, per §8 scenario
// 4. "connected" is a no-op preamble some telephony peers send first; any
// other event, or a start with a missing identifier, closes the socket with
// 1008 (policy violation) and is never opened as a session.
func readStartHandshake(conn *telephony.Conn) (telephony.InboundMessage, error) {
	for {
		raw, err := conn.ReadMessage()
		if err != nil {
			return telephony.InboundMessage{}, fmt.Errorf("failed to read start handshake: %w", err)
		}
		msg, err := telephony.Parse(raw)
		if err != nil {
			_ = conn.CloseWithCode(telephony.CloseInvalidMessage, "malformed control message")
			return telephony.InboundMessage{}, err
		}
		switch msg.Event {
		case "connected":
			continue
		case "start":
			if msg.Start == nil || msg.Start.CallSid == "" || msg.StreamSid == "" {
				_ = conn.CloseWithCode(telephony.ClosePolicyViolation, "invalid start handshake: missing call identifier")
				return telephony.InboundMessage{}, fmt.Errorf("start handshake missing call identifier")
			}
			return msg, nil
		default:
			_ = conn.CloseWithCode(telephony.ClosePolicyViolation, fmt.Sprintf("expected start handshake, got %q", msg.Event))
			return telephony.InboundMessage{}, fmt.Errorf("unexpected event %q before start handshake", msg.Event)
		}
	}
}

// loadAWSConfig mirrors the teacher's Bedrock.Cfg, generalized to rely on
// the default credential chain (environment, shared config, IMDS) instead
// of statically-resolved access keys, since this bridge is a long-running
// process rather than a per-request caller resolving per-tenant vault
// credentials.
func loadAWSConfig(ctx context.Context, region string) (aws.Config, error) {
	return awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
}
