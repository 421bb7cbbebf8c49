// Event viewer streams call job lifecycle events from Kafka to browsers over WebSocket.
package main

import (
	"context"
	"embed"
	"flag"
	"io/fs"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	"github.com/tidwall/gjson"

	"ai-call-triage-service/internal/observability/logging"
)

//go:embed static/*
var staticFiles embed.FS

// summarize picks the fields worth logging from a lifecycle event.
func summarize(payload []byte) (eventType, jobID, detail string, ok bool) {
	if !gjson.ValidBytes(payload) {
		return "", "", "", false
	}
	r := gjson.ParseBytes(payload)
	eventType = r.Get("eventType").String()
	jobID = r.Get("jobId").String()
	if eventType == "" || jobID == "" {
		return "", "", "", false
	}
	if to := r.Get("to"); to.Exists() {
		detail = r.Get("from").String() + " -> " + to.String()
	} else {
		detail = r.Get("status").String() + " " + r.Get("severity").String()
	}
	return eventType, jobID, strings.TrimSpace(detail), true
}

func consumeKafka(ctx context.Context, hub *Hub, brokers, topic string) {
	// Partition reader without consumer group works better through port-forward
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   strings.Split(brokers, ","),
		Topic:     topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	defer reader.Close()

	if err := reader.SetOffsetAt(ctx, time.Now().Add(-1*time.Hour)); err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("Could not rewind to the last hour")
	}
	log.Info().Str("topic", topic).Msg("Consuming partition 0 (last hour)")

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Str("topic", topic).Msg("Kafka read error")
			time.Sleep(time.Second)
			continue
		}

		eventType, jobID, detail, ok := summarize(msg.Value)
		if !ok {
			log.Debug().Str("topic", topic).Msg("Skipping unrecognised message")
			continue
		}
		log.Info().Str("eventType", eventType).Str("jobId", jobID).Str("detail", detail).Msg("Received event")

		select {
		case hub.broadcast <- msg.Value:
		case <-ctx.Done():
			return
		}
	}
}

func main() {
	port := flag.String("port", "8081", "HTTP server port")
	brokers := flag.String("brokers", "localhost:9092", "Kafka brokers (comma-separated)")
	topicStatus := flag.String("topic-status", "calljob.status", "Status change topic")
	topicOutcome := flag.String("topic-outcome", "calljob.outcome", "Job outcome topic")
	flag.Parse()

	cfg := logging.DefaultConfig()
	cfg.Format = "console"
	logging.Init(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := newHub()
	go hub.run(ctx.Done())

	go consumeKafka(ctx, hub, *brokers, *topicStatus)
	go consumeKafka(ctx, hub, *brokers, *topicOutcome)

	staticFS, _ := fs.Sub(staticFiles, "static")
	mux := http.NewServeMux()
	mux.Handle("/", http.FileServer(http.FS(staticFS)))
	mux.HandleFunc("/ws", wsHandler(hub))

	srv := &http.Server{Addr: ":" + *port, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().
		Str("url", "http://localhost:"+*port).
		Str("brokers", *brokers).
		Strs("topics", []string{*topicStatus, *topicOutcome}).
		Msg("Event viewer starting")

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("Server error")
	}
}
