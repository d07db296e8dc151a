package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"chat_room/internal/bus"
	"chat_room/internal/history"
	"chat_room/internal/janitor"
	"chat_room/internal/presence"
	"chat_room/internal/session"
	"chat_room/internal/ws"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
)

// Redis key layout shared by every instance.
const (
	messagesKey = "chat:messages"
	presenceKey = "chat:online-users"
	sessionsKey = "chat:sessions"
	busChannel  = "chat-messages"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // served behind the same origin or a trusted LB
	},
}

func main() {
	// 1. Configuration
	port := os.Getenv("PORT")
	if port == "" {
		port = "5000"
	}
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		redisURL = "redis://localhost:6379"
	}
	var callTimeout time.Duration
	if v := os.Getenv("STORE_TIMEOUT_SECONDS"); v != "" {
		if seconds, err := strconv.Atoi(v); err == nil && seconds > 0 {
			callTimeout = time.Duration(seconds) * time.Second
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Redis. Failure to reach the store at startup is the only fatal
	// error path.
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Fatalf("Invalid REDIS_URL: %v", err)
	}
	client := redis.NewClient(opts)
	defer client.Close()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatalf("Failed to connect to Redis at %s: %v", opts.Addr, err)
	}
	log.Printf("Connected to Redis at %s", opts.Addr)

	// 3. Shared state
	store := history.NewRedisStore(client, messagesKey)
	registry := presence.NewRedisRegistry(client, presenceKey)
	directory := session.NewRedisDirectory(client, sessionsKey)
	fanout := bus.NewRedisBus(client, busChannel)

	// 4. Hub + session handler
	hub := ws.NewHub()
	handler := ws.NewSessionHandler(hub, registry, directory, store, fanout, callTimeout)
	hub.SetHandler(handler)
	go hub.Run()

	// 5. Fanout subscriber: everything published anywhere lands on this
	// instance's clients through here.
	if err := fanout.Subscribe(ctx, hub.BroadcastAll); err != nil {
		log.Fatalf("Failed to subscribe to fanout channel: %v", err)
	}

	// 6. Janitor
	go janitor.New(directory, registry).Start(ctx, janitor.DefaultInterval)

	// 7. HTTP
	instanceID := uuid.New().String()
	log.Printf("Instance %s starting", instanceID)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("Failed to upgrade connection: %v", err)
			return
		}

		c := ws.NewClient(hub, conn, uuid.New().String(), r.RemoteAddr)
		hub.Register <- c

		go c.WritePump()
		go c.ReadPump(handler)
	})
	mux.Handle("/", http.FileServer(http.Dir("frontend")))

	server := &http.Server{Addr: ":" + port, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Printf("Server running on port %s", port)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}
