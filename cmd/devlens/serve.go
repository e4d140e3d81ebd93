package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	ghadapter "github.com/devlens/devlens/internal/adapters/github"
	"github.com/devlens/devlens/internal/collab"
	"github.com/devlens/devlens/internal/inference"
	"github.com/devlens/devlens/internal/models"
	"github.com/devlens/devlens/internal/notify"
	"github.com/devlens/devlens/internal/pipeline"
	"github.com/devlens/devlens/internal/realtime"
	"github.com/devlens/devlens/internal/search"
	"github.com/devlens/devlens/internal/timeline"
)

var (
	serveAddr      string
	serveAuthToken string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ingestion pipeline, realtime hub and HTTP API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "listen address")
	serveCmd.Flags().StringVar(&serveAuthToken, "ws-token", "", "shared token required on websocket connects")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	hub := realtime.NewHub(
		realtime.WithAIOracle(a.oracles.Completer),
		realtime.WithHeartbeat(cfg.Realtime.HeartbeatInterval, cfg.Realtime.HeartbeatTimeout),
		realtime.WithMailboxSize(cfg.Realtime.MailboxSize),
		realtime.WithOfflineLimit(cfg.Realtime.OfflineQueueSize),
	)
	hub.Start()
	defer hub.Stop()

	var notifyStore notify.Store
	if cfg.Storage.NotifyDSN != "" {
		driver := cfg.Storage.NotifyDriver
		if driver == "sqlite" {
			driver = "sqlite3"
		}
		store, err := notify.NewSQLStore(driver, cfg.Storage.NotifyDSN)
		if err != nil {
			logger.WithError(err).Warn("Notification store unavailable, using memory")
			notifyStore = notify.NewMemoryStore()
		} else {
			notifyStore = store
		}
	} else {
		notifyStore = notify.NewMemoryStore()
	}
	defer notifyStore.Close()

	var limiter notify.Limiter
	if a.rdb != nil {
		limiter = notify.NewRedisLimiter(a.rdb)
	}
	notifier := notify.NewService(notifyStore, limiter, hub, cfg.Notify)
	go notifier.Prune(ctx)

	rooms := collab.NewManager(hub)

	inferrer := inference.New(cfg.Inference, a.oracles.Completer)
	var failures pipeline.FailureLog
	if a.pool != nil {
		if fl, err := pipeline.NewPostgresFailureLog(ctx, a.pool); err == nil {
			failures = fl
		} else {
			logger.WithError(err).Warn("Failed-event log unavailable")
		}
	}

	pipe := pipeline.New(cfg.Pipeline, cfg.Inference, cfg.DefaultProjectID,
		a.timeline, a.graph, a.oracles.Embedder, inferrer, failures,
		pipeline.WithSinks(realtime.NewSink(hub), notify.NewSink(notifier)))
	pipe.Start(ctx)
	defer pipe.Stop()

	reconciler := timeline.NewReconciler(a.timeline, 5*time.Minute)
	go reconciler.Run(ctx)

	searcher := search.New(a.index, a.graph, a.repo, a.oracles.Embedder)
	webhooks := ghadapter.New("", "", "")

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", realtime.Handler(hub, realtime.HandlerConfig{AuthToken: serveAuthToken}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/api/events", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var event models.IntegrationEvent
		if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
			http.Error(w, "invalid event payload", http.StatusBadRequest)
			return
		}
		submit(w, r, pipe, &event)
	})

	mux.HandleFunc("/api/webhooks/github", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		payload, err := readBody(r)
		if err != nil {
			http.Error(w, "unreadable payload", http.StatusBadRequest)
			return
		}
		events, err := webhooks.ProcessWebhook(r.Context(), r.URL.Query().Get("project_id"),
			r.Header.Get("X-GitHub-Event"), payload)
		if err != nil {
			http.Error(w, "invalid webhook payload", http.StatusBadRequest)
			return
		}
		accepted := 0
		for _, ev := range events {
			if err := pipe.Submit(r.Context(), ev); err == nil {
				accepted++
			} else {
				logger.WithError(err).WithField("event_id", ev.ID).Warn("Webhook event rejected")
			}
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"received": len(events), "accepted": accepted})
	})

	mux.HandleFunc("/api/search", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		limit, _ := strconv.Atoi(q.Get("limit"))
		resp := searcher.Search(r.Context(), search.Request{
			ProjectID: q.Get("project_id"),
			Query:     q.Get("q"),
			Type:      q.Get("type"),
			Limit:     limit,
		})
		writeJSON(w, http.StatusOK, resp)
	})

	mux.HandleFunc("/api/timeline", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		limit, _ := strconv.Atoi(q.Get("limit"))
		minImportance, _ := strconv.ParseFloat(q.Get("min_importance"), 64)
		entries, err := a.timeline.Retrieve(r.Context(), timeline.Query{
			ProjectID:     q.Get("project_id"),
			Category:      models.TimelineCategory(q.Get("category")),
			MinImportance: minImportance,
			IncludeFrozen: q.Get("include_frozen") == "true",
			Limit:         limit,
		})
		if err != nil {
			http.Error(w, "timeline query failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, entries)
	})

	mux.HandleFunc("/api/analytics", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		days, _ := strconv.Atoi(q.Get("days"))
		if days <= 0 {
			days = 30
		}
		analytics, err := a.timeline.AnalyticsFor(r.Context(), q.Get("project_id"), days)
		if err != nil {
			http.Error(w, "analytics query failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, analytics)
	})

	mux.HandleFunc("/api/notifications", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		limit, _ := strconv.Atoi(q.Get("limit"))
		list, err := notifyStore.ListNotifications(r.Context(), q.Get("user_id"),
			q.Get("unread") == "true", limit)
		if err != nil {
			http.Error(w, "notification query failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, list)
	})

	mux.HandleFunc("/api/collab/snapshot", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, rooms.SnapshotFor(r.URL.Query().Get("project_id")))
	})

	mux.HandleFunc("/api/collab/comments", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			ProjectID string         `json:"project_id"`
			Comment   collab.Comment `json:"comment"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid comment payload", http.StatusBadRequest)
			return
		}
		saved, err := rooms.AddComment(req.ProjectID, req.Comment)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusCreated, saved)
	})

	mux.HandleFunc("/api/collab/insights", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			ProjectID string `json:"project_id"`
			Author    string `json:"author"`
			Title     string `json:"title"`
			Body      string `json:"body"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid insight payload", http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusCreated, rooms.ShareInsight(req.ProjectID, req.Author, req.Title, req.Body))
	})

	server := &http.Server{Addr: serveAddr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	logger.WithField("addr", serveAddr).Info("DevLens serving")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func submit(w http.ResponseWriter, r *http.Request, pipe *pipeline.Pipeline, event *models.IntegrationEvent) {
	err := pipe.Submit(r.Context(), event)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"event_id": event.ID})
	case errors.Is(err, pipeline.ErrQueueFull):
		http.Error(w, "queue full, retry later", http.StatusTooManyRequests)
	case pipeline.Classify(err) == pipeline.ClassValidation:
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, "submit failed", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WithError(err).Debug("Response encode failed")
	}
}

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(io.LimitReader(r.Body, 1<<20))
}
