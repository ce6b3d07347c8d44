package web

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"soul-teller/server/internal/catalog"
	"soul-teller/server/internal/dialogue"
	"soul-teller/server/internal/engine"
	"soul-teller/server/internal/export"
	"soul-teller/server/internal/models"
	"soul-teller/server/internal/playroom"
	"soul-teller/server/internal/rag"
	"soul-teller/server/internal/secure"
	"soul-teller/server/internal/settings"
)

// Streamer streams a dialogue reply token by token
type Streamer interface {
	RespondStream(ctx context.Context, input string, dctx *dialogue.Context, onDelta func(string) error) (string, error)
}

// ArchiveStore is the optional MySQL archive
type ArchiveStore interface {
	RecordExport(ctx context.Context, rec *models.ExportRecord) error
	ListArchives(ctx context.Context, limit int) ([]models.SessionArchive, error)
	GetArchive(ctx context.Context, id string) (*models.SessionArchive, []models.ChoiceRecord, error)
}

// IndexerStats reports the background vector indexing queue
type IndexerStats interface {
	Stats() rag.IndexerStats
}

// EmbeddingStats reports the embedding cache
type EmbeddingStats interface {
	GetStats() *rag.EmbeddingStats
}

// Deps are the components the API serves. Avatar, Archive, Dialogue,
// Indexer and Embeddings may be nil.
type Deps struct {
	Catalog  *catalog.Catalog
	Engine   *engine.StoryEngine
	Room     *playroom.Room
	Exporter *export.Exporter
	Secure   *secure.Store
	Settings *settings.Store
	Hub      *SessionHub
	Dialogue Streamer
	Avatar   *AvatarService
	Archive  ArchiveStore

	Indexer    IndexerStats
	Embeddings EmbeddingStats
}

type Handlers struct {
	Deps
	logger *slog.Logger
}

// CORS middleware
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		w.Header().Set("Access-Control-Max-Age", "300")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// requestLogger logs every request once it has been served
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
			)
		})
	}
}

func NewRouter(deps Deps, logger *slog.Logger) *chi.Mux {
	h := &Handlers{Deps: deps, logger: logger.With("component", "web")}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(h.logger))
	r.Use(corsMiddleware)

	r.Get("/health", h.HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", h.HealthCheck)

		r.Get("/worlds", h.ListWorlds)
		r.Get("/worlds/{id}", h.GetWorld)

		r.Route("/session", func(r chi.Router) {
			r.Get("/", h.GetSession)
			r.Post("/start", h.StartSession)
			r.Post("/choice", h.Choose)
			r.Put("/choices", h.UpdateChoices)
			r.Post("/choices/generate", h.RegenerateChoices)
			r.Post("/pause", h.PauseSession)
			r.Post("/resume", h.ResumeSession)
			r.Post("/end", h.EndSession)
			r.Post("/reset", h.ResetSession)
			r.Post("/save", h.SaveSession)
			r.Post("/load", h.LoadSession)
			r.Get("/stats", h.SessionStats)
			r.Get("/path", h.StoryPath)
			r.Get("/export", h.ExportSession)
			r.Get("/ws", h.SessionSocket)
		})
		r.Delete("/sessions/old", h.ClearOldSessions)

		r.Post("/dialogue", h.Talk)
		r.Post("/dialogue/quick", h.QuickReply)
		r.Post("/dialogue/stream", h.StreamReply)

		r.Route("/settings", func(r chi.Router) {
			r.Get("/credentials", h.GetCredentials)
			r.Put("/credentials", h.UpdateCredentials)
			r.Delete("/credentials", h.ClearCredentials)
			r.Get("/ui", h.GetUIState)
			r.Put("/ui", h.UpdateUIState)
		})

		r.Route("/avatar", func(r chi.Router) {
			r.Post("/connect", h.ConnectAvatar)
			r.Post("/disconnect", h.DisconnectAvatar)
			r.Get("/status", h.GetAvatarStatus)
		})

		r.Get("/archives", h.ListArchives)
		r.Get("/archives/{id}", h.GetArchive)
	})

	return r
}

func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":  "ok",
		"service": "soul-teller",
		"clients": h.Hub.ClientCount(),
	}
	if h.Indexer != nil {
		body["indexer"] = h.Indexer.Stats()
	}
	if h.Embeddings != nil {
		body["embeddings"] = h.Embeddings.GetStats()
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *Handlers) ListWorlds(w http.ResponseWriter, r *http.Request) {
	writeData(w, h.Catalog.Worlds())
}

func (h *Handlers) GetWorld(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	world, ok := h.Catalog.World(id)
	if !ok {
		writeError(w, &engine.NotFoundError{Kind: "world", ID: id})
		return
	}
	writeData(w, world)
}
