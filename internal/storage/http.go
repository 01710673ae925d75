package storage

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"chunkfs/internal/chunkerr"
	"chunkfs/internal/logging"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// NewRouter builds the chi router for the storage-node data channel of
// spec.md §6: upload_chunk, download_chunk, delete_chunk, list_chunks.
// Grounded on the retrieval pack's chunk/file-oriented chi routing
// (other_examples' marmos91/dittofs SMB handler) since the teacher's own
// HTTP surface is generated from protobuf via connectrpc.com/connect,
// which this exercise cannot regenerate.
func NewRouter(agent *Agent, logger *slog.Logger) http.Handler {
	logger = logging.Default(logger).With("component", "storage.http")
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Route("/v1/chunks", func(r chi.Router) {
		r.Get("/", handleListChunks(agent))
		r.Put("/{chunkID}", handleUploadChunk(agent, logger))
		r.Get("/{chunkID}", handleDownloadChunk(agent, logger))
		r.Delete("/{chunkID}", handleDeleteChunk(agent, logger))
		r.Post("/{chunkID}/pull", handlePullChunk(agent, logger))
	})

	return r
}

func parseChunkID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "chunkID"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, chunkerr.ChunkNotFound):
		status = http.StatusNotFound
	case errors.Is(err, chunkerr.ChecksumMismatch):
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func handleListChunks(agent *Agent) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"chunk_ids": agent.ListChunks()})
	}
}

func handleUploadChunk(agent *Agent, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chunkID, err := parseChunkID(r)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid chunk id"})
			return
		}

		var req uploadChunkRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
			return
		}

		ctx, cancel := withRequestDeadline(r)
		defer cancel()

		if err := agent.PutChunk(ctx, chunkID, req.Data, req.Checksum, req.ReplicaAddrs); err != nil {
			logger.Warn("upload chunk failed", "chunk", chunkID, "error", err)
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func handleDownloadChunk(agent *Agent, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chunkID, err := parseChunkID(r)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid chunk id"})
			return
		}

		ctx, cancel := withRequestDeadline(r)
		defer cancel()

		data, checksum, err := agent.GetChunk(ctx, chunkID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, downloadChunkResponse{Data: data, Checksum: checksum})
	}
}

func handleDeleteChunk(agent *Agent, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chunkID, err := parseChunkID(r)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid chunk id"})
			return
		}

		ctx, cancel := withRequestDeadline(r)
		defer cancel()

		if err := agent.DeleteChunk(ctx, chunkID); err != nil {
			logger.Warn("delete chunk failed", "chunk", chunkID, "error", err)
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func handlePullChunk(agent *Agent, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chunkID, err := parseChunkID(r)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid chunk id"})
			return
		}
		var req struct {
			SourceAddr string `json:"source_addr"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
			return
		}

		ctx, cancel := withRequestDeadline(r)
		defer cancel()

		if err := agent.PullChunk(ctx, req.SourceAddr, chunkID); err != nil {
			logger.Warn("pull chunk failed", "chunk", chunkID, "source", req.SourceAddr, "error", err)
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// withRequestDeadline derives a bounded context for a data-channel request,
// matching spec.md §5's "every RPC carries a deadline".
func withRequestDeadline(r *http.Request) (ctx context.Context, cancel context.CancelFunc) {
	return context.WithTimeout(r.Context(), 60*time.Second)
}
