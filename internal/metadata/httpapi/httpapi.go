// Package httpapi exposes metadata.Service's client-facing RPCs (spec.md
// §6) and the storage-to-metadata RPCs (heartbeat, report_chunk_issue)
// over HTTP/JSON via chi, the transport decided in SPEC_FULL.md §4.6 for
// both non-goal wire surfaces this module owns end to end.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"chunkfs/internal/auth"
	"chunkfs/internal/chunkerr"
	"chunkfs/internal/logging"
	"chunkfs/internal/metadata"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// Config configures the metadata HTTP API.
type Config struct {
	Tokens *auth.TokenService // nil disables bearer-token auth (tests, single-user dev)
	Logger *slog.Logger
}

// NewRouter builds the chi router for a metadata node's client-facing
// control channel and storage-node heartbeat channel.
func NewRouter(svc *metadata.Service, cfg Config) http.Handler {
	logger := logging.Default(cfg.Logger).With("component", "metadata.http")
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	if cfg.Tokens != nil {
		r.Use(authMiddleware(cfg.Tokens))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Route("/v1/fs", func(r chi.Router) {
		r.Post("/directories", handleCreateDirectory(svc))
		r.Get("/directories", handleListDirectory(svc))
		r.Delete("/entries", handleDelete(svc))
		r.Delete("/trees", handleDeleteRecursive(svc))
		r.Get("/resolve", handleResolvePath(svc))
		r.Get("/metadata", handleGetFileMetadata(svc))
		r.Post("/uploads", handleInitUpload(svc))
		r.Get("/uploads/{uploadID}", handleGetUploadSession(svc))
		r.Post("/uploads/{uploadID}/commit", handleCommitUpload(svc))
		r.Post("/uploads/{uploadID}/abort", handleAbortUpload(svc))
	})

	r.Get("/v1/servers/{serverID}", handleGetServer(svc))

	r.Route("/v1/storage", func(r chi.Router) {
		r.Post("/heartbeat", handleHeartbeat(svc, logger))
		r.Post("/chunk-issue", handleChunkIssue(svc, logger))
	})

	return r
}

func authMiddleware(tokens *auth.TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing bearer token"})
				return
			}
			claims, err := tokens.Verify(header[len(prefix):])
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid token"})
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithClaims(r.Context(), claims)))
		})
	}
}

func ownerFromRequest(r *http.Request) string {
	if claims := auth.ClaimsFromContext(r.Context()); claims != nil {
		return claims.Owner()
	}
	return "anonymous"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError translates the chunkerr taxonomy to HTTP status codes. A
// NotLeaderError becomes a 307 redirect hint the caller follows, matching
// storage.HTTPMetadataClient's expectations.
func writeError(w http.ResponseWriter, err error) {
	var notLeader *chunkerr.NotLeaderError
	if errors.As(err, &notLeader) {
		writeJSON(w, http.StatusTemporaryRedirect, map[string]string{"leader_hint": notLeader.LeaderHint})
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, chunkerr.NotFound), errors.Is(err, chunkerr.ParentNotFound), errors.Is(err, chunkerr.UploadNotFound):
		status = http.StatusNotFound
	case errors.Is(err, chunkerr.AlreadyExists):
		status = http.StatusConflict
	case errors.Is(err, chunkerr.NotADirectory), errors.Is(err, chunkerr.NotAFile), errors.Is(err, chunkerr.DirectoryNotEmpty), errors.Is(err, chunkerr.InvalidUpload):
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func handleCreateDirectory(svc *metadata.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Query().Get("path")
		in, err := svc.CreateDirectory(path, ownerFromRequest(r))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, in)
	}
}

func handleListDirectory(svc *metadata.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := svc.ListDirectory(r.URL.Query().Get("path"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
	}
}

func handleDelete(svc *metadata.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.Delete(r.URL.Query().Get("path")); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func handleDeleteRecursive(svc *metadata.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.DeleteRecursive(r.URL.Query().Get("path")); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func handleResolvePath(svc *metadata.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		in, err := svc.ResolvePath(r.URL.Query().Get("path"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, in)
	}
}

func handleGetFileMetadata(svc *metadata.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		version := 0
		if v := r.URL.Query().Get("version"); v != "" {
			parsed, err := strconv.Atoi(v)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid version"})
				return
			}
			version = parsed
		}
		in, chunks, err := svc.GetFileMetadata(r.URL.Query().Get("path"), version)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"inode": in, "chunks": chunks})
	}
}

type initUploadRequest struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
}

func handleInitUpload(svc *metadata.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req initUploadRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
			return
		}
		session, err := svc.InitUpload(req.Path, req.Size, ownerFromRequest(r))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, session)
	}
}

func parseUploadID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "uploadID"))
}

func handleGetUploadSession(svc *metadata.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseUploadID(r)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid upload id"})
			return
		}
		session, err := svc.GetUploadSession(id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, session)
	}
}

type commitUploadRequest struct {
	Checksums []string `json:"checksums"`
}

func handleCommitUpload(svc *metadata.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseUploadID(r)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid upload id"})
			return
		}
		var req commitUploadRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
			return
		}
		if err := svc.CommitUpload(id, req.Checksums); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func handleAbortUpload(svc *metadata.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseUploadID(r)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid upload id"})
			return
		}
		if err := svc.AbortUpload(id); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func handleGetServer(svc *metadata.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		srv, err := svc.GetServer(chi.URLParam(r, "serverID"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, srv)
	}
}

type heartbeatRequest struct {
	ServerID   string `json:"server_id"`
	Address    string `json:"address"`
	Capacity   int64  `json:"capacity"`
	Used       int64  `json:"used"`
	ChunkCount int    `json:"chunk_count"`
	Zone       string `json:"zone"`
}

func handleHeartbeat(svc *metadata.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req heartbeatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
			return
		}
		if err := svc.Heartbeat(req.ServerID, req.Address, req.Capacity, req.Used, req.ChunkCount, req.Zone); err != nil {
			logger.Warn("heartbeat propose failed", "server", req.ServerID, "error", err)
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

type chunkIssueRequest struct {
	ServerID string    `json:"server_id"`
	ChunkID  uuid.UUID `json:"chunk_id"`
	Kind     string    `json:"kind"`
}

func handleChunkIssue(svc *metadata.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req chunkIssueRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
			return
		}
		if err := svc.ReportChunkIssue(req.ServerID, req.ChunkID); err != nil {
			logger.Warn("report chunk issue failed", "server", req.ServerID, "chunk", req.ChunkID, "error", err)
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
