package api

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/webmention-receiver/internal/dispatcher"
	"github.com/JakeFAU/webmention-receiver/internal/metrics"
	"github.com/JakeFAU/webmention-receiver/internal/webmention"
)

const (
	defaultRecentLimit = 20
	maxRecentLimit     = 100
)

// receiveWebmention validates the form and queues the task. The processing
// outcome is never part of this response.
func (s *Server) receiveWebmention(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		metrics.ObserveRequest(string(webmention.ReasonInvalidParameter))
		writeText(w, http.StatusBadRequest, "webmention request body could not be parsed")
		return
	}
	req := webmention.Request{
		Source:   r.PostForm.Get("source"),
		Target:   r.PostForm.Get("target"),
		Callback: r.PostForm.Get("callback"),
	}
	if failure := validateRequest(req); failure != nil {
		metrics.ObserveRequest(string(failure.Reason))
		writeText(w, http.StatusBadRequest, failure.Detail)
		return
	}
	if s.sources.BlocksURL(req.Source) {
		metrics.ObserveRequest(string(webmention.ReasonInvalidParameter))
		s.logger.Info("webmention from blocked source host",
			zap.String("request_id", RequestID(r.Context())),
			zap.String("source", req.Source),
		)
		writeText(w, http.StatusBadRequest, "webmention source host is not accepted")
		return
	}

	task, err := s.submit.Submit(r.Context(), req)
	if err != nil {
		if errors.Is(err, dispatcher.ErrBusy) {
			metrics.ObserveRequest("busy")
			w.Header().Set("Retry-After", "30")
			writeText(w, http.StatusServiceUnavailable, "webmention receiver is busy, try again later")
			return
		}
		metrics.ObserveRequest("error")
		s.logger.Error("submit webmention failed",
			zap.String("request_id", RequestID(r.Context())),
			zap.String("source", req.Source),
			zap.String("target", req.Target),
			zap.Error(err),
		)
		writeText(w, http.StatusInternalServerError, "webmention could not be queued")
		return
	}

	metrics.ObserveRequest("accepted")
	s.logger.Info("webmention queued",
		zap.String("request_id", RequestID(r.Context())),
		zap.String("task_id", task.ID),
		zap.String("source", req.Source),
		zap.String("target", req.Target),
	)
	w.Header().Set("Location", "/v1/tasks/"+task.ID)
	writeText(w, http.StatusAccepted, "webmention queued for processing")
}

func validateRequest(req webmention.Request) *webmention.Failure {
	if req.Source == "" {
		return webmention.Reject(webmention.ReasonMissingParameter, "webmention missing required source parameter")
	}
	if req.Target == "" {
		return webmention.Reject(webmention.ReasonMissingParameter, "webmention missing required target parameter")
	}
	if !isHTTPURL(req.Source) {
		return webmention.Reject(webmention.ReasonInvalidParameter, "webmention source must be an absolute http(s) url")
	}
	if !isHTTPURL(req.Target) {
		return webmention.Reject(webmention.ReasonInvalidParameter, "webmention target must be an absolute http(s) url")
	}
	if req.Source == req.Target {
		return webmention.Reject(webmention.ReasonInvalidParameter, "webmention source and target must differ")
	}
	if req.Callback != "" && !isHTTPURL(req.Callback) {
		return webmention.Reject(webmention.ReasonInvalidParameter, "webmention callback must be an absolute http(s) url")
	}
	return nil
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	record, err := s.tasks.GetTask(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, webmention.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to fetch task")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task": record})
}

func (s *Server) listPostMentions(w http.ResponseWriter, r *http.Request) {
	shortID := chi.URLParam(r, "short_id")
	post, err := s.posts.FindByShortID(r.Context(), shortID)
	if err != nil {
		if errors.Is(err, webmention.ErrPostNotFound) {
			writeError(w, http.StatusNotFound, "post not found")
			return
		}
		s.logger.Error("load post failed", zap.String("post", shortID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to fetch post")
		return
	}
	mentions := post.ActiveMentions()
	if all, _ := strconv.ParseBool(r.URL.Query().Get("all")); all {
		mentions = post.Mentions
	}
	if mentions == nil {
		mentions = []webmention.Mention{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"post_short_id":  post.ShortID,
		"post_permalink": post.Permalink,
		"mentions":       mentions,
	})
}

func (s *Server) listRecentMentions(w http.ResponseWriter, r *http.Request) {
	if s.recent == nil {
		writeJSON(w, http.StatusOK, map[string]any{"mentions": []webmention.RecentMention{}})
		return
	}
	limit := defaultRecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxRecentLimit)
	}
	items, err := s.recent.List(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list recent mentions")
		return
	}
	if items == nil {
		items = []webmention.RecentMention{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"mentions": items})
}
