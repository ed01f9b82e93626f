package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-pipeline/internal/job"
	"github.com/sells-group/lead-pipeline/internal/model"
	"github.com/sells-group/lead-pipeline/internal/monitoring"
	"github.com/sells-group/lead-pipeline/internal/store"
)

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.jobs.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) submitDiscovery(w http.ResponseWriter, r *http.Request) {
	var req job.Request
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err)
		return
	}

	accepted, err := s.submitter.Submit(r.Context(), req)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, accepted)
	case eris.Is(err, job.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "invalid_request", err)
	default:
		zap.L().Error("api: submit discovery", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", eris.New("could not start discovery job"))
	}
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	j, err := s.jobs.GetJob(r.Context(), id)
	if eris.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", eris.Errorf("job %s not found", id))
		return
	}
	if err != nil {
		zap.L().Error("api: get job", zap.String("job_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", eris.New("could not load job"))
		return
	}

	if j.Status == model.JobStatusCompleted && len(j.Results) == 0 {
		leads, err := s.jobs.ListLeads(r.Context(), j.CampaignID)
		if err != nil {
			zap.L().Warn("api: list leads", zap.String("job_id", id), zap.Error(err))
		} else {
			j.Results = leads
		}
	}
	writeJSON(w, http.StatusOK, j)
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.JobFilter{
		Status:     model.JobStatus(q.Get("status")),
		CampaignID: q.Get("campaign_id"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", eris.Errorf("invalid limit %q", v))
			return
		}
		filter.Limit = n
	}

	jobs, err := s.jobs.ListJobs(r.Context(), filter)
	if err != nil {
		zap.L().Error("api: list jobs", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", eris.New("could not list jobs"))
		return
	}
	if jobs == nil {
		jobs = []model.DiscoveryJob{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) listBreakers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"breakers": s.breakers.Snapshot()})
}

type metricsResponse struct {
	Snapshot *monitoring.MetricsSnapshot `json:"snapshot,omitempty"`
	Points   []monitoring.Point          `json:"points,omitempty"`
}

func (s *Server) metrics(w http.ResponseWriter, r *http.Request) {
	var resp metricsResponse
	if s.collector != nil {
		snap, err := s.collector.Collect(r.Context(), s.lookbackHours)
		if err != nil {
			zap.L().Error("api: collect snapshot", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal", eris.New("could not collect metrics"))
			return
		}
		resp.Snapshot = snap
	}
	if s.reader != nil {
		points, err := monitoring.Collect(r.Context(), s.reader)
		if err != nil {
			zap.L().Error("api: collect points", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal", eris.New("could not collect metrics"))
			return
		}
		resp.Points = points
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	buf.WriteTo(w) //nolint:errcheck
}

func writeError(w http.ResponseWriter, code int, errCode string, err error) {
	writeJSON(w, code, map[string]string{"error": errCode, "message": err.Error()})
}
