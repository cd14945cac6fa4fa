package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"
	"github.com/xeipuuv/gojsonschema"

	"github.com/ogxcoders/videopress/errors"
	"github.com/ogxcoders/videopress/log"
	"github.com/ogxcoders/videopress/queue"
)

const maxRecentJobs = 100

type webhookActionRequest struct {
	Action string `json:"action"`
	JobID  string `json:"jobId"`
}

// WebhookAction is the administrative entry point: acknowledge, status,
// retry, and cancel. Retry and cancel gate on the job's current state.
func (d *APIHandlersCollection) WebhookAction() httprouter.Handle {
	schema := inputSchemasCompiled["WebhookAction"]

	return func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		var action webhookActionRequest

		if !HasContentType(req, "application/json") {
			errors.WriteHTTPUnsupportedMediaType(w, "Requires application/json content type", nil)
			return
		} else if payload, err := io.ReadAll(req.Body); err != nil {
			errors.WriteHTTPInternalServerError(w, "Cannot read payload", err)
			return
		} else if result, err := schema.Validate(gojsonschema.NewBytesLoader(payload)); err != nil {
			errors.WriteHTTPBadRequest(w, "Invalid request payload", err)
			return
		} else if !result.Valid() {
			errors.WriteHTTPBadBodySchema("WebhookAction", w, result.Errors())
			return
		} else if err := json.Unmarshal(payload, &action); err != nil {
			errors.WriteHTTPBadRequest(w, "Invalid request payload", err)
			return
		}

		switch action.Action {
		case "acknowledge":
			writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "acknowledged": true})

		case "status":
			if action.JobID == "" {
				errors.WriteHTTPBadRequest(w, "jobId is required for status", nil)
				return
			}
			job, err := d.Broker.Get(req.Context(), action.JobID)
			if err == queue.ErrNotFound {
				errors.WriteHTTPNotFound(w, "No such job", nil)
				return
			}
			if err != nil {
				errors.WriteHTTPServiceUnavailable(w, "Broker unreachable", err)
				return
			}
			writeJSON(w, http.StatusOK, jobStatusResponse(job))

		case "retry":
			if action.JobID == "" {
				errors.WriteHTTPBadRequest(w, "jobId is required for retry", nil)
				return
			}
			ok, err := d.Broker.Retry(req.Context(), action.JobID)
			if err != nil {
				errors.WriteHTTPServiceUnavailable(w, "Broker unreachable", err)
				return
			}
			if !ok {
				errors.WriteHTTPConflict(w, "Only failed jobs can be retried", nil)
				return
			}
			log.Log(action.JobID, "job retried via admin action")
			writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "jobId": action.JobID, "state": queue.StatePending})

		case "cancel":
			if action.JobID == "" {
				errors.WriteHTTPBadRequest(w, "jobId is required for cancel", nil)
				return
			}
			ok, err := d.Broker.Remove(req.Context(), action.JobID)
			if err != nil {
				errors.WriteHTTPServiceUnavailable(w, "Broker unreachable", err)
				return
			}
			if !ok {
				errors.WriteHTTPConflict(w, "Job is already terminal or unknown", nil)
				return
			}
			log.Log(action.JobID, "job cancelled via admin action")
			writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "jobId": action.JobID, "cancelled": true})

		default:
			errors.WriteHTTPBadRequest(w, "Unknown action", nil)
		}
	}
}

// AdminJobs lists recent jobs, capped at 100.
func (d *APIHandlersCollection) AdminJobs() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		limit := int64(maxRecentJobs)
		if raw := req.URL.Query().Get("limit"); raw != "" {
			parsed, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || parsed <= 0 {
				errors.WriteHTTPBadRequest(w, "limit must be a positive integer", err)
				return
			}
			if parsed < limit {
				limit = parsed
			}
		}

		jobs, err := d.Broker.ListRecent(req.Context(), limit)
		if err != nil {
			errors.WriteHTTPServiceUnavailable(w, "Broker unreachable", err)
			return
		}

		out := make([]JobStatusResponse, 0, len(jobs))
		for _, job := range jobs {
			out = append(out, jobStatusResponse(job))
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": out, "count": len(out)})
	}
}
