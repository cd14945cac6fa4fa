package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/julienschmidt/httprouter"
	"github.com/xeipuuv/gojsonschema"

	"github.com/ogxcoders/videopress/errors"
	"github.com/ogxcoders/videopress/log"
	"github.com/ogxcoders/videopress/metrics"
	"github.com/ogxcoders/videopress/queue"
)

type CompressResponse struct {
	Status        string `json:"status"`
	JobID         string `json:"jobId"`
	QueuePosition int64  `json:"queuePosition"`
	QueueLength   int64  `json:"queueLength"`
}

func HasContentType(r *http.Request, mimetype string) bool {
	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		return mimetype == "application/octet-stream"
	}

	for _, v := range strings.Split(contentType, ",") {
		t, _, err := mime.ParseMediaType(v)
		if err != nil {
			break
		}
		if t == mimetype {
			return true
		}
	}

	return false
}

// Compress accepts a submission, validates it, and enqueues the job.
func (d *APIHandlersCollection) Compress() httprouter.Handle {
	schema := inputSchemasCompiled["Compress"]

	return func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		var sub queue.Submission

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
			errors.WriteHTTPBadBodySchema("Compress", w, result.Errors())
			return
		} else if err := json.Unmarshal(payload, &sub); err != nil {
			errors.WriteHTTPBadRequest(w, "Invalid request payload", err)
			return
		}

		if err := d.Broker.Ping(req.Context()); err != nil {
			errors.WriteHTTPServiceUnavailable(w, "Broker unreachable", err)
			return
		}

		job, position, err := d.Broker.Enqueue(req.Context(), sub)
		if err == queue.ErrAlreadyExists {
			errors.WriteHTTPConflict(w, "A job for this submission is already queued", err)
			return
		}
		if err != nil {
			errors.WriteHTTPServiceUnavailable(w, "Failed to enqueue job", err)
			return
		}

		stats, err := d.Broker.Stats(req.Context())
		if err != nil {
			log.Log(job.ID, "failed to read queue stats for response", "err", err.Error())
		}

		metrics.Metrics.JobsEnqueued.Inc()
		log.Log(job.ID, "job enqueued", "post_id", sub.PostID, "queue_position", position)
		writeJSON(w, http.StatusOK, CompressResponse{
			Status:        "queued",
			JobID:         job.ID,
			QueuePosition: position,
			QueueLength:   stats.Pending,
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.LogNoJobID("failed to write JSON response", "err", fmt.Sprint(err))
	}
}
