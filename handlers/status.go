package handlers

import (
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"

	"github.com/ogxcoders/videopress/errors"
	"github.com/ogxcoders/videopress/queue"
)

type JobStatusResponse struct {
	JobID     string        `json:"jobId"`
	PostID    int64         `json:"postId"`
	State     queue.State   `json:"state"`
	Progress  int           `json:"progress"`
	Stage     string        `json:"stage,omitempty"`
	Attempts  int           `json:"attempts"`
	CreatedAt int64         `json:"createdAt"`
	UpdatedAt int64         `json:"updatedAt"`
	Result    *queue.Result `json:"result,omitempty"`
	Error     string        `json:"error,omitempty"`
}

func jobStatusResponse(job *queue.Job) JobStatusResponse {
	return JobStatusResponse{
		JobID:     job.ID,
		PostID:    job.Submission.PostID,
		State:     job.State,
		Progress:  job.Progress,
		Stage:     job.Stage,
		Attempts:  job.Attempts,
		CreatedAt: job.CreatedAt,
		UpdatedAt: job.UpdatedAt,
		Result:    job.Result,
		Error:     job.Error,
	}
}

// Status answers per-job queries by jobId or postId, and the queue counters
// when called without parameters.
func (d *APIHandlersCollection) Status() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		query := req.URL.Query()

		if jobID := query.Get("jobId"); jobID != "" {
			job, err := d.Broker.Get(req.Context(), jobID)
			if err == queue.ErrNotFound {
				errors.WriteHTTPNotFound(w, "No such job", nil)
				return
			}
			if err != nil {
				errors.WriteHTTPServiceUnavailable(w, "Broker unreachable", err)
				return
			}
			writeJSON(w, http.StatusOK, jobStatusResponse(job))
			return
		}

		if postIDRaw := query.Get("postId"); postIDRaw != "" {
			postID, err := strconv.ParseInt(postIDRaw, 10, 64)
			if err != nil || postID <= 0 {
				errors.WriteHTTPBadRequest(w, "postId must be a positive integer", err)
				return
			}
			job, err := d.Broker.FindByPostID(req.Context(), postID)
			if err == queue.ErrNotFound {
				errors.WriteHTTPNotFound(w, "No recent job for this post", nil)
				return
			}
			if err != nil {
				errors.WriteHTTPServiceUnavailable(w, "Broker unreachable", err)
				return
			}
			writeJSON(w, http.StatusOK, jobStatusResponse(job))
			return
		}

		stats, err := d.Broker.Stats(req.Context())
		if err != nil {
			errors.WriteHTTPServiceUnavailable(w, "Broker unreachable", err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}
