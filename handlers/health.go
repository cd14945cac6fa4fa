package handlers

import (
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/ogxcoders/videopress/queue"
)

type HealthResponse struct {
	Status     string      `json:"status"`
	Broker     bool        `json:"broker"`
	Transcoder bool        `json:"transcoder"`
	Queue      queue.Stats `json:"queue"`
	UptimeSecs int64       `json:"uptimeSecs"`
}

// Health reports dependency status: 200 when the broker and the transcoder
// are both up, 503 otherwise. Unauthenticated so load balancers can poll it.
func (d *APIHandlersCollection) Health() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		resp := HealthResponse{
			UptimeSecs: int64(time.Since(d.StartTime).Seconds()),
		}

		if err := d.Broker.Ping(req.Context()); err == nil {
			resp.Broker = true
			if stats, err := d.Broker.Stats(req.Context()); err == nil {
				resp.Queue = stats
			}
		}
		if d.TranscoderCheck == nil || d.TranscoderCheck() == nil {
			resp.Transcoder = true
		}

		status := http.StatusOK
		resp.Status = "ok"
		if !resp.Broker || !resp.Transcoder {
			status = http.StatusServiceUnavailable
			resp.Status = "degraded"
		}
		writeJSON(w, status, resp)
	}
}
