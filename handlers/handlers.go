package handlers

import (
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/xeipuuv/gojsonschema"

	"github.com/ogxcoders/videopress/config"
	"github.com/ogxcoders/videopress/queue"
	"github.com/ogxcoders/videopress/video"
)

// APIHandlersCollection holds the dependencies shared by the intake endpoints.
type APIHandlersCollection struct {
	Cfg       config.Cli
	Broker    *queue.Client
	StartTime time.Time

	// TranscoderCheck reports transcoder availability for the health probe.
	TranscoderCheck func() error
}

func NewAPIHandlersCollection(cfg config.Cli, broker *queue.Client) *APIHandlersCollection {
	return &APIHandlersCollection{
		Cfg:             cfg,
		Broker:          broker,
		StartTime:       time.Now(),
		TranscoderCheck: video.FFmpeg{}.CheckBinary,
	}
}

func (d *APIHandlersCollection) Ok() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		// nolint:errcheck
		w.Write([]byte("OK"))
	}
}

var inputSchemasCompiled = map[string]*gojsonschema.Schema{}

func init() {
	for name, schema := range inputSchemas {
		loader := gojsonschema.NewStringLoader(schema)
		compiled, err := gojsonschema.NewSchema(loader)
		if err != nil {
			panic("invalid request schema " + name + ": " + err.Error())
		}
		inputSchemasCompiled[name] = compiled
	}
}

var inputSchemas = map[string]string{
	"Compress": `{
		"type": "object",
		"properties": {
			"postId": {
				"type": "integer",
				"minimum": 1
			},
			"wpMediaPath": {
				"type": "string",
				"minLength": 1
			},
			"wpVideoUrl": {
				"type": "string",
				"format": "uri"
			},
			"wpThumbnailPath": {
				"type": "string"
			},
			"wpThumbnailUrl": {
				"type": "string",
				"format": "uri"
			},
			"wpPostUrl": {
				"type": "string"
			},
			"year": {
				"type": "integer",
				"minimum": 2000,
				"maximum": 2100
			},
			"month": {
				"type": "integer",
				"minimum": 1,
				"maximum": 12
			}
		},
		"required": ["postId", "wpMediaPath", "year", "month"],
		"additionalProperties": false
	}`,
	"WebhookAction": `{
		"type": "object",
		"properties": {
			"action": {
				"type": "string",
				"enum": ["acknowledge", "status", "retry", "cancel"]
			},
			"jobId": {
				"type": "string",
				"minLength": 1
			}
		},
		"required": ["action"],
		"additionalProperties": false
	}`,
}
