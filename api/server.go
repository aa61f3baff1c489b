// Package api is the Submission/Control HTTP surface described in spec.md
// §6: it accepts Job submissions, serialises Jobs back to callers, and lets
// an operator stop/restart a Job in flight. It is a thin layer over
// job.Store/queue.Dispatcher — none of the execution logic lives here.
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/xeipuuv/gojsonschema"

	"github.com/livepeer/catalyst-render/errors"
	"github.com/livepeer/catalyst-render/job"
	"github.com/livepeer/catalyst-render/queue"
)

// Server wires the Submission/Control API to its collaborators. Handlers
// hang off it the way the teacher's hang off CatalystAPIHandlersCollection.
type Server struct {
	Store      job.Store
	Templates  *job.TemplateStore
	Dispatcher queue.Dispatcher
	Revoker    *queue.Revoker
}

func NewServer(store job.Store, templates *job.TemplateStore, dispatcher queue.Dispatcher, revoker *queue.Revoker) *Server {
	return &Server{Store: store, Templates: templates, Dispatcher: dispatcher, Revoker: revoker}
}

// Router builds the httprouter.Router exposing every endpoint below.
func (s *Server) Router() *httprouter.Router {
	r := httprouter.New()
	r.POST("/jobs", s.SubmitJob())
	r.GET("/jobs/:id", s.GetJob())
	r.POST("/jobs/cancel", s.CancelJob())
	r.POST("/jobs/restart", s.RestartJob())
	r.GET("/jobs/:id/outputs/:name", s.GetOutput())
	return r
}

// submitRequest mirrors spec.md §6's minimal submission body: either
// Template or Settings must be present.
type submitRequest struct {
	Template      string            `json:"template"`
	Settings      *rawSettings      `json:"settings"`
	InputURL      string            `json:"input_url"`
	OutputURL     string            `json:"output_url"`
	WebhookURL    string            `json:"webhook_url"`
	EncryptionKey string            `json:"encryption_key"`
	KeyURL        string            `json:"key_url"`
	MetaData      map[string]string `json:"meta_data"`
}

// rawSettings is the inline equivalent of a Template, for submissions that
// don't name a pre-registered one.
type rawSettings struct {
	Format        job.Format       `json:"format"`
	SegmentLength int              `json:"segment_length"`
	PlaylistType  string           `json:"playlist_type"`
	Outputs       []job.OutputSpec `json:"outputs"`
}

const submitSchema = `{
	"type": "object",
	"properties": {
		"template": {"type": "string"},
		"settings": {"type": "object"},
		"input_url": {"type": "string", "minLength": 1},
		"output_url": {"type": "string", "minLength": 1},
		"webhook_url": {"type": "string"},
		"encryption_key": {"type": "string"},
		"key_url": {"type": "string"},
		"meta_data": {"type": "object"}
	},
	"required": ["input_url", "output_url"]
}`

var submitSchemaCompiled = compileSchema(submitSchema)

func compileSchema(text string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(text))
	if err != nil {
		panic(err)
	}
	return schema
}

func (s *Server) SubmitJob() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		payload, err := io.ReadAll(req.Body)
		if err != nil {
			errors.WriteHTTPInternalServerError(w, "cannot read payload", err)
			return
		}

		result, err := submitSchemaCompiled.Validate(gojsonschema.NewBytesLoader(payload))
		if err != nil {
			errors.WriteHTTPInternalServerError(w, "cannot validate payload", err)
			return
		}
		if !result.Valid() {
			errors.WriteHTTPBadBodySchema("submit", w, result.Errors())
			return
		}

		var body submitRequest
		if err := json.Unmarshal(payload, &body); err != nil {
			errors.WriteHTTPBadRequest(w, "invalid request payload", err)
			return
		}
		if body.Template == "" && body.Settings == nil {
			errors.WriteHTTPBadRequest(w, "invalid request payload", fmt.Errorf("either template or settings must be present"))
			return
		}

		renditions, err := s.resolveRenditions(body)
		if err != nil {
			errors.WriteHTTPBadRequest(w, "invalid request payload", err)
			return
		}

		j := s.buildJob(body, renditions)
		if err := s.Store.CreateJob(j); err != nil {
			errors.WriteHTTPInternalServerError(w, "cannot create job", err)
			return
		}

		for _, o := range j.Outputs {
			if err := s.Dispatcher.Enqueue(o.BackgroundTaskID, j.ID, o.ID, j.Queue()); err != nil {
				errors.WriteHTTPInternalServerError(w, "cannot enqueue rendition task", err)
				return
			}
		}

		writeJSON(w, http.StatusCreated, j)
	}
}

func (s *Server) resolveRenditions(body submitRequest) ([]job.RenditionSettings, error) {
	jobID := job.NewID()
	if body.Template != "" {
		tmpl, ok := s.Templates.Get(body.Template)
		if !ok {
			return nil, fmt.Errorf("unknown template %q", body.Template)
		}
		return tmpl.Outputs(jobID, body.InputURL, body.OutputURL), nil
	}

	out := make([]job.RenditionSettings, 0, len(body.Settings.Outputs))
	for _, spec := range body.Settings.Outputs {
		out = append(out, job.RenditionSettings{
			JobID:         jobID,
			Input:         body.InputURL,
			Destination:   body.OutputURL,
			Format:        body.Settings.Format,
			SegmentLength: body.Settings.SegmentLength,
			PlaylistType:  body.Settings.PlaylistType,
			Output:        spec,
		})
	}
	return out, nil
}

func (s *Server) buildJob(body submitRequest, renditions []job.RenditionSettings) *job.Job {
	jobID := job.NewID()
	if len(renditions) > 0 {
		jobID = renditions[0].JobID
	}

	j := &job.Job{
		ID:           jobID,
		InputURL:     body.InputURL,
		OutputURL:    body.OutputURL,
		TemplateName: body.Template,
		WebhookURL:   body.WebhookURL,
		MetaData:     body.MetaData,
		Status:       job.StatusNotStarted,
	}
	if settingsMap, err := toSettingsMap(body); err == nil {
		j.Settings = settingsMap
	}

	for _, r := range renditions {
		j.Outputs = append(j.Outputs, &job.Output{
			ID:               job.NewID(),
			JobID:            j.ID,
			Name:             r.Output.Name,
			Settings:         r,
			Status:           job.StatusQueued,
			BackgroundTaskID: job.NewID(),
		})
	}
	return j
}

func toSettingsMap(body submitRequest) (map[string]interface{}, error) {
	raw, err := json.Marshal(body.Settings)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = map[string]interface{}{}
	}
	if body.Settings != nil {
		m["format"] = string(body.Settings.Format)
	}
	return m, nil
}

func (s *Server) GetJob() httprouter.Handle {
	return func(w http.ResponseWriter, _ *http.Request, params httprouter.Params) {
		j, ok := s.Store.GetJob(params.ByName("id"))
		if !ok {
			errors.WriteHTTPNotFound(w, "job not found", nil)
			return
		}
		writeJSON(w, http.StatusOK, j)
	}
}

type jobIDRequest struct {
	JobID string `json:"job_id"`
}

// CancelJob revokes every outstanding Output task by its background_task_id.
// Each Runner notices the revoked context inside its own poll loop and
// marks its Output Cancelled — this handler only initiates the signal.
func (s *Server) CancelJob() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		var body jobIDRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			errors.WriteHTTPBadRequest(w, "invalid request payload", err)
			return
		}

		j, ok := s.Store.GetJob(body.JobID)
		if !ok {
			errors.WriteHTTPNotFound(w, "job not found", nil)
			return
		}

		s.stopOutstandingTasks(j)
		writeJSON(w, http.StatusOK, j)
	}
}

func (s *Server) stopOutstandingTasks(j *job.Job) {
	for _, o := range j.Outputs {
		if !o.Status.IsTerminal() && o.BackgroundTaskID != "" {
			s.Revoker.Revoke(o.BackgroundTaskID)
		}
	}
}

// RestartJob stops a non-Completed job's outstanding tasks, resets its
// existing Outputs (queued, zero progress, error cleared, new background
// task id) and re-enqueues them with the same settings, per spec.md's R2.
// A Completed job is returned unchanged.
func (s *Server) RestartJob() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		var body jobIDRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			errors.WriteHTTPBadRequest(w, "invalid request payload", err)
			return
		}

		j, ok := s.Store.GetJob(body.JobID)
		if !ok {
			errors.WriteHTTPNotFound(w, "job not found", nil)
			return
		}
		if j.Status == job.StatusCompleted {
			writeJSON(w, http.StatusOK, j)
			return
		}

		s.stopOutstandingTasks(j)

		err := s.Store.UpdateJob(j.ID, func(j *job.Job) error {
			j.Status = job.StatusQueued
			j.Progress = 0
			j.EndTime = nil
			for _, o := range j.Outputs {
				o.Status = job.StatusQueued
				o.Progress = 0
				o.ErrorMessage = ""
				o.EndTime = nil
				o.BackgroundTaskID = job.NewID()
			}
			return nil
		})
		if err != nil {
			errors.WriteHTTPInternalServerError(w, "cannot restart job", err)
			return
		}

		j, _ = s.Store.GetJob(j.ID)
		for _, o := range j.Outputs {
			if err := s.Dispatcher.Enqueue(o.BackgroundTaskID, j.ID, o.ID, j.Queue()); err != nil {
				errors.WriteHTTPInternalServerError(w, "cannot enqueue rendition task", err)
				return
			}
		}

		writeJSON(w, http.StatusOK, j)
	}
}

// GetOutput returns a single named Output, a SPEC_FULL supplement beyond
// the minimal Control API for callers that only care about one rendition.
func (s *Server) GetOutput() httprouter.Handle {
	return func(w http.ResponseWriter, _ *http.Request, params httprouter.Params) {
		j, ok := s.Store.GetJob(params.ByName("id"))
		if !ok {
			errors.WriteHTTPNotFound(w, "job not found", nil)
			return
		}
		for _, o := range j.Outputs {
			if o.Name == params.ByName("name") {
				writeJSON(w, http.StatusOK, o)
				return
			}
		}
		errors.WriteHTTPNotFound(w, "output not found", nil)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
