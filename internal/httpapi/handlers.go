package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/digkill/WeddingAI/internal/models"
	"github.com/digkill/WeddingAI/internal/service"
)

const multipartOverhead = 1 << 20

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, userFrom(r.Context()))
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	status, err := s.deps.Ledger.CheckBalance(r.Context(), userFrom(r.Context()).ID, nil)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := s.deps.Ledger.History(r.Context(), userFrom(r.Context()).ID, queryInt(r, "limit"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(txs))
}

type redeemRequest struct {
	Code string `json:"code"`
}

func (s *Server) handleRedeemPromo(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json"})
		return
	}
	balance, err := s.deps.Promos.Apply(r.Context(), userFrom(r.Context()).ID, req.Code)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"balance": balance})
}

func (s *Server) handleListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := s.deps.Plans.ListActive(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(plans))
}

func (s *Server) handleUploadReference(w http.ResponseWriter, r *http.Request) {
	img, err := s.readImage(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.deps.References.Upload(r.Context(), userFrom(r.Context()).ID, service.ReferenceRequest{
		Role:  models.Role(strings.ToUpper(r.FormValue("role"))),
		Image: img,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleListReferences(w http.ResponseWriter, r *http.Request) {
	photos, err := s.deps.References.ListActive(r.Context(), userFrom(r.Context()).ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(photos))
}

func (s *Server) singleRequest(w http.ResponseWriter, r *http.Request) (service.SingleRequest, error) {
	img, err := s.readImage(w, r)
	if err != nil {
		return service.SingleRequest{}, err
	}
	return service.SingleRequest{
		Image:   img,
		Style:   models.Style(strings.ToUpper(r.FormValue("style"))),
		Role:    models.Role(strings.ToUpper(r.FormValue("role"))),
		ModelID: r.FormValue("model"),
		AlbumID: r.FormValue("albumId"),
	}, nil
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	req, err := s.singleRequest(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out, err := s.deps.Generations.Generate(r.Context(), userFrom(r.Context()), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleGenerateStream(w http.ResponseWriter, r *http.Request) {
	req, err := s.singleRequest(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	stream, err := newSSEWriter(w)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out, err := s.deps.Generations.GenerateStream(r.Context(), userFrom(r.Context()), req, s.emitter(stream))
	if err != nil {
		s.streamError(stream, r, err)
		return
	}
	stream.Send(string(service.EventDone), service.Event{Type: service.EventDone, Generation: out.Generation, Balance: &out.Balance})
}

func (s *Server) handleListGenerations(w http.ResponseWriter, r *http.Request) {
	records, err := s.deps.Generations.History(r.Context(), models.GenerationFilter{
		UserID:  userFrom(r.Context()).ID,
		JobID:   r.URL.Query().Get("jobId"),
		AlbumID: r.URL.Query().Get("albumId"),
		Limit:   queryInt(r, "limit"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(records))
}

type createJobRequest struct {
	AlbumID     string         `json:"albumId"`
	Styles      []models.Style `json:"styles"`
	Roles       []models.Role  `json:"roles"`
	ModelID     string         `json:"modelId"`
	TotalImages int            `json:"totalImages"`
}

func (s *Server) createJob(r *http.Request) (*models.GenerationJob, error) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, &models.ValidationError{Kind: models.ErrMissingField, Field: "body"}
	}
	return s.deps.Jobs.CreateJob(r.Context(), userFrom(r.Context()), service.BatchRequest{
		AlbumID:     req.AlbumID,
		Styles:      req.Styles,
		Roles:       req.Roles,
		ModelID:     req.ModelID,
		TotalImages: req.TotalImages,
	})
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.createJob(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.deps.Pool.Submit(job)
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleCreateJobStream(w http.ResponseWriter, r *http.Request) {
	job, err := s.createJob(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	stream, err := newSSEWriter(w)
	if err != nil {
		s.deps.Pool.Submit(job)
		writeJSON(w, http.StatusAccepted, job)
		return
	}
	stream.Send(string(service.EventStatus), service.Event{Type: service.EventStatus, Message: "job created", Job: job})

	// The job runs to the end even if the client disconnects.
	final, err := s.deps.Pool.Execute(job, s.emitter(stream))
	if err != nil {
		s.streamError(stream, r, err)
		return
	}
	stream.Send(string(service.EventDone), service.Event{Type: service.EventDone, Job: final})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.deps.Jobs.List(r.Context(), userFrom(r.Context()).ID, queryInt(r, "limit"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(jobs))
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.deps.Jobs.Get(r.Context(), userFrom(r.Context()).ID, chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCompleteJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.deps.Jobs.CompleteJob(r.Context(), userFrom(r.Context()).ID, chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) emitter(stream *sseWriter) service.Emitter {
	return func(ev service.Event) {
		stream.Send(string(ev.Type), ev)
	}
}

func (s *Server) streamError(stream *sseWriter, r *http.Request, err error) {
	status, body := errorResponse(err)
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("stream failed")
	}
	stream.Send(string(service.EventError), body)
}

// readImage reads the "image" part of a multipart upload. A missing part
// yields an empty input; the validator reports it.
func (s *Server) readImage(w http.ResponseWriter, r *http.Request) (service.ImageInput, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.deps.MaxUploadBytes+multipartOverhead)
	if err := r.ParseMultipartForm(s.deps.MaxUploadBytes + multipartOverhead); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return service.ImageInput{}, &models.ValidationError{Kind: models.ErrFileTooLarge, Field: "image"}
		}
		return service.ImageInput{}, &models.ValidationError{Kind: models.ErrInvalidFile, Field: "image"}
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return service.ImageInput{}, nil
		}
		return service.ImageInput{}, &models.ValidationError{Kind: models.ErrInvalidFile, Field: "image"}
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, s.deps.MaxUploadBytes+1))
	if err != nil {
		return service.ImageInput{}, &models.ValidationError{Kind: models.ErrInvalidFile, Field: "image"}
	}
	return service.ImageInput{
		Data:        data,
		ContentType: header.Header.Get("Content-Type"),
		Filename:    header.Filename,
	}, nil
}

func queryInt(r *http.Request, key string) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return 0
	}
	return n
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
