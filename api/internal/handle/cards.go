package handle

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"card-ledger/api/internal/card"
	"card-ledger/api/internal/imaging"
	"card-ledger/api/internal/workflow"
)

// SubmitRequest is the JSON form of POST /v1/cards. ImageB64 may carry a
// data: URL prefix.
type SubmitRequest struct {
	ImageB64 string `json:"image_b64"`
	Note     string `json:"note"`
}

type SubmitResponse struct {
	ID           string       `json:"id"`
	Status       string       `json:"status"`
	Message      string       `json:"message"`
	FileName     string       `json:"file_name,omitempty"`
	Link         string       `json:"link,omitempty"`
	ArchiveError string       `json:"archive_error,omitempty"`
	ErrorKind    string       `json:"error_kind,omitempty"`
	Record       *card.Record `json:"record,omitempty"`
	Row          []string     `json:"row,omitempty"`
}

func NewSubmitResponse(out workflow.Outcome) SubmitResponse {
	resp := SubmitResponse{
		ID:        out.ID.String(),
		Status:    string(out.Status),
		Message:   out.Message(),
		FileName:  out.FileName,
		Link:      out.Link,
		ErrorKind: out.ErrorKind,
	}
	if out.ArchiveErr != nil {
		resp.ArchiveError = out.ArchiveErr.Error()
	}
	switch out.Status {
	case workflow.StatusSuccess, workflow.StatusWriteFailed:
		rec := out.Record
		resp.Record = &rec
	}
	if len(out.Row) > 0 {
		resp.Row = out.Row.Strings()
	}
	return resp
}

// SubmitCard handles POST /v1/cards with either a JSON body or a multipart
// form carrying an "image" file and a "note" field.
func (h *Handle) SubmitCard(w http.ResponseWriter, r *http.Request) {
	sub, err := h.readSubmission(w, r)
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "image too large")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sub.Source = "api"

	out := h.submit(r, sub)
	writeJSON(w, StatusCode(out.Status), NewSubmitResponse(out))
}

func (h *Handle) readSubmission(w http.ResponseWriter, r *http.Request) (workflow.Submission, error) {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "multipart/form-data" {
		return h.readMultipart(w, r)
	}

	// base64 inflates the payload by a third
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes*4/3+4096)
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return workflow.Submission{}, err
		}
		return workflow.Submission{}, errors.New("bad json: " + err.Error())
	}
	img, err := imaging.DecodeBase64(req.ImageB64)
	if err != nil {
		return workflow.Submission{}, errors.New("bad image_b64")
	}
	return workflow.Submission{Image: img, Note: strings.TrimSpace(req.Note)}, nil
}

func (h *Handle) readMultipart(w http.ResponseWriter, r *http.Request) (workflow.Submission, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+1<<20)
	if err := r.ParseMultipartForm(h.maxBytes); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return workflow.Submission{}, err
		}
		return workflow.Submission{}, errors.New("bad multipart form: " + err.Error())
	}
	sub := workflow.Submission{Note: strings.TrimSpace(r.FormValue("note"))}

	f, _, err := r.FormFile("image")
	switch {
	case errors.Is(err, http.ErrMissingFile):
		return sub, nil
	case err != nil:
		return sub, errors.New("bad image field: " + err.Error())
	}
	defer f.Close()

	img, err := io.ReadAll(f)
	if err != nil {
		return sub, errors.New("read image: " + err.Error())
	}
	sub.Image = img
	return sub, nil
}

// RecentSubmissions handles GET /v1/submissions?limit=N.
func (h *Handle) RecentSubmissions(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		writeError(w, http.StatusNotFound, "journal disabled")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := h.journal.Recent(r.Context(), limit)
	if err != nil {
		h.log.WithError(err).Error("list submissions failed")
		writeError(w, http.StatusInternalServerError, "journal unavailable")
		return
	}
	writeJSON(w, http.StatusOK, items)
}
