package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"testing"

	"cv-filter/internal/api/handler"
	"cv-filter/internal/api/router"
	"cv-filter/internal/constants"
	"cv-filter/internal/processor"
	"cv-filter/internal/types"
	"cv-filter/pkg/utils"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/ut"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeService struct {
	ingestErr   error
	lastUpload  processor.CVUpload
	ingestCalls int
	results     []types.CandidateResult
	searchErr   error
	lastQuery   string
	selectErr   error
	selected    []string
	candidate   *types.Candidate
}

func (f *fakeService) IngestCV(ctx context.Context, upload processor.CVUpload) (*processor.IngestResult, error) {
	f.ingestCalls++
	f.lastUpload = upload
	if f.ingestErr != nil {
		return nil, f.ingestErr
	}
	return &processor.IngestResult{CandidateID: "an@example.com", DisplayName: "Nguyễn Văn An"}, nil
}

func (f *fakeService) Search(ctx context.Context, text string) ([]types.CandidateResult, error) {
	f.lastQuery = text
	return f.results, f.searchErr
}

func (f *fakeService) MarkSelected(ctx context.Context, id string) error {
	f.selected = append(f.selected, id)
	return f.selectErr
}

func (f *fakeService) Get(ctx context.Context, id string) (*types.Candidate, error) {
	if f.candidate == nil {
		return nil, processor.ErrCandidateNotFound
	}
	return f.candidate, nil
}

func newServer(svc handler.CandidateService, keys ...string) *server.Hertz {
	h := server.New()
	router.RegisterRoutes(h, handler.NewCandidateHandler(svc, 1024), router.Options{APIKeys: keys})
	return h
}

func multipartBody(t *testing.T, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, filename))
	if contentType != "" {
		hdr.Set("Content-Type", contentType)
	}
	part, err := w.CreatePart(hdr)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf, w.FormDataContentType()
}

func upload(t *testing.T, h *server.Hertz, path, filename, contentType string, data []byte, headers ...ut.Header) *ut.ResponseRecorder {
	body, ct := multipartBody(t, filename, contentType, data)
	headers = append(headers, ut.Header{Key: "Content-Type", Value: ct})
	return ut.PerformRequest(h.Engine, consts.MethodPost, path, &ut.Body{Body: body, Len: body.Len()}, headers...)
}

func postJSON(h *server.Hertz, path string, v any) *ut.ResponseRecorder {
	raw, _ := json.Marshal(v)
	return ut.PerformRequest(h.Engine, consts.MethodPost, path,
		&ut.Body{Body: bytes.NewReader(raw), Len: len(raw)},
		ut.Header{Key: "Content-Type", Value: "application/json"})
}

func decode(t *testing.T, w *ut.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Result().Body(), &out))
	return out
}

func TestUploadCV(t *testing.T) {
	svc := &fakeService{}
	h := newServer(svc)

	w := upload(t, h, "/api/v1/upload_cv", "cv.pdf", constants.MediaTypePDF, []byte("%PDF-1.4"))
	require.Equal(t, consts.StatusCreated, w.Code)

	body := decode(t, w)
	assert.Equal(t, "CV của ứng viên Nguyễn Văn An đã được xử lý!", body["message"])
	assert.Equal(t, "an@example.com", body["candidate_id"])
	assert.Equal(t, "cv.pdf", svc.lastUpload.Filename)
	assert.Equal(t, []byte("%PDF-1.4"), svc.lastUpload.Data)
}

func TestUploadCVRequiresDeclaredMediaType(t *testing.T) {
	svc := &fakeService{}
	h := newServer(svc)

	w := upload(t, h, "/api/v1/upload_cv", "cv.pdf", "application/octet-stream", []byte("%PDF"))
	assert.Equal(t, consts.StatusBadRequest, w.Code)
	assert.Equal(t, handler.DetailUnsupportedType, decode(t, w)["detail"])

	w = upload(t, h, "/upload_cv/", "cv.docx", "", []byte("PK"))
	assert.Equal(t, consts.StatusBadRequest, w.Code, "未声明类型时不按扩展名推断")

	assert.Zero(t, svc.ingestCalls)

	w = upload(t, h, "/upload_cv/", "cv.docx", constants.MediaTypeDOCX+"; charset=binary", []byte("PK"))
	require.Equal(t, consts.StatusCreated, w.Code)
	assert.Equal(t, constants.MediaTypeDOCX, svc.lastUpload.MediaType)
}

func TestUploadCVRejections(t *testing.T) {
	svc := &fakeService{}
	h := newServer(svc)

	w := upload(t, h, "/api/v1/upload_cv", "photo.png", "image/png", []byte("png"))
	assert.Equal(t, consts.StatusBadRequest, w.Code)
	assert.Equal(t, handler.DetailUnsupportedType, decode(t, w)["detail"])

	w = upload(t, h, "/api/v1/upload_cv", "big.pdf", constants.MediaTypePDF, bytes.Repeat([]byte("a"), 2048))
	assert.Equal(t, consts.StatusRequestEntityTooLarge, w.Code)

	w = postJSON(h, "/api/v1/upload_cv", map[string]string{"file": "nope"})
	assert.Equal(t, consts.StatusBadRequest, w.Code)
	assert.Equal(t, handler.DetailMissingFile, decode(t, w)["detail"])

	assert.Zero(t, svc.ingestCalls)
}

func TestUploadCVPipelineErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
		detail string
	}{
		{&processor.PipelineError{Stage: processor.StageExtractText, BaseErr: processor.ErrContentUnreadable}, consts.StatusBadRequest, handler.DetailUnreadable},
		{&processor.PipelineError{Stage: processor.StageExtractData, BaseErr: processor.ErrMissingEmail}, consts.StatusInternalServerError, handler.DetailMissingEmail},
		{&processor.PipelineError{Stage: processor.StagePersist, BaseErr: processor.ErrPersistFailed, Detail: "db"}, consts.StatusInternalServerError, handler.DetailStorage},
	}
	for _, tc := range cases {
		h := newServer(&fakeService{ingestErr: tc.err})
		w := upload(t, h, "/api/v1/upload_cv", "cv.pdf", constants.MediaTypePDF, []byte("%PDF"))
		assert.Equal(t, tc.status, w.Code, tc.err.Error())
		assert.Equal(t, tc.detail, decode(t, w)["detail"])
	}
}

func TestSearchCandidates(t *testing.T) {
	svc := &fakeService{results: []types.CandidateResult{{
		ID: "an@example.com",
		Candidate: types.Candidate{
			FullName:          utils.StringPtr("Nguyễn Văn An"),
			Email:             utils.StringPtr("an@example.com"),
			Skills:            []string{"Python", "AWS"},
			YearsOfExperience: 3,
		},
	}}}
	h := newServer(svc)

	w := postJSON(h, "/api/v1/search_candidates", handler.SearchRequest{Text: "Python, AWS"})
	require.Equal(t, consts.StatusOK, w.Code)
	assert.Equal(t, "Python, AWS", svc.lastQuery)

	var resp struct {
		Results []map[string]any `json:"results"`
	}
	require.NoError(t, json.Unmarshal(w.Result().Body(), &resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "an@example.com", resp.Results[0]["id"])
	assert.Equal(t, "an@example.com", resp.Results[0]["email"])
	assert.Equal(t, 3.0, resp.Results[0]["so_nam_kinh_nghiem"])
}

func TestSearchCandidatesEmptyResults(t *testing.T) {
	h := newServer(&fakeService{})
	w := postJSON(h, "/search_candidates/", handler.SearchRequest{Text: "rust"})
	require.Equal(t, consts.StatusOK, w.Code)
	assert.JSONEq(t, `{"results":[]}`, string(w.Result().Body()))
}

func TestSearchCandidatesBadRequest(t *testing.T) {
	h := newServer(&fakeService{searchErr: processor.ErrEmptyQuery})

	w := ut.PerformRequest(h.Engine, consts.MethodPost, "/api/v1/search_candidates",
		&ut.Body{Body: bytes.NewReader([]byte("{")), Len: 1})
	assert.Equal(t, consts.StatusBadRequest, w.Code)

	w = postJSON(h, "/api/v1/search_candidates", handler.SearchRequest{})
	assert.Equal(t, consts.StatusBadRequest, w.Code)
	assert.Equal(t, handler.DetailEmptyQuery, decode(t, w)["detail"])
}

func TestMarkAsSelected(t *testing.T) {
	svc := &fakeService{}
	h := newServer(svc)

	w := postJSON(h, "/api/v1/mark_as_selected", handler.MarkSelectedRequest{CandidateID: "an@example.com"})
	require.Equal(t, consts.StatusOK, w.Code)
	assert.Equal(t, "Ứng viên an@example.com đã được đánh dấu là đã chọn.", decode(t, w)["message"])
	assert.Equal(t, []string{"an@example.com"}, svc.selected)
}

func TestMarkAsSelectedNotFound(t *testing.T) {
	notFound := &processor.PipelineError{Stage: processor.StageMarkSelected, BaseErr: processor.ErrCandidateNotFound}
	h := newServer(&fakeService{selectErr: notFound})

	w := postJSON(h, "/mark_as_selected/", handler.MarkSelectedRequest{CandidateID: "ghost@example.com"})
	assert.Equal(t, consts.StatusNotFound, w.Code)
	assert.Equal(t, handler.DetailNotFound, decode(t, w)["detail"])
}

func TestGetCandidate(t *testing.T) {
	h := newServer(&fakeService{})
	w := ut.PerformRequest(h.Engine, consts.MethodGet, "/api/v1/candidates/ghost@example.com", nil)
	assert.Equal(t, consts.StatusNotFound, w.Code)

	h = newServer(&fakeService{candidate: &types.Candidate{Email: utils.StringPtr("an@example.com"), Selected: true}})
	w = ut.PerformRequest(h.Engine, consts.MethodGet, "/api/v1/candidates/an@example.com", nil)
	require.Equal(t, consts.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "an@example.com", body["id"])
	assert.Equal(t, true, body["da_duoc_chon"])
}

func TestAPIKeyAuth(t *testing.T) {
	h := newServer(&fakeService{}, "secret")

	w := ut.PerformRequest(h.Engine, consts.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, consts.StatusOK, w.Code, "健康检查不需要鉴权")

	w = postJSON(h, "/api/v1/search_candidates", handler.SearchRequest{Text: "go"})
	assert.Equal(t, consts.StatusUnauthorized, w.Code)

	raw := []byte(`{"text":"go"}`)
	w = ut.PerformRequest(h.Engine, consts.MethodPost, "/api/v1/search_candidates",
		&ut.Body{Body: bytes.NewReader(raw), Len: len(raw)},
		ut.Header{Key: router.APIKeyHeader, Value: "wrong"})
	assert.Equal(t, consts.StatusUnauthorized, w.Code)

	w = ut.PerformRequest(h.Engine, consts.MethodPost, "/api/v1/search_candidates",
		&ut.Body{Body: bytes.NewReader(raw), Len: len(raw)},
		ut.Header{Key: router.APIKeyHeader, Value: "secret"})
	assert.Equal(t, consts.StatusOK, w.Code)
}

func TestStatusFor(t *testing.T) {
	status, detail := handler.StatusFor(errors.New("boom"))
	assert.Equal(t, consts.StatusInternalServerError, status)
	assert.Equal(t, handler.DetailInternal, detail)

	status, _ = handler.StatusFor(fmt.Errorf("wrap: %w", processor.ErrEmptyCandidateID))
	assert.Equal(t, consts.StatusBadRequest, status)
}
