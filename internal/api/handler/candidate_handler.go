package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"cv-filter/internal/constants"
	"cv-filter/internal/logger"
	"cv-filter/internal/processor"
	"cv-filter/internal/tracing"
	"cv-filter/internal/types"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// 返回给客户端的错误信息
const (
	DetailUnsupportedType = "Chỉ chấp nhận file PDF và DOCX."
	DetailUnreadable      = "Không thể đọc nội dung từ file."
	DetailMissingEmail    = "Gemini không thể bóc tách thông tin hoặc thiếu email."
	DetailNotFound        = "Không tìm thấy ứng viên."
	DetailMissingFile     = "Thiếu file CV."
	DetailFileTooLarge    = "File quá lớn."
	DetailInvalidBody     = "Dữ liệu yêu cầu không hợp lệ."
	DetailEmptyQuery      = "Nội dung tìm kiếm không được để trống."
	DetailEmptyID         = "Thiếu candidate_id."
	DetailStorage         = "Lỗi lưu trữ dữ liệu."
	DetailInternal        = "Lỗi hệ thống."
)

// CandidateService 处理器暴露给 HTTP 层的能力
type CandidateService interface {
	IngestCV(ctx context.Context, upload processor.CVUpload) (*processor.IngestResult, error)
	Search(ctx context.Context, text string) ([]types.CandidateResult, error)
	MarkSelected(ctx context.Context, candidateID string) error
	Get(ctx context.Context, candidateID string) (*types.Candidate, error)
}

var _ CandidateService = (*processor.CandidateService)(nil)

// CandidateHandler 候选人相关接口
type CandidateHandler struct {
	service        CandidateService
	maxUploadBytes int64
	logger         *zerolog.Logger
}

// NewCandidateHandler maxUploadBytes <= 0 表示不限制
func NewCandidateHandler(service CandidateService, maxUploadBytes int64) *CandidateHandler {
	return &CandidateHandler{
		service:        service,
		maxUploadBytes: maxUploadBytes,
		logger:         logger.Named("CandidateHandler"),
	}
}

// UploadResponse 上传成功响应
type UploadResponse struct {
	Message     string `json:"message"`
	CandidateID string `json:"candidate_id"`
}

// SearchRequest 搜索请求体
type SearchRequest struct {
	Text string `json:"text"`
}

// SearchResponse 搜索响应，无结果时 results 为空数组
type SearchResponse struct {
	Results []types.CandidateResult `json:"results"`
}

// MarkSelectedRequest 标记请求体
type MarkSelectedRequest struct {
	CandidateID string `json:"candidate_id"`
}

// HandleUploadCV POST /api/v1/upload_cv
func (h *CandidateHandler) HandleUploadCV(ctx context.Context, c *app.RequestContext) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		abort(c, consts.StatusBadRequest, DetailMissingFile)
		return
	}
	if h.maxUploadBytes > 0 && fileHeader.Size > h.maxUploadBytes {
		abort(c, consts.StatusRequestEntityTooLarge, DetailFileTooLarge)
		return
	}

	mediaType := processor.NormalizeMediaType(fileHeader.Header.Get("Content-Type"))
	if !constants.SupportedMediaTypes[mediaType] {
		abort(c, consts.StatusBadRequest, DetailUnsupportedType)
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		h.logger.Error().Err(err).Str("filename", fileHeader.Filename).Msg("打开上传文件失败")
		abort(c, consts.StatusBadRequest, DetailUnreadable)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.logger.Error().Err(err).Str("filename", fileHeader.Filename).Msg("读取上传文件失败")
		abort(c, consts.StatusBadRequest, DetailUnreadable)
		return
	}

	result, err := h.service.IngestCV(ctx, processor.CVUpload{
		Filename:  fileHeader.Filename,
		MediaType: mediaType,
		Data:      data,
	})
	if err != nil {
		h.writeError(ctx, c, err)
		return
	}

	c.JSON(consts.StatusCreated, UploadResponse{
		Message:     fmt.Sprintf("CV của ứng viên %s đã được xử lý!", result.DisplayName),
		CandidateID: result.CandidateID,
	})
}

// HandleSearch POST /api/v1/search_candidates
func (h *CandidateHandler) HandleSearch(ctx context.Context, c *app.RequestContext) {
	var req SearchRequest
	if err := json.Unmarshal(c.Request.Body(), &req); err != nil {
		abort(c, consts.StatusBadRequest, DetailInvalidBody)
		return
	}

	results, err := h.service.Search(ctx, req.Text)
	if err != nil {
		h.writeError(ctx, c, err)
		return
	}
	if results == nil {
		results = []types.CandidateResult{}
	}
	c.JSON(consts.StatusOK, SearchResponse{Results: results})
}

// HandleMarkSelected POST /api/v1/mark_as_selected
func (h *CandidateHandler) HandleMarkSelected(ctx context.Context, c *app.RequestContext) {
	var req MarkSelectedRequest
	if err := json.Unmarshal(c.Request.Body(), &req); err != nil {
		abort(c, consts.StatusBadRequest, DetailInvalidBody)
		return
	}

	if err := h.service.MarkSelected(ctx, req.CandidateID); err != nil {
		h.writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, utils.H{
		"message": fmt.Sprintf("Ứng viên %s đã được đánh dấu là đã chọn.", strings.TrimSpace(req.CandidateID)),
	})
}

// HandleGetCandidate GET /api/v1/candidates/:id
func (h *CandidateHandler) HandleGetCandidate(ctx context.Context, c *app.RequestContext) {
	candidate, err := h.service.Get(ctx, c.Param("id"))
	if err != nil {
		h.writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, types.CandidateResult{ID: candidate.EmailValue(), Candidate: *candidate})
}

// HandleHealth GET /api/v1/health
func HandleHealth(ctx context.Context, c *app.RequestContext) {
	c.JSON(consts.StatusOK, utils.H{"status": "ok"})
}

// writeError 将流水线错误映射为 HTTP 状态码
func (h *CandidateHandler) writeError(ctx context.Context, c *app.RequestContext, err error) {
	status, detail := StatusFor(err)
	ev := logger.Ctx(ctx).Warn()
	if status >= consts.StatusInternalServerError {
		ev = logger.Ctx(ctx).Error()
	}
	var perr *processor.PipelineError
	if errors.As(err, &perr) {
		ev = ev.Str("stage", perr.Stage)
	}
	ev.Err(err).Int("status", status).Str("path", string(c.Path())).Msg("请求处理失败")
	tracing.RecordHTTPError(trace.SpanFromContext(ctx), err, status)
	abort(c, status, detail)
}

// StatusFor 错误到状态码与 detail 的映射
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, processor.ErrUnsupportedMediaType):
		return consts.StatusBadRequest, DetailUnsupportedType
	case errors.Is(err, processor.ErrContentUnreadable):
		return consts.StatusBadRequest, DetailUnreadable
	case errors.Is(err, processor.ErrEmptyQuery):
		return consts.StatusBadRequest, DetailEmptyQuery
	case errors.Is(err, processor.ErrEmptyCandidateID):
		return consts.StatusBadRequest, DetailEmptyID
	case errors.Is(err, processor.ErrCandidateNotFound):
		return consts.StatusNotFound, DetailNotFound
	case errors.Is(err, processor.ErrMissingEmail):
		return consts.StatusInternalServerError, DetailMissingEmail
	case errors.Is(err, processor.ErrFileStoreFailed),
		errors.Is(err, processor.ErrPersistFailed),
		errors.Is(err, processor.ErrQueryFailed):
		return consts.StatusInternalServerError, DetailStorage
	default:
		return consts.StatusInternalServerError, DetailInternal
	}
}

func abort(c *app.RequestContext, status int, detail string) {
	c.AbortWithStatusJSON(status, utils.H{"detail": detail})
}
