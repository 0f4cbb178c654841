package processor

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"cv-filter/internal/constants"
	"cv-filter/internal/tracing"
	"cv-filter/internal/types"
	"cv-filter/pkg/utils"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("cv-filter/processor")

// CandidateService 简历入库、检索与选中流程
type CandidateService struct {
	comps    Components
	settings Settings
}

// NewCandidateService 所有组件都必须提供
func NewCandidateService(comps Components, opts ...SettingOpt) (*CandidateService, error) {
	switch {
	case comps.TextExtractor == nil:
		return nil, errors.New("text extractor is required")
	case comps.CandidateExtractor == nil:
		return nil, errors.New("candidate extractor is required")
	case comps.QueryInterpreter == nil:
		return nil, errors.New("query interpreter is required")
	case comps.BlobStore == nil:
		return nil, errors.New("blob store is required")
	case comps.CandidateStore == nil:
		return nil, errors.New("candidate store is required")
	}

	settings := defaultSettings()
	for _, opt := range opts {
		opt(&settings)
	}
	return &CandidateService{comps: comps, settings: settings}, nil
}

// NormalizeMediaType 去掉参数并转小写
func NormalizeMediaType(mediaType string) string {
	mt, _, _ := strings.Cut(mediaType, ";")
	return strings.ToLower(strings.TrimSpace(mt))
}

// IngestCV 单次执行，不重试: 校验 → 提取文本 → 提取结构化信息 → 上传原文件 → 写入记录
func (s *CandidateService) IngestCV(ctx context.Context, upload CVUpload) (*IngestResult, error) {
	log := s.settings.Logger
	mediaType := NormalizeMediaType(upload.MediaType)

	ctx, span := tracer.Start(ctx, "CandidateService.IngestCV",
		trace.WithAttributes(
			attribute.String("cv.media_type", mediaType),
			attribute.Int("cv.size", len(upload.Data)),
		))
	defer span.End()

	if !constants.SupportedMediaTypes[mediaType] {
		err := newPipelineError(StageValidate, "", ErrUnsupportedMediaType, fmt.Errorf("media type %q", upload.MediaType))
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return nil, err
	}

	text, err := s.extractText(ctx, upload.Data, mediaType, upload.Filename)
	if err != nil || strings.TrimSpace(text) == "" {
		log.Warn().Err(err).Str("filename", upload.Filename).Msg("未能从文件中读取内容")
		perr := newPipelineError(StageExtractText, "", ErrContentUnreadable, err)
		tracing.RecordError(span, perr, tracing.ErrorTypeExtract)
		return nil, perr
	}
	span.AddEvent("text_extracted", trace.WithAttributes(attribute.Int("cv.text_runes", len([]rune(text)))))

	candidate := s.comps.CandidateExtractor.Extract(ctx, text)
	email := candidate.EmailValue()
	if email == "" {
		perr := newPipelineError(StageExtractData, "", ErrMissingEmail, nil)
		tracing.RecordError(span, perr, tracing.ErrorTypeLLM)
		return nil, perr
	}
	candidate.Email = &email
	span.SetAttributes(attribute.String("candidate.email", tracing.MaskEmail(email)))

	objectName := s.objectName(upload.Filename)
	cvURL, err := s.comps.BlobStore.Upload(ctx, objectName, upload.Data, mediaType)
	if err != nil {
		perr := newPipelineError(StageStoreFile, email, ErrFileStoreFailed, err)
		tracing.RecordError(span, perr, tracing.ErrorTypeBlob)
		return nil, perr
	}

	candidate.CVURL = cvURL
	candidate.Selected = false
	candidate.RawText = utils.TruncateRunes(text, s.settings.RawTextLimit)

	if err := s.comps.CandidateStore.Persist(ctx, candidate); err != nil {
		s.removeOrphan(ctx, objectName)
		perr := newPipelineError(StagePersist, email, ErrPersistFailed, err)
		tracing.RecordError(span, perr, tracing.ErrorTypeDB)
		return nil, perr
	}

	log.Info().
		Str("email", tracing.MaskEmail(email)).
		Str("object", objectName).
		Int("skills", len(candidate.Skills)).
		Float64("years", candidate.YearsOfExperience).
		Msg("简历入库完成")
	span.SetStatus(codes.Ok, "")

	return &IngestResult{
		CandidateID: email,
		DisplayName: candidate.DisplayName(),
		CVURL:       cvURL,
	}, nil
}

func (s *CandidateService) extractText(ctx context.Context, data []byte, mediaType, filename string) (string, error) {
	if s.settings.ExtractTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.settings.ExtractTimeout)
		defer cancel()
	}
	return s.comps.TextExtractor.ExtractText(ctx, data, mediaType, filename)
}

// objectName {prefix}{随机ID}_{原文件名}，文件名去掉目录部分
func (s *CandidateService) objectName(filename string) string {
	name := path.Base(strings.ReplaceAll(strings.TrimSpace(filename), "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "cv"
	}
	return s.settings.BlobPrefix + s.settings.NewObjectID() + "_" + name
}

// removeOrphan 写库失败后尽力删除刚上传的文件，失败只记录日志
func (s *CandidateService) removeOrphan(ctx context.Context, objectName string) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.settings.CleanupTimeout)
	defer cancel()
	if err := s.comps.BlobStore.Delete(cleanupCtx, objectName); err != nil {
		s.settings.Logger.Error().Err(err).Str("object", objectName).Msg("清理孤立的简历文件失败")
		return
	}
	s.settings.Logger.Warn().Str("object", objectName).Msg("写库失败，已删除上传的简历文件")
}

// Search 解析失败时退化为空条件，即返回全部未被选中的候选人
func (s *CandidateService) Search(ctx context.Context, text string) ([]types.CandidateResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, newPipelineError(StageValidate, "", ErrEmptyQuery, nil)
	}

	ctx, span := tracer.Start(ctx, "CandidateService.Search",
		trace.WithAttributes(attribute.String("search.query", tracing.SafeQuery(text))))
	defer span.End()

	filter := s.comps.QueryInterpreter.Interpret(ctx, text)
	span.SetAttributes(
		attribute.Int("search.skills", len(filter.Skills)),
		attribute.Bool("search.min_years", filter.MinYears != nil),
		attribute.Bool("search.title_ignored", filter.Title != nil),
		attribute.Bool("search.filter_empty", filter.IsEmpty()),
	)
	if filter.IsEmpty() {
		s.settings.Logger.Debug().Str("query", tracing.SafeQuery(text)).Msg("检索条件为空，返回全部未选中的候选人")
	}

	results, err := s.comps.CandidateStore.Query(ctx, filter)
	if err != nil {
		perr := newPipelineError(StageQuery, "", ErrQueryFailed, err)
		tracing.RecordError(span, perr, tracing.ErrorTypeDB)
		return nil, perr
	}
	if results == nil {
		results = []types.CandidateResult{}
	}

	s.settings.Logger.Info().
		Strs("skills", filter.Skills).
		Int("results", len(results)).
		Msg("候选人检索完成")
	span.SetAttributes(attribute.Int("search.results", len(results)))
	return results, nil
}

// MarkSelected 候选人不存在时返回 ErrCandidateNotFound，重复标记成功
func (s *CandidateService) MarkSelected(ctx context.Context, candidateID string) error {
	id := strings.TrimSpace(candidateID)
	if id == "" {
		return newPipelineError(StageValidate, "", ErrEmptyCandidateID, nil)
	}

	ctx, span := tracer.Start(ctx, "CandidateService.MarkSelected",
		trace.WithAttributes(attribute.String("candidate.email", tracing.MaskEmail(id))))
	defer span.End()

	if err := s.comps.CandidateStore.MarkSelected(ctx, id); err != nil {
		if errors.Is(err, ErrCandidateNotFound) {
			span.SetAttributes(attribute.Bool("candidate.found", false))
			return newPipelineError(StageMarkSelected, id, ErrCandidateNotFound, nil)
		}
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		return fmt.Errorf("标记候选人失败: %w", err)
	}

	s.settings.Logger.Info().Str("email", tracing.MaskEmail(id)).Msg("候选人已标记为选中")
	return nil
}

// Get 按 ID(email) 读取候选人
func (s *CandidateService) Get(ctx context.Context, candidateID string) (*types.Candidate, error) {
	id := strings.TrimSpace(candidateID)
	if id == "" {
		return nil, newPipelineError(StageValidate, "", ErrEmptyCandidateID, nil)
	}
	return s.comps.CandidateStore.Get(ctx, id)
}
