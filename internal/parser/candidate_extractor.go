package parser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cv-filter/internal/tracing"
	"cv-filter/internal/types"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
)

var (
	errNoJSONObject = errors.New("no JSON object in model response")
	errEmptyModel   = errors.New("empty model response")
)

// 模型被要求输出的八个字段
const (
	keyFullName   = "ho_ten"
	keyEmail      = "email"
	keyPhone      = "so_dien_thoai"
	keyAddress    = "dia_chi"
	keyEducation  = "hoc_van"
	keyExperience = "kinh_nghiem"
	keySkills     = "ky_nang"
	keyYears      = "so_nam_kinh_nghiem"
)

const candidateSystemPrompt = `Bạn là một trợ lý nhân sự AI chuyên nghiệp. Hãy đọc nội dung CV và bóc tách các thông tin thành một cấu trúc JSON duy nhất.
Nếu không tìm thấy thông tin cho một trường nào đó, hãy bỏ qua trường đó trong JSON trả về.
Chỉ trả về đối tượng JSON, không giải thích gì thêm.

Các trường thông tin cần bóc tách:
- ho_ten: Họ và tên đầy đủ.
- email: Địa chỉ email.
- so_dien_thoai: Số điện thoại.
- dia_chi: Địa chỉ.
- hoc_van: Danh sách các mục học vấn (ten_truong, chuyen_nganh, thoi_gian).
- kinh_nghiem: Danh sách kinh nghiệm làm việc (ten_cong_ty, chuc_vu, thoi_gian, mo_ta).
- ky_nang: Danh sách các kỹ năng chính.
- so_nam_kinh_nghiem: Ước tính tổng số năm kinh nghiệm làm việc (chỉ trả về một con số, ví dụ: 3.5). Nếu không có kinh nghiệm, trả về 0.`

// CandidateExtractor 调用语言模型把简历文本解析为候选人记录
type CandidateExtractor struct {
	model   model.ToolCallingChatModel
	logger  *zerolog.Logger
	timeout time.Duration
}

// ExtractorOption 配置 CandidateExtractor / QueryInterpreter
type ExtractorOption func(*llmCallOptions)

type llmCallOptions struct {
	logger  *zerolog.Logger
	timeout time.Duration
	cache   FilterCache
}

// WithLogger 设置日志
func WithLogger(logger *zerolog.Logger) ExtractorOption {
	return func(o *llmCallOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithCallTimeout 单次模型调用超时，0 表示只受上游 ctx 约束
func WithCallTimeout(d time.Duration) ExtractorOption {
	return func(o *llmCallOptions) {
		o.timeout = d
	}
}

// WithFilterCache 仅对 QueryInterpreter 生效
func WithFilterCache(cache FilterCache) ExtractorOption {
	return func(o *llmCallOptions) {
		o.cache = cache
	}
}

func applyOptions(opts []ExtractorOption) llmCallOptions {
	nop := zerolog.Nop()
	o := llmCallOptions{logger: &nop}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewCandidateExtractor 创建结构化信息提取器
func NewCandidateExtractor(llmModel model.ToolCallingChatModel, opts ...ExtractorOption) *CandidateExtractor {
	o := applyOptions(opts)
	return &CandidateExtractor{
		model:   llmModel,
		logger:  o.logger,
		timeout: o.timeout,
	}
}

// Extract 返回的记录永不为 nil。模型调用或 JSON 解析失败时返回全空记录并记录日志，
// 调用方通过 email 是否存在判断提取是否成功。
func (e *CandidateExtractor) Extract(ctx context.Context, text string) *types.Candidate {
	candidate := &types.Candidate{}

	content, err := callModel(ctx, e.model, e.timeout, candidateSystemPrompt,
		fmt.Sprintf("Nội dung CV:\n---\n%s\n---", text))
	if err != nil {
		e.logger.Error().Err(err).Msg("调用模型提取简历信息失败")
		return candidate
	}

	obj, err := decodeObject(content)
	if err != nil {
		e.logger.Error().Err(err).
			Str("response", tracing.SafeResumeContent(content)).
			Msg("解析模型返回的简历 JSON 失败")
		return candidate
	}

	mergeCandidate(candidate, obj, e.logger)
	e.logger.Debug().
		Str("email", tracing.MaskEmail(candidate.EmailValue())).
		Int("skills", len(candidate.Skills)).
		Float64("years", candidate.YearsOfExperience).
		Msg("简历信息提取完成")
	return candidate
}

// mergeCandidate 只接受八个已知字段，且类型必须兼容；其余键被忽略
func mergeCandidate(c *types.Candidate, obj map[string]json.RawMessage, logger *zerolog.Logger) {
	for key, raw := range obj {
		switch key {
		case keyFullName:
			c.FullName = optionalString(raw)
		case keyEmail:
			c.Email = optionalString(raw)
		case keyPhone:
			c.Phone = optionalString(raw)
		case keyAddress:
			c.Address = optionalString(raw)
		case keyEducation:
			if items, ok := rawObjectList(raw); ok {
				c.Education = make([]types.Education, 0, len(items))
				for _, item := range items {
					c.Education = append(c.Education, types.Education{
						Institution: fieldString(item, "ten_truong"),
						Major:       fieldString(item, "chuyen_nganh"),
						Period:      fieldString(item, "thoi_gian"),
					})
				}
			}
		case keyExperience:
			if items, ok := rawObjectList(raw); ok {
				c.Experience = make([]types.Experience, 0, len(items))
				for _, item := range items {
					c.Experience = append(c.Experience, types.Experience{
						Company:     fieldString(item, "ten_cong_ty"),
						Title:       fieldString(item, "chuc_vu"),
						Period:      fieldString(item, "thoi_gian"),
						Description: fieldString(item, "mo_ta"),
					})
				}
			}
		case keySkills:
			if skills, ok := rawStringList(raw); ok {
				c.Skills = skills
			}
		case keyYears:
			if years, ok := rawNumber(raw); ok && years > 0 {
				c.YearsOfExperience = years
			}
		default:
			logger.Debug().Str("key", key).Msg("忽略模型返回的未知字段")
		}
	}
}

func optionalString(raw json.RawMessage) *string {
	s, ok := rawString(raw)
	if !ok || s == "" {
		return nil
	}
	return &s
}

// callModel 单次调用，不重试
func callModel(ctx context.Context, llmModel model.ToolCallingChatModel, timeout time.Duration, system, user string) (string, error) {
	if llmModel == nil {
		return "", errors.New("language model not configured")
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	resp, err := llmModel.Generate(ctx, []*schema.Message{
		schema.SystemMessage(system),
		schema.UserMessage(user),
	})
	if err != nil {
		return "", fmt.Errorf("LLM Generate failed: %w", err)
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return "", errEmptyModel
	}
	return resp.Content, nil
}
