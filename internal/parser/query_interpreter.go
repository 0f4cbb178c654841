package parser

import (
	"context"
	"fmt"
	"time"

	"cv-filter/internal/tracing"
	"cv-filter/internal/types"
	"cv-filter/pkg/utils"

	"github.com/cloudwego/eino/components/model"
	"github.com/rs/zerolog"
)

const queryPrompt = `Phân tích yêu cầu tuyển dụng và trích xuất các tiêu chí thành một cấu trúc JSON.
Chỉ trả về đối tượng JSON. Các trường có thể có:
- chuc_danh (string)
- so_nam_kinh_nghiem_toi_thieu (number)
- ky_nang_bat_buoc (list of strings)`

// FilterCache 缓存查询文本到检索条件的解析结果
type FilterCache interface {
	GetFilter(ctx context.Context, query string) (*types.SearchFilter, error)
	SetFilter(ctx context.Context, query string, filter types.SearchFilter) error
}

// QueryInterpreter 把自然语言检索需求解析为 SearchFilter
type QueryInterpreter struct {
	model   model.ToolCallingChatModel
	cache   FilterCache
	logger  *zerolog.Logger
	timeout time.Duration
}

// NewQueryInterpreter cache 可以为空
func NewQueryInterpreter(llmModel model.ToolCallingChatModel, opts ...ExtractorOption) *QueryInterpreter {
	o := applyOptions(opts)
	return &QueryInterpreter{
		model:   llmModel,
		cache:   o.cache,
		logger:  o.logger,
		timeout: o.timeout,
	}
}

// Interpret 失败时返回空条件，不会阻断检索流程
func (q *QueryInterpreter) Interpret(ctx context.Context, text string) types.SearchFilter {
	normalized := utils.NormalizeSpace(text)

	if q.cache != nil && normalized != "" {
		cached, err := q.cache.GetFilter(ctx, normalized)
		if err != nil {
			q.logger.Warn().Err(err).Msg("读取检索条件缓存失败")
		} else if cached != nil {
			q.logger.Debug().Str("query", tracing.SafeQuery(normalized)).Msg("命中检索条件缓存")
			return *cached
		}
	}

	content, err := callModel(ctx, q.model, q.timeout, queryPrompt,
		fmt.Sprintf("Yêu cầu: %q", text))
	if err != nil {
		q.logger.Error().Err(err).Str("query", tracing.SafeQuery(text)).Msg("调用模型解析检索需求失败")
		return types.SearchFilter{}
	}

	filter, err := parseFilter(content)
	if err != nil {
		q.logger.Error().Err(err).
			Str("response", tracing.TruncateString(content, 200)).
			Msg("解析检索条件 JSON 失败")
		return types.SearchFilter{}
	}

	if filter.Title != nil {
		// 职位名称目前不参与查询
		q.logger.Info().Str("title", *filter.Title).Msg("检索条件包含职位名称，未用于过滤")
	}

	if q.cache != nil && normalized != "" {
		if err := q.cache.SetFilter(ctx, normalized, filter); err != nil {
			q.logger.Warn().Err(err).Msg("写入检索条件缓存失败")
		}
	}
	return filter
}

func parseFilter(content string) (types.SearchFilter, error) {
	var filter types.SearchFilter
	obj, err := decodeObject(content)
	if err != nil {
		return filter, err
	}

	if raw, ok := obj["chuc_danh"]; ok {
		if s, ok := rawString(raw); ok && s != "" {
			filter.Title = &s
		}
	}
	if raw, ok := obj["so_nam_kinh_nghiem_toi_thieu"]; ok {
		if years, ok := rawNumber(raw); ok && years > 0 {
			filter.MinYears = &years
		}
	}
	if raw, ok := obj["ky_nang_bat_buoc"]; ok {
		if skills, ok := rawStringList(raw); ok {
			filter.Skills = dedupe(skills)
		}
	}
	return filter, nil
}

func dedupe(items []string) []string {
	if len(items) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}
