package processor

import (
	"context"

	"cv-filter/internal/parser"
	"cv-filter/internal/types"
)

// TextExtractor 文档转纯文本
type TextExtractor = parser.TextExtractor

// CandidateExtractor 简历文本转候选人记录。
// 实现永不返回 nil，提取失败时 email 为空。
type CandidateExtractor interface {
	Extract(ctx context.Context, text string) *types.Candidate
}

// QueryInterpreter 自然语言检索需求转检索条件，失败时返回空条件
type QueryInterpreter interface {
	Interpret(ctx context.Context, text string) types.SearchFilter
}

var (
	_ CandidateExtractor = (*parser.CandidateExtractor)(nil)
	_ QueryInterpreter   = (*parser.QueryInterpreter)(nil)
)

// CVUpload 一次上传的简历文件
type CVUpload struct {
	Filename  string
	MediaType string
	Data      []byte
}

// IngestResult 入库结果
type IngestResult struct {
	CandidateID string
	DisplayName string
	CVURL       string
}
