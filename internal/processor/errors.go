package processor

import (
	"errors"
	"fmt"

	"cv-filter/internal/parser"
	"cv-filter/internal/storage"
)

var (
	// ErrUnsupportedMediaType 只接受 PDF 和 DOCX
	ErrUnsupportedMediaType = parser.ErrUnsupportedMediaType
	ErrContentUnreadable    = errors.New("content unreadable")
	ErrMissingEmail         = errors.New("extraction failed or missing email")
	ErrEmptyQuery           = errors.New("search text is empty")
	ErrEmptyCandidateID     = errors.New("candidate_id is empty")
	ErrFileStoreFailed      = errors.New("上传简历文件失败")
	ErrPersistFailed        = errors.New("保存候选人失败")
	ErrQueryFailed          = errors.New("查询候选人失败")
	ErrCandidateNotFound    = storage.ErrCandidateNotFound
)

// 流水线阶段
const (
	StageValidate     = "validate"
	StageExtractText  = "extract_text"
	StageExtractData  = "extract_data"
	StageStoreFile    = "store_file"
	StagePersist      = "persist"
	StageQuery        = "query"
	StageMarkSelected = "mark_selected"
)

// PipelineError 带阶段信息的流水线错误
type PipelineError struct {
	Stage   string
	Email   string
	BaseErr error
	Detail  string
}

func (e *PipelineError) Error() string {
	switch {
	case e.Detail != "" && e.Email != "":
		return fmt.Sprintf("%s (阶段:%s, email:%s): %s", e.BaseErr, e.Stage, e.Email, e.Detail)
	case e.Detail != "":
		return fmt.Sprintf("%s (阶段:%s): %s", e.BaseErr, e.Stage, e.Detail)
	default:
		return fmt.Sprintf("%s (阶段:%s)", e.BaseErr, e.Stage)
	}
}

func (e *PipelineError) Unwrap() error {
	return e.BaseErr
}

func newPipelineError(stage, email string, base error, cause error) error {
	pe := &PipelineError{Stage: stage, Email: email, BaseErr: base}
	if cause != nil {
		pe.Detail = cause.Error()
	}
	return pe
}
