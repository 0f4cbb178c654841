package constants

const (
	// MediaTypePDF PDF 简历
	MediaTypePDF = "application/pdf"
	// MediaTypeDOCX Word 简历
	MediaTypeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

	// EventCandidateIngested 候选人入库事件
	EventCandidateIngested = "CandidateIngested"
	// EventCandidateSelected 候选人被选中事件
	EventCandidateSelected = "CandidateSelected"

	// OutboxStatusPending 待发布
	OutboxStatusPending = "PENDING"
	// OutboxStatusSent 已发布
	OutboxStatusSent = "SENT"
	// OutboxStatusFailed 多次发布失败
	OutboxStatusFailed = "FAILED"
)

// SupportedMediaTypes 允许上传的文件类型
var SupportedMediaTypes = map[string]bool{ //nolint:gochecknoglobals
	MediaTypePDF:  true,
	MediaTypeDOCX: true,
}
