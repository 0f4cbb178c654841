package types

import "strings"

// Education 学历条目
type Education struct {
	Institution string `json:"ten_truong"`
	Major       string `json:"chuyen_nganh"`
	Period      string `json:"thoi_gian"`
}

// Experience 工作经历条目
type Experience struct {
	Company     string `json:"ten_cong_ty"`
	Title       string `json:"chuc_vu"`
	Period      string `json:"thoi_gian"`
	Description string `json:"mo_ta"`
}

// Candidate 候选人记录，以 email 为唯一键。
// JSON 字段名与模型提示词中要求输出的键一致。
type Candidate struct {
	FullName          *string      `json:"ho_ten"`
	Email             *string      `json:"email"`
	Phone             *string      `json:"so_dien_thoai"`
	Address           *string      `json:"dia_chi"`
	Education         []Education  `json:"hoc_van"`
	Experience        []Experience `json:"kinh_nghiem"`
	Skills            []string     `json:"ky_nang"`
	YearsOfExperience float64      `json:"so_nam_kinh_nghiem"`

	// 以下字段由系统写入
	CVURL    string `json:"cv_url"`
	Selected bool   `json:"da_duoc_chon"`
	RawText  string `json:"raw_text"`
}

// EmailValue 返回去除空白后的 email，缺失时为空串
func (c *Candidate) EmailValue() string {
	if c == nil || c.Email == nil {
		return ""
	}
	return strings.TrimSpace(*c.Email)
}

// DisplayName 返回姓名，缺失时退回 email
func (c *Candidate) DisplayName() string {
	if c == nil {
		return ""
	}
	if c.FullName != nil && strings.TrimSpace(*c.FullName) != "" {
		return strings.TrimSpace(*c.FullName)
	}
	return c.EmailValue()
}

// CandidateResult 搜索结果条目，id 与 email 相同
type CandidateResult struct {
	ID string `json:"id"`
	Candidate
}

// SearchFilter 由自然语言查询解析出的检索条件
type SearchFilter struct {
	// Title 仅被解析和记录，不参与查询
	Title    *string  `json:"chuc_danh,omitempty"`
	MinYears *float64 `json:"so_nam_kinh_nghiem_toi_thieu,omitempty"`
	Skills   []string `json:"ky_nang_bat_buoc,omitempty"`
}

// IsEmpty 没有任何可用于查询的条件
func (f SearchFilter) IsEmpty() bool {
	return f.MinYears == nil && len(f.Skills) == 0
}
