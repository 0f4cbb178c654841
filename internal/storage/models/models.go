package models

import (
	"strings"
	"time"

	"cv-filter/internal/types"
	"cv-filter/pkg/utils"

	"gorm.io/datatypes"
)

// Candidate 候选人表，email 为主键
type Candidate struct {
	Email             string         `gorm:"type:varchar(255) COLLATE utf8mb4_bin;primaryKey"`
	FullName          *string        `gorm:"type:varchar(255)"`
	Phone             *string        `gorm:"type:varchar(50)"`
	Address           *string        `gorm:"type:varchar(512)"`
	Education         datatypes.JSON `gorm:"type:json"`
	Experience        datatypes.JSON `gorm:"type:json"`
	Skills            datatypes.JSON `gorm:"type:json"`
	YearsOfExperience float64        `gorm:"type:double;not null;default:0;index:idx_candidates_selected_years,priority:2"`
	CVURL             string         `gorm:"column:cv_url;type:varchar(1024)"`
	Selected          bool           `gorm:"not null;default:false;index:idx_candidates_selected_years,priority:1"`
	RawText           string         `gorm:"type:text"`
	CreatedAt         time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt         time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`
}

func (Candidate) TableName() string {
	return "candidates"
}

// CandidateFromType 领域对象转为表记录
func CandidateFromType(c *types.Candidate) *Candidate {
	return &Candidate{
		Email:             c.EmailValue(),
		FullName:          c.FullName,
		Phone:             c.Phone,
		Address:           c.Address,
		Education:         utils.ToJSON(c.Education),
		Experience:        utils.ToJSON(c.Experience),
		Skills:            utils.ToJSON(c.Skills),
		YearsOfExperience: c.YearsOfExperience,
		CVURL:             c.CVURL,
		Selected:          c.Selected,
		RawText:           c.RawText,
	}
}

// ToType 表记录转为领域对象
func (m *Candidate) ToType() *types.Candidate {
	email := strings.TrimSpace(m.Email)
	return &types.Candidate{
		FullName:          m.FullName,
		Email:             &email,
		Phone:             m.Phone,
		Address:           m.Address,
		Education:         utils.FromJSON[types.Education](m.Education),
		Experience:        utils.FromJSON[types.Experience](m.Experience),
		Skills:            utils.FromJSON[string](m.Skills),
		YearsOfExperience: m.YearsOfExperience,
		CVURL:             m.CVURL,
		Selected:          m.Selected,
		RawText:           m.RawText,
	}
}
