package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// CandidateProfileRecord 候选人资料表。
// Version单调递增，任何资料变更(含PDF导入)都会加一；
// 生成指纹包含该版本号，资料一变旧缓存条目整体不可达。
type CandidateProfileRecord struct {
	SubjectID       string         `gorm:"column:subject_id;type:varchar(64);primaryKey"`
	Version         int64          `gorm:"column:version;not null;default:1"`
	Headline        string         `gorm:"column:headline;type:varchar(255)"`
	Summary         string         `gorm:"column:summary;type:text"`
	Skills          datatypes.JSON `gorm:"column:skills;type:json"`
	YearsExperience float64        `gorm:"column:years_experience;not null;default:0"`
	Education       string         `gorm:"column:education;type:varchar(32)"`
	RawResumeText   string         `gorm:"column:raw_resume_text;type:mediumtext"`
	CreatedAt       time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time      `gorm:"column:updated_at;autoUpdateTime"`
	DeletedAt       gorm.DeletedAt `gorm:"column:deleted_at;index"`
}

// TableName 指定表名
func (CandidateProfileRecord) TableName() string {
	return "candidate_profiles"
}

// GenerationSessionRecord 生成会话审计表。
// 每次生成请求(含缓存命中)记一条，终态不再变更。
type GenerationSessionRecord struct {
	ID            string         `gorm:"column:id;type:varchar(36);primaryKey"`
	Fingerprint   string         `gorm:"column:fingerprint;type:char(64);not null;index:idx_fingerprint"`
	Kind          string         `gorm:"column:kind;type:varchar(32);not null"`
	SubjectID     string         `gorm:"column:subject_id;type:varchar(64);not null;index:idx_subject"`
	TargetID      string         `gorm:"column:target_id;type:varchar(64);not null"`
	Status        string         `gorm:"column:status;type:varchar(16);not null"`
	Attempts      int            `gorm:"column:attempts;not null;default:0"`
	CacheHit      bool           `gorm:"column:cache_hit;not null;default:false"`
	ResultRef     string         `gorm:"column:result_ref;type:varchar(512)"`
	ErrorDetail   string         `gorm:"column:error_detail;type:text"`
	EngineVersion string         `gorm:"column:engine_version;type:varchar(16)"`
	StartedAt     time.Time      `gorm:"column:started_at;not null"`
	CompletedAt   *time.Time     `gorm:"column:completed_at"`
	CreatedAt     time.Time      `gorm:"column:created_at;autoCreateTime"`
	Extra         datatypes.JSON `gorm:"column:extra;type:json"`
}

// TableName 指定表名
func (GenerationSessionRecord) TableName() string {
	return "generation_sessions"
}
