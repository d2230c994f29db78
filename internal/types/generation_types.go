package types

import (
	"sort"
	"strings"
	"time"
)

// GenerationKind 生成任务类型，封闭枚举。
// 每种类型有各自的缓存TTL和结果校验规则，新增类型必须同步补充两者。
type GenerationKind string

const (
	KindResume          GenerationKind = "resume"
	KindCoverLetter     GenerationKind = "cover_letter"
	KindJobMatch        GenerationKind = "job_match"
	KindSkillsGap       GenerationKind = "skills_gap"
	KindCompanyResearch GenerationKind = "company_research"
)

// AllGenerationKinds 返回所有合法的生成类型
func AllGenerationKinds() []GenerationKind {
	return []GenerationKind{
		KindResume,
		KindCoverLetter,
		KindJobMatch,
		KindSkillsGap,
		KindCompanyResearch,
	}
}

// Valid 判断是否为合法的生成类型
func (k GenerationKind) Valid() bool {
	for _, kind := range AllGenerationKinds() {
		if k == kind {
			return true
		}
	}
	return false
}

// GenerationOptions 生成选项。
// 所有字段都有安全默认值；只有会改变生成结果的字段才参与指纹计算。
type GenerationOptions struct {
	ToneStyle        string   `json:"tone_style,omitempty"`        // 语气风格: professional(默认) / friendly / concise
	LengthPreference string   `json:"length_preference,omitempty"` // 篇幅偏好: short / medium(默认) / long
	FocusAreas       []string `json:"focus_areas,omitempty"`       // 希望重点突出的方向
	TTLOverrideSec   int      `json:"ttl_override_seconds,omitempty"`
}

// Normalized 返回填充了默认值、FocusAreas已排序去重的副本。
// 排序保证同一组选项无论调用方以什么顺序传入都产生相同指纹。
func (o GenerationOptions) Normalized() GenerationOptions {
	out := o
	if out.ToneStyle == "" {
		out.ToneStyle = "professional"
	}
	if out.LengthPreference == "" {
		out.LengthPreference = "medium"
	}
	if len(o.FocusAreas) > 0 {
		seen := make(map[string]bool, len(o.FocusAreas))
		areas := make([]string, 0, len(o.FocusAreas))
		for _, a := range o.FocusAreas {
			a = strings.ToLower(strings.TrimSpace(a))
			if a == "" || seen[a] {
				continue
			}
			seen[a] = true
			areas = append(areas, a)
		}
		sort.Strings(areas)
		out.FocusAreas = areas
	}
	return out
}

// TTLOverride 以Duration形式返回TTL覆盖值，0表示未设置
func (o GenerationOptions) TTLOverride() time.Duration {
	if o.TTLOverrideSec <= 0 {
		return 0
	}
	return time.Duration(o.TTLOverrideSec) * time.Second
}

// SeniorityBand 岗位级别档位
type SeniorityBand string

const (
	SeniorityEntry     SeniorityBand = "entry"
	SeniorityMid       SeniorityBand = "mid"
	SenioritySenior    SeniorityBand = "senior"
	SeniorityExecutive SeniorityBand = "executive"
)

// MinYears 返回该档位通常要求的最低相关经验年限
func (s SeniorityBand) MinYears() float64 {
	switch s {
	case SeniorityMid:
		return 2
	case SenioritySenior:
		return 5
	case SeniorityExecutive:
		return 10
	default: // entry 或未指定
		return 0
	}
}

// EducationLevel 学历层级，按序比较
type EducationLevel string

const (
	EducationNone       EducationLevel = "none"
	EducationHighSchool EducationLevel = "high_school"
	EducationAssociate  EducationLevel = "associate"
	EducationBachelor   EducationLevel = "bachelor"
	EducationMaster     EducationLevel = "master"
	EducationDoctorate  EducationLevel = "doctorate"
)

// Rank 返回学历在序数标尺上的位置，未知学历按0处理
func (e EducationLevel) Rank() int {
	switch e {
	case EducationHighSchool:
		return 1
	case EducationAssociate:
		return 2
	case EducationBachelor:
		return 3
	case EducationMaster:
		return 4
	case EducationDoctorate:
		return 5
	}
	return 0
}

// CandidateProfile 候选人画像，来自资料CRUD层的结构化输入
type CandidateProfile struct {
	Headline        string         `json:"headline,omitempty"`
	Summary         string         `json:"summary,omitempty"`
	Skills          []string       `json:"skills"`
	YearsExperience float64        `json:"years_experience"`
	Education       EducationLevel `json:"education"`
	RawResumeText   string         `json:"raw_resume_text,omitempty"` // 从PDF导入的原始简历文本
}

// JobRequirement 岗位要求，来自看板中某个职位条目
type JobRequirement struct {
	Title             string         `json:"title"`
	Company           string         `json:"company"`
	RequiredSkills    []string       `json:"required_skills"`
	Seniority         SeniorityBand  `json:"seniority"`
	RequiredEducation EducationLevel `json:"required_education"`
	Description       string         `json:"description,omitempty"`
}

// ScoreBreakdown 匹配度评分明细。
// Overall = round(0.5*Skills + 0.3*Experience + 0.2*Education)，恒在[0,100]内。
type ScoreBreakdown struct {
	Overall         int      `json:"overall"`
	SkillsScore     int      `json:"skills_score"`
	ExperienceScore int      `json:"experience_score"`
	EducationScore  int      `json:"education_score"`
	MatchedSkills   []string `json:"matched_skills"`
	MissingSkills   []string `json:"missing_skills"`
	Recommendations []string `json:"recommendations"`
}

// GenerationRequest 一次生成请求的语义输入
type GenerationRequest struct {
	Kind      GenerationKind    `json:"kind"`
	SubjectID string            `json:"subject_id"` // 由身份层注入的不透明用户标识
	TargetID  string            `json:"target_id"`  // 目标实体(岗位)ID
	Profile   *CandidateProfile `json:"profile,omitempty"`
	Job       *JobRequirement   `json:"job,omitempty"`
	Options   GenerationOptions `json:"options"`
}

// GenerationResult 生成结果。
// Content用于叙事类结果(简历/求职信/公司调研)，Match用于评分类结果。
type GenerationResult struct {
	Kind              GenerationKind  `json:"kind"`
	Fingerprint       string          `json:"fingerprint"`
	Content           string          `json:"content,omitempty"`
	Match             *ScoreBreakdown `json:"match,omitempty"`
	ResultRef         string          `json:"result_ref,omitempty"` // 对象存储中的文档引用
	FromCache         bool            `json:"from_cache"`
	Attempts          int             `json:"attempts"`
	ProviderLatencyMS int64           `json:"provider_latency_ms"`
	GeneratedAt       time.Time       `json:"generated_at"`
}

// Clone 返回结果的深拷贝，评分明细及其切片全部独立。
// 去重合并的调用方各自拿一份，互相改动不可见。
func (r *GenerationResult) Clone() *GenerationResult {
	if r == nil {
		return nil
	}
	out := *r
	if r.Match != nil {
		m := *r.Match
		m.MatchedSkills = append([]string(nil), r.Match.MatchedSkills...)
		m.MissingSkills = append([]string(nil), r.Match.MissingSkills...)
		m.Recommendations = append([]string(nil), r.Match.Recommendations...)
		out.Match = &m
	}
	return &out
}

// SessionStatus 生成会话状态
type SessionStatus string

const (
	SessionPending    SessionStatus = "pending"
	SessionInProgress SessionStatus = "in_progress"
	SessionCompleted  SessionStatus = "completed"
	SessionFailed     SessionStatus = "failed"
	SessionCancelled  SessionStatus = "cancelled"
)

// Terminal 判断是否为终态。终态一旦到达不再变更，新请求开启新会话。
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionFailed || s == SessionCancelled
}

// GenerationSession 一次生成会话的审计记录。
// 同一指纹同一时刻最多有一个非终态会话，由去重协调器保证。
type GenerationSession struct {
	ID          string         `json:"id"`
	Fingerprint string         `json:"fingerprint"`
	Kind        GenerationKind `json:"kind"`
	SubjectID   string         `json:"subject_id"`
	TargetID    string         `json:"target_id"`
	Status      SessionStatus  `json:"status"`
	Attempts    int            `json:"attempts"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	ErrorDetail string         `json:"error_detail,omitempty"`
	ResultRef   string         `json:"result_ref,omitempty"`
	CacheHit    bool           `json:"cache_hit"`
}
