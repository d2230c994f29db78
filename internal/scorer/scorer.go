// Package scorer 实现确定性的人岗匹配评分。
// 纯函数、无I/O，相同输入恒产生相同评分明细，线程安全。
package scorer

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"ai-tracker-go/internal/constants"
	"ai-tracker-go/internal/types"
)

// Config 评分权重配置。三项权重之和必须为1.0。
type Config struct {
	SkillsWeight       float64
	ExperienceWeight   float64
	EducationWeight    float64
	MaxRecommendations int
}

// DefaultConfig 返回默认权重: 技能0.5 / 经验0.3 / 学历0.2
func DefaultConfig() Config {
	return Config{
		SkillsWeight:       0.5,
		ExperienceWeight:   0.3,
		EducationWeight:    0.2,
		MaxRecommendations: constants.DefaultMaxRecommendations,
	}
}

// Scorer 匹配评分器
type Scorer struct {
	cfg Config
}

// New 创建评分器，权重非法时回退默认配置
func New(cfg Config) *Scorer {
	sum := cfg.SkillsWeight + cfg.ExperienceWeight + cfg.EducationWeight
	if math.Abs(sum-1.0) > 1e-9 {
		cfg = DefaultConfig()
	}
	if cfg.MaxRecommendations <= 0 {
		cfg.MaxRecommendations = constants.DefaultMaxRecommendations
	}
	return &Scorer{cfg: cfg}
}

// Score 计算候选人与岗位的匹配度明细
func (s *Scorer) Score(profile *types.CandidateProfile, job *types.JobRequirement) *types.ScoreBreakdown {
	matched, missing := intersectSkills(profile.Skills, job.RequiredSkills)

	skillsScore := 100
	if len(job.RequiredSkills) > 0 {
		// 以岗位要求的去重后技能数为分母
		total := len(matched) + len(missing)
		skillsScore = int(math.Round(float64(len(matched)) / float64(total) * 100))
	}
	// 岗位未列出任何技能要求时不做惩罚，skillsScore保持100

	expScore := experienceScore(profile.YearsExperience, job.Seniority)
	eduScore := educationScore(profile.Education, job.RequiredEducation)

	overall := int(math.Round(
		s.cfg.SkillsWeight*float64(skillsScore) +
			s.cfg.ExperienceWeight*float64(expScore) +
			s.cfg.EducationWeight*float64(eduScore)))
	overall = clamp(overall)

	return &types.ScoreBreakdown{
		Overall:         overall,
		SkillsScore:     clamp(skillsScore),
		ExperienceScore: expScore,
		EducationScore:  eduScore,
		MatchedSkills:   matched,
		MissingSkills:   missing,
		Recommendations: s.recommendations(missing),
	}
}

// intersectSkills 计算候选人技能与岗位要求的交集与差集。
// 比较忽略大小写和首尾空白；返回值保留岗位要求中的原始写法，按字典序排列。
func intersectSkills(candidate, required []string) (matched, missing []string) {
	have := make(map[string]bool, len(candidate))
	for _, s := range candidate {
		if key := normalizeSkill(s); key != "" {
			have[key] = true
		}
	}

	seen := make(map[string]bool, len(required))
	matched = []string{}
	missing = []string{}
	for _, s := range required {
		key := normalizeSkill(s)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		if have[key] {
			matched = append(matched, strings.TrimSpace(s))
		} else {
			missing = append(missing, strings.TrimSpace(s))
		}
	}
	sort.Strings(matched)
	sort.Strings(missing)
	return matched, missing
}

func normalizeSkill(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// experienceScore 按岗位级别档位的最低年限要求给分：
// 达标得满分，不足按比例给分。entry档位无最低要求，恒为满分。
func experienceScore(years float64, band types.SeniorityBand) int {
	if years < 0 {
		years = 0
	}
	min := band.MinYears()
	if min <= 0 {
		return 100
	}
	if years >= min {
		return 100
	}
	return clamp(int(math.Round(years / min * 100)))
}

// educationScore 学历达标得满分，不足按序数距离给部分分
func educationScore(candidate, required types.EducationLevel) int {
	reqRank := required.Rank()
	if reqRank == 0 {
		return 100
	}
	candRank := candidate.Rank()
	if candRank >= reqRank {
		return 100
	}
	return clamp(int(math.Round(float64(candRank) / float64(reqRank) * 100)))
}

// recommendations 每个缺失技能生成一条建议，数量受配置上限约束
func (s *Scorer) recommendations(missing []string) []string {
	recs := []string{}
	for _, skill := range missing {
		if len(recs) >= s.cfg.MaxRecommendations {
			break
		}
		recs = append(recs, fmt.Sprintf("岗位要求%q，建议在资料或项目经历中补充该技能的实践经验", skill))
	}
	return recs
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
