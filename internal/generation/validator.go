package generation

import (
	"encoding/json"
	"fmt"
	"strings"

	"ai-tracker-go/internal/types"
)

// companyResearch company_research类型的结构化结果
type companyResearch struct {
	Overview      string   `json:"overview"`
	Culture       string   `json:"culture"`
	InterviewTips []string `json:"interview_tips"`
	TalkingPoints []string `json:"talking_points"`
}

// validateResult 按生成类型校验provider返回的载荷。
// 语法合法但结构畸形的结果按失败处理，绝不静默放行。
// 返回规范化后的内容(company_research会重新序列化为纯JSON)。
func validateResult(kind types.GenerationKind, content string) (string, error) {
	switch kind {
	case types.KindResume, types.KindCoverLetter, types.KindSkillsGap:
		return validateNarrative(kind, content)
	case types.KindCompanyResearch:
		return validateCompanyResearch(content)
	default:
		return "", fmt.Errorf("类型%s没有注册校验规则", kind)
	}
}

// validateNarrative 叙事类结果：非空且达到最低信息量
func validateNarrative(kind types.GenerationKind, content string) (string, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "", fmt.Errorf("%s结果为空", kind)
	}
	if len([]rune(trimmed)) < 50 {
		return "", fmt.Errorf("%s结果过短(%d字符)，疑似截断或拒答", kind, len([]rune(trimmed)))
	}
	return trimmed, nil
}

// validateCompanyResearch 结构化结果：提取JSON并校验必填字段
func validateCompanyResearch(content string) (string, error) {
	jsonStr := extractJSON(content)
	if jsonStr == "" {
		return "", fmt.Errorf("company_research结果中未找到JSON对象")
	}

	var research companyResearch
	if err := json.Unmarshal([]byte(jsonStr), &research); err != nil {
		return "", fmt.Errorf("company_research结果JSON解析失败: %w", err)
	}
	if strings.TrimSpace(research.Overview) == "" {
		return "", fmt.Errorf("company_research缺少overview字段")
	}
	if len(research.InterviewTips) == 0 {
		return "", fmt.Errorf("company_research缺少interview_tips")
	}

	normalized, err := json.Marshal(research)
	if err != nil {
		return "", fmt.Errorf("company_research结果重新序列化失败: %w", err)
	}
	return string(normalized), nil
}

// validateBreakdown 校验评分明细的内部不变量
func validateBreakdown(b *types.ScoreBreakdown) error {
	if b == nil {
		return fmt.Errorf("评分明细为空")
	}
	for name, v := range map[string]int{
		"overall":          b.Overall,
		"skills_score":     b.SkillsScore,
		"experience_score": b.ExperienceScore,
		"education_score":  b.EducationScore,
	} {
		if v < 0 || v > 100 {
			return fmt.Errorf("%s越界: %d", name, v)
		}
	}
	return nil
}

// extractJSON 从文本中按花括号配对提取第一个完整JSON对象
func extractJSON(text string) string {
	start := strings.Index(text, "{")
	if start == -1 {
		return ""
	}
	level := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				level++
			}
		case '}':
			if !inString {
				level--
				if level == 0 {
					return text[start : i+1]
				}
			}
		}
	}
	return ""
}
