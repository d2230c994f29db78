package generation

import (
	"context"
	"fmt"
	"strings"

	"ai-tracker-go/internal/types"
)

// TemplateRenderer 把生成请求渲染成provider的prompt。
// 视为纯函数(可能较慢)；模板措辞是数据不是规格，可整体替换。
type TemplateRenderer interface {
	Render(ctx context.Context, req *types.GenerationRequest) (systemPrompt, userPrompt string, err error)
}

// DefaultRenderer 内置的prompt模板渲染器
type DefaultRenderer struct{}

// NewDefaultRenderer 创建内置渲染器
func NewDefaultRenderer() *DefaultRenderer {
	return &DefaultRenderer{}
}

const rendererSystemPrompt = "你是一位资深的求职辅导专家，擅长撰写简历、求职信，并能对岗位与候选人的匹配情况给出专业分析。输出必须符合用户消息中说明的格式要求。"

// Render 按生成类型渲染prompt
func (r *DefaultRenderer) Render(_ context.Context, req *types.GenerationRequest) (string, string, error) {
	opts := req.Options.Normalized()
	var b strings.Builder

	switch req.Kind {
	case types.KindResume:
		b.WriteString("请根据以下候选人资料，面向目标岗位撰写一份定制化简历(Markdown格式)。\n")
		writeToneAndLength(&b, opts)
		writeProfile(&b, req.Profile)
		writeJob(&b, req.Job)
		b.WriteString("\n输出要求：直接输出简历正文，不要附加解释性文字。")

	case types.KindCoverLetter:
		b.WriteString("请根据以下候选人资料和目标岗位，撰写一封求职信。\n")
		writeToneAndLength(&b, opts)
		writeProfile(&b, req.Profile)
		writeJob(&b, req.Job)
		b.WriteString("\n输出要求：直接输出求职信正文，落款用占位符[姓名]。")

	case types.KindSkillsGap:
		b.WriteString("请对比候选人技能与岗位要求，针对列出的缺口技能给出学习建议和弥补路径。\n")
		writeProfile(&b, req.Profile)
		writeJob(&b, req.Job)
		b.WriteString("\n输出要求：直接输出分析正文。")

	case types.KindCompanyResearch:
		b.WriteString("请对下面的公司做一份面向求职者的调研摘要。\n")
		fmt.Fprintf(&b, "\n【公司】: %s\n【岗位】: %s\n", req.Job.Company, req.Job.Title)
		if req.Job.Description != "" {
			fmt.Fprintf(&b, "【岗位描述】:\n\"\"\"\n%s\n\"\"\"\n", req.Job.Description)
		}
		b.WriteString(`
请严格按照以下JSON格式输出，不要在JSON之外添加任何文本：
{
  "overview": "公司概况(100字以内)",
  "culture": "企业文化与工作氛围",
  "interview_tips": ["面试建议1", "面试建议2"],
  "talking_points": ["可以在面试中提及的话题1", "话题2"]
}`)

	case types.KindJobMatch:
		// job_match由确定性评分器本地计算，不经过provider
		return "", "", fmt.Errorf("job_match类型不渲染prompt")

	default:
		return "", "", fmt.Errorf("未知的生成类型: %s", req.Kind)
	}

	return rendererSystemPrompt, b.String(), nil
}

func writeToneAndLength(b *strings.Builder, opts types.GenerationOptions) {
	fmt.Fprintf(b, "语气风格: %s；篇幅: %s。\n", opts.ToneStyle, opts.LengthPreference)
	if len(opts.FocusAreas) > 0 {
		fmt.Fprintf(b, "重点突出: %s。\n", strings.Join(opts.FocusAreas, "、"))
	}
}

func writeProfile(b *strings.Builder, p *types.CandidateProfile) {
	b.WriteString("\n【候选人资料】:\n")
	if p.Headline != "" {
		fmt.Fprintf(b, "头衔: %s\n", p.Headline)
	}
	if p.Summary != "" {
		fmt.Fprintf(b, "简介: %s\n", p.Summary)
	}
	fmt.Fprintf(b, "技能: %s\n", strings.Join(p.Skills, ", "))
	fmt.Fprintf(b, "相关经验年限: %.1f\n", p.YearsExperience)
	if p.Education != "" {
		fmt.Fprintf(b, "最高学历: %s\n", p.Education)
	}
	if p.RawResumeText != "" {
		fmt.Fprintf(b, "原始简历文本:\n\"\"\"\n%s\n\"\"\"\n", p.RawResumeText)
	}
}

func writeJob(b *strings.Builder, j *types.JobRequirement) {
	b.WriteString("\n【目标岗位】:\n")
	fmt.Fprintf(b, "职位: %s @ %s\n", j.Title, j.Company)
	if len(j.RequiredSkills) > 0 {
		fmt.Fprintf(b, "要求技能: %s\n", strings.Join(j.RequiredSkills, ", "))
	}
	if j.Seniority != "" {
		fmt.Fprintf(b, "级别: %s\n", j.Seniority)
	}
	if j.Description != "" {
		fmt.Fprintf(b, "岗位描述:\n\"\"\"\n%s\n\"\"\"\n", j.Description)
	}
}
