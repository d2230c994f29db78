package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeterministic(t *testing.T) {
	a := Build("user-1", "job-9", "job_match", 3, "professional", "medium")
	b := Build("user-1", "job-9", "job_match", 3, "professional", "medium")
	assert.Equal(t, a, b, "相同语义输入必须产生相同指纹")
	assert.Len(t, a, 64)
}

// 资料版本变化导致指纹变化，即使其余输入完全相同
func TestProfileVersionChangesFingerprint(t *testing.T) {
	v3 := Build("user-1", "job-9", "job_match", 3)
	v4 := Build("user-1", "job-9", "job_match", 4)
	assert.NotEqual(t, v3, v4)
}

func TestEachFieldParticipates(t *testing.T) {
	base := Build("user-1", "job-9", "resume", 1)
	assert.NotEqual(t, base, Build("user-2", "job-9", "resume", 1))
	assert.NotEqual(t, base, Build("user-1", "job-8", "resume", 1))
	assert.NotEqual(t, base, Build("user-1", "job-9", "cover_letter", 1))
	assert.NotEqual(t, base, Build("user-1", "job-9", "resume", 1, "friendly"))
}

// 长度前缀保证字段拼接无歧义
func TestNoConcatenationAmbiguity(t *testing.T) {
	a := Build("ab", "c", "k", 1)
	b := Build("a", "bc", "k", 1)
	assert.NotEqual(t, a, b)

	c := Build("u", "t", "k", 1, "xy", "z")
	d := Build("u", "t", "k", 1, "x", "yz")
	assert.NotEqual(t, c, d)
}
