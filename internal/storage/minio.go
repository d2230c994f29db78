package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"ai-tracker-go/internal/config"
	"ai-tracker-go/internal/tracing"
	"ai-tracker-go/internal/types"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"
)

// MinIO 对象存储客户端，保存生成的文档(简历/求职信)正文。
// 对象键格式: documents/{kind}/{fingerprint}.md，同指纹重复写入幂等覆盖。
type MinIO struct {
	client *minio.Client
	cfg    *config.MinIOConfig
	logger zerolog.Logger
}

// NewMinIO 创建MinIO客户端并确保文档存储桶存在
func NewMinIO(cfg *config.MinIOConfig, logger zerolog.Logger) (*MinIO, error) {
	if cfg == nil {
		return nil, fmt.Errorf("MinIO配置不能为空")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("创建MinIO客户端失败: %w", err)
	}

	m := &MinIO{client: client, cfg: cfg, logger: logger}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.ensureBucket(ctx, cfg.DocumentsBucket); err != nil {
		return nil, err
	}

	return m, nil
}

// ensureBucket 确保存储桶存在，并按配置设置文档过期规则
func (m *MinIO) ensureBucket(ctx context.Context, bucket string) error {
	exists, err := m.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("检查存储桶%s失败: %w", bucket, err)
	}
	if exists {
		return nil
	}

	if err := m.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: m.cfg.Location}); err != nil {
		return fmt.Errorf("创建存储桶%s失败: %w", bucket, err)
	}
	m.logger.Info().Str("bucket", bucket).Msg("已创建文档存储桶")
	return nil
}

// documentObjectName 文档对象键
func documentObjectName(kind types.GenerationKind, fingerprint string) string {
	return fmt.Sprintf("documents/%s/%s.md", kind, fingerprint)
}

// SaveDocument 保存生成的文档正文，返回对象引用
func (m *MinIO) SaveDocument(ctx context.Context, kind types.GenerationKind, fingerprint string, content []byte) (string, error) {
	objectName := documentObjectName(kind, fingerprint)

	_, err := m.client.PutObject(ctx, m.cfg.DocumentsBucket, objectName,
		bytes.NewReader(content), int64(len(content)),
		minio.PutObjectOptions{ContentType: "text/markdown"})
	if err != nil {
		return "", fmt.Errorf("上传文档到MinIO失败: %w", err)
	}

	m.logger.Debug().
		Str("object", objectName).
		Int("bytes", len(content)).
		Str("preview", tracing.SafeDocumentContent(string(content))).
		Msg("文档已写入对象存储")
	return fmt.Sprintf("%s/%s", m.cfg.DocumentsBucket, objectName), nil
}

// GetDocument 按类型与指纹读取文档正文
func (m *MinIO) GetDocument(ctx context.Context, kind types.GenerationKind, fingerprint string) ([]byte, error) {
	objectName := documentObjectName(kind, fingerprint)

	obj, err := m.client.GetObject(ctx, m.cfg.DocumentsBucket, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("读取文档失败: %w", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("读取文档内容失败: %w", err)
	}
	return data, nil
}
