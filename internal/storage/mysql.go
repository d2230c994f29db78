package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ai-tracker-go/internal/config"
	"ai-tracker-go/internal/constants"
	"ai-tracker-go/internal/storage/models"
	"ai-tracker-go/internal/tracing"
	"ai-tracker-go/internal/types"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var mysqlTracer = otel.Tracer("ai-tracker-go/storage/mysql")

// ErrProfileNotFound subject没有资料记录
var ErrProfileNotFound = errors.New("候选人资料不存在")

// gormSpanKey 在GORM语句上下文中保存span的键
type gormSpanKey struct{}

// GormTracingPlugin GORM插件，为数据库操作创建OpenTelemetry span
type GormTracingPlugin struct {
	tracer trace.Tracer
	dbName string
}

// NewGormTracingPlugin 创建GORM追踪插件
func NewGormTracingPlugin(dbName string) *GormTracingPlugin {
	return &GormTracingPlugin{
		tracer: mysqlTracer,
		dbName: dbName,
	}
}

// Name 返回插件名称
func (p *GormTracingPlugin) Name() string {
	return "GormOpenTelemetryPlugin"
}

// Initialize 注册GORM回调以启用追踪
func (p *GormTracingPlugin) Initialize(db *gorm.DB) error {
	cb := db.Callback()
	if err := cb.Create().Before("gorm:create").Register("otel:before_create", p.before("CREATE")); err != nil {
		return err
	}
	if err := cb.Create().After("gorm:create").Register("otel:after_create", p.after()); err != nil {
		return err
	}
	if err := cb.Query().Before("gorm:query").Register("otel:before_query", p.before("SELECT")); err != nil {
		return err
	}
	if err := cb.Query().After("gorm:query").Register("otel:after_query", p.after()); err != nil {
		return err
	}
	if err := cb.Update().Before("gorm:update").Register("otel:before_update", p.before("UPDATE")); err != nil {
		return err
	}
	if err := cb.Update().After("gorm:update").Register("otel:after_update", p.after()); err != nil {
		return err
	}
	if err := cb.Delete().Before("gorm:delete").Register("otel:before_delete", p.before("DELETE")); err != nil {
		return err
	}
	if err := cb.Delete().After("gorm:delete").Register("otel:after_delete", p.after()); err != nil {
		return err
	}
	return nil
}

func (p *GormTracingPlugin) before(operation string) func(db *gorm.DB) {
	return func(db *gorm.DB) {
		ctx := db.Statement.Context
		if ctx == nil {
			ctx = context.Background()
		}
		tableName := db.Statement.Table
		if tableName == "" {
			tableName = "unknown"
		}
		newCtx, span := p.tracer.Start(ctx, fmt.Sprintf("%s %s", operation, tableName),
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				attribute.String("db.system", "mysql"),
				attribute.String("db.name", p.dbName),
				attribute.String("db.operation", operation),
				attribute.String("db.sql.table", tableName),
			),
		)
		db.Statement.Context = context.WithValue(newCtx, gormSpanKey{}, span)
	}
}

func (p *GormTracingPlugin) after() func(db *gorm.DB) {
	return func(db *gorm.DB) {
		span, ok := db.Statement.Context.Value(gormSpanKey{}).(trace.Span)
		if !ok {
			return
		}
		defer span.End()

		span.SetAttributes(attribute.Int64("db.rows_affected", db.Statement.RowsAffected))
		if sql := db.Statement.SQL.String(); sql != "" {
			span.SetAttributes(attribute.String("db.statement", tracing.SafeSQL(sql)))
		}
		if db.Error != nil {
			if errors.Is(db.Error, gorm.ErrRecordNotFound) {
				// 未找到是正常业务情况，不标记错误
				span.SetStatus(codes.Ok, "record not found")
			} else {
				tracing.RecordError(span, db.Error, tracing.ErrorTypeDB)
			}
			return
		}
		span.SetStatus(codes.Ok, "")
	}
}

// MySQL 关系数据库客户端，负责资料与会话审计的持久化
type MySQL struct {
	db  *gorm.DB
	cfg *config.MySQLConfig
}

// NewMySQL 创建MySQL客户端并完成表迁移
func NewMySQL(cfg *config.MySQLConfig) (*MySQL, error) {
	if cfg == nil {
		return nil, fmt.Errorf("MySQL配置不能为空")
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local&timeout=%ds&readTimeout=%ds&writeTimeout=%ds",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database,
		cfg.ConnectTimeoutSeconds, cfg.ReadTimeoutSeconds, cfg.WriteTimeoutSeconds)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.LogLevel(cfg.LogLevel)),
	})
	if err != nil {
		return nil, fmt.Errorf("连接MySQL失败: %w", err)
	}

	if err := db.Use(NewGormTracingPlugin(cfg.Database)); err != nil {
		return nil, fmt.Errorf("注册GORM追踪插件失败: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取底层连接池失败: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)

	if err := db.AutoMigrate(&models.CandidateProfileRecord{}, &models.GenerationSessionRecord{}); err != nil {
		return nil, fmt.Errorf("表迁移失败: %w", err)
	}

	return &MySQL{db: db, cfg: cfg}, nil
}

// DB 返回GORM数据库连接实例
func (m *MySQL) DB() *gorm.DB {
	return m.db
}

// Close 关闭数据库连接
func (m *MySQL) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// GetProfile 读取候选人资料
func (m *MySQL) GetProfile(ctx context.Context, subjectID string) (*types.CandidateProfile, int64, error) {
	var record models.CandidateProfileRecord
	err := m.db.WithContext(ctx).Where("subject_id = ?", subjectID).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, 0, ErrProfileNotFound
		}
		return nil, 0, fmt.Errorf("查询资料失败: %w", err)
	}

	var skills []string
	if len(record.Skills) > 0 {
		if err := json.Unmarshal(record.Skills, &skills); err != nil {
			return nil, 0, fmt.Errorf("资料skills字段损坏: %w", err)
		}
	}

	return &types.CandidateProfile{
		Headline:        record.Headline,
		Summary:         record.Summary,
		Skills:          skills,
		YearsExperience: record.YearsExperience,
		Education:       types.EducationLevel(record.Education),
		RawResumeText:   record.RawResumeText,
	}, record.Version, nil
}

// GetProfileVersion 返回subject当前的资料版本。无记录视为版本1(尚未写入任何资料)。
func (m *MySQL) GetProfileVersion(ctx context.Context, subjectID string) (int64, error) {
	var record models.CandidateProfileRecord
	err := m.db.WithContext(ctx).
		Select("version").
		Where("subject_id = ?", subjectID).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 1, nil
		}
		return 0, fmt.Errorf("查询资料版本失败: %w", err)
	}
	return record.Version, nil
}

// UpsertProfile 写入或更新资料，版本号加一。
// 版本自增与字段更新在同一条语句中完成，并发更新不会丢失版本跳变。
func (m *MySQL) UpsertProfile(ctx context.Context, subjectID string, profile *types.CandidateProfile) (int64, error) {
	skillsJSON, err := json.Marshal(profile.Skills)
	if err != nil {
		return 0, fmt.Errorf("序列化skills失败: %w", err)
	}

	record := models.CandidateProfileRecord{
		SubjectID:       subjectID,
		Version:         1,
		Headline:        profile.Headline,
		Summary:         profile.Summary,
		Skills:          datatypes.JSON(skillsJSON),
		YearsExperience: profile.YearsExperience,
		Education:       string(profile.Education),
		RawResumeText:   profile.RawResumeText,
	}

	err = m.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "subject_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"version":          gorm.Expr("version + 1"),
			"headline":         record.Headline,
			"summary":          record.Summary,
			"skills":           record.Skills,
			"years_experience": record.YearsExperience,
			"education":        record.Education,
			"raw_resume_text":  record.RawResumeText,
		}),
	}).Create(&record).Error
	if err != nil {
		return 0, fmt.Errorf("写入资料失败: %w", err)
	}

	return m.GetProfileVersion(ctx, subjectID)
}

// BumpProfileVersion 只递增版本号，不改资料内容。
// 用于资料以外的输入(如偏好)变更后强制重新生成。
func (m *MySQL) BumpProfileVersion(ctx context.Context, subjectID string) (int64, error) {
	result := m.db.WithContext(ctx).
		Model(&models.CandidateProfileRecord{}).
		Where("subject_id = ?", subjectID).
		UpdateColumn("version", gorm.Expr("version + 1"))
	if result.Error != nil {
		return 0, fmt.Errorf("递增资料版本失败: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return 0, ErrProfileNotFound
	}
	return m.GetProfileVersion(ctx, subjectID)
}

// SaveGenerationSession 保存会话审计记录，同ID重复保存按更新处理
func (m *MySQL) SaveGenerationSession(ctx context.Context, session *types.GenerationSession) error {
	record := models.GenerationSessionRecord{
		ID:            session.ID,
		Fingerprint:   session.Fingerprint,
		Kind:          string(session.Kind),
		SubjectID:     session.SubjectID,
		TargetID:      session.TargetID,
		Status:        string(session.Status),
		Attempts:      session.Attempts,
		CacheHit:      session.CacheHit,
		ResultRef:     session.ResultRef,
		ErrorDetail:   session.ErrorDetail,
		EngineVersion: constants.EngineVersion,
		StartedAt:     session.StartedAt,
		CompletedAt:   session.CompletedAt,
	}

	err := m.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status", "attempts", "result_ref", "error_detail", "completed_at",
		}),
	}).Create(&record).Error
	if err != nil {
		return fmt.Errorf("保存生成会话失败: %w", err)
	}
	return nil
}

// ListSessions 按subject查询最近的会话审计记录
func (m *MySQL) ListSessions(ctx context.Context, subjectID string, limit int) ([]models.GenerationSessionRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var records []models.GenerationSessionRecord
	err := m.db.WithContext(ctx).
		Where("subject_id = ?", subjectID).
		Order("started_at DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("查询会话记录失败: %w", err)
	}
	return records, nil
}
