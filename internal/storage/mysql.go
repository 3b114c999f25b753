package storage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"cv-match-go/internal/config"
	"cv-match-go/internal/storage/models"
	"cv-match-go/internal/tracing"
	"cv-match-go/internal/types"
)

var mysqlTracer = otel.Tracer("cv-match-go/storage/mysql")

type spanContextKey struct{}

// GormTracingPlugin GORM插件，为数据库操作添加OpenTelemetry追踪点
type GormTracingPlugin struct {
	tracer trace.Tracer
	dbName string
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

	if err := cb.Raw().Before("gorm:raw").Register("otel:before_raw", p.before("RAW")); err != nil {
		return err
	}
	if err := cb.Raw().After("gorm:raw").Register("otel:after_raw", p.after()); err != nil {
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
				semconv.DBSystemMySQL,
				attribute.String("db.name", p.dbName),
				attribute.String("db.operation", operation),
				attribute.String("db.sql.table", tableName),
			),
		)
		db.Statement.Context = context.WithValue(newCtx, spanContextKey{}, span)
	}
}

func (p *GormTracingPlugin) after() func(db *gorm.DB) {
	return func(db *gorm.DB) {
		span, ok := db.Statement.Context.Value(spanContextKey{}).(trace.Span)
		if !ok {
			return
		}
		defer span.End()

		span.SetAttributes(
			attribute.Int64("db.rows_affected", db.Statement.RowsAffected),
			attribute.String("db.statement", tracing.SafeSQL(db.Statement.SQL.String())),
		)

		if db.Error != nil {
			if errors.Is(db.Error, gorm.ErrRecordNotFound) {
				// 未命中是正常业务情况，不计为错误
				span.SetStatus(codes.Ok, "record not found")
			} else {
				tracing.RecordError(span, db.Error, tracing.ErrorTypeDB)
			}
			return
		}
		span.SetStatus(codes.Ok, "")
	}
}

// NewGormTracingPlugin 创建GORM追踪插件
func NewGormTracingPlugin(dbName string) *GormTracingPlugin {
	return &GormTracingPlugin{tracer: mysqlTracer, dbName: dbName}
}

// MySQL 候选人/岗位/匹配缓存/对话记录的持久层
type MySQL struct {
	db  *gorm.DB
	cfg *config.MySQLConfig
}

// NewMySQL 创建MySQL客户端并自动迁移表结构
func NewMySQL(cfg *config.MySQLConfig) (*MySQL, error) {
	if cfg == nil {
		return nil, fmt.Errorf("MySQL配置不能为空")
	}

	var logLevel gormlogger.LogLevel
	switch cfg.LogLevel {
	case "silent":
		logLevel = gormlogger.Silent
	case "error":
		logLevel = gormlogger.Error
	case "info":
		logLevel = gormlogger.Info
	default:
		logLevel = gormlogger.Warn
	}

	db, err := gorm.Open(mysql.Open(cfg.DSN()), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormlogger.Default.LogMode(logLevel),
		PrepareStmt:                              true,
		NowFunc: func() time.Time {
			return time.Now().Local()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("连接MySQL失败: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取底层 sql.DB 失败: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Minute)

	if err := db.Use(NewGormTracingPlugin(cfg.Database)); err != nil {
		return nil, fmt.Errorf("注册追踪插件失败: %w", err)
	}

	m := &MySQL{db: db, cfg: cfg}
	if err := m.autoMigrateSchema(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("自动迁移数据库结构失败: %w", err)
	}
	return m, nil
}

// NewMySQLWithDB 用已有连接构造，供测试注入sqlite/sqlmock
func NewMySQLWithDB(db *gorm.DB) *MySQL {
	return &MySQL{db: db, cfg: &config.MySQLConfig{}}
}

func (m *MySQL) autoMigrateSchema() error {
	// 迁移期间关闭SQL日志
	silentLogger := gormlogger.New(
		log.New(log.Writer(), "", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormlogger.Silent,
			IgnoreRecordNotFoundError: true,
		},
	)
	silentDB := m.db.Session(&gorm.Session{Logger: silentLogger})

	if err := silentDB.AutoMigrate(
		&models.Candidate{},
		&models.Job{},
		&models.CandidateJobMatch{},
		&models.ChatTurn{},
	); err != nil {
		return fmt.Errorf("GORM自动迁移失败: %w", err)
	}
	return nil
}

// DB 返回GORM数据库连接实例
func (m *MySQL) DB() *gorm.DB {
	return m.db
}

// Close 关闭数据库连接
func (m *MySQL) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return fmt.Errorf("获取底层 sql.DB 失败: %w", err)
	}
	return sqlDB.Close()
}

// ---------- 候选人 ----------

// SaveCandidate 保存或整体更新候选人记录
func (m *MySQL) SaveCandidate(ctx context.Context, rec *types.CandidateRecord) error {
	row, err := models.CandidateFromRecord(rec)
	if err != nil {
		return err
	}
	if err := m.db.WithContext(ctx).Save(row).Error; err != nil {
		return fmt.Errorf("保存候选人 %s 失败: %w", rec.CandidateID, err)
	}
	return nil
}

// GetCandidateByID 按ID获取候选人，未找到时返回 (nil, nil)
func (m *MySQL) GetCandidateByID(ctx context.Context, candidateID string) (*types.CandidateRecord, error) {
	var row models.Candidate
	err := m.db.WithContext(ctx).First(&row, "candidate_id = ?", candidateID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("查询候选人 %s 失败: %w", candidateID, err)
	}
	return row.ToRecord()
}

// ListCandidates 分页列出候选人，按创建时间倒序
func (m *MySQL) ListCandidates(ctx context.Context, offset, limit int) ([]*types.CandidateRecord, int64, error) {
	var total int64
	if err := m.db.WithContext(ctx).Model(&models.Candidate{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("统计候选人数量失败: %w", err)
	}

	var rows []models.Candidate
	err := m.db.WithContext(ctx).
		Order("created_at DESC").
		Offset(offset).Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, 0, fmt.Errorf("分页查询候选人失败: %w", err)
	}

	recs := make([]*types.CandidateRecord, 0, len(rows))
	for i := range rows {
		rec, err := rows[i].ToRecord()
		if err != nil {
			return nil, 0, err
		}
		recs = append(recs, rec)
	}
	return recs, total, nil
}

// DeleteCandidate 物理删除候选人及其全部匹配缓存
func (m *MySQL) DeleteCandidate(ctx context.Context, candidateID string) error {
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("candidate_id = ?", candidateID).Delete(&models.CandidateJobMatch{}).Error; err != nil {
			return fmt.Errorf("删除候选人匹配缓存失败: %w", err)
		}
		if err := tx.Where("candidate_id = ?", candidateID).Delete(&models.Candidate{}).Error; err != nil {
			return fmt.Errorf("删除候选人 %s 失败: %w", candidateID, err)
		}
		return nil
	})
}

// FindEmbeddedCandidates 返回已完成向量化的候选人。过滤条件只在SQL层做
// 粗筛（JSON列LIKE），精确谓词由检索引擎在内存中复核。
func (m *MySQL) FindEmbeddedCandidates(ctx context.Context, filters types.SearchFilters) ([]*types.CandidateRecord, error) {
	q := m.db.WithContext(ctx).Model(&models.Candidate{}).
		Where("embedding_json IS NOT NULL")

	if filters.Employer != "" {
		q = q.Where("experience_json LIKE ?", "%"+filters.Employer+"%")
	}
	if filters.Institution != "" {
		q = q.Where("education_json LIKE ?", "%"+filters.Institution+"%")
	}

	var rows []models.Candidate
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("查询已向量化候选人失败: %w", err)
	}

	recs := make([]*types.CandidateRecord, 0, len(rows))
	for i := range rows {
		rec, err := rows[i].ToRecord()
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// ---------- 岗位 ----------

// CreateJob 新建岗位
func (m *MySQL) CreateJob(ctx context.Context, p *types.JobPosting) error {
	row, err := models.JobFromPosting(p)
	if err != nil {
		return err
	}
	if err := m.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("创建岗位 %s 失败: %w", p.JobID, err)
	}
	return nil
}

// UpdateJob 整体更新岗位
func (m *MySQL) UpdateJob(ctx context.Context, p *types.JobPosting) error {
	row, err := models.JobFromPosting(p)
	if err != nil {
		return err
	}
	res := m.db.WithContext(ctx).Model(&models.Job{}).
		Where("job_id = ?", p.JobID).
		Updates(row)
	if res.Error != nil {
		return fmt.Errorf("更新岗位 %s 失败: %w", p.JobID, res.Error)
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// GetJobByID 按ID获取岗位（含已软删除岗位），未找到返回 (nil, nil)
func (m *MySQL) GetJobByID(ctx context.Context, jobID string) (*types.JobPosting, error) {
	var row models.Job
	err := m.db.WithContext(ctx).First(&row, "job_id = ?", jobID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("查询岗位 %s 失败: %w", jobID, err)
	}
	return row.ToPosting()
}

// ListActiveJobs 列出全部在招岗位
func (m *MySQL) ListActiveJobs(ctx context.Context) ([]*types.JobPosting, error) {
	var rows []models.Job
	err := m.db.WithContext(ctx).
		Where("active = ?", true).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("查询在招岗位失败: %w", err)
	}

	postings := make([]*types.JobPosting, 0, len(rows))
	for i := range rows {
		p, err := rows[i].ToPosting()
		if err != nil {
			return nil, err
		}
		postings = append(postings, p)
	}
	return postings, nil
}

// SoftDeleteJob 软删除岗位：仅置 active=false，保留历史匹配记录
func (m *MySQL) SoftDeleteJob(ctx context.Context, jobID string) error {
	res := m.db.WithContext(ctx).Model(&models.Job{}).
		Where("job_id = ?", jobID).
		Update("active", false)
	if res.Error != nil {
		return fmt.Errorf("下线岗位 %s 失败: %w", jobID, res.Error)
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ---------- 匹配缓存 ----------

// GetMatch 按配对查缓存记录，未命中返回 (nil, nil)
func (m *MySQL) GetMatch(ctx context.Context, candidateID, jobID string) (*models.CandidateJobMatch, error) {
	var row models.CandidateJobMatch
	err := m.db.WithContext(ctx).
		First(&row, "candidate_id = ? AND job_id = ?", candidateID, jobID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("查询匹配缓存 (%s, %s) 失败: %w", candidateID, jobID, err)
	}
	return &row, nil
}

// UpsertMatch 原子写入匹配记录。依赖 idx_match_pair 唯一索引，
// 并发写同一配对时后写者覆盖，不产生重复行。
func (m *MySQL) UpsertMatch(ctx context.Context, row *models.CandidateJobMatch) error {
	err := m.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "candidate_id"}, {Name: "job_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"score", "details_json", "recommendations_json",
			"cv_version", "job_version", "cache_time",
		}),
	}).Create(row).Error
	if err != nil {
		return fmt.Errorf("写入匹配缓存 (%s, %s) 失败: %w", row.CandidateID, row.JobID, err)
	}
	return nil
}

// ListMatchesForJob 某岗位的全部缓存记录，按分数倒序
func (m *MySQL) ListMatchesForJob(ctx context.Context, jobID string) ([]models.CandidateJobMatch, error) {
	var rows []models.CandidateJobMatch
	err := m.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("score DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("查询岗位 %s 匹配记录失败: %w", jobID, err)
	}
	return rows, nil
}

// ListMatchesForCandidate 某候选人的全部缓存记录
func (m *MySQL) ListMatchesForCandidate(ctx context.Context, candidateID string) ([]models.CandidateJobMatch, error) {
	var rows []models.CandidateJobMatch
	err := m.db.WithContext(ctx).
		Where("candidate_id = ?", candidateID).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("查询候选人 %s 匹配记录失败: %w", candidateID, err)
	}
	return rows, nil
}

// ResetMatches 清空匹配缓存。jobID为空串时清全表（评分提示词升级后重算用）
func (m *MySQL) ResetMatches(ctx context.Context, jobID string) (int64, error) {
	q := m.db.WithContext(ctx)
	if jobID != "" {
		q = q.Where("job_id = ?", jobID)
	} else {
		q = q.Where("1 = 1")
	}
	res := q.Delete(&models.CandidateJobMatch{})
	if res.Error != nil {
		return 0, fmt.Errorf("清空匹配缓存失败: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// ---------- 对话记录 ----------

// SaveChatTurn 追加一轮对话
func (m *MySQL) SaveChatTurn(ctx context.Context, turn *types.ChatTurn) error {
	row, err := models.ChatTurnFromDomain(turn)
	if err != nil {
		return err
	}
	if err := m.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("保存对话记录失败: %w", err)
	}
	return nil
}

// ListChatTurns 按时间顺序返回最近的对话轮次
func (m *MySQL) ListChatTurns(ctx context.Context, limit int) ([]*types.ChatTurn, error) {
	var rows []models.ChatTurn
	err := m.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("查询对话记录失败: %w", err)
	}

	// 倒序取出后翻转为时间正序
	turns := make([]*types.ChatTurn, len(rows))
	for i := range rows {
		t, err := rows[i].ToDomain()
		if err != nil {
			return nil, err
		}
		turns[len(rows)-1-i] = t
	}
	return turns, nil
}

// DeleteChatTurns 清空全部对话记录
func (m *MySQL) DeleteChatTurns(ctx context.Context) error {
	if err := m.db.WithContext(ctx).Where("1 = 1").Delete(&models.ChatTurn{}).Error; err != nil {
		return fmt.Errorf("清空对话记录失败: %w", err)
	}
	return nil
}
