package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cv-filter/internal/config"
	"cv-filter/internal/constants"
	"cv-filter/internal/storage/models"
	"cv-filter/internal/types"

	"github.com/gofrs/uuid/v5"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var mysqlTracer = otel.Tracer("cv-filter/storage/mysql")

type spanContextKey struct{}

// GormTracingPlugin 为每条 SQL 创建一个 client span
type GormTracingPlugin struct {
	tracer trace.Tracer
	dbName string
}

// NewGormTracingPlugin 创建GORM追踪插件
func NewGormTracingPlugin(dbName string) *GormTracingPlugin {
	return &GormTracingPlugin{tracer: mysqlTracer, dbName: dbName}
}

func (p *GormTracingPlugin) Name() string {
	return "GormOpenTelemetryPlugin"
}

// Initialize 注册GORM回调
func (p *GormTracingPlugin) Initialize(db *gorm.DB) error {
	cb := db.Callback()
	steps := []struct {
		name      string
		operation string
		before    func(string, func(*gorm.DB)) error
		after     func(string, func(*gorm.DB)) error
	}{
		{"create", "INSERT", cb.Create().Before("gorm:create").Register, cb.Create().After("gorm:create").Register},
		{"query", "SELECT", cb.Query().Before("gorm:query").Register, cb.Query().After("gorm:query").Register},
		{"update", "UPDATE", cb.Update().Before("gorm:update").Register, cb.Update().After("gorm:update").Register},
		{"delete", "DELETE", cb.Delete().Before("gorm:delete").Register, cb.Delete().After("gorm:delete").Register},
		{"row", "ROW", cb.Row().Before("gorm:row").Register, cb.Row().After("gorm:row").Register},
		{"raw", "RAW", cb.Raw().Before("gorm:raw").Register, cb.Raw().After("gorm:raw").Register},
	}
	for _, s := range steps {
		if err := s.before("otel:before_"+s.name, p.before(s.operation)); err != nil {
			return err
		}
		if err := s.after("otel:after_"+s.name, p.after()); err != nil {
			return err
		}
	}
	return nil
}

func (p *GormTracingPlugin) before(operation string) func(db *gorm.DB) {
	return func(db *gorm.DB) {
		ctx := db.Statement.Context
		if ctx == nil {
			ctx = context.Background()
		}
		table := db.Statement.Table
		if table == "" {
			table = "unknown"
		}
		newCtx, span := p.tracer.Start(ctx, fmt.Sprintf("%s %s", operation, table),
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				semconv.DBSystemMySQL,
				attribute.String("db.name", p.dbName),
				attribute.String("db.operation", operation),
				attribute.String("db.sql.table", table),
			))
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

		span.SetAttributes(attribute.Int64("db.rows_affected", db.Statement.RowsAffected))
		switch {
		case db.Error == nil:
			span.SetStatus(codes.Ok, "")
		case errors.Is(db.Error, gorm.ErrRecordNotFound):
			// 查询不到记录属于正常业务分支
			span.SetAttributes(attribute.String("error.type", "record_not_found"))
			span.SetStatus(codes.Ok, "record not found")
		default:
			span.SetAttributes(attribute.String("error.type", "database_error"))
			span.RecordError(db.Error)
			span.SetStatus(codes.Error, db.Error.Error())
		}
	}
}

// EventRouting 候选人事件写入发件箱时使用的路由信息
type EventRouting struct {
	Enabled            bool
	Exchange           string
	IngestedRoutingKey string
	SelectedRoutingKey string
}

// CandidateIngestedEvent 简历入库事件
type CandidateIngestedEvent struct {
	Email      string    `json:"email"`
	CVURL      string    `json:"cv_url"`
	IngestedAt time.Time `json:"ingested_at"`
}

// CandidateSelectedEvent 候选人被选中事件
type CandidateSelectedEvent struct {
	Email      string    `json:"email"`
	SelectedAt time.Time `json:"selected_at"`
}

// MySQL 候选人存储
type MySQL struct {
	db     *gorm.DB
	events EventRouting
	logger *zerolog.Logger
}

var _ CandidateStore = (*MySQL)(nil)

// candidateUpsertColumns 重复 email 时覆盖的列，created_at 保留首次写入时间
var candidateUpsertColumns = []string{
	"full_name", "phone", "address",
	"education", "experience", "skills",
	"years_of_experience", "cv_url", "selected", "raw_text",
	"updated_at",
}

// NewMySQL 连接数据库并自动迁移表结构
func NewMySQL(cfg *config.MySQLConfig, events EventRouting, log *zerolog.Logger) (*MySQL, error) {
	if cfg == nil {
		return nil, fmt.Errorf("MySQL配置不能为空")
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local&timeout=%ds&readTimeout=%ds&writeTimeout=%ds",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database,
		cfg.ConnectTimeoutSeconds, cfg.ReadTimeoutSeconds, cfg.WriteTimeoutSeconds)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   logger.Default.LogMode(gormLogLevel(cfg.LogLevel)),
		PrepareStmt:                              true,
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
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)

	if err := db.Use(NewGormTracingPlugin(cfg.Database)); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("注册追踪插件失败: %w", err)
	}

	if err := db.Session(&gorm.Session{Logger: db.Logger.LogMode(logger.Silent)}).
		AutoMigrate(&models.Candidate{}, &models.OutboxMessage{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("自动迁移数据库结构失败: %w", err)
	}

	m := NewMySQLWithDB(db, events, log)
	m.logger.Info().Str("host", cfg.Host).Str("database", cfg.Database).Msg("成功连接到MySQL并自动迁移数据库结构")
	return m, nil
}

// NewMySQLWithDB 使用已有连接创建存储
func NewMySQLWithDB(db *gorm.DB, events EventRouting, log *zerolog.Logger) *MySQL {
	if log == nil {
		nop := zerolog.Nop()
		log = &nop
	}
	return &MySQL{db: db, events: events, logger: log}
}

func gormLogLevel(level int) logger.LogLevel {
	switch level {
	case 1:
		return logger.Silent
	case 2:
		return logger.Error
	case 3:
		return logger.Warn
	case 4:
		return logger.Info
	default:
		return logger.Error
	}
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

// Persist 按 email 整体覆盖写入，同一事务内写入入库事件
func (m *MySQL) Persist(ctx context.Context, candidate *types.Candidate) error {
	email := candidate.EmailValue()
	if email == "" {
		return errors.New("candidate email is required")
	}
	row := models.CandidateFromType(candidate)

	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := upsertCandidate(tx, row).Error; err != nil {
			return fmt.Errorf("写入候选人失败: %w", err)
		}
		return m.enqueue(tx, email, constants.EventCandidateIngested, m.events.IngestedRoutingKey,
			CandidateIngestedEvent{Email: email, CVURL: row.CVURL, IngestedAt: time.Now().UTC()})
	})
}

func upsertCandidate(tx *gorm.DB, row *models.Candidate) *gorm.DB {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "email"}},
		DoUpdates: clause.AssignmentColumns(candidateUpsertColumns),
	}).Create(row)
}

// Query 未被选中 且 满足最低年限 且 包含全部技能
func (m *MySQL) Query(ctx context.Context, filter types.SearchFilter) ([]types.CandidateResult, error) {
	var rows []models.Candidate
	if err := applyFilter(m.db.WithContext(ctx).Model(&models.Candidate{}), filter).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("查询候选人失败: %w", err)
	}

	results := make([]types.CandidateResult, 0, len(rows))
	for i := range rows {
		results = append(results, types.CandidateResult{
			ID:        rows[i].Email,
			Candidate: *rows[i].ToType(),
		})
	}
	return results, nil
}

// applyFilter 把检索条件转换为查询谓词，职位名称不参与过滤
func applyFilter(db *gorm.DB, filter types.SearchFilter) *gorm.DB {
	db = db.Where("selected = ?", false)
	if filter.MinYears != nil {
		db = db.Where("years_of_experience >= ?", *filter.MinYears)
	}
	for _, skill := range filter.Skills {
		db = db.Where("JSON_CONTAINS(skills, JSON_QUOTE(?))", skill)
	}
	return db
}

// MarkSelected 已被选中的记录再次标记直接成功
func (m *MySQL) MarkSelected(ctx context.Context, id string) error {
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.Candidate
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("email", "selected").
			Where("email = ?", id).
			Take(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrCandidateNotFound
		}
		if err != nil {
			return fmt.Errorf("查询候选人失败: %w", err)
		}
		if row.Selected {
			return nil
		}

		if err := tx.Model(&models.Candidate{}).Where("email = ?", id).Update("selected", true).Error; err != nil {
			return fmt.Errorf("更新候选人状态失败: %w", err)
		}
		return m.enqueue(tx, id, constants.EventCandidateSelected, m.events.SelectedRoutingKey,
			CandidateSelectedEvent{Email: id, SelectedAt: time.Now().UTC()})
	})
}

// Get 按 email 读取候选人
func (m *MySQL) Get(ctx context.Context, id string) (*types.Candidate, error) {
	var row models.Candidate
	err := m.db.WithContext(ctx).Where("email = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCandidateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("查询候选人失败: %w", err)
	}
	return row.ToType(), nil
}

func (m *MySQL) enqueue(tx *gorm.DB, aggregateID, eventType, routingKey string, payload any) error {
	if !m.events.Enabled {
		return nil
	}
	msg, err := newOutboxMessage(aggregateID, eventType, m.events.Exchange, routingKey, payload)
	if err != nil {
		return err
	}
	if err := tx.Create(msg).Error; err != nil {
		return fmt.Errorf("写入发件箱失败: %w", err)
	}
	return nil
}

func newOutboxMessage(aggregateID, eventType, exchange, routingKey string, payload any) (*models.OutboxMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("序列化事件失败: %w", err)
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("生成事件ID失败: %w", err)
	}
	return &models.OutboxMessage{
		ID:               id.String(),
		AggregateID:      aggregateID,
		EventType:        eventType,
		Payload:          string(body),
		TargetExchange:   exchange,
		TargetRoutingKey: routingKey,
		Status:           constants.OutboxStatusPending,
	}, nil
}
