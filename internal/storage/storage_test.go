package storage

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"cv-filter/internal/config"
	"cv-filter/internal/constants"
	"cv-filter/internal/storage/models"
	"cv-filter/internal/types"
	"cv-filter/pkg/utils"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func dryRunDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(mysql.New(mysql.Config{
		DSN:                       "user:pass@tcp(127.0.0.1:3306)/cv_filter?parseTime=true",
		SkipInitializeWithVersion: true,
	}), &gorm.Config{DryRun: true, DisableAutomaticPing: true})
	require.NoError(t, err)
	return db
}

func TestApplyFilterSQL(t *testing.T) {
	db := dryRunDB(t)

	t.Run("empty filter only excludes selected", func(t *testing.T) {
		sql := db.ToSQL(func(tx *gorm.DB) *gorm.DB {
			return applyFilter(tx.Model(&models.Candidate{}), types.SearchFilter{}).Find(&[]models.Candidate{})
		})
		assert.Contains(t, sql, "FROM `candidates`")
		assert.Contains(t, sql, "selected = false")
		assert.NotContains(t, sql, "years_of_experience")
		assert.NotContains(t, sql, "JSON_CONTAINS")
	})

	t.Run("years and every skill are conjunctive", func(t *testing.T) {
		title := "Backend Developer"
		filter := types.SearchFilter{
			Title:    &title,
			MinYears: utils.Float64Ptr(2),
			Skills:   []string{"Python", "AWS"},
		}
		sql := db.ToSQL(func(tx *gorm.DB) *gorm.DB {
			return applyFilter(tx.Model(&models.Candidate{}), filter).Find(&[]models.Candidate{})
		})
		assert.Contains(t, sql, "selected = false")
		assert.Contains(t, sql, "years_of_experience >= 2")
		assert.Equal(t, 2, strings.Count(sql, "JSON_CONTAINS(skills, JSON_QUOTE("), "每个技能一个谓词")
		assert.Contains(t, sql, "Python")
		assert.Contains(t, sql, "AWS")
		assert.Equal(t, 4, strings.Count(sql, " AND ")+1, "四个谓词以 AND 连接")
		assert.NotContains(t, sql, "Backend Developer", "职位名称不参与过滤")
	})
}

func TestUpsertCandidateOverwritesAllColumns(t *testing.T) {
	db := dryRunDB(t)
	candidate := &types.Candidate{
		Email:  utils.StringPtr("a@b.com"),
		Skills: []string{"Go"},
	}

	sql := db.ToSQL(func(tx *gorm.DB) *gorm.DB {
		return upsertCandidate(tx, models.CandidateFromType(candidate))
	})

	assert.Contains(t, sql, "INSERT INTO `candidates`")
	assert.Contains(t, sql, "ON DUPLICATE KEY UPDATE")
	for _, col := range candidateUpsertColumns {
		assert.Contains(t, sql, "`"+col+"`=", "重复 email 时应覆盖 %s", col)
	}
	assert.NotContains(t, sql, "`created_at`=")
}

func TestNewOutboxMessage(t *testing.T) {
	msg, err := newOutboxMessage("a@b.com", constants.EventCandidateSelected, "cv.events", "candidate.selected",
		CandidateSelectedEvent{Email: "a@b.com", SelectedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)})
	require.NoError(t, err)

	assert.Len(t, msg.ID, 36)
	assert.Equal(t, constants.OutboxStatusPending, msg.Status)
	assert.Equal(t, "cv.events", msg.TargetExchange)
	assert.Equal(t, "candidate.selected", msg.TargetRoutingKey)
	assert.JSONEq(t, `{"email":"a@b.com","selected_at":"2024-01-02T03:04:05Z"}`, msg.Payload)
}

func TestEnqueueDisabled(t *testing.T) {
	m := NewMySQLWithDB(dryRunDB(t), EventRouting{Enabled: false}, nil)
	assert.NoError(t, m.enqueue(nil, "a@b.com", constants.EventCandidateIngested, "k", struct{}{}))
}

type recordedRequest struct {
	method string
	path   string
	query  string
	body   string
}

func newFakeS3(t *testing.T) (*httptest.Server, func() []recordedRequest) {
	t.Helper()
	var mu sync.Mutex
	var reqs []recordedRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		reqs = append(reqs, recordedRequest{method: r.Method, path: r.URL.Path, query: r.URL.RawQuery, body: string(body)})
		mu.Unlock()

		switch {
		case r.Method == http.MethodHead:
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodPut && r.URL.Query().Has("policy"):
			w.WriteHeader(http.StatusNoContent)
		case r.Method == http.MethodPut:
			w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotImplemented)
		}
	}))
	t.Cleanup(srv.Close)

	return srv, func() []recordedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]recordedRequest(nil), reqs...)
	}
}

func TestMinIOUploadAndDelete(t *testing.T) {
	srv, requests := newFakeS3(t)
	cfg := &config.MinIOConfig{
		Endpoint:        strings.TrimPrefix(srv.URL, "http://"),
		AccessKeyID:     "minio",
		SecretAccessKey: "minio123",
		BucketName:      "cv-filter",
		Location:        "us-east-1",
	}

	m, err := NewMinIO(context.Background(), cfg, "cvs/", nil)
	require.NoError(t, err)

	var policy string
	for _, r := range requests() {
		if r.method == http.MethodPut && strings.Contains(r.query, "policy") {
			policy = r.body
		}
	}
	assert.Contains(t, policy, "arn:aws:s3:::cv-filter/cvs/*")

	url, err := m.Upload(context.Background(), "cvs/1234_cv.pdf", []byte("%PDF-1.4"), constants.MediaTypePDF)
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/cv-filter/cvs/1234_cv.pdf", url)

	require.NoError(t, m.Delete(context.Background(), "cvs/1234_cv.pdf"))

	var sawPut, sawDelete bool
	for _, r := range requests() {
		if r.path == "/cv-filter/cvs/1234_cv.pdf" {
			sawPut = sawPut || r.method == http.MethodPut
			sawDelete = sawDelete || r.method == http.MethodDelete
		}
	}
	assert.True(t, sawPut)
	assert.True(t, sawDelete)
}

func TestPublicURL(t *testing.T) {
	m := &MinIO{bucket: "cv-filter", publicBase: publicBaseURL(&config.MinIOConfig{Endpoint: "s3.local:9000", UseSSL: true})}
	assert.Equal(t, "https://s3.local:9000/cv-filter/cvs/id_CV%20Nguy%E1%BB%85n.pdf", m.PublicURL("cvs/id_CV Nguyễn.pdf"))

	m.publicBase = publicBaseURL(&config.MinIOConfig{Endpoint: "ignored", PublicBaseURL: "https://cdn.example.com/"})
	assert.Equal(t, "https://cdn.example.com/cv-filter/cvs/a.docx", m.PublicURL("cvs/a.docx"))
}

func TestPublicReadPolicyIsValidJSON(t *testing.T) {
	var policy struct {
		Statement []struct {
			Effect   string
			Action   []string
			Resource []string
		}
	}
	require.NoError(t, json.Unmarshal([]byte(publicReadPolicy("b", "/cvs/")), &policy))
	require.Len(t, policy.Statement, 1)
	assert.Equal(t, "Allow", policy.Statement[0].Effect)
	assert.Equal(t, []string{"s3:GetObject"}, policy.Statement[0].Action)
	assert.Equal(t, []string{"arn:aws:s3:::b/cvs/*"}, policy.Statement[0].Resource)
}

func TestFilterCacheKey(t *testing.T) {
	key := filterCacheKey("python aws")
	assert.True(t, strings.HasPrefix(key, "app:search:filter:"))
	assert.Equal(t, key, filterCacheKey("python aws"))
	assert.NotEqual(t, key, filterCacheKey("python"))
	assert.NotEqual(t, key, filterCacheKey("Python AWS"))
}

func TestRedisFilterCacheUnavailable(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 200 * time.Millisecond, MaxRetries: -1})
	r := NewRedisWithClient(client, time.Minute)
	t.Cleanup(func() { r.Close() })

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	ctx, span := tp.Tracer("test").Start(context.Background(), "search")

	assert.True(t, r.FilterCacheEnabled())
	_, err := r.GetFilter(ctx, "go")
	assert.Error(t, err)
	assert.Error(t, r.SetFilter(ctx, "go", types.SearchFilter{Skills: []string{"Go"}}))
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	var errorType string
	for _, kv := range spans[0].Attributes() {
		if kv.Key == "error.type" {
			errorType = kv.Value.AsString()
		}
	}
	assert.Equal(t, "redis", errorType)

	assert.False(t, NewRedisWithClient(client, 0).FilterCacheEnabled())
	var nilRedis *Redis
	assert.False(t, nilRedis.FilterCacheEnabled())
}

// sqlCapture 记录 DryRun 模式下生成的语句
type sqlCapture struct {
	gormlogger.Interface
	mu   sync.Mutex
	stmt []string
}

func (c *sqlCapture) LogMode(gormlogger.LogLevel) gormlogger.Interface { return c }

func (c *sqlCapture) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	sql, _ := fc()
	c.mu.Lock()
	c.stmt = append(c.stmt, sql)
	c.mu.Unlock()
}

func TestCandidateTableEmailIsCaseSensitive(t *testing.T) {
	capture := &sqlCapture{Interface: gormlogger.Discard}
	db := dryRunDB(t).Session(&gorm.Session{Logger: capture})

	require.NoError(t, db.Migrator().CreateTable(&models.Candidate{}))

	var ddl string
	for _, s := range capture.stmt {
		if strings.Contains(s, "CREATE TABLE `candidates`") {
			ddl = s
		}
	}
	require.NotEmpty(t, ddl, "应生成 candidates 建表语句")
	assert.Contains(t, ddl, "`email` varchar(255) COLLATE utf8mb4_bin")
	assert.Contains(t, ddl, "PRIMARY KEY (`email`)")
}
