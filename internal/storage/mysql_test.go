package storage

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"cv-match-go/internal/storage/models"
	"cv-match-go/internal/types"
)

func newMockMySQL(t *testing.T) (*MySQL, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err, "创建sqlmock失败")
	t.Cleanup(func() { db.Close() })

	gdb, err := gorm.Open(gormmysql.New(gormmysql.Config{
		Conn:                      db,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err, "基于sqlmock连接打开GORM失败")

	return NewMySQLWithDB(gdb), mock
}

func testMatchRow(t *testing.T, candidateID, jobID string, score float64) *models.CandidateJobMatch {
	t.Helper()
	now := time.Now()
	row, err := models.MatchFromRanked(&types.RankedMatch{
		CandidateID:     candidateID,
		JobID:           jobID,
		Score:           score,
		Recommendations: []string{"补充项目经验"},
	}, now, now, now)
	require.NoError(t, err, "构造匹配记录失败")
	return row
}

// 并发写同一配对依赖唯一索引上的原子upsert，
// 生成的语句必须带 ON DUPLICATE KEY UPDATE 而不是裸INSERT。
func TestUpsertMatchUsesOnDuplicateKeyUpdate(t *testing.T) {
	m, mock := newMockMySQL(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `candidate_job_matches` .+ ON DUPLICATE KEY UPDATE .*`score`.*`cache_time`").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := m.UpsertMatch(context.Background(), testMatchRow(t, "cand-001", "job-001", 82))
	require.NoError(t, err, "首次写入应成功")
	require.NoError(t, mock.ExpectationsWereMet(), "应按预期生成upsert语句")
}

func TestUpsertMatchSamePairOverwrites(t *testing.T) {
	m, mock := newMockMySQL(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `candidate_job_matches` .+ ON DUPLICATE KEY UPDATE").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	mock.ExpectBegin()
	// MySQL对命中唯一索引后的更新返回受影响行数2
	mock.ExpectExec("INSERT INTO `candidate_job_matches` .+ ON DUPLICATE KEY UPDATE").
		WillReturnResult(sqlmock.NewResult(1, 2))
	mock.ExpectCommit()

	ctx := context.Background()
	require.NoError(t, m.UpsertMatch(ctx, testMatchRow(t, "cand-001", "job-001", 70)), "首次写入应成功")
	require.NoError(t, m.UpsertMatch(ctx, testMatchRow(t, "cand-001", "job-001", 88)), "同一配对重复写入应走更新路径而非报错")
	require.NoError(t, mock.ExpectationsWereMet(), "两次写入都应走upsert语句")
}
