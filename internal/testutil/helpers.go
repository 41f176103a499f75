package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cnap-oss/codefleet/internal/storage"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// TestContext는 테스트에 필요한 컨텍스트와 정리 함수를 포함합니다.
type TestContext struct {
	Ctx     context.Context
	Cancel  context.CancelFunc
	TempDir string
	T       *testing.T
}

// NewTestContext는 새로운 테스트 컨텍스트를 생성합니다.
func NewTestContext(t *testing.T) *TestContext {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	tempDir := t.TempDir()

	tc := &TestContext{
		Ctx:     ctx,
		Cancel:  cancel,
		TempDir: tempDir,
		T:       t,
	}

	t.Cleanup(func() {
		cancel()
	})

	return tc
}

// CreateTempFile은 임시 파일을 생성하고 내용을 작성합니다.
func (tc *TestContext) CreateTempFile(name, content string, perm os.FileMode) string {
	tc.T.Helper()

	filePath := filepath.Join(tc.TempDir, name)
	dir := filepath.Dir(filePath)

	if err := os.MkdirAll(dir, 0755); err != nil {
		tc.T.Fatalf("디렉토리 생성 실패: %v", err)
	}

	if err := os.WriteFile(filePath, []byte(content), perm); err != nil {
		tc.T.Fatalf("파일 작성 실패: %v", err)
	}

	return filePath
}

var dbSeq atomic.Int64

// NewTestRepository는 테스트마다 격리된 in-memory SQLite Repository를 생성합니다.
func NewTestRepository(t *testing.T) *storage.Repository {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, dbSeq.Add(1))

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("DB 열기 실패: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql.DB 조회 실패: %v", err)
	}
	// heartbeat/poll 루프가 동시에 쓰므로 연결 하나로 직렬화합니다.
	sqlDB.SetMaxOpenConns(1)

	if err := storage.AutoMigrate(db); err != nil {
		t.Fatalf("마이그레이션 실패: %v", err)
	}

	repo, err := storage.NewRepository(db)
	if err != nil {
		t.Fatalf("Repository 생성 실패: %v", err)
	}

	t.Cleanup(func() {
		_ = storage.Close(db)
	})
	return repo
}

// SetupTestEnvironment는 테스트 환경 변수를 설정합니다.
func SetupTestEnvironment(t *testing.T, envVars map[string]string) {
	t.Helper()

	for key, value := range envVars {
		t.Setenv(key, value)
	}
}

// WaitForCondition은 조건이 만족될 때까지 대기합니다.
func WaitForCondition(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if condition() {
			return
		}
		select {
		case <-ctx.Done():
			t.Fatal("조건 만족 대기 시간 초과")
		case <-ticker.C:
		}
	}
}

// SkipIfShort는 짧은 테스트 모드에서 테스트를 건너뜁니다.
func SkipIfShort(t *testing.T) {
	if testing.Short() {
		t.Skip("짧은 테스트 모드에서 건너뜀")
	}
}
