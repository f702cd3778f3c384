package main_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/exec"
	"slices"
	"syscall"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/atiamdev/cms-backend-sub002/internal/auth"
	"github.com/atiamdev/cms-backend-sub002/internal/db"
	"github.com/atiamdev/cms-backend-sub002/internal/models"
)

const (
	testAppBinary         = "./cms_test_app"
	testAppPort           = "8089"
	testServiceApiPortApi = "8091"
	testServiceApiPortBg  = "8092"
	testAppURL            = "http://localhost:" + testAppPort
	testServiceApiURL     = "http://localhost:" + testServiceApiPortApi
	testDbName            = "cms_integration_test"
	testJwtSecret         = "integration-test-secret"
	startupTimeout        = 15 * time.Second
	pingEndpoint          = testAppURL + "/v1/ping"
)

var (
	// skipReason is set when the environment cannot host the processes.
	skipReason string

	seedBranchID  = primitive.NewObjectID()
	seedCourseID  = primitive.NewObjectID()
	seedStudentID = primitive.NewObjectID()
	seedEmail     = fmt.Sprintf("student_%d@example.com", time.Now().UnixNano())
)

func requireEnv(t *testing.T) {
	t.Helper()
	if skipReason != "" {
		t.Skip(skipReason)
	}
}

// TestMain builds the binary and runs it as an API process and a worker
// process against the test database, with notifications captured in Redis.
func TestMain(m *testing.M) {
	os.Exit(runIntegration(m))
}

func runIntegration(m *testing.M) int {
	godotenv.Load()
	mongoURI := os.Getenv("MONGO_URI_TEST")
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	if mongoURI == "" {
		skipReason = "MONGO_URI_TEST not set; skipping integration tests"
		return m.Run()
	}
	if err := pingRedis(redisAddr); err != nil {
		skipReason = fmt.Sprintf("Redis at %s unavailable (%v); skipping integration tests", redisAddr, err)
		return m.Run()
	}

	defer func() {
		log.Println("Integration Test Teardown: Cleaning up test binary...")
		_ = os.Remove(testAppBinary)
	}()

	log.Println("Integration Test Setup: Building application...")
	buildCmd := exec.Command("go", "build", "-o", testAppBinary, ".")
	buildOutput, err := buildCmd.CombinedOutput()
	if err != nil {
		log.Printf("Failed to build application: %v\nOutput:\n%s", err, string(buildOutput))
		return 1
	}

	if err := seedTestData(mongoURI); err != nil {
		log.Printf("Failed to seed test data: %v", err)
		return 1
	}
	defer cleanupTestData(mongoURI)

	commonEnv := append(os.Environ(), []string{
		"MONGO_URI=" + mongoURI,
		"MONGO_DB_NAME=" + testDbName,
		"REDIS_ADDR=" + redisAddr,
		"JWT_SECRET=" + testJwtSecret,
		"GIN_MODE=release",
		"MOCK_SERVICES=true",
		"INVOICE_SCHEDULE_ENABLED=false",
		"AWS_S3_BUCKET=",
	}...)

	apiCmd := exec.Command(testAppBinary, "-m", "api")
	apiCmd.Env = append(slices.Clip(commonEnv),
		"API_PORT="+testAppPort,
		"SERVICE_API_PORT="+testServiceApiPortApi,
		"RATE_LIMIT_BUCKET_SIZE=50",
		"RATE_LIMIT_REFILL_RATE=50",
	)
	apiCmd.Stderr = os.Stderr
	apiCmd.Stdout = os.Stdout
	if err := apiCmd.Start(); err != nil {
		log.Printf("Failed to start API process: %v", err)
		return 1
	}
	log.Printf("Integration Test Setup: API process started (PID: %d)...", apiCmd.Process.Pid)

	bgCmd := exec.Command(testAppBinary, "-m", "bg")
	bgCmd.Env = append(slices.Clip(commonEnv), "SERVICE_API_PORT="+testServiceApiPortBg)
	bgCmd.Stderr = os.Stderr
	bgCmd.Stdout = os.Stdout
	if err := bgCmd.Start(); err != nil {
		_ = apiCmd.Process.Kill()
		log.Printf("Failed to start background worker process: %v", err)
		return 1
	}
	log.Printf("Integration Test Setup: Background worker started (PID: %d)...", bgCmd.Process.Pid)

	defer func() {
		log.Println("Integration Test Teardown: Shutting down application processes...")
		stopProcess("background worker", bgCmd)
		stopProcess("API process", apiCmd)
	}()

	if !waitForPing() {
		log.Printf("Application failed to start within %v", startupTimeout)
		return 1
	}
	// The worker has no health endpoint.
	time.Sleep(2 * time.Second)

	exitCode := m.Run()
	log.Printf("Integration Test Teardown: Tests finished with exit code %d.", exitCode)
	return exitCode
}

func pingRedis(addr string) error {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return rdb.Ping(ctx).Err()
}

func stopProcess(name string, cmd *exec.Cmd) {
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		log.Printf("Integration Test Teardown: Failed to send SIGTERM to %s: %v. Killing.", name, err)
		_ = cmd.Process.Kill()
		return
	}
	if _, err := cmd.Process.Wait(); err != nil {
		log.Printf("Integration Test Teardown: Error waiting for %s exit: %v", name, err)
	}
}

func waitForPing() bool {
	start := time.Now()
	for time.Since(start) < startupTimeout {
		resp, err := http.Get(pingEndpoint)
		if err == nil {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK && string(body) == "pong" {
				return true
			}
		}
		time.Sleep(200 * time.Millisecond)
	}
	return false
}

func connectTestDB(mongoURI string) (*mongo.Client, *mongo.Database, error) {
	client, err := mongo.Connect(context.Background(), options.Client().ApplyURI(mongoURI))
	if err != nil {
		return nil, nil, err
	}
	return client, client.Database(testDbName), nil
}

func seedTestData(mongoURI string) error {
	client, database, err := connectTestDB(mongoURI)
	if err != nil {
		return err
	}
	defer client.Disconnect(context.Background())
	ctx := context.Background()

	for _, coll := range []string{db.CoursesCollection, db.StudentsCollection, db.FeesCollection, db.NoticesCollection} {
		_ = database.Collection(coll).Drop(ctx)
	}

	now := time.Now().UTC()
	course := models.Course{
		Base:     models.Base{ID: seedCourseID, CreatedAt: now, UpdatedAt: now},
		BranchID: seedBranchID,
		Name:     "Form One Mathematics",
		Code:     "MATH-1",
		FeeStructure: &models.CourseFeeStructure{
			BillingFrequency: models.FrequencyMonthly,
			IsActive:         true,
			Components:       []models.FeeComponent{{Name: "Tuition", Amount: 1500}},
			TotalAmount:      1500,
		},
	}
	if _, err := database.Collection(db.CoursesCollection).InsertOne(ctx, course); err != nil {
		return fmt.Errorf("seed course: %w", err)
	}

	enrolled := time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)
	student := models.Student{
		Base:            models.Base{ID: seedStudentID, CreatedAt: now, UpdatedAt: now},
		BranchID:        seedBranchID,
		AdmissionNumber: "ADM-0001",
		FirstName:       "Amina",
		LastName:        "Otieno",
		Email:           seedEmail,
		EnrollmentDate:  &enrolled,
		AcademicStatus:  models.AcademicStatusActive,
		Courses: []models.CourseEnrollment{
			{CourseID: seedCourseID, Status: models.EnrollmentActive, EnrolledAt: &enrolled},
		},
	}
	if _, err := database.Collection(db.StudentsCollection).InsertOne(ctx, student); err != nil {
		return fmt.Errorf("seed student: %w", err)
	}
	log.Printf("Integration Test Setup: Seeded course %s and student %s", seedCourseID.Hex(), seedStudentID.Hex())
	return nil
}

func cleanupTestData(mongoURI string) {
	client, database, err := connectTestDB(mongoURI)
	if err != nil {
		log.Printf("Integration Test Teardown: Failed to connect for cleanup: %v", err)
		return
	}
	defer client.Disconnect(context.Background())
	if err := database.Drop(context.Background()); err != nil {
		log.Printf("Integration Test Teardown: Failed to drop %s: %v", testDbName, err)
	}
}

func adminToken(t *testing.T) string {
	t.Helper()
	token, err := auth.GenerateJWT(primitive.NewObjectID().Hex(), auth.RoleAdmin, "", testJwtSecret, time.Hour)
	require.NoError(t, err)
	return token
}

// doJSON sends body as JSON and decodes the response into a map.
func doJSON(t *testing.T, method, url, token string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err, "Request to %s should not fail", url)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var decoded map[string]interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		decoded = map[string]interface{}{"raw_body": string(raw)}
	}
	return resp.StatusCode, decoded
}

func getTestNotification(t *testing.T, channel, to string) map[string]interface{} {
	t.Helper()
	payload := map[string]interface{}{"method": "getTestNotification", "arguments": []string{channel, to}}
	var data map[string]interface{}
	// Delivery runs on the worker; allow a few polls of the service API.
	require.Eventually(t, func() bool {
		status, body := doJSON(t, http.MethodPost, testServiceApiURL+"/api", "", payload)
		if status != http.StatusOK {
			return false
		}
		data, _ = body["data"].(map[string]interface{})
		return data != nil
	}, 15*time.Second, 500*time.Millisecond, "no %s notification captured for %s", channel, to)
	return data
}

func TestIntegration_Ping(t *testing.T) {
	requireEnv(t)
	resp, err := http.Get(pingEndpoint)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "pong", string(body))
}

func TestIntegration_AdminRoutesNeedToken(t *testing.T) {
	requireEnv(t)
	status, _ := doJSON(t, http.MethodPost, testAppURL+"/v1/admin/invoices/monthly", "", map[string]interface{}{"periodYear": 2025, "periodMonth": 3})
	assert.Equal(t, http.StatusUnauthorized, status)

	student, err := auth.GenerateJWT(seedStudentID.Hex(), auth.RoleStudent, seedBranchID.Hex(), testJwtSecret, time.Hour)
	require.NoError(t, err)
	status, _ = doJSON(t, http.MethodPost, testAppURL+"/v1/admin/invoices/monthly", student, map[string]interface{}{"periodYear": 2025, "periodMonth": 3})
	assert.Equal(t, http.StatusForbidden, status)
}

// TestIntegration_MonthlyInvoiceFlow generates a month, reruns it, reads the
// invoice back and checks the email captured by the worker.
func TestIntegration_MonthlyInvoiceFlow(t *testing.T) {
	requireEnv(t)
	token := adminToken(t)
	request := map[string]interface{}{
		"periodYear":  2025,
		"periodMonth": 3,
		"branchId":    seedBranchID.Hex(),
	}

	status, result := doJSON(t, http.MethodPost, testAppURL+"/v1/admin/invoices/monthly", token, request)
	require.Equal(t, http.StatusOK, status, "body: %v", result)
	assert.EqualValues(t, 1, result["created"])
	assert.EqualValues(t, 0, result["skipped"])
	assert.NotEmpty(t, result["runId"])

	details, ok := result["details"].(map[string]interface{})
	require.True(t, ok)
	created, ok := details["created"].([]interface{})
	require.True(t, ok)
	require.Len(t, created, 1)
	invoice := created[0].(map[string]interface{})
	feeID := invoice["feeId"].(string)
	invoiceNumber := invoice["invoiceNumber"].(string)
	assert.EqualValues(t, 1500, invoice["amount"])

	status, rerun := doJSON(t, http.MethodPost, testAppURL+"/v1/admin/invoices/monthly", token, request)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 0, rerun["created"], "a month is invoiced once per student")
	assert.EqualValues(t, 1, rerun["skipped"])

	status, fee := doJSON(t, http.MethodGet, testAppURL+"/v1/fees/"+feeID, token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, invoiceNumber, fee["invoiceNumber"])
	assert.Equal(t, string(models.FeeStatusPending), fee["status"])
	assert.EqualValues(t, 3, fee["periodMonth"])

	studentToken, err := auth.GenerateJWT(seedStudentID.Hex(), auth.RoleStudent, seedBranchID.Hex(), testJwtSecret, time.Hour)
	require.NoError(t, err)
	status, listing := doJSON(t, http.MethodGet, testAppURL+"/v1/students/"+seedStudentID.Hex()+"/fees?periodYear=2025", studentToken, nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, listing["total"])

	email := getTestNotification(t, "email", seedEmail)
	assert.Equal(t, "Your invoice for March 2025", email["subject"])
	assert.Contains(t, email["body"], invoiceNumber)
	assert.Equal(t, seedStudentID.Hex(), email["student_id"])
}

func TestIntegration_AsyncFrequencyRun(t *testing.T) {
	requireEnv(t)
	status, body := doJSON(t, http.MethodPost, testAppURL+"/v1/admin/invoices/frequency?async=true", adminToken(t), map[string]interface{}{
		"frequency": "weekly",
		"date":      "2025-03-10",
		"branchId":  seedBranchID.Hex(),
	})
	require.Equal(t, http.StatusAccepted, status, "body: %v", body)
	assert.NotEmpty(t, body["taskId"])
	assert.NotEmpty(t, body["queue"])
}

func TestIntegration_NoFeesLeakAcrossStudents(t *testing.T) {
	requireEnv(t)
	other, err := auth.GenerateJWT(primitive.NewObjectID().Hex(), auth.RoleStudent, seedBranchID.Hex(), testJwtSecret, time.Hour)
	require.NoError(t, err)
	status, _ := doJSON(t, http.MethodGet, testAppURL+"/v1/students/"+seedStudentID.Hex()+"/fees", other, nil)
	assert.Equal(t, http.StatusForbidden, status)
}
