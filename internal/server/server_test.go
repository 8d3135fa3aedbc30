package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/iuran/internal/audit/domain"
	auditrepository "github.com/smallbiznis/iuran/internal/audit/repository"
	auditservice "github.com/smallbiznis/iuran/internal/audit/service"
	"github.com/smallbiznis/iuran/internal/authorization"
	"github.com/smallbiznis/iuran/internal/blobstore"
	"github.com/smallbiznis/iuran/internal/clock"
	"github.com/smallbiznis/iuran/internal/config"
	directorydomain "github.com/smallbiznis/iuran/internal/directory/domain"
	directoryrepository "github.com/smallbiznis/iuran/internal/directory/repository"
	directoryservice "github.com/smallbiznis/iuran/internal/directory/service"
	"github.com/smallbiznis/iuran/internal/docstore"
	"github.com/smallbiznis/iuran/internal/docstore/feed"
	duesdomain "github.com/smallbiznis/iuran/internal/dues/domain"
	duesrepository "github.com/smallbiznis/iuran/internal/dues/repository"
	duesservice "github.com/smallbiznis/iuran/internal/dues/service"
	generationdomain "github.com/smallbiznis/iuran/internal/generation/domain"
	"github.com/smallbiznis/iuran/internal/observability"
	"github.com/smallbiznis/iuran/internal/reconciler"
	reportdomain "github.com/smallbiznis/iuran/internal/report/domain"
	"github.com/smallbiznis/iuran/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type generationStub struct {
	generationdomain.Service
	period string
	amount int64
	err    error
}

func (g *generationStub) Generate(_ context.Context, period string, amount int64) (generationdomain.Result, error) {
	g.period, g.amount = period, amount
	if g.err != nil {
		return generationdomain.Result{}, g.err
	}
	return generationdomain.Result{Period: period, Created: 3, Members: 3}, nil
}

type reportStub struct {
	reportdomain.Service
	export reportdomain.Export
	err    error
}

func (r *reportStub) BuildReport(_ context.Context, period string) (reportdomain.Report, error) {
	normalized, err := duesdomain.ParsePeriod(period)
	if err != nil {
		return reportdomain.Report{}, err
	}
	return reportdomain.Report{Period: normalized, Truncated: true}, nil
}

func (r *reportStub) ExportArrears(context.Context, reportdomain.Report) (reportdomain.Export, error) {
	return r.export, r.err
}

type testServer struct {
	engine     *gin.Engine
	server     *Server
	dues       duesdomain.Repository
	members    directorydomain.Service
	generation *generationStub
	report     *reportStub
	node       *snowflake.Node
	clock      *clock.FakeClock
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.OpenDB(t, &directorydomain.Member{}, &duesdomain.Record{}, &auditdomain.AuditLog{})
	log := zaptest.NewLogger(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2025, 7, 5, 9, 0, 0, 0, time.UTC))

	enforcer, err := authorization.NewEnforcer(db)
	require.NoError(t, err)
	auditSvc := auditservice.NewService(auditservice.Params{
		DB: db, Log: log, GenID: node, Clock: fake, Repo: auditrepository.Provide(),
	})
	authzSvc := authorization.NewService(authorization.Params{Log: log, Enforcer: enforcer, AuditSvc: auditSvc})
	directorySvc := directoryservice.New(directoryservice.Params{
		DB: db, Log: log, GenID: node, Clock: fake, Repo: directoryrepository.Provide(),
	})

	docs := docstore.NewCollection(db, duesdomain.Collection, feed.NewHub[duesdomain.Record](feed.DefaultSubscriberBuffer))
	repo := duesrepository.New(docs)
	blobs, err := blobstore.NewFS(t.TempDir(), "/blobs", log)
	require.NoError(t, err)
	duesCfg := config.NewStaticDuesConfigHolder(config.DefaultDuesConfig())
	duesSvc := duesservice.New(duesservice.Params{
		Log: log, Clock: fake, Repo: repo, Blobs: blobs, Config: duesCfg, AuditSvc: auditSvc,
	})

	sessions := reconciler.NewSessions(reconciler.Params{Log: log, Dues: duesSvc})
	t.Cleanup(sessions.CloseAll)

	gen := &generationStub{}
	rep := &reportStub{}
	engine := NewEngine(observability.Config{Environment: "test"})
	srv := NewServer(ServerParams{
		Gin:           engine,
		Cfg:           config.Config{Environment: "test"},
		Log:           log,
		AuthzSvc:      authzSvc,
		AuditSvc:      auditSvc,
		DirectorySvc:  directorySvc,
		DuesSvc:       duesSvc,
		GenerationSvc: gen,
		ReportSvc:     rep,
		Blobs:         blobs,
		Sessions:      sessions,
		DuesCfg:       duesCfg,
	})

	return &testServer{
		engine:     engine,
		server:     srv,
		dues:       repo,
		members:    directorySvc,
		generation: gen,
		report:     rep,
		node:       node,
		clock:      fake,
	}
}

func (ts *testServer) seedMember(t *testing.T, userID string) directorydomain.Member {
	t.Helper()
	member, err := ts.members.Create(context.Background(), directorydomain.CreateMemberRequest{
		UserID: userID, DisplayName: "Member " + userID, Unit: "A-" + userID,
	})
	require.NoError(t, err)
	return member
}

func (ts *testServer) seedDues(t *testing.T, memberID snowflake.ID, period string) duesdomain.Record {
	t.Helper()
	now := ts.clock.Now()
	record := duesdomain.Record{
		ID:        ts.node.Generate(),
		MemberID:  memberID,
		Period:    period,
		Amount:    150000,
		Status:    duesdomain.StatusUnpaid,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, ts.dues.Create(context.Background(), &record))
	return record
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.engine.ServeHTTP(rec, req)
	return rec
}

func asUser(req *http.Request, userID, role string) *http.Request {
	req.Header.Set(HeaderUserID, userID)
	req.Header.Set(HeaderUserRole, role)
	return req
}

func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func proofRequest(t *testing.T, path, contentType, body string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="proof"; filename="receipt"`)
	header.Set("Content-Type", contentType)
	part, err := w.CreatePart(header)
	require.NoError(t, err)
	_, err = io.WriteString(part, body)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func decodeRecord(t *testing.T, rec *httptest.ResponseRecorder) duesdomain.Record {
	t.Helper()
	var resp struct {
		Data duesdomain.Record `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Data
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestViewerHeadersRequired(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/me/dues", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", decodeError(t, rec).Type)

	rec = ts.do(asUser(httptest.NewRequest(http.MethodGet, "/api/me/dues", nil), "u-1", "owner"))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	// a member user with no directory entry
	rec = ts.do(asUser(httptest.NewRequest(http.MethodGet, "/api/me/dues", nil), "ghost", "member"))
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestMemberCannotReachAdminRoutes(t *testing.T) {
	ts := newTestServer(t)
	ts.seedMember(t, "1")

	rec := ts.do(asUser(httptest.NewRequest(http.MethodGet, "/api/admin/dues/pending", nil), "1", "member"))
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden", decodeError(t, rec).Type)
}

func TestSubmitApproveFlow(t *testing.T) {
	ts := newTestServer(t)
	member := ts.seedMember(t, "1")
	record := ts.seedDues(t, member.ID, "2025-07")
	path := fmt.Sprintf("/api/me/dues/%s/proof", record.ID)

	rec := ts.do(asUser(proofRequest(t, path, "image/png", "receipt"), "1", "member"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	submitted := decodeRecord(t, rec)
	assert.Equal(t, duesdomain.StatusPendingValidation, submitted.Status)
	require.NotNil(t, submitted.ProofRef)

	rec = ts.do(asUser(proofRequest(t, path, "image/png", "again"), "1", "member"))
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_transition", decodeError(t, rec).Type)

	rec = ts.do(asUser(httptest.NewRequest(http.MethodGet, "/api/admin/dues/pending", nil), "admin-1", "admin"))
	require.Equal(t, http.StatusOK, rec.Code)
	var pending struct {
		Data []duesdomain.Record `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pending))
	require.Len(t, pending.Data, 1)
	assert.Equal(t, record.ID, pending.Data[0].ID)

	rec = ts.do(asUser(httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/admin/dues/%s/proof", record.ID), nil), "admin-1", "admin"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/blobs/"+*submitted.ProofRef)

	rec = ts.do(asUser(httptest.NewRequest(http.MethodGet, "/blobs/"+*submitted.ProofRef, nil), "admin-1", "admin"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, "receipt", rec.Body.String())

	approvePath := fmt.Sprintf("/api/admin/dues/%s/approve", record.ID)
	rec = ts.do(asUser(httptest.NewRequest(http.MethodPost, approvePath, nil), "admin-1", "admin"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, duesdomain.StatusPaid, decodeRecord(t, rec).Status)

	rec = ts.do(asUser(httptest.NewRequest(http.MethodPost, approvePath, nil), "admin-1", "admin"))
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_transition", decodeError(t, rec).Type)
}

func TestSubmitProofRejectsBadUpload(t *testing.T) {
	ts := newTestServer(t)
	member := ts.seedMember(t, "1")
	record := ts.seedDues(t, member.ID, "2025-07")
	path := fmt.Sprintf("/api/me/dues/%s/proof", record.ID)

	rec := ts.do(asUser(proofRequest(t, path, "text/plain", "receipt"), "1", "member"))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	payload := decodeError(t, rec)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "invalid_proof", payload.Errors[0].Code)

	rec = ts.do(asUser(httptest.NewRequest(http.MethodPost, "/api/me/dues/abc/proof", nil), "1", "member"))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_id", decodeError(t, rec).Errors[0].Code)
}

func TestOtherMembersRecordIsNotFound(t *testing.T) {
	ts := newTestServer(t)
	ts.seedMember(t, "1")
	other := ts.seedMember(t, "2")
	record := ts.seedDues(t, other.ID, "2025-07")

	rec := ts.do(asUser(proofRequest(t, fmt.Sprintf("/api/me/dues/%s/proof", record.ID), "image/png", "x"), "1", "member"))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRejectAndAmend(t *testing.T) {
	ts := newTestServer(t)
	member := ts.seedMember(t, "1")
	record := ts.seedDues(t, member.ID, "2025-07")

	rec := ts.do(asUser(proofRequest(t, fmt.Sprintf("/api/me/dues/%s/proof", record.ID), "image/png", "receipt"), "1", "member"))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(asUser(jsonRequest(t, http.MethodPost, fmt.Sprintf("/api/admin/dues/%s/reject", record.ID), gin.H{"reason": "blurry"}), "admin-1", "admin"))
	require.Equal(t, http.StatusOK, rec.Code)
	rejected := decodeRecord(t, rec)
	assert.Equal(t, duesdomain.StatusUnpaid, rejected.Status)
	assert.Nil(t, rejected.ProofRef)

	rec = ts.do(asUser(jsonRequest(t, http.MethodPatch, fmt.Sprintf("/api/admin/dues/%s", record.ID), gin.H{"amount": 175000, "reason": "late fee"}), "admin-1", "admin"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(175000), decodeRecord(t, rec).Amount)

	rec = ts.do(asUser(jsonRequest(t, http.MethodPatch, fmt.Sprintf("/api/admin/dues/%s", record.ID), gin.H{"status": "paid"}), "admin-1", "admin"))
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(asUser(httptest.NewRequest(http.MethodGet, "/api/admin/audit-logs?target_type=dues", nil), "admin-1", "admin"))
	require.Equal(t, http.StatusOK, rec.Code)
	for _, action := range []string{"dues.submit_proof", "dues.reject", "dues.amend"} {
		assert.Contains(t, rec.Body.String(), action)
	}
}

func TestGenerateEndpoint(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(asUser(jsonRequest(t, http.MethodPost, "/api/admin/generations", gin.H{"period": "2025-08", "amount_per_member": 150000}), "admin-1", "admin"))
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "2025-08", ts.generation.period)
	assert.Equal(t, int64(150000), ts.generation.amount)

	ts.generation.err = duesdomain.ErrAlreadyGenerated
	rec = ts.do(asUser(jsonRequest(t, http.MethodPost, "/api/admin/generations", gin.H{"period": "2025-08", "amount_per_member": 150000}), "admin-1", "admin"))
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already_generated", decodeError(t, rec).Type)

	ts.generation.err = duesdomain.ErrInvalidPeriod
	rec = ts.do(asUser(jsonRequest(t, http.MethodPost, "/api/admin/generations", gin.H{"period": "2025/08", "amount_per_member": 1}), "admin-1", "admin"))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "period", decodeError(t, rec).Errors[0].Field)
}

func TestArrearsExport(t *testing.T) {
	ts := newTestServer(t)
	ts.report.export = reportdomain.Export{Filename: "arrears-2025-07.csv", ContentType: "text/csv", Body: []byte("No.,Member Name\n")}

	rec := ts.do(asUser(httptest.NewRequest(http.MethodGet, "/api/admin/reports/2025-07/arrears.csv", nil), "admin-1", "admin"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename=arrears-2025-07.csv`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "true", rec.Header().Get(headerReportTruncated))
	assert.Equal(t, "No.,Member Name\n", rec.Body.String())

	ts.report.err = duesdomain.ErrEmptyExport
	rec = ts.do(asUser(httptest.NewRequest(http.MethodGet, "/api/admin/reports/2025-07/arrears.csv", nil), "admin-1", "admin"))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "empty_export", decodeError(t, rec).Type)
}

func TestStatsCountsMembersAndPendingQueue(t *testing.T) {
	ts := newTestServer(t)
	first := ts.seedMember(t, "1")
	ts.seedMember(t, "2")
	record := ts.seedDues(t, first.ID, "2025-07")
	ts.seedDues(t, first.ID, "2025-08")

	path := fmt.Sprintf("/api/me/dues/%s/proof", record.ID)
	rec := ts.do(asUser(proofRequest(t, path, "image/png", "receipt"), "1", "member"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(asUser(httptest.NewRequest(http.MethodGet, "/api/admin/stats", nil), "admin-1", "admin"))
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Data statsResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, int64(2), body.Data.ActiveMembers)
	assert.Equal(t, int64(1), body.Data.PendingValidation)

	rec = ts.do(asUser(httptest.NewRequest(http.MethodGet, "/api/admin/stats", nil), "1", "member"))
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestMembersEndpoints(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(asUser(jsonRequest(t, http.MethodPost, "/api/admin/members", gin.H{"user_id": "u-9", "display_name": "Sari", "unit": "B-02"}), "admin-1", "admin"))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(asUser(jsonRequest(t, http.MethodPost, "/api/admin/members", gin.H{"user_id": "u-9", "display_name": "Ani"}), "admin-1", "admin"))
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "user_id_taken", decodeError(t, rec).Type)

	rec = ts.do(asUser(jsonRequest(t, http.MethodPost, "/api/admin/members", gin.H{"display_name": " "}), "admin-1", "admin"))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_name", decodeError(t, rec).Errors[0].Code)

	rec = ts.do(asUser(httptest.NewRequest(http.MethodGet, "/api/admin/members?active=true", nil), "admin-1", "admin"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Sari")
}

func readSnapshot(t *testing.T, r *bufio.Reader) snapshotEvent {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev snapshotEvent
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")), &ev))
		return ev
	}
}

func TestStreamMyDuesFollowsWrites(t *testing.T) {
	ts := newTestServer(t)
	member := ts.seedMember(t, "1")
	record := ts.seedDues(t, member.ID, "2025-07")

	httpSrv := httptest.NewServer(ts.engine)
	defer httpSrv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, httpSrv.URL+"/api/me/dues/stream", nil)
	require.NoError(t, err)
	asUser(req, "1", "member")
	req.Header.Set(HeaderSessionID, "tab-1")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	first := readSnapshot(t, reader)
	assert.Equal(t, "member", first.Scope)
	require.Len(t, first.Records, 1)
	assert.Equal(t, duesdomain.StatusUnpaid, first.Records[0].Status)

	rec := ts.do(asUser(proofRequest(t, fmt.Sprintf("/api/me/dues/%s/proof", record.ID), "image/png", "receipt"), "1", "member"))
	require.Equal(t, http.StatusOK, rec.Code)

	next := readSnapshot(t, reader)
	require.Len(t, next.Records, 1)
	assert.Equal(t, duesdomain.StatusPendingValidation, next.Records[0].Status)

	rec = ts.do(asUser(httptest.NewRequest(http.MethodDelete, "/api/sessions/tab-1", nil), "1", "member"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"closed":1}`, rec.Body.String())

	_, err = io.ReadAll(reader)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return ts.server.sessions.Count() == 0 }, time.Second, 10*time.Millisecond)
}

func TestStreamRequiresSession(t *testing.T) {
	ts := newTestServer(t)
	ts.seedMember(t, "1")

	rec := ts.do(asUser(httptest.NewRequest(http.MethodGet, "/api/me/dues/stream", nil), "1", "member"))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_session", decodeError(t, rec).Errors[0].Code)
}
