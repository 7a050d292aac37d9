package echoapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"

	"github.com/SkTech0/VirtualClassroom-sub000/core"
	"github.com/SkTech0/VirtualClassroom-sub000/core/auth"
	"github.com/SkTech0/VirtualClassroom-sub000/core/pomodoro"
	"github.com/SkTech0/VirtualClassroom-sub000/core/room"
	"github.com/SkTech0/VirtualClassroom-sub000/core/user"
	"github.com/SkTech0/VirtualClassroom-sub000/core/video"
	emailsvc "github.com/SkTech0/VirtualClassroom-sub000/services/email"
	"github.com/SkTech0/VirtualClassroom-sub000/services/hub"
	sqlxrepos "github.com/SkTech0/VirtualClassroom-sub000/storage/database/sqlx"
	"github.com/SkTech0/VirtualClassroom-sub000/testutil"
)

const testPassword = "Sup3r-s3cr3t!"

var errMissingToken = httpErr{Error: "invalid or expired access token"}

type testEnv struct {
	app     *Server
	conf    *core.Config
	db      *sqlx.DB
	mailSvc *emailsvc.ConsoleServiceMock
	usrRepo user.Repository
	authSvc *auth.Service
	roomSvc *room.Service
	hub     *hub.Hub
}

// setup builds the whole API on top of an in-memory sqlite database.
func setup(t *testing.T, configure ...func(conf *core.Config)) *testEnv {
	t.Helper()
	conf := core.NewTestConfig()
	conf.Server.RateLimit = 0
	for _, fn := range configure {
		fn(conf)
	}

	db := testutil.OpenDB(t, conf)
	logger := testutil.NewLogger(conf)
	validate, translator := testutil.NewValidator(logger)
	core.ParseEmailTemplates(conf, logger)
	mailSvc := emailsvc.NewConsoleServiceMock(conf, logger)

	usrRepo := sqlxrepos.NewUserRepository(db)
	h := hub.New(nil, logger, conf.Server.AllowOrigins)

	usrSvc := user.NewService(usrRepo, mailSvc, conf, logger)
	authSvc := auth.NewService(sqlxrepos.NewRefreshTokenRepository(db), usrSvc, conf)
	roomSvc := room.NewService(db, sqlxrepos.NewRoomRepository(db), h, conf)
	h.SetMembershipChecker(roomSvc)
	pomodoroSvc := pomodoro.NewService(db, sqlxrepos.NewPomodoroRepository(db), roomSvc, h, conf)
	videoSvc := video.NewService(db, sqlxrepos.NewVideoRepository(db), roomSvc, video.NewTokenIssuer(conf), h, conf)
	roomSvc.AddSessionListener(pomodoroSvc)
	roomSvc.AddSessionListener(videoSvc)

	app := NewServer(ServerDeps{
		Conf:        conf,
		Logger:      logger,
		DB:          db,
		Validate:    validate,
		Translator:  translator,
		UserSvc:     usrSvc,
		AuthSvc:     authSvc,
		RoomSvc:     roomSvc,
		PomodoroSvc: pomodoroSvc,
		VideoSvc:    videoSvc,
		Hub:         h,
	})
	t.Cleanup(func() { _ = app.Close() })

	return &testEnv{
		app:     app,
		conf:    conf,
		db:      db,
		mailSvc: mailSvc,
		usrRepo: usrRepo,
		authSvc: authSvc,
		roomSvc: roomSvc,
		hub:     h,
	}
}

func (env *testEnv) createUser(t *testing.T, name, uname string, isActive ...bool) user.User {
	active := true
	if len(isActive) > 0 {
		active = isActive[0]
	}
	return testutil.CreateUser(t, env.usrRepo, name, uname, uname+"@test.cd", testPassword, active)
}

func (env *testEnv) getToken(t *testing.T, usr user.User) string {
	token, _, err := env.authSvc.GenerateAccessToken(usr)
	if err != nil {
		t.Fatalf("getToken() failed: %v", err)
	}
	return token
}

// do serves a request and returns its recorder.
func (env *testEnv) do(method, path, token string, data ...[]byte) *httptest.ResponseRecorder {
	req, rec := newAuthRequest(method, path, token, data...)
	env.app.ServeHTTP(rec, req)
	return rec
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	return newAuthRequest(method, path, "", data...)
}

func marshalObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marshalObj() failed: %v", err)
	}
	return data
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode() failed: %v; body %s", err, rec.Body.String())
	}
}

func jsonBytesEqual(t *testing.T, b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	if reflect.DeepEqual(j1, j2) {
		return true, nil
	}
	if j1 == nil || j2 == nil {
		return false, nil
	}
	return assert.ElementsMatch(t, j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
	}
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(t, rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}

func runHTTPTests(t *testing.T, env *testEnv, tests []httpTest) {
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			method := tt.method
			if method == "" {
				method = http.MethodGet
			}
			rec := env.do(method, tt.path, tt.token, tt.body)
			checkCodeAndData(t, tt, rec)
		})
	}
}
