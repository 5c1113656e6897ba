// Package routertest provides a go-router Context mock for middleware tests.
package routertest

import (
	"context"

	"github.com/goliatone/go-router"
	"github.com/stretchr/testify/mock"
)

// MockContext mocks router.Context. Locals are kept in LocalsMock; setting a
// local is also recorded as a "Locals" call so tests can assert on it.
type MockContext struct {
	mock.Mock
	NextCalled bool
	LocalsMock map[any]any
}

var _ router.Context = (*MockContext)(nil)

// NewMockContext returns a mock with an empty locals store.
func NewMockContext() *MockContext {
	return &MockContext{LocalsMock: map[any]any{}}
}

func (m *MockContext) Next() error {
	m.NextCalled = true
	return nil
}

func (m *MockContext) Context() context.Context {
	args := m.Called()
	c, ok := args.Get(0).(context.Context)
	if !ok {
		panic("arg needs to be context.Context")
	}
	return c
}

func (m *MockContext) SetContext(ctx context.Context) {
	m.Called(ctx)
}

func (m *MockContext) Method() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockContext) Path() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockContext) Param(key string, defaultValue ...string) string {
	if len(defaultValue) > 0 {
		args := m.Called(key, defaultValue[0])
		return args.String(0)
	}
	args := m.Called(key)
	return args.String(0)
}

func (m *MockContext) ParamsInt(key string, defaultValue int) int {
	args := m.Called(key, defaultValue)
	return args.Int(0)
}

func (m *MockContext) Query(key string, defaultValue string) string {
	args := m.Called(key, defaultValue)
	return args.String(0)
}

func (m *MockContext) QueryInt(key string, defaultValue int) int {
	args := m.Called(key, defaultValue)
	return args.Int(0)
}

func (m *MockContext) Queries() map[string]string {
	args := m.Called()
	return args.Get(0).(map[string]string)
}

func (m *MockContext) Body() []byte {
	args := m.Called()
	return args.Get(0).([]byte)
}

func (m *MockContext) Locals(key any, value ...any) any {
	if len(value) > 0 {
		m.Called(key, value[0])
		m.LocalsMock[key] = value[0]
		return value[0]
	}
	return m.LocalsMock[key]
}

func (m *MockContext) Render(name string, bind any, layouts ...string) error {
	if len(layouts) > 0 {
		args := m.Called(name, bind, layouts[0])
		return args.Error(0)
	}
	args := m.Called(name, bind)
	return args.Error(0)
}

func (m *MockContext) Cookie(cookie *router.Cookie) {
	m.Called(cookie)
}

func (m *MockContext) Cookies(key string, defaultValue ...string) string {
	if len(defaultValue) > 0 {
		args := m.Called(key, defaultValue[0])
		return args.String(0)
	}
	args := m.Called(key)
	return args.String(0)
}

func (m *MockContext) CookieParser(out any) error {
	args := m.Called(out)
	return args.Error(0)
}

func (m *MockContext) Redirect(location string, status ...int) error {
	if len(status) > 0 {
		args := m.Called(location, status)
		return args.Error(0)
	}
	args := m.Called(location)
	return args.Error(0)
}

func (m *MockContext) RedirectToRoute(name string, params router.ViewContext, status ...int) error {
	if len(status) > 0 {
		args := m.Called(name, params, status[0])
		return args.Error(0)
	}
	args := m.Called(name, params)
	return args.Error(0)
}

func (m *MockContext) RedirectBack(fallback string, status ...int) error {
	if len(status) > 0 {
		args := m.Called(fallback, status)
		return args.Error(0)
	}
	args := m.Called(fallback)
	return args.Error(0)
}

func (m *MockContext) Header(key string) string {
	args := m.Called(key)
	return args.String(0)
}

func (m *MockContext) Referer() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockContext) OriginalURL() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockContext) Status(code int) router.Context {
	m.Called(code)
	return m
}

func (m *MockContext) Send(body []byte) error {
	args := m.Called(body)
	return args.Error(0)
}

func (m *MockContext) SendString(body string) error {
	args := m.Called(body)
	return args.Error(0)
}

func (m *MockContext) JSON(code int, v any) error {
	args := m.Called(code, v)
	return args.Error(0)
}

func (m *MockContext) NoContent(code int) error {
	args := m.Called(code)
	return args.Error(0)
}

func (m *MockContext) SetHeader(key, value string) router.Context {
	m.Called(key, value)
	return m
}

func (m *MockContext) Set(key string, value any) {
	m.Called(key, value)
}

func (m *MockContext) Get(key string, def any) any {
	args := m.Called(key, def)
	return args.Get(0)
}

func (m *MockContext) GetString(key string, def string) string {
	args := m.Called(key, def)
	return args.String(0)
}

func (m *MockContext) GetInt(key string, def int) int {
	args := m.Called(key, def)
	return args.Int(0)
}

func (m *MockContext) GetBool(key string, def bool) bool {
	args := m.Called(key, def)
	return args.Bool(0)
}

func (m *MockContext) Bind(v any) error {
	args := m.Called(v)
	return args.Error(0)
}
