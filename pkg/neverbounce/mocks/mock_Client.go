// Package mocks provides test doubles for the neverbounce client.
package mocks

import (
	"context"

	neverbounce "github.com/sells-group/lead-pipeline/pkg/neverbounce"
	mock "github.com/stretchr/testify/mock"
)

// MockClient is a mock type for the Client interface.
type MockClient struct {
	mock.Mock
}

// Check provides a mock function with given fields: ctx, email
func (_m *MockClient) Check(ctx context.Context, email string) (*neverbounce.CheckResult, error) {
	ret := _m.Called(ctx, email)

	if len(ret) == 0 {
		panic("no return value specified for Check")
	}

	var r0 *neverbounce.CheckResult
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*neverbounce.CheckResult)
	}
	return r0, ret.Error(1)
}

// NewMockClient creates a new instance of MockClient. It also registers a
// testing interface on the mock and a cleanup function to assert the mocks
// expectations.
func NewMockClient(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockClient {
	m := &MockClient{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}
