// Package mocks provides test doubles for the hunter client.
package mocks

import (
	"context"

	hunter "github.com/sells-group/lead-pipeline/pkg/hunter"
	mock "github.com/stretchr/testify/mock"
)

// MockClient is a mock type for the Client interface.
type MockClient struct {
	mock.Mock
}

// DomainSearch provides a mock function with given fields: ctx, domain, limit
func (_m *MockClient) DomainSearch(ctx context.Context, domain string, limit int) (*hunter.DomainSearchResult, error) {
	ret := _m.Called(ctx, domain, limit)

	if len(ret) == 0 {
		panic("no return value specified for DomainSearch")
	}

	var r0 *hunter.DomainSearchResult
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*hunter.DomainSearchResult)
	}
	return r0, ret.Error(1)
}

// EmailFinder provides a mock function with given fields: ctx, domain, firstName, lastName
func (_m *MockClient) EmailFinder(ctx context.Context, domain, firstName, lastName string) (*hunter.EmailFinderResult, error) {
	ret := _m.Called(ctx, domain, firstName, lastName)

	if len(ret) == 0 {
		panic("no return value specified for EmailFinder")
	}

	var r0 *hunter.EmailFinderResult
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*hunter.EmailFinderResult)
	}
	return r0, ret.Error(1)
}

// VerifyEmail provides a mock function with given fields: ctx, email
func (_m *MockClient) VerifyEmail(ctx context.Context, email string) (*hunter.VerifyResult, error) {
	ret := _m.Called(ctx, email)

	if len(ret) == 0 {
		panic("no return value specified for VerifyEmail")
	}

	var r0 *hunter.VerifyResult
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*hunter.VerifyResult)
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
