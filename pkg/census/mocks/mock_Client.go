// Package mocks provides test doubles for the census client.
package mocks

import (
	"context"

	census "github.com/sells-group/lead-pipeline/pkg/census"
	mock "github.com/stretchr/testify/mock"
)

// MockClient is a mock type for the Client interface.
type MockClient struct {
	mock.Mock
}

// BusinessPatterns provides a mock function with given fields: ctx, stateFIPS, naics
func (_m *MockClient) BusinessPatterns(ctx context.Context, stateFIPS, naics string) (*census.Patterns, error) {
	ret := _m.Called(ctx, stateFIPS, naics)

	if len(ret) == 0 {
		panic("no return value specified for BusinessPatterns")
	}

	var r0 *census.Patterns
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*census.Patterns)
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
