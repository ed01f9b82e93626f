// Package mocks provides test doubles for the pdl client.
package mocks

import (
	"context"

	pdl "github.com/sells-group/lead-pipeline/pkg/pdl"
	mock "github.com/stretchr/testify/mock"
)

// MockClient is a mock type for the Client interface.
type MockClient struct {
	mock.Mock
}

// EnrichPerson provides a mock function with given fields: ctx, req
func (_m *MockClient) EnrichPerson(ctx context.Context, req pdl.PersonRequest) (*pdl.Person, error) {
	ret := _m.Called(ctx, req)

	if len(ret) == 0 {
		panic("no return value specified for EnrichPerson")
	}

	var r0 *pdl.Person
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*pdl.Person)
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
