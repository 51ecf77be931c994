package mocks

import (
	"context"

	"narrato-server/internal/interfaces"

	"github.com/stretchr/testify/mock"
)

// MockDocumentStore is a mock type for the DocumentStore type
type MockDocumentStore struct {
	mock.Mock
}

// Add provides a mock function with given fields: ctx, collection, value
func (_m *MockDocumentStore) Add(ctx context.Context, collection string, value any) (string, error) {
	ret := _m.Called(ctx, collection, value)

	var r0 string
	if rf, ok := ret.Get(0).(func(context.Context, string, any) string); ok {
		r0 = rf(ctx, collection, value)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(string)
		}
	}

	var r1 error
	if rf, ok := ret.Get(1).(func(context.Context, string, any) error); ok {
		r1 = rf(ctx, collection, value)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// Update provides a mock function with given fields: ctx, collection, id, value
func (_m *MockDocumentStore) Update(ctx context.Context, collection string, id string, value any) error {
	ret := _m.Called(ctx, collection, id, value)

	var r0 error
	if rf, ok := ret.Get(0).(func(context.Context, string, string, any) error); ok {
		r0 = rf(ctx, collection, id, value)
	} else {
		r0 = ret.Error(0)
	}

	return r0
}

// Where provides a mock function with given fields: ctx, collection, filter
func (_m *MockDocumentStore) Where(ctx context.Context, collection string, filter map[string]any) ([]interfaces.Item, error) {
	ret := _m.Called(ctx, collection, filter)

	var r0 []interfaces.Item
	if rf, ok := ret.Get(0).(func(context.Context, string, map[string]any) []interfaces.Item); ok {
		r0 = rf(ctx, collection, filter)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).([]interfaces.Item)
		}
	}

	var r1 error
	if rf, ok := ret.Get(1).(func(context.Context, string, map[string]any) error); ok {
		r1 = rf(ctx, collection, filter)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// Remove provides a mock function with given fields: ctx, collection, id
func (_m *MockDocumentStore) Remove(ctx context.Context, collection string, id string) error {
	ret := _m.Called(ctx, collection, id)

	var r0 error
	if rf, ok := ret.Get(0).(func(context.Context, string, string) error); ok {
		r0 = rf(ctx, collection, id)
	} else {
		r0 = ret.Error(0)
	}

	return r0
}

// NewMockDocumentStore creates a new instance of MockDocumentStore. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
// The first argument is typically a *testing.T value.
func NewMockDocumentStore(t interface {
	mock.TestingT
	Helper()
}) *MockDocumentStore {
	m := &MockDocumentStore{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

var _ interfaces.DocumentStore = (*MockDocumentStore)(nil)
