// Package mocks provides mock implementations for testing the annotation job system.
//
// This package uses go.uber.org/mock (gomock) to generate type-safe mocks for the
// interfaces in internal/core. The mocks are generated using go:generate directives
// and provide a fluent API for setting up test expectations.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	defer ctrl.Finish()
//	profiles := mocks.NewMockProfileService(ctrl)
//	profiles.EXPECT().GetProfile(gomock.Any(), "user-1").Return(profile, nil)
package mocks

// Generate mock for ProfileService interface from internal/core package.
// This creates MockProfileService with methods for all ProfileService interface methods:
// GetProfile, UpdateProfile
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=profile_service_mock.go github.com/arcovabio/annex/internal/core ProfileService
