// Package mocks provides gomock implementations of the ports declared in internal/core.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	transport := mocks.NewMockQueueTransport(ctrl)
//	transport.EXPECT().Delete(gomock.Any(), queueURL, "receipt-1").Return(nil).Times(1)
package mocks

// Queue plumbing: Receive, Delete, Send
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=queue_transport_mock.go github.com/target/chart-analysis-worker/internal/core QueueTransport

//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=job_handler_mock.go github.com/target/chart-analysis-worker/internal/core JobHandler

//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=task_publisher_mock.go github.com/target/chart-analysis-worker/internal/core TaskPublisher

// Reasoning backend: Complete, ExtractSignal
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=reasoning_backend_mock.go github.com/target/chart-analysis-worker/internal/core ReasoningBackend

//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=image_loader_mock.go github.com/target/chart-analysis-worker/internal/core ImageLoader

// Persistence: Exists, Create, Get, AppendMessage, UpdateSignal
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=conversation_repository_mock.go github.com/target/chart-analysis-worker/internal/core ConversationRepository

//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=credit_repository_mock.go github.com/target/chart-analysis-worker/internal/core CreditRepository
