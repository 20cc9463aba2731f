package mocks

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/tinygen-oss/app/internal/sandbox"
)

// MockDockerClient는 테스트용 DockerClient 구현입니다.
type MockDockerClient struct {
	mu sync.Mutex

	// Created는 CreateContainer 호출 설정 기록입니다.
	Created []sandbox.ContainerConfig

	// Started는 시작된 container ID 목록입니다.
	Started []string

	// Stopped는 중지된 container ID 목록입니다.
	Stopped []string

	// Removed는 삭제된 container ID 목록입니다.
	Removed []string

	// PingErr이 설정되면 Ping이 실패합니다.
	PingErr error

	// CreateErr이 설정되면 CreateContainer가 실패합니다.
	CreateErr error

	// StartErr이 설정되면 StartContainer가 실패합니다.
	StartErr error

	// Logs는 ContainerLogs가 반환할 내용입니다.
	Logs string

	nextID int
}

// NewMockDockerClient는 새로운 MockDockerClient를 생성합니다.
func NewMockDockerClient() *MockDockerClient {
	return &MockDockerClient{}
}

// ensure MockDockerClient implements DockerClient
var _ sandbox.DockerClient = (*MockDockerClient)(nil)

// CreateContainer implements DockerClient.
func (m *MockDockerClient) CreateContainer(ctx context.Context, config sandbox.ContainerConfig) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.CreateErr != nil {
		return "", m.CreateErr
	}

	m.nextID++
	containerID := fmt.Sprintf("mock-container-%d", m.nextID)
	m.Created = append(m.Created, config)
	return containerID, nil
}

// StartContainer implements DockerClient.
func (m *MockDockerClient) StartContainer(ctx context.Context, containerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.StartErr != nil {
		return m.StartErr
	}

	m.Started = append(m.Started, containerID)
	return nil
}

// StopContainer implements DockerClient.
func (m *MockDockerClient) StopContainer(ctx context.Context, containerID string, timeout int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Stopped = append(m.Stopped, containerID)
	return nil
}

// RemoveContainer implements DockerClient.
func (m *MockDockerClient) RemoveContainer(ctx context.Context, containerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Removed = append(m.Removed, containerID)
	return nil
}

// ContainerLogs implements DockerClient.
func (m *MockDockerClient) ContainerLogs(ctx context.Context, containerID string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return io.NopCloser(strings.NewReader(m.Logs)), nil
}

// ContainerInspect implements DockerClient.
func (m *MockDockerClient) ContainerInspect(ctx context.Context, containerID string) (sandbox.ContainerInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range m.Started {
		if id == containerID {
			return sandbox.ContainerInfo{
				ID:    containerID,
				State: "running",
			}, nil
		}
	}
	return sandbox.ContainerInfo{
		ID:    containerID,
		State: "created",
	}, nil
}

// Ping implements DockerClient.
func (m *MockDockerClient) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.PingErr
}

// Close implements DockerClient.
func (m *MockDockerClient) Close() error {
	return nil
}
