package taskrunner

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_RunAgent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/run-claude-agent", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var req RunAgentRequest
		err := json.NewDecoder(r.Body).Decode(&req)
		require.NoError(t, err)
		assert.Equal(t, "chat-1", req.ChatID)
		assert.Equal(t, "fix the build", req.Prompt)

		_ = json.NewEncoder(w).Encode(RunAgentResponse{Status: RunStatusStarted})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	resp, err := client.RunAgent(context.Background(), &RunAgentRequest{
		ChatID: "chat-1",
		Prompt: "fix the build",
	})

	require.NoError(t, err)
	assert.Equal(t, RunStatusStarted, resp.Status)
}

func TestClient_RunAgent_Rejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(RunAgentResponse{
			Status: StatusError,
			Error:  "run already in progress",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	resp, err := client.RunAgent(context.Background(), &RunAgentRequest{
		ChatID: "chat-1",
		Prompt: "fix the build",
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAgentRejected)
	require.NotNil(t, resp)
	assert.Equal(t, StatusError, resp.Status)

	var runnerErr *RunnerError
	require.ErrorAs(t, err, &runnerErr)
	assert.Equal(t, "RunAgent", runnerErr.Op)
	assert.Equal(t, "chat-1", runnerErr.ChatID)
}

func TestClient_RunAgent_MissingChatID(t *testing.T) {
	client := NewClient("http://localhost:0")
	_, err := client.RunAgent(context.Background(), &RunAgentRequest{Prompt: "hi"})
	assert.ErrorIs(t, err, ErrChatIDRequired)
}

func TestClient_RunAgent_TransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // 즉시 닫아 연결 실패 유도

	client := NewClient(server.URL)
	_, err := client.RunAgent(context.Background(), &RunAgentRequest{
		ChatID: "chat-1",
		Prompt: "hi",
	})
	require.Error(t, err)
}

func TestClient_CreateSandbox(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/create-sandbox", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var req CreateSandboxRequest
		err := json.NewDecoder(r.Body).Decode(&req)
		require.NoError(t, err)
		assert.Equal(t, "https://github.com/acme/widgets", req.RepoURL)

		_ = json.NewEncoder(w).Encode(CreateSandboxResponse{
			Status:       SandboxStatusSuccess,
			SnapshotID:   "snap-abc123",
			ForkURL:      "https://github.com/tinygen-bot/widgets",
			OriginalRepo: "acme/widgets",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	resp, err := client.CreateSandbox(context.Background(), &CreateSandboxRequest{
		ChatID:  "chat-1",
		RepoURL: "https://github.com/acme/widgets",
	})

	require.NoError(t, err)
	assert.Equal(t, "snap-abc123", resp.SnapshotID)
	assert.Equal(t, "https://github.com/tinygen-bot/widgets", resp.ForkURL)
}

func TestClient_CreateSandbox_Error(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(CreateSandboxResponse{
			Status: StatusError,
			Error:  "clone failed",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	resp, err := client.CreateSandbox(context.Background(), &CreateSandboxRequest{
		ChatID:  "chat-1",
		RepoURL: "https://github.com/acme/widgets",
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSandboxFailed)
	require.NotNil(t, resp)
	assert.Equal(t, "clone failed", resp.Error)
}

func TestClient_CheckGitHubApp(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/check-github-app/octocat", r.URL.Path)
		assert.Equal(t, http.MethodGet, r.Method)

		_ = json.NewEncoder(w).Encode(CheckGitHubAppResponse{
			Installed:      true,
			InstallationID: 42,
		})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	resp, err := client.CheckGitHubApp(context.Background(), "octocat")

	require.NoError(t, err)
	assert.True(t, resp.Installed)
	assert.Equal(t, int64(42), resp.InstallationID)
}

func TestClient_CheckGitHubApp_NotInstalled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(CheckGitHubAppResponse{Installed: false})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	resp, err := client.CheckGitHubApp(context.Background(), "octocat")

	require.NoError(t, err)
	assert.False(t, resp.Installed)
	assert.Zero(t, resp.InstallationID)
}

func TestClient_HTTPErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status": "error",
			"error":  "database unavailable",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	_, err := client.RunAgent(context.Background(), &RunAgentRequest{
		ChatID: "chat-1",
		Prompt: "hi",
	})

	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Equal(t, "database unavailable", apiErr.Message)
}
