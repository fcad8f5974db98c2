package server

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"starmsg/db"
)

func TestRegisterAndLogin(t *testing.T) {
	_, ts, cleanup := setupTestServer(t)
	defer cleanup()

	result := postJSON(t, ts, "/api/register", map[string]string{
		"username": "alice",
		"password": "password123",
	})
	if result["success"] != true {
		t.Fatalf("Expected successful registration, got %v", result)
	}

	// Повторная регистрация того же имени
	result = postJSON(t, ts, "/api/register", map[string]string{
		"username": "alice",
		"password": "password123",
	})
	if result["success"] != false || result["error"] != "user already exists" {
		t.Errorf("Expected duplicate registration error, got %v", result)
	}

	result = postJSON(t, ts, "/api/login", map[string]string{
		"username": "alice",
		"password": "password123",
	})
	if result["success"] != true {
		t.Fatalf("Expected successful login, got %v", result)
	}
	user, _ := result["user"].(map[string]any)
	if user["username"] != "alice" {
		t.Errorf("Expected user alice, got %v", user)
	}

	result = postJSON(t, ts, "/api/login", map[string]string{
		"username": "alice",
		"password": "wrongpassword",
	})
	if result["success"] != false {
		t.Errorf("Expected failed login with wrong password, got %v", result)
	}
}

func TestSearchExcludesSelf(t *testing.T) {
	_, ts, cleanup := setupTestServer(t)
	defer cleanup()

	for _, user := range []string{"star_alice", "star_bob", "carol"} {
		result := postJSON(t, ts, "/api/register", map[string]string{
			"username": user,
			"password": "password123",
		})
		if result["success"] != true {
			t.Fatalf("Failed to register %s: %v", user, result)
		}
	}

	result := postJSON(t, ts, "/api/search", map[string]string{
		"query": "star",
		"me":    "star_alice",
	})
	if result["success"] != true {
		t.Fatalf("Search failed: %v", result)
	}

	users, _ := result["users"].([]any)
	if len(users) != 1 {
		t.Fatalf("Expected 1 result, got %v", result["users"])
	}
	entry, _ := users[0].(map[string]any)
	if entry["username"] != "star_bob" {
		t.Errorf("Expected star_bob, got %v", entry)
	}
}

func TestAddFriendValidation(t *testing.T) {
	_, ts, cleanup := setupTestServer(t)
	defer cleanup()

	result := postJSON(t, ts, "/api/register", map[string]string{
		"username": "alice",
		"password": "password123",
	})
	if result["success"] != true {
		t.Fatalf("Failed to register: %v", result)
	}

	// Несуществующий пользователь
	result = postJSON(t, ts, "/api/add-friend", map[string]string{
		"me":     "alice",
		"friend": "ghost",
	})
	if result["success"] != false || result["error"] != "user not found" {
		t.Errorf("Expected user not found, got %v", result)
	}

	// Запрос самому себе
	result = postJSON(t, ts, "/api/add-friend", map[string]string{
		"me":     "alice",
		"friend": "alice",
	})
	if result["success"] != false {
		t.Errorf("Expected self-request to fail, got %v", result)
	}
}

func TestMessagesEndpoint(t *testing.T) {
	srv, ts, cleanup := setupTestServer(t)
	defer cleanup()

	if err := srv.db.SaveMessage("alice", "bob", "hello", "", time.Now().UTC()); err != nil {
		t.Fatalf("SaveMessage failed: %v", err)
	}
	if err := srv.db.SaveMessage("bob", "alice", "hi back", "", time.Now().UTC().Add(time.Second)); err != nil {
		t.Fatalf("SaveMessage failed: %v", err)
	}

	result := postJSON(t, ts, "/api/messages", map[string]any{
		"me":      "alice",
		"contact": "bob",
	})
	if result["success"] != true {
		t.Fatalf("messages failed: %v", result)
	}

	messages, _ := result["messages"].([]any)
	if len(messages) != 2 {
		t.Fatalf("Expected 2 messages, got %v", result["messages"])
	}
	first, _ := messages[0].(map[string]any)
	if first["sender"] != "alice" || first["text"] != "hello" {
		t.Errorf("Unexpected first message: %v", first)
	}
}

func TestAvatarUpload(t *testing.T) {
	srv, ts, cleanup := setupTestServer(t)
	defer cleanup()

	result := postJSON(t, ts, "/api/register", map[string]string{
		"username": "alice",
		"password": "password123",
	})
	if result["success"] != true {
		t.Fatalf("Failed to register: %v", result)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	writer.WriteField("username", "alice")
	part, err := writer.CreateFormFile("file", "avatar.png")
	if err != nil {
		t.Fatalf("CreateFormFile failed: %v", err)
	}
	part.Write([]byte("fake png bytes"))
	writer.Close()

	resp, err := http.Post(ts.URL+"/api/avatar", writer.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("POST /api/avatar failed: %v", err)
	}
	defer resp.Body.Close()

	var uploadResult map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&uploadResult); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if uploadResult["success"] != true {
		t.Fatalf("Avatar upload failed: %v", uploadResult)
	}

	avatarURL, _ := uploadResult["avatar"].(string)
	if avatarURL == "" {
		t.Fatal("Expected avatar URL in response")
	}

	// Аватар сохранен на пользователе и файл отдаётся по URL
	user, err := srv.db.GetUser("alice")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if user.Avatar != avatarURL {
		t.Errorf("Expected stored avatar %q, got %q", avatarURL, user.Avatar)
	}

	fileResp, err := http.Get(ts.URL + avatarURL)
	if err != nil {
		t.Fatalf("GET %s failed: %v", avatarURL, err)
	}
	defer fileResp.Body.Close()
	if fileResp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 serving avatar, got %d", fileResp.StatusCode)
	}
}

func TestAuthRateLimit(t *testing.T) {
	tmpfile, err := os.CreateTemp("", "test-*.db")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	tmpfile.Close()
	os.Remove(tmpfile.Name())
	defer os.Remove(tmpfile.Name())

	database, err := db.New(tmpfile.Name())
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	defer database.Close()

	srv := New(database, &ServerConfig{
		WriteTimeout:  5 * time.Second,
		DataDir:       t.TempDir(),
		AuthRateLimit: 1,
		AuthRateBurst: 2,
	})

	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	post := func() int {
		resp, err := http.Post(ts.URL+"/api/login", "application/json",
			bytes.NewReader([]byte(`{"username":"x","password":"y"}`)))
		if err != nil {
			t.Fatalf("POST failed: %v", err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	// burst = 2: третий запрос подряд упирается в лимит
	if code := post(); code != http.StatusOK {
		t.Fatalf("Expected 200 for first request, got %d", code)
	}
	if code := post(); code != http.StatusOK {
		t.Fatalf("Expected 200 for second request, got %d", code)
	}
	if code := post(); code != http.StatusTooManyRequests {
		t.Errorf("Expected 429 for third request, got %d", code)
	}
}
