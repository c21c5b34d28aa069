package cluster

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gpufleet/gpuctl/internal/val"
)

func TestAgentUploader_RegistersOnStart(t *testing.T) {
	var registered, uploaded bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && len(r.URL.Path) > len("/api/nodes/") && r.URL.Path[len(r.URL.Path)-len("/register"):] == "/register":
			registered = true
		case r.Method == http.MethodPost && len(r.URL.Path) > len("/api/nodes/") && r.URL.Path[len(r.URL.Path)-len("/snapshot"):] == "/snapshot":
			uploaded = true
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	mgr, err := val.NewGpuManager(context.Background())
	if err != nil {
		t.Skipf("no GPU backend available in this environment: %v", err)
	}

	dir := t.TempDir()
	uploader, err := NewAgentUploader(srv.URL, dir, mgr)
	if err != nil {
		t.Fatalf("NewAgentUploader failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = uploader.Run(ctx)

	if !registered {
		t.Fatal("expected the uploader to register with the coordinator")
	}
	_ = uploaded // uploaded only if the upload ticker fires within the test window
}
