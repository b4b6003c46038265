package app

import (
	"context"
	"fmt"
	"os"
	"time"
)

type HealthStatus struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components"`
}

type HealthService struct {
	app *App
}

func NewHealthService(app *App) *HealthService {
	return &HealthService{app: app}
}

func (s *HealthService) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:     "up",
		Timestamp:  time.Now().UTC(),
		Components: make(map[string]string),
	}

	if s.app.kb == nil || s.app.kb.Get() == nil {
		status.Status = "degraded"
		status.Components["knowledge_base"] = "missing"
	} else {
		k := s.app.kb.Get()
		status.Components["knowledge_base"] = fmt.Sprintf("ok (%s, %d entries)", k.Source(), len(k.Entries))
	}

	if info, err := os.Stat(s.app.paths.StateDir); err == nil && info.IsDir() {
		status.Components["state_dir"] = "ok"
	} else if os.IsNotExist(err) {
		status.Components["state_dir"] = "not created yet"
	} else {
		status.Status = "degraded"
		status.Components["state_dir"] = "unavailable"
	}

	if s.app.rewriter != nil {
		status.Components["rewriter"] = "ok"
	} else {
		status.Components["rewriter"] = "not configured"
	}

	return status
}
