// Copyright 2024 Potter Framework Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package observability

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// HealthCheck интерфейс для health checks
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// HealthCheckFunc адаптер функции к HealthCheck
type HealthCheckFunc struct {
	name string
	fn   func(ctx context.Context) error
}

// NewHealthCheck создает HealthCheck из функции
func NewHealthCheck(name string, fn func(ctx context.Context) error) HealthCheckFunc {
	return HealthCheckFunc{name: name, fn: fn}
}

// Name возвращает имя проверки
func (h HealthCheckFunc) Name() string {
	return h.name
}

// Check выполняет проверку
func (h HealthCheckFunc) Check(ctx context.Context) error {
	return h.fn(ctx)
}

// HealthCheckResult результат health check
type HealthCheckResult struct {
	Status    string                 `json:"status"`
	Checks    map[string]CheckResult `json:"checks"`
	Timestamp time.Time              `json:"timestamp"`
}

// CheckResult результат отдельной проверки
type CheckResult struct {
	Status   string        `json:"status"`
	Message  string        `json:"message,omitempty"`
	Duration time.Duration `json:"duration"`
}

// HealthManager агрегирует проверки здоровья для HTTP и gRPC
type HealthManager struct {
	checks  []HealthCheck
	timeout time.Duration
	grpc    *health.Server
	mu      sync.RWMutex
}

// NewHealthManager создает новый HealthManager
func NewHealthManager(timeout time.Duration) *HealthManager {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HealthManager{
		timeout: timeout,
		grpc:    health.NewServer(),
	}
}

// RegisterHealthCheck регистрирует health check
func (hm *HealthManager) RegisterHealthCheck(check HealthCheck) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.checks = append(hm.checks, check)
}

// Check выполняет все проверки
func (hm *HealthManager) Check(ctx context.Context) HealthCheckResult {
	ctx, cancel := context.WithTimeout(ctx, hm.timeout)
	defer cancel()

	hm.mu.RLock()
	checks := hm.checks
	hm.mu.RUnlock()

	result := HealthCheckResult{
		Status:    "healthy",
		Checks:    make(map[string]CheckResult, len(checks)),
		Timestamp: time.Now(),
	}

	for _, check := range checks {
		start := time.Now()
		err := check.Check(ctx)

		cr := CheckResult{Status: "healthy", Duration: time.Since(start)}
		if err != nil {
			cr.Status = "unhealthy"
			cr.Message = err.Error()
			result.Status = "unhealthy"
		}
		result.Checks[check.Name()] = cr
	}

	return result
}

// HealthCheckHandler возвращает Gin handler для health check
func (hm *HealthManager) HealthCheckHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		result := hm.Check(c.Request.Context())
		if result.Status != "healthy" {
			c.JSON(http.StatusServiceUnavailable, result)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// GRPCServer возвращает gRPC health server, синхронизируемый через SyncGRPC
func (hm *HealthManager) GRPCServer() *health.Server {
	return hm.grpc
}

// SyncGRPC обновляет статус gRPC health server по результатам проверок
func (hm *HealthManager) SyncGRPC(ctx context.Context, service string) {
	status := grpc_health_v1.HealthCheckResponse_SERVING
	if hm.Check(ctx).Status != "healthy" {
		status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
	hm.grpc.SetServingStatus(service, status)
	hm.grpc.SetServingStatus("", status)
}

// Shutdown переводит gRPC health server в NOT_SERVING
func (hm *HealthManager) Shutdown() {
	hm.grpc.Shutdown()
}
