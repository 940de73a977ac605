package events

import (
	"fmt"
	"strings"
	"sync"
)

// Registration обработчик, зарегистрированный под уникальным именем.
// Имя становится именем группы потребителей в транспорте.
type Registration struct {
	Name    string
	Handler EventHandler
}

// Registry явный реестр обработчиков событий
type Registry struct {
	mu            sync.RWMutex
	registrations []Registration
	names         map[string]struct{}
}

// NewRegistry создает пустой реестр
func NewRegistry() *Registry {
	return &Registry{
		names: make(map[string]struct{}),
	}
}

// Register добавляет обработчик. Повторное имя является ошибкой конфигурации.
func (r *Registry) Register(name string, handler EventHandler) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("handler name cannot be empty")
	}
	if handler == nil || handler.EventType() == "" {
		return fmt.Errorf("handler %s must declare an event type", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.names[name]; exists {
		return fmt.Errorf("handler %s already registered", name)
	}
	r.names[name] = struct{}{}
	r.registrations = append(r.registrations, Registration{Name: name, Handler: handler})
	return nil
}

// MustRegister как Register, но паникует при ошибке
func (r *Registry) MustRegister(name string, handler EventHandler) {
	if err := r.Register(name, handler); err != nil {
		panic(err)
	}
}

// Registrations возвращает регистрации в порядке добавления
func (r *Registry) Registrations() []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Registration, len(r.registrations))
	copy(out, r.registrations)
	return out
}

// HandlersFor возвращает обработчики типа события
func (r *Registry) HandlersFor(eventType string) []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Registration
	for _, reg := range r.registrations {
		if reg.Handler.EventType() == eventType {
			out = append(out, reg)
		}
	}
	return out
}

// SubjectRouter строит subject транспорта по типу события
type SubjectRouter struct {
	Prefix string
}

// NewSubjectRouter создает роутер с префиксом
func NewSubjectRouter(prefix string) SubjectRouter {
	return SubjectRouter{Prefix: strings.TrimSuffix(prefix, ".")}
}

// Subject возвращает subject для типа события
func (r SubjectRouter) Subject(eventType string) string {
	if r.Prefix == "" {
		return eventType
	}
	return r.Prefix + "." + eventType
}

// Wildcard возвращает шаблон, покрывающий все subject роутера
func (r SubjectRouter) Wildcard() string {
	if r.Prefix == "" {
		return ">"
	}
	return r.Prefix + ".>"
}
