// Package repository предоставляет адаптеры хранилищ и единицу работы для них.
package repository

// Entity интерфейс для entity с ID
type Entity interface {
	ID() string
}

// Versioned entity с версией для оптимистичной блокировки.
// Версия увеличивается на единицу при каждом успешном обновлении.
type Versioned interface {
	Entity
	Version() int64
}
