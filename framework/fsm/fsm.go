// Package fsm предоставляет таблицу переходов конечного автомата.
//
// Таблица не хранит текущее состояние: владелец состояния спрашивает у нее,
// допустим ли переход, и сам применяет результат.
package fsm

import "fmt"

// Table таблица допустимых переходов
type Table[S comparable, E comparable] struct {
	transitions map[S]map[E]S
	terminal    map[S]struct{}
}

// NewTable создает пустую таблицу
func NewTable[S comparable, E comparable]() *Table[S, E] {
	return &Table[S, E]{
		transitions: make(map[S]map[E]S),
		terminal:    make(map[S]struct{}),
	}
}

// Permit разрешает переход from -> to по событию event
func (t *Table[S, E]) Permit(from S, event E, to S) *Table[S, E] {
	byEvent, ok := t.transitions[from]
	if !ok {
		byEvent = make(map[E]S)
		t.transitions[from] = byEvent
	}
	byEvent[event] = to
	return t
}

// PermitFrom разрешает переход в to по событию event из каждого состояния from
func (t *Table[S, E]) PermitFrom(event E, to S, from ...S) *Table[S, E] {
	for _, s := range from {
		t.Permit(s, event, to)
	}
	return t
}

// Terminal помечает состояния как конечные
func (t *Table[S, E]) Terminal(states ...S) *Table[S, E] {
	for _, s := range states {
		t.terminal[s] = struct{}{}
	}
	return t
}

// Fire возвращает целевое состояние и true, если переход допустим
func (t *Table[S, E]) Fire(current S, event E) (S, bool) {
	if t.IsTerminal(current) {
		return current, false
	}
	to, ok := t.transitions[current][event]
	if !ok {
		return current, false
	}
	return to, true
}

// Can проверяет допустимость перехода
func (t *Table[S, E]) Can(current S, event E) bool {
	_, ok := t.Fire(current, event)
	return ok
}

// IsTerminal проверяет, является ли состояние конечным
func (t *Table[S, E]) IsTerminal(state S) bool {
	_, ok := t.terminal[state]
	return ok
}

// Validate проверяет, что из конечных состояний нет переходов
func (t *Table[S, E]) Validate() error {
	for s := range t.terminal {
		if len(t.transitions[s]) > 0 {
			return fmt.Errorf("terminal state %v has outgoing transitions", s)
		}
	}
	return nil
}
