// Package cursorlist 여러 워커가 공유하는 커서를 가진 스레드 안전 연결 리스트.
//
// 각 워커는 GetNext 로 서로 다른 항목을 하나씩 받아가며, 끝에 도달하면
// ResetPointer 로 다음 라운드를 시작한다. 순회 중에도 삽입과 삭제가 가능하다.
package cursorlist

import (
	"errors"
	"sync"
)

// ErrNilItem 빈 값 삽입 시도
var ErrNilItem = errors.New("cursorlist: nil item")

type node[T comparable] struct {
	value T
	next  *node[T]
}

// List 공유 커서 리스트
type List[T comparable] struct {
	mu      sync.Mutex
	head    *node[T]
	tail    *node[T]
	current *node[T]
	size    int
}

// New 빈 리스트 생성
func New[T comparable]() *List[T] {
	return &List[T]{}
}

// AddItem 리스트 끝에 항목 추가
//
// 커서가 끝에 도달해 있으면 새 항목이 다음 GetNext 결과가 된다.
func (l *List[T]) AddItem(item T) error {
	var zero T
	if item == zero {
		return ErrNilItem
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	n := &node[T]{value: item}
	if l.tail == nil {
		l.head = n
	} else {
		l.tail.next = n
	}
	l.tail = n
	if l.current == nil {
		l.current = n
	}
	l.size++
	return nil
}

// GetNext 커서 위치의 항목을 반환하고 커서를 전진
//
// 끝에 도달했으면 (zero, false).
func (l *List[T]) GetNext() (T, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.current == nil {
		var zero T
		return zero, false
	}
	n := l.current
	l.current = n.next
	return n.value, true
}

// ResetPointer 커서를 처음으로 되돌림
func (l *List[T]) ResetPointer() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.current = l.head
}

// RemoveItem 항목 제거. 없으면 false.
func (l *List[T]) RemoveItem(item T) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	var prev *node[T]
	for n := l.head; n != nil; prev, n = n, n.next {
		if n.value != item {
			continue
		}
		if prev == nil {
			l.head = n.next
		} else {
			prev.next = n.next
		}
		if l.tail == n {
			l.tail = prev
		}
		if l.current == n {
			l.current = n.next
		}
		n.next = nil
		l.size--
		return true
	}
	return false
}

// Contains 항목 포함 여부
func (l *List[T]) Contains(item T) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for n := l.head; n != nil; n = n.next {
		if n.value == item {
			return true
		}
	}
	return false
}

// Len 항목 수
func (l *List[T]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size
}

// Snapshot 커서를 건드리지 않고 현재 항목 복사본 반환
func (l *List[T]) Snapshot() []T {
	l.mu.Lock()
	defer l.mu.Unlock()

	items := make([]T, 0, l.size)
	for n := l.head; n != nil; n = n.next {
		items = append(items, n.value)
	}
	return items
}
