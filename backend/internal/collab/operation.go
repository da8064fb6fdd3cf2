package collab

import (
	"errors"
	"fmt"
	"time"
)

type OpKind string

const (
	OpInsert OpKind = "insert"
	OpUpdate OpKind = "update"
	OpDelete OpKind = "delete"
)

var ErrInvalidOperation = errors.New("INVALID_OPERATION")

// Operation 是一次原子编辑意图。创建后不可变；
// 经过 transform 得到的是一个新值，不是对原值的修改。
type Operation struct {
	ID           string    `json:"id"`
	Kind         OpKind    `json:"kind"`
	Path         Path      `json:"path"`
	Value        *Node     `json:"value,omitempty"`
	Position     int       `json:"position,omitempty"`
	Length       int       `json:"length,omitempty"`
	ClientID     string    `json:"clientId"`
	UserID       string    `json:"userId"`
	Timestamp    time.Time `json:"timestamp"`
	BaseRevision uint64    `json:"baseRevision"`

	// Noop 只由 transform 置位：并发操作已经完整覆盖了本操作的效果
	// （典型：两个客户端删了同一段文本）。操作仍被接受并推进 revision，
	// 但应用时不再触碰内容树。
	Noop bool `json:"noop,omitempty"`
}

// Validate 在入口边界上做按 kind 的字段校验，拒绝畸形操作。
func (op Operation) Validate() error {
	switch op.Kind {
	case OpInsert:
		if op.Value == nil {
			return fmt.Errorf("%w: insert requires value", ErrInvalidOperation)
		}
		if op.Position < 0 {
			return fmt.Errorf("%w: negative position", ErrInvalidOperation)
		}
	case OpUpdate:
		if op.Value == nil {
			return fmt.Errorf("%w: update requires value", ErrInvalidOperation)
		}
		if len(op.Path) == 0 {
			return fmt.Errorf("%w: update requires path", ErrInvalidOperation)
		}
	case OpDelete:
		if len(op.Path) == 0 {
			return fmt.Errorf("%w: delete requires path", ErrInvalidOperation)
		}
		if op.Position < 0 || op.Length < 0 {
			return fmt.Errorf("%w: negative position/length", ErrInvalidOperation)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidOperation, op.Kind)
	}
	if op.ClientID == "" {
		return fmt.Errorf("%w: missing clientId", ErrInvalidOperation)
	}
	return nil
}

// insertSize 是该操作在目标处引入的“尺寸增量”：
// 字符串插入按 rune 数，数组元素插入按 1。
func (op Operation) insertSize() int {
	if op.Kind != OpInsert || op.Value == nil {
		return 0
	}
	if op.Value.Kind == KindString {
		return len([]rune(op.Value.Str))
	}
	return 1
}

// deleteSize 同理：字符串删除按 Length，数组元素删除按 1。
func (op Operation) deleteSize() int {
	if op.Kind != OpDelete {
		return 0
	}
	if op.Length > 0 {
		return op.Length
	}
	return 1
}

// Apply 把操作作用到内容树上。先做完整校验再变更，
// 保证失败时树保持原样（不存在半应用状态）。
func (op Operation) Apply(root *Node) error {
	if op.Noop {
		return nil
	}
	switch op.Kind {
	case OpInsert:
		return op.applyInsert(root)
	case OpUpdate:
		return op.applyUpdate(root)
	case OpDelete:
		return op.applyDelete(root)
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidOperation, op.Kind)
	}
}

func (op Operation) applyInsert(root *Node) error {
	// 目标路径存在：对字符串做按位插入，对数组做按位插入元素。
	if target, err := root.Lookup(op.Path); err == nil {
		switch target.Kind {
		case KindString:
			if op.Value.Kind != KindString {
				return fmt.Errorf("%w: insert into string requires string value", ErrInvalidOperation)
			}
			r := []rune(target.Str)
			pos := op.Position
			if pos > len(r) {
				pos = len(r)
			}
			target.Str = string(r[:pos]) + op.Value.Str + string(r[pos:])
			return nil
		case KindArray:
			pos := op.Position
			if pos > len(target.Arr) {
				pos = len(target.Arr)
			}
			target.Arr = append(target.Arr, nil)
			copy(target.Arr[pos+1:], target.Arr[pos:])
			target.Arr[pos] = op.Value.Clone()
			return nil
		default:
			return fmt.Errorf("%w: cannot insert into scalar", ErrInvalidOperation)
		}
	}
	// 目标路径不存在：最后一段视为要新建的键/追加位，父节点必须存在。
	if len(op.Path) == 0 {
		return fmt.Errorf("%w: empty path", ErrInvalidOperation)
	}
	parent, err := root.Lookup(op.Path[:len(op.Path)-1])
	if err != nil {
		return err
	}
	return parent.setChild(op.Path[len(op.Path)-1], op.Value.Clone())
}

func (op Operation) applyUpdate(root *Node) error {
	// Update 要求路径已存在（InvalidPath），整值替换。
	if _, err := root.Lookup(op.Path); err != nil {
		return err
	}
	parent, err := root.Lookup(op.Path[:len(op.Path)-1])
	if err != nil {
		return err
	}
	return parent.setChild(op.Path[len(op.Path)-1], op.Value.Clone())
}

func (op Operation) applyDelete(root *Node) error {
	target, err := root.Lookup(op.Path)
	if err != nil {
		return err
	}
	// Length > 0 且目标是字符串：删除一段文本而不是整个节点。
	if op.Length > 0 && target.Kind == KindString {
		r := []rune(target.Str)
		if op.Position > len(r) {
			return fmt.Errorf("%w: delete out of bounds", ErrInvalidOperation)
		}
		end := op.Position + op.Length
		if end > len(r) {
			end = len(r)
		}
		target.Str = string(r[:op.Position]) + string(r[end:])
		return nil
	}
	parent, err := root.Lookup(op.Path[:len(op.Path)-1])
	if err != nil {
		return err
	}
	return parent.removeChild(op.Path[len(op.Path)-1])
}
