package collab

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrInvalidPath = errors.New("INVALID_PATH")

type NodeKind int

const (
	// iota：在 const (...) 里从 0 开始自动递增
	KindNull NodeKind = iota
	KindBool
	KindNumber
	KindString
	KindObject
	KindArray
)

// Node 是文档内容树的节点：封闭的递归变体类型（对象/数组/标量）。
// 不用 map[string]interface{}，这样路径访问失败时能返回类型化错误，
// 而不是未定义行为。
type Node struct {
	Kind NodeKind
	Bool bool
	Num  float64
	Str  string
	Obj  map[string]*Node
	Arr  []*Node
}

func Null() *Node            { return &Node{Kind: KindNull} }
func BoolNode(b bool) *Node  { return &Node{Kind: KindBool, Bool: b} }
func NumNode(f float64) *Node { return &Node{Kind: KindNumber, Num: f} }
func StrNode(s string) *Node { return &Node{Kind: KindString, Str: s} }
func ObjNode() *Node         { return &Node{Kind: KindObject, Obj: make(map[string]*Node)} }
func ArrNode() *Node         { return &Node{Kind: KindArray} }

// FromAny 从 json.Unmarshal 解出的通用值构造内容树。
func FromAny(v any) *Node {
	switch t := v.(type) {
	case nil:
		return Null()
	case bool:
		return BoolNode(t)
	case float64:
		return NumNode(t)
	case int:
		return NumNode(float64(t))
	case int64:
		return NumNode(float64(t))
	case json.Number:
		f, _ := t.Float64()
		return NumNode(f)
	case string:
		return StrNode(t)
	case map[string]any:
		n := ObjNode()
		for k, child := range t {
			n.Obj[k] = FromAny(child)
		}
		return n
	case []any:
		n := ArrNode()
		for _, child := range t {
			n.Arr = append(n.Arr, FromAny(child))
		}
		return n
	default:
		// 未知标量一律降级为字符串表示
		return StrNode(fmt.Sprintf("%v", t))
	}
}

// ToAny 还原为通用 JSON 值（encoding/json 对 map 按键排序，序列化结果确定）。
func (n *Node) ToAny() any {
	if n == nil {
		return nil
	}
	switch n.Kind {
	case KindNull:
		return nil
	case KindBool:
		return n.Bool
	case KindNumber:
		return n.Num
	case KindString:
		return n.Str
	case KindObject:
		m := make(map[string]any, len(n.Obj))
		for k, child := range n.Obj {
			m[k] = child.ToAny()
		}
		return m
	case KindArray:
		a := make([]any, len(n.Arr))
		for i, child := range n.Arr {
			a[i] = child.ToAny()
		}
		return a
	}
	return nil
}

func (n *Node) MarshalJSON() ([]byte, error) {
	return json.Marshal(n.ToAny())
}

func (n *Node) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*n = *FromAny(v)
	return nil
}

func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	out := &Node{Kind: n.Kind, Bool: n.Bool, Num: n.Num, Str: n.Str}
	if n.Obj != nil {
		out.Obj = make(map[string]*Node, len(n.Obj))
		for k, child := range n.Obj {
			out.Obj[k] = child.Clone()
		}
	}
	if n.Arr != nil {
		out.Arr = make([]*Node, len(n.Arr))
		for i, child := range n.Arr {
			out.Arr[i] = child.Clone()
		}
	}
	return out
}

// Equal 深比较两棵内容树。
func (n *Node) Equal(other *Node) bool {
	if n == nil || other == nil {
		return n == nil && other == nil
	}
	if n.Kind != other.Kind {
		return false
	}
	switch n.Kind {
	case KindNull:
		return true
	case KindBool:
		return n.Bool == other.Bool
	case KindNumber:
		return n.Num == other.Num
	case KindString:
		return n.Str == other.Str
	case KindObject:
		if len(n.Obj) != len(other.Obj) {
			return false
		}
		for k, child := range n.Obj {
			oc, ok := other.Obj[k]
			if !ok || !child.Equal(oc) {
				return false
			}
		}
		return true
	case KindArray:
		if len(n.Arr) != len(other.Arr) {
			return false
		}
		for i, child := range n.Arr {
			if !child.Equal(other.Arr[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// Path 是进入内容树的键/下标序列；数组下标用十进制段表示。
type Path []string

func ParsePath(s string) Path {
	if s == "" {
		return nil
	}
	return Path(strings.Split(s, "."))
}

func (p Path) String() string { return strings.Join(p, ".") }

func (p Path) Equal(other Path) bool {
	if len(p) != len(other) {
		return false
	}
	for i := range p {
		if p[i] != other[i] {
			return false
		}
	}
	return true
}

// Lookup 沿路径向下查找；任何一段不存在都返回 ErrInvalidPath。
func (n *Node) Lookup(p Path) (*Node, error) {
	cur := n
	for _, seg := range p {
		child, err := cur.child(seg)
		if err != nil {
			return nil, err
		}
		cur = child
	}
	return cur, nil
}

func (n *Node) child(seg string) (*Node, error) {
	switch n.Kind {
	case KindObject:
		child, ok := n.Obj[seg]
		if !ok {
			return nil, fmt.Errorf("%w: no key %q", ErrInvalidPath, seg)
		}
		return child, nil
	case KindArray:
		idx, err := strconv.Atoi(seg)
		if err != nil || idx < 0 || idx >= len(n.Arr) {
			return nil, fmt.Errorf("%w: bad index %q", ErrInvalidPath, seg)
		}
		return n.Arr[idx], nil
	default:
		return nil, fmt.Errorf("%w: %q into scalar", ErrInvalidPath, seg)
	}
}

// setChild 在已存在的容器节点上写入/覆盖一个子节点。
// 对象：键可以是新键；数组：下标必须已存在或等于长度（追加）。
func (n *Node) setChild(seg string, v *Node) error {
	switch n.Kind {
	case KindObject:
		if n.Obj == nil {
			n.Obj = make(map[string]*Node)
		}
		n.Obj[seg] = v
		return nil
	case KindArray:
		idx, err := strconv.Atoi(seg)
		if err != nil || idx < 0 || idx > len(n.Arr) {
			return fmt.Errorf("%w: bad index %q", ErrInvalidPath, seg)
		}
		if idx == len(n.Arr) {
			n.Arr = append(n.Arr, v)
		} else {
			n.Arr[idx] = v
		}
		return nil
	default:
		return fmt.Errorf("%w: %q into scalar", ErrInvalidPath, seg)
	}
}

// removeChild 删除容器节点上的一个子节点。
func (n *Node) removeChild(seg string) error {
	switch n.Kind {
	case KindObject:
		if _, ok := n.Obj[seg]; !ok {
			return fmt.Errorf("%w: no key %q", ErrInvalidPath, seg)
		}
		delete(n.Obj, seg)
		return nil
	case KindArray:
		idx, err := strconv.Atoi(seg)
		if err != nil || idx < 0 || idx >= len(n.Arr) {
			return fmt.Errorf("%w: bad index %q", ErrInvalidPath, seg)
		}
		n.Arr = append(n.Arr[:idx], n.Arr[idx+1:]...)
		return nil
	default:
		return fmt.Errorf("%w: %q into scalar", ErrInvalidPath, seg)
	}
}
